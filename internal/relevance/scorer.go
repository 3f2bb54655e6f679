// Package relevance implements the lexical scoring shared by memory search
// and prompt enrichment. It is a deterministic heuristic: token overlap,
// substring bonuses, provenance weight and recency, multiplied by the
// memory's declared importance. No embeddings, no statistics.
package relevance

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/orsinium-labs/stopwords"

	"engram/internal/models"
)

var englishStopwords = stopwords.MustGet("en")

// Words of length > 3 participate in token-overlap scoring
const minTokenLen = 4

// Scored pairs a memory with its computed relevance score
type Scored struct {
	Memory models.Memory
	Score  float64
}

// Tokenize lowercases text and splits it into unique words longer than three
// characters. Search mode additionally drops English stopwords.
func Tokenize(text string, dropStopwords bool) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := make([]string, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if len(f) < minTokenLen {
			continue
		}
		if dropStopwords && englishStopwords.Contains(f) {
			continue
		}
		if seen[f] {
			continue
		}
		seen[f] = true
		tokens = append(tokens, f)
	}
	return tokens
}

// ScoreForQuery scores a memory against a search query (search mode):
// token overlap plus substring bonuses over content, tags and extraction
// context, multiplied by importance. No provenance or recency terms.
func ScoreForQuery(m *models.Memory, queryTokens []string, query string) float64 {
	content := strings.ToLower(m.Content)
	contentTokens := tokenSet(Tokenize(m.Content, false))

	score := 0.0
	for _, t := range queryTokens {
		if contentTokens[t] {
			score += 2
		}
	}

	q := strings.ToLower(strings.TrimSpace(query))
	score += substringBonus(content, q)

	if q != "" {
		for _, tag := range m.Tags {
			if strings.Contains(strings.ToLower(tag), q) {
				score += 2
				break
			}
		}
		if ctx, ok := m.Metadata["context"]; ok && strings.Contains(strings.ToLower(ctx), q) {
			score++
		}
	}

	return score * Clamp01(m.Importance)
}

// ScoreForPrompt scores a memory against a conversation prompt (enrichment
// mode): token overlap and substring bonuses as in search mode, plus a
// provenance weight and a recency bonus, multiplied by importance.
func ScoreForPrompt(m *models.Memory, promptTokens []string, prompt string, now time.Time) float64 {
	content := strings.ToLower(m.Content)
	contentTokens := tokenSet(Tokenize(m.Content, false))

	score := 0.0
	for _, t := range promptTokens {
		if contentTokens[t] {
			score += 2
		}
	}

	score += substringBonus(content, strings.ToLower(strings.TrimSpace(prompt)))

	switch m.Source {
	case models.MemorySourceUser:
		score += 3
	case models.MemorySourceAssistant:
		score++
	}

	age := now.Sub(m.Timestamp)
	if age < 7*24*time.Hour {
		score += 2
		if age < 24*time.Hour {
			score += 3
		}
	}

	return score * Clamp01(m.Importance)
}

// Rank sorts scored memories descending by score, newest-first on ties, and
// caps the result at limit (0 means unlimited). Ordering is fully
// deterministic for identical inputs.
func Rank(scored []Scored, limit int) []Scored {
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if !scored[i].Memory.Timestamp.Equal(scored[j].Memory.Timestamp) {
			return scored[i].Memory.Timestamp.After(scored[j].Memory.Timestamp)
		}
		return scored[i].Memory.ID < scored[j].Memory.ID
	})

	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

// Clamp01 clamps a weight into [0,1]
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// substringBonus rewards exact equality above prefix above mere containment,
// so a memory whose content equals the query always outranks one that only
// contains it.
func substringBonus(content, query string) float64 {
	if query == "" {
		return 0
	}
	switch {
	case content == query:
		return 10
	case strings.HasPrefix(content, query):
		return 5
	case strings.Contains(content, query):
		return 2
	}
	return 0
}

func tokenSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}
