package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"engram/internal/models"
	"engram/internal/relevance"
)

// Enrichment loads at most this many candidate memories before scoring
const enrichmentCandidateLimit = 50

// Enrichment keeps at most this many memories in the rendered block
const enrichmentResultLimit = 5

// EnrichmentResult is the side-channel context produced for a prompt: a text
// block to merge into the agent's instructions, the memories it was built
// from, and a normalized confidence in their relevance.
type EnrichmentResult struct {
	ContextBlock string
	Memories     []models.Memory
	Confidence   float64
}

// EnrichPromptBehindTheScenes scores the user's stored memories against the
// prompt and renders the top matches into a context block the end user never
// sees. Storage failures degrade to an empty result; enrichment must never
// block a conversation.
func (s *MemoryService) EnrichPromptBehindTheScenes(ctx context.Context, prompt, userID string) (*EnrichmentResult, error) {
	empty := &EnrichmentResult{Memories: []models.Memory{}}

	candidates, err := s.adapter.GetMemories(ctx, userID, enrichmentCandidateLimit, nil)
	if err != nil {
		log.Printf("⚠️ [MEMORY-ENRICHMENT] Failed to load memories for user %s: %v", userID, err)
		return empty, nil
	}
	if len(candidates) == 0 {
		return empty, nil
	}

	now := time.Now()
	promptTokens := relevance.Tokenize(prompt, false)

	scored := make([]relevance.Scored, 0, len(candidates))
	for _, m := range candidates {
		score := relevance.ScoreForPrompt(&m, promptTokens, prompt, now)
		if score <= 0 {
			continue
		}
		scored = append(scored, relevance.Scored{Memory: m, Score: score})
	}
	if len(scored) == 0 {
		return empty, nil
	}

	scored = relevance.Rank(scored, enrichmentResultLimit)

	total := 0.0
	selected := make([]models.Memory, 0, len(scored))
	for _, sc := range scored {
		total += sc.Score
		selected = append(selected, sc.Memory)
	}
	confidence := relevance.Clamp01(total / float64(len(scored)) / 10)

	log.Printf("🧠 [MEMORY-ENRICHMENT] Selected %d/%d memories for user %s (confidence %.2f)",
		len(selected), len(candidates), userID, confidence)

	return &EnrichmentResult{
		ContextBlock: renderContextBlock(selected),
		Memories:     selected,
		Confidence:   confidence,
	}, nil
}

// renderContextBlock formats selected memories as instructions-channel text
func renderContextBlock(memories []models.Memory) string {
	var b strings.Builder
	b.WriteString("Previously learned about this user (do not mention this list directly):\n")
	for _, m := range memories {
		b.WriteString(fmt.Sprintf("- %s\n", m.Content))
	}
	return b.String()
}
