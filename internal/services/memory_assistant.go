package services

import (
	"context"
	"log"
	"regexp"
	"strconv"
	"strings"

	"engram/internal/models"
	"engram/internal/relevance"
)

// AssistantTurn describes a completed conversation turn for derivation
type AssistantTurn struct {
	UserPrompt        string
	AssistantResponse string
	Model             string
	TokensUsed        int
	SearchPerformed   bool
}

const maxDerivedSemantic = 3

var topicPattern = regexp.MustCompile(`(?i)\b(?:about|regarding|discussing) ([a-z0-9][a-z0-9-]*)`)

// Patterns where the assistant restates something learned about the user
var assistantStatementPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bI understand (?:that )?you [^.!?\n]+`),
	regexp.MustCompile(`(?i)\bYou mentioned [^.!?\n]+`),
	regexp.MustCompile(`(?i)\bI'll remember [^.!?\n]+`),
}

// StoreAssistantMemory records a completed turn: one episodic memory
// summarizing the exchange, plus up to three semantic memories derived from
// the assistant's own restatements, each linked back to the episodic record.
// Derivation is auxiliary to serving the conversation and never fails the
// caller: errors are logged and swallowed.
func (s *MemoryService) StoreAssistantMemory(ctx context.Context, userID string, turn AssistantTurn) {
	if userID == "" {
		return
	}

	topics := extractTopics(turn.UserPrompt + " " + turn.AssistantResponse)
	summary := "Conversation about " + strings.Join(topics, ", ")

	episodic := models.NewMemory(summary, models.MemoryTypeEpisodic, models.MemorySourceAssistant)
	episodic.Tags = append([]string{"conversation"}, topics...)
	episodic.Metadata = map[string]string{
		"model":           turn.Model,
		"tokensUsed":      strconv.Itoa(turn.TokensUsed),
		"searchPerformed": strconv.FormatBool(turn.SearchPerformed),
	}

	batch := []models.Memory{episodic}
	for _, m := range deriveSemanticMemories(turn.AssistantResponse, episodic.ID) {
		batch = append(batch, m)
	}

	if err := s.adapter.SaveMemories(ctx, userID, batch); err != nil {
		log.Printf("⚠️ [MEMORY-ASSISTANT] Failed to store turn memories for user %s: %v", userID, err)
		return
	}
	log.Printf("💬 [MEMORY-ASSISTANT] Stored %d memories for user %s (episodic %s)", len(batch), userID, episodic.ID)
}

// deriveSemanticMemories scans the assistant's text for restatement patterns
// and links each derived memory back to the episodic record
func deriveSemanticMemories(response, episodicID string) []models.Memory {
	seen := make(map[string]bool)
	var derived []models.Memory
	for _, p := range assistantStatementPatterns {
		for _, match := range p.FindAllString(response, -1) {
			if len(derived) >= maxDerivedSemantic {
				return derived
			}
			content := strings.TrimSpace(match)
			key := normalizeContent(content)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true

			m := models.NewMemory(content, models.MemoryTypeSemantic, models.MemorySourceAssistant)
			m.Tags = []string{"derived"}
			m.Relations = []string{episodicID}
			derived = append(derived, m)
		}
	}
	return derived
}

// extractTopics pulls up to three topics from the turn text: explicit
// "about/regarding/discussing X" mentions first, then long distinctive words
func extractTopics(text string) []string {
	seen := make(map[string]bool)
	var topics []string

	add := func(topic string) {
		topic = strings.ToLower(topic)
		if topic == "" || seen[topic] || len(topics) >= 3 {
			return
		}
		seen[topic] = true
		topics = append(topics, topic)
	}

	for _, match := range topicPattern.FindAllStringSubmatch(text, -1) {
		add(match[1])
	}

	if len(topics) < 3 {
		for _, token := range relevance.Tokenize(text, true) {
			if len(token) >= 8 {
				add(token)
			}
			if len(topics) >= 3 {
				break
			}
		}
	}

	if len(topics) == 0 {
		return []string{"general conversation"}
	}
	return topics
}
