package services

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"

	"engram/internal/models"
)

// PatternExtractor pairs a provenance name with the statement pattern it
// captures. The ordered list below is the entire extraction strategy; a
// smarter extractor can replace it without touching the storage contract.
type PatternExtractor struct {
	Name    string
	Pattern *regexp.Regexp
}

var extractionPatterns = []PatternExtractor{
	{
		Name:    "first_person_statement",
		Pattern: regexp.MustCompile(`(?i)\bI (?:am|like|love|prefer|work at|live in) [^.!?\n]+`),
	},
	{
		Name:    "profile_statement",
		Pattern: regexp.MustCompile(`(?i)\bmy (?:name|job|favorite \w+|hobby) is [^.!?\n]+`),
	},
	{
		Name:    "identity_statement",
		Pattern: regexp.MustCompile(`(?i)\bI'm an? [^.!?\n]+`),
	},
}

// ExtractMemories scans conversation text with the fixed first-person
// statement patterns and persists each match as a semantic memory tagged
// with extraction provenance. Best-effort pattern matching, not NLP: it may
// both under- and over-capture.
func (s *MemoryService) ExtractMemories(ctx context.Context, conversationText, userID string) ([]models.Memory, error) {
	if !s.cfg.AutoExtractEnabled {
		return nil, nil
	}
	if userID == "" {
		return nil, fmt.Errorf("user ID is required")
	}

	seen := make(map[string]bool)
	var extracted []models.Memory
	for _, p := range extractionPatterns {
		for _, match := range p.Pattern.FindAllString(conversationText, -1) {
			content := strings.TrimSpace(match)
			key := normalizeContent(content)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true

			memory := models.NewMemory(content, models.MemoryTypeSemantic, models.MemorySourceUser)
			memory.Tags = []string{"extracted", p.Name}
			memory.Metadata = map[string]string{"extractor": p.Name}
			extracted = append(extracted, memory)
		}
	}

	if len(extracted) == 0 {
		return nil, nil
	}

	if err := s.adapter.SaveMemories(ctx, userID, extracted); err != nil {
		return nil, fmt.Errorf("failed to save extracted memories: %w", err)
	}

	log.Printf("📥 [MEMORY-EXTRACTION] Extracted %d memories for user %s", len(extracted), userID)
	return extracted, nil
}
