package services

import (
	"context"
	"fmt"
	"log"
	"strings"

	"engram/internal/models"
	"engram/internal/storage"
)

// CommandResult carries the outcome of explicit command handling. Handled
// false means the utterance is ordinary conversation and the caller should
// proceed as if the service was never consulted.
type CommandResult struct {
	Handled  bool
	Response string
}

var rememberPrefixes = []string{"remember", "save", "store"}

// HandleExplicitCommand recognizes the small memory command grammar by
// prefix and substring matching on the raw utterance: remember/save/store,
// recall, clear, and stats. Explicit saves surface failures to the user
// instead of swallowing them.
func (s *MemoryService) HandleExplicitCommand(ctx context.Context, text, userID string) (*CommandResult, error) {
	if !s.cfg.ExplicitCommandsEnabled {
		return &CommandResult{}, nil
	}

	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)

	for _, prefix := range rememberPrefixes {
		if lower == prefix || strings.HasPrefix(lower, prefix+" ") {
			return s.handleRemember(ctx, strings.TrimSpace(trimmed[len(prefix):]), userID)
		}
	}

	if strings.HasPrefix(lower, "recall") || strings.Contains(lower, "what do you remember") || strings.Contains(lower, "my memories") {
		if strings.Contains(lower, "clear") && strings.Contains(lower, "memor") {
			return s.handleClear(ctx, userID)
		}
		return s.handleRecall(ctx, lower, userID)
	}

	if strings.Contains(lower, "clear") && strings.Contains(lower, "memor") {
		return s.handleClear(ctx, userID)
	}

	if strings.Contains(lower, "memory stats") || strings.Contains(lower, "memory status") {
		return s.handleStats(ctx, userID)
	}

	return &CommandResult{}, nil
}

func (s *MemoryService) handleRemember(ctx context.Context, content, userID string) (*CommandResult, error) {
	if content == "" {
		return &CommandResult{
			Handled:  true,
			Response: "What would you like me to remember?",
		}, nil
	}

	memory, err := s.SaveMemory(ctx, userID, content, map[string]string{"provenance": "explicit"})
	if err != nil {
		log.Printf("⚠️ [MEMORY-COMMANDS] Explicit save failed for user %s: %v", userID, err)
		return &CommandResult{
			Handled:  true,
			Response: "Sorry, I couldn't save that memory right now. Please try again.",
		}, nil
	}

	return &CommandResult{
		Handled:  true,
		Response: fmt.Sprintf("Got it, I'll remember: %s", memory.Content),
	}, nil
}

func (s *MemoryService) handleRecall(ctx context.Context, lower, userID string) (*CommandResult, error) {
	query := recallQuery(lower)

	if query != "" {
		results, err := s.adapter.SearchMemories(ctx, userID, query, 5, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to search memories: %w", err)
		}
		if len(results) == 0 {
			return &CommandResult{
				Handled:  true,
				Response: fmt.Sprintf("I don't have any memories matching %q.", query),
			}, nil
		}
		return &CommandResult{
			Handled:  true,
			Response: "Here's what I remember:\n" + bulletList(results),
		}, nil
	}

	recent, err := s.adapter.GetMemories(ctx, userID, storage.DefaultSearchLimit, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load memories: %w", err)
	}
	if len(recent) == 0 {
		return &CommandResult{
			Handled:  true,
			Response: "I don't have any memories stored for you yet.",
		}, nil
	}
	return &CommandResult{
		Handled:  true,
		Response: "Here's what I remember:\n" + bulletList(recent),
	}, nil
}

func (s *MemoryService) handleClear(ctx context.Context, userID string) (*CommandResult, error) {
	if err := s.adapter.ClearMemories(ctx, userID, nil); err != nil {
		log.Printf("⚠️ [MEMORY-COMMANDS] Clear failed for user %s: %v", userID, err)
		return &CommandResult{
			Handled:  true,
			Response: "Sorry, I couldn't clear your memories right now. Please try again.",
		}, nil
	}
	return &CommandResult{
		Handled:  true,
		Response: "All your memories have been cleared.",
	}, nil
}

func (s *MemoryService) handleStats(ctx context.Context, userID string) (*CommandResult, error) {
	stats, err := s.adapter.GetUserStats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load memory stats: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You have %d memories stored", stats.Count)
	if stats.Count > 0 {
		fmt.Fprintf(&b, " (oldest from %s, last updated %s)",
			stats.OldestMemory.Format("2006-01-02"), stats.LastUpdated.Format("2006-01-02"))
	}
	b.WriteString(".")
	return &CommandResult{Handled: true, Response: b.String()}, nil
}

// recallQuery pulls the search terms out of a recall utterance, preferring
// whatever follows "about"
func recallQuery(lower string) string {
	if idx := strings.Index(lower, "about "); idx >= 0 {
		return strings.TrimSpace(lower[idx+len("about "):])
	}
	if strings.HasPrefix(lower, "recall") {
		rest := strings.TrimSpace(lower[len("recall"):])
		if rest != "" && rest != "my memories" && !strings.Contains(rest, "what do you remember") {
			return rest
		}
	}
	return ""
}

func bulletList(memories []models.Memory) string {
	var b strings.Builder
	for _, m := range memories {
		fmt.Fprintf(&b, "• %s\n", m.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}
