package services

import (
	"context"
	"strings"
	"testing"
)

func TestEnrichPromptEmptyStore(t *testing.T) {
	s := newTestService(t)

	result, err := s.EnrichPromptBehindTheScenes(context.Background(), "help me with typescript", "nobody")
	if err != nil {
		t.Fatalf("EnrichPromptBehindTheScenes failed: %v", err)
	}
	if result.ContextBlock != "" || len(result.Memories) != 0 || result.Confidence != 0 {
		t.Errorf("Expected empty zero-confidence result, got %+v", result)
	}
}

func TestEnrichPromptSelectsRelevant(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	if _, err := s.SaveMemory(ctx, "alice", "I like TypeScript programming", nil); err != nil {
		t.Fatalf("SaveMemory failed: %v", err)
	}
	if _, err := s.SaveMemory(ctx, "alice", "I prefer dark mode", nil); err != nil {
		t.Fatalf("SaveMemory failed: %v", err)
	}

	result, err := s.EnrichPromptBehindTheScenes(ctx, "help me with typescript generics", "alice")
	if err != nil {
		t.Fatalf("EnrichPromptBehindTheScenes failed: %v", err)
	}

	if len(result.Memories) == 0 {
		t.Fatal("Expected at least one selected memory")
	}
	if !strings.Contains(result.Memories[0].Content, "TypeScript") {
		t.Errorf("Expected the TypeScript memory ranked first, got %q", result.Memories[0].Content)
	}
	if !strings.Contains(result.ContextBlock, "I like TypeScript programming") {
		t.Errorf("Context block should include the selected memory, got %q", result.ContextBlock)
	}
	if result.Confidence <= 0 || result.Confidence > 1 {
		t.Errorf("Expected confidence in (0,1], got %.3f", result.Confidence)
	}
}

func TestEnrichPromptCapsSelection(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	contents := []string{
		"I like TypeScript generics",
		"I use TypeScript at work",
		"I learned TypeScript in 2020",
		"TypeScript strict mode is my default",
		"I prefer TypeScript over JavaScript",
		"My compiler of choice is the TypeScript one",
		"I wrote a TypeScript linter once",
	}
	for _, c := range contents {
		if _, err := s.SaveMemory(ctx, "alice", c, nil); err != nil {
			t.Fatalf("SaveMemory failed: %v", err)
		}
	}

	result, err := s.EnrichPromptBehindTheScenes(ctx, "typescript", "alice")
	if err != nil {
		t.Fatalf("EnrichPromptBehindTheScenes failed: %v", err)
	}
	if len(result.Memories) != enrichmentResultLimit {
		t.Errorf("Expected selection capped at %d, got %d", enrichmentResultLimit, len(result.Memories))
	}
}

func TestEnrichPromptDeterministic(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	for _, c := range []string{"I like TypeScript programming", "I prefer dark mode", "I live in Seattle"} {
		if _, err := s.SaveMemory(ctx, "alice", c, nil); err != nil {
			t.Fatalf("SaveMemory failed: %v", err)
		}
	}

	first, err := s.EnrichPromptBehindTheScenes(ctx, "typescript and dark themes", "alice")
	if err != nil {
		t.Fatalf("EnrichPromptBehindTheScenes failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := s.EnrichPromptBehindTheScenes(ctx, "typescript and dark themes", "alice")
		if err != nil {
			t.Fatalf("EnrichPromptBehindTheScenes failed: %v", err)
		}
		if len(again.Memories) != len(first.Memories) {
			t.Fatalf("Selection size changed between calls: %d vs %d", len(again.Memories), len(first.Memories))
		}
		for j := range again.Memories {
			if again.Memories[j].ID != first.Memories[j].ID {
				t.Fatalf("Selection order changed between calls at position %d", j)
			}
		}
	}
}

func TestEnrichPromptBackendFailureDegrades(t *testing.T) {
	s := NewMemoryServiceWithAdapter(&failingAdapter{}, newTestConfig(t))

	result, err := s.EnrichPromptBehindTheScenes(context.Background(), "typescript", "alice")
	if err != nil {
		t.Fatalf("Enrichment must degrade, not fail: %v", err)
	}
	if result.ContextBlock != "" || result.Confidence != 0 {
		t.Errorf("Expected empty result on backend failure, got %+v", result)
	}
}
