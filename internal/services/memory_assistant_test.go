package services

import (
	"context"
	"strings"
	"testing"

	"engram/internal/models"
)

func TestStoreAssistantMemoryEpisodicAndDerived(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	turn := AssistantTurn{
		UserPrompt: "Can we talk about testing strategies for my Go project?",
		AssistantResponse: "I understand that you prefer table-driven tests. " +
			"You mentioned your team uses Go. Here is a plan for your suite.",
		Model:           "sonnet",
		TokensUsed:      512,
		SearchPerformed: true,
	}

	s.StoreAssistantMemory(ctx, "alice", turn)

	stored, err := s.GetUserMemories(ctx, "alice", 0, nil)
	if err != nil {
		t.Fatalf("GetUserMemories failed: %v", err)
	}
	if len(stored) != 3 {
		t.Fatalf("Expected 1 episodic + 2 derived memories, got %d: %+v", len(stored), stored)
	}

	var episodic *models.Memory
	var derived []models.Memory
	for i := range stored {
		if stored[i].Type == models.MemoryTypeEpisodic {
			episodic = &stored[i]
		} else {
			derived = append(derived, stored[i])
		}
	}

	if episodic == nil {
		t.Fatal("Expected an episodic memory")
	}
	if !strings.Contains(episodic.Content, "testing") {
		t.Errorf("Episodic summary should name the topic, got %q", episodic.Content)
	}
	if episodic.Source != models.MemorySourceAssistant {
		t.Errorf("Expected assistant provenance, got %s", episodic.Source)
	}
	if episodic.Metadata["model"] != "sonnet" || episodic.Metadata["tokensUsed"] != "512" || episodic.Metadata["searchPerformed"] != "true" {
		t.Errorf("Expected turn metadata, got %v", episodic.Metadata)
	}

	if len(derived) != 2 {
		t.Fatalf("Expected 2 derived semantic memories, got %d", len(derived))
	}
	for _, m := range derived {
		if m.Type != models.MemoryTypeSemantic {
			t.Errorf("Expected semantic derived memory, got %s", m.Type)
		}
		if len(m.Relations) != 1 || m.Relations[0] != episodic.ID {
			t.Errorf("Derived memory should link back to the episodic one, got %v", m.Relations)
		}
	}
}

func TestStoreAssistantMemoryAlwaysStoresEpisodic(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	turn := AssistantTurn{
		UserPrompt:        "hi",
		AssistantResponse: "Hello! How can I help today?",
		Model:             "sonnet",
	}
	s.StoreAssistantMemory(ctx, "alice", turn)

	stored, err := s.GetUserMemories(ctx, "alice", 0, nil)
	if err != nil {
		t.Fatalf("GetUserMemories failed: %v", err)
	}
	if len(stored) != 1 || stored[0].Type != models.MemoryTypeEpisodic {
		t.Fatalf("Expected exactly the episodic memory, got %+v", stored)
	}
	if !strings.Contains(stored[0].Content, "general conversation") {
		t.Errorf("Topic-free turns summarize as general conversation, got %q", stored[0].Content)
	}
}

func TestStoreAssistantMemoryCapsDerived(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	turn := AssistantTurn{
		UserPrompt: "notes",
		AssistantResponse: "I understand that you like Go. " +
			"I understand that you like Rust. " +
			"You mentioned your cat. " +
			"You mentioned your dog. " +
			"I'll remember your birthday.",
	}
	s.StoreAssistantMemory(ctx, "alice", turn)

	stored, err := s.GetUserMemories(ctx, "alice", 0, nil)
	if err != nil {
		t.Fatalf("GetUserMemories failed: %v", err)
	}
	if len(stored) != 1+maxDerivedSemantic {
		t.Errorf("Expected derivation capped at %d, got %d total", maxDerivedSemantic, len(stored)-1)
	}
}

func TestStoreAssistantMemorySwallowsFailures(t *testing.T) {
	s := NewMemoryServiceWithAdapter(&failingAdapter{}, newTestConfig(t))

	// Must not panic or surface the backend failure
	s.StoreAssistantMemory(context.Background(), "alice", AssistantTurn{
		UserPrompt:        "hi",
		AssistantResponse: "hello",
	})
}
