package services

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"engram/internal/config"
	"engram/internal/models"
	"engram/internal/storage"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		MaxMemoriesPerUser:      100,
		TTLDays:                 30,
		AutoExtractEnabled:      true,
		ExplicitCommandsEnabled: true,
		Backend:                 config.BackendLocal,
		BasePath:                t.TempDir(),
	}
}

func newTestService(t *testing.T) *MemoryService {
	t.Helper()
	cfg := newTestConfig(t)
	adapter := storage.NewLocalAdapter(cfg.BasePath, cfg.MaxMemoriesPerUser, cfg.TTLDays)
	if err := adapter.Initialize(context.Background()); err != nil {
		t.Fatalf("Failed to initialize adapter: %v", err)
	}
	return NewMemoryServiceWithAdapter(adapter, cfg)
}

// failingAdapter errors on every operation, used to verify degradation paths
type failingAdapter struct{}

var errBackendDown = errors.New("backend down")

func (f *failingAdapter) Initialize(ctx context.Context) error { return errBackendDown }
func (f *failingAdapter) SaveMemory(ctx context.Context, userID string, memory models.Memory) error {
	return errBackendDown
}
func (f *failingAdapter) SaveMemories(ctx context.Context, userID string, memories []models.Memory) error {
	return errBackendDown
}
func (f *failingAdapter) GetMemories(ctx context.Context, userID string, limit int, filter *models.MemoryFilter) ([]models.Memory, error) {
	return nil, errBackendDown
}
func (f *failingAdapter) SearchMemories(ctx context.Context, userID, query string, limit int, filter *models.MemoryFilter) ([]models.Memory, error) {
	return nil, errBackendDown
}
func (f *failingAdapter) ClearMemories(ctx context.Context, userID string, filter *models.MemoryFilter) error {
	return errBackendDown
}
func (f *failingAdapter) GetUserStats(ctx context.Context, userID string) (*models.UserStats, error) {
	return nil, errBackendDown
}
func (f *failingAdapter) ValidateUserAccess(ctx context.Context, userID, memoryID string) (bool, error) {
	return false, errBackendDown
}
func (f *failingAdapter) GetUserStoragePath(userID string) string { return "" }

func TestSaveMemoryDefaults(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	mem, err := s.SaveMemory(ctx, "alice", "I like TypeScript programming", nil)
	if err != nil {
		t.Fatalf("SaveMemory failed: %v", err)
	}
	if mem.Type != models.MemoryTypeSemantic || mem.Source != models.MemorySourceUser {
		t.Errorf("Expected semantic/user memory, got %s/%s", mem.Type, mem.Source)
	}
	if mem.Importance != models.DefaultImportance || mem.Decay != models.DefaultDecay {
		t.Errorf("Expected default importance/decay, got %.2f/%.2f", mem.Importance, mem.Decay)
	}

	got, err := s.GetUserMemories(ctx, "alice", 0, nil)
	if err != nil {
		t.Fatalf("GetUserMemories failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != mem.ID {
		t.Fatalf("Expected saved memory back, got %d", len(got))
	}
}

func TestSaveMemoryValidation(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	if _, err := s.SaveMemory(ctx, "", "content", nil); err == nil {
		t.Error("Expected error for empty user ID")
	}
	if _, err := s.SaveMemory(ctx, "alice", "   ", nil); err == nil {
		t.Error("Expected error for empty content")
	}
}

func TestSaveMemoryDeduplicates(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	first, err := s.SaveMemory(ctx, "alice", "I work at Initech", nil)
	if err != nil {
		t.Fatalf("First save failed: %v", err)
	}

	// Same content after normalization: case and punctuation differ
	second, err := s.SaveMemory(ctx, "alice", "I work at INITECH!", nil)
	if err != nil {
		t.Fatalf("Second save failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("Expected duplicate save to return existing memory %s, got %s", first.ID, second.ID)
	}

	got, _ := s.GetUserMemories(ctx, "alice", 0, nil)
	if len(got) != 1 {
		t.Errorf("Expected 1 memory after duplicate save, got %d", len(got))
	}
}

func TestNormalizeContent(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercase", "Hello World", "hello world"},
		{"punctuation stripped", "I like Go! (a lot)", "i like go a lot"},
		{"separators become spaces", "dark-mode\tenabled\nalways", "dark mode enabled always"},
		{"whitespace collapsed", "  too   many    spaces  ", "too many spaces"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizeContent(tt.input); got != tt.want {
				t.Errorf("normalizeContent(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidateUserAccessPassThrough(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	mem, err := s.SaveMemory(ctx, "alice", "a private fact", nil)
	if err != nil {
		t.Fatalf("SaveMemory failed: %v", err)
	}

	ok, err := s.ValidateUserAccess(ctx, "alice", mem.ID)
	if err != nil || !ok {
		t.Errorf("Expected owner access true, got %v/%v", ok, err)
	}

	ok, err = s.ValidateUserAccess(ctx, "bob", mem.ID)
	if err != nil {
		t.Fatalf("ValidateUserAccess failed: %v", err)
	}
	if ok {
		t.Error("Expected cross-user access false")
	}
}

func TestPruneExpiredReclaimsBytes(t *testing.T) {
	cfg := newTestConfig(t)

	// A retention-free adapter plants a stale memory on disk
	writer := storage.NewLocalAdapter(cfg.BasePath, cfg.MaxMemoriesPerUser, 0)
	if err := writer.Initialize(context.Background()); err != nil {
		t.Fatalf("Failed to initialize writer: %v", err)
	}
	ctx := context.Background()

	stale := models.NewMemory("ancient fact", models.MemoryTypeSemantic, models.MemorySourceUser)
	stale.Timestamp = time.Now().AddDate(0, 0, -60)
	fresh := models.NewMemory("current fact", models.MemoryTypeSemantic, models.MemorySourceUser)
	if err := writer.SaveMemories(ctx, "alice", []models.Memory{stale, fresh}); err != nil {
		t.Fatalf("SaveMemories failed: %v", err)
	}

	adapter := storage.NewLocalAdapter(cfg.BasePath, cfg.MaxMemoriesPerUser, cfg.TTLDays)
	s := NewMemoryServiceWithAdapter(adapter, cfg)

	if err := s.PruneExpired(ctx, "alice"); err != nil {
		t.Fatalf("PruneExpired failed: %v", err)
	}

	data, err := os.ReadFile(adapter.GetUserStoragePath("alice"))
	if err != nil {
		t.Fatalf("Failed to read envelope: %v", err)
	}
	var env models.UserEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("Failed to parse envelope: %v", err)
	}
	if len(env.Memories) != 1 || env.Memories[0].ID != fresh.ID {
		t.Errorf("Expected only the fresh memory on disk, got %d", len(env.Memories))
	}
}

func TestPruneExpiredDisabledRetention(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.TTLDays = 0
	s := NewMemoryServiceWithAdapter(&failingAdapter{}, cfg)

	// Retention disabled: prune is a no-op and never touches the adapter
	if err := s.PruneExpired(context.Background(), "alice"); err != nil {
		t.Errorf("Expected no-op prune, got %v", err)
	}
}
