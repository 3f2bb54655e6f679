package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"

	"engram/internal/config"
	"engram/internal/models"
	"engram/internal/storage"
)

// MemoryService is the conversation-facing surface of the memory subsystem.
// It owns a storage adapter selected at construction and layers enrichment,
// extraction, explicit commands and assistant-memory derivation on top of it.
type MemoryService struct {
	adapter storage.Adapter
	cfg     *config.Config
}

// NewMemoryService selects and initializes a storage adapter from the
// configured backend (local, remote, or auto-detected).
func NewMemoryService(ctx context.Context, cfg *config.Config) (*MemoryService, error) {
	backend := cfg.ResolveBackend()

	var adapter storage.Adapter
	switch backend {
	case config.BackendRemote:
		remote, err := storage.NewRemoteAdapter(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create remote adapter: %w", err)
		}
		adapter = remote
	default:
		adapter = storage.NewLocalAdapter(cfg.BasePath, cfg.MaxMemoriesPerUser, cfg.TTLDays)
	}

	if err := adapter.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize %s backend: %w", backend, err)
	}

	log.Printf("🧠 [MEMORY-SERVICE] Initialized with %s backend (max %d memories/user, %d day retention)",
		backend, cfg.MaxMemoriesPerUser, cfg.TTLDays)
	return &MemoryService{adapter: adapter, cfg: cfg}, nil
}

// NewMemoryServiceWithAdapter wires a pre-built adapter, used by tests
func NewMemoryServiceWithAdapter(adapter storage.Adapter, cfg *config.Config) *MemoryService {
	return &MemoryService{adapter: adapter, cfg: cfg}
}

// SaveMemory persists content as a user-sourced semantic memory with default
// importance and decay. Re-saving content that normalizes to an already
// stored memory is deduplicated: the existing memory is returned unchanged.
func (s *MemoryService) SaveMemory(ctx context.Context, userID, content string, metadata map[string]string) (*models.Memory, error) {
	if userID == "" {
		return nil, fmt.Errorf("user ID is required")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("memory content is required")
	}

	hash := contentHash(normalizeContent(content))
	existing, err := s.adapter.GetMemories(ctx, userID, 0, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to check for duplicates: %w", err)
	}
	for i := range existing {
		if contentHash(normalizeContent(existing[i].Content)) == hash {
			log.Printf("🔄 [MEMORY-SERVICE] Duplicate memory for user %s (ID: %s), skipping save", userID, existing[i].ID)
			return &existing[i], nil
		}
	}

	memory := models.NewMemory(content, models.MemoryTypeSemantic, models.MemorySourceUser)
	if len(metadata) > 0 {
		memory.Metadata = metadata
	}

	if err := s.adapter.SaveMemory(ctx, userID, memory); err != nil {
		return nil, fmt.Errorf("failed to save memory: %w", err)
	}

	log.Printf("✅ [MEMORY-SERVICE] Saved memory for user %s (ID: %s)", userID, memory.ID)
	return &memory, nil
}

// GetUserMemories returns the user's live memories, newest first
func (s *MemoryService) GetUserMemories(ctx context.Context, userID string, limit int, filter *models.MemoryFilter) ([]models.Memory, error) {
	return s.adapter.GetMemories(ctx, userID, limit, filter)
}

// SearchUserMemories runs lexical search over the user's live memories
func (s *MemoryService) SearchUserMemories(ctx context.Context, userID, query string, limit int, filter *models.MemoryFilter) ([]models.Memory, error) {
	return s.adapter.SearchMemories(ctx, userID, query, limit, filter)
}

// ClearUserMemories removes the user's memories, all of them or only those
// matching the filter
func (s *MemoryService) ClearUserMemories(ctx context.Context, userID string, filter *models.MemoryFilter) error {
	return s.adapter.ClearMemories(ctx, userID, filter)
}

// GetUserStats summarizes the user's stored memories
func (s *MemoryService) GetUserStats(ctx context.Context, userID string) (*models.UserStats, error) {
	return s.adapter.GetUserStats(ctx, userID)
}

// ValidateUserAccess reports whether the memory ID belongs to this user
func (s *MemoryService) ValidateUserAccess(ctx context.Context, userID, memoryID string) (bool, error) {
	return s.adapter.ValidateUserAccess(ctx, userID, memoryID)
}

// GetUserStoragePath returns the backend location of the user's envelope
func (s *MemoryService) GetUserStoragePath(userID string) string {
	return s.adapter.GetUserStoragePath(userID)
}

// PruneExpired rewrites the user's envelope dropping memories older than the
// retention window. Reads already exclude expired memories; this reclaims the
// bytes they still occupy.
func (s *MemoryService) PruneExpired(ctx context.Context, userID string) error {
	if s.cfg.TTLDays <= 0 {
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -s.cfg.TTLDays)
	filter := &models.MemoryFilter{
		DateRange: &models.DateRange{To: cutoff},
	}
	if err := s.adapter.ClearMemories(ctx, userID, filter); err != nil {
		return fmt.Errorf("failed to prune expired memories: %w", err)
	}

	log.Printf("🧹 [MEMORY-SERVICE] Pruned expired memories for user %s (older than %d days)", userID, s.cfg.TTLDays)
	return nil
}

// normalizeContent lowercases content, strips punctuation and collapses
// whitespace so trivially restated memories hash identically
func normalizeContent(content string) string {
	normalized := strings.ToLower(content)

	normalized = strings.ReplaceAll(normalized, "\n", " ")
	normalized = strings.ReplaceAll(normalized, "\t", " ")
	normalized = strings.ReplaceAll(normalized, "\r", " ")
	normalized = strings.ReplaceAll(normalized, "-", " ")
	normalized = strings.ReplaceAll(normalized, "_", " ")

	normalized = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == ' ' {
			return r
		}
		return -1
	}, normalized)

	return strings.Join(strings.Fields(normalized), " ")
}

// contentHash returns the SHA-256 hex digest used for deduplication
func contentHash(content string) string {
	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:])
}
