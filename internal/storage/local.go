package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	cache "github.com/patrickmn/go-cache"

	"engram/internal/models"
)

const envelopeFileName = "memories.json"

// LocalAdapter persists envelopes on the local filesystem: one directory per
// sanitized user ID holding a single memories.json. Writes are serialized per
// user through an in-process keyed lock and made durable via a temp-file
// write followed by an atomic rename, so readers never observe a partial
// envelope. Reads take no lock; a slightly stale envelope is acceptable.
type LocalAdapter struct {
	basePath   string
	maxPerUser int
	ttlDays    int
	locks      *KeyedLock
	envelopes  *cache.Cache
}

// NewLocalAdapter creates a filesystem-backed adapter rooted at basePath
func NewLocalAdapter(basePath string, maxPerUser, ttlDays int) *LocalAdapter {
	return &LocalAdapter{
		basePath:   basePath,
		maxPerUser: maxPerUser,
		ttlDays:    ttlDays,
		locks:      NewKeyedLock(),
		envelopes:  newEnvelopeCache(),
	}
}

// Initialize creates the root directory. Safe to call repeatedly.
func (a *LocalAdapter) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(a.basePath, 0o755); err != nil {
		return fmt.Errorf("failed to create memory base directory: %w", err)
	}
	return nil
}

// GetUserStoragePath returns the envelope file location for diagnostics
func (a *LocalAdapter) GetUserStoragePath(userID string) string {
	return filepath.Join(a.basePath, SanitizeUserID(userID), envelopeFileName)
}

// SaveMemory appends a single memory to the user's envelope
func (a *LocalAdapter) SaveMemory(ctx context.Context, userID string, memory models.Memory) error {
	return a.SaveMemories(ctx, userID, []models.Memory{memory})
}

// SaveMemories appends a batch in one read-modify-write: the envelope is
// loaded once, the whole batch appended, retention applied, and the result
// written back once under the user's lock.
func (a *LocalAdapter) SaveMemories(ctx context.Context, userID string, memories []models.Memory) error {
	if len(memories) == 0 {
		return nil
	}

	if err := a.Initialize(ctx); err != nil {
		return err
	}

	release, err := a.locks.Acquire(ctx, "user:"+SanitizeUserID(userID))
	if err != nil {
		return fmt.Errorf("failed to acquire user lock: %w", err)
	}
	defer release()

	// Read from disk, not the cache: the write path must see the latest state
	env, err := a.readEnvelopeForWrite(userID)
	if err != nil {
		return err
	}
	env.Memories = append(env.Memories, memories...)

	now := time.Now()
	env.Memories = filterExpired(env.Memories, a.ttlDays, now)
	env.Memories = evictOverflow(env.Memories, a.maxPerUser)
	sealEnvelope(env, now)

	return a.writeEnvelope(userID, env)
}

// GetMemories returns TTL-filtered, optionally filtered, recency-sorted
// memories, capped at limit when limit > 0
func (a *LocalAdapter) GetMemories(ctx context.Context, userID string, limit int, filter *models.MemoryFilter) ([]models.Memory, error) {
	env := a.loadEnvelope(userID)

	memories := filterExpired(env.Memories, a.ttlDays, time.Now())
	memories = applyFilter(memories, filter)
	sortByRecency(memories)
	return capList(memories, limit), nil
}

// SearchMemories runs the shared lexical search over the user's live memories
func (a *LocalAdapter) SearchMemories(ctx context.Context, userID, query string, limit int, filter *models.MemoryFilter) ([]models.Memory, error) {
	env := a.loadEnvelope(userID)

	memories := filterExpired(env.Memories, a.ttlDays, time.Now())
	memories = applyFilter(memories, filter)
	return searchInMemories(memories, query, limit), nil
}

// ClearMemories deletes the whole envelope when no filter is given, otherwise
// rewrites it keeping only non-matching memories
func (a *LocalAdapter) ClearMemories(ctx context.Context, userID string, filter *models.MemoryFilter) error {
	release, err := a.locks.Acquire(ctx, "user:"+SanitizeUserID(userID))
	if err != nil {
		return fmt.Errorf("failed to acquire user lock: %w", err)
	}
	defer release()

	path := a.GetUserStoragePath(userID)

	if filter == nil {
		cacheDropEnvelope(a.envelopes, path)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove envelope: %w", err)
		}
		log.Printf("🗑️ [MEMORY-LOCAL] Cleared all memories for user %s", userID)
		return nil
	}

	env, err := a.readEnvelopeForWrite(userID)
	if err != nil {
		return err
	}
	kept := make([]models.Memory, 0, len(env.Memories))
	for _, m := range env.Memories {
		if !filter.Matches(&m) {
			kept = append(kept, m)
		}
	}
	removed := len(env.Memories) - len(kept)
	env.Memories = kept

	now := time.Now()
	env.Memories = filterExpired(env.Memories, a.ttlDays, now)
	sealEnvelope(env, now)

	if err := a.writeEnvelope(userID, env); err != nil {
		return err
	}
	log.Printf("🗑️ [MEMORY-LOCAL] Cleared %d filtered memories for user %s", removed, userID)
	return nil
}

// GetUserStats summarizes the user's live memories and on-disk footprint
func (a *LocalAdapter) GetUserStats(ctx context.Context, userID string) (*models.UserStats, error) {
	env := a.loadEnvelope(userID)
	memories := filterExpired(env.Memories, a.ttlDays, time.Now())

	var size int64
	if info, err := os.Stat(a.GetUserStoragePath(userID)); err == nil {
		size = info.Size()
	}

	return computeStats(memories, size), nil
}

// ValidateUserAccess reports whether a live memory with that ID exists in
// this user's envelope
func (a *LocalAdapter) ValidateUserAccess(ctx context.Context, userID, memoryID string) (bool, error) {
	env := a.loadEnvelope(userID)
	memories := filterExpired(env.Memories, a.ttlDays, time.Now())
	for _, m := range memories {
		if m.ID == memoryID {
			return true, nil
		}
	}
	return false, nil
}

// loadEnvelope serves reads, consulting the short-TTL cache first
func (a *LocalAdapter) loadEnvelope(userID string) *models.UserEnvelope {
	path := a.GetUserStoragePath(userID)
	if env, ok := cacheGetEnvelope(a.envelopes, path); ok {
		return env
	}
	env := a.readEnvelope(userID)
	cacheSetEnvelope(a.envelopes, path, env)
	return env
}

// readEnvelope reads straight from disk, degrading every failure to an empty
// envelope: reads are auxiliary and must never fail the caller's request.
func (a *LocalAdapter) readEnvelope(userID string) *models.UserEnvelope {
	env, err := a.readEnvelopeForWrite(userID)
	if err != nil {
		log.Printf("⚠️ [MEMORY-LOCAL] Failed to read envelope for user %s: %v", userID, err)
		return emptyEnvelope(userID)
	}
	return env
}

// readEnvelopeForWrite reads the envelope ahead of a read-modify-write. A
// missing file starts an empty envelope, and corrupt or mismatched contents
// are logged and treated as empty. Any other read failure propagates:
// letting the subsequent write proceed would replace the user's whole memory
// list with just the new batch.
func (a *LocalAdapter) readEnvelopeForWrite(userID string) (*models.UserEnvelope, error) {
	path := a.GetUserStoragePath(userID)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return emptyEnvelope(userID), nil
		}
		return nil, fmt.Errorf("failed to read envelope: %w", err)
	}

	var env models.UserEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("⚠️ [MEMORY-LOCAL] Corrupted envelope for user %s, treating as empty: %v", userID, err)
		return emptyEnvelope(userID), nil
	}

	// Raw IDs that sanitize to the same storage identity share one envelope
	if SanitizeUserID(env.UserID) != SanitizeUserID(userID) {
		log.Printf("🚨 [MEMORY-LOCAL] Envelope user mismatch: stored %q, requested %q, returning empty", env.UserID, userID)
		return emptyEnvelope(userID), nil
	}

	if env.Memories == nil {
		env.Memories = []models.Memory{}
	}
	return &env, nil
}

// writeEnvelope persists atomically: marshal, write a uniquely named temp
// file in the same directory, rename into place. A crash mid-write leaves
// the previous envelope intact; the orphaned temp file is best-effort
// removed on error.
func (a *LocalAdapter) writeEnvelope(userID string, env *models.UserEnvelope) error {
	dir := filepath.Join(a.basePath, SanitizeUserID(userID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create user directory: %w", err)
	}

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	path := filepath.Join(dir, envelopeFileName)
	tmpPath := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%s", envelopeFileName, uuid.New().String()))

	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp envelope: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace envelope: %w", err)
	}

	cacheDropEnvelope(a.envelopes, path)
	cacheSetEnvelope(a.envelopes, path, env)
	return nil
}
