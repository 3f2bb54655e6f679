// Package storage provides the backend-specific adapters that persist one
// JSON envelope of memories per user. Backends share their retention,
// filtering and search behavior through the free functions in this file;
// there is no base-class inheritance, only composition.
package storage

import (
	"context"
	"sort"
	"strings"
	"time"

	cache "github.com/patrickmn/go-cache"

	"engram/internal/models"
	"engram/internal/relevance"
)

// Adapter is the contract every storage backend implements. All operations
// take the user ID as the tenancy key. Initialize is idempotent and invoked
// lazily before first use.
type Adapter interface {
	Initialize(ctx context.Context) error
	SaveMemory(ctx context.Context, userID string, memory models.Memory) error
	SaveMemories(ctx context.Context, userID string, memories []models.Memory) error
	GetMemories(ctx context.Context, userID string, limit int, filter *models.MemoryFilter) ([]models.Memory, error)
	SearchMemories(ctx context.Context, userID, query string, limit int, filter *models.MemoryFilter) ([]models.Memory, error)
	ClearMemories(ctx context.Context, userID string, filter *models.MemoryFilter) error
	GetUserStats(ctx context.Context, userID string) (*models.UserStats, error)
	ValidateUserAccess(ctx context.Context, userID, memoryID string) (bool, error)
	GetUserStoragePath(userID string) string
}

// DefaultSearchLimit caps search results when the caller passes no limit
const DefaultSearchLimit = 10

// Envelope read cache settings shared by both adapters. Writes invalidate,
// so within one process a cached read is at most this stale across processes.
const (
	envelopeCacheTTL     = 30 * time.Second
	envelopeCacheCleanup = time.Minute
)

const maxSanitizedIDLen = 64

// newEnvelopeCache builds the short-TTL envelope read cache
func newEnvelopeCache() *cache.Cache {
	return cache.New(envelopeCacheTTL, envelopeCacheCleanup)
}

func cacheGetEnvelope(c *cache.Cache, key string) (*models.UserEnvelope, bool) {
	if v, ok := c.Get(key); ok {
		if env, ok := v.(*models.UserEnvelope); ok {
			return env, true
		}
	}
	return nil, false
}

func cacheSetEnvelope(c *cache.Cache, key string, env *models.UserEnvelope) {
	c.Set(key, env, cache.DefaultExpiration)
}

func cacheDropEnvelope(c *cache.Cache, key string) {
	c.Delete(key)
}

// SanitizeUserID turns an arbitrary user ID into a filesystem- and
// object-key-safe token: only letters, digits, dash and underscore survive,
// capped at 64 characters. Prevents path traversal through crafted IDs.
func SanitizeUserID(userID string) string {
	var b strings.Builder
	for _, r := range userID {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		}
		if b.Len() >= maxSanitizedIDLen {
			break
		}
	}
	if b.Len() == 0 {
		return "anonymous"
	}
	return b.String()
}

// filterExpired drops memories older than the retention window. TTL is
// enforced lazily: expired entries stay on disk until the next write-back
// but are excluded from every read. ttlDays <= 0 disables expiry. Always
// returns a fresh slice so callers can reorder without touching cached state.
func filterExpired(memories []models.Memory, ttlDays int, now time.Time) []models.Memory {
	var cutoff time.Time
	if ttlDays > 0 {
		cutoff = now.AddDate(0, 0, -ttlDays)
	}

	kept := make([]models.Memory, 0, len(memories))
	for _, m := range memories {
		if cutoff.IsZero() || m.Timestamp.After(cutoff) {
			kept = append(kept, m)
		}
	}
	return kept
}

// applyFilter keeps only memories matching the filter. Nil filter keeps all.
func applyFilter(memories []models.Memory, filter *models.MemoryFilter) []models.Memory {
	if filter == nil {
		return memories
	}
	kept := make([]models.Memory, 0, len(memories))
	for _, m := range memories {
		if filter.Matches(&m) {
			kept = append(kept, m)
		}
	}
	return kept
}

// sortByRecency orders memories newest-first, ties broken by ID for
// deterministic output
func sortByRecency(memories []models.Memory) {
	sort.Slice(memories, func(i, j int) bool {
		if !memories[i].Timestamp.Equal(memories[j].Timestamp) {
			return memories[i].Timestamp.After(memories[j].Timestamp)
		}
		return memories[i].ID < memories[j].ID
	})
}

// evictOverflow enforces the per-user maximum at write time: when the list
// exceeds max, the most recent max memories by timestamp are kept and the
// remainder dropped. max <= 0 disables the cap.
func evictOverflow(memories []models.Memory, max int) []models.Memory {
	if max <= 0 || len(memories) <= max {
		return memories
	}
	sortByRecency(memories)
	return memories[:max]
}

// capList truncates to limit when limit > 0
func capList(memories []models.Memory, limit int) []models.Memory {
	if limit > 0 && len(memories) > limit {
		return memories[:limit]
	}
	return memories
}

// searchInMemories runs the shared lexical search over an already
// TTL-filtered candidate list. Candidates scoring zero are excluded; the
// rest are ranked descending, newest-first on ties, capped at limit.
func searchInMemories(memories []models.Memory, query string, limit int) []models.Memory {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	queryTokens := relevance.Tokenize(query, true)

	scored := make([]relevance.Scored, 0, len(memories))
	for _, m := range memories {
		s := relevance.ScoreForQuery(&m, queryTokens, query)
		if s <= 0 {
			continue
		}
		scored = append(scored, relevance.Scored{Memory: m, Score: s})
	}

	ranked := relevance.Rank(scored, limit)
	results := make([]models.Memory, len(ranked))
	for i, s := range ranked {
		results[i] = s.Memory
	}
	return results
}

// computeStats derives per-user stats from a TTL-filtered memory list
func computeStats(memories []models.Memory, storageBytes int64) *models.UserStats {
	stats := &models.UserStats{
		Count:        len(memories),
		BySource:     make(map[string]int),
		ByType:       make(map[string]int),
		StorageBytes: storageBytes,
	}

	for _, m := range memories {
		stats.BySource[m.Source]++
		stats.ByType[m.Type]++
		if stats.OldestMemory.IsZero() || m.Timestamp.Before(stats.OldestMemory) {
			stats.OldestMemory = m.Timestamp
		}
		if m.Timestamp.After(stats.LastUpdated) {
			stats.LastUpdated = m.Timestamp
		}
	}

	return stats
}

// emptyEnvelope builds a fresh envelope for a user with no stored memories
func emptyEnvelope(userID string) *models.UserEnvelope {
	return &models.UserEnvelope{
		UserID:   userID,
		Memories: []models.Memory{},
		Metadata: models.EnvelopeMeta{
			Version: models.EnvelopeVersion,
		},
	}
}

// sealEnvelope refreshes the bookkeeping metadata before persisting
func sealEnvelope(env *models.UserEnvelope, now time.Time) {
	env.Metadata.Count = len(env.Memories)
	env.Metadata.LastUpdated = now
	env.Metadata.Version = models.EnvelopeVersion
}
