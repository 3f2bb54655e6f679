package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	cache "github.com/patrickmn/go-cache"

	"engram/internal/config"
	"engram/internal/models"
)

// ErrBlobNotFound marks a missing object in the remote store
var ErrBlobNotFound = errors.New("blob not found")

// blobStore is the narrow surface the remote adapter needs from the object
// store. The production implementation wraps a MinIO/S3 client; tests supply
// an in-memory fake.
type blobStore interface {
	// Probe verifies connectivity with a bounded listing call
	Probe(ctx context.Context, prefix string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	// Remove deletes an object; removing a missing object is a no-op success
	Remove(ctx context.Context, key string) error
	// Stat returns the object size, or ErrBlobNotFound
	Stat(ctx context.Context, key string) (int64, error)
}

// Remote call retry settings: exponential backoff, small fixed attempt
// count, a bounded timeout per attempt
const (
	remoteMaxAttempts    = 3
	remoteBaseDelay      = 500 * time.Millisecond
	remoteAttemptTimeout = 10 * time.Second
)

// RemoteAdapter persists envelopes in a remote blob store under
// <prefix>/<sanitizedUserID>.json. Unlike the local adapter it holds NO
// per-user lock: concurrent writers each run an independent
// read-modify-write and the last completed write wins in full, silently
// discarding memories added by the losing writer.
type RemoteAdapter struct {
	store      blobStore
	prefix     string
	maxPerUser int
	ttlDays    int
	envelopes  *cache.Cache
}

// NewRemoteAdapter creates a blob-backed adapter from the remote settings
func NewRemoteAdapter(cfg *config.Config) (*RemoteAdapter, error) {
	if cfg.BlobEndpoint == "" {
		return nil, fmt.Errorf("remote backend requires BLOB_ENDPOINT")
	}

	client, err := minio.New(cfg.BlobEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.BlobAccessKey, cfg.BlobSecretKey, ""),
		Secure: cfg.BlobUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	return &RemoteAdapter{
		store:      &minioBlobStore{client: client, bucket: cfg.BlobBucket},
		prefix:     cfg.BlobPrefix,
		maxPerUser: cfg.MaxMemoriesPerUser,
		ttlDays:    cfg.TTLDays,
		envelopes:  newEnvelopeCache(),
	}, nil
}

// newRemoteAdapterWithStore wires an arbitrary blob store, used by tests
func newRemoteAdapterWithStore(store blobStore, prefix string, maxPerUser, ttlDays int) *RemoteAdapter {
	return &RemoteAdapter{
		store:      store,
		prefix:     prefix,
		maxPerUser: maxPerUser,
		ttlDays:    ttlDays,
		envelopes:  newEnvelopeCache(),
	}
}

// Initialize probes the store with a lightweight bounded listing call
func (a *RemoteAdapter) Initialize(ctx context.Context) error {
	err := a.withRetry(ctx, "probe", func(ctx context.Context) error {
		return a.store.Probe(ctx, a.prefix)
	})
	if err != nil {
		return fmt.Errorf("remote store unreachable: %w", err)
	}
	return nil
}

// GetUserStoragePath returns the object key for diagnostics
func (a *RemoteAdapter) GetUserStoragePath(userID string) string {
	return path.Join(a.prefix, SanitizeUserID(userID)+".json")
}

// SaveMemory appends a single memory to the user's envelope
func (a *RemoteAdapter) SaveMemory(ctx context.Context, userID string, memory models.Memory) error {
	return a.SaveMemories(ctx, userID, []models.Memory{memory})
}

// SaveMemories appends a batch in one read-modify-write. No per-user lock:
// a concurrent writer for the same user can win the race and overwrite this
// batch (last writer wins).
func (a *RemoteAdapter) SaveMemories(ctx context.Context, userID string, memories []models.Memory) error {
	if len(memories) == 0 {
		return nil
	}

	env, err := a.readEnvelopeForWrite(ctx, userID)
	if err != nil {
		return err
	}
	env.Memories = append(env.Memories, memories...)

	now := time.Now()
	env.Memories = filterExpired(env.Memories, a.ttlDays, now)
	env.Memories = evictOverflow(env.Memories, a.maxPerUser)
	sealEnvelope(env, now)

	return a.writeEnvelope(ctx, userID, env)
}

// GetMemories returns TTL-filtered, optionally filtered, recency-sorted
// memories, capped at limit when limit > 0
func (a *RemoteAdapter) GetMemories(ctx context.Context, userID string, limit int, filter *models.MemoryFilter) ([]models.Memory, error) {
	env := a.loadEnvelope(ctx, userID)

	memories := filterExpired(env.Memories, a.ttlDays, time.Now())
	memories = applyFilter(memories, filter)
	sortByRecency(memories)
	return capList(memories, limit), nil
}

// SearchMemories runs the shared lexical search over the user's live memories
func (a *RemoteAdapter) SearchMemories(ctx context.Context, userID, query string, limit int, filter *models.MemoryFilter) ([]models.Memory, error) {
	env := a.loadEnvelope(ctx, userID)

	memories := filterExpired(env.Memories, a.ttlDays, time.Now())
	memories = applyFilter(memories, filter)
	return searchInMemories(memories, query, limit), nil
}

// ClearMemories removes the blob when no filter is given (missing blob is a
// no-op success), otherwise rewrites it keeping only non-matching memories
func (a *RemoteAdapter) ClearMemories(ctx context.Context, userID string, filter *models.MemoryFilter) error {
	key := a.GetUserStoragePath(userID)

	if filter == nil {
		cacheDropEnvelope(a.envelopes, key)
		err := a.withRetry(ctx, "remove", func(ctx context.Context) error {
			return a.store.Remove(ctx, key)
		})
		if err != nil {
			return fmt.Errorf("failed to remove remote envelope: %w", err)
		}
		log.Printf("🗑️ [MEMORY-REMOTE] Cleared all memories for user %s", userID)
		return nil
	}

	env, err := a.readEnvelopeForWrite(ctx, userID)
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

	if err := a.writeEnvelope(ctx, userID, env); err != nil {
		return err
	}
	log.Printf("🗑️ [MEMORY-REMOTE] Cleared %d filtered memories for user %s", removed, userID)
	return nil
}

// GetUserStats summarizes the user's live memories and remote footprint
func (a *RemoteAdapter) GetUserStats(ctx context.Context, userID string) (*models.UserStats, error) {
	env := a.loadEnvelope(ctx, userID)
	memories := filterExpired(env.Memories, a.ttlDays, time.Now())

	var size int64
	err := a.withRetry(ctx, "stat", func(ctx context.Context) error {
		n, err := a.store.Stat(ctx, a.GetUserStoragePath(userID))
		if err != nil {
			return err
		}
		size = n
		return nil
	})
	if err != nil && !errors.Is(err, ErrBlobNotFound) {
		log.Printf("⚠️ [MEMORY-REMOTE] Failed to stat envelope for user %s: %v", userID, err)
	}

	return computeStats(memories, size), nil
}

// ValidateUserAccess reports whether a live memory with that ID exists in
// this user's envelope
func (a *RemoteAdapter) ValidateUserAccess(ctx context.Context, userID, memoryID string) (bool, error) {
	env := a.loadEnvelope(ctx, userID)
	memories := filterExpired(env.Memories, a.ttlDays, time.Now())
	for _, m := range memories {
		if m.ID == memoryID {
			return true, nil
		}
	}
	return false, nil
}

// loadEnvelope serves reads, consulting the short-TTL cache first
func (a *RemoteAdapter) loadEnvelope(ctx context.Context, userID string) *models.UserEnvelope {
	key := a.GetUserStoragePath(userID)
	if env, ok := cacheGetEnvelope(a.envelopes, key); ok {
		return env
	}
	env := a.readEnvelope(ctx, userID)
	cacheSetEnvelope(a.envelopes, key, env)
	return env
}

// readEnvelope fetches straight from the store, degrading every failure to
// an empty envelope: reads are auxiliary and must never fail the caller's
// request.
func (a *RemoteAdapter) readEnvelope(ctx context.Context, userID string) *models.UserEnvelope {
	env, err := a.readEnvelopeForWrite(ctx, userID)
	if err != nil {
		log.Printf("⚠️ [MEMORY-REMOTE] Failed to fetch envelope for user %s: %v", userID, err)
		return emptyEnvelope(userID)
	}
	return env
}

// readEnvelopeForWrite fetches the envelope ahead of a read-modify-write. A
// missing blob starts an empty envelope, and corrupt or mismatched contents
// are logged and treated as empty. Any other fetch failure propagates:
// letting the subsequent write proceed would replace the user's whole memory
// list with just the new batch.
func (a *RemoteAdapter) readEnvelopeForWrite(ctx context.Context, userID string) (*models.UserEnvelope, error) {
	key := a.GetUserStoragePath(userID)

	var data []byte
	err := a.withRetry(ctx, "get", func(ctx context.Context) error {
		b, err := a.store.Get(ctx, key)
		if err != nil {
			return err
		}
		data = b
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return emptyEnvelope(userID), nil
		}
		return nil, fmt.Errorf("failed to fetch envelope: %w", err)
	}

	var env models.UserEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("⚠️ [MEMORY-REMOTE] Corrupted envelope for user %s, treating as empty: %v", userID, err)
		return emptyEnvelope(userID), nil
	}

	// Raw IDs that sanitize to the same storage identity share one envelope
	if SanitizeUserID(env.UserID) != SanitizeUserID(userID) {
		log.Printf("🚨 [MEMORY-REMOTE] Envelope user mismatch: stored %q, requested %q, returning empty", env.UserID, userID)
		return emptyEnvelope(userID), nil
	}

	if env.Memories == nil {
		env.Memories = []models.Memory{}
	}
	return &env, nil
}

func (a *RemoteAdapter) writeEnvelope(ctx context.Context, userID string, env *models.UserEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	key := a.GetUserStoragePath(userID)
	err = a.withRetry(ctx, "put", func(ctx context.Context) error {
		return a.store.Put(ctx, key, data)
	})
	if err != nil {
		return fmt.Errorf("failed to write remote envelope: %w", err)
	}

	cacheDropEnvelope(a.envelopes, key)
	cacheSetEnvelope(a.envelopes, key, env)
	return nil
}

// withRetry runs op with exponential backoff and a bounded timeout per
// attempt. Not-found results are returned immediately; other failures retry
// up to remoteMaxAttempts.
func (a *RemoteAdapter) withRetry(ctx context.Context, name string, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < remoteMaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, remoteAttemptTimeout)
		err := op(attemptCtx)
		cancel()

		if err == nil {
			return nil
		}
		if errors.Is(err, ErrBlobNotFound) {
			return err
		}

		lastErr = err
		if attempt == remoteMaxAttempts-1 {
			break
		}

		delay := time.Duration(float64(remoteBaseDelay) * math.Pow(2, float64(attempt)))
		log.Printf("⚠️ [MEMORY-REMOTE] %s attempt %d/%d failed, retrying in %s: %v", name, attempt+1, remoteMaxAttempts, delay, err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", name, remoteMaxAttempts, lastErr)
}

// minioBlobStore adapts a MinIO/S3 client to the blobStore surface
type minioBlobStore struct {
	client *minio.Client
	bucket string
}

func (s *minioBlobStore) Probe(ctx context.Context, prefix string) error {
	// A single-key listing is the cheapest authenticated round trip
	opts := minio.ListObjectsOptions{Prefix: prefix, MaxKeys: 1}
	for obj := range s.client.ListObjects(ctx, s.bucket, opts) {
		if obj.Err != nil {
			return obj.Err
		}
		break
	}
	return nil
}

func (s *minioBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrBlobNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *minioBlobStore) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	return err
}

func (s *minioBlobStore) Remove(ctx context.Context, key string) error {
	// S3 delete of a missing key already succeeds, matching the no-op contract
	return s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
}

func (s *minioBlobStore) Stat(ctx context.Context, key string) (int64, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return 0, ErrBlobNotFound
		}
		return 0, err
	}
	return info.Size, nil
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || strings.Contains(err.Error(), "does not exist")
}
