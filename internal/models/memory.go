package models

import (
	"time"

	"github.com/google/uuid"
)

// Memory is a single remembered fact or interaction record belonging to one user
type Memory struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`      // "semantic", "episodic", "procedural"
	Source    string    `json:"source"`    // "user", "assistant", "system"
	Timestamp time.Time `json:"timestamp"` // creation time, immutable

	Tags        []string `json:"tags,omitempty"`
	AccessCount int64    `json:"accessCount"`

	// Scoring weights
	Importance float64 `json:"importance"` // 0.0-1.0, multiplies relevance score
	Decay      float64 `json:"decay"`      // stored hint for future importance erosion, not applied on reads

	// Back-links to other memory IDs (never owning references)
	Relations []string `json:"relations,omitempty"`

	Visibility string            `json:"visibility"`
	Metadata   map[string]string `json:"metadata,omitempty"` // userId, extraction context, conversation id, model, ...
}

// UserEnvelope is the persisted unit: one document per user per backend location.
// The stored UserID must equal the key the envelope is stored under; read paths
// treat a mismatch as a security anomaly and return empty rather than erroring.
type UserEnvelope struct {
	UserID   string       `json:"userId"`
	Memories []Memory     `json:"memories"`
	Metadata EnvelopeMeta `json:"metadata"`
}

// EnvelopeMeta is the bookkeeping block stored alongside the memory list
type EnvelopeMeta struct {
	Count       int       `json:"count"`
	LastUpdated time.Time `json:"lastUpdated"`
	Version     string    `json:"version"`
}

// MemoryFilter narrows reads, searches and clears. All fields are optional;
// an absent field always matches.
type MemoryFilter struct {
	Source     string     `json:"source,omitempty"`
	Type       string     `json:"type,omitempty"`
	Visibility string     `json:"visibility,omitempty"`
	Tags       []string   `json:"tags,omitempty"` // any-match
	DateRange  *DateRange `json:"dateRange,omitempty"`
}

// DateRange is an inclusive timestamp window
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// UserStats summarizes one user's stored memories
type UserStats struct {
	Count        int            `json:"count"`
	LastUpdated  time.Time      `json:"last_updated"`
	OldestMemory time.Time      `json:"oldest_memory"`
	BySource     map[string]int `json:"by_source"`
	ByType       map[string]int `json:"by_type"`
	StorageBytes int64          `json:"storage_bytes"`
}

// MemoryType constants
const (
	MemoryTypeSemantic   = "semantic"
	MemoryTypeEpisodic   = "episodic"
	MemoryTypeProcedural = "procedural"
)

// MemorySource constants
const (
	MemorySourceUser      = "user"
	MemorySourceAssistant = "assistant"
	MemorySourceSystem    = "system"
)

// Visibility constants
const (
	VisibilityPrivate = "private"
)

// EnvelopeVersion is written into every persisted envelope
const EnvelopeVersion = "2.0.0"

// Default scoring weights for newly created memories
const (
	DefaultImportance = 0.5
	DefaultDecay      = 0.1
)

// NewMemory builds a memory with a fresh ID, creation timestamp and default weights
func NewMemory(content, memoryType, source string) Memory {
	return Memory{
		ID:         uuid.New().String(),
		Content:    content,
		Type:       memoryType,
		Source:     source,
		Timestamp:  time.Now(),
		Importance: DefaultImportance,
		Decay:      DefaultDecay,
		Visibility: VisibilityPrivate,
	}
}

// Matches reports whether a memory passes the filter. A nil filter matches everything.
func (f *MemoryFilter) Matches(m *Memory) bool {
	if f == nil {
		return true
	}

	if f.Source != "" && m.Source != f.Source {
		return false
	}

	if f.Type != "" && m.Type != f.Type {
		return false
	}

	if f.Visibility != "" && m.Visibility != f.Visibility {
		return false
	}

	if len(f.Tags) > 0 {
		found := false
		for _, want := range f.Tags {
			for _, have := range m.Tags {
				if have == want {
					found = true
					break
				}
			}
			if found {
				break
			}
		}
		if !found {
			return false
		}
	}

	if f.DateRange != nil {
		if !f.DateRange.From.IsZero() && m.Timestamp.Before(f.DateRange.From) {
			return false
		}
		if !f.DateRange.To.IsZero() && m.Timestamp.After(f.DateRange.To) {
			return false
		}
	}

	return true
}
