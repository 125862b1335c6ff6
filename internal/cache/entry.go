package cache

import (
	"slices"
	"time"
)

// Status is the lifecycle status of a stored entry.
type Status string

const (
	StatusPending   Status = "pending"
	StatusFulfilled Status = "fulfilled"
)

// Freshness classifies an entry at a point in time.
type Freshness int

const (
	// Expired entries are treated as absent.
	Expired Freshness = iota
	Fresh
	Stale
)

func (f Freshness) String() string {
	switch f {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "expired"
	}
}

// Entry is a serialized result as held by a Provider.
type Entry struct {
	Namespace string
	// Value is the JSON encoding of the result rows.
	Value     []byte
	CreatedAt time.Time
	TTL       time.Duration
	StaleTTL  time.Duration
	// CacheTime is how long a provider may retain the entry. It never
	// shortens the fresh and stale windows.
	CacheTime time.Duration
	Tags      []string
	RowCount  int
	ByteSize  int
	Status    Status
}

// FreshnessAt reports whether the entry is fresh, stale or expired at now.
// An entry is fresh while its age is below TTL and stale while its age is
// below TTL+StaleTTL.
func (e *Entry) FreshnessAt(now time.Time) Freshness {
	if e == nil || e.Status != StatusFulfilled {
		return Expired
	}
	age := now.Sub(e.CreatedAt)
	switch {
	case age < e.TTL:
		return Fresh
	case age < e.TTL+e.StaleTTL:
		return Stale
	default:
		return Expired
	}
}

// ExpiresAt is the time after which a provider may drop the entry.
func (e *Entry) ExpiresAt() time.Time {
	return e.CreatedAt.Add(max(e.CacheTime, e.TTL+e.StaleTTL))
}

// HasAnyTag reports whether the entry carries at least one of tags.
func (e *Entry) HasAnyTag(tags ...string) bool {
	for _, t := range tags {
		if slices.Contains(e.Tags, t) {
			return true
		}
	}
	return false
}

func (e *Entry) clone() *Entry {
	c := *e
	c.Value = slices.Clone(e.Value)
	c.Tags = slices.Clone(e.Tags)
	return &c
}
