// Package history keeps the bounded in-memory record of recent pings.
package history

import "github.com/autosat/beacon-map/internal/domain"

// DefaultCapacity bounds the history when no capacity is configured. It
// matches the operator console's original window of recent pings.
const DefaultCapacity = 500

// Entry is one stored ping plus its insertion sequence number. Seq is the
// only unique key, since (deviceId, ts) may repeat when a gateway resends,
// and it is what the marker layer keys records on.
type Entry struct {
	Seq  uint64
	Ping domain.Ping
}

// Store is a bounded FIFO of recent pings: appends go to the tail and, once
// the capacity is reached, evict from the head. Evictions are returned to
// the caller so dependent resources (map markers) can be released for every
// ping that leaves the window.
//
// Store is not safe for concurrent use. The map host owns it and serializes
// all access on its event loop.
type Store struct {
	capacity int
	nextSeq  uint64
	entries  []Entry
}

// New returns an empty store. Capacities below one fall back to
// DefaultCapacity.
func New(capacity int) *Store {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		// One extra slot so the transient overshoot during Append never
		// reallocates.
		entries: make([]Entry, 0, capacity+1),
	}
}

// Append stores a ping at the tail, returning the stamped entry and the
// entries evicted from the head to bring the length back within capacity,
// oldest first. The evicted slice is empty when nothing was evicted. There
// is no deduplication: a resent ping occupies its own slot with its own
// sequence number.
func (s *Store) Append(p domain.Ping) (Entry, []Entry) {
	s.nextSeq++
	added := Entry{Seq: s.nextSeq, Ping: p}
	s.entries = append(s.entries, added)

	over := len(s.entries) - s.capacity
	if over <= 0 {
		return added, nil
	}

	evicted := make([]Entry, over)
	copy(evicted, s.entries[:over])
	kept := copy(s.entries, s.entries[over:])
	s.entries = s.entries[:kept]
	return added, evicted
}

// Snapshot returns a copy of the current contents in insertion order. The
// copy never reflects a partially applied append.
func (s *Store) Snapshot() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len returns the number of stored pings.
func (s *Store) Len() int { return len(s.entries) }

// Capacity returns the configured bound.
func (s *Store) Capacity() int { return s.capacity }
