// Package registry tracks which recipients currently have live delivery
// channels. It does no I/O and never validates recipients against the
// user directory.
package registry

import (
	"hash/fnv"
	"sync"

	"guppyrelay/internal/model"
)

// Channel is one live client connection that can receive pushed messages.
// Push must not block; a closed or saturated channel reports an error.
// The registry tracks channels by handle, so implementations must be
// comparable (pointers or plain structs). ID is only for logs.
type Channel interface {
	ID() string
	Push(msg model.Message) error
}

// Locks are striped by recipient so attach/detach/lookup for different
// recipients rarely contend.
const shardCount = 32

type shard struct {
	mu   sync.RWMutex
	subs map[string]map[Channel]struct{}
}

// Registry maps recipient IDs to their attached channels.
type Registry struct {
	shards [shardCount]shard
}

func New() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].subs = make(map[string]map[Channel]struct{})
	}
	return r
}

func (r *Registry) shardFor(recipientID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(recipientID))
	return &r.shards[h.Sum32()%shardCount]
}

// Attach registers ch under recipientID. Attaching the same handle twice
// is a no-op; distinct handles are kept apart even if their IDs match.
func (r *Registry) Attach(recipientID string, ch Channel) {
	s := r.shardFor(recipientID)
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.subs[recipientID]
	if !ok {
		set = make(map[Channel]struct{})
		s.subs[recipientID] = set
	}
	set[ch] = struct{}{}
}

// Detach removes the handle ch from recipientID. Detaching a handle that
// is not attached does nothing, even when an attached channel shares its ID.
func (r *Registry) Detach(recipientID string, ch Channel) {
	s := r.shardFor(recipientID)
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.subs[recipientID]
	if !ok {
		return
	}
	delete(set, ch)
	if len(set) == 0 {
		delete(s.subs, recipientID)
	}
}

// Lookup returns a snapshot of the channels attached to recipientID.
// The slice is owned by the caller and does not track later changes.
func (r *Registry) Lookup(recipientID string) []Channel {
	s := r.shardFor(recipientID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := s.subs[recipientID]
	if len(set) == 0 {
		return nil
	}
	out := make([]Channel, 0, len(set))
	for ch := range set {
		out = append(out, ch)
	}
	return out
}

// Count returns how many channels recipientID currently has.
func (r *Registry) Count(recipientID string) int {
	s := r.shardFor(recipientID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs[recipientID])
}

// Stats is a point-in-time summary of the registry.
type Stats struct {
	Recipients int `json:"recipients"`
	Channels   int `json:"channels"`
}

// Stats walks every shard. Shards are read one at a time, so the totals
// are approximate while sessions come and go.
func (r *Registry) Stats() Stats {
	var st Stats
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		st.Recipients += len(s.subs)
		for _, set := range s.subs {
			st.Channels += len(set)
		}
		s.mu.RUnlock()
	}
	return st
}
