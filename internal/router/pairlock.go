package router

import (
	"hash/fnv"
	"sync"
)

const pairShards = 32

// pairLocks hands out one mutex per sender/recipient pair. Entries are
// reference counted and dropped once nobody holds or waits for them.
type pairLocks struct {
	shards [pairShards]pairShard
}

type pairShard struct {
	mu    sync.Mutex
	locks map[string]*pairLock
}

type pairLock struct {
	mu   sync.Mutex
	refs int
}

func newPairLocks() *pairLocks {
	p := &pairLocks{}
	for i := range p.shards {
		p.shards[i].locks = make(map[string]*pairLock)
	}
	return p
}

func pairKey(sender, recipient string) string {
	return sender + "\x00" + recipient
}

// lock blocks until the pair is free and returns its unlock func.
func (p *pairLocks) lock(sender, recipient string) func() {
	key := pairKey(sender, recipient)

	h := fnv.New32a()
	h.Write([]byte(key))
	s := &p.shards[h.Sum32()%pairShards]

	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &pairLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}
