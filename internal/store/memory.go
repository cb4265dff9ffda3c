package store

import (
	"bytes"
	"context"
	"sync"

	"guppyrelay/internal/model"
)

// Memory is an in-process MessageStore. Messages live in an append-only
// log; a per-participant index of log positions keeps FindByParticipant
// proportional to the participant's own history.
type Memory struct {
	mu     sync.RWMutex
	log    []model.Message
	byUser map[string][]int
}

func NewMemory() *Memory {
	return &Memory{byUser: make(map[string][]int)}
}

func (m *Memory) Append(_ context.Context, msg model.Message) (model.Message, error) {
	msg.Ciphertext = bytes.Clone(msg.Ciphertext)

	m.mu.Lock()
	defer m.mu.Unlock()

	pos := len(m.log)
	msg.ID = int64(pos + 1)
	m.log = append(m.log, msg)

	m.byUser[msg.SenderID] = append(m.byUser[msg.SenderID], pos)
	if msg.RecipientID != msg.SenderID {
		m.byUser[msg.RecipientID] = append(m.byUser[msg.RecipientID], pos)
	}

	return msg, nil
}

func (m *Memory) FindByParticipant(_ context.Context, userID string) ([]model.Message, error) {
	m.mu.RLock()
	positions := m.byUser[userID]
	out := make([]model.Message, 0, len(positions))
	for _, pos := range positions {
		msg := m.log[pos]
		msg.Ciphertext = bytes.Clone(msg.Ciphertext)
		out = append(out, msg)
	}
	m.mu.RUnlock()

	SortMessages(out)
	return out, nil
}

func (m *Memory) Ping(context.Context) error {
	return nil
}

// Len returns the number of stored messages.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.log)
}
