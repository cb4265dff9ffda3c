package directory

import (
	"cmp"
	"context"
	"slices"
	"strconv"
	"sync"
	"time"

	"guppyrelay/internal/model"
)

// Memory is an in-process Repository. IDs are decimal strings starting at 1,
// like the SQL backends.
type Memory struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[string]model.User
	byName map[string]string
}

func NewMemory() *Memory {
	return &Memory{
		byID:   make(map[string]model.User),
		byName: make(map[string]string),
	}
}

func (m *Memory) Create(_ context.Context, user model.User, _ time.Time) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.byName[user.DisplayName]; taken {
		return model.User{}, ErrDuplicateName
	}

	m.nextID++
	user.ID = strconv.FormatInt(m.nextID, 10)
	user.PublicKey = slices.Clone(user.PublicKey)

	m.byID[user.ID] = user
	m.byName[user.DisplayName] = user.ID
	return user, nil
}

func (m *Memory) FindByName(_ context.Context, displayName string) (model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byName[displayName]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return m.byID[id], nil
}

func (m *Memory) FindByID(_ context.Context, id string) (model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.byID[id]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return u, nil
}

func (m *Memory) List(context.Context) ([]model.User, error) {
	m.mu.RLock()
	users := make([]model.User, 0, len(m.byID))
	for _, u := range m.byID {
		users = append(users, u)
	}
	m.mu.RUnlock()

	slices.SortFunc(users, func(a, b model.User) int {
		ai, _ := strconv.ParseInt(a.ID, 10, 64)
		bi, _ := strconv.ParseInt(b.ID, 10, 64)
		return cmp.Compare(ai, bi)
	})
	return users, nil
}
