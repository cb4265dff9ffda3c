// Package store is the durable message log behind the delivery router.
//
// A MessageStore assigns every appended message a unique, monotonically
// increasing ID and answers "every message this user sent or received"
// in (timestamp, id) order.
package store

import (
	"cmp"
	"context"
	"errors"
	"slices"

	"guppyrelay/internal/model"
)

// ErrStorageFailure wraps every I/O failure of a MessageStore.
var ErrStorageFailure = errors.New("storage failure")

// MessageStore is the persistence port used by the router and the
// history endpoints.
type MessageStore interface {
	// Append durably records msg and returns it with its assigned ID.
	// Either the message is fully recorded or an error wrapping
	// ErrStorageFailure is returned and nothing is recorded.
	Append(ctx context.Context, msg model.Message) (model.Message, error)

	// FindByParticipant returns every message where userID is the sender
	// or the recipient, ordered by timestamp then ID.
	FindByParticipant(ctx context.Context, userID string) ([]model.Message, error)

	// Ping reports whether the backing medium is reachable.
	Ping(ctx context.Context) error
}

func compareMessages(a, b model.Message) int {
	if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// SortMessages orders msgs by timestamp ascending, ties broken by ID.
func SortMessages(msgs []model.Message) {
	slices.SortStableFunc(msgs, compareMessages)
}
