// Package router implements the persist-then-fanout delivery protocol.
//
// Route first appends the message to the MessageStore. Only a message the
// store accepted is pushed to the recipient's attached channels, and a
// failed push never turns into a routing failure: the message stays
// retrievable from the store.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"guppyrelay/internal/clock"
	"guppyrelay/internal/logging"
	"guppyrelay/internal/model"
	"guppyrelay/internal/registry"
	"guppyrelay/internal/store"
)

// ErrInvalidEnvelope is returned for envelopes missing a party or a payload,
// or naming a party with an over-long id.
var ErrInvalidEnvelope = errors.New("invalid envelope")

// MaxParticipantIDLen bounds sender and recipient IDs. It matches the
// narrowest id column of the SQL backends.
const MaxParticipantIDLen = 64

// Status is the result kind of a Route call.
type Status int

const (
	StatusDelivered Status = iota + 1
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusDelivered:
		return "delivered"
	case StatusRejected:
		return "rejected"
	}
	return "unknown"
}

// Outcome describes what happened to one routed message.
//
// Delivered: Message holds the persisted record and FanoutCount the number
// of channels it was pushed to (zero when the recipient is offline).
// Rejected: Reason is store.ErrStorageFailure or ErrInvalidEnvelope.
type Outcome struct {
	Status      Status
	MessageID   int64
	FanoutCount int
	Message     model.Message
	Reason      error
}

// Subscriptions is the part of the registry the router reads.
type Subscriptions interface {
	Lookup(recipientID string) []registry.Channel
}

// Stats contains runtime counters.
type Stats struct {
	Routed       int64 `json:"routed"`
	Rejected     int64 `json:"rejected"`
	Pushed       int64 `json:"pushed"`
	PushFailures int64 `json:"push_failures"`
}

// Router wires a MessageStore to a subscription registry.
type Router struct {
	store  store.MessageStore
	subs   Subscriptions
	clock  clock.Clock
	logger logging.Logger
	pairs  *pairLocks

	// lastStamp keeps timestamps non-decreasing if the wall clock steps back.
	lastStamp atomic.Int64

	routed       atomic.Int64
	rejected     atomic.Int64
	pushed       atomic.Int64
	pushFailures atomic.Int64
}

type Option func(*Router)

func WithClock(c clock.Clock) Option {
	return func(r *Router) { r.clock = c }
}

func WithLogger(l logging.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// New creates a Router over the given store and registry.
func New(st store.MessageStore, subs Subscriptions, opts ...Option) *Router {
	r := &Router{
		store:  st,
		subs:   subs,
		clock:  clock.Real(),
		logger: logging.Nop(),
		pairs:  newPairLocks(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route persists env and fans it out to the recipient's channels.
//
// A rejected outcome is always paired with a non-nil error; nothing is
// pushed for it. Calls for the same sender and recipient are serialised so
// their messages are stored and pushed in call order. Calls for other
// pairs run in parallel.
func (r *Router) Route(ctx context.Context, env model.Envelope) (Outcome, error) {
	if env.SenderID == "" || env.RecipientID == "" || len(env.Ciphertext) == 0 {
		r.rejected.Add(1)
		return Outcome{Status: StatusRejected, Reason: ErrInvalidEnvelope},
			fmt.Errorf("%w: sender, recipient and ciphertext are required", ErrInvalidEnvelope)
	}
	if len(env.SenderID) > MaxParticipantIDLen || len(env.RecipientID) > MaxParticipantIDLen {
		r.rejected.Add(1)
		return Outcome{Status: StatusRejected, Reason: ErrInvalidEnvelope},
			fmt.Errorf("%w: participant ids are limited to %d bytes", ErrInvalidEnvelope, MaxParticipantIDLen)
	}

	unlock := r.pairs.lock(env.SenderID, env.RecipientID)
	defer unlock()

	saved, err := r.store.Append(ctx, model.Message{
		SenderID:    env.SenderID,
		RecipientID: env.RecipientID,
		Ciphertext:  env.Ciphertext,
		Timestamp:   r.stamp(),
	})
	if err != nil {
		r.rejected.Add(1)
		if !errors.Is(err, store.ErrStorageFailure) {
			err = fmt.Errorf("%w: %w", store.ErrStorageFailure, err)
		}
		r.logger.Error(ctx, "message rejected, append failed",
			"sender_id", env.SenderID, "recipient_id", env.RecipientID, "error", err)
		return Outcome{Status: StatusRejected, Reason: store.ErrStorageFailure}, fmt.Errorf("route message: %w", err)
	}

	fanout := r.fanout(ctx, saved)

	r.routed.Add(1)
	r.logger.Debug(ctx, "message routed",
		"message_id", saved.ID, "recipient_id", saved.RecipientID, "fanout", fanout)

	return Outcome{
		Status:      StatusDelivered,
		MessageID:   saved.ID,
		FanoutCount: fanout,
		Message:     saved,
	}, nil
}

func (r *Router) fanout(ctx context.Context, msg model.Message) int {
	// Lookup returns a copy; channels detached after this point may still
	// get this one message.
	channels := r.subs.Lookup(msg.RecipientID)

	n := 0
	for _, ch := range channels {
		if err := ch.Push(msg); err != nil {
			r.pushFailures.Add(1)
			r.logger.Warn(ctx, "push failed",
				"message_id", msg.ID, "recipient_id", msg.RecipientID, "channel", ch.ID(), "error", err)
			continue
		}
		n++
	}
	r.pushed.Add(int64(n))
	return n
}

func (r *Router) stamp() time.Time {
	now := r.clock.Now().UTC().UnixMicro()
	for {
		last := r.lastStamp.Load()
		if now < last {
			now = last
		}
		if r.lastStamp.CompareAndSwap(last, now) {
			return time.UnixMicro(now).UTC()
		}
	}
}

// Stats returns a snapshot of the router counters.
func (r *Router) Stats() Stats {
	return Stats{
		Routed:       r.routed.Load(),
		Rejected:     r.rejected.Load(),
		Pushed:       r.pushed.Load(),
		PushFailures: r.pushFailures.Load(),
	}
}
