package store

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"guppyrelay/internal/database"
	"guppyrelay/internal/model"
)

const (
	insertMessageQuery = `INSERT INTO messages (sender_id, recipient_id, ciphertext, created_at)
		VALUES (?, ?, ?, ?)`

	findByParticipantQuery = `SELECT id, sender_id, recipient_id, ciphertext, created_at
		FROM messages
		WHERE sender_id = ? OR recipient_id = ?
		ORDER BY created_at, id`
)

// SQL is a MessageStore on MySQL, PostgreSQL or SQLite. Timestamps are
// stored as UTC microseconds so every dialect orders them the same way.
type SQL struct {
	db          *database.DB
	timeout     time.Duration
	readRetries uint64
	readBackoff time.Duration
}

type SQLOption func(*SQL)

// WithReadRetries sets how many times a failed read is retried. Appends
// are never retried: a lost response could otherwise record a message twice.
func WithReadRetries(n uint64, base time.Duration) SQLOption {
	return func(s *SQL) {
		s.readRetries = n
		s.readBackoff = base
	}
}

func NewSQL(db *database.DB, timeout time.Duration, opts ...SQLOption) *SQL {
	s := &SQL{
		db:          db,
		timeout:     timeout,
		readRetries: 2,
		readBackoff: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SQL) Append(ctx context.Context, msg model.Message) (model.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	created := msg.Timestamp.UTC().UnixMicro()
	query := s.db.Dialect.Rebind(insertMessageQuery)
	args := []any{msg.SenderID, msg.RecipientID, msg.Ciphertext, created}

	var id int64
	if s.db.Dialect.Returning() {
		if err := s.db.QueryRowContext(ctx, query+" RETURNING id", args...).Scan(&id); err != nil {
			return model.Message{}, fmt.Errorf("%w: insert message: %w", ErrStorageFailure, err)
		}
	} else {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return model.Message{}, fmt.Errorf("%w: insert message: %w", ErrStorageFailure, err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return model.Message{}, fmt.Errorf("%w: read message id: %w", ErrStorageFailure, err)
		}
	}

	msg.ID = id
	msg.Timestamp = time.UnixMicro(created).UTC()
	return msg, nil
}

func (s *SQL) FindByParticipant(ctx context.Context, userID string) ([]model.Message, error) {
	var msgs []model.Message

	backoff := retry.WithMaxRetries(s.readRetries, retry.NewExponential(s.readBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		msgs, err = s.findByParticipant(ctx, userID)
		if err != nil && ctx.Err() == nil {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: find messages for %s: %w", ErrStorageFailure, userID, err)
	}
	return msgs, nil
}

func (s *SQL) findByParticipant(ctx context.Context, userID string) ([]model.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.db.Dialect.Rebind(findByParticipantQuery), userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []model.Message{}
	for rows.Next() {
		var (
			msg     model.Message
			created int64
		)
		if err := rows.Scan(&msg.ID, &msg.SenderID, &msg.RecipientID, &msg.Ciphertext, &created); err != nil {
			return nil, err
		}
		msg.Timestamp = time.UnixMicro(created).UTC()
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *SQL) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	return nil
}
