package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"guppyrelay/internal/database"
	"guppyrelay/internal/model"
)

const (
	insertUserQuery = `INSERT INTO users (display_name, public_key, email, created_at)
		VALUES (?, ?, ?, ?)`

	selectUserColumns = `SELECT id, display_name, public_key, email FROM users`
)

// SQL is a Repository on the shared relay database.
type SQL struct {
	db      *database.DB
	timeout time.Duration
}

func NewSQL(db *database.DB, timeout time.Duration) *SQL {
	return &SQL{db: db, timeout: timeout}
}

func (r *SQL) Create(ctx context.Context, user model.User, createdAt time.Time) (model.User, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := r.db.Dialect.Rebind(insertUserQuery)
	args := []any{user.DisplayName, user.PublicKey, user.Email, createdAt.UTC().UnixMicro()}

	var id int64
	if r.db.Dialect.Returning() {
		if err := r.db.QueryRowContext(ctx, query+" RETURNING id", args...).Scan(&id); err != nil {
			return model.User{}, r.createError(err)
		}
	} else {
		res, err := r.db.ExecContext(ctx, query, args...)
		if err != nil {
			return model.User{}, r.createError(err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return model.User{}, fmt.Errorf("db error: %w", err)
		}
	}

	user.ID = strconv.FormatInt(id, 10)
	return user, nil
}

func (r *SQL) createError(err error) error {
	if database.IsUniqueViolation(err) {
		return ErrDuplicateName
	}
	return fmt.Errorf("db error: %w", err)
}

func (r *SQL) FindByName(ctx context.Context, displayName string) (model.User, error) {
	return r.findOne(ctx, selectUserColumns+" WHERE display_name = ?", displayName)
}

func (r *SQL) FindByID(ctx context.Context, id string) (model.User, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		// ids are always numeric here
		return model.User{}, ErrNotFound
	}
	return r.findOne(ctx, selectUserColumns+" WHERE id = ?", n)
}

func (r *SQL) findOne(ctx context.Context, query string, arg any) (model.User, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var (
		u  model.User
		id int64
	)
	err := r.db.QueryRowContext(ctx, r.db.Dialect.Rebind(query), arg).
		Scan(&id, &u.DisplayName, &u.PublicKey, &u.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("db error: %w", err)
	}
	u.ID = strconv.FormatInt(id, 10)
	return u, nil
}

func (r *SQL) List(ctx context.Context) ([]model.User, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, selectUserColumns+" ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		var (
			u  model.User
			id int64
		)
		if err := rows.Scan(&id, &u.DisplayName, &u.PublicKey, &u.Email); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		u.ID = strconv.FormatInt(id, 10)
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return users, nil
}
