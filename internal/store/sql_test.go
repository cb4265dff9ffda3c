package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guppyrelay/internal/config"
	"guppyrelay/internal/database"
	"guppyrelay/internal/logging"
)

const (
	insertRe = `(?s)^INSERT\s+INTO\s+messages\s*\(sender_id,\s*recipient_id,\s*ciphertext,\s*created_at\)\s*VALUES\s*\(\?,\s*\?,\s*\?,\s*\?\)$`
	selectRe = `(?s)^SELECT\s+id,\s*sender_id,\s*recipient_id,\s*ciphertext,\s*created_at\s+FROM\s+messages\s+WHERE\s+sender_id\s*=\s*\?\s+OR\s+recipient_id\s*=\s*\?\s+ORDER\s+BY\s+created_at,\s*id$`
)

func newSQLWithMock(t *testing.T, dialect database.Dialect, opts ...SQLOption) (*SQL, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewSQL(database.Wrap(db, dialect), time.Second, opts...), mock, db
}

func TestSQL_Append_MySQL(t *testing.T) {
	s, mock, db := newSQLWithMock(t, database.MySQL)
	defer db.Close()

	at := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	mock.ExpectExec(insertRe).
		WithArgs("1", "2", []byte{1, 2, 3}, at.UnixMicro()).
		WillReturnResult(sqlmock.NewResult(101, 1))

	got, err := s.Append(context.Background(), msg("1", "2", at, "\x01\x02\x03"))
	require.NoError(t, err)
	assert.Equal(t, int64(101), got.ID)
	assert.Equal(t, at.Truncate(time.Microsecond), got.Timestamp)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQL_Append_PostgresUsesReturning(t *testing.T) {
	s, mock, db := newSQLWithMock(t, database.Postgres)
	defer db.Close()

	q := `(?s)^INSERT\s+INTO\s+messages.*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4\)\s+RETURNING\s+id$`
	mock.ExpectQuery(q).
		WithArgs("1", "2", []byte("AQ"), t0.UnixMicro()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	got, err := s.Append(context.Background(), msg("1", "2", t0, "AQ"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQL_Append_FailureIsStorageFailure(t *testing.T) {
	s, mock, db := newSQLWithMock(t, database.MySQL)
	defer db.Close()

	mock.ExpectExec(insertRe).WillReturnError(errors.New("db down"))

	_, err := s.Append(context.Background(), msg("1", "2", t0, "x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorageFailure)
	assert.Contains(t, err.Error(), "db down")
	// no retry on append
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQL_Append_LastInsertIDFailure(t *testing.T) {
	s, mock, db := newSQLWithMock(t, database.MySQL)
	defer db.Close()

	mock.ExpectExec(insertRe).WillReturnResult(sqlmock.NewErrorResult(errors.New("no id")))

	_, err := s.Append(context.Background(), msg("1", "2", t0, "x"))
	assert.ErrorIs(t, err, ErrStorageFailure)
}

func TestSQL_FindByParticipant(t *testing.T) {
	s, mock, db := newSQLWithMock(t, database.MySQL)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "sender_id", "recipient_id", "ciphertext", "created_at"}).
		AddRow(int64(1), "1", "2", []byte("a"), t0.UnixMicro()).
		AddRow(int64(2), "2", "1", []byte("b"), t0.Add(time.Second).UnixMicro())
	mock.ExpectQuery(selectRe).WithArgs("1", "1").WillReturnRows(rows)

	got, err := s.FindByParticipant(context.Background(), "1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].ID)
	assert.Equal(t, t0, got[0].Timestamp)
	assert.Equal(t, "b", string(got[1].Ciphertext))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQL_FindByParticipant_RetriesThenSucceeds(t *testing.T) {
	s, mock, db := newSQLWithMock(t, database.MySQL, WithReadRetries(2, time.Millisecond))
	defer db.Close()

	mock.ExpectQuery(selectRe).WillReturnError(errors.New("connection reset"))
	mock.ExpectQuery(selectRe).WillReturnRows(
		sqlmock.NewRows([]string{"id", "sender_id", "recipient_id", "ciphertext", "created_at"}).
			AddRow(int64(3), "1", "2", []byte("c"), t0.UnixMicro()))

	got, err := s.FindByParticipant(context.Background(), "1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQL_FindByParticipant_GivesUp(t *testing.T) {
	s, mock, db := newSQLWithMock(t, database.MySQL, WithReadRetries(1, time.Millisecond))
	defer db.Close()

	mock.ExpectQuery(selectRe).WillReturnError(errors.New("down"))
	mock.ExpectQuery(selectRe).WillReturnError(errors.New("still down"))

	_, err := s.FindByParticipant(context.Background(), "1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorageFailure)
	assert.Contains(t, err.Error(), "still down")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQL_FindByParticipant_Empty(t *testing.T) {
	s, mock, db := newSQLWithMock(t, database.Postgres)
	defer db.Close()

	q := `(?s)^SELECT.*WHERE\s+sender_id\s*=\s*\$1\s+OR\s+recipient_id\s*=\s*\$2.*$`
	mock.ExpectQuery(q).WithArgs("9", "9").
		WillReturnRows(sqlmock.NewRows([]string{"id", "sender_id", "recipient_id", "ciphertext", "created_at"}))

	got, err := s.FindByParticipant(context.Background(), "9")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestSQL_SQLiteRoundTrip(t *testing.T) {
	cfg := config.Default()
	cfg.DBDriver = config.DriverSQLite
	cfg.DBPath = filepath.Join(t.TempDir(), "store.db")

	db, err := database.Open(context.Background(), cfg, logging.Nop())
	require.NoError(t, err)
	defer db.Close()

	s := NewSQL(db, time.Second)
	ctx := context.Background()

	first, err := s.Append(ctx, msg("1", "2", t0.Add(time.Second), "first"))
	require.NoError(t, err)
	second, err := s.Append(ctx, msg("2", "1", t0, "earlier"))
	require.NoError(t, err)
	third, err := s.Append(ctx, msg("1", "1", t0, "self"))
	require.NoError(t, err)
	_, err = s.Append(ctx, msg("3", "4", t0, "unrelated"))
	require.NoError(t, err)

	assert.Less(t, first.ID, second.ID)

	got, err := s.FindByParticipant(ctx, "1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{second.ID, third.ID, first.ID}, []int64{got[0].ID, got[1].ID, got[2].ID})
	assert.Equal(t, first, got[2])

	require.NoError(t, s.Ping(ctx))
}
