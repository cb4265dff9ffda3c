package directory

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guppyrelay/internal/clock"
	"guppyrelay/internal/config"
	"guppyrelay/internal/database"
	"guppyrelay/internal/logging"
	"guppyrelay/internal/model"
)

const (
	insertUserRe = `(?s)^INSERT\s+INTO\s+users\s*\(display_name,\s*public_key,\s*email,\s*created_at\)\s*VALUES\s*\(\?,\s*\?,\s*\?,\s*\?\)$`
	byNameRe     = `(?s)^SELECT\s+id,\s*display_name,\s*public_key,\s*email\s+FROM\s+users\s+WHERE\s+display_name\s*=\s*\?$`
	byIDRe       = `(?s)^SELECT\s+id,\s*display_name,\s*public_key,\s*email\s+FROM\s+users\s+WHERE\s+id\s*=\s*\$1$`
	listRe       = `(?s)^SELECT\s+id,\s*display_name,\s*public_key,\s*email\s+FROM\s+users\s+ORDER\s+BY\s+id$`
)

var created = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func userNamed(name string, key []byte) model.User {
	return model.User{DisplayName: name, PublicKey: key}
}

func newRepoWithMock(t *testing.T, dialect database.Dialect) (*SQL, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewSQL(database.Wrap(db, dialect), time.Second), mock, db
}

func TestSQL_Create_MySQL(t *testing.T) {
	repo, mock, db := newRepoWithMock(t, database.MySQL)
	defer db.Close()

	mock.ExpectExec(insertUserRe).
		WithArgs("alice", []byte("pk"), "a@example.com", created.UnixMicro()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	u := userNamed("alice", []byte("pk"))
	u.Email = "a@example.com"
	got, err := repo.Create(context.Background(), u, created)
	require.NoError(t, err)
	assert.Equal(t, "1", got.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQL_Create_PostgresReturning(t *testing.T) {
	repo, mock, db := newRepoWithMock(t, database.Postgres)
	defer db.Close()

	q := `(?s)^INSERT\s+INTO\s+users.*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4\)\s+RETURNING\s+id$`
	mock.ExpectQuery(q).
		WithArgs("bob", []byte("pk"), "", created.UnixMicro()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(2)))

	got, err := repo.Create(context.Background(), userNamed("bob", []byte("pk")), created)
	require.NoError(t, err)
	assert.Equal(t, "2", got.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQL_Create_DuplicateName(t *testing.T) {
	repo, mock, db := newRepoWithMock(t, database.MySQL)
	defer db.Close()

	mock.ExpectExec(insertUserRe).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'alice'"})

	_, err := repo.Create(context.Background(), userNamed("alice", []byte("pk")), created)
	assert.ErrorIs(t, err, ErrDuplicateName)
}

func TestSQL_Create_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t, database.MySQL)
	defer db.Close()

	mock.ExpectExec(insertUserRe).WillReturnError(errors.New("db down"))

	_, err := repo.Create(context.Background(), userNamed("alice", []byte("pk")), created)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicateName)
	assert.Contains(t, err.Error(), "db down")
}

func TestSQL_FindByName(t *testing.T) {
	repo, mock, db := newRepoWithMock(t, database.MySQL)
	defer db.Close()

	mock.ExpectQuery(byNameRe).WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"id", "display_name", "public_key", "email"}).
			AddRow(int64(7), "alice", []byte("pk"), "a@example.com"))

	got, err := repo.FindByName(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, model.User{ID: "7", DisplayName: "alice", PublicKey: []byte("pk"), Email: "a@example.com"}, got)
}

func TestSQL_FindByName_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t, database.MySQL)
	defer db.Close()

	mock.ExpectQuery(byNameRe).WithArgs("nobody").
		WillReturnRows(sqlmock.NewRows([]string{"id", "display_name", "public_key", "email"}))

	_, err := repo.FindByName(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQL_FindByID_Postgres(t *testing.T) {
	repo, mock, db := newRepoWithMock(t, database.Postgres)
	defer db.Close()

	mock.ExpectQuery(byIDRe).WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "display_name", "public_key", "email"}).
			AddRow(int64(3), "carol", []byte("pk"), ""))

	got, err := repo.FindByID(context.Background(), "3")
	require.NoError(t, err)
	assert.Equal(t, "carol", got.DisplayName)
}

func TestSQL_FindByID_NonNumeric(t *testing.T) {
	repo, mock, db := newRepoWithMock(t, database.MySQL)
	defer db.Close()

	_, err := repo.FindByID(context.Background(), "abc")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQL_List(t *testing.T) {
	repo, mock, db := newRepoWithMock(t, database.MySQL)
	defer db.Close()

	mock.ExpectQuery(listRe).
		WillReturnRows(sqlmock.NewRows([]string{"id", "display_name", "public_key", "email"}).
			AddRow(int64(1), "alice", []byte("a"), "").
			AddRow(int64(2), "bob", []byte("b"), ""))

	users, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "bob", users[1].DisplayName)
}

func TestSQL_SQLiteRoundTrip(t *testing.T) {
	cfg := config.Default()
	cfg.DBDriver = config.DriverSQLite
	cfg.DBPath = filepath.Join(t.TempDir(), "relay.db")

	db, err := database.Open(context.Background(), cfg, logging.Nop())
	require.NoError(t, err)
	defer db.Close()

	s := NewService(NewSQL(db, time.Second), clock.Fake(created))
	ctx := context.Background()

	alice, err := s.Create(ctx, "alice", []byte{1}, "")
	require.NoError(t, err)
	_, err = s.Create(ctx, "bob", []byte{2}, "")
	require.NoError(t, err)

	_, err = s.Create(ctx, "alice", []byte{3}, "")
	assert.ErrorIs(t, err, ErrDuplicateName)

	got, err := s.FindByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, alice, got)

	users, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 2)
}
