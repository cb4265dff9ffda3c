package database

import (
	"context"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"

	"guppyrelay/internal/database/migrations"
	"guppyrelay/internal/logging"
)

// goose keeps its dialect and base FS in package globals.
var gooseMu sync.Mutex

// Migrate applies every pending migration for the database's dialect.
func (db *DB) Migrate(ctx context.Context, logger logging.Logger) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(gooseLogger{ctx: ctx, l: logger})

	if err := goose.SetDialect(db.Dialect.GooseDialect()); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db.DB, string(db.Dialect)); err != nil {
		return err
	}
	return nil
}

// gooseLogger forwards goose progress lines to the structured logger.
type gooseLogger struct {
	ctx context.Context
	l   logging.Logger
}

func (g gooseLogger) Printf(format string, v ...any) {
	g.l.Debug(g.ctx, fmt.Sprintf(format, v...), "component", "goose")
}

func (g gooseLogger) Fatalf(format string, v ...any) {
	g.l.Error(g.ctx, fmt.Sprintf(format, v...), "component", "goose")
}
