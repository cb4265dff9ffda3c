package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"guppyrelay/internal/clock"
	"guppyrelay/internal/config"
	"guppyrelay/internal/database"
	"guppyrelay/internal/directory"
	"guppyrelay/internal/handler"
	"guppyrelay/internal/logging"
	"guppyrelay/internal/store"
)

func main() {
	// .envファイルを読み込み
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  .env file not found, using environment and defaults: %v", err)
	}

	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatalf("❌ %v", err)
	}
}

func run(args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(cfg.Env, cfg.LogLevel)
	// ライブラリが使う slog のデフォルトも同じ出力へ
	slog.SetDefault(logger.Slog())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, dir, closeStore, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// ハンドラー初期化
	h := handler.New(cfg, logger, st, dir)
	router := h.SetupRouter()

	// CORS対応
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Content-Length"},
		MaxAge:           300,
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           c.Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Slog().Handler(), slog.LevelWarn),
	}

	fmt.Println("========================================")
	fmt.Println("  Guppy Relay Server")
	fmt.Println("========================================")
	fmt.Printf("  Environment: %s\n", cfg.Env)
	fmt.Printf("  Server: http://localhost:%s\n", cfg.ServerPort)
	fmt.Printf("  WebSocket: ws://localhost:%s/ws?user_id=<id>\n", cfg.ServerPort)
	fmt.Printf("  Store: %s\n", cfg.DBDriver)
	if cfg.DBName != "" {
		fmt.Printf("  Database: %s@%s:%s/%s\n", cfg.DBUser, cfg.DBHost, cfg.DBPort, cfg.DBName)
	}
	fmt.Printf("  Allowed Origins: %v\n", cfg.AllowedOrigins)
	fmt.Println("========================================")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info(gctx, "🚀 Server started", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info(context.Background(), "shutting down", "timeout", cfg.ShutdownTimeout)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		httpErr := srv.Shutdown(shutdownCtx)
		// WebSocket はハイジャック済みなので別に閉じる。ストアを閉じる前に全セッションを切り離す
		return errors.Join(httpErr, h.Shutdown(shutdownCtx))
	})

	return g.Wait()
}

// openStores picks the message store and user directory backends. Both
// share one database when a SQL driver is configured.
func openStores(ctx context.Context, cfg config.Config, logger logging.Logger) (store.MessageStore, handler.Directory, func(), error) {
	if cfg.DBDriver == config.DriverMemory {
		logger.Warn(ctx, "using in-memory store, messages are lost on restart")
		return store.NewMemory(), directory.NewService(directory.NewMemory(), clock.Real()), func() {}, nil
	}

	// データベース接続を初期化
	db, err := database.Open(ctx, cfg, logger.With("component", "database"))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	st := store.NewSQL(db, cfg.StoreTimeout)
	dir := directory.NewService(directory.NewSQL(db, cfg.StoreTimeout), clock.Real())
	return st, dir, func() { db.Close() }, nil
}
