// Command tripsync runs the sync engine daemon: the local store and sync
// queue behind an HTTP surface, draining to a remote Postgres store when
// connectivity allows.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/hazyhaar/tripsync"
	"github.com/hazyhaar/tripsync/remote"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML config file")
		dbPath     = flag.String("db", "", "local SQLite database path (overrides config)")
		remoteDSN  = flag.String("remote-dsn", "", "remote Postgres DSN (overrides config)")
		httpAddr   = flag.String("http", "", "HTTP listen address (overrides config)")
		logLevel   = flag.String("log-level", "info", "log level: debug, info, warn, error")
		migrate    = flag.Bool("migrate", false, "apply remote store migrations and exit")
	)
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q\n", *logLevel)
		os.Exit(2)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := tripsync.LoadConfigFile(*configPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *remoteDSN != "" {
		cfg.RemoteDSN = *remoteDSN
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *migrate {
		if cfg.RemoteDSN == "" {
			logger.Error("migrate requires a remote DSN")
			os.Exit(1)
		}
		if err := runMigrations(ctx, cfg.RemoteDSN); err != nil {
			logger.Error("migrations failed", "error", err)
			os.Exit(1)
		}
		logger.Info("migrations applied")
		return
	}

	engine := tripsync.NewEngine(cfg, tripsync.WithLogger(logger))
	if err := engine.Start(ctx); err != nil {
		logger.Error("engine start failed", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           engine.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
}

// runMigrations applies the embedded remote migrations. goose needs a
// database/sql handle, hence the pgx stdlib driver.
func runMigrations(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open remote: %w", err)
	}
	defer db.Close()
	return remote.Migrate(ctx, db)
}
