// Command suimate runs the wallet chat daemon: an HTTP API (and
// optional Matrix transport) in front of the intent-routed message
// pipeline, backed by SQLite or Postgres.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "modernc.org/sqlite"

	"github.com/suimate-labs/suimate/internal/daemon"
	"github.com/suimate-labs/suimate/pkg/room"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to JSON config file (empty = env-driven defaults)")
	debug := flag.Bool("debug", false, "enable debug logging")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("suimate", version)
		return
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := run(*configPath); err != nil {
		slog.Error("daemon exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := daemon.LoadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	d, err := daemon.New(cfg, store)
	if err != nil {
		return err
	}

	slog.Info("starting suimate",
		"version", version,
		"store", cfg.Store.Driver,
		"addr", cfg.Server.Addr,
		"matrix", cfg.Matrix.Enabled,
	)
	return d.Run(ctx)
}

func openStore(ctx context.Context, cfg *daemon.Config) (room.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		store, err := room.NewPostgresStore(ctx, cfg.Store.PostgresURL, cfg.Store.VectorDims)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		if err := store.Init(ctx); err != nil {
			return nil, fmt.Errorf("init postgres schema: %w", err)
		}
		return store, nil
	case "sqlite":
		store, err := room.OpenSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
