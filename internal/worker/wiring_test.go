package worker

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"machineid-swarm/internal/config"
	xerrors "machineid-swarm/internal/errors"
	"machineid-swarm/internal/events"
	"machineid-swarm/internal/storage"
)

func TestOpenRepositoryDrivers(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	cfg := &config.Config{}
	cfg.Runtime.DataDir = dir

	repo, err := openRepository(ctx, cfg)
	if err != nil {
		t.Fatalf("none: %v", err)
	}
	if _, ok := repo.(storage.Nop); !ok {
		t.Fatalf("expected nop repository, got %T", repo)
	}

	cfg.Storage.Driver = "memory"
	repo, err = openRepository(ctx, cfg)
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := repo.(*storage.MemoryRepository); !ok {
		t.Fatalf("expected memory repository, got %T", repo)
	}

	cfg.Storage.Driver = "sqlite"
	repo, err = openRepository(ctx, cfg)
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	if err := repo.Close(); err != nil {
		t.Fatalf("close sqlite: %v", err)
	}
	if matches, _ := filepath.Glob(filepath.Join(dir, "*.db")); len(matches) != 1 {
		t.Fatalf("expected sqlite file in data dir, got %v", matches)
	}

	cfg.Storage.Driver = "mysql"
	if _, err := openRepository(ctx, cfg); xerrors.CodeOf(err) != xerrors.CodeStorageFailure {
		t.Fatalf("expected storage failure without dsn, got %v", err)
	}

	cfg.Storage.Driver = "cassandra"
	if _, err := openRepository(ctx, cfg); xerrors.CodeOf(err) != xerrors.CodeInvalidConfig {
		t.Fatalf("expected invalid config, got %v", err)
	}
}

func TestOpenPublisherDrivers(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{}
	cfg.Events.Drivers = []string{"log", "memory"}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	pub, err := openPublisher(ctx, cfg, log)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	fan, ok := pub.(*events.Fanout)
	if !ok || fan.Len() != 2 {
		t.Fatalf("unexpected publisher: %#v", pub)
	}

	cfg.Events.Drivers = []string{"memory", "redis", "rabbitmq"}
	pub, err = openPublisher(ctx, cfg, log)
	if err != nil {
		t.Fatalf("unavailable drivers must be skipped, got %v", err)
	}
	if fan, ok := pub.(*events.Fanout); !ok || fan.Len() != 1 {
		t.Fatalf("expected only the memory publisher, got %#v", pub)
	}

	cfg.Events.Drivers = []string{"kafka"}
	if _, err := openPublisher(ctx, cfg, log); xerrors.CodeOf(err) != xerrors.CodeInvalidConfig {
		t.Fatalf("expected invalid config, got %v", err)
	}
}
