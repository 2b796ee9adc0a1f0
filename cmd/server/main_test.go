package main

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"econcore/internal/config"
	"econcore/internal/domain/ledger"
)

func TestMigrationsFS_DefaultsToEmbedded(t *testing.T) {
	names, err := fs.Glob(migrationsFS(""), "*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(names) == 0 || !strings.HasPrefix(names[0], "0001_") {
		t.Fatalf("embedded migrations missing: %v", names)
	}
}

func TestMigrationsFS_UsesDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "0009_custom.sql"), []byte("SELECT 1;"), 0o644); err != nil {
		t.Fatalf("write migration: %v", err)
	}
	names, err := fs.Glob(migrationsFS(dir), "*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(names) != 1 || names[0] != "0009_custom.sql" {
		t.Fatalf("migrations=%v want [0009_custom.sql]", names)
	}
}

func TestBuildLedger_JSONFilePersistsApplies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	cfg := config.Server{LedgerBackend: config.LedgerJSONFile, LedgerPath: path}

	store, err := buildLedger(context.Background(), cfg, 250)
	if err != nil {
		t.Fatalf("buildLedger: %v", err)
	}
	rec, err := store.Apply(context.Background(), "u1", func(r ledger.AccountRecord) (ledger.AccountRecord, error) {
		if err := r.Credit(5); err != nil {
			return r, err
		}
		return r, nil
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if rec.Liquid != 255 {
		t.Fatalf("liquid=%d want 255", rec.Liquid)
	}

	reopened, err := buildLedger(context.Background(), cfg, 250)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Liquid != 255 {
		t.Fatalf("reopened liquid=%d want 255", got.Liquid)
	}
}

func TestBuildLedger_UnknownBackend(t *testing.T) {
	_, err := buildLedger(context.Background(), config.Server{LedgerBackend: "etcd"}, 0)
	if err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestBuildSessions_MemorySweeperStopsWithContext(t *testing.T) {
	cfg := config.Server{SessionBackend: config.SessionsMemory, SweepInterval: 10 * time.Millisecond}
	reg, background, err := buildSessions(context.Background(), cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("buildSessions: %v", err)
	}
	if reg == nil {
		t.Fatalf("expected registry")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- background(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("sweeper returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("sweeper did not stop")
	}
}

func TestBuildSessions_UnknownBackend(t *testing.T) {
	_, _, err := buildSessions(context.Background(), config.Server{SessionBackend: "etcd"}, slog.New(slog.DiscardHandler))
	if err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}
