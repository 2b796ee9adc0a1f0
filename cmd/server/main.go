package main

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"econcore/db/migrations"
	httpadapter "econcore/internal/adapter/http"
	metricsinmem "econcore/internal/adapter/metrics/inmemory"
	gormrepo "econcore/internal/adapter/repo/gorm"
	"econcore/internal/adapter/repo/jsonfile"
	ledgermem "econcore/internal/adapter/repo/memory"
	sessionmem "econcore/internal/adapter/session/memory"
	sessionredis "econcore/internal/adapter/session/redis"
	"econcore/internal/app/economy"
	"econcore/internal/app/ports"
	"econcore/internal/config"
	"econcore/internal/domain/outcome"
	"econcore/internal/domain/workflow"

	"github.com/cloudwego/hertz/pkg/app/server"
	"golang.org/x/sync/errgroup"
)

const shutdownGrace = 5 * time.Second

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Server, logger *slog.Logger) error {
	tuning, err := config.LoadTuning(cfg.TuningPath)
	if err != nil {
		return err
	}
	ledgerStore, err := buildLedger(ctx, cfg, tuning.StartingBalance)
	if err != nil {
		return err
	}
	sessions, background, err := buildSessions(ctx, cfg, logger)
	if err != nil {
		return err
	}
	codec, err := workflow.NewCodec([]byte(cfg.TokenSecret))
	if err != nil {
		return err
	}
	random, err := outcome.NewSeededSource()
	if err != nil {
		return err
	}
	kpiRecorder := metricsinmem.NewRecorder()

	engine := economy.New(economy.Deps{
		Ledger:   ledgerStore,
		Sessions: sessions,
		Tuning:   tuning,
		Tokens:   codec,
		Random:   random,
		Metrics:  kpiRecorder,
		Logger:   logger,
		Now:      time.Now,
	})
	h := httpadapter.Handler{
		Economy:    engine,
		AdminToken: strings.TrimSpace(cfg.AdminToken),
		KPI:        kpiRecorder,
	}

	s := server.Default(server.WithHostPorts(cfg.HTTPAddr))
	h.RegisterRoutes(s)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.Run()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return background(gctx)
	})

	logger.Info("econcore server listening",
		"addr", cfg.HTTPAddr,
		"ledger", cfg.LedgerBackend,
		"sessions", cfg.SessionBackend,
		"admin_reset", h.AdminToken != "",
	)
	return g.Wait()
}

func buildLedger(ctx context.Context, cfg config.Server, startingBalance int64) (ports.LedgerStore, error) {
	switch cfg.LedgerBackend {
	case config.LedgerMemory:
		return ledgermem.NewStore(ledgermem.Options{StartingBalance: startingBalance}), nil
	case config.LedgerJSONFile:
		store, err := jsonfile.Open(jsonfile.Options{Path: cfg.LedgerPath, StartingBalance: startingBalance})
		if err != nil {
			return nil, fmt.Errorf("open ledger file: %w", err)
		}
		return store, nil
	case config.LedgerPostgres:
		db, err := gormrepo.OpenPostgres(cfg.DBDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := gormrepo.ApplyMigrations(ctx, db, migrationsFS(cfg.MigrationsDir)); err != nil {
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		return gormrepo.NewLedger(db, gormrepo.LedgerOptions{StartingBalance: startingBalance}), nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.LedgerBackend)
	}
}

// buildSessions returns the registry plus a loop that runs until ctx is done.
func buildSessions(ctx context.Context, cfg config.Server, logger *slog.Logger) (ports.SessionRegistry, func(context.Context) error, error) {
	switch cfg.SessionBackend {
	case config.SessionsMemory:
		reg := sessionmem.New(sessionmem.Options{Logger: logger})
		return reg, func(ctx context.Context) error {
			return reg.Run(ctx, cfg.SweepInterval)
		}, nil
	case config.SessionsRedis:
		client := sessionredis.Dial(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return sessionredis.New(client, sessionredis.Options{}), func(ctx context.Context) error {
			<-ctx.Done()
			return client.Close()
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown session backend %q", cfg.SessionBackend)
	}
}

func migrationsFS(dir string) fs.FS {
	if strings.TrimSpace(dir) == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}
