package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fentz26/postloom/internal/agents"
	"github.com/fentz26/postloom/internal/audit"
	"github.com/fentz26/postloom/internal/config"
	"github.com/fentz26/postloom/internal/connectors"
	"github.com/fentz26/postloom/internal/connectors/offline"
	"github.com/fentz26/postloom/internal/connectors/openai"
	"github.com/fentz26/postloom/internal/controlplane"
	"github.com/fentz26/postloom/internal/logging"
	"github.com/fentz26/postloom/internal/notify"
	"github.com/fentz26/postloom/internal/orchestrator"
	"github.com/fentz26/postloom/internal/progress"
	"github.com/fentz26/postloom/internal/recovery"
	"github.com/fentz26/postloom/internal/runguard"
	"github.com/fentz26/postloom/internal/scheduler"
	"github.com/fentz26/postloom/internal/store"
)

const shutdownTimeout = 30 * time.Second

var listenAddr string

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the Postloom daemon",
	Long:  `Starts the Postloom daemon which serves the HTTP API and runs content generation.`,
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server (overrides config)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Server.Listen = listenAddr
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	s, err := openStore(cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		logger.Info("closing database connection")
		if err := s.Close(); err != nil {
			logger.Warn("database close error", zap.Error(err))
		}
	}()

	provider, err := newProvider(cfg.Provider)
	if err != nil {
		return err
	}
	registry := agents.NewDefaultRegistry(provider)
	registry.SetDefaultTimeout(cfg.Generation.DefaultTimeout)
	logger.Info("provider ready", zap.String("provider", provider.Name()), zap.String("model", provider.Model()))

	bus := notify.NewBus()
	bus.Subscribe(notify.LogHandler(logger.With(zap.String("component", "notify"))))
	if cfg.Notify.AMQPURL != "" {
		sink, err := notify.DialAMQP(cfg.Notify.AMQPURL, cfg.Notify.Exchange, logger)
		if err != nil {
			logger.Warn("notification broker unavailable, continuing without it", zap.Error(err))
		} else {
			defer sink.Close()
			bus.Subscribe(sink.Handler())
			logger.Info("publishing notifications", zap.String("exchange", cfg.Notify.Exchange))
		}
	}

	engine := recovery.NewEngine(registry,
		recovery.WithPolicy(cfg.Policy()),
		recovery.WithPublisher(bus),
		recovery.WithLogger(logger))
	tracker := progress.NewTracker(s,
		progress.WithPerItemEstimate(cfg.Generation.PerItemEstimate),
		progress.WithLogger(logger))

	orch := orchestrator.New(orchestrator.Deps{
		Store:     s,
		Tracker:   tracker,
		Recovery:  engine,
		Generator: registry,
		Guard:     newGuard(cfg, s),
		Auditor:   audit.NewPDRWriter(s),
		Logger:    logger,
	})

	sched := scheduler.New(&cfg.Scheduler, logger)
	service := controlplane.NewService(s, orch, sched, logger)
	server := controlplane.NewServer(service, s, cfg.Server.Listen, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		if err != nil {
			logger.Warn("HTTP server shutdown error", zap.Error(err))
		}
		sched.Stop()
		return err
	})

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}

func openStore(cfg config.DatabaseConfig) (*store.Store, error) {
	if cfg.Driver == store.DriverSQLite {
		return store.New(cfg.DSN)
	}
	return store.Open(cfg.Driver, cfg.DSN)
}

func newProvider(settings connectors.Settings) (connectors.Provider, error) {
	switch strings.ToLower(settings.Kind) {
	case "openai":
		c, err := openai.New(settings)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "offline", "":
		return offline.New(), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", settings.Kind)
	}
}

// newGuard keeps run admission in memory for a single sqlite daemon and in
// the shared lock table when daemons share a postgres database.
func newGuard(cfg *config.Config, s *store.Store) runguard.Guard {
	if cfg.Database.Driver != store.DriverPostgres {
		return runguard.NewMemory()
	}
	hostname, _ := os.Hostname()
	holder := fmt.Sprintf("daemon@%s:%d", hostname, os.Getpid())
	return runguard.NewLocking(s, holder, cfg.Generation.LockTTL, store.ErrResourceLocked)
}
