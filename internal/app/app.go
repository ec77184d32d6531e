package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/mvai/bracket_orchestrator/internal/cache"
	"github.com/mvai/bracket_orchestrator/internal/config"
	v1 "github.com/mvai/bracket_orchestrator/internal/controller/http/v1"
	"github.com/mvai/bracket_orchestrator/internal/credits"
	"github.com/mvai/bracket_orchestrator/internal/dispatch"
	"github.com/mvai/bracket_orchestrator/internal/events"
	"github.com/mvai/bracket_orchestrator/internal/exif"
	"github.com/mvai/bracket_orchestrator/internal/grouping"
	"github.com/mvai/bracket_orchestrator/internal/jobs"
	"github.com/mvai/bracket_orchestrator/internal/repository/postgresql"
	"github.com/mvai/bracket_orchestrator/internal/storage"
)

type App struct {
	log *slog.Logger
	cfg *config.Config
}

func New(log *slog.Logger, cfg *config.Config) *App {
	return &App{
		log: log,
		cfg: cfg,
	}
}

func (a *App) Run(ctx context.Context) error {
	a.log.InfoContext(ctx, "starting app",
		slog.String("dispatch_mode", a.cfg.App.DispatchMode),
		slog.Int64("dispatch_concurrency", a.cfg.Dispatch.Concurrency),
	)

	a.log.InfoContext(ctx, "establishing postgresql connection",
		slog.String("postgresql_host", a.cfg.PostgreSQL.Host),
		slog.String("postgresql_port", a.cfg.PostgreSQL.Port),
		slog.String("postgresql_dbname", a.cfg.PostgreSQL.DBName),
	)

	pool, err := postgresql.NewConnection(ctx, a.log, a.cfg.PostgreSQL)
	if err != nil {
		return fmt.Errorf("failed to create db connection: %w", err)
	}
	defer pool.Close()

	statusCache, err := cache.NewStatusCache(ctx, a.cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to create status cache: %w", err)
	}
	defer statusCache.Close()

	objectStorage, err := storage.NewClient(a.cfg.S3)
	if err != nil {
		return fmt.Errorf("failed to create object storage client: %w", err)
	}

	jobsRepository := postgresql.NewJobsRepository(pool)
	filesRepository := postgresql.NewFilesRepository(pool)
	groupsRepository := postgresql.NewGroupsRepository(pool)
	eventsRepository := postgresql.NewEventsRepository(pool)
	txManager := postgresql.NewTxManager(pool)

	bus := events.NewBus(a.log, eventsRepository)
	ledger := credits.NewClient(a.cfg.Ledger.BaseURL, a.cfg.Ledger.Timeout)
	provider := dispatch.NewHTTPProvider(a.cfg.Dispatch.ProviderURL, a.cfg.Dispatch.CallbackURL, a.cfg.Dispatch.CallTimeout)
	coordinator := dispatch.NewCoordinator(
		a.log,
		provider,
		semaphore.NewWeighted(a.cfg.Dispatch.Concurrency),
		a.cfg.Dispatch.Concurrency,
		a.cfg.Dispatch.CallTimeout,
		a.cfg.Dispatch.AlertPending,
		a.cfg.Dispatch.AlertETA,
	)
	extractor := exif.NewExtractor(a.log, objectStorage, filesRepository)
	engine := grouping.NewEngine(grouping.DefaultConfig())

	service := jobs.NewService(
		a.log,
		jobs.Config{
			MaxAttempts:  a.cfg.App.MaxGroupAttempts,
			DispatchMode: a.cfg.App.DispatchMode,
		},
		jobsRepository,
		filesRepository,
		groupsRepository,
		txManager,
		bus,
		ledger,
		coordinator,
		extractor,
		engine,
		objectStorage,
	)

	server := v1.NewServer(a.log, a.cfg.HTTP, service, statusCache, bus)

	erg, ctx := errgroup.WithContext(ctx)

	erg.Go(func() error {
		a.log.InfoContext(ctx, "starting http server",
			slog.String("addr", net.JoinHostPort(a.cfg.HTTP.Host, a.cfg.HTTP.Port)),
		)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server error: %w", err)
		}

		return nil
	})

	erg.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return server.Shutdown(shutdownCtx)
	})

	if err := erg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.log.ErrorContext(ctx, "app stopped with error", slog.String("err", err.Error()))

		return err
	}

	a.log.InfoContext(ctx, "app stopped gracefully")

	return nil
}
