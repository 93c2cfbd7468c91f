package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-billing/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-billing/internal/app"
	"github.com/odyssey-erp/odyssey-billing/internal/bills"
	"github.com/odyssey-erp/odyssey-billing/internal/directory"
	"github.com/odyssey-erp/odyssey-billing/internal/finderfees"
	"github.com/odyssey-erp/odyssey-billing/internal/numbering"
	"github.com/odyssey-erp/odyssey-billing/internal/observability"
	"github.com/odyssey-erp/odyssey-billing/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-billing/internal/platform/db"
	"github.com/odyssey-erp/odyssey-billing/internal/proposals"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
	"github.com/odyssey-erp/odyssey-billing/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	root := cli.NewRootCmd(cfg.RedisAddr)
	root.AddCommand(newServeCmd(cfg), newMigrateCmd(cfg))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newMigrateCmd(cfg *app.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := app.NewLogger(cfg)
			pool, err := db.New(cmd.Context(), cfg.PGDSN)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pool.Close()
			if err := db.Migrate(cmd.Context(), pool); err != nil {
				return err
			}
			logger.Info("migrations applied")
			return nil
		},
	}
}

func newServeCmd(cfg *app.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the billing HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *app.Config) error {
	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, db.WithMaxConns(cfg.PGMaxConns))
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, summary cache disabled", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		return fmt.Errorf("init job client: %w", err)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	policy, err := cfg.Policy()
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	numbers := numbering.NewGenerator(numbering.NewRepository(dbpool))

	directoryService := directory.NewService(directory.NewRepository(dbpool))

	proposalService := proposals.NewService(
		proposals.NewRepository(dbpool),
		directoryService,
		numbers,
		proposals.ServiceConfig{Policy: policy, NumberAttempts: cfg.NumberingMaxAttempts},
		logger,
	)

	billService := bills.NewService(
		bills.NewRepository(dbpool),
		proposalService,
		numbers,
		jobClient,
		idempotencyStore,
		bills.ServiceConfig{NumberAttempts: cfg.NumberingMaxAttempts},
		logger,
	)

	feeCache := finderfees.NewCache(redisClient, cfg.SummaryCacheTTL)
	if err := feeCache.ListenForInvalidation(ctx); err != nil {
		logger.Warn("finder fee cache listener", slog.Any("error", err))
	}
	feeService := finderfees.NewService(
		finderfees.NewRepository(dbpool),
		directoryService,
		feeCache,
		metrics.Jobs(),
		logger,
	)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		ProposalsHandler: proposals.NewHandler(logger, proposalService),
		BillsHandler:     bills.NewHandler(logger, billService),
		FinderFeeHandler: finderfees.NewHandler(logger, feeService),
		DirectoryHandler: directory.NewHandler(logger, directoryService),
		JobHandler:       jobs.NewHandler(inspector, logger),
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	return nil
}
