package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/microplan/internal/api"
	"github.com/ajitpratap0/microplan/internal/dashboard"
	"github.com/ajitpratap0/microplan/internal/intake"
	"github.com/ajitpratap0/microplan/internal/models"
	"github.com/ajitpratap0/microplan/internal/network"
	"github.com/ajitpratap0/microplan/internal/outbox"
	"github.com/ajitpratap0/microplan/internal/registry"
	"github.com/ajitpratap0/microplan/internal/stock"
	"github.com/ajitpratap0/microplan/internal/store"
)

func serveCmd() *cobra.Command {
	var retryEvery time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP/JSON API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			st, err := newStore(ctx, logger)
			if err != nil {
				return fmt.Errorf("serve: connecting to store: %w", err)
			}
			defer func() { _ = st.Close() }()

			repo, err := newNetworkRepository(ctx, logger)
			if err != nil {
				return fmt.Errorf("serve: connecting to neo4j: %w", err)
			}
			defer func() { _ = repo.Close(context.Background()) }()

			svc, err := newServices(ctx, st, repo, logger)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			go svc.Outbox.Watch(ctx)
			go retryLoop(ctx, svc.Outbox, retryEvery, logger)

			srv := api.NewServer(svc, logger, cfg.API.AuthToken)

			if cfg.API.AuthToken == "" {
				logger.Warn("HTTP API: auth is DISABLED; set MICROPLAN_API_AUTH_TOKEN or api.auth_token for production use")
			}

			httpSrv := &http.Server{
				Addr:              cfg.API.ListenAddr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       30 * time.Second,
				WriteTimeout:      60 * time.Second,
				IdleTimeout:       120 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("HTTP API server starting", "addr", cfg.API.ListenAddr, "store", cfg.Store.Driver)
				if listenErr := httpSrv.ListenAndServe(); listenErr != nil && listenErr != http.ErrServerClosed {
					errCh <- fmt.Errorf("serve: HTTP server: %w", listenErr)
				}
				close(errCh)
			}()

			select {
			case <-ctx.Done():
				logger.Info("shutting down")
			case startErr := <-errCh:
				if startErr != nil {
					return startErr
				}
				return nil
			}

			const shutdownTimeout = 10 * time.Second
			if shutdownErr := api.Shutdown(httpSrv, shutdownTimeout); shutdownErr != nil {
				return fmt.Errorf("serve: graceful shutdown: %w", shutdownErr)
			}

			// Drain the errCh in case ListenAndServe returned after Shutdown.
			if startErr := <-errCh; startErr != nil {
				return startErr
			}

			if n := svc.Outbox.Len(); n > 0 {
				logger.Warn("exiting with unsynced writes", "pending", n)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&retryEvery, "retry-every", time.Minute, "interval between outbox retry passes (0 disables)")
	return cmd
}

// newServices wires every API component over st and repo.
func newServices(ctx context.Context, st store.Store, repo network.Repository, logger *slog.Logger) (api.Services, error) {
	rec, err := newRecommender(ctx, logger)
	if err != nil {
		return api.Services{}, fmt.Errorf("configuring recommendations: %w", err)
	}
	cls := newClassifier(logger)
	notify := func(e *models.StoreError) {
		logger.Warn("write rejected by store; kept as unsynced", "path", e.Path)
	}
	return api.Services{
		Dashboard: dashboard.New(st, cls, cfg.Planning.StockLowRatio, logger),
		Intake:    intake.New(st, cls, rec, logger),
		Registry:  registry.New(st, newUINGenerator(logger), logger),
		Recommend: rec,
		Stock:     stock.NewLedger(st, cfg.Planning.StockLowRatio, logger),
		Network:   network.NewService(repo, logger),
		Outbox:    outbox.New(st, cfg.Planning.OutboxAttempts, notify, logger),
	}, nil
}

// retryLoop runs an outbox pass every interval while entries are pending and
// settles the last pass otherwise.
func retryLoop(ctx context.Context, ob *outbox.Outbox, every time.Duration, logger *slog.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ob.Len() == 0 {
				ob.Settle()
				continue
			}
			if _, err := ob.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("outbox retry pass failed", "error", err)
			}
		}
	}
}
