package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"

	router "github.com/dkeye/concort/internal/adapters/http"
	"github.com/dkeye/concort/internal/adapters/signal"
	"github.com/dkeye/concort/internal/app"
	"github.com/dkeye/concort/internal/auth"
)

const shutdownTimeout = 5 * time.Second

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), rootOpts)
		},
	}
}

func runServe(ctx context.Context, rootOpts *RootOptions) error {
	cfg := rootOpts.cfg

	store, err := openStore(rootOpts)
	if err != nil {
		return err
	}
	defer store.Close()

	tokens, err := auth.NewTokens(cfg.Secret, cfg.TokenTTL)
	if err != nil {
		return err
	}

	clock := app.NewStamper(nil)
	broadcaster := &app.Broadcaster{
		Store:           store,
		Identity:        tokens,
		Registry:        app.NewRegistry(),
		Policy:          app.PolicyByName(cfg.Backpressure),
		Clock:           clock,
		Limiter:         app.NewRateLimiter(cfg.RateLimit, cfg.RateInterval),
		DeliveryTimeout: cfg.DeliveryTimeout,
	}
	engine := app.NewEngine(store, clock,
		app.WithNotifier(broadcaster),
		app.WithDebounce(cfg.QueueDebounce),
	)
	chat := signal.NewChatWSController(broadcaster, signal.ConnOptions{
		ReadLimit:    cfg.ReadLimit,
		PingPeriod:   cfg.PingPeriod,
		WriteTimeout: cfg.WriteTimeout,
		SendBuffer:   cfg.SendBuffer,
	}, cfg.AllowedOrigins)

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Engine:      engine,
		Broadcaster: broadcaster,
		Tokens:      tokens,
		Chat:        chat,
	})

	corsOpts := cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Admin-Token"},
		AllowCredentials: true,
	}
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           cors.New(corsOpts).Handler(r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("concort server starting")
	if err := serveHTTP(ctx, srv, srv.ListenAndServe, engine.Run); err != nil {
		return err
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}

// serveHTTP runs listen and background until ctx ends or listen fails, then
// shuts srv down and waits for both. A listener failure is returned.
func serveHTTP(ctx context.Context, srv *http.Server, listen func() error, background func(context.Context)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serveErr := make(chan error, 1)
	var wg conc.WaitGroup
	wg.Go(func() { background(ctx) })
	wg.Go(func() {
		if err := listen(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	})

	var err error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	case err = <-serveErr:
		log.Error().Err(err).Msg("server error")
		err = fmt.Errorf("serve %s: %w", srv.Addr, err)
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Error().Err(shutdownErr).Msg("Server forced to shutdown")
	}
	wg.Wait()
	return err
}
