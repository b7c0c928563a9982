package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/giantswarm/mcp-oauth/storage/memory"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/teemow/mailbridge/internal/auth"
	"github.com/teemow/mailbridge/internal/gmail"
	"github.com/teemow/mailbridge/internal/google"
	"github.com/teemow/mailbridge/internal/instrumentation"
	"github.com/teemow/mailbridge/internal/logging"
	"github.com/teemow/mailbridge/internal/server"
)

func newServeCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the mailbridge HTTP API.

Routes:
  GET  /authorize          connect a Gmail mailbox through Google consent
  GET  /oauth2callback     OAuth redirect target
  GET  /session            session token for Authorization: Bearer use
  GET  /emails/latest      latest messages (optional ?q= Gmail search)
  GET  /emails/detail?id=  one message with its plain-text body
  POST /emails/send        send {"to", "subject", "body"}
  /mcp                     the same operations as MCP tools

Every flag can also be set with the environment variable named in its
description, or in a .env file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadServeConfig(v)
			if err != nil {
				return err
			}

			logger := logging.New(os.Stderr, cfg.LogFormat, cfg.Debug)
			slog.SetDefault(logger)

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return runServe(ctx, cfg, logger)
		},
	}

	addServeFlags(cmd.Flags(), v)
	return cmd
}

func runServe(ctx context.Context, cfg serveConfig, logger *slog.Logger) error {
	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version

	provider, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Warn("instrumentation shutdown failed", logging.Err(err))
		}
	}()
	metrics := provider.Metrics()

	var metricsServer *server.MetricsServer
	if cfg.MetricsEnabled && provider.Enabled() {
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    cfg.MetricsAddr,
			InstrumentationProvider: provider,
			Logger:                  logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
		if err := metricsServer.Listen(); err != nil {
			return fmt.Errorf("metrics server failed to start: %w", err)
		}
		go func() {
			if err := metricsServer.Serve(); err != nil {
				logger.Error("metrics server stopped", logging.Err(err))
			}
		}()
	}

	oauthConfig, err := google.LoadConfig(cfg.GoogleCredentials, cfg.RedirectURL)
	if err != nil {
		return err
	}

	secret := cfg.SessionSecret
	if len(secret) == 0 {
		logger.Warn("SESSION_SECRET is not set, using a random secret; sessions end when the process restarts")
		if secret, err = auth.RandomSecret(); err != nil {
			return err
		}
	}
	sessions, err := auth.NewSessions(secret, cfg.SessionTTL)
	if err != nil {
		return err
	}

	store := memory.New()
	defer store.Stop()

	sc := server.NewServerContext(ctx,
		google.NewCredentials(oauthConfig, store, metrics, logger),
		gmail.NewService(gmail.Config{
			BodyLimit: cfg.BodyLimit,
			Metrics:   metrics,
			Logger:    logger,
		}),
		auth.NewFlowStore(auth.DefaultFlowTTL, logger),
		sessions,
		metrics,
		logger,
	)

	srv := server.New(sc, server.Config{
		LatestCount:    cfg.LatestCount,
		SecureCookies:  cfg.SecureCookies,
		AuthRate:       rate.Limit(cfg.AuthRate),
		AuthBurst:      cfg.AuthBurst,
		TrustedProxies: cfg.TrustedProxies,
		Version:        version,
	})
	httpServer := srv.HTTPServer(fmt.Sprintf(":%d", cfg.Port))

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.ListenAndServe()
	}()
	logger.Info("mailbridge started",
		slog.String("addr", httpServer.Addr),
		slog.String("redirect_url", oauthConfig.RedirectURL),
		slog.String("version", version))

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			_ = srv.Close()
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping servers")
	}

	srv.Health().SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
	defer cancel()

	var errs []error
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shutdown http server: %w", err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown metrics server: %w", err))
		}
	}
	if err := srv.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
