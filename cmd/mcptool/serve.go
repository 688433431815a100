package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hualong-shen/mcp-go/pkg/auth"
	"github.com/hualong-shen/mcp-go/pkg/logging"
	"github.com/hualong-shen/mcp-go/pkg/observability"
	"github.com/hualong-shen/mcp-go/pkg/server"
	"github.com/hualong-shen/mcp-go/pkg/transport"
)

func newServeCmd() *cobra.Command {
	var (
		configPath    string
		listen        string
		transportKind string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP tool server",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := LoadConfig(configPath)
			if err != nil {
				return err
			}
			if listen != "" {
				config.Server.Listen = listen
			}
			return runServe(cmd.Context(), config, transportKind)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (overrides config)")
	cmd.Flags().StringVarP(&transportKind, "transport", "t", "http", "transport to serve on: http or stdio")
	return cmd
}

func runServe(ctx context.Context, config Config, transportKind string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := config.buildLogger()
	if err != nil {
		return err
	}

	var metrics *observability.Metrics
	if config.Metrics.Enabled {
		metrics, err = observability.NewMetrics(observability.MetricsConfig{
			ServiceName:    config.Server.Name,
			ServiceVersion: config.Server.Version,
		})
		if err != nil {
			return err
		}
	}

	tracing, err := observability.NewTracing(ctx, config.tracingConfig())
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown", logging.Err(err))
		}
	}()

	srv := server.New(
		server.WithName(config.Server.Name),
		server.WithVersion(config.Server.Version),
		server.WithInstructions(config.Server.Instructions),
		server.WithLogger(logger),
		server.WithMetrics(metrics),
		server.WithTracing(tracing),
	)
	if err := registerBuiltinTools(srv.Registry()); err != nil {
		return err
	}

	switch transportKind {
	case "stdio":
		return serveStdio(ctx, srv, logger)
	case "http":
		return serveHTTP(ctx, config, srv, logger, metrics)
	default:
		return errors.New("unknown transport: " + transportKind)
	}
}

func serveStdio(ctx context.Context, srv *server.Server, logger logging.Logger) error {
	cfg := transport.DefaultConfig(transport.KindStdio)
	cfg.Logger = logger
	t, err := transport.New(cfg)
	if err != nil {
		return err
	}

	srv.Connect(t)
	logger.Info("serving on stdio")
	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func serveHTTP(ctx context.Context, config Config, srv *server.Server, logger logging.Logger, metrics *observability.Metrics) error {
	handlerOpts := []server.HTTPOption{
		server.WithAllowedOrigins(config.Server.AllowedOrigins),
		server.WithSessionTTL(config.Server.SessionTTL),
		server.WithHeartbeatInterval(config.Server.HeartbeatInterval),
	}
	if metrics != nil {
		handlerOpts = append(handlerOpts, server.WithHandlerMetrics(metrics))
	}
	handler := server.NewHTTPHandler(srv, handlerOpts...)
	defer handler.Close()

	router := chi.NewRouter()
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(logging.HTTPMiddleware(logger))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if metrics != nil {
		router.Handle("/metrics", metrics.Handler())
	}

	var mcpHandler http.Handler = handler
	if providers := authProviders(config.Auth); len(providers) > 0 {
		mcpHandler = auth.Middleware(providers...)(mcpHandler)
	}
	router.Handle(config.Server.Path, mcpHandler)

	httpServer := &http.Server{
		Addr:              config.Server.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("serving",
			logging.String("addr", config.Server.Listen),
			logging.String("path", config.Server.Path))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

func authProviders(config AuthConfig) []auth.Provider {
	var providers []auth.Provider
	if len(config.BearerTokens) > 0 {
		bp := auth.NewBearerProvider()
		for _, cred := range config.BearerTokens {
			bp.AddToken(cred.Secret, &auth.Principal{ID: cred.ID, Name: cred.Name, Scopes: cred.Scopes})
		}
		providers = append(providers, bp)
	}
	if len(config.APIKeys) > 0 {
		ap := auth.NewAPIKeyProvider()
		for _, cred := range config.APIKeys {
			ap.AddKey(cred.Secret, &auth.Principal{ID: cred.ID, Name: cred.Name, Scopes: cred.Scopes})
		}
		providers = append(providers, ap)
	}
	return providers
}
