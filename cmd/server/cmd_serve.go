package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lexiqai/clinic-gateway/internal/api"
	"github.com/lexiqai/clinic-gateway/internal/assistant"
	"github.com/lexiqai/clinic-gateway/internal/config"
	"github.com/lexiqai/clinic-gateway/internal/extraction"
	"github.com/lexiqai/clinic-gateway/internal/observability"
	"github.com/lexiqai/clinic-gateway/internal/resilience"
	"github.com/lexiqai/clinic-gateway/internal/transport"
	"github.com/lexiqai/clinic-gateway/internal/visits"
)

func newServeCommand() *cobra.Command {
	var promptsPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			observability.InitLogger(cfg.LogLevel, cfg.LogPretty)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, promptsPath)
		},
	}

	cmd.Flags().StringVar(&promptsPath, "prompts", config.GetEnv("PROMPTS_FILE", ""), "YAML file overriding the built-in extraction prompts (env PROMPTS_FILE)")
	return cmd
}

func loadPrompts(path string) (*assistant.Prompts, error) {
	if path == "" {
		return assistant.MustDefaultPrompts(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts: %w", err)
	}
	return assistant.LoadPrompts(data)
}

func newAssistant(cfg *config.Config, promptsPath string, logger zerolog.Logger) (*assistant.Service, error) {
	prompts, err := loadPrompts(promptsPath)
	if err != nil {
		return nil, err
	}
	var llm assistant.Completer
	if !cfg.DemoMode {
		llm = assistant.NewChatClient(cfg.LLMAPIURL, cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMTemperature)
	}
	return assistant.NewService(prompts, llm, cfg.DemoMode, logger), nil
}

func newExtractionClient(cfg *config.Config, logger zerolog.Logger) *extraction.Client {
	breaker := resilience.NewCircuitBreaker("extraction", cfg.CircuitBreakerMaxFailures, cfg.CircuitBreakerResetTimeout)
	breaker.OnStateChange(func(name string, state resilience.CircuitState) {
		logger.Warn().Str("breaker", name).Str("state", state.String()).Msg("Circuit breaker state changed")
	})
	return extraction.NewClient(cfg.ExtractionURL, cfg.ExtractionTimeout, breaker, logger)
}

func serve(ctx context.Context, cfg *config.Config, promptsPath string) error {
	logger := observability.GetLogger()
	logger.Info().
		Str("port", cfg.Port).
		Str("recognizer", cfg.RecognizerBackend).
		Str("extraction_url", cfg.ExtractionURL).
		Bool("demo_mode", cfg.DemoMode).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Clinic gateway starting")

	store, err := visits.OpenSQLite(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	visitSvc := visits.NewService(store, logger)
	assistantSvc, err := newAssistant(cfg, promptsPath, logger)
	if err != nil {
		return err
	}
	extractor := newExtractionClient(cfg, logger)

	mux := http.NewServeMux()
	api.RegisterRoutes(mux, api.NewHandlers(visitSvc, assistantSvc, logger))
	mux.Handle("/ws/capture", transport.NewHandler(cfg, visitSvc, extractor))

	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"database": func(ctx context.Context) (bool, error) {
			if err := visitSvc.Ping(ctx); err != nil {
				return false, err
			}
			return true, nil
		},
		"extraction": func(ctx context.Context) (bool, error) {
			if state := extractor.Breaker().GetState(); state == resilience.StateOpen {
				return false, fmt.Errorf("circuit %s", state)
			}
			return true, nil
		},
	}))

	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      api.CORSMiddleware(mux, cfg.AllowedOrigins...),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.ExtractionTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/ws/capture", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("Server exited gracefully")
	return nil
}
