package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/davidbz/promptlift/internal/cache/redis"
	"github.com/davidbz/promptlift/internal/config"
	"github.com/davidbz/promptlift/internal/domain"
	"github.com/davidbz/promptlift/internal/http"
	"github.com/davidbz/promptlift/internal/http/middleware"
	"github.com/davidbz/promptlift/internal/metrics"
	"github.com/davidbz/promptlift/internal/observability"
	"github.com/davidbz/promptlift/internal/provider/echo"
	"github.com/davidbz/promptlift/internal/provider/openai"
	"github.com/davidbz/promptlift/internal/registry"
)

func main() {
	container := buildContainer()

	err := container.Invoke(func(logger *zap.Logger, server *http.Server) error {
		defer func() { _ = logger.Sync() }()
		return run(server)
	})
	if err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}
}

// run serves until SIGINT or SIGTERM, then drains in-flight requests.
func run(server *http.Server) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		observability.FromContext(context.Background()).Info("received shutdown signal",
			observability.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), server.ShutdownTimeout())
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func buildContainer() *dig.Container {
	container := dig.New()

	// Configuration
	if err := container.Provide(config.Load); err != nil {
		log.Fatalf("Failed to provide config: %v", err)
	}
	if err := container.Provide(config.ParseDependenciesConfig); err != nil {
		log.Fatalf("Failed to provide config dependencies: %v", err)
	}

	// Observability
	if err := container.Provide(observability.InitLogger); err != nil {
		log.Fatalf("Failed to provide logger: %v", err)
	}
	if err := container.Provide(metrics.NewCollector); err != nil {
		log.Fatalf("Failed to provide metrics collector: %v", err)
	}
	if err := container.Provide(func(c *metrics.Collector) domain.Recorder { return c }); err != nil {
		log.Fatalf("Failed to provide pipeline recorder: %v", err)
	}
	if err := container.Provide(func(c *metrics.Collector) http.RequestRecorder { return c }); err != nil {
		log.Fatalf("Failed to provide request recorder: %v", err)
	}

	// Model Registry
	if err := container.Provide(provideModelResolver); err != nil {
		log.Fatalf("Failed to provide model registry: %v", err)
	}

	// Backend Provider
	if err := container.Provide(provideBackend); err != nil {
		log.Fatalf("Failed to provide backend provider: %v", err)
	}

	// Expansion Cache
	if err := container.Provide(provideExpansionCache); err != nil {
		log.Fatalf("Failed to provide expansion cache: %v", err)
	}

	// Domain Services
	if err := container.Provide(domain.NewPromptExpander); err != nil {
		log.Fatalf("Failed to provide prompt expander: %v", err)
	}
	if err := container.Provide(domain.NewGatewayService); err != nil {
		log.Fatalf("Failed to provide gateway service: %v", err)
	}

	// HTTP Layer
	if err := container.Provide(middleware.BuildMiddlewareChain); err != nil {
		log.Fatalf("Failed to provide middleware chain: %v", err)
	}
	if err := container.Provide(http.NewHandler); err != nil {
		log.Fatalf("Failed to provide HTTP handler: %v", err)
	}
	if err := container.Provide(http.NewServer); err != nil {
		log.Fatalf("Failed to provide HTTP server: %v", err)
	}

	return container
}

// provideModelResolver depends on the logger so that load messages use it.
func provideModelResolver(cfg *registry.Config, _ *zap.Logger) (domain.ModelResolver, error) {
	reg, err := registry.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load model registry: %w", err)
	}

	observability.FromContext(context.Background()).Info("model registry loaded",
		observability.Strings("allowed_models", reg.Allowed()),
		observability.String("default_model", reg.Default()),
	)

	return reg, nil
}

func provideBackend(cfg *config.BackendConfig, _ *zap.Logger) (domain.Provider, error) {
	logger := observability.FromContext(context.Background())

	switch cfg.Provider {
	case config.ProviderEcho:
		logger.Warn("using echo backend, responses are not generated by a model")
		return echo.NewProvider(), nil

	case config.ProviderOpenAI:
		provider, err := openai.NewProvider(cfg.OpenAI)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai provider: %w", err)
		}
		logger.Info("backend configured", observability.String("base_url", cfg.OpenAI.BaseURL))
		return provider, nil

	default:
		return nil, fmt.Errorf("unknown backend provider %q", cfg.Provider)
	}
}

// provideExpansionCache returns a nil cache when caching is disabled.
func provideExpansionCache(cfg *redis.Config, _ *zap.Logger) (domain.ExpansionCache, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cache, err := redis.NewExpansionCache(redis.NewClient(cfg))
	if err != nil {
		return nil, err
	}

	logger := observability.FromContext(context.Background())
	if err := cache.Ping(context.Background()); err != nil {
		// Lookups fail soft, so an unreachable Redis only costs cache hits.
		logger.Warn("expansion cache unreachable at startup", observability.Error(err))
	} else {
		logger.Info("expansion cache connected", observability.String("addr", cfg.Addr))
	}

	return cache, nil
}
