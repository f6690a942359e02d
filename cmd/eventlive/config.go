package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/eventlive/internal/api"
	"github.com/haasonsaas/eventlive/internal/config"
	"github.com/haasonsaas/eventlive/internal/credentials"
	"github.com/haasonsaas/eventlive/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

const defaultConfigFile = "eventlive.yaml"

// resolveConfigPath picks the configuration file: the flag, then
// EVENTLIVE_CONFIG, then eventlive.yaml in the working directory. An empty
// result means built-in defaults.
func resolveConfigPath(path string) string {
	if path = strings.TrimSpace(path); path != "" {
		return path
	}
	if env := strings.TrimSpace(os.Getenv(config.EnvConfigPath)); env != "" {
		return env
	}
	if _, err := os.Stat(defaultConfigFile); err == nil {
		return defaultConfigFile
	}
	return ""
}

// expandHome replaces a leading ~/ with the user's home directory.
func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// cliRuntime bundles the collaborators a command needs.
type cliRuntime struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    credentials.Store
	client   *api.Client
	registry *prometheus.Registry
	metrics  *observability.Metrics
	tracer   *observability.Tracer

	closers []func(context.Context) error
}

// openRuntime loads configuration and builds the logger, credential store,
// telemetry and API client.
func openRuntime(cmd *cobra.Command) (*cliRuntime, error) {
	cfg, err := config.Load(resolveConfigPath(configPath))
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	rt := &cliRuntime{cfg: cfg}
	rt.logger = observability.NewLogger(observability.LogConfig{
		Level:          cfg.Logging.Level,
		Format:         cfg.Logging.Format,
		Output:         cmd.ErrOrStderr(),
		AddSource:      cfg.Logging.AddSource,
		RedactPatterns: cfg.Logging.RedactPatterns,
	})
	slog.SetDefault(rt.logger)

	rt.registry = prometheus.NewRegistry()
	rt.metrics = observability.NewMetrics(rt.registry)

	traceCfg := observability.TraceConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Attributes:     cfg.Tracing.Attributes,
		EnableInsecure: cfg.Tracing.Insecure,
	}
	if cfg.Tracing.Enabled {
		traceCfg.Endpoint = cfg.Tracing.Endpoint
	}
	tracer, shutdown := observability.NewTracer(traceCfg)
	rt.tracer = tracer
	rt.closers = append(rt.closers, shutdown)

	store, err := openStore(cmd.Context(), cfg.Credentials, rt.logger)
	if err != nil {
		rt.Close(cmd.Context())
		return nil, err
	}
	rt.store = store
	if closer, ok := store.(io.Closer); ok {
		rt.closers = append(rt.closers, func(context.Context) error { return closer.Close() })
	}

	client, err := api.NewClient(api.Config{
		BaseURL:  cfg.API.BaseURL,
		Store:    store,
		Timeout:  cfg.API.Timeout,
		PageSize: cfg.API.PageSize,
		Logger:   rt.logger,
		Metrics:  rt.metrics,
		Tracer:   rt.tracer,
	})
	if err != nil {
		rt.Close(cmd.Context())
		return nil, err
	}
	rt.client = client
	return rt, nil
}

// Close releases the store and flushes telemetry, newest first.
func (r *cliRuntime) Close(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](ctx); err != nil && r.logger != nil {
			r.logger.Warn("shutdown step failed", "error", err)
		}
	}
	r.closers = nil
}

func openStore(ctx context.Context, cfg config.CredentialsConfig, logger *slog.Logger) (credentials.Store, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	switch cfg.Backend {
	case "memory":
		return credentials.NewMemoryStore(), nil
	case "sqlite":
		path, err := expandHome(cfg.Path)
		if err != nil {
			return nil, err
		}
		store, err := credentials.OpenSQLStore(ctx, path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "file":
		path, err := expandHome(cfg.Path)
		if err != nil {
			return nil, err
		}
		return credentials.NewFileStore(path, logger), nil
	default:
		return nil, fmt.Errorf("unknown credentials backend %q", cfg.Backend)
	}
}

// explain turns well-known API errors into actionable messages.
func explain(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, api.ErrSessionExpired), errors.Is(err, api.ErrUnauthorized):
		return fmt.Errorf("%w (run `eventlive login`)", err)
	default:
		return err
	}
}
