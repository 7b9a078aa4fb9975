// Command bridge runs the persona runtime bridge: it initializes the runtime
// pool from persona definitions, starts health probing, and serves the HTTP
// and realtime surfaces.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tiger/persona-bridge/internal/audit"
	"github.com/tiger/persona-bridge/internal/bridge/admission"
	"github.com/tiger/persona-bridge/internal/bridge/contracts"
	"github.com/tiger/persona-bridge/internal/bridge/enhance"
	"github.com/tiger/persona-bridge/internal/bridge/fallback"
	"github.com/tiger/persona-bridge/internal/bridge/health"
	"github.com/tiger/persona-bridge/internal/bridge/metrics"
	"github.com/tiger/persona-bridge/internal/bridge/pool"
	"github.com/tiger/persona-bridge/internal/bridge/router"
	"github.com/tiger/persona-bridge/internal/config"
	"github.com/tiger/persona-bridge/internal/persona"
	"github.com/tiger/persona-bridge/internal/realtime"
	"github.com/tiger/persona-bridge/internal/server"
	anthropicbackend "github.com/tiger/persona-bridge/providers/reasoning/anthropic"
	geminibackend "github.com/tiger/persona-bridge/providers/reasoning/gemini"
	openaibackend "github.com/tiger/persona-bridge/providers/reasoning/openai"
	pollyspeech "github.com/tiger/persona-bridge/providers/speech/polly"

	apibridge "github.com/tiger/persona-bridge/api/bridge"
)

func main() {
	root := &cobra.Command{
		Use:   "bridge",
		Short: "Persona runtime bridge",
		Long:  "bridge routes conversational requests to per-persona character runtimes with health-aware fallback.",
	}
	root.AddCommand(serveCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "bridge: %v\n", err)
		os.Exit(1)
	}
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the bridge server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func newLogger(level string) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	parsed, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	zapCfg.Level = parsed
	return zapCfg.Build()
}

// backendFactory builds one reasoning backend per persona for the pool.
func backendFactory(ctx context.Context, cfg config.Config) pool.Factory {
	return func(p persona.Config) (contracts.Backend, error) {
		switch cfg.Backend {
		case config.BackendAnthropic:
			return anthropicbackend.New(anthropicbackend.Options{
				APIKey: cfg.BackendCredential,
				Model:  cfg.BackendModel,
			}, p)
		case config.BackendOpenAI:
			return openaibackend.New(openaibackend.Options{
				APIKey: cfg.BackendCredential,
				Model:  cfg.BackendModel,
			}, p)
		case config.BackendGemini:
			return geminibackend.New(ctx, geminibackend.Options{
				APIKey: cfg.BackendCredential,
				Model:  cfg.BackendModel,
			}, p)
		default:
			return nil, fmt.Errorf("unsupported backend %q", cfg.Backend)
		}
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := persona.NewFileStore(cfg.PersonaDir)
	if err != nil {
		return fmt.Errorf("load personas: %w", err)
	}

	tracker := health.NewTracker(health.Config{
		DegradedThreshold:  cfg.DegradedThreshold,
		UnhealthyThreshold: cfg.UnhealthyThreshold,
		ProbeInterval:      cfg.HealthProbeInterval,
	}, logger)
	agg := metrics.NewAggregator(metrics.DefaultWindowSize)

	p := pool.New(store, backendFactory(ctx, cfg), tracker, logger)
	if err := p.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize runtime pool: %w", err)
	}
	defer p.Shutdown()

	gen := fallback.NewGenerator(func(id apibridge.PersonaID) string {
		if personaCfg, err := p.Config(id); err == nil {
			return personaCfg.Name
		}
		return ""
	})

	synth := pollyspeech.New(pollyspeech.Config{
		Region: cfg.VoiceRegion,
		Engine: cfg.VoiceEngine,
	})
	enhancer := enhance.New(synth, enhance.Config{Timeout: cfg.EnhanceTimeout}, logger)

	r := router.New(router.Config{DefaultTimeout: cfg.RequestTimeout},
		p, tracker, agg,
		admission.NewController(cfg.MaxConcurrentRequests, cfg.MaxPerPersona),
		gen, enhancer, logger)
	tracker.Start(ctx, r.Probe)

	var auditStore *audit.Store
	if cfg.AuditDB != "" {
		auditStore, err = audit.Open(cfg.AuditDB)
		if err != nil {
			return fmt.Errorf("open audit store: %w", err)
		}
		defer auditStore.Close()
	}

	sessions := realtime.NewTracker(nil)
	live := realtime.NewHandler(realtime.Config{IdleTimeout: cfg.IdleTimeout},
		r, sessions, tracker, agg, auditStore, logger)

	srv := server.New(server.Config{APIKey: cfg.APIKey},
		r, p, tracker, agg, sessions, live, auditStore, logger)
	srv.SetBaseContext(ctx)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("bridge listening",
			zap.String("addr", cfg.ListenAddr),
			zap.String("backend", string(cfg.Backend)),
			zap.Int("personas", len(p.Personas())))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	return nil
}
