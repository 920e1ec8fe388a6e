package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charla-io/charla/internal/bus"
	"github.com/charla-io/charla/internal/config"
	"github.com/charla-io/charla/internal/eventstore"
	"github.com/charla-io/charla/internal/llm"
	"github.com/charla-io/charla/internal/locale"
	"github.com/charla-io/charla/internal/natsserver"
	"github.com/charla-io/charla/internal/presence"
	"github.com/charla-io/charla/internal/router"
	"github.com/charla-io/charla/internal/stt"
	"github.com/charla-io/charla/internal/tts"
)

type service interface {
	Start() error
	Close()
	Healthy() bool
}

// Runtime assembles the voice-chat pipeline and owns its lifecycle.
type Runtime struct {
	cfg        config.Config
	logger     *slog.Logger
	httpServer *http.Server
	ready      atomic.Bool
	services   []service
	busClient  *bus.Client
	wg         sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	profile, known := locale.Lookup(r.cfg.Language)
	if !known {
		r.logger.Warn("configured language not supported, using english",
			slog.String("language", r.cfg.Language),
			slog.Any("supported", locale.Supported()))
	}
	r.logger.Info("language profile selected",
		slog.String("language", profile.Language),
		slog.String("code", profile.Code))

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		embedded.Shutdown()
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	r.busClient = busClient

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		busClient.Close()
		embedded.Shutdown()
		return fmt.Errorf("failed to open event store: %w", err)
	}

	registry, err := presence.NewRegistry(ctx, r.cfg.Device, busClient, r.logger)
	if err != nil {
		r.logger.Warn("presence registry unavailable", slog.String("error", err.Error()))
	}

	if err := r.startServices(ctx, profile, busClient, store, registry); err != nil {
		if registry != nil {
			registry.Close()
		}
		store.Close()
		busClient.Close()
		embedded.Shutdown()
		return err
	}

	r.startHTTP(metricsHandler)

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", r.httpServer.Addr),
		slog.String("language", profile.Language))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}

	for i := len(r.services) - 1; i >= 0; i-- {
		r.services[i].Close()
	}
	if registry != nil {
		registry.Close()
	}
	busClient.Close()
	embedded.Shutdown()
	if err := store.Close(); err != nil {
		r.logger.Error("event store close error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if err := shutdownTelemetry(shutdownCtx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}

	return nil
}

func (r *Runtime) startServices(ctx context.Context, profile locale.Profile, busClient *bus.Client, store *eventstore.Store, registry *presence.Registry) error {
	recognizer, err := r.buildRecognizer(profile)
	if err != nil {
		return err
	}
	generator, err := r.buildGenerator(ctx)
	if err != nil {
		return err
	}
	synth, err := r.buildSynthesizer()
	if err != nil {
		return err
	}

	ttsSvc, err := tts.NewService(ctx, r.cfg.TTS, busClient, synth, r.logger)
	if err != nil {
		return fmt.Errorf("failed to create tts service: %w", err)
	}

	var directory router.DeviceDirectory
	if registry != nil {
		directory = registry
	}
	r.services = []service{
		stt.NewService(ctx, r.cfg.STT, profile.Language, busClient, recognizer, r.logger),
		llm.NewService(ctx, r.cfg.LLM, profile.SystemPrompt, busClient, generator, r.logger),
		ttsSvc,
		router.NewService(ctx, r.cfg.Router, profile, busClient, store, directory, r.logger),
	}
	for _, svc := range r.services {
		if err := svc.Start(); err != nil {
			return fmt.Errorf("failed to start service: %w", err)
		}
	}
	return nil
}

func (r *Runtime) buildRecognizer(profile locale.Profile) (stt.Recognizer, error) {
	if r.cfg.STT.Mode == "exec" {
		recognizer, err := stt.NewExecRecognizer(r.cfg.STT, profile.Code)
		if err != nil {
			return nil, fmt.Errorf("failed to create stt backend: %w", err)
		}
		return recognizer, nil
	}
	return stt.NewMockRecognizer(), nil
}

func (r *Runtime) buildGenerator(ctx context.Context) (llm.Generator, error) {
	switch r.cfg.LLM.Mode {
	case "ollama":
		// Reachability is advisory: the model server may still be warming
		// up, and the pipeline degrades per request rather than refusing
		// to start.
		if err := llm.WaitReady(ctx, r.cfg.LLM.Endpoint, r.cfg.LLM.ConnectRetries, r.logger); err != nil {
			r.logger.Warn("continuing startup without ollama", slog.String("error", err.Error()))
		}
		return llm.NewOllamaGenerator(r.cfg.LLM.Endpoint, r.cfg.LLM.Model), nil
	case "exec":
		generator, err := llm.NewExecGenerator(r.cfg.LLM.Command)
		if err != nil {
			return nil, fmt.Errorf("failed to create llm backend: %w", err)
		}
		return generator, nil
	default:
		return llm.NewMockGenerator(), nil
	}
}

func (r *Runtime) buildSynthesizer() (tts.Synthesizer, error) {
	if r.cfg.TTS.Mode == "exec" {
		synth, err := tts.NewExecSynth(r.cfg.TTS.Command, r.cfg.TTS.SampleRate, r.cfg.TTS.Channels)
		if err != nil {
			return nil, fmt.Errorf("failed to create tts backend: %w", err)
		}
		return synth, nil
	}
	return tts.NewMockSynth(r.cfg.TTS.SampleRate, r.cfg.TTS.Channels), nil
}

func (r *Runtime) startHTTP(metricsHandler http.Handler) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !r.ready.Load() || !r.busClient.Healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	for _, svc := range r.services {
		if !svc.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
