// Package runtime assembles the daemon: telemetry, the bus, the speech
// engine, the conversion machinery, and the health endpoints, with shutdown
// in reverse order of startup.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vozlabs/voz-core/internal/bus"
	"github.com/vozlabs/voz-core/internal/capture"
	"github.com/vozlabs/voz-core/internal/config"
	"github.com/vozlabs/voz-core/internal/download"
	"github.com/vozlabs/voz-core/internal/engine"
	"github.com/vozlabs/voz-core/internal/history"
	"github.com/vozlabs/voz-core/internal/natsserver"
	"github.com/vozlabs/voz-core/internal/playback"
	"github.com/vozlabs/voz-core/internal/recorder"
	"github.com/vozlabs/voz-core/internal/service"
	"github.com/vozlabs/voz-core/internal/synth"
)

type Runtime struct {
	cfg            config.Config
	logger         *slog.Logger
	httpServer     *http.Server
	metricsServer  *http.Server
	telemetryClose func(context.Context) error
	ready          atomic.Bool
	wg             sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings every component up and blocks until ctx is canceled.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetryClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("start embedded bus: %w", err)
	}
	defer embedded.Shutdown()

	busCfg := r.cfg.Bus
	if embedded != nil && len(busCfg.Servers) == 0 {
		busCfg.Servers = []string{embedded.ClientURL()}
	}
	busClient, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}
	defer busClient.Close()

	hist, err := history.Open(ctx, r.cfg.History, r.logger)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer hist.Close()

	eng, err := engine.New(r.cfg.Engine)
	if err != nil {
		return fmt.Errorf("build speech engine: %w", err)
	}

	timeout := time.Duration(r.cfg.Synthesis.RequestTimeout) * time.Millisecond
	primary := synth.New(r.cfg.Synthesis.PrimaryEndpoint, r.cfg.Synthesis.APIKey,
		r.cfg.Synthesis.MaxChunkChars, timeout, r.logger)
	secondary := synth.New(r.cfg.Synthesis.SecondaryEndpoint, r.cfg.Synthesis.APIKey,
		r.cfg.Synthesis.MaxChunkChars, timeout, r.logger)

	pipeline := capture.New(synthTier(primary), eng, r.cfg.Capture, r.cfg.Engine.SampleRate, r.logger)
	downloads := download.New(synthTier(primary), synthTier(secondary), pipeline,
		r.cfg.Downloads.Directory, r.logger)

	var player *playback.Controller
	if r.cfg.Playback.Enabled {
		sink, err := playback.NewOtoSink(r.cfg.Playback.SampleRate, r.cfg.Playback.Channels)
		if err != nil {
			r.logger.Warn("host audio unavailable, playback disabled", slog.String("error", err.Error()))
		} else {
			defer sink.Close()
			hooks := service.PlaybackHooks(busClient, r.logger)
			player = playback.NewController(sink, eng, hooks, r.logger)
			defer player.Stop()
		}
	}

	monitor := recorder.NewOscillatorSource(r.cfg.Capture.OscillatorHz,
		r.cfg.Capture.OscillatorGain, r.cfg.Engine.SampleRate)
	// No host microphone capture; the monitor stream is the only source.
	media := recorder.New(monitor, nil, r.cfg.Recorder, r.logger)

	svc := service.New(ctx, r.cfg, busClient, pipeline, downloads, player, media, hist, r.logger)
	if err := svc.Start(); err != nil {
		return fmt.Errorf("start conversion service: %w", err)
	}
	defer svc.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.readyHandler(busClient, svc))

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

	if metricsHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.metricsServer != nil {
		if err := r.metricsServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if r.telemetryClose != nil {
		if err := r.telemetryClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// synthTier converts a possibly-nil client into a tier. A typed nil pointer
// must not leak into the interface or the nil checks downstream lie.
func synthTier(c *synth.Client) capture.Synthesizer {
	if c == nil {
		return nil
	}
	return c
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) readyHandler(busClient *bus.Client, svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if r.ready.Load() && busClient.Healthy() && svc.Healthy() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
	}
}
