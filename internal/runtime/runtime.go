package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/bus"
	"github.com/loqalabs/loqa-interpreter/internal/config"
	"github.com/loqalabs/loqa-interpreter/internal/eventstore"
	"github.com/loqalabs/loqa-interpreter/internal/fleet"
	"github.com/loqalabs/loqa-interpreter/internal/interpreter"
	"github.com/loqalabs/loqa-interpreter/internal/natsserver"
	"github.com/loqalabs/loqa-interpreter/internal/voices"
	"golang.org/x/sync/errgroup"
)

const serviceName = "interpreter-backend"

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger
	ready  atomic.Bool

	interp   *interpreter.Server
	fleet    *fleet.Registry
	bus      *bus.Client
	embedded *natsserver.EmbeddedServer
	events   *eventstore.Store
	voices   *voices.Store
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}()

	if err := r.openStores(ctx); err != nil {
		r.closeAll()
		return err
	}
	if err := r.joinBus(ctx); err != nil {
		r.closeAll()
		return err
	}

	opts := interpreter.Options{
		Config:    r.cfg,
		Providers: interpreter.NewProviderFactory(r.cfg, r.logger),
		Recorder:  r.events,
		Logger:    r.logger,
	}
	if r.voices != nil {
		opts.Voices = r.voices
	}
	if r.bus != nil {
		opts.Observer = bus.NewMirror(r.bus, r.cfg.Node.ID, r.logger)
	}
	r.interp = interpreter.NewServer(opts)

	if r.bus != nil {
		registry, err := fleet.NewRegistry(ctx, r.cfg.Node, fleet.ProvidersFromConfig(r.cfg), r.bus, r.interp.ActiveSessions, r.logger)
		if err != nil {
			r.closeAll()
			return fmt.Errorf("join fleet: %w", err)
		}
		r.fleet = registry
	}

	mux := r.routes(metricsHandler)
	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	servers := []*http.Server{httpServer}
	if bind := r.cfg.Telemetry.PrometheusBind; bind != "" && metricsHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		servers = append(servers, &http.Server{Addr: bind, Handler: metricsMux, ReadHeaderTimeout: 5 * time.Second})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		r.pruneLoop(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		r.ready.Store(false)
		r.logger.Info("runtime stopping")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := r.interp.Shutdown(shutdownCtx); err != nil {
			r.logger.Warn("sessions did not drain in time", slog.String("error", err.Error()))
		}
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				r.logger.Error("http shutdown error", slog.String("error", err.Error()))
			}
		}
		return nil
	})

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr), slog.Bool("bus", r.bus != nil))

	err = g.Wait()
	r.closeAll()
	return err
}

func (r *Runtime) openStores(ctx context.Context) error {
	events, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	r.events = events

	if r.cfg.Voices.Enabled {
		store, err := voices.Open(ctx, r.cfg.Voices.Path, r.logger)
		if err != nil {
			return fmt.Errorf("open voice profiles: %w", err)
		}
		r.voices = store
	}
	return nil
}

func (r *Runtime) joinBus(ctx context.Context) error {
	if !r.cfg.Bus.Enabled {
		return nil
	}
	busCfg := r.cfg.Bus
	embedded, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return err
	}
	r.embedded = embedded
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}

	client, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return err
	}
	r.bus = client
	return nil
}

// closeAll releases everything opened by Start, in reverse order.
func (r *Runtime) closeAll() {
	if r.fleet != nil {
		r.fleet.Close()
	}
	r.bus.Close()
	r.embedded.Shutdown()
	if r.voices != nil {
		if err := r.voices.Close(); err != nil {
			r.logger.Warn("voice store close failed", slog.String("error", err.Error()))
		}
	}
	if r.events != nil {
		if err := r.events.Close(); err != nil {
			r.logger.Warn("event store close failed", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.events.Prune(ctx); err != nil {
				r.logger.Warn("event store prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Runtime) routes(metricsHandler http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	if r.interp != nil {
		mux.Handle("/ws/translate", r.interp)
	}
	mux.HandleFunc("/health", r.handleServiceHealth)
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/fleet", r.handleFleet)
	if metricsHandler != nil && r.cfg.Telemetry.PrometheusBind == "" {
		mux.Handle("/metrics", metricsHandler)
	}
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (r *Runtime) handleServiceHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": serviceName})
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && (r.bus == nil || r.bus.Healthy()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleFleet(w http.ResponseWriter, _ *http.Request) {
	if r.fleet == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"type": "error", "message": "bus disabled"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": r.fleet.Nodes()})
}
