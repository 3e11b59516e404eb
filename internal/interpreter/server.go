package interpreter

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/loqalabs/loqa-interpreter/internal/config"
	"github.com/loqalabs/loqa-interpreter/internal/protocol"
	"golang.org/x/time/rate"
)

// Options wire a Server to its collaborators. Voices, Recorder and Observer
// are optional.
type Options struct {
	Config    config.Config
	Providers ProviderFactory
	Voices    VoiceLookup
	Recorder  Recorder
	Observer  Observer
	Logger    *slog.Logger
}

// Server accepts interpreting sessions over websockets.
type Server struct {
	cfg       config.Config
	providers ProviderFactory
	voices    VoiceLookup
	recorder  Recorder
	observer  Observer
	log       *slog.Logger
	metrics   *instruments
	upgrader  websocket.Upgrader
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
	active  atomic.Int64
}

func NewServer(opts Options) *Server {
	log := opts.Logger.With(slog.String("component", "interpreter"))
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       opts.Config,
		providers: opts.Providers,
		voices:    opts.Voices,
		recorder:  opts.Recorder,
		observer:  opts.Observer,
		log:       log,
		metrics:   newInstruments(log),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  16 * 1024,
		WriteBufferSize: 16 * 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return slices.Contains(s.cfg.HTTP.AllowedOrigins, "*") || slices.Contains(s.cfg.HTTP.AllowedOrigins, origin)
}

// ActiveSessions reports the number of live sessions.
func (s *Server) ActiveSessions() int {
	return int(s.active.Load())
}

// ServeHTTP upgrades the request and runs a session until it ends.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	providers, err := s.providers()
	if err != nil {
		s.log.Error("session rejected, providers unavailable", slogError(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(protocol.ErrorEvent(err.Error()))
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", slogError(err))
		_ = providers.close()
		return
	}
	s.Serve(conn, providers)
}

// Serve runs a session on an established connection. It owns conn and
// providers from here on.
func (s *Server) Serve(conn Conn, providers Providers) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = providers.close()
		_ = conn.Close()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	s.active.Add(1)
	defer s.active.Add(-1)

	s.newSession(conn, providers).Run(s.ctx)
}

func (s *Server) newSession(conn Conn, providers Providers) *Session {
	id := uuid.NewString()
	log := s.log.With(slog.String("session_id", id))
	sc := s.cfg.Session

	sess := &Session{
		id:                     id,
		cfg:                    sc,
		sampleRate:             s.cfg.STT.SampleRate,
		translateViaRecognizer: sc.TranslateViaRecognizer,
		providers:              providers,
		voices:                 s.voices,
		recorder:               s.recorder,
		nodeID:                 s.cfg.Node.ID,
		metrics:                s.metrics,
		log:                    log,
		now:                    s.now,
		conn:                   conn,
		acc:                    NewAccumulator(sc.TriggerChars),
		queue:                  NewCoalescingQueue(),
		consumerDone:           make(chan struct{}),
	}
	sess.settings = settings{SourceLang: sc.DefaultSourceLanguage, TargetLang: sc.DefaultTargetLanguage}
	if p, ok := ParseTTSProvider(sc.DefaultTTSProvider); ok {
		sess.settings.Provider = p
	}
	if sc.MaxAudioFramesPerSec > 0 {
		sess.limiter = rate.NewLimiter(rate.Limit(sc.MaxAudioFramesPerSec), sc.MaxAudioFramesPerSec)
	}
	sess.chain = &synthesisChain{
		clone:     providers.Clone,
		primary:   providers.Primary,
		secondary: providers.Secondary,
		metrics:   s.metrics,
		log:       log,
	}

	var mirror func(protocol.SessionEvent)
	if s.observer != nil {
		mirror = func(evt protocol.SessionEvent) {
			st := sess.snapshot()
			evt.SessionID = id
			evt.SourceLang = st.SourceLang
			evt.TargetLang = st.TargetLang
			s.observer.Observe(evt)
		}
	}
	sess.out = newOutbound(conn, time.Duration(sc.WriteTimeoutMS)*time.Millisecond, log, mirror)
	return sess
}

// Shutdown drains every live session, delivering pending work while clients
// are still connected, and waits for them or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
