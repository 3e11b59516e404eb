// Package fleet tracks relay nodes sharing a bus: each node announces the
// providers it serves and heartbeats its live session count.
package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/bus"
	"github.com/loqalabs/loqa-interpreter/internal/config"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	subjectAnnounce  = "interpreter.fleet.announce"
	subjectHeartbeat = "interpreter.fleet.heartbeat"
)

// Providers describes what a node relays through.
type Providers struct {
	Recognizer  string   `json:"recognizer"`
	Translator  string   `json:"translator"`
	Synthesizer []string `json:"synthesizer"`
	Cloning     bool     `json:"cloning"`
}

type Node struct {
	ID             string    `json:"id"`
	Providers      Providers `json:"providers"`
	ActiveSessions int       `json:"active_sessions"`
	LastSeen       time.Time `json:"last_seen"`
	Healthy        bool      `json:"healthy"`
}

type announceMessage struct {
	NodeID    string    `json:"node_id"`
	Providers Providers `json:"providers"`
	Timestamp time.Time `json:"timestamp"`
}

type heartbeatMessage struct {
	NodeID         string    `json:"node_id"`
	ActiveSessions int       `json:"active_sessions"`
	Timestamp      time.Time `json:"timestamp"`
}

// ProvidersFromConfig summarises the collaborators a node is configured with.
func ProvidersFromConfig(cfg config.Config) Providers {
	return Providers{
		Recognizer:  cfg.STT.Mode,
		Translator:  cfg.Translation.Mode,
		Synthesizer: []string{cfg.TTS.Primary, cfg.TTS.Secondary},
		Cloning:     cfg.TTS.ElevenLabs.Enabled && cfg.Voices.Enabled,
	}
}

type Registry struct {
	cfg       config.NodeConfig
	providers Providers
	sessions  func() int
	log       *slog.Logger
	conn      *nats.Conn
	clock     func() time.Time

	mu    sync.RWMutex
	nodes map[string]*Node

	cancel context.CancelFunc
	done   chan struct{}
	subs   []*nats.Subscription
}

// NewRegistry joins the fleet. sessions reports the local live session count.
func NewRegistry(ctx context.Context, cfg config.NodeConfig, providers Providers, client *bus.Client, sessions func() int, log *slog.Logger) (*Registry, error) {
	ctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		cfg:       cfg,
		providers: providers,
		sessions:  sessions,
		log:       log.With(slog.String("component", "fleet")),
		conn:      client.Conn(),
		clock:     time.Now,
		nodes:     make(map[string]*Node),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	if err := r.subscribe(); err != nil {
		cancel()
		return nil, err
	}

	if err := r.announce(); err != nil {
		r.log.Warn("failed to announce node", slog.String("error", err.Error()))
	}

	go r.run(ctx)
	return r, nil
}

// Close leaves the fleet and waits for the heartbeat loop to stop.
func (r *Registry) Close() {
	r.cancel()
	<-r.done
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
}

func (r *Registry) subscribe() error {
	announceSub, err := r.conn.Subscribe(subjectAnnounce, r.handleAnnounce)
	if err != nil {
		return fmt.Errorf("subscribe announce: %w", err)
	}
	r.subs = append(r.subs, announceSub)

	heartbeatSub, err := r.conn.Subscribe(subjectHeartbeat+".*", r.handleHeartbeat)
	if err != nil {
		return fmt.Errorf("subscribe heartbeat: %w", err)
	}
	r.subs = append(r.subs, heartbeatSub)
	return r.conn.Flush()
}

func (r *Registry) run(ctx context.Context) {
	defer close(r.done)
	heartbeat := time.NewTicker(time.Duration(r.cfg.HeartbeatInterval) * time.Millisecond)
	defer heartbeat.Stop()
	health := time.NewTicker(time.Second)
	defer health.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if err := r.publishHeartbeat(); err != nil {
				r.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
			}
		case <-health.C:
			r.evaluateHealth()
		}
	}
}

func (r *Registry) announce() error {
	msg := announceMessage{NodeID: r.cfg.ID, Providers: r.providers, Timestamp: r.clock().UTC()}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	r.updateNode(msg.NodeID, &msg.Providers, nil, msg.Timestamp)
	return r.conn.Publish(subjectAnnounce, payload)
}

func (r *Registry) publishHeartbeat() error {
	msg := heartbeatMessage{NodeID: r.cfg.ID, Timestamp: r.clock().UTC()}
	if r.sessions != nil {
		msg.ActiveSessions = r.sessions()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return r.conn.Publish(subjectHeartbeat+"."+r.cfg.ID, payload)
}

func (r *Registry) handleAnnounce(msg *nats.Msg) {
	var announcement announceMessage
	if err := json.Unmarshal(msg.Data, &announcement); err != nil {
		r.log.Warn("invalid announce message", slog.String("error", err.Error()))
		return
	}
	if announcement.NodeID == "" {
		return
	}
	if announcement.Timestamp.IsZero() {
		announcement.Timestamp = r.clock().UTC()
	}
	r.updateNode(announcement.NodeID, &announcement.Providers, nil, announcement.Timestamp)
}

func (r *Registry) handleHeartbeat(msg *nats.Msg) {
	var hb heartbeatMessage
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		r.log.Warn("invalid heartbeat message", slog.String("error", err.Error()))
		return
	}
	if hb.NodeID == "" {
		return
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = r.clock().UTC()
	}
	r.updateNode(hb.NodeID, nil, &hb.ActiveSessions, hb.Timestamp)
}

func (r *Registry) updateNode(nodeID string, providers *Providers, sessions *int, seen time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[nodeID]
	if !ok {
		node = &Node{ID: nodeID}
		r.nodes[nodeID] = node
	}
	if providers != nil {
		node.Providers = *providers
	}
	if sessions != nil {
		node.ActiveSessions = *sessions
	}
	node.LastSeen = seen
	node.Healthy = true
}

func (r *Registry) evaluateHealth() {
	r.mu.Lock()
	defer r.mu.Unlock()

	timeout := time.Duration(r.cfg.HeartbeatTimeout) * time.Millisecond
	now := r.clock()
	for _, node := range r.nodes {
		if now.Sub(node.LastSeen) > timeout {
			node.Healthy = false
		}
	}
}

// Nodes returns a snapshot of known nodes ordered by ID.
func (r *Registry) Nodes() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Node, 0, len(r.nodes))
	for _, node := range r.nodes {
		out = append(out, *node)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LeastLoaded returns the healthy node with the fewest live sessions.
func (r *Registry) LeastLoaded() (Node, bool) {
	var best Node
	found := false
	for _, node := range r.Nodes() {
		if !node.Healthy {
			continue
		}
		if !found || node.ActiveSessions < best.ActiveSessions {
			best = node
			found = true
		}
	}
	return best, found
}

func (r *Registry) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-interpreter/fleet")
	nodeGauge, err := meter.Int64ObservableGauge("interpreter.fleet.nodes", metric.WithDescription("Healthy relay nodes"))
	if err != nil {
		return err
	}
	sessionGauge, err := meter.Int64ObservableGauge("interpreter.fleet.sessions", metric.WithDescription("Live sessions across healthy relay nodes"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		nodes, sessions := r.snapshotCounts()
		obs.ObserveInt64(nodeGauge, nodes)
		obs.ObserveInt64(sessionGauge, sessions)
		return nil
	}, nodeGauge, sessionGauge)
	return err
}

func (r *Registry) snapshotCounts() (int64, int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var nodes, sessions int64
	for _, node := range r.nodes {
		if !node.Healthy {
			continue
		}
		nodes++
		sessions += int64(node.ActiveSessions)
	}
	return nodes, sessions
}
