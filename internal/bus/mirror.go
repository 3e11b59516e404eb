package bus

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/protocol"
)

// Mirror republishes outbound session events on the bus so caption
// dashboards can follow live sessions.
type Mirror struct {
	client *Client
	nodeID string
	log    *slog.Logger
	clock  func() time.Time
}

func NewMirror(client *Client, nodeID string, log *slog.Logger) *Mirror {
	return &Mirror{
		client: client,
		nodeID: nodeID,
		log:    log.With(slog.String("component", "bus.mirror")),
		clock:  time.Now,
	}
}

// Observe publishes one event. Failures are logged and never reach the session.
func (m *Mirror) Observe(evt protocol.SessionEvent) {
	if m == nil || m.client == nil {
		return
	}
	if evt.NodeID == "" {
		evt.NodeID = m.nodeID
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = m.clock().UTC()
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		m.log.Warn("encode session event failed", slog.String("error", err.Error()))
		return
	}
	if err := m.client.Publish(protocol.SessionSubject(evt.SessionID, evt.Type), payload); err != nil {
		m.log.Warn("publish session event failed",
			slog.String("session_id", evt.SessionID),
			slog.String("type", evt.Type),
			slog.String("error", err.Error()))
	}
}
