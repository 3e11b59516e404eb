package interpreter

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loqalabs/loqa-interpreter/internal/protocol"
)

// Conn is the client transport. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// outbound serialises writes to the client. Once a write fails or the peer
// goes away, open flips to false for good and every later send is a no-op.
type outbound struct {
	conn         Conn
	writeTimeout time.Duration
	log          *slog.Logger
	mirror       func(protocol.SessionEvent)

	writeMu sync.Mutex
	open    atomic.Bool
}

func newOutbound(conn Conn, writeTimeout time.Duration, log *slog.Logger, mirror func(protocol.SessionEvent)) *outbound {
	o := &outbound{conn: conn, writeTimeout: writeTimeout, log: log, mirror: mirror}
	o.open.Store(true)
	return o
}

func (o *outbound) isOpen() bool {
	return o.open.Load()
}

// markClosed reports whether this call performed the transition.
func (o *outbound) markClosed() bool {
	return o.open.CompareAndSwap(true, false)
}

func (o *outbound) sendEvent(evt protocol.Event) {
	if !o.isOpen() {
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		o.log.Error("encode event failed", slog.String("type", evt.Type), slogError(err))
		return
	}
	if o.write(websocket.TextMessage, data) && o.mirror != nil {
		se := protocol.SessionEvent{Type: evt.Type, Text: evt.Text, Message: evt.Message}
		if evt.IsFinal != nil {
			se.Final = *evt.IsFinal
		}
		o.mirror(se)
	}
}

func (o *outbound) sendAudio(audio []byte) {
	if o.write(websocket.BinaryMessage, audio) && o.mirror != nil {
		o.mirror(protocol.SessionEvent{Type: protocol.TypeAudio, AudioBytes: len(audio)})
	}
}

func (o *outbound) write(messageType int, data []byte) bool {
	o.writeMu.Lock()
	defer o.writeMu.Unlock()
	if !o.isOpen() {
		return false
	}
	if o.writeTimeout > 0 {
		_ = o.conn.SetWriteDeadline(time.Now().Add(o.writeTimeout))
	}
	if err := o.conn.WriteMessage(messageType, data); err != nil {
		if o.markClosed() {
			o.log.Info("client connection lost", slogError(err))
		}
		return false
	}
	return true
}

// closeGracefully sends a close frame while the connection is still usable.
func (o *outbound) closeGracefully(code int, reason string) {
	o.writeMu.Lock()
	defer o.writeMu.Unlock()
	if !o.markClosed() {
		return
	}
	_ = o.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = o.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
}
