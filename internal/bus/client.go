package bus

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/config"
	"github.com/loqalabs/loqa-interpreter/internal/protocol"
	"github.com/nats-io/nats.go"
)

// SessionStream is the JetStream stream that retains mirrored session events.
const SessionStream = "INTERPRETER_SESSIONS"

// Client wraps NATS connection and JetStream context with minimal helpers.
type Client struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	log  *slog.Logger
}

func Connect(ctx context.Context, cfg config.BusConfig, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}
	log = log.With(slog.String("component", "bus"))

	options := []nats.Option{
		nats.Name("loqa-interpreter"),
		nats.Timeout(time.Duration(cfg.ConnectTimeout) * time.Millisecond),
	}

	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}
	if cfg.TLSInsecure {
		options = append(options, nats.Secure(&tls.Config{InsecureSkipVerify: true}))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	c := &Client{conn: conn, log: log}
	if cfg.Persist {
		js, err := conn.JetStream(nats.Context(ctx))
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("create jetstream context: %w", err)
		}
		c.js = js
		if err := c.ensureSessionStream(time.Duration(cfg.StreamMaxAgeMS) * time.Millisecond); err != nil {
			conn.Close()
			return nil, err
		}
	}

	log.Info("connected to NATS", slog.String("servers", url), slog.Bool("persist", cfg.Persist))
	return c, nil
}

func (c *Client) ensureSessionStream(maxAge time.Duration) error {
	streamCfg := &nats.StreamConfig{
		Name:     SessionStream,
		Subjects: []string{protocol.SubjectSessionAll},
		Storage:  nats.FileStorage,
		MaxAge:   maxAge,
	}
	if _, err := c.js.StreamInfo(SessionStream); err == nil {
		if _, err := c.js.UpdateStream(streamCfg); err != nil {
			return fmt.Errorf("update session stream: %w", err)
		}
		return nil
	} else if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("lookup session stream: %w", err)
	}
	if _, err := c.js.AddStream(streamCfg); err != nil {
		return fmt.Errorf("create session stream: %w", err)
	}
	return nil
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	c.log.Info("closing NATS connection")
	c.conn.Drain()
	c.conn.Close()
}

func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

func (c *Client) Conn() *nats.Conn {
	return c.conn
}

// Publish sends payload on subject, through JetStream when session events are persisted.
func (c *Client) Publish(subject string, payload []byte) error {
	if c.js != nil {
		_, err := c.js.PublishAsync(subject, payload)
		return err
	}
	return c.conn.Publish(subject, payload)
}
