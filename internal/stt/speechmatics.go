package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loqalabs/loqa-interpreter/internal/config"
	"github.com/loqalabs/loqa-interpreter/internal/lang"
)

const endOfStreamGrace = 500 * time.Millisecond

// Speechmatics implements Recognizer on the Speechmatics real-time API.
type Speechmatics struct {
	cfg    config.STTConfig
	dialer websocket.Dialer
	log    *slog.Logger
}

func NewSpeechmatics(cfg config.STTConfig, log *slog.Logger) (*Speechmatics, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("speechmatics api key is required")
	}
	if cfg.URL == "" {
		return nil, errors.New("speechmatics url is required")
	}
	return &Speechmatics{
		cfg: cfg,
		dialer: websocket.Dialer{
			HandshakeTimeout: time.Duration(cfg.HandshakeTimeoutMS) * time.Millisecond,
		},
		log: log.With(slog.String("component", "stt.speechmatics")),
	}, nil
}

type smStartRecognition struct {
	Message             string                `json:"message"`
	AudioFormat         smAudioFormat         `json:"audio_format"`
	TranscriptionConfig smTranscriptionConfig `json:"transcription_config"`
	TranslationConfig   *smTranslationConfig  `json:"translation_config,omitempty"`
}

type smAudioFormat struct {
	Type       string `json:"type"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

type smTranscriptionConfig struct {
	Language       string  `json:"language"`
	OperatingPoint string  `json:"operating_point,omitempty"`
	EnablePartials bool    `json:"enable_partials"`
	MaxDelay       float64 `json:"max_delay,omitempty"`
}

type smTranslationConfig struct {
	TargetLanguages []string `json:"target_languages"`
	EnablePartials  bool     `json:"enable_partials"`
}

type smMessage struct {
	Message  string `json:"message"`
	Reason   string `json:"reason,omitempty"`
	Type     string `json:"type,omitempty"`
	Language string `json:"language,omitempty"`
	Results  []struct {
		Content      string `json:"content,omitempty"`
		Alternatives []struct {
			Content string `json:"content"`
		} `json:"alternatives,omitempty"`
	} `json:"results,omitempty"`
}

func (m smMessage) transcriptText() string {
	words := make([]string, 0, len(m.Results))
	for _, r := range m.Results {
		if len(r.Alternatives) == 0 {
			continue
		}
		if c := r.Alternatives[0].Content; c != "" {
			words = append(words, c)
		}
	}
	return strings.Join(words, " ")
}

func (m smMessage) translationText() string {
	parts := make([]string, 0, len(m.Results))
	for _, r := range m.Results {
		if c := strings.TrimSpace(r.Content); c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, " ")
}

func (s *Speechmatics) Connect(ctx context.Context, opts Options) (Connection, error) {
	sampleRate := opts.SampleRate
	if sampleRate <= 0 {
		sampleRate = s.cfg.SampleRate
	}
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+s.cfg.APIKey)

	conn, resp, err := s.dialer.DialContext(ctx, s.cfg.URL, headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if len(body) > 0 {
				return nil, fmt.Errorf("speechmatics connect (status %d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("speechmatics connect: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("speechmatics connect: %w", err)
	}

	start := smStartRecognition{
		Message: "StartRecognition",
		AudioFormat: smAudioFormat{
			Type:       "raw",
			Encoding:   "pcm_s16le",
			SampleRate: sampleRate,
		},
		TranscriptionConfig: smTranscriptionConfig{
			Language:       lang.RecognizerCode(opts.Language),
			OperatingPoint: s.cfg.OperatingPoint,
			EnablePartials: true,
			MaxDelay:       s.cfg.MaxDelaySeconds,
		},
	}
	if target := lang.Normalize(opts.TargetLanguage); target != "" {
		start.TranslationConfig = &smTranslationConfig{
			TargetLanguages: []string{lang.RecognizerCode(target)},
			EnablePartials:  true,
		}
	}
	if err := conn.WriteJSON(start); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send start recognition: %w", err)
	}

	deadline := time.Now().Add(time.Duration(s.cfg.HandshakeTimeoutMS) * time.Millisecond)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)
	for {
		var ack smMessage
		if err := conn.ReadJSON(&ack); err != nil {
			conn.Close()
			return nil, fmt.Errorf("await recognition started: %w", err)
		}
		if ack.Message == "RecognitionStarted" {
			break
		}
		if ack.Message != "Info" && ack.Message != "Warning" {
			conn.Close()
			return nil, fmt.Errorf("failed to start recognition: %s %s", ack.Message, ack.Reason)
		}
	}
	_ = conn.SetReadDeadline(time.Time{})

	c := &smConnection{
		conn:   conn,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
		log:    s.log.With(slog.String("language", start.TranscriptionConfig.Language)),
	}
	c.connected.Store(true)
	go c.readLoop()
	c.log.Info("recognition started", slog.Bool("translation", start.TranslationConfig != nil))
	return c, nil
}

type smConnection struct {
	conn      *websocket.Conn
	events    chan Event
	done      chan struct{}
	stop      chan struct{}
	stopOnce  sync.Once
	connected atomic.Bool
	closed    atomic.Bool
	writeMu   sync.Mutex
	seqNo     atomic.Int64
	log       *slog.Logger
}

func (c *smConnection) readLoop() {
	defer func() {
		c.connected.Store(false)
		close(c.events)
		close(c.done)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn("recognizer read failed", slogError(err))
			}
			return
		}

		var msg smMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Debug("skipping undecodable recognizer message", slogError(err))
			continue
		}

		var ev Event
		switch msg.Message {
		case "AddPartialTranscript":
			ev = Event{Kind: EventTranscript, Text: msg.transcriptText()}
		case "AddTranscript":
			ev = Event{Kind: EventTranscript, Text: msg.transcriptText(), Final: true}
		case "AddPartialTranslation":
			ev = Event{Kind: EventTranslation, Text: msg.translationText()}
		case "AddTranslation":
			ev = Event{Kind: EventTranslation, Text: msg.translationText(), Final: true}
		case "EndOfTranscript":
			c.log.Info("end of transcript")
			return
		case "Error":
			c.log.Error("recognizer error", slog.String("type", msg.Type), slog.String("reason", msg.Reason))
			continue
		default:
			continue
		}
		if ev.Text == "" {
			continue
		}
		select {
		case c.events <- ev:
		case <-c.stop:
			return
		}
	}
}

func (c *smConnection) SendAudio(pcm []byte) error {
	if c.closed.Load() || !c.connected.Load() {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
		c.connected.Store(false)
		return fmt.Errorf("send audio: %w", err)
	}
	c.seqNo.Add(1)
	return nil
}

func (c *smConnection) Events() <-chan Event {
	return c.events
}

func (c *smConnection) Connected() bool {
	return c.connected.Load()
}

// Close sends EndOfStream, waits briefly for the recognizer to finish and
// then tears the socket down. It is safe to call more than once.
func (c *smConnection) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	var errs []error
	if c.connected.Load() {
		c.writeMu.Lock()
		err := c.conn.WriteJSON(map[string]any{"message": "EndOfStream", "last_seq_no": c.seqNo.Load()})
		c.writeMu.Unlock()
		if err != nil {
			errs = append(errs, fmt.Errorf("send end of stream: %w", err))
		} else {
			select {
			case <-c.done:
			case <-time.After(endOfStreamGrace):
			}
		}
	}
	c.stopOnce.Do(func() { close(c.stop) })
	if err := c.conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close recognizer socket: %w", err))
	}
	<-c.done
	return errors.Join(errs...)
}
