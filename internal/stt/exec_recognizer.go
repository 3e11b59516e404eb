package stt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/loqalabs/loqa-interpreter/internal/config"
	"github.com/loqalabs/loqa-interpreter/internal/lang"
	"github.com/mattn/go-shellwords"
)

// ExecRecognizer runs a local speech-to-text command over fixed windows of
// buffered audio. Each window yields one final transcript.
type ExecRecognizer struct {
	cmd []string
	cfg config.STTConfig
	log *slog.Logger
}

type execResult struct {
	Text string `json:"text"`
}

func NewExecRecognizer(cfg config.STTConfig, log *slog.Logger) (*ExecRecognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	return &ExecRecognizer{cmd: args, cfg: cfg, log: log.With(slog.String("component", "stt.exec"))}, nil
}

func (r *ExecRecognizer) Connect(ctx context.Context, opts Options) (Connection, error) {
	sampleRate := opts.SampleRate
	if sampleRate <= 0 {
		sampleRate = r.cfg.SampleRate
	}
	window := sampleRate * 2 * r.cfg.WindowMS / 1000
	if window <= 0 {
		return nil, fmt.Errorf("invalid stt window")
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &execConnection{
		rec:        r,
		language:   lang.Normalize(opts.Language),
		sampleRate: sampleRate,
		window:     window,
		events:     make(chan Event, 16),
		chunks:     make(chan []byte, 4),
		ctx:        runCtx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	c.connected.Store(true)
	go c.run()
	return c, nil
}

type execConnection struct {
	rec        *ExecRecognizer
	language   string
	sampleRate int
	window     int

	mu     sync.Mutex
	buffer []byte

	events    chan Event
	chunks    chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	connected atomic.Bool
	closeOnce sync.Once
}

func (c *execConnection) SendAudio(pcm []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected.Load() {
		return ErrNotConnected
	}
	c.buffer = append(c.buffer, pcm...)
	if len(c.buffer) < c.window {
		return nil
	}
	chunk := c.buffer
	c.buffer = nil

	select {
	case c.chunks <- chunk:
	default:
		c.rec.log.Warn("stt command backlog full, dropping audio window", slog.Int("bytes", len(chunk)))
	}
	return nil
}

func (c *execConnection) run() {
	defer func() {
		c.connected.Store(false)
		close(c.events)
		close(c.done)
	}()
	for {
		select {
		case <-c.ctx.Done():
			return
		case chunk, ok := <-c.chunks:
			if !ok {
				return
			}
			text, err := c.rec.transcribe(c.ctx, chunk, c.sampleRate, c.language)
			if err != nil {
				c.rec.log.Warn("stt command failed", slogError(err))
				continue
			}
			if text == "" {
				continue
			}
			select {
			case c.events <- Event{Kind: EventTranscript, Text: text, Final: true}:
			case <-c.ctx.Done():
				return
			}
		}
	}
}

func (c *execConnection) Events() <-chan Event {
	return c.events
}

func (c *execConnection) Connected() bool {
	return c.connected.Load()
}

// Close transcribes whatever is still buffered before stopping.
func (c *execConnection) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.connected.Store(false)
		if len(c.buffer) > 0 {
			select {
			case c.chunks <- c.buffer:
			default:
			}
			c.buffer = nil
		}
		close(c.chunks)
		c.mu.Unlock()

		select {
		case <-c.done:
		case <-time.After(time.Duration(c.rec.cfg.WindowMS) * time.Millisecond):
			c.cancel()
			<-c.done
		}
		c.cancel()
	})
	return nil
}

func (r *ExecRecognizer) transcribe(ctx context.Context, pcm []byte, sampleRate int, language string) (string, error) {
	file, err := os.CreateTemp(os.TempDir(), "loqa_stt_*.wav")
	if err != nil {
		return "", fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := writePCMToWav(file, pcm, sampleRate, 1); err != nil {
		return "", err
	}

	args := append([]string{}, r.cmd[1:]...)
	args = append(args, "--audio", file.Name())
	if language != "" {
		args = append(args, "--language", language)
	}

	command := exec.CommandContext(ctx, r.cmd[0], args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("stt command failed: %w: %s", err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return "", fmt.Errorf("decode stt response: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

func writePCMToWav(file *os.File, pcm []byte, sampleRate int, channels int) error {
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	buffer := &audio.IntBuffer{Format: &audio.Format{NumChannels: channels, SampleRate: sampleRate}}
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer.Data = samples

	enc := wav.NewEncoder(file, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
