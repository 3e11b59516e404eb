// Package sse reads the data payloads of a server-sent event stream.
package sse

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"time"
)

// ErrIdleTimeout is returned when no event arrives within the idle window.
var ErrIdleTimeout = errors.New("sse: idle timeout waiting for event")

// Reader yields the data field of each event. Multi-line data fields are
// joined with newlines. A "[DONE]" payload ends the stream.
type Reader struct {
	r    *bufio.Reader
	done bool
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next data payload, or io.EOF when the stream is complete.
func (s *Reader) Next() (string, error) {
	if s.done {
		return "", io.EOF
	}
	var data []string
	for {
		line, err := s.r.ReadString('\n')
		if line != "" {
			line = strings.TrimRight(line, "\r\n")
			if line == "" {
				if len(data) > 0 {
					return s.finish(data)
				}
			} else if strings.HasPrefix(line, "data:") {
				data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(data) > 0 {
					return s.finish(data)
				}
				return "", io.EOF
			}
			return "", err
		}
	}
}

func (s *Reader) finish(data []string) (string, error) {
	payload := strings.Join(data, "\n")
	if strings.TrimSpace(payload) == "[DONE]" {
		s.done = true
		return "", io.EOF
	}
	return payload, nil
}

type result struct {
	payload string
	err     error
}

// Each calls fn for every payload until the stream ends. When idle is
// positive and no payload arrives within it, Each returns ErrIdleTimeout;
// the caller is expected to cancel the underlying request.
func (s *Reader) Each(idle time.Duration, fn func(string) error) error {
	if idle <= 0 {
		for {
			payload, err := s.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			if err := fn(payload); err != nil {
				return err
			}
		}
	}

	results := make(chan result)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			payload, err := s.Next()
			select {
			case results <- result{payload: payload, err: err}:
			case <-stop:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	timer := time.NewTimer(idle)
	defer timer.Stop()
	for {
		select {
		case res := <-results:
			if errors.Is(res.err, io.EOF) {
				return nil
			}
			if res.err != nil {
				return res.err
			}
			if err := fn(res.payload); err != nil {
				return err
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(idle)
		case <-timer.C:
			return ErrIdleTimeout
		}
	}
}
