package interpreter

import (
	"strings"
	"sync"
	"unicode/utf8"
)

const sentenceTerminators = ".!?。！？"

func endsWithTerminator(text string) bool {
	text = strings.TrimRight(text, " \t\r\n")
	if text == "" {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(text)
	return strings.ContainsRune(sentenceTerminators, r)
}

// Accumulator buffers final transcript fragments until there is enough text
// to be worth translating.
type Accumulator struct {
	threshold int

	mu      sync.Mutex
	pending string
}

func NewAccumulator(threshold int) *Accumulator {
	return &Accumulator{threshold: threshold}
}

// Add appends a final fragment. It returns the flushed text and true once the
// buffer is longer than the threshold or ends a sentence.
func (a *Accumulator) Add(fragment string) (string, bool) {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return "", false
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending += " " + fragment
	if utf8.RuneCountInString(a.pending) > a.threshold || endsWithTerminator(a.pending) {
		return a.flushLocked()
	}
	return "", false
}

// Flush empties the buffer, returning its trimmed contents if any.
func (a *Accumulator) Flush() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flushLocked()
}

func (a *Accumulator) flushLocked() (string, bool) {
	text := strings.TrimSpace(a.pending)
	a.pending = ""
	return text, text != ""
}

func (a *Accumulator) Reset() {
	a.mu.Lock()
	a.pending = ""
	a.mu.Unlock()
}

func (a *Accumulator) Pending() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return strings.TrimSpace(a.pending)
}
