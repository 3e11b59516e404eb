package interpreter

import (
	"testing"
	"time"
)

func TestDeltaNormalizerSnapshots(t *testing.T) {
	var d DeltaNormalizer
	want := []string{"Hola", " mundo", ""}
	for i, chunk := range []string{"Hola", "Hola mundo", "Hola mundo"} {
		if got := d.Push(chunk); got != want[i] {
			t.Fatalf("chunk %d: delta %q, want %q", i, got, want[i])
		}
	}
	if d.Text() != "Hola mundo" {
		t.Fatalf("unexpected text %q", d.Text())
	}
}

func TestDeltaNormalizerSuffixStream(t *testing.T) {
	var d DeltaNormalizer
	for _, chunk := range []string{"Buenos", " días", " a", " todos"} {
		d.Push(chunk)
	}
	if d.Text() != "Buenos días a todos" {
		t.Fatalf("unexpected text %q", d.Text())
	}
}

func TestDeltaNormalizerIgnoresContainedPrefix(t *testing.T) {
	var d DeltaNormalizer
	d.Push("Hola mundo")
	if got := d.Push("Hola"); got != "" {
		t.Fatalf("expected no delta for a prefix, got %q", got)
	}
	if d.Text() != "Hola mundo" {
		t.Fatalf("text changed: %q", d.Text())
	}
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestThrottleFirstChunkAlwaysEmits(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	th := newPartialThrottle(12, 300*time.Millisecond, clock.Now)
	if !th.Allow("Ho") {
		t.Fatal("expected first chunk to emit")
	}
}

func TestThrottleDeltaIntervalAndTerminator(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	th := newPartialThrottle(12, 300*time.Millisecond, clock.Now)
	th.Allow("Buenos")

	clock.Advance(50 * time.Millisecond)
	if th.Allow("Buenos días") {
		t.Fatal("small delta inside interval must be held back")
	}
	if !th.Allow("Buenos días a todos ustedes") {
		t.Fatal("delta of at least 12 runes must emit")
	}

	clock.Advance(50 * time.Millisecond)
	if th.Allow("Buenos días a todos ustedes, ") {
		t.Fatal("expected hold")
	}
	clock.Advance(300 * time.Millisecond)
	if !th.Allow("Buenos días a todos ustedes, ¿") {
		t.Fatal("interval elapsed, expected emit")
	}

	clock.Advance(10 * time.Millisecond)
	if !th.Allow("Buenos días a todos ustedes, ¿qué?") {
		t.Fatal("sentence end must emit immediately")
	}
	clock.Advance(time.Second)
	if th.Allow("Buenos días a todos ustedes, ¿qué?") {
		t.Fatal("unchanged text must not be re-emitted")
	}
}
