package interpreter

import "sync"

// Job is one unit of translate-then-speak work.
type Job struct {
	Text string
	// SynthesizeOnly marks text that is already translated.
	SynthesizeOnly bool
}

// CoalescingQueue holds at most one waiting job. A newer job replaces the
// waiting one; a job already handed to the consumer is unaffected. It
// supports exactly one consumer.
type CoalescingQueue struct {
	mu      sync.Mutex
	slot    *Job
	stopped bool
	ready   chan struct{}
}

func NewCoalescingQueue() *CoalescingQueue {
	return &CoalescingQueue{ready: make(chan struct{}, 1)}
}

// Replace stores job as the waiting job. evicted reports whether an older
// waiting job was discarded; accepted is false once the queue is stopped.
func (q *CoalescingQueue) Replace(job Job) (evicted, accepted bool) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return false, false
	}
	evicted = q.slot != nil
	q.slot = &job
	q.mu.Unlock()
	q.signal()
	return evicted, true
}

// Stop poisons the queue. With purge the waiting job is discarded, otherwise
// the consumer still receives it before Next reports the end.
func (q *CoalescingQueue) Stop(purge bool) {
	q.mu.Lock()
	if purge {
		q.slot = nil
	}
	q.stopped = true
	q.mu.Unlock()
	q.signal()
}

// Next blocks until a job is waiting or the queue is stopped and empty.
func (q *CoalescingQueue) Next() (Job, bool) {
	for {
		q.mu.Lock()
		if q.slot != nil {
			job := *q.slot
			q.slot = nil
			q.mu.Unlock()
			return job, true
		}
		if q.stopped {
			q.mu.Unlock()
			return Job{}, false
		}
		q.mu.Unlock()
		<-q.ready
	}
}

func (q *CoalescingQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
