package main

import "sync"

// StreamEmitter delivers a session's events to its consumer in the order they
// were emitted. The channel closes right after the terminal event (complete
// or error); later Emit calls are dropped. Safe for concurrent producers,
// though the pipeline itself emits sequentially.
type StreamEmitter struct {
	mu     sync.Mutex
	ch     chan StreamEvent
	closed bool
}

// NewStreamEmitter creates an emitter with the given channel buffer.
func NewStreamEmitter(buffer int) *StreamEmitter {
	return &StreamEmitter{ch: make(chan StreamEvent, buffer)}
}

// Emit sends an event to the consumer. Emitting a terminal event closes the
// stream; anything emitted after that is silently discarded.
func (e *StreamEmitter) Emit(event StreamEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}

	e.ch <- event

	if IsTerminal(event) {
		e.closed = true
		close(e.ch)
	}
}

// Events returns the consumer side of the stream. The channel is closed after
// the terminal event.
func (e *StreamEmitter) Events() <-chan StreamEvent {
	return e.ch
}
