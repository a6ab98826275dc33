package stream

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
)

// SSEEmitter writes events to an http.ResponseWriter as Server-Sent Events,
// flushing after every event. When the caller disconnects the emitter goes
// quiet but does not error: in-flight pipeline work is allowed to finish so
// its result can still populate the cache for the next caller.
type SSEEmitter struct {
	ctx     context.Context
	w       http.ResponseWriter
	flusher http.Flusher
	logger  *log.Logger

	mu     sync.Mutex
	closed bool
}

// NewSSEEmitter wraps the response writer. The writer must support flushing;
// callers should have set the text/event-stream headers already.
func NewSSEEmitter(ctx context.Context, w http.ResponseWriter, logger *log.Logger) (*SSEEmitter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	return &SSEEmitter{ctx: ctx, w: w, flusher: flusher, logger: logger}, true
}

// Emit serializes the event as one SSE data frame and flushes it.
func (e *SSEEmitter) Emit(event Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if err := e.ctx.Err(); err != nil {
		e.closed = true
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		e.logger.Printf("event marshal failed: %v", err)
		return
	}
	if _, err := e.w.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
		e.logger.Printf("event write failed, closing stream: %v", err)
		e.closed = true
		return
	}
	e.flusher.Flush()
}
