package httpkit

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// ErrSSEClosed is returned by writes after the final frame.
var ErrSSEClosed = errors.New("sse: stream closed")

// SSE writes server-sent events on a single response. Writes are
// serialized; every frame is flushed immediately.
type SSE struct {
	mu     sync.Mutex
	w      http.ResponseWriter
	rc     *http.ResponseController
	closed bool
}

// NewSSE sends the event-stream headers and lifts the server write
// deadline, since a render can outlive it.
func NewSSE(w http.ResponseWriter) (*SSE, error) {
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return nil, err
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	s := &SSE{w: w, rc: rc}
	if err := s.flush(); err != nil {
		return nil, err
	}
	return s, nil
}

// Send writes v as one "data:" frame.
func (s *SSE) Send(v any) error { return s.send(v, false) }

// SendLast writes v as the final frame. Later Send and Ping calls write
// nothing and return ErrSSEClosed.
func (s *SSE) SendLast(v any) error { return s.send(v, true) }

func (s *SSE) send(v any, last bool) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSSEClosed
	}
	s.closed = last
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", b); err != nil {
		return err
	}
	return s.flush()
}

// Ping writes a comment frame to keep intermediaries from timing out.
func (s *SSE) Ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSSEClosed
	}
	if _, err := fmt.Fprint(s.w, ": ping\n\n"); err != nil {
		return err
	}
	return s.flush()
}

func (s *SSE) flush() error {
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}
