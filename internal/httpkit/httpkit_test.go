package httpkit

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"montage/internal/pkg/errors"
)

func TestSSEFrames(t *testing.T) {
	rec := httptest.NewRecorder()
	s, err := NewSSE(rec)
	if err != nil {
		t.Fatalf("NewSSE: %v", err)
	}
	if err := s.Send(map[string]any{"type": "status", "data": map[string]string{"message": "verifying"}}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := s.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	if !rec.Flushed {
		t.Error("expected response to be flushed")
	}

	sc := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	var frames []string
	for sc.Scan() {
		if line := sc.Text(); strings.HasPrefix(line, "data: ") {
			frames = append(frames, strings.TrimPrefix(line, "data: "))
		}
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 data frame, got %d: %q", len(frames), rec.Body.String())
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(frames[0]), &got); err != nil {
		t.Fatalf("frame is not JSON: %v", err)
	}
	if got["type"] != "status" {
		t.Errorf("type = %v", got["type"])
	}
	if !strings.Contains(rec.Body.String(), ": ping\n\n") {
		t.Error("expected ping comment frame")
	}
}

func TestSSEWritesNothingAfterLast(t *testing.T) {
	tests := []struct {
		name  string
		write func(s *SSE) error
	}{
		{"ping", func(s *SSE) error { return s.Ping() }},
		{"send", func(s *SSE) error { return s.Send(map[string]string{"type": "progress"}) }},
		{"send last", func(s *SSE) error { return s.SendLast(map[string]string{"type": "error"}) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s, err := NewSSE(rec)
			if err != nil {
				t.Fatal(err)
			}
			if err := s.SendLast(map[string]string{"type": "complete"}); err != nil {
				t.Fatalf("SendLast: %v", err)
			}
			before := rec.Body.String()

			if err := tt.write(s); !errors.Is(err, ErrSSEClosed) {
				t.Errorf("write after last = %v, want ErrSSEClosed", err)
			}
			if rec.Body.String() != before {
				t.Errorf("body grew after the last frame: %q", strings.TrimPrefix(rec.Body.String(), before))
			}
			if !strings.HasSuffix(before, "\n\n") || !strings.Contains(before, `"complete"`) {
				t.Errorf("last frame = %q", before)
			}
		})
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, errors.NotFound("staged asset", "abc"))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
	var env ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if env.Error.Code != "NOT_FOUND" || !strings.Contains(env.Error.Message, "abc") {
		t.Errorf("unexpected envelope %+v", env)
	}
}

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })
	h := CORS(CORSOptions{AllowedOrigins: []string{" http://localhost:5173 ", ""}})(next)

	tests := []struct {
		name       string
		method     string
		origin     string
		wantStatus int
		wantAllow  string
	}{
		{"allowed origin", http.MethodGet, "http://localhost:5173", http.StatusTeapot, "http://localhost:5173"},
		{"foreign origin", http.MethodGet, "http://evil.test", http.StatusTeapot, ""},
		{"preflight", http.MethodOptions, "http://localhost:5173", http.StatusNoContent, "http://localhost:5173"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/renders", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("allow origin = %q, want %q", got, tt.wantAllow)
			}
		})
	}
}

func TestSplitCSV(t *testing.T) {
	got := SplitCSV(" a, ,b ,")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("SplitCSV = %v", got)
	}
}
