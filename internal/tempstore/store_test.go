package tempstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"montage/internal/pkg/errors"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newStore(t *testing.T, c *clock) *Store {
	t.Helper()
	s, err := New(Options{
		Dir:     t.TempDir(),
		TTL:     30 * time.Minute,
		Retries: 2,
		Backoff: time.Millisecond,
		Now:     c.Now,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestStageAndResolve(t *testing.T) {
	c := &clock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := newStore(t, c)

	a, err := s.Stage(context.Background(), []byte("frames"), "Holiday.MOV")
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if a.Ext != ".mov" || a.Size != 6 || a.OriginalName != "Holiday.MOV" {
		t.Errorf("unexpected asset %+v", a)
	}
	if !a.ExpiresAt.Equal(c.Now().Add(30 * time.Minute)) {
		t.Errorf("ExpiresAt = %v", a.ExpiresAt)
	}
	if filepath.Dir(a.Path) != s.Dir() {
		t.Errorf("asset written outside managed dir: %s", a.Path)
	}

	got, err := s.Resolve(a.ID)
	if err != nil || got.Path != a.Path {
		t.Fatalf("Resolve = %+v, %v", got, err)
	}
	data, _ := os.ReadFile(a.Path)
	if string(data) != "frames" {
		t.Errorf("file content = %q", data)
	}
}

func TestStageUnknownExtension(t *testing.T) {
	s := newStore(t, &clock{now: time.Now()})
	a, err := s.Stage(context.Background(), []byte("x"), "notes.txt")
	if err != nil {
		t.Fatal(err)
	}
	if a.Ext != ".mp4" {
		t.Errorf("Ext = %q, want .mp4", a.Ext)
	}
}

func TestStageIDsUniqueUnderConcurrency(t *testing.T) {
	s := newStore(t, &clock{now: time.Now()})

	const n = 32
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := s.Stage(context.Background(), []byte(fmt.Sprintf("clip-%d", i)), "c.mp4")
			if err != nil {
				t.Errorf("Stage %d: %v", i, err)
				return
			}
			ids <- a.ID
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
	if s.Len() != n {
		t.Errorf("Len = %d, want %d", s.Len(), n)
	}
}

func TestStageRetriesReadBack(t *testing.T) {
	s := newStore(t, &clock{now: time.Now()})
	calls := 0
	s.readBack = func(path string) (int64, string, error) {
		calls++
		if calls < 3 {
			return 0, "", io.ErrUnexpectedEOF
		}
		return hashFile(path)
	}

	if _, err := s.Stage(context.Background(), []byte("eventually"), "a.mp4"); err != nil {
		t.Fatalf("Stage should succeed on last retry: %v", err)
	}
	if calls != 3 {
		t.Errorf("readBack calls = %d, want 3", calls)
	}
}

func TestStageFailsAfterRetries(t *testing.T) {
	s := newStore(t, &clock{now: time.Now()})
	s.readBack = func(string) (int64, string, error) { return 1, "bad", nil }

	_, err := s.Stage(context.Background(), []byte("data"), "a.mp4")
	if !errors.Is(err, errors.ErrStageWrite) {
		t.Fatalf("expected STAGE_WRITE_FAILED, got %v", err)
	}
	left, _ := os.ReadDir(s.Dir())
	if len(left) != 0 || s.Len() != 0 {
		t.Errorf("failed stage left %d files, %d entries", len(left), s.Len())
	}
}

func TestStageCanceled(t *testing.T) {
	s := newStore(t, &clock{now: time.Now()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Stage(ctx, []byte("data"), "a.mp4")
	if !errors.Is(err, errors.ErrAborted) {
		t.Fatalf("expected ABORTED, got %v", err)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	s := newStore(t, &clock{now: time.Now()})
	a, err := s.Stage(context.Background(), []byte("data"), "a.webm")
	if err != nil {
		t.Fatal(err)
	}

	if !s.Release(a.ID) {
		t.Error("first release should report removal")
	}
	if s.Release(a.ID) {
		t.Error("second release should be a no-op")
	}
	if _, err := os.Stat(a.Path); !os.IsNotExist(err) {
		t.Errorf("file still present: %v", err)
	}
	if _, err := s.Resolve(a.ID); !errors.IsNotFound(err) {
		t.Errorf("Resolve after release = %v", err)
	}
	if s.Release("../../etc/passwd") {
		t.Error("release of a non-id must not touch the filesystem")
	}
}

func TestReleaseUnregisteredFile(t *testing.T) {
	s := newStore(t, &clock{now: time.Now()})
	id := uuid.NewString()
	path := filepath.Join(s.Dir(), id+".mp4")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !s.Release(id) {
		t.Fatal("expected file staged elsewhere to be released")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file not removed")
	}
}

func TestSweepBoundary(t *testing.T) {
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	c := &clock{now: start}
	s := newStore(t, c)

	a, err := s.Stage(context.Background(), []byte("data"), "a.mp4")
	if err != nil {
		t.Fatal(err)
	}

	if res := s.Sweep(a.ExpiresAt); res.Expired != 0 {
		t.Fatalf("entry expiring exactly now must be kept, got %+v", res)
	}
	if _, err := os.Stat(a.Path); err != nil {
		t.Fatalf("file removed too early: %v", err)
	}

	res := s.Sweep(a.ExpiresAt.Add(time.Nanosecond))
	if res.Expired != 1 {
		t.Fatalf("expected one expired entry, got %+v", res)
	}
	if _, err := os.Stat(a.Path); !os.IsNotExist(err) {
		t.Error("expired file still on disk")
	}
	c.Set(a.ExpiresAt.Add(time.Second))
	if _, err := s.Resolve(a.ID); !errors.IsNotFound(err) {
		t.Errorf("Resolve after sweep = %v", err)
	}
}

func TestSweepOrphans(t *testing.T) {
	c := &clock{now: time.Now()}
	s := newStore(t, c)

	orphan := filepath.Join(s.Dir(), uuid.NewString()+".mp4")
	unrelated := filepath.Join(s.Dir(), "README")
	for _, p := range []string{orphan, unrelated} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if res := s.Sweep(time.Now()); res.Orphans != 0 {
		t.Fatalf("fresh orphan must survive, got %+v", res)
	}
	res := s.Sweep(time.Now().Add(time.Hour))
	if res.Orphans != 1 {
		t.Fatalf("expected orphan removal, got %+v", res)
	}
	if _, err := os.Stat(unrelated); err != nil {
		t.Error("files without an id name must be left alone")
	}
}

func TestRunSweeperStops(t *testing.T) {
	s := newStore(t, &clock{now: time.Now()})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunSweeper(ctx, time.Millisecond)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestOpen(t *testing.T) {
	s := newStore(t, &clock{now: time.Now()})
	a, err := s.Stage(context.Background(), []byte("payload"), "clip.mkv")
	if err != nil {
		t.Fatal(err)
	}

	f, got, err := s.Open(a.FileName())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	if got.ID != a.ID || ContentType(got.Ext) != "video/x-matroska" {
		t.Errorf("unexpected asset %+v", got)
	}

	for _, ref := range []string{
		"",
		"../" + a.FileName(),
		"sub/" + a.FileName(),
		a.ID + ".mp4",
		uuid.NewString() + ".mp4",
		"..",
	} {
		if _, _, err := s.Open(ref); !errors.IsNotFound(err) {
			t.Errorf("Open(%q) = %v, want NOT_FOUND", ref, err)
		}
	}
}

func TestOpenExpiry(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := &clock{now: start}
	s := newStore(t, c)
	a, err := s.Stage(context.Background(), []byte("payload"), "clip.mp4")
	if err != nil {
		t.Fatal(err)
	}

	// Another process staged this one; only the file exists here.
	foreign := uuid.NewString() + ".mp4"
	if err := os.WriteFile(filepath.Join(s.Dir(), foreign), []byte("shared"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		now     time.Time
		ref     string
		wantErr bool
	}{
		{"registered before expiry", start.Add(29 * time.Minute), a.FileName(), false},
		{"registered past expiry, not swept", start.Add(31 * time.Minute), a.FileName(), true},
		{"registered past expiry, bare id", start.Add(31 * time.Minute), a.ID, true},
		{"never registered", start.Add(31 * time.Minute), foreign, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c.Set(tt.now)
			f, _, err := s.Open(tt.ref)
			if tt.wantErr {
				if !errors.IsNotFound(err) {
					t.Fatalf("Open(%q) = %v, want NOT_FOUND", tt.ref, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Open(%q): %v", tt.ref, err)
			}
			f.Close()
		})
	}

	if _, err := os.Stat(a.Path); err != nil {
		t.Errorf("expired file should stay on disk until swept: %v", err)
	}
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		".mp4":  "video/mp4",
		".MOV":  "video/quicktime",
		".avi":  "video/x-msvideo",
		".webm": "video/webm",
		".bin":  "application/octet-stream",
	}
	for ext, want := range tests {
		if got := ContentType(ext); got != want {
			t.Errorf("ContentType(%s) = %s, want %s", ext, got, want)
		}
	}
}
