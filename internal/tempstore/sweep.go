package tempstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SweepResult reports one sweep pass.
type SweepResult struct {
	Expired int `json:"expired"`
	Orphans int `json:"orphans"`
	Failed  int `json:"failed"`
}

// Sweep removes every entry whose expiry is strictly before now, then any
// unregistered file in the managed directory older than the TTL. Failures
// are logged and counted, never returned.
func (s *Store) Sweep(now time.Time) SweepResult {
	var res SweepResult

	s.entries.Range(func(k, v any) bool {
		a := v.(Asset)
		if !a.Expired(now) {
			return true
		}
		if _, ok := s.entries.LoadAndDelete(k); !ok {
			return true
		}
		if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
			res.Failed++
			s.log.Warn("sweep: remove failed", "id", a.ID, "error", err.Error())
			return true
		}
		res.Expired++
		return true
	})

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.Warn("sweep: read dir failed", "dir", s.dir, "error", err.Error())
		return res
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if _, err := uuid.Parse(id); err != nil {
			continue
		}
		if _, ok := s.entries.Load(id); ok {
			continue
		}
		info, err := e.Info()
		if err != nil || !now.After(info.ModTime().Add(s.ttl)) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil && !os.IsNotExist(err) {
			res.Failed++
			s.log.Warn("sweep: orphan remove failed", "file", e.Name(), "error", err.Error())
			continue
		}
		res.Orphans++
	}
	return res
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info("sweeper started", "interval", interval.String(), "ttl", s.ttl.String())
	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return
		case <-ticker.C:
			res := s.Sweep(s.now())
			if res.Expired+res.Orphans+res.Failed > 0 {
				s.log.Info("sweep finished", "expired", res.Expired, "orphans", res.Orphans, "failed", res.Failed)
			}
		}
	}
}
