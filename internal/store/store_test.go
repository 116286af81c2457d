package store

import (
	"errors"
	"testing"
	"time"

	"github.com/dnyoussef/hooklog/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{Dir: t.TempDir(), Fsync: FsyncInterval, SyncInterval: 2 * time.Millisecond})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func put(t *testing.T, s *Store, ts time.Time, msg string) {
	t.Helper()
	e := &model.LogEntry{Timestamp: ts, Level: model.LevelError, Message: msg, Metrics: model.Metrics{}}
	if err := s.Put(e, nil); err != nil {
		t.Fatalf("put: %v", err)
	}
}

func messages(entries []model.LogEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Message
	}
	return out
}

func TestRecentNewestFirst(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 2, 17, 12, 0, 0, 0, time.UTC)
	put(t, s, base, "a")
	put(t, s, base.Add(time.Second), "b")
	put(t, s, base.Add(time.Second), "c")
	put(t, s, base.Add(2*time.Second), "d")

	got, err := s.Recent(3)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"d", "c", "b"}
	if m := messages(got); len(m) != 3 || m[0] != want[0] || m[1] != want[1] || m[2] != want[2] {
		t.Fatalf("got %v, want %v", m, want)
	}
}

func TestRange(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 2, 17, 12, 0, 0, 0, time.UTC)
	for i, msg := range []string{"a", "b", "c", "d"} {
		put(t, s, base.Add(time.Duration(i)*time.Minute), msg)
	}

	got, err := s.Range(base.Add(time.Minute), base.Add(3*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if m := messages(got); len(m) != 2 || m[0] != "b" || m[1] != "c" {
		t.Fatalf("got %v, want [b c]", m)
	}

	all, _ := s.Range(time.Time{}, time.Time{})
	if len(all) != 4 {
		t.Errorf("expected unbounded range to return 4, got %d", len(all))
	}
}

func TestPutRawBytes(t *testing.T) {
	s := newTestStore(t)
	e := &model.LogEntry{Timestamp: time.Now().UTC(), Level: model.LevelFatal}
	raw := []byte(`{"timestamp":"2026-02-17T12:00:00Z","level":"FATAL","message":"stored as-is","agent":{},"execution":{},"metrics":{}}`)
	if err := s.Put(e, raw); err != nil {
		t.Fatal(err)
	}
	got, err := s.Recent(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Message != "stored as-is" {
		t.Fatalf("unexpected entries %+v", got)
	}
}

func TestClosed(t *testing.T) {
	s, err := Open(Options{Dir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
	if err := s.Put(&model.LogEntry{}, []byte("{}")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
