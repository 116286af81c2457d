package filesink

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
)

// clock is a controllable time source. Each call advances it by step.
type clock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newSink(t *testing.T, opts Options) *Sink {
	t.Helper()
	if opts.Dir == "" {
		opts.Dir = t.TempDir()
	}
	s, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func write(t *testing.T, s *Sink, line string) {
	t.Helper()
	if err := s.Write(nil, []byte(line)); err != nil {
		t.Fatalf("write %q: %v", line, err)
	}
}

func flush(t *testing.T, s *Sink) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var lines []string
	var sc *bufio.Scanner
	if strings.HasSuffix(path, ".gz") {
		zr, err := gzip.NewReader(f)
		if err != nil {
			t.Fatal(err)
		}
		defer zr.Close()
		sc = bufio.NewScanner(zr)
	} else {
		sc = bufio.NewScanner(f)
	}
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}

func rotatedFiles(t *testing.T, s *Sink) []FileInfo {
	t.Helper()
	files, err := s.Files()
	if err != nil {
		t.Fatal(err)
	}
	var out []FileInfo
	for _, f := range files {
		if s.isRotated(f.Name) {
			out = append(out, f)
		}
	}
	return out
}

func TestAppendInOrder(t *testing.T) {
	clk := &clock{now: time.Date(2026, 2, 17, 12, 0, 0, 0, time.UTC)}
	s := newSink(t, Options{Now: clk.Now})

	for i := 0; i < 50; i++ {
		write(t, s, fmt.Sprintf(`{"n":%d}`, i))
	}
	flush(t, s)

	if want := filepath.Join(s.Dir(), "hooks-2026-02-17.log"); s.ActivePath() != want {
		t.Fatalf("expected active path %s, got %s", want, s.ActivePath())
	}
	lines := readLines(t, s.ActivePath())
	if len(lines) != 50 {
		t.Fatalf("expected 50 lines, got %d", len(lines))
	}
	for i, l := range lines {
		if l != fmt.Sprintf(`{"n":%d}`, i) {
			t.Fatalf("line %d out of order: %s", i, l)
		}
	}
}

func TestRotationOnSize(t *testing.T) {
	clk := &clock{now: time.Date(2026, 2, 17, 12, 0, 0, 0, time.UTC), step: time.Second}
	s := newSink(t, Options{Now: clk.Now, MaxSize: 200})

	line := strings.Repeat("x", 60)
	for i := 0; i < 4; i++ {
		write(t, s, line) // 4 * 61 bytes: the last one crosses the threshold
	}
	flush(t, s)
	if got := len(rotatedFiles(t, s)); got != 0 {
		t.Fatalf("expected no rotation while under threshold, got %d rotated files", got)
	}

	write(t, s, "after")
	flush(t, s)

	rotated := rotatedFiles(t, s)
	if len(rotated) != 1 {
		t.Fatalf("expected 1 rotated file, got %d", len(rotated))
	}
	if !strings.HasPrefix(rotated[0].Name, "hooks-2026-02-17-") {
		t.Errorf("unexpected rotated name %s", rotated[0].Name)
	}
	if got := readLines(t, rotated[0].Path); len(got) != 4 {
		t.Errorf("expected rotated file to keep 4 lines, got %d", len(got))
	}
	if got := readLines(t, s.ActivePath()); len(got) != 1 || got[0] != "after" {
		t.Errorf("expected new active file to hold only the post-rotation entry, got %v", got)
	}
}

func TestRetentionKeepsNewest(t *testing.T) {
	clk := &clock{now: time.Date(2026, 2, 17, 12, 0, 0, 0, time.UTC), step: time.Second}
	s := newSink(t, Options{Now: clk.Now, MaxSize: 10, MaxFiles: 2})

	for i := 1; i <= 6; i++ {
		write(t, s, fmt.Sprintf("line-%d-padding", i))
	}
	flush(t, s)

	rotated := rotatedFiles(t, s)
	if len(rotated) != 2 {
		t.Fatalf("expected retention to keep 2 rotated files, got %d", len(rotated))
	}
	var kept []string
	for _, f := range rotated {
		kept = append(kept, readLines(t, f.Path)...)
	}
	if strings.Join(kept, ",") != "line-4-padding,line-5-padding" {
		t.Errorf("expected the two newest rotated files, got %v", kept)
	}
	if got := readLines(t, s.ActivePath()); len(got) != 1 || got[0] != "line-6-padding" {
		t.Errorf("unexpected active contents %v", got)
	}
}

func TestDailySwitch(t *testing.T) {
	clk := &clock{now: time.Date(2026, 2, 17, 23, 59, 59, 0, time.UTC)}
	s := newSink(t, Options{Now: clk.Now})

	write(t, s, "day-one")
	flush(t, s)
	clk.Set(time.Date(2026, 2, 18, 0, 0, 1, 0, time.UTC))
	write(t, s, "day-two")
	flush(t, s)

	one := readLines(t, filepath.Join(s.Dir(), "hooks-2026-02-17.log"))
	two := readLines(t, filepath.Join(s.Dir(), "hooks-2026-02-18.log"))
	if len(one) != 1 || one[0] != "day-one" {
		t.Errorf("unexpected first day contents %v", one)
	}
	if len(two) != 1 || two[0] != "day-two" {
		t.Errorf("unexpected second day contents %v", two)
	}
}

func TestCompressionOnRotate(t *testing.T) {
	clk := &clock{now: time.Date(2026, 2, 17, 12, 0, 0, 0, time.UTC), step: time.Second}
	s := newSink(t, Options{Now: clk.Now, MaxSize: 5, Compress: true})

	write(t, s, "first-entry")
	write(t, s, "second-entry")
	flush(t, s)

	rotated := rotatedFiles(t, s)
	if len(rotated) != 1 || !rotated[0].Compressed {
		t.Fatalf("expected one compressed rotated file, got %+v", rotated)
	}
	if !strings.HasSuffix(rotated[0].Name, ".log.gz") {
		t.Errorf("expected .log.gz suffix, got %s", rotated[0].Name)
	}
	if got := readLines(t, rotated[0].Path); len(got) != 1 || got[0] != "first-entry" {
		t.Errorf("unexpected decompressed contents %v", got)
	}
}

func TestRotateOnDemand(t *testing.T) {
	clk := &clock{now: time.Date(2026, 2, 17, 12, 0, 0, 0, time.UTC), step: time.Second}
	s := newSink(t, Options{Now: clk.Now})

	write(t, s, "before")
	ctx := context.Background()
	stats, err := s.Rotate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Rotated != 1 {
		t.Fatalf("expected 1 rotated file, got %+v", stats)
	}

	// An empty active file is not rotated.
	stats, err = s.Rotate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Rotated != 0 {
		t.Errorf("expected nothing to rotate, got %+v", stats)
	}

	write(t, s, "after")
	flush(t, s)
	if got := readLines(t, s.ActivePath()); len(got) != 1 || got[0] != "after" {
		t.Errorf("unexpected active contents %v", got)
	}
}

func TestRotateOnDemandCompressesAndAges(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 2, 17, 12, 0, 0, 0, time.UTC)
	clk := &clock{now: now, step: time.Second}

	stale := filepath.Join(dir, "hooks-2026-01-01.log")
	leftover := filepath.Join(dir, "hooks-2026-02-16-20260216T100000000.log")
	for _, p := range []string{stale, leftover} {
		if err := os.WriteFile(p, []byte("{}\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	old := now.Add(-40 * 24 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}

	s := newSink(t, Options{Dir: dir, Now: clk.Now, Compress: true, MaxAge: 30 * 24 * time.Hour})
	stats, err := s.Rotate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Compressed != 1 || stats.Deleted != 1 {
		t.Errorf("expected 1 compressed and 1 deleted, got %+v", stats)
	}
	if exists(stale) {
		t.Error("expected stale file to be deleted")
	}
	if !exists(leftover + ".gz") {
		t.Error("expected leftover rotated file to be compressed")
	}
}

func TestWriteAfterClose(t *testing.T) {
	s := newSink(t, Options{})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Write(nil, []byte("late")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
}

func BenchmarkSinkWrite(b *testing.B) {
	s, err := New(Options{Dir: b.TempDir()})
	if err != nil {
		b.Fatal(err)
	}
	defer s.Close()
	line := []byte(`{"level":"INFO","message":"benchmark"}`)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = s.Write(nil, line)
	}
	_ = s.Flush(context.Background())
}

func TestFileNamesUseUTCDate(t *testing.T) {
	// 05:00 on the 18th at UTC+10 is still the 17th in UTC.
	local := time.Date(2026, 2, 18, 5, 0, 0, 0, time.FixedZone("AEST", 10*60*60))
	clk := &clock{now: local}
	s := newSink(t, Options{Now: clk.Now})

	write(t, s, "late")
	flush(t, s)

	if want := filepath.Join(s.Dir(), "hooks-2026-02-17.log"); s.ActivePath() != want {
		t.Errorf("active path = %s, want %s", s.ActivePath(), want)
	}
	if got := readLines(t, filepath.Join(s.Dir(), "hooks-2026-02-17.log")); len(got) != 1 {
		t.Errorf("expected entry in the UTC-dated file, got %v", got)
	}
	if name := filepath.Base(s.rotatedName(local)); !strings.HasPrefix(name, "hooks-2026-02-17-20260217T190000000") {
		t.Errorf("rotated name %s not stamped in UTC", name)
	}
}

func TestOtherBaseWithSharedPrefixUntouched(t *testing.T) {
	dir := t.TempDir()
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	foreign := []string{"hooks-agent-2026-01-01.log", "hooks-agent-2026-01-01-20260101T000000000.log.gz"}
	for _, name := range foreign {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte("x\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := os.Chtimes(p, old, old); err != nil {
			t.Fatal(err)
		}
	}

	clk := &clock{now: time.Date(2026, 2, 17, 12, 0, 0, 0, time.UTC), step: time.Second}
	s := newSink(t, Options{Dir: dir, Now: clk.Now, MaxFiles: 1, MaxAge: 24 * time.Hour})
	write(t, s, "line")
	flush(t, s)
	if _, err := s.Rotate(context.Background()); err != nil {
		t.Fatal(err)
	}

	for _, name := range foreign {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s was removed: %v", name, err)
		}
	}
	files, err := ListFiles(dir, "hooks")
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range files {
		if strings.HasPrefix(f.Name, "hooks-agent") {
			t.Errorf("ListFiles matched another base: %s", f.Name)
		}
	}
}
