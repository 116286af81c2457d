package filesink

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dnyoussef/hooklog/internal/metrics"
	"github.com/klauspost/compress/gzip"
)

const (
	logExt  = ".log"
	gzipExt = ".gz"
)

// FileInfo describes one file belonging to the sink's base name.
type FileInfo struct {
	Name       string    `json:"filename"`
	Path       string    `json:"path"`
	Size       int64     `json:"size_bytes"`
	Modified   time.Time `json:"modified"`
	Compressed bool      `json:"compressed"`
}

// rotateActive renames the active file to a timestamped sibling and
// optionally compresses it. The caller holds s.mu.
func (s *Sink) rotateActive() (RotationStats, error) {
	var stats RotationStats
	s.closeFileLocked()

	if _, err := os.Stat(s.path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return stats, nil
		}
		return stats, fmt.Errorf("rotate %s: %w", s.path, err)
	}

	target := s.rotatedName(s.opts.Now())
	if err := os.Rename(s.path, target); err != nil {
		return stats, fmt.Errorf("rotate %s: %w", s.path, err)
	}
	stats.Rotated++
	metrics.IncRotations()

	if s.opts.Compress {
		if _, err := compressFile(target); err != nil {
			return stats, err
		}
		stats.Compressed++
	}
	return stats, nil
}

// rotatedName returns <base>-<date>-<timestamp>.log, suffixed with -N when
// that name (or its compressed sibling) already exists.
func (s *Sink) rotatedName(now time.Time) string {
	now = now.UTC()
	stem := strings.TrimSuffix(s.path, logExt) + "-" + now.Format("20060102T150405") + fmt.Sprintf("%03d", now.Nanosecond()/int(time.Millisecond))
	name := stem + logExt
	for i := 1; exists(name) || exists(name+gzipExt); i++ {
		name = fmt.Sprintf("%s-%d%s", stem, i, logExt)
	}
	return name
}

// compressRotated gzips rotated files that are still plain text.
func (s *Sink) compressRotated() (RotationStats, error) {
	var stats RotationStats
	files, err := s.Files()
	if err != nil {
		return stats, err
	}
	var errs []error
	for _, f := range files {
		if f.Compressed || f.Path == s.path || !s.isRotated(f.Name) {
			continue
		}
		if _, err := compressFile(f.Path); err != nil {
			errs = append(errs, err)
			continue
		}
		stats.Compressed++
	}
	return stats, errors.Join(errs...)
}

// isRotated reports whether name carries a rotation timestamp after the date.
func (s *Sink) isRotated(name string) bool {
	rest := strings.TrimPrefix(name, s.opts.Base+"-")
	rest = strings.TrimSuffix(strings.TrimSuffix(rest, gzipExt), logExt)
	return len(rest) > len(dateLayout)
}

// prune deletes files beyond MaxFiles (newest kept) and files older than
// MaxAge. The active file is never deleted. The caller holds s.mu.
func (s *Sink) prune() (RotationStats, error) {
	var stats RotationStats
	if s.opts.MaxFiles <= 0 && s.opts.MaxAge <= 0 {
		return stats, nil
	}
	files, err := s.Files()
	if err != nil {
		return stats, err
	}

	candidates := files[:0]
	for _, f := range files {
		if f.Path != s.path {
			candidates = append(candidates, f)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].Modified.Equal(candidates[j].Modified) {
			return candidates[i].Modified.After(candidates[j].Modified)
		}
		return candidates[i].Name > candidates[j].Name
	})

	cutoff := time.Time{}
	if s.opts.MaxAge > 0 {
		cutoff = s.opts.Now().Add(-s.opts.MaxAge)
	}

	var errs []error
	for i, f := range candidates {
		overCount := s.opts.MaxFiles > 0 && i >= s.opts.MaxFiles
		tooOld := !cutoff.IsZero() && f.Modified.Before(cutoff)
		if !overCount && !tooOld {
			continue
		}
		if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("prune %s: %w", f.Name, err))
			continue
		}
		stats.Deleted++
		stats.BytesFreed += f.Size
	}
	metrics.AddPruned(stats.Deleted)
	return stats, errors.Join(errs...)
}

// Files lists every file sharing the sink's base name.
func (s *Sink) Files() ([]FileInfo, error) {
	return ListFiles(s.opts.Dir, s.opts.Base)
}

// ListFiles returns the dated <base>-YYYY-MM-DD*.log and .log.gz files in
// dir, sorted by name. Another base that shares the prefix, such as
// <base>-agent-..., is not matched.
func ListFiles(dir, base string) ([]FileInfo, error) {
	names, err := doublestar.Glob(os.DirFS(dir), base+"-????-??-??*"+logExt+"*", doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	sort.Strings(names)

	files := make([]FileInfo, 0, len(names))
	for _, name := range names {
		if !strings.HasSuffix(name, logExt) && !strings.HasSuffix(name, logExt+gzipExt) {
			continue
		}
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		files = append(files, FileInfo{
			Name:       name,
			Path:       path,
			Size:       info.Size(),
			Modified:   info.ModTime(),
			Compressed: strings.HasSuffix(name, gzipExt),
		})
	}
	return files, nil
}

// compressFile writes path+".gz", carries over the modification time and
// removes the original.
func compressFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("compress %s: %w", path, err)
	}
	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("compress %s: %w", path, err)
	}
	defer src.Close()

	target := path + gzipExt
	dst, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("compress %s: %w", path, err)
	}

	zw := gzip.NewWriter(dst)
	zw.Name = filepath.Base(path)
	zw.ModTime = info.ModTime()
	_, err = io.Copy(zw, src)
	if cerr := zw.Close(); err == nil {
		err = cerr
	}
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(target)
		return "", fmt.Errorf("compress %s: %w", path, err)
	}

	_ = os.Chtimes(target, info.ModTime(), info.ModTime())
	src.Close()
	if err := os.Remove(path); err != nil {
		return target, fmt.Errorf("remove %s after compression: %w", path, err)
	}
	return target, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
