package scheduler

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alextra-lab/personal-agent-sub000/internal/logging"
)

// Source names one directory of raw files to archive under a type label.
type Source struct {
	Type string
	Dir  string
	// MinAge keeps files still being written out of the archive pass.
	MinAge time.Duration
}

// Archiver compresses aged raw files into archive/<type>/YYYY-MM/ and deletes
// the originals.
type Archiver struct {
	archiveDir string
	sources    []Source
	logger     *logging.Logger
}

func NewArchiver(archiveDir string, sources []Source, logger *logging.Logger) *Archiver {
	return &Archiver{
		archiveDir: archiveDir,
		sources:    sources,
		logger:     logging.OrNop(logger).Component("scheduler"),
	}
}

// Run archives every eligible file and returns how many were moved.
func (a *Archiver) Run(ctx context.Context) (int, error) {
	total := 0
	for _, src := range a.sources {
		n, err := a.archiveSource(ctx, src)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (a *Archiver) archiveSource(ctx context.Context, src Source) (int, error) {
	entries, err := os.ReadDir(src.Dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", src.Dir, err)
	}

	minAge := src.MinAge
	if minAge <= 0 {
		minAge = 24 * time.Hour
	}
	cutoff := time.Now().Add(-minAge)

	archived := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return archived, ctx.Err()
		}
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ".gz") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		srcPath := filepath.Join(src.Dir, entry.Name())
		destDir := filepath.Join(a.archiveDir, src.Type, info.ModTime().UTC().Format("2006-01"))
		if err := a.compressInto(srcPath, destDir, entry.Name()); err != nil {
			a.logger.Warn("archiving file failed", "file", srcPath, "err", err)
			continue
		}
		if err := os.Remove(srcPath); err != nil {
			a.logger.Warn("removing archived original failed", "file", srcPath, "err", err)
		}
		archived++
	}
	return archived, nil
}

func (a *Archiver) compressInto(srcPath, destDir, name string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}
	in, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer in.Close()

	destPath := filepath.Join(destDir, name+".gz")
	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		out.Close()
		os.Remove(destPath)
		return err
	}
	if err := gz.Close(); err != nil {
		out.Close()
		os.Remove(destPath)
		return err
	}
	return out.Close()
}

// PurgeOlderThan removes archived files whose month directory falls entirely
// before the cutoff. Returns the number of files removed.
func (a *Archiver) PurgeOlderThan(cutoff time.Time) (int, error) {
	cutoffMonth := cutoff.UTC().Format("2006-01")
	removed := 0

	err := filepath.WalkDir(a.archiveDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		month := filepath.Base(filepath.Dir(path))
		if len(month) == len("2006-01") && month < cutoffMonth {
			if rmErr := os.Remove(path); rmErr == nil {
				removed++
			}
		}
		return nil
	})
	if os.IsNotExist(err) {
		return removed, nil
	}
	return removed, err
}
