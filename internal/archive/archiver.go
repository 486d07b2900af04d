// Package archive packages a finished backup session into a single file.
package archive

import (
	"archive/tar"
	"bufio"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"db-backup-utility/internal/errors"
	"db-backup-utility/internal/logging"
)

// Result describes a written archive
type Result struct {
	Path        string          `json:"path" yaml:"path"`
	Size        int64           `json:"size" yaml:"size"`
	Compression CompressionType `json:"compression" yaml:"compression"`
	Entries     int             `json:"entries" yaml:"entries"`
	Encrypted   bool            `json:"encrypted" yaml:"encrypted"`
	Duration    time.Duration   `json:"duration" yaml:"duration"`
}

// Archiver writes a session directory as one compressed tar file
type Archiver struct {
	compression CompressionType
	level       int
	logger      *logging.Logger
}

// NewArchiver creates an archiver for the given codec. level 0 uses the codec default.
func NewArchiver(compression CompressionType, level int, logger *logging.Logger) *Archiver {
	if compression == "" {
		compression = CompressionGzip
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Archiver{compression: compression, level: level, logger: logger}
}

// Archive writes sessionDir to outputBase plus the codec's extension. Entries
// are rooted at the session directory's base name and written in lexical
// order. The archive is assembled under a temporary name and renamed into
// place once complete.
func (a *Archiver) Archive(ctx context.Context, sessionDir, outputBase string) (*Result, error) {
	start := time.Now()
	finalPath := outputBase + a.compression.Extension()

	result, err := a.archive(ctx, sessionDir, finalPath)
	if err != nil {
		err = &errors.ArchiveError{Path: finalPath, Cause: err}
		a.logger.LogArchive(sessionDir, "", 0, time.Since(start), err)
		return nil, err
	}

	result.Duration = time.Since(start)
	a.logger.LogArchive(sessionDir, result.Path, result.Size, result.Duration, nil)
	return result, nil
}

func (a *Archiver) archive(ctx context.Context, sessionDir, finalPath string) (*Result, error) {
	info, err := os.Stat(sessionDir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", sessionDir)
	}

	paths, err := collect(sessionDir)
	if err != nil {
		return nil, fmt.Errorf("listing session directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(finalPath), ".archive-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("creating temporary archive: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	var compressed io.WriteCloser
	defer func() {
		if !committed {
			if compressed != nil {
				compressed.Close()
			}
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	buffered := bufio.NewWriter(tmp)
	compressed, err = openCodec(buffered, a.compression, a.level)
	if err != nil {
		return nil, err
	}
	tw := tar.NewWriter(compressed)

	root := filepath.Base(sessionDir)
	for _, rel := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := addEntry(tw, sessionDir, root, rel); err != nil {
			return nil, err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("finalizing tar stream: %w", err)
	}
	if err := compressed.Close(); err != nil {
		return nil, fmt.Errorf("finalizing %s stream: %w", a.compression, err)
	}
	if err := buffered.Flush(); err != nil {
		return nil, err
	}
	if err := tmp.Sync(); err != nil {
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return nil, err
	}
	committed = true

	stat, err := os.Stat(finalPath)
	if err != nil {
		return nil, err
	}

	return &Result{
		Path:        finalPath,
		Size:        stat.Size(),
		Compression: a.compression,
		Entries:     len(paths),
	}, nil
}

// collect returns every path under dir relative to it, sorted. "." is the root.
func collect(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

func addEntry(tw *tar.Writer, dir, root, rel string) error {
	full := filepath.Join(dir, rel)
	info, err := os.Lstat(full)
	if err != nil {
		return err
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("building header for %s: %w", rel, err)
	}
	name := filepath.ToSlash(filepath.Join(root, rel))
	if info.IsDir() {
		name += "/"
	}
	header.Name = name

	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("writing header for %s: %w", rel, err)
	}
	if !info.Mode().IsRegular() {
		return nil
	}

	f, err := os.Open(full)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("copying %s: %w", rel, err)
	}
	return nil
}
