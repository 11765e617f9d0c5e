package assets

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

const (
	defaultMaxFiles      = 10000
	defaultMaxFileBytes  = 256 << 20
	defaultMaxTotalBytes = 1 << 30
)

// Limits bound what a single archive may expand to.
type Limits struct {
	MaxFiles      int
	MaxFileBytes  int64
	MaxTotalBytes int64
}

func DefaultLimits() Limits {
	return Limits{
		MaxFiles:      defaultMaxFiles,
		MaxFileBytes:  defaultMaxFileBytes,
		MaxTotalBytes: defaultMaxTotalBytes,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxFiles <= 0 {
		l.MaxFiles = d.MaxFiles
	}
	if l.MaxFileBytes <= 0 {
		l.MaxFileBytes = d.MaxFileBytes
	}
	if l.MaxTotalBytes <= 0 {
		l.MaxTotalBytes = d.MaxTotalBytes
	}
	return l
}

// Extract unpacks a zip archive into dest, which must already exist.
func Extract(archive, dest string, limits Limits) error {
	limits = limits.withDefaults()
	r, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	var (
		files   int
		totalSz int64
	)
	for _, f := range r.File {
		target, err := safeJoin(dest, f.Name)
		if err != nil {
			return err
		}
		mode := f.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, 0o750); err != nil {
				return err
			}
		case mode&os.ModeSymlink != 0:
			continue
		case mode.IsRegular():
			files++
			if files > limits.MaxFiles {
				return fmt.Errorf("archive exceeds max files (%d)", limits.MaxFiles)
			}
			if f.UncompressedSize64 > uint64(limits.MaxFileBytes) {
				return fmt.Errorf("archive file too large: %s", f.Name)
			}
			n, err := extractFile(f, target, limits.MaxFileBytes)
			if err != nil {
				return err
			}
			totalSz += n
			if totalSz > limits.MaxTotalBytes {
				return fmt.Errorf("archive exceeds max size (%d bytes)", limits.MaxTotalBytes)
			}
		}
	}
	return nil
}

func extractFile(f *zip.File, target string, maxBytes int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return 0, err
	}
	rc, err := f.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	// #nosec G304 -- target path is validated by safeJoin.
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, io.LimitReader(rc, maxBytes+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, err
	}
	if n > maxBytes {
		return n, fmt.Errorf("archive file too large: %s", f.Name)
	}
	return n, nil
}

func safeJoin(base, name string) (string, error) {
	name = strings.ReplaceAll(strings.TrimSpace(name), `\`, "/")
	if strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("absolute archive path: %s", name)
	}
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == "." || clean == "" {
		return "", fmt.Errorf("invalid archive path: %s", name)
	}
	if filepath.IsAbs(clean) || filepath.VolumeName(clean) != "" {
		return "", fmt.Errorf("absolute archive path: %s", name)
	}
	target := filepath.Join(base, clean)
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return "", fmt.Errorf("invalid archive path: %s", name)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", errors.New("archive entry escapes target: " + name)
	}
	return target, nil
}
