package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	cerrors "cloudeng.io/errors"
	"github.com/cordum/devserver/core/infra/logging"
	"github.com/cordum/devserver/core/infra/metrics"
)

const (
	resultInstalled = "installed"
	resultSkipped   = "skipped"
	resultFailed    = "failed"
)

// InstallRequest describes one archive to install.
type InstallRequest struct {
	URL       string
	Overwrite bool
	Checksum  string
}

// InstallResult reports what Install did.
type InstallResult struct {
	Name    string `json:"name"`
	Dir     string `json:"dir,omitempty"`
	Digest  string `json:"digest,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`
}

// Installer downloads, verifies and unpacks archives into a Store.
// Calls must be serialized by the caller.
type Installer struct {
	store      *Store
	downloader Downloader
	limits     Limits
	metrics    metrics.Metrics
}

func NewInstaller(store *Store, downloader Downloader, limits Limits, m metrics.Metrics) *Installer {
	if m == nil {
		m = metrics.Noop{}
	}
	return &Installer{
		store:      store,
		downloader: downloader,
		limits:     limits.withDefaults(),
		metrics:    m,
	}
}

// Install fetches req.URL and installs it under its derived bundle name.
func (i *Installer) Install(ctx context.Context, req InstallRequest) (res InstallResult, err error) {
	start := time.Now()
	defer func() {
		result := resultInstalled
		switch {
		case err != nil:
			result = resultFailed
		case res.Skipped:
			result = resultSkipped
		}
		i.metrics.IncInstalls(result)
		i.metrics.ObserveInstallDuration(time.Since(start).Seconds())
	}()

	source, err := parseSource(req.URL)
	if err != nil {
		return InstallResult{}, err
	}
	if _, err := i.store.EnsureRoot(); err != nil {
		return InstallResult{}, err
	}

	tmp, err := i.downloader.Download(ctx, source.String())
	if err != nil {
		return InstallResult{}, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	cleanup := &cerrors.M{}
	defer func() {
		cleanup.Append(removeIfExists(tmp))
		if cerr := cleanup.Err(); cerr != nil {
			logging.Error("assets", "install cleanup failed", "url", req.URL, "error", cerr)
		}
	}()

	var digest string
	if strings.TrimSpace(req.Checksum) != "" {
		if digest, err = Digest(tmp); err != nil {
			return InstallResult{}, fmt.Errorf("%w: %v", ErrIOFailed, err)
		}
		if err := compareDigest(req.Checksum, digest); err != nil {
			logging.Warn("assets", "checksum mismatch", "url", req.URL, "error", err)
			return InstallResult{}, err
		}
	}

	name := BundleName(source.String())
	target, err := i.store.path(name)
	if err != nil {
		return InstallResult{}, fmt.Errorf("%w: %v", ErrIOFailed, err)
	}
	if i.store.Exists(name) {
		if !req.Overwrite {
			logging.Info("assets", "bundle exists, skipping install", "name", name)
			return InstallResult{Name: name, Dir: target, Digest: digest, Skipped: true}, nil
		}
		if err := i.store.Remove(name); err != nil {
			return InstallResult{}, err
		}
	}

	staging := i.store.StagingPath()
	if err := removeIfExists(staging); err != nil {
		logging.Warn("assets", "stale staging file not removed", "path", staging, "error", err)
	}
	if err := moveFile(tmp, staging); err != nil {
		return InstallResult{}, fmt.Errorf("%w: stage archive: %v", ErrIOFailed, err)
	}
	defer func() { cleanup.Append(removeIfExists(staging)) }()

	if err := os.MkdirAll(target, 0o750); err != nil {
		return InstallResult{}, fmt.Errorf("%w: create %s: %v", ErrIOFailed, target, err)
	}
	if err := Extract(staging, target, i.limits); err != nil {
		cleanup.Append(os.RemoveAll(target))
		return InstallResult{}, fmt.Errorf("%w: %v", ErrExtractFailed, err)
	}
	logging.Info("assets", "bundle installed", "name", name, "dir", target, "digest", digest)
	return InstallResult{Name: name, Dir: target, Digest: digest}, nil
}

func removeIfExists(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// moveFile renames src to dst, copying when the rename crosses filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// #nosec G304 -- src is a downloader temp file.
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	// #nosec G304 -- dst is the store staging path.
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return nil
}
