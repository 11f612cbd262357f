// Package cleanup removes on-disk session and cache directories left behind
// by the browser-automation bridge. Removal is always best-effort: a failed
// delete is logged as a warning and reported as false, never as an error,
// because callers use it for destructive resets that must not abort teardown.
package cleanup

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// Sanitizer deletes the two well-known directories that hold persisted
// session state: the auth store (credentials) and the cache store
// (downloaded protocol assets).
type Sanitizer struct {
	authDir  string
	cacheDir string
	logger   *slog.Logger
}

func NewSanitizer(authDir, cacheDir string, logger *slog.Logger) *Sanitizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sanitizer{authDir: authDir, cacheDir: cacheDir, logger: logger}
}

// CleanupSessionData removes both session directories. Idempotent: absent
// directories count as success. Returns false if either removal failed.
func (s *Sanitizer) CleanupSessionData() bool {
	ok := RemoveDirectory(s.authDir, s.logger)
	if !RemoveDirectory(s.cacheDir, s.logger) {
		ok = false
	}
	return ok
}

// RemoveDirectory force-removes path and everything under it. An absent path
// succeeds trivially. Bulk removal is attempted first; on failure a manual
// recursive walk retries each entry with a permission fix. Returns false
// only when the fallback also fails.
func RemoveDirectory(path string, logger *slog.Logger) bool {
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := os.Lstat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return true
		}
		logger.Warn("cannot stat directory for removal", "path", path, "error", err)
		return false
	}

	if err := os.RemoveAll(path); err == nil {
		return true
	}

	if err := removeTree(path); err != nil {
		logger.Warn("directory removal failed after fallback", "path", path, "error", err)
		return false
	}
	return true
}

// removeTree is the fallback walk: recurse into directories, delete files,
// and on a permission error relax permissions once and retry.
func removeTree(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}

	if !info.IsDir() {
		return removeFile(path)
	}

	entries, err := os.ReadDir(path)
	if errors.Is(err, fs.ErrPermission) {
		if chmodErr := os.Chmod(path, 0o700); chmodErr == nil {
			entries, err = os.ReadDir(path)
		}
	}
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if err := removeTree(filepath.Join(path, entry.Name())); err != nil {
			return err
		}
	}

	err = os.Remove(path)
	if errors.Is(err, fs.ErrPermission) {
		if chmodErr := os.Chmod(filepath.Dir(path), 0o700); chmodErr == nil {
			err = os.Remove(path)
		}
	}
	return err
}

func removeFile(path string) error {
	err := os.Remove(path)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrPermission) {
		return err
	}
	// Deleting requires write access on the parent; relax both and retry once.
	_ = os.Chmod(path, 0o600)
	_ = os.Chmod(filepath.Dir(path), 0o700)
	return os.Remove(path)
}
