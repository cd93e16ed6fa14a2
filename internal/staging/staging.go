// Package staging copies files only the privileged account can read
// into world-readable temporary copies, so that a later privilege-
// dropped step can read them back. Handles must be kept alive across
// the privilege drop and removed once the read-back copy is done.
package staging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// StagedFile is a temporary world-readable copy of a privileged source
// file. Remove deletes it.
type StagedFile struct {
	// Path of the temporary copy.
	Path string
	// Name is the base name of the original source file.
	Name string

	dir     string
	ownsDir bool
}

// Stage copies sourcePath into a fresh private temporary directory,
// makes the directory traversable (0755) and the copy world-readable
// (0644), and returns a handle to it.
func Stage(sourcePath string) (*StagedFile, error) {
	dir, err := os.MkdirTemp("", "setup-helper-stage-")
	if err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}

	staged, err := stageInto(dir, sourcePath)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	staged.ownsDir = true
	return staged, nil
}

// StageAll stages several source files into one shared temporary
// directory. On any failure the directory and all copies made so far
// are removed.
func StageAll(sourcePaths []string) ([]*StagedFile, error) {
	dir, err := os.MkdirTemp("", "setup-helper-stage-")
	if err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}

	staged := make([]*StagedFile, 0, len(sourcePaths))
	for _, src := range sourcePaths {
		s, err := stageInto(dir, src)
		if err != nil {
			os.RemoveAll(dir)
			return nil, err
		}
		staged = append(staged, s)
	}
	if len(staged) > 0 {
		staged[0].ownsDir = true
	}
	return staged, nil
}

func stageInto(dir, sourcePath string) (*StagedFile, error) {
	// The target user needs to traverse the directory after the drop.
	if err := os.Chmod(dir, 0o755); err != nil {
		return nil, fmt.Errorf("setting staging directory permissions: %w", err)
	}

	src, err := os.Open(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("opening staging source %s: %w", sourcePath, err)
	}
	defer src.Close()

	name := filepath.Base(sourcePath)
	tmpPath := filepath.Join(dir, name)
	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating staged copy %s: %w", tmpPath, err)
	}

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("copying %s to staging: %w", sourcePath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("flushing staged copy %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("closing staged copy %s: %w", tmpPath, err)
	}
	// O_CREAT honors the umask; make the mode explicit.
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("setting staged copy permissions: %w", err)
	}

	return &StagedFile{Path: tmpPath, Name: name, dir: dir}, nil
}

// CopyTo writes the staged contents to dstPath. Called while privileges
// are dropped, so the resulting file is owned by the target user.
func (s *StagedFile) CopyTo(dstPath string) error {
	src, err := os.Open(s.Path)
	if err != nil {
		return fmt.Errorf("opening staged copy %s: %w", s.Path, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dstPath, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("copying staged file to %s: %w", dstPath, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", dstPath, err)
	}
	return nil
}

// Remove deletes the temporary copy, and its directory when this handle
// owns it. Safe to call more than once.
func (s *StagedFile) Remove() {
	os.Remove(s.Path)
	if s.ownsDir {
		os.RemoveAll(s.dir)
	}
}
