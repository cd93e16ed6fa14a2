// Package runner invokes trusted system executables with argument
// vectors. Arguments are never joined into a shell command line, the
// executable is located in a fixed set of system directories before any
// PATH search, and every invocation is bounded by a timeout.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"
)

var (
	// ErrNotFound reports that the executable was in neither the trusted
	// directories nor PATH. No process is spawned in that case.
	ErrNotFound = errors.New("executable not found")
	// ErrTimeout reports that the child did not finish within the
	// configured bound and was killed.
	ErrTimeout = errors.New("command timed out")
)

// DefaultTimeout bounds a single tool invocation. Account-management
// tools finish in well under this; anything longer is hung.
const DefaultTimeout = 30 * time.Second

// trustedDirs are searched before falling back to a generic PATH lookup.
var trustedDirs = []string{"/usr/sbin", "/usr/bin", "/sbin", "/bin"}

// Result captures the outcome of a finished child process. A nonzero
// exit code is reported here, not as an error.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner locates and executes system tools.
type Runner struct {
	// Dirs overrides the trusted directory list. Empty means the
	// built-in system directories.
	Dirs []string
	// Timeout bounds each invocation. Zero means DefaultTimeout.
	Timeout time.Duration
}

// locate finds name in the trusted directories, falling back to PATH.
func (r *Runner) locate(name string) (string, error) {
	dirs := r.Dirs
	if len(dirs) == 0 {
		dirs = trustedDirs
	}
	for _, dir := range dirs {
		candidate := filepath.Join(dir, name)
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		if info.Mode().Perm()&0o111 != 0 {
			return candidate, nil
		}
	}
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Run executes name with the given argument vector. When stdin is
// non-nil its bytes are written to the child's standard input and the
// write side is closed to signal EOF; the buffer is zeroed as soon as
// the write finishes, on success and failure alike, because it may hold
// a secret.
func (r *Runner) Run(ctx context.Context, name string, args []string, stdin []byte) (Result, error) {
	defer zeroBytes(stdin)

	path, err := r.locate(name)
	if err != nil {
		return Result{}, err
	}

	timeout := r.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, path, args...)
	// The child runs in its own process group so the deadline kill reaches
	// anything it forked; a stray grandchild would otherwise keep the
	// output pipes open and stall Wait past the timeout. WaitDelay bounds
	// the pipe drain for the same reason.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	var in io.WriteCloser
	if stdin != nil {
		in, err = cmd.StdinPipe()
		if err != nil {
			return Result{}, fmt.Errorf("creating stdin pipe for %s: %w", name, err)
		}
	}

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("starting %s: %w", name, err)
	}

	if in != nil {
		_, werr := in.Write(stdin)
		in.Close()
		zeroBytes(stdin)
		if werr != nil {
			cmd.Process.Kill()
			cmd.Wait()
			return Result{}, fmt.Errorf("writing stdin to %s: %w", name, werr)
		}
	}

	waitErr := cmd.Wait()
	result := Result{
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return result, fmt.Errorf("%w: %s after %s", ErrTimeout, name, timeout)
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			// Nonzero exit is part of the Result, not an error.
			return result, nil
		}
		return result, fmt.Errorf("running %s: %w", name, waitErr)
	}
	return result, nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
