package runner

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeScript drops an executable shell script into dir.
func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script %s: %v", name, err)
	}
}

func TestRunCapturesOutputAndExitCode(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "tool", `echo out-line; echo err-line >&2; exit 3`)

	r := &Runner{Dirs: []string{dir}}
	res, err := r.Run(context.Background(), "tool", nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
	if res.Stdout != "out-line\n" {
		t.Errorf("Stdout = %q", res.Stdout)
	}
	if res.Stderr != "err-line\n" {
		t.Errorf("Stderr = %q", res.Stderr)
	}
}

func TestRunArgumentsAreNotShellInterpreted(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "tool", `printf '%s\n' "$1"`)

	r := &Runner{Dirs: []string{dir}}
	// A shell would split or act on this; a proper argv passes it through.
	arg := "a b; rm -rf /tmp/nope && echo injected"
	res, err := r.Run(context.Background(), "tool", []string{arg}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Stdout != arg+"\n" {
		t.Errorf("argument mangled: %q", res.Stdout)
	}
}

func TestRunNotFound(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	r := &Runner{Dirs: []string{t.TempDir()}}
	_, err := r.Run(context.Background(), "no-such-tool", nil, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Run = %v, want ErrNotFound", err)
	}
}

func TestLocatePrefersTrustedDirs(t *testing.T) {
	trusted := t.TempDir()
	pathDir := t.TempDir()
	writeScript(t, trusted, "tool", "exit 0")
	writeScript(t, pathDir, "tool", "exit 0")
	t.Setenv("PATH", pathDir)

	r := &Runner{Dirs: []string{trusted}}
	got, err := r.locate("tool")
	if err != nil {
		t.Fatalf("locate: %v", err)
	}
	if got != filepath.Join(trusted, "tool") {
		t.Errorf("locate = %q, want trusted dir copy", got)
	}
}

func TestLocateFallsBackToPath(t *testing.T) {
	pathDir := t.TempDir()
	writeScript(t, pathDir, "tool", "exit 0")
	t.Setenv("PATH", pathDir)

	r := &Runner{Dirs: []string{t.TempDir()}}
	got, err := r.locate("tool")
	if err != nil {
		t.Fatalf("locate: %v", err)
	}
	if got != filepath.Join(pathDir, "tool") {
		t.Errorf("locate = %q, want PATH copy", got)
	}
}

func TestLocateSkipsNonExecutable(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "tool"), []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", t.TempDir())

	r := &Runner{Dirs: []string{dir}}
	if _, err := r.locate("tool"); !errors.Is(err, ErrNotFound) {
		t.Errorf("locate = %v, want ErrNotFound for non-executable file", err)
	}
}

func TestRunDeliversStdinAndZeroesBuffer(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "received")
	writeScript(t, dir, "tool", "cat > "+out)

	secret := []byte("alice:hunter2\n")
	want := append([]byte(nil), secret...)

	r := &Runner{Dirs: []string{dir}}
	res, err := r.Run(context.Background(), "tool", nil, secret)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("ExitCode = %d, stderr: %s", res.ExitCode, res.Stderr)
	}

	received, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read received: %v", err)
	}
	if !bytes.Equal(received, want) {
		t.Errorf("child received %q, want %q", received, want)
	}
	if !bytes.Equal(secret, make([]byte, len(secret))) {
		t.Errorf("stdin buffer not zeroed: %q", secret)
	}
}

func TestRunZeroesStdinOnNotFound(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	secret := []byte("alice:hunter2\n")
	r := &Runner{Dirs: []string{t.TempDir()}}
	if _, err := r.Run(context.Background(), "no-such-tool", nil, secret); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Run = %v, want ErrNotFound", err)
	}
	if !bytes.Equal(secret, make([]byte, len(secret))) {
		t.Errorf("stdin buffer not zeroed on failure path: %q", secret)
	}
}

func TestRunTimeout(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "tool", "sleep 10")

	r := &Runner{Dirs: []string{dir}, Timeout: 100 * time.Millisecond}
	start := time.Now()
	_, err := r.Run(context.Background(), "tool", nil, nil)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Run = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("child not killed promptly, took %v", elapsed)
	}
}

func TestRunTimeoutKillsForkedChildren(t *testing.T) {
	dir := t.TempDir()
	// The grandchild inherits the output pipes; killing only the script
	// would leave it holding them open for its full sleep.
	writeScript(t, dir, "tool", "sleep 10 &\nwait")

	r := &Runner{Dirs: []string{dir}, Timeout: 100 * time.Millisecond}
	start := time.Now()
	_, err := r.Run(context.Background(), "tool", nil, nil)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Run = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("forked child kept Run blocked for %v", elapsed)
	}
}

func TestRunReturnsWhenBackgroundChildOutlivesTool(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "tool", "echo done\nsleep 10 &\nexit 0")

	r := &Runner{Dirs: []string{dir}}
	start := time.Now()
	res, err := r.Run(context.Background(), "tool", nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 0 || res.Stdout != "done\n" {
		t.Errorf("result = %+v", res)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Run waited on the background child for %v", elapsed)
	}
}
