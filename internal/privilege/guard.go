// Package privilege temporarily drops the helper's effective identity to
// a target user for the duration of a file operation, and guarantees the
// root identity is restored afterwards. The effective uid/gid are
// whole-process attributes, so at most one drop may be active at a time;
// the action executor serializes all privileged work.
package privilege

import (
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/plasma-setup/setup-helper/internal/userdb"
)

// Injectable syscall seams. Tests swap these out so they can run without
// root and exercise the error paths. The effective-id calls come from
// syscall, which applies them to every thread of the process on Linux;
// the unix package only exposes setegid/seteuid wrappers on the BSDs.
var (
	setgroupsFunc = unix.Setgroups
	setegidFunc   = syscall.Setegid
	seteuidFunc   = syscall.Seteuid
	exitFunc      = os.Exit
)

// active guards against a second drop while one is open. The executor
// never does this; the check turns a logic bug into a clean error
// instead of corrupted privilege state.
var active atomic.Bool

// Guard represents an open privilege-drop scope. It must be closed with
// Restore on every path; use With instead of managing a Guard directly.
type Guard struct {
	restored bool
}

// Drop switches the process effective identity to the target user:
// supplementary groups are cleared first (while still root-capable),
// then the effective gid, then the effective uid. A failure here aborts
// the current action only.
func Drop(id userdb.Identity) (*Guard, error) {
	if !active.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("privilege drop already active")
	}

	if err := setgroupsFunc([]int{}); err != nil {
		active.Store(false)
		return nil, fmt.Errorf("clearing supplementary groups: %w", err)
	}
	if err := setegidFunc(int(id.GID)); err != nil {
		active.Store(false)
		return nil, fmt.Errorf("dropping privileges to user %s (gid %d): %w", id.Username, id.GID, err)
	}
	if err := seteuidFunc(int(id.UID)); err != nil {
		// Undo the gid change before reporting; if even that fails we
		// are in the unknown-privilege situation Restore handles.
		if gidErr := setegidFunc(0); gidErr != nil {
			slog.Error("failed to restore gid after partial privilege drop", "err", gidErr)
			exitFunc(1)
		}
		active.Store(false)
		return nil, fmt.Errorf("dropping privileges to user %s (uid %d): %w", id.Username, id.UID, err)
	}

	return &Guard{}, nil
}

// Restore switches the effective identity back to root, uid first then
// gid. If restoration fails the process cannot be trusted to continue at
// an unknown privilege level and terminates immediately. Calling Restore
// more than once is harmless.
func (g *Guard) Restore() {
	if g.restored {
		return
	}
	g.restored = true

	if err := seteuidFunc(0); err != nil {
		slog.Error("failed to restore effective uid 0", "err", err)
		exitFunc(1)
		return
	}
	if err := setegidFunc(0); err != nil {
		slog.Error("failed to restore effective gid 0", "err", err)
		exitFunc(1)
		return
	}
	active.Store(false)
}

// With runs fn with privileges dropped to the target identity and
// restores root on every exit path, including when fn fails.
func With(id userdb.Identity, fn func() error) error {
	guard, err := Drop(id)
	if err != nil {
		return err
	}
	defer guard.Restore()
	return fn()
}
