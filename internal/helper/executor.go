// Package helper executes the privileged actions of the first-boot setup
// flow. Every action validates its inputs before touching the system,
// resolves target accounts through the user directory so system accounts
// are never touched, and runs at most one action at a time because the
// privilege drop is a whole-process attribute.
package helper

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/plasma-setup/setup-helper/internal/privilege"
	"github.com/plasma-setup/setup-helper/internal/runner"
	"github.com/plasma-setup/setup-helper/internal/userdb"
)

// withPrivilegesFunc is the privilege-drop seam. Tests replace it so
// handlers can run unprivileged.
var withPrivilegesFunc = privilege.With

// Resolver resolves usernames to system identities. Satisfied by
// *userdb.Directory.
type Resolver interface {
	Resolve(username string) (userdb.Identity, error)
}

// UnitManager enables and disables systemd unit files. Satisfied by
// *systemd.Manager.
type UnitManager interface {
	DisableUnit(ctx context.Context, unit string) error
	EnableUnit(ctx context.Context, unit string) error
}

// Config carries the filesystem and unit locations the actions operate
// on. Zero values are filled with the production defaults by the daemon;
// tests point everything at temporary paths.
type Config struct {
	// SourceDir holds the configuration files the setup session wrote
	// for hand-off to the new user (kdeglobals, kwinrc, ...).
	SourceDir string
	// AutologinPath is the display manager autologin fragment.
	AutologinPath string
	// SettingsPath is the display manager settings file checked for a
	// stale empty autologin group.
	SettingsPath string
	// FlagPath is the setup-complete marker.
	FlagPath string
	// SetupConfPath is the setup configuration file carrying the default
	// group memberships for new users.
	SetupConfPath string
	// SetupUnit is the first-boot service unit this helper may disable
	// or re-enable.
	SetupUnit string
	// ExecPath is the helper's own executable, referenced by the
	// autostart removal hook.
	ExecPath string
}

type handlerFunc func(ctx context.Context, args Args) (map[string]string, error)

// Executor dispatches validated action requests to their handlers.
type Executor struct {
	cfg      Config
	resolver Resolver
	run      *runner.Runner
	units    UnitManager

	mu       sync.Mutex
	handlers map[string]handlerFunc
}

// New builds an Executor. units may be nil when no bus connection is
// available; the unit actions then fail cleanly.
func New(cfg Config, resolver Resolver, run *runner.Runner, units UnitManager) *Executor {
	e := &Executor{
		cfg:      cfg,
		resolver: resolver,
		run:      run,
		units:    units,
	}
	e.handlers = map[string]handlerFunc{
		"createUser":                 e.createUser,
		"setNewUserGlobalTheme":      e.setNewUserGlobalTheme,
		"setNewUserDisplayScaling":   e.setNewUserDisplayScaling,
		"setNewUserTempAutologin":    e.setNewUserTempAutologin,
		"createNewUserAutostartHook": e.createNewUserAutostartHook,
		"createFlagFile":             e.createFlagFile,
		"removeAutologin":            e.removeAutologin,
		"disableSystemdUnit":         e.disableSystemdUnit,
		"enableSystemdUnit":          e.enableSystemdUnit,
	}
	return e
}

// Execute runs one named action. Actions are serialized; a request
// arriving while another runs waits its turn. Unknown actions fail
// without side effects.
func (e *Executor) Execute(ctx context.Context, action string, args Args) (map[string]string, error) {
	handler, ok := e.handlers[action]
	if !ok {
		return nil, fmt.Errorf("unknown action %q", action)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return handler(ctx, args)
}

// Actions returns the sorted action names, for usage output.
func (e *Executor) Actions() []string {
	names := make([]string, 0, len(e.handlers))
	for name := range e.handlers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (e *Executor) allowUnit(unit string) error {
	if unit != e.cfg.SetupUnit {
		return fmt.Errorf("unit %q is not managed by this helper", unit)
	}
	return nil
}

func (e *Executor) disableSystemdUnit(ctx context.Context, args Args) (map[string]string, error) {
	unit, err := args.OptionalString("unit")
	if err != nil {
		return nil, err
	}
	if unit == "" {
		unit = e.cfg.SetupUnit
	}
	if err := e.allowUnit(unit); err != nil {
		return nil, err
	}
	if e.units == nil {
		return nil, fmt.Errorf("no systemd connection")
	}
	return nil, e.units.DisableUnit(ctx, unit)
}

func (e *Executor) enableSystemdUnit(ctx context.Context, args Args) (map[string]string, error) {
	unit, err := args.OptionalString("unit")
	if err != nil {
		return nil, err
	}
	if unit == "" {
		unit = e.cfg.SetupUnit
	}
	if err := e.allowUnit(unit); err != nil {
		return nil, err
	}
	if e.units == nil {
		return nil, fmt.Errorf("no systemd connection")
	}
	return nil, e.units.EnableUnit(ctx, unit)
}
