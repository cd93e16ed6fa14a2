package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/plasma-setup/setup-helper/internal/dmconfig"
	"github.com/plasma-setup/setup-helper/internal/helper"
	"github.com/plasma-setup/setup-helper/internal/logging"
	"github.com/plasma-setup/setup-helper/internal/runner"
	"github.com/plasma-setup/setup-helper/internal/systemd"
	"github.com/plasma-setup/setup-helper/internal/userdb"
)

// Config holds daemon startup parameters.
type Config struct {
	// BusAddress is the D-Bus address to connect to.
	// Empty means the system bus (production). Non-empty connects to a custom
	// address — used by integration tests to point at a private dbus-daemon.
	BusAddress string

	// Version is the string reported by GetVersion().
	Version string

	// Helper configures the action executor. An empty AutologinPath or
	// SettingsPath is resolved here against the display manager in use;
	// an empty ExecPath becomes the running binary.
	Helper helper.Config

	// LoginDefsPath and PasswdPath feed the user directory.
	LoginDefsPath string
	PasswdPath    string

	// ActionTimeout bounds each external tool invocation. Zero means the
	// runner default.
	ActionTimeout time.Duration
}

// Run starts the daemon, registers on D-Bus, sends READY=1 via sd-notify,
// and blocks until ctx is cancelled. Returns nil on clean shutdown.
func Run(ctx context.Context, cfg Config) error {
	// Connect to the appropriate D-Bus bus.
	var conn *dbus.Conn
	var err error
	if cfg.BusAddress == "" {
		conn, err = dbus.ConnectSystemBus()
	} else {
		conn, err = dbus.Connect(cfg.BusAddress)
	}
	if err != nil {
		return fmt.Errorf("connect to D-Bus: %w", err)
	}
	defer conn.Close()

	// A separate connection for the systemd manager; unit actions fail
	// cleanly when it is unavailable (private test buses, containers).
	var units helper.UnitManager
	mgr, err := systemd.Connect(cfg.BusAddress)
	if err != nil {
		slog.Warn("systemd unavailable, unit actions will fail", "err", err)
	} else {
		defer mgr.Close()
		units = mgr
	}

	hcfg := cfg.Helper
	if hcfg.AutologinPath == "" {
		hcfg.AutologinPath = dmconfig.SDDMAutologinPath
		if mgr != nil {
			hcfg.AutologinPath = dmconfig.ActivePath(func(unit string) (string, error) {
				return mgr.UnitFileState(ctx, unit)
			})
		}
	}
	if hcfg.SettingsPath == "" {
		hcfg.SettingsPath = dmconfig.SDDMSettingsPath
	}
	if hcfg.ExecPath == "" {
		if exe, err := os.Executable(); err == nil {
			hcfg.ExecPath = exe
		}
	}

	dir := userdb.New(cfg.LoginDefsPath, cfg.PasswdPath)
	run := &runner.Runner{Timeout: cfg.ActionTimeout}
	exec := helper.New(hcfg, dir, run, units)
	h := NewHelper(ctx, conn, exec, logging.FromSlog(slog.Default()), cfg.Version)

	if err := conn.Export(h, ObjectPath, Interface); err != nil {
		return fmt.Errorf("export helper: %w", err)
	}

	// Always export Introspectable — without it busctl introspect gives opaque errors.
	node := &introspect.Node{
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name:    Interface,
				Methods: introspect.Methods(h),
			},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), ObjectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("export introspectable: %w", err)
	}

	// Request the well-known bus name.
	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("request bus name %q: %w", BusName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("not primary owner of %q (reply=%d); policy rejected or name already taken", BusName, reply)
	}

	slog.Info("helper ready", "bus_name", BusName, "autologin_path", hcfg.AutologinPath)

	// Notify systemd that startup is complete.
	SdNotify("READY=1")

	// Block until context is cancelled (SIGTERM/SIGINT handled by caller).
	<-ctx.Done()

	slog.Info("helper shutting down")
	return nil
}
