// Package service installs the helper's systemd system unit and the
// D-Bus policy that lets it own its bus name. The unit is bus-activated
// and gated on the setup-complete marker, so a finished system never
// starts the helper again.
package service

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/plasma-setup/setup-helper/internal/daemon"
	"github.com/plasma-setup/setup-helper/internal/flagfile"
)

const (
	unitFileName   = "plasma-setup-helper.service"
	policyFileName = "org.plasmasetup.Helper1.conf"
	busServiceName = "org.plasmasetup.Helper1.service"
)

// Production locations. Vars so tests can redirect them.
var (
	unitDir       = "/etc/systemd/system"
	policyDir     = "/etc/dbus-1/system.d"
	busServiceDir = "/usr/share/dbus-1/system-services"
)

// Args: flag file path, ExecStart command line.
const unitTemplate = `[Unit]
Description=Privileged helper for first-boot setup
ConditionPathExists=!%s

[Service]
Type=dbus
BusName=` + daemon.BusName + `
ExecStart=%s
Restart=no
NoNewPrivileges=no
ProtectSystem=no

[Install]
WantedBy=multi-user.target
`

// policyContent lets root own the helper name and anyone call it; the
// daemon validates every request itself, and the interface exposes
// nothing a local user could not already ask the setup session to do.
const policyContent = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE busconfig PUBLIC "-//freedesktop//DTD D-BUS Bus Configuration 1.0//EN"
 "http://www.freedesktop.org/standards/dbus/1.0/busconfig.dtd">
<busconfig>
  <policy user="root">
    <allow own="` + daemon.BusName + `"/>
    <allow send_destination="` + daemon.BusName + `"/>
  </policy>
  <policy context="default">
    <allow send_destination="` + daemon.BusName + `"/>
  </policy>
</busconfig>
`

// Args: executable path.
const busServiceTemplate = `[D-BUS Service]
Name=` + daemon.BusName + `
Exec=%s serve
User=root
SystemdService=` + unitFileName + `
`

// Options configures service installation.
type Options struct {
	// ConfigPath, if set, adds --config <path> to ExecStart.
	ConfigPath string
	// FlagPath gates the unit; empty means the default marker location.
	FlagPath string
	// Start the service immediately after enabling.
	Start bool
}

// UnitPath returns the full path where the unit file is (or would be) installed.
func UnitPath() string {
	return filepath.Join(unitDir, unitFileName)
}

// Install writes the unit, bus policy, and bus activation files, reloads
// systemd, and enables the service.
func Install(opts Options) error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("find executable: %w", err)
	}
	self, err = filepath.EvalSymlinks(self)
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	flagPath := opts.FlagPath
	if flagPath == "" {
		flagPath = flagfile.DefaultPath
	}

	execStart := self + " serve"
	if opts.ConfigPath != "" {
		execStart += " --config " + opts.ConfigPath
	}

	files := []struct {
		path    string
		content string
	}{
		{filepath.Join(unitDir, unitFileName), fmt.Sprintf(unitTemplate, flagPath, execStart)},
		{filepath.Join(policyDir, policyFileName), policyContent},
		{filepath.Join(busServiceDir, busServiceName), fmt.Sprintf(busServiceTemplate, self)},
	}
	for _, f := range files {
		if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
			return fmt.Errorf("create %s: %w", filepath.Dir(f.path), err)
		}
		if err := os.WriteFile(f.path, []byte(f.content), 0644); err != nil {
			return fmt.Errorf("write %s: %w", f.path, err)
		}
		fmt.Printf("Wrote %s\n", f.path)
	}

	if err := systemctlFunc("daemon-reload"); err != nil {
		return err
	}

	if err := systemctlFunc("enable", unitFileName); err != nil {
		return err
	}
	fmt.Printf("Enabled %s\n", unitFileName)

	if opts.Start {
		if err := systemctlFunc("start", unitFileName); err != nil {
			return err
		}
		fmt.Printf("Started %s\n", unitFileName)
	}

	return nil
}

// Uninstall stops and disables the service, removes all installed files,
// and reloads systemd. Files that are already gone are not an error.
func Uninstall() error {
	// Stop first (ignore error — may not be running).
	_ = systemctlFunc("stop", unitFileName)

	if err := systemctlFunc("disable", unitFileName); err != nil {
		return err
	}
	fmt.Printf("Disabled %s\n", unitFileName)

	paths := []string{
		filepath.Join(unitDir, unitFileName),
		filepath.Join(policyDir, policyFileName),
		filepath.Join(busServiceDir, busServiceName),
	}
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", path, err)
		}
		fmt.Printf("Removed %s\n", path)
	}

	return systemctlFunc("daemon-reload")
}

// Status runs systemctl status for the service, printing output directly.
func Status() error {
	cmd := exec.Command("systemctl", "status", unitFileName)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	// systemctl status exits non-zero when inactive — not an error for us.
	cmd.Run()
	return nil
}

// systemctlFunc is the function used to run systemctl commands.
// Replaced in tests to avoid requiring a real systemd.
var systemctlFunc = systemctlExec

func systemctlExec(args ...string) error {
	cmd := exec.Command("systemctl", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("systemctl %s: %w", args[0], err)
	}
	return nil
}
