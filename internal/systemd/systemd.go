// Package systemd talks to the systemd manager over the system D-Bus to
// enable and disable unit files. Used to switch the first-boot service
// off once setup has completed.
package systemd

import (
	"context"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	busName    = "org.freedesktop.systemd1"
	objectPath = dbus.ObjectPath("/org/freedesktop/systemd1")
	iface      = "org.freedesktop.systemd1.Manager"
)

// caller is the slice of dbus.BusObject the manager needs. Narrow so
// tests can substitute a fake.
type caller interface {
	CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// Manager wraps the systemd manager interface.
type Manager struct {
	conn *dbus.Conn
	obj  caller
}

// Connect opens a connection to the system bus. A non-empty address
// connects to a private bus instead (integration tests).
func Connect(address string) (*Manager, error) {
	var conn *dbus.Conn
	var err error
	if address == "" {
		conn, err = dbus.ConnectSystemBus()
	} else {
		conn, err = dbus.Connect(address)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to D-Bus: %w", err)
	}
	return &Manager{conn: conn, obj: conn.Object(busName, objectPath)}, nil
}

// Close releases the bus connection.
func (m *Manager) Close() error {
	if m.conn == nil {
		return nil
	}
	return m.conn.Close()
}

// DisableUnit permanently disables a unit file and reloads the manager.
// A unit that does not exist is already as disabled as it can get, so
// that case is success.
func (m *Manager) DisableUnit(ctx context.Context, unit string) error {
	var changes [][]interface{}
	call := m.obj.CallWithContext(ctx, iface+".DisableUnitFiles", 0, []string{unit}, false)
	if err := call.Store(&changes); err != nil {
		if isNoSuchUnit(err) {
			return nil
		}
		return fmt.Errorf("disabling unit %s: %w", unit, err)
	}
	return m.reload(ctx)
}

// EnableUnit enables a unit file permanently and reloads the manager.
func (m *Manager) EnableUnit(ctx context.Context, unit string) error {
	var carriesInstallInfo bool
	var changes [][]interface{}
	call := m.obj.CallWithContext(ctx, iface+".EnableUnitFiles", 0, []string{unit}, false, true)
	if err := call.Store(&carriesInstallInfo, &changes); err != nil {
		return fmt.Errorf("enabling unit %s: %w", unit, err)
	}
	return m.reload(ctx)
}

// UnitFileState returns the unit file state ("enabled", "disabled", ...).
func (m *Manager) UnitFileState(ctx context.Context, unit string) (string, error) {
	var state string
	call := m.obj.CallWithContext(ctx, iface+".GetUnitFileState", 0, unit)
	if err := call.Store(&state); err != nil {
		return "", fmt.Errorf("querying state of %s: %w", unit, err)
	}
	return state, nil
}

func (m *Manager) reload(ctx context.Context) error {
	if call := m.obj.CallWithContext(ctx, iface+".Reload", 0); call.Err != nil {
		return fmt.Errorf("reloading systemd: %w", call.Err)
	}
	return nil
}

// isNoSuchUnit matches the errors systemd reports for unit files that
// do not exist.
func isNoSuchUnit(err error) bool {
	dbusErr, ok := err.(dbus.Error)
	if !ok {
		return false
	}
	switch dbusErr.Name {
	case "org.freedesktop.systemd1.NoSuchUnit",
		"org.freedesktop.DBus.Error.FileNotFound":
		return true
	}
	return strings.Contains(dbusErr.Error(), "No such file or directory")
}
