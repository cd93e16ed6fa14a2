// Package platform applies machine-wide settings chosen during setup:
// static hostname, timezone, and system locale. Each goes through the
// matching freedesktop D-Bus service so the change takes effect
// immediately and persists, instead of editing files behind their backs.
package platform

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"

	"github.com/plasma-setup/setup-helper/internal/validate"
)

const (
	hostnameBus  = "org.freedesktop.hostname1"
	hostnamePath = dbus.ObjectPath("/org/freedesktop/hostname1")
	timedateBus  = "org.freedesktop.timedate1"
	timedatePath = dbus.ObjectPath("/org/freedesktop/timedate1")
	localeBus    = "org.freedesktop.locale1"
	localePath   = dbus.ObjectPath("/org/freedesktop/locale1")
)

// caller is the slice of dbus.BusObject the settings need. Narrow so
// tests can substitute a fake.
type caller interface {
	CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// Settings applies system-wide configuration over the system bus.
type Settings struct {
	conn     *dbus.Conn
	hostname caller
	timedate caller
	locale   caller
}

// Connect opens a connection to the system bus. A non-empty address
// connects to a private bus instead (integration tests).
func Connect(address string) (*Settings, error) {
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
	return &Settings{
		conn:     conn,
		hostname: conn.Object(hostnameBus, hostnamePath),
		timedate: conn.Object(timedateBus, timedatePath),
		locale:   conn.Object(localeBus, localePath),
	}, nil
}

// Close releases the bus connection.
func (s *Settings) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// SetStaticHostname validates and applies the static hostname through
// hostnamed. Invalid names are rejected locally with the same message
// the GUI shows, before anything reaches the bus.
func (s *Settings) SetStaticHostname(ctx context.Context, hostname string) error {
	if res := validate.Hostname(hostname); res != validate.HostnameValid {
		return fmt.Errorf("invalid hostname: %s", validate.HostnameMessage(res))
	}
	call := s.hostname.CallWithContext(ctx, hostnameBus+".SetStaticHostname", 0, hostname, false)
	if call.Err != nil {
		return fmt.Errorf("setting hostname: %w", call.Err)
	}
	return nil
}

// SetTimezone applies an IANA timezone name ("Europe/Berlin") through
// timedated, which rejects names outside the system zone database.
func (s *Settings) SetTimezone(ctx context.Context, zone string) error {
	if zone == "" {
		return fmt.Errorf("timezone must not be empty")
	}
	call := s.timedate.CallWithContext(ctx, timedateBus+".SetTimezone", 0, zone, false)
	if call.Err != nil {
		return fmt.Errorf("setting timezone: %w", call.Err)
	}
	return nil
}

// SetLocale applies the system locale ("LANG=de_DE.UTF-8") through
// localed. Additional LC_* assignments may follow the first entry.
func (s *Settings) SetLocale(ctx context.Context, assignments []string) error {
	if len(assignments) == 0 {
		return fmt.Errorf("locale assignments must not be empty")
	}
	call := s.locale.CallWithContext(ctx, localeBus+".SetLocale", 0, assignments, false)
	if call.Err != nil {
		return fmt.Errorf("setting locale: %w", call.Err)
	}
	return nil
}
