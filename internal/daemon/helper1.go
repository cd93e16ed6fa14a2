// Package daemon registers the setup helper on the system D-Bus as
// org.plasmasetup.Helper1 and hands incoming action requests to the
// executor. Bus policy restricts callers to the setup session; the
// daemon still validates everything itself.
package daemon

import (
	"context"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"

	"github.com/plasma-setup/setup-helper/internal/helper"
	"github.com/plasma-setup/setup-helper/internal/logging"
	"github.com/plasma-setup/setup-helper/internal/procutil"
)

// D-Bus interface constants for the setup helper.
const (
	BusName    = "org.plasmasetup.Helper1"
	ObjectPath = dbus.ObjectPath("/org/plasmasetup/Helper1")
	Interface  = "org.plasmasetup.Helper1"
)

// Helper is the D-Bus object exported under ObjectPath/Interface.
type Helper struct {
	ctx     context.Context
	conn    *dbus.Conn
	exec    *helper.Executor
	audit   *logging.Logger
	version string
}

// NewHelper wires the exported object. ctx bounds every action the
// object runs; cancelling it aborts in-flight child processes.
func NewHelper(ctx context.Context, conn *dbus.Conn, exec *helper.Executor, audit *logging.Logger, version string) *Helper {
	return &Helper{
		ctx:     ctx,
		conn:    conn,
		exec:    exec,
		audit:   audit,
		version: version,
	}
}

// Execute runs one named action with the given arguments and returns its
// outputs. Every request is audit-logged with the invoking process and a
// fresh request id; secret argument values never reach the log.
func (h *Helper) Execute(action string, variants map[string]dbus.Variant, sender dbus.Sender) (map[string]string, *dbus.Error) {
	args := make(helper.Args, len(variants))
	for k, v := range variants {
		args[k] = v.Value()
	}

	out, err := h.exec.Execute(h.ctx, action, args)
	h.audit.LogAction(h.ctx, uuid.NewString(), action, logging.Redact(args), h.invoker(sender), err)
	if err != nil {
		return nil, dbus.MakeFailedError(err)
	}
	if out == nil {
		out = map[string]string{}
	}
	return out, nil
}

// Ping is a health check. Returns "pong" to confirm the daemon is alive.
func (h *Helper) Ping() (string, *dbus.Error) {
	return "pong", nil
}

// GetVersion returns the daemon version string.
func (h *Helper) GetVersion() (string, *dbus.Error) {
	return h.version, nil
}

// invoker names the requesting process for the audit log. Lookup
// failures degrade to "unknown[0]" rather than failing the request.
func (h *Helper) invoker(sender dbus.Sender) string {
	if h.conn == nil {
		return "unknown[0]"
	}
	var creds map[string]dbus.Variant
	err := h.conn.BusObject().Call("org.freedesktop.DBus.GetConnectionCredentials", 0, string(sender)).Store(&creds)
	if err != nil {
		return "unknown[0]"
	}
	if v, ok := creds["ProcessID"]; ok {
		if pid, ok := v.Value().(uint32); ok {
			return procutil.Describe(pid)
		}
	}
	return "unknown[0]"
}
