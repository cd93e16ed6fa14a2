package daemon

import (
	"log/slog"
	"net"
	"os"
)

// SdNotify reports helper state to the service manager through the
// NOTIFY_SOCKET datagram socket. The unit is Type=dbus, so readiness is
// signalled by the bus name, but READY=1 keeps status output accurate.
// Without a socket (started outside systemd) this is a no-op, and
// delivery problems are logged rather than returned; state reporting
// must never take the helper down.
func SdNotify(state string) {
	socket := os.Getenv("NOTIFY_SOCKET")
	if socket == "" {
		return
	}
	conn, err := net.Dial("unixgram", socket)
	if err != nil {
		slog.Warn("cannot reach service manager notification socket", "socket", socket, "err", err)
		return
	}
	defer conn.Close()
	conn.Write([]byte(state)) //nolint:errcheck
}
