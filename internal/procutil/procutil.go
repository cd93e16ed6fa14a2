// Package procutil reads process details from /proc so the helper can
// name the process that asked for a privileged action in its audit log.
package procutil

import (
	"fmt"
	"os"
	"strings"
)

// ReadComm reads the process name from /proc/<pid>/comm. Returns the
// empty string when the process is gone or /proc is unreadable.
func ReadComm(pid uint32) string {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// ReadPPID reads the parent PID from /proc/<pid>/stat. Returns 0 on any
// error. The stat format is "pid (comm) state ppid ..."; comm may
// contain spaces and parentheses, so parsing starts after the last ')'.
func ReadPPID(pid uint32) uint32 {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0
	}
	s := string(data)
	i := strings.LastIndexByte(s, ')')
	if i < 0 || i+2 >= len(s) {
		return 0
	}
	fields := strings.Fields(s[i+2:])
	if len(fields) < 2 {
		return 0
	}
	var ppid uint32
	fmt.Sscanf(fields[1], "%d", &ppid)
	return ppid
}

// Describe returns a short human-readable tag for a process, e.g.
// "plasma-setup[1234]". Unknown processes come back as "unknown[pid]".
func Describe(pid uint32) string {
	comm := ReadComm(pid)
	if comm == "" {
		comm = "unknown"
	}
	return fmt.Sprintf("%s[%d]", comm, pid)
}
