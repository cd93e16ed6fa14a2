package userdb

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// Defaults used when the login definitions file is missing, unreadable,
// or does not carry usable UID_MIN/UID_MAX entries. Missing and
// unreadable files are treated identically.
const (
	DefaultUIDMin = 1000
	DefaultUIDMax = 65000
)

// uidRange holds the configured bounds for regular (non-system) users.
type uidRange struct {
	min uint32
	max uint32
}

// parseLoginDefs reads UID_MIN and UID_MAX from a login.defs-style file:
// whitespace-separated KEY VALUE lines, # comments. Any key that cannot
// be parsed falls back to its default independently.
func parseLoginDefs(path string) uidRange {
	r := uidRange{min: DefaultUIDMin, max: DefaultUIDMax}

	f, err := os.Open(path)
	if err != nil {
		return r
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "UID_MIN":
			if v, err := strconv.ParseUint(fields[1], 10, 32); err == nil {
				r.min = uint32(v)
			}
		case "UID_MAX":
			if v, err := strconv.ParseUint(fields[1], 10, 32); err == nil {
				r.max = uint32(v)
			}
		}
	}
	return r
}
