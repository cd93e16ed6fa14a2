// Package userdb resolves usernames against the system account database
// and enforces the boundary between regular and system users. Actions
// the helper performs on behalf of the GUI must never target a system
// account, so every resolution checks the configured UID_MIN threshold.
package userdb

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"
)

// OverrideEnv forces the account-creation UI on even when an existing
// regular user is detected. Development and testing aid only.
const OverrideEnv = "PLASMA_SETUP_USER_CREATION_OVERRIDE"

var (
	// ErrNotFound reports that no account with the given name exists.
	ErrNotFound = errors.New("user does not exist")
	// ErrSystemUser reports that the account exists but its uid is below
	// the regular-user threshold. Treated as a security rejection.
	ErrSystemUser = errors.New("refusing to act on system user")
)

// Identity is a resolved system account. Identities are constructed per
// lookup and never cached.
type Identity struct {
	Username string
	Home     string
	UID      uint32
	GID      uint32
}

// lookupUserFunc wraps os/user.Lookup. Replaced in tests.
var lookupUserFunc = user.Lookup

// Directory performs read-only lookups against the account database.
// The UID_MIN/UID_MAX thresholds are read once at construction.
type Directory struct {
	passwdPath string
	uids       uidRange
}

// New builds a Directory from a login.defs-style file and a passwd-format
// file. The login definitions are parsed once; the passwd file is only
// read by ExistingRegularUserExists.
func New(loginDefsPath, passwdPath string) *Directory {
	return &Directory{
		passwdPath: passwdPath,
		uids:       parseLoginDefs(loginDefsPath),
	}
}

// UIDMin returns the minimum uid considered a regular user.
func (d *Directory) UIDMin() uint32 { return d.uids.min }

// UIDMax returns the maximum uid considered a regular user.
func (d *Directory) UIDMax() uint32 { return d.uids.max }

// Resolve looks up username and returns its identity. Fails with
// ErrNotFound for unknown accounts, ErrSystemUser for accounts below the
// regular-user threshold, and a wrapped system error otherwise.
func (d *Directory) Resolve(username string) (Identity, error) {
	u, err := lookupUserFunc(username)
	if err != nil {
		var unknown user.UnknownUserError
		if errors.As(err, &unknown) {
			return Identity{}, fmt.Errorf("%w: %s", ErrNotFound, username)
		}
		return Identity{}, fmt.Errorf("looking up user %q: %w", username, err)
	}

	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return Identity{}, fmt.Errorf("parsing uid %q for user %q: %w", u.Uid, username, err)
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return Identity{}, fmt.Errorf("parsing gid %q for user %q: %w", u.Gid, username, err)
	}

	if uint32(uid) < d.uids.min {
		return Identity{}, fmt.Errorf("%w: %s (uid %d)", ErrSystemUser, username, uid)
	}

	return Identity{
		Username: u.Username,
		Home:     u.HomeDir,
		UID:      uint32(uid),
		GID:      uint32(gid),
	}, nil
}

// ExistingRegularUserExists scans the passwd file for any entry whose
// uid falls within [UID_MIN, UID_MAX], clipped to [0, 65535]. Used once
// at GUI startup to decide whether to show the account-creation pages.
func (d *Directory) ExistingRegularUserExists() (bool, error) {
	lo, hi := d.uids.min, d.uids.max
	if hi > 65535 {
		hi = 65535
	}
	if lo > hi {
		return false, nil
	}

	f, err := os.Open(d.passwdPath)
	if err != nil {
		return false, fmt.Errorf("opening %s: %w", d.passwdPath, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Split(line, ":")
		if len(fields) < 3 {
			continue
		}
		uid, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			continue
		}
		if uint32(uid) >= lo && uint32(uid) <= hi {
			return true, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("reading %s: %w", d.passwdPath, err)
	}
	return false, nil
}

// AccountSetupForced reports whether the environment override requests
// the account-creation flow regardless of existing users.
func AccountSetupForced() bool {
	return os.Getenv(OverrideEnv) == "1"
}
