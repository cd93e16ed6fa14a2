package validate

import (
	"fmt"
	"os/user"
	"regexp"
)

var groupPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// lookupGroupFunc wraps os/user.LookupGroup. Replaced in tests so they
// do not depend on the host's group database.
var lookupGroupFunc = func(name string) error {
	_, err := user.LookupGroup(name)
	return err
}

// GroupName checks that the group name is syntactically valid and that
// the group exists in the system group database. Unlike the username and
// hostname validators this performs a database lookup, so it is only
// called at submission time.
func GroupName(name string) error {
	if !groupPattern.MatchString(name) {
		return fmt.Errorf("invalid group name %q", name)
	}
	if err := lookupGroupFunc(name); err != nil {
		return fmt.Errorf("group %q does not exist: %w", name, err)
	}
	return nil
}
