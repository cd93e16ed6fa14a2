package helper

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/plasma-setup/setup-helper/internal/validate"
)

// fallbackAdminGroup is the group new users join when the setup
// configuration names none.
const fallbackAdminGroup = "wheel"

// createUser creates a regular user account: useradd with a home
// directory and a matching user group, supplementary group memberships,
// then the password via chpasswd. All inputs are validated before the
// first tool runs. A failure after useradd leaves the account in place;
// the GUI reports the error and the admin resolves it, which beats
// deleting a half-created home directory behind their back.
func (e *Executor) createUser(ctx context.Context, args Args) (map[string]string, error) {
	username, err := args.String("username")
	if err != nil {
		return nil, err
	}
	username = strings.TrimSpace(username)
	if res := validate.Username(username); res != validate.UsernameValid {
		return nil, fmt.Errorf("invalid username: %s", validate.UsernameMessage(res))
	}

	password, err := args.String("password")
	if err != nil {
		return nil, err
	}
	if password == "" {
		return nil, fmt.Errorf("password must not be empty")
	}

	fullName, err := args.OptionalString("fullName")
	if err != nil {
		return nil, err
	}

	groups, err := args.StringList("extraGroups")
	if err != nil {
		return nil, err
	}
	if groups == nil {
		groups = defaultExtraGroups(e.cfg.SetupConfPath)
	}
	for _, g := range groups {
		if err := validate.GroupName(g); err != nil {
			return nil, err
		}
	}

	argv := []string{"-m", "-U"}
	if fullName != "" {
		argv = append(argv, "-c", fullName)
	}
	argv = append(argv, username)
	res, err := e.run.Run(ctx, "useradd", argv, nil)
	if err != nil {
		return nil, fmt.Errorf("creating user %s: %w", username, err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("useradd failed with exit code %d: %s",
			res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	if len(groups) > 0 {
		res, err = e.run.Run(ctx, "usermod",
			[]string{"-a", "-G", strings.Join(groups, ","), username}, nil)
		if err != nil {
			return nil, fmt.Errorf("adding %s to groups: %w", username, err)
		}
		if res.ExitCode != 0 {
			return nil, fmt.Errorf("usermod failed with exit code %d: %s",
				res.ExitCode, strings.TrimSpace(res.Stderr))
		}
	}

	// chpasswd reads "user:password" lines on stdin; the runner zeroes
	// the buffer once written.
	res, err = e.run.Run(ctx, "chpasswd", nil, []byte(username+":"+password+"\n"))
	if err != nil {
		return nil, fmt.Errorf("setting password for %s: %w", username, err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("chpasswd failed with exit code %d: %s",
			res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	id, err := e.resolver.Resolve(username)
	if err != nil {
		return nil, fmt.Errorf("resolving freshly created user: %w", err)
	}
	return map[string]string{
		"uid":      strconv.FormatUint(uint64(id.UID), 10),
		"homePath": id.Home,
	}, nil
}

// defaultExtraGroups reads the UserGroups list from the Accounts section
// of the setup configuration. Missing file, section, or key all fall
// back to the single administrative group.
func defaultExtraGroups(confPath string) []string {
	fallback := []string{fallbackAdminGroup}

	cfg, err := ini.Load(confPath)
	if err != nil {
		return fallback
	}
	sec, err := cfg.GetSection("Accounts")
	if err != nil {
		return fallback
	}
	if !sec.HasKey("UserGroups") {
		return fallback
	}

	var groups []string
	for _, g := range strings.Split(sec.Key("UserGroups").String(), ",") {
		if g = strings.TrimSpace(g); g != "" {
			groups = append(groups, g)
		}
	}
	if len(groups) == 0 {
		return fallback
	}
	return groups
}
