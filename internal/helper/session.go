package helper

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/plasma-setup/setup-helper/internal/dmconfig"
	"github.com/plasma-setup/setup-helper/internal/flagfile"
	"github.com/plasma-setup/setup-helper/internal/staging"
	"github.com/plasma-setup/setup-helper/internal/userdb"
	"github.com/plasma-setup/setup-helper/internal/validate"
)

// hookFileName is the autostart entry that removes the temporary
// autologin on the new user's first login.
const hookFileName = "plasma-setup-remove-autologin.desktop"

// resolveTarget validates the username argument and resolves it to an
// identity. Every per-user action starts here, so system accounts are
// rejected before any side effect.
func (e *Executor) resolveTarget(args Args) (userdb.Identity, error) {
	username, err := args.String("username")
	if err != nil {
		return userdb.Identity{}, err
	}
	username = strings.TrimSpace(username)
	if res := validate.Username(username); res != validate.UsernameValid {
		return userdb.Identity{}, fmt.Errorf("invalid username: %s", validate.UsernameMessage(res))
	}
	return e.resolver.Resolve(username)
}

// setNewUserGlobalTheme copies the setup session's kdeglobals into the
// target user's configuration directory. The file is staged into a
// world-readable copy first, then written back with privileges dropped
// to the target user so the result is theirs.
func (e *Executor) setNewUserGlobalTheme(ctx context.Context, args Args) (map[string]string, error) {
	id, err := e.resolveTarget(args)
	if err != nil {
		return nil, err
	}
	return nil, e.installUserConfigs(id, []string{"kdeglobals"}, nil)
}

// setNewUserDisplayScaling copies the compositor configuration the user
// adjusted during setup (kwinrc and, when present, the per-output
// kwinoutputconfig.json) into the target user's configuration directory.
func (e *Executor) setNewUserDisplayScaling(ctx context.Context, args Args) (map[string]string, error) {
	id, err := e.resolveTarget(args)
	if err != nil {
		return nil, err
	}
	return nil, e.installUserConfigs(id, []string{"kwinrc"}, []string{"kwinoutputconfig.json"})
}

// installUserConfigs stages the named files from the setup source
// directory and copies them into the target user's ~/.config with
// privileges dropped. A missing required source fails the action before
// any side effect; optional sources are skipped when absent, since the
// setup session only writes kwinoutputconfig.json when the user changed
// display settings.
func (e *Executor) installUserConfigs(id userdb.Identity, required, optional []string) error {
	var sources []string
	for _, name := range required {
		src := filepath.Join(e.cfg.SourceDir, name)
		if _, err := os.Stat(src); err != nil {
			return fmt.Errorf("setup configuration %s is not available: %w", name, err)
		}
		sources = append(sources, src)
	}
	for _, name := range optional {
		src := filepath.Join(e.cfg.SourceDir, name)
		if _, err := os.Stat(src); err == nil {
			sources = append(sources, src)
		}
	}

	staged, err := staging.StageAll(sources)
	if err != nil {
		return err
	}
	defer func() {
		for _, s := range staged {
			s.Remove()
		}
	}()

	return withPrivilegesFunc(id, func() error {
		configDir := filepath.Join(id.Home, ".config")
		if err := os.MkdirAll(configDir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", configDir, err)
		}
		for _, s := range staged {
			if err := s.CopyTo(filepath.Join(configDir, s.Name)); err != nil {
				return err
			}
		}
		return nil
	})
}

// setNewUserTempAutologin points the display manager autologin fragment
// at the target user with relogin enabled, so ending the setup session
// logs straight into the new account.
func (e *Executor) setNewUserTempAutologin(ctx context.Context, args Args) (map[string]string, error) {
	id, err := e.resolveTarget(args)
	if err != nil {
		return nil, err
	}
	return nil, dmconfig.WriteAutologin(e.cfg.AutologinPath, id.Username, true)
}

// createNewUserAutostartHook drops a self-removing autostart entry into
// the target user's autostart directory. On first login it calls this
// helper to delete the temporary autologin, then deletes itself.
func (e *Executor) createNewUserAutostartHook(ctx context.Context, args Args) (map[string]string, error) {
	id, err := e.resolveTarget(args)
	if err != nil {
		return nil, err
	}

	autostartDir := filepath.Join(id.Home, ".config", "autostart")
	hookPath := filepath.Join(autostartDir, hookFileName)
	err = withPrivilegesFunc(id, func() error {
		if err := os.MkdirAll(autostartDir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", autostartDir, err)
		}
		return dmconfig.WriteRemovalHook(hookPath, e.cfg.ExecPath)
	})
	if err != nil {
		return nil, err
	}
	return map[string]string{"autostartFilePath": hookPath}, nil
}

// createFlagFile writes the setup-complete marker that keeps the
// first-boot service from starting again.
func (e *Executor) createFlagFile(ctx context.Context, args Args) (map[string]string, error) {
	return nil, flagfile.Write(e.cfg.FlagPath)
}

// removeAutologin deletes the temporary autologin fragment and prunes a
// stale empty autologin group from the display manager settings. Both
// steps are idempotent.
func (e *Executor) removeAutologin(ctx context.Context, args Args) (map[string]string, error) {
	if err := dmconfig.RemoveAutologin(e.cfg.AutologinPath); err != nil {
		return nil, err
	}
	return nil, dmconfig.PruneAutologinGroup(e.cfg.SettingsPath)
}
