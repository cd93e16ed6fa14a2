// Package dmconfig reads and writes the display manager configuration
// fragments the setup flow owns: the autologin descriptor that logs the
// setup session (or the freshly created user) in without a password, and
// the autostart hook that removes it again.
package dmconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/ini.v1"
)

// Autologin fragment paths for the supported display managers. The
// fragment lives in a drop-in directory so removing it fully reverts
// the configuration.
const (
	SDDMAutologinPath        = "/etc/sddm.conf.d/99-plasma-setup.conf"
	PlasmaLoginAutologinPath = "/etc/plasmalogin.conf.d/99-plasma-setup.conf"

	// SDDMSettingsPath is the display manager's own settings file, which
	// can be left with a stale empty [Autologin] group.
	SDDMSettingsPath = "/etc/sddm.conf.d/kde_settings.conf"
)

const autologinSection = "Autologin"

func init() {
	// Match the display manager's own KEY=VALUE style, no alignment.
	ini.PrettyFormat = false
}

// WriteAutologin writes an autologin fragment for user at path, creating
// the drop-in directory if needed. With relogin set the display manager
// re-enters the session on logout, which is how the one-shot switch from
// the setup session to the new user works.
func WriteAutologin(path, user string, relogin bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}

	cfg := ini.Empty()
	sec, err := cfg.NewSection(autologinSection)
	if err != nil {
		return fmt.Errorf("building autologin fragment: %w", err)
	}
	sec.NewKey("User", user)
	sec.NewKey("Session", "plasma")
	if relogin {
		sec.NewKey("Relogin", "true")
	}

	if err := cfg.SaveTo(path); err != nil {
		return fmt.Errorf("writing autologin fragment %s: %w", path, err)
	}
	return nil
}

// RemoveAutologin deletes the autologin fragment. A fragment that is
// already absent is success, not failure.
func RemoveAutologin(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing autologin fragment %s: %w", path, err)
	}
	return nil
}

// PruneAutologinGroup deletes a stale [Autologin] group from the display
// manager settings file when it carries no usable User entry. Some
// installers leave such an empty group behind, and it shadows the
// drop-in fragments. Missing settings files are ignored.
func PruneAutologinGroup(settingsPath string) error {
	cfg, err := ini.Load(settingsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", settingsPath, err)
	}

	sec, err := cfg.GetSection(autologinSection)
	if err != nil {
		return nil // no such group
	}
	if sec.HasKey("User") && sec.Key("User").String() != "" {
		return nil // a real autologin configuration; leave it alone
	}

	cfg.DeleteSection(autologinSection)
	if err := cfg.SaveTo(settingsPath); err != nil {
		return fmt.Errorf("writing %s: %w", settingsPath, err)
	}
	return nil
}

// ActivePath picks the autologin fragment path for the display manager
// in use: the plasmalogin drop-in when plasmalogin.service is enabled,
// otherwise the sddm one. unitState reports a systemd unit file state
// ("enabled", "disabled", ...); query failures fall back to sddm.
func ActivePath(unitState func(unit string) (string, error)) string {
	state, err := unitState("plasmalogin.service")
	if err == nil && state == "enabled" {
		return PlasmaLoginAutologinPath
	}
	return SDDMAutologinPath
}
