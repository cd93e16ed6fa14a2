package dmconfig

import (
	"fmt"
	"os"
)

// hookTemplate is the autostart desktop entry that removes the temporary
// autologin on the new user's first login and then deletes itself.
// Args: helper executable path, hook file path.
const hookTemplate = `[Desktop Entry]
Type=Application
Name=Remove Setup Autologin
Exec=sh -c "%s remove-autologin && rm --force '%s'"
X-KDE-StartupNotify=false
NoDisplay=true
`

// WriteRemovalHook writes the self-cleaning autostart entry at hookPath,
// invoking execPath to drop the autologin fragment. Intended to be
// called while privileges are dropped so the file belongs to the new
// user.
func WriteRemovalHook(hookPath, execPath string) error {
	content := fmt.Sprintf(hookTemplate, execPath, hookPath)
	if err := os.WriteFile(hookPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing autostart hook %s: %w", hookPath, err)
	}
	return nil
}
