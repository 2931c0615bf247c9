package client

import (
	"path/filepath"
	"strings"

	"github.com/lokiorch/loki/internal/errors"
)

// Peer-server launch commands come from configuration, which may be
// attacker-influenced. Allowing a bare shell here turns configuration into
// arbitrary code execution, so shells are rejected outright.
var blockedCommands = map[string]struct{}{
	"sh":         {},
	"bash":       {},
	"zsh":        {},
	"fish":       {},
	"cmd":        {},
	"powershell": {},
	"pwsh":       {},
}

// ValidateCommand rejects empty commands and commands resolving to a shell
// interpreter, in bare, absolute-path, and Windows .exe-suffixed forms.
func ValidateCommand(command string) error {
	if strings.TrimSpace(command) == "" {
		return errors.EmptyCommand()
	}

	name := strings.ToLower(filepath.Base(strings.TrimSpace(command)))
	// filepath.Base keeps backslash-separated Windows paths intact on
	// non-Windows hosts; strip them by hand.
	if i := strings.LastIndexByte(name, '\\'); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSuffix(name, ".exe")

	if _, blocked := blockedCommands[name]; blocked {
		return errors.BlockedCommand(command)
	}
	return nil
}
