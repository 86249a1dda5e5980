package export

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// clipboardCommand is a tool that reads the clipboard contents from stdin
type clipboardCommand struct {
	name string
	args []string
}

// lookPath is swapped in tests
var lookPath = exec.LookPath

// clipboardCommands lists the candidate tools for the current session, preferred first
func clipboardCommands(goos string, getenv func(string) string) []clipboardCommand {
	if goos == "darwin" {
		return []clipboardCommand{{name: "pbcopy"}}
	}

	xclip := clipboardCommand{name: "xclip", args: []string{"-selection", "clipboard"}}
	wlCopy := clipboardCommand{name: "wl-copy"}

	if getenv("WAYLAND_DISPLAY") != "" || strings.EqualFold(getenv("XDG_SESSION_TYPE"), "wayland") {
		return []clipboardCommand{wlCopy, xclip}
	}
	return []clipboardCommand{xclip, wlCopy}
}

// CopyText places text on the system clipboard. It reports false when the
// text is empty, no clipboard tool is installed, or the tool fails.
func CopyText(ctx context.Context, text string) bool {
	if text == "" {
		return false
	}

	for _, c := range clipboardCommands(runtime.GOOS, os.Getenv) {
		path, err := lookPath(c.name)
		if err != nil {
			continue
		}

		cmd := exec.CommandContext(ctx, path, c.args...)
		cmd.Stdin = strings.NewReader(text)
		return cmd.Run() == nil
	}

	return false
}
