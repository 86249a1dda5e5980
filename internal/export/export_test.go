package export

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestFileName(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	if got := FileName(now); got != "handwriting-1700000000123.txt" {
		t.Fatalf("FileName() = %q", got)
	}
}

func TestText(t *testing.T) {
	now := time.UnixMilli(42)

	name, r := Text("Hello World", now)
	if name != "handwriting-42.txt" || r == nil {
		t.Fatalf("Text() = %q, %v", name, r)
	}
	body, err := io.ReadAll(r)
	if err != nil || string(body) != "Hello World" {
		t.Fatalf("body = %q, %v", body, err)
	}

	if name, r := Text("", now); name != "" || r != nil {
		t.Fatalf("empty text should not export, got %q", name)
	}
}

func TestWriteFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	now := time.UnixMilli(1234)

	path, err := WriteFile(dir, "café notes", now)
	if err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	if filepath.Base(path) != "handwriting-1234.txt" {
		t.Errorf("path = %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "café notes" {
		t.Fatalf("file = %q, %v", data, err)
	}

	// same millisecond must not clobber the first export
	if _, err := WriteFile(dir, "again", now); err == nil {
		t.Error("expected error for an existing export file")
	}

	if path, err := WriteFile(dir, "", now); path != "" || err != nil {
		t.Errorf("empty text: %q, %v", path, err)
	}
}

func TestClipboardCommands(t *testing.T) {
	env := func(vars map[string]string) func(string) string {
		return func(k string) string { return vars[k] }
	}

	testCases := []struct {
		name  string
		goos  string
		vars  map[string]string
		first string
	}{
		{"macos", "darwin", nil, "pbcopy"},
		{"wayland display", "linux", map[string]string{"WAYLAND_DISPLAY": "wayland-0"}, "wl-copy"},
		{"wayland session", "linux", map[string]string{"XDG_SESSION_TYPE": "Wayland"}, "wl-copy"},
		{"x11", "linux", map[string]string{"DISPLAY": ":0"}, "xclip"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cmds := clipboardCommands(tc.goos, env(tc.vars))
			if len(cmds) == 0 || cmds[0].name != tc.first {
				t.Fatalf("commands = %+v, want %s first", cmds, tc.first)
			}
		})
	}
}

func TestCopyTextEmpty(t *testing.T) {
	if CopyText(context.Background(), "") {
		t.Fatal("empty text must not be copied")
	}
}

func TestCopyTextNoTool(t *testing.T) {
	restore := lookPath
	lookPath = func(string) (string, error) { return "", exec.ErrNotFound }
	defer func() { lookPath = restore }()

	if CopyText(context.Background(), "hello") {
		t.Fatal("CopyText() = true without a clipboard tool")
	}
}

func TestCopyTextPipesToTool(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in needs a POSIX shell")
	}

	dir := t.TempDir()
	captured := filepath.Join(dir, "clipboard.txt")
	script := "#!/bin/sh\ncat > " + captured + "\n"
	tool := filepath.Join(dir, "fake-clip")
	if err := os.WriteFile(tool, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}

	restore := lookPath
	lookPath = func(string) (string, error) { return tool, nil }
	defer func() { lookPath = restore }()

	if !CopyText(context.Background(), "copied text") {
		t.Fatal("CopyText() = false")
	}
	data, err := os.ReadFile(captured)
	if err != nil || string(data) != "copied text" {
		t.Fatalf("clipboard = %q, %v", data, err)
	}
}
