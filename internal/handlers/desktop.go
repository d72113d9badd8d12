package handlers

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"boi/internal/assistant"
	"boi/internal/registry"
)

var openAppSchema = registry.Schema{
	Description: "Open a desktop application",
	Params: []registry.Param{
		{Name: "name", Type: registry.TypeString, Required: true, Help: "executable name, e.g. firefox"},
	},
}

// appAliases maps spoken names to executables.
var appAliases = map[string]string{
	"browser":    "xdg-open",
	"notepad":    "gedit",
	"calculator": "gnome-calculator",
	"terminal":   "x-terminal-emulator",
	"files":      "nautilus",
}

func openApp(d Deps) registry.HandlerFunc {
	return func(ctx context.Context, call registry.Call) assistant.HandlerResult {
		name := strings.ToLower(strings.TrimSpace(stringParam(call.Params, "name")))
		if name == "" {
			return assistant.Fail("Which application?")
		}
		bin := name
		if alias, ok := appAliases[name]; ok {
			bin = alias
		}

		if err := d.Launch(ctx, bin); err != nil {
			d.Log.Warn("Failed to open app", "app", bin, "err", err)
			if errors.Is(err, exec.ErrNotFound) {
				return assistant.Fail(fmt.Sprintf("I couldn't find %s on this computer.", name))
			}
			return assistant.Fail(fmt.Sprintf("Could not open %s: %v", name, err))
		}
		return assistant.OK(fmt.Sprintf("Opened %s.", name))
	}
}

func startProcess(_ context.Context, name string) error {
	_, err := spawn(name)
	return err
}

// spawn starts name detached from the command and reaps it once it exits.
// The returned channel yields the exit status.
func spawn(name string) (<-chan error, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return nil, err
	}
	// not tied to ctx: the app outlives the command
	cmd := exec.Command(path)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()
	return exited, nil
}

var deleteSchema = registry.Schema{
	Description: "Delete a file or directory",
	Params: []registry.Param{
		{Name: "path", Type: registry.TypePath, Required: true},
	},
}

func deletePath(d Deps) registry.HandlerFunc {
	return func(_ context.Context, call registry.Call) assistant.HandlerResult {
		path := stringParam(call.Params, "path")
		if protectedPath(path, d.Home) {
			return assistant.Fail(fmt.Sprintf("I won't delete %s.", path))
		}

		if _, err := os.Lstat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return assistant.Fail(fmt.Sprintf("%s does not exist.", path))
			}
			return assistant.Fail(fmt.Sprintf("Cannot access %s: %v", path, err))
		}
		if err := os.RemoveAll(path); err != nil {
			d.Log.Error("Failed to delete", "path", path, "err", err)
			return assistant.Fail(fmt.Sprintf("Could not delete %s: %v", path, err))
		}
		return assistant.OK(fmt.Sprintf("Deleted %s.", path))
	}
}

func protectedPath(path, home string) bool {
	if path == "" || !filepath.IsAbs(path) {
		return true
	}
	clean := filepath.Clean(path)
	if clean == string(filepath.Separator) {
		return true
	}
	return home != "" && clean == filepath.Clean(home)
}

func userHome() string {
	home, _ := os.UserHomeDir()
	return home
}
