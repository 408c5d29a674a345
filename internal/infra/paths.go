package infra

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const AppName = "fedformer"

// localWorkspace is used instead of the OS data dir when it exists in the
// working directory.
const localWorkspace = "_workspace"

const lockName = "instance.lock"

// ErrWorkspaceLocked means another process holds the workspace.
var ErrWorkspaceLocked = errors.New("workspace locked by another instance")

// Workspace is the on-disk layout for one trading mode:
//
//	<root>/data/<mode>   event db, snapshots, panic dumps
//	<root>/logs/<mode>   log files
//	<root>/instance.lock
type Workspace struct {
	Root string
	Mode string
}

// OpenWorkspace creates the mode's data and log directories under root.
// An empty root resolves to DefaultWorkspaceRoot.
func OpenWorkspace(root, mode string) (Workspace, error) {
	if root == "" {
		root = DefaultWorkspaceRoot()
	}
	w := Workspace{Root: root, Mode: strings.ToLower(mode)}
	for _, dir := range []string{w.DataDir(), w.LogDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Workspace{}, fmt.Errorf("workspace %s: %w", dir, err)
		}
	}
	return w, nil
}

func (w Workspace) DataDir() string { return filepath.Join(w.Root, "data", w.Mode) }
func (w Workspace) LogDir() string  { return filepath.Join(w.Root, "logs", w.Mode) }

// Data places a configured file name inside DataDir. Absolute names pass
// through untouched.
func (w Workspace) Data(name string) string { return ResolvePath(w.DataDir(), name) }

// Log is Data for the log directory.
func (w Workspace) Log(name string) string { return ResolvePath(w.LogDir(), name) }

// Lock claims the workspace for this process. The lock is an O_EXCL file
// holding the pid and mode; release removes it.
func (w Workspace) Lock() (release func(), err error) {
	path := filepath.Join(w.Root, lockName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	switch {
	case errors.Is(err, os.ErrExist):
		owner, _ := os.ReadFile(path)
		return nil, fmt.Errorf("%w (%s: %s)", ErrWorkspaceLocked, path, strings.TrimSpace(string(owner)))
	case err != nil:
		return nil, err
	}
	_, werr := fmt.Fprintf(f, "pid=%d mode=%s\n", os.Getpid(), w.Mode)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(path)
		return nil, werr
	}
	return func() { os.Remove(path) }, nil
}

// DefaultWorkspaceRoot prefers ./_workspace, then the per-user data dir.
func DefaultWorkspaceRoot() string {
	if fi, err := os.Stat(localWorkspace); err == nil && fi.IsDir() {
		return localWorkspace
	}
	base := userDataDir()
	if base == "" {
		return localWorkspace
	}
	return filepath.Join(base, AppName)
}

func userDataDir() string {
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "windows":
		if d := os.Getenv("APPDATA"); d != "" {
			return d
		}
		return filepath.Join(home, "AppData", "Roaming")
	case "darwin":
		return filepath.Join(home, "Library", "Application Support")
	case "linux":
		// XDG_DATA_HOME 우선
		if d := os.Getenv("XDG_DATA_HOME"); d != "" {
			return d
		}
		return filepath.Join(home, ".local", "share")
	}
	return ""
}

// ResolvePath joins rel onto dir unless rel is empty or absolute.
func ResolvePath(dir, rel string) string {
	if rel == "" || filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(dir, rel)
}

// ResolveConfigPath returns the first config.yaml found in ./configs or
// the user config dir. When neither exists the ./configs path is returned
// and LoadConfig reports it.
func ResolveConfigPath() string {
	candidates := []string{filepath.Join("configs", "config.yaml")}
	if dir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, AppName, "config.yaml"))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return candidates[0]
}
