package registry

import (
	"fmt"
	"os"
	"path/filepath"
)

// MaxIndex is the number of socket indexes probed per directory.
const MaxIndex = 10

// Sandboxed installs place the socket in a subdirectory of the runtime dir.
var sandboxSubdirs = []string{
	"",
	"app/com.discordapp.Discord",
	"snap.discord",
}

// SocketRegistry finds unix sockets on the local filesystem.
type SocketRegistry struct {
	Dirs     []string // base directories; nil means DefaultDirs()
	MaxIndex int      // indexes probed; 0 means MaxIndex
}

// DefaultDirs returns the runtime directories the peer may use, in order:
// $XDG_RUNTIME_DIR, $TMPDIR, $TMP, $TEMP, then /tmp. Duplicates are removed.
func DefaultDirs() []string {
	var dirs []string
	seen := map[string]bool{}
	for _, env := range []string{"XDG_RUNTIME_DIR", "TMPDIR", "TMP", "TEMP"} {
		if dir := os.Getenv(env); dir != "" && !seen[filepath.Clean(dir)] {
			seen[filepath.Clean(dir)] = true
			dirs = append(dirs, filepath.Clean(dir))
		}
	}
	if !seen["/tmp"] {
		dirs = append(dirs, "/tmp")
	}
	return dirs
}

// Discover probes <dir>/<subdir>/<name>-<index> for every directory and
// index, ordered by index first. Only paths that exist and are sockets
// are returned.
func (r *SocketRegistry) Discover(name string) ([]Endpoint, error) {
	if name == "" {
		name = DefaultName
	}
	dirs := r.Dirs
	if dirs == nil {
		dirs = DefaultDirs()
	}
	limit := r.MaxIndex
	if limit <= 0 {
		limit = MaxIndex
	}

	var endpoints []Endpoint
	for i := 0; i < limit; i++ {
		for _, dir := range dirs {
			for _, sub := range sandboxSubdirs {
				path := filepath.Join(dir, sub, fmt.Sprintf("%s-%d", name, i))
				info, err := os.Stat(path)
				if err != nil || info.Mode()&os.ModeSocket == 0 {
					continue
				}
				endpoints = append(endpoints, Endpoint{Network: "unix", Addr: path, Index: i})
			}
		}
	}
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("%w: %s in %v", ErrNotFound, name, dirs)
	}
	return endpoints, nil
}
