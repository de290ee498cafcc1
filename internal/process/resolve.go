package process

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/kballard/go-shellquote"
)

// localBinDir is searched in the working directory and each of its
// parents before PATH, so project-local tools win over global ones.
const localBinDir = "node_modules/.bin"

// Resolver looks up executables. It is a value passed to task
// construction rather than process-wide state.
type Resolver struct {
	// SearchPath is the list of directories tried after the local tool
	// directories. Nil uses the PATH environment variable.
	SearchPath []string

	// LocalBins enables the node_modules/.bin lookup.
	LocalBins bool
}

// NewResolver returns a resolver using the current PATH with local tool
// directories enabled.
func NewResolver() Resolver {
	return Resolver{
		SearchPath: filepath.SplitList(os.Getenv("PATH")),
		LocalBins:  true,
	}
}

// Resolve returns the executable path for name relative to dir. When
// nothing matches, the literal name is returned so the failure surfaces
// when the process is spawned.
func (r Resolver) Resolve(name, dir string) string {
	if name == "" {
		return name
	}

	if strings.ContainsRune(name, '/') || strings.ContainsRune(name, filepath.Separator) {
		candidate := name
		if !filepath.IsAbs(candidate) && dir != "" {
			candidate = filepath.Join(dir, candidate)
		}
		if path, err := exec.LookPath(candidate); err == nil {
			return absPath(path)
		}
		return name
	}

	for _, d := range r.searchDirs(dir) {
		if path, err := exec.LookPath(filepath.Join(d, name)); err == nil {
			return absPath(path)
		}
	}

	return name
}

func (r Resolver) searchDirs(dir string) []string {
	var dirs []string

	if r.LocalBins && dir != "" {
		current := absPath(dir)
		for {
			dirs = append(dirs, filepath.Join(current, filepath.FromSlash(localBinDir)))
			parent := filepath.Dir(current)
			if parent == current {
				break
			}
			current = parent
		}
	}

	searchPath := r.SearchPath
	if searchPath == nil {
		searchPath = filepath.SplitList(os.Getenv("PATH"))
	}
	for _, d := range searchPath {
		if d == "" || d == "." {
			// Implicit current directory entries are not honored.
			continue
		}
		if !filepath.IsAbs(d) && dir != "" {
			d = filepath.Join(dir, d)
		}
		dirs = append(dirs, d)
	}

	return dirs
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// DisplayLine renders the command the way a user would type it in a POSIX
// shell.
func DisplayLine(executable string, args []string) string {
	return shellquote.Join(append([]string{executable}, args...)...)
}
