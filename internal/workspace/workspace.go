// Package workspace provides per-job scratch directories with guaranteed
// cleanup on every terminal path of job processing.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrRelativeRoot is returned when the workspace root is not an absolute path.
var ErrRelativeRoot = errors.New("workspace: root must be an absolute path")

// Manager hands out per-job workspaces under a fixed absolute root.
type Manager struct {
	root string
}

// NewManager creates a Manager rooted at root. The root must be absolute and
// is created if it doesn't exist.
func NewManager(root string) (*Manager, error) {
	if !filepath.IsAbs(root) {
		return nil, fmt.Errorf("%w: got %q", ErrRelativeRoot, root)
	}

	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("workspace: create root directory: %w", err)
	}

	return &Manager{root: root}, nil
}

// Root returns the workspace root directory.
func (m *Manager) Root() string {
	return m.root
}

// ForJob returns the workspace for the given job id. The directory is not
// created until the first file is written into it.
func (m *Manager) ForJob(jobID string) *Workspace {
	return &Workspace{dir: filepath.Join(m.root, jobID)}
}

// Workspace is a scratch directory scoped to a single job run. It records
// every file created through it and removes them all on Cleanup. A workspace
// is owned by the single worker holding the job's lock.
type Workspace struct {
	dir string

	mu    sync.Mutex
	files []string
}

// Dir returns the workspace directory path.
func (w *Workspace) Dir() string {
	return w.dir
}

// Path returns the path a file with the given base name would have inside
// the workspace. It does not create the file.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.dir, filepath.Base(name))
}

// Save writes data to a file inside the workspace, creating the directory on
// first use, and records the file for cleanup.
func (w *Workspace) Save(name string, data []byte) (string, error) {
	if err := os.MkdirAll(w.dir, 0750); err != nil {
		return "", fmt.Errorf("workspace: create job directory: %w", err)
	}

	path := w.Path(name)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("workspace: write %s: %w", path, err)
	}

	w.Track(path)
	return path, nil
}

// Track records a file created by an external tool (e.g. the transcoder) so
// Cleanup removes it.
func (w *Workspace) Track(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.files = append(w.files, path)
}

// Cleanup removes every tracked file and then the job directory if it is
// empty. It continues past individual failures and returns the first error
// encountered.
func (w *Workspace) Cleanup() error {
	w.mu.Lock()
	files := w.files
	w.files = nil
	w.mu.Unlock()

	var firstErr error
	for _, p := range files {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("workspace: remove %s: %w", p, err)
			}
		}
	}

	// Remove the directory only when nothing else left files behind.
	if err := os.Remove(w.dir); err != nil && !os.IsNotExist(err) {
		if empty, statErr := isEmptyDir(w.dir); statErr == nil && empty && firstErr == nil {
			firstErr = fmt.Errorf("workspace: remove directory %s: %w", w.dir, err)
		}
	}

	return firstErr
}

func isEmptyDir(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}
