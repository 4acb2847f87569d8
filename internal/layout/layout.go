// Package layout owns the on-disk layout of projects and components and
// discovers the catalog files of a component.
package layout

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrInvalidMask is returned for file masks without exactly one wildcard
var ErrInvalidMask = errors.New("file mask must contain exactly one '*'")

// Manager resolves project and component directories below the git root
type Manager struct {
	root string
}

// NewManager creates a layout manager rooted at gitRoot
func NewManager(gitRoot string) *Manager {
	return &Manager{root: gitRoot}
}

// Root returns the git root directory
func (m *Manager) Root() string {
	return m.root
}

// ProjectPath returns <git_root>/<project>
func (m *Manager) ProjectPath(project string) string {
	return filepath.Join(m.root, project)
}

// ComponentPath returns <git_root>/<project>/<component>
func (m *Manager) ComponentPath(project, component string) string {
	return filepath.Join(m.ProjectPath(project), component)
}

// EnsureProject creates the project directory if it does not exist yet
func (m *Manager) EnsureProject(project string) (string, error) {
	p := m.ProjectPath(project)
	if err := os.MkdirAll(p, 0755); err != nil {
		return "", fmt.Errorf("failed to create project directory: %w", err)
	}
	return p, nil
}

// Match is a catalog file found below a component directory
type Match struct {
	Language string // language code bound to the mask wildcard
	Filename string // path relative to the component directory, slash separated
}

// ValidateMask checks that mask has exactly one wildcard
func ValidateMask(mask string) error {
	if strings.Count(mask, "*") != 1 {
		return fmt.Errorf("%w: %q", ErrInvalidMask, mask)
	}
	return nil
}

// Discover globs dir for files matching mask and returns them sorted by
// filename
func Discover(dir, mask string) ([]Match, error) {
	if err := ValidateMask(mask); err != nil {
		return nil, err
	}

	paths, err := filepath.Glob(filepath.Join(dir, filepath.FromSlash(mask)))
	if err != nil {
		return nil, fmt.Errorf("failed to glob %s: %w", mask, err)
	}

	matches := make([]Match, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil || info.IsDir() {
			continue
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return nil, fmt.Errorf("failed to compute relative path: %w", err)
		}
		rel = filepath.ToSlash(rel)
		code, err := LangCode(mask, rel)
		if err != nil {
			return nil, err
		}
		if code == "" {
			continue
		}
		matches = append(matches, Match{Language: code, Filename: rel})
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Filename < matches[j].Filename
	})
	return matches, nil
}

// LangCode extracts the language code from a filename matched by mask
func LangCode(mask, filename string) (string, error) {
	if err := ValidateMask(mask); err != nil {
		return "", err
	}
	prefix, suffix, _ := strings.Cut(mask, "*")
	if !strings.HasPrefix(filename, prefix) || !strings.HasSuffix(filename, suffix) ||
		len(filename) < len(prefix)+len(suffix) {
		return "", fmt.Errorf("filename %q does not match mask %q", filename, mask)
	}
	return filename[len(prefix) : len(filename)-len(suffix)], nil
}
