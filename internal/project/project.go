// Package project discovers assistant projects on disk. It is read-only;
// transcripts inside a project are not parsed.
package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// IndexFileName is the optional per-project session index.
const IndexFileName = "sessions-index.json"

// ErrNotFound is returned for a project directory that does not exist.
var ErrNotFound = errors.New("project not found")

// Project is one directory under the projects root.
type Project struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	Sessions   []string  `json:"sessions"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

type sessionIndex struct {
	Sessions []struct {
		ID string `json:"id"`
	} `json:"sessions"`
}

// Scan lists the projects under root, sorted by id. A missing root yields
// an empty list.
func Scan(root string) ([]Project, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Project{}, nil
		}
		return nil, fmt.Errorf("read projects dir: %w", err)
	}

	projects := make([]Project, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || isHidden(entry.Name()) {
			continue
		}
		p := Project{
			ID:       entry.Name(),
			Name:     entry.Name(),
			Path:     filepath.Join(root, entry.Name()),
			Sessions: []string{},
		}
		if info, err := entry.Info(); err == nil {
			p.ModifiedAt = info.ModTime().UTC()
		}
		projects = append(projects, p)
	}

	sort.Slice(projects, func(i, j int) bool { return projects[i].ID < projects[j].ID })
	return projects, nil
}

// Get loads one project, including the session ids listed in its index
// file when present. An unreadable or malformed index is ignored.
func Get(root, id string) (Project, error) {
	if !validID(id) {
		return Project{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	path := filepath.Join(root, id)
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return Project{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return Project{
		ID:         id,
		Name:       id,
		Path:       path,
		Sessions:   readIndex(filepath.Join(path, IndexFileName)),
		ModifiedAt: info.ModTime().UTC(),
	}, nil
}

func readIndex(path string) []string {
	ids := []string{}

	data, err := os.ReadFile(path)
	if err != nil {
		return ids
	}
	var idx sessionIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return ids
	}
	for _, s := range idx.Sessions {
		if s.ID != "" {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

// validID rejects ids that would escape the projects root.
func validID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}

func isHidden(name string) bool {
	return len(name) > 0 && name[0] == '.'
}

// IDFromPath returns the project that contains path, or "" when path is not
// below root.
func IDFromPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	first := strings.SplitN(filepath.ToSlash(rel), "/", 2)[0]
	if isHidden(first) {
		return ""
	}
	return first
}
