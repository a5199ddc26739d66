// Package orgpath handles materialized hierarchy paths of the form "/root/child/leaf".
package orgpath

import (
	"fmt"
	"strings"
)

const separator = "/"

// Join appends an id to a parent path. An empty parent path yields a root path.
func Join(parentPath, id string) string {
	return parentPath + separator + id
}

// Parent returns the path of the parent node, or "" for a root.
func Parent(path string) string {
	idx := strings.LastIndex(path, separator)
	if idx <= 0 {
		return ""
	}
	return path[:idx]
}

// Level returns the depth of the node addressed by path. Roots are level 1.
func Level(path string) int {
	if path == "" {
		return 0
	}
	return strings.Count(path, separator)
}

// IDs splits a path into the ids it addresses, root first.
func IDs(path string) []string {
	trimmed := strings.TrimPrefix(path, separator)
	if trimmed == "" {
		return []string{}
	}
	return strings.Split(trimmed, separator)
}

// Leaf returns the id of the node addressed by path.
func Leaf(path string) string {
	ids := IDs(path)
	if len(ids) == 0 {
		return ""
	}
	return ids[len(ids)-1]
}

// IsAncestorOf reports whether ancestor is a strict prefix of descendant.
func IsAncestorOf(ancestor, descendant string) bool {
	if ancestor == "" {
		return descendant != ""
	}
	return strings.HasPrefix(descendant, ancestor+separator)
}

// FromChain builds a path from ids ordered root first.
func FromChain(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	return separator + strings.Join(ids, separator)
}

// Validate checks that path is well formed.
func Validate(path string) error {
	if !strings.HasPrefix(path, separator) {
		return fmt.Errorf("path %q must start with %q", path, separator)
	}
	for i, id := range IDs(path) {
		if id == "" {
			return fmt.Errorf("path component %d is empty", i)
		}
	}
	return nil
}
