package filesystem

import (
	"context"
	"fmt"
	"sort"
)

// Registry maps the filesystem name to its implementation
var Registry = make(map[string]FileSystem)

// FileSystem defines a few basic filesystem operations
type FileSystem interface {
	// Create creates a new directory in the given path, along with any
	// missing parents. It is not an error if the directory exists.
	Create(path string) error

	// Clone copies the src path and its contents to dst. Existing files
	// at dst are overwritten. Clone stops when ctx is done.
	Clone(ctx context.Context, src, dst string) error

	// Remove removes path and its children.
	// Implementors should not return an error when the path does not
	// exist.
	Remove(path string) error
}

// Get returns the registered filesystem denoted by s. If it doesn't exist,
// an error is returned.
func Get(s string) (FileSystem, error) {
	fs, ok := Registry[s]
	if !ok {
		return nil, fmt.Errorf("unknown filesystem '%s' (%v)", s, Names())
	}
	return fs, nil
}

// Names returns the names of the registered filesystems, sorted.
func Names() []string {
	names := []string{}
	for name := range Registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
