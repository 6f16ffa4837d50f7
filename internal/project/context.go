package project

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"codeloom/internal/domain"
)

// Context is the external project a conversation works against: a root
// directory plus the path guard every file-touching collaborator goes
// through.
type Context struct {
	root string
}

// NewContext resolves and verifies the project root.
func NewContext(root string) (*Context, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat project root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project root %s is not a directory", abs)
	}
	return &Context{root: abs}, nil
}

// Root returns the absolute project root.
func (c *Context) Root() string { return c.root }

// Resolve turns a project-relative path into an absolute one, rejecting
// anything that escapes the root. Escapes are a security boundary
// violation and always fatal to the tool call that triggered them.
func (c *Context) Resolve(rel string) (string, error) {
	if rel == "" {
		return "", &domain.FileError{Path: rel, Op: domain.FileOpRead, Err: fmt.Errorf("path is empty")}
	}
	abs := filepath.Clean(filepath.Join(c.root, rel))
	if abs != c.root && !strings.HasPrefix(abs, c.root+string(filepath.Separator)) {
		return "", &domain.FileError{Path: rel, Op: domain.FileOpOutsideRoot, Err: fmt.Errorf("path escapes project root")}
	}
	return abs, nil
}

// Rel converts an absolute path under the root back to project-relative
// form.
func (c *Context) Rel(abs string) string {
	rel, err := filepath.Rel(c.root, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}

// ReadFile reads a project file through the root guard.
func (c *Context) ReadFile(rel string) ([]byte, error) {
	abs, err := c.Resolve(rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, classifyFileError(rel, domain.FileOpRead, err)
	}
	return data, nil
}

// WriteFile writes a project file through the root guard, creating
// parent directories as needed.
func (c *Context) WriteFile(rel string, data []byte) error {
	abs, err := c.Resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return classifyFileError(rel, domain.FileOpWrite, err)
	}
	if err := os.WriteFile(abs, data, 0644); err != nil {
		return classifyFileError(rel, domain.FileOpWrite, err)
	}
	return nil
}

// StatFile returns size and mtime for attachment metadata.
func (c *Context) StatFile(rel string) (os.FileInfo, error) {
	abs, err := c.Resolve(rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, classifyFileError(rel, domain.FileOpRead, err)
	}
	return info, nil
}

func classifyFileError(path, op string, err error) error {
	return &domain.FileError{Path: path, Op: op, Err: err}
}
