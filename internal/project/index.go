package project

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// Directories never included in listings or the tag index.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	".codeloom":    true,
	"vendor":       true,
}

// ListFiles walks the project and returns relative paths, sorted. The
// limit bounds the walk so huge trees cannot blow the system prompt
// budget; zero means no limit.
func (c *Context) ListFiles(limit int) ([]string, error) {
	var files []string
	err := filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		files = append(files, c.Rel(path))
		if limit > 0 && len(files) >= limit {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk project: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// TagIndex summarizes the project as extension counts, a compact
// alternative to a full listing when the file count would not fit the
// prompt budget.
func (c *Context) TagIndex() (string, error) {
	files, err := c.ListFiles(0)
	if err != nil {
		return "", err
	}
	counts := map[string]int{}
	for _, f := range files {
		ext := filepath.Ext(f)
		if ext == "" {
			ext = "(none)"
		}
		counts[ext]++
	}
	exts := make([]string, 0, len(counts))
	for ext := range counts {
		exts = append(exts, ext)
	}
	sort.Strings(exts)

	var b strings.Builder
	fmt.Fprintf(&b, "%d files by extension:", len(files))
	for _, ext := range exts {
		fmt.Fprintf(&b, " %s=%d", ext, counts[ext])
	}
	return b.String(), nil
}

// Summary renders the project metadata block appended to system
// prompts: a full listing when it fits maxBytes, otherwise the tag
// index.
func (c *Context) Summary(maxBytes int) (string, error) {
	files, err := c.ListFiles(0)
	if err != nil {
		return "", err
	}
	listing := "Project files:\n" + strings.Join(files, "\n")
	if len(listing) <= maxBytes {
		return listing, nil
	}
	index, err := c.TagIndex()
	if err != nil {
		return "", err
	}
	return "Project summary: " + index, nil
}
