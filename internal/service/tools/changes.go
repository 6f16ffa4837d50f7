package tools

import "sync"

// FileChange is one tool-driven file mutation: the path plus the before
// and after content the change log derives its diff from.
type FileChange struct {
	Path   string
	Before string
	After  string
}

// ChangeCollector is the shared collaborator mutating tools report into.
// The engine drains it at the end of each statement to feed the change
// log and the VCS commit.
type ChangeCollector struct {
	mu      sync.Mutex
	changes []FileChange
}

// NewChangeCollector creates an empty collector.
func NewChangeCollector() *ChangeCollector {
	return &ChangeCollector{}
}

// Add records one mutation.
func (c *ChangeCollector) Add(path, before, after string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, FileChange{Path: path, Before: before, After: after})
}

// Drain returns the accumulated changes and clears the collector.
func (c *ChangeCollector) Drain() []FileChange {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.changes
	c.changes = nil
	return out
}
