package conversation

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Roughly one screenful; larger projects fall back to the tag index.
const projectSummaryBudget = 8192

// PrepareSystemPrompt assembles the effective system prompt for one
// exchange. Sections append in a fixed order: base prompt, project
// summary, pinned file contents, then the VCS revision. Sections whose
// source is unavailable are skipped, not errors.
func (c *Conversation) PrepareSystemPrompt(ctx context.Context, base string) (string, error) {
	var b strings.Builder
	b.WriteString(base)

	if c.deps.Project != nil {
		summary, err := c.deps.Project.Summary(projectSummaryBudget)
		if err != nil {
			c.deps.Logger.Warn("failed to summarize project", "error", err)
		} else if summary != "" {
			b.WriteString("\n\n# Project\n")
			b.WriteString(summary)
		}

		for _, path := range c.pinnedPaths() {
			content, _, err := c.readAttachment(path)
			if err != nil {
				c.deps.Logger.Warn("failed to read pinned file",
					"path", path,
					"error", err,
				)
				continue
			}
			fmt.Fprintf(&b, "\n\n# Pinned file: %s\n%s", path, content)
		}
	}

	if c.deps.VCS != nil {
		if rev, err := c.deps.VCS.Head(); err == nil {
			fmt.Fprintf(&b, "\n\nCurrent revision: %s", rev)
		}
	}

	return b.String(), nil
}

// pinnedPaths returns system-prompt attachments in stable path order.
func (c *Conversation) pinnedPaths() []string {
	paths := make([]string, 0, len(c.Attachments))
	for path, att := range c.Attachments {
		if att.InSystem {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths
}
