package conversation

import (
	"fmt"
	"os"
	"time"

	"codeloom/internal/domain/models/chat"
)

// PrepareMessages builds the wire-ready view of the message log. Stored
// messages keep lightweight file references; this pass inflates the
// newest reference to each path with the file's current content and
// replaces older references to the same path with a staleness note, so
// the model always sees exactly one authoritative copy per file.
//
// The stored log is never mutated; every touched message and part is
// copied.
func (c *Conversation) PrepareMessages(messages []*chat.Message) []*chat.Message {
	out := make([]*chat.Message, len(messages))
	seen := make(map[string]int)

	// Newest first, so the first occurrence of each path wins.
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		parts, changed := c.hydrateParts(msg.Parts, msg.TurnCount, seen)
		if !changed {
			out[i] = msg
			continue
		}
		clone := *msg
		clone.Parts = parts
		out[i] = &clone
	}
	return out
}

func (c *Conversation) hydrateParts(parts []chat.Part, turn int, seen map[string]int) ([]chat.Part, bool) {
	result := make([]chat.Part, len(parts))
	changed := false
	for i, p := range parts {
		switch p.Type {
		case chat.PartTypeFileRef:
			result[i] = c.hydrateFileRef(p, turn, seen)
			changed = true
		case chat.PartTypeToolResult:
			inner, innerChanged := c.hydrateParts(p.Result, turn, seen)
			if innerChanged {
				clone := p
				clone.Result = inner
				result[i] = clone
				changed = true
			} else {
				result[i] = p
			}
		default:
			result[i] = p
		}
	}
	if !changed {
		return parts, false
	}
	return result, true
}

func (c *Conversation) hydrateFileRef(p chat.Part, turn int, seen map[string]int) chat.Part {
	if freshTurn, stale := seen[p.Path]; stale {
		return chat.TextPart(fmt.Sprintf(
			"File added: %s (content is up-to-date as of turn %d)", p.Path, freshTurn))
	}
	seen[p.Path] = turn

	content, info, err := c.readAttachment(p.Path)
	if err != nil {
		c.deps.Logger.Warn("failed to hydrate file reference",
			"path", p.Path,
			"error", err,
		)
		return chat.TextPart(fmt.Sprintf(
			"File added: %s (content unavailable: %v)", p.Path, err))
	}
	return chat.TextPart(fmt.Sprintf(
		"File added: %s\n<file path=%q size=\"%d\" modified=%q>\n%s\n</file>",
		p.Path, p.Path, info.Size(), info.ModTime().UTC().Format(time.RFC3339), content))
}

func (c *Conversation) readAttachment(path string) (string, os.FileInfo, error) {
	if c.deps.Project == nil {
		return "", nil, fmt.Errorf("no project context")
	}
	data, err := c.deps.Project.ReadFile(path)
	if err != nil {
		return "", nil, err
	}
	info, err := c.deps.Project.StatFile(path)
	if err != nil {
		return "", nil, err
	}
	if att, ok := c.Attachments[path]; ok {
		att.Size = info.Size()
		att.LastModified = info.ModTime()
	}
	return string(data), info, nil
}
