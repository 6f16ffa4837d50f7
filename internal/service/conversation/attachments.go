package conversation

import (
	"fmt"

	"codeloom/internal/domain"
	"codeloom/internal/domain/models/chat"
)

// AddFileForSystemPrompt pins a project file into the system prompt.
// Re-pinning an already-attached path just flips it into the system
// set.
func (c *Conversation) AddFileForSystemPrompt(path string) error {
	att, err := c.attach(path)
	if err != nil {
		return err
	}
	att.InSystem = true
	return nil
}

// AddFileForMessage attaches a project file to the message log: a file
// reference part joins (or starts) the trailing user message, and the
// attachment records which message owns it. Hydration inflates the
// reference at request time.
func (c *Conversation) AddFileForMessage(path string) error {
	att, err := c.attach(path)
	if err != nil {
		return err
	}
	msg := c.AddUserParts(chat.FileRefPart(path))
	att.MessageID = msg.ID
	return nil
}

// RemoveFile detaches a path. A message-owned attachment also removes
// its reference part from the owning message; a message left empty by
// that removal is dropped from the log entirely.
func (c *Conversation) RemoveFile(path string) error {
	att, ok := c.Attachments[path]
	if !ok {
		return fmt.Errorf("remove file %s: %w", path, domain.ErrNotFound)
	}
	delete(c.Attachments, path)

	if att.MessageID == "" {
		return nil
	}
	for i, msg := range c.Messages {
		if msg.ID != att.MessageID {
			continue
		}
		kept := msg.Parts[:0:0]
		for _, p := range msg.Parts {
			if p.Type == chat.PartTypeFileRef && p.Path == path {
				continue
			}
			kept = append(kept, p)
		}
		if len(kept) == 0 {
			c.Messages = append(c.Messages[:i], c.Messages[i+1:]...)
		} else {
			msg.Parts = kept
		}
		return nil
	}
	return nil
}

// SetFileWatcher wires attachment paths into a file watcher so disk
// changes reach RefreshAttachment. Already-attached paths (the resume
// path) register immediately; later attaches register as they happen.
func (c *Conversation) SetFileWatcher(watch func(rel string) error) {
	c.watch = watch
	for path := range c.Attachments {
		c.watchPath(path)
	}
}

func (c *Conversation) watchPath(path string) {
	if c.watch == nil {
		return
	}
	if err := c.watch(path); err != nil {
		c.deps.Logger.Warn("failed to watch attachment", "path", path, "error", err)
	}
}

// RefreshAttachment re-stats a tracked path, keeping size and mtime
// current. Used by the file watcher; unknown paths are ignored.
func (c *Conversation) RefreshAttachment(path string) {
	att, ok := c.Attachments[path]
	if !ok || c.deps.Project == nil {
		return
	}
	info, err := c.deps.Project.StatFile(path)
	if err != nil {
		c.deps.Logger.Warn("failed to refresh attachment", "path", path, "error", err)
		return
	}
	att.Size = info.Size()
	att.LastModified = info.ModTime()
}

func (c *Conversation) attach(path string) (*chat.FileAttachment, error) {
	if att, ok := c.Attachments[path]; ok {
		return att, nil
	}
	if c.deps.Project == nil {
		return nil, fmt.Errorf("attach %s: no project context", path)
	}
	info, err := c.deps.Project.StatFile(path)
	if err != nil {
		return nil, err
	}
	att := &chat.FileAttachment{
		Path:         path,
		Size:         info.Size(),
		LastModified: info.ModTime().UTC(),
	}
	c.Attachments[path] = att
	c.watchPath(path)
	return att, nil
}
