package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"codeloom/internal/domain"
	"codeloom/internal/domain/models/chat"
	"codeloom/internal/locking"
	"codeloom/internal/project"
)

// How long a mutating tool waits for another holder of the same path.
const pathLockTimeout = 10 * time.Second

// ReadFileTool implements read_file.
type ReadFileTool struct {
	project  *project.Context
	maxBytes int64
}

// NewReadFileTool creates the read tool.
func NewReadFileTool(projectCtx *project.Context, maxBytes int64) *ReadFileTool {
	return &ReadFileTool{project: projectCtx, maxBytes: maxBytes}
}

// Descriptor returns the tool's model-facing descriptor.
func (t *ReadFileTool) Descriptor() chat.Tool {
	return chat.Tool{
		Name:        "read_file",
		Description: "Read the content of a project file.",
		InputSchema: &chat.Schema{
			Type: "object",
			Properties: map[string]*chat.Schema{
				"path": {Type: "string", Description: "Project-relative file path"},
			},
			Required: []string{"path"},
		},
	}
}

// Execute implements Executor.
func (t *ReadFileTool) Execute(ctx context.Context, input map[string]any) ([]chat.Part, error) {
	path, _ := input["path"].(string)
	info, err := t.project.StatFile(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > t.maxBytes {
		return nil, &domain.FileError{Path: path, Op: domain.FileOpRead,
			Err: fmt.Errorf("file is %d bytes, limit is %d", info.Size(), t.maxBytes)}
	}
	data, err := t.project.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return []chat.Part{chat.TextPart(string(data))}, nil
}

// WriteFileTool implements write_file and reports mutations to the
// change collector. Writes to the same path are serialized through the
// advisory lock set so concurrent tool invocations cannot interleave.
type WriteFileTool struct {
	project *project.Context
	changes *ChangeCollector
	locks   *locking.PathLocks
}

// NewWriteFileTool creates the write tool.
func NewWriteFileTool(projectCtx *project.Context, changes *ChangeCollector, locks *locking.PathLocks) *WriteFileTool {
	return &WriteFileTool{project: projectCtx, changes: changes, locks: locks}
}

// Descriptor returns the tool's model-facing descriptor.
func (t *WriteFileTool) Descriptor() chat.Tool {
	return chat.Tool{
		Name:        "write_file",
		Description: "Create or overwrite a project file with the given content.",
		InputSchema: &chat.Schema{
			Type: "object",
			Properties: map[string]*chat.Schema{
				"path":    {Type: "string", Description: "Project-relative file path"},
				"content": {Type: "string", Description: "Full new file content"},
			},
			Required: []string{"path", "content"},
		},
	}
}

// Execute implements Executor.
func (t *WriteFileTool) Execute(ctx context.Context, input map[string]any) ([]chat.Part, error) {
	path, _ := input["path"].(string)
	content, _ := input["content"].(string)

	if err := t.locks.Acquire(ctx, path, "write_file", pathLockTimeout); err != nil {
		return nil, err
	}
	defer t.locks.Release(path, "write_file")

	before := ""
	if data, err := t.project.ReadFile(path); err == nil {
		before = string(data)
	}

	if err := t.project.WriteFile(path, []byte(content)); err != nil {
		return nil, err
	}
	t.changes.Add(path, before, content)

	return []chat.Part{chat.TextPart(fmt.Sprintf("wrote %d bytes to %s", len(content), path))}, nil
}

// ApplyPatchTool implements apply_patch. Patch-mismatch failures are
// fatal to the call - they indicate data corruption risk and are never
// silently ignored.
type ApplyPatchTool struct {
	project *project.Context
	changes *ChangeCollector
	locks   *locking.PathLocks
	dmp     *diffmatchpatch.DiffMatchPatch
}

// NewApplyPatchTool creates the patch tool.
func NewApplyPatchTool(projectCtx *project.Context, changes *ChangeCollector, locks *locking.PathLocks) *ApplyPatchTool {
	return &ApplyPatchTool{project: projectCtx, changes: changes, locks: locks, dmp: diffmatchpatch.New()}
}

// Descriptor returns the tool's model-facing descriptor.
func (t *ApplyPatchTool) Descriptor() chat.Tool {
	return chat.Tool{
		Name:        "apply_patch",
		Description: "Apply a unified-diff style patch to a project file.",
		InputSchema: &chat.Schema{
			Type: "object",
			Properties: map[string]*chat.Schema{
				"path":  {Type: "string", Description: "Project-relative file path"},
				"patch": {Type: "string", Description: "Patch text as produced by diff tools"},
			},
			Required: []string{"path", "patch"},
		},
	}
}

// Execute implements Executor.
func (t *ApplyPatchTool) Execute(ctx context.Context, input map[string]any) ([]chat.Part, error) {
	path, _ := input["path"].(string)
	patchText, _ := input["patch"].(string)

	if err := t.locks.Acquire(ctx, path, "apply_patch", pathLockTimeout); err != nil {
		return nil, err
	}
	defer t.locks.Release(path, "apply_patch")

	data, err := t.project.ReadFile(path)
	if err != nil {
		return nil, err
	}
	before := string(data)

	patches, err := t.dmp.PatchFromText(patchText)
	if err != nil {
		return nil, &domain.FileError{Path: path, Op: domain.FileOpPatch,
			Err: fmt.Errorf("parse patch: %w", err)}
	}

	after, applied := t.dmp.PatchApply(patches, before)
	for _, ok := range applied {
		if !ok {
			return nil, &domain.FileError{Path: path, Op: domain.FileOpPatch,
				Err: fmt.Errorf("patch did not apply cleanly")}
		}
	}

	if err := t.project.WriteFile(path, []byte(after)); err != nil {
		return nil, err
	}
	t.changes.Add(path, before, after)

	return []chat.Part{chat.TextPart(fmt.Sprintf("patched %s", path))}, nil
}
