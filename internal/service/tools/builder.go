package tools

import (
	"log/slog"
	"time"

	"codeloom/internal/locking"
	"codeloom/internal/project"
)

// Builder assembles a registry from a manifest. It follows the builder
// pattern so wiring code can enable tool groups without touching
// registration logic.
type Builder struct {
	registry *Registry
	manifest *Manifest
}

// NewBuilder creates a builder over a fresh registry.
func NewBuilder(manifest *Manifest, logger *slog.Logger) *Builder {
	if manifest == nil {
		manifest = DefaultManifest()
	}
	return &Builder{
		registry: NewRegistry(logger),
		manifest: manifest,
	}
}

// WithProjectTools registers the file and search tools scoped to the
// project root. Mutating tools report into the change collector and
// serialize per-path through the lock set.
func (b *Builder) WithProjectTools(projectCtx *project.Context, changes *ChangeCollector, locks *locking.PathLocks) *Builder {
	s := b.manifest.Settings

	if b.manifest.Enabled("search_project") {
		t := NewSearchTool(projectCtx, s.SearchMaxResults)
		b.registry.Register(t.Descriptor(), t)
	}
	if b.manifest.Enabled("read_file") {
		t := NewReadFileTool(projectCtx, s.MaxFileBytes)
		b.registry.Register(t.Descriptor(), t)
	}
	if b.manifest.Enabled("write_file") {
		t := NewWriteFileTool(projectCtx, changes, locks)
		b.registry.Register(t.Descriptor(), t)
	}
	if b.manifest.Enabled("apply_patch") {
		t := NewApplyPatchTool(projectCtx, changes, locks)
		b.registry.Register(t.Descriptor(), t)
	}
	return b
}

// WithCommandTool registers run_command with the given allow-list.
func (b *Builder) WithCommandTool(projectCtx *project.Context, allowed []string) *Builder {
	if b.manifest.Enabled("run_command") {
		timeout := time.Duration(b.manifest.Settings.CommandTimeout) * time.Second
		t := NewCommandTool(projectCtx, allowed, timeout)
		b.registry.Register(t.Descriptor(), t)
	}
	return b
}

// WithWebTools registers fetch_web.
func (b *Builder) WithWebTools() *Builder {
	if b.manifest.Enabled("fetch_web") {
		t := NewFetchWebTool(b.manifest.Settings.FetchMaxBytes)
		b.registry.Register(t.Descriptor(), t)
	}
	return b
}

// Build returns the assembled registry.
func (b *Builder) Build() *Registry {
	return b.registry
}
