package tools

import (
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tools.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestLoadManifest(t *testing.T) {
	path := writeManifest(t, `
tools:
  - read_file
  - write_file
settings:
  search_max_results: 10
  max_file_bytes: 1024
`)
	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if !m.Enabled("read_file") || !m.Enabled("write_file") {
		t.Errorf("tools = %v", m.Tools)
	}
	if m.Enabled("run_command") {
		t.Error("run_command enabled without being listed")
	}
	if m.Settings.SearchMaxResults != 10 || m.Settings.MaxFileBytes != 1024 {
		t.Errorf("settings = %+v", m.Settings)
	}
	// Unspecified settings keep their defaults.
	if m.Settings.CommandTimeout != 30 {
		t.Errorf("CommandTimeout = %d, want default 30", m.Settings.CommandTimeout)
	}
}

func TestLoadManifestMissingFileUsesDefaults(t *testing.T) {
	m, err := LoadManifest(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if len(m.Tools) == 0 || !m.Enabled("search_project") {
		t.Errorf("default tools = %v", m.Tools)
	}
}

func TestLoadManifestEmptyToolList(t *testing.T) {
	path := writeManifest(t, "tools: []\n")
	if _, err := LoadManifest(path); err == nil {
		t.Error("manifest with no tools accepted")
	}
}

func TestLoadManifestMalformedYAML(t *testing.T) {
	path := writeManifest(t, "tools: [unterminated\n")
	if _, err := LoadManifest(path); err == nil {
		t.Error("malformed manifest accepted")
	}
}
