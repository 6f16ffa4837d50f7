package tools

import (
	"fmt"
	"os"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

// Manifest is the static description of the active toolset, loaded at
// startup. Tool schemas live in code; the manifest selects which tools
// are enabled and tunes their limits.
type Manifest struct {
	Tools    []string         `yaml:"tools"`
	Settings ManifestSettings `yaml:"settings"`
}

// ManifestSettings are the tunable tool limits.
type ManifestSettings struct {
	SearchMaxResults int   `yaml:"search_max_results"`
	MaxFileBytes     int64 `yaml:"max_file_bytes"`
	CommandTimeout   int   `yaml:"command_timeout_seconds"`
	FetchMaxBytes    int64 `yaml:"fetch_max_bytes"`
}

// DefaultManifest enables the full baseline toolset.
func DefaultManifest() *Manifest {
	return &Manifest{
		Tools:    []string{"search_project", "read_file", "write_file", "apply_patch", "run_command", "fetch_web"},
		Settings: defaultSettings(),
	}
}

func defaultSettings() ManifestSettings {
	return ManifestSettings{
		SearchMaxResults: 50,
		MaxFileBytes:     256 * 1024,
		CommandTimeout:   30,
		FetchMaxBytes:    1024 * 1024,
	}
}

// LoadManifest reads a YAML manifest; a missing file yields the default
// toolset.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultManifest(), nil
		}
		return nil, fmt.Errorf("read tool manifest: %w", err)
	}

	m := &Manifest{Settings: defaultSettings()}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse tool manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tool manifest: %w", err)
	}
	return m, nil
}

// Validate checks the manifest shape.
func (m *Manifest) Validate() error {
	return validation.ValidateStruct(m,
		validation.Field(&m.Tools, validation.Required, validation.Each(validation.Required)),
	)
}

// Enabled reports whether a tool name appears in the manifest.
func (m *Manifest) Enabled(name string) bool {
	for _, t := range m.Tools {
		if t == name {
			return true
		}
	}
	return false
}
