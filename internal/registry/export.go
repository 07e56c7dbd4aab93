package registry

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"vita/internal/tool"
)

// Manifest is the exported catalog document: every registered tool spec plus
// provenance metadata, suitable for checking into a repo or feeding another
// gateway instance.
type Manifest struct {
	GeneratedAt time.Time    `json:"generated_at" yaml:"generated_at"`
	ToolCount   int          `json:"tool_count" yaml:"tool_count"`
	Tools       []*tool.Tool `json:"tools" yaml:"tools"`
}

func (f *Facade) manifest() Manifest {
	tools := f.catalog.List("")
	return Manifest{
		GeneratedAt: time.Now().UTC(),
		ToolCount:   len(tools),
		Tools:       tools,
	}
}

// ExportJSON renders the catalog manifest as indented JSON.
func (f *Facade) ExportJSON() ([]byte, error) {
	data, err := json.MarshalIndent(f.manifest(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export catalog json: %w", err)
	}
	return data, nil
}

// ExportYAML renders the catalog manifest as YAML.
func (f *Facade) ExportYAML() ([]byte, error) {
	data, err := yaml.Marshal(f.manifest())
	if err != nil {
		return nil, fmt.Errorf("export catalog yaml: %w", err)
	}
	return data, nil
}
