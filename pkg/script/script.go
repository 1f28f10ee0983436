package script

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tombee/scriptflow/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Format identifies the encoding of a script file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Script is a named step list with optional initial variables.
type Script struct {
	// Name is the script identifier
	Name string `yaml:"name" json:"name"`

	// Description provides human-readable context
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Variables are seeded into the global scope before execution
	Variables map[string]any `yaml:"variables,omitempty" json:"variables,omitempty"`

	// Steps is the flat, marker-delimited step list
	Steps []Step `yaml:"steps" json:"steps"`
}

// LoadFile reads a script from path. The format is chosen by extension;
// anything other than .json is read as YAML.
func LoadFile(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading script %s", path)
	}
	format := FormatYAML
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = FormatJSON
	}
	s, err := Parse(data, format)
	if err != nil {
		return nil, errors.Wrapf(err, "loading script %s", path)
	}
	if s.Name == "" {
		s.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return s, nil
}

// Parse decodes a script, fills defaults and validates it.
func Parse(data []byte, format Format) (*Script, error) {
	var s Script
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("failed to parse script: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("failed to parse script: %w", err)
		}
	}

	s.ApplyDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// ApplyDefaults numbers steps and generates missing ids.
func (s *Script) ApplyDefaults() {
	for i := range s.Steps {
		step := &s.Steps[i]
		if step.ID == "" {
			step.ID = fmt.Sprintf("step_%d", i+1)
		}
		if step.Name == "" {
			step.Name = step.ID
		}
		step.Order = i + 1
	}
}

// Validate checks step ids and types. Marker steps may share ids with their
// partners, so only non-marker ids must be unique.
func (s *Script) Validate() error {
	if len(s.Steps) == 0 {
		return &errors.ValidationError{
			Field:      "steps",
			Message:    "script has no steps",
			Suggestion: "add at least one step",
		}
	}

	seen := make(map[string]int, len(s.Steps))
	for i, step := range s.Steps {
		if step.Type == "" {
			return &errors.ValidationError{
				Field:   fmt.Sprintf("steps[%d].step_type", i),
				Message: fmt.Sprintf("step %q has no step_type", step.ID),
			}
		}
		if step.Type.IsMarker() {
			continue
		}
		if prev, ok := seen[step.ID]; ok {
			return &errors.ValidationError{
				Field:      fmt.Sprintf("steps[%d].id", i),
				Message:    fmt.Sprintf("duplicate step id %q (first used at steps[%d])", step.ID, prev),
				Suggestion: "give every action step a unique id",
			}
		}
		seen[step.ID] = i
	}
	return nil
}
