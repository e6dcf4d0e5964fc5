// Package workflow runs the declarative content graph: stages, human review
// gates, a parallel group and a final normalisation pass, on top of the
// checkpointing executor.
package workflow

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mohammad-safakhou/contentpipe/internal/pipeline"
	"github.com/mohammad-safakhou/contentpipe/internal/review"
)

//go:embed default.yaml
var defaultDefinition []byte

// ErrInvalidDefinition is returned for malformed graph files.
var ErrInvalidDefinition = errors.New("invalid workflow definition")

// Definition is the YAML form of a graph.
type Definition struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Step is one entry of a definition. Exactly one of Stage, Review, Parallel
// or Normalize is set.
type Step struct {
	Stage     string           `yaml:"stage,omitempty"`
	Optional  bool             `yaml:"optional,omitempty"`
	Retries   int              `yaml:"retries,omitempty"`
	Review    *review.GateSpec `yaml:"review,omitempty"`
	Parallel  []string         `yaml:"parallel,omitempty"`
	Normalize *NormalizeStep   `yaml:"normalize,omitempty"`
}

// NormalizeStep decodes text fields; no keys means the default set.
type NormalizeStep struct {
	Keys []string `yaml:"keys,omitempty"`
}

var knownStages = map[string]bool{
	pipeline.StageResearcher:   true,
	pipeline.StageScriptwriter: true,
	pipeline.StageThumbnails:   true,
	pipeline.StageCaptioner:    true,
	pipeline.StageVoiceover:    true,
	pipeline.StageNewsletter:   true,
}

// DefaultDefinition returns the built-in graph.
func DefaultDefinition() *Definition {
	def, err := ParseDefinition(defaultDefinition)
	if err != nil {
		panic(fmt.Sprintf("embedded workflow definition: %v", err))
	}
	return def
}

// LoadDefinition reads path, or returns the built-in graph when path is empty.
func LoadDefinition(path string) (*Definition, error) {
	if path == "" {
		return DefaultDefinition(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow %s: %w", path, err)
	}
	return ParseDefinition(b)
}

// ParseDefinition decodes and validates a YAML graph.
func ParseDefinition(b []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(b, &def); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks every step names a single known action.
func (d *Definition) Validate() error {
	if len(d.Steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalidDefinition)
	}
	reviews := make(map[string]bool)
	for i, s := range d.Steps {
		kinds := 0
		if s.Stage != "" {
			kinds++
			if !knownStages[s.Stage] {
				return fmt.Errorf("%w: step %d: unknown stage %q", ErrInvalidDefinition, i, s.Stage)
			}
		}
		if s.Review != nil {
			kinds++
			if s.Review.Stage == "" || s.Review.StateKey == "" {
				return fmt.Errorf("%w: step %d: review needs stage and state_key", ErrInvalidDefinition, i)
			}
			if reviews[s.Review.Stage] {
				return fmt.Errorf("%w: step %d: duplicate review %q", ErrInvalidDefinition, i, s.Review.Stage)
			}
			reviews[s.Review.Stage] = true
		}
		if len(s.Parallel) > 0 {
			kinds++
			for _, name := range s.Parallel {
				if !knownStages[name] {
					return fmt.Errorf("%w: step %d: unknown stage %q", ErrInvalidDefinition, i, name)
				}
			}
		}
		if s.Normalize != nil {
			kinds++
		}
		if kinds != 1 {
			return fmt.Errorf("%w: step %d must declare exactly one of stage, review, parallel, normalize", ErrInvalidDefinition, i)
		}
	}
	return nil
}
