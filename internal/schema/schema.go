// Package schema holds the versioned JSON Schemas for stage output records.
package schema

import (
	"embed"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Version is appended to every schema file name.
const Version = "v1"

//go:embed *.v1.json
var files embed.FS

// Registry compiles the embedded schemas once and checks field values
// against them.
type Registry struct {
	once    sync.Once
	err     error
	schemas map[string]*jsonschema.Schema
}

// NewRegistry returns an empty registry; schemas compile on first use.
func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) load() error {
	r.once.Do(func() {
		entries, err := files.ReadDir(".")
		if err != nil {
			r.err = err
			return
		}
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			raw, err := files.ReadFile(e.Name())
			if err != nil {
				r.err = err
				return
			}
			if err := compiler.AddResource(e.Name(), strings.NewReader(string(raw))); err != nil {
				r.err = fmt.Errorf("add schema %s: %w", e.Name(), err)
				return
			}
			names = append(names, e.Name())
		}
		r.schemas = make(map[string]*jsonschema.Schema, len(names))
		for _, name := range names {
			s, err := compiler.Compile(name)
			if err != nil {
				r.err = fmt.Errorf("compile schema %s: %w", name, err)
				return
			}
			key := strings.TrimSuffix(path.Base(name), "."+Version+".json")
			r.schemas[key] = s
		}
	})
	return r.err
}

// Keys lists the fields that have a schema.
func (r *Registry) Keys() []string {
	if err := r.load(); err != nil {
		return nil
	}
	out := make([]string, 0, len(r.schemas))
	for k := range r.schemas {
		out = append(out, k)
	}
	return out
}

// Check validates a decoded JSON value. Keys without a schema pass.
func (r *Registry) Check(key string, v any) error {
	if err := r.load(); err != nil {
		return err
	}
	s, ok := r.schemas[key]
	if !ok {
		return nil
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("%s.%s: %w", key, Version, err)
	}
	return nil
}
