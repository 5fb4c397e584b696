// Package main provides phase file loading.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/vinayprograms/taskloop/internal/plan"
	"gopkg.in/yaml.v3"
)

// phaseFile is the YAML layout of a phases file:
//
//	phases:
//	  - name: Research
//	    description: Collect sources
type phaseFile struct {
	Phases []plan.PhaseSpec `yaml:"phases"`
}

// loadPhases reads a phases file.
func loadPhases(path string) ([]plan.PhaseSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading phases: %w", err)
	}
	return parsePhases(data)
}

// parsePhases decodes and checks phase definitions.
func parsePhases(data []byte) ([]plan.PhaseSpec, error) {
	var f phaseFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing phases: %w", err)
	}
	if len(f.Phases) == 0 {
		return nil, fmt.Errorf("parsing phases: no phases defined")
	}
	for i := range f.Phases {
		f.Phases[i].Name = strings.TrimSpace(f.Phases[i].Name)
		if f.Phases[i].Name == "" {
			return nil, fmt.Errorf("parsing phases: phase %d has no name", i+1)
		}
	}
	return f.Phases, nil
}
