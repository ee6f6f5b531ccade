package project

import (
	"encoding/json"
	"fmt"
	"strings"

	_ "embed"

	"github.com/KevinKickass/OpenPLCWorkspace/internal/types"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/project-v1.json
var projectSchemaJSON string

type Validator struct {
	schema *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()

	if err := compiler.AddResource("project-v1.json",
		strings.NewReader(projectSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile("project-v1.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

// ValidateJSON checks a raw JSON project document.
func (v *Validator) ValidateJSON(data []byte) error {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	return nil
}

// ValidateProject checks a decoded project, whatever format it came from,
// plus the rules a schema cannot express.
func (v *Validator) ValidateProject(p *types.Project) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal project: %w", err)
	}
	if err := v.ValidateJSON(data); err != nil {
		return err
	}

	seen := make(map[string]bool, len(p.Symbols))
	for _, s := range p.Symbols {
		if seen[s.Name] {
			return fmt.Errorf("duplicate symbol: %s", s.Name)
		}
		seen[s.Name] = true
	}
	return p.Offsets.Validate()
}
