package models

import (
	"encoding/json"
	"fmt"
	"strings"

	"bitbucket.org/mmdatafocus/benefits_backend/utils"
)

// PropertySpec is one schema-declared row field.
type PropertySpec struct {
	Type                  string
	ValidationCalculation string
	Uniqueness            bool
	Required              bool
}

// ProgramSchema is the parsed form of a program's attribute schema document.
type ProgramSchema struct {
	Properties map[string]PropertySpec
}

// HasField reports whether the schema declares the given column.
func (s *ProgramSchema) HasField(name string) bool {
	_, ok := s.Properties[name]
	return ok
}

// rawSchema mirrors the JSON-Schema-shaped document stored on the program.
// Per-field annotations: validationCalculation names a pluggable rule,
// uniqueness requests batch-wide dedup checking.
type rawSchema struct {
	Properties map[string]rawProperty `json:"properties"`
	Required   []string               `json:"required"`
}

type rawProperty struct {
	Type                  string `json:"type"`
	Uniqueness            bool   `json:"uniqueness"`
	ValidationCalculation *struct {
		Name string `json:"name"`
	} `json:"validationCalculation"`
}

// ResolveProgramSchema parses the schema document attached to a program.
// (may return ErrorSchemaMissing / ErrorSchemaInvalid)
func ResolveProgramSchema(program *BenefitProgram) (*ProgramSchema, error) {
	if program == nil || len(program.Schema) == 0 {
		return nil, utils.ErrorSchemaMissing
	}
	var raw rawSchema
	if err := json.Unmarshal(program.Schema, &raw); err != nil {
		return nil, utils.ErrorSchemaInvalid
	}
	if raw.Properties == nil {
		return nil, utils.ErrorSchemaInvalid
	}

	required := make(map[string]bool, len(raw.Required))
	for _, name := range raw.Required {
		required[name] = true
	}

	schema := &ProgramSchema{Properties: make(map[string]PropertySpec, len(raw.Properties))}
	for name, prop := range raw.Properties {
		spec := PropertySpec{
			Type:       prop.Type,
			Uniqueness: prop.Uniqueness,
			Required:   required[name],
		}
		if prop.ValidationCalculation != nil {
			// A descriptor without a name declares a rule that can never
			// run; reject it instead of leaving the field unvalidated.
			if strings.TrimSpace(prop.ValidationCalculation.Name) == "" {
				return nil, fmt.Errorf("%w: field %q declares a validationCalculation without a name", utils.ErrorMissingValidationRule, name)
			}
			spec.ValidationCalculation = prop.ValidationCalculation.Name
		}
		schema.Properties[name] = spec
	}
	return schema, nil
}
