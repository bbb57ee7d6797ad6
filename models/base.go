package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// AttributeMap is a row's raw field map as parsed from the source file.
// All values are text; no numeric coercion happens at parse time.
// Stored as a JSON column.
type AttributeMap map[string]string

func (m AttributeMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *AttributeMap) Scan(value interface{}) error {
	return scanJSON(value, m)
}

// Canonical returns a deterministic JSON encoding of the map.
// encoding/json sorts map keys, so byte-identical content implies
// byte-identical output; used as the dedup key during merge.
func (m AttributeMap) Canonical() string {
	b, _ := json.Marshal(m)
	return string(b)
}

// Without returns a copy with the listed keys removed. Used to strip core
// demographic fields when building extension attributes.
func (m AttributeMap) Without(keys ...string) AttributeMap {
	out := make(AttributeMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// JSONMap is a free-form JSON object column (upload error payloads,
// task summaries).
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *JSONMap) Scan(value interface{}) error {
	return scanJSON(value, m)
}

// ValidationError is one failing sub-validation on a row.
type ValidationError struct {
	FieldName string `json:"field_name"`
	Note      string `json:"note"`
}

// ValidationResult is the structured per-row validation annotation.
// A row with an empty ValidationErrors list is valid.
type ValidationResult struct {
	ValidationErrors []ValidationError `json:"validation_errors"`
}

func (r ValidationResult) IsValid() bool {
	return len(r.ValidationErrors) == 0
}

func (r ValidationResult) Value() (driver.Value, error) {
	if r.ValidationErrors == nil {
		r.ValidationErrors = []ValidationError{}
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (r *ValidationResult) Scan(value interface{}) error {
	return scanJSON(value, r)
}

func scanJSON(value interface{}, dest interface{}) error {
	if value == nil {
		return nil
	}
	switch v := value.(type) {
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dest)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("cannot scan %T into JSON column", value)
	}
}
