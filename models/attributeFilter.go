package models

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"bitbucket.org/mmdatafocus/benefits_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Dynamic attribute filter: translates textual expressions of the shape
// field__type=value (or field__comparator__type=value) into type-aware
// predicates over the ext JSON column of merged records.

const (
	FieldTypeInteger = "integer"
	FieldTypeString  = "string"
	FieldTypeNumeric = "numeric"
	FieldTypeBoolean = "boolean"
	FieldTypeDate    = "date"
)

const (
	ComparatorExact     = "exact"
	ComparatorLt        = "lt"
	ComparatorLte       = "lte"
	ComparatorGt        = "gt"
	ComparatorGte       = "gte"
	ComparatorIContains = "icontains"
)

var comparatorsByType = map[string][]string{
	FieldTypeInteger: {ComparatorExact, ComparatorLt, ComparatorLte, ComparatorGt, ComparatorGte},
	FieldTypeNumeric: {ComparatorExact, ComparatorLt, ComparatorLte, ComparatorGt, ComparatorGte},
	FieldTypeString:  {ComparatorExact, ComparatorLt, ComparatorLte, ComparatorGt, ComparatorGte, ComparatorIContains},
	FieldTypeBoolean: {ComparatorExact},
	FieldTypeDate:    {ComparatorExact, ComparatorLt, ComparatorLte, ComparatorGt, ComparatorGte},
}

var sqlOpByComparator = map[string]string{
	ComparatorExact: "=",
	ComparatorLt:    "<",
	ComparatorLte:   "<=",
	ComparatorGt:    ">",
	ComparatorGte:   ">=",
}

// FilterDefinition is one (field, allowed comparators) pair derived from a
// program schema.
type FilterDefinition struct {
	Field       string   `json:"field"`
	Type        string   `json:"type"`
	Comparators []string `json:"comparators"`
}

// FilterCatalogue derives the available filters for a program from its schema
// property list.
func FilterCatalogue(schema *ProgramSchema) []FilterDefinition {
	defs := make([]FilterDefinition, 0, len(schema.Properties))
	for name, prop := range schema.Properties {
		comparators, ok := comparatorsByType[prop.Type]
		if !ok {
			continue
		}
		defs = append(defs, FilterDefinition{
			Field:       name,
			Type:        prop.Type,
			Comparators: comparators,
		})
	}
	return defs
}

// FilterExpression is one parsed and cast expression, ready to be applied.
type FilterExpression struct {
	Field      string
	Comparator string
	Type       string
	Value      interface{}
}

var filterFieldPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ParseFilterExpressions validates and casts every expression before any is
// applied; one malformed expression fails the whole list.
func ParseFilterExpressions(schema *ProgramSchema, expressions []string) ([]FilterExpression, error) {
	parsed := make([]FilterExpression, 0, len(expressions))
	for _, raw := range expressions {
		expr, err := parseFilterExpression(schema, raw)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, expr)
	}
	return parsed, nil
}

func parseFilterExpression(schema *ProgramSchema, raw string) (FilterExpression, error) {
	var expr FilterExpression

	lhs, value, found := strings.Cut(raw, "=")
	if !found {
		return expr, fmt.Errorf("%w: %q", utils.ErrorInvalidFilterExpression, raw)
	}

	parts := strings.Split(lhs, "__")
	switch len(parts) {
	case 2:
		expr.Field, expr.Comparator, expr.Type = parts[0], ComparatorExact, parts[1]
	case 3:
		expr.Field, expr.Comparator, expr.Type = parts[0], parts[1], parts[2]
	default:
		return expr, fmt.Errorf("%w: %q", utils.ErrorInvalidFilterExpression, raw)
	}

	if !filterFieldPattern.MatchString(expr.Field) {
		return expr, fmt.Errorf("%w: %q", utils.ErrorInvalidFilterExpression, raw)
	}
	comparators, ok := comparatorsByType[expr.Type]
	if !ok {
		return expr, fmt.Errorf("%w: %q", utils.ErrorUnsupportedFieldType, expr.Type)
	}
	if schema != nil {
		prop, declared := schema.Properties[expr.Field]
		if !declared {
			return expr, fmt.Errorf("%w: field %q not declared in schema", utils.ErrorInvalidFilterExpression, expr.Field)
		}
		if prop.Type != expr.Type {
			return expr, fmt.Errorf("%w: field %q is %q, not %q", utils.ErrorUnsupportedFieldType, expr.Field, prop.Type, expr.Type)
		}
	}
	if !containsString(comparators, expr.Comparator) {
		return expr, fmt.Errorf("%w: comparator %q not allowed for %s", utils.ErrorInvalidFilterExpression, expr.Comparator, expr.Type)
	}

	cast, err := CastFilterValue(expr.Type, value)
	if err != nil {
		return expr, err
	}
	expr.Value = cast
	return expr, nil
}

// CastFilterValue casts the textual RHS to its declared primitive kind.
func CastFilterValue(fieldType, value string) (interface{}, error) {
	switch fieldType {
	case FieldTypeInteger:
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a whole number", utils.ErrorUnsupportedValue, value)
		}
		return n, nil
	case FieldTypeString:
		return stripSingleQuotePair(value), nil
	case FieldTypeNumeric:
		d, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not numeric", utils.ErrorUnsupportedValue, value)
		}
		return d, nil
	case FieldTypeBoolean:
		return castBoolean(value)
	case FieldTypeDate:
		// Explicitly unimplemented rather than silently matching everything.
		return nil, utils.ErrorFilterDateUnsupported
	default:
		return nil, fmt.Errorf("%w: %q", utils.ErrorUnsupportedFieldType, fieldType)
	}
}

// stripSingleQuotePair removes one matching leading/trailing quote character.
func stripSingleQuotePair(value string) string {
	if len(value) >= 2 {
		first, last := value[0], value[len(value)-1]
		if first == last && (first == '\'' || first == '"') {
			return value[1 : len(value)-1]
		}
	}
	return value
}

func castBoolean(value string) (interface{}, error) {
	var b strings.Builder
	for _, r := range value {
		if ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9') {
			b.WriteRune(r)
		}
	}
	switch strings.ToLower(b.String()) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return nil, fmt.Errorf("%w: %q is not a boolean", utils.ErrorUnsupportedValue, value)
	}
}

// ApplyAttributeFilters narrows a query of merged records by logical AND of
// the parsed expressions. The query is untouched when expressions is empty.
func ApplyAttributeFilters(q *gorm.DB, expressions []FilterExpression) *gorm.DB {
	for _, expr := range expressions {
		q = applyFilterExpression(q, expr)
	}
	return q
}

func applyFilterExpression(q *gorm.DB, expr FilterExpression) *gorm.DB {
	// Field names are validated against ^[A-Za-z0-9_]+$ at parse time, so
	// interpolating them into the JSON path is safe.
	path := fmt.Sprintf("JSON_UNQUOTE(JSON_EXTRACT(ext, '$.%s'))", expr.Field)

	switch expr.Type {
	case FieldTypeInteger:
		op := sqlOpByComparator[expr.Comparator]
		return q.Where(fmt.Sprintf("CAST(%s AS SIGNED) %s ?", path, op), expr.Value)
	case FieldTypeNumeric:
		op := sqlOpByComparator[expr.Comparator]
		return q.Where(fmt.Sprintf("CAST(%s AS DECIMAL(20,6)) %s ?", path, op), expr.Value)
	case FieldTypeBoolean:
		literal := "false"
		if expr.Value == true {
			literal = "true"
		}
		return q.Where(fmt.Sprintf("LOWER(%s) = ?", path), literal)
	case FieldTypeString:
		if expr.Comparator == ComparatorIContains {
			pattern := "%" + strings.ToLower(expr.Value.(string)) + "%"
			return q.Where(fmt.Sprintf("LOWER(%s) LIKE ?", path), pattern)
		}
		op := sqlOpByComparator[expr.Comparator]
		return q.Where(fmt.Sprintf("%s %s ?", path, op), expr.Value)
	default:
		// Unreachable after parse-time validation; keep the query unchanged.
		return q
	}
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
