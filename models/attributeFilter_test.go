package models

import (
	"errors"
	"testing"

	"bitbucket.org/mmdatafocus/benefits_backend/utils"
	"github.com/shopspring/decimal"
)

func testFilterSchema() *ProgramSchema {
	return &ProgramSchema{Properties: map[string]PropertySpec{
		"age":        {Type: FieldTypeInteger},
		"last_name":  {Type: FieldTypeString},
		"income":     {Type: FieldTypeNumeric},
		"registered": {Type: FieldTypeBoolean},
		"enrolled":   {Type: FieldTypeDate},
	}}
}

func TestParseFilterExpression_ShortAndLongForm(t *testing.T) {
	schema := testFilterSchema()

	exprs, err := ParseFilterExpressions(schema, []string{"age__integer=35"})
	if err != nil {
		t.Fatalf("short form error: %v", err)
	}
	if exprs[0].Field != "age" || exprs[0].Comparator != ComparatorExact || exprs[0].Value != int64(35) {
		t.Fatalf("short form parsed wrong: %+v", exprs[0])
	}

	exprs, err = ParseFilterExpressions(schema, []string{"income__gte__numeric=1200.50"})
	if err != nil {
		t.Fatalf("long form error: %v", err)
	}
	want := decimal.RequireFromString("1200.50")
	if exprs[0].Comparator != ComparatorGte || !exprs[0].Value.(decimal.Decimal).Equal(want) {
		t.Fatalf("long form parsed wrong: %+v", exprs[0])
	}
}

func TestParseFilterExpressions_AllOrNothing(t *testing.T) {
	schema := testFilterSchema()
	exprs, err := ParseFilterExpressions(schema, []string{"age__integer=35", "age__integer=banana"})
	if exprs != nil || !errors.Is(err, utils.ErrorUnsupportedValue) {
		t.Fatalf("expected whole list rejected with ErrorUnsupportedValue, got %v, %v", exprs, err)
	}
}

func TestParseFilterExpression_Rejections(t *testing.T) {
	schema := testFilterSchema()
	cases := []struct {
		raw      string
		expected error
	}{
		{"no_equals_sign", utils.ErrorInvalidFilterExpression},
		{"age=35", utils.ErrorInvalidFilterExpression},
		{"a__b__c__d=1", utils.ErrorInvalidFilterExpression},
		{"bad-field__integer=1", utils.ErrorInvalidFilterExpression},
		{"age__uuid=35", utils.ErrorUnsupportedFieldType},
		{"undeclared__integer=1", utils.ErrorInvalidFilterExpression},
		{"age__string=x", utils.ErrorUnsupportedFieldType},
		{"registered__lt__boolean=true", utils.ErrorInvalidFilterExpression},
		{"age__icontains__integer=3", utils.ErrorInvalidFilterExpression},
		{"enrolled__date=2024-01-01", utils.ErrorFilterDateUnsupported},
	}
	for _, tc := range cases {
		_, err := parseFilterExpression(schema, tc.raw)
		if !errors.Is(err, tc.expected) {
			t.Fatalf("parseFilterExpression(%q) expected %v, got %v", tc.raw, tc.expected, err)
		}
	}
}

func TestCastFilterValue(t *testing.T) {
	if v, err := CastFilterValue(FieldTypeInteger, " 42 "); err != nil || v != int64(42) {
		t.Fatalf("integer cast: %v, %v", v, err)
	}
	if v, err := CastFilterValue(FieldTypeString, "'O''Brien'"); err != nil || v != "O''Brien" {
		t.Fatalf("quoted string cast: %v, %v", v, err)
	}
	if v, err := CastFilterValue(FieldTypeString, "plain"); err != nil || v != "plain" {
		t.Fatalf("plain string cast: %v, %v", v, err)
	}
	if v, err := CastFilterValue(FieldTypeBoolean, "'True'"); err != nil || v != true {
		t.Fatalf("boolean cast: %v, %v", v, err)
	}
	if _, err := CastFilterValue(FieldTypeBoolean, "yes"); !errors.Is(err, utils.ErrorUnsupportedValue) {
		t.Fatalf("boolean junk: expected ErrorUnsupportedValue, got %v", err)
	}
	if _, err := CastFilterValue(FieldTypeDate, "2024-01-01"); !errors.Is(err, utils.ErrorFilterDateUnsupported) {
		t.Fatalf("date cast: expected ErrorFilterDateUnsupported, got %v", err)
	}
	if _, err := CastFilterValue("uuid", "x"); !errors.Is(err, utils.ErrorUnsupportedFieldType) {
		t.Fatalf("unknown type: expected ErrorUnsupportedFieldType, got %v", err)
	}
}

func TestFilterCatalogue_SkipsUnknownTypes(t *testing.T) {
	schema := &ProgramSchema{Properties: map[string]PropertySpec{
		"age":    {Type: FieldTypeInteger},
		"avatar": {Type: "binary"},
	}}
	defs := FilterCatalogue(schema)
	if len(defs) != 1 {
		t.Fatalf("expected 1 definition, got %d", len(defs))
	}
	if defs[0].Field != "age" || len(defs[0].Comparators) != 5 {
		t.Fatalf("unexpected definition: %+v", defs[0])
	}
}
