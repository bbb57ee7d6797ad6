package workflow

import (
	"errors"
	"strings"
	"testing"

	"bitbucket.org/mmdatafocus/benefits_backend/models"
	"bitbucket.org/mmdatafocus/benefits_backend/utils"
)

func loaderSchema() *models.ProgramSchema {
	return &models.ProgramSchema{Properties: map[string]models.PropertySpec{
		"first_name": {Type: "string"},
		"last_name":  {Type: "string"},
		"dob":        {Type: "date"},
		"email":      {Type: "string"},
	}}
}

func TestParseTable_CSV(t *testing.T) {
	csvBytes := []byte("first_name,last_name,dob\nAye,Min,1990-04-01\n\nSu,Hlaing,1985-12-30\n")
	table, err := ParseTable(csvBytes, "text/csv; charset=utf-8")
	if err != nil {
		t.Fatalf("ParseTable error: %v", err)
	}
	if len(table) != 3 {
		t.Fatalf("blank lines must be dropped, expected 3 rows, got %d", len(table))
	}
	if table[0][0] != "first_name" || table[2][1] != "Hlaing" {
		t.Fatalf("unexpected table content: %v", table)
	}
}

func TestParseTable_StripsByteOrderMark(t *testing.T) {
	csvBytes := []byte("\xef\xbb\xbffirst_name,last_name,dob\nAye,Min,1990-04-01\n")
	table, err := ParseTable(csvBytes, "text/csv")
	if err != nil {
		t.Fatalf("ParseTable error: %v", err)
	}
	if table[0][0] != "first_name" {
		t.Fatalf("BOM not stripped from first header: %q", table[0][0])
	}
}

func TestParseTable_RaggedRowsAreTolerated(t *testing.T) {
	csvBytes := []byte("first_name,last_name,dob\nAye,Min\n")
	table, err := ParseTable(csvBytes, "text/csv")
	if err != nil {
		t.Fatalf("short records must parse, got %v", err)
	}
	if len(table[1]) != 2 {
		t.Fatalf("expected ragged row preserved, got %v", table[1])
	}
}

func TestParseTable_UnsupportedAndEmpty(t *testing.T) {
	if _, err := ParseTable([]byte("x"), "application/pdf"); !errors.Is(err, utils.ErrorUnsupportedFormat) {
		t.Fatalf("expected ErrorUnsupportedFormat, got %v", err)
	}
	if _, err := ParseTable([]byte("\n  , ,\n"), "text/csv"); !errors.Is(err, utils.ErrorEmptyImport) {
		t.Fatalf("expected ErrorEmptyImport for all-blank file, got %v", err)
	}
}

func TestValidateHeaders(t *testing.T) {
	schema := loaderSchema()

	if err := validateHeaders([]string{"first_name", "last_name", "dob", "email"}, schema); err != nil {
		t.Fatalf("declared headers rejected: %v", err)
	}
	// Re-exported invalid-row files carry an id column.
	if err := validateHeaders([]string{"id", "first_name", "last_name", "dob"}, schema); err != nil {
		t.Fatalf("id column must be tolerated: %v", err)
	}

	err := validateHeaders([]string{"first_name", "last_name", "favourite_colour"}, schema)
	if !errors.Is(err, utils.ErrorInvalidHeaders) {
		t.Fatalf("expected ErrorInvalidHeaders, got %v", err)
	}
	if !strings.Contains(err.Error(), "invalid column: favourite_colour") {
		t.Fatalf("undeclared column not reported: %v", err)
	}
	if !strings.Contains(err.Error(), "missing essential header: dob") {
		t.Fatalf("missing essential header not reported: %v", err)
	}
}

func TestBuildRows_OmitsEmptyCells(t *testing.T) {
	headers := []string{"first_name", "last_name", "dob", "email"}
	records := [][]string{
		{"Aye", "Min", "1990-04-01", "aye@example.org"},
		{"Su", "", "1985-12-30"}, // blank last_name, no email cell at all
	}

	rows := buildRows("u1", headers, records)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].UploadID != "u1" || rows[0].ID == rows[1].ID {
		t.Fatalf("rows must carry the upload id and distinct ids")
	}
	if len(rows[0].Attributes) != 4 {
		t.Fatalf("full record must keep all cells: %v", rows[0].Attributes)
	}
	if _, present := rows[1].Attributes["last_name"]; present {
		t.Fatalf("blank cell must read as an absent field: %v", rows[1].Attributes)
	}
	if _, present := rows[1].Attributes["email"]; present {
		t.Fatalf("short record must not invent trailing fields: %v", rows[1].Attributes)
	}
	if !rows[1].Validations.IsValid() {
		t.Fatalf("fresh rows start without validation errors")
	}
}

func TestNormalizeMediaType(t *testing.T) {
	cases := []struct{ in, expected string }{
		{"text/csv", "text/csv"},
		{" TEXT/CSV ; charset=utf-8", "text/csv"},
		{"application/vnd.ms-excel", MediaTypeXLS},
	}
	for _, tc := range cases {
		if got := normalizeMediaType(tc.in); got != tc.expected {
			t.Fatalf("normalizeMediaType(%q) expected %q, got %q", tc.in, tc.expected, got)
		}
	}
}
