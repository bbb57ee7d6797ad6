package workflow

import (
	"testing"

	"bitbucket.org/mmdatafocus/benefits_backend/models"
)

func completeSchema() *models.ProgramSchema {
	return &models.ProgramSchema{Properties: map[string]models.PropertySpec{
		"first_name":  {Type: "string"},
		"last_name":   {Type: "string"},
		"dob":         {Type: "date"},
		"age":         {Type: "integer"},
		"national_id": {Type: "string", Required: true},
	}}
}

func fullAttrs() models.AttributeMap {
	return models.AttributeMap{
		"first_name":  "Aye",
		"last_name":   "Min",
		"dob":         "1990-04-01",
		"national_id": "NID-1",
	}
}

func TestCollectFailingEntries_ReportsEachMissingField(t *testing.T) {
	schema := completeSchema()
	noFirst := fullAttrs()
	delete(noFirst, "first_name")
	noDob := fullAttrs()
	delete(noDob, "dob")
	badAge := fullAttrs()
	badAge["age"] = "forty"

	rows := []*models.DataSourceRow{
		testRow("ok", fullAttrs()),
		testRow("r1", noFirst),
		testRow("r2", noDob),
		testRow("r3", badAge),
	}

	failing := CollectFailingEntries(rows, schema)
	if !failing.Any() {
		t.Fatalf("expected gate to trip")
	}
	if len(failing.MissingFirstName) != 1 || failing.MissingFirstName[0] != "r1" {
		t.Fatalf("missing first_name: got %v", failing.MissingFirstName)
	}
	if len(failing.MissingDob) != 1 || failing.MissingDob[0] != "r2" {
		t.Fatalf("missing dob: got %v", failing.MissingDob)
	}
	// A row with a missing dob also fails the date-castability check.
	if len(failing.InvalidJSON) != 1 || failing.InvalidJSON[0] != "r3" {
		t.Fatalf("invalid json entries: got %v", failing.InvalidJSON)
	}
	if len(failing.MissingLastName) != 0 {
		t.Fatalf("no last_name failures expected, got %v", failing.MissingLastName)
	}
}

func TestCollectFailingEntries_SkipsAlreadyMergedRows(t *testing.T) {
	personID := "person-1"
	merged := testRow("r1", models.AttributeMap{})
	merged.PersonID = &personID

	failing := CollectFailingEntries([]*models.DataSourceRow{merged}, completeSchema())
	if failing.Any() {
		t.Fatalf("rows already linked to a person must be ignored, got %+v", failing)
	}
}

func TestFailingEntriesPayload_CarriesRowIDsPerField(t *testing.T) {
	f := FailingEntries{MissingDob: []string{"r1", "r2"}}
	payload := f.Payload("u1")
	if payload["error"] != "Invalid entries" || payload["upload_id"] != "u1" {
		t.Fatalf("payload envelope wrong: %v", payload)
	}
	dob, ok := payload["failing_entries_dob"].([]string)
	if !ok || len(dob) != 2 {
		t.Fatalf("failing_entries_dob wrong: %v", payload["failing_entries_dob"])
	}
	if payload["timestamp"] == "" {
		t.Fatalf("payload must carry a timestamp")
	}
}

func TestRowMatchesSchema(t *testing.T) {
	schema := completeSchema()
	cases := []struct {
		name     string
		mutate   func(models.AttributeMap)
		expected bool
	}{
		{"complete row", func(models.AttributeMap) {}, true},
		{"missing required field", func(a models.AttributeMap) { delete(a, "national_id") }, false},
		{"absent optional field", func(a models.AttributeMap) { delete(a, "age") }, true},
		{"uncastable integer", func(a models.AttributeMap) { a["age"] = "forty" }, false},
		{"castable integer", func(a models.AttributeMap) { a["age"] = " 40 " }, true},
		{"uncastable date", func(a models.AttributeMap) { a["dob"] = "01/04/1990" }, false},
	}
	for _, tc := range cases {
		attrs := fullAttrs()
		tc.mutate(attrs)
		if got := RowMatchesSchema(testRow("r", attrs), schema); got != tc.expected {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.expected, got)
		}
	}
}

func TestGroupRowsByContent_DedupesIdenticalRows(t *testing.T) {
	a1 := testRow("r1", fullAttrs())
	a2 := testRow("r2", fullAttrs())
	other := fullAttrs()
	other["national_id"] = "NID-2"
	b := testRow("r3", other)

	groups := GroupRowsByContent([]*models.DataSourceRow{a1, b, a2})
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if len(groups[0]) != 2 || groups[0][0].ID != "r1" || groups[0][1].ID != "r2" {
		t.Fatalf("identical rows must share a group in first-seen order: %v", groups[0])
	}
	if len(groups[1]) != 1 || groups[1][0].ID != "r3" {
		t.Fatalf("distinct row must stand alone: %v", groups[1])
	}
}

func TestResolveTerminalStatus(t *testing.T) {
	personID := "person-1"
	linked := testRow("r1", fullAttrs())
	linked.PersonID = &personID
	unlinked := testRow("r2", fullAttrs())
	invalid := testRow("r3", fullAttrs())
	invalid.PersonID = &personID
	invalid.Validations = models.ValidationResult{ValidationErrors: []models.ValidationError{{FieldName: "email", Note: "bad"}}}

	if got := ResolveTerminalStatus([]*models.DataSourceRow{linked}); got != models.UploadStatusSuccess {
		t.Fatalf("all linked and valid must be SUCCESS, got %s", got)
	}
	if got := ResolveTerminalStatus([]*models.DataSourceRow{linked, unlinked}); got != models.UploadStatusPartialSuccess {
		t.Fatalf("unlinked leftover must be PARTIAL_SUCCESS, got %s", got)
	}
	if got := ResolveTerminalStatus([]*models.DataSourceRow{linked, invalid}); got != models.UploadStatusPartialSuccess {
		t.Fatalf("invalid leftover must be PARTIAL_SUCCESS, got %s", got)
	}
}

func TestScopeRows(t *testing.T) {
	r1 := testRow("r1", fullAttrs())
	r2 := testRow("r2", fullAttrs())
	rows := []*models.DataSourceRow{r1, r2}

	if got := scopeRows(rows, nil); len(got) != 2 {
		t.Fatalf("nil accepted set must keep every row, got %d", len(got))
	}
	got := scopeRows(rows, []string{"r2", "not-in-upload"})
	if len(got) != 1 || got[0].ID != "r2" {
		t.Fatalf("accepted subset wrong: %v", got)
	}
	if got := scopeRows(rows, []string{}); len(got) != 0 {
		t.Fatalf("empty accepted set must select nothing, got %d", len(got))
	}
}

func TestBuildPerson(t *testing.T) {
	attrs := fullAttrs()
	person, err := buildPerson(attrs)
	if err != nil {
		t.Fatalf("buildPerson error: %v", err)
	}
	if person.FirstName != "Aye" || person.LastName != "Min" {
		t.Fatalf("names not mapped: %+v", person)
	}
	if person.Dob.Format(models.DobLayout) != "1990-04-01" {
		t.Fatalf("dob not parsed: %v", person.Dob)
	}
	if person.Ext["national_id"] != "NID-1" {
		t.Fatalf("person ext must keep the full raw map: %v", person.Ext)
	}

	attrs["dob"] = "junk"
	if _, err := buildPerson(attrs); err == nil {
		t.Fatalf("unparseable dob must error")
	}
}
