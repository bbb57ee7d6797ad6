package workflow

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/benefits_backend/config"
	"bitbucket.org/mmdatafocus/benefits_backend/models"
	"bitbucket.org/mmdatafocus/benefits_backend/utils"
	"github.com/extrame/xls"
	"github.com/google/uuid"
	"github.com/knieriem/odf/ods"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

const (
	MediaTypeCSV  = "text/csv"
	MediaTypeXLS  = "application/vnd.ms-excel"
	MediaTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MediaTypeODS  = "application/vnd.oasis.opendocument.spreadsheet"
)

// Essential headers every registration file must carry. The id column is
// tolerated because re-exported invalid-row files include it.
var essentialHeaders = []string{models.FieldFirstName, models.FieldLastName, models.FieldDob}

const maxSpreadsheetRows = 100000

// TabularLoader turns an uploaded byte stream into one Upload and N
// DataSourceRows.
type TabularLoader struct {
	DB      *gorm.DB
	Logger  *logrus.Logger
	Archive bool
}

func NewTabularLoader(db *gorm.DB, logger *logrus.Logger) *TabularLoader {
	return &TabularLoader{DB: db, Logger: logger, Archive: os.Getenv("GCS_BUCKET") != ""}
}

// IngestResult reports a completed ingestion.
type IngestResult struct {
	UploadID string `json:"upload_id"`
	RowCount int    `json:"row_count"`
}

// Ingest parses the file, validates its headers against the program schema,
// persists the Upload (status PENDING, before any row), then all rows, the
// program upload record and the workflow trigger event.
func (l *TabularLoader) Ingest(ctx context.Context, file []byte, mediaType, fileName string, program *models.BenefitProgram, workflowName string) (*IngestResult, error) {
	schema, err := models.ResolveProgramSchema(program)
	if err != nil {
		return nil, err
	}

	table, err := ParseTable(file, mediaType)
	if err != nil {
		return nil, err
	}
	headers, records := table[0], table[1:]
	if len(records) == 0 {
		return nil, utils.ErrorEmptyImport
	}
	if err := validateHeaders(headers, schema); err != nil {
		return nil, err
	}

	if l.Archive {
		objectName := "importBeneficiaries/" + program.Code + "_" + utils.GenerateUniqueFilename() + "_" + fileName
		if aerr := utils.UploadFileToGCS(ctx, objectName, bytes.NewReader(file)); aerr != nil {
			// Archival is best-effort; the pipeline proceeds on local bytes.
			config.LogError(l.Logger, "workflow", "Ingest", "archive import file", objectName, aerr)
		}
	}

	sourceKind := string(models.SourceKindBeneficiaries)
	if program.Type == models.ProgramTypeGroup {
		sourceKind = string(models.SourceKindGroupBeneficiaries)
	}

	upload := &models.Upload{
		ID:         uuid.NewString(),
		SourceName: fileName,
		SourceType: sourceKind,
		Status:     models.UploadStatusPending,
		Error:      models.JSONMap{},
	}
	// The Upload commits before row persistence begins so that every bulk
	// attempt leaves an audit record even when row writes fail.
	if err := l.DB.WithContext(ctx).Create(upload).Error; err != nil {
		return nil, err
	}

	rows := buildRows(upload.ID, headers, records)
	err = l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.CreateInBatches(rows, 500).Error; err != nil {
			return err
		}
		record := &models.ProgramUploadRecord{
			ID:        uuid.NewString(),
			UploadID:  upload.ID,
			ProgramID: program.ID,
			Workflow:  workflowName,
		}
		if err := tx.Create(record).Error; err != nil {
			return err
		}
		userID, _ := utils.GetUserIdFromContext(ctx)
		return models.EmitWorkflowEvent(ctx, tx, models.WorkflowEventUploadIngested, models.WorkflowEventPayload{
			UserUUID:           userID,
			BenefitProgramUUID: program.ID,
			UploadUUID:         upload.ID,
			Workflow:           workflowName,
		})
	})
	if err != nil {
		config.LogError(l.Logger, "workflow", "Ingest", "persist upload rows", upload.ID, err)
		return nil, fmt.Errorf("failed to persist upload rows: %w", err)
	}

	return &IngestResult{UploadID: upload.ID, RowCount: len(rows)}, nil
}

// ParseTable reads a whole spreadsheet as text cells. The first row is the
// header. No numeric coercion happens here; precision is the validators'
// concern, not the parser's.
func ParseTable(file []byte, mediaType string) ([][]string, error) {
	var table [][]string
	var err error
	switch normalizeMediaType(mediaType) {
	case MediaTypeCSV:
		table, err = parseCSV(file)
	case MediaTypeXLS:
		table, err = parseXLS(file)
	case MediaTypeXLSX:
		table, err = parseXLSX(file)
	case MediaTypeODS:
		table, err = parseODS(file)
	default:
		return nil, fmt.Errorf("%w: %q", utils.ErrorUnsupportedFormat, mediaType)
	}
	if err != nil {
		return nil, err
	}
	table = dropEmptyRows(table)
	if len(table) == 0 {
		return nil, utils.ErrorEmptyImport
	}
	return table, nil
}

func normalizeMediaType(mediaType string) string {
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	if i := strings.Index(mediaType, ";"); i >= 0 {
		mediaType = strings.TrimSpace(mediaType[:i])
	}
	return mediaType
}

func parseCSV(file []byte) ([][]string, error) {
	reader := csv.NewReader(bytes.NewReader(file))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var table [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", utils.ErrorUnsupportedFormat, err)
		}
		table = append(table, record)
	}
	if len(table) > 0 && len(table[0]) > 0 {
		table[0][0] = strings.TrimPrefix(table[0][0], "\uFEFF")
	}
	return table, nil
}

func parseXLSX(file []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(file))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrorUnsupportedFormat, err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, utils.ErrorEmptyImport
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrorUnsupportedFormat, err)
	}
	return rows, nil
}

func parseXLS(file []byte) ([][]string, error) {
	wb, err := xls.OpenReader(bytes.NewReader(file), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrorUnsupportedFormat, err)
	}
	return wb.ReadAllCells(maxSpreadsheetRows), nil
}

func parseODS(file []byte) ([][]string, error) {
	// The ods reader only opens named files; stage the bytes in a temp file.
	tmp, err := os.CreateTemp("", "import-*.ods")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(file); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}

	f, err := ods.Open(tmp.Name())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrorUnsupportedFormat, err)
	}
	defer f.Close()

	var doc ods.Doc
	if err := f.ParseContent(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrorUnsupportedFormat, err)
	}
	if len(doc.Table) == 0 {
		return nil, utils.ErrorEmptyImport
	}
	return doc.Table[0].Strings(), nil
}

func dropEmptyRows(table [][]string) [][]string {
	out := table[:0]
	for _, row := range table {
		empty := true
		for _, cell := range row {
			if strings.TrimSpace(cell) != "" {
				empty = false
				break
			}
		}
		if !empty {
			out = append(out, row)
		}
	}
	return out
}

// validateHeaders requires the essential demographic columns and rejects
// columns the program schema does not declare. A stray id column is allowed.
func validateHeaders(headers []string, schema *models.ProgramSchema) error {
	var errs []string
	seen := make(map[string]bool, len(headers))
	for _, h := range headers {
		h = strings.TrimSpace(h)
		seen[h] = true
		if h == "id" || containsString(essentialHeaders, h) {
			continue
		}
		if !schema.HasField(h) {
			errs = append(errs, fmt.Sprintf("invalid column: %s", h))
		}
	}
	for _, required := range essentialHeaders {
		if !seen[required] {
			errs = append(errs, fmt.Sprintf("missing essential header: %s", required))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", utils.ErrorInvalidHeaders, strings.Join(errs, "; "))
	}
	return nil
}

// buildRows maps each record to an independent DataSourceRow. Empty cells are
// omitted so that a missing value reads as an absent field downstream.
func buildRows(uploadID string, headers []string, records [][]string) []*models.DataSourceRow {
	rows := make([]*models.DataSourceRow, 0, len(records))
	for _, record := range records {
		attrs := make(models.AttributeMap, len(headers))
		for i, header := range headers {
			header = strings.TrimSpace(header)
			if header == "" || i >= len(record) {
				continue
			}
			value := strings.TrimSpace(record[i])
			if value == "" {
				continue
			}
			attrs[header] = value
		}
		rows = append(rows, &models.DataSourceRow{
			ID:          uuid.NewString(),
			UploadID:    uploadID,
			Attributes:  attrs,
			Validations: models.ValidationResult{ValidationErrors: []models.ValidationError{}},
		})
	}
	return rows
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
