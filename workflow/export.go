package workflow

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"sort"

	"bitbucket.org/mmdatafocus/benefits_backend/config"
	"bitbucket.org/mmdatafocus/benefits_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// InvalidRowExporter renders the rows still carrying validation errors as a
// CSV download, each row annotated with its error detail. The export is
// best-effort: a single bad row never blocks the rest.
type InvalidRowExporter struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

func NewInvalidRowExporter(db *gorm.DB, logger *logrus.Logger) *InvalidRowExporter {
	return &InvalidRowExporter{DB: db, Logger: logger}
}

func (e *InvalidRowExporter) Export(ctx context.Context, uploadID string) ([]byte, error) {
	rows, err := models.GetInvalidUploadRows(ctx, e.DB, uploadID)
	if err != nil {
		return nil, err
	}
	return RenderInvalidRowsCSV(rows, e.Logger), nil
}

// RenderInvalidRowsCSV builds the export table: one column per attribute seen
// across the invalid rows, plus id and error.
func RenderInvalidRowsCSV(rows []*models.DataSourceRow, logger *logrus.Logger) []byte {
	columnSet := map[string]bool{}
	for _, row := range rows {
		for key := range row.Attributes {
			columnSet[key] = true
		}
	}
	columns := make([]string, 0, len(columnSet))
	for key := range columnSet {
		columns = append(columns, key)
	}
	sort.Strings(columns)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := append(append([]string{"id"}, columns...), "error")
	_ = w.Write(header)

	for _, row := range rows {
		record := make([]string, 0, len(header))
		record = append(record, row.ID)
		for _, col := range columns {
			record = append(record, row.Attributes[col])
		}
		detail, err := json.Marshal(row.Validations)
		if err != nil {
			if logger != nil {
				config.LogError(logger, "workflow", "RenderInvalidRowsCSV", "marshal row errors", row.ID, err)
			}
			detail = []byte("{}")
		}
		record = append(record, string(detail))
		_ = w.Write(record)
	}
	w.Flush()
	return buf.Bytes()
}
