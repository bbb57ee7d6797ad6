package workflow

import (
	"context"
	"fmt"

	"bitbucket.org/mmdatafocus/benefits_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ImportService is the semantic boundary of the registration pipeline: the
// transport layer calls these operations and consumes their results.
type ImportService struct {
	DB         *gorm.DB
	Logger     *logrus.Logger
	Loader     *TabularLoader
	Validation *ValidationEngine
	Gate       *CheckerGate
	Merge      *MergeEngine
	Exporter   *InvalidRowExporter
}

func NewImportService(db *gorm.DB, logger *logrus.Logger, cfg GateConfig) *ImportService {
	merge := NewMergeEngine(db, logger)
	return &ImportService{
		DB:         db,
		Logger:     logger,
		Loader:     NewTabularLoader(db, logger),
		Validation: NewValidationEngine(db, logger, nil),
		Gate:       NewCheckerGate(db, logger, merge, cfg),
		Merge:      merge,
		Exporter:   NewInvalidRowExporter(db, logger),
	}
}

// Ingest parses the file and persists the upload and its rows.
func (s *ImportService) Ingest(ctx context.Context, file []byte, mediaType, fileName, programID, workflowName string) (*IngestResult, error) {
	program, err := models.GetBenefitProgram(ctx, s.DB, programID)
	if err != nil {
		return nil, err
	}
	return s.Loader.Ingest(ctx, file, mediaType, fileName, program, workflowName)
}

// Validate re-runs validation over an upload under the per-upload pipeline
// lock and routes the result through the gate.
func (s *ImportService) Validate(ctx context.Context, uploadID, programID string) (*ValidationSummary, *GateDecision, error) {
	release, err := AcquireUploadLock(ctx, uploadID)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	program, err := models.GetBenefitProgram(ctx, s.DB, programID)
	if err != nil {
		return nil, nil, err
	}
	upload, err := models.GetUpload(ctx, s.DB, uploadID)
	if err != nil {
		return nil, nil, err
	}
	summary, err := s.Validation.ValidateUpload(ctx, uploadID, program)
	if err != nil {
		return nil, nil, err
	}
	decision, err := s.Gate.Decide(ctx, upload, program, summary)
	if err != nil {
		return summary, nil, err
	}
	return summary, decision, nil
}

// RequestReview creates the review task for an upload that validation left
// with invalid rows. Only valid when the invalid percentage is above zero.
func (s *ImportService) RequestReview(ctx context.Context, uploadID, programID string) (string, error) {
	program, err := models.GetBenefitProgram(ctx, s.DB, programID)
	if err != nil {
		return "", err
	}
	upload, err := models.GetUpload(ctx, s.DB, uploadID)
	if err != nil {
		return "", err
	}
	summary, err := s.persistedSummary(ctx, uploadID)
	if err != nil {
		return "", err
	}
	if summary.InvalidCount == 0 {
		return "", fmt.Errorf("upload %s has no invalid rows to review", uploadID)
	}
	task, err := s.Gate.CreateReviewTask(ctx, upload, program, summary)
	if err != nil {
		return "", err
	}
	return task.ID, nil
}

// MergeUpload merges all currently valid rows, or only the accepted subset
// when one is supplied. The returned status is the upload's terminal status;
// merge-stage failures surface as FAIL, not as an error.
func (s *ImportService) MergeUpload(ctx context.Context, uploadID, programID string, accepted []string) (models.UploadStatus, error) {
	release, err := AcquireUploadLock(ctx, uploadID)
	if err != nil {
		return "", err
	}
	defer release()

	// An unknown upload id must surface as an error, not as a merge of
	// zero rows reporting SUCCESS.
	if _, err := models.GetUpload(ctx, s.DB, uploadID); err != nil {
		return "", err
	}
	program, err := models.GetBenefitProgram(ctx, s.DB, programID)
	if err != nil {
		return "", err
	}
	return s.Merge.Merge(ctx, uploadID, program, accepted), nil
}

// DownloadInvalidRows exports all rows still carrying validation errors.
func (s *ImportService) DownloadInvalidRows(ctx context.Context, uploadID string) ([]byte, error) {
	return s.Exporter.Export(ctx, uploadID)
}

// ApplyAttributeFilters parses the expressions against the program schema and
// returns the beneficiary query narrowed by them.
func (s *ImportService) ApplyAttributeFilters(ctx context.Context, programID string, expressions []string) (*gorm.DB, error) {
	program, err := models.GetBenefitProgram(ctx, s.DB, programID)
	if err != nil {
		return nil, err
	}
	schema, err := models.ResolveProgramSchema(program)
	if err != nil {
		return nil, err
	}
	parsed, err := models.ParseFilterExpressions(schema, expressions)
	if err != nil {
		return nil, err
	}

	q := s.DB.WithContext(ctx).Where("program_id = ? AND is_deleted = ?", program.ID, false)
	if program.Type == models.ProgramTypeGroup {
		q = q.Model(&models.GroupBeneficiary{})
	} else {
		q = q.Model(&models.Beneficiary{})
	}
	return models.ApplyAttributeFilters(q, parsed), nil
}

// persistedSummary recomputes the aggregate from the stored per-row
// annotations without re-running any rules.
func (s *ImportService) persistedSummary(ctx context.Context, uploadID string) (*ValidationSummary, error) {
	rows, err := models.GetUploadRows(ctx, s.DB, uploadID)
	if err != nil {
		return nil, err
	}
	summary := &ValidationSummary{InvalidRowIDs: []string{}}
	for _, row := range rows {
		if row.Validations.IsValid() {
			summary.ValidCount++
		} else {
			summary.InvalidCount++
			summary.InvalidRowIDs = append(summary.InvalidRowIDs, row.ID)
		}
	}
	summary.InvalidPercentage = InvalidPercentage(summary.InvalidCount, summary.ValidCount)
	return summary, nil
}
