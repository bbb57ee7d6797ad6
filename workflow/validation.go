package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/benefits_backend/models"
	"bitbucket.org/mmdatafocus/benefits_backend/utils"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RuleResult is what every pluggable calculation returns for one row field.
type RuleResult struct {
	Success   bool   `json:"success"`
	FieldName string `json:"field_name"`
	Note      string `json:"note"`
}

// RuleContext gives a calculation everything beyond the field value itself:
// the owning program, the full in-flight row set (uniqueness must see the
// current batch, not a stale snapshot) and an optional DB handle for checks
// against already committed records.
type RuleContext struct {
	ProgramID string
	FieldName string
	Rows      []*models.DataSourceRow
	DB        *gorm.DB
}

// CalculationFunc is a pure row-level validator resolved by name.
type CalculationFunc func(ctx context.Context, value string, rc RuleContext) RuleResult

// CalculationRegistry maps rule identifiers to calculations. Built-ins are
// registered at process start; unknown identifiers are rejected at validation
// time.
type CalculationRegistry struct {
	mu    sync.RWMutex
	calcs map[string]CalculationFunc
}

func NewCalculationRegistry() *CalculationRegistry {
	r := &CalculationRegistry{calcs: map[string]CalculationFunc{}}
	r.Register("EmailValidation", emailCalculation)
	r.Register("PhoneValidation", phoneCalculation)
	r.Register("DateValidation", dateCalculation)
	return r
}

func (r *CalculationRegistry) Register(name string, calc CalculationFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calcs[name] = calc
}

func (r *CalculationRegistry) Lookup(name string) (CalculationFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	calc, ok := r.calcs[name]
	return calc, ok
}

var fieldValidator = validator.New()

func emailCalculation(_ context.Context, value string, rc RuleContext) RuleResult {
	if err := fieldValidator.Var(value, "email"); err != nil {
		return RuleResult{FieldName: rc.FieldName, Note: fmt.Sprintf("%q is not a valid email address", value)}
	}
	return RuleResult{Success: true, FieldName: rc.FieldName}
}

func phoneCalculation(_ context.Context, value string, rc RuleContext) RuleResult {
	if err := fieldValidator.Var(value, "e164"); err != nil {
		return RuleResult{FieldName: rc.FieldName, Note: fmt.Sprintf("%q is not a valid phone number", value)}
	}
	return RuleResult{Success: true, FieldName: rc.FieldName}
}

func dateCalculation(_ context.Context, value string, rc RuleContext) RuleResult {
	if _, err := time.Parse(models.DobLayout, value); err != nil {
		return RuleResult{FieldName: rc.FieldName, Note: fmt.Sprintf("%q is not a date in %s format", value, models.DobLayout)}
	}
	return RuleResult{Success: true, FieldName: rc.FieldName}
}

// uniquenessCalculation fails a value that occurs more than once in the
// in-flight batch, or that an already committed beneficiary of the same
// program carries in its extension attributes.
func uniquenessCalculation(ctx context.Context, value string, rc RuleContext) RuleResult {
	occurrences := 0
	for _, row := range rc.Rows {
		if row.Attributes[rc.FieldName] == value {
			occurrences++
		}
	}
	if occurrences > 1 {
		return RuleResult{FieldName: rc.FieldName, Note: fmt.Sprintf("%q duplicates another row in this upload", value)}
	}

	if rc.DB != nil && rc.ProgramID != "" {
		var count int64
		err := rc.DB.WithContext(ctx).Model(&models.Beneficiary{}).
			Where("program_id = ? AND is_deleted = ?", rc.ProgramID, false).
			Where(fmt.Sprintf("JSON_UNQUOTE(JSON_EXTRACT(ext, '$.%s')) = ?", rc.FieldName), value).
			Count(&count).Error
		if err != nil {
			// An unverifiable value must never pass as unique.
			return RuleResult{FieldName: rc.FieldName, Note: fmt.Sprintf("uniqueness of %q could not be verified: %v", value, err)}
		}
		if count > 0 {
			return RuleResult{FieldName: rc.FieldName, Note: fmt.Sprintf("%q already registered for this program", value)}
		}
	}
	return RuleResult{Success: true, FieldName: rc.FieldName}
}

// ValidationSummary is the program-level aggregate over one upload.
type ValidationSummary struct {
	ValidCount        int             `json:"valid_count"`
	InvalidCount      int             `json:"invalid_count"`
	InvalidPercentage decimal.Decimal `json:"invalid_percentage"`
	InvalidRowIDs     []string        `json:"invalid_row_ids"`
}

// InvalidPercentage computes invalid/(invalid+valid)*100 rounded to two
// decimals; zero when both counts are zero.
func InvalidPercentage(invalidCount, validCount int) decimal.Decimal {
	total := invalidCount + validCount
	if total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(invalidCount)).
		Div(decimal.NewFromInt(int64(total))).
		Mul(decimal.NewFromInt(100)).
		Round(2)
}

// ValidationEngine annotates every row of an upload with structured errors
// and computes the aggregate statistics the gate decides on.
type ValidationEngine struct {
	DB       *gorm.DB
	Logger   *logrus.Logger
	Registry *CalculationRegistry
}

func NewValidationEngine(db *gorm.DB, logger *logrus.Logger, registry *CalculationRegistry) *ValidationEngine {
	if registry == nil {
		registry = NewCalculationRegistry()
	}
	return &ValidationEngine{DB: db, Logger: logger, Registry: registry}
}

// ValidateRows evaluates schema-declared rules over the whole batch and
// rewrites each row's validation annotation in place. Row-level failures are
// data, never errors; only an unresolvable rule name is an error.
func (e *ValidationEngine) ValidateRows(ctx context.Context, program *models.BenefitProgram, schema *models.ProgramSchema, rows []*models.DataSourceRow) (*ValidationSummary, error) {
	type fieldRule struct {
		field string
		calc  CalculationFunc
	}
	var rules []fieldRule
	for field, prop := range schema.Properties {
		if prop.ValidationCalculation != "" {
			calc, ok := e.Registry.Lookup(prop.ValidationCalculation)
			if !ok {
				return nil, fmt.Errorf("%w: %q on field %q", utils.ErrorMissingValidationRule, prop.ValidationCalculation, field)
			}
			rules = append(rules, fieldRule{field: field, calc: calc})
		}
		if prop.Uniqueness {
			rules = append(rules, fieldRule{field: field, calc: uniquenessCalculation})
		}
	}

	programID := ""
	if program != nil {
		programID = program.ID
	}

	summary := &ValidationSummary{InvalidRowIDs: []string{}}
	for _, row := range rows {
		errs := []models.ValidationError{}
		for _, rule := range rules {
			value, present := row.Attributes[rule.field]
			if !present {
				// Absent optional fields are the merge gate's concern.
				continue
			}
			result := rule.calc(ctx, value, RuleContext{
				ProgramID: programID,
				FieldName: rule.field,
				Rows:      rows,
				DB:        e.DB,
			})
			if !result.Success {
				errs = append(errs, models.ValidationError{FieldName: result.FieldName, Note: result.Note})
			}
		}
		row.Validations = models.ValidationResult{ValidationErrors: errs}
		if len(errs) > 0 {
			summary.InvalidCount++
			summary.InvalidRowIDs = append(summary.InvalidRowIDs, row.ID)
		} else {
			summary.ValidCount++
		}
	}
	summary.InvalidPercentage = InvalidPercentage(summary.InvalidCount, summary.ValidCount)
	return summary, nil
}

// ValidateUpload re-validates all rows of an upload and persists the per-row
// annotations. Re-running overwrites previous results; no rows are duplicated.
func (e *ValidationEngine) ValidateUpload(ctx context.Context, uploadID string, program *models.BenefitProgram) (*ValidationSummary, error) {
	schema, err := models.ResolveProgramSchema(program)
	if err != nil {
		return nil, err
	}
	rows, err := models.GetUploadRows(ctx, e.DB, uploadID)
	if err != nil {
		return nil, err
	}
	summary, err := e.ValidateRows(ctx, program, schema, rows)
	if err != nil {
		return nil, err
	}
	err = e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, row := range rows {
			if err := tx.Model(&models.DataSourceRow{}).Where("id = ?", row.ID).
				Update("validations", row.Validations).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.Logger.WithFields(logrus.Fields{
		"module":             "workflow",
		"upload_id":          uploadID,
		"valid_count":        summary.ValidCount,
		"invalid_count":      summary.InvalidCount,
		"invalid_percentage": summary.InvalidPercentage.String(),
	}).Info("upload validated")
	return summary, nil
}
