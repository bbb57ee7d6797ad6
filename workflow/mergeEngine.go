package workflow

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/benefits_backend/config"
	"bitbucket.org/mmdatafocus/benefits_backend/models"
	"bitbucket.org/mmdatafocus/benefits_backend/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// MergeEngine transactionally materializes Person and Beneficiary records
// from an upload's row set and finalizes the upload status. Failures are
// captured into the upload's error payload, never propagated to the caller;
// callers read the returned status.
type MergeEngine struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

func NewMergeEngine(db *gorm.DB, logger *logrus.Logger) *MergeEngine {
	return &MergeEngine{DB: db, Logger: logger}
}

// Merge runs one all-or-nothing merge attempt. A nil accepted slice means
// "merge all currently valid rows"; a non-nil slice restricts the scope to
// the accepted row ids. Re-merging an already merged upload is a no-op.
func (m *MergeEngine) Merge(ctx context.Context, uploadID string, program *models.BenefitProgram, accepted []string) models.UploadStatus {
	schema, err := models.ResolveProgramSchema(program)
	if err != nil {
		m.fail(ctx, uploadID, err)
		return models.UploadStatusFail
	}

	if err := models.SetUploadStatus(ctx, m.DB, uploadID, models.UploadStatusTriggered); err != nil {
		m.fail(ctx, uploadID, err)
		return models.UploadStatusFail
	}

	if err := models.EmitWorkflowEvent(ctx, m.DB, models.WorkflowEventMergeRequested, models.WorkflowEventPayload{
		BenefitProgramUUID: program.ID,
		UploadUUID:         uploadID,
	}); err != nil {
		config.LogError(m.Logger, "workflow", "Merge", "emit merge.requested", uploadID, err)
	}

	var finalStatus models.UploadStatus
	err = m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := models.GetUploadRows(ctx, tx, uploadID)
		if err != nil {
			return err
		}
		scoped := scopeRows(rows, accepted)

		// Completeness and schema gate: any failing entry rejects the whole
		// batch, nothing is merged.
		failing := CollectFailingEntries(scoped, schema)
		if failing.Any() {
			payload := failing.Payload(uploadID)
			if err := tx.Model(&models.Upload{}).Where("id = ?", uploadID).Updates(map[string]interface{}{
				"status": models.UploadStatusFail,
				"error":  payload,
			}).Error; err != nil {
				return err
			}
			finalStatus = models.UploadStatusFail
			return nil
		}

		merged, err := m.mergeEligibleRows(ctx, tx, scoped, program)
		if err != nil {
			return err
		}

		finalStatus = ResolveTerminalStatus(rows)
		if err := tx.Model(&models.Upload{}).Where("id = ?", uploadID).Updates(map[string]interface{}{
			"status": finalStatus,
			"error":  models.JSONMap{},
		}).Error; err != nil {
			return err
		}

		userID, _ := utils.GetUserIdFromContext(ctx)
		if err := models.EmitWorkflowEvent(ctx, tx, models.WorkflowEventUploadFinalized, models.WorkflowEventPayload{
			UserUUID:           userID,
			BenefitProgramUUID: program.ID,
			UploadUUID:         uploadID,
			Status:             string(finalStatus),
		}); err != nil {
			return err
		}

		m.Logger.WithFields(logrus.Fields{
			"module":    "workflow",
			"upload_id": uploadID,
			"merged":    merged,
			"status":    finalStatus,
		}).Info("merge finished")
		return nil
	})
	if err != nil {
		// The transaction rolled back entirely; record the failure so the
		// upload is never left TRIGGERED.
		m.fail(ctx, uploadID, err)
		return models.UploadStatusFail
	}
	return finalStatus
}

// mergeEligibleRows creates one Person per distinct row content and one
// beneficiary record per new Person. Rows already linked to a Person are
// excluded, which makes a re-merge a no-op.
func (m *MergeEngine) mergeEligibleRows(ctx context.Context, tx *gorm.DB, scoped []*models.DataSourceRow, program *models.BenefitProgram) (int, error) {
	eligible := make([]*models.DataSourceRow, 0, len(scoped))
	for _, row := range scoped {
		if row.PersonID == nil && row.Validations.IsValid() {
			eligible = append(eligible, row)
		}
	}

	merged := 0
	for _, group := range GroupRowsByContent(eligible) {
		first := group[0]
		person, err := buildPerson(first.Attributes)
		if err != nil {
			return merged, err
		}
		if err := tx.Create(person).Error; err != nil {
			return merged, err
		}

		// First write wins; content-identical siblings link to the same
		// Person instead of duplicating it.
		ids := make([]string, 0, len(group))
		for _, row := range group {
			ids = append(ids, row.ID)
			row.PersonID = &person.ID
		}
		if err := tx.Model(&models.DataSourceRow{}).Where("id IN ?", ids).
			Update("person_id", person.ID).Error; err != nil {
			return merged, err
		}

		ext := first.Attributes.Without(models.DemographicFields...)
		switch program.Type {
		case models.ProgramTypeGroup:
			record := &models.GroupBeneficiary{
				ID:        uuid.NewString(),
				PersonID:  person.ID,
				ProgramID: program.ID,
				Status:    models.BeneficiaryStatusPotential,
				Ext:       ext,
			}
			if err := tx.Create(record).Error; err != nil {
				return merged, err
			}
		default:
			record := &models.Beneficiary{
				ID:        uuid.NewString(),
				PersonID:  person.ID,
				ProgramID: program.ID,
				Status:    models.BeneficiaryStatusPotential,
				Ext:       ext,
			}
			if err := tx.Create(record).Error; err != nil {
				return merged, err
			}
		}
		merged += len(group)
	}
	return merged, nil
}

// fail writes the structured failure payload and the FAIL status in one
// atomic update so a crash mid-merge is observable as FAIL, never a stale
// TRIGGERED.
func (m *MergeEngine) fail(ctx context.Context, uploadID string, cause error) {
	payload := models.JSONMap{
		"error":     cause.Error(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"upload_id": uploadID,
	}
	err := m.DB.WithContext(ctx).Model(&models.Upload{}).Where("id = ?", uploadID).Updates(map[string]interface{}{
		"status": models.UploadStatusFail,
		"error":  payload,
	}).Error
	if err != nil {
		config.LogError(m.Logger, "workflow", "Merge", "record merge failure", uploadID, err)
	}
	config.LogError(m.Logger, "workflow", "Merge", "merge failed", uploadID, cause)
}

// scopeRows restricts to the accepted subset when one is given. Accepted ids
// that do not belong to the upload are ignored.
func scopeRows(rows []*models.DataSourceRow, accepted []string) []*models.DataSourceRow {
	if accepted == nil {
		return rows
	}
	acceptedSet := make(map[string]bool, len(accepted))
	for _, id := range accepted {
		acceptedSet[id] = true
	}
	scoped := make([]*models.DataSourceRow, 0, len(rows))
	for _, row := range rows {
		if acceptedSet[row.ID] {
			scoped = append(scoped, row)
		}
	}
	return scoped
}

// FailingEntries collects the row ids rejected by the pre-merge gate, keyed
// the same way the upload error payload reports them.
type FailingEntries struct {
	MissingFirstName []string
	MissingLastName  []string
	MissingDob       []string
	InvalidJSON      []string
}

func (f FailingEntries) Any() bool {
	return len(f.MissingFirstName) > 0 || len(f.MissingLastName) > 0 || len(f.MissingDob) > 0 || len(f.InvalidJSON) > 0
}

func (f FailingEntries) Payload(uploadID string) models.JSONMap {
	return models.JSONMap{
		"error":                        "Invalid entries",
		"timestamp":                    time.Now().UTC().Format(time.RFC3339),
		"upload_id":                    uploadID,
		"failing_entries_first_name":   f.MissingFirstName,
		"failing_entries_last_name":    f.MissingLastName,
		"failing_entries_dob":          f.MissingDob,
		"failing_entries_invalid_json": f.InvalidJSON,
	}
}

// CollectFailingEntries runs the completeness and schema-validity gate over
// rows not yet linked to a Person.
func CollectFailingEntries(rows []*models.DataSourceRow, schema *models.ProgramSchema) FailingEntries {
	var failing FailingEntries
	for _, row := range rows {
		if row.PersonID != nil {
			continue
		}
		if _, ok := row.Attributes[models.FieldFirstName]; !ok {
			failing.MissingFirstName = append(failing.MissingFirstName, row.ID)
		}
		if _, ok := row.Attributes[models.FieldLastName]; !ok {
			failing.MissingLastName = append(failing.MissingLastName, row.ID)
		}
		if _, ok := row.Attributes[models.FieldDob]; !ok {
			failing.MissingDob = append(failing.MissingDob, row.ID)
		}
		if !RowMatchesSchema(row, schema) {
			failing.InvalidJSON = append(failing.InvalidJSON, row.ID)
		}
	}
	return failing
}

// RowMatchesSchema checks required fields and that present values can be
// read as their declared primitive kind. All cells are text, so "castable"
// is the schema-validity criterion.
func RowMatchesSchema(row *models.DataSourceRow, schema *models.ProgramSchema) bool {
	for field, prop := range schema.Properties {
		value, present := row.Attributes[field]
		if !present {
			if prop.Required {
				return false
			}
			continue
		}
		switch prop.Type {
		case models.FieldTypeInteger:
			if _, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err != nil {
				return false
			}
		case models.FieldTypeNumeric:
			if _, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err != nil {
				return false
			}
		case models.FieldTypeBoolean:
			lower := strings.ToLower(strings.TrimSpace(value))
			if lower != "true" && lower != "false" {
				return false
			}
		case models.FieldTypeDate:
			if _, err := time.Parse(models.DobLayout, value); err != nil {
				return false
			}
		}
	}
	return true
}

// GroupRowsByContent groups rows by the canonical encoding of their raw
// attribute map, preserving first-seen order.
func GroupRowsByContent(rows []*models.DataSourceRow) [][]*models.DataSourceRow {
	byContent := map[string][]*models.DataSourceRow{}
	order := []string{}
	for _, row := range rows {
		key := row.Attributes.Canonical()
		if _, seen := byContent[key]; !seen {
			order = append(order, key)
		}
		byContent[key] = append(byContent[key], row)
	}
	groups := make([][]*models.DataSourceRow, 0, len(order))
	for _, key := range order {
		groups = append(groups, byContent[key])
	}
	return groups
}

// ResolveTerminalStatus: SUCCESS when every non-deleted row of the upload is
// valid and linked to a Person; PARTIAL_SUCCESS when rows were excluded
// (accepted-subset mode or invalid leftovers). FAIL never comes from here;
// the gate and the transaction boundary own that verdict.
func ResolveTerminalStatus(rows []*models.DataSourceRow) models.UploadStatus {
	for _, row := range rows {
		if row.PersonID == nil || !row.Validations.IsValid() {
			return models.UploadStatusPartialSuccess
		}
	}
	return models.UploadStatusSuccess
}

func buildPerson(attrs models.AttributeMap) (*models.Person, error) {
	dob, err := time.Parse(models.DobLayout, attrs[models.FieldDob])
	if err != nil {
		return nil, fmt.Errorf("cannot parse dob %q: %v", attrs[models.FieldDob], err)
	}
	return &models.Person{
		ID:        uuid.NewString(),
		FirstName: attrs[models.FieldFirstName],
		LastName:  attrs[models.FieldLastName],
		Dob:       dob,
		Ext:       attrs,
	}, nil
}
