package workflow

import (
	"context"
	"fmt"

	"bitbucket.org/mmdatafocus/benefits_backend/models"
	"bitbucket.org/mmdatafocus/benefits_backend/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// BusinessEventImportValidItems tags review tasks created by the gate.
const BusinessEventImportValidItems = "validation_import_valid_items"

// GateConfig is resolved once at process start and passed in explicitly.
type GateConfig struct {
	// MakerCheckerFor reports whether maker-checker review applies to an
	// upload's source kind. Beneficiary and group uploads carry separate
	// flags, so the gate asks per upload instead of caching one answer.
	MakerCheckerFor func(sourceKind string) bool
	// OnInvalid applies when maker-checker is off: "abort" or "merge_valid".
	// Invalid rows are never merged either way.
	OnInvalid string
	// TaskGroupID assigns created review tasks; empty means unassigned
	// (such tasks cannot be resolved).
	TaskGroupID string
	// ImportValidItemsWorkflow names the workflow triggered on approval.
	ImportValidItemsWorkflow string
}

// GateAction is what the gate decided after validation.
type GateAction string

const (
	GateActionMerged      GateAction = "MERGED"
	GateActionTaskCreated GateAction = "TASK_CREATED"
	GateActionAborted     GateAction = "ABORTED"
)

type GateDecision struct {
	Action GateAction          `json:"action"`
	TaskID string              `json:"task_id,omitempty"`
	Status models.UploadStatus `json:"status,omitempty"`
}

// CheckerGate decides the next pipeline step after validation and mediates
// human review.
type CheckerGate struct {
	DB     *gorm.DB
	Logger *logrus.Logger
	Merge  *MergeEngine
	Config GateConfig
}

func NewCheckerGate(db *gorm.DB, logger *logrus.Logger, merge *MergeEngine, cfg GateConfig) *CheckerGate {
	return &CheckerGate{DB: db, Logger: logger, Merge: merge, Config: cfg}
}

// Decide routes an upload after validation: straight to merge when everything
// is valid, to a review task when maker-checker mode applies, otherwise per
// the explicit invalid-rows policy. Invalid rows are never merged silently.
func (g *CheckerGate) Decide(ctx context.Context, upload *models.Upload, program *models.BenefitProgram, summary *ValidationSummary) (*GateDecision, error) {
	if summary.InvalidCount == 0 {
		status := g.Merge.Merge(ctx, upload.ID, program, nil)
		return &GateDecision{Action: GateActionMerged, Status: status}, nil
	}

	if g.Config.MakerCheckerFor != nil && g.Config.MakerCheckerFor(upload.SourceType) {
		task, err := g.CreateReviewTask(ctx, upload, program, summary)
		if err != nil {
			return nil, err
		}
		return &GateDecision{Action: GateActionTaskCreated, TaskID: task.ID}, nil
	}

	if g.Config.OnInvalid == "merge_valid" {
		status := g.Merge.Merge(ctx, upload.ID, program, nil)
		return &GateDecision{Action: GateActionMerged, Status: status}, nil
	}
	return &GateDecision{Action: GateActionAborted}, nil
}

// CreateReviewTask creates exactly one task carrying the summary context a
// checker needs. Only valid while the upload has invalid rows.
func (g *CheckerGate) CreateReviewTask(ctx context.Context, upload *models.Upload, program *models.BenefitProgram, summary *ValidationSummary) (*models.ReviewTask, error) {
	if summary.InvalidCount == 0 {
		return nil, fmt.Errorf("review task requires at least one invalid row")
	}
	record, err := models.GetProgramUploadRecordByUpload(ctx, g.DB, upload.ID)
	if err != nil {
		return nil, err
	}

	task := &models.ReviewTask{
		ID:            uuid.NewString(),
		EntityID:      record.ID,
		BusinessEvent: BusinessEventImportValidItems,
		Status:        models.TaskStatusReceived,
		Data: models.JSONMap{
			"program_code":                program.Code,
			"source_name":                 upload.SourceName,
			"workflow":                    record.Workflow,
			"percentage_of_invalid_items": summary.InvalidPercentage.String(),
		},
		Decisions:  models.DecisionMap{},
		Resolution: models.JSONMap{},
	}
	if g.Config.TaskGroupID != "" {
		groupID := g.Config.TaskGroupID
		task.TaskGroupID = &groupID
	}
	if err := g.DB.WithContext(ctx).Create(task).Error; err != nil {
		return nil, err
	}
	g.Logger.WithFields(logrus.Fields{
		"module":    "workflow",
		"task_id":   task.ID,
		"upload_id": upload.ID,
	}).Info("review task created")
	return task, nil
}

// TaskOutcome of a resolution pass over the recorded decisions.
type TaskOutcome string

const (
	TaskOutcomePending  TaskOutcome = "PENDING"
	TaskOutcomeApproved TaskOutcome = "APPROVED"
	TaskOutcomeFailed   TaskOutcome = "FAILED"
)

// EvaluateResolution applies a completion policy to the reviewer decisions.
// Any FAILED decision completes the task as failed under every policy.
func EvaluateResolution(policy models.CompletionPolicy, decisions models.DecisionMap, executorCount, approvalThreshold int) (TaskOutcome, error) {
	approvals := 0
	for _, decision := range decisions {
		switch decision {
		case models.DecisionFailed:
			return TaskOutcomeFailed, nil
		case models.DecisionApproved:
			approvals++
		}
	}

	switch policy {
	case models.CompletionPolicyAll:
		// A group with no executors can never satisfy ALL; surface it
		// instead of pending forever.
		if executorCount <= 0 {
			return TaskOutcomePending, fmt.Errorf("%w: task group has no executors", utils.ErrorUnassignedTask)
		}
		if approvals == executorCount {
			return TaskOutcomeApproved, nil
		}
		return TaskOutcomePending, nil
	case models.CompletionPolicyAny:
		if approvals >= 1 {
			return TaskOutcomeApproved, nil
		}
		return TaskOutcomePending, nil
	case models.CompletionPolicyN:
		threshold := approvalThreshold
		if threshold <= 0 {
			threshold = 1
		}
		if approvals >= threshold {
			return TaskOutcomeApproved, nil
		}
		return TaskOutcomePending, nil
	default:
		return TaskOutcomePending, fmt.Errorf("%w: %q", utils.ErrorUnknownPolicy, policy)
	}
}

// RecordDecision stores one reviewer's decision and resolves the task under
// its group's completion policy. A task without a group fails fast.
func (g *CheckerGate) RecordDecision(ctx context.Context, taskID, reviewerID, decision string) (TaskOutcome, error) {
	task, err := models.GetReviewTask(ctx, g.DB, taskID)
	if err != nil {
		return TaskOutcomePending, err
	}
	if task.Status == models.TaskStatusCompleted || task.Status == models.TaskStatusFailed {
		return outcomeForStatus(task.Status), nil
	}
	if task.TaskGroupID == nil {
		return TaskOutcomePending, utils.ErrorUnassignedTask
	}

	var group models.TaskGroup
	if err := g.DB.WithContext(ctx).Where("id = ?", *task.TaskGroupID).First(&group).Error; err != nil {
		return TaskOutcomePending, err
	}
	executorCount, err := models.CountTaskExecutors(ctx, g.DB, group.ID)
	if err != nil {
		return TaskOutcomePending, err
	}

	if task.Decisions == nil {
		task.Decisions = models.DecisionMap{}
	}
	task.Decisions[reviewerID] = decision
	task.Status = models.TaskStatusAccepted

	outcome, err := EvaluateResolution(group.CompletionPolicy, task.Decisions, executorCount, group.ApprovalThreshold)
	if err != nil {
		return TaskOutcomePending, err
	}
	switch outcome {
	case TaskOutcomeApproved:
		task.Status = models.TaskStatusCompleted
	case TaskOutcomeFailed:
		task.Status = models.TaskStatusFailed
	}
	if err := g.DB.WithContext(ctx).Save(task).Error; err != nil {
		return TaskOutcomePending, err
	}

	if outcome == TaskOutcomeApproved {
		if err := g.resume(ctx, task, nil); err != nil {
			return outcome, err
		}
	}
	return outcome, nil
}

// ResumeWithAccepted re-enters the pipeline for a completed task, merging
// only the explicitly accepted row ids.
func (g *CheckerGate) ResumeWithAccepted(ctx context.Context, taskID string, accepted []string) error {
	task, err := models.GetReviewTask(ctx, g.DB, taskID)
	if err != nil {
		return err
	}
	if task.Status != models.TaskStatusCompleted {
		return fmt.Errorf("task %s is not completed", taskID)
	}
	acceptedAny := make([]interface{}, 0, len(accepted))
	for _, id := range accepted {
		acceptedAny = append(acceptedAny, id)
	}
	task.Resolution = models.JSONMap{"accepted": acceptedAny}
	if err := g.DB.WithContext(ctx).Save(task).Error; err != nil {
		return err
	}
	return g.resume(ctx, task, accepted)
}

// resume hands the pipeline back to the merge engine. Safe to invoke after
// arbitrary delay: already-merged rows are excluded by the engine, so
// re-entry is idempotent.
func (g *CheckerGate) resume(ctx context.Context, task *models.ReviewTask, accepted []string) error {
	record, err := models.GetProgramUploadRecord(ctx, g.DB, task.EntityID)
	if err != nil {
		return err
	}
	// Approval can arrive while a re-validation of the same upload is in
	// flight; the merge runs under the same per-upload lock as the rest of
	// the pipeline.
	release, err := AcquireUploadLock(ctx, record.UploadID)
	if err != nil {
		return err
	}
	defer release()

	program, err := models.GetBenefitProgram(ctx, g.DB, record.ProgramID)
	if err != nil {
		return err
	}

	userID, _ := utils.GetUserIdFromContext(ctx)
	err = models.EmitWorkflowEvent(ctx, g.DB, models.WorkflowEventTaskApproved, models.WorkflowEventPayload{
		UserUUID:           userID,
		BenefitProgramUUID: program.ID,
		UploadUUID:         record.UploadID,
		Workflow:           g.Config.ImportValidItemsWorkflow,
		Accepted:           accepted,
	})
	if err != nil {
		return err
	}

	status := g.Merge.Merge(ctx, record.UploadID, program, accepted)
	g.Logger.WithFields(logrus.Fields{
		"module":    "workflow",
		"task_id":   task.ID,
		"upload_id": record.UploadID,
		"status":    status,
	}).Info("pipeline resumed after review")
	return nil
}

func outcomeForStatus(status models.TaskStatus) TaskOutcome {
	switch status {
	case models.TaskStatusCompleted:
		return TaskOutcomeApproved
	case models.TaskStatusFailed:
		return TaskOutcomeFailed
	default:
		return TaskOutcomePending
	}
}
