package models

import "errors"

type ProgramType string

const (
	ProgramTypeIndividual ProgramType = "INDIVIDUAL"
	ProgramTypeGroup      ProgramType = "GROUP"
)

func ParseProgramType(s string) (ProgramType, error) {
	switch s {
	case "INDIVIDUAL":
		return ProgramTypeIndividual, nil
	case "GROUP":
		return ProgramTypeGroup, nil
	default:
		return "", errors.New("invalid program type")
	}
}

type UploadStatus string

const (
	UploadStatusPending        UploadStatus = "PENDING"
	UploadStatusTriggered      UploadStatus = "TRIGGERED"
	UploadStatusSuccess        UploadStatus = "SUCCESS"
	UploadStatusPartialSuccess UploadStatus = "PARTIAL_SUCCESS"
	UploadStatusFail           UploadStatus = "FAIL"
)

// IsTerminal reports whether no further pipeline run may change this status
// except an explicit re-merge after review.
func (s UploadStatus) IsTerminal() bool {
	return s == UploadStatusSuccess || s == UploadStatusPartialSuccess || s == UploadStatusFail
}

type BeneficiaryStatus string

const (
	BeneficiaryStatusPotential BeneficiaryStatus = "POTENTIAL"
	BeneficiaryStatusActive    BeneficiaryStatus = "ACTIVE"
	BeneficiaryStatusGraduated BeneficiaryStatus = "GRADUATED"
	BeneficiaryStatusSuspended BeneficiaryStatus = "SUSPENDED"
)

type TaskStatus string

const (
	TaskStatusReceived  TaskStatus = "RECEIVED"
	TaskStatusAccepted  TaskStatus = "ACCEPTED"
	TaskStatusCompleted TaskStatus = "COMPLETED"
	TaskStatusFailed    TaskStatus = "FAILED"
)

type CompletionPolicy string

const (
	CompletionPolicyAll CompletionPolicy = "ALL"
	CompletionPolicyAny CompletionPolicy = "ANY"
	// CompletionPolicyN completes as approved once the task group's
	// ApprovalThreshold approvals are recorded. A threshold of zero or less
	// falls back to ANY semantics.
	CompletionPolicyN CompletionPolicy = "N"
)

// Reviewer decisions recorded on a task.
const (
	DecisionApproved = "APPROVED"
	DecisionFailed   = "FAILED"
)

type SourceKind string

const (
	SourceKindBeneficiaries      SourceKind = "beneficiaries"
	SourceKindGroupBeneficiaries SourceKind = "group_beneficiaries"
)
