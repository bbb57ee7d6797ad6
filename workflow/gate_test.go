package workflow

import (
	"context"
	"errors"
	"testing"

	"bitbucket.org/mmdatafocus/benefits_backend/models"
	"bitbucket.org/mmdatafocus/benefits_backend/utils"
)

func TestEvaluateResolution_Policies(t *testing.T) {
	cases := []struct {
		name      string
		policy    models.CompletionPolicy
		decisions models.DecisionMap
		executors int
		threshold int
		expected  TaskOutcome
	}{
		{"all pending until everyone approves", models.CompletionPolicyAll,
			models.DecisionMap{"a": models.DecisionApproved}, 3, 0, TaskOutcomePending},
		{"all approved when everyone approves", models.CompletionPolicyAll,
			models.DecisionMap{"a": models.DecisionApproved, "b": models.DecisionApproved, "c": models.DecisionApproved}, 3, 0, TaskOutcomeApproved},
		{"any approves on first approval", models.CompletionPolicyAny,
			models.DecisionMap{"a": models.DecisionApproved}, 5, 0, TaskOutcomeApproved},
		{"any pending with no decisions", models.CompletionPolicyAny,
			models.DecisionMap{}, 5, 0, TaskOutcomePending},
		{"n waits for threshold", models.CompletionPolicyN,
			models.DecisionMap{"a": models.DecisionApproved}, 5, 2, TaskOutcomePending},
		{"n approves at threshold", models.CompletionPolicyN,
			models.DecisionMap{"a": models.DecisionApproved, "b": models.DecisionApproved}, 5, 2, TaskOutcomeApproved},
		{"n with zero threshold behaves like any", models.CompletionPolicyN,
			models.DecisionMap{"a": models.DecisionApproved}, 5, 0, TaskOutcomeApproved},
	}
	for _, tc := range cases {
		got, err := EvaluateResolution(tc.policy, tc.decisions, tc.executors, tc.threshold)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if got != tc.expected {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.expected, got)
		}
	}
}

func TestEvaluateResolution_AnyFailureWins(t *testing.T) {
	for _, policy := range []models.CompletionPolicy{models.CompletionPolicyAll, models.CompletionPolicyAny, models.CompletionPolicyN} {
		decisions := models.DecisionMap{
			"a": models.DecisionApproved,
			"b": models.DecisionFailed,
			"c": models.DecisionApproved,
		}
		got, err := EvaluateResolution(policy, decisions, 3, 1)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", policy, err)
		}
		if got != TaskOutcomeFailed {
			t.Fatalf("%s: a single FAILED must fail the task, got %s", policy, got)
		}
	}
}

func TestEvaluateResolution_AllWithEmptyGroup(t *testing.T) {
	// An ALL task assigned to a group nobody belongs to could otherwise
	// pend forever; it must fail fast like an unassigned task.
	got, err := EvaluateResolution(models.CompletionPolicyAll, models.DecisionMap{}, 0, 0)
	if !errors.Is(err, utils.ErrorUnassignedTask) {
		t.Fatalf("expected ErrorUnassignedTask for an empty group, got %v", err)
	}
	if got != TaskOutcomePending {
		t.Fatalf("expected pending outcome alongside the error, got %s", got)
	}

	got, err = EvaluateResolution(models.CompletionPolicyAll,
		models.DecisionMap{"a": models.DecisionApproved}, 0, 0)
	if !errors.Is(err, utils.ErrorUnassignedTask) {
		t.Fatalf("approvals cannot satisfy an empty-group ALL task, got %v", err)
	}
	if got != TaskOutcomePending {
		t.Fatalf("expected pending outcome alongside the error, got %s", got)
	}
}

func TestCheckerGate_DecideResolvesMakerCheckerPerSourceKind(t *testing.T) {
	// Beneficiary and group uploads carry independent maker-checker flags;
	// the gate must ask with each upload's own source kind.
	var asked []string
	gate := NewCheckerGate(nil, nil, nil, GateConfig{
		MakerCheckerFor: func(sourceKind string) bool {
			asked = append(asked, sourceKind)
			return false
		},
		OnInvalid: "abort",
	})

	program := &models.BenefitProgram{ID: "p1", Type: models.ProgramTypeGroup}
	summary := &ValidationSummary{ValidCount: 1, InvalidCount: 1}
	for _, kind := range []models.SourceKind{models.SourceKindBeneficiaries, models.SourceKindGroupBeneficiaries} {
		upload := &models.Upload{ID: "u-" + string(kind), SourceType: string(kind)}
		decision, err := gate.Decide(context.Background(), upload, program, summary)
		if err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		if decision.Action != GateActionAborted {
			t.Fatalf("%s: expected abort with maker-checker off, got %s", kind, decision.Action)
		}
	}
	if len(asked) != 2 || asked[0] != string(models.SourceKindBeneficiaries) || asked[1] != string(models.SourceKindGroupBeneficiaries) {
		t.Fatalf("expected the flag resolved once per upload's source kind, got %v", asked)
	}
}

func TestCheckerGate_DecideWithoutMakerCheckerResolver(t *testing.T) {
	gate := NewCheckerGate(nil, nil, nil, GateConfig{OnInvalid: "abort"})
	upload := &models.Upload{ID: "u1", SourceType: string(models.SourceKindBeneficiaries)}
	decision, err := gate.Decide(context.Background(), upload, &models.BenefitProgram{ID: "p1"}, &ValidationSummary{InvalidCount: 2})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decision.Action != GateActionAborted {
		t.Fatalf("nil resolver must read as maker-checker off, got %s", decision.Action)
	}
}

func TestEvaluateResolution_UnknownPolicy(t *testing.T) {
	_, err := EvaluateResolution("SOMETIMES", models.DecisionMap{}, 1, 1)
	if !errors.Is(err, utils.ErrorUnknownPolicy) {
		t.Fatalf("expected ErrorUnknownPolicy, got %v", err)
	}
}

func TestOutcomeForStatus(t *testing.T) {
	if outcomeForStatus(models.TaskStatusCompleted) != TaskOutcomeApproved {
		t.Fatalf("completed task must read as approved")
	}
	if outcomeForStatus(models.TaskStatusFailed) != TaskOutcomeFailed {
		t.Fatalf("failed task must read as failed")
	}
	if outcomeForStatus(models.TaskStatusAccepted) != TaskOutcomePending {
		t.Fatalf("accepted task must read as pending")
	}
}
