package config

import (
	"os"
	"strings"
)

// MakerCheckerEnabledFor reports whether invalid rows of the given source kind
// must go through a review task before any merge.
//
// Set via env:
// - MAKER_CHECKER_SOURCE_KINDS="beneficiaries,group_beneficiaries"
//
// Source kinds are case-insensitive.
func MakerCheckerEnabledFor(sourceKind string) bool {
	sourceKind = strings.ToLower(strings.TrimSpace(sourceKind))
	if sourceKind == "" {
		return false
	}
	raw := os.Getenv("MAKER_CHECKER_SOURCE_KINDS")
	if strings.TrimSpace(raw) == "" {
		return false
	}
	for _, part := range strings.Split(raw, ",") {
		if strings.ToLower(strings.TrimSpace(part)) == sourceKind {
			return true
		}
	}
	return false
}

// OnInvalidPolicy is what the gate does with an upload containing invalid rows
// when maker-checker is disabled: "abort" (default) or "merge_valid".
// Invalid rows are never merged under either policy.
func OnInvalidPolicy() string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("ON_INVALID_POLICY")))
	if v == "merge_valid" {
		return "merge_valid"
	}
	return "abort"
}

// ImportValidItemsWorkflow names the workflow the gate triggers after a review
// task completes with approval.
func ImportValidItemsWorkflow() string {
	if v := os.Getenv("IMPORT_VALID_ITEMS_WORKFLOW"); v != "" {
		return v
	}
	return "beneficiary-upload-valid"
}

// ImportWorkflow names the workflow triggered right after ingestion.
func ImportWorkflow() string {
	if v := os.Getenv("IMPORT_WORKFLOW"); v != "" {
		return v
	}
	return "beneficiary-upload"
}
