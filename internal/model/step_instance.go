package model

import "time"

// ValidationStatus is the review lifecycle of a step instance.
type ValidationStatus string

const (
	ValidationDraft       ValidationStatus = "DRAFT"
	ValidationSubmitted   ValidationStatus = "SUBMITTED"
	ValidationUnderReview ValidationStatus = "UNDER_REVIEW"
	ValidationApproved    ValidationStatus = "APPROVED"
	ValidationRejected    ValidationStatus = "REJECTED"
)

// AwaitingDecision reports whether staff may approve or reject.
func (s ValidationStatus) AwaitingDecision() bool {
	return s == ValidationSubmitted || s == ValidationUnderReview
}

// StepInstance is the live occurrence of a Step for one Dossier.  At most one
// exists per (dossier, step); it is created lazily on first access.
//
// Fields:
//
//	StartedAt        – first time the client or an agent touched it.
//	CompletedAt      – set on approval, completion or force-completion.
//	AssignedTo       – staff member reviewing this step.
//	ValidationStatus – DRAFT, SUBMITTED, UNDER_REVIEW, APPROVED, REJECTED.
//	RejectionReason  – last step-level rejection reason.
//	ValidatedBy/At   – reviewer of the last decision.
//	Version          – optimistic lock counter, bumped by every update.
type StepInstance struct {
	ID               uint64           `json:"id"`                // step_instances.id
	DossierID        uint64           `json:"dossier_id"`        // step_instances.dossier_id
	StepID           uint64           `json:"step_id"`           // step_instances.step_id
	StartedAt        *time.Time       `json:"started_at"`        // step_instances.started_at
	CompletedAt      *time.Time       `json:"completed_at"`      // step_instances.completed_at
	AssignedTo       *uint64          `json:"assigned_to"`       // step_instances.assigned_to
	ValidationStatus ValidationStatus `json:"validation_status"` // step_instances.validation_status
	RejectionReason  *string          `json:"rejection_reason"`  // step_instances.rejection_reason
	ValidatedBy      *uint64          `json:"validated_by"`      // step_instances.validated_by
	ValidatedAt      *time.Time       `json:"validated_at"`      // step_instances.validated_at
	Version          int64            `json:"version"`           // step_instances.version
	CreatedAt        time.Time        `json:"created_at"`        // step_instances.created_at
	UpdatedAt        time.Time        `json:"updated_at"`        // step_instances.updated_at
}

// Completed reports whether the instance counts as done for progress.
func (si StepInstance) Completed() bool { return si.CompletedAt != nil }

// ReviewStatus is the approval status of a single field value or document.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "PENDING"
	ReviewApproved ReviewStatus = "APPROVED"
	ReviewRejected ReviewStatus = "REJECTED"
)

// StepFieldValue is one form field's value within one step instance.  There
// is exactly one row per (step instance, field); resubmission updates it.
type StepFieldValue struct {
	ID              uint64       `json:"id"`                // step_field_values.id
	StepInstanceID  uint64       `json:"step_instance_id"`  // step_field_values.step_instance_id
	StepFieldID     uint64       `json:"step_field_id"`     // step_field_values.step_field_id
	Value           FieldValue   `json:"value"`             // step_field_values.value_kind + value
	Status          ReviewStatus `json:"validation_status"` // step_field_values.validation_status
	RejectionReason *string      `json:"rejection_reason"`  // step_field_values.rejection_reason
	ReviewedBy      *uint64      `json:"reviewed_by"`       // step_field_values.reviewed_by
	ReviewedAt      *time.Time   `json:"reviewed_at"`       // step_field_values.reviewed_at
	UpdatedAt       time.Time    `json:"updated_at"`        // step_field_values.updated_at
}
