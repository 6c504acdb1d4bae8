package model

import "time"

// DossierStatus is the coarse business-process marker set by staff.  It is
// independent from step validation statuses and never derived from them.
type DossierStatus string

const (
	DossierQualification   DossierStatus = "QUALIFICATION"
	DossierFormSubmitted   DossierStatus = "FORM_SUBMITTED"
	DossierNMPending       DossierStatus = "NM_PENDING"
	DossierLLCAccepted     DossierStatus = "LLC_ACCEPTED"
	DossierEINPending      DossierStatus = "EIN_PENDING"
	DossierBankPreparation DossierStatus = "BANK_PREPARATION"
	DossierBankOpened      DossierStatus = "BANK_OPENED"
	DossierWaiting48h      DossierStatus = "WAITING_48H"
	DossierInProgress      DossierStatus = "IN_PROGRESS"
	DossierUnderReview     DossierStatus = "UNDER_REVIEW"
	DossierCompleted       DossierStatus = "COMPLETED"
	DossierClosed          DossierStatus = "CLOSED"
	DossierError           DossierStatus = "ERROR"
)

var dossierStatuses = map[DossierStatus]bool{
	DossierQualification: true, DossierFormSubmitted: true, DossierNMPending: true,
	DossierLLCAccepted: true, DossierEINPending: true, DossierBankPreparation: true,
	DossierBankOpened: true, DossierWaiting48h: true, DossierInProgress: true,
	DossierUnderReview: true, DossierCompleted: true, DossierClosed: true, DossierError: true,
}

// Valid reports whether s is one of the known statuses.
func (s DossierStatus) Valid() bool { return dossierStatuses[s] }

// Terminal reports whether the dossier is frozen.
func (s DossierStatus) Terminal() bool { return s == DossierClosed || s == DossierError }

// Dossier is one client's purchase-to-completion journey for one product.
//
// Fields:
//
//	ID                    – primary key identifier.
//	OwnerID               – client who owns the dossier.
//	ProductID             – product being delivered.
//	Type                  – free-form dossier type (e.g. LLC).
//	Status                – business-process marker.
//	CurrentStepInstanceID – step instance the client is currently on.
//	Metadata              – free-form JSON object.
//	AssignedAgentID       – staff member in charge (nullable).
//	ClosedReason          – reason given when the dossier was cancelled.
//	Version               – optimistic lock counter.
type Dossier struct {
	ID                    uint64            `json:"id"`                       // dossiers.id
	OwnerID               uint64            `json:"owner_id"`                 // dossiers.owner_id
	ProductID             uint64            `json:"product_id"`               // dossiers.product_id
	Type                  string            `json:"type"`                     // dossiers.type
	Status                DossierStatus     `json:"status"`                   // dossiers.status
	CurrentStepInstanceID *uint64           `json:"current_step_instance_id"` // dossiers.current_step_instance_id
	Metadata              map[string]string `json:"metadata,omitempty"`       // dossiers.metadata (JSON)
	AssignedAgentID       *uint64           `json:"assigned_agent_id"`        // dossiers.assigned_agent_id
	ClosedReason          *string           `json:"closed_reason,omitempty"`  // dossiers.closed_reason
	Version               int64             `json:"version"`                  // dossiers.version
	CreatedAt             time.Time         `json:"created_at"`               // dossiers.created_at
	UpdatedAt             time.Time         `json:"updated_at"`               // dossiers.updated_at
	CompletedAt           *time.Time        `json:"completed_at"`             // dossiers.completed_at
}

// DossierFilter narrows staff listings.  Zero values are ignored.
type DossierFilter struct {
	OwnerID         uint64
	Status          DossierStatus
	AssignedAgentID uint64
	Limit           int
}

// AuditEntry records an out-of-band staff action on a dossier.
type AuditEntry struct {
	ID             uint64    `json:"id"`               // audit_entries.id
	DossierID      uint64    `json:"dossier_id"`       // audit_entries.dossier_id
	StepInstanceID *uint64   `json:"step_instance_id"` // audit_entries.step_instance_id
	ActorID        uint64    `json:"actor_id"`         // audit_entries.actor_id
	ActorRole      Role      `json:"actor_role"`       // audit_entries.actor_role
	Action         string    `json:"action"`           // audit_entries.action
	Detail         string    `json:"detail"`           // audit_entries.detail
	CreatedAt      time.Time `json:"created_at"`       // audit_entries.created_at
}

// Audit actions.
const (
	AuditForceComplete   = "STEP_FORCE_COMPLETED"
	AuditDelivery        = "DOCUMENTS_DELIVERED"
	AuditReassign        = "AGENT_REASSIGNED"
	AuditCancel          = "DOSSIER_CANCELLED"
	AuditStatusChange    = "DOSSIER_STATUS_CHANGED"
	AuditDossierCreated  = "DOSSIER_CREATED"
	AuditDocumentOutdate = "DOCUMENT_OUTDATED"
)

// NotificationKind identifies why a client was notified.
type NotificationKind string

const (
	NotifyStepRejected       NotificationKind = "STEP_REJECTED"
	NotifyDocumentRejected   NotificationKind = "DOCUMENT_REJECTED"
	NotifyDossierCancelled   NotificationKind = "DOSSIER_CANCELLED"
	NotifyDocumentsDelivered NotificationKind = "DOCUMENTS_DELIVERED"
)

// Notification is a message addressed to one user, shown in the bell.
type Notification struct {
	ID        uint64           `json:"id"`         // notifications.id
	UserID    uint64           `json:"user_id"`    // notifications.user_id
	DossierID *uint64          `json:"dossier_id"` // notifications.dossier_id
	Kind      NotificationKind `json:"kind"`       // notifications.kind
	Title     string           `json:"title"`      // notifications.title
	Body      string           `json:"body"`       // notifications.body
	ReadAt    *time.Time       `json:"read_at"`    // notifications.read_at
	CreatedAt time.Time        `json:"created_at"` // notifications.created_at
}
