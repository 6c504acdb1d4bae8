package workflow

import (
	"context"
	"io"
	"time"

	"github.com/iliyamo/dossier-workflow/internal/model"
)

// ClientFacing is the surface reachable by any authenticated caller.  A
// client only ever sees dossiers it owns; everything else is reported as
// model.ErrNotFound.
type ClientFacing interface {
	Dossiers(ctx context.Context, p model.Principal) ([]model.Dossier, error)
	Workflow(ctx context.Context, p model.Principal, dossierID uint64) (DossierWorkflow, error)
	Progress(ctx context.Context, p model.Principal, dossierID uint64) (Progress, error)

	GetOrCreateStepInstance(ctx context.Context, p model.Principal, dossierID, stepID uint64) (model.StepInstance, error)
	AdvanceTo(ctx context.Context, p model.Principal, dossierID, stepID uint64) (model.StepInstance, error)
	StepDetail(ctx context.Context, p model.Principal, instanceID uint64) (StepDetail, error)
	SaveDraft(ctx context.Context, p model.Principal, instanceID uint64, values map[string]any) (model.StepInstance, error)
	Submit(ctx context.Context, p model.Principal, instanceID uint64, values map[string]any, ifMatch int64) (model.StepInstance, error)
	Resubmit(ctx context.Context, p model.Principal, instanceID uint64, values map[string]any, ifMatch int64) (model.StepInstance, error)

	UploadDocument(ctx context.Context, p model.Principal, in UploadInput) (UploadResult, error)
	Documents(ctx context.Context, p model.Principal, dossierID uint64) ([]model.Document, error)
	DocumentVersions(ctx context.Context, p model.Principal, documentID uint64) ([]model.DocumentVersion, error)
	ViewDocument(ctx context.Context, p model.Principal, documentID uint64) (SignedFile, error)
	ViewDocumentVersion(ctx context.Context, p model.Principal, versionID uint64) (SignedFile, error)
	OpenSignedFile(ctx context.Context, token string) (model.DocumentVersion, io.ReadCloser, error)
}

// AdminFacing is the back-office surface.  Every method requires a staff
// principal; the ones documented as admin-only require RoleAdmin.
type AdminFacing interface {
	CreateDossier(ctx context.Context, p model.Principal, in NewDossier) (model.Dossier, error)
	ListDossiers(ctx context.Context, p model.Principal, f model.DossierFilter) ([]model.Dossier, error)
	SetDossierStatus(ctx context.Context, p model.Principal, dossierID uint64, status model.DossierStatus) (model.Dossier, error)
	// CancelDossier is admin-only.
	CancelDossier(ctx context.Context, p model.Principal, dossierID uint64, reason string) (model.Dossier, error)
	// ReassignAgent is admin-only.
	ReassignAgent(ctx context.Context, p model.Principal, dossierID uint64, instanceID, agentID *uint64) error
	AuditTrail(ctx context.Context, p model.Principal, dossierID uint64) ([]model.AuditEntry, error)

	StartReview(ctx context.Context, p model.Principal, instanceID uint64, ifMatch int64) (model.StepInstance, error)
	ApproveField(ctx context.Context, p model.Principal, instanceID, fieldID uint64, ifMatch int64) (model.StepFieldValue, error)
	RejectField(ctx context.Context, p model.Principal, instanceID, fieldID uint64, reason string, ifMatch int64) (model.StepFieldValue, error)
	ApproveStep(ctx context.Context, p model.Principal, instanceID uint64, ifMatch int64) (model.StepInstance, error)
	RejectStep(ctx context.Context, p model.Principal, instanceID uint64, reason string, ifMatch int64) (model.StepInstance, error)
	CompleteStep(ctx context.Context, p model.Principal, instanceID uint64) (model.StepInstance, error)
	// ForceCompleteStep is admin-only.
	ForceCompleteStep(ctx context.Context, p model.Principal, instanceID uint64, note string) (model.StepInstance, error)

	ApproveDocument(ctx context.Context, p model.Principal, documentID uint64, ifMatch int64) (model.Document, error)
	RejectDocument(ctx context.Context, p model.Principal, documentID uint64, reason string, ifMatch int64) (model.Document, error)
	MarkDocumentOutdated(ctx context.Context, p model.Principal, documentID uint64) (model.Document, error)
	DeliverDocuments(ctx context.Context, p model.Principal, in Delivery) ([]UploadResult, error)
}

// DossierWorkflow is a dossier with its configured steps in order.
type DossierWorkflow struct {
	Dossier  model.Dossier  `json:"dossier"`
	Steps    []WorkflowStep `json:"steps"`
	Progress Progress       `json:"progress"`
}

// WorkflowStep pairs a configured step with its instance, if materialized.
type WorkflowStep struct {
	Position int                 `json:"position"`
	Step     model.Step          `json:"step"`
	Instance *model.StepInstance `json:"instance"`
}

// StepDetail is everything needed to render one step instance.
type StepDetail struct {
	Instance              model.StepInstance     `json:"instance"`
	Step                  model.Step             `json:"step"`
	Fields                []model.StepField      `json:"fields"`
	Values                []model.StepFieldValue `json:"values"`
	Documents             []model.Document       `json:"documents"`
	RequiredDocumentTypes []model.DocumentType   `json:"required_document_types"`
}

// UploadInput is one document upload.  StepInstanceID nil targets the
// dossier's general slot for the type.
type UploadInput struct {
	DossierID      uint64
	DocumentTypeID uint64
	StepInstanceID *uint64
	FileName       string
	ContentType    string
	Body           io.Reader
}

// UploadResult is the slot after an upload and the version just created.
type UploadResult struct {
	Document model.Document        `json:"document"`
	Version  model.DocumentVersion `json:"version"`
}

// SignedFile is an expiring download link to one document version.
type SignedFile struct {
	URL           string    `json:"url"`
	ExpiresAt     time.Time `json:"expires_at"`
	VersionID     uint64    `json:"version_id"`
	VersionNumber int       `json:"version_number"`
	FileName      string    `json:"file_name"`
	MimeType      string    `json:"mime_type"`
	SizeBytes     int64     `json:"size_bytes"`
}

// NewDossier is the input of CreateDossier.
type NewDossier struct {
	OwnerID   uint64            `json:"owner_id"`
	ProductID uint64            `json:"product_id"`
	Type      string            `json:"type"`
	Metadata  map[string]string `json:"metadata"`
}

// DeliveryFile is one staff-produced file.
type DeliveryFile struct {
	DocumentTypeID uint64
	FileName       string
	ContentType    string
	Body           io.Reader
}

// Delivery pushes files to a client, optionally bound to a step instance.
type Delivery struct {
	DossierID      uint64
	StepInstanceID *uint64
	Message        string
	Files          []DeliveryFile
}
