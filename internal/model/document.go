package model

import "time"

// DocumentStatus is the review status of a document slot.
type DocumentStatus string

const (
	DocumentPending  DocumentStatus = "PENDING"
	DocumentApproved DocumentStatus = "APPROVED"
	DocumentRejected DocumentStatus = "REJECTED"
	DocumentOutdated DocumentStatus = "OUTDATED"
)

// UploaderType tells who pushed a document version.
type UploaderType string

const (
	UploaderUser  UploaderType = "USER"
	UploaderAgent UploaderType = "AGENT"
)

// Document is a named upload slot for a (dossier, document type, optional
// step instance) triple.  A nil StepInstanceID is the dossier's general
// slot for that type.  CurrentVersionID always points at the version with
// the highest number.
type Document struct {
	ID               uint64         `json:"id"`                 // documents.id
	DossierID        uint64         `json:"dossier_id"`         // documents.dossier_id
	DocumentTypeID   uint64         `json:"document_type_id"`   // documents.document_type_id
	StepInstanceID   *uint64        `json:"step_instance_id"`   // documents.step_instance_id
	Status           DocumentStatus `json:"status"`             // documents.status
	CurrentVersionID *uint64        `json:"current_version_id"` // documents.current_version_id
	RejectionReason  *string        `json:"rejection_reason"`   // documents.rejection_reason
	ReviewedBy       *uint64        `json:"reviewed_by"`        // documents.reviewed_by
	ReviewedAt       *time.Time     `json:"reviewed_at"`        // documents.reviewed_at
	Version          int64          `json:"version"`            // documents.version (optimistic lock)
	CreatedAt        time.Time      `json:"created_at"`         // documents.created_at
	UpdatedAt        time.Time      `json:"updated_at"`         // documents.updated_at
}

// SlotKey identifies a document slot.
type SlotKey struct {
	DossierID      uint64
	DocumentTypeID uint64
	StepInstanceID *uint64
}

// DocumentVersion is one immutable upload.  VersionNumber starts at 1 and is
// strictly increasing per document.
type DocumentVersion struct {
	ID            uint64       `json:"id"`             // document_versions.id
	DocumentID    uint64       `json:"document_id"`    // document_versions.document_id
	VersionNumber int          `json:"version_number"` // document_versions.version_number
	StorageKey    string       `json:"-"`              // document_versions.storage_key
	FileName      string       `json:"file_name"`      // document_versions.file_name
	SizeBytes     int64        `json:"size_bytes"`     // document_versions.size_bytes
	MimeType      string       `json:"mime_type"`      // document_versions.mime_type
	UploaderType  UploaderType `json:"uploader_type"`  // document_versions.uploader_type
	UploaderID    uint64       `json:"uploader_id"`    // document_versions.uploader_id
	UploadedAt    time.Time    `json:"uploaded_at"`    // document_versions.uploaded_at
}
