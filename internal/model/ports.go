package model

import "context"

// Store is the relational persistence port used by the workflow engine and
// the catalog service.  Implementations must enforce the unique keys noted
// on each method by returning ErrConflict, report missing rows as
// ErrNotFound, and treat Update* as optimistic: the stored Version must
// equal the argument's Version, and on success the argument's Version is
// incremented.
type Store interface {
	// WithTx runs fn inside one transaction.  Any error returned by fn rolls
	// the transaction back.  Calling WithTx on a transactional Store joins
	// the outer transaction.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	CreateDossier(ctx context.Context, d *Dossier) error
	GetDossier(ctx context.Context, id uint64) (Dossier, error)
	// LockDossier is GetDossier taking a row lock inside a transaction.
	LockDossier(ctx context.Context, id uint64) (Dossier, error)
	UpdateDossier(ctx context.Context, d *Dossier) error
	ListDossiers(ctx context.Context, f DossierFilter) ([]Dossier, error)

	CreateProduct(ctx context.Context, p *Product) error // unique code
	GetProduct(ctx context.Context, id uint64) (Product, error)
	GetProductByCode(ctx context.Context, code string) (Product, error)
	ListProducts(ctx context.Context, activeOnly bool) ([]Product, error)

	CreateStep(ctx context.Context, s *Step) error // unique code
	GetStep(ctx context.Context, id uint64) (Step, error)
	GetStepByCode(ctx context.Context, code string) (Step, error)

	// CreateProductStep enforces unique (product, step) and (product, position).
	CreateProductStep(ctx context.Context, ps *ProductStep) error
	// ListProductSteps returns the product's steps ordered by position.
	ListProductSteps(ctx context.Context, productID uint64) ([]ProductStep, error)
	SetProductStepPosition(ctx context.Context, id uint64, position int) error

	// CreateStepField enforces unique (step, product scope, key).
	CreateStepField(ctx context.Context, f *StepField) error
	// ListStepFields returns the step's generic fields plus the fields
	// specific to productID, ordered by position then id.
	ListStepFields(ctx context.Context, stepID, productID uint64) ([]StepField, error)

	CreateDocumentType(ctx context.Context, dt *DocumentType) error // unique code
	GetDocumentType(ctx context.Context, id uint64) (DocumentType, error)
	GetDocumentTypeByCode(ctx context.Context, code string) (DocumentType, error)
	AttachDocumentType(ctx context.Context, productStepID, documentTypeID uint64) error
	ListRequiredDocumentTypes(ctx context.Context, productStepID uint64) ([]DocumentType, error)

	// CreateStepInstance enforces unique (dossier, step).
	CreateStepInstance(ctx context.Context, si *StepInstance) error
	GetStepInstance(ctx context.Context, id uint64) (StepInstance, error)
	FindStepInstance(ctx context.Context, dossierID, stepID uint64) (StepInstance, error)
	ListStepInstances(ctx context.Context, dossierID uint64) ([]StepInstance, error)
	UpdateStepInstance(ctx context.Context, si *StepInstance) error

	ListFieldValues(ctx context.Context, stepInstanceID uint64) ([]StepFieldValue, error)
	// UpsertFieldValue inserts or replaces the row keyed by
	// (step instance, field) and sets v.ID.
	UpsertFieldValue(ctx context.Context, v *StepFieldValue) error

	// FindDocument resolves a slot; a nil StepInstanceID matches only the
	// general slot.
	FindDocument(ctx context.Context, key SlotKey) (Document, error)
	GetDocument(ctx context.Context, id uint64) (Document, error)
	// LockDocument is GetDocument taking a row lock inside a transaction.
	LockDocument(ctx context.Context, id uint64) (Document, error)
	// CreateDocument enforces one row per slot.
	CreateDocument(ctx context.Context, d *Document) error
	UpdateDocument(ctx context.Context, d *Document) error
	ListDocuments(ctx context.Context, dossierID uint64) ([]Document, error)

	// CreateDocumentVersion enforces unique (document, version number).
	CreateDocumentVersion(ctx context.Context, v *DocumentVersion) error
	MaxDocumentVersion(ctx context.Context, documentID uint64) (int, error)
	GetDocumentVersion(ctx context.Context, id uint64) (DocumentVersion, error)
	ListDocumentVersions(ctx context.Context, documentID uint64) ([]DocumentVersion, error)

	CreateAuditEntry(ctx context.Context, e *AuditEntry) error
	ListAuditEntries(ctx context.Context, dossierID uint64) ([]AuditEntry, error)
}
