package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/dossier-workflow/internal/model"
)

const documentColumns = `id, dossier_id, document_type_id, step_instance_id, status, current_version_id,
	rejection_reason, reviewed_by, reviewed_at, version, created_at, updated_at`

func scanDocument(row rowScanner) (model.Document, error) {
	var (
		d                 model.Document
		instance, current sql.NullInt64
		reason            sql.NullString
		reviewer          sql.NullInt64
		reviewed          sql.NullTime
	)
	err := row.Scan(&d.ID, &d.DossierID, &d.DocumentTypeID, &instance, &d.Status, &current,
		&reason, &reviewer, &reviewed, &d.Version, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return model.Document{}, err
	}
	d.StepInstanceID, d.CurrentVersionID = idPtr(instance), idPtr(current)
	d.RejectionReason = strPtr(reason)
	d.ReviewedBy, d.ReviewedAt = idPtr(reviewer), timePtr(reviewed)
	return d, nil
}

// FindDocument resolves a slot through the generated slot_instance column
// so that "no step instance" compares equal to itself.
func (s *Store) FindDocument(ctx context.Context, key model.SlotKey) (model.Document, error) {
	var slot uint64
	if key.StepInstanceID != nil {
		slot = *key.StepInstanceID
	}
	d, err := scanDocument(s.q.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE dossier_id = ? AND document_type_id = ? AND slot_instance = ?`,
		key.DossierID, key.DocumentTypeID, slot))
	return d, classify("find document", err)
}

// GetDocument loads a document by id.
func (s *Store) GetDocument(ctx context.Context, id uint64) (model.Document, error) {
	d, err := scanDocument(s.q.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id))
	return d, classify("get document", err)
}

// LockDocument loads a document with SELECT ... FOR UPDATE, serializing
// version allocation for it.
func (s *Store) LockDocument(ctx context.Context, id uint64) (model.Document, error) {
	d, err := scanDocument(s.q.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ? FOR UPDATE`, id))
	return d, classify("lock document", err)
}

// CreateDocument inserts an empty slot.  uq_documents_slot turns a racing
// second insert into a conflict.
func (s *Store) CreateDocument(ctx context.Context, d *model.Document) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = nowUTC()
	}
	d.UpdatedAt = d.CreatedAt
	if d.Status == "" {
		d.Status = model.DocumentPending
	}
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO documents (dossier_id, document_type_id, step_instance_id, status, current_version_id,
			rejection_reason, reviewed_by, reviewed_at, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		d.DossierID, d.DocumentTypeID, nullableID(d.StepInstanceID), d.Status, nullableID(d.CurrentVersionID),
		nullableString(d.RejectionReason), nullableID(d.ReviewedBy), nullableTime(d.ReviewedAt), d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return classify("insert document", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return classify("insert document", err)
	}
	d.ID = uint64(id)
	d.Version = 1
	return nil
}

// UpdateDocument writes status, pointer and review columns guarded by the
// version.
func (s *Store) UpdateDocument(ctx context.Context, d *model.Document) error {
	d.UpdatedAt = nowUTC()
	res, err := s.q.ExecContext(ctx,
		`UPDATE documents SET status = ?, current_version_id = ?, rejection_reason = ?, reviewed_by = ?,
			reviewed_at = ?, updated_at = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		d.Status, nullableID(d.CurrentVersionID), nullableString(d.RejectionReason), nullableID(d.ReviewedBy),
		nullableTime(d.ReviewedAt), d.UpdatedAt, d.ID, d.Version)
	if err != nil {
		return classify("update document", err)
	}
	if err := checkOptimistic(res, "document", d.ID); err != nil {
		return err
	}
	d.Version++
	return nil
}

// ListDocuments returns every slot of a dossier.
func (s *Store) ListDocuments(ctx context.Context, dossierID uint64) ([]model.Document, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE dossier_id = ? ORDER BY id`, dossierID)
	if err != nil {
		return nil, classify("list documents", err)
	}
	defer rows.Close()
	var out []model.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, classify("scan document", err)
		}
		out = append(out, d)
	}
	return out, classify("list documents", rows.Err())
}

// CreateDocumentVersion appends a version.  uq_document_versions_number
// rejects a duplicate number.
func (s *Store) CreateDocumentVersion(ctx context.Context, v *model.DocumentVersion) error {
	if v.UploadedAt.IsZero() {
		v.UploadedAt = nowUTC()
	}
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO document_versions (document_id, version_number, storage_key, file_name, size_bytes, mime_type,
			uploader_type, uploader_id, uploaded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.DocumentID, v.VersionNumber, v.StorageKey, v.FileName, v.SizeBytes, v.MimeType,
		v.UploaderType, v.UploaderID, v.UploadedAt)
	if err != nil {
		return classify("insert document version", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return classify("insert document version", err)
	}
	v.ID = uint64(id)
	return nil
}

// MaxDocumentVersion returns the highest version number of a document, or
// 0 when it has none.  It is a locking read so that, after LockDocument, it
// sees versions committed while the caller waited for the slot lock.
func (s *Store) MaxDocumentVersion(ctx context.Context, documentID uint64) (int, error) {
	var n sql.NullInt64
	err := s.q.QueryRowContext(ctx,
		`SELECT MAX(version_number) FROM document_versions WHERE document_id = ? FOR UPDATE`, documentID).Scan(&n)
	if err != nil {
		return 0, classify("max document version", err)
	}
	return int(n.Int64), nil
}

const versionColumns = `id, document_id, version_number, storage_key, file_name, size_bytes, mime_type,
	uploader_type, uploader_id, uploaded_at`

func scanVersion(row rowScanner) (model.DocumentVersion, error) {
	var v model.DocumentVersion
	err := row.Scan(&v.ID, &v.DocumentID, &v.VersionNumber, &v.StorageKey, &v.FileName, &v.SizeBytes, &v.MimeType,
		&v.UploaderType, &v.UploaderID, &v.UploadedAt)
	return v, err
}

// GetDocumentVersion loads one version.
func (s *Store) GetDocumentVersion(ctx context.Context, id uint64) (model.DocumentVersion, error) {
	v, err := scanVersion(s.q.QueryRowContext(ctx, `SELECT `+versionColumns+` FROM document_versions WHERE id = ?`, id))
	return v, classify("get document version", err)
}

// ListDocumentVersions returns a document's history, oldest first.
func (s *Store) ListDocumentVersions(ctx context.Context, documentID uint64) ([]model.DocumentVersion, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+versionColumns+` FROM document_versions WHERE document_id = ? ORDER BY version_number`, documentID)
	if err != nil {
		return nil, classify("list document versions", err)
	}
	defer rows.Close()
	var out []model.DocumentVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, classify("scan document version", err)
		}
		out = append(out, v)
	}
	return out, classify("list document versions", rows.Err())
}
