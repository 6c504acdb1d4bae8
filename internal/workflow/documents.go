package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/dossier-workflow/internal/model"
)

// UploadDocument stores a new version in the slot named by in.
func (e *Engine) UploadDocument(ctx context.Context, p model.Principal, in UploadInput) (UploadResult, error) {
	d, err := dossierFor(ctx, e.store, p, in.DossierID)
	if err != nil {
		return UploadResult{}, err
	}
	if err := mutable(d); err != nil {
		return UploadResult{}, err
	}
	uploader := model.UploaderUser
	if p.Role.IsStaff() {
		uploader = model.UploaderAgent
	}
	return e.upload(ctx, p, d, in, uploader)
}

// uploadPlan is an upload whose target slot and file name passed the
// checks that need no blob.
type uploadPlan struct {
	in   UploadInput
	dt   model.DocumentType
	name string
	ext  string
}

// plan resolves the document type, the step-instance binding and the file
// name of in without writing anything.
func (e *Engine) plan(ctx context.Context, d model.Dossier, in UploadInput) (uploadPlan, error) {
	if in.Body == nil {
		return uploadPlan{}, &model.ValidationError{Message: "no file", Fields: map[string]string{"file": reasonRequired}}
	}
	dt, err := e.store.GetDocumentType(ctx, in.DocumentTypeID)
	if err != nil {
		return uploadPlan{}, err
	}
	if in.StepInstanceID != nil {
		si, err := e.store.GetStepInstance(ctx, *in.StepInstanceID)
		if err != nil {
			return uploadPlan{}, err
		}
		if si.DossierID != d.ID {
			return uploadPlan{}, model.NotFoundf("step instance %d", si.ID)
		}
	}
	name, ext, err := uploadName(dt, in.FileName)
	if err != nil {
		return uploadPlan{}, err
	}
	return uploadPlan{in: in, dt: dt, name: name, ext: ext}, nil
}

func (e *Engine) upload(ctx context.Context, p model.Principal, d model.Dossier, in UploadInput, uploader model.UploaderType) (UploadResult, error) {
	pl, err := e.plan(ctx, d, in)
	if err != nil {
		return UploadResult{}, err
	}
	return e.storeVersion(ctx, p, d, pl, uploader)
}

// storeVersion writes the blob first, then allocates the version in a retried
// transaction.  The blob is removed again if no version row points at it.
func (e *Engine) storeVersion(ctx context.Context, p model.Principal, d model.Dossier, pl uploadPlan, uploader model.UploaderType) (UploadResult, error) {
	in, dt, name, ext := pl.in, pl.dt, pl.name, pl.ext
	now := e.clock()
	key := fmt.Sprintf("dossiers/%d/%d/%d-%s.%s", d.ID, dt.ID, now.UnixNano(), uuid.NewString(), ext)
	limit := dt.MaxSize()
	n, err := e.blobs.Put(ctx, key, io.LimitReader(in.Body, limit+1))
	if err != nil {
		e.discard(ctx, key)
		var verr *model.ValidationError
		if errors.As(err, &verr) {
			return UploadResult{}, err
		}
		return UploadResult{}, &model.DependencyError{Op: "store document blob", Err: err}
	}
	switch {
	case n > limit:
		e.discard(ctx, key)
		return UploadResult{}, &model.ValidationError{
			Message: fmt.Sprintf("file exceeds %d bytes", limit),
			Fields:  map[string]string{"file": "too_large"},
		}
	case n == 0:
		e.discard(ctx, key)
		return UploadResult{}, &model.ValidationError{Message: "file is empty", Fields: map[string]string{"file": "empty"}}
	}

	mimeType := in.ContentType
	if mimeType == "" || mimeType == "application/octet-stream" {
		if guess := mime.TypeByExtension("." + ext); guess != "" {
			mimeType = guess
		}
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	slot := model.SlotKey{DossierID: d.ID, DocumentTypeID: dt.ID, StepInstanceID: in.StepInstanceID}
	var res UploadResult
	err = e.withRetry(ctx, func(tx model.Store) error {
		doc, err := tx.FindDocument(ctx, slot)
		switch {
		case errors.Is(err, model.ErrNotFound):
			doc = model.Document{
				DossierID:      d.ID,
				DocumentTypeID: dt.ID,
				StepInstanceID: in.StepInstanceID,
				Status:         model.DocumentPending,
			}
			if err := tx.CreateDocument(ctx, &doc); err != nil {
				return err
			}
		case err != nil:
			return err
		}
		if doc, err = tx.LockDocument(ctx, doc.ID); err != nil {
			return err
		}
		last, err := tx.MaxDocumentVersion(ctx, doc.ID)
		if err != nil {
			return err
		}
		v := model.DocumentVersion{
			DocumentID:    doc.ID,
			VersionNumber: last + 1,
			StorageKey:    key,
			FileName:      name,
			SizeBytes:     n,
			MimeType:      mimeType,
			UploaderType:  uploader,
			UploaderID:    p.UserID,
			UploadedAt:    now,
		}
		if err := tx.CreateDocumentVersion(ctx, &v); err != nil {
			return err
		}
		doc.CurrentVersionID = ptr(v.ID)
		doc.Status = model.DocumentPending
		doc.RejectionReason = nil
		doc.ReviewedBy = nil
		doc.ReviewedAt = nil
		if err := tx.UpdateDocument(ctx, &doc); err != nil {
			return err
		}
		res = UploadResult{Document: doc, Version: v}
		return nil
	})
	if err != nil {
		e.discard(ctx, key)
		return UploadResult{}, err
	}
	e.log.Info("document version stored",
		zap.Uint64("dossier_id", d.ID),
		zap.Uint64("document_id", res.Document.ID),
		zap.Int("version", res.Version.VersionNumber),
		zap.Int64("size", n),
		zap.String("uploader", string(uploader)))
	return res, nil
}

func (e *Engine) discard(ctx context.Context, key string) {
	if err := e.blobs.Delete(context.WithoutCancel(ctx), key); err != nil {
		e.log.Warn("orphan blob left behind", zap.String("key", key), zap.Error(err))
	}
}

// uploadName returns the cleaned display name and the lower-case extension,
// rejecting extensions the document type does not allow.
func uploadName(dt model.DocumentType, fileName string) (string, string, error) {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(fileName), `\`, "/"))
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	if ext == "" || !contains(dt.Extensions(), ext) {
		return "", "", &model.ValidationError{
			Message: fmt.Sprintf("allowed extensions: %s", strings.Join(dt.Extensions(), ", ")),
			Fields:  map[string]string{"file": "extension_not_allowed"},
		}
	}
	if name == "" || name == "." || name == "/" {
		name = dt.Code + "." + ext
	}
	return name, ext, nil
}

// Documents lists the slots of a dossier.
func (e *Engine) Documents(ctx context.Context, p model.Principal, dossierID uint64) ([]model.Document, error) {
	if _, err := dossierFor(ctx, e.store, p, dossierID); err != nil {
		return nil, err
	}
	return e.store.ListDocuments(ctx, dossierID)
}

func (e *Engine) documentFor(ctx context.Context, st model.Store, p model.Principal, documentID uint64) (model.Document, model.Dossier, error) {
	doc, err := st.GetDocument(ctx, documentID)
	if err != nil {
		return model.Document{}, model.Dossier{}, err
	}
	d, err := dossierFor(ctx, st, p, doc.DossierID)
	if err != nil {
		return model.Document{}, model.Dossier{}, err
	}
	return doc, d, nil
}

// DocumentVersions returns a document's history, oldest first.
func (e *Engine) DocumentVersions(ctx context.Context, p model.Principal, documentID uint64) ([]model.DocumentVersion, error) {
	if _, _, err := e.documentFor(ctx, e.store, p, documentID); err != nil {
		return nil, err
	}
	return e.store.ListDocumentVersions(ctx, documentID)
}

// ViewDocument signs a short-lived link to the current version.
func (e *Engine) ViewDocument(ctx context.Context, p model.Principal, documentID uint64) (SignedFile, error) {
	doc, _, err := e.documentFor(ctx, e.store, p, documentID)
	if err != nil {
		return SignedFile{}, err
	}
	if doc.CurrentVersionID == nil {
		return SignedFile{}, model.NotFoundf("document %d has no uploaded version", documentID)
	}
	v, err := e.store.GetDocumentVersion(ctx, *doc.CurrentVersionID)
	if err != nil {
		return SignedFile{}, err
	}
	return e.sign(v)
}

// ViewDocumentVersion signs a link to any version of a visible document.
func (e *Engine) ViewDocumentVersion(ctx context.Context, p model.Principal, versionID uint64) (SignedFile, error) {
	v, err := e.store.GetDocumentVersion(ctx, versionID)
	if err != nil {
		return SignedFile{}, err
	}
	if _, _, err := e.documentFor(ctx, e.store, p, v.DocumentID); err != nil {
		return SignedFile{}, err
	}
	return e.sign(v)
}

func (e *Engine) sign(v model.DocumentVersion) (SignedFile, error) {
	token, exp, err := e.signer.Sign(v.ID, e.fileTTL)
	if err != nil {
		return SignedFile{}, &model.DependencyError{Op: "sign file url", Err: err}
	}
	return SignedFile{
		URL:           strings.TrimRight(e.fileBase, "/") + "/files/" + token,
		ExpiresAt:     exp,
		VersionID:     v.ID,
		VersionNumber: v.VersionNumber,
		FileName:      v.FileName,
		MimeType:      v.MimeType,
		SizeBytes:     v.SizeBytes,
	}, nil
}

// OpenSignedFile resolves a token issued by ViewDocument.  The caller must
// close the reader.
func (e *Engine) OpenSignedFile(ctx context.Context, token string) (model.DocumentVersion, io.ReadCloser, error) {
	versionID, err := e.signer.Verify(token)
	if err != nil {
		return model.DocumentVersion{}, nil, err
	}
	v, err := e.store.GetDocumentVersion(ctx, versionID)
	if err != nil {
		return model.DocumentVersion{}, nil, err
	}
	rc, err := e.blobs.Open(ctx, v.StorageKey)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.DocumentVersion{}, nil, err
		}
		return model.DocumentVersion{}, nil, &model.DependencyError{Op: "open document blob", Err: err}
	}
	return v, rc, nil
}

// ApproveDocument approves the current version of a document.
func (e *Engine) ApproveDocument(ctx context.Context, p model.Principal, documentID uint64, ifMatch int64) (model.Document, error) {
	if err := requireStaff(p); err != nil {
		return model.Document{}, err
	}
	var out model.Document
	err := e.store.WithTx(ctx, func(tx model.Store) error {
		doc, d, err := e.reviewableDocument(ctx, tx, p, documentID)
		if err != nil {
			return err
		}
		if doc.Status == model.DocumentApproved {
			out = doc
			return nil
		}
		if doc.Status == model.DocumentOutdated {
			return model.Conflictf("document %d is outdated and needs a new upload", documentID)
		}
		if err := checkVersion(ifMatch, doc.Version, "document", documentID); err != nil {
			return err
		}
		now := e.clock()
		doc.Status = model.DocumentApproved
		doc.RejectionReason = nil
		doc.ReviewedBy = ptr(p.UserID)
		doc.ReviewedAt = &now
		if err := tx.UpdateDocument(ctx, &doc); err != nil {
			return err
		}
		e.log.Info("document approved", zap.Uint64("dossier_id", d.ID), zap.Uint64("document_id", doc.ID))
		out = doc
		return nil
	})
	return out, err
}

// RejectDocument rejects the current version and tells the client why.
func (e *Engine) RejectDocument(ctx context.Context, p model.Principal, documentID uint64, reason string, ifMatch int64) (model.Document, error) {
	if err := requireStaff(p); err != nil {
		return model.Document{}, err
	}
	reason, err := requireReason(reason)
	if err != nil {
		return model.Document{}, err
	}
	var (
		out  model.Document
		note *model.Notification
	)
	err = e.store.WithTx(ctx, func(tx model.Store) error {
		note = nil
		doc, d, err := e.reviewableDocument(ctx, tx, p, documentID)
		if err != nil {
			return err
		}
		if doc.Status == model.DocumentRejected {
			out = doc
			return nil
		}
		if err := checkVersion(ifMatch, doc.Version, "document", documentID); err != nil {
			return err
		}
		now := e.clock()
		doc.Status = model.DocumentRejected
		doc.RejectionReason = ptr(reason)
		doc.ReviewedBy = ptr(p.UserID)
		doc.ReviewedAt = &now
		if err := tx.UpdateDocument(ctx, &doc); err != nil {
			return err
		}
		title := "A document was rejected"
		if dt, err := tx.GetDocumentType(ctx, doc.DocumentTypeID); err == nil {
			title = dt.Label + " was rejected"
		}
		note = &model.Notification{
			UserID:    d.OwnerID,
			DossierID: ptr(d.ID),
			Kind:      model.NotifyDocumentRejected,
			Title:     title,
			Body:      reason,
		}
		out = doc
		return nil
	})
	if err != nil {
		return model.Document{}, err
	}
	if note != nil {
		e.notify(ctx, *note)
	}
	return out, nil
}

// MarkDocumentOutdated flags a document whose content no longer applies.
func (e *Engine) MarkDocumentOutdated(ctx context.Context, p model.Principal, documentID uint64) (model.Document, error) {
	if err := requireStaff(p); err != nil {
		return model.Document{}, err
	}
	var out model.Document
	err := e.store.WithTx(ctx, func(tx model.Store) error {
		doc, d, err := e.documentFor(ctx, tx, p, documentID)
		if err != nil {
			return err
		}
		if err := mutable(d); err != nil {
			return err
		}
		if doc.Status == model.DocumentOutdated {
			out = doc
			return nil
		}
		doc.Status = model.DocumentOutdated
		if err := tx.UpdateDocument(ctx, &doc); err != nil {
			return err
		}
		if err := tx.CreateAuditEntry(ctx, audit(p, d, doc.StepInstanceID, model.AuditDocumentOutdate,
			fmt.Sprintf("document=%d", doc.ID))); err != nil {
			return err
		}
		out = doc
		return nil
	})
	return out, err
}

func (e *Engine) reviewableDocument(ctx context.Context, tx model.Store, p model.Principal, documentID uint64) (model.Document, model.Dossier, error) {
	doc, d, err := e.documentFor(ctx, tx, p, documentID)
	if err != nil {
		return model.Document{}, model.Dossier{}, err
	}
	if err := mutable(d); err != nil {
		return model.Document{}, model.Dossier{}, err
	}
	if doc.CurrentVersionID == nil {
		return model.Document{}, model.Dossier{}, model.Invalid("document %d has no uploaded version", documentID)
	}
	return doc, d, nil
}
