package workflow

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/iliyamo/dossier-workflow/internal/model"
)

// CreateDossier opens a dossier for a client on an active product.
func (e *Engine) CreateDossier(ctx context.Context, p model.Principal, in NewDossier) (model.Dossier, error) {
	if err := requireStaff(p); err != nil {
		return model.Dossier{}, err
	}
	if in.OwnerID == 0 {
		return model.Dossier{}, &model.ValidationError{Message: "owner is required", Fields: map[string]string{"owner_id": reasonRequired}}
	}
	product, err := e.store.GetProduct(ctx, in.ProductID)
	if err != nil {
		return model.Dossier{}, err
	}
	if !product.Active {
		return model.Dossier{}, model.Invalid("product %s is not active", product.Code)
	}
	d := model.Dossier{
		OwnerID:   in.OwnerID,
		ProductID: product.ID,
		Type:      strings.TrimSpace(in.Type),
		Status:    model.DossierQualification,
		Metadata:  in.Metadata,
		CreatedAt: e.clock(),
	}
	if d.Type == "" {
		d.Type = product.Code
	}
	err = e.store.WithTx(ctx, func(tx model.Store) error {
		if err := tx.CreateDossier(ctx, &d); err != nil {
			return err
		}
		return tx.CreateAuditEntry(ctx, audit(p, d, nil, model.AuditDossierCreated,
			fmt.Sprintf("owner=%d product=%s", d.OwnerID, product.Code)))
	})
	if err != nil {
		return model.Dossier{}, err
	}
	e.log.Info("dossier created", zap.Uint64("dossier_id", d.ID), zap.Uint64("owner_id", d.OwnerID), zap.Uint64("user_id", p.UserID))
	return d, nil
}

// ListDossiers is the staff listing.
func (e *Engine) ListDossiers(ctx context.Context, p model.Principal, f model.DossierFilter) ([]model.Dossier, error) {
	if err := requireStaff(p); err != nil {
		return nil, err
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, &model.ValidationError{Message: "unknown status", Fields: map[string]string{"status": "invalid"}}
	}
	return e.store.ListDossiers(ctx, f)
}

// SetDossierStatus moves the business-process marker.  CLOSED is reached
// only through CancelDossier and leaving ERROR takes an admin.
func (e *Engine) SetDossierStatus(ctx context.Context, p model.Principal, dossierID uint64, status model.DossierStatus) (model.Dossier, error) {
	if err := requireStaff(p); err != nil {
		return model.Dossier{}, err
	}
	if !status.Valid() {
		return model.Dossier{}, &model.ValidationError{Message: "unknown status", Fields: map[string]string{"status": "invalid"}}
	}
	if status == model.DossierClosed {
		return model.Dossier{}, model.Invalid("dossiers are closed by cancelling them")
	}
	var out model.Dossier
	err := e.store.WithTx(ctx, func(tx model.Store) error {
		d, err := tx.LockDossier(ctx, dossierID)
		if err != nil {
			return err
		}
		if d.Status == status {
			out = d
			return nil
		}
		switch d.Status {
		case model.DossierClosed:
			return model.Conflictf("dossier %d is closed", d.ID)
		case model.DossierError:
			if err := requireAdmin(p); err != nil {
				return err
			}
		}
		from := d.Status
		d.Status = status
		if err := tx.UpdateDossier(ctx, &d); err != nil {
			return err
		}
		if err := tx.CreateAuditEntry(ctx, audit(p, d, nil, model.AuditStatusChange,
			fmt.Sprintf("%s -> %s", from, status))); err != nil {
			return err
		}
		out = d
		return nil
	})
	if err == nil {
		e.log.Info("dossier status changed", zap.Uint64("dossier_id", dossierID), zap.String("status", string(out.Status)))
	}
	return out, err
}

// CancelDossier closes a dossier for good.
func (e *Engine) CancelDossier(ctx context.Context, p model.Principal, dossierID uint64, reason string) (model.Dossier, error) {
	if err := requireAdmin(p); err != nil {
		return model.Dossier{}, err
	}
	reason, err := requireReason(reason)
	if err != nil {
		return model.Dossier{}, err
	}
	var (
		out       model.Dossier
		cancelled bool
	)
	err = e.store.WithTx(ctx, func(tx model.Store) error {
		cancelled = false
		d, err := tx.LockDossier(ctx, dossierID)
		if err != nil {
			return err
		}
		if d.Status == model.DossierClosed {
			out = d
			return nil
		}
		d.Status = model.DossierClosed
		d.ClosedReason = ptr(reason)
		if err := tx.UpdateDossier(ctx, &d); err != nil {
			return err
		}
		if err := tx.CreateAuditEntry(ctx, audit(p, d, nil, model.AuditCancel, reason)); err != nil {
			return err
		}
		out, cancelled = d, true
		return nil
	})
	if err != nil {
		return model.Dossier{}, err
	}
	if cancelled {
		e.notify(ctx, model.Notification{
			UserID:    out.OwnerID,
			DossierID: ptr(out.ID),
			Kind:      model.NotifyDossierCancelled,
			Title:     "Your dossier was cancelled",
			Body:      reason,
		})
		e.log.Warn("dossier cancelled", zap.Uint64("dossier_id", out.ID), zap.Uint64("user_id", p.UserID))
	}
	return out, nil
}

// ReassignAgent sets the staff member in charge of a step instance, or of
// the whole dossier when instanceID is nil.  A nil agentID clears it.
func (e *Engine) ReassignAgent(ctx context.Context, p model.Principal, dossierID uint64, instanceID, agentID *uint64) error {
	if err := requireAdmin(p); err != nil {
		return err
	}
	detail := "agent=none"
	if agentID != nil {
		detail = fmt.Sprintf("agent=%d", *agentID)
	}
	return e.store.WithTx(ctx, func(tx model.Store) error {
		d, err := tx.LockDossier(ctx, dossierID)
		if err != nil {
			return err
		}
		if err := mutable(d); err != nil {
			return err
		}
		if instanceID != nil {
			si, err := tx.GetStepInstance(ctx, *instanceID)
			if err != nil {
				return err
			}
			if si.DossierID != d.ID {
				return model.NotFoundf("step instance %d", si.ID)
			}
			si.AssignedTo = agentID
			if err := tx.UpdateStepInstance(ctx, &si); err != nil {
				return err
			}
		} else {
			d.AssignedAgentID = agentID
			if err := tx.UpdateDossier(ctx, &d); err != nil {
				return err
			}
		}
		return tx.CreateAuditEntry(ctx, audit(p, d, instanceID, model.AuditReassign, detail))
	})
}

// ForceCompleteStep marks an instance completed regardless of approvals.
// The validation status is left as is.
func (e *Engine) ForceCompleteStep(ctx context.Context, p model.Principal, instanceID uint64, note string) (model.StepInstance, error) {
	if err := requireAdmin(p); err != nil {
		return model.StepInstance{}, err
	}
	var (
		out    model.StepInstance
		forced bool
	)
	err := e.store.WithTx(ctx, func(tx model.Store) error {
		forced = false
		sc, err := loadStep(ctx, tx, p, instanceID)
		if err != nil {
			return err
		}
		if err := mutable(sc.dossier); err != nil {
			return err
		}
		si := sc.instance
		if si.Completed() {
			out = si
			return nil
		}
		now := e.clock()
		if si.StartedAt == nil {
			si.StartedAt = &now
		}
		si.CompletedAt = &now
		if err := tx.UpdateStepInstance(ctx, &si); err != nil {
			return err
		}
		if err := tx.CreateAuditEntry(ctx, audit(p, sc.dossier, ptr(si.ID), model.AuditForceComplete,
			strings.TrimSpace(note))); err != nil {
			return err
		}
		out, forced = si, true
		return e.refreshCompletion(ctx, tx, sc.dossier.ID)
	})
	if err == nil && forced {
		e.log.Warn("step force-completed",
			zap.Uint64("instance_id", instanceID),
			zap.Uint64("user_id", p.UserID),
			zap.String("validation_status", string(out.ValidationStatus)))
	}
	return out, err
}

// DeliverDocuments uploads staff-produced files into the client's slots and
// notifies the client once.  Every file is checked before the first blob is
// written.  When a later file still fails to store, the files already
// committed are audited and announced, and the error is returned with them.
func (e *Engine) DeliverDocuments(ctx context.Context, p model.Principal, in Delivery) ([]UploadResult, error) {
	if err := requireStaff(p); err != nil {
		return nil, err
	}
	if len(in.Files) == 0 {
		return nil, &model.ValidationError{Message: "nothing to deliver", Fields: map[string]string{"files": reasonRequired}}
	}
	d, err := dossierFor(ctx, e.store, p, in.DossierID)
	if err != nil {
		return nil, err
	}
	if err := mutable(d); err != nil {
		return nil, err
	}

	plans := make([]uploadPlan, 0, len(in.Files))
	for _, f := range in.Files {
		pl, err := e.plan(ctx, d, UploadInput{
			DossierID:      d.ID,
			DocumentTypeID: f.DocumentTypeID,
			StepInstanceID: in.StepInstanceID,
			FileName:       f.FileName,
			ContentType:    f.ContentType,
			Body:           f.Body,
		})
		if err != nil {
			return nil, fmt.Errorf("deliver %s: %w", f.FileName, err)
		}
		plans = append(plans, pl)
	}

	results := make([]UploadResult, 0, len(plans))
	var failed error
	for _, pl := range plans {
		res, err := e.storeVersion(ctx, p, d, pl, model.UploaderAgent)
		if err != nil {
			failed = fmt.Errorf("deliver %s: %w", pl.in.FileName, err)
			break
		}
		results = append(results, res)
	}
	if len(results) == 0 {
		return nil, failed
	}
	if err := e.recordDelivery(ctx, p, d, in, results, failed != nil); err != nil {
		return results, err
	}
	return results, failed
}

// recordDelivery marks the bound step, audits the committed files and
// notifies the client.
func (e *Engine) recordDelivery(ctx context.Context, p model.Principal, d model.Dossier, in Delivery, results []UploadResult, partial bool) error {
	detail := fmt.Sprintf("files=%d", len(results))
	if partial {
		detail = fmt.Sprintf("files=%d of %d (partial)", len(results), len(in.Files))
	}
	err := e.withRetry(ctx, func(tx model.Store) error {
		if in.StepInstanceID != nil && !partial {
			sc, err := loadStep(ctx, tx, p, *in.StepInstanceID)
			if err != nil {
				return err
			}
			if sc.step.Type == model.StepAdmin {
				if _, err := e.completeInTx(ctx, tx, p, sc); err != nil {
					return err
				}
			} else if sc.instance.StartedAt == nil {
				si := sc.instance
				si.StartedAt = ptr(e.clock())
				if err := tx.UpdateStepInstance(ctx, &si); err != nil {
					return err
				}
			}
		}
		return tx.CreateAuditEntry(ctx, audit(p, d, in.StepInstanceID, model.AuditDelivery, detail))
	})
	if err != nil {
		return err
	}

	body := strings.TrimSpace(in.Message)
	if body == "" {
		body = fmt.Sprintf("%d new document(s) are available in your dossier.", len(results))
	}
	e.notify(ctx, model.Notification{
		UserID:    d.OwnerID,
		DossierID: ptr(d.ID),
		Kind:      model.NotifyDocumentsDelivered,
		Title:     "New documents available",
		Body:      body,
	})
	e.log.Info("documents delivered",
		zap.Uint64("dossier_id", d.ID),
		zap.Int("files", len(results)),
		zap.Bool("partial", partial),
		zap.Uint64("user_id", p.UserID))
	return nil
}

// AuditTrail lists the staff actions recorded on a dossier.
func (e *Engine) AuditTrail(ctx context.Context, p model.Principal, dossierID uint64) ([]model.AuditEntry, error) {
	if err := requireStaff(p); err != nil {
		return nil, err
	}
	if _, err := e.store.GetDossier(ctx, dossierID); err != nil {
		return nil, err
	}
	return e.store.ListAuditEntries(ctx, dossierID)
}
