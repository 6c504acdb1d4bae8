package workflow

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/iliyamo/dossier-workflow/internal/model"
)

// StartReview takes a SUBMITTED instance into UNDER_REVIEW and assigns the
// reviewer if nobody is assigned yet.
func (e *Engine) StartReview(ctx context.Context, p model.Principal, instanceID uint64, ifMatch int64) (model.StepInstance, error) {
	if err := requireStaff(p); err != nil {
		return model.StepInstance{}, err
	}
	var out model.StepInstance
	err := e.store.WithTx(ctx, func(tx model.Store) error {
		sc, err := loadStep(ctx, tx, p, instanceID)
		if err != nil {
			return err
		}
		if err := mutable(sc.dossier); err != nil {
			return err
		}
		si := sc.instance
		if si.ValidationStatus == model.ValidationUnderReview {
			out = si
			return nil
		}
		if si.ValidationStatus != model.ValidationSubmitted {
			return model.Conflictf("step instance %d is %s, not SUBMITTED", instanceID, si.ValidationStatus)
		}
		if err := checkVersion(ifMatch, si.Version, "step instance", instanceID); err != nil {
			return err
		}
		si.ValidationStatus = model.ValidationUnderReview
		if si.AssignedTo == nil {
			si.AssignedTo = ptr(p.UserID)
		}
		if err := tx.UpdateStepInstance(ctx, &si); err != nil {
			return err
		}
		out = si
		return nil
	})
	return out, err
}

// ApproveField approves one value of an instance awaiting a decision.
func (e *Engine) ApproveField(ctx context.Context, p model.Principal, instanceID, fieldID uint64, ifMatch int64) (model.StepFieldValue, error) {
	return e.reviewField(ctx, p, instanceID, fieldID, model.ReviewApproved, "", ifMatch)
}

// RejectField rejects one value with a reason the client will see.
func (e *Engine) RejectField(ctx context.Context, p model.Principal, instanceID, fieldID uint64, reason string, ifMatch int64) (model.StepFieldValue, error) {
	reason, err := requireReason(reason)
	if err != nil {
		return model.StepFieldValue{}, err
	}
	return e.reviewField(ctx, p, instanceID, fieldID, model.ReviewRejected, reason, ifMatch)
}

func (e *Engine) reviewField(ctx context.Context, p model.Principal, instanceID, fieldID uint64, to model.ReviewStatus, reason string, ifMatch int64) (model.StepFieldValue, error) {
	if err := requireStaff(p); err != nil {
		return model.StepFieldValue{}, err
	}
	var out model.StepFieldValue
	err := e.store.WithTx(ctx, func(tx model.Store) error {
		sc, err := loadStep(ctx, tx, p, instanceID)
		if err != nil {
			return err
		}
		if err := mutable(sc.dossier); err != nil {
			return err
		}
		if !sc.instance.ValidationStatus.AwaitingDecision() {
			return model.Conflictf("step instance %d is %s and not awaiting review", instanceID, sc.instance.ValidationStatus)
		}
		values, err := tx.ListFieldValues(ctx, instanceID)
		if err != nil {
			return err
		}
		var (
			v     model.StepFieldValue
			found bool
		)
		for _, candidate := range values {
			if candidate.StepFieldID == fieldID {
				v, found = candidate, true
				break
			}
		}
		if !found {
			return model.NotFoundf("no value for field %d in step instance %d", fieldID, instanceID)
		}
		if v.Status == to {
			out = v
			return nil
		}
		if err := checkVersion(ifMatch, sc.instance.Version, "step instance", instanceID); err != nil {
			return err
		}
		now := e.clock()
		v.Status = to
		v.ReviewedBy = ptr(p.UserID)
		v.ReviewedAt = &now
		v.RejectionReason = nil
		if to == model.ReviewRejected {
			v.RejectionReason = ptr(reason)
		}
		if err := tx.UpsertFieldValue(ctx, &v); err != nil {
			return err
		}
		si := sc.instance
		if err := tx.UpdateStepInstance(ctx, &si); err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// ApproveStep approves a CLIENT step once every value is approved, and
// completes an ADMIN step.
func (e *Engine) ApproveStep(ctx context.Context, p model.Principal, instanceID uint64, ifMatch int64) (model.StepInstance, error) {
	if err := requireStaff(p); err != nil {
		return model.StepInstance{}, err
	}
	var out model.StepInstance
	err := e.store.WithTx(ctx, func(tx model.Store) error {
		sc, err := loadStep(ctx, tx, p, instanceID)
		if err != nil {
			return err
		}
		if err := mutable(sc.dossier); err != nil {
			return err
		}
		if sc.step.Type == model.StepAdmin {
			out, err = e.completeInTx(ctx, tx, p, sc)
			return err
		}
		si := sc.instance
		if si.ValidationStatus == model.ValidationApproved {
			out = si
			return nil
		}
		if !si.ValidationStatus.AwaitingDecision() {
			return model.Conflictf("step instance %d is %s and not awaiting review", instanceID, si.ValidationStatus)
		}
		if err := checkVersion(ifMatch, si.Version, "step instance", instanceID); err != nil {
			return err
		}
		fields, err := tx.ListStepFields(ctx, sc.step.ID, sc.dossier.ProductID)
		if err != nil {
			return err
		}
		values, err := tx.ListFieldValues(ctx, instanceID)
		if err != nil {
			return err
		}
		if verr := unapproved(fields, values); verr != nil {
			return verr
		}
		now := e.clock()
		si.ValidationStatus = model.ValidationApproved
		si.RejectionReason = nil
		si.ValidatedBy = ptr(p.UserID)
		si.ValidatedAt = &now
		if si.CompletedAt == nil {
			si.CompletedAt = &now
		}
		if err := tx.UpdateStepInstance(ctx, &si); err != nil {
			return err
		}
		out = si
		return e.refreshCompletion(ctx, tx, sc.dossier.ID)
	})
	if err == nil {
		e.log.Info("step approved", zap.Uint64("instance_id", instanceID), zap.Uint64("user_id", p.UserID))
	}
	return out, err
}

// unapproved reports fields blocking approval.
func unapproved(fields []model.StepField, values []model.StepFieldValue) *model.ValidationError {
	byField := make(map[uint64]model.StepFieldValue, len(values))
	for _, v := range values {
		byField[v.StepFieldID] = v
	}
	problems := map[string]string{}
	for _, f := range fields {
		v, ok := byField[f.ID]
		switch {
		case ok && v.Status != model.ReviewApproved:
			problems[f.Key] = reasonNotApproved
		case !ok && f.Required && f.Type != model.FieldFile:
			problems[f.Key] = reasonRequired
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return &model.ValidationError{Message: "every field must be approved first", Fields: problems}
}

// RejectStep sends a CLIENT step back to the client with a reason.
func (e *Engine) RejectStep(ctx context.Context, p model.Principal, instanceID uint64, reason string, ifMatch int64) (model.StepInstance, error) {
	if err := requireStaff(p); err != nil {
		return model.StepInstance{}, err
	}
	reason, err := requireReason(reason)
	if err != nil {
		return model.StepInstance{}, err
	}
	var (
		out  model.StepInstance
		note *model.Notification
	)
	err = e.store.WithTx(ctx, func(tx model.Store) error {
		note = nil
		sc, err := loadStep(ctx, tx, p, instanceID)
		if err != nil {
			return err
		}
		if err := mutable(sc.dossier); err != nil {
			return err
		}
		if sc.step.Type == model.StepAdmin {
			return model.Invalid("step %s is completed by staff and cannot be rejected", sc.step.Code)
		}
		si := sc.instance
		if si.ValidationStatus == model.ValidationRejected {
			out = si
			return nil
		}
		if !si.ValidationStatus.AwaitingDecision() {
			return model.Conflictf("step instance %d is %s and not awaiting review", instanceID, si.ValidationStatus)
		}
		if err := checkVersion(ifMatch, si.Version, "step instance", instanceID); err != nil {
			return err
		}
		now := e.clock()
		si.ValidationStatus = model.ValidationRejected
		si.RejectionReason = ptr(reason)
		si.ValidatedBy = ptr(p.UserID)
		si.ValidatedAt = &now
		if err := tx.UpdateStepInstance(ctx, &si); err != nil {
			return err
		}
		out = si
		note = &model.Notification{
			UserID:    sc.dossier.OwnerID,
			DossierID: ptr(sc.dossier.ID),
			Kind:      model.NotifyStepRejected,
			Title:     fmt.Sprintf("%s needs changes", sc.step.Label),
			Body:      reason,
		}
		return nil
	})
	if err != nil {
		return model.StepInstance{}, err
	}
	if note != nil {
		e.notify(ctx, *note)
		e.log.Info("step rejected", zap.Uint64("instance_id", instanceID), zap.Uint64("user_id", p.UserID))
	}
	return out, nil
}

// CompleteStep completes an ADMIN step.
func (e *Engine) CompleteStep(ctx context.Context, p model.Principal, instanceID uint64) (model.StepInstance, error) {
	if err := requireStaff(p); err != nil {
		return model.StepInstance{}, err
	}
	var out model.StepInstance
	err := e.store.WithTx(ctx, func(tx model.Store) error {
		sc, err := loadStep(ctx, tx, p, instanceID)
		if err != nil {
			return err
		}
		if err := mutable(sc.dossier); err != nil {
			return err
		}
		if sc.step.Type != model.StepAdmin {
			return model.Invalid("step %s is a client step; approve its fields instead", sc.step.Code)
		}
		out, err = e.completeInTx(ctx, tx, p, sc)
		return err
	})
	return out, err
}

func (e *Engine) completeInTx(ctx context.Context, tx model.Store, p model.Principal, sc stepContext) (model.StepInstance, error) {
	si := sc.instance
	if si.Completed() && si.ValidationStatus == model.ValidationApproved {
		return si, nil
	}
	now := e.clock()
	if si.StartedAt == nil {
		si.StartedAt = &now
	}
	if si.CompletedAt == nil {
		si.CompletedAt = &now
	}
	si.ValidationStatus = model.ValidationApproved
	si.ValidatedBy = ptr(p.UserID)
	si.ValidatedAt = &now
	if err := tx.UpdateStepInstance(ctx, &si); err != nil {
		return model.StepInstance{}, err
	}
	if err := e.refreshCompletion(ctx, tx, sc.dossier.ID); err != nil {
		return model.StepInstance{}, err
	}
	e.log.Info("staff step completed", zap.Uint64("instance_id", si.ID), zap.Uint64("user_id", p.UserID))
	return si, nil
}
