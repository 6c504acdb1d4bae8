package workflow

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/iliyamo/dossier-workflow/internal/model"
)

// Dossiers lists the caller's dossiers, or every dossier for staff.
func (e *Engine) Dossiers(ctx context.Context, p model.Principal) ([]model.Dossier, error) {
	f := model.DossierFilter{}
	if !p.Role.IsStaff() {
		f.OwnerID = p.UserID
	}
	return e.store.ListDossiers(ctx, f)
}

// Workflow returns the dossier with its configured steps in order.
func (e *Engine) Workflow(ctx context.Context, p model.Principal, dossierID uint64) (DossierWorkflow, error) {
	d, err := dossierFor(ctx, e.store, p, dossierID)
	if err != nil {
		return DossierWorkflow{}, err
	}
	configured, err := e.store.ListProductSteps(ctx, d.ProductID)
	if err != nil {
		return DossierWorkflow{}, err
	}
	instances, err := e.store.ListStepInstances(ctx, d.ID)
	if err != nil {
		return DossierWorkflow{}, err
	}
	byStep := make(map[uint64]model.StepInstance, len(instances))
	for _, si := range instances {
		byStep[si.StepID] = si
	}
	out := DossierWorkflow{
		Dossier:  d,
		Steps:    make([]WorkflowStep, 0, len(configured)),
		Progress: ComputeProgress(configured, instances),
	}
	for _, ps := range configured {
		step, err := e.store.GetStep(ctx, ps.StepID)
		if err != nil {
			return DossierWorkflow{}, err
		}
		ws := WorkflowStep{Position: ps.Position, Step: step}
		if si, ok := byStep[ps.StepID]; ok {
			ws.Instance = &si
		}
		out.Steps = append(out.Steps, ws)
	}
	return out, nil
}

// GetOrCreateStepInstance returns the instance of stepID in the dossier,
// creating a DRAFT one on first access.
func (e *Engine) GetOrCreateStepInstance(ctx context.Context, p model.Principal, dossierID, stepID uint64) (model.StepInstance, error) {
	d, err := dossierFor(ctx, e.store, p, dossierID)
	if err != nil {
		return model.StepInstance{}, err
	}
	return e.getOrCreate(ctx, d, stepID)
}

func (e *Engine) getOrCreate(ctx context.Context, d model.Dossier, stepID uint64) (model.StepInstance, error) {
	if _, err := productStep(ctx, e.store, d.ProductID, stepID); err != nil {
		return model.StepInstance{}, err
	}
	si, err := e.store.FindStepInstance(ctx, d.ID, stepID)
	if err == nil || !errors.Is(err, model.ErrNotFound) {
		return si, err
	}
	if err := mutable(d); err != nil {
		return model.StepInstance{}, err
	}
	si = model.StepInstance{
		DossierID:        d.ID,
		StepID:           stepID,
		ValidationStatus: model.ValidationDraft,
		CreatedAt:        e.clock(),
	}
	err = e.store.CreateStepInstance(ctx, &si)
	if errors.Is(err, model.ErrConflict) {
		// Lost the race on (dossier, step); the winner's row is the instance.
		return e.store.FindStepInstance(ctx, d.ID, stepID)
	}
	if err != nil {
		return model.StepInstance{}, err
	}
	e.log.Debug("step instance created",
		zap.Uint64("dossier_id", d.ID), zap.Uint64("step_id", stepID), zap.Uint64("instance_id", si.ID))
	return si, nil
}

// AdvanceTo makes stepID the dossier's current step.  Any configured step
// may be visited, in any order.
func (e *Engine) AdvanceTo(ctx context.Context, p model.Principal, dossierID, stepID uint64) (model.StepInstance, error) {
	d, err := dossierFor(ctx, e.store, p, dossierID)
	if err != nil {
		return model.StepInstance{}, err
	}
	if err := mutable(d); err != nil {
		return model.StepInstance{}, err
	}
	si, err := e.getOrCreate(ctx, d, stepID)
	if err != nil {
		return model.StepInstance{}, err
	}
	err = e.withRetry(ctx, func(tx model.Store) error {
		cur, err := tx.GetStepInstance(ctx, si.ID)
		if err != nil {
			return err
		}
		if cur.StartedAt == nil {
			cur.StartedAt = ptr(e.clock())
			if err := tx.UpdateStepInstance(ctx, &cur); err != nil {
				return err
			}
		}
		locked, err := tx.LockDossier(ctx, d.ID)
		if err != nil {
			return err
		}
		if err := mutable(locked); err != nil {
			return err
		}
		if locked.CurrentStepInstanceID == nil || *locked.CurrentStepInstanceID != cur.ID {
			locked.CurrentStepInstanceID = ptr(cur.ID)
			if err := tx.UpdateDossier(ctx, &locked); err != nil {
				return err
			}
		}
		si = cur
		return nil
	})
	return si, err
}

// StepDetail returns an instance with its fields, values and documents.
func (e *Engine) StepDetail(ctx context.Context, p model.Principal, instanceID uint64) (StepDetail, error) {
	sc, err := loadStep(ctx, e.store, p, instanceID)
	if err != nil {
		return StepDetail{}, err
	}
	out := StepDetail{Instance: sc.instance, Step: sc.step}
	if out.Fields, err = e.store.ListStepFields(ctx, sc.step.ID, sc.dossier.ProductID); err != nil {
		return StepDetail{}, err
	}
	if out.Values, err = e.store.ListFieldValues(ctx, sc.instance.ID); err != nil {
		return StepDetail{}, err
	}
	docs, err := e.store.ListDocuments(ctx, sc.dossier.ID)
	if err != nil {
		return StepDetail{}, err
	}
	for _, doc := range docs {
		if doc.StepInstanceID != nil && *doc.StepInstanceID == sc.instance.ID {
			out.Documents = append(out.Documents, doc)
		}
	}
	ps, err := productStep(ctx, e.store, sc.dossier.ProductID, sc.step.ID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		// Step was unbound from the product after materializing.
	case err != nil:
		return StepDetail{}, err
	default:
		if out.RequiredDocumentTypes, err = e.store.ListRequiredDocumentTypes(ctx, ps.ID); err != nil {
			return StepDetail{}, err
		}
	}
	return out, nil
}

// SaveDraft stores the provided values without submitting.
func (e *Engine) SaveDraft(ctx context.Context, p model.Principal, instanceID uint64, values map[string]any) (model.StepInstance, error) {
	var out model.StepInstance
	err := e.store.WithTx(ctx, func(tx model.Store) error {
		sc, fields, err := e.editableStep(ctx, tx, p, instanceID)
		if err != nil {
			return err
		}
		switch sc.instance.ValidationStatus {
		case model.ValidationDraft, model.ValidationSubmitted:
		default:
			return model.Conflictf("step instance %d is %s and locked for editing", instanceID, sc.instance.ValidationStatus)
		}
		parsed, verr := parseSubmission(fields, values)
		if verr != nil {
			return verr
		}
		if err := e.writeValues(ctx, tx, sc.instance.ID, fields, parsed); err != nil {
			return err
		}
		si := sc.instance
		if si.StartedAt == nil {
			si.StartedAt = ptr(e.clock())
		}
		if err := tx.UpdateStepInstance(ctx, &si); err != nil {
			return err
		}
		out = si
		return nil
	})
	return out, err
}

// Submit validates the values, merges them with what is stored and moves
// the instance to SUBMITTED.
func (e *Engine) Submit(ctx context.Context, p model.Principal, instanceID uint64, values map[string]any, ifMatch int64) (model.StepInstance, error) {
	var out model.StepInstance
	err := e.store.WithTx(ctx, func(tx model.Store) error {
		sc, fields, err := e.editableStep(ctx, tx, p, instanceID)
		if err != nil {
			return err
		}
		if err := checkVersion(ifMatch, sc.instance.Version, "step instance", instanceID); err != nil {
			return err
		}
		switch sc.instance.ValidationStatus {
		case model.ValidationDraft, model.ValidationSubmitted:
		case model.ValidationRejected:
			return model.Conflictf("step instance %d was rejected; resubmit the corrected fields", instanceID)
		default:
			return model.Conflictf("step instance %d is %s and locked for editing", instanceID, sc.instance.ValidationStatus)
		}
		parsed, verr := parseSubmission(fields, values)
		if verr != nil {
			return verr
		}
		stored, err := tx.ListFieldValues(ctx, instanceID)
		if err != nil {
			return err
		}
		if verr := missingRequired(fields, stored, parsed); verr != nil {
			return verr
		}
		if err := e.writeValues(ctx, tx, instanceID, fields, parsed); err != nil {
			return err
		}
		si := sc.instance
		si.ValidationStatus = model.ValidationSubmitted
		si.RejectionReason = nil
		if si.StartedAt == nil {
			si.StartedAt = ptr(e.clock())
		}
		if err := tx.UpdateStepInstance(ctx, &si); err != nil {
			return err
		}
		out = si
		return nil
	})
	if err == nil {
		e.log.Info("step submitted", zap.Uint64("instance_id", instanceID), zap.Uint64("user_id", p.UserID))
	}
	return out, err
}

// Resubmit corrects a REJECTED instance.  Approved values are frozen and
// every rejected value must be replaced.
func (e *Engine) Resubmit(ctx context.Context, p model.Principal, instanceID uint64, values map[string]any, ifMatch int64) (model.StepInstance, error) {
	var out model.StepInstance
	err := e.store.WithTx(ctx, func(tx model.Store) error {
		sc, fields, err := e.editableStep(ctx, tx, p, instanceID)
		if err != nil {
			return err
		}
		if err := checkVersion(ifMatch, sc.instance.Version, "step instance", instanceID); err != nil {
			return err
		}
		if sc.instance.ValidationStatus != model.ValidationRejected {
			return model.Conflictf("step instance %d is %s, not REJECTED", instanceID, sc.instance.ValidationStatus)
		}
		parsed, verr := parseSubmission(fields, values)
		if verr != nil {
			return verr
		}
		stored, err := tx.ListFieldValues(ctx, instanceID)
		if err != nil {
			return err
		}
		storedBy := make(map[uint64]model.StepFieldValue, len(stored))
		for _, v := range stored {
			storedBy[v.StepFieldID] = v
		}
		problems := map[string]string{}
		for _, f := range fields {
			v, had := storedBy[f.ID]
			_, given := parsed[f.ID]
			switch {
			case given && had && v.Status == model.ReviewApproved:
				problems[f.Key] = reasonAlreadyApproved
			case !given && had && v.Status == model.ReviewRejected:
				problems[f.Key] = reasonCorrection
			}
		}
		if len(problems) > 0 {
			return &model.ValidationError{Message: "resubmission does not match the review", Fields: problems}
		}
		if verr := missingRequired(fields, stored, parsed); verr != nil {
			return verr
		}
		if err := e.writeValues(ctx, tx, instanceID, fields, parsed); err != nil {
			return err
		}
		si := sc.instance
		si.ValidationStatus = model.ValidationSubmitted
		si.RejectionReason = nil
		if err := tx.UpdateStepInstance(ctx, &si); err != nil {
			return err
		}
		out = si
		return nil
	})
	if err == nil {
		e.log.Info("step resubmitted", zap.Uint64("instance_id", instanceID), zap.Uint64("user_id", p.UserID))
	}
	return out, err
}

// editableStep loads a client-fillable instance of a live dossier with its
// effective fields.
func (e *Engine) editableStep(ctx context.Context, tx model.Store, p model.Principal, instanceID uint64) (stepContext, []model.StepField, error) {
	sc, err := loadStep(ctx, tx, p, instanceID)
	if err != nil {
		return stepContext{}, nil, err
	}
	if err := mutable(sc.dossier); err != nil {
		return stepContext{}, nil, err
	}
	if sc.step.Type == model.StepAdmin {
		return stepContext{}, nil, model.Invalid("step %s is completed by staff and has no form", sc.step.Code)
	}
	fields, err := tx.ListStepFields(ctx, sc.step.ID, sc.dossier.ProductID)
	if err != nil {
		return stepContext{}, nil, err
	}
	return sc, fields, nil
}

// writeValues upserts parsed values as PENDING, clearing prior review data,
// in field order.
func (e *Engine) writeValues(ctx context.Context, tx model.Store, instanceID uint64, fields []model.StepField, parsed map[uint64]model.FieldValue) error {
	for _, f := range fields {
		v, ok := parsed[f.ID]
		if !ok {
			continue
		}
		row := model.StepFieldValue{
			StepInstanceID: instanceID,
			StepFieldID:    f.ID,
			Value:          v,
			Status:         model.ReviewPending,
		}
		if err := tx.UpsertFieldValue(ctx, &row); err != nil {
			return err
		}
	}
	return nil
}

func missingRequired(fields []model.StepField, stored []model.StepFieldValue, parsed map[uint64]model.FieldValue) *model.ValidationError {
	present := make(map[uint64]bool, len(stored)+len(parsed))
	for _, v := range stored {
		present[v.StepFieldID] = true
	}
	for id := range parsed {
		present[id] = true
	}
	problems := map[string]string{}
	for _, f := range fields {
		if f.Required && f.Type != model.FieldFile && !present[f.ID] {
			problems[f.Key] = reasonRequired
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return &model.ValidationError{Message: "required fields are missing", Fields: problems}
}
