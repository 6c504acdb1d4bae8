package workflow

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/iliyamo/dossier-workflow/internal/model"
)

// dossierFor loads a dossier the principal may see.  A foreign dossier is
// reported exactly like a missing one.
func dossierFor(ctx context.Context, st model.Store, p model.Principal, id uint64) (model.Dossier, error) {
	d, err := st.GetDossier(ctx, id)
	if err != nil {
		return model.Dossier{}, err
	}
	if !p.Role.IsStaff() && d.OwnerID != p.UserID {
		return model.Dossier{}, model.NotFoundf("dossier %d", id)
	}
	return d, nil
}

func requireStaff(p model.Principal) error {
	if !p.Role.IsStaff() {
		return fmt.Errorf("%w: staff only", model.ErrForbidden)
	}
	return nil
}

func requireAdmin(p model.Principal) error {
	if p.Role != model.RoleAdmin {
		return fmt.Errorf("%w: admin only", model.ErrForbidden)
	}
	return nil
}

// mutable rejects writes to a frozen dossier.
func mutable(d model.Dossier) error {
	if d.Status.Terminal() {
		return model.Conflictf("dossier %d is %s", d.ID, d.Status)
	}
	return nil
}

// checkVersion enforces an If-Match precondition; 0 means unconditional.
func checkVersion(want, have int64, what string, id uint64) error {
	if want != 0 && want != have {
		return model.Conflictf("%s %d is at version %d, not %d", what, id, have, want)
	}
	return nil
}

func requireReason(reason string) (string, error) {
	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) < minReasonLength {
		return "", &model.ValidationError{
			Message: fmt.Sprintf("a reason of at least %d characters is required", minReasonLength),
			Fields:  map[string]string{"reason": "too_short"},
		}
	}
	return reason, nil
}

func audit(p model.Principal, d model.Dossier, instanceID *uint64, action, detail string) *model.AuditEntry {
	return &model.AuditEntry{
		DossierID:      d.ID,
		StepInstanceID: instanceID,
		ActorID:        p.UserID,
		ActorRole:      p.Role,
		Action:         action,
		Detail:         detail,
	}
}

// stepContext is a step instance with the dossier and step it belongs to.
type stepContext struct {
	dossier  model.Dossier
	instance model.StepInstance
	step     model.Step
}

func loadStep(ctx context.Context, st model.Store, p model.Principal, instanceID uint64) (stepContext, error) {
	si, err := st.GetStepInstance(ctx, instanceID)
	if err != nil {
		return stepContext{}, err
	}
	d, err := dossierFor(ctx, st, p, si.DossierID)
	if err != nil {
		return stepContext{}, err
	}
	step, err := st.GetStep(ctx, si.StepID)
	if err != nil {
		return stepContext{}, err
	}
	return stepContext{dossier: d, instance: si, step: step}, nil
}

// productStep finds the configuration binding stepID into productID.
func productStep(ctx context.Context, st model.Store, productID, stepID uint64) (model.ProductStep, error) {
	steps, err := st.ListProductSteps(ctx, productID)
	if err != nil {
		return model.ProductStep{}, err
	}
	for _, ps := range steps {
		if ps.StepID == stepID {
			return ps, nil
		}
	}
	return model.ProductStep{}, model.NotFoundf("step %d is not part of product %d", stepID, productID)
}

func ptr[T any](v T) *T { return &v }
