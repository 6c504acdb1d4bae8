package workflow

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/iliyamo/dossier-workflow/internal/model"
)

// Progress summarizes how far a dossier is.  Percentage is measured against
// the product's configured steps; MaterializedPercentage only against the
// step instances that exist, so unvisited steps do not count.
type Progress struct {
	Completed              int `json:"completed"`
	Materialized           int `json:"materialized"`
	Configured             int `json:"configured"`
	Percentage             int `json:"percentage"`
	MaterializedPercentage int `json:"materialized_percentage"`
}

// ComputeProgress is pure: it derives Progress from the configured steps and
// the materialized instances of one dossier.
func ComputeProgress(configured []model.ProductStep, instances []model.StepInstance) Progress {
	inProduct := make(map[uint64]bool, len(configured))
	for _, ps := range configured {
		inProduct[ps.StepID] = true
	}
	p := Progress{Materialized: len(instances), Configured: len(configured)}
	doneConfigured := 0
	for _, si := range instances {
		if !si.Completed() {
			continue
		}
		p.Completed++
		if inProduct[si.StepID] {
			doneConfigured++
		}
	}
	p.Percentage = percent(doneConfigured, p.Configured)
	p.MaterializedPercentage = percent(p.Completed, p.Materialized)
	return p
}

func percent(n, d int) int {
	if d <= 0 || n <= 0 {
		return 0
	}
	v := int(math.Round(100 * float64(n) / float64(d)))
	return min(v, 100)
}

func (e *Engine) progress(ctx context.Context, st model.Store, d model.Dossier) (Progress, error) {
	configured, err := st.ListProductSteps(ctx, d.ProductID)
	if err != nil {
		return Progress{}, err
	}
	instances, err := st.ListStepInstances(ctx, d.ID)
	if err != nil {
		return Progress{}, err
	}
	return ComputeProgress(configured, instances), nil
}

// Progress reports the completion of a dossier.
func (e *Engine) Progress(ctx context.Context, p model.Principal, dossierID uint64) (Progress, error) {
	d, err := dossierFor(ctx, e.store, p, dossierID)
	if err != nil {
		return Progress{}, err
	}
	return e.progress(ctx, e.store, d)
}

// refreshCompletion stamps the dossier's completed_at once every configured
// step has a completed instance.  It must run inside the transaction that
// completed the last step.
func (e *Engine) refreshCompletion(ctx context.Context, tx model.Store, dossierID uint64) error {
	d, err := tx.LockDossier(ctx, dossierID)
	if err != nil {
		return err
	}
	if d.CompletedAt != nil {
		return nil
	}
	configured, err := tx.ListProductSteps(ctx, d.ProductID)
	if err != nil || len(configured) == 0 {
		return err
	}
	instances, err := tx.ListStepInstances(ctx, d.ID)
	if err != nil {
		return err
	}
	done := make(map[uint64]bool, len(instances))
	for _, si := range instances {
		if si.Completed() {
			done[si.StepID] = true
		}
	}
	for _, ps := range configured {
		if !done[ps.StepID] {
			return nil
		}
	}
	d.CompletedAt = ptr(e.clock())
	if err := tx.UpdateDossier(ctx, &d); err != nil {
		return err
	}
	e.log.Info("dossier completed", zap.Uint64("dossier_id", d.ID))
	return nil
}
