package workflow

import (
	"errors"
	"sync"
	"testing"

	"github.com/iliyamo/dossier-workflow/internal/model"
)

func TestProgressAgainstConfiguredAndMaterializedSteps(t *testing.T) {
	f := newFixture(t)

	si := f.submitIdentity()
	if si.ValidationStatus != model.ValidationSubmitted {
		t.Fatalf("expected SUBMITTED, got %s", si.ValidationStatus)
	}
	f.approveAll(si.ID)
	approved, err := f.engine.ApproveStep(f.ctx, f.agent, si.ID, 0)
	if err != nil {
		t.Fatalf("approve step: %v", err)
	}
	if approved.ValidationStatus != model.ValidationApproved || approved.CompletedAt == nil {
		t.Fatalf("expected approved and completed instance, got %+v", approved)
	}

	got, err := f.engine.Progress(f.ctx, f.client, f.dossier.ID)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	want := Progress{Completed: 1, Materialized: 1, Configured: 2, Percentage: 50, MaterializedPercentage: 100}
	if got != want {
		t.Fatalf("progress = %+v, want %+v", got, want)
	}

	f.advance(f.company)
	got, err = f.engine.Progress(f.ctx, f.client, f.dossier.ID)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if got.Percentage != 50 || got.MaterializedPercentage != 50 {
		t.Fatalf("after visiting COMPANY: %+v", got)
	}
}

func TestGetOrCreateStepInstanceIsUnique(t *testing.T) {
	f := newFixture(t)

	const workers = 8
	ids := make([]uint64, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			si, err := f.engine.GetOrCreateStepInstance(f.ctx, f.client, f.dossier.ID, f.company.ID)
			ids[i], errs[i] = si.ID, err
		}(i)
	}
	wg.Wait()
	for i := range ids {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("worker %d got instance %d, want %d", i, ids[i], ids[0])
		}
	}
	instances, _ := f.store.ListStepInstances(f.ctx, f.dossier.ID)
	if len(instances) != 1 {
		t.Fatalf("expected one instance, got %d", len(instances))
	}
}

func TestGetOrCreateRejectsUnconfiguredStep(t *testing.T) {
	f := newFixture(t)
	stray := model.Step{Code: "STRAY", Label: "Stray", Type: model.StepClient}
	f.must(f.store.CreateStep(f.ctx, &stray))

	_, err := f.engine.GetOrCreateStepInstance(f.ctx, f.client, f.dossier.ID, stray.ID)
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAdvanceToMovesCurrentPointerFreely(t *testing.T) {
	f := newFixture(t)

	company := f.advance(f.company)
	identity := f.advance(f.identity)
	if identity.StartedAt == nil || company.StartedAt == nil {
		t.Fatal("advancing must mark the instance started")
	}
	d, err := f.store.GetDossier(f.ctx, f.dossier.ID)
	if err != nil {
		t.Fatalf("get dossier: %v", err)
	}
	if d.CurrentStepInstanceID == nil || *d.CurrentStepInstanceID != identity.ID {
		t.Fatalf("current step = %v, want %d", d.CurrentStepInstanceID, identity.ID)
	}
}

func TestSubmitRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		values map[string]any
		key    string
		reason string
	}{
		{"unknown key", map[string]any{"nickname": "ada"}, "nickname", reasonUnknownField},
		{"file key", map[string]any{"id_card": "scan.pdf"}, "id_card", reasonFileField},
		{"short name", map[string]any{"full_name": "A", "email": "a@b.io"}, "full_name", reasonTooShort},
		{"bad email", map[string]any{"full_name": "Ada", "email": "ada.example.com"}, "email", reasonInvalidEmail},
		{"bad phone", map[string]any{"full_name": "Ada", "email": "a@b.io", "phone": "call me"}, "phone", reasonInvalidPhone},
		{"name not a string", map[string]any{"full_name": 42, "email": "a@b.io"}, "full_name", reasonNotString},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			si := f.advance(f.identity)
			_, err := f.engine.Submit(f.ctx, f.client, si.ID, tc.values, 0)
			if got := fieldReasons(t, err)[tc.key]; got != tc.reason {
				t.Fatalf("reason for %s = %q, want %q", tc.key, got, tc.reason)
			}
			after := f.instance(si.ID)
			if after.ValidationStatus != model.ValidationDraft || after.Version != si.Version {
				t.Fatalf("failed submit changed the instance: %+v", after)
			}
			if values, _ := f.store.ListFieldValues(f.ctx, si.ID); len(values) != 0 {
				t.Fatalf("failed submit stored %d values", len(values))
			}
		})
	}
}

func TestSubmitMergesDraftBeforeRequiredCheck(t *testing.T) {
	f := newFixture(t)
	si := f.advance(f.identity)

	_, err := f.engine.Submit(f.ctx, f.client, si.ID, map[string]any{"full_name": "Ada Lovelace"}, 0)
	if got := fieldReasons(t, err)["email"]; got != reasonRequired {
		t.Fatalf("email reason = %q, want required", got)
	}

	if _, err := f.engine.SaveDraft(f.ctx, f.client, si.ID, map[string]any{"email": "ada@example.com"}); err != nil {
		t.Fatalf("save draft: %v", err)
	}
	if got := f.instance(si.ID).ValidationStatus; got != model.ValidationDraft {
		t.Fatalf("draft must stay DRAFT, got %s", got)
	}
	out, err := f.engine.Submit(f.ctx, f.client, si.ID, map[string]any{"full_name": "Ada Lovelace"}, 0)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if out.ValidationStatus != model.ValidationSubmitted {
		t.Fatalf("expected SUBMITTED, got %s", out.ValidationStatus)
	}
}

func TestSubmitIfMatch(t *testing.T) {
	f := newFixture(t)
	si := f.advance(f.identity)
	values := map[string]any{"full_name": "Ada Lovelace", "email": "ada@example.com"}

	if _, err := f.engine.Submit(f.ctx, f.client, si.ID, values, si.Version+5); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected conflict for stale If-Match, got %v", err)
	}
	if _, err := f.engine.Submit(f.ctx, f.client, si.ID, values, si.Version); err != nil {
		t.Fatalf("submit with current version: %v", err)
	}
}

func TestEditsLockedUnderReview(t *testing.T) {
	f := newFixture(t)
	si := f.submitIdentity()

	reviewed, err := f.engine.StartReview(f.ctx, f.agent, si.ID, 0)
	if err != nil {
		t.Fatalf("start review: %v", err)
	}
	if reviewed.AssignedTo == nil || *reviewed.AssignedTo != f.agent.UserID {
		t.Fatalf("reviewer should be assigned, got %v", reviewed.AssignedTo)
	}
	if _, err := f.engine.Submit(f.ctx, f.client, si.ID, map[string]any{"full_name": "Grace Hopper"}, 0); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("submit under review: expected conflict, got %v", err)
	}
	if _, err := f.engine.SaveDraft(f.ctx, f.client, si.ID, map[string]any{"full_name": "Grace Hopper"}); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("draft under review: expected conflict, got %v", err)
	}
}

func TestApproveStepRequiresEveryFieldApproved(t *testing.T) {
	f := newFixture(t)
	si := f.submitIdentity()

	if _, err := f.engine.ApproveField(f.ctx, f.agent, si.ID, f.fields["full_name"].ID, 0); err != nil {
		t.Fatalf("approve field: %v", err)
	}
	before := f.instance(si.ID)

	_, err := f.engine.ApproveStep(f.ctx, f.agent, si.ID, 0)
	if got := fieldReasons(t, err)["email"]; got != reasonNotApproved {
		t.Fatalf("email reason = %q, want %q", got, reasonNotApproved)
	}
	after := f.instance(si.ID)
	if after.ValidationStatus != model.ValidationSubmitted || after.CompletedAt != nil || after.Version != before.Version {
		t.Fatalf("failed approval changed the instance: %+v", after)
	}
}

func TestApproveFieldIsIdempotent(t *testing.T) {
	f := newFixture(t)
	si := f.submitIdentity()
	id := f.fields["email"].ID

	if _, err := f.engine.ApproveField(f.ctx, f.agent, si.ID, id, 0); err != nil {
		t.Fatalf("approve: %v", err)
	}
	v1 := f.instance(si.ID).Version
	if _, err := f.engine.ApproveField(f.ctx, f.agent, si.ID, id, 0); err != nil {
		t.Fatalf("approve again: %v", err)
	}
	if v2 := f.instance(si.ID).Version; v2 != v1 {
		t.Fatalf("repeated approval bumped version %d -> %d", v1, v2)
	}
	if _, err := f.engine.ApproveField(f.ctx, f.client, si.ID, id, 0); !errors.Is(err, model.ErrForbidden) {
		t.Fatalf("client approval: expected forbidden, got %v", err)
	}
}

func TestRejectAndResubmitCycle(t *testing.T) {
	f := newFixture(t)
	si := f.submitIdentity()

	if _, err := f.engine.ApproveField(f.ctx, f.agent, si.ID, f.fields["full_name"].ID, 0); err != nil {
		t.Fatalf("approve field: %v", err)
	}
	if _, err := f.engine.RejectField(f.ctx, f.agent, si.ID, f.fields["email"].ID, "too short", 0); err == nil {
		t.Fatal("a reason under ten characters must be refused")
	}
	if _, err := f.engine.RejectField(f.ctx, f.agent, si.ID, f.fields["email"].ID, "This mailbox bounces", 0); err != nil {
		t.Fatalf("reject field: %v", err)
	}
	rejected, err := f.engine.RejectStep(f.ctx, f.agent, si.ID, "Please correct the email address", 0)
	if err != nil {
		t.Fatalf("reject step: %v", err)
	}
	if rejected.ValidationStatus != model.ValidationRejected || rejected.RejectionReason == nil {
		t.Fatalf("unexpected rejected instance: %+v", rejected)
	}
	notes := f.sink.all()
	if len(notes) != 1 || notes[0].Kind != model.NotifyStepRejected || notes[0].UserID != f.client.UserID {
		t.Fatalf("unexpected notifications: %+v", notes)
	}

	if _, err := f.engine.Submit(f.ctx, f.client, si.ID, map[string]any{"email": "ada@lovelace.dev"}, 0); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("plain submit of a rejected step: expected conflict, got %v", err)
	}
	_, err = f.engine.Resubmit(f.ctx, f.client, si.ID, map[string]any{"full_name": "Augusta Ada", "email": "ada@lovelace.dev"}, 0)
	if got := fieldReasons(t, err)["full_name"]; got != reasonAlreadyApproved {
		t.Fatalf("full_name reason = %q, want %q", got, reasonAlreadyApproved)
	}
	_, err = f.engine.Resubmit(f.ctx, f.client, si.ID, map[string]any{"phone": "06 12 34 56 78"}, 0)
	if got := fieldReasons(t, err)["email"]; got != reasonCorrection {
		t.Fatalf("email reason = %q, want %q", got, reasonCorrection)
	}

	out, err := f.engine.Resubmit(f.ctx, f.client, si.ID, map[string]any{"email": "ada@lovelace.dev"}, 0)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if out.ValidationStatus != model.ValidationSubmitted || out.RejectionReason != nil {
		t.Fatalf("resubmitted instance: %+v", out)
	}
	name := f.value(si.ID, "full_name")
	if name.Status != model.ReviewApproved || name.ReviewedBy == nil {
		t.Fatalf("approved value must be untouched: %+v", name)
	}
	email := f.value(si.ID, "email")
	if email.Status != model.ReviewPending || email.RejectionReason != nil || email.Value != model.TextValue("ada@lovelace.dev") {
		t.Fatalf("corrected value: %+v", email)
	}
}

func TestAdminStepHasNoClientForm(t *testing.T) {
	f := newFixture(t)
	filing := f.addAdminStep()
	si, err := f.engine.GetOrCreateStepInstance(f.ctx, f.client, f.dossier.ID, filing.ID)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if _, err := f.engine.Submit(f.ctx, f.client, si.ID, nil, 0); err == nil {
		t.Fatal("submitting a staff step must fail")
	}
	if _, err := f.engine.RejectStep(f.ctx, f.agent, si.ID, "Not applicable here", 0); err == nil {
		t.Fatal("rejecting a staff step must fail")
	}
	done, err := f.engine.ApproveStep(f.ctx, f.agent, si.ID, 0)
	if err != nil {
		t.Fatalf("approve admin step: %v", err)
	}
	if done.CompletedAt == nil || done.ValidationStatus != model.ValidationApproved {
		t.Fatalf("admin step should be completed: %+v", done)
	}
}

func TestOtherClientsSeeNothing(t *testing.T) {
	f := newFixture(t)
	si := f.submitIdentity()

	checks := map[string]error{}
	_, checks["workflow"] = f.engine.Workflow(f.ctx, f.other, f.dossier.ID)
	_, checks["progress"] = f.engine.Progress(f.ctx, f.other, f.dossier.ID)
	_, checks["detail"] = f.engine.StepDetail(f.ctx, f.other, si.ID)
	_, checks["draft"] = f.engine.SaveDraft(f.ctx, f.other, si.ID, map[string]any{"phone": "0612345678"})
	_, checks["advance"] = f.engine.AdvanceTo(f.ctx, f.other, f.dossier.ID, f.company.ID)
	_, checks["documents"] = f.engine.Documents(f.ctx, f.other, f.dossier.ID)
	for name, err := range checks {
		if !errors.Is(err, model.ErrNotFound) {
			t.Errorf("%s: expected not found, got %v", name, err)
		}
	}
	list, err := f.engine.Dossiers(f.ctx, f.other)
	if err != nil || len(list) != 0 {
		t.Fatalf("other client listing: %v %v", list, err)
	}
}

func TestWorkflowListsConfiguredStepsInOrder(t *testing.T) {
	f := newFixture(t)
	f.advance(f.company)

	wf, err := f.engine.Workflow(f.ctx, f.client, f.dossier.ID)
	if err != nil {
		t.Fatalf("workflow: %v", err)
	}
	if len(wf.Steps) != 2 || wf.Steps[0].Step.Code != "IDENTITY" || wf.Steps[1].Step.Code != "COMPANY" {
		t.Fatalf("unexpected steps: %+v", wf.Steps)
	}
	if wf.Steps[0].Instance != nil || wf.Steps[1].Instance == nil {
		t.Fatal("only COMPANY is materialized")
	}

	detail, err := f.engine.StepDetail(f.ctx, f.client, wf.Steps[1].Instance.ID)
	if err != nil {
		t.Fatalf("step detail: %v", err)
	}
	if len(detail.Fields) != 4 || detail.Fields[0].Key != "company_name" {
		t.Fatalf("unexpected fields: %+v", detail.Fields)
	}
}
