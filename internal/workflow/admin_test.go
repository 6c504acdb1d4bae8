package workflow

import (
	"errors"
	"strings"
	"testing"

	"github.com/iliyamo/dossier-workflow/internal/model"
)

func TestForceCompleteKeepsValidationStatus(t *testing.T) {
	f := newFixture(t)
	si := f.advance(f.identity)

	if _, err := f.engine.ForceCompleteStep(f.ctx, f.agent, si.ID, "client sent paper forms"); !errors.Is(err, model.ErrForbidden) {
		t.Fatalf("agent force-complete: expected forbidden, got %v", err)
	}
	out, err := f.engine.ForceCompleteStep(f.ctx, f.admin, si.ID, "client sent paper forms")
	if err != nil {
		t.Fatalf("force complete: %v", err)
	}
	if out.CompletedAt == nil || out.ValidationStatus != model.ValidationDraft {
		t.Fatalf("force-completed instance: %+v", out)
	}
	again, err := f.engine.ForceCompleteStep(f.ctx, f.admin, si.ID, "")
	if err != nil || again.Version != out.Version {
		t.Fatalf("second force-complete must be a no-op: %+v %v", again, err)
	}

	trail, err := f.engine.AuditTrail(f.ctx, f.admin, f.dossier.ID)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	var forced int
	for _, e := range trail {
		if e.Action == model.AuditForceComplete {
			forced++
			if e.Detail != "client sent paper forms" || e.ActorID != f.admin.UserID {
				t.Fatalf("audit entry: %+v", e)
			}
		}
	}
	if forced != 1 {
		t.Fatalf("expected one force-complete audit entry, got %d", forced)
	}

	p, err := f.engine.Progress(f.ctx, f.client, f.dossier.ID)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if p.Completed != 1 || p.Percentage != 50 {
		t.Fatalf("progress after force-complete: %+v", p)
	}
}

func TestDossierCompletedWhenEveryStepIs(t *testing.T) {
	f := newFixture(t)
	identity := f.advance(f.identity)
	company := f.advance(f.company)

	if _, err := f.engine.ForceCompleteStep(f.ctx, f.admin, identity.ID, "done offline"); err != nil {
		t.Fatalf("force identity: %v", err)
	}
	if d, _ := f.store.GetDossier(f.ctx, f.dossier.ID); d.CompletedAt != nil {
		t.Fatal("dossier completed too early")
	}
	if _, err := f.engine.ForceCompleteStep(f.ctx, f.admin, company.ID, "done offline"); err != nil {
		t.Fatalf("force company: %v", err)
	}
	d, err := f.store.GetDossier(f.ctx, f.dossier.ID)
	if err != nil {
		t.Fatalf("get dossier: %v", err)
	}
	if d.CompletedAt == nil {
		t.Fatal("dossier should be completed")
	}
	if d.Status != model.DossierQualification {
		t.Fatalf("completion must not touch the business status, got %s", d.Status)
	}
}

func TestCancelDossierFreezesIt(t *testing.T) {
	f := newFixture(t)
	si := f.advance(f.identity)

	if _, err := f.engine.CancelDossier(f.ctx, f.agent, f.dossier.ID, "Client asked for a refund"); !errors.Is(err, model.ErrForbidden) {
		t.Fatalf("agent cancel: expected forbidden, got %v", err)
	}
	if _, err := f.engine.CancelDossier(f.ctx, f.admin, f.dossier.ID, "refund"); fieldReasons(t, err)["reason"] != "too_short" {
		t.Fatalf("short reason: %v", err)
	}
	d, err := f.engine.CancelDossier(f.ctx, f.admin, f.dossier.ID, "Client asked for a refund")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if d.Status != model.DossierClosed || d.ClosedReason == nil {
		t.Fatalf("cancelled dossier: %+v", d)
	}
	again, err := f.engine.CancelDossier(f.ctx, f.admin, f.dossier.ID, "Client asked for a refund")
	if err != nil || again.Version != d.Version {
		t.Fatalf("second cancel must be a no-op: %+v %v", again, err)
	}
	notes := f.sink.all()
	if len(notes) != 1 || notes[0].Kind != model.NotifyDossierCancelled {
		t.Fatalf("expected one cancellation notice, got %+v", notes)
	}

	if _, err := f.engine.Submit(f.ctx, f.client, si.ID, map[string]any{"full_name": "Ada"}, 0); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("submit on closed dossier: expected conflict, got %v", err)
	}
	if _, err := f.upload(f.client, nil, "passport.pdf", "scan"); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("upload on closed dossier: expected conflict, got %v", err)
	}
	if _, err := f.engine.SetDossierStatus(f.ctx, f.admin, f.dossier.ID, model.DossierInProgress); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("reopening: expected conflict, got %v", err)
	}
}

func TestSetDossierStatus(t *testing.T) {
	f := newFixture(t)

	d, err := f.engine.SetDossierStatus(f.ctx, f.agent, f.dossier.ID, model.DossierError)
	if err != nil || d.Status != model.DossierError {
		t.Fatalf("set ERROR: %+v %v", d, err)
	}
	if _, err := f.engine.SetDossierStatus(f.ctx, f.agent, f.dossier.ID, model.DossierInProgress); !errors.Is(err, model.ErrForbidden) {
		t.Fatalf("agent leaving ERROR: expected forbidden, got %v", err)
	}
	if d, err = f.engine.SetDossierStatus(f.ctx, f.admin, f.dossier.ID, model.DossierInProgress); err != nil {
		t.Fatalf("admin leaving ERROR: %v", err)
	}
	if _, err := f.engine.SetDossierStatus(f.ctx, f.admin, f.dossier.ID, model.DossierClosed); err == nil {
		t.Fatal("CLOSED must only be reachable by cancelling")
	}
	if _, err := f.engine.SetDossierStatus(f.ctx, f.admin, f.dossier.ID, "SHIPPED"); err == nil {
		t.Fatal("unknown status must be refused")
	}
	if _, err := f.engine.SetDossierStatus(f.ctx, f.client, f.dossier.ID, model.DossierCompleted); !errors.Is(err, model.ErrForbidden) {
		t.Fatalf("client status change: expected forbidden, got %v", err)
	}

	trail, _ := f.engine.AuditTrail(f.ctx, f.admin, f.dossier.ID)
	var changes []string
	for _, e := range trail {
		if e.Action == model.AuditStatusChange {
			changes = append(changes, e.Detail)
		}
	}
	if strings.Join(changes, ",") != "QUALIFICATION -> ERROR,ERROR -> IN_PROGRESS" {
		t.Fatalf("status audit: %v", changes)
	}
}

func TestDeliverDocumentsCompletesStaffStep(t *testing.T) {
	f := newFixture(t)
	filing := f.addAdminStep()
	si, err := f.engine.GetOrCreateStepInstance(f.ctx, f.agent, f.dossier.ID, filing.ID)
	if err != nil {
		t.Fatalf("instance: %v", err)
	}
	certificate := model.DocumentType{Code: "CERTIFICATE", Label: "Certificate of formation"}
	f.must(f.store.CreateDocumentType(f.ctx, &certificate))

	results, err := f.engine.DeliverDocuments(f.ctx, f.agent, Delivery{
		DossierID:      f.dossier.ID,
		StepInstanceID: &si.ID,
		Message:        "Your company is registered.",
		Files: []DeliveryFile{
			{DocumentTypeID: certificate.ID, FileName: "certificate.pdf", Body: strings.NewReader("%PDF certificate")},
			{DocumentTypeID: f.passport.ID, FileName: "passport-copy.png", Body: strings.NewReader("png bytes")},
		},
	})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Version.UploaderType != model.UploaderAgent || r.Document.StepInstanceID == nil {
			t.Fatalf("delivered version: %+v in %+v", r.Version, r.Document)
		}
	}
	done := f.instance(si.ID)
	if done.CompletedAt == nil || done.ValidationStatus != model.ValidationApproved {
		t.Fatalf("staff step after delivery: %+v", done)
	}
	notes := f.sink.all()
	if len(notes) != 1 || notes[0].Kind != model.NotifyDocumentsDelivered || notes[0].Body != "Your company is registered." {
		t.Fatalf("expected one delivery notice, got %+v", notes)
	}
	if _, err := f.engine.DeliverDocuments(f.ctx, f.client, Delivery{DossierID: f.dossier.ID}); !errors.Is(err, model.ErrForbidden) {
		t.Fatalf("client delivery: expected forbidden, got %v", err)
	}
}

func deliveryAudits(t *testing.T, f *fixture) []model.AuditEntry {
	t.Helper()
	all, err := f.engine.AuditTrail(f.ctx, f.agent, f.dossier.ID)
	if err != nil {
		t.Fatalf("audit trail: %v", err)
	}
	var out []model.AuditEntry
	for _, a := range all {
		if a.Action == model.AuditDelivery {
			out = append(out, a)
		}
	}
	return out
}

func TestDeliverDocumentsChecksEveryFileFirst(t *testing.T) {
	f := newFixture(t)

	results, err := f.engine.DeliverDocuments(f.ctx, f.agent, Delivery{
		DossierID: f.dossier.ID,
		Files: []DeliveryFile{
			{DocumentTypeID: f.passport.ID, FileName: "ok.pdf", Body: strings.NewReader("scan")},
			{DocumentTypeID: f.passport.ID, FileName: "bad.exe", Body: strings.NewReader("MZ")},
		},
	})
	var verr *model.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("nothing should be delivered, got %d results", len(results))
	}
	docs, _ := f.store.ListDocuments(f.ctx, f.dossier.ID)
	if len(docs) != 0 || f.store.VersionCount() != 0 || countBlobs(t, f.blobDir) != 0 {
		t.Fatalf("rejected delivery left state: docs=%d versions=%d blobs=%d",
			len(docs), f.store.VersionCount(), countBlobs(t, f.blobDir))
	}
	if n := len(f.sink.all()); n != 0 {
		t.Fatalf("rejected delivery sent %d notifications", n)
	}
	if a := deliveryAudits(t, f); len(a) != 0 {
		t.Fatalf("rejected delivery audited: %+v", a)
	}
}

func TestDeliverDocumentsRecordsPartialDelivery(t *testing.T) {
	f := newFixture(t)

	// The second file passes the name checks but exceeds the type's size.
	results, err := f.engine.DeliverDocuments(f.ctx, f.agent, Delivery{
		DossierID: f.dossier.ID,
		Files: []DeliveryFile{
			{DocumentTypeID: f.passport.ID, FileName: "ok.pdf", Body: strings.NewReader("scan")},
			{DocumentTypeID: f.passport.ID, FileName: "huge.pdf", Body: strings.NewReader(strings.Repeat("x", 200))},
		},
	})
	if err == nil {
		t.Fatal("expected the oversized file to fail")
	}
	if len(results) != 1 || results[0].Version.FileName != "ok.pdf" {
		t.Fatalf("expected the first file to be kept, got %+v", results)
	}
	audits := deliveryAudits(t, f)
	if len(audits) != 1 || !strings.Contains(audits[0].Detail, "partial") {
		t.Fatalf("expected one partial delivery audit, got %+v", audits)
	}
	notes := f.sink.all()
	if len(notes) != 1 || notes[0].Kind != model.NotifyDocumentsDelivered {
		t.Fatalf("expected the client to hear about the delivered file, got %+v", notes)
	}
	if n := countBlobs(t, f.blobDir); n != 1 {
		t.Fatalf("expected only the committed blob, got %d", n)
	}
}

func TestReassignAgent(t *testing.T) {
	f := newFixture(t)
	si := f.advance(f.identity)
	agentID := f.agent.UserID

	if err := f.engine.ReassignAgent(f.ctx, f.agent, f.dossier.ID, nil, &agentID); !errors.Is(err, model.ErrForbidden) {
		t.Fatalf("agent reassign: expected forbidden, got %v", err)
	}
	if err := f.engine.ReassignAgent(f.ctx, f.admin, f.dossier.ID, nil, &agentID); err != nil {
		t.Fatalf("reassign dossier: %v", err)
	}
	if err := f.engine.ReassignAgent(f.ctx, f.admin, f.dossier.ID, &si.ID, &agentID); err != nil {
		t.Fatalf("reassign instance: %v", err)
	}
	d, _ := f.store.GetDossier(f.ctx, f.dossier.ID)
	if d.AssignedAgentID == nil || *d.AssignedAgentID != agentID {
		t.Fatalf("dossier agent: %v", d.AssignedAgentID)
	}
	if got := f.instance(si.ID).AssignedTo; got == nil || *got != agentID {
		t.Fatalf("instance agent: %v", got)
	}
	if err := f.engine.ReassignAgent(f.ctx, f.admin, f.dossier.ID, nil, nil); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if d, _ := f.store.GetDossier(f.ctx, f.dossier.ID); d.AssignedAgentID != nil {
		t.Fatal("nil agent must clear the assignment")
	}

	mine, err := f.engine.ListDossiers(f.ctx, f.agent, model.DossierFilter{AssignedAgentID: agentID})
	if err != nil || len(mine) != 0 {
		t.Fatalf("filter after clearing: %v %v", mine, err)
	}
}

func TestCreateDossierNeedsActiveProduct(t *testing.T) {
	f := newFixture(t)
	retired := model.Product{Code: "OLD", Name: "Retired", Active: false}
	f.must(f.store.CreateProduct(f.ctx, &retired))

	if _, err := f.engine.CreateDossier(f.ctx, f.agent, NewDossier{OwnerID: 1, ProductID: retired.ID}); err == nil {
		t.Fatal("inactive product must be refused")
	}
	if _, err := f.engine.CreateDossier(f.ctx, f.client, NewDossier{OwnerID: 1, ProductID: f.product.ID}); !errors.Is(err, model.ErrForbidden) {
		t.Fatalf("client create: expected forbidden, got %v", err)
	}
	if f.dossier.Status != model.DossierQualification || f.dossier.Type != "LLC" {
		t.Fatalf("new dossier: %+v", f.dossier)
	}
}
