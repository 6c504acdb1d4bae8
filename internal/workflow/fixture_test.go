package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/iliyamo/dossier-workflow/internal/model"
	"github.com/iliyamo/dossier-workflow/internal/storage"
	"github.com/iliyamo/dossier-workflow/internal/workflow/workflowtest"
)

const fileBase = "https://files.test"

type noteSink struct {
	mu    sync.Mutex
	notes []model.Notification
}

func (s *noteSink) add(_ context.Context, n model.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = append(s.notes, n)
}

func (s *noteSink) all() []model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Notification(nil), s.notes...)
}

// fixture is an LLC product with two client steps, IDENTITY and COMPANY,
// and one dossier owned by client.
type fixture struct {
	t       *testing.T
	ctx     context.Context
	store   *workflowtest.Store
	engine  *Engine
	sink    *noteSink
	blobDir string

	client, other, agent, admin model.Principal

	product           model.Product
	identity, company model.Step
	fields            map[string]model.StepField
	passport          model.DocumentType
	dossier           model.Dossier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:       t,
		ctx:     context.Background(),
		store:   workflowtest.New(),
		sink:    &noteSink{},
		blobDir: t.TempDir(),
		client:  model.Principal{UserID: 1, Role: model.RoleClient},
		other:   model.Principal{UserID: 2, Role: model.RoleClient},
		agent:   model.Principal{UserID: 10, Role: model.RoleAgent},
		admin:   model.Principal{UserID: 11, Role: model.RoleAdmin},
		fields:  map[string]model.StepField{},
	}
	blobs, err := storage.NewLocalStore(f.blobDir)
	if err != nil {
		t.Fatalf("blob store: %v", err)
	}
	f.engine = New(f.store, blobs, storage.NewSigner("test-secret"), Options{
		Notifier:    NotifierFunc(f.sink.add),
		FileBaseURL: fileBase,
	})

	f.product = model.Product{Code: "LLC", Name: "LLC formation", Active: true}
	f.must(f.store.CreateProduct(f.ctx, &f.product))
	f.identity = model.Step{Code: "IDENTITY", Label: "Identity", Type: model.StepClient, Position: 1}
	f.company = model.Step{Code: "COMPANY", Label: "Company", Type: model.StepClient, Position: 2}
	f.must(f.store.CreateStep(f.ctx, &f.identity))
	f.must(f.store.CreateStep(f.ctx, &f.company))
	f.bind(f.identity, 1)
	f.bind(f.company, 2)

	two, fifty := 2, 50
	one, thousand := 1.0, 1000.0
	f.addField(model.StepField{StepID: f.identity.ID, Key: "full_name", Label: "Full name", Type: model.FieldText, Required: true, MinLength: &two, MaxLength: &fifty, Position: 1})
	f.addField(model.StepField{StepID: f.identity.ID, Key: "email", Label: "Email", Type: model.FieldEmail, Required: true, Position: 2})
	f.addField(model.StepField{StepID: f.identity.ID, Key: "phone", Label: "Phone", Type: model.FieldPhone, Position: 3})
	f.addField(model.StepField{StepID: f.identity.ID, Key: "id_card", Label: "ID card", Type: model.FieldFile, Required: true, Position: 4})
	f.addField(model.StepField{StepID: f.company.ID, Key: "company_name", Label: "Company name", Type: model.FieldText, Required: true, Position: 1})
	f.addField(model.StepField{StepID: f.company.ID, Key: "shares", Label: "Shares", Type: model.FieldNumber, Required: true, MinValue: &one, MaxValue: &thousand, Position: 2})
	f.addField(model.StepField{StepID: f.company.ID, Key: "activity", Label: "Activity", Type: model.FieldSelect, Options: []string{"consulting", "retail"}, Position: 3})
	f.addField(model.StepField{StepID: f.company.ID, Key: "services", Label: "Services", Type: model.FieldCheckbox, Options: []string{"bank", "ein", "itin"}, Position: 4})

	f.passport = model.DocumentType{Code: "PASSPORT", Label: "Passport", MaxSizeBytes: 64}
	f.must(f.store.CreateDocumentType(f.ctx, &f.passport))

	f.dossier, err = f.engine.CreateDossier(f.ctx, f.admin, NewDossier{OwnerID: f.client.UserID, ProductID: f.product.ID})
	if err != nil {
		t.Fatalf("create dossier: %v", err)
	}
	return f
}

func (f *fixture) must(err error) {
	f.t.Helper()
	if err != nil {
		f.t.Fatalf("setup: %v", err)
	}
}

func (f *fixture) bind(step model.Step, position int) model.ProductStep {
	f.t.Helper()
	ps := model.ProductStep{ProductID: f.product.ID, StepID: step.ID, Position: position}
	f.must(f.store.CreateProductStep(f.ctx, &ps))
	return ps
}

func (f *fixture) addField(sf model.StepField) {
	f.t.Helper()
	f.must(f.store.CreateStepField(f.ctx, &sf))
	f.fields[sf.Key] = sf
}

// addAdminStep appends a staff checkpoint to the product.
func (f *fixture) addAdminStep() model.Step {
	f.t.Helper()
	st := model.Step{Code: "FILING", Label: "State filing", Type: model.StepAdmin, Position: 3}
	f.must(f.store.CreateStep(f.ctx, &st))
	f.bind(st, 3)
	return st
}

func (f *fixture) advance(step model.Step) model.StepInstance {
	f.t.Helper()
	si, err := f.engine.AdvanceTo(f.ctx, f.client, f.dossier.ID, step.ID)
	if err != nil {
		f.t.Fatalf("advance to %s: %v", step.Code, err)
	}
	return si
}

func (f *fixture) submitIdentity() model.StepInstance {
	f.t.Helper()
	si := f.advance(f.identity)
	si, err := f.engine.Submit(f.ctx, f.client, si.ID, map[string]any{
		"full_name": "Ada Lovelace",
		"email":     "ada@example.com",
	}, 0)
	if err != nil {
		f.t.Fatalf("submit identity: %v", err)
	}
	return si
}

func (f *fixture) instance(id uint64) model.StepInstance {
	f.t.Helper()
	si, err := f.store.GetStepInstance(f.ctx, id)
	if err != nil {
		f.t.Fatalf("get instance: %v", err)
	}
	return si
}

func (f *fixture) value(instanceID uint64, key string) model.StepFieldValue {
	f.t.Helper()
	values, err := f.store.ListFieldValues(f.ctx, instanceID)
	if err != nil {
		f.t.Fatalf("list values: %v", err)
	}
	for _, v := range values {
		if v.StepFieldID == f.fields[key].ID {
			return v
		}
	}
	f.t.Fatalf("no value for %s", key)
	return model.StepFieldValue{}
}

func (f *fixture) approveAll(instanceID uint64) {
	f.t.Helper()
	values, err := f.store.ListFieldValues(f.ctx, instanceID)
	if err != nil {
		f.t.Fatalf("list values: %v", err)
	}
	for _, v := range values {
		if _, err := f.engine.ApproveField(f.ctx, f.agent, instanceID, v.StepFieldID, 0); err != nil {
			f.t.Fatalf("approve field %d: %v", v.StepFieldID, err)
		}
	}
}

func (f *fixture) upload(p model.Principal, slotInstance *uint64, name, content string) (UploadResult, error) {
	return f.engine.UploadDocument(f.ctx, p, UploadInput{
		DossierID:      f.dossier.ID,
		DocumentTypeID: f.passport.ID,
		StepInstanceID: slotInstance,
		FileName:       name,
		Body:           strings.NewReader(content),
	})
}

func fieldReasons(t *testing.T, err error) map[string]string {
	t.Helper()
	var verr *model.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	return verr.Fields
}
