package catalog

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/iliyamo/dossier-workflow/internal/model"
	"github.com/iliyamo/dossier-workflow/internal/workflow/workflowtest"
)

func newService(t *testing.T) (*Service, *workflowtest.Store) {
	t.Helper()
	store := workflowtest.New()
	return NewService(store, nil), store
}

func TestSeedDefaultIsIdempotent(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	rep, err := svc.SeedDefault(ctx)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	want := SeedReport{DocumentTypes: 5, Steps: 6, Fields: 15, Products: 1, ProductSteps: 6}
	if rep != want {
		t.Fatalf("first run = %+v, want %+v", rep, want)
	}
	again, err := svc.SeedDefault(ctx)
	if err != nil {
		t.Fatalf("second seed: %v", err)
	}
	if again != (SeedReport{}) {
		t.Fatalf("second run created %+v", again)
	}

	p, err := store.GetProductByCode(ctx, "LLC_FORMATION")
	if err != nil {
		t.Fatalf("product: %v", err)
	}
	wf, err := svc.ProductWorkflow(ctx, p.ID)
	if err != nil {
		t.Fatalf("workflow: %v", err)
	}
	var codes []string
	for _, s := range wf.Steps {
		codes = append(codes, s.Step.Code)
	}
	if got := strings.Join(codes, ","); got != "QUALIFICATION,COMPANY_DETAILS,IDENTITY_DOCUMENTS,STATE_FILING,EIN_APPLICATION,BANK_ACCOUNT" {
		t.Fatalf("step order: %s", got)
	}
	company := wf.Steps[1]
	if len(company.Fields) != 6 || company.Fields[len(company.Fields)-1].Key != "state" {
		t.Fatalf("company fields: %+v", company.Fields)
	}
	docs := wf.Steps[2].DocumentTypes
	if len(docs) != 2 || docs[0].Code != "PASSPORT" || docs[1].Code != "PROOF_OF_ADDRESS" {
		t.Fatalf("identity documents: %+v", docs)
	}
}

func TestParseSeedRejectsUnknownKeys(t *testing.T) {
	_, err := ParseSeed(strings.NewReader("products:\n  - code: X\n    colour: red\n"))
	var verr *model.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestReorderProductSteps(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	p, err := svc.CreateProduct(ctx, model.Product{Code: "itin", Name: "ITIN", Active: true})
	if err != nil {
		t.Fatalf("product: %v", err)
	}
	if p.Code != "ITIN" {
		t.Fatalf("code should be upper-cased, got %s", p.Code)
	}
	var ids []uint64
	for _, code := range []string{"A", "B", "C"} {
		st, err := svc.CreateStep(ctx, model.Step{Code: code, Label: "Step " + code})
		if err != nil {
			t.Fatalf("step: %v", err)
		}
		ps, err := svc.AddProductStep(ctx, p.ID, st.ID, 0)
		if err != nil {
			t.Fatalf("bind: %v", err)
		}
		if ps.Position != len(ids)+1 {
			t.Fatalf("appended at %d", ps.Position)
		}
		ids = append(ids, st.ID)
	}

	if _, err := svc.ReorderProductSteps(ctx, p.ID, []uint64{ids[0], ids[0], ids[1]}); err == nil {
		t.Fatal("duplicate ids must be refused")
	}
	if _, err := svc.ReorderProductSteps(ctx, p.ID, ids[:2]); err == nil {
		t.Fatal("a partial list must be refused")
	}
	reordered, err := svc.ReorderProductSteps(ctx, p.ID, []uint64{ids[2], ids[0], ids[1]})
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	wf, err := svc.ProductWorkflow(ctx, p.ID)
	if err != nil {
		t.Fatalf("workflow: %v", err)
	}
	for i, s := range wf.Steps {
		if s.Position != i+1 || s.Step.ID != reordered[i].StepID {
			t.Fatalf("position %d: %+v", i+1, s)
		}
	}
	if wf.Steps[0].Step.Code != "C" {
		t.Fatalf("first step is %s", wf.Steps[0].Step.Code)
	}
}

func TestAddStepFieldValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	client, err := svc.CreateStep(ctx, model.Step{Code: "FORM", Label: "Form", Type: model.StepClient})
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	staff, err := svc.CreateStep(ctx, model.Step{Code: "CHECK", Label: "Check", Type: model.StepAdmin})
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	five, two := 5, 2

	cases := []struct {
		name  string
		field model.StepField
	}{
		{"admin step", model.StepField{StepID: staff.ID, Key: "x", Label: "X", Type: model.FieldText}},
		{"bad key", model.StepField{StepID: client.ID, Key: "Bad Key", Label: "X", Type: model.FieldText}},
		{"unknown type", model.StepField{StepID: client.ID, Key: "x", Label: "X", Type: "color"}},
		{"select without options", model.StepField{StepID: client.ID, Key: "x", Label: "X", Type: model.FieldSelect}},
		{"text with options", model.StepField{StepID: client.ID, Key: "x", Label: "X", Type: model.FieldText, Options: []string{"a"}}},
		{"inverted lengths", model.StepField{StepID: client.ID, Key: "x", Label: "X", Type: model.FieldText, MinLength: &five, MaxLength: &two}},
		{"bad pattern", model.StepField{StepID: client.ID, Key: "x", Label: "X", Type: model.FieldText, Pattern: "("}},
		{"bad default", model.StepField{StepID: client.ID, Key: "x", Label: "X", Type: model.FieldRadio, Options: []string{"a"}, Default: "b"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.AddStepField(ctx, tc.field); err == nil {
				t.Fatal("expected an error")
			}
		})
	}

	f, err := svc.AddStepField(ctx, model.StepField{StepID: client.ID, Key: "size", Label: "Size", Type: model.FieldCheckbox,
		Options: []string{"s", "m", "l"}, Default: "s,m"})
	if err != nil {
		t.Fatalf("valid field: %v", err)
	}
	if f.Position != 1 {
		t.Fatalf("first field should get position 1, got %d", f.Position)
	}
	if _, err := svc.AddStepField(ctx, model.StepField{StepID: client.ID, Key: "size", Label: "Size", Type: model.FieldText}); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("duplicate key: expected conflict, got %v", err)
	}
}

func TestCreateDocumentTypeNormalizesExtensions(t *testing.T) {
	svc, _ := newService(t)
	dt, err := svc.CreateDocumentType(context.Background(), model.DocumentType{
		Code: "kbis", Label: "Kbis extract", AllowedExtensions: []string{".PDF", "pdf", " Png "},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if dt.Code != "KBIS" || strings.Join(dt.AllowedExtensions, ",") != "pdf,png" {
		t.Fatalf("normalized: %+v", dt)
	}
}
