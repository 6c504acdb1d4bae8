// Package workflowtest provides an in-memory model.Store for tests.  It
// enforces the same unique keys and optimistic version checks as the MySQL
// repository, and WithTx rolls every change back when the callback fails.
package workflowtest

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/dossier-workflow/internal/model"
)

// Store is safe for concurrent use.  Transactions are serialized.
type Store struct {
	mu     *sync.Mutex
	d      *data
	inTx   bool
	faults *faults
}

// faults live outside data so a rollback does not re-arm them.
type faults struct {
	versionInsert []error
}

type data struct {
	seq          uint64
	dossiers     map[uint64]model.Dossier
	products     map[uint64]model.Product
	steps        map[uint64]model.Step
	productSteps map[uint64]model.ProductStep
	fields       map[uint64]model.StepField
	docTypes     map[uint64]model.DocumentType
	attached     map[[2]uint64]bool
	instances    map[uint64]model.StepInstance
	values       map[uint64]model.StepFieldValue
	documents    map[uint64]model.Document
	versions     map[uint64]model.DocumentVersion
	audit        []model.AuditEntry
}

// New returns an empty store.
func New() *Store {
	return &Store{
		mu:     &sync.Mutex{},
		faults: &faults{},
		d: &data{
			dossiers:     map[uint64]model.Dossier{},
			products:     map[uint64]model.Product{},
			steps:        map[uint64]model.Step{},
			productSteps: map[uint64]model.ProductStep{},
			fields:       map[uint64]model.StepField{},
			docTypes:     map[uint64]model.DocumentType{},
			attached:     map[[2]uint64]bool{},
			instances:    map[uint64]model.StepInstance{},
			values:       map[uint64]model.StepFieldValue{},
			documents:    map[uint64]model.Document{},
			versions:     map[uint64]model.DocumentVersion{},
		},
	}
}

// FailNextVersionInsert makes the next CreateDocumentVersion return err.
// Calls queue up: each one fails exactly one later insert.
func (s *Store) FailNextVersionInsert(err error) {
	defer s.lock()()
	s.faults.versionInsert = append(s.faults.versionInsert, err)
}

// VersionCount returns the number of stored document versions.
func (s *Store) VersionCount() int {
	defer s.lock()()
	return len(s.d.versions)
}

func (d *data) clone() *data {
	c := *d
	c.dossiers = maps.Clone(d.dossiers)
	c.products = maps.Clone(d.products)
	c.steps = maps.Clone(d.steps)
	c.productSteps = maps.Clone(d.productSteps)
	c.fields = maps.Clone(d.fields)
	c.docTypes = maps.Clone(d.docTypes)
	c.attached = maps.Clone(d.attached)
	c.instances = maps.Clone(d.instances)
	c.values = maps.Clone(d.values)
	c.documents = maps.Clone(d.documents)
	c.versions = maps.Clone(d.versions)
	c.audit = slices.Clone(d.audit)
	return &c
}

func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) next() uint64 {
	s.d.seq++
	return s.d.seq
}

// WithTx holds the store lock for the whole callback.
func (s *Store) WithTx(_ context.Context, fn func(tx model.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.d.clone()
	if err := fn(&Store{mu: s.mu, d: s.d, inTx: true, faults: s.faults}); err != nil {
		*s.d = *snapshot
		return err
	}
	return nil
}

func now() time.Time { return time.Now().UTC() }

func sortedByID[T any](m map[uint64]T, keep func(T) bool) []T {
	ids := make([]uint64, 0, len(m))
	for id, v := range m {
		if keep(v) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, m[id])
	}
	return out
}

// Dossiers

func (s *Store) CreateDossier(_ context.Context, d *model.Dossier) error {
	defer s.lock()()
	d.ID = s.next()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now()
	}
	d.UpdatedAt = d.CreatedAt
	d.Version = 1
	s.d.dossiers[d.ID] = *d
	return nil
}

func (s *Store) GetDossier(_ context.Context, id uint64) (model.Dossier, error) {
	defer s.lock()()
	d, ok := s.d.dossiers[id]
	if !ok {
		return model.Dossier{}, model.NotFoundf("dossier %d", id)
	}
	return d, nil
}

func (s *Store) LockDossier(ctx context.Context, id uint64) (model.Dossier, error) {
	return s.GetDossier(ctx, id)
}

func (s *Store) UpdateDossier(_ context.Context, d *model.Dossier) error {
	defer s.lock()()
	cur, ok := s.d.dossiers[d.ID]
	if !ok || cur.Version != d.Version {
		return model.Conflictf("dossier %d was modified concurrently", d.ID)
	}
	d.Version++
	d.UpdatedAt = now()
	s.d.dossiers[d.ID] = *d
	return nil
}

func (s *Store) ListDossiers(_ context.Context, f model.DossierFilter) ([]model.Dossier, error) {
	defer s.lock()()
	out := sortedByID(s.d.dossiers, func(d model.Dossier) bool {
		return (f.OwnerID == 0 || d.OwnerID == f.OwnerID) &&
			(f.Status == "" || d.Status == f.Status) &&
			(f.AssignedAgentID == 0 || (d.AssignedAgentID != nil && *d.AssignedAgentID == f.AssignedAgentID))
	})
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Catalog

func (s *Store) CreateProduct(_ context.Context, p *model.Product) error {
	defer s.lock()()
	for _, other := range s.d.products {
		if other.Code == p.Code {
			return model.Conflictf("product code %s exists", p.Code)
		}
	}
	p.ID = s.next()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now()
	}
	s.d.products[p.ID] = *p
	return nil
}

func (s *Store) GetProduct(_ context.Context, id uint64) (model.Product, error) {
	defer s.lock()()
	p, ok := s.d.products[id]
	if !ok {
		return model.Product{}, model.NotFoundf("product %d", id)
	}
	return p, nil
}

func (s *Store) GetProductByCode(_ context.Context, code string) (model.Product, error) {
	defer s.lock()()
	for _, p := range s.d.products {
		if p.Code == code {
			return p, nil
		}
	}
	return model.Product{}, model.NotFoundf("product %s", code)
}

func (s *Store) ListProducts(_ context.Context, activeOnly bool) ([]model.Product, error) {
	defer s.lock()()
	out := sortedByID(s.d.products, func(p model.Product) bool { return !activeOnly || p.Active })
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) CreateStep(_ context.Context, st *model.Step) error {
	defer s.lock()()
	for _, other := range s.d.steps {
		if other.Code == st.Code {
			return model.Conflictf("step code %s exists", st.Code)
		}
	}
	st.ID = s.next()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now()
	}
	s.d.steps[st.ID] = *st
	return nil
}

func (s *Store) GetStep(_ context.Context, id uint64) (model.Step, error) {
	defer s.lock()()
	st, ok := s.d.steps[id]
	if !ok {
		return model.Step{}, model.NotFoundf("step %d", id)
	}
	return st, nil
}

func (s *Store) GetStepByCode(_ context.Context, code string) (model.Step, error) {
	defer s.lock()()
	for _, st := range s.d.steps {
		if st.Code == code {
			return st, nil
		}
	}
	return model.Step{}, model.NotFoundf("step %s", code)
}

func (s *Store) CreateProductStep(_ context.Context, ps *model.ProductStep) error {
	defer s.lock()()
	for _, other := range s.d.productSteps {
		if other.ProductID == ps.ProductID && (other.StepID == ps.StepID || other.Position == ps.Position) {
			return model.Conflictf("product %d already has step %d or position %d", ps.ProductID, ps.StepID, ps.Position)
		}
	}
	ps.ID = s.next()
	s.d.productSteps[ps.ID] = *ps
	return nil
}

func (s *Store) ListProductSteps(_ context.Context, productID uint64) ([]model.ProductStep, error) {
	defer s.lock()()
	out := sortedByID(s.d.productSteps, func(ps model.ProductStep) bool { return ps.ProductID == productID })
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (s *Store) SetProductStepPosition(_ context.Context, id uint64, position int) error {
	defer s.lock()()
	ps, ok := s.d.productSteps[id]
	if !ok {
		return model.NotFoundf("product step %d", id)
	}
	for _, other := range s.d.productSteps {
		if other.ID != id && other.ProductID == ps.ProductID && other.Position == position {
			return model.Conflictf("position %d is taken", position)
		}
	}
	ps.Position = position
	s.d.productSteps[id] = ps
	return nil
}

func scope(id *uint64) uint64 {
	if id == nil {
		return 0
	}
	return *id
}

func (s *Store) CreateStepField(_ context.Context, f *model.StepField) error {
	defer s.lock()()
	for _, other := range s.d.fields {
		if other.StepID == f.StepID && scope(other.ProductID) == scope(f.ProductID) && other.Key == f.Key {
			return model.Conflictf("field %s exists on step %d", f.Key, f.StepID)
		}
	}
	f.ID = s.next()
	s.d.fields[f.ID] = *f
	return nil
}

func (s *Store) ListStepFields(_ context.Context, stepID, productID uint64) ([]model.StepField, error) {
	defer s.lock()()
	out := sortedByID(s.d.fields, func(f model.StepField) bool {
		return f.StepID == stepID && (f.ProductID == nil || *f.ProductID == productID)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (s *Store) CreateDocumentType(_ context.Context, dt *model.DocumentType) error {
	defer s.lock()()
	for _, other := range s.d.docTypes {
		if other.Code == dt.Code {
			return model.Conflictf("document type %s exists", dt.Code)
		}
	}
	dt.ID = s.next()
	s.d.docTypes[dt.ID] = *dt
	return nil
}

func (s *Store) GetDocumentType(_ context.Context, id uint64) (model.DocumentType, error) {
	defer s.lock()()
	dt, ok := s.d.docTypes[id]
	if !ok {
		return model.DocumentType{}, model.NotFoundf("document type %d", id)
	}
	return dt, nil
}

func (s *Store) GetDocumentTypeByCode(_ context.Context, code string) (model.DocumentType, error) {
	defer s.lock()()
	for _, dt := range s.d.docTypes {
		if dt.Code == code {
			return dt, nil
		}
	}
	return model.DocumentType{}, model.NotFoundf("document type %s", code)
}

func (s *Store) AttachDocumentType(_ context.Context, productStepID, documentTypeID uint64) error {
	defer s.lock()()
	if _, ok := s.d.productSteps[productStepID]; !ok {
		return model.NotFoundf("product step %d", productStepID)
	}
	if _, ok := s.d.docTypes[documentTypeID]; !ok {
		return model.NotFoundf("document type %d", documentTypeID)
	}
	s.d.attached[[2]uint64{productStepID, documentTypeID}] = true
	return nil
}

func (s *Store) ListRequiredDocumentTypes(_ context.Context, productStepID uint64) ([]model.DocumentType, error) {
	defer s.lock()()
	out := sortedByID(s.d.docTypes, func(dt model.DocumentType) bool {
		return s.d.attached[[2]uint64{productStepID, dt.ID}]
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

// Step instances and values

func (s *Store) CreateStepInstance(_ context.Context, si *model.StepInstance) error {
	defer s.lock()()
	for _, other := range s.d.instances {
		if other.DossierID == si.DossierID && other.StepID == si.StepID {
			return model.Conflictf("step %d already materialized for dossier %d", si.StepID, si.DossierID)
		}
	}
	si.ID = s.next()
	if si.CreatedAt.IsZero() {
		si.CreatedAt = now()
	}
	si.UpdatedAt = si.CreatedAt
	if si.ValidationStatus == "" {
		si.ValidationStatus = model.ValidationDraft
	}
	si.Version = 1
	s.d.instances[si.ID] = *si
	return nil
}

func (s *Store) GetStepInstance(_ context.Context, id uint64) (model.StepInstance, error) {
	defer s.lock()()
	si, ok := s.d.instances[id]
	if !ok {
		return model.StepInstance{}, model.NotFoundf("step instance %d", id)
	}
	return si, nil
}

func (s *Store) FindStepInstance(_ context.Context, dossierID, stepID uint64) (model.StepInstance, error) {
	defer s.lock()()
	for _, si := range s.d.instances {
		if si.DossierID == dossierID && si.StepID == stepID {
			return si, nil
		}
	}
	return model.StepInstance{}, model.NotFoundf("step %d of dossier %d", stepID, dossierID)
}

func (s *Store) ListStepInstances(_ context.Context, dossierID uint64) ([]model.StepInstance, error) {
	defer s.lock()()
	return sortedByID(s.d.instances, func(si model.StepInstance) bool { return si.DossierID == dossierID }), nil
}

func (s *Store) UpdateStepInstance(_ context.Context, si *model.StepInstance) error {
	defer s.lock()()
	cur, ok := s.d.instances[si.ID]
	if !ok || cur.Version != si.Version {
		return model.Conflictf("step instance %d was modified concurrently", si.ID)
	}
	si.Version++
	si.UpdatedAt = now()
	s.d.instances[si.ID] = *si
	return nil
}

func (s *Store) ListFieldValues(_ context.Context, stepInstanceID uint64) ([]model.StepFieldValue, error) {
	defer s.lock()()
	return sortedByID(s.d.values, func(v model.StepFieldValue) bool { return v.StepInstanceID == stepInstanceID }), nil
}

func (s *Store) UpsertFieldValue(_ context.Context, v *model.StepFieldValue) error {
	defer s.lock()()
	if _, _, err := model.EncodeFieldValue(v.Value); err != nil {
		return &model.ValidationError{Message: err.Error()}
	}
	v.UpdatedAt = now()
	for id, other := range s.d.values {
		if other.StepInstanceID == v.StepInstanceID && other.StepFieldID == v.StepFieldID {
			v.ID = id
			s.d.values[id] = *v
			return nil
		}
	}
	v.ID = s.next()
	s.d.values[v.ID] = *v
	return nil
}

// Documents

func sameSlot(d model.Document, key model.SlotKey) bool {
	return d.DossierID == key.DossierID && d.DocumentTypeID == key.DocumentTypeID &&
		scope(d.StepInstanceID) == scope(key.StepInstanceID)
}

func (s *Store) FindDocument(_ context.Context, key model.SlotKey) (model.Document, error) {
	defer s.lock()()
	for _, d := range s.d.documents {
		if sameSlot(d, key) {
			return d, nil
		}
	}
	return model.Document{}, model.NotFoundf("document slot")
}

func (s *Store) GetDocument(_ context.Context, id uint64) (model.Document, error) {
	defer s.lock()()
	d, ok := s.d.documents[id]
	if !ok {
		return model.Document{}, model.NotFoundf("document %d", id)
	}
	return d, nil
}

func (s *Store) LockDocument(ctx context.Context, id uint64) (model.Document, error) {
	return s.GetDocument(ctx, id)
}

func (s *Store) CreateDocument(_ context.Context, d *model.Document) error {
	defer s.lock()()
	key := model.SlotKey{DossierID: d.DossierID, DocumentTypeID: d.DocumentTypeID, StepInstanceID: d.StepInstanceID}
	for _, other := range s.d.documents {
		if sameSlot(other, key) {
			return model.Conflictf("document slot exists")
		}
	}
	d.ID = s.next()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now()
	}
	d.UpdatedAt = d.CreatedAt
	if d.Status == "" {
		d.Status = model.DocumentPending
	}
	d.Version = 1
	s.d.documents[d.ID] = *d
	return nil
}

func (s *Store) UpdateDocument(_ context.Context, d *model.Document) error {
	defer s.lock()()
	cur, ok := s.d.documents[d.ID]
	if !ok || cur.Version != d.Version {
		return model.Conflictf("document %d was modified concurrently", d.ID)
	}
	d.Version++
	d.UpdatedAt = now()
	s.d.documents[d.ID] = *d
	return nil
}

func (s *Store) ListDocuments(_ context.Context, dossierID uint64) ([]model.Document, error) {
	defer s.lock()()
	return sortedByID(s.d.documents, func(d model.Document) bool { return d.DossierID == dossierID }), nil
}

func (s *Store) CreateDocumentVersion(_ context.Context, v *model.DocumentVersion) error {
	defer s.lock()()
	if q := s.faults.versionInsert; len(q) > 0 {
		s.faults.versionInsert = q[1:]
		return q[0]
	}
	for _, other := range s.d.versions {
		if other.DocumentID == v.DocumentID && other.VersionNumber == v.VersionNumber {
			return model.Conflictf("version %d of document %d exists", v.VersionNumber, v.DocumentID)
		}
	}
	v.ID = s.next()
	if v.UploadedAt.IsZero() {
		v.UploadedAt = now()
	}
	s.d.versions[v.ID] = *v
	return nil
}

func (s *Store) MaxDocumentVersion(_ context.Context, documentID uint64) (int, error) {
	defer s.lock()()
	n := 0
	for _, v := range s.d.versions {
		if v.DocumentID == documentID && v.VersionNumber > n {
			n = v.VersionNumber
		}
	}
	return n, nil
}

func (s *Store) GetDocumentVersion(_ context.Context, id uint64) (model.DocumentVersion, error) {
	defer s.lock()()
	v, ok := s.d.versions[id]
	if !ok {
		return model.DocumentVersion{}, model.NotFoundf("document version %d", id)
	}
	return v, nil
}

func (s *Store) ListDocumentVersions(_ context.Context, documentID uint64) ([]model.DocumentVersion, error) {
	defer s.lock()()
	out := sortedByID(s.d.versions, func(v model.DocumentVersion) bool { return v.DocumentID == documentID })
	sort.SliceStable(out, func(i, j int) bool { return out[i].VersionNumber < out[j].VersionNumber })
	return out, nil
}

// Audit

func (s *Store) CreateAuditEntry(_ context.Context, e *model.AuditEntry) error {
	defer s.lock()()
	e.ID = s.next()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now()
	}
	s.d.audit = append(s.d.audit, *e)
	return nil
}

func (s *Store) ListAuditEntries(_ context.Context, dossierID uint64) ([]model.AuditEntry, error) {
	defer s.lock()()
	var out []model.AuditEntry
	for _, e := range s.d.audit {
		if e.DossierID == dossierID {
			out = append(out, e)
		}
	}
	return out, nil
}

var _ model.Store = (*Store)(nil)
