// Package catalog manages products, reusable steps, their form fields and
// the document types a product step requires.
package catalog

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/iliyamo/dossier-workflow/internal/model"
	"github.com/iliyamo/dossier-workflow/internal/workflow"
)

var (
	codePattern = regexp.MustCompile(`^[A-Z0-9_]+$`)
	keyPattern  = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
)

// Service is the catalog administration surface.
type Service struct {
	store model.Store
	log   *zap.Logger
}

// NewService binds a Service to a store.
func NewService(store model.Store, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, log: log.With(zap.String("component", "catalog"))}
}

// ProductWorkflow is a product with its ordered steps as a client sees them.
type ProductWorkflow struct {
	Product model.Product  `json:"product"`
	Steps   []WorkflowStep `json:"steps"`
}

// WorkflowStep is one configured step with its effective fields and
// required document types.
type WorkflowStep struct {
	ProductStepID uint64               `json:"product_step_id"`
	Position      int                  `json:"position"`
	Step          model.Step           `json:"step"`
	Fields        []model.StepField    `json:"fields"`
	DocumentTypes []model.DocumentType `json:"document_types"`
}

func invalidField(field, reason, format string, args ...any) error {
	return &model.ValidationError{Message: fmt.Sprintf(format, args...), Fields: map[string]string{field: reason}}
}

// CreateProduct adds a product.  Codes are unique.
func (s *Service) CreateProduct(ctx context.Context, p model.Product) (model.Product, error) {
	p.Code = strings.ToUpper(strings.TrimSpace(p.Code))
	p.Name = strings.TrimSpace(p.Name)
	if !codePattern.MatchString(p.Code) {
		return model.Product{}, invalidField("code", "invalid", "code must match %s", codePattern)
	}
	if p.Name == "" {
		return model.Product{}, invalidField("name", "required", "name is required")
	}
	if err := s.store.CreateProduct(ctx, &p); err != nil {
		return model.Product{}, err
	}
	s.log.Info("product created", zap.String("code", p.Code), zap.Uint64("product_id", p.ID))
	return p, nil
}

// CreateStep adds a reusable step template.
func (s *Service) CreateStep(ctx context.Context, st model.Step) (model.Step, error) {
	st.Code = strings.ToUpper(strings.TrimSpace(st.Code))
	st.Label = strings.TrimSpace(st.Label)
	if !codePattern.MatchString(st.Code) {
		return model.Step{}, invalidField("code", "invalid", "code must match %s", codePattern)
	}
	if st.Label == "" {
		return model.Step{}, invalidField("label", "required", "label is required")
	}
	switch st.Type {
	case model.StepClient, model.StepAdmin:
	case "":
		st.Type = model.StepClient
	default:
		return model.Step{}, invalidField("type", "invalid", "type must be CLIENT or ADMIN")
	}
	if err := s.store.CreateStep(ctx, &st); err != nil {
		return model.Step{}, err
	}
	s.log.Info("step created", zap.String("code", st.Code), zap.Uint64("step_id", st.ID))
	return st, nil
}

// AddProductStep binds a step into a product.  Position 0 appends.
func (s *Service) AddProductStep(ctx context.Context, productID, stepID uint64, position int) (model.ProductStep, error) {
	if position < 0 {
		return model.ProductStep{}, invalidField("position", "invalid", "position must be positive")
	}
	if _, err := s.store.GetProduct(ctx, productID); err != nil {
		return model.ProductStep{}, err
	}
	if _, err := s.store.GetStep(ctx, stepID); err != nil {
		return model.ProductStep{}, err
	}
	ps := model.ProductStep{ProductID: productID, StepID: stepID, Position: position}
	err := s.store.WithTx(ctx, func(tx model.Store) error {
		if ps.Position == 0 {
			existing, err := tx.ListProductSteps(ctx, productID)
			if err != nil {
				return err
			}
			ps.Position = 1
			if n := len(existing); n > 0 {
				ps.Position = existing[n-1].Position + 1
			}
		}
		return tx.CreateProductStep(ctx, &ps)
	})
	if err != nil {
		return model.ProductStep{}, err
	}
	return ps, nil
}

// ReorderProductSteps rewrites positions 1..N following stepIDs, which must
// name every step of the product exactly once.
func (s *Service) ReorderProductSteps(ctx context.Context, productID uint64, stepIDs []uint64) ([]model.ProductStep, error) {
	var out []model.ProductStep
	err := s.store.WithTx(ctx, func(tx model.Store) error {
		current, err := tx.ListProductSteps(ctx, productID)
		if err != nil {
			return err
		}
		byStep := make(map[uint64]model.ProductStep, len(current))
		for _, ps := range current {
			byStep[ps.StepID] = ps
		}
		seen := make(map[uint64]bool, len(stepIDs))
		for _, id := range stepIDs {
			if _, ok := byStep[id]; !ok || seen[id] {
				return invalidField("step_ids", "not_a_permutation", "step list must be a permutation of the product's steps")
			}
			seen[id] = true
		}
		if len(stepIDs) != len(current) {
			return invalidField("step_ids", "not_a_permutation", "step list must be a permutation of the product's steps")
		}
		// Park every row on a negative position first so the unique
		// (product, position) key holds after each statement.
		for i, ps := range current {
			if err := tx.SetProductStepPosition(ctx, ps.ID, -(i + 1)); err != nil {
				return err
			}
		}
		out = make([]model.ProductStep, 0, len(stepIDs))
		for i, id := range stepIDs {
			ps := byStep[id]
			ps.Position = i + 1
			if err := tx.SetProductStepPosition(ctx, ps.ID, ps.Position); err != nil {
				return err
			}
			out = append(out, ps)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("product steps reordered", zap.Uint64("product_id", productID), zap.Int("steps", len(out)))
	return out, nil
}

// AddStepField defines a form field on a CLIENT step, shared by every
// product when f.ProductID is nil.
func (s *Service) AddStepField(ctx context.Context, f model.StepField) (model.StepField, error) {
	step, err := s.store.GetStep(ctx, f.StepID)
	if err != nil {
		return model.StepField{}, err
	}
	if step.Type == model.StepAdmin {
		return model.StepField{}, model.Invalid("step %s is completed by staff and takes no fields", step.Code)
	}
	if f.ProductID != nil {
		if _, err := s.store.GetProduct(ctx, *f.ProductID); err != nil {
			return model.StepField{}, err
		}
	}
	if err := checkField(&f); err != nil {
		return model.StepField{}, err
	}
	err = s.store.WithTx(ctx, func(tx model.Store) error {
		if f.Position == 0 {
			existing, err := tx.ListStepFields(ctx, f.StepID, scopeOf(f.ProductID))
			if err != nil {
				return err
			}
			for _, other := range existing {
				f.Position = max(f.Position, other.Position)
			}
			f.Position++
		}
		return tx.CreateStepField(ctx, &f)
	})
	if err != nil {
		return model.StepField{}, err
	}
	return f, nil
}

func scopeOf(id *uint64) uint64 {
	if id == nil {
		return 0
	}
	return *id
}

func checkField(f *model.StepField) error {
	f.Key = strings.TrimSpace(f.Key)
	f.Label = strings.TrimSpace(f.Label)
	if !keyPattern.MatchString(f.Key) {
		return invalidField("key", "invalid", "key must match %s", keyPattern)
	}
	if f.Label == "" {
		return invalidField("label", "required", "label is required")
	}
	if !f.Type.Valid() {
		return invalidField("type", "invalid", "unknown field type %q", f.Type)
	}
	if f.Type.HasOptions() {
		if len(f.Options) == 0 {
			return invalidField("options", "required", "%s fields need options", f.Type)
		}
		seen := make(map[string]bool, len(f.Options))
		for _, o := range f.Options {
			if o == "" || seen[o] {
				return invalidField("options", "invalid", "options must be distinct and non-empty")
			}
			seen[o] = true
		}
	} else if len(f.Options) > 0 {
		return invalidField("options", "invalid", "%s fields take no options", f.Type)
	}
	if f.MinLength != nil && *f.MinLength < 0 || f.MaxLength != nil && *f.MaxLength < 0 {
		return invalidField("length", "invalid", "lengths cannot be negative")
	}
	if f.MinLength != nil && f.MaxLength != nil && *f.MinLength > *f.MaxLength {
		return invalidField("length", "invalid", "min_length exceeds max_length")
	}
	if f.MinValue != nil && f.MaxValue != nil && *f.MinValue > *f.MaxValue {
		return invalidField("value", "invalid", "min_value exceeds max_value")
	}
	if f.Pattern != "" {
		if _, err := regexp.Compile(f.Pattern); err != nil {
			return invalidField("pattern", "invalid", "pattern does not compile: %v", err)
		}
	}
	if f.Default != "" {
		var raw any = f.Default
		if f.Type == model.FieldCheckbox {
			raw = strings.Split(f.Default, ",")
		}
		if _, reason := workflow.ValidateValue(*f, raw); reason != "" {
			return invalidField("default", reason, "default value is not valid for the field")
		}
	}
	return nil
}

// CreateDocumentType adds a document type.  Extensions are stored lower
// case without the dot.
func (s *Service) CreateDocumentType(ctx context.Context, dt model.DocumentType) (model.DocumentType, error) {
	dt.Code = strings.ToUpper(strings.TrimSpace(dt.Code))
	dt.Label = strings.TrimSpace(dt.Label)
	if !codePattern.MatchString(dt.Code) {
		return model.DocumentType{}, invalidField("code", "invalid", "code must match %s", codePattern)
	}
	if dt.Label == "" {
		return model.DocumentType{}, invalidField("label", "required", "label is required")
	}
	if dt.MaxSizeBytes < 0 {
		return model.DocumentType{}, invalidField("max_size_bytes", "invalid", "size limit cannot be negative")
	}
	exts := make([]string, 0, len(dt.AllowedExtensions))
	for _, e := range dt.AllowedExtensions {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e != "" && !contains(exts, e) {
			exts = append(exts, e)
		}
	}
	dt.AllowedExtensions = exts
	if err := s.store.CreateDocumentType(ctx, &dt); err != nil {
		return model.DocumentType{}, err
	}
	return dt, nil
}

// AttachDocumentType requires a document type on a product step.
func (s *Service) AttachDocumentType(ctx context.Context, productStepID, documentTypeID uint64) error {
	return s.store.AttachDocumentType(ctx, productStepID, documentTypeID)
}

// Products lists products.
func (s *Service) Products(ctx context.Context, activeOnly bool) ([]model.Product, error) {
	return s.store.ListProducts(ctx, activeOnly)
}

// ProductWorkflow assembles the ordered workflow of a product.
func (s *Service) ProductWorkflow(ctx context.Context, productID uint64) (ProductWorkflow, error) {
	p, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return ProductWorkflow{}, err
	}
	configured, err := s.store.ListProductSteps(ctx, productID)
	if err != nil {
		return ProductWorkflow{}, err
	}
	out := ProductWorkflow{Product: p, Steps: make([]WorkflowStep, 0, len(configured))}
	for _, ps := range configured {
		step, err := s.store.GetStep(ctx, ps.StepID)
		if err != nil {
			return ProductWorkflow{}, err
		}
		ws := WorkflowStep{ProductStepID: ps.ID, Position: ps.Position, Step: step}
		if ws.Fields, err = s.store.ListStepFields(ctx, step.ID, productID); err != nil {
			return ProductWorkflow{}, err
		}
		if ws.DocumentTypes, err = s.store.ListRequiredDocumentTypes(ctx, ps.ID); err != nil {
			return ProductWorkflow{}, err
		}
		out.Steps = append(out.Steps, ws)
	}
	return out, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
