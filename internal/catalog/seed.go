package catalog

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/iliyamo/dossier-workflow/internal/model"
)

// DefaultCatalog is the built-in LLC formation catalog.
//
//go:embed default_catalog.yaml
var DefaultCatalog []byte

// SeedFile is the YAML layout accepted by Seed.
type SeedFile struct {
	DocumentTypes []SeedDocumentType `yaml:"document_types"`
	Steps         []SeedStep         `yaml:"steps"`
	Products      []SeedProduct      `yaml:"products"`
}

type SeedDocumentType struct {
	Code         string   `yaml:"code"`
	Label        string   `yaml:"label"`
	MaxSizeBytes int64    `yaml:"max_size_bytes"`
	Extensions   []string `yaml:"extensions"`
}

type SeedStep struct {
	Code        string      `yaml:"code"`
	Label       string      `yaml:"label"`
	Description string      `yaml:"description"`
	Type        string      `yaml:"type"`
	Fields      []SeedField `yaml:"fields"`
}

type SeedField struct {
	Key       string   `yaml:"key"`
	Label     string   `yaml:"label"`
	Type      string   `yaml:"type"`
	Required  bool     `yaml:"required"`
	MinLength *int     `yaml:"min_length"`
	MaxLength *int     `yaml:"max_length"`
	MinValue  *float64 `yaml:"min_value"`
	MaxValue  *float64 `yaml:"max_value"`
	Pattern   string   `yaml:"pattern"`
	Options   []string `yaml:"options"`
	Default   string   `yaml:"default"`
}

type SeedProduct struct {
	Code        string            `yaml:"code"`
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Active      *bool             `yaml:"active"`
	Steps       []SeedProductStep `yaml:"steps"`
}

type SeedProductStep struct {
	Step          string      `yaml:"step"`
	DocumentTypes []string    `yaml:"document_types"`
	Fields        []SeedField `yaml:"fields"`
}

// SeedReport counts what a Seed run created.  Existing records are left
// untouched and not counted.
type SeedReport struct {
	DocumentTypes int `json:"document_types"`
	Steps         int `json:"steps"`
	Fields        int `json:"fields"`
	Products      int `json:"products"`
	ProductSteps  int `json:"product_steps"`
}

// ParseSeed decodes a seed document, rejecting unknown keys.
func ParseSeed(r io.Reader) (SeedFile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f SeedFile
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return SeedFile{}, model.Invalid("parse catalog seed: %v", err)
	}
	return f, nil
}

// SeedDefault loads DefaultCatalog.
func (s *Service) SeedDefault(ctx context.Context) (SeedReport, error) {
	return s.Seed(ctx, bytes.NewReader(DefaultCatalog))
}

// Seed creates whatever the document describes and does not exist yet,
// matching records by code.  Running it twice is harmless.
func (s *Service) Seed(ctx context.Context, r io.Reader) (SeedReport, error) {
	file, err := ParseSeed(r)
	if err != nil {
		return SeedReport{}, err
	}
	var rep SeedReport

	docTypes := map[string]model.DocumentType{}
	for _, sd := range file.DocumentTypes {
		dt, created, err := s.ensureDocumentType(ctx, sd)
		if err != nil {
			return rep, fmt.Errorf("document type %s: %w", sd.Code, err)
		}
		docTypes[dt.Code] = dt
		if created {
			rep.DocumentTypes++
		}
	}

	steps := map[string]model.Step{}
	for _, ss := range file.Steps {
		st, created, err := s.ensureStep(ctx, ss)
		if err != nil {
			return rep, fmt.Errorf("step %s: %w", ss.Code, err)
		}
		steps[st.Code] = st
		if created {
			rep.Steps++
		}
		n, err := s.ensureFields(ctx, st, nil, ss.Fields)
		if err != nil {
			return rep, fmt.Errorf("step %s: %w", ss.Code, err)
		}
		rep.Fields += n
	}

	for _, sp := range file.Products {
		p, created, err := s.ensureProduct(ctx, sp)
		if err != nil {
			return rep, fmt.Errorf("product %s: %w", sp.Code, err)
		}
		if created {
			rep.Products++
		}
		bound, err := s.store.ListProductSteps(ctx, p.ID)
		if err != nil {
			return rep, err
		}
		byStep := make(map[uint64]model.ProductStep, len(bound))
		for _, ps := range bound {
			byStep[ps.StepID] = ps
		}
		for _, sps := range sp.Steps {
			st, ok := steps[sps.Step]
			if !ok {
				if st, err = s.store.GetStepByCode(ctx, sps.Step); err != nil {
					return rep, fmt.Errorf("product %s: step %s: %w", sp.Code, sps.Step, err)
				}
			}
			ps, ok := byStep[st.ID]
			if !ok {
				if ps, err = s.AddProductStep(ctx, p.ID, st.ID, 0); err != nil {
					return rep, fmt.Errorf("product %s: bind %s: %w", sp.Code, st.Code, err)
				}
				rep.ProductSteps++
			}
			for _, code := range sps.DocumentTypes {
				dt, ok := docTypes[code]
				if !ok {
					if dt, err = s.store.GetDocumentTypeByCode(ctx, code); err != nil {
						return rep, fmt.Errorf("product %s: document type %s: %w", sp.Code, code, err)
					}
				}
				if err := s.AttachDocumentType(ctx, ps.ID, dt.ID); err != nil {
					return rep, err
				}
			}
			n, err := s.ensureFields(ctx, st, &p.ID, sps.Fields)
			if err != nil {
				return rep, fmt.Errorf("product %s: step %s: %w", sp.Code, st.Code, err)
			}
			rep.Fields += n
		}
	}
	s.log.Info("catalog seeded",
		zap.Int("document_types", rep.DocumentTypes),
		zap.Int("steps", rep.Steps),
		zap.Int("fields", rep.Fields),
		zap.Int("products", rep.Products),
		zap.Int("product_steps", rep.ProductSteps))
	return rep, nil
}

func (s *Service) ensureDocumentType(ctx context.Context, sd SeedDocumentType) (model.DocumentType, bool, error) {
	dt, err := s.store.GetDocumentTypeByCode(ctx, sd.Code)
	if err == nil || !errors.Is(err, model.ErrNotFound) {
		return dt, false, err
	}
	dt, err = s.CreateDocumentType(ctx, model.DocumentType{
		Code:              sd.Code,
		Label:             sd.Label,
		MaxSizeBytes:      sd.MaxSizeBytes,
		AllowedExtensions: sd.Extensions,
	})
	return dt, err == nil, err
}

func (s *Service) ensureStep(ctx context.Context, ss SeedStep) (model.Step, bool, error) {
	st, err := s.store.GetStepByCode(ctx, ss.Code)
	if err == nil || !errors.Is(err, model.ErrNotFound) {
		return st, false, err
	}
	st, err = s.CreateStep(ctx, model.Step{
		Code:        ss.Code,
		Label:       ss.Label,
		Description: ss.Description,
		Type:        model.StepType(ss.Type),
	})
	return st, err == nil, err
}

func (s *Service) ensureProduct(ctx context.Context, sp SeedProduct) (model.Product, bool, error) {
	p, err := s.store.GetProductByCode(ctx, sp.Code)
	if err == nil || !errors.Is(err, model.ErrNotFound) {
		return p, false, err
	}
	active := true
	if sp.Active != nil {
		active = *sp.Active
	}
	p, err = s.CreateProduct(ctx, model.Product{Code: sp.Code, Name: sp.Name, Description: sp.Description, Active: active})
	return p, err == nil, err
}

// ensureFields adds the fields whose key is not defined yet in the scope.
func (s *Service) ensureFields(ctx context.Context, st model.Step, productID *uint64, fields []SeedField) (int, error) {
	if len(fields) == 0 {
		return 0, nil
	}
	existing, err := s.store.ListStepFields(ctx, st.ID, scopeOf(productID))
	if err != nil {
		return 0, err
	}
	have := map[string]bool{}
	for _, f := range existing {
		if scopeOf(f.ProductID) == scopeOf(productID) {
			have[f.Key] = true
		}
	}
	created := 0
	for _, sf := range fields {
		if have[sf.Key] {
			continue
		}
		_, err := s.AddStepField(ctx, model.StepField{
			StepID:    st.ID,
			ProductID: productID,
			Key:       sf.Key,
			Label:     sf.Label,
			Type:      model.FieldType(sf.Type),
			Required:  sf.Required,
			MinLength: sf.MinLength,
			MaxLength: sf.MaxLength,
			MinValue:  sf.MinValue,
			MaxValue:  sf.MaxValue,
			Pattern:   sf.Pattern,
			Options:   sf.Options,
			Default:   sf.Default,
		})
		if err != nil {
			return created, fmt.Errorf("field %s: %w", sf.Key, err)
		}
		have[sf.Key] = true
		created++
	}
	return created, nil
}
