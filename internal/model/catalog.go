package model

import "time"

// StepType tells whether a step is filled by the client or is a staff
// checkpoint.  ADMIN steps carry no client-fillable fields.
type StepType string

const (
	StepClient StepType = "CLIENT"
	StepAdmin  StepType = "ADMIN"
)

// Product is something a client can purchase, e.g. an LLC formation.
type Product struct {
	ID          uint64    `json:"id"`          // products.id
	Code        string    `json:"code"`        // products.code (unique)
	Name        string    `json:"name"`        // products.name
	Description string    `json:"description"` // products.description
	Active      bool      `json:"active"`      // products.active
	CreatedAt   time.Time `json:"created_at"`  // products.created_at
}

// Step is a reusable, product-independent workflow stage.
type Step struct {
	ID          uint64    `json:"id"`          // steps.id
	Code        string    `json:"code"`        // steps.code (unique, immutable)
	Label       string    `json:"label"`       // steps.label
	Description string    `json:"description"` // steps.description
	Type        StepType  `json:"type"`        // steps.type
	Position    int       `json:"position"`    // steps.position (hint only)
	CreatedAt   time.Time `json:"created_at"`  // steps.created_at
}

// ProductStep binds a Step into a product's ordered workflow.  Positions
// within one product are unique.
type ProductStep struct {
	ID        uint64 `json:"id"`         // product_steps.id
	ProductID uint64 `json:"product_id"` // product_steps.product_id
	StepID    uint64 `json:"step_id"`    // product_steps.step_id
	Position  int    `json:"position"`   // product_steps.position
}

// FieldType is the declared type of a dynamic form field.
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldTextarea FieldType = "textarea"
	FieldEmail    FieldType = "email"
	FieldPhone    FieldType = "phone"
	FieldNumber   FieldType = "number"
	FieldDate     FieldType = "date"
	FieldSelect   FieldType = "select"
	FieldRadio    FieldType = "radio"
	FieldCheckbox FieldType = "checkbox"
	FieldFile     FieldType = "file"
)

// Valid reports whether t is a known field type.
func (t FieldType) Valid() bool {
	switch t {
	case FieldText, FieldTextarea, FieldEmail, FieldPhone, FieldNumber,
		FieldDate, FieldSelect, FieldRadio, FieldCheckbox, FieldFile:
		return true
	}
	return false
}

// HasOptions reports whether values are drawn from declared options.
func (t FieldType) HasOptions() bool {
	return t == FieldSelect || t == FieldRadio || t == FieldCheckbox
}

// StepField defines one form field of a step.  ProductID is nil for fields
// shared by every product using the step and set for product-specific
// custom fields.
type StepField struct {
	ID        uint64    `json:"id"`                   // step_fields.id
	StepID    uint64    `json:"step_id"`              // step_fields.step_id
	ProductID *uint64   `json:"product_id"`           // step_fields.product_id
	Key       string    `json:"key"`                  // step_fields.field_key
	Label     string    `json:"label"`                // step_fields.label
	Type      FieldType `json:"type"`                 // step_fields.field_type
	Required  bool      `json:"required"`             // step_fields.required
	MinLength *int      `json:"min_length,omitempty"` // step_fields.min_length
	MaxLength *int      `json:"max_length,omitempty"` // step_fields.max_length
	MinValue  *float64  `json:"min_value,omitempty"`  // step_fields.min_value
	MaxValue  *float64  `json:"max_value,omitempty"`  // step_fields.max_value
	Pattern   string    `json:"pattern,omitempty"`    // step_fields.pattern
	Options   []string  `json:"options,omitempty"`    // step_fields.options (JSON)
	Default   string    `json:"default,omitempty"`    // step_fields.default_value
	Position  int       `json:"position"`             // step_fields.position
}

// Default upload constraints used when a document type leaves them unset.
const DefaultMaxDocumentSize int64 = 10 << 20

var DefaultDocumentExtensions = []string{"pdf", "jpg", "jpeg", "png"}

// DocumentType describes a category of uploaded document and its upload
// constraints.
type DocumentType struct {
	ID                uint64   `json:"id"`                 // document_types.id
	Code              string   `json:"code"`               // document_types.code (unique)
	Label             string   `json:"label"`              // document_types.label
	MaxSizeBytes      int64    `json:"max_size_bytes"`     // document_types.max_size_bytes
	AllowedExtensions []string `json:"allowed_extensions"` // document_types.allowed_extensions (JSON)
}

// MaxSize returns the effective size limit.
func (d DocumentType) MaxSize() int64 {
	if d.MaxSizeBytes <= 0 {
		return DefaultMaxDocumentSize
	}
	return d.MaxSizeBytes
}

// Extensions returns the effective list of allowed extensions, lower-case
// and without the leading dot.
func (d DocumentType) Extensions() []string {
	if len(d.AllowedExtensions) == 0 {
		return DefaultDocumentExtensions
	}
	return d.AllowedExtensions
}
