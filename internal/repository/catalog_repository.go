package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/dossier-workflow/internal/model"
)

// CreateProduct inserts p.  A duplicate code is a conflict.
func (s *Store) CreateProduct(ctx context.Context, p *model.Product) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = nowUTC()
	}
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO products (code, name, description, active, created_at) VALUES (?, ?, ?, ?, ?)`,
		p.Code, p.Name, p.Description, p.Active, p.CreatedAt)
	if err != nil {
		return classify("insert product", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return classify("insert product", err)
	}
	p.ID = uint64(id)
	return nil
}

const productColumns = `id, code, name, description, active, created_at`

func scanProduct(row rowScanner) (model.Product, error) {
	var p model.Product
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Description, &p.Active, &p.CreatedAt)
	return p, err
}

// GetProduct loads a product by id.
func (s *Store) GetProduct(ctx context.Context, id uint64) (model.Product, error) {
	p, err := scanProduct(s.q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id))
	return p, classify("get product", err)
}

// GetProductByCode loads a product by its unique code.
func (s *Store) GetProductByCode(ctx context.Context, code string) (model.Product, error) {
	p, err := scanProduct(s.q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE code = ?`, code))
	return p, classify("get product by code", err)
}

// ListProducts returns products ordered by name.
func (s *Store) ListProducts(ctx context.Context, activeOnly bool) ([]model.Product, error) {
	q := `SELECT ` + productColumns + ` FROM products`
	if activeOnly {
		q += ` WHERE active = 1`
	}
	q += ` ORDER BY name, id`
	rows, err := s.q.QueryContext(ctx, q)
	if err != nil {
		return nil, classify("list products", err)
	}
	defer rows.Close()
	var out []model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, classify("scan product", err)
		}
		out = append(out, p)
	}
	return out, classify("list products", rows.Err())
}

// CreateStep inserts a step template.
func (s *Store) CreateStep(ctx context.Context, st *model.Step) error {
	if st.CreatedAt.IsZero() {
		st.CreatedAt = nowUTC()
	}
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO steps (code, label, description, type, position, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		st.Code, st.Label, st.Description, st.Type, st.Position, st.CreatedAt)
	if err != nil {
		return classify("insert step", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return classify("insert step", err)
	}
	st.ID = uint64(id)
	return nil
}

const stepColumns = `id, code, label, description, type, position, created_at`

func scanStep(row rowScanner) (model.Step, error) {
	var st model.Step
	err := row.Scan(&st.ID, &st.Code, &st.Label, &st.Description, &st.Type, &st.Position, &st.CreatedAt)
	return st, err
}

// GetStep loads a step by id.
func (s *Store) GetStep(ctx context.Context, id uint64) (model.Step, error) {
	st, err := scanStep(s.q.QueryRowContext(ctx, `SELECT `+stepColumns+` FROM steps WHERE id = ?`, id))
	return st, classify("get step", err)
}

// GetStepByCode loads a step by its unique code.
func (s *Store) GetStepByCode(ctx context.Context, code string) (model.Step, error) {
	st, err := scanStep(s.q.QueryRowContext(ctx, `SELECT `+stepColumns+` FROM steps WHERE code = ?`, code))
	return st, classify("get step by code", err)
}

// CreateProductStep binds a step into a product workflow.
func (s *Store) CreateProductStep(ctx context.Context, ps *model.ProductStep) error {
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO product_steps (product_id, step_id, position) VALUES (?, ?, ?)`,
		ps.ProductID, ps.StepID, ps.Position)
	if err != nil {
		return classify("insert product step", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return classify("insert product step", err)
	}
	ps.ID = uint64(id)
	return nil
}

// ListProductSteps returns the ordered workflow of a product.
func (s *Store) ListProductSteps(ctx context.Context, productID uint64) ([]model.ProductStep, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, product_id, step_id, position FROM product_steps WHERE product_id = ? ORDER BY position, id`, productID)
	if err != nil {
		return nil, classify("list product steps", err)
	}
	defer rows.Close()
	var out []model.ProductStep
	for rows.Next() {
		var ps model.ProductStep
		if err := rows.Scan(&ps.ID, &ps.ProductID, &ps.StepID, &ps.Position); err != nil {
			return nil, classify("scan product step", err)
		}
		out = append(out, ps)
	}
	return out, classify("list product steps", rows.Err())
}

// SetProductStepPosition moves one product step.  Callers reordering a
// whole product must go through a transaction and temporary positions to
// respect the unique (product, position) key.
func (s *Store) SetProductStepPosition(ctx context.Context, id uint64, position int) error {
	res, err := s.q.ExecContext(ctx, `UPDATE product_steps SET position = ? WHERE id = ?`, position, id)
	if err != nil {
		return classify("update product step position", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		var exists int
		if err := s.q.QueryRowContext(ctx, `SELECT 1 FROM product_steps WHERE id = ?`, id).Scan(&exists); err != nil {
			return classify("update product step position", err)
		}
	}
	return nil
}

// CreateStepField inserts a field definition.
func (s *Store) CreateStepField(ctx context.Context, f *model.StepField) error {
	opts, err := jsonColumn(f.Options)
	if err != nil {
		return err
	}
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO step_fields (step_id, product_id, field_key, label, field_type, required, min_length, max_length,
			min_value, max_value, pattern, options, default_value, position)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.StepID, nullableID(f.ProductID), f.Key, f.Label, f.Type, f.Required, nullableInt(f.MinLength), nullableInt(f.MaxLength),
		nullableFloat(f.MinValue), nullableFloat(f.MaxValue), f.Pattern, opts, f.Default, f.Position)
	if err != nil {
		return classify("insert step field", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return classify("insert step field", err)
	}
	f.ID = uint64(id)
	return nil
}

// ListStepFields returns generic fields of the step and those specific to
// productID.
func (s *Store) ListStepFields(ctx context.Context, stepID, productID uint64) ([]model.StepField, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, step_id, product_id, field_key, label, field_type, required, min_length, max_length,
			min_value, max_value, pattern, options, default_value, position
		 FROM step_fields
		 WHERE step_id = ? AND (product_id IS NULL OR product_id = ?)
		 ORDER BY position, id`, stepID, productID)
	if err != nil {
		return nil, classify("list step fields", err)
	}
	defer rows.Close()
	var out []model.StepField
	for rows.Next() {
		var (
			f                  model.StepField
			product            sql.NullInt64
			minLen, maxLen     sql.NullInt64
			minValue, maxValue sql.NullFloat64
			options            []byte
		)
		if err := rows.Scan(&f.ID, &f.StepID, &product, &f.Key, &f.Label, &f.Type, &f.Required, &minLen, &maxLen,
			&minValue, &maxValue, &f.Pattern, &options, &f.Default, &f.Position); err != nil {
			return nil, classify("scan step field", err)
		}
		f.ProductID = idPtr(product)
		f.MinLength, f.MaxLength = intPtr(minLen), intPtr(maxLen)
		f.MinValue, f.MaxValue = floatPtr(minValue), floatPtr(maxValue)
		if f.Options, err = decodeStrings(options); err != nil {
			return nil, classify("decode step field options", err)
		}
		out = append(out, f)
	}
	return out, classify("list step fields", rows.Err())
}

// CreateDocumentType inserts a document type.
func (s *Store) CreateDocumentType(ctx context.Context, dt *model.DocumentType) error {
	exts, err := jsonColumn(dt.AllowedExtensions)
	if err != nil {
		return err
	}
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO document_types (code, label, max_size_bytes, allowed_extensions) VALUES (?, ?, ?, ?)`,
		dt.Code, dt.Label, dt.MaxSizeBytes, exts)
	if err != nil {
		return classify("insert document type", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return classify("insert document type", err)
	}
	dt.ID = uint64(id)
	return nil
}

const documentTypeColumns = `id, code, label, max_size_bytes, allowed_extensions`

func scanDocumentType(row rowScanner) (model.DocumentType, error) {
	var (
		dt   model.DocumentType
		exts []byte
	)
	if err := row.Scan(&dt.ID, &dt.Code, &dt.Label, &dt.MaxSizeBytes, &exts); err != nil {
		return model.DocumentType{}, err
	}
	list, err := decodeStrings(exts)
	if err != nil {
		return model.DocumentType{}, err
	}
	dt.AllowedExtensions = list
	return dt, nil
}

// GetDocumentType loads a document type by id.
func (s *Store) GetDocumentType(ctx context.Context, id uint64) (model.DocumentType, error) {
	dt, err := scanDocumentType(s.q.QueryRowContext(ctx, `SELECT `+documentTypeColumns+` FROM document_types WHERE id = ?`, id))
	return dt, classify("get document type", err)
}

// GetDocumentTypeByCode loads a document type by its unique code.
func (s *Store) GetDocumentTypeByCode(ctx context.Context, code string) (model.DocumentType, error) {
	dt, err := scanDocumentType(s.q.QueryRowContext(ctx, `SELECT `+documentTypeColumns+` FROM document_types WHERE code = ?`, code))
	return dt, classify("get document type by code", err)
}

// AttachDocumentType marks a document type as required for a product step.
// Attaching twice is a no-op.
func (s *Store) AttachDocumentType(ctx context.Context, productStepID, documentTypeID uint64) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO product_step_document_types (product_step_id, document_type_id) VALUES (?, ?)`,
		productStepID, documentTypeID)
	if err != nil && isDuplicate(err) {
		return nil
	}
	return classify("attach document type", err)
}

// ListRequiredDocumentTypes returns the document types a product step requires.
func (s *Store) ListRequiredDocumentTypes(ctx context.Context, productStepID uint64) ([]model.DocumentType, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT dt.id, dt.code, dt.label, dt.max_size_bytes, dt.allowed_extensions
		 FROM product_step_document_types psdt
		 JOIN document_types dt ON dt.id = psdt.document_type_id
		 WHERE psdt.product_step_id = ? ORDER BY dt.label, dt.id`, productStepID)
	if err != nil {
		return nil, classify("list required document types", err)
	}
	defer rows.Close()
	var out []model.DocumentType
	for rows.Next() {
		dt, err := scanDocumentType(rows)
		if err != nil {
			return nil, classify("scan document type", err)
		}
		out = append(out, dt)
	}
	return out, classify("list required document types", rows.Err())
}
