package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/dossier-workflow/internal/model"
)

const stepInstanceColumns = `id, dossier_id, step_id, started_at, completed_at, assigned_to, validation_status,
	rejection_reason, validated_by, validated_at, version, created_at, updated_at`

func scanStepInstance(row rowScanner) (model.StepInstance, error) {
	var (
		si                  model.StepInstance
		started, completed  sql.NullTime
		assigned, validator sql.NullInt64
		reason              sql.NullString
		validatedAt         sql.NullTime
	)
	err := row.Scan(&si.ID, &si.DossierID, &si.StepID, &started, &completed, &assigned, &si.ValidationStatus,
		&reason, &validator, &validatedAt, &si.Version, &si.CreatedAt, &si.UpdatedAt)
	if err != nil {
		return model.StepInstance{}, err
	}
	si.StartedAt, si.CompletedAt = timePtr(started), timePtr(completed)
	si.AssignedTo, si.ValidatedBy = idPtr(assigned), idPtr(validator)
	si.RejectionReason = strPtr(reason)
	si.ValidatedAt = timePtr(validatedAt)
	return si, nil
}

// CreateStepInstance inserts si.  A second instance for the same
// (dossier, step) is a conflict.
func (s *Store) CreateStepInstance(ctx context.Context, si *model.StepInstance) error {
	if si.CreatedAt.IsZero() {
		si.CreatedAt = nowUTC()
	}
	si.UpdatedAt = si.CreatedAt
	if si.ValidationStatus == "" {
		si.ValidationStatus = model.ValidationDraft
	}
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO step_instances (dossier_id, step_id, started_at, completed_at, assigned_to, validation_status,
			rejection_reason, validated_by, validated_at, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		si.DossierID, si.StepID, nullableTime(si.StartedAt), nullableTime(si.CompletedAt), nullableID(si.AssignedTo),
		si.ValidationStatus, nullableString(si.RejectionReason), nullableID(si.ValidatedBy), nullableTime(si.ValidatedAt),
		si.CreatedAt, si.UpdatedAt)
	if err != nil {
		return classify("insert step instance", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return classify("insert step instance", err)
	}
	si.ID = uint64(id)
	si.Version = 1
	return nil
}

// GetStepInstance loads a step instance by id.
func (s *Store) GetStepInstance(ctx context.Context, id uint64) (model.StepInstance, error) {
	si, err := scanStepInstance(s.q.QueryRowContext(ctx, `SELECT `+stepInstanceColumns+` FROM step_instances WHERE id = ?`, id))
	return si, classify("get step instance", err)
}

// FindStepInstance loads the instance of stepID within dossierID.
func (s *Store) FindStepInstance(ctx context.Context, dossierID, stepID uint64) (model.StepInstance, error) {
	si, err := scanStepInstance(s.q.QueryRowContext(ctx,
		`SELECT `+stepInstanceColumns+` FROM step_instances WHERE dossier_id = ? AND step_id = ?`, dossierID, stepID))
	return si, classify("find step instance", err)
}

// ListStepInstances returns every materialized instance of a dossier.
func (s *Store) ListStepInstances(ctx context.Context, dossierID uint64) ([]model.StepInstance, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+stepInstanceColumns+` FROM step_instances WHERE dossier_id = ? ORDER BY id`, dossierID)
	if err != nil {
		return nil, classify("list step instances", err)
	}
	defer rows.Close()
	var out []model.StepInstance
	for rows.Next() {
		si, err := scanStepInstance(rows)
		if err != nil {
			return nil, classify("scan step instance", err)
		}
		out = append(out, si)
	}
	return out, classify("list step instances", rows.Err())
}

// UpdateStepInstance writes every mutable column guarded by the version.
func (s *Store) UpdateStepInstance(ctx context.Context, si *model.StepInstance) error {
	si.UpdatedAt = nowUTC()
	res, err := s.q.ExecContext(ctx,
		`UPDATE step_instances SET started_at = ?, completed_at = ?, assigned_to = ?, validation_status = ?,
			rejection_reason = ?, validated_by = ?, validated_at = ?, updated_at = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		nullableTime(si.StartedAt), nullableTime(si.CompletedAt), nullableID(si.AssignedTo), si.ValidationStatus,
		nullableString(si.RejectionReason), nullableID(si.ValidatedBy), nullableTime(si.ValidatedAt), si.UpdatedAt,
		si.ID, si.Version)
	if err != nil {
		return classify("update step instance", err)
	}
	if err := checkOptimistic(res, "step instance", si.ID); err != nil {
		return err
	}
	si.Version++
	return nil
}

// ListFieldValues returns the stored values of a step instance.
func (s *Store) ListFieldValues(ctx context.Context, stepInstanceID uint64) ([]model.StepFieldValue, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, step_instance_id, step_field_id, value_kind, value, validation_status, rejection_reason,
			reviewed_by, reviewed_at, updated_at
		 FROM step_field_values WHERE step_instance_id = ? ORDER BY id`, stepInstanceID)
	if err != nil {
		return nil, classify("list field values", err)
	}
	defer rows.Close()
	var out []model.StepFieldValue
	for rows.Next() {
		var (
			v        model.StepFieldValue
			kind     model.ValueKind
			raw      []byte
			reason   sql.NullString
			reviewer sql.NullInt64
			reviewed sql.NullTime
		)
		if err := rows.Scan(&v.ID, &v.StepInstanceID, &v.StepFieldID, &kind, &raw, &v.Status, &reason,
			&reviewer, &reviewed, &v.UpdatedAt); err != nil {
			return nil, classify("scan field value", err)
		}
		if v.Value, err = model.DecodeFieldValue(kind, raw); err != nil {
			return nil, classify("decode field value", err)
		}
		v.RejectionReason = strPtr(reason)
		v.ReviewedBy = idPtr(reviewer)
		v.ReviewedAt = timePtr(reviewed)
		out = append(out, v)
	}
	return out, classify("list field values", rows.Err())
}

// UpsertFieldValue inserts or replaces the value of one field, relying on
// the unique (step_instance_id, step_field_id) key.
func (s *Store) UpsertFieldValue(ctx context.Context, v *model.StepFieldValue) error {
	kind, raw, err := model.EncodeFieldValue(v.Value)
	if err != nil {
		return &model.ValidationError{Message: err.Error()}
	}
	v.UpdatedAt = nowUTC()
	_, err = s.q.ExecContext(ctx,
		`INSERT INTO step_field_values (step_instance_id, step_field_id, value_kind, value, validation_status,
			rejection_reason, reviewed_by, reviewed_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE value_kind = VALUES(value_kind), value = VALUES(value),
			validation_status = VALUES(validation_status), rejection_reason = VALUES(rejection_reason),
			reviewed_by = VALUES(reviewed_by), reviewed_at = VALUES(reviewed_at), updated_at = VALUES(updated_at)`,
		v.StepInstanceID, v.StepFieldID, kind, string(raw), v.Status, nullableString(v.RejectionReason),
		nullableID(v.ReviewedBy), nullableTime(v.ReviewedAt), v.UpdatedAt)
	if err != nil {
		return classify("upsert field value", err)
	}
	var id uint64
	if err := s.q.QueryRowContext(ctx,
		`SELECT id FROM step_field_values WHERE step_instance_id = ? AND step_field_id = ?`,
		v.StepInstanceID, v.StepFieldID).Scan(&id); err != nil {
		return classify("upsert field value", err)
	}
	v.ID = id
	return nil
}
