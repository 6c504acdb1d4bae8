package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/iliyamo/dossier-workflow/internal/model"
)

const dossierColumns = `id, owner_id, product_id, type, status, current_step_instance_id, metadata,
	assigned_agent_id, closed_reason, version, created_at, updated_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDossier(row rowScanner) (model.Dossier, error) {
	var (
		d         model.Dossier
		current   sql.NullInt64
		metadata  []byte
		agent     sql.NullInt64
		closed    sql.NullString
		completed sql.NullTime
	)
	err := row.Scan(&d.ID, &d.OwnerID, &d.ProductID, &d.Type, &d.Status, &current, &metadata,
		&agent, &closed, &d.Version, &d.CreatedAt, &d.UpdatedAt, &completed)
	if err != nil {
		return model.Dossier{}, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &d.Metadata); err != nil {
			return model.Dossier{}, err
		}
	}
	d.CurrentStepInstanceID = idPtr(current)
	d.AssignedAgentID = idPtr(agent)
	d.ClosedReason = strPtr(closed)
	d.CompletedAt = timePtr(completed)
	return d, nil
}

// CreateDossier inserts d and populates its ID and Version.
func (s *Store) CreateDossier(ctx context.Context, d *model.Dossier) error {
	now := nowUTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = d.CreatedAt
	meta, err := jsonColumn(d.Metadata)
	if err != nil {
		return err
	}
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO dossiers (owner_id, product_id, type, status, current_step_instance_id, metadata,
			assigned_agent_id, closed_reason, version, created_at, updated_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?)`,
		d.OwnerID, d.ProductID, d.Type, d.Status, nullableID(d.CurrentStepInstanceID), meta,
		nullableID(d.AssignedAgentID), nullableString(d.ClosedReason), d.CreatedAt, d.UpdatedAt, nullableTime(d.CompletedAt))
	if err != nil {
		return classify("insert dossier", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return classify("insert dossier", err)
	}
	d.ID = uint64(id)
	d.Version = 1
	return nil
}

// GetDossier loads a dossier by id.
func (s *Store) GetDossier(ctx context.Context, id uint64) (model.Dossier, error) {
	d, err := scanDossier(s.q.QueryRowContext(ctx, `SELECT `+dossierColumns+` FROM dossiers WHERE id = ?`, id))
	return d, classify("get dossier", err)
}

// LockDossier loads a dossier with SELECT ... FOR UPDATE.
func (s *Store) LockDossier(ctx context.Context, id uint64) (model.Dossier, error) {
	d, err := scanDossier(s.q.QueryRowContext(ctx, `SELECT `+dossierColumns+` FROM dossiers WHERE id = ? FOR UPDATE`, id))
	return d, classify("lock dossier", err)
}

// UpdateDossier writes every mutable column guarded by the version.
func (s *Store) UpdateDossier(ctx context.Context, d *model.Dossier) error {
	meta, err := jsonColumn(d.Metadata)
	if err != nil {
		return err
	}
	d.UpdatedAt = nowUTC()
	res, err := s.q.ExecContext(ctx,
		`UPDATE dossiers SET status = ?, current_step_instance_id = ?, metadata = ?, assigned_agent_id = ?,
			closed_reason = ?, completed_at = ?, updated_at = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		d.Status, nullableID(d.CurrentStepInstanceID), meta, nullableID(d.AssignedAgentID),
		nullableString(d.ClosedReason), nullableTime(d.CompletedAt), d.UpdatedAt, d.ID, d.Version)
	if err != nil {
		return classify("update dossier", err)
	}
	if err := checkOptimistic(res, "dossier", d.ID); err != nil {
		return err
	}
	d.Version++
	return nil
}

// ListDossiers returns dossiers matching f, newest first.
func (s *Store) ListDossiers(ctx context.Context, f model.DossierFilter) ([]model.Dossier, error) {
	var (
		where []string
		args  []any
	)
	if f.OwnerID != 0 {
		where = append(where, "owner_id = ?")
		args = append(args, f.OwnerID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.AssignedAgentID != 0 {
		where = append(where, "assigned_agent_id = ?")
		args = append(args, f.AssignedAgentID)
	}
	q := `SELECT ` + dossierColumns + ` FROM dossiers`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := s.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classify("list dossiers", err)
	}
	defer rows.Close()
	var out []model.Dossier
	for rows.Next() {
		d, err := scanDossier(rows)
		if err != nil {
			return nil, classify("scan dossier", err)
		}
		out = append(out, d)
	}
	return out, classify("list dossiers", rows.Err())
}

// CreateAuditEntry appends to the audit trail.
func (s *Store) CreateAuditEntry(ctx context.Context, e *model.AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = nowUTC()
	}
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO audit_entries (dossier_id, step_instance_id, actor_id, actor_role, action, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.DossierID, nullableID(e.StepInstanceID), e.ActorID, e.ActorRole, e.Action, e.Detail, e.CreatedAt)
	if err != nil {
		return classify("insert audit entry", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return classify("insert audit entry", err)
	}
	e.ID = uint64(id)
	return nil
}

// ListAuditEntries returns a dossier's audit trail, oldest first.
func (s *Store) ListAuditEntries(ctx context.Context, dossierID uint64) ([]model.AuditEntry, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, dossier_id, step_instance_id, actor_id, actor_role, action, detail, created_at
		 FROM audit_entries WHERE dossier_id = ? ORDER BY created_at, id`, dossierID)
	if err != nil {
		return nil, classify("list audit entries", err)
	}
	defer rows.Close()
	var out []model.AuditEntry
	for rows.Next() {
		var (
			e    model.AuditEntry
			step sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.DossierID, &step, &e.ActorID, &e.ActorRole, &e.Action, &e.Detail, &e.CreatedAt); err != nil {
			return nil, classify("scan audit entry", err)
		}
		e.StepInstanceID = idPtr(step)
		out = append(out, e)
	}
	return out, classify("list audit entries", rows.Err())
}
