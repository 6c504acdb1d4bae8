package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/iliyamo/dossier-workflow/internal/model"
)

// DBTX is the subset of *sql.DB and *sql.Tx the repositories need.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements model.Store on MySQL.  A Store returned to a WithTx
// callback issues every statement on that transaction.
type Store struct {
	db *sql.DB
	q  DBTX
	tx *sql.Tx
}

var _ model.Store = (*Store)(nil)

// NewStore returns a Store bound to db.
func NewStore(db *sql.DB) *Store { return &Store{db: db, q: db} }

// DB exposes the underlying connection pool.
func (s *Store) DB() *sql.DB { return s.db }

// WithTx runs fn in a transaction.  Nested calls join the outer one.
func (s *Store) WithTx(ctx context.Context, fn func(tx model.Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(&Store{db: s.db, q: tx, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify("commit transaction", err)
	}
	committed = true
	return nil
}

// checkOptimistic turns an UPDATE ... WHERE version = ? that matched no
// row into a conflict.  Callers have already verified the row exists.
func checkOptimistic(res sql.Result, what string, id uint64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return classify("update "+what, err)
	}
	if n == 0 {
		return model.Conflictf("%s %d was modified concurrently", what, id)
	}
	return nil
}

func nowUTC() time.Time { return time.Now().UTC() }

func nullableID(p *uint64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullableTime(p *time.Time) any {
	if p == nil {
		return nil
	}
	return p.UTC()
}

func nullableString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullableFloat(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func idPtr(n sql.NullInt64) *uint64 {
	if !n.Valid {
		return nil
	}
	v := uint64(n.Int64)
	return &v
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time.UTC()
	return &t
}

func strPtr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	s := n.String
	return &s
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

// jsonColumn encodes v for a JSON column; nil and empty values become NULL.
func jsonColumn(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []string:
		if len(x) == 0 {
			return nil, nil
		}
	case map[string]string:
		if len(x) == 0 {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeStrings(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
