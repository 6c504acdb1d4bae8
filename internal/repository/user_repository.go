package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/iliyamo/dossier-workflow/internal/model"
	"github.com/iliyamo/dossier-workflow/internal/utils"
)

// UserRepo stores accounts.  Emails are kept lower case.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

// ErrEmailExists is returned by Create for an email already registered.
var ErrEmailExists = errors.New("email already exists")

const userColumns = `id, email, password_hash, role, is_active, created_at, updated_at`

func scanUser(row rowScanner) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func normalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

// Create hashes password with the given bcrypt cost and inserts an active
// account with role.
func (r *UserRepo) Create(ctx context.Context, email, password string, role model.Role, cost int) (uint64, error) {
	if _, ok := model.ParseRole(string(role)); !ok {
		return 0, model.Invalid("unknown role %q", role)
	}
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return 0, err
	}
	now := nowUTC()
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO users (email, password_hash, role, is_active, created_at, updated_at) VALUES (?, ?, ?, 1, ?, ?)`,
		normalizeEmail(email), hash, role, now, now)
	if isDuplicate(err) {
		return 0, ErrEmailExists
	}
	if err != nil {
		return 0, classify("insert user", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, classify("insert user", err)
	}
	return uint64(id), nil
}

// GetByEmail loads an account by email, case-insensitively.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	u, err := scanUser(r.DB.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, normalizeEmail(email)))
	return u, classify("get user by email", err)
}

// GetByID loads an account.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	u, err := scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	return u, classify("get user", err)
}
