package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/dossier-workflow/internal/model"
)

// NotificationRepo stores the per-user notification bell.  Rows are written
// by the queue consumer and read by the client API.
type NotificationRepo struct{ DB *sql.DB }

func NewNotificationRepo(db *sql.DB) *NotificationRepo { return &NotificationRepo{DB: db} }

// Create inserts n and populates its ID.
func (r *NotificationRepo) Create(ctx context.Context, n *model.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = nowUTC()
	}
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO notifications (user_id, dossier_id, kind, title, body, read_at, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.UserID, nullableID(n.DossierID), n.Kind, n.Title, n.Body, nullableTime(n.ReadAt), n.CreatedAt)
	if err != nil {
		return classify("insert notification", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return classify("insert notification", err)
	}
	n.ID = uint64(id)
	return nil
}

// ListForUser returns the newest notifications of a user.
func (r *NotificationRepo) ListForUser(ctx context.Context, userID uint64, unreadOnly bool, limit int) ([]model.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := `SELECT id, user_id, dossier_id, kind, title, body, read_at, created_at FROM notifications WHERE user_id = ?`
	if unreadOnly {
		q += ` AND read_at IS NULL`
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	rows, err := r.DB.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, classify("list notifications", err)
	}
	defer rows.Close()
	out := []model.Notification{}
	for rows.Next() {
		var (
			n       model.Notification
			dossier sql.NullInt64
			readAt  sql.NullTime
		)
		if err := rows.Scan(&n.ID, &n.UserID, &dossier, &n.Kind, &n.Title, &n.Body, &readAt, &n.CreatedAt); err != nil {
			return nil, classify("scan notification", err)
		}
		n.DossierID = idPtr(dossier)
		n.ReadAt = timePtr(readAt)
		out = append(out, n)
	}
	return out, classify("list notifications", rows.Err())
}

// MarkRead sets read_at on one of the user's notifications.  A notification
// of another user is reported as not found.
func (r *NotificationRepo) MarkRead(ctx context.Context, userID, id uint64) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE notifications SET read_at = COALESCE(read_at, ?) WHERE id = ? AND user_id = ?`, nowUTC(), id, userID)
	if err != nil {
		return classify("mark notification read", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		var owner uint64
		err := r.DB.QueryRowContext(ctx, `SELECT user_id FROM notifications WHERE id = ? AND user_id = ?`, id, userID).Scan(&owner)
		return classify("mark notification read", err)
	}
	return nil
}
