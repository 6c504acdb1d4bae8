// Package queue defines the notification payload carried over RabbitMQ and
// the consumer that persists it.
package queue

import (
	"errors"
	"time"

	"github.com/iliyamo/dossier-workflow/internal/model"
)

// NotificationEvent is published after a workflow transaction commits and
// stored by the worker as a row of the user's notification bell.
type NotificationEvent struct {
	UserID     uint64                 `json:"user_id"`
	DossierID  *uint64                `json:"dossier_id,omitempty"`
	Kind       model.NotificationKind `json:"kind"`
	Title      string                 `json:"title"`
	Body       string                 `json:"body"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// EventFrom converts an engine notification into its wire form.
func EventFrom(n model.Notification, at time.Time) NotificationEvent {
	return NotificationEvent{
		UserID:     n.UserID,
		DossierID:  n.DossierID,
		Kind:       n.Kind,
		Title:      n.Title,
		Body:       n.Body,
		OccurredAt: at.UTC(),
	}
}

// Validate rejects events the worker cannot store.
func (ev NotificationEvent) Validate() error {
	switch {
	case ev.UserID == 0:
		return errors.New("missing user_id")
	case ev.Kind == "":
		return errors.New("missing kind")
	case ev.Title == "":
		return errors.New("missing title")
	}
	return nil
}

// Notification is the row the worker inserts.
func (ev NotificationEvent) Notification() model.Notification {
	n := model.Notification{
		UserID:    ev.UserID,
		DossierID: ev.DossierID,
		Kind:      ev.Kind,
		Title:     ev.Title,
		Body:      ev.Body,
		CreatedAt: ev.OccurredAt.UTC(),
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	return n
}
