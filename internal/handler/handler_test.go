package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/dossier-workflow/internal/model"
)

func newContext(method, target string, header map[string]string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestLocalize(t *testing.T) {
	cases := []struct {
		accept string
		want   string
	}{
		{"", "The requested resource does not exist."},
		{"fr-CA,fr;q=0.9,en;q=0.5", "La ressource demandée n'existe pas."},
		{"de-DE", "The requested resource does not exist."},
		{"en-GB;q=0.2, fr;q=0.8", "La ressource demandée n'existe pas."},
	}
	for _, tc := range cases {
		if got := localize(tc.accept, codeNotFound); got != tc.want {
			t.Errorf("localize(%q) = %q, want %q", tc.accept, got, tc.want)
		}
	}
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{&model.ValidationError{Message: "bad"}, http.StatusUnprocessableEntity, codeValidation},
		{model.NotFoundf("dossier %d", 1), http.StatusNotFound, codeNotFound},
		{model.Conflictf("stale"), http.StatusConflict, codeConflict},
		{fmt.Errorf("%w: staff only", model.ErrForbidden), http.StatusForbidden, codeForbidden},
		{&model.DependencyError{Op: "get dossier", Err: errors.New("refused")}, http.StatusServiceUnavailable, codeUnavailable},
		{echo.NewHTTPError(http.StatusUnauthorized, "nope"), http.StatusUnauthorized, codeAuth},
		{echo.NewHTTPError(http.StatusBadRequest, "invalid id"), http.StatusBadRequest, codeBadRequest},
		{errors.New("boom"), http.StatusInternalServerError, codeInternal},
	}
	for _, tc := range cases {
		status, code := classifyError(tc.err)
		if status != tc.status || code != tc.code {
			t.Errorf("classifyError(%v) = %d %s, want %d %s", tc.err, status, code, tc.status, tc.code)
		}
	}
}

func TestFailBody(t *testing.T) {
	r := errorResponder{}

	c, rec := newContext(http.MethodGet, "/", map[string]string{"Accept-Language": "fr"})
	_ = r.fail(c, &model.DependencyError{Op: "get dossier", Err: errors.New("refused")})
	if rec.Code != http.StatusServiceUnavailable || rec.Header().Get("Retry-After") != "5" {
		t.Fatalf("expected 503 with Retry-After, got %d %q", rec.Code, rec.Header().Get("Retry-After"))
	}
	if strings.Contains(rec.Body.String(), "refused") {
		t.Fatalf("clients must not see internal detail: %s", rec.Body.String())
	}

	c, rec = newContext(http.MethodGet, "/", nil)
	c.Set("principal", model.Principal{UserID: 3, Role: model.RoleAgent})
	_ = r.fail(c, &model.ValidationError{Message: "reason too short", Fields: map[string]string{"reason": "too_short"}})
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != codeValidation || body["detail"] == nil || body["reason"] != "reason too short" {
		t.Fatalf("unexpected staff body %v", body)
	}
	if fields, _ := body["fields"].(map[string]any); fields["reason"] != "too_short" {
		t.Fatalf("fields missing: %v", body)
	}

	c, rec = newContext(http.MethodPost, "/", map[string]string{"Accept-Language": "fr"})
	c.Set("principal", model.Principal{UserID: 1, Role: model.RoleClient})
	_ = r.fail(c, &model.ValidationError{
		Message: "allowed extensions: pdf, png",
		Fields:  map[string]string{"file": "extension_not_allowed"},
	})
	body = map[string]any{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := body["reason"]; ok {
		t.Fatalf("clients get no untranslated reason text: %v", body)
	}
	if body["message"] != localize("fr", codeValidation) {
		t.Fatalf("expected the French message, got %v", body["message"])
	}
	if fields, _ := body["fields"].(map[string]any); fields["file"] != "extension_not_allowed" {
		t.Fatalf("reason codes must still reach clients: %v", body)
	}
}

func TestIfMatch(t *testing.T) {
	cases := []struct {
		header string
		want   int64
		ok     bool
	}{
		{"", 0, true},
		{"*", 0, true},
		{`"4"`, 4, true},
		{`W/"12"`, 12, true},
		{"7", 7, true},
		{`"abc"`, 0, false},
		{`"-1"`, 0, false},
	}
	for _, tc := range cases {
		c, _ := newContext(http.MethodPost, "/", map[string]string{"If-Match": tc.header})
		got, err := ifMatch(c)
		if (err == nil) != tc.ok || got != tc.want {
			t.Errorf("ifMatch(%q) = %d, %v", tc.header, got, err)
		}
	}
}

func TestOptionalID(t *testing.T) {
	for _, raw := range []string{"", "0", "  "} {
		if id, err := optionalID(raw, "x"); err != nil || id != nil {
			t.Errorf("optionalID(%q) = %v, %v; want absent", raw, id, err)
		}
	}
	if id, err := optionalID("42", "x"); err != nil || id == nil || *id != 42 {
		t.Fatalf("optionalID(42) = %v, %v", id, err)
	}
	if _, err := optionalID("x1", "x"); err == nil {
		t.Fatalf("expected error for non-numeric id")
	}
}

type recordingNotes struct {
	unread bool
	limit  int
	marked uint64
}

func (n *recordingNotes) ListForUser(_ context.Context, _ uint64, unreadOnly bool, limit int) ([]model.Notification, error) {
	n.unread, n.limit = unreadOnly, limit
	return []model.Notification{{ID: 1, Title: "Step approved"}}, nil
}

func (n *recordingNotes) MarkRead(_ context.Context, _ uint64, id uint64) error {
	if id == 99 {
		return model.NotFoundf("notification %d", id)
	}
	n.marked = id
	return nil
}

func TestNotificationRoutes(t *testing.T) {
	notes := &recordingNotes{}
	h := NewClientHandler(nil, notes, nil)
	client := model.Principal{UserID: 5, Role: model.RoleClient}

	c, rec := newContext(http.MethodGet, "/v1/notifications?unread=true&limit=5", nil)
	c.Set("principal", client)
	if err := h.Notifications(c); err != nil {
		t.Fatalf("notifications: %v", err)
	}
	if rec.Code != http.StatusOK || !notes.unread || notes.limit != 5 {
		t.Fatalf("unexpected call: code=%d unread=%v limit=%d", rec.Code, notes.unread, notes.limit)
	}

	c, rec = newContext(http.MethodPost, "/", nil)
	c.Set("principal", client)
	c.SetParamNames("id")
	c.SetParamValues("7")
	_ = h.MarkNotificationRead(c)
	if rec.Code != http.StatusNoContent || notes.marked != 7 {
		t.Fatalf("mark read: code=%d marked=%d", rec.Code, notes.marked)
	}

	c, rec = newContext(http.MethodPost, "/", nil)
	c.Set("principal", client)
	c.SetParamNames("id")
	c.SetParamValues("99")
	_ = h.MarkNotificationRead(c)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a foreign notification, got %d", rec.Code)
	}

	c, rec = newContext(http.MethodGet, "/v1/notifications", nil)
	_ = h.Notifications(c)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without principal, got %d", rec.Code)
	}
}
