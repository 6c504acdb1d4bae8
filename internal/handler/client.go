package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/dossier-workflow/internal/model"
	"github.com/iliyamo/dossier-workflow/internal/workflow"
)

// NotificationStore is the subset of repository.NotificationRepo read by
// clients.
type NotificationStore interface {
	ListForUser(ctx context.Context, userID uint64, unreadOnly bool, limit int) ([]model.Notification, error)
	MarkRead(ctx context.Context, userID, id uint64) error
}

// ClientHandler serves the dossier, step and document routes available to
// every authenticated role.
type ClientHandler struct {
	errorResponder
	wf    workflow.ClientFacing
	notes NotificationStore
}

func NewClientHandler(wf workflow.ClientFacing, notes NotificationStore, log *zap.Logger) *ClientHandler {
	return &ClientHandler{errorResponder: errorResponder{log: log}, wf: wf, notes: notes}
}

type valuesReq struct {
	Values map[string]any `json:"values"`
}

type advanceReq struct {
	StepID uint64 `json:"step_id"`
}

// ListDossiers handles GET /v1/dossiers.
func (h *ClientHandler) ListDossiers(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := requestCtx(c, requestTimeout)
	defer cancel()
	list, err := h.wf.Dossiers(ctx, p)
	if err != nil {
		return h.fail(c, err)
	}
	if list == nil {
		list = []model.Dossier{}
	}
	return c.JSON(http.StatusOK, echo.Map{"items": list})
}

// Workflow handles GET /v1/dossiers/:id/workflow.
func (h *ClientHandler) Workflow(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return h.fail(c, err)
	}
	id, err := pathID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := requestCtx(c, requestTimeout)
	defer cancel()
	wf, err := h.wf.Workflow(ctx, p, id)
	if err != nil {
		return h.fail(c, err)
	}
	withETag(c, wf.Dossier.Version)
	return c.JSON(http.StatusOK, wf)
}

// Progress handles GET /v1/dossiers/:id/progress.
func (h *ClientHandler) Progress(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return h.fail(c, err)
	}
	id, err := pathID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := requestCtx(c, requestTimeout)
	defer cancel()
	pr, err := h.wf.Progress(ctx, p, id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, pr)
}

// OpenStep handles POST /v1/dossiers/:id/steps/:step_id: the step instance
// is returned, created on first access.
func (h *ClientHandler) OpenStep(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return h.fail(c, err)
	}
	id, err := pathID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	stepID, err := pathID(c, "step_id")
	if err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := requestCtx(c, requestTimeout)
	defer cancel()
	si, err := h.wf.GetOrCreateStepInstance(ctx, p, id, stepID)
	if err != nil {
		return h.fail(c, err)
	}
	withETag(c, si.Version)
	return c.JSON(http.StatusOK, si)
}

// Advance handles POST /v1/dossiers/:id/advance.
func (h *ClientHandler) Advance(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return h.fail(c, err)
	}
	id, err := pathID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	var req advanceReq
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	if req.StepID == 0 {
		return h.badRequest(c, "step_id required")
	}
	ctx, cancel := requestCtx(c, requestTimeout)
	defer cancel()
	si, err := h.wf.AdvanceTo(ctx, p, id, req.StepID)
	if err != nil {
		return h.fail(c, err)
	}
	withETag(c, si.Version)
	return c.JSON(http.StatusOK, si)
}

// StepDetail handles GET /v1/step-instances/:id.
func (h *ClientHandler) StepDetail(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return h.fail(c, err)
	}
	id, err := pathID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := requestCtx(c, requestTimeout)
	defer cancel()
	d, err := h.wf.StepDetail(ctx, p, id)
	if err != nil {
		return h.fail(c, err)
	}
	withETag(c, d.Instance.Version)
	return c.JSON(http.StatusOK, d)
}

// stepWrite runs one of the value-writing operations.
func (h *ClientHandler) stepWrite(c echo.Context, op func(ctx context.Context, p model.Principal, id uint64, values map[string]any, version int64) (model.StepInstance, error)) error {
	p, err := principal(c)
	if err != nil {
		return h.fail(c, err)
	}
	id, err := pathID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	version, err := ifMatch(c)
	if err != nil {
		return h.fail(c, err)
	}
	var req valuesReq
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := requestCtx(c, requestTimeout)
	defer cancel()
	si, err := op(ctx, p, id, req.Values, version)
	if err != nil {
		return h.fail(c, err)
	}
	withETag(c, si.Version)
	return c.JSON(http.StatusOK, si)
}

// SaveDraft handles PUT /v1/step-instances/:id/draft.
func (h *ClientHandler) SaveDraft(c echo.Context) error {
	return h.stepWrite(c, func(ctx context.Context, p model.Principal, id uint64, values map[string]any, _ int64) (model.StepInstance, error) {
		return h.wf.SaveDraft(ctx, p, id, values)
	})
}

// Submit handles POST /v1/step-instances/:id/submit.
func (h *ClientHandler) Submit(c echo.Context) error {
	return h.stepWrite(c, h.wf.Submit)
}

// Resubmit handles POST /v1/step-instances/:id/resubmit.
func (h *ClientHandler) Resubmit(c echo.Context) error {
	return h.stepWrite(c, h.wf.Resubmit)
}

// Upload handles the multipart POST /v1/documents.
func (h *ClientHandler) Upload(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return h.fail(c, err)
	}
	dossierID, err := optionalID(c.FormValue("dossier_id"), "dossier_id")
	if err != nil {
		return h.fail(c, err)
	}
	typeID, err := optionalID(c.FormValue("document_type_id"), "document_type_id")
	if err != nil {
		return h.fail(c, err)
	}
	if dossierID == nil || typeID == nil {
		return h.badRequest(c, "dossier_id and document_type_id required")
	}
	instanceID, err := optionalID(c.FormValue("step_instance_id"), "step_instance_id")
	if err != nil {
		return h.fail(c, err)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return h.badRequest(c, "file required")
	}
	f, err := fh.Open()
	if err != nil {
		return h.badRequest(c, "unreadable file")
	}
	defer f.Close()

	ctx, cancel := requestCtx(c, uploadTimeout)
	defer cancel()
	res, err := h.wf.UploadDocument(ctx, p, workflow.UploadInput{
		DossierID:      *dossierID,
		DocumentTypeID: *typeID,
		StepInstanceID: instanceID,
		FileName:       fh.Filename,
		ContentType:    fh.Header.Get(echo.HeaderContentType),
		Body:           f,
	})
	if err != nil {
		return h.fail(c, err)
	}
	withETag(c, res.Document.Version)
	return c.JSON(http.StatusCreated, res)
}

// Documents handles GET /v1/dossiers/:id/documents.
func (h *ClientHandler) Documents(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return h.fail(c, err)
	}
	id, err := pathID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := requestCtx(c, requestTimeout)
	defer cancel()
	docs, err := h.wf.Documents(ctx, p, id)
	if err != nil {
		return h.fail(c, err)
	}
	if docs == nil {
		docs = []model.Document{}
	}
	return c.JSON(http.StatusOK, echo.Map{"items": docs})
}

// Versions handles GET /v1/documents/:id/versions.
func (h *ClientHandler) Versions(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return h.fail(c, err)
	}
	id, err := pathID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := requestCtx(c, requestTimeout)
	defer cancel()
	versions, err := h.wf.DocumentVersions(ctx, p, id)
	if err != nil {
		return h.fail(c, err)
	}
	if versions == nil {
		versions = []model.DocumentVersion{}
	}
	return c.JSON(http.StatusOK, echo.Map{"items": versions})
}

// ViewDocument handles GET /v1/documents/:id/view.
func (h *ClientHandler) ViewDocument(c echo.Context) error {
	return h.view(c, h.wf.ViewDocument)
}

// ViewVersion handles GET /v1/document-versions/:id/view.
func (h *ClientHandler) ViewVersion(c echo.Context) error {
	return h.view(c, h.wf.ViewDocumentVersion)
}

func (h *ClientHandler) view(c echo.Context, op func(context.Context, model.Principal, uint64) (workflow.SignedFile, error)) error {
	p, err := principal(c)
	if err != nil {
		return h.fail(c, err)
	}
	id, err := pathID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := requestCtx(c, requestTimeout)
	defer cancel()
	sf, err := op(ctx, p, id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, sf)
}

// Notifications handles GET /v1/notifications?unread=true&limit=N.
func (h *ClientHandler) Notifications(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return h.fail(c, err)
	}
	unread, _ := strconv.ParseBool(c.QueryParam("unread"))
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	ctx, cancel := requestCtx(c, requestTimeout)
	defer cancel()
	list, err := h.notes.ListForUser(ctx, p.UserID, unread, limit)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": list})
}

// MarkNotificationRead handles POST /v1/notifications/:id/read.
func (h *ClientHandler) MarkNotificationRead(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return h.fail(c, err)
	}
	id, err := pathID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := requestCtx(c, requestTimeout)
	defer cancel()
	if err := h.notes.MarkRead(ctx, p.UserID, id); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
