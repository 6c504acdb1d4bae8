package handler

import (
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/dossier-workflow/internal/model"
	"github.com/iliyamo/dossier-workflow/internal/workflow"
)

// AdminHandler serves the back-office routes under /v1/admin.
type AdminHandler struct {
	errorResponder
	wf workflow.AdminFacing
}

func NewAdminHandler(wf workflow.AdminFacing, log *zap.Logger) *AdminHandler {
	return &AdminHandler{errorResponder: errorResponder{log: log}, wf: wf}
}

type statusReq struct {
	Status model.DossierStatus `json:"status"`
}

type reasonReq struct {
	Reason string `json:"reason"`
	Note   string `json:"note"`
}

type reassignReq struct {
	AgentID        *uint64 `json:"agent_id"`
	StepInstanceID *uint64 `json:"step_instance_id"`
}

// CreateDossier handles POST /v1/admin/dossiers.
func (h *AdminHandler) CreateDossier(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return h.fail(c, err)
	}
	var req workflow.NewDossier
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := requestCtx(c, requestTimeout)
	defer cancel()
	d, err := h.wf.CreateDossier(ctx, p, req)
	if err != nil {
		return h.fail(c, err)
	}
	withETag(c, d.Version)
	return c.JSON(http.StatusCreated, d)
}

// ListDossiers handles GET /v1/admin/dossiers?status=&agent_id=&owner_id=&limit=.
func (h *AdminHandler) ListDossiers(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return h.fail(c, err)
	}
	f := model.DossierFilter{Status: model.DossierStatus(strings.ToUpper(c.QueryParam("status")))}
	for name, dst := range map[string]*uint64{"agent_id": &f.AssignedAgentID, "owner_id": &f.OwnerID} {
		id, err := optionalID(c.QueryParam(name), name)
		if err != nil {
			return h.fail(c, err)
		}
		if id != nil {
			*dst = *id
		}
	}
	f.Limit, _ = strconv.Atoi(c.QueryParam("limit"))

	ctx, cancel := requestCtx(c, requestTimeout)
	defer cancel()
	list, err := h.wf.ListDossiers(ctx, p, f)
	if err != nil {
		return h.fail(c, err)
	}
	if list == nil {
		list = []model.Dossier{}
	}
	return c.JSON(http.StatusOK, echo.Map{"items": list})
}

// SetStatus handles PUT /v1/admin/dossiers/:id/status.
func (h *AdminHandler) SetStatus(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return h.fail(c, err)
	}
	id, err := pathID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	var req statusReq
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := requestCtx(c, requestTimeout)
	defer cancel()
	d, err := h.wf.SetDossierStatus(ctx, p, id, model.DossierStatus(strings.ToUpper(string(req.Status))))
	if err != nil {
		return h.fail(c, err)
	}
	withETag(c, d.Version)
	return c.JSON(http.StatusOK, d)
}

// Cancel handles POST /v1/admin/dossiers/:id/cancel.
func (h *AdminHandler) Cancel(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return h.fail(c, err)
	}
	id, err := pathID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	var req reasonReq
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := requestCtx(c, requestTimeout)
	defer cancel()
	d, err := h.wf.CancelDossier(ctx, p, id, req.Reason)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, d)
}

// Reassign handles PUT /v1/admin/dossiers/:id/agent.  A null agent_id
// clears the assignment.
func (h *AdminHandler) Reassign(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return h.fail(c, err)
	}
	id, err := pathID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	var req reassignReq
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := requestCtx(c, requestTimeout)
	defer cancel()
	if err := h.wf.ReassignAgent(ctx, p, id, req.StepInstanceID, req.AgentID); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// AuditTrail handles GET /v1/admin/dossiers/:id/audit.
func (h *AdminHandler) AuditTrail(c echo.Context) error {
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
	entries, err := h.wf.AuditTrail(ctx, p, id)
	if err != nil {
		return h.fail(c, err)
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	return c.JSON(http.StatusOK, echo.Map{"items": entries})
}

// instanceOp handles the review routes that take an optional reason (or
// note) and the If-Match version.  op returns the resource and its new
// version, 0 when the resource carries none.
func (h *AdminHandler) instanceOp(c echo.Context, op func(p model.Principal, id uint64, reason string, version int64) (any, int64, error)) error {
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
	var req reasonReq
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	text := req.Reason
	if text == "" {
		text = req.Note
	}
	out, newVersion, err := op(p, id, text, version)
	if err != nil {
		return h.fail(c, err)
	}
	if newVersion > 0 {
		withETag(c, newVersion)
	}
	return c.JSON(http.StatusOK, out)
}

// StartReview handles POST /v1/admin/step-instances/:id/review.
func (h *AdminHandler) StartReview(c echo.Context) error {
	ctx, cancel := requestCtx(c, requestTimeout)
	defer cancel()
	return h.instanceOp(c, func(p model.Principal, id uint64, _ string, v int64) (any, int64, error) {
		si, err := h.wf.StartReview(ctx, p, id, v)
		return si, si.Version, err
	})
}

// ApproveStep handles POST /v1/admin/step-instances/:id/approve.
func (h *AdminHandler) ApproveStep(c echo.Context) error {
	ctx, cancel := requestCtx(c, requestTimeout)
	defer cancel()
	return h.instanceOp(c, func(p model.Principal, id uint64, _ string, v int64) (any, int64, error) {
		si, err := h.wf.ApproveStep(ctx, p, id, v)
		return si, si.Version, err
	})
}

// RejectStep handles POST /v1/admin/step-instances/:id/reject.
func (h *AdminHandler) RejectStep(c echo.Context) error {
	ctx, cancel := requestCtx(c, requestTimeout)
	defer cancel()
	return h.instanceOp(c, func(p model.Principal, id uint64, reason string, v int64) (any, int64, error) {
		si, err := h.wf.RejectStep(ctx, p, id, reason, v)
		return si, si.Version, err
	})
}

// CompleteStep handles POST /v1/admin/step-instances/:id/complete.
func (h *AdminHandler) CompleteStep(c echo.Context) error {
	ctx, cancel := requestCtx(c, requestTimeout)
	defer cancel()
	return h.instanceOp(c, func(p model.Principal, id uint64, _ string, _ int64) (any, int64, error) {
		si, err := h.wf.CompleteStep(ctx, p, id)
		return si, si.Version, err
	})
}

// ForceComplete handles POST /v1/admin/step-instances/:id/force-complete.
func (h *AdminHandler) ForceComplete(c echo.Context) error {
	ctx, cancel := requestCtx(c, requestTimeout)
	defer cancel()
	return h.instanceOp(c, func(p model.Principal, id uint64, note string, _ int64) (any, int64, error) {
		si, err := h.wf.ForceCompleteStep(ctx, p, id, note)
		return si, si.Version, err
	})
}

// fieldOp handles the per-field review routes.
func (h *AdminHandler) fieldOp(c echo.Context, reject bool) error {
	fieldID, err := pathID(c, "field_id")
	if err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := requestCtx(c, requestTimeout)
	defer cancel()
	return h.instanceOp(c, func(p model.Principal, id uint64, reason string, v int64) (any, int64, error) {
		var (
			val model.StepFieldValue
			err error
		)
		if reject {
			val, err = h.wf.RejectField(ctx, p, id, fieldID, reason, v)
		} else {
			val, err = h.wf.ApproveField(ctx, p, id, fieldID, v)
		}
		return val, 0, err
	})
}

// ApproveField handles POST /v1/admin/step-instances/:id/fields/:field_id/approve.
func (h *AdminHandler) ApproveField(c echo.Context) error { return h.fieldOp(c, false) }

// RejectField handles POST /v1/admin/step-instances/:id/fields/:field_id/reject.
func (h *AdminHandler) RejectField(c echo.Context) error { return h.fieldOp(c, true) }

// documentOp handles the document review routes.
func (h *AdminHandler) documentOp(c echo.Context, op func(p model.Principal, id uint64, reason string, v int64) (model.Document, error)) error {
	return h.instanceOp(c, func(p model.Principal, id uint64, reason string, v int64) (any, int64, error) {
		d, err := op(p, id, reason, v)
		return d, d.Version, err
	})
}

// ApproveDocument handles POST /v1/admin/documents/:id/approve.
func (h *AdminHandler) ApproveDocument(c echo.Context) error {
	ctx, cancel := requestCtx(c, requestTimeout)
	defer cancel()
	return h.documentOp(c, func(p model.Principal, id uint64, _ string, v int64) (model.Document, error) {
		return h.wf.ApproveDocument(ctx, p, id, v)
	})
}

// RejectDocument handles POST /v1/admin/documents/:id/reject.
func (h *AdminHandler) RejectDocument(c echo.Context) error {
	ctx, cancel := requestCtx(c, requestTimeout)
	defer cancel()
	return h.documentOp(c, func(p model.Principal, id uint64, reason string, v int64) (model.Document, error) {
		return h.wf.RejectDocument(ctx, p, id, reason, v)
	})
}

// MarkOutdated handles POST /v1/admin/documents/:id/outdated.
func (h *AdminHandler) MarkOutdated(c echo.Context) error {
	ctx, cancel := requestCtx(c, requestTimeout)
	defer cancel()
	return h.documentOp(c, func(p model.Principal, id uint64, _ string, _ int64) (model.Document, error) {
		return h.wf.MarkDocumentOutdated(ctx, p, id)
	})
}

// Deliver handles the multipart POST /v1/admin/dossiers/:id/deliveries.
// Each file part is named files[<document_type_id>]; "message" and
// "step_instance_id" are optional form values.
func (h *AdminHandler) Deliver(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return h.fail(c, err)
	}
	id, err := pathID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	form, err := c.MultipartForm()
	if err != nil {
		return h.badRequest(c, "multipart form required")
	}
	instanceID, err := optionalID(c.FormValue("step_instance_id"), "step_instance_id")
	if err != nil {
		return h.fail(c, err)
	}

	keys := make([]string, 0, len(form.File))
	for k := range form.File {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	in := workflow.Delivery{DossierID: id, StepInstanceID: instanceID, Message: c.FormValue("message")}
	var open []io.Closer
	defer func() {
		for _, f := range open {
			_ = f.Close()
		}
	}()
	for _, k := range keys {
		raw, ok := strings.CutPrefix(k, "files[")
		raw, ok2 := strings.CutSuffix(raw, "]")
		typeID, err := strconv.ParseUint(raw, 10, 64)
		if !ok || !ok2 || err != nil || typeID == 0 {
			return h.badRequest(c, "file parts must be named files[<document_type_id>]")
		}
		for _, fh := range form.File[k] {
			f, err := fh.Open()
			if err != nil {
				return h.badRequest(c, "unreadable file")
			}
			open = append(open, f)
			in.Files = append(in.Files, workflow.DeliveryFile{
				DocumentTypeID: typeID,
				FileName:       fh.Filename,
				ContentType:    fh.Header.Get(echo.HeaderContentType),
				Body:           f,
			})
		}
	}
	if len(in.Files) == 0 {
		return h.badRequest(c, "at least one file required")
	}

	ctx, cancel := requestCtx(c, uploadTimeout)
	defer cancel()
	res, err := h.wf.DeliverDocuments(ctx, p, in)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"items": res})
}
