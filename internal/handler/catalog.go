package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/dossier-workflow/internal/catalog"
	"github.com/iliyamo/dossier-workflow/internal/model"
)

// CatalogHandler serves the public product catalog and the admin catalog
// writes.  purge, when set, drops cached public responses after a write.
type CatalogHandler struct {
	errorResponder
	svc   *catalog.Service
	purge func(ctx context.Context) error
}

func NewCatalogHandler(svc *catalog.Service, purge func(ctx context.Context) error, log *zap.Logger) *CatalogHandler {
	return &CatalogHandler{errorResponder: errorResponder{log: log}, svc: svc, purge: purge}
}

// Products handles GET /v1/products.
func (h *CatalogHandler) Products(c echo.Context) error {
	ctx, cancel := requestCtx(c, requestTimeout)
	defer cancel()
	list, err := h.svc.Products(ctx, true)
	if err != nil {
		return h.fail(c, err)
	}
	if list == nil {
		list = []model.Product{}
	}
	return c.JSON(http.StatusOK, echo.Map{"items": list})
}

// ProductWorkflow handles GET /v1/products/:id/workflow.  Inactive
// products are not public.
func (h *CatalogHandler) ProductWorkflow(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := requestCtx(c, requestTimeout)
	defer cancel()
	wf, err := h.svc.ProductWorkflow(ctx, id)
	if err != nil {
		return h.fail(c, err)
	}
	if !wf.Product.Active {
		return h.fail(c, model.NotFoundf("product %d", id))
	}
	return c.JSON(http.StatusOK, wf)
}

// written purges the public cache and renders the created resource.
func (h *CatalogHandler) written(c echo.Context, status int, v any) error {
	if h.purge != nil {
		if err := h.purge(c.Request().Context()); err != nil {
			h.log.Warn("purge catalog cache failed", zap.Error(err))
		}
	}
	if v == nil {
		return c.NoContent(status)
	}
	return c.JSON(status, v)
}

// CreateProduct handles POST /v1/admin/products.
func (h *CatalogHandler) CreateProduct(c echo.Context) error {
	var req model.Product
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := requestCtx(c, requestTimeout)
	defer cancel()
	p, err := h.svc.CreateProduct(ctx, req)
	if err != nil {
		return h.fail(c, err)
	}
	return h.written(c, http.StatusCreated, p)
}

// CreateStep handles POST /v1/admin/steps.
func (h *CatalogHandler) CreateStep(c echo.Context) error {
	var req model.Step
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := requestCtx(c, requestTimeout)
	defer cancel()
	st, err := h.svc.CreateStep(ctx, req)
	if err != nil {
		return h.fail(c, err)
	}
	return h.written(c, http.StatusCreated, st)
}

type productStepReq struct {
	StepID   uint64 `json:"step_id"`
	Position int    `json:"position"`
}

// AddProductStep handles POST /v1/admin/products/:id/steps.  Position 0
// appends.
func (h *CatalogHandler) AddProductStep(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	var req productStepReq
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := requestCtx(c, requestTimeout)
	defer cancel()
	ps, err := h.svc.AddProductStep(ctx, id, req.StepID, req.Position)
	if err != nil {
		return h.fail(c, err)
	}
	return h.written(c, http.StatusCreated, ps)
}

type reorderReq struct {
	StepIDs []uint64 `json:"step_ids"`
}

// ReorderSteps handles PUT /v1/admin/products/:id/steps.
func (h *CatalogHandler) ReorderSteps(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	var req reorderReq
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := requestCtx(c, requestTimeout)
	defer cancel()
	list, err := h.svc.ReorderProductSteps(ctx, id, req.StepIDs)
	if err != nil {
		return h.fail(c, err)
	}
	return h.written(c, http.StatusOK, echo.Map{"items": list})
}

// AddStepField handles POST /v1/admin/steps/:id/fields.
func (h *CatalogHandler) AddStepField(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	var req model.StepField
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	req.StepID = id
	ctx, cancel := requestCtx(c, requestTimeout)
	defer cancel()
	f, err := h.svc.AddStepField(ctx, req)
	if err != nil {
		return h.fail(c, err)
	}
	return h.written(c, http.StatusCreated, f)
}

// CreateDocumentType handles POST /v1/admin/document-types.
func (h *CatalogHandler) CreateDocumentType(c echo.Context) error {
	var req model.DocumentType
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := requestCtx(c, requestTimeout)
	defer cancel()
	dt, err := h.svc.CreateDocumentType(ctx, req)
	if err != nil {
		return h.fail(c, err)
	}
	return h.written(c, http.StatusCreated, dt)
}

type attachReq struct {
	DocumentTypeID uint64 `json:"document_type_id"`
}

// AttachDocumentType handles POST /v1/admin/product-steps/:id/document-types.
func (h *CatalogHandler) AttachDocumentType(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	var req attachReq
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	if req.DocumentTypeID == 0 {
		return h.badRequest(c, "document_type_id required")
	}
	ctx, cancel := requestCtx(c, requestTimeout)
	defer cancel()
	if err := h.svc.AttachDocumentType(ctx, id, req.DocumentTypeID); err != nil {
		return h.fail(c, err)
	}
	return h.written(c, http.StatusNoContent, nil)
}

// Seed handles POST /v1/admin/catalog/seed with a YAML catalog as body.
func (h *CatalogHandler) Seed(c echo.Context) error {
	ctx, cancel := requestCtx(c, uploadTimeout)
	defer cancel()
	report, err := h.svc.Seed(ctx, c.Request().Body)
	if err != nil {
		return h.fail(c, err)
	}
	return h.written(c, http.StatusOK, report)
}
