package handler

import (
	"mime"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/dossier-workflow/internal/workflow"
)

// FilesHandler serves signed download links.  The token is the credential,
// so the route is not behind JWTAuth.
type FilesHandler struct {
	errorResponder
	wf workflow.ClientFacing
}

func NewFilesHandler(wf workflow.ClientFacing, log *zap.Logger) *FilesHandler {
	return &FilesHandler{errorResponder: errorResponder{log: log}, wf: wf}
}

// Download handles GET /files/:token.
func (h *FilesHandler) Download(c echo.Context) error {
	ctx, cancel := requestCtx(c, uploadTimeout)
	defer cancel()
	v, body, err := h.wf.OpenSignedFile(ctx, c.Param("token"))
	if err != nil {
		return h.fail(c, err)
	}
	defer body.Close()

	hdr := c.Response().Header()
	hdr.Set(echo.HeaderContentDisposition, mime.FormatMediaType("attachment", map[string]string{"filename": v.FileName}))
	hdr.Set(echo.HeaderContentLength, strconv.FormatInt(v.SizeBytes, 10))
	hdr.Set("Cache-Control", "private, no-store")
	return c.Stream(http.StatusOK, v.MimeType, body)
}
