package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/iliyamo/dossier-workflow/internal/middleware"
	"github.com/iliyamo/dossier-workflow/internal/model"
)

// Error codes returned in the "error" member of failure bodies.
const (
	codeValidation  = "validation_failed"
	codeNotFound    = "not_found"
	codeConflict    = "conflict"
	codeForbidden   = "forbidden"
	codeUnavailable = "service_unavailable"
	codeInternal    = "internal_error"
	codeBadRequest  = "bad_request"
	codeAuth        = "unauthorized"
)

var supportedLanguages = []language.Tag{language.English, language.French}

var languageMatcher = language.NewMatcher(supportedLanguages)

var messages = map[language.Tag]map[string]string{
	language.English: {
		codeValidation:  "Some values are invalid.",
		codeNotFound:    "The requested resource does not exist.",
		codeConflict:    "The resource was modified or is not in a state that allows this action.",
		codeForbidden:   "You are not allowed to perform this action.",
		codeUnavailable: "A dependency is temporarily unavailable. Please retry.",
		codeInternal:    "An unexpected error occurred.",
		codeBadRequest:  "The request is malformed.",
		codeAuth:        "Authentication failed.",
	},
	language.French: {
		codeValidation:  "Certaines valeurs sont invalides.",
		codeNotFound:    "La ressource demandée n'existe pas.",
		codeConflict:    "La ressource a été modifiée ou son état ne permet pas cette action.",
		codeForbidden:   "Vous n'êtes pas autorisé à effectuer cette action.",
		codeUnavailable: "Un service est momentanément indisponible. Veuillez réessayer.",
		codeInternal:    "Une erreur inattendue est survenue.",
		codeBadRequest:  "La requête est mal formée.",
		codeAuth:        "L'authentification a échoué.",
	},
}

// localize picks the message for code in the best language accepted by the
// client, falling back to English.
func localize(acceptLanguage, code string) string {
	tags, _, _ := language.ParseAcceptLanguage(acceptLanguage)
	_, idx, _ := languageMatcher.Match(tags...)
	if msg, ok := messages[supportedLanguages[idx]][code]; ok {
		return msg
	}
	return messages[language.English][code]
}

// errorResponder turns engine errors into HTTP responses.  It is embedded
// by every handler.
type errorResponder struct {
	log *zap.Logger
}

func classifyError(err error) (int, string) {
	var (
		verr *model.ValidationError
		derr *model.DependencyError
		herr *echo.HTTPError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity, codeValidation
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, model.ErrConflict):
		return http.StatusConflict, codeConflict
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden, codeForbidden
	case errors.As(err, &derr):
		return http.StatusServiceUnavailable, codeUnavailable
	case errors.As(err, &herr) && herr.Code == http.StatusUnauthorized:
		return herr.Code, codeAuth
	case errors.As(err, &herr) && herr.Code < 500:
		return herr.Code, codeBadRequest
	}
	return http.StatusInternalServerError, codeInternal
}

// fail writes {"error", "message", "fields"} for err.  "fields" carries
// language-neutral reason codes.  Staff callers also receive the English
// validation text as "reason" and the raw error text as "detail".
func (r errorResponder) fail(c echo.Context, err error) error {
	status, code := classifyError(err)
	body := echo.Map{
		"error":   code,
		"message": localize(c.Request().Header.Get("Accept-Language"), code),
	}
	p, authed := middleware.PrincipalFrom(c)
	staff := authed && p.Role.IsStaff()

	var verr *model.ValidationError
	if errors.As(err, &verr) {
		if len(verr.Fields) > 0 {
			body["fields"] = verr.Fields
		}
		if staff && verr.Message != "" {
			body["reason"] = verr.Message
		}
	}
	var herr *echo.HTTPError
	if errors.As(err, &herr) && status < 500 {
		body["reason"] = fmt.Sprint(herr.Message)
	}
	if staff {
		body["detail"] = err.Error()
	}
	if status == http.StatusServiceUnavailable {
		c.Response().Header().Set("Retry-After", "5")
	}
	if status >= 500 && r.log != nil {
		r.log.Error("request failed",
			zap.String("route", c.Path()),
			zap.String("request_id", middleware.RequestIDFrom(c)),
			zap.Error(err))
	}
	return c.JSON(status, body)
}

// badRequest reports a malformed request (unparseable body or parameter).
func (r errorResponder) badRequest(c echo.Context, msg string) error {
	return r.fail(c, echo.NewHTTPError(http.StatusBadRequest, msg))
}
