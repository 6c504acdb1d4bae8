package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/dossier-workflow/internal/config"
	"github.com/iliyamo/dossier-workflow/internal/middleware"
	"github.com/iliyamo/dossier-workflow/internal/model"
	"github.com/iliyamo/dossier-workflow/internal/repository"
	"github.com/iliyamo/dossier-workflow/internal/utils"
)

// UserStore is the subset of repository.UserRepo used by auth.
type UserStore interface {
	Create(ctx context.Context, email, password string, role model.Role, cost int) (uint64, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id uint64) (model.User, error)
}

// TokenStore is the subset of repository.TokenRepo used by auth.
type TokenStore interface {
	StoreRefresh(ctx context.Context, userID uint64, tokenHash string, exp time.Time) error
	ValidateRefresh(ctx context.Context, tokenHash string) (uint64, error)
	Rotate(ctx context.Context, userID uint64, oldHash, newHash string, exp time.Time) error
	RevokeByHash(ctx context.Context, tokenHash string) error
	RevokeAllForUser(ctx context.Context, userID uint64) error
}

// AuthHandler serves registration, login and token rotation.
type AuthHandler struct {
	errorResponder
	Cfg    config.Config
	Users  UserStore
	Tokens TokenStore
}

func NewAuthHandler(cfg config.Config, u UserStore, t TokenStore, log *zap.Logger) *AuthHandler {
	return &AuthHandler{errorResponder: errorResponder{log: log}, Cfg: cfg, Users: u, Tokens: t}
}

type credentialsReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}

type userPart struct {
	ID    uint64     `json:"id"`
	Email string     `json:"email"`
	Role  model.Role `json:"role"`
}

type authResp struct {
	User    userPart  `json:"user"`
	Access  tokenPart `json:"access"`
	Refresh tokenPart `json:"refresh"`
}

var errInvalidCredentials = echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")

// issue creates an access/refresh pair and stores the refresh hash.
func (h *AuthHandler) issue(ctx context.Context, u userPart) (authResp, error) {
	refresh, err := utils.NewRefreshToken(h.Cfg.RefreshTTLDays)
	if err != nil {
		return authResp{}, err
	}
	if err := h.Tokens.StoreRefresh(ctx, u.ID, utils.HashRefreshRaw(refresh.Raw), refresh.Exp); err != nil {
		return authResp{}, err
	}
	return h.pair(u, refresh)
}

// pair signs an access token for u to go with refresh.
func (h *AuthHandler) pair(u userPart, refresh utils.RefreshToken) (authResp, error) {
	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, u.ID, u.Role, h.Cfg.AccessTTLMin)
	if err != nil {
		return authResp{}, err
	}
	return authResp{
		User:    u,
		Access:  tokenPart{Token: access.Token, Expires: access.Exp},
		Refresh: tokenPart{Token: refresh.Raw, Expires: refresh.Exp},
	}, nil
}

// Register creates a CLIENT account and returns a token pair.  Staff
// accounts are created from the command line.
func (h *AuthHandler) Register(c echo.Context) error {
	var req credentialsReq
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if !strings.Contains(req.Email, "@") {
		return h.fail(c, &model.ValidationError{Message: "invalid email", Fields: map[string]string{"email": "invalid_email"}})
	}
	if err := utils.CheckPassword(req.Password); err != nil {
		return h.fail(c, &model.ValidationError{Message: err.Error(), Fields: map[string]string{"password": "too_short"}})
	}

	ctx, cancel := requestCtx(c, requestTimeout)
	defer cancel()

	uid, err := h.Users.Create(ctx, req.Email, req.Password, model.RoleClient, h.Cfg.BcryptCost)
	if errors.Is(err, repository.ErrEmailExists) {
		return h.fail(c, model.Conflictf("email already registered"))
	}
	if err != nil {
		return h.fail(c, err)
	}
	resp, err := h.issue(ctx, userPart{ID: uid, Email: req.Email, Role: model.RoleClient})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, resp)
}

// Login verifies credentials and returns a new token pair.
func (h *AuthHandler) Login(c echo.Context) error {
	var req credentialsReq
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		return h.badRequest(c, "email/password required")
	}

	ctx, cancel := requestCtx(c, requestTimeout)
	defer cancel()

	u, err := h.Users.GetByEmail(ctx, req.Email)
	if errors.Is(err, model.ErrNotFound) {
		return h.fail(c, errInvalidCredentials)
	}
	if err != nil {
		return h.fail(c, err)
	}
	if !u.IsActive || !utils.VerifyPassword(u.PasswordHash, req.Password) {
		return h.fail(c, errInvalidCredentials)
	}
	resp, err := h.issue(ctx, userPart{ID: u.ID, Email: u.Email, Role: u.Role})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// refreshUser resolves the owner of a raw refresh token.
func (h *AuthHandler) refreshUser(ctx context.Context, raw string) (model.User, string, error) {
	hash := utils.HashRefreshRaw(raw)
	uid, err := h.Tokens.ValidateRefresh(ctx, hash)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.User{}, "", echo.NewHTTPError(http.StatusUnauthorized, "invalid refresh")
		}
		return model.User{}, "", err
	}
	u, err := h.Users.GetByID(ctx, uid)
	if err != nil || !u.IsActive {
		return model.User{}, "", echo.NewHTTPError(http.StatusUnauthorized, "invalid refresh")
	}
	return u, hash, nil
}

// Refresh rotates a refresh token: the old one is revoked and a new pair
// returned.  Each refresh token can be used once.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := bind(c, &req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		return h.badRequest(c, "refresh_token required")
	}
	ctx, cancel := requestCtx(c, requestTimeout)
	defer cancel()

	u, hash, err := h.refreshUser(ctx, strings.TrimSpace(req.RefreshToken))
	if err != nil {
		return h.fail(c, err)
	}
	refresh, err := utils.NewRefreshToken(h.Cfg.RefreshTTLDays)
	if err != nil {
		return h.fail(c, err)
	}
	err = h.Tokens.Rotate(ctx, u.ID, hash, utils.HashRefreshRaw(refresh.Raw), refresh.Exp)
	if errors.Is(err, model.ErrNotFound) {
		// Lost a race with another refresh of the same token.
		return h.fail(c, echo.NewHTTPError(http.StatusUnauthorized, "invalid refresh"))
	}
	if err != nil {
		return h.fail(c, err)
	}
	resp, err := h.pair(userPart{ID: u.ID, Email: u.Email, Role: u.Role}, refresh)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// RefreshAccess returns a new access token without rotating the refresh
// token.
func (h *AuthHandler) RefreshAccess(c echo.Context) error {
	var req refreshReq
	if err := bind(c, &req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		return h.badRequest(c, "refresh_token required")
	}
	ctx, cancel := requestCtx(c, requestTimeout)
	defer cancel()

	u, _, err := h.refreshUser(ctx, strings.TrimSpace(req.RefreshToken))
	if err != nil {
		return h.fail(c, err)
	}
	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, u.ID, u.Role, h.Cfg.AccessTTLMin)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"access": tokenPart{Token: access.Token, Expires: access.Exp}})
}

// Logout revokes the refresh token in the body, or every refresh token of
// the bearer when the body carries none.
func (h *AuthHandler) Logout(c echo.Context) error {
	var req refreshReq
	_ = c.Bind(&req)
	raw := strings.TrimSpace(req.RefreshToken)

	ctx, cancel := requestCtx(c, requestTimeout)
	defer cancel()

	if raw != "" {
		_, hash, err := h.refreshUser(ctx, raw)
		if err != nil {
			return h.fail(c, err)
		}
		if err := h.Tokens.RevokeByHash(ctx, hash); err != nil {
			return h.fail(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}

	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	if !strings.HasPrefix(auth, "Bearer ") {
		return h.badRequest(c, "provide Authorization header or refresh_token")
	}
	p, err := middleware.ParseAccessToken(h.Cfg.JWTSecret, strings.TrimPrefix(auth, "Bearer "))
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	if err := h.Tokens.RevokeAllForUser(ctx, p.UserID); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Me returns the authenticated account.
func (h *AuthHandler) Me(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := requestCtx(c, requestTimeout)
	defer cancel()
	u, err := h.Users.GetByID(ctx, p.UserID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, userPart{ID: u.ID, Email: u.Email, Role: u.Role})
}
