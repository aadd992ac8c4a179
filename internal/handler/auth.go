package handler

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/task-management-api/internal/config"
	"github.com/iliyamo/task-management-api/internal/repository"
	"github.com/iliyamo/task-management-api/internal/utils"
)

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Cfg      config.Config
	Users    *repository.UserRepo
	Sessions *repository.SessionRepo
}

func NewAuthHandler(cfg config.Config, u *repository.UserRepo, s *repository.SessionRepo) *AuthHandler {
	return &AuthHandler{Cfg: cfg, Users: u, Sessions: s}
}

// ----- DTOs -----

type registerReq struct {
	Email    string `json:"email" validate:"required,email"`
	Username string `json:"username" validate:"required,min=3,max=100"`
	Password string `json:"password" validate:"required,min=8,max=100"`
	FullName string `json:"full_name" validate:"omitempty,max=255"`
}
type loginReq struct {
	// Username accepts either the username or the email address.
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}
type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}

type userResp struct {
	ID        uint64    `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	FullName  string    `json:"full_name,omitempty"`
	Role      string    `json:"role"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
type tokenResp struct {
	AccessToken    string    `json:"access_token"`
	AccessExpires  time.Time `json:"access_expires"`
	RefreshToken   string    `json:"refresh_token"`
	RefreshExpires time.Time `json:"refresh_expires"`
	TokenType      string    `json:"token_type"`
}

func toUserResp(u repository.User) userResp {
	return userResp{
		ID:        u.ID,
		Email:     u.Email,
		Username:  u.Username,
		FullName:  u.FullName,
		Role:      u.Role,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// Register: create a user with role 'user' and return the stored record.
// The password never appears in the response or the logs.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if err := c.Validate(&req); err != nil {
		return respondValidation(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.Create(ctx, req.Email, req.Username, req.Password, req.FullName, h.Cfg.BcryptCost)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, toUserResp(u))
}

// Login: verify credentials and open a fresh refresh-session chain.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if err := c.Validate(&req); err != nil {
		return respondValidation(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.VerifyCredentials(ctx, req.Username, req.Password)
	if err != nil {
		return respondError(c, err)
	}

	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, u.ID, u.Role, h.Cfg.AccessTTLMin)
	if err != nil {
		return respondError(c, err)
	}
	refresh, err := utils.NewRefreshToken(h.Cfg.RefreshTTLDays)
	if err != nil {
		return respondError(c, err)
	}
	if _, err := h.Sessions.Create(ctx, u.ID, utils.HashRefreshRaw(refresh.Raw), refresh.Exp); err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, tokenResp{
		AccessToken:    access.Token,
		AccessExpires:  access.Exp,
		RefreshToken:   refresh.Raw, // raw back to client; DB only holds the hash
		RefreshExpires: refresh.Exp,
		TokenType:      "bearer",
	})
}

// Refresh: redeem a refresh token exactly once for a new pair. Presenting
// an already-redeemed token is treated as theft: the whole session chain
// is revoked so both the thief and the legitimate holder must log in
// again.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "refresh_token required"})
	}
	hash := utils.HashRefreshRaw(strings.TrimSpace(req.RefreshToken))

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	s, err := h.Sessions.GetByTokenHash(ctx, hash)
	if err != nil {
		return respondError(c, err)
	}
	if s.Redeemed() {
		log.Printf("auth: refresh token reuse detected user=%d chain=%s", s.UserID, s.RootID)
		if err := h.Sessions.RevokeChain(ctx, s.RootID); err != nil {
			log.Printf("auth: chain revocation failed chain=%s: %v", s.RootID, err)
		}
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh token"})
	}
	if !s.Usable(time.Now().UTC()) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh token"})
	}

	u, err := h.Users.GetByID(ctx, s.UserID)
	if err != nil {
		return respondError(c, err)
	}
	if !u.IsActive {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh token"})
	}

	newRefresh, err := utils.NewRefreshToken(h.Cfg.RefreshTTLDays)
	if err != nil {
		return respondError(c, err)
	}
	if _, err := h.Sessions.Redeem(ctx, s, utils.HashRefreshRaw(newRefresh.Raw), newRefresh.Exp); err != nil {
		if err == repository.ErrSessionReused {
			// Lost a race against another redemption of the same token:
			// same escalation as a detected replay.
			log.Printf("auth: concurrent refresh redemption user=%d chain=%s", s.UserID, s.RootID)
			if err := h.Sessions.RevokeChain(ctx, s.RootID); err != nil {
				log.Printf("auth: chain revocation failed chain=%s: %v", s.RootID, err)
			}
		}
		return respondError(c, err)
	}

	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, u.ID, u.Role, h.Cfg.AccessTTLMin)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, tokenResp{
		AccessToken:    access.Token,
		AccessExpires:  access.Exp,
		RefreshToken:   newRefresh.Raw,
		RefreshExpires: newRefresh.Exp,
		TokenType:      "bearer",
	})
}

// Logout: revoke the caller's refresh session(s). With a refresh_token in
// the body only that session dies; without one every active session of
// the caller is revoked. Requires a valid access token (wired behind the
// JWT middleware). No successor session is created.
func (h *AuthHandler) Logout(c echo.Context) error {
	a, err := getActor(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	var req refreshReq
	_ = c.Bind(&req) // body is optional
	refreshToken := strings.TrimSpace(req.RefreshToken)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if refreshToken != "" {
		hash := utils.HashRefreshRaw(refreshToken)
		s, err := h.Sessions.GetByTokenHash(ctx, hash)
		if err != nil {
			return respondError(c, err)
		}
		if s.UserID != a.UserID && !a.admin() {
			// Someone else's token: behave as if it did not exist.
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh token"})
		}
		if err := h.Sessions.RevokeByTokenHash(ctx, hash); err != nil {
			return respondError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}

	if err := h.Sessions.RevokeAllForUser(ctx, a.UserID); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Me: simple protected endpoint returning the acting identity.
func (h *AuthHandler) Me(c echo.Context) error {
	a, err := getActor(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	u, err := h.Users.GetByID(ctx, a.UserID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toUserResp(u))
}
