package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/maisonluxe/storefront/internal/api/dto"
	"github.com/maisonluxe/storefront/internal/auth"
	"github.com/maisonluxe/storefront/internal/service"
	"github.com/maisonluxe/storefront/internal/session"
	apperrors "github.com/maisonluxe/storefront/pkg/util"
)

// AuthHandler exposes the credential endpoints under /api/auth.
type AuthHandler struct {
	auth     *service.AuthService
	throttle *auth.LoginThrottle
	cookies  session.CookieOptions
}

// NewAuthHandler constructs handler. throttle may be nil.
func NewAuthHandler(authService *service.AuthService, throttle *auth.LoginThrottle, cookies session.CookieOptions) *AuthHandler {
	return &AuthHandler{auth: authService, throttle: throttle, cookies: cookies}
}

// CSRF handles GET /api/auth/csrf.
func (h *AuthHandler) CSRF(c *fiber.Ctx) error {
	token, err := auth.NewCSRFToken()
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	session.SetCSRF(c, token, h.cookies)
	return c.JSON(fiber.Map{"data": dto.CSRFResponse{CSRFToken: token}})
}

// Register handles POST /api/auth/register.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.UserRegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if req.Email == "" || req.Password == "" || req.Name == "" {
		return fiber.NewError(http.StatusBadRequest, "name, email, password required")
	}

	user, err := h.auth.Register(c.UserContext(), req.Name, req.Email, req.Password, c.IP())
	if err != nil {
		return err
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"data": dto.NewUserResponse(user),
	})
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	if !h.throttle.Allow(c.IP(), time.Now()) {
		return apperrors.NewRateLimited()
	}

	var req dto.UserLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if req.Email == "" || req.Password == "" {
		return fiber.NewError(http.StatusBadRequest, "email and password required")
	}

	res, err := h.auth.Login(c.UserContext(), req.Email, req.Password, c.IP())
	if errors.Is(err, service.ErrInvalidCredentials) {
		return apperrors.NewUnauthorized("invalid credentials")
	}
	if err != nil {
		return err
	}

	session.SetCredentials(c, res.Token, res.TokenExpiresAt, res.Session.ID, res.Session.ExpiresAt, h.cookies)

	// Rotate the double-submit value with the new identity.
	if csrf, err := auth.NewCSRFToken(); err == nil {
		session.SetCSRF(c, csrf, h.cookies)
	}

	return c.JSON(fiber.Map{
		"data": dto.AuthResponse{User: dto.NewUserResponse(res.User), ExpiresAt: res.TokenExpiresAt},
	})
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	if err := h.auth.Logout(c.UserContext(), c.Cookies(session.SessionCookie), c.IP()); err != nil {
		return err
	}
	session.ClearCredentials(c, h.cookies)
	return c.SendStatus(http.StatusNoContent)
}
