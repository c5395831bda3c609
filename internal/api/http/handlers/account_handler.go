package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/maisonluxe/storefront/internal/api/dto"
	"github.com/maisonluxe/storefront/internal/auth"
	"github.com/maisonluxe/storefront/internal/service"
	apperrors "github.com/maisonluxe/storefront/pkg/util"
)

// AccountHandler serves the signed-in caller's own data.
type AccountHandler struct {
	auth     *service.AuthService
	registry *auth.Registry
}

// NewAccountHandler constructs handler.
func NewAccountHandler(authService *service.AuthService, registry *auth.Registry) *AccountHandler {
	return &AccountHandler{auth: authService, registry: registry}
}

// Profile handles GET /api/profile.
func (h *AccountHandler) Profile(c *fiber.Ctx) error {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}

	user, err := h.auth.Profile(c.UserContext(), identity)
	if err != nil {
		return err
	}

	caps := h.registry.Capabilities(identity.Role)
	names := make([]string, 0, len(caps))
	for _, cp := range caps {
		names = append(names, string(cp))
	}

	resp := dto.ProfileResponse{User: dto.NewUserResponse(user), Capabilities: names}
	// The session role is authoritative for this request.
	resp.User.Role = identity.Role
	return c.JSON(fiber.Map{"data": resp})
}
