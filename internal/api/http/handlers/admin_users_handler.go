package handlers

import (
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/maisonluxe/storefront/internal/api/dto"
	"github.com/maisonluxe/storefront/internal/auth"
	"github.com/maisonluxe/storefront/internal/domain"
	"github.com/maisonluxe/storefront/internal/repository"
	"github.com/maisonluxe/storefront/internal/service"
	apperrors "github.com/maisonluxe/storefront/pkg/util"
)

// AdminUsersHandler manages accounts from the back office.
type AdminUsersHandler struct {
	users *service.UserService
}

// NewAdminUsersHandler constructs handler.
func NewAdminUsersHandler(users *service.UserService) *AdminUsersHandler {
	return &AdminUsersHandler{users: users}
}

// List handles GET /api/admin/users.
func (h *AdminUsersHandler) List(c *fiber.Ctx) error {
	filter := repository.UserFilter{Role: domain.Role(c.Query("role"))}

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid limit")
		}
		filter.Limit = limit
	}
	if raw := c.Query("offset"); raw != "" {
		offset, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid offset")
		}
		filter.Offset = offset
	}

	users, err := h.users.List(c.UserContext(), filter)
	if err != nil {
		return err
	}

	out := make([]dto.UserResponse, 0, len(users))
	for i := range users {
		out = append(out, dto.NewUserResponse(&users[i]))
	}
	return c.JSON(fiber.Map{"data": out})
}

// UpdateRole handles PATCH /api/admin/users/:id/role.
func (h *AdminUsersHandler) UpdateRole(c *fiber.Ctx) error {
	actor, ok := auth.IdentityFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}

	var req dto.UpdateRoleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	role, err := domain.ParseRole(req.Role)
	if err != nil {
		return apperrors.NewValidationError(err.Error(), map[string]any{"field": "role"})
	}

	user, err := h.users.ChangeRole(c.UserContext(), actor, c.Params("id"), role)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewUserResponse(user)})
}
