package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/proxy"
	"go.uber.org/zap"

	apperrors "github.com/maisonluxe/storefront/pkg/util"
)

// PageHandler forwards page requests that passed the gate to the storefront
// renderer, together with the identity header the gate attached.
type PageHandler struct {
	frontendURL string
	logger      *zap.Logger
}

// NewPageHandler constructs handler. An empty frontendURL answers every page with 404.
func NewPageHandler(frontendURL string, logger *zap.Logger) *PageHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PageHandler{frontendURL: frontendURL, logger: logger}
}

// Serve is the catch-all for non-API paths.
func (h *PageHandler) Serve(c *fiber.Ctx) error {
	if h.frontendURL == "" {
		return apperrors.NewNotFound("page", map[string]any{"path": c.Path()})
	}
	target := h.frontendURL + c.OriginalURL()
	if err := proxy.Do(c, target); err != nil {
		h.logger.Error("page proxy failed", zap.String("target", target), zap.Error(err))
		return fiber.NewError(fiber.StatusBadGateway, "storefront renderer unavailable")
	}
	return nil
}
