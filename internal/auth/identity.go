package auth

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"

	"github.com/maisonluxe/storefront/internal/domain"
)

// IdentityHeader carries the gate-resolved caller to downstream handlers and
// the page renderer. The gate strips any client-supplied value first.
const IdentityHeader = "user"

const identityKey = "auth_identity"

func setIdentity(c *fiber.Ctx, identity domain.Identity) {
	c.Locals(identityKey, identity)
	if raw, err := json.Marshal(identity); err == nil {
		c.Request().Header.Set(IdentityHeader, string(raw))
	}
}

func clearIdentity(c *fiber.Ctx) {
	c.Request().Header.Del(IdentityHeader)
}

// IdentityFromContext retrieves the identity attached by the gate.
func IdentityFromContext(c *fiber.Ctx) (domain.Identity, bool) {
	if identity, ok := c.Locals(identityKey).(domain.Identity); ok {
		return identity, true
	}
	raw := c.Request().Header.Peek(IdentityHeader)
	if len(raw) == 0 {
		return domain.Identity{}, false
	}
	var identity domain.Identity
	if err := json.Unmarshal(raw, &identity); err != nil || identity.ID == "" {
		return domain.Identity{}, false
	}
	return identity, true
}
