package auth

import (
	"sort"

	"github.com/gofiber/fiber/v2"

	"github.com/maisonluxe/storefront/internal/domain"
	apperrors "github.com/maisonluxe/storefront/pkg/util"
)

// Capability names one unit of authorized action.
type Capability string

const (
	CapReadProducts     Capability = "read:products"
	CapWriteProducts    Capability = "write:products"
	CapDeleteProducts   Capability = "delete:products"
	CapReadCategories   Capability = "read:categories"
	CapWriteCategories  Capability = "write:categories"
	CapDeleteCategories Capability = "delete:categories"
	CapCreateOrders     Capability = "create:orders"
	CapReadOwnOrders    Capability = "read:own_orders"
	CapReadOrders       Capability = "read:orders"
	CapUpdateOrders     Capability = "update:orders"
	CapManageCart       Capability = "manage:cart"
	CapManageProfile    Capability = "manage:profile"
	CapManageInventory  Capability = "manage:inventory"
	CapViewStatistics   Capability = "view:statistics"
	CapManageUsers      Capability = "manage:users"
	CapManageSettings   Capability = "manage:settings"
)

var userCapabilities = []Capability{
	CapReadProducts,
	CapReadCategories,
	CapCreateOrders,
	CapReadOwnOrders,
	CapManageCart,
	CapManageProfile,
}

var managerCapabilities = []Capability{
	CapReadProducts,
	CapWriteProducts,
	CapReadCategories,
	CapWriteCategories,
	CapReadOrders,
	CapUpdateOrders,
	CapManageInventory,
	CapViewStatistics,
}

var adminOnlyCapabilities = []Capability{
	CapDeleteProducts,
	CapDeleteCategories,
	CapManageUsers,
	CapManageSettings,
}

// Registry maps each role to the capabilities it may exercise. It is
// immutable once built.
type Registry struct {
	grants map[domain.Role]map[Capability]struct{}
}

// NewRegistry builds a registry from explicit grants. Roles outside the closed
// role set are ignored.
func NewRegistry(grants map[domain.Role][]Capability) *Registry {
	r := &Registry{grants: make(map[domain.Role]map[Capability]struct{}, len(grants))}
	for role, caps := range grants {
		if !role.Valid() {
			continue
		}
		set := make(map[Capability]struct{}, len(caps))
		for _, c := range caps {
			set[c] = struct{}{}
		}
		r.grants[role] = set
	}
	return r
}

// DefaultRegistry returns the storefront's grants. ADMIN holds every
// capability granted to USER and MANAGER.
func DefaultRegistry() *Registry {
	admin := make([]Capability, 0, len(userCapabilities)+len(managerCapabilities)+len(adminOnlyCapabilities))
	admin = append(admin, userCapabilities...)
	admin = append(admin, managerCapabilities...)
	admin = append(admin, adminOnlyCapabilities...)

	return NewRegistry(map[domain.Role][]Capability{
		domain.RoleUser:    userCapabilities,
		domain.RoleManager: managerCapabilities,
		domain.RoleAdmin:   admin,
	})
}

// HasPermission reports whether role holds capability. Unknown roles hold nothing.
func (r *Registry) HasPermission(role domain.Role, capability Capability) bool {
	set, ok := r.grants[role]
	if !ok {
		return false
	}
	_, granted := set[capability]
	return granted
}

// HasAllPermissions reports whether role holds every capability. An unknown
// role fails even for an empty list.
func (r *Registry) HasAllPermissions(role domain.Role, capabilities ...Capability) bool {
	if _, ok := r.grants[role]; !ok {
		return false
	}
	for _, c := range capabilities {
		if !r.HasPermission(role, c) {
			return false
		}
	}
	return true
}

// Capabilities lists the capabilities granted to role in sorted order.
func (r *Registry) Capabilities(role domain.Role) []Capability {
	set := r.grants[role]
	out := make([]Capability, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RequireCapabilities ensures the gate-resolved identity holds every capability.
func RequireCapabilities(registry *Registry, capabilities ...Capability) fiber.Handler {
	return func(c *fiber.Ctx) error {
		identity, ok := IdentityFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if !registry.HasAllPermissions(identity.Role, capabilities...) {
			return apperrors.NewForbidden("insufficient permission")
		}
		return c.Next()
	}
}
