package auth

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maisonluxe/storefront/internal/domain"
)

func TestPolicyMatchUsesLongestPrefix(t *testing.T) {
	policy := DefaultPolicy()

	rule, ok := policy.Match("/admin/orders/123")
	require.True(t, ok)
	require.Equal(t, "/admin/orders", rule.Prefix)
	require.ElementsMatch(t, []Capability{CapReadOrders, CapUpdateOrders}, rule.Capabilities)

	rule, ok = policy.Match("/admin")
	require.True(t, ok)
	require.Equal(t, "/admin", rule.Prefix)

	rule, ok = policy.Match("/admin/settings")
	require.True(t, ok)
	require.Equal(t, "/admin", rule.Prefix)

	rule, ok = policy.Match("/api/admin/users/42/role")
	require.True(t, ok)
	require.Equal(t, "/api/admin/users", rule.Prefix)

	_, ok = policy.Match("/administrator")
	require.False(t, ok)
	_, ok = policy.Match("/profile")
	require.False(t, ok)
}

func TestPolicyEvaluate(t *testing.T) {
	policy := DefaultPolicy()
	registry := DefaultRegistry()

	tests := []struct {
		name string
		path string
		role domain.Role
		want Decision
	}{
		{"admin manages users", "/admin/users", domain.RoleAdmin, DecisionAllow},
		{"user lacks manage:users", "/admin/users", domain.RoleUser, DecisionDenyCapability},
		{"manager lacks manage:users", "/admin/users", domain.RoleManager, DecisionDenyCapability},
		{"manager holds write:products but is not admin", "/admin/products", domain.RoleManager, DecisionDenyRole},
		{"manager holds both order capabilities but is not admin", "/admin/orders", domain.RoleManager, DecisionDenyRole},
		{"user on admin landing", "/admin", domain.RoleUser, DecisionDenyRole},
		{"unknown role", "/admin/stats", "GUEST", DecisionDenyCapability},
		{"no rule", "/profile", domain.RoleUser, DecisionAllow},
		{"api mirror", "/api/admin/inventory", domain.RoleUser, DecisionDenyCapability},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := policy.Evaluate(registry, tt.path, tt.role)
			require.Equal(t, tt.want, got, "got %s", got)
		})
	}
}

func TestRouteTable(t *testing.T) {
	routes := DefaultRouteTable()

	for _, p := range []string{"/", "/login", "/register", "/products", "/api/auth/login", "/api/products", "/api/products/7"} {
		require.True(t, routes.IsPublic(p), p)
	}
	for _, p := range []string{"/products/7", "/login/", "/api/profile", "/admin", "/api/auth"} {
		require.False(t, routes.IsPublic(p), p)
	}

	for _, p := range []string{"/admin", "/admin/users", "/api/profile", "/profile/orders", "/checkout", "/cart/items"} {
		require.True(t, routes.IsProtected(p), p)
	}
	for _, p := range []string{"/about", "/products/7", "/cartography", "/apiary"} {
		require.False(t, routes.IsProtected(p), p)
	}

	require.True(t, IsAPIPath("/api/profile"))
	require.True(t, IsAPIPath("/api"))
	require.False(t, IsAPIPath("/apiary"))
	require.False(t, IsAPIPath("/admin/users"))
}
