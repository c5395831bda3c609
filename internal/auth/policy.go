package auth

import (
	"sort"

	"github.com/maisonluxe/storefront/internal/domain"
)

// PolicyRule is one row of the route policy table.
type PolicyRule struct {
	Prefix       string
	Capabilities []Capability
	// Roles restricts the rule to the listed roles; empty allows any role
	// holding the capabilities.
	Roles []domain.Role
}

// Decision is the outcome of evaluating a path against the policy table.
type Decision int

const (
	DecisionAllow Decision = iota
	DecisionDenyCapability
	DecisionDenyRole
)

func (d Decision) String() string {
	switch d {
	case DecisionAllow:
		return "allow"
	case DecisionDenyCapability:
		return "deny_capability"
	case DecisionDenyRole:
		return "deny_role"
	}
	return "unknown"
}

// Policy holds the per-route rules. For any path at most one rule applies:
// the one with the longest matching prefix.
type Policy struct {
	rules []PolicyRule
}

// NewPolicy builds a policy table from rules.
func NewPolicy(rules ...PolicyRule) *Policy {
	sorted := append([]PolicyRule(nil), rules...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})
	return &Policy{rules: sorted}
}

// DefaultPolicy returns the admin back-office rules, mirrored for the admin API.
func DefaultPolicy() *Policy {
	adminOnly := []domain.Role{domain.RoleAdmin}
	sections := []PolicyRule{
		{Prefix: "/admin", Roles: adminOnly},
		{Prefix: "/admin/products", Capabilities: []Capability{CapWriteProducts}, Roles: adminOnly},
		{Prefix: "/admin/categories", Capabilities: []Capability{CapWriteCategories}, Roles: adminOnly},
		{Prefix: "/admin/users", Capabilities: []Capability{CapManageUsers}, Roles: adminOnly},
		{Prefix: "/admin/orders", Capabilities: []Capability{CapReadOrders, CapUpdateOrders}, Roles: adminOnly},
		{Prefix: "/admin/stats", Capabilities: []Capability{CapViewStatistics}, Roles: adminOnly},
		{Prefix: "/admin/inventory", Capabilities: []Capability{CapManageInventory}, Roles: adminOnly},
	}

	rules := make([]PolicyRule, 0, 2*len(sections))
	for _, s := range sections {
		rules = append(rules, s)
		mirrored := s
		mirrored.Prefix = "/api" + s.Prefix
		rules = append(rules, mirrored)
	}
	return NewPolicy(rules...)
}

// Match returns the rule governing path, if any.
func (p *Policy) Match(path string) (PolicyRule, bool) {
	for _, r := range p.rules {
		if hasSegmentPrefix(path, r.Prefix) {
			return r, true
		}
	}
	return PolicyRule{}, false
}

// Evaluate decides whether role may reach path. Capabilities are checked
// before the role restriction.
func (p *Policy) Evaluate(registry *Registry, path string, role domain.Role) (Decision, PolicyRule) {
	rule, ok := p.Match(path)
	if !ok {
		return DecisionAllow, PolicyRule{}
	}
	if len(rule.Capabilities) > 0 && !registry.HasAllPermissions(role, rule.Capabilities...) {
		return DecisionDenyCapability, rule
	}
	if len(rule.Roles) > 0 && !containsRole(rule.Roles, role) {
		return DecisionDenyRole, rule
	}
	return DecisionAllow, rule
}

func containsRole(roles []domain.Role, role domain.Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
