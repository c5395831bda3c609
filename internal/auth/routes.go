package auth

import "strings"

// RouteTable classifies request paths for the gate.
type RouteTable struct {
	// PublicExact paths bypass credential checks when matched exactly.
	PublicExact []string
	// PublicPrefixes bypass credential checks for any path starting with them.
	PublicPrefixes []string
	// Protected prefixes, matched on segment boundaries, require the full pipeline.
	Protected []string
}

// DefaultRouteTable returns the storefront's route classification.
func DefaultRouteTable() RouteTable {
	return RouteTable{
		PublicExact:    []string{"/", "/login", "/register", "/products"},
		PublicPrefixes: []string{"/api/auth/", "/api/products"},
		Protected:      []string{"/admin", "/api", "/profile", "/checkout", "/cart"},
	}
}

// IsPublic reports whether path is on the allow-list.
func (t RouteTable) IsPublic(path string) bool {
	for _, p := range t.PublicExact {
		if path == p {
			return true
		}
	}
	for _, p := range t.PublicPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// IsProtected reports whether path requires an authenticated identity.
func (t RouteTable) IsProtected(path string) bool {
	for _, p := range t.Protected {
		if hasSegmentPrefix(path, p) {
			return true
		}
	}
	return false
}

// IsAPIPath reports whether failures on path are answered with JSON rather than redirects.
func IsAPIPath(path string) bool {
	return hasSegmentPrefix(path, "/api")
}

// hasSegmentPrefix matches "/admin" against "/admin" and "/admin/x" but not "/administrator".
func hasSegmentPrefix(path, prefix string) bool {
	if prefix == "/" {
		return strings.HasPrefix(path, "/")
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}
