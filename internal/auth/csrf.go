package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
)

// CSRFHeader must echo the csrf-token cookie on mutating requests.
const CSRFHeader = "x-csrf-token"

// ErrInvalidCSRF is returned when the double-submit values are absent or differ.
var ErrInvalidCSRF = errors.New("invalid CSRF token")

// NewCSRFToken mints a random double-submit value.
func NewCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("csrf: failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ValidateCSRF compares the header value against the cookie value.
func ValidateCSRF(headerToken, cookieToken string) error {
	if headerToken == "" || cookieToken == "" {
		return ErrInvalidCSRF
	}
	if subtle.ConstantTimeCompare([]byte(headerToken), []byte(cookieToken)) != 1 {
		return ErrInvalidCSRF
	}
	return nil
}

// IsMutatingMethod reports whether method changes server state.
func IsMutatingMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
