package session

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// Cookie names shared by the gate and the login flow.
const (
	TokenCookie   = "token"
	SessionCookie = "sessionId"
	CSRFCookie    = "csrf-token"
)

// CookieOptions defines how credential cookies are issued.
type CookieOptions struct {
	Path     string
	Domain   string
	Secure   bool
	SameSite string
}

// normalize applies safe defaults without breaking callers
func (o CookieOptions) normalize() CookieOptions {
	if o.Path == "" {
		o.Path = "/"
	}
	if o.SameSite == "" {
		o.SameSite = fiber.CookieSameSiteLaxMode
	}
	return o
}

// SetCredentials issues the httpOnly token and session cookies.
func SetCredentials(c *fiber.Ctx, token string, tokenExpiresAt time.Time, sessionID string, sessionExpiresAt time.Time, opts CookieOptions) {
	opts = opts.normalize()
	c.Cookie(&fiber.Cookie{
		Name:     TokenCookie,
		Value:    token,
		Path:     opts.Path,
		Domain:   opts.Domain,
		Expires:  tokenExpiresAt,
		HTTPOnly: true,
		Secure:   opts.Secure,
		SameSite: opts.SameSite,
	})
	c.Cookie(&fiber.Cookie{
		Name:     SessionCookie,
		Value:    sessionID,
		Path:     opts.Path,
		Domain:   opts.Domain,
		Expires:  sessionExpiresAt,
		HTTPOnly: true,
		Secure:   opts.Secure,
		SameSite: opts.SameSite,
	})
}

// SetCSRF issues the double-submit cookie. It must stay readable by page scripts.
func SetCSRF(c *fiber.Ctx, value string, opts CookieOptions) {
	opts = opts.normalize()
	c.Cookie(&fiber.Cookie{
		Name:     CSRFCookie,
		Value:    value,
		Path:     opts.Path,
		Domain:   opts.Domain,
		HTTPOnly: false,
		Secure:   opts.Secure,
		SameSite: fiber.CookieSameSiteStrictMode,
	})
}

// ClearCredentials removes the token and session cookies from the client.
func ClearCredentials(c *fiber.Ctx, opts CookieOptions) {
	opts = opts.normalize()
	for _, name := range []string{TokenCookie, SessionCookie} {
		c.Cookie(&fiber.Cookie{
			Name:     name,
			Value:    "",
			Path:     opts.Path,
			Domain:   opts.Domain,
			Expires:  time.Unix(0, 0),
			MaxAge:   -1,
			HTTPOnly: true,
			Secure:   opts.Secure,
			SameSite: opts.SameSite,
		})
	}
}
