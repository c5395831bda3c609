package auth

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/maisonluxe/storefront/internal/domain"
	"github.com/maisonluxe/storefront/internal/events"
	"github.com/maisonluxe/storefront/internal/observability"
	"github.com/maisonluxe/storefront/internal/ratelimit"
	"github.com/maisonluxe/storefront/internal/session"
	apperrors "github.com/maisonluxe/storefront/pkg/util"
)

// Rate limit response headers.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
)

// GateConfig holds the gate's route classification and redirect targets.
type GateConfig struct {
	Routes    RouteTable
	LoginPath string
	HomePath  string
}

// GateDependencies wires the gate's collaborators. Limiter, Logger, Metrics
// and Events are optional.
type GateDependencies struct {
	Tokens   *TokenManager
	Sessions session.Store
	Limiter  *ratelimit.Limiter
	Registry *Registry
	Policy   *Policy
	Logger   *zap.Logger
	Metrics  *observability.Metrics
	Events   events.Dispatcher
}

// Gate authorizes every inbound request before it reaches a handler or the
// page renderer.
type Gate struct {
	routes    RouteTable
	loginPath string
	homePath  string

	tokens   *TokenManager
	sessions session.Store
	limiter  *ratelimit.Limiter
	registry *Registry
	policy   *Policy
	logger   *zap.Logger
	metrics  *observability.Metrics
	events   events.Dispatcher
}

// NewGate constructs the gate.
func NewGate(cfg GateConfig, deps GateDependencies) (*Gate, error) {
	if deps.Tokens == nil {
		return nil, errors.New("auth: gate requires a token manager")
	}
	if deps.Sessions == nil {
		return nil, errors.New("auth: gate requires a session store")
	}
	if deps.Registry == nil {
		deps.Registry = DefaultRegistry()
	}
	if deps.Policy == nil {
		deps.Policy = DefaultPolicy()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/login"
	}
	if cfg.HomePath == "" {
		cfg.HomePath = "/"
	}
	return &Gate{
		routes:    cfg.Routes,
		loginPath: cfg.LoginPath,
		homePath:  cfg.HomePath,
		tokens:    deps.Tokens,
		sessions:  deps.Sessions,
		limiter:   deps.Limiter,
		registry:  deps.Registry,
		policy:    deps.Policy,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		events:    deps.Events,
	}, nil
}

// Handle runs the checks in order and stops at the first failure:
// CSRF, rate limit, public bypass, credentials, token, session, route policy.
func (g *Gate) Handle(c *fiber.Ctx) error {
	clearIdentity(c)

	path := c.Path()
	clientKey := c.IP()
	if clientKey == "" {
		clientKey = ratelimit.AnonymousKey
	}

	if IsMutatingMethod(c.Method()) {
		if err := ValidateCSRF(c.Get(CSRFHeader), c.Cookies(session.CSRFCookie)); err != nil {
			// The window is still charged for the rejected request.
			g.consume(c, clientKey)
			return g.reject(c, "invalid_csrf", apperrors.NewInvalidCSRF(), domain.Identity{}, err.Error())
		}
	}

	if limited := g.consume(c, clientKey); limited {
		return g.reject(c, "rate_limited", apperrors.NewRateLimited(), domain.Identity{}, "window exhausted")
	}

	if g.routes.IsPublic(path) {
		g.metrics.RecordGateDecision("public")
		return c.Next()
	}
	if !g.routes.IsProtected(path) {
		g.metrics.RecordGateDecision("unprotected")
		return c.Next()
	}

	token := c.Cookies(session.TokenCookie)
	sessionID := c.Cookies(session.SessionCookie)
	if token == "" || sessionID == "" {
		return g.unauthenticated(c, "missing credentials")
	}

	claims, err := g.tokens.ParseToken(token)
	if err != nil {
		return g.unauthenticated(c, err.Error())
	}

	sess, err := g.sessions.Get(c.UserContext(), sessionID)
	if err != nil {
		g.logger.Error("session lookup failed", zap.Error(err), zap.String("path", path))
		g.metrics.RecordGateDecision("error")
		return apperrors.WriteError(c, apperrors.NewInternalError(err))
	}
	if sess == nil {
		return g.unauthenticated(c, "session not found")
	}
	if sess.SubjectID != claims.SubjectID() {
		return g.unauthenticated(c, "session does not match token")
	}

	identity := sess.Identity()
	decision, rule := g.policy.Evaluate(g.registry, path, identity.Role)
	switch decision {
	case DecisionDenyCapability:
		return g.reject(c, "forbidden", apperrors.NewForbidden("insufficient permission"), identity, "missing capability for "+rule.Prefix)
	case DecisionDenyRole:
		if IsAPIPath(path) {
			return g.reject(c, "forbidden", apperrors.NewForbidden("insufficient role"), identity, "role not allowed for "+rule.Prefix)
		}
		g.logRejection(c, "redirect_home", fiber.StatusFound, identity, "role not allowed for "+rule.Prefix)
		g.publishDenied(c, identity, apperrors.CodeForbidden, "role not allowed for "+rule.Prefix)
		return c.Redirect(g.homePath, fiber.StatusFound)
	}

	setIdentity(c, identity)
	g.metrics.RecordGateDecision("allow")
	return c.Next()
}

// consume charges one unit to clientKey's window and reports whether the
// request must be rejected. Store failures let the request through.
func (g *Gate) consume(c *fiber.Ctx, clientKey string) bool {
	if g.limiter == nil {
		return false
	}
	res, err := g.limiter.Check(c.UserContext(), clientKey)
	if err != nil {
		g.logger.Warn("rate limiter unavailable", zap.Error(err), zap.String("client", clientKey))
		return false
	}

	c.Set(HeaderRateLimitLimit, strconv.Itoa(res.Limit))
	c.Set(HeaderRateLimitRemaining, strconv.Itoa(res.Remaining))
	if !res.ResetAt.IsZero() {
		c.Set(HeaderRateLimitReset, strconv.FormatInt(res.ResetAt.Unix(), 10))
	}
	if !res.Allowed {
		retry := res.RetryAfter(time.Now())
		secs := int64((retry + time.Second - 1) / time.Second)
		if secs < 1 {
			secs = 1
		}
		c.Set(fiber.HeaderRetryAfter, strconv.FormatInt(secs, 10))
	}
	return !res.Allowed
}

// unauthenticated answers API paths with 401 and redirects pages to login.
func (g *Gate) unauthenticated(c *fiber.Ctx, reason string) error {
	if IsAPIPath(c.Path()) {
		return g.reject(c, "unauthenticated", apperrors.NewUnauthorized("authentication required"), domain.Identity{}, reason)
	}
	g.logRejection(c, "redirect_login", fiber.StatusFound, domain.Identity{}, reason)
	return c.Redirect(g.loginPath, fiber.StatusFound)
}

// reject writes the JSON error body; the request never reaches a handler.
func (g *Gate) reject(c *fiber.Ctx, decision string, err error, identity domain.Identity, reason string) error {
	domainErr := apperrors.ToDomainError(err)
	g.logRejection(c, decision, domainErr.HTTPStatus, identity, reason)
	if domainErr.Code == apperrors.CodeForbidden || domainErr.Code == apperrors.CodeInvalidCSRF {
		g.publishDenied(c, identity, domainErr.Code, reason)
	}
	return apperrors.WriteError(c, domainErr)
}

func (g *Gate) logRejection(c *fiber.Ctx, decision string, status int, identity domain.Identity, reason string) {
	g.metrics.RecordGateDecision(decision)
	fields := []zap.Field{
		zap.String("decision", decision),
		zap.Int("status", status),
		zap.String("reason", reason),
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.String("ip", c.IP()),
	}
	if identity.ID != "" {
		fields = append(fields, zap.String("subject_id", identity.ID), zap.String("role", string(identity.Role)))
	}
	g.logger.Info("request rejected", fields...)
}

func (g *Gate) publishDenied(c *fiber.Ctx, identity domain.Identity, code, reason string) {
	if g.events == nil {
		return
	}
	event := events.NewEvent(events.EventAccessDenied, events.Actor{
		SubjectID: identity.ID,
		Role:      identity.Role,
		ClientIP:  c.IP(),
	}, events.AccessDeniedPayload{
		Path:   c.Path(),
		Method: c.Method(),
		Code:   code,
		Reason: reason,
	})
	if err := g.events.Publish(c.UserContext(), event); err != nil {
		g.logger.Warn("publish access denied event", zap.Error(err))
	}
}
