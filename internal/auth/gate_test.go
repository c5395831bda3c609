package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/maisonluxe/storefront/internal/domain"
	"github.com/maisonluxe/storefront/internal/events"
	"github.com/maisonluxe/storefront/internal/ratelimit"
	"github.com/maisonluxe/storefront/internal/session"
	apperrors "github.com/maisonluxe/storefront/pkg/util"
)

type gateHarness struct {
	app      *fiber.App
	tokens   *TokenManager
	sessions session.Store
	logs     *observer.ObservedLogs
	events   []events.Event
}

type gateOption func(*GateDependencies)

func withSessions(store session.Store) gateOption {
	return func(d *GateDependencies) { d.Sessions = store }
}

func withEvents(d events.Dispatcher) gateOption {
	return func(deps *GateDependencies) { deps.Events = d }
}

func withoutLimiter() gateOption {
	return func(d *GateDependencies) { d.Limiter = nil }
}

func newGateHarness(t *testing.T, opts ...gateOption) *gateHarness {
	t.Helper()

	core, logs := observer.New(zapcore.InfoLevel)
	h := &gateHarness{
		tokens:   NewTokenManager(testSecret, time.Hour),
		sessions: session.NewMemoryStore(24 * time.Hour),
		logs:     logs,
	}

	dispatcher := events.NewInMemoryDispatcher()
	dispatcher.SubscribeAll(func(_ context.Context, e events.Event) error {
		h.events = append(h.events, e)
		return nil
	})

	deps := GateDependencies{
		Tokens:   h.tokens,
		Sessions: h.sessions,
		Limiter:  ratelimit.NewLimiter(ratelimit.NewMemoryStore(), 10, 10*time.Second),
		Logger:   zap.New(core),
		Events:   dispatcher,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	h.sessions = deps.Sessions

	gate, err := NewGate(GateConfig{Routes: DefaultRouteTable()}, deps)
	require.NoError(t, err)

	h.app = fiber.New()
	h.app.Use(gate.Handle)
	h.app.Use(func(c *fiber.Ctx) error {
		_, ok := IdentityFromContext(c)
		return c.JSON(fiber.Map{
			"path":          c.Path(),
			"user":          c.Get(IdentityHeader),
			"authenticated": ok,
		})
	})
	return h
}

// login issues a matching token and session for subjectID.
func (h *gateHarness) login(t *testing.T, subjectID string, role domain.Role) map[string]string {
	t.Helper()
	token, _, err := h.tokens.GenerateToken(subjectID, role)
	require.NoError(t, err)
	sess, err := h.sessions.Create(context.Background(), subjectID, role)
	require.NoError(t, err)
	return map[string]string{
		session.TokenCookie:   token,
		session.SessionCookie: sess.ID,
	}
}

func (h *gateHarness) do(t *testing.T, method, path string, cookies, headers map[string]string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for name, value := range cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func withCSRF(cookies map[string]string, value string) map[string]string {
	out := map[string]string{session.CSRFCookie: value}
	for k, v := range cookies {
		out[k] = v
	}
	return out
}

func readBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body), string(raw))
	return body
}

func requireErrorCode(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	require.Equal(t, status, resp.StatusCode)
	body := readBody(t, resp)
	require.Equal(t, code, body["code"])
	require.NotEmpty(t, body["error"])
}

func TestGatePublicRootPassesWithoutIdentity(t *testing.T) {
	h := newGateHarness(t)

	resp := h.do(t, http.MethodGet, "/", nil, map[string]string{
		IdentityHeader: `{"id":"intruder","role":"ADMIN"}`,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := readBody(t, resp)
	require.Equal(t, "", body["user"])
	require.Equal(t, false, body["authenticated"])
}

func TestGateUserOnAdminUsersIsForbidden(t *testing.T) {
	h := newGateHarness(t)
	cookies := h.login(t, "user-1", domain.RoleUser)

	requireErrorCode(t, h.do(t, http.MethodGet, "/admin/users", cookies, nil), http.StatusForbidden, apperrors.CodeForbidden)
	requireErrorCode(t, h.do(t, http.MethodGet, "/api/admin/users", cookies, nil), http.StatusForbidden, apperrors.CodeForbidden)

	require.Len(t, h.events, 2)
	require.Equal(t, events.EventAccessDenied, h.events[0].Type)
	require.Equal(t, "user-1", h.events[0].Actor.SubjectID)
}

func TestGateAdminPostPropagatesIdentity(t *testing.T) {
	h := newGateHarness(t)
	cookies := withCSRF(h.login(t, "admin-1", domain.RoleAdmin), "csrf-abc")

	resp := h.do(t, http.MethodPost, "/admin/products", cookies, map[string]string{CSRFHeader: "csrf-abc"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := readBody(t, resp)
	require.Equal(t, "/admin/products", body["path"])
	require.Equal(t, true, body["authenticated"])
	require.JSONEq(t, `{"id":"admin-1","role":"ADMIN"}`, body["user"].(string))
}

func TestGateMissingCSRFShortCircuitsFirst(t *testing.T) {
	h := newGateHarness(t)
	cookies := withCSRF(h.login(t, "user-1", domain.RoleUser), "csrf-abc")

	// Missing header on a mutating request fails before the permission check.
	requireErrorCode(t, h.do(t, http.MethodPut, "/admin/users", cookies, nil), http.StatusForbidden, apperrors.CodeInvalidCSRF)

	// Exhaust the window, then the CSRF failure still wins over the 429.
	for i := 0; i < 10; i++ {
		h.do(t, http.MethodGet, "/", nil, nil)
	}
	requireErrorCode(t, h.do(t, http.MethodPut, "/api/profile", cookies, nil), http.StatusForbidden, apperrors.CodeInvalidCSRF)
	requireErrorCode(t, h.do(t, http.MethodGet, "/", nil, nil), http.StatusTooManyRequests, apperrors.CodeRateLimited)
}

func TestGateCSRFDoubleSubmit(t *testing.T) {
	tests := []struct {
		name   string
		header string
		cookie string
		status int
	}{
		{"matching", "abc", "abc", http.StatusOK},
		{"mismatch", "abc", "xyz", http.StatusForbidden},
		{"missing header", "", "abc", http.StatusForbidden},
		{"missing cookie", "abc", "", http.StatusForbidden},
		{"both missing", "", "", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newGateHarness(t)
			cookies := map[string]string{}
			if tt.cookie != "" {
				cookies[session.CSRFCookie] = tt.cookie
			}
			headers := map[string]string{}
			if tt.header != "" {
				headers[CSRFHeader] = tt.header
			}

			resp := h.do(t, http.MethodPost, "/api/auth/login", cookies, headers)
			require.Equal(t, tt.status, resp.StatusCode)
			if tt.status == http.StatusForbidden {
				require.Equal(t, apperrors.CodeInvalidCSRF, readBody(t, resp)["code"])
			}
		})
	}
}

func TestGateSafeMethodsSkipCSRF(t *testing.T) {
	h := newGateHarness(t)
	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		resp := h.do(t, method, "/products", nil, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, method)
	}
}

func TestGateRateLimitRunsBeforeAuthentication(t *testing.T) {
	h := newGateHarness(t)

	for i := 0; i < 10; i++ {
		resp := h.do(t, http.MethodGet, "/", nil, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, "request %d", i+1)
		require.Equal(t, "10", resp.Header.Get(HeaderRateLimitLimit))
	}

	resp := h.do(t, http.MethodGet, "/api/profile", nil, nil)
	require.NotEmpty(t, resp.Header.Get(fiber.HeaderRetryAfter))
	require.Equal(t, "0", resp.Header.Get(HeaderRateLimitRemaining))
	requireErrorCode(t, resp, http.StatusTooManyRequests, apperrors.CodeRateLimited)
}

func TestGateCSRFFailuresConsumeWindow(t *testing.T) {
	h := newGateHarness(t)

	for i := 0; i < 10; i++ {
		requireErrorCode(t, h.do(t, http.MethodPost, "/api/auth/login", nil, nil), http.StatusForbidden, apperrors.CodeInvalidCSRF)
	}
	requireErrorCode(t, h.do(t, http.MethodGet, "/", nil, nil), http.StatusTooManyRequests, apperrors.CodeRateLimited)
}

func TestGateUnauthenticated(t *testing.T) {
	h := newGateHarness(t, withoutLimiter())
	valid := h.login(t, "user-1", domain.RoleUser)

	expired, _, err := NewTokenManager(testSecret, time.Hour).
		WithClock(func() time.Time { return time.Now().Add(-2 * time.Hour) }).
		GenerateToken("user-1", domain.RoleUser)
	require.NoError(t, err)

	other := h.login(t, "user-2", domain.RoleUser)

	tests := []struct {
		name    string
		cookies map[string]string
	}{
		{"no cookies", nil},
		{"token only", map[string]string{session.TokenCookie: valid[session.TokenCookie]}},
		{"session only", map[string]string{session.SessionCookie: valid[session.SessionCookie]}},
		{"malformed token", map[string]string{session.TokenCookie: "not-a-jwt", session.SessionCookie: valid[session.SessionCookie]}},
		{"expired token", map[string]string{session.TokenCookie: expired, session.SessionCookie: valid[session.SessionCookie]}},
		{"never issued session", map[string]string{session.TokenCookie: valid[session.TokenCookie], session.SessionCookie: "bm90LWEtcmVhbC1zZXNzaW9u"}},
		{"session of another subject", map[string]string{session.TokenCookie: valid[session.TokenCookie], session.SessionCookie: other[session.SessionCookie]}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireErrorCode(t, h.do(t, http.MethodGet, "/api/profile", tt.cookies, nil), http.StatusUnauthorized, apperrors.CodeUnauthenticated)

			resp := h.do(t, http.MethodGet, "/profile", tt.cookies, nil)
			require.Equal(t, http.StatusFound, resp.StatusCode)
			require.Equal(t, "/login", resp.Header.Get(fiber.HeaderLocation))
		})
	}
}

func TestGateDestroyedSessionIsUnauthenticated(t *testing.T) {
	h := newGateHarness(t)
	cookies := h.login(t, "user-1", domain.RoleUser)

	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/api/profile", cookies, nil).StatusCode)
	require.NoError(t, h.sessions.Destroy(context.Background(), cookies[session.SessionCookie]))
	requireErrorCode(t, h.do(t, http.MethodGet, "/api/profile", cookies, nil), http.StatusUnauthorized, apperrors.CodeUnauthenticated)
}

func TestGateAdminSectionRoleRestriction(t *testing.T) {
	h := newGateHarness(t, withoutLimiter())
	manager := h.login(t, "manager-1", domain.RoleManager)

	// MANAGER holds write:products, but the admin section is ADMIN only.
	resp := h.do(t, http.MethodGet, "/admin/products", manager, nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/", resp.Header.Get(fiber.HeaderLocation))

	resp = h.do(t, http.MethodGet, "/admin", manager, nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)

	requireErrorCode(t, h.do(t, http.MethodGet, "/api/admin/products", manager, nil), http.StatusForbidden, apperrors.CodeForbidden)

	// Missing capability is a 403 even on page paths.
	requireErrorCode(t, h.do(t, http.MethodGet, "/admin/users", manager, nil), http.StatusForbidden, apperrors.CodeForbidden)

	admin := h.login(t, "admin-1", domain.RoleAdmin)
	for _, path := range []string{"/admin", "/admin/users", "/admin/orders/17", "/admin/stats", "/admin/inventory", "/api/admin/users"} {
		require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, path, admin, nil).StatusCode, path)
	}
}

func TestGateReplacesSpoofedIdentityHeader(t *testing.T) {
	h := newGateHarness(t)
	cookies := h.login(t, "user-1", domain.RoleUser)

	resp := h.do(t, http.MethodGet, "/api/profile", cookies, map[string]string{
		IdentityHeader: `{"id":"admin-1","role":"ADMIN"}`,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"id":"user-1","role":"USER"}`, readBody(t, resp)["user"].(string))

	resp = h.do(t, http.MethodGet, "/about", nil, map[string]string{
		IdentityHeader: `{"id":"admin-1","role":"ADMIN"}`,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := readBody(t, resp)
	require.Equal(t, "", body["user"])
	require.Equal(t, false, body["authenticated"])
}

type failingSessionStore struct{}

func (failingSessionStore) Create(context.Context, string, domain.Role) (*domain.Session, error) {
	return nil, errors.New("store unavailable")
}

func (failingSessionStore) Get(context.Context, string) (*domain.Session, error) {
	return nil, errors.New("store unavailable")
}

func (failingSessionStore) Destroy(context.Context, string) error { return nil }

func TestGateSessionStoreFailureIsInternalError(t *testing.T) {
	h := newGateHarness(t, withSessions(failingSessionStore{}))
	token, _, err := h.tokens.GenerateToken("user-1", domain.RoleUser)
	require.NoError(t, err)

	resp := h.do(t, http.MethodGet, "/api/profile", map[string]string{
		session.TokenCookie:   token,
		session.SessionCookie: "abc",
	}, nil)
	requireErrorCode(t, resp, http.StatusInternalServerError, apperrors.CodeInternal)
}

func TestGateLogsRejections(t *testing.T) {
	h := newGateHarness(t)

	h.do(t, http.MethodGet, "/api/cart", nil, nil)
	h.do(t, http.MethodDelete, "/api/cart", nil, nil)

	entries := h.logs.FilterMessage("request rejected").All()
	require.Len(t, entries, 2)

	decisions := []string{}
	for _, e := range entries {
		decisions = append(decisions, e.ContextMap()["decision"].(string))
		require.True(t, strings.HasPrefix(e.ContextMap()["path"].(string), "/api/cart"))
	}
	require.Equal(t, []string{"unauthenticated", "invalid_csrf"}, decisions)
}

func TestNewGateRequiresCollaborators(t *testing.T) {
	_, err := NewGate(GateConfig{}, GateDependencies{Sessions: session.NewMemoryStore(time.Hour)})
	require.Error(t, err)

	_, err = NewGate(GateConfig{}, GateDependencies{Tokens: NewTokenManager(testSecret, time.Hour)})
	require.Error(t, err)
}

func TestGateRejectionDoesNotWaitOnEventSink(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	var forwarded sync.WaitGroup
	forwarded.Add(1)
	var once sync.Once
	stalled := func(context.Context, events.Event) error {
		once.Do(forwarded.Done)
		<-release
		return nil
	}

	sink := events.NewAsyncSink(stalled, 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sink.Run(ctx)

	dispatcher := events.NewInMemoryDispatcher()
	dispatcher.SubscribeAll(sink.Handle)
	h := newGateHarness(t, withoutLimiter(), withEvents(dispatcher))

	// Park the sink inside its downstream handler.
	requireErrorCode(t, h.do(t, http.MethodPost, "/api/cart", nil, nil), http.StatusForbidden, apperrors.CodeInvalidCSRF)
	forwarded.Wait()

	const requests = 8
	var wg sync.WaitGroup
	statuses := make([]int, requests)
	latencies := make([]time.Duration, requests)
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start := time.Now()
			resp, err := h.app.Test(httptest.NewRequest(http.MethodPost, "/api/cart", nil), -1)
			latencies[i] = time.Since(start)
			if err == nil {
				statuses[i] = resp.StatusCode
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < requests; i++ {
		require.Equal(t, http.StatusForbidden, statuses[i])
		require.Less(t, latencies[i], time.Second)
	}
}
