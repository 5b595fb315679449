package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/signin/internal/callback"
	"github.com/hitoshi/signin/internal/metrics"
	"github.com/hitoshi/signin/internal/middleware"
	"github.com/hitoshi/signin/internal/model"
)

// --- ルーターテスト用のステートフルモック ---

type routerTestState struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
	users    map[string]*model.User
}

func newRouterTestState() *routerTestState {
	return &routerTestState{
		sessions: make(map[string]*model.Session),
		users:    make(map[string]*model.User),
	}
}

func (s *routerTestState) FindByID(ctx context.Context, id string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id], nil
}

type mockVerifier struct{}

func (mockVerifier) VerifyToken(token string) error {
	if token != "valid-token" {
		return errors.New("invalid")
	}
	return nil
}

func newTestRouter(t *testing.T, state *routerTestState) (http.Handler, *prometheus.Registry) {
	t.Helper()

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	svc := &mockAuthService{
		getLoginURLFn: func(s string) string {
			return "https://accounts.google.com/o/oauth2/auth?state=" + s
		},
		handleCallbackFn: func(ctx context.Context, code string) (*model.Session, error) {
			session := &model.Session{
				ID:        "session-1",
				UserID:    "user-1",
				ExpiresAt: time.Now().Add(time.Hour),
			}
			state.mu.Lock()
			state.sessions[session.ID] = session
			state.users["user-1"] = &model.User{ID: "user-1", ProviderUID: "g-1", Name: "Roberto"}
			state.mu.Unlock()
			return session, nil
		},
		ingestFn: func(ctx context.Context, payload *callback.Payload) (*callback.Result, error) {
			return &callback.Result{Created: true, User: &model.User{ID: "user-2", ProviderUID: string(payload.UID)}}, nil
		},
		logoutFn: func(ctx context.Context, sessionID string) error {
			state.mu.Lock()
			delete(state.sessions, sessionID)
			state.mu.Unlock()
			return nil
		},
		getUserFn: func(ctx context.Context, userID string) (*model.User, error) {
			state.mu.Lock()
			defer state.mu.Unlock()
			if u, ok := state.users[userID]; ok {
				return u, nil
			}
			return nil, model.NewUserNotFoundError()
		},
	}

	router := NewRouter(&RouterDeps{
		HealthChecker:     &mockHealthChecker{},
		Gatherer:          reg,
		Metrics:           collector,
		SessionFinder:     state,
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		CallbackVerifier:  mockVerifier{},
		AuthService:       svc,
		AuthConfig:        testAuthConfig,
	})
	return router, reg
}

func serve(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestNewRouter_Health(t *testing.T) {
	router, _ := newTestRouter(t, newRouterTestState())

	w := serve(router, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	// 共通ミドルウェアが適用されている
	if w.Result().Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers should be applied")
	}
	if w.Result().Header.Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Error("CORS headers should be applied")
	}
}

func TestNewRouter_Metrics_ExposesHTTPStatus(t *testing.T) {
	router, _ := newTestRouter(t, newRouterTestState())

	serve(router, httptest.NewRequest(http.MethodGet, "/health", nil))

	w := serve(router, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(w.Result().Body)
	if !strings.Contains(string(body), `signin_http_status_total{status_code="200"}`) {
		t.Errorf("metrics should contain http status counter:\n%s", body)
	}
}

func TestNewRouter_Login_Redirects(t *testing.T) {
	router, _ := newTestRouter(t, newRouterTestState())

	w := serve(router, httptest.NewRequest(http.MethodGet, "/auth/google/login", nil))
	if w.Result().StatusCode != http.StatusTemporaryRedirect {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusTemporaryRedirect)
	}
}

func TestNewRouter_Me_RequiresSession(t *testing.T) {
	router, _ := newTestRouter(t, newRouterTestState())

	w := serve(router, httptest.NewRequest(http.MethodGet, "/auth/me", nil))
	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestNewRouter_Ingest_RequiresBearerToken(t *testing.T) {
	router, _ := newTestRouter(t, newRouterTestState())

	tests := []struct {
		name       string
		auth       string
		wantStatus int
	}{
		{"トークンなし", "", http.StatusUnauthorized},
		{"無効なトークン", "Bearer wrong", http.StatusUnauthorized},
		{"有効なトークン", "Bearer valid-token", http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/auth/callback", strings.NewReader(`{"uid":"42"}`))
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			w := serve(router, req)
			if w.Result().StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Result().StatusCode, tt.wantStatus)
			}
		})
	}
}

// CallbackVerifierが未設定の場合、POST /auth/callbackは公開されない
func TestNewRouter_Ingest_DisabledWithoutVerifier(t *testing.T) {
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	defer rl.Stop()

	router := NewRouter(&RouterDeps{
		SessionFinder: newRouterTestState(),
		RateLimiter:   rl,
		AuthService:   &mockAuthService{},
		AuthConfig:    testAuthConfig,
	})

	w := serve(router, httptest.NewRequest(http.MethodPost, "/auth/callback", strings.NewReader(`{"uid":"1"}`)))
	if code := w.Result().StatusCode; code != http.StatusNotFound && code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 404 or 405", code)
	}
}

func TestNewRouter_Logout_RequiresCSRFToken(t *testing.T) {
	router, _ := newTestRouter(t, newRouterTestState())

	w := serve(router, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))
	if w.Result().StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusForbidden)
	}
}

func TestNewRouter_UnknownRoute_Returns404(t *testing.T) {
	router, _ := newTestRouter(t, newRouterTestState())

	w := serve(router, httptest.NewRequest(http.MethodGet, "/api/unknown", nil))
	if w.Result().StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusNotFound)
	}
}

// ログイン → コールバック → /auth/me → CSRFトークン取得 → ログアウト の一連の流れ
func TestNewRouter_AuthFlow_LoginCallbackMeLogout(t *testing.T) {
	state := newRouterTestState()
	router, _ := newTestRouter(t, state)

	// 1. ログイン開始
	w := serve(router, httptest.NewRequest(http.MethodGet, "/auth/google/login", nil))
	stateCookie := findCookie(w.Result().Cookies(), oauthStateCookie)
	if stateCookie == nil {
		t.Fatal("expected oauth_state cookie")
	}

	// 2. コールバック
	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=c&state="+stateCookie.Value, nil)
	req.AddCookie(stateCookie)
	w = serve(router, req)
	if w.Result().StatusCode != http.StatusTemporaryRedirect {
		t.Fatalf("callback status = %d", w.Result().StatusCode)
	}
	sessionCookie := findCookie(w.Result().Cookies(), middleware.SessionCookieName)
	if sessionCookie == nil {
		t.Fatal("expected session cookie")
	}

	// 3. 現在のユーザー
	req = httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(sessionCookie)
	w = serve(router, req)
	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("me status = %d", w.Result().StatusCode)
	}
	if !strings.Contains(w.Body.String(), `"provider_uid":"g-1"`) {
		t.Errorf("me body = %s", w.Body.String())
	}

	// 4. CSRFトークン取得
	w = serve(router, httptest.NewRequest(http.MethodGet, "/auth/csrf-token", nil))
	csrfCookie := findCookie(w.Result().Cookies(), "csrf_token")
	if csrfCookie == nil {
		t.Fatal("expected csrf cookie")
	}

	// 5. ログアウト
	req = httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(sessionCookie)
	req.AddCookie(csrfCookie)
	req.Header.Set("X-CSRF-Token", csrfCookie.Value)
	w = serve(router, req)
	if w.Result().StatusCode != http.StatusTemporaryRedirect {
		t.Fatalf("logout status = %d", w.Result().StatusCode)
	}

	// 6. ログアウト後は401
	req = httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(sessionCookie)
	w = serve(router, req)
	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("me after logout status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}
