package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type mockTokenVerifier struct {
	verifyFn func(token string) error
}

func (m *mockTokenVerifier) VerifyToken(token string) error {
	return m.verifyFn(token)
}

func TestCallbackAuthMiddleware(t *testing.T) {
	verifier := &mockTokenVerifier{
		verifyFn: func(token string) error {
			if token == "good-token" {
				return nil
			}
			return errors.New("invalid token")
		},
	}

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantError  bool
	}{
		{"ヘッダーなし", "", http.StatusUnauthorized, false},
		{"Bearer以外のスキーム", "Basic Zm9vOmJhcg==", http.StatusUnauthorized, false},
		{"トークンが空", "Bearer ", http.StatusUnauthorized, false},
		{"無効なトークン", "Bearer bad-token", http.StatusUnauthorized, true},
		{"有効なトークン", "Bearer good-token", http.StatusOK, false},
		{"スキームは大文字小文字を区別しない", "bearer good-token", http.StatusOK, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := NewCallbackAuthMiddleware(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodPost, "/auth/callback", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Result().StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Result().StatusCode, tt.wantStatus)
			}
			if called != (tt.wantStatus == http.StatusOK) {
				t.Errorf("handler called = %v", called)
			}
			if tt.wantStatus == http.StatusUnauthorized {
				challenge := w.Result().Header.Get("WWW-Authenticate")
				if !strings.HasPrefix(challenge, "Bearer") {
					t.Errorf("WWW-Authenticate = %q", challenge)
				}
				if strings.Contains(challenge, "invalid_token") != tt.wantError {
					t.Errorf("WWW-Authenticate = %q, invalid_token expected = %v", challenge, tt.wantError)
				}
			}
		})
	}
}
