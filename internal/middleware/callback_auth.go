package middleware

import (
	"log/slog"
	"net/http"
	"strings"
)

// TokenVerifier はBearerトークンを検証するインターフェース。
// auth.CallbackVerifierが実装する。
type TokenVerifier interface {
	VerifyToken(token string) error
}

// NewCallbackAuthMiddleware は上流の認証レイヤーが付与するBearerトークンを検証するミドルウェアを返す。
// トークンがない、または無効な場合は401を返す。
func NewCallbackAuthMiddleware(verifier TokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="callback"`)
				WriteUnauthorized(w)
				return
			}

			if err := verifier.VerifyToken(token); err != nil {
				slog.Warn("callback token rejected",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				w.Header().Set("WWW-Authenticate", `Bearer realm="callback", error="invalid_token"`)
				WriteUnauthorized(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
