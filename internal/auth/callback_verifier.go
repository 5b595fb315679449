package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidCallbackToken はコールバックトークンの検証に失敗した場合のエラー。
var ErrInvalidCallbackToken = errors.New("invalid callback token")

// callbackTokenLeeway は上流とのクロックずれの許容幅。
const callbackTokenLeeway = 30 * time.Second

// CallbackClaims は上流の認証レイヤーが署名するトークンのクレーム。
type CallbackClaims struct {
	Provider string `json:"provider,omitempty"`
	jwt.RegisteredClaims
}

// CallbackVerifier はPOST /auth/callbackのBearerトークンをHS256で検証する。
type CallbackVerifier struct {
	secret []byte
	issuer string
}

// NewCallbackVerifier はCallbackVerifierを生成する。
func NewCallbackVerifier(secret, issuer string) *CallbackVerifier {
	return &CallbackVerifier{
		secret: []byte(secret),
		issuer: issuer,
	}
}

// Verify はトークンの署名、発行者、有効期限を検証してクレームを返す。
// expクレームのないトークンは拒否する。
func (v *CallbackVerifier) Verify(tokenString string) (*CallbackClaims, error) {
	claims := &CallbackClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) {
			return v.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(callbackTokenLeeway),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCallbackToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidCallbackToken
	}
	return claims, nil
}

// VerifyToken はトークンを検証し、結果のみを返す。
func (v *CallbackVerifier) VerifyToken(tokenString string) error {
	_, err := v.Verify(tokenString)
	return err
}

// Issue は指定プロバイダ向けのコールバックトークンを発行する。
// 上流レイヤーの結合テストや運用ツールから使用する。
func (v *CallbackVerifier) Issue(provider string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := CallbackClaims{
		Provider: provider,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
