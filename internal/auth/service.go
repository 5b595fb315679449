// Package auth はOAuth認証フロー、コールバック取り込み、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/signin/internal/callback"
	"github.com/hitoshi/signin/internal/model"
	"github.com/hitoshi/signin/internal/repository"
)

// ErrSessionIDRequired はセッションIDが空の場合のエラー。
var ErrSessionIDRequired = errors.New("session ID is required")

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
// 認可コードをプロバイダ正規化済みのコールバックペイロードに変換する。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報をペイロードとして返す。
	ExchangeCode(ctx context.Context, code string) (*callback.Payload, error)
}

// CallbackProcessor はコールバックペイロードからユーザーを作成または更新する。
type CallbackProcessor interface {
	ProcessCallback(ctx context.Context, payload *callback.Payload) (*callback.Result, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth       OAuthProvider
	processor   CallbackProcessor
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	config      ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	oauth OAuthProvider,
	processor CallbackProcessor,
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	return &Service{
		oauth:       oauth,
		processor:   processor,
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		config:      config,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
// ユーザーの作成・更新はCallbackProcessorに委譲する。
// ペイロードが不正な場合のエラーはcallback.ErrInvalidPayloadをラップして返す。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	payload, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	result, err := s.processor.ProcessCallback(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to process callback: %w", err)
	}

	session, err := s.createSession(ctx, result.User.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("user logged in",
		slog.String("user_id", result.User.ID),
		slog.String("provider", payload.Provider),
		slog.Bool("created", result.Created),
	)
	return session, nil
}

// Ingest は上流の認証レイヤーから届いたペイロードを処理する。
// セッションは発行しない。
func (s *Service) Ingest(ctx context.Context, payload *callback.Payload) (*callback.Result, error) {
	return s.processor.ProcessCallback(ctx, payload)
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrSessionIDRequired
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out", slog.String("session_id", sessionID))
	return nil
}

// GetUser は指定IDのユーザーを取得する。存在しない場合はUSER_NOT_FOUNDのAPIErrorを返す。
func (s *Service) GetUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := time.Now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
