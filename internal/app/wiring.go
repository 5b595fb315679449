package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/hitoshi/signin/internal/config"
	"github.com/hitoshi/signin/internal/middleware"
	"github.com/hitoshi/signin/internal/repository"
)

// newSessionStore はSESSION_STOREに応じたセッションリポジトリを生成する。
// 返すclose関数はプロセス終了時に呼び出す。
func newSessionStore(cfg *config.Config, db *sql.DB) (repository.SessionRepository, func(), error) {
	switch cfg.SessionStore {
	case config.SessionStoreRedis:
		client, err := repository.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		if err := client.Ping(context.Background()).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		slog.Info("redis connection established")
		return repository.NewRedisSessionRepo(client), func() { client.Close() }, nil
	case config.SessionStorePostgres, "":
		return repository.NewPostgresSessionRepo(db), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported session store %q", cfg.SessionStore)
	}
}

// rateLimiterConfig はreq/min単位の設定値をレートリミッターの設定に変換する。
// バーストサイズは1分間の上限値と同じにする。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rl := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rl.GeneralRate = middleware.PerMinute(cfg.RateLimitGeneral)
		rl.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitCallback > 0 {
		rl.CallbackRate = middleware.PerMinute(cfg.RateLimitCallback)
		rl.CallbackBurst = cfg.RateLimitCallback
	}
	return rl
}
