// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hitoshi/signin/internal/model"
)

// ErrUniqueViolation はprovider_uidの一意制約違反を表す。
// 同一uidのコールバックが同時に到着した場合にInsertが返す。
var ErrUniqueViolation = errors.New("unique constraint violation")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByProviderUID はprovider_uidでユーザーを検索する。見つからない場合はnilを返す。
	// トランザクション内では該当行をロックする。
	FindByProviderUID(ctx context.Context, providerUID string) (*model.User, error)

	// Insert はユーザーを作成し、CreatedAt/UpdatedAtを設定する。
	// provider_uidが既に存在する場合はErrUniqueViolationを返す。
	Insert(ctx context.Context, user *model.User) error

	// Update はname, email, imageを更新し、UpdatedAtを設定する。
	Update(ctx context.Context, user *model.User) error

	// WithTx はfnを1つのトランザクション内で実行する。
	// fnがエラーを返した場合はロールバックする。
	WithTx(ctx context.Context, fn func(repo UserRepository) error) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
}

// SessionPurger は期限切れセッションの一括削除インターフェース。
// TTLを持たないストア（PostgreSQL）でのみ必要となる。
type SessionPurger interface {
	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// dbtx は*sql.DBと*sql.Txの共通インターフェース。
type dbtx interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
