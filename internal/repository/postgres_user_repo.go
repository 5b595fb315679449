package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/signin/internal/model"
)

// pqUniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const pqUniqueViolation pq.ErrorCode = "23505"

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db dbtx
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT id, provider_uid, name, email, image, created_at, updated_at
		 FROM users WHERE id = $1`,
		id,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByProviderUID はprovider_uidでユーザーを検索する。見つからない場合はnilを返す。
// FOR UPDATEにより、トランザクション内では同一uidの並行更新を直列化する。
func (r *PostgresUserRepo) FindByProviderUID(ctx context.Context, providerUID string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT id, provider_uid, name, email, image, created_at, updated_at
		 FROM users WHERE provider_uid = $1
		 FOR UPDATE`,
		providerUID,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by provider uid: %w", err)
	}
	return user, nil
}

// Insert はユーザーを作成する。
// タイムスタンプはDB側で設定し、RETURNINGでuserに反映する。
func (r *PostgresUserRepo) Insert(ctx context.Context, user *model.User) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (id, provider_uid, name, email, image)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at, updated_at`,
		user.ID, user.ProviderUID, user.Name, user.Email, user.Image,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if isPqErr(err, pqUniqueViolation) {
			return ErrUniqueViolation
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// Update はユーザーのname, email, imageを更新する。provider_uidは更新しない。
func (r *PostgresUserRepo) Update(ctx context.Context, user *model.User) error {
	err := r.db.QueryRowContext(ctx,
		`UPDATE users
		 SET name = $2, email = $3, image = $4, updated_at = now()
		 WHERE id = $1
		 RETURNING updated_at`,
		user.ID, user.Name, user.Email, user.Image,
	).Scan(&user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("user not found: %s", user.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

// WithTx はfnをトランザクション内で実行する。
// fnに渡されるリポジトリはトランザクションに束縛されている。
func (r *PostgresUserRepo) WithTx(ctx context.Context, fn func(repo UserRepository) error) error {
	db, ok := r.db.(*sql.DB)
	if !ok {
		return errors.New("already in transaction")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&PostgresUserRepo{db: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("failed to rollback: %v: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// scanUser は1行をmodel.Userに読み込む。行がない場合はnilを返す。
func scanUser(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	err := row.Scan(
		&user.ID,
		&user.ProviderUID,
		&user.Name,
		&user.Email,
		&user.Image,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// isPqErr はerrが指定コードのPostgreSQLエラーかどうかを判定する。
func isPqErr(err error, code pq.ErrorCode) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == code
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
