package callback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/signin/internal/model"
	"github.com/hitoshi/signin/internal/repository"
)

// コールバック処理の結果種別。Recorderに渡される。
const (
	OutcomeCreated = "created"
	OutcomeUpdated = "updated"
	OutcomeInvalid = "invalid"
	OutcomeFailure = "failure"
)

// errUserMissing は一意制約違反の後の再試行でもユーザーが見つからない場合のエラー。
var errUserMissing = errors.New("user not found after unique violation")

// Recorder はコールバック処理の結果を記録するインターフェース。
// metrics.Collectorが実装する。
type Recorder interface {
	RecordCallback(outcome string, duration time.Duration)
	RecordCallbackRetry()
}

// Result はProcessCallbackの結果。
type Result struct {
	User    *model.User
	Created bool
}

// Processor はIdPのコールバックを処理し、ユーザーを作成または更新する。
// 内部に可変状態を持たないため、複数のgoroutineから同時に使用できる。
type Processor struct {
	userRepo  repository.UserRepository
	sanitizer ProfileSanitizer
	recorder  Recorder
	newID     func() string
}

// NewProcessor はProcessorの新しいインスタンスを生成する。
// sanitizerがnilの場合は前後の空白除去のみを行い、recorderがnilの場合は記録を行わない。
func NewProcessor(userRepo repository.UserRepository, sanitizer ProfileSanitizer, recorder Recorder) *Processor {
	if sanitizer == nil {
		sanitizer = trimSanitizer{}
	}
	return &Processor{
		userRepo:  userRepo,
		sanitizer: sanitizer,
		recorder:  recorder,
		newID:     func() string { return uuid.New().String() },
	}
}

// ProcessCallback はペイロードのuidに対応するユーザーを作成または更新する。
//
// 既存ユーザーの場合、payloadで空でない項目のみを上書きする。値に変化がなければ書き込まない。
// 新規ユーザーの場合、新しいIDを採番して作成する。
// 同一uidの並行作成で一意制約違反が発生した場合は、新しいトランザクションで
// 1回だけ再試行し、更新として処理する。
//
// 返すエラーはErrInvalidPayloadまたはErrPersistenceFailureのいずれかをラップする。
func (p *Processor) ProcessCallback(ctx context.Context, payload *Payload) (*Result, error) {
	start := time.Now()

	prof, err := validate(payload, p.sanitizer)
	if err != nil {
		p.record(OutcomeInvalid, start)
		slog.Warn("invalid callback payload", slog.String("error", err.Error()))
		return nil, err
	}

	result, err := p.upsert(ctx, prof, true)
	if errors.Is(err, repository.ErrUniqueViolation) {
		if p.recorder != nil {
			p.recorder.RecordCallbackRetry()
		}
		slog.Info("concurrent user creation detected, retrying as update",
			slog.String("provider_uid", prof.uid),
		)
		result, err = p.upsert(ctx, prof, false)
	}
	if err != nil {
		p.record(OutcomeFailure, start)
		slog.Error("failed to persist user",
			slog.String("provider_uid", prof.uid),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %w", ErrPersistenceFailure, err)
	}

	if result.Created {
		p.record(OutcomeCreated, start)
		slog.Info("new user created",
			slog.String("user_id", result.User.ID),
			slog.String("provider", prof.provider),
		)
	} else {
		p.record(OutcomeUpdated, start)
		slog.Info("existing user updated",
			slog.String("user_id", result.User.ID),
			slog.String("provider", prof.provider),
		)
	}
	return result, nil
}

// upsert は1つのトランザクション内で読み込み1回と最大1回の書き込みを行う。
// allowInsertがfalseの場合、ユーザーが存在しなければerrUserMissingを返す。
func (p *Processor) upsert(ctx context.Context, prof *profile, allowInsert bool) (*Result, error) {
	var result *Result
	err := p.userRepo.WithTx(ctx, func(tx repository.UserRepository) error {
		user, err := tx.FindByProviderUID(ctx, prof.uid)
		if err != nil {
			return fmt.Errorf("failed to find user: %w", err)
		}

		if user != nil {
			// 変更がなければ書き込まず、updated_atも進めない
			if mergeProfile(user, prof) {
				if err := tx.Update(ctx, user); err != nil {
					return fmt.Errorf("failed to update user: %w", err)
				}
			}
			result = &Result{User: user}
			return nil
		}

		if !allowInsert {
			return errUserMissing
		}

		user = &model.User{
			ID:          p.newID(),
			ProviderUID: prof.uid,
			Name:        prof.name,
			Email:       prof.email,
			Image:       prof.image,
		}
		if err := tx.Insert(ctx, user); err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}
		result = &Result{User: user, Created: true}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// mergeProfile は空でない項目のみを既存ユーザーに上書きし、値が変わったかどうかを返す。
func mergeProfile(user *model.User, prof *profile) bool {
	changed := false
	if prof.name != "" && prof.name != user.Name {
		user.Name = prof.name
		changed = true
	}
	if prof.email != "" && prof.email != user.Email {
		user.Email = prof.email
		changed = true
	}
	if prof.image != "" && prof.image != user.Image {
		user.Image = prof.image
		changed = true
	}
	return changed
}

// trimSanitizer はサニタイザー未指定時に使う、空白除去のみの実装。
type trimSanitizer struct{}

func (trimSanitizer) SanitizeText(s string) string     { return strings.TrimSpace(s) }
func (trimSanitizer) SanitizeImageURL(s string) string { return strings.TrimSpace(s) }

func (p *Processor) record(outcome string, start time.Time) {
	if p.recorder == nil {
		return
	}
	p.recorder.RecordCallback(outcome, time.Since(start))
}
