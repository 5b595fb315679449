// Package callback はIdPからのコールバックを受け取り、ローカルユーザーを作成または更新する。
//
// ペイロードはプロバイダ正規化済みの形式（uid, provider, info）で受け取る。
// uidが同じコールバックが同時に到着しても、usersテーブルの一意制約と
// 1回限りの再試行により、ユーザーは必ず1件だけになる。
package callback

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"unicode/utf8"
)

// MaxUIDLength はuidの最大バイト長。provider_uidカラムの長さと一致させる。
const MaxUIDLength = 255

var (
	// ErrInvalidPayload はペイロードが不正な場合のエラー。永続化処理は一切行われない。
	ErrInvalidPayload = errors.New("invalid callback payload")

	// ErrPersistenceFailure はユーザーの読み書きに失敗した場合のエラー。
	ErrPersistenceFailure = errors.New("failed to persist user")
)

// UID はIdPが発行するユーザー識別子。
// JSONでは文字列と整数の両方を受け付け、整数は10進表記の文字列として保持する。
type UID string

// UnmarshalJSON は文字列または整数のJSON値をUIDに変換する。
// 整数は正規化するため、-0は"0"になる。
// nullは未指定として扱い、それ以外の型はErrInvalidPayloadを返す。
func (u *UID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("%w: uid: %v", ErrInvalidPayload, err)
		}
		*u = UID(s)
		return nil
	}

	if !isIntegerLiteral(data) {
		return fmt.Errorf("%w: uid must be a string or an integer", ErrInvalidPayload)
	}
	// int64に収まらない桁数も受け付ける
	n, ok := new(big.Int).SetString(string(data), 10)
	if !ok {
		return fmt.Errorf("%w: uid must be a string or an integer", ErrInvalidPayload)
	}
	*u = UID(n.String())
	return nil
}

// isIntegerLiteral は小数部や指数部を持たないJSON数値かどうかを判定する。
func isIntegerLiteral(data []byte) bool {
	if data[0] == '-' {
		data = data[1:]
	}
	if len(data) == 0 {
		return false
	}
	if len(data) > 1 && data[0] == '0' {
		return false
	}
	for _, c := range data {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Info はIdPが返すプロフィール情報。全て任意項目。
type Info struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Image string `json:"image"`
}

// Payload はIdPのコールバックで受け取るペイロード。
// 未知のフィールドは無視する。
type Payload struct {
	UID      UID    `json:"uid"`
	Provider string `json:"provider"`
	Info     *Info  `json:"info"`
}

// DecodePayload はJSONボディをPayloadにデコードする。
// 不正なJSON、型の合わないフィールド、最初の値の後に続くデータはErrInvalidPayloadとして返す。
func DecodePayload(r io.Reader) (*Payload, error) {
	dec := json.NewDecoder(r)

	var p Payload
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, ErrInvalidPayload) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: unexpected data after payload", ErrInvalidPayload)
	}
	return &p, nil
}

// InvalidReason はErrInvalidPayloadをラップしたエラーから不正の理由を取り出す。
// 理由が含まれない場合は空文字列を返す。
func InvalidReason(err error) string {
	if !errors.Is(err, ErrInvalidPayload) {
		return ""
	}
	msg := err.Error()
	prefix := ErrInvalidPayload.Error() + ": "
	if i := strings.Index(msg, prefix); i >= 0 {
		return msg[i+len(prefix):]
	}
	return ""
}

// ProfileSanitizer はプロフィール項目を保存前に無害化する。
type ProfileSanitizer interface {
	SanitizeText(s string) string
	SanitizeImageURL(raw string) string
}

// profile は検証済みのペイロード。
type profile struct {
	uid      string
	provider string
	name     string
	email    string
	image    string
}

// validate はペイロードを検証し、正規化した値を返す。
func validate(p *Payload, sanitizer ProfileSanitizer) (*profile, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: payload is empty", ErrInvalidPayload)
	}

	uid := strings.TrimSpace(string(p.UID))
	if uid == "" {
		return nil, fmt.Errorf("%w: uid is required", ErrInvalidPayload)
	}
	if len(uid) > MaxUIDLength {
		return nil, fmt.Errorf("%w: uid exceeds %d bytes", ErrInvalidPayload, MaxUIDLength)
	}
	// PostgreSQLのテキスト型はNULバイトと不正なUTF-8を格納できない
	if !utf8.ValidString(uid) {
		return nil, fmt.Errorf("%w: uid is not valid UTF-8", ErrInvalidPayload)
	}
	if strings.ContainsRune(uid, 0) {
		return nil, fmt.Errorf("%w: uid contains a NUL byte", ErrInvalidPayload)
	}

	prof := &profile{
		uid:      uid,
		provider: strings.TrimSpace(p.Provider),
	}
	if p.Info != nil {
		prof.name = storableText(sanitizer.SanitizeText(p.Info.Name))
		prof.email = storableText(sanitizer.SanitizeText(p.Info.Email))
		prof.image = storableText(sanitizer.SanitizeImageURL(p.Info.Image))
	}
	return prof, nil
}

// storableText はNULバイトと不正なUTF-8を取り除く。
// プロフィール項目は任意のため、拒否せずに除去した値を保存する。
func storableText(s string) string {
	s = strings.ToValidUTF8(s, "")
	s = strings.ReplaceAll(s, "\x00", "")
	return strings.TrimSpace(s)
}
