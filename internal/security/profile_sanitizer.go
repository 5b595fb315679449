// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ProfileSanitizer は外部のIDプロバイダから受け取ったプロフィール情報を
// 保存前に無害化する。表示名やメールアドレスにHTMLが混入していても
// bluemondayのStrictPolicyで全てのタグを除去し、画像URLは
// 内部ネットワークを指さないhttp/httpsの絶対URLのみを受け付ける。
package security

import (
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ProfileSanitizer はプロフィール項目のサニタイズ機能のインターフェースを定義する。
type ProfileSanitizer interface {
	// SanitizeText はHTMLタグを全て除去し、前後の空白を取り除いたテキストを返す。
	// エンティティはデコードして返すため、"&amp;" は "&" として保存される。
	SanitizeText(s string) string

	// SanitizeImageURL は画像URLを検証する。
	// http/httpsスキームかつ外部ホストを持つ絶対URLのみを返し、それ以外は空文字列を返す。
	SanitizeImageURL(raw string) string
}

// profileSanitizer はProfileSanitizerの実装。
// bluemondayのポリシーはスレッドセーフなので共有して使用する。
type profileSanitizer struct {
	policy *bluemonday.Policy
}

// NewProfileSanitizer はProfileSanitizerの新しいインスタンスを生成する。
func NewProfileSanitizer() *profileSanitizer {
	return &profileSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// SanitizeText はHTMLを除去したプレーンテキストを返す。
func (s *profileSanitizer) SanitizeText(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	// StrictPolicyは出力をHTMLエスケープするため、保存用にデコードする
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(v)))
}

// SanitizeImageURL はhttp/httpsの絶対URLのみを通過させる。
// プライベートIPやlocalhostを指すURLは破棄する。
func (s *profileSanitizer) SanitizeImageURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	if u.Hostname() == "" || isInternalHost(u.Hostname()) {
		return ""
	}
	return u.String()
}
