// Package security はアプリケーションのセキュリティ機能を提供する。
//
// InputSanitizerService はユーザーが入力するプロフィール項目
// （ユーザー名・氏名など）をサニタイズし、格納型XSSを防ぐ。
// bluemondayライブラリのStrictPolicyを使用し、HTMLタグを一切通さない。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// InputSanitizerService はプロフィール項目サニタイズのインターフェースを定義する。
// サインアップおよび外部プロバイダーのプロフィール取込時に使用される。
type InputSanitizerService interface {
	// SanitizeField は単一のプロフィール項目をサニタイズして返す。
	// HTMLタグは全て除去され、前後の空白はトリムされる。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	SanitizeField(raw string) string
}

// inputSanitizer はInputSanitizerServiceの実装。
// bluemondayのStrictPolicyを保持し、スレッドセーフに処理を行う。
type inputSanitizer struct {
	policy *bluemonday.Policy
}

// NewInputSanitizer はInputSanitizerServiceの新しいインスタンスを生成する。
// プロフィール項目にHTMLを許す理由はないため、許可タグゼロの
// StrictPolicyを採用する。
func NewInputSanitizer() *inputSanitizer {
	return &inputSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// SanitizeField は単一のプロフィール項目をサニタイズして返す。
func (s *inputSanitizer) SanitizeField(raw string) string {
	return strings.TrimSpace(s.policy.Sanitize(raw))
}

var _ InputSanitizerService = (*inputSanitizer)(nil)
