// Package mail はトランザクションメールの送出を抽象化する。
package mail

import (
	"context"
	"log/slog"
)

// テンプレート名。アカウント系フローから参照される。
const (
	TemplateConfirmEmail  = "confirmEmail"
	TemplateResetPassword = "resetPassword"
)

// Options は1通のメールの宛先と件名を指定する。
type Options struct {
	To      string
	Subject string
}

// Sender はテンプレートメールを送出する。
// 実運用ではSMTPやメールAPIの実装を差し込む。
type Sender interface {
	Send(ctx context.Context, template string, data map[string]any, opts Options) error
}

// LogSender は送出内容をログに書くだけのSender実装。
// メール基盤が未設定の環境（開発・テスト）で使う。
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender はLogSenderを生成する。
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, template string, data map[string]any, opts Options) error {
	attrs := []any{
		slog.String("template", template),
		slog.String("to", opts.To),
		slog.String("subject", opts.Subject),
	}
	for k, v := range data {
		attrs = append(attrs, slog.Any(k, v))
	}
	s.logger.Info("mail dispatched", attrs...)
	return nil
}

var _ Sender = (*LogSender)(nil)
