// Package view は認証フローのHTMLページ描画を提供する。
package view

import (
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/hitoshi/ident/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

// ページ名。RenderのnameにはこれらのいずれかをArgに渡す。
const (
	PageSignIn               = "signIn"
	PageSignUp               = "signUp"
	PageResetPasswordRequest = "resetPasswordRequest"
	PageResetPassword        = "resetPassword"
	PageChangePassword       = "changePassword"
	PageError                = "error"
	PageInfo                 = "info"
)

// Data はテンプレートに渡す描画コンテキスト。
type Data struct {
	// AppName はヘッダ・タイトルに表示するアプリケーション名。
	AppName string
	// User はサインイン中のユーザー。匿名の場合はnil。
	User *model.PublicUser
	// CSRFToken はフォームの隠しフィールドに埋め込むトークン。
	CSRFToken string
	// Error はフォーム上部に表示するエラー。なければnil。
	Error *model.APIError
	// Message は完了・案内メッセージ。
	Message string
	// Form は再表示するフォーム値（パスワードは含めない）。
	Form map[string]string
	// Providers は外部サインインのプロバイダー名一覧。
	Providers []string
	// Token はリセットフォームがPOST先に埋め込むトークン。
	Token string
}

// Renderer はHTMLページを描画する。
type Renderer interface {
	Render(w io.Writer, page string, data Data) error
}

// TemplateRenderer は埋め込みテンプレートによるRenderer実装。
type TemplateRenderer struct {
	templates *template.Template
}

// NewTemplateRenderer はTemplateRendererを生成する。
// テンプレートはバイナリに埋め込まれているため、実行時のファイル配置に依存しない。
func NewTemplateRenderer() (*TemplateRenderer, error) {
	t, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	return &TemplateRenderer{templates: t}, nil
}

// Render は指定ページを描画する。
func (r *TemplateRenderer) Render(w io.Writer, page string, data Data) error {
	if err := r.templates.ExecuteTemplate(w, page+".html", data); err != nil {
		return fmt.Errorf("failed to render page %s: %w", page, err)
	}
	return nil
}

var _ Renderer = (*TemplateRenderer)(nil)
