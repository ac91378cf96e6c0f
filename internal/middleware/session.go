// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hitoshi/ident/internal/model"
)

// SessionCookieName はセッショントークンを保持するCookie名。
const SessionCookieName = "ident_session"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userContextKey はリクエストコンテキストにユーザーを格納するためのキー。
var userContextKey = contextKey("user")

// SessionHydrator はセッショントークンからユーザーを復元するインターフェース。
// session.Serviceの部分集合として定義する。
type SessionHydrator interface {
	Hydrate(ctx context.Context, rawToken string) *model.PublicUser
}

// NewSessionMiddleware はCookieのセッショントークンからユーザーを復元し、
// リクエストコンテキストに注入するミドルウェアを返す。
// トークンがない・検証できない・アカウントが無効化済みの場合でも
// リクエストを拒否せず、匿名として通過させる。
func NewSessionMiddleware(hydrator SessionHydrator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			user := hydrator.Hydrate(r.Context(), cookie.Value)
			if user == nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), userContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewRequireUserMiddleware は未認証リクエストをサインインページへ
// リダイレクトするミドルウェアを返す。
// 元のパスはnextクエリパラメータとして引き継がれ、
// サインイン完了後の戻り先として使われる。
// SessionMiddlewareの後に配置すること。
func NewRequireUserMiddleware(signInPath string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := UserFromContext(r.Context()); err != nil {
				target := signInPath + "?next=" + url.QueryEscape(r.URL.RequestURI())
				http.Redirect(w, r, target, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserFromContext はリクエストコンテキストからユーザーを取得する。
// セッションミドルウェアを通過した認証済みリクエストでのみ有効。
func UserFromContext(ctx context.Context) (*model.PublicUser, error) {
	user, ok := ctx.Value(userContextKey).(*model.PublicUser)
	if !ok || user == nil {
		return nil, fmt.Errorf("user not found in context")
	}
	return user, nil
}

// ContextWithUser はコンテキストにユーザーを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUser(ctx context.Context, user *model.PublicUser) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}
