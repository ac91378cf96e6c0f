// Package returnurl はサインイン後に戻るべきURLの捕捉と消費を提供する。
//
// 捕捉されたURLは署名付きCookieとしてクライアントに保持され、
// サーバー側には状態を持たない。オープンリダイレクトを防ぐため、
// 相対パス以外は一切受け付けない。
package returnurl

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CookieName は戻り先URLを保持するCookie名。
const CookieName = "ident_return"

// QueryField は戻り先URLを受け取るクエリパラメータ名。
const QueryField = "next"

// cookieMaxAge はCookieの寿命。サインインフローを跨ぐ程度で十分。
const cookieMaxAge = time.Hour

type ctxKey struct{}

// state はリクエスト内の書き込み状況を追跡する。
// 同一リクエスト内では最初の書き込みだけが有効になる。
type state struct {
	written bool
}

// Tracker は戻り先URLのCookieを発行・消費する。
type Tracker struct {
	secret []byte
	secure bool
}

// NewTracker はTrackerを生成する。
// secureがtrueのときCookieにSecure属性を付ける。
func NewTracker(secret string, secure bool) *Tracker {
	return &Tracker{
		secret: []byte(secret),
		secure: secure,
	}
}

// Middleware はリクエストに書き込み状態を仕込み、
// GETリクエストのnextクエリパラメータを自動捕捉する。
func (t *Tracker) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = r.WithContext(context.WithValue(r.Context(), ctxKey{}, &state{}))

		if r.Method == http.MethodGet {
			if raw := r.URL.Query().Get(QueryField); raw != "" {
				t.Set(w, r, raw)
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Set は戻り先URLを記録する。
// rawが空の場合はRefererヘッダのパスにフォールバックする。
// 相対パスに正規化できない値は黙って無視される。
// 同一リクエスト内で既に記録済みの場合は何もしない。
func (t *Tracker) Set(w http.ResponseWriter, r *http.Request, raw string) {
	if raw == "" {
		raw = r.Referer()
	}
	path := sanitizePath(raw)
	if path == "" {
		return
	}

	if st, ok := r.Context().Value(ctxKey{}).(*state); ok {
		if st.written {
			return
		}
		st.written = true
	}

	token, err := t.encode(path)
	if err != nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(cookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   t.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Consume は記録済みの戻り先URLを読み取り、Cookieを消去して返す。
// 記録がない場合、または値が検証できない場合はdefaultURLを返す。
// defaultURL自体もルート始まりの相対パスに正規化され、
// 正規化できない場合は "/" になる。
func (t *Tracker) Consume(w http.ResponseWriter, r *http.Request, defaultURL string) string {
	fallback := sanitizePath(defaultURL)
	if fallback == "" {
		fallback = "/"
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   t.secure,
		SameSite: http.SameSiteLaxMode,
	})

	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return fallback
	}
	path := sanitizePath(t.decode(cookie.Value))
	if path == "" {
		return fallback
	}
	return path
}

type returnClaims struct {
	Next string `json:"next"`
	jwt.RegisteredClaims
}

func (t *Tracker) encode(path string) (string, error) {
	claims := returnClaims{
		Next: path,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

func (t *Tracker) decode(raw string) string {
	claims := &returnClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(_ *jwt.Token) (any, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return ""
	}
	return claims.Next
}

// sanitizePath は戻り先候補を安全な相対パスに正規化する。
// 絶対URLはホスト部を捨ててパス以下のみを残す。
// ルート始まりでない値・プロトコル相対URLは空文字列を返す。
func sanitizePath(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}

	path := u.Path
	if path == "" || !strings.HasPrefix(path, "/") || strings.HasPrefix(path, "//") {
		return ""
	}
	if u.RawQuery != "" {
		path = fmt.Sprintf("%s?%s", path, u.RawQuery)
	}
	return path
}
