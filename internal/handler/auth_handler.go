// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/ident/internal/account"
	"github.com/hitoshi/ident/internal/middleware"
	"github.com/hitoshi/ident/internal/model"
	"github.com/hitoshi/ident/internal/provider"
	"github.com/hitoshi/ident/internal/returnurl"
	"github.com/hitoshi/ident/internal/session"
	"github.com/hitoshi/ident/internal/view"
)

const oauthStateCookie = "oauth_state"

// SessionServiceInterface は認証ハンドラーが必要とするセッション操作。
type SessionServiceInterface interface {
	SignIn(ctx context.Context, identifier, password string, remember bool) (*model.PublicUser, string, error)
	GetOrCreate(ctx context.Context, profile session.ExternalProfile) (*model.PublicUser, error)
	IssueFor(user *model.PublicUser, remember bool) (string, error)
}

// AccountServiceInterface は認証ハンドラーが必要とするアカウント操作。
type AccountServiceInterface interface {
	SignUp(ctx context.Context, params account.SignUpParams) (*model.PublicUser, error)
	IssueConfirmationToken(ctx context.Context, email string) error
	Confirm(ctx context.Context, token string) (*model.PublicUser, error)
	RequestReset(ctx context.Context, email string) error
	CompleteReset(ctx context.Context, token, password, repeatPassword string) error
	ChangePassword(ctx context.Context, userID, currentPassword, password, repeatPassword string) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	AppName        string
	CookieDomain   string
	CookieSecure   bool
	RememberMaxAge time.Duration // Rememberセッションの有効期間
}

// AuthHandler は認証フローのHTTPハンドラー。
type AuthHandler struct {
	sessions  SessionServiceInterface
	accounts  AccountServiceInterface
	renderer  view.Renderer
	returnURL *returnurl.Tracker
	providers *provider.Registry
	config    AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(
	sessions SessionServiceInterface,
	accounts AccountServiceInterface,
	renderer view.Renderer,
	returnURL *returnurl.Tracker,
	providers *provider.Registry,
	config AuthHandlerConfig,
) *AuthHandler {
	return &AuthHandler{
		sessions:  sessions,
		accounts:  accounts,
		renderer:  renderer,
		returnURL: returnURL,
		providers: providers,
		config:    config,
	}
}

// render は共通の描画コンテキストを補ってページを描画する。
func (h *AuthHandler) render(w http.ResponseWriter, r *http.Request, status int, page string, data view.Data) {
	data.AppName = h.config.AppName
	data.CSRFToken = middleware.CSRFTokenFromRequest(r)
	if data.Providers == nil {
		data.Providers = h.providers.Names()
	}
	if user, err := middleware.UserFromContext(r.Context()); err == nil {
		data.User = user
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.renderer.Render(w, page, data); err != nil {
		slog.Error("failed to render page",
			slog.String("page", page),
			slog.String("error", err.Error()),
		)
	}
}

// renderError はエラーをページとして描画する。
// 回復可能なAPIError以外は詳細を伏せてシステムエラー扱いにする。
func (h *AuthHandler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	if apiErr, ok := model.AsAPIError(err); ok {
		h.render(w, r, http.StatusBadRequest, view.PageError, view.Data{Error: apiErr})
		return
	}
	slog.Error("request failed",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	h.render(w, r, http.StatusInternalServerError, view.PageError, view.Data{
		Error: &model.APIError{
			Code:     "INTERNAL_ERROR",
			Message:  "処理中にエラーが発生しました。",
			Category: "system",
			Action:   "時間をおいて再度お試しください。",
		},
	})
}

// setSessionCookie はセッショントークンCookieを設定する。
// rememberがfalseの場合はMax-Ageを付けず、ブラウザセッション限りで消える。
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, token string, remember bool) {
	cookie := &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    token,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if remember {
		cookie.MaxAge = int(h.config.RememberMaxAge.Seconds())
	}
	http.SetCookie(w, cookie)
}

// clearSessionCookie はセッショントークンCookieを消去する。
func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// SignInPage はサインインフォームを表示する。
// 認証済みならトップへ戻し、未認証なら古いセッションCookieを消してから描画する。
// GET /auth/signIn
func (h *AuthHandler) SignInPage(w http.ResponseWriter, r *http.Request) {
	if _, err := middleware.UserFromContext(r.Context()); err == nil {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	h.clearSessionCookie(w)
	h.render(w, r, http.StatusOK, view.PageSignIn, view.Data{Form: map[string]string{}})
}

// SignIn は資格情報を検証してセッションを発行する。
// POST /auth/signIn
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	identifier := r.PostFormValue("userNameOrEmail")
	password := r.PostFormValue("password")
	remember := r.PostFormValue("remember") != ""

	_, token, err := h.sessions.SignIn(r.Context(), identifier, password, remember)
	if err != nil {
		if apiErr, ok := model.AsAPIError(err); ok {
			h.render(w, r, http.StatusUnprocessableEntity, view.PageSignIn, view.Data{
				Error: apiErr,
				Form:  map[string]string{"userNameOrEmail": identifier},
			})
			return
		}
		h.renderError(w, r, err)
		return
	}

	h.setSessionCookie(w, token, remember)
	http.Redirect(w, r, h.returnURL.Consume(w, r, "/"), http.StatusFound)
}

// SignOut はセッションCookieを破棄してサインインページへ戻す。
// POST /auth/signOut
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	h.clearSessionCookie(w)
	http.Redirect(w, r, "/auth/signIn", http.StatusFound)
}

// SignUpPage はアカウント作成フォームを表示する。
// GET /auth/signUp
func (h *AuthHandler) SignUpPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, view.PageSignUp, view.Data{Form: map[string]string{}})
}

// SignUp は新規アカウントを登録する。
// POST /auth/signUp
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	params := account.SignUpParams{
		UserName:       r.PostFormValue("userName"),
		Email:          r.PostFormValue("email"),
		Password:       r.PostFormValue("password"),
		RepeatPassword: r.PostFormValue("repeatPassword"),
		FirstName:      r.PostFormValue("firstName"),
		LastName:       r.PostFormValue("lastName"),
	}

	user, err := h.accounts.SignUp(r.Context(), params)
	if err != nil {
		if apiErr, ok := model.AsAPIError(err); ok {
			h.render(w, r, http.StatusUnprocessableEntity, view.PageSignUp, view.Data{
				Error: apiErr,
				Form: map[string]string{
					"userName":  params.UserName,
					"email":     params.Email,
					"firstName": params.FirstName,
					"lastName":  params.LastName,
				},
			})
			return
		}
		h.renderError(w, r, err)
		return
	}

	slog.Info("user signed up", slog.String("user_id", user.ID))
	h.render(w, r, http.StatusOK, view.PageInfo, view.Data{
		Message: "確認メールを送信しました。メール内のリンクから登録を完了してください。",
	})
}

// ConfirmEmail は確認トークンを消費してアカウントを有効化し、
// そのままセッションを発行して自動サインインさせる。
// GET /auth/confirmEmail/{token}
func (h *AuthHandler) ConfirmEmail(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	user, err := h.accounts.Confirm(r.Context(), token)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	sessionToken, err := h.sessions.IssueFor(user, false)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.setSessionCookie(w, sessionToken, false)

	slog.Info("email confirmed", slog.String("user_id", user.ID))
	h.render(w, r, http.StatusOK, view.PageInfo, view.Data{
		User:    user,
		Message: "メールアドレスの確認が完了しました。",
	})
}

// ResetPasswordRequestPage はリセット申請フォームを表示する。
// GET /auth/resetPasswordRequest
func (h *AuthHandler) ResetPasswordRequestPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, view.PageResetPasswordRequest, view.Data{Form: map[string]string{}})
}

// ResetPasswordRequest はリセットトークンを発行してメールを送る。
// POST /auth/resetPasswordRequest
func (h *AuthHandler) ResetPasswordRequest(w http.ResponseWriter, r *http.Request) {
	email := r.PostFormValue("email")

	if err := h.accounts.RequestReset(r.Context(), email); err != nil {
		if apiErr, ok := model.AsAPIError(err); ok {
			h.render(w, r, http.StatusUnprocessableEntity, view.PageResetPasswordRequest, view.Data{
				Error: apiErr,
				Form:  map[string]string{"email": email},
			})
			return
		}
		h.renderError(w, r, err)
		return
	}

	h.render(w, r, http.StatusOK, view.PageInfo, view.Data{
		Message: "パスワード再設定用のメールを送信しました。",
	})
}

// ResetPasswordPage は新しいパスワードの入力フォームを表示する。
// GET /auth/resetPassword/{token}
func (h *AuthHandler) ResetPasswordPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, view.PageResetPassword, view.Data{
		Token: chi.URLParam(r, "token"),
	})
}

// ResetPassword はリセットトークンを消費してパスワードを更新する。
// POST /auth/resetPassword/{token}
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	password := r.PostFormValue("password")
	repeatPassword := r.PostFormValue("repeatPassword")

	if err := h.accounts.CompleteReset(r.Context(), token, password, repeatPassword); err != nil {
		if apiErr, ok := model.AsAPIError(err); ok && apiErr.Code == model.ErrCodeValidation {
			h.render(w, r, http.StatusUnprocessableEntity, view.PageResetPassword, view.Data{
				Error: apiErr,
				Token: token,
			})
			return
		}
		h.renderError(w, r, err)
		return
	}

	h.render(w, r, http.StatusOK, view.PageInfo, view.Data{
		Message: "パスワードを再設定しました。新しいパスワードでサインインしてください。",
	})
}

// ChangePasswordPage はパスワード変更フォームを表示する。
// GET /auth/changePassword（要認証）
func (h *AuthHandler) ChangePasswordPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, view.PageChangePassword, view.Data{})
}

// ChangePassword は現在のパスワードを検証してパスワードを更新する。
// POST /auth/changePassword（要認証）
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		http.Redirect(w, r, "/auth/signIn", http.StatusFound)
		return
	}

	err = h.accounts.ChangePassword(r.Context(), user.ID,
		r.PostFormValue("currentPassword"),
		r.PostFormValue("password"),
		r.PostFormValue("repeatPassword"),
	)
	if err != nil {
		if apiErr, ok := model.AsAPIError(err); ok {
			h.render(w, r, http.StatusUnprocessableEntity, view.PageChangePassword, view.Data{
				Error: apiErr,
			})
			return
		}
		h.renderError(w, r, err)
		return
	}

	h.render(w, r, http.StatusOK, view.PageInfo, view.Data{
		Message: "パスワードを変更しました。",
	})
}

// ExternalSignIn は外部プロバイダーの認可フローを開始する。
// GET /auth/external/{provider}
func (h *AuthHandler) ExternalSignIn(w http.ResponseWriter, r *http.Request) {
	p, ok := h.providers.Lookup(chi.URLParam(r, "provider"))
	if !ok {
		http.NotFound(w, r)
		return
	}

	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		h.renderError(w, r, err)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, p.LoginURL(state), http.StatusTemporaryRedirect)
}

// ExternalCallback は外部プロバイダーのコールバックを処理する。
// GET /auth/external/{provider}/callback?code=xxx&state=yyy
func (h *AuthHandler) ExternalCallback(w http.ResponseWriter, r *http.Request) {
	p, ok := h.providers.Lookup(chi.URLParam(r, "provider"))
	if !ok {
		http.NotFound(w, r)
		return
	}

	// 1. stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch", slog.String("provider", p.Name()))
		http.Error(w, "invalid state parameter", http.StatusBadRequest)
		return
	}

	// stateクッキーを削除
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	// 2. 認可コードの交換
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing authorization code", http.StatusBadRequest)
		return
	}

	profile, err := p.Exchange(r.Context(), code)
	if err != nil {
		slog.Error("external sign-in failed",
			slog.String("provider", p.Name()),
			slog.String("error", err.Error()),
		)
		h.renderError(w, r, err)
		return
	}

	// 3. アカウントの取得または作成
	first, last := provider.SplitName(profile.Name)
	user, err := h.sessions.GetOrCreate(r.Context(), session.ExternalProfile{
		Provider:       p.Name(),
		ProviderUserID: profile.ProviderUserID,
		UserName:       profile.Email,
		Email:          profile.Email,
		FirstName:      first,
		LastName:       last,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	// 4. セッションの発行
	token, err := h.sessions.IssueFor(user, false)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	slog.Info("external sign-in succeeded",
		slog.String("provider", p.Name()),
		slog.String("user_id", user.ID),
	)
	h.setSessionCookie(w, token, false)
	http.Redirect(w, r, h.returnURL.Consume(w, r, "/"), http.StatusFound)
}

// generateState は暗号的に安全なOAuth stateを生成する。
func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
