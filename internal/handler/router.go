package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/ident/internal/middleware"
	"github.com/hitoshi/ident/internal/provider"
	"github.com/hitoshi/ident/internal/returnurl"
	"github.com/hitoshi/ident/internal/view"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionHydrator middleware.SessionHydrator
	RateLimiter     *middleware.RateLimiter
	CSRFConfig      middleware.CSRFConfig
	Logger          *slog.Logger

	// 認証
	SessionService SessionServiceInterface
	AccountService AccountServiceInterface
	Renderer       view.Renderer
	ReturnURL      *returnurl.Tracker
	Providers      *provider.Registry
	AuthConfig     AuthHandlerConfig

	// 監視
	MetricsHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → Session → ReturnURL → CSRF → RateLimit(General)
//
// 認証情報を受け付けるPOSTエンドポイントにはさらに専用のレート制限が掛かる。
// /health と /metrics はチェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	// --- 監視エンドポイント（ミドルウェアチェーンの外） ---
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	authHandler := NewAuthHandler(
		deps.SessionService,
		deps.AccountService,
		deps.Renderer,
		deps.ReturnURL,
		deps.Providers,
		deps.AuthConfig,
	)

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewRecoveryMiddleware())
		r.Use(middleware.NewSecurityHeadersMiddleware())
		r.Use(middleware.NewLoggingMiddleware(deps.Logger))
		r.Use(middleware.NewSessionMiddleware(deps.SessionHydrator))
		r.Use(deps.ReturnURL.Middleware)
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		credential := deps.RateLimiter.CredentialMiddleware()

		r.Route("/auth", func(r chi.Router) {
			// サインイン・サインアウト
			r.Get("/signIn", authHandler.SignInPage)
			r.With(credential).Post("/signIn", authHandler.SignIn)
			r.Get("/signOut", authHandler.SignOut)
			r.Post("/signOut", authHandler.SignOut)

			// アカウント登録とメール確認
			r.Get("/signUp", authHandler.SignUpPage)
			r.With(credential).Post("/signUp", authHandler.SignUp)
			r.With(credential).Get("/confirmEmail/{token}", authHandler.ConfirmEmail)

			// パスワードリセット
			r.Get("/resetPasswordRequest", authHandler.ResetPasswordRequestPage)
			r.With(credential).Post("/resetPasswordRequest", authHandler.ResetPasswordRequest)
			r.Get("/resetPassword/{token}", authHandler.ResetPasswordPage)
			r.With(credential).Post("/resetPassword/{token}", authHandler.ResetPassword)

			// パスワード変更（要認証）
			r.Group(func(r chi.Router) {
				r.Use(middleware.NewRequireUserMiddleware("/auth/signIn"))
				r.Get("/changePassword", authHandler.ChangePasswordPage)
				r.With(credential).Post("/changePassword", authHandler.ChangePassword)
			})

			// 外部プロバイダー
			r.Get("/external/{provider}", authHandler.ExternalSignIn)
			r.Post("/external/{provider}", authHandler.ExternalSignIn)
			r.Get("/external/{provider}/callback", authHandler.ExternalCallback)
		})
	})

	return r
}
