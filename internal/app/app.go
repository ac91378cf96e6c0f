package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/hitoshi/ident/internal/account"
	"github.com/hitoshi/ident/internal/cache"
	"github.com/hitoshi/ident/internal/config"
	"github.com/hitoshi/ident/internal/credential"
	"github.com/hitoshi/ident/internal/database"
	"github.com/hitoshi/ident/internal/handler"
	"github.com/hitoshi/ident/internal/logger"
	"github.com/hitoshi/ident/internal/mail"
	"github.com/hitoshi/ident/internal/metrics"
	"github.com/hitoshi/ident/internal/middleware"
	"github.com/hitoshi/ident/internal/model"
	"github.com/hitoshi/ident/internal/provider"
	"github.com/hitoshi/ident/internal/repository"
	"github.com/hitoshi/ident/internal/returnurl"
	"github.com/hitoshi/ident/internal/security"
	"github.com/hitoshi/ident/internal/session"
	"github.com/hitoshi/ident/internal/view"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandSeed:
		return runSeed(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe は認証サーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	roleRepo := repository.NewPostgresRoleRepo(db)
	userRepo := repository.NewPostgresUserRepo(db, roleRepo)

	// 3. メトリクスコレクターの初期化
	collector := metrics.NewCollector()

	// 4. 資格情報ストアとユーザーキャッシュの初期化
	credStore := credential.NewStore(credential.Config{
		Pepper:            cfg.PasswordPepper,
		MinPasswordLength: cfg.MinPasswordLength,
		BcryptCost:        cfg.BcryptCost,
		HashWorkers:       cfg.HashWorkers,
	}, collector)

	userCache := cache.NewUserCache(userRepo, cfg.UserCacheTTL, collector)
	defer userCache.Stop()

	// リポジトリの書き込み成功時にキャッシュを同期破棄する
	userRepo.SetInvalidator(userCache)

	// 5. ドメインサービスの初期化
	codec := session.NewTokenCodec(cfg.SessionSecret, cfg.RememberMaxAge)
	sessionService := session.NewService(userRepo, userCache, credStore, codec, collector)

	accountService := account.NewService(
		userRepo, credStore,
		security.NewInputSanitizer(),
		mail.NewLogSender(slog.Default()),
		account.Config{
			BaseURL:                   cfg.BaseURL,
			AppName:                   cfg.AppName,
			ConfirmationTokenLifetime: cfg.ConfirmationTokenLifetime,
			ResetTokenLifetime:        cfg.ResetTokenLifetime,
		},
		collector,
	)

	// 6. 外部プロバイダーの登録（設定があるものだけ）
	var providers []provider.Provider
	if cfg.GoogleEnabled() {
		providers = append(providers, provider.NewGoogle(provider.GoogleConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		}))
	}
	registry := provider.NewRegistry(providers...)

	// 7. ビューとリターンURLトラッカーの初期化
	renderer, err := view.NewTemplateRenderer()
	if err != nil {
		return fmt.Errorf("failed to initialize renderer: %w", err)
	}

	tracker := returnurl.NewTracker(cfg.ReturnURLSecret, cfg.CookieSecure)

	// 8. ルーターの構築
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	// configのレートはreq/min単位なのでreq/secに変換する
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.CredentialRate = rate.Limit(float64(cfg.RateLimitCredential) / 60.0)
	rateLimiterCfg.CredentialBurst = cfg.RateLimitCredential

	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		SessionHydrator: sessionService,
		RateLimiter:     rateLimiter,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		Logger: slog.Default(),

		SessionService: sessionService,
		AccountService: accountService,
		Renderer:       renderer,
		ReturnURL:      tracker,
		Providers:      registry,
		AuthConfig: handler.AuthHandlerConfig{
			AppName:        cfg.AppName,
			CookieDomain:   cfg.CookieDomain,
			CookieSecure:   cfg.CookieSecure,
			RememberMaxAge: cfg.RememberMaxAge,
		},

		MetricsHandler: collector.Handler(),
	}

	router := handler.NewRouter(deps)

	// 9. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("auth server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down auth server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("auth server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runSeed は初期データを投入する。DB接続を開いてseedに委譲する。
func runSeed(cfg *config.Config) error {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return fmt.Errorf("seed requires ADMIN_EMAIL and ADMIN_PASSWORD")
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	roleRepo := repository.NewPostgresRoleRepo(db)
	userRepo := repository.NewPostgresUserRepo(db, roleRepo)

	credStore := credential.NewStore(credential.Config{
		Pepper:            cfg.PasswordPepper,
		MinPasswordLength: cfg.MinPasswordLength,
		BcryptCost:        cfg.BcryptCost,
		HashWorkers:       cfg.HashWorkers,
	}, metrics.Noop{})

	return seed(context.Background(), userRepo, roleRepo, credStore, cfg)
}

// seed はAdministratorロールと管理者アカウントを投入する。
// 冪等であり、既存のロール・アカウントがあればそのまま使う。
func seed(
	ctx context.Context,
	userRepo repository.UserRepository,
	roleRepo repository.RoleRepository,
	credStore *credential.Store,
	cfg *config.Config,
) error {
	now := time.Now()

	// 1. Administratorロールの作成
	role, err := roleRepo.FindByName(ctx, "Administrator")
	if err != nil {
		return fmt.Errorf("failed to look up role: %w", err)
	}
	if role == nil {
		role = &model.Role{
			ID:        uuid.New().String(),
			Name:      "Administrator",
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := roleRepo.Create(ctx, role); err != nil {
			return fmt.Errorf("failed to create role: %w", err)
		}
		slog.Info("role created", slog.String("role", role.Name))
	}

	// 2. 管理者アカウントの作成
	admin, err := userRepo.FindByUserName(ctx, cfg.AdminUserName)
	if err != nil {
		return fmt.Errorf("failed to look up admin user: %w", err)
	}
	if admin == nil {
		admin = &model.User{
			ID:          uuid.New().String(),
			UserName:    cfg.AdminUserName,
			Email:       cfg.AdminEmail,
			Enabled:     true,
			ConfirmedAt: &now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := credStore.SetPassword(ctx, admin, cfg.AdminPassword); err != nil {
			return fmt.Errorf("failed to hash admin password: %w", err)
		}
		if err := userRepo.Create(ctx, admin); err != nil {
			return fmt.Errorf("failed to create admin user: %w", err)
		}
		slog.Info("admin user created", slog.String("user_name", admin.UserName))
	}

	// 3. ロールの割り当て（割り当て済みなら何もしない）
	if err := roleRepo.Assign(ctx, admin.ID, role.ID); err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}

	slog.Info("seed completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
