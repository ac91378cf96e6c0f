// Package account はアカウント登録・メール確認・パスワードリセットの
// ドメインロジックを提供する。
package account

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/ident/internal/mail"
	"github.com/hitoshi/ident/internal/metrics"
	"github.com/hitoshi/ident/internal/model"
	"github.com/hitoshi/ident/internal/random"
	"github.com/hitoshi/ident/internal/repository"
	"github.com/hitoshi/ident/internal/security"
)

// CredentialStore はパスワードの設定・照合インターフェース。
// credential.Storeの部分集合として定義する。
type CredentialStore interface {
	SetPassword(ctx context.Context, user *model.User, plaintext string) error
	Compare(ctx context.Context, user *model.User, plaintext string) (bool, error)
}

// Config はアカウントフローの動作パラメータ。
type Config struct {
	// BaseURL はメール内リンクの生成に使う外部公開URL。
	BaseURL string
	// AppName はメール件名に使うアプリケーション名。
	AppName string
	// ConfirmationTokenLifetime はメール確認トークンの有効期間。
	ConfirmationTokenLifetime time.Duration
	// ResetTokenLifetime はパスワードリセットトークンの有効期間。
	ResetTokenLifetime time.Duration
}

// SignUpParams はサインアップ入力を表す。
type SignUpParams struct {
	UserName       string
	Email          string
	Password       string
	RepeatPassword string
	FirstName      string
	LastName       string
}

// Service はアカウントライフサイクルのサービス層。
type Service struct {
	userRepo    repository.UserRepository
	credentials CredentialStore
	sanitizer   security.InputSanitizerService
	mailer      mail.Sender
	config      Config
	metrics     metrics.Recorder
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	credentials CredentialStore,
	sanitizer security.InputSanitizerService,
	mailer mail.Sender,
	config Config,
	rec metrics.Recorder,
) *Service {
	return &Service{
		userRepo:    userRepo,
		credentials: credentials,
		sanitizer:   sanitizer,
		mailer:      mailer,
		config:      config,
		metrics:     rec,
	}
}

// SignUp は新規アカウントを登録し、メール確認トークンを発行して通知する。
// 作成されたアカウントは確認完了まで無効（ログイン不可）のままになる。
// ユーザー名またはメールアドレスが既存アカウントと重複する場合は
// レコードを作らず、メールも送らずにDuplicateIdentityを返す。
func (s *Service) SignUp(ctx context.Context, params SignUpParams) (*model.PublicUser, error) {
	userName := s.sanitizer.SanitizeField(params.UserName)
	email := strings.TrimSpace(params.Email)

	if userName == "" {
		return nil, model.NewValidationError("userName is required")
	}
	if email == "" || !strings.Contains(email, "@") {
		return nil, model.NewValidationError("email is invalid")
	}
	// 空文字はCredentialStoreでは「ハッシュなし」（外部プロバイダー専用）を
	// 意味するため、ローカル登録ではここで弾く。
	if params.Password == "" {
		return nil, model.NewValidationError("password is required")
	}
	if params.Password != params.RepeatPassword {
		return nil, model.NewValidationError("passwords do not match")
	}

	now := time.Now()
	user := &model.User{
		ID:        uuid.New().String(),
		UserName:  userName,
		Email:     email,
		FirstName: s.sanitizer.SanitizeField(params.FirstName),
		LastName:  s.sanitizer.SanitizeField(params.LastName),
		Enabled:   false,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.credentials.SetPassword(ctx, user, params.Password); err != nil {
		return nil, err
	}

	token, err := random.UID(random.DefaultTokenLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate confirmation token: %w", err)
	}
	user.SetConfirmationToken(token, now)

	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}

	s.metrics.RecordSignUp()

	if err := s.sendConfirmationMail(ctx, user, token); err != nil {
		return nil, err
	}
	return user.Public(), nil
}

// IssueConfirmationToken は未確認アカウントへ確認トークンを再発行する。
// 既存のトークンペアは新しいペアで置き換えられ、古いトークンは無効になる。
// 該当アカウントが存在しないか確認済みの場合はUserNotFoundを返す。
func (s *Service) IssueConfirmationToken(ctx context.Context, email string) error {
	user, err := s.userRepo.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil || user.ConfirmedAt != nil {
		return model.NewUserNotFoundError()
	}

	token, err := random.UID(random.DefaultTokenLength)
	if err != nil {
		return fmt.Errorf("failed to generate confirmation token: %w", err)
	}
	user.SetConfirmationToken(token, time.Now())
	user.UpdatedAt = time.Now()

	if err := s.userRepo.Update(ctx, user); err != nil {
		return err
	}
	return s.sendConfirmationMail(ctx, user, token)
}

// Confirm はメール確認トークンを消費してアカウントを有効化する。
// トークンは1回限り有効で、成功時にペアごと消去される。
// 未知・期限切れのトークンにはInvalidTokenを返す。
func (s *Service) Confirm(ctx context.Context, token string) (*model.PublicUser, error) {
	user, err := s.userRepo.FindByConfirmationToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to look up confirmation token: %w", err)
	}
	if user == nil || !s.tokenFresh(user.ConfirmationTokenCreatedAt, s.config.ConfirmationTokenLifetime) {
		s.metrics.RecordTokenConsumed("confirmation", false)
		return nil, model.NewInvalidTokenError()
	}

	now := time.Now()
	user.ConfirmedAt = &now
	user.Enabled = true
	user.ClearConfirmationToken()
	user.UpdatedAt = now

	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, err
	}

	s.metrics.RecordTokenConsumed("confirmation", true)
	return user.Public(), nil
}

// RequestReset はパスワードリセットトークンを発行して通知する。
// 対象はローカルパスワードを持つ有効なアカウントに限られ、
// 該当しないメールアドレスにはUserNotFoundを返す。
func (s *Service) RequestReset(ctx context.Context, email string) error {
	user, err := s.userRepo.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil || !user.Enabled || user.Provider != nil {
		return model.NewUserNotFoundError()
	}

	token, err := random.UID(random.DefaultTokenLength)
	if err != nil {
		return fmt.Errorf("failed to generate reset token: %w", err)
	}
	now := time.Now()
	user.SetResetPasswordToken(token, now)
	user.UpdatedAt = now

	if err := s.userRepo.Update(ctx, user); err != nil {
		return err
	}

	return s.mailer.Send(ctx, mail.TemplateResetPassword, map[string]any{
		"userName": user.UserName,
		"link":     s.link("/auth/resetPassword/" + token),
	}, mail.Options{
		To:      user.Email,
		Subject: fmt.Sprintf("[%s] パスワード再設定のご案内", s.config.AppName),
	})
}

// CompleteReset はリセットトークンを消費してパスワードを更新する。
// トークンは1回限り有効で、新しいパスワードの設定と同時にペアごと消去される。
// 未知・期限切れのトークン、および無効化されたアカウントにはInvalidTokenを返す。
func (s *Service) CompleteReset(ctx context.Context, token, password, repeatPassword string) error {
	user, err := s.userRepo.FindByResetToken(ctx, token)
	if err != nil {
		return fmt.Errorf("failed to look up reset token: %w", err)
	}
	if user == nil || !user.Enabled || !s.tokenFresh(user.ResetPasswordTokenCreatedAt, s.config.ResetTokenLifetime) {
		s.metrics.RecordTokenConsumed("reset", false)
		return model.NewInvalidTokenError()
	}

	if password != repeatPassword {
		return model.NewValidationError("passwords do not match")
	}
	if err := s.credentials.SetPassword(ctx, user, password); err != nil {
		return err
	}

	// トークン消去とパスワード更新は同じ保存で確定させる。
	user.ClearResetPasswordToken()
	user.UpdatedAt = time.Now()

	if err := s.userRepo.Update(ctx, user); err != nil {
		return err
	}

	s.metrics.RecordTokenConsumed("reset", true)
	return nil
}

// ChangePassword は現在のパスワードを検証したうえでパスワードを更新する。
// 現在のパスワードが一致しない場合はInvalidCredentialsを返す。
func (s *Service) ChangePassword(ctx context.Context, userID, currentPassword, password, repeatPassword string) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return model.NewInvalidCredentialsError()
	}

	ok, err := s.credentials.Compare(ctx, user, currentPassword)
	if err != nil {
		return err
	}
	if !ok {
		return model.NewInvalidCredentialsError()
	}

	if password != repeatPassword {
		return model.NewValidationError("passwords do not match")
	}
	if err := s.credentials.SetPassword(ctx, user, password); err != nil {
		return err
	}
	user.UpdatedAt = time.Now()

	return s.userRepo.Update(ctx, user)
}

// tokenFresh はトークンが有効期間内かを返す。
// 有効期間のちょうど境界にあるトークンは有効として扱う。
func (s *Service) tokenFresh(createdAt *time.Time, lifetime time.Duration) bool {
	if createdAt == nil {
		return false
	}
	return !createdAt.Before(time.Now().Add(-lifetime))
}

func (s *Service) sendConfirmationMail(ctx context.Context, user *model.User, token string) error {
	return s.mailer.Send(ctx, mail.TemplateConfirmEmail, map[string]any{
		"userName": user.UserName,
		"link":     s.link("/auth/confirmEmail/" + token),
	}, mail.Options{
		To:      user.Email,
		Subject: fmt.Sprintf("[%s] メールアドレスの確認", s.config.AppName),
	})
}

func (s *Service) link(path string) string {
	return strings.TrimRight(s.config.BaseURL, "/") + path
}
