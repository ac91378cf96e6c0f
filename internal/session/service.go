// Package session は認証済みセッションの発行と復元を提供する。
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/ident/internal/metrics"
	"github.com/hitoshi/ident/internal/model"
	"github.com/hitoshi/ident/internal/repository"
)

// UserLookup はセッション復元時のユーザー解決インターフェース。
// cache.UserCacheの部分集合として定義する。
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*model.PublicUser, error)
}

// PasswordComparer はサインイン時のパスワード照合インターフェース。
// credential.Storeの部分集合として定義する。
type PasswordComparer interface {
	Compare(ctx context.Context, user *model.User, plaintext string) (bool, error)
}

// ExternalProfile は外部IdPから受け取った検証済みプロフィールを表す。
type ExternalProfile struct {
	Provider       string
	ProviderUserID string
	UserName       string
	Email          string
	FirstName      string
	LastName       string
}

// Service はサインイン・セッション復元・外部プロバイダーサインインを提供する。
type Service struct {
	userRepo    repository.UserRepository
	users       UserLookup
	credentials PasswordComparer
	codec       *TokenCodec
	metrics     metrics.Recorder
}

// NewService はServiceを生成する。
func NewService(
	userRepo repository.UserRepository,
	users UserLookup,
	credentials PasswordComparer,
	codec *TokenCodec,
	rec metrics.Recorder,
) *Service {
	return &Service{
		userRepo:    userRepo,
		users:       users,
		credentials: credentials,
		codec:       codec,
		metrics:     rec,
	}
}

// SignIn はユーザー名またはメールアドレスとパスワードで認証し、
// セッショントークンを発行する。
// 未知の識別子・パスワード不一致・無効化/未確認アカウントはすべて
// 同一のInvalidCredentialsを返す（アカウント存在の推測を防ぐ）。
// rememberがtrueの場合のみ明示的な有効期限付きトークンになる。
func (s *Service) SignIn(ctx context.Context, identifier, password string, remember bool) (*model.PublicUser, string, error) {
	user, err := s.userRepo.FindByUserNameOrEmail(ctx, identifier)
	if err != nil {
		return nil, "", fmt.Errorf("failed to look up user: %w", err)
	}

	if user == nil || !user.Enabled || user.ConfirmedAt == nil {
		s.metrics.RecordSignIn(false)
		return nil, "", model.NewInvalidCredentialsError()
	}

	ok, err := s.credentials.Compare(ctx, user, password)
	if err != nil {
		return nil, "", fmt.Errorf("failed to compare password: %w", err)
	}
	if !ok {
		s.metrics.RecordSignIn(false)
		slog.Info("sign-in rejected", slog.String("user_id", user.ID))
		return nil, "", model.NewInvalidCredentialsError()
	}

	token, err := s.codec.Issue(model.Session{
		UserID:   user.ID,
		IssuedAt: time.Now(),
		Remember: remember,
	})
	if err != nil {
		return nil, "", err
	}

	s.metrics.RecordSignIn(true)
	slog.Info("user signed in",
		slog.String("user_id", user.ID),
		slog.Bool("remember", remember),
	)
	return user.Public(), token, nil
}

// Hydrate はセッショントークンから現在のユーザーを復元する。
// トークン不正・ユーザー削除済み・無効化済みのいずれの場合もnilを返し、
// リクエストは匿名として処理を継続する（エラーページにしない）。
func (s *Service) Hydrate(ctx context.Context, rawToken string) *model.PublicUser {
	if rawToken == "" {
		return nil
	}

	sess, err := s.codec.Parse(rawToken)
	if err != nil {
		return nil
	}

	user, err := s.users.GetByID(ctx, sess.UserID)
	if err != nil {
		slog.Error("failed to resolve session user",
			slog.String("user_id", sess.UserID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if user == nil || !user.Enabled {
		return nil
	}
	return user
}

// GetOrCreate は外部プロバイダーの検証済みプロフィールからユーザーを
// 取得または作成する。新規作成されるユーザーは即時有効・確認済みで、
// 確認トークンは発行されない。同一プロバイダーIDでの再呼び出しで
// 重複アカウントが作られることはない。
func (s *Service) GetOrCreate(ctx context.Context, profile ExternalProfile) (*model.PublicUser, error) {
	existing, err := s.userRepo.FindByUserName(ctx, profile.UserName)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if existing != nil {
		return existing.Public(), nil
	}

	now := time.Now()
	user := &model.User{
		ID:        uuid.New().String(),
		UserName:  profile.UserName,
		Email:     profile.Email,
		FirstName: profile.FirstName,
		LastName:  profile.LastName,
		Provider: &model.ExternalProviderRef{
			Name:   profile.Provider,
			UserID: profile.ProviderUserID,
		},
		Enabled:     true,
		ConfirmedAt: &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create external-provider user: %w", err)
	}

	slog.Info("external-provider user created",
		slog.String("user_id", user.ID),
		slog.String("provider", profile.Provider),
	)
	return user.Public(), nil
}

// IssueFor は認証済みユーザーに対して新しいセッショントークンを発行する。
// 外部プロバイダーサインインとメール確認直後の自動サインインで使用する。
func (s *Service) IssueFor(user *model.PublicUser, remember bool) (string, error) {
	return s.codec.Issue(model.Session{
		UserID:   user.ID,
		IssuedAt: time.Now(),
		Remember: remember,
	})
}
