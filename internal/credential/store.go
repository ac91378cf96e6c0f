// Package credential はパスワードの検証・ハッシュ化・照合を提供する。
// パスワードポリシー（最小長）はこのパッケージが所有する。
package credential

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/ident/internal/metrics"
	"github.com/hitoshi/ident/internal/model"
)

// Config はCredentialStoreの設定。
type Config struct {
	// Pepper は全パスワードに付加するサーバー側シークレット。
	// ハッシュ内に埋め込まれるソルトとは別物。
	Pepper string

	// MinPasswordLength は受け付けるパスワードの最小長。
	MinPasswordLength int

	// BcryptCost はbcryptのワークファクター。
	// テスト環境ではbcrypt.MinCostまで下げてよい。
	BcryptCost int

	// HashWorkers はハッシュ計算を実行するワーカー数の上限。
	// bcryptはCPUバウンドであるため、リクエスト処理goroutineを
	// 専有しないよう並列数を制限する。
	HashWorkers int
}

// Store はパスワードの設定と照合を行う。
type Store struct {
	config  Config
	sem     chan struct{}
	metrics metrics.Recorder
}

// NewStore はStoreを生成する。
// HashWorkersが0以下の場合はデフォルト値4を使用する。
func NewStore(config Config, rec metrics.Recorder) *Store {
	if config.MinPasswordLength <= 0 {
		config.MinPasswordLength = 6
	}
	if config.BcryptCost <= 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	if config.HashWorkers <= 0 {
		config.HashWorkers = 4
	}
	return &Store{
		config:  config,
		sem:     make(chan struct{}, config.HashWorkers),
		metrics: rec,
	}
}

// MinPasswordLength は設定されたパスワード最小長を返す。
func (s *Store) MinPasswordLength() int {
	return s.config.MinPasswordLength
}

// SetPassword はplaintextを検証し、ハッシュ化してuserに格納する。
// 空文字列は格納済みハッシュの消去を意味する（外部プロバイダー専用アカウント用）。
// 最小長未満の場合はValidationErrorを返し、既存のハッシュは変更しない。
// 永続化は呼び出し側の責務。
func (s *Store) SetPassword(ctx context.Context, user *model.User, plaintext string) error {
	if plaintext == "" {
		user.PasswordHash = nil
		return nil
	}
	if len(plaintext) < s.config.MinPasswordLength {
		return model.NewPasswordTooShortError(s.config.MinPasswordLength)
	}

	hash, err := s.hash(ctx, plaintext)
	if err != nil {
		return err
	}
	user.PasswordHash = &hash
	return nil
}

// Compare はplaintextが格納済みハッシュと一致するかを返す。
// ハッシュが格納されていない場合は常にfalseを返し、エラーにはしない。
// 返却されるエラーはコンテキストキャンセルなどの基盤障害のみ。
func (s *Store) Compare(ctx context.Context, user *model.User, plaintext string) (bool, error) {
	if user.PasswordHash == nil || *user.PasswordHash == "" {
		return false, nil
	}

	if err := s.acquire(ctx); err != nil {
		return false, err
	}
	defer s.release()

	start := time.Now()
	err := bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(plaintext+s.config.Pepper))
	s.metrics.RecordHashDuration(time.Since(start))

	if err == bcrypt.ErrMismatchedHashAndPassword {
		return false, nil
	}
	if err != nil {
		// 壊れたハッシュ等も照合失敗として扱う
		return false, nil
	}
	return true, nil
}

// hash はワーカープール上でbcryptハッシュを計算する。
func (s *Store) hash(ctx context.Context, plaintext string) (string, error) {
	if err := s.acquire(ctx); err != nil {
		return "", err
	}
	defer s.release()

	start := time.Now()
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext+s.config.Pepper), s.config.BcryptCost)
	s.metrics.RecordHashDuration(time.Since(start))

	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// acquire はワーカープールのスロットを確保する。
// コンテキストがキャンセル済みの場合は待機せずエラーを返す。
func (s *Store) acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) release() {
	<-s.sem
}
