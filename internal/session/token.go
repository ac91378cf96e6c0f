package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/ident/internal/model"
)

// TokenCodec はクライアント保持セッションの署名付きトークンを発行・復元する。
// サーバー側にセッションは永続化されない。
type TokenCodec struct {
	secret         []byte
	rememberMaxAge time.Duration
}

// sessionClaims はセッションCookieトークンのJWTクレーム。
type sessionClaims struct {
	Remember bool `json:"rem,omitempty"`
	jwt.RegisteredClaims
}

// NewTokenCodec はTokenCodecを生成する。
// rememberMaxAgeはRememberセッションの有効期間。
func NewTokenCodec(secret string, rememberMaxAge time.Duration) *TokenCodec {
	return &TokenCodec{
		secret:         []byte(secret),
		rememberMaxAge: rememberMaxAge,
	}
}

// RememberMaxAge はRememberセッションの有効期間を返す。
func (c *TokenCodec) RememberMaxAge() time.Duration {
	return c.rememberMaxAge
}

// Issue はセッションをHS256署名付きトークンに符号化する。
// Rememberセッションのみ有効期限（exp）を持つ。TTLは発行時に一度だけ決まる。
func (c *TokenCodec) Issue(session model.Session) (string, error) {
	claims := sessionClaims{
		Remember: session.Remember,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  session.UserID,
			IssuedAt: jwt.NewNumericDate(session.IssuedAt),
		},
	}
	if session.Remember {
		claims.ExpiresAt = jwt.NewNumericDate(session.IssuedAt.Add(c.rememberMaxAge))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Parse は署名付きトークンからセッションを復元する。
// 署名不正・期限切れ・形式不正はすべてエラーとなり、呼び出し側は
// 匿名リクエストとして扱う。
func (c *TokenCodec) Parse(raw string) (*model.Session, error) {
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("failed to parse session token: %w", err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("session token has no subject")
	}

	session := &model.Session{
		UserID:   claims.Subject,
		Remember: claims.Remember,
	}
	if claims.IssuedAt != nil {
		session.IssuedAt = claims.IssuedAt.Time
	}
	return session, nil
}
