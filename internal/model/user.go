// Package model はドメインモデルを定義する。
package model

import "time"

// ExternalProviderRef は外部IdP上のアカウントへの参照を表す。
type ExternalProviderRef struct {
	Name   string
	UserID string
}

// User は永続化されるアカウントレコードを表す。
// PasswordHashと各トークンペアは内部表現であり、
// キャッシュ・セッション層の外にはPublicUserとしてのみ公開される。
type User struct {
	ID       string
	UserName string
	Email    string

	// PasswordHash がnilのアカウントはローカルパスワードログイン不可
	// （外部プロバイダー専用アカウント）。
	PasswordHash *string

	FirstName string
	LastName  string
	Provider  *ExternalProviderRef

	// Enabled はログイン可否を決める。メール確認前はfalse。
	Enabled     bool
	ConfirmedAt *time.Time

	// トークンペアは必ず両方同時に設定・解除する。
	// Set/Clearヘルパー以外から直接触らないこと。
	ConfirmationToken           *string
	ConfirmationTokenCreatedAt  *time.Time
	ResetPasswordToken          *string
	ResetPasswordTokenCreatedAt *time.Time

	Roles []Role

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SetConfirmationToken は確認トークンペアを設定する。
func (u *User) SetConfirmationToken(token string, createdAt time.Time) {
	u.ConfirmationToken = &token
	u.ConfirmationTokenCreatedAt = &createdAt
}

// ClearConfirmationToken は確認トークンペアを解除する。
func (u *User) ClearConfirmationToken() {
	u.ConfirmationToken = nil
	u.ConfirmationTokenCreatedAt = nil
}

// SetResetPasswordToken はパスワードリセットトークンペアを設定する。
func (u *User) SetResetPasswordToken(token string, createdAt time.Time) {
	u.ResetPasswordToken = &token
	u.ResetPasswordTokenCreatedAt = &createdAt
}

// ClearResetPasswordToken はパスワードリセットトークンペアを解除する。
func (u *User) ClearResetPasswordToken() {
	u.ResetPasswordToken = nil
	u.ResetPasswordTokenCreatedAt = nil
}

// Public はシークレットを除いた公開プロジェクションを返す。
func (u *User) Public() *PublicUser {
	roles := make([]Role, len(u.Roles))
	copy(roles, u.Roles)

	pu := &PublicUser{
		ID:          u.ID,
		UserName:    u.UserName,
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Enabled:     u.Enabled,
		ConfirmedAt: u.ConfirmedAt,
		Roles:       roles,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
	if u.Provider != nil {
		pu.ProviderName = u.Provider.Name
	}
	return pu
}

// Role はユーザーに付与される権限グループを表す。
type Role struct {
	ID        string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PublicUser はキャッシュ・セッション層が呼び出し側に返すユーザー表現。
// パスワードハッシュおよび確認・リセットトークンは含まない。
type PublicUser struct {
	ID           string
	UserName     string
	Email        string
	FirstName    string
	LastName     string
	ProviderName string
	Enabled      bool
	ConfirmedAt  *time.Time
	Roles        []Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// InRole は指定されたロールを保持しているかを返す。
func (u *PublicUser) InRole(name string) bool {
	for _, r := range u.Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}

// DisplayName は表示名を返す。
// 姓がある場合は「名 姓」、なければ名、それもなければユーザー名。
func (u *PublicUser) DisplayName() string {
	if u.LastName != "" {
		return u.FirstName + " " + u.LastName
	}
	if u.FirstName != "" {
		return u.FirstName
	}
	return u.UserName
}

// Session はクライアント保持のセッション状態を表す。
// サーバー側には永続化せず、署名付きCookieトークンとしてのみ存在する。
type Session struct {
	UserID   string
	IssuedAt time.Time

	// Remember がtrueのセッションは明示的な有効期限付きで発行される。
	// falseの場合はブラウザセッションスコープ。
	Remember bool
}
