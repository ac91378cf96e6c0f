package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/ident/internal/model"
)

// uniqueViolation はPostgreSQLのunique_violationエラーコード。
const uniqueViolation = "23505"

const userColumns = `id, user_name, email, password_hash, first_name, last_name,
	provider_name, provider_user_id, enabled, confirmed_at,
	confirmation_token, confirmation_token_created_at,
	reset_password_token, reset_password_token_created_at,
	created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db          *sql.DB
	roles       RoleRepository
	invalidator CacheInvalidator
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB, roles RoleRepository) *PostgresUserRepo {
	return &PostgresUserRepo{db: db, roles: roles}
}

// SetInvalidator は変更操作後に呼び出すキャッシュ無効化フックを登録する。
// キャッシュがこのリポジトリを参照するため、生成後にワイヤリングする。
func (r *PostgresUserRepo) SetInvalidator(inv CacheInvalidator) {
	r.invalidator = inv
}

// FindByID は指定IDのユーザーをロール付きで取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.findOne(ctx, `WHERE id = $1`, id)
}

// FindByUserName はユーザー名で検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByUserName(ctx context.Context, userName string) (*model.User, error) {
	return r.findOne(ctx, `WHERE user_name = $1`, userName)
}

// FindByEmail はメールアドレスで検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findOne(ctx, `WHERE email = $1`, email)
}

// FindByUserNameOrEmail はユーザー名またはメールアドレスで検索する。
func (r *PostgresUserRepo) FindByUserNameOrEmail(ctx context.Context, identifier string) (*model.User, error) {
	return r.findOne(ctx, `WHERE user_name = $1 OR email = $1`, identifier)
}

// FindByConfirmationToken は確認トークンで検索する。
func (r *PostgresUserRepo) FindByConfirmationToken(ctx context.Context, token string) (*model.User, error) {
	return r.findOne(ctx, `WHERE confirmation_token = $1`, token)
}

// FindByResetToken はパスワードリセットトークンで検索する。
func (r *PostgresUserRepo) FindByResetToken(ctx context.Context, token string) (*model.User, error) {
	return r.findOne(ctx, `WHERE reset_password_token = $1`, token)
}

// Create はユーザーを作成する。
// ユーザー名・メールアドレスの一意制約違反はDuplicateIdentityにマップされる。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		userValues(user)...,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == uniqueViolation {
			return model.NewDuplicateIdentityError()
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}

	r.invalidate(user)
	return nil
}

// Update はユーザーの全フィールドを上書き更新する。
func (r *PostgresUserRepo) Update(ctx context.Context, user *model.User) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET
			user_name = $2, email = $3, password_hash = $4,
			first_name = $5, last_name = $6,
			provider_name = $7, provider_user_id = $8,
			enabled = $9, confirmed_at = $10,
			confirmation_token = $11, confirmation_token_created_at = $12,
			reset_password_token = $13, reset_password_token_created_at = $14,
			created_at = $15, updated_at = $16
		 WHERE id = $1`,
		userValues(user)...,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == uniqueViolation {
			return model.NewDuplicateIdentityError()
		}
		return fmt.Errorf("failed to update user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", user.ID)
	}

	r.invalidate(user)
	return nil
}

// Delete は指定IDのユーザーを削除する。ロール割り当てはCASCADE削除される。
func (r *PostgresUserRepo) Delete(ctx context.Context, id string) error {
	user, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("user not found: %s", id)
	}

	if _, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	r.invalidate(user)
	return nil
}

// invalidate は登録済みのキャッシュ無効化フックを同期的に呼び出す。
func (r *PostgresUserRepo) invalidate(user *model.User) {
	if r.invalidator != nil {
		r.invalidator.Invalidate(user.ID, user.UserName)
	}
}

// findOne は単一ユーザーを取得し、存在すればロールを付与する。
func (r *PostgresUserRepo) findOne(ctx context.Context, where string, arg any) (*model.User, error) {
	user := &model.User{}
	var (
		providerName   sql.NullString
		providerUserID sql.NullString
		confirmedAt    sql.NullTime
		confirmToken   sql.NullString
		confirmAt      sql.NullTime
		resetToken     sql.NullString
		resetAt        sql.NullTime
		passwordHash   sql.NullString
	)

	err := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users `+where, arg,
	).Scan(
		&user.ID, &user.UserName, &user.Email, &passwordHash,
		&user.FirstName, &user.LastName,
		&providerName, &providerUserID, &user.Enabled, &confirmedAt,
		&confirmToken, &confirmAt,
		&resetToken, &resetAt,
		&user.CreatedAt, &user.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if passwordHash.Valid {
		user.PasswordHash = &passwordHash.String
	}
	if providerName.Valid {
		user.Provider = &model.ExternalProviderRef{
			Name:   providerName.String,
			UserID: providerUserID.String,
		}
	}
	if confirmedAt.Valid {
		user.ConfirmedAt = &confirmedAt.Time
	}
	if confirmToken.Valid && confirmAt.Valid {
		user.SetConfirmationToken(confirmToken.String, confirmAt.Time)
	}
	if resetToken.Valid && resetAt.Valid {
		user.SetResetPasswordToken(resetToken.String, resetAt.Time)
	}

	if r.roles != nil {
		roles, err := r.roles.ListByUserID(ctx, user.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load user roles: %w", err)
		}
		user.Roles = roles
	}

	return user, nil
}

// userValues はINSERT/UPDATE共通のバインド値列を返す。
func userValues(user *model.User) []any {
	var providerName, providerUserID any
	if user.Provider != nil {
		providerName = user.Provider.Name
		providerUserID = user.Provider.UserID
	}
	return []any{
		user.ID, user.UserName, user.Email, user.PasswordHash,
		user.FirstName, user.LastName,
		providerName, providerUserID,
		user.Enabled, user.ConfirmedAt,
		user.ConfirmationToken, user.ConfirmationTokenCreatedAt,
		user.ResetPasswordToken, user.ResetPasswordTokenCreatedAt,
		user.CreatedAt, user.UpdatedAt,
	}
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
