// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/ident/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
// Find系は見つからない場合に(nil, nil)を返す。
// 変更系は成功後に登録されたCacheInvalidatorを同期的に呼び出す。
type UserRepository interface {
	// FindByID は指定IDのユーザーをロール付きで取得する。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByUserName はユーザー名で検索する（格納値との厳密一致）。
	FindByUserName(ctx context.Context, userName string) (*model.User, error)

	// FindByEmail はメールアドレスで検索する（格納値との厳密一致）。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByUserNameOrEmail はユーザー名またはメールアドレスで検索する。
	FindByUserNameOrEmail(ctx context.Context, identifier string) (*model.User, error)

	// FindByConfirmationToken は確認トークンで検索する。
	FindByConfirmationToken(ctx context.Context, token string) (*model.User, error)

	// FindByResetToken はパスワードリセットトークンで検索する。
	FindByResetToken(ctx context.Context, token string) (*model.User, error)

	// Create はユーザーを作成する。ユーザー名・メールアドレスの一意性は
	// ストアの制約で担保し、違反時はDuplicateIdentityを返す。
	Create(ctx context.Context, user *model.User) error

	// Update はユーザーの全フィールドを上書き更新する。
	Update(ctx context.Context, user *model.User) error

	// Delete は指定IDのユーザーを削除する。ロール割り当てはCASCADE削除される。
	Delete(ctx context.Context, id string) error
}

// RoleRepository はロールデータの永続化インターフェース。
type RoleRepository interface {
	// FindByName は指定名のロールを取得する。見つからない場合はnilを返す。
	FindByName(ctx context.Context, name string) (*model.Role, error)

	// Create はロールを作成する。
	Create(ctx context.Context, role *model.Role) error

	// Assign はユーザーにロールを割り当てる。割り当て済みの場合は何もしない。
	Assign(ctx context.Context, userID, roleID string) error

	// ListByUserID はユーザーに割り当てられたロール一覧を返す。
	ListByUserID(ctx context.Context, userID string) ([]model.Role, error)
}

// CacheInvalidator はユーザー変更時にキャッシュエントリを破棄するフック。
// リポジトリは成功した全ての変更操作の直後にこれを同期的に呼び出す。
type CacheInvalidator interface {
	Invalidate(id, userName string)
}
