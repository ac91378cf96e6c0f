// Package provider は外部IdPによるサインインのプロバイダー実装を提供する。
package provider

import (
	"context"
)

// Profile は外部IdPが返した検証済みユーザー情報。
type Profile struct {
	// ProviderUserID はIdP内でのユーザー識別子。
	ProviderUserID string
	Email          string
	// Name はIdPが返す表示名（分割前）。
	Name string
}

// Provider は外部IdPの認可コードフローを抽象化する。
type Provider interface {
	// Name はプロバイダー識別子（URLのパスセグメントに使う）を返す。
	Name() string
	// LoginURL はIdPの認可エンドポイントURLを生成する。
	LoginURL(state string) string
	// Exchange は認可コードを交換してプロフィールを取得する。
	Exchange(ctx context.Context, code string) (*Profile, error)
}

// Registry は名前からプロバイダーを引くための集合。
type Registry struct {
	providers map[string]Provider
}

// NewRegistry はRegistryを生成する。
func NewRegistry(providers ...Provider) *Registry {
	m := make(map[string]Provider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return &Registry{providers: m}
}

// Lookup は名前に対応するプロバイダーを返す。
// 未登録の名前にはfalseを返す。
func (r *Registry) Lookup(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Names は登録済みプロバイダー名の一覧を返す。
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
