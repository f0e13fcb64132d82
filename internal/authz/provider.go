package authz

import (
	"github.com/minoru/memberhub/internal/identity"
	"github.com/minoru/memberhub/internal/store"
)

// Provider はストアのFactoryとIDプロバイダーの管理者クライアントを
// ElevatedProviderとして束ねる。昇格済みコンテキストは長寿命の接続では
// なく、呼び出しごとに静的な設定から導出される。
type Provider struct {
	store *store.Factory
	auth  *identity.Admin
}

// NewProvider はProviderを生成する。
func NewProvider(storeFactory *store.Factory, auth *identity.Admin) *Provider {
	return &Provider{store: storeFactory, auth: auth}
}

// Ready はストア資格情報が揃っているかを検証する。
func (p *Provider) Ready() error {
	return p.store.Ready()
}

// Elevated は昇格済みコンテキストの束を生成する。
func (p *Provider) Elevated() (*Elevated, error) {
	exec, err := p.store.Elevated()
	if err != nil {
		return nil, err
	}
	return &Elevated{Store: exec, Auth: p.auth}, nil
}

// コンパイル時のインターフェース検証
var _ ElevatedProvider = (*Provider)(nil)
var _ StoreMutator = (*store.ElevatedExecutor)(nil)
var _ PasswordAdmin = (*identity.Admin)(nil)
