package zerotrust

import (
	"testing"

	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderRequiresDependencies(t *testing.T) {
	_, rdb := newTestRedis(t)
	adapter, err := vault.NewAdapter(vault.NewMemoryBackend())
	require.NoError(t, err)

	tests := []struct {
		name  string
		build func() *Builder
		want  string
	}{
		{
			name:  "no redis",
			build: func() *Builder { return New().WithConfig(testConfig()).WithUserStore(newMemUsers()).WithVault(adapter) },
			want:  "redis client required",
		},
		{
			name:  "no user store",
			build: func() *Builder { return New().WithConfig(testConfig()).WithRedis(rdb).WithVault(adapter) },
			want:  "user store required",
		},
		{
			name:  "no vault",
			build: func() *Builder { return New().WithConfig(testConfig()).WithRedis(rdb).WithUserStore(newMemUsers()) },
			want:  "secret vault required",
		},
		{
			name:  "no secret",
			build: func() *Builder { return New().WithRedis(rdb).WithUserStore(newMemUsers()).WithVault(adapter) },
			want:  "Secret of at least 16 bytes",
		},
		{
			name: "unknown role",
			build: func() *Builder {
				cfg := testConfig()
				cfg.Account.DefaultRole = "superuser"
				return New().WithConfig(cfg).WithRedis(rdb).WithUserStore(newMemUsers()).WithVault(adapter)
			},
			want: "not a known role",
		},
		{
			name: "custom role table without default",
			build: func() *Builder {
				cfg := testConfig()
				cfg.Account.RolePermissions = map[string][]string{"admin": {"manage_users"}}
				return New().WithConfig(cfg).WithRedis(rdb).WithUserStore(newMemUsers()).WithVault(adapter)
			},
			want: "has no permissions",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, err := tt.build().Build()
			require.Error(t, err)
			assert.Nil(t, engine)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestBuilderIsSingleUse(t *testing.T) {
	_, rdb := newTestRedis(t)
	adapter, err := vault.NewAdapter(vault.NewMemoryBackend())
	require.NoError(t, err)

	b := New().WithConfig(testConfig()).WithRedis(rdb).WithUserStore(newMemUsers()).WithVault(adapter)
	engine, err := b.Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	_, err = b.Build()
	assert.EqualError(t, err, "builder already used")
}

func TestEngineConfigIsACopy(t *testing.T) {
	h := newHarness(t, nil)
	cfg := h.engine.Config()
	cfg.JWT.Secret[0] = 'X'
	cfg.Security.MaxLoginAttempts = 99

	again := h.engine.Config()
	assert.NotEqual(t, byte('X'), again.JWT.Secret[0])
	assert.Equal(t, 5, again.Security.MaxLoginAttempts)
}
