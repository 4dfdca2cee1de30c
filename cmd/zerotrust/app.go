package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	zerotrust "github.com/Meraviglioso8/ZeroTrust-DeepLearning"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/authz"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/internal/dispatch"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/internal/obs"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/internal/sessionapi"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/internal/settings"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/internal/stores"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/jwt"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/session"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/vault"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2/clientcredentials"
	"gorm.io/gorm"
)

// app holds the process-wide handles of one command invocation. Every
// component receives its clients from here; nothing is global.
type app struct {
	settings settings.Settings
	logger   *slog.Logger

	mu      sync.Mutex
	closers []func() error
	redis   redis.UniversalClient
}

func newApp(opts *rootOptions, service string) (*app, error) {
	s, err := settings.Load(opts.envFiles...)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		s.LogLevel = opts.logLevel
	}
	if opts.logFormat != "" {
		s.LogFormat = opts.logFormat
	}

	if err := obs.InitSentry(s.SentryDSN, s.Environment, version); err != nil {
		return nil, fmt.Errorf("init sentry: %w", err)
	}
	logger, err := obs.NewLogger(os.Stdout, s.LogFormat, s.LogLevel, service)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	return &app{settings: s, logger: logger}, nil
}

func (a *app) onClose(fn func() error) {
	a.mu.Lock()
	a.closers = append(a.closers, fn)
	a.mu.Unlock()
}

// Close releases handles in reverse order of acquisition.
func (a *app) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	obs.FlushSentry()
	return errors.Join(errs...)
}

// redisClient connects once and fails fast when Redis is unreachable.
func (a *app) redisClient(ctx context.Context) (redis.UniversalClient, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.redis != nil {
		return a.redis, nil
	}
	opt, err := redis.ParseURL(a.settings.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis unreachable: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	a.redis = client
	return client, nil
}

func (a *app) tokens() (*jwt.Manager, error) {
	s := a.settings
	return jwt.NewManager(jwt.Config{
		AccessTTL:  s.AccessTTL,
		RefreshTTL: s.RefreshTTL,
		ServiceTTL: s.ServiceTTL,
		Secret:     []byte(s.JWTSecret),
		Issuer:     s.JWTIssuer,
	})
}

func (a *app) sessionManager(ctx context.Context, tokens *jwt.Manager, perms session.PermissionLookup) (*session.Manager, error) {
	client, err := a.redisClient(ctx)
	if err != nil {
		return nil, err
	}
	return session.NewManager(session.NewStore(client), tokens, perms, session.ManagerConfig{})
}

// permissionStore is Postgres behind a Redis read-through cache, or an
// in-memory store when no DSN is configured.
func (a *app) permissionStore(ctx context.Context) (authz.Store, error) {
	client, err := a.redisClient(ctx)
	if err != nil {
		return nil, err
	}
	if a.settings.PermissionsDSN == "" {
		a.logger.Warn("no permissions database configured, using in-memory store")
		return authz.NewCachedStore(authz.NewMemoryStore(), client, "", a.settings.PermissionCache), nil
	}
	db, err := authz.OpenPostgres(ctx, a.settings.PermissionsDSN)
	if err != nil {
		return nil, err
	}
	a.onClose(db.Close)
	return authz.NewCachedStore(authz.NewSQLStore(db), client, "", a.settings.PermissionCache), nil
}

func (a *app) permissionService(ctx context.Context) (*authz.Service, error) {
	store, err := a.permissionStore(ctx)
	if err != nil {
		return nil, err
	}
	return authz.NewService(store, authz.WithStrictPermissions(a.settings.StrictPermissions)), nil
}

func (a *app) usersDB() (*gorm.DB, error) {
	opts := stores.Options{Logger: a.logger}
	var (
		db  *gorm.DB
		err error
	)
	switch a.settings.UsersDriver {
	case "sqlite":
		db, err = stores.OpenSQLite(a.settings.UsersDSN, opts)
	default:
		db, err = stores.OpenPostgres(a.settings.UsersDSN, opts)
	}
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	a.onClose(sqlDB.Close)
	return db, nil
}

func (a *app) secretVault(ctx context.Context) (*vault.Adapter, error) {
	var backend vault.Backend
	switch a.settings.VaultBackend {
	case settings.VaultBarbican:
		b, err := vault.NewBarbicanBackend(ctx, a.settings.Barbican)
		if err != nil {
			return nil, err
		}
		backend = b
	default:
		a.logger.Warn("using in-memory secret vault; TOTP secrets are lost on restart")
		backend = vault.NewMemoryBackend()
	}
	return vault.NewAdapter(backend)
}

func (a *app) clientCredentials(scopes ...string) clientcredentials.Config {
	return clientcredentials.Config{
		ClientID:     a.settings.ClientID,
		ClientSecret: a.settings.ClientSecret,
		TokenURL:     a.settings.TokenURL,
		Scopes:       scopes,
	}
}

// permissionSource is the remote permission service when AUTHZ_GRPC_TARGET
// is set, the local one otherwise.
func (a *app) permissionSource(ctx context.Context) (zerotrust.PermissionSource, error) {
	if a.settings.AuthzTarget == "" {
		return a.permissionService(ctx)
	}
	cc := a.clientCredentials(authz.ScopeRead, authz.ScopeWrite)
	client, err := authz.Dial(a.settings.AuthzTarget, cc.TokenSource(context.WithoutCancel(ctx)))
	if err != nil {
		return nil, err
	}
	a.onClose(client.Close)
	return client, nil
}

func (a *app) sessionBinder(ctx context.Context) (zerotrust.SessionBinder, error) {
	switch a.settings.BindingMode {
	case settings.BindingStream:
		client, err := a.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		return dispatch.NewQueue(client, dispatch.Config{}), nil
	case settings.BindingHTTP:
		return sessionapi.NewBinder(context.WithoutCancel(ctx), a.settings.SessionServiceURL, sessionapi.Credentials{
			TokenURL:     a.settings.TokenURL,
			ClientID:     a.settings.ClientID,
			ClientSecret: a.settings.ClientSecret,
		}, 5*time.Second, sessionapi.WithLogger(a.logger))
	default:
		return nil, nil
	}
}

func (a *app) engine(ctx context.Context) (*zerotrust.Engine, error) {
	client, err := a.redisClient(ctx)
	if err != nil {
		return nil, err
	}
	db, err := a.usersDB()
	if err != nil {
		return nil, err
	}
	secrets, err := a.secretVault(ctx)
	if err != nil {
		return nil, err
	}
	perms, err := a.permissionSource(ctx)
	if err != nil {
		return nil, err
	}
	binder, err := a.sessionBinder(ctx)
	if err != nil {
		return nil, err
	}

	b := zerotrust.New().
		WithConfig(a.settings.EngineConfig()).
		WithRedis(client).
		WithUserStore(stores.NewUserStore(db)).
		WithVault(secrets).
		WithPermissionSource(perms).
		WithAuditSink(zerotrust.NewSlogSink(a.logger)).
		WithLogger(a.logger)
	if binder != nil {
		b = b.WithSessionBinder(binder)
	}
	eng, err := b.Build()
	if err != nil {
		return nil, err
	}
	a.onClose(func() error { eng.Close(); return nil })
	return eng, nil
}
