package zerotrust

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/authz"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/internal/audit"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/internal/rate"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/jwt"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/password"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/session"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine] from injected handles. No package-level
// clients exist; every connection the Engine uses passes through here.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users       UserStore
	vault       SecretVault
	permissions PermissionSource
	binder      SessionBinder
	auditSink   AuditSink
	logger      *slog.Logger
	now         func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration. The value is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client used for sessions, the refresh ledger and the login throttle.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserStore sets the credential store. Required.
func (b *Builder) WithUserStore(users UserStore) *Builder {
	b.users = users
	return b
}

// WithVault sets the TOTP secret vault. Required.
func (b *Builder) WithVault(v SecretVault) *Builder {
	b.vault = v
	return b
}

// WithPermissionSource sets the authorization service. Without one the
// Engine reads and writes UserRecord.Permissions.
func (b *Builder) WithPermissionSource(p PermissionSource) *Builder {
	b.permissions = p
	return b
}

// WithSessionBinder replaces the in-process binder, typically with a
// durable queue.
func (b *Builder) WithSessionBinder(binder SessionBinder) *Builder {
	b.binder = binder
	return b
}

// WithAuditSink sets where audit events are delivered. Audit.Enabled must
// also be true.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides the time source. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the validate latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the Engine. A Builder can be
// used once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.users == nil {
		return nil, errors.New("user store required")
	}
	if b.vault == nil {
		return nil, errors.New("secret vault required")
	}

	defaultPerms, err := resolveRolePermissions(cfg.Account)
	if err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	engine := &Engine{
		config:       cloneConfig(cfg),
		users:        b.users,
		vault:        b.vault,
		permissions:  b.permissions,
		defaultPerms: defaultPerms,
		logger:       logger.With(slog.String("component", "zerotrust")),
		now:          now,
	}

	// -------- PASSWORD --------
	ph, err := password.NewArgon2(password.Config{
		Memory:           cfg.Password.Memory,
		Time:             cfg.Password.Time,
		Parallelism:      cfg.Password.Parallelism,
		SaltLength:       cfg.Password.SaltLength,
		KeyLength:        cfg.Password.KeyLength,
		MaxPasswordBytes: cfg.Password.MaxPasswordBytes,
	})
	if err != nil {
		return nil, err
	}
	engine.passwordHash = ph
	engine.policy = password.Policy{
		MinLength:     cfg.Password.MinLength,
		MaxLength:     cfg.Password.MaxLength,
		RequireLetter: cfg.Password.RequireLetter,
		RequireDigit:  cfg.Password.RequireDigit,
	}

	// -------- TOKENS --------
	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		ServiceTTL:    cfg.JWT.ServiceTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		Secret:        cloneBytes(cfg.JWT.Secret),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		KeyID:         cfg.JWT.KeyID,
		Leeway:        cfg.JWT.Leeway,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm

	// -------- SESSIONS --------
	store := session.NewStore(
		b.redis,
		session.WithPrefix(cfg.Session.RedisPrefix),
		session.WithIndexTTL(cfg.Session.IndexTTL),
		session.WithClock(now),
	)
	sm, err := session.NewManager(store, jm, permissionLookup{engine: engine}, session.ManagerConfig{
		TTLCap: cfg.Session.TTLCap,
		Now:    now,
	})
	if err != nil {
		return nil, err
	}
	engine.sessions = sm

	if b.binder != nil {
		engine.binder = b.binder
	} else {
		engine.binder = newInlineBinder(sm, cfg.Binding, engine.logger)
	}

	// -------- THROTTLE, TOTP, AUDIT, METRICS --------
	if cfg.Security.EnableLoginThrottle {
		engine.rateLimiter = rate.New(b.redis, rate.Config{
			Prefix:                cfg.Security.RatePrefix,
			EnableIPThrottle:      cfg.Security.EnableIPThrottle,
			MaxLoginAttempts:      cfg.Security.MaxLoginAttempts,
			LoginCooldownDuration: cfg.Security.LoginCooldownDuration,
		})
	}
	engine.totp = newTOTPManager(cfg.TOTP)
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink, audit.WithLogger(engine.logger))
	engine.metrics = NewMetrics(cfg.Metrics)

	b.built = true

	return engine, nil
}

func resolveRolePermissions(cfg AccountConfig) ([]string, error) {
	if cfg.RolePermissions != nil {
		perms, ok := cfg.RolePermissions[cfg.DefaultRole]
		if !ok || len(perms) == 0 {
			return nil, fmt.Errorf("Account DefaultRole %q has no permissions", cfg.DefaultRole)
		}
		return append([]string(nil), perms...), nil
	}
	perms, ok := authz.RolePermissions(cfg.DefaultRole)
	if !ok {
		return nil, fmt.Errorf("Account DefaultRole %q is not a known role", cfg.DefaultRole)
	}
	return perms, nil
}
