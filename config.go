package zerotrust

import (
	"errors"
	"strings"
	"time"
)

// Config defines a public type used by zerotrust APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	JWT            JWTConfig
	Session        SessionConfig
	TOTP           TOTPConfig
	Password       PasswordConfig
	Account        AccountConfig
	Audit          AuditConfig
	Metrics        MetricsConfig
	Security       SecurityConfig
	Binding        BindingConfig
	ValidationMode ValidationMode
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig defines a public type used by zerotrust APIs.
//
// JWTConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	ServiceTTL    time.Duration
	SigningMethod string // "hs256" only
	Secret        []byte
	Issuer        string
	Audience      string
	KeyID         string
	Leeway        time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig defines a public type used by zerotrust APIs.
//
// SessionConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type SessionConfig struct {
	RedisPrefix string
	// TTLCap bounds every session regardless of the token lifetime.
	TTLCap time.Duration
	// IndexTTL bounds the per-subject session index used by LogoutAll.
	IndexTTL time.Duration
}

/*
====================================
TOTP CONFIG
====================================
*/

// TOTPConfig defines a public type used by zerotrust APIs.
//
// TOTPConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type TOTPConfig struct {
	Issuer    string
	Digits    int
	Period    int
	Algorithm string
	Skew      int
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig defines a public type used by zerotrust APIs.
//
// PasswordConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type PasswordConfig struct {
	Memory           uint32
	Time             uint32
	Parallelism      uint8
	SaltLength       uint32
	KeyLength        uint32
	MaxPasswordBytes int
	UpgradeOnLogin   bool

	// Signup policy. Login never applies it, so accounts created under an
	// older policy keep working.
	MinLength     int
	MaxLength     int
	RequireLetter bool
	RequireDigit  bool
}

/*
====================================
ACCOUNT CONFIG
====================================
*/

// AccountConfig defines a public type used by zerotrust APIs.
//
// AccountConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AccountConfig struct {
	// DefaultRole names the role whose permissions a new account receives.
	DefaultRole string
	// RolePermissions overrides the built-in role catalog when non-nil.
	RolePermissions map[string][]string
}

// AuditConfig defines a public type used by zerotrust APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig defines a public type used by zerotrust APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig defines a public type used by zerotrust APIs.
//
// SecurityConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type SecurityConfig struct {
	ProductionMode bool
	// StoreTimeout bounds every credential-store, vault and permission call
	// made by the Engine.
	StoreTimeout time.Duration
	// RevealAuthFailureReason makes PublicMessage name the failed gate
	// ("User not found", "Invalid TOTP code"). Refused in ProductionMode.
	RevealAuthFailureReason bool
	EnableLoginThrottle     bool
	EnableIPThrottle        bool
	MaxLoginAttempts        int
	LoginCooldownDuration   time.Duration
	RatePrefix              string
}

/*
====================================
BINDING CONFIG
====================================
*/

// BindingConfig controls the default in-process session binder. It is
// ignored when a binder is supplied through Builder.WithSessionBinder.
type BindingConfig struct {
	// Synchronous binds the session before Login returns.
	Synchronous bool
	Timeout     time.Duration
}

// ValidationMode defines a public type used by zerotrust APIs.
//
// ValidationMode instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type ValidationMode int

const (
	// ModeInherit uses Config.ValidationMode.
	ModeInherit ValidationMode = -1

	// ModeJWTOnly trusts a valid signature and exp. No Redis access.
	ModeJWTOnly ValidationMode = iota
	// ModeStrict additionally requires the token's session to be live and
	// bound to that exact token, so logout takes effect immediately.
	ModeStrict
)

// RouteMode is the per-route override mode for Engine.Validate.
// It intentionally reuses the same constants (ModeInherit/ModeStrict/ModeJWTOnly).
type RouteMode = ValidationMode

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the configuration used by the mesh services. Only
// JWT.Secret must be filled in before Build.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			ServiceTTL:    5 * time.Minute,
			SigningMethod: "hs256",
			Issuer:        "zerotrust",
		},
		Session: SessionConfig{
			RedisPrefix: "zt:sess",
			TTLCap:      15 * time.Minute,
			IndexTTL:    7 * 24 * time.Hour,
		},
		TOTP: TOTPConfig{
			Issuer:    "ZERO-TRUST",
			Digits:    6,
			Period:    30,
			Algorithm: "SHA1",
			Skew:      1,
		},
		Password: PasswordConfig{
			Memory:         64 * 1024,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
			MinLength:      8,
			MaxLength:      16,
			RequireLetter:  true,
			RequireDigit:   true,
		},
		Account: AccountConfig{
			DefaultRole: "customer",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Security: SecurityConfig{
			StoreTimeout:          5 * time.Second,
			EnableLoginThrottle:   true,
			EnableIPThrottle:      true,
			MaxLoginAttempts:      5,
			LoginCooldownDuration: 15 * time.Minute,
			RatePrefix:            "zt:rl",
		},
		Binding: BindingConfig{
			Timeout: 5 * time.Second,
		},
		ValidationMode: ModeStrict,
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.Secret = cloneBytes(cfg.JWT.Secret)
	if cfg.Account.RolePermissions != nil {
		out.Account.RolePermissions = make(map[string][]string, len(cfg.Account.RolePermissions))
		for role, perms := range cfg.Account.RolePermissions {
			out.Account.RolePermissions[role] = append([]string(nil), perms...)
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks cfg for values the Engine cannot run with.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be >= AccessTTL")
	}
	if c.JWT.ServiceTTL < 0 {
		return errors.New("JWT ServiceTTL must be >= 0")
	}
	if c.JWT.SigningMethod != "hs256" {
		return errors.New("unsupported JWT signing method")
	}
	if len(c.JWT.Secret) < 16 {
		return errors.New("hs256 requires Secret of at least 16 bytes")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}
	if c.JWT.Audience != "" && strings.TrimSpace(c.JWT.Audience) == "" {
		return errors.New("JWT Audience must not be blank")
	}

	// Session
	if c.Session.TTLCap <= 0 {
		return errors.New("Session TTLCap must be > 0")
	}
	if c.Session.IndexTTL < c.Session.TTLCap {
		return errors.New("Session IndexTTL must be >= TTLCap")
	}
	if strings.TrimSpace(c.Session.RedisPrefix) == "" {
		return errors.New("Session RedisPrefix must not be empty")
	}

	// TOTP
	if strings.TrimSpace(c.TOTP.Issuer) == "" || strings.Contains(c.TOTP.Issuer, ":") {
		return errors.New("TOTP Issuer must be non-empty and must not contain ':'")
	}
	if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
		return errors.New("TOTP Digits must be 6 or 8")
	}
	if c.TOTP.Period <= 0 {
		return errors.New("TOTP Period must be > 0")
	}
	switch c.TOTP.Algorithm {
	case "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("TOTP Algorithm must be SHA1, SHA256 or SHA512")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 3 {
		return errors.New("TOTP Skew must be between 0 and 3")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 8 {
		return errors.New("Password MinLength must be >= 8")
	}
	if c.Password.MaxLength != 0 && c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password MaxLength must be >= MinLength")
	}

	// Account
	if strings.TrimSpace(c.Account.DefaultRole) == "" {
		return errors.New("Account DefaultRole must not be empty")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	// Security
	if c.Security.StoreTimeout <= 0 {
		return errors.New("Security StoreTimeout must be > 0")
	}
	if c.Security.EnableLoginThrottle {
		if c.Security.MaxLoginAttempts <= 0 {
			return errors.New("Security MaxLoginAttempts must be > 0 when login throttle is enabled")
		}
		if c.Security.LoginCooldownDuration <= 0 {
			return errors.New("Security LoginCooldownDuration must be > 0 when login throttle is enabled")
		}
	}
	if c.Security.ProductionMode && c.Security.RevealAuthFailureReason {
		return errors.New("Security RevealAuthFailureReason is not allowed in ProductionMode")
	}

	// Binding
	if c.Binding.Timeout <= 0 {
		return errors.New("Binding Timeout must be > 0")
	}

	switch c.ValidationMode {
	case ModeJWTOnly, ModeStrict:
	default:
		return errors.New("ValidationMode must be ModeJWTOnly or ModeStrict")
	}

	return nil
}
