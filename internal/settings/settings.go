// Package settings loads process configuration for the mesh services from
// the environment and an optional .env file.
package settings

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	zerotrust "github.com/Meraviglioso8/ZeroTrust-DeepLearning"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/vault"
	"github.com/joho/godotenv"
)

// Binding modes select how the auth service hands sessions to the store.
const (
	BindingInline = "inline"
	BindingStream = "stream"
	BindingHTTP   = "http"
)

// Vault backends.
const (
	VaultMemory   = "memory"
	VaultBarbican = "barbican"
)

// Settings is the flattened process configuration. Cobra flags may
// override individual fields after Load.
type Settings struct {
	Environment string
	Production  bool
	LogLevel    string
	LogFormat   string
	SentryDSN   string

	AuthAddr      string
	AuthzAddr     string
	AuthzGRPCAddr string
	SessionAddr   string

	RedisURL       string
	UsersDriver    string
	UsersDSN       string
	PermissionsDSN string

	JWTSecret  string
	JWTIssuer  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	ServiceTTL time.Duration
	TOTPIssuer string

	ValidationMode      zerotrust.ValidationMode
	RevealFailureReason bool
	DefaultRole         string

	VaultBackend string
	Barbican     vault.BarbicanConfig

	AuthzTarget       string
	ClientID          string
	ClientSecret      string
	TokenURL          string
	ServiceClients    string
	StrictPermissions bool
	PermissionCache   time.Duration

	BindingMode       string
	SessionServiceURL string

	IPRateRPS   float64
	IPRateBurst int

	OTLPEndpoint string
	OTLPInsecure bool
}

// Load reads the given .env files (".env" when none are named; a missing
// default file is ignored) and then the process environment, which wins.
func Load(files ...string) (Settings, error) {
	values, err := readDotenv(files)
	if err != nil {
		return Settings{}, err
	}
	return FromLookup(func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return values[key]
	})
}

func readDotenv(files []string) (map[string]string, error) {
	if len(files) == 0 {
		values, err := godotenv.Read()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return map[string]string{}, nil
			}
			return nil, fmt.Errorf("read .env: %w", err)
		}
		return values, nil
	}
	values, err := godotenv.Read(files...)
	if err != nil {
		return nil, fmt.Errorf("read env files: %w", err)
	}
	return values, nil
}

// FromLookup builds Settings from an arbitrary key lookup.
func FromLookup(lookup func(string) string) (Settings, error) {
	e := env{lookup: lookup}
	s := Settings{
		Environment: e.str("APP_ENV", "development"),
		Production:  e.boolean("ZT_PRODUCTION", false),
		LogLevel:    e.str("LOG_LEVEL", "info"),
		LogFormat:   e.str("LOG_FORMAT", "json"),
		SentryDSN:   e.str("SENTRY_DSN", ""),

		AuthAddr:      e.str("ZT_AUTH_ADDR", ":8080"),
		AuthzAddr:     e.str("ZT_AUTHZ_ADDR", ":8081"),
		AuthzGRPCAddr: e.str("ZT_AUTHZ_GRPC_ADDR", ":9091"),
		SessionAddr:   e.str("ZT_SESSION_ADDR", ":8082"),

		RedisURL:    e.str("REDIS_URL", "redis://localhost:6379/0"),
		UsersDriver: strings.ToLower(e.str("ZT_USERS_DRIVER", "postgres")),
		UsersDSN:    e.str("DATABASE_URL", ""),

		JWTSecret:  e.str("JWT_SECRET", ""),
		JWTIssuer:  e.str("JWT_ISSUER", "zerotrust"),
		AccessTTL:  e.minutes("JWT_ACCESS_TTL_MINUTES", 15),
		RefreshTTL: e.days("JWT_REFRESH_TTL_DAYS", 7),
		ServiceTTL: e.minutes("JWT_SERVICE_TTL_MINUTES", 5),
		TOTPIssuer: e.str("TOTP_ISSUER", "ZERO-TRUST"),

		RevealFailureReason: e.boolean("ZT_REVEAL_FAILURE_REASON", false),
		DefaultRole:         e.str("ZT_DEFAULT_ROLE", "customer"),

		VaultBackend: strings.ToLower(e.str("VAULT_BACKEND", VaultMemory)),
		Barbican: vault.BarbicanConfig{
			AuthURL:     e.str("OS_AUTH_URL", ""),
			Username:    e.str("OS_USERNAME", ""),
			Password:    e.str("OS_PASSWORD", ""),
			ProjectName: e.str("OS_PROJECT_NAME", ""),
			DomainName:  e.str("OS_USER_DOMAIN_NAME", "Default"),
			Region:      e.str("OS_REGION_NAME", ""),
		},

		AuthzTarget:       e.str("AUTHZ_GRPC_TARGET", ""),
		ClientID:          e.str("ZT_CLIENT_ID", ""),
		ClientSecret:      e.str("ZT_CLIENT_SECRET", ""),
		TokenURL:          e.str("AUTHZ_TOKEN_URL", ""),
		ServiceClients:    e.str("AUTHZ_CLIENTS", ""),
		StrictPermissions: e.boolean("AUTHZ_STRICT_PERMISSIONS", false),
		PermissionCache:   e.seconds("AUTHZ_CACHE_TTL_SECONDS", 30),

		BindingMode:       strings.ToLower(e.str("BINDING_MODE", BindingInline)),
		SessionServiceURL: e.str("SESSION_SERVICE_URL", ""),

		IPRateRPS:   e.float("ZT_IP_RATE_RPS", 10),
		IPRateBurst: e.integer("ZT_IP_RATE_BURST", 20),

		OTLPEndpoint: e.str("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTLPInsecure: e.boolean("OTEL_EXPORTER_OTLP_INSECURE", false),
	}
	s.PermissionsDSN = e.str("PERMISSIONS_DATABASE_URL", s.UsersDSN)

	mode, err := ParseValidationMode(e.str("ZT_VALIDATION_MODE", "strict"))
	if err != nil {
		return Settings{}, err
	}
	s.ValidationMode = mode
	if e.err != nil {
		return Settings{}, e.err
	}
	return s, nil
}

// ParseValidationMode accepts "strict" or "jwt".
func ParseValidationMode(s string) (zerotrust.ValidationMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict":
		return zerotrust.ModeStrict, nil
	case "jwt", "jwt-only", "jwt_only":
		return zerotrust.ModeJWTOnly, nil
	default:
		return 0, fmt.Errorf("unknown validation mode %q", s)
	}
}

// Validate reports settings no service can start with. Checks that depend
// on which service runs live in RequireAuth, RequireAuthz and RequireSession.
func (s Settings) Validate() error {
	if len(s.JWTSecret) < 16 {
		return errors.New("JWT_SECRET must be at least 16 bytes")
	}
	if s.RedisURL == "" {
		return errors.New("REDIS_URL is required")
	}
	switch s.BindingMode {
	case BindingInline, BindingStream:
	case BindingHTTP:
		if s.SessionServiceURL == "" {
			return errors.New("SESSION_SERVICE_URL is required when BINDING_MODE=http")
		}
		if s.TokenURL == "" || s.ClientID == "" || s.ClientSecret == "" {
			return errors.New("AUTHZ_TOKEN_URL, ZT_CLIENT_ID and ZT_CLIENT_SECRET are required when BINDING_MODE=http")
		}
	default:
		return fmt.Errorf("unknown BINDING_MODE %q", s.BindingMode)
	}
	if s.Production && s.RevealFailureReason {
		return errors.New("ZT_REVEAL_FAILURE_REASON is not allowed in production")
	}
	return nil
}

// RequireAuth checks what the auth service needs on top of Validate.
func (s Settings) RequireAuth() error {
	if err := s.Validate(); err != nil {
		return err
	}
	switch s.UsersDriver {
	case "postgres":
		if s.UsersDSN == "" {
			return errors.New("DATABASE_URL is required")
		}
	case "sqlite":
		if s.UsersDSN == "" {
			return errors.New("DATABASE_URL must name the sqlite file")
		}
	default:
		return fmt.Errorf("unknown ZT_USERS_DRIVER %q", s.UsersDriver)
	}
	switch s.VaultBackend {
	case VaultMemory:
		if s.Production {
			return errors.New("VAULT_BACKEND=memory is not allowed in production")
		}
	case VaultBarbican:
		if s.Barbican.AuthURL == "" {
			return errors.New("OS_AUTH_URL is required for the barbican vault")
		}
	default:
		return fmt.Errorf("unknown VAULT_BACKEND %q", s.VaultBackend)
	}
	if s.AuthzTarget != "" && (s.TokenURL == "" || s.ClientID == "" || s.ClientSecret == "") {
		return errors.New("AUTHZ_TOKEN_URL, ZT_CLIENT_ID and ZT_CLIENT_SECRET are required with AUTHZ_GRPC_TARGET")
	}
	return nil
}

// RequireAuthz checks what the authorization service needs.
func (s Settings) RequireAuthz() error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.Production && s.PermissionsDSN == "" {
		return errors.New("PERMISSIONS_DATABASE_URL or DATABASE_URL is required in production")
	}
	return nil
}

// RequireSession checks what the session service and binder need.
func (s Settings) RequireSession() error {
	return s.Validate()
}

// EngineConfig maps the settings onto the auth engine configuration.
func (s Settings) EngineConfig() zerotrust.Config {
	cfg := zerotrust.DefaultConfig()
	cfg.JWT.Secret = []byte(s.JWTSecret)
	cfg.JWT.Issuer = s.JWTIssuer
	cfg.JWT.AccessTTL = s.AccessTTL
	cfg.JWT.RefreshTTL = s.RefreshTTL
	cfg.JWT.ServiceTTL = s.ServiceTTL
	cfg.TOTP.Issuer = s.TOTPIssuer
	cfg.Account.DefaultRole = s.DefaultRole
	cfg.Security.ProductionMode = s.Production
	cfg.Security.RevealAuthFailureReason = s.RevealFailureReason
	cfg.ValidationMode = s.ValidationMode
	cfg.Audit.Enabled = true
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

type env struct {
	lookup func(string) string
	err    error
}

func (e *env) str(name, fallback string) string {
	value := strings.TrimSpace(e.lookup(name))
	if value == "" {
		return fallback
	}
	return value
}

func (e *env) integer(name string, fallback int) int {
	value := strings.TrimSpace(e.lookup(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		e.fail(name, value)
		return fallback
	}
	return parsed
}

func (e *env) float(name string, fallback float64) float64 {
	value := strings.TrimSpace(e.lookup(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed <= 0 {
		e.fail(name, value)
		return fallback
	}
	return parsed
}

func (e *env) seconds(name string, fallback int) time.Duration {
	return time.Duration(e.integer(name, fallback)) * time.Second
}

func (e *env) minutes(name string, fallback int) time.Duration {
	return time.Duration(e.integer(name, fallback)) * time.Minute
}

func (e *env) days(name string, fallback int) time.Duration {
	return time.Duration(e.integer(name, fallback)) * 24 * time.Hour
}

func (e *env) boolean(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(e.lookup(name)))
	switch value {
	case "":
		return fallback
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		e.fail(name, value)
		return fallback
	}
}

func (e *env) fail(name, value string) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid value %q for %s", value, name)
	}
}
