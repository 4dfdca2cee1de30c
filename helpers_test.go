package zerotrust

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/authz"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/vault"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const testPassword = "Passw0rd-ok"

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

// memUsers is an in-memory UserStore. The email index is the uniqueness
// authority, like the UNIQUE constraint of the SQL store.
type memUsers struct {
	mu      sync.Mutex
	byEmail map[string]UserRecord
	byID    map[string]UserRecord
	seq     int

	// existsLies makes ExistsByEmail always answer false so the insert
	// path has to catch duplicates.
	existsLies bool
	failWith   error
	findCalls  int
}

func newMemUsers() *memUsers {
	return &memUsers{byEmail: map[string]UserRecord{}, byID: map[string]UserRecord{}}
}

func (m *memUsers) ExistsByEmail(_ context.Context, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return false, m.failWith
	}
	if m.existsLies {
		return false, nil
	}
	_, ok := m.byEmail[email]
	return ok, nil
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findCalls++
	if m.failWith != nil {
		return UserRecord{}, m.failWith
	}
	u, ok := m.byEmail[email]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return u, nil
}

func (m *memUsers) FindByID(_ context.Context, id string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return UserRecord{}, m.failWith
	}
	u, ok := m.byID[id]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return u, nil
}

func (m *memUsers) Insert(_ context.Context, user NewUser) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return UserRecord{}, m.failWith
	}
	if _, ok := m.byEmail[user.Email]; ok {
		return UserRecord{}, fmt.Errorf("insert: %w", ErrDuplicateEmail)
	}
	m.seq++
	rec := UserRecord{
		ID:           fmt.Sprintf("user-%d", m.seq),
		Email:        user.Email,
		PasswordHash: user.PasswordHash,
		Permissions:  append([]string(nil), user.Permissions...),
		CreatedAt:    time.Now(),
	}
	m.byEmail[rec.Email] = rec
	m.byID[rec.ID] = rec
	return rec, nil
}

func (m *memUsers) UpdatePasswordHash(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = hash
	m.byID[id] = u
	m.byEmail[u.Email] = u
	return nil
}

func (m *memUsers) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

// countingVault wraps a real adapter and can be switched into an outage.
type countingVault struct {
	inner     *vault.Adapter
	mu        sync.Mutex
	retrieves int
	storeErr  error
}

func (v *countingVault) StoreSecret(ctx context.Context, ownerID, plaintext string) (string, error) {
	v.mu.Lock()
	err := v.storeErr
	v.mu.Unlock()
	if err != nil {
		return "", err
	}
	return v.inner.StoreSecret(ctx, ownerID, plaintext)
}

func (v *countingVault) RetrieveSecret(ctx context.Context, ownerID string) (string, error) {
	v.mu.Lock()
	v.retrieves++
	v.mu.Unlock()
	return v.inner.RetrieveSecret(ctx, ownerID)
}

func (v *countingVault) retrieveCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.retrieves
}

// revocablePerms hides the record of selected users from GetPermissions and
// can fail every grant with setErr.
type revocablePerms struct {
	*authz.Service
	mu      sync.Mutex
	missing map[string]bool
	setErr  error
}

func (p *revocablePerms) SetPermissions(ctx context.Context, userID string, perms []string) ([]string, error) {
	p.mu.Lock()
	err := p.setErr
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return p.Service.SetPermissions(ctx, userID, perms)
}

func (p *revocablePerms) GetPermissions(ctx context.Context, userID string) ([]string, error) {
	p.mu.Lock()
	gone := p.missing[userID]
	p.mu.Unlock()
	if gone {
		return nil, authz.ErrNotFound
	}
	return p.Service.GetPermissions(ctx, userID)
}

func (p *revocablePerms) revoke(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.missing[userID] = true
}

type harness struct {
	engine *Engine
	users  *memUsers
	vault  *countingVault
	perms  *revocablePerms
	audit  *ChannelSink
	mr     *miniredis.Miniredis
	rdb    *redis.Client
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.Secret = []byte("engine-test-secret-0123456789")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Binding.Synchronous = true
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 64
	cfg.Audit.DropIfFull = false
	cfg.Metrics.Enabled = true
	return cfg
}

func newHarness(t *testing.T, mutate func(*Config, *Builder)) *harness {
	t.Helper()
	mr, rdb := newTestRedis(t)

	adapter, err := vault.NewAdapter(vault.NewMemoryBackend())
	require.NoError(t, err)

	h := &harness{
		users: newMemUsers(),
		vault: &countingVault{inner: adapter},
		perms: &revocablePerms{Service: authz.NewService(authz.NewMemoryStore()), missing: map[string]bool{}},
		audit: NewChannelSink(64),
		mr:    mr,
		rdb:   rdb,
	}

	cfg := testConfig()
	b := New()
	if mutate != nil {
		mutate(&cfg, b)
	}
	engine, err := b.
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(h.users).
		WithVault(h.vault).
		WithPermissionSource(h.perms).
		WithAuditSink(h.audit).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	h.engine = engine
	return h
}

// enroll signs up email and returns the user id and its TOTP secret.
func (h *harness) enroll(t *testing.T, email string) (string, string) {
	t.Helper()
	res, err := h.engine.Signup(context.Background(), email, testPassword)
	require.NoError(t, err)
	return res.UserID, secretFromURI(t, res.TOTPURI)
}

func (h *harness) login(t *testing.T, email, secret string) *LoginResult {
	t.Helper()
	res, err := h.engine.Login(context.Background(), email, testPassword, currentCode(t, secret))
	require.NoError(t, err)
	return res
}

func secretFromURI(t *testing.T, uri string) string {
	t.Helper()
	u, err := url.Parse(uri)
	require.NoError(t, err)
	secret := u.Query().Get("secret")
	require.NotEmpty(t, secret)
	return secret
}

func currentCode(t *testing.T, secret string) string {
	t.Helper()
	return codeAt(t, secret, time.Now())
}

func codeAt(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	raw, err := decodeTOTPSecret(secret)
	require.NoError(t, err)
	code, err := hotpCode(raw, at.Unix()/30, 6, "SHA1")
	require.NoError(t, err)
	return code
}

// wrongCode returns a code that is guaranteed not to match the current window.
func wrongCode(t *testing.T, secret string) string {
	t.Helper()
	now := time.Now()
	valid := map[string]bool{}
	for step := -1; step <= 1; step++ {
		valid[codeAt(t, secret, now.Add(time.Duration(step)*30*time.Second))] = true
	}
	for i := 0; ; i++ {
		candidate := fmt.Sprintf("%06d", i)
		if !valid[candidate] {
			return candidate
		}
	}
}

// drainAudit collects the event types currently buffered in the sink.
func drainAudit(h *harness, want int, timeout time.Duration) []string {
	var types []string
	deadline := time.After(timeout)
	for len(types) < want {
		select {
		case ev := <-h.audit.Events():
			types = append(types, ev.EventType)
		case <-deadline:
			return types
		}
	}
	return types
}
