package zerotrust

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/authz"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignupLoginValidateLogout(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	userID, secret := h.enroll(t, "Alice@Example.com")
	res := h.login(t, "alice@example.com", secret)

	assert.Equal(t, userID, res.UserID)
	assert.NotEmpty(t, res.SessionID)
	assert.ElementsMatch(t, []string{"view_products", "place_orders"}, res.Permissions)

	auth, err := h.engine.Validate(ctx, res.AccessToken, ModeStrict)
	require.NoError(t, err)
	assert.Equal(t, userID, auth.UserID)
	assert.Equal(t, res.SessionID, auth.SessionID)
	assert.True(t, auth.HasPermission("place_orders"))

	require.NoError(t, h.engine.Logout(ctx, res.AccessToken))

	_, err = h.engine.Validate(ctx, res.AccessToken, ModeStrict)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// A stateless verifier keeps accepting the token until it expires.
	_, err = h.engine.Validate(ctx, res.AccessToken, ModeJWTOnly)
	assert.NoError(t, err)

	// Logging out twice is not an error.
	assert.NoError(t, h.engine.Logout(ctx, res.AccessToken))
}

func TestLoginGatesRunInOrder(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	userID, secret := h.enroll(t, "bob@example.com")

	_, err := h.engine.Login(ctx, "nobody@example.com", testPassword, currentCode(t, secret))
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.Zero(t, h.vault.retrieveCount(), "vault must not be consulted before the password gate")

	_, err = h.engine.Login(ctx, "bob@example.com", "Wrong-pass9", currentCode(t, secret))
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Zero(t, h.vault.retrieveCount(), "vault must not be consulted for a wrong password")

	_, err = h.engine.Login(ctx, "bob@example.com", testPassword, wrongCode(t, secret))
	assert.ErrorIs(t, err, ErrInvalidTOTPCode)
	assert.Equal(t, 1, h.vault.retrieveCount())

	h.perms.revoke(userID)
	_, err = h.engine.Login(ctx, "bob@example.com", testPassword, currentCode(t, secret))
	assert.ErrorIs(t, err, ErrPermissionsNotFound)

	for _, e := range []error{ErrUserNotFound, ErrInvalidCredentials, ErrInvalidTOTPCode, ErrPermissionsNotFound} {
		assert.Equal(t, "Invalid credentials", PublicMessage(e, false))
	}
}

func TestLoginDoesNotApplySignupPolicy(t *testing.T) {
	h := newHarness(t, nil)
	_, secret := h.enroll(t, "carol@example.com")

	_, err := h.engine.Login(context.Background(), "carol@example.com", "x", currentCode(t, secret))
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.NotErrorIs(t, err, ErrPasswordPolicy)
}

func TestLoginThrottle(t *testing.T) {
	h := newHarness(t, func(cfg *Config, _ *Builder) {
		cfg.Security.MaxLoginAttempts = 3
	})
	ctx := WithClientIP(context.Background(), "203.0.113.7")
	_, secret := h.enroll(t, "dave@example.com")

	for i := 0; i < 3; i++ {
		_, err := h.engine.Login(ctx, "dave@example.com", "Wrong-pass9", currentCode(t, secret))
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	_, err := h.engine.Login(ctx, "dave@example.com", testPassword, currentCode(t, secret))
	assert.ErrorIs(t, err, ErrLoginRateLimited)
	assert.Equal(t, uint64(1), h.engine.MetricsSnapshot().Counters[MetricLoginRateLimited])
}

func TestSuccessfulLoginResetsThrottle(t *testing.T) {
	h := newHarness(t, func(cfg *Config, _ *Builder) {
		cfg.Security.MaxLoginAttempts = 3
	})
	ctx := context.Background()
	_, secret := h.enroll(t, "erin@example.com")

	for round := 0; round < 2; round++ {
		for i := 0; i < 2; i++ {
			_, err := h.engine.Login(ctx, "erin@example.com", "Wrong-pass9", currentCode(t, secret))
			require.ErrorIs(t, err, ErrInvalidCredentials)
		}
		_, err := h.engine.Login(ctx, "erin@example.com", testPassword, currentCode(t, secret))
		require.NoError(t, err, "round %d", round)
	}
}

func TestSignupDuplicateEmail(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.enroll(t, "frank@example.com")

	_, err := h.engine.Signup(ctx, " FRANK@example.com ", testPassword)
	assert.ErrorIs(t, err, ErrDuplicateEmail)
	assert.Equal(t, 1, h.users.count())
	assert.Equal(t, uint64(1), h.engine.MetricsSnapshot().Counters[MetricSignupDuplicate])
}

func TestSignupDuplicateCaughtByStorage(t *testing.T) {
	h := newHarness(t, nil)
	h.enroll(t, "grace@example.com")
	h.users.existsLies = true

	_, err := h.engine.Signup(context.Background(), "grace@example.com", testPassword)
	assert.ErrorIs(t, err, ErrDuplicateEmail)
	assert.Equal(t, 1, h.users.count())
}

func TestSignupConcurrentSameEmail(t *testing.T) {
	h := newHarness(t, nil)
	h.users.existsLies = true

	const n = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, dups int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.Signup(context.Background(), "race@example.com", testPassword)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrDuplicateEmail):
				dups++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, dups)
	assert.Equal(t, 1, h.users.count())
}

func TestSignupRejectsInvalidInput(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.engine.Signup(ctx, "not-an-email", testPassword)
	assert.ErrorIs(t, err, ErrInvalidEmail)

	for _, pass := range []string{"short1", "abcdefghij", "1234567890", "Passw0rd-way-too-long"} {
		_, err := h.engine.Signup(ctx, "henry@example.com", pass)
		assert.ErrorIs(t, err, ErrPasswordPolicy, pass)
	}
	assert.Zero(t, h.users.count())
}

func TestSignupReturnsEnrollment(t *testing.T) {
	h := newHarness(t, nil)
	res, err := h.engine.Signup(context.Background(), "ivy@example.com", testPassword)
	require.NoError(t, err)

	assert.Equal(t, "ivy@example.com", res.Email)
	assert.Contains(t, res.TOTPURI, "otpauth://totp/ZERO-TRUST:ivy@example.com?secret=")
	assert.Contains(t, res.TOTPURI, "&issuer=ZERO-TRUST")
	assert.True(t, bytes.HasPrefix(res.QRCodePNG, []byte("\x89PNG")))

	perms, err := h.perms.GetPermissions(context.Background(), res.UserID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"view_products", "place_orders"}, perms)
}

func TestSignupVaultFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.vault.storeErr = vault.ErrUnavailable

	_, err := h.engine.Signup(context.Background(), "jack@example.com", testPassword)
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, "Try again later", PublicMessage(err, false))
	assert.Equal(t, 1, h.users.count(), "the account row exists without a secret")
	assert.Equal(t, uint64(1), h.engine.MetricsSnapshot().Counters[MetricVaultFailure])

	// With no secret enrolled every login stops at the TOTP gate.
	_, err = h.engine.Login(context.Background(), "jack@example.com", testPassword, "123456")
	assert.ErrorIs(t, err, ErrInvalidTOTPCode)
}

func TestSignupPermissionGrantFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.perms.setErr = authz.ErrUnavailable

	_, err := h.engine.Signup(context.Background(), "jill@example.com", testPassword)
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, "Try again later", PublicMessage(err, false))
	assert.Equal(t, 1, h.users.count(), "the account row exists without a grant")

	rec, err := h.users.FindByEmail(context.Background(), "jill@example.com")
	require.NoError(t, err)
	_, err = h.perms.GetPermissions(context.Background(), rec.ID)
	assert.ErrorIs(t, err, authz.ErrNotFound)
}

func TestUserStoreOutage(t *testing.T) {
	h := newHarness(t, nil)
	_, secret := h.enroll(t, "kate@example.com")
	h.users.failWith = errors.New("dial tcp 10.0.0.5:5432: connection refused")

	_, err := h.engine.Login(context.Background(), "kate@example.com", testPassword, currentCode(t, secret))
	require.ErrorIs(t, err, ErrUnavailable)
	assert.NotContains(t, err.Error(), "10.0.0.5")
	assert.True(t, IsUnavailable(err))

	_, err = h.engine.Signup(context.Background(), "leo@example.com", testPassword)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRefreshRotatesAndReadsCurrentPermissions(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	userID, secret := h.enroll(t, "mia@example.com")
	first := h.login(t, "mia@example.com", secret)

	_, err := h.perms.SetPermissions(ctx, userID, []string{"view_orders"})
	require.NoError(t, err)

	second, err := h.engine.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, second.SessionID)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, []string{"view_orders"}, second.Permissions)

	auth, err := h.engine.Validate(ctx, second.AccessToken, ModeStrict)
	require.NoError(t, err)
	assert.Equal(t, []string{"view_orders"}, auth.Permissions)

	// The superseded session is gone.
	_, err = h.engine.Validate(ctx, first.AccessToken, ModeStrict)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = h.engine.Refresh(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, ErrRefreshReuse)
	assert.Equal(t, uint64(1), h.engine.MetricsSnapshot().Counters[MetricRefreshReuseDetected])
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	h := newHarness(t, nil)
	_, secret := h.enroll(t, "nina@example.com")
	res := h.login(t, "nina@example.com", secret)

	_, err := h.engine.Refresh(context.Background(), res.AccessToken)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestRefreshWithoutPermissionsFailsClosed(t *testing.T) {
	h := newHarness(t, nil)
	userID, secret := h.enroll(t, "omar@example.com")
	res := h.login(t, "omar@example.com", secret)

	h.perms.revoke(userID)
	_, err := h.engine.Refresh(context.Background(), res.RefreshToken)
	assert.ErrorIs(t, err, ErrPermissionsNotFound)
}

func TestLogoutAll(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	userID, secret := h.enroll(t, "pia@example.com")
	a := h.login(t, "pia@example.com", secret)
	b := h.login(t, "pia@example.com", secret)

	n, err := h.engine.LogoutAll(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, tok := range []string{a.AccessToken, b.AccessToken} {
		_, err := h.engine.Validate(ctx, tok, ModeStrict)
		assert.ErrorIs(t, err, ErrSessionNotFound)
	}

	_, err = h.engine.LogoutAll(ctx, "not a valid id!")
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
}

func TestValidateModes(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_, secret := h.enroll(t, "quinn@example.com")
	res := h.login(t, "quinn@example.com", secret)

	_, err := h.engine.Validate(ctx, res.AccessToken, ValidationMode(42))
	assert.ErrorIs(t, err, ErrInvalidRouteMode)

	_, err = h.engine.Validate(ctx, "abc", ModeJWTOnly)
	assert.ErrorIs(t, err, ErrTokenMalformed)
	_, err = h.engine.Validate(ctx, "abc", ModeStrict)
	assert.ErrorIs(t, err, ErrTokenMalformed)

	_, err = h.engine.Validate(ctx, res.RefreshToken, ModeJWTOnly)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	// The default mode is strict.
	require.NoError(t, h.engine.Logout(ctx, res.AccessToken))
	_, err = h.engine.Validate(ctx, res.AccessToken, ModeInherit)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStrictValidateDuringRedisOutage(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_, secret := h.enroll(t, "rosa@example.com")
	res := h.login(t, "rosa@example.com", secret)

	h.mr.SetError("LOADING Redis is loading the dataset in memory")
	defer h.mr.SetError("")

	_, err := h.engine.Validate(ctx, res.AccessToken, ModeStrict)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = h.engine.Validate(ctx, res.AccessToken, ModeJWTOnly)
	assert.NoError(t, err)
}

func TestEnrollmentQR(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	signup, err := h.engine.Signup(ctx, "sam@example.com", testPassword)
	require.NoError(t, err)

	enr, err := h.engine.EnrollmentQR(ctx, signup.UserID)
	require.NoError(t, err)
	assert.Equal(t, signup.TOTPURI, enr.URI)
	assert.True(t, bytes.HasPrefix(enr.QRCodePNG, []byte("\x89PNG")))

	_, err = h.engine.EnrollmentQR(ctx, "user-999")
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = h.engine.EnrollmentQR(ctx, "bad id!")
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
}

type recordingBinder struct {
	mu   sync.Mutex
	jobs []BindJob
	err  error
}

func (b *recordingBinder) Enqueue(_ context.Context, job BindJob) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.jobs = append(b.jobs, job)
	return nil
}

func TestLoginHandsBindingToBinder(t *testing.T) {
	binder := &recordingBinder{}
	h := newHarness(t, func(_ *Config, b *Builder) { b.WithSessionBinder(binder) })
	_, secret := h.enroll(t, "tina@example.com")
	res := h.login(t, "tina@example.com", secret)

	require.Len(t, binder.jobs, 1)
	assert.Equal(t, res.SessionID, binder.jobs[0].SessionID)
	assert.Equal(t, res.AccessToken, binder.jobs[0].AccessToken)
	assert.Equal(t, res.UserID, binder.jobs[0].Subject)

	// Nothing has been bound yet, so strict validation cannot see the session.
	_, err := h.engine.Validate(context.Background(), res.AccessToken, ModeStrict)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, h.engine.Sessions().Bind(context.Background(), binder.jobs[0].SessionID, binder.jobs[0].AccessToken))
	_, err = h.engine.Validate(context.Background(), res.AccessToken, ModeStrict)
	assert.NoError(t, err)
}

func TestBinderFailureDoesNotFailLogin(t *testing.T) {
	binder := &recordingBinder{err: ErrSessionBindUnavailable}
	h := newHarness(t, func(_ *Config, b *Builder) { b.WithSessionBinder(binder) })
	_, secret := h.enroll(t, "uma@example.com")

	res, err := h.engine.Login(context.Background(), "uma@example.com", testPassword, currentCode(t, secret))
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.Equal(t, uint64(1), h.engine.MetricsSnapshot().Counters[MetricSessionBindFailed])
}

func TestAsyncInlineBinderBindsSession(t *testing.T) {
	h := newHarness(t, func(cfg *Config, _ *Builder) { cfg.Binding.Synchronous = false })
	_, secret := h.enroll(t, "vera@example.com")
	res := h.login(t, "vera@example.com", secret)

	assert.Eventually(t, func() bool {
		_, err := h.engine.Validate(context.Background(), res.AccessToken, ModeStrict)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAuditTrail(t *testing.T) {
	h := newHarness(t, nil)
	ctx := WithUserAgent(WithClientIP(context.Background(), "198.51.100.2"), "curl/8")
	_, secret := h.enroll(t, "walt@example.com")

	_, err := h.engine.Login(ctx, "walt@example.com", "Wrong-pass9", currentCode(t, secret))
	require.ErrorIs(t, err, ErrInvalidCredentials)

	var events []AuditEvent
	deadline := time.After(2 * time.Second)
	for len(events) < 2 {
		select {
		case ev := <-h.audit.Events():
			events = append(events, ev)
		case <-deadline:
			t.Fatalf("audit events not delivered, got %d", len(events))
		}
	}

	assert.Equal(t, auditEventSignupSuccess, events[0].EventType)
	assert.True(t, events[0].Success)
	assert.Equal(t, auditEventLoginFailure, events[1].EventType)
	assert.Equal(t, string(auditErrInvalidCredentials), events[1].Error)
	assert.Equal(t, "198.51.100.2", events[1].IP)
	assert.Equal(t, "curl/8", events[1].UserAgent)
}

func TestSessionLifecycleAudit(t *testing.T) {
	h := newHarness(t, nil)
	userID, secret := h.enroll(t, "yara@example.com")
	first := h.login(t, "yara@example.com", secret)

	_, err := h.engine.Refresh(context.Background(), first.RefreshToken)
	require.NoError(t, err)
	_, err = h.engine.Refresh(context.Background(), first.RefreshToken)
	require.ErrorIs(t, err, ErrRefreshReuse)
	_, err = h.engine.LogoutAll(context.Background(), userID)
	require.NoError(t, err)

	got := drainAudit(h, 5, 2*time.Second)
	assert.Equal(t, []string{
		auditEventSignupSuccess,
		auditEventLoginSuccess,
		auditEventRefreshSuccess,
		auditEventRefreshReuseDetected,
		auditEventLogoutAll,
	}, got)
}

func TestNilEngine(t *testing.T) {
	var e *Engine
	ctx := context.Background()

	_, err := e.Login(ctx, "a@example.com", "x", "000000")
	assert.ErrorIs(t, err, ErrEngineNotReady)
	_, err = e.Signup(ctx, "a@example.com", "x")
	assert.ErrorIs(t, err, ErrEngineNotReady)
	_, err = e.Validate(ctx, "tok", ModeStrict)
	assert.ErrorIs(t, err, ErrEngineNotReady)
	_, err = e.Refresh(ctx, "tok")
	assert.ErrorIs(t, err, ErrEngineNotReady)
	assert.ErrorIs(t, e.Logout(ctx, "tok"), ErrEngineNotReady)
	assert.Zero(t, e.AuditDropped())
	assert.Empty(t, e.MetricsSnapshot().Counters)
	e.Close()
}

func TestEngineWithoutPermissionSourceUsesUserRecord(t *testing.T) {
	_, rdb := newTestRedis(t)
	adapter, err := vault.NewAdapter(vault.NewMemoryBackend())
	require.NoError(t, err)
	users := newMemUsers()

	engine, err := New().
		WithConfig(testConfig()).
		WithRedis(rdb).
		WithUserStore(users).
		WithVault(adapter).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	signup, err := engine.Signup(context.Background(), "xena@example.com", testPassword)
	require.NoError(t, err)
	res, err := engine.Login(context.Background(), "xena@example.com", testPassword, currentCode(t, secretFromURI(t, signup.TOTPURI)))
	require.NoError(t, err)
	perms, _ := authz.RolePermissions(authz.RoleCustomer)
	assert.ElementsMatch(t, perms, res.Permissions)
}

func TestEndToEndScenario(t *testing.T) {
	h := newHarness(t, func(cfg *Config, _ *Builder) { cfg.Binding.Synchronous = false })
	ctx := context.Background()

	signup, err := h.engine.Signup(ctx, "a@x.com", "Passw0rd1")
	require.NoError(t, err)
	assert.Equal(t, 1, h.users.count())
	assert.Contains(t, signup.TOTPURI, "a@x.com")

	secret, err := h.vault.inner.RetrieveSecret(ctx, signup.UserID)
	require.NoError(t, err)
	assert.Equal(t, secretFromURI(t, signup.TOTPURI), secret)

	_, err = h.engine.Login(ctx, "a@x.com", "Passw0rd1", wrongCode(t, secret))
	require.ErrorIs(t, err, ErrInvalidTOTPCode)

	res, err := h.engine.Login(ctx, "a@x.com", "Passw0rd1", currentCode(t, secret))
	require.NoError(t, err)
	require.NotEmpty(t, res.AccessToken)

	sessionID, err := h.engine.Sessions().CreateSession(ctx, res.AccessToken)
	require.NoError(t, err)
	sess, err := h.engine.Sessions().GetSession(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, res.AccessToken, sess.AccessToken)
}
