package internaldefs

import (
	zerotrust "github.com/Meraviglioso8/ZeroTrust-DeepLearning"
)

// Namespace prefixes every exported metric name.
const Namespace = "zerotrust"

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   zerotrust.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for export.
type HistogramDef struct {
	ID   zerotrust.MetricID
	Name string
	Help string
}

// CounterDefs lists every counter in export order.
var CounterDefs = []CounterDef{
	{ID: zerotrust.MetricLoginSuccess, Name: "login_success_total", Help: "Logins that issued tokens."},
	{ID: zerotrust.MetricLoginFailure, Name: "login_failure_total", Help: "Logins rejected at any gate."},
	{ID: zerotrust.MetricLoginRateLimited, Name: "login_rate_limited_total", Help: "Logins rejected by the throttle."},
	{ID: zerotrust.MetricTOTPSuccess, Name: "totp_success_total", Help: "Second-factor checks that passed."},
	{ID: zerotrust.MetricTOTPFailure, Name: "totp_failure_total", Help: "Second-factor checks that failed."},
	{ID: zerotrust.MetricSignupSuccess, Name: "signup_success_total", Help: "Completed enrollments."},
	{ID: zerotrust.MetricSignupDuplicate, Name: "signup_duplicate_total", Help: "Signups rejected for an existing email."},
	{ID: zerotrust.MetricSignupFailure, Name: "signup_failure_total", Help: "Signups rejected for any other reason."},
	{ID: zerotrust.MetricVaultFailure, Name: "vault_failure_total", Help: "Secret vault calls that failed."},
	{ID: zerotrust.MetricRefreshSuccess, Name: "refresh_success_total", Help: "Refresh token rotations."},
	{ID: zerotrust.MetricRefreshFailure, Name: "refresh_failure_total", Help: "Rejected refresh attempts."},
	{ID: zerotrust.MetricRefreshReuseDetected, Name: "refresh_reuse_detected_total", Help: "Refresh tokens presented a second time."},
	{ID: zerotrust.MetricSessionBindQueued, Name: "session_bind_queued_total", Help: "Session bindings handed to the binder."},
	{ID: zerotrust.MetricSessionBindFailed, Name: "session_bind_failed_total", Help: "Session bindings the binder could not accept."},
	{ID: zerotrust.MetricLogout, Name: "logout_total", Help: "Single-session logouts."},
	{ID: zerotrust.MetricLogoutAll, Name: "logout_all_total", Help: "Logout-everywhere operations."},
	{ID: zerotrust.MetricValidateFailure, Name: "validate_failure_total", Help: "Rejected token validations."},
}

// HistogramDefs lists every histogram in export order.
var HistogramDefs = []HistogramDef{
	{ID: zerotrust.MetricValidateLatency, Name: "validate_latency_seconds", Help: "Token validation latency."},
}

// AuditDropped names the audit backpressure counter.
var AuditDropped = CounterDef{Name: "audit_dropped_total", Help: "Audit events dropped under dispatcher backpressure."}

// HistogramBounds are the finite upper bounds in seconds. The engine keeps
// one more bucket for everything above the last bound.
var HistogramBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// FullName prefixes name with the namespace.
func FullName(name string) string {
	return Namespace + "_" + name
}

// Cumulative converts the engine's per-bucket counts into cumulative
// counts, one per bound plus the +Inf bucket. Short input is zero-filled.
func Cumulative(raw []uint64) []uint64 {
	out := make([]uint64, len(HistogramBounds)+1)
	var running uint64
	for i := range out {
		if i < len(raw) {
			running += raw[i]
		}
		out[i] = running
	}
	return out
}
