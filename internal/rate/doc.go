// Package rate provides the login throttles used by the auth engine.
//
// # Window semantics
//
// [Limiter] keeps fixed-window counters in Redis: INCR plus EXPIRE on the
// first hit. Keys are <prefix>:login:<email> and <prefix>:login-ip:<ip>.
//
// [IPLimiter] is an in-process token bucket per client IP used as HTTP
// middleware in front of the public routes.
package rate
