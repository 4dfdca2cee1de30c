package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	zerotrust "github.com/Meraviglioso8/ZeroTrust-DeepLearning"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/internal/obs"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/internal/rate"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Pinger is a readiness dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to [Pinger].
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Common is the middleware and probe configuration shared by every router.
type Common struct {
	Logger *slog.Logger
	// IPLimiter throttles every route per client address when set.
	IPLimiter *rate.IPLimiter
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	// Ready maps a dependency name to its probe for /health/ready.
	Ready map[string]Pinger
	// Reveal names the failed authentication gate in responses. Development only.
	Reveal bool
}

func (c Common) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// newRouter builds the base chi router with the shared middleware chain and
// the probe routes.
func newRouter(c Common) chi.Router {
	logger := c.logger()

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.RequestID)
	r.Use(obs.RequestLogger(logger))
	r.Use(obs.Recoverer(logger))
	r.Use(clientInfo)
	if c.IPLimiter != nil {
		r.Use(c.IPLimiter.Middleware)
	}

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", readyHandler(c.Ready))
	if c.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", c.Metrics)
	}
	return r
}

// clientInfo copies the caller address and user agent into the context for
// the login throttle and the audit trail. RealIP has already rewritten
// RemoteAddr by the time this runs.
func clientInfo(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := zerotrust.WithClientIP(r.Context(), rate.ClientIP(r))
		ctx = zerotrust.WithUserAgent(ctx, r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type checkResult struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
}

func readyHandler(deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		ready := true
		results := make([]checkResult, 0, len(deps))
		for name, p := range deps {
			ok := p.Ping(ctx) == nil
			ready = ready && ok
			results = append(results, checkResult{Name: name, Healthy: ok})
		}
		if !ready {
			writeErrorCode(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready")
			return
		}
		writeJSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
	}
}

// Instrument wraps a router with OpenTelemetry HTTP server metrics.
func Instrument(h http.Handler, operation string) http.Handler {
	return otelhttp.NewHandler(h, operation)
}

// NewServer returns an http.Server with conservative timeouts.
func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Serve runs srv until ctx is cancelled and then shuts it down gracefully.
func Serve(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
