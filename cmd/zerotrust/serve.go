package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/authz"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/internal/dispatch"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/internal/httpapi"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/internal/obs"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/internal/rate"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/internal/settings"
	promexport "github.com/Meraviglioso8/ZeroTrust-DeepLearning/metrics/export/prometheus"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:       "serve auth|authz|session|binder|all",
		Short:     "Run one mesh service, or all of them in one process",
		Args:      cobra.ExactValidArgs(1),
		ValidArgs: []string{"auth", "authz", "session", "binder", "all"},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, "zerotrust-"+args[0])
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					a.logger.Warn("shutdown", slog.Any("error", err))
				}
			}()
			return runServices(cmd.Context(), a, args[0])
		},
	}
	return cmd
}

func runServices(ctx context.Context, a *app, which string) error {
	runners := map[string]func(context.Context, *app) error{
		"auth":    runAuth,
		"authz":   runAuthz,
		"session": runSession,
		"binder":  runBinder,
	}
	if which != "all" {
		run, ok := runners[which]
		if !ok {
			return fmt.Errorf("unknown service %q", which)
		}
		return run(ctx, a)
	}

	if _, err := a.redisClient(ctx); err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, name := range []string{"authz", "session", "auth", "binder"} {
		run := runners[name]
		g.Go(func() error { return run(ctx, a) })
	}
	return g.Wait()
}

func (a *app) common(ctx context.Context, metrics http.Handler) httpapi.Common {
	limiter := rate.NewIPLimiter(a.settings.IPRateRPS, a.settings.IPRateBurst, 10*time.Minute)
	go sweepLimiter(ctx, limiter)

	return httpapi.Common{
		Logger:    a.logger,
		IPLimiter: limiter,
		Metrics:   metrics,
		Ready: map[string]httpapi.Pinger{
			"redis": httpapi.PingFunc(func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }),
		},
		Reveal: a.settings.RevealFailureReason,
	}
}

func sweepLimiter(ctx context.Context, l *rate.IPLimiter) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Sweep()
		}
	}
}

func runAuth(ctx context.Context, a *app) error {
	if err := a.settings.RequireAuth(); err != nil {
		return err
	}
	eng, err := a.engine(ctx)
	if err != nil {
		return err
	}

	rt, err := obs.InitMetrics(ctx, obs.MetricsOptions{
		ServiceName:  "zerotrust-auth",
		Environment:  a.settings.Environment,
		OTLPEndpoint: a.settings.OTLPEndpoint,
		OTLPInsecure: a.settings.OTLPInsecure,
	}, eng, a.logger)
	if err != nil {
		return err
	}
	a.onClose(func() error { return rt.Shutdown(context.Background()) })

	reg := promexport.NewRegistry(eng, prometheus.Labels{"service": "auth"})
	router := httpapi.NewAuthRouter(eng, a.common(ctx, promexport.Handler(reg)))
	srv := httpapi.NewServer(a.settings.AuthAddr, httpapi.Instrument(router, "auth.http"))
	return httpapi.Serve(ctx, srv, a.logger)
}

func runAuthz(ctx context.Context, a *app) error {
	if err := a.settings.RequireAuthz(); err != nil {
		return err
	}
	tokens, err := a.tokens()
	if err != nil {
		return err
	}
	svc, err := a.permissionService(ctx)
	if err != nil {
		return err
	}
	sessions, err := a.sessionManager(ctx, tokens, nil)
	if err != nil {
		return err
	}

	registry := authz.NewClientRegistry()
	if err := registry.RegisterList(a.settings.ServiceClients); err != nil {
		return fmt.Errorf("AUTHZ_CLIENTS: %w", err)
	}
	if registry.Len() == 0 {
		a.logger.Warn("no service clients registered; /oauth/token will reject every request")
	}

	router := httpapi.NewAuthzRouter(httpapi.AuthzDeps{
		Service: svc,
		Tokens:  tokens,
		Clients: registry,
		Users:   &middleware.Verifier{Tokens: tokens, Sessions: sessions, Default: a.settings.ValidationMode},
	}, a.common(ctx, nil))
	srv := httpapi.NewServer(a.settings.AuthzAddr, httpapi.Instrument(router, "authz.http"))

	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(authz.AuthInterceptor(tokens)))
	authz.RegisterPermissionsServer(gs, authz.NewRPCServer(svc))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpapi.Serve(ctx, srv, a.logger) })
	g.Go(func() error { return serveGRPC(ctx, gs, a.settings.AuthzGRPCAddr, a.logger) })
	return g.Wait()
}

func serveGRPC(ctx context.Context, gs *grpc.Server, addr string, logger *slog.Logger) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("grpc server listening", slog.String("addr", addr))
		errCh <- gs.Serve(lis)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		gs.GracefulStop()
		return nil
	}
}

func runSession(ctx context.Context, a *app) error {
	if err := a.settings.RequireSession(); err != nil {
		return err
	}
	tokens, err := a.tokens()
	if err != nil {
		return err
	}
	sessions, err := a.sessionManager(ctx, tokens, nil)
	if err != nil {
		return err
	}

	deps := httpapi.SessionDeps{Sessions: sessions, Tokens: tokens}
	if a.settings.BindingMode == settings.BindingStream {
		deps.Queue = dispatch.NewQueue(a.redis, dispatch.Config{})
	}
	router := httpapi.NewSessionRouter(deps, a.common(ctx, nil))
	srv := httpapi.NewServer(a.settings.SessionAddr, httpapi.Instrument(router, "session.http"))
	return httpapi.Serve(ctx, srv, a.logger)
}

func runBinder(ctx context.Context, a *app) error {
	if err := a.settings.RequireSession(); err != nil {
		return err
	}
	if a.settings.BindingMode != settings.BindingStream {
		a.logger.Info("binder idle: BINDING_MODE is not stream", slog.String("mode", a.settings.BindingMode))
		<-ctx.Done()
		return nil
	}
	tokens, err := a.tokens()
	if err != nil {
		return err
	}
	sessions, err := a.sessionManager(ctx, tokens, nil)
	if err != nil {
		return err
	}

	host, _ := os.Hostname()
	worker := dispatch.NewWorker(a.redis, dispatch.Config{
		Consumer: "binder-" + host,
		Block:    2 * time.Second,
	}, dispatch.SessionHandler(sessions), dispatch.WithLogger(a.logger))

	a.logger.Info("session binder started", slog.String("consumer", "binder-"+host))
	return worker.Run(ctx)
}
