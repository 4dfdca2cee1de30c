package zerotrust

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/session"
)

// inlineBinder binds sessions on a goroutine per job inside this process.
// Jobs in flight when the process dies are lost; the token is still valid
// but strict validation rejects it until the next login.
type inlineBinder struct {
	sessions    *session.Manager
	timeout     time.Duration
	synchronous bool
	logger      *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func newInlineBinder(sessions *session.Manager, cfg BindingConfig, logger *slog.Logger) *inlineBinder {
	return &inlineBinder{
		sessions:    sessions,
		timeout:     cfg.Timeout,
		synchronous: cfg.Synchronous,
		logger:      logger,
	}
}

func (b *inlineBinder) Enqueue(ctx context.Context, job BindJob) error {
	// The binding must outlive the request that triggered it.
	base := context.WithoutCancel(ctx)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrSessionBindUnavailable
	}
	// Close waits on wg, so the slot is taken before the lock is released.
	b.wg.Add(1)
	b.mu.Unlock()

	if b.synchronous {
		defer b.wg.Done()
		return b.bind(base, job)
	}
	go func() {
		defer b.wg.Done()
		_ = b.bind(base, job)
	}()
	return nil
}

func (b *inlineBinder) bind(ctx context.Context, job BindJob) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if err := b.sessions.Bind(ctx, job.SessionID, job.AccessToken); err != nil {
		b.logger.Error("session binding failed",
			slog.String("session_id", job.SessionID),
			slog.String("subject", job.Subject),
			slog.Any("error", err),
		)
		return err
	}
	return nil
}

// Close stops accepting jobs and waits for in-flight bindings.
func (b *inlineBinder) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.wg.Wait()
	return nil
}
