package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	zerotrust "github.com/Meraviglioso8/ZeroTrust-DeepLearning"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/session"
	"github.com/cenkalti/backoff/v5"
	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"
)

// Handler applies one binding. Errors for which [Permanent] is true are
// dead-lettered without retry.
type Handler func(ctx context.Context, job zerotrust.BindJob) error

// SessionHandler binds jobs through a session manager.
func SessionHandler(m *session.Manager) Handler {
	return func(ctx context.Context, job zerotrust.BindJob) error {
		return m.Bind(ctx, job.SessionID, job.AccessToken)
	}
}

// Permanent reports whether retrying err cannot succeed: the token is bad,
// expired or names another session.
func Permanent(err error) bool {
	return errors.Is(err, session.ErrInvalidToken) ||
		errors.Is(err, session.ErrSessionMismatch) ||
		errors.Is(err, session.ErrInvalidID) ||
		errors.Is(err, errMalformedEntry)
}

var errMalformedEntry = errors.New("malformed bind entry")

// Worker consumes the binding stream as a member of a consumer group.
// Delivery is at least once: an entry is acknowledged only after the
// handler succeeds or the entry has been moved to the dead-letter stream.
type Worker struct {
	redis   redis.UniversalClient
	cfg     Config
	handle  Handler
	logger  *slog.Logger
	backoff func() backoff.BackOff
}

// WorkerOption customizes a [Worker].
type WorkerOption func(*Worker)

// WithLogger sets the worker logger.
func WithLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithBackOff replaces the retry policy used within one delivery and
// between failed polls.
func WithBackOff(fn func() backoff.BackOff) WorkerOption {
	return func(w *Worker) {
		if fn != nil {
			w.backoff = fn
		}
	}
}

// NewWorker returns a consumer. Call [Worker.EnsureGroup] before the first poll.
func NewWorker(client redis.UniversalClient, cfg Config, handle Handler, opts ...WorkerOption) *Worker {
	w := &Worker{
		redis:  client,
		cfg:    cfg.withDefaults(),
		handle: handle,
		logger: slog.Default(),
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 50 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// EnsureGroup creates the stream and consumer group if missing.
func (w *Worker) EnsureGroup(ctx context.Context) error {
	err := w.redis.XGroupCreateMkStream(ctx, w.cfg.Stream, w.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// Run polls until ctx is done. Redis errors back off and retry.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.EnsureGroup(ctx); err != nil {
		return err
	}
	pause := w.backoff()
	for {
		_, err := w.ProcessOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			pause.Reset()
			continue
		}
		wait := pause.NextBackOff()
		if wait == backoff.Stop {
			wait = 5 * time.Second
		}
		w.logger.Warn("binding poll failed", slog.Any("error", err), slog.Duration("retry_in", wait))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// ProcessOnce handles this consumer's pending entries, entries stalled on
// other consumers, then one batch of new entries. It returns how many
// entries were acknowledged.
func (w *Worker) ProcessOnce(ctx context.Context) (int, error) {
	done := 0

	pending, err := w.read(ctx, "0", -1)
	if err != nil {
		return done, err
	}
	done += w.handleAll(ctx, pending)

	claimed, _, err := w.redis.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   w.cfg.Stream,
		Group:    w.cfg.Group,
		Consumer: w.cfg.Consumer,
		MinIdle:  w.cfg.MinIdle,
		Start:    "0-0",
		Count:    w.cfg.Batch,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return done, err
	}
	done += w.handleAll(ctx, claimed)

	block := w.cfg.Block
	if block < 0 {
		block = -1
	}
	fresh, err := w.read(ctx, ">", block)
	if err != nil {
		return done, err
	}
	done += w.handleAll(ctx, fresh)
	return done, nil
}

func (w *Worker) read(ctx context.Context, id string, block time.Duration) ([]redis.XMessage, error) {
	streams, err := w.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    w.cfg.Group,
		Consumer: w.cfg.Consumer,
		Streams:  []string{w.cfg.Stream, id},
		Count:    w.cfg.Batch,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []redis.XMessage
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out, nil
}

func (w *Worker) handleAll(ctx context.Context, msgs []redis.XMessage) int {
	acked := 0
	for _, msg := range msgs {
		if ctx.Err() != nil {
			return acked
		}
		if w.handleOne(ctx, msg) {
			acked++
		}
	}
	return acked
}

// handleOne returns true when the entry was acknowledged.
func (w *Worker) handleOne(ctx context.Context, msg redis.XMessage) bool {
	// Pending entries whose payload was trimmed come back with no values.
	if len(msg.Values) == 0 {
		return w.ack(ctx, msg.ID)
	}

	job, err := decodeJob(msg)
	if err != nil {
		return w.deadLetter(ctx, msg, job, errors.Join(errMalformedEntry, err), 1)
	}

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		hctx, cancel := context.WithTimeout(ctx, w.cfg.HandlerTimeout)
		defer cancel()
		if err := w.handle(hctx, job); err != nil {
			if Permanent(err) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(w.backoff()), backoff.WithMaxTries(w.cfg.RetryTries))
	if err == nil {
		return w.ack(ctx, msg.ID)
	}

	attempts, incErr := w.redis.HIncrBy(ctx, w.cfg.attemptsKey(), msg.ID, 1).Result()
	if incErr != nil {
		w.logger.Warn("binding attempt count unavailable", slog.String("entry", msg.ID), slog.Any("error", incErr))
		return false
	}
	if Permanent(err) || attempts >= w.cfg.MaxAttempts {
		return w.deadLetter(ctx, msg, job, err, attempts)
	}
	w.logger.Warn("session binding will be redelivered",
		slog.String("entry", msg.ID),
		slog.String("session_id", job.SessionID),
		slog.Int64("attempts", attempts),
		slog.Any("error", err),
	)
	return false
}

func (w *Worker) ack(ctx context.Context, id string) bool {
	_, err := w.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAck(ctx, w.cfg.Stream, w.cfg.Group, id)
		pipe.XDel(ctx, w.cfg.Stream, id)
		pipe.HDel(ctx, w.cfg.attemptsKey(), id)
		return nil
	})
	if err != nil {
		w.logger.Warn("binding ack failed", slog.String("entry", id), slog.Any("error", err))
		return false
	}
	return true
}

// deadLetter copies the entry with its failure reason to the dead-letter
// stream, reports it, and acknowledges the original.
func (w *Worker) deadLetter(ctx context.Context, msg redis.XMessage, job zerotrust.BindJob, cause error, attempts int64) bool {
	values := map[string]interface{}{
		"entry":    msg.ID,
		"error":    cause.Error(),
		"attempts": attempts,
	}
	if raw, ok := msg.Values[fieldJob].(string); ok {
		values[fieldJob] = raw
	}
	if err := w.redis.XAdd(ctx, &redis.XAddArgs{Stream: w.cfg.DeadLetter, Values: values}).Err(); err != nil {
		w.logger.Error("dead-letter write failed", slog.String("entry", msg.ID), slog.Any("error", err))
		return false
	}

	w.logger.Error("session binding dead-lettered",
		slog.String("entry", msg.ID),
		slog.String("session_id", job.SessionID),
		slog.String("subject", job.Subject),
		slog.Int64("attempts", attempts),
		slog.Any("error", cause),
	)
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", "session-binding")
		scope.SetTag("session_id", job.SessionID)
		scope.SetExtra("attempts", attempts)
		sentry.CaptureException(cause)
	})
	return w.ack(ctx, msg.ID)
}
