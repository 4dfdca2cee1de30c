// Package sessionapi is the HTTP client of the session service. Its
// [Binder] lets an auth service run without direct Redis access to the
// session store.
package sessionapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	zerotrust "github.com/Meraviglioso8/ZeroTrust-DeepLearning"
	"github.com/cenkalti/backoff/v5"
	"golang.org/x/oauth2/clientcredentials"
)

// Service token scopes understood by the session service.
const (
	ScopeRead  = "sessions:read"
	ScopeWrite = "sessions:write"
)

// ErrRejected is returned when the session service refuses a binding.
// Retrying the same job will not help.
var ErrRejected = errors.New("session binding rejected")

// Binder posts bindings to the session service from a small pool of
// background workers. It satisfies zerotrust.SessionBinder: Enqueue only
// hands the job to the pool, so a slow session service never holds up the
// login that issued the token.
type Binder struct {
	baseURL    string
	client     *http.Client
	timeout    time.Duration
	logger     *slog.Logger
	newBackOff func() backoff.BackOff
	attempts   uint
	workers    int

	jobs   chan zerotrust.BindJob
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Option customizes a [Binder].
type Option func(*Binder)

// WithLogger sets the logger used for bindings that fail in the background.
func WithLogger(l *slog.Logger) Option {
	return func(b *Binder) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithQueueSize bounds the number of jobs waiting for a worker. Enqueue
// fails with [zerotrust.ErrSessionBindUnavailable] once it is full.
func WithQueueSize(n int) Option {
	return func(b *Binder) {
		if n > 0 {
			b.jobs = make(chan zerotrust.BindJob, n)
		}
	}
}

// WithWorkers sets how many posts run concurrently.
func WithWorkers(n int) Option {
	return func(b *Binder) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithBackOff replaces the retry policy for posts the session service
// could not take.
func WithBackOff(fn func() backoff.BackOff, attempts uint) Option {
	return func(b *Binder) {
		if fn != nil {
			b.newBackOff = fn
		}
		if attempts > 0 {
			b.attempts = attempts
		}
	}
}

// Credentials configures the client-credentials flow against the
// authorization service's token endpoint.
type Credentials struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
}

// NewBinder builds a Binder whose requests carry a service token with the
// sessions:write scope. The token is fetched and renewed by x/oauth2.
func NewBinder(ctx context.Context, baseURL string, creds Credentials, timeout time.Duration, opts ...Option) (*Binder, error) {
	if _, err := url.Parse(baseURL); err != nil || baseURL == "" {
		return nil, fmt.Errorf("invalid session service url %q", baseURL)
	}
	cc := clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     creds.TokenURL,
		Scopes:       []string{ScopeWrite},
	}
	return NewBinderWithClient(baseURL, cc.Client(ctx), timeout, opts...), nil
}

// NewBinderWithClient uses an already authenticated HTTP client. The
// workers start immediately; call [Binder.Close] to drain them.
func NewBinderWithClient(baseURL string, client *http.Client, timeout time.Duration, opts ...Option) *Binder {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	b := &Binder{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   client,
		timeout:  timeout,
		logger:   slog.Default(),
		attempts: 3,
		workers:  4,
		newBackOff: func() backoff.BackOff {
			eb := backoff.NewExponentialBackOff()
			eb.InitialInterval = 100 * time.Millisecond
			eb.MaxInterval = time.Second
			return eb
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.jobs == nil {
		b.jobs = make(chan zerotrust.BindJob, 1024)
	}
	b.wg.Add(b.workers)
	for i := 0; i < b.workers; i++ {
		go b.run()
	}
	return b
}

// Enqueue queues the job for a background post. A full queue or a closed
// binder reads as [zerotrust.ErrSessionBindUnavailable].
func (b *Binder) Enqueue(_ context.Context, job zerotrust.BindJob) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("%w: binder closed", zerotrust.ErrSessionBindUnavailable)
	}
	select {
	case b.jobs <- job:
		return nil
	default:
		return fmt.Errorf("%w: binding queue full", zerotrust.ErrSessionBindUnavailable)
	}
}

// Close stops accepting jobs and waits until the queued ones are posted.
func (b *Binder) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.jobs)
	b.mu.Unlock()
	b.wg.Wait()
	return nil
}

func (b *Binder) run() {
	defer b.wg.Done()
	for job := range b.jobs {
		if err := b.deliver(job); err != nil {
			level := slog.LevelError
			if errors.Is(err, ErrRejected) {
				level = slog.LevelWarn
			}
			b.logger.Log(context.Background(), level, "remote session binding failed",
				slog.String("session_id", job.SessionID),
				slog.String("subject", job.Subject),
				slog.Any("error", err),
			)
		}
	}
}

// deliver posts job, retrying while the session service is unavailable.
func (b *Binder) deliver(job zerotrust.BindJob) error {
	op := func() (struct{}, error) {
		err := b.Post(context.Background(), job)
		if err != nil && !errors.Is(err, zerotrust.ErrSessionBindUnavailable) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}
	_, err := backoff.Retry(context.Background(), op,
		backoff.WithBackOff(b.newBackOff()),
		backoff.WithMaxTries(b.attempts),
	)
	return err
}

// Post sends one binding and waits for the answer. Transport failures and
// 5xx answers read as [zerotrust.ErrSessionBindUnavailable], other non-2xx
// answers as [ErrRejected].
func (b *Binder) Post(ctx context.Context, job zerotrust.BindJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v1/bindings", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", zerotrust.ErrSessionBindUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode == http.StatusAccepted, resp.StatusCode == http.StatusCreated:
		return nil
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: status %d", zerotrust.ErrSessionBindUnavailable, resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}
}
