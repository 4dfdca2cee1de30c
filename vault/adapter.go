package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// DefaultTimeout bounds every backend call made by the [Adapter].
	DefaultTimeout = 5 * time.Second

	defaultReadAttempts = 3
)

// SecretMeta describes one stored secret without its payload.
type SecretMeta struct {
	Name string
	Ref  string
}

// Backend is the secret-store contract the adapter needs.
type Backend interface {
	// Create stores payload under name and returns an opaque reference.
	Create(ctx context.Context, name string, payload []byte) (string, error)
	// List returns secrets whose name equals name. An empty name lists all.
	List(ctx context.Context, name string) ([]SecretMeta, error)
	// Payload returns the plaintext stored at ref.
	Payload(ctx context.Context, ref string) ([]byte, error)
}

// Adapter stores and retrieves TOTP secrets through a [Backend].
//
// Adapter is safe for concurrent use.
type Adapter struct {
	backend      Backend
	timeout      time.Duration
	readAttempts uint
	newBackOff   func() backoff.BackOff
}

// Option customizes an [Adapter].
type Option func(*Adapter)

// WithTimeout overrides the per-call backend timeout.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithReadAttempts sets how many times idempotent reads are tried before
// giving up. One disables retries.
func WithReadAttempts(n uint) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.readAttempts = n
		}
	}
}

// WithBackOff overrides the retry schedule for reads.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(a *Adapter) {
		if fn != nil {
			a.newBackOff = fn
		}
	}
}

// NewAdapter wraps backend.
func NewAdapter(backend Backend, opts ...Option) (*Adapter, error) {
	if backend == nil {
		return nil, errors.New("vault backend required")
	}
	a := &Adapter{
		backend:      backend,
		timeout:      DefaultTimeout,
		readAttempts: defaultReadAttempts,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// SecretName returns the backend name under which ownerID's secret lives.
func SecretName(ownerID string) string {
	return "secret for user " + ownerID
}

// StoreSecret saves plaintext for ownerID and returns the backend reference.
// Creation is not retried: a create that timed out may still have landed.
func (a *Adapter) StoreSecret(ctx context.Context, ownerID, plaintext string) (string, error) {
	if strings.TrimSpace(ownerID) == "" {
		return "", ErrInvalidOwner
	}
	if plaintext == "" {
		return "", ErrEmptySecret
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	ref, err := a.backend.Create(callCtx, SecretName(ownerID), []byte(plaintext))
	if err != nil {
		return "", classify(err)
	}
	return ref, nil
}

// RetrieveSecret returns the plaintext stored for ownerID. When several
// secrets share the owner's name the most recently listed one wins.
func (a *Adapter) RetrieveSecret(ctx context.Context, ownerID string) (string, error) {
	if strings.TrimSpace(ownerID) == "" {
		return "", ErrInvalidOwner
	}
	name := SecretName(ownerID)

	return a.read(ctx, func(callCtx context.Context) (string, error) {
		metas, err := a.backend.List(callCtx, name)
		if err != nil {
			return "", err
		}
		ref := ""
		for _, m := range metas {
			if m.Name == name {
				ref = m.Ref
			}
		}
		if ref == "" {
			return "", ErrNotFound
		}
		payload, err := a.backend.Payload(callCtx, ref)
		if err != nil {
			return "", err
		}
		return string(payload), nil
	})
}

// RetrieveByRef returns the plaintext stored at ref.
func (a *Adapter) RetrieveByRef(ctx context.Context, ref string) (string, error) {
	if strings.TrimSpace(ref) == "" {
		return "", ErrNotFound
	}
	return a.read(ctx, func(callCtx context.Context) (string, error) {
		payload, err := a.backend.Payload(callCtx, ref)
		if err != nil {
			return "", err
		}
		return string(payload), nil
	})
}

func (a *Adapter) read(ctx context.Context, fn func(context.Context) (string, error)) (string, error) {
	op := func() (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()

		v, err := fn(callCtx)
		if err == nil {
			return v, nil
		}
		err = classify(err)
		if !errors.Is(err, ErrUnavailable) || ctx.Err() != nil {
			return "", backoff.Permanent(err)
		}
		return "", err
	}

	v, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(a.newBackOff()),
		backoff.WithMaxTries(a.readAttempts),
	)
	if err != nil {
		return "", classify(err)
	}
	return v, nil
}

// classify folds backend errors into the package sentinels.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnavailable),
		errors.Is(err, ErrInvalidOwner), errors.Is(err, ErrEmptySecret):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}
