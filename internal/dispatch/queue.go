package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	zerotrust "github.com/Meraviglioso8/ZeroTrust-DeepLearning"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultStream is the Redis Stream holding pending session bindings.
	DefaultStream = "zt:bind"
	// DefaultGroup is the consumer group binders join.
	DefaultGroup = "binders"

	fieldJob = "job"
)

// Config names the stream and tunes delivery.
type Config struct {
	Stream      string
	DeadLetter  string
	Group       string
	Consumer    string
	MaxLen      int64
	MaxAttempts int64
	// RetryTries bounds in-process retries of one delivery before it is
	// left pending for redelivery.
	RetryTries uint
	Batch      int64
	// Block is how long one poll waits for new entries. Zero means the
	// default; a negative value polls without blocking.
	Block          time.Duration
	MinIdle        time.Duration
	HandlerTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Stream == "" {
		c.Stream = DefaultStream
	}
	if c.DeadLetter == "" {
		c.DeadLetter = c.Stream + ":dead"
	}
	if c.Group == "" {
		c.Group = DefaultGroup
	}
	if c.Consumer == "" {
		c.Consumer = "binder-1"
	}
	if c.MaxLen <= 0 {
		c.MaxLen = 100_000
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.RetryTries == 0 {
		c.RetryTries = 3
	}
	if c.Batch <= 0 {
		c.Batch = 16
	}
	if c.Block == 0 {
		c.Block = 2 * time.Second
	}
	if c.MinIdle <= 0 {
		c.MinIdle = time.Minute
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = 5 * time.Second
	}
	return c
}

func (c Config) attemptsKey() string { return c.Stream + ":attempts" }

// Queue is the producer half: it satisfies zerotrust.SessionBinder by
// appending jobs to the stream. Enqueue returns once Redis has the entry.
type Queue struct {
	redis redis.UniversalClient
	cfg   Config
}

// NewQueue returns a producer for cfg.Stream.
func NewQueue(client redis.UniversalClient, cfg Config) *Queue {
	return &Queue{redis: client, cfg: cfg.withDefaults()}
}

func (q *Queue) Enqueue(ctx context.Context, job zerotrust.BindJob) error {
	if job.SessionID == "" || job.AccessToken == "" {
		return errors.New("bind job requires session id and access token")
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	err = q.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.Stream,
		MaxLen: q.cfg.MaxLen,
		Approx: true,
		Values: map[string]interface{}{fieldJob: string(payload)},
	}).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", zerotrust.ErrSessionBindUnavailable, err)
	}
	return nil
}

// Len returns the number of entries still in the stream.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.redis.XLen(ctx, q.cfg.Stream).Result()
}

func decodeJob(msg redis.XMessage) (zerotrust.BindJob, error) {
	var job zerotrust.BindJob
	raw, ok := msg.Values[fieldJob].(string)
	if !ok {
		return job, errors.New("bind entry without job field")
	}
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return job, fmt.Errorf("decode bind job: %w", err)
	}
	return job, nil
}
