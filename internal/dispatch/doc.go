// Package dispatch moves session bindings off the login path through a
// Redis Stream. [Queue] is the producer the auth engine enqueues into;
// [Worker] consumes with a consumer group, retries with exponential
// backoff and dead-letters entries that keep failing.
package dispatch
