package kv

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// outcome classifies the result of one CAS attempt.
type outcome int

const (
	outcomeContinue outcome = iota
	outcomeCommit
	outcomeGiveUp
)

// Result is the outcome of one attempt of a retried operation.
// Zero value means "retry me".
type Result[T any] struct {
	kind  outcome
	value T
}

// Continue asks the retry driver to run the operation again after the
// configured sleep.
func Continue[T any]() Result[T] {
	return Result[T]{kind: outcomeContinue}
}

// Commit terminates the retry loop successfully with a value.
func Commit[T any](value T) Result[T] {
	return Result[T]{kind: outcomeCommit, value: value}
}

// GiveUp terminates the retry loop unsuccessfully. Used for permanent
// failures that more attempts cannot fix.
func GiveUp[T any]() Result[T] {
	return Result[T]{kind: outcomeGiveUp}
}

// Operation is one attempt of a read-mutate-CAS cycle. Transient store
// faults must be mapped to Continue, not returned as errors; the retry
// driver never sees them.
type Operation[T any] func(ctx context.Context) Result[T]

// Retry runs op until it commits, gives up, the attempt budget is spent or
// the context deadline fires. It reports whether a value was committed.
// The sleep between attempts is cooperative and deadline-aware: if the
// context is done before the next attempt, Retry stops with a false return
// rather than surfacing the deadline as an error.
func Retry[T any](ctx context.Context, attempts int, sleep time.Duration, op Operation[T]) (T, bool) {
	var zero T
	for i := 0; i < attempts; i++ {
		res := op(ctx)
		switch res.kind {
		case outcomeCommit:
			return res.value, true
		case outcomeGiveUp:
			return zero, false
		}

		// Sleep follows every failed attempt, so the total budget is
		// attempts * sleep.
		select {
		case <-ctx.Done():
			log.Debug().Int("attempt", i+1).Msg("Retry loop stopped by deadline")
			return zero, false
		case <-time.After(sleep):
		}
	}
	return zero, false
}
