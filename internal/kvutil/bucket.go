// Package kvutil provides utilities for bootstrapping NATS JetStream KeyValue buckets and streams.
package kvutil

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

const defaultMaxRetries = 3

// EnsureKVBucketWithRetry creates or opens a KV bucket with retry logic.
//
// Several processors usually start at once against the same lease bucket, so
// a create that loses the race falls back to opening the existing bucket.
// Transient failures are retried with exponential backoff (10ms, 20ms, 40ms...).
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - js: JetStream context
//   - config: KV bucket configuration
//   - maxRetries: Maximum number of attempts (default: 3)
//
// Returns:
//   - jetstream.KeyValue: The KV bucket instance
//   - error: The last error after all attempts
//
// Example:
//
//	kv, err := kvutil.EnsureKVBucketWithRetry(ctx, js, jetstream.KeyValueConfig{
//	    Bucket:  "changefeed-leases",
//	    History: 1,
//	}, 3)
func EnsureKVBucketWithRetry(
	ctx context.Context,
	js jetstream.JetStream,
	config jetstream.KeyValueConfig,
	maxRetries int,
) (jetstream.KeyValue, error) {
	kv, err := withRetry(ctx, maxRetries, func() (jetstream.KeyValue, error) {
		kv, err := js.CreateKeyValue(ctx, config)
		if err == nil {
			return kv, nil
		}
		if !errors.Is(err, jetstream.ErrBucketExists) {
			return nil, err
		}

		kv, err = js.KeyValue(ctx, config.Bucket)
		if err != nil {
			return nil, fmt.Errorf("bucket exists but failed to open: %w", err)
		}

		return kv, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/open KV bucket %s: %w", config.Bucket, err)
	}

	return kv, nil
}

// EnsureStreamWithRetry creates or updates a stream with retry logic.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - js: JetStream context
//   - config: Stream configuration
//   - maxRetries: Maximum number of attempts (default: 3)
//
// Returns:
//   - jetstream.Stream: The stream handle
//   - error: The last error after all attempts
func EnsureStreamWithRetry(
	ctx context.Context,
	js jetstream.JetStream,
	config jetstream.StreamConfig,
	maxRetries int,
) (jetstream.Stream, error) {
	stream, err := withRetry(ctx, maxRetries, func() (jetstream.Stream, error) {
		return js.CreateOrUpdateStream(ctx, config)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream %s: %w", config.Name, err)
	}

	return stream, nil
}

func withRetry[T any](ctx context.Context, maxRetries int, fn func() (T, error)) (T, error) {
	var zero T
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	var lastErr error
	for attempt := range maxRetries {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, fmt.Errorf("context cancelled: %w", ctx.Err())
		}

		if attempt < maxRetries-1 {
			backoff := time.Duration(1<<uint(attempt)) * 10 * time.Millisecond //nolint:gosec // attempt is bounded by maxRetries
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return zero, fmt.Errorf("after %d attempts: %w", maxRetries, lastErr)
}
