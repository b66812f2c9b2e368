package nodeclient

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// retry policy bounds. The signer must make progress even when the node
// restarts under it, so retries cap out rather than waiting forever.
const (
	retryInitialInterval = 250 * time.Millisecond
	retryMaxInterval     = 10 * time.Second
	retryMaxElapsed      = 60 * time.Second
)

// RetryWithBackoff runs op under exponential backoff. Transport-level
// failures retry; an *RPCError from the node is permanent and returns
// immediately. If retries exhaust, the last error is returned and the
// caller skips the step (the signer never aborts on a client failure).
func RetryWithBackoff(op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryInitialInterval
	policy.MaxInterval = retryMaxInterval
	policy.MaxElapsedTime = retryMaxElapsed

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

// RetryValue runs a value-returning op under RetryWithBackoff.
func RetryValue[T any](op func() (T, error)) (T, error) {
	var value T
	err := RetryWithBackoff(func() error {
		v, err := op()
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	return value, err
}
