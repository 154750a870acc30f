// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at SensorLogic.
// Copyright 2024-present SensorLogic, Inc.

package store

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// withRetry runs op under the adapter's retry policy: transient errors
// (connection and timeout class) retry with exponential backoff
// base_delay * 2^k up to the configured attempt count, anything else
// surfaces immediately. Every attempt runs under the per-operation
// timeout; cancelling ctx aborts the backoff sleep.
func (a *Adapter) withRetry(ctx context.Context, name string, op func(ctx context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = a.cfg.RetryBaseDelay()
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(a.cfg.RetryCount)), ctx)

	return backoff.Retry(func() error {
		opCtx, cancel := context.WithTimeout(ctx, a.cfg.OpTimeout())
		defer cancel()

		err := op(opCtx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if !isTransient(err) {
			return backoff.Permanent(err)
		}
		a.metrics.StoreRetries.Inc()
		if a.throttle.Allow("retry:" + name) {
			a.log.Warn("retrying store operation",
				zap.String("op", name), zap.Error(err))
		}
		return err
	}, policy)
}

// isTransient classifies connection and timeout errors as retryable.
func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
