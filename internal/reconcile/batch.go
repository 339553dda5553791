package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/inboundfound/hubsync/internal/store"
)

// applyGrouped flushes write-op groups in batches of at most BatchSize ops.
// A group is the unit of ordering (for example a history snapshot and the
// node write it guards) and is never split across batches; an oversized
// group becomes a batch of its own.
func (s *Service) applyGrouped(ctx context.Context, groups [][]store.WriteOp) error {
	var batch []store.WriteOp
	for _, group := range groups {
		if len(batch) > 0 && len(batch)+len(group) > s.options.BatchSize {
			if err := s.applyWithRetry(ctx, batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
		batch = append(batch, group...)
	}
	if len(batch) > 0 {
		return s.applyWithRetry(ctx, batch)
	}
	return nil
}

// applyWithRetry retries a transient batch failure from the batch start with
// doubling backoff. Retrying the whole batch verbatim is safe because every
// op is a keyed create-or-overwrite; a batch is never resumed mid-way.
func (s *Service) applyWithRetry(ctx context.Context, ops []store.WriteOp) error {
	backoff := s.options.RetryBackoff
	var lastErr error

	for attempt := 1; attempt <= s.options.MaxRetries; attempt++ {
		lastErr = s.store.ApplyBatch(ctx, ops)
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, store.ErrTransient) {
			return fmt.Errorf("apply batch of %d ops: %w", len(ops), lastErr)
		}
		if attempt == s.options.MaxRetries {
			break
		}

		log.Printf("[RECONCILE] Batch of %d ops failed (attempt %d/%d), retrying in %s: %v",
			len(ops), attempt, s.options.MaxRetries, backoff, lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return fmt.Errorf("apply batch of %d ops after %d attempts: %w", len(ops), s.options.MaxRetries, lastErr)
}
