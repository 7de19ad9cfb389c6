package submission

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/roach88/answersync/internal/answer"
)

// RetryFailedSubmissions resends every pending or failed answer, one at a
// time in queue order, and returns how many the remote system accepted.
//
// A failure marks that answer failed and moves on to the next. Cancelling
// ctx stops the batch before the next answer; a remote call already in
// flight runs to completion. Answers not reached stay in the store.
//
// Batches never overlap. A call made while an auto-sync is running waits
// for it and then retries whatever that sync left behind.
func (c *Coordinator) RetryFailedSubmissions(ctx context.Context) int {
	return c.retryBatch(ctx, "manual").Succeeded
}

func (c *Coordinator) retryBatch(ctx context.Context, trigger string) SyncReport {
	if !c.batchMu.TryLock() {
		c.log.Info("batch retry already running, waiting for it", zap.String("trigger", trigger))
		c.batchMu.Lock()
	}
	defer c.batchMu.Unlock()

	ctx, span := c.tracer.Start(ctx, "submission.RetryFailedSubmissions", trace.WithAttributes(
		attribute.String("sync.trigger", trigger),
	))
	defer span.End()

	c.metrics.SyncRun(trigger)
	report := SyncReport{Trigger: trigger, StartedAt: c.now()}
	log := c.log.With(zap.String("trigger", trigger))

	pending, err := c.store.GetPendingAnswers(ctx)
	if err != nil {
		c.storeError("get_pending", err)
		pending = nil
	}
	log.Info("retrying cached answers", zap.Int("count", len(pending)))

	work := context.WithoutCancel(ctx)
	for _, rec := range pending {
		if ctx.Err() != nil || c.stopRequested() {
			log.Info("retry batch interrupted", zap.Int("attempted", report.Attempted))
			break
		}
		if c.skipRejected && rec.Status == answer.StatusFailed && !rec.Retryable {
			report.Skipped++
			continue
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				log.Info("retry batch interrupted while pacing", zap.Error(err))
				break
			}
		}

		report.Attempted++
		if c.retryOne(work, rec) {
			report.Succeeded++
		}
	}

	report.Remaining = len(pending) - report.Succeeded
	if n, err := c.store.GetPendingCount(work); err != nil {
		c.storeError("pending_count", err)
	} else {
		report.Remaining = n
		c.metrics.SetPending(n)
	}
	report.FinishedAt = c.now()

	span.SetAttributes(
		attribute.Int("sync.attempted", report.Attempted),
		attribute.Int("sync.succeeded", report.Succeeded),
		attribute.Int("sync.remaining", report.Remaining),
	)
	log.Info("retry batch finished",
		zap.Int("attempted", report.Attempted),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("skipped", report.Skipped),
		zap.Int("remaining", report.Remaining),
	)
	return report
}

// retryOne resends a single cached answer and records the outcome.
func (c *Coordinator) retryOne(ctx context.Context, rec answer.CachedAnswer) bool {
	key := rec.Key()
	log := c.log.With(zap.String("key", key.String()), zap.String("submission_id", rec.SubmissionID))

	if err := c.store.UpdateAnswerStatus(ctx, key, answer.StatusPending, "", true); err != nil {
		c.storeError("update_status", err)
	}

	if _, err := c.send(ctx, rec); err != nil {
		c.metrics.RetryAttempt(false)
		retry := isRetryable(err)
		if err := c.store.UpdateAnswerStatus(ctx, key, answer.StatusFailed, err.Error(), retry); err != nil {
			c.storeError("update_status", err)
		}
		log.Warn("retry failed", zap.Error(err), zap.Bool("retryable", retry))
		return false
	}

	c.metrics.RetryAttempt(true)
	removed, err := c.store.RemoveAnswerIfCurrent(ctx, key, rec.SubmissionID)
	if err != nil {
		c.storeError("remove", err)
	} else if !removed {
		log.Debug("answer changed while in flight, newer version kept")
	}
	return true
}
