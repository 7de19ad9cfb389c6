package submission

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/roach88/answersync/internal/answer"
	"github.com/roach88/answersync/internal/metrics"
)

// SubmitAnswer submits one answer, or caches it when that is not possible.
//
// The live probe decides online/offline for this call regardless of the
// last signalled NetworkStatus. The outcomes are:
//
//	offline             {Success: true,  Cached: true}
//	remote accepted     {Success: true,  Cached: false, Data}
//	remote call failed  {Success: false, Cached: true,  Error, Rejected}
//
// Store failures are logged and do not change the result. The only error
// returned is a *RequestError for malformed input.
func (c *Coordinator) SubmitAnswer(ctx context.Context, req answer.SubmitRequest) (answer.SubmissionResult, error) {
	if err := c.validate.Struct(req); err != nil {
		return answer.SubmissionResult{}, newRequestError(err)
	}
	payload, err := answer.ParsePayload(req.Answer)
	if err != nil {
		return answer.SubmissionResult{}, newRequestError(err)
	}

	ctx, span := c.tracer.Start(ctx, "submission.SubmitAnswer", trace.WithAttributes(
		attribute.String("answer.element_id", req.ElementID),
		attribute.String("answer.lesson_id", req.LessonID),
	))
	defer span.End()

	key := req.Key()
	log := c.log.With(zap.String("key", key.String()))

	rec := answer.CachedAnswer{
		ElementID:     req.ElementID,
		LessonID:      req.LessonID,
		GraphLessonID: req.GraphLessonID,
		Answer:        payload,
		Status:        answer.StatusPending,
		Retryable:     true,
	}

	if _, err := c.probe.Check(ctx); err != nil {
		c.metrics.ProbeFailed()
		log.Info("probe failed, caching answer", zap.Error(err))

		// Past this point the caller cannot abort the write.
		work := context.WithoutCancel(ctx)
		rec.SubmissionID = c.submissionID(work, key, answer.Digest(payload))
		c.save(work, rec)
		c.metrics.Submission(metrics.OutcomeOffline)
		span.SetAttributes(attribute.String("submission.outcome", metrics.OutcomeOffline))
		return answer.SubmissionResult{Success: true, Cached: true}, nil
	}

	work := context.WithoutCancel(ctx)
	rec.SubmissionID = c.submissionID(work, key, answer.Digest(payload))

	data, err := c.send(work, rec)
	if err == nil {
		if err := c.store.RemoveAnswer(work, key); err != nil {
			c.storeError("remove", err)
		}
		c.refreshPending(work)
		c.metrics.Submission(metrics.OutcomeRemote)
		span.SetAttributes(attribute.String("submission.outcome", metrics.OutcomeRemote))
		log.Debug("answer submitted", zap.String("submission_id", rec.SubmissionID))
		return answer.SubmissionResult{Success: true, Data: data}, nil
	}

	retry := isRetryable(err)
	rec.Status = answer.StatusFailed
	rec.LastError = err.Error()
	rec.Retryable = retry
	c.save(work, rec)

	outcome := metrics.OutcomeFailed
	if retry {
		log.Warn("remote submit failed, answer cached for retry", zap.Error(err))
	} else {
		outcome = metrics.OutcomeRejected
		log.Warn("remote rejected answer, cached but unlikely to succeed on retry", zap.Error(err))
	}
	c.metrics.Submission(outcome)
	span.SetAttributes(attribute.String("submission.outcome", outcome))
	span.SetStatus(codes.Error, err.Error())

	return answer.SubmissionResult{
		Success:  false,
		Cached:   true,
		Error:    err.Error(),
		Rejected: !retry,
	}, nil
}

// submissionID reuses the idempotency key of a cached answer with the same
// payload so a resend of the same answer is recognisable remotely.
func (c *Coordinator) submissionID(ctx context.Context, key answer.Key, digest string) string {
	existing, ok, err := c.store.GetAnswer(ctx, key)
	if err != nil {
		c.storeError("get", err)
	}
	if ok && existing.Digest == digest && existing.SubmissionID != "" {
		return existing.SubmissionID
	}
	return c.ids.Generate()
}

func (c *Coordinator) save(ctx context.Context, rec answer.CachedAnswer) {
	if _, err := c.store.SaveAnswer(ctx, rec); err != nil {
		c.storeError("save", err)
		return
	}
	c.refreshPending(ctx)
}

// send performs one remote submit bounded by the submit timeout.
func (c *Coordinator) send(ctx context.Context, rec answer.CachedAnswer) (json.RawMessage, error) {
	if c.submitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.submitTimeout)
		defer cancel()
	}

	ctx, span := c.tracer.Start(ctx, "submission.remote", trace.WithAttributes(
		attribute.String("answer.element_id", rec.ElementID),
		attribute.String("answer.submission_id", rec.SubmissionID),
	))
	defer span.End()

	start := time.Now()
	data, err := c.remote.SubmitAnswer(ctx, rec.ElementID, rec.GraphLessonID, rec.SubmissionID, json.RawMessage(rec.Answer))
	c.metrics.ObserveSubmit(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return data, nil
}
