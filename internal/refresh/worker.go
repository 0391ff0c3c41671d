package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/storefrontlabs/billing-sync/internal/gateways"
	"github.com/storefrontlabs/billing-sync/internal/profiles"
	"github.com/storefrontlabs/billing-sync/pkg/db/models"
	"github.com/storefrontlabs/billing-sync/pkg/enums"
	"github.com/storefrontlabs/billing-sync/pkg/logger"
	"github.com/storefrontlabs/billing-sync/pkg/metrics"
)

const (
	defaultMaxJobs  = 50
	defaultBatchCap = 10

	OutcomeSucceeded = "succeeded"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// StatusFetcher is the slice of the profile manager the worker needs.
type StatusFetcher interface {
	GetStatus(ctx context.Context, sub *models.Subscription) gateways.Result
}

// SnapshotCache receives fresh profile snapshots.
type SnapshotCache interface {
	Put(ctx context.Context, entry profiles.Entry) error
}

// SubscriptionSource looks up and updates local subscription rows.
type SubscriptionSource interface {
	FindSubscriptionByProfile(ctx context.Context, customerID uuid.UUID, profileID string) (*models.Subscription, error)
	UpdateSubscriptionStatus(ctx context.Context, id uuid.UUID, status enums.ProfileStatus) error
}

// Summary reports one worker run.
type Summary struct {
	Processed int
	Succeeded int
	Skipped   int
	Failed    int
	Before    Metrics
	After     Metrics
	Elapsed   time.Duration
}

// Worker drives the queue to completion for one bounded batch run. It is a
// single-threaded cooperative loop; horizontal scale comes from running more
// worker processes, which coordinate only through Queue.Claim.
type Worker struct {
	queue         *Queue
	manager       StatusFetcher
	cache         SnapshotCache
	subscriptions SubscriptionSource
	metrics       *metrics.RefreshMetrics
	log           *logger.Logger
	workerID      string
	batchCap      int
	retryInterval time.Duration
}

// WorkerParams configures the worker.
type WorkerParams struct {
	Queue         *Queue
	Manager       StatusFetcher
	Cache         SnapshotCache
	Subscriptions SubscriptionSource
	Metrics       *metrics.RefreshMetrics
	Logger        *logger.Logger
	// WorkerID defaults to host:pid when empty.
	WorkerID      string
	BatchCap      int
	RetryInterval time.Duration
}

// NewWorker validates the params and builds a Worker.
func NewWorker(params WorkerParams) (*Worker, error) {
	if params.Queue == nil {
		return nil, errors.New("refresh: queue is required")
	}
	if params.Manager == nil {
		return nil, errors.New("refresh: profile manager is required")
	}
	if params.Cache == nil {
		return nil, errors.New("refresh: snapshot cache is required")
	}
	if params.Subscriptions == nil {
		return nil, errors.New("refresh: subscription source is required")
	}
	if params.Logger == nil {
		return nil, errors.New("refresh: logger is required")
	}
	if params.WorkerID == "" {
		params.WorkerID = defaultWorkerID()
	}
	if params.BatchCap <= 0 {
		params.BatchCap = defaultBatchCap
	}
	if params.RetryInterval <= 0 {
		params.RetryInterval = defaultRetryInterval
	}
	return &Worker{
		queue:         params.Queue,
		manager:       params.Manager,
		cache:         params.Cache,
		subscriptions: params.Subscriptions,
		metrics:       params.Metrics,
		log:           params.Logger,
		workerID:      params.WorkerID,
		batchCap:      params.BatchCap,
		retryInterval: params.RetryInterval,
	}, nil
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown-host"
	}
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}

// WorkerID returns the identity used for queue claims.
func (w *Worker) WorkerID() string {
	return w.workerID
}

// Run claims and processes jobs until the queue yields nothing eligible or
// the maxJobs budget is spent. One bad job never aborts the batch; per-job
// errors are aggregated into the returned error.
func (w *Worker) Run(ctx context.Context, maxJobs int) (Summary, error) {
	if maxJobs <= 0 {
		maxJobs = defaultMaxJobs
	}
	batchSize := w.batchCap
	if maxJobs < batchSize {
		batchSize = maxJobs
	}

	start := time.Now()
	var summary Summary
	var runErr error

	if before, err := w.queue.Metrics(ctx); err == nil {
		summary.Before = before
	} else {
		runErr = multierr.Append(runErr, fmt.Errorf("reading queue metrics: %w", err))
	}

	runCtx := w.log.WithField(ctx, "worker_id", w.workerID)
	w.log.Info(w.log.WithFields(runCtx, map[string]any{
		"pending": summary.Before.Pending,
		"locked":  summary.Before.Locked,
		"total":   summary.Before.Total,
	}), "refresh run starting")

	for summary.Processed < maxJobs {
		remaining := maxJobs - summary.Processed
		claimSize := batchSize
		if remaining < claimSize {
			claimSize = remaining
		}
		batch, err := w.queue.Claim(ctx, claimSize, w.workerID)
		if err != nil {
			runErr = multierr.Append(runErr, fmt.Errorf("claiming batch: %w", err))
			break
		}
		if len(batch) == 0 {
			break
		}
		for i := range batch {
			outcome, err := w.processJob(runCtx, &batch[i])
			summary.Processed++
			switch outcome {
			case OutcomeSucceeded:
				summary.Succeeded++
			case OutcomeSkipped:
				summary.Skipped++
			default:
				summary.Failed++
			}
			if err != nil {
				runErr = multierr.Append(runErr, err)
			}
			w.metrics.IncJob(outcome)
		}
	}

	if after, err := w.queue.Metrics(ctx); err == nil {
		summary.After = after
		w.metrics.SetQueueDepth("pending", after.Pending)
		w.metrics.SetQueueDepth("locked", after.Locked)
		w.metrics.SetQueueDepth("dead", after.Dead)
	} else {
		runErr = multierr.Append(runErr, fmt.Errorf("reading queue metrics: %w", err))
	}

	summary.Elapsed = time.Since(start)
	w.metrics.ObserveRunDuration(w.workerID, summary.Elapsed)

	summaryFields := map[string]any{
		"processed":       summary.Processed,
		"succeeded":       summary.Succeeded,
		"skipped":         summary.Skipped,
		"failed":          summary.Failed,
		"pending_after":   summary.After.Pending,
		"locked_after":    summary.After.Locked,
		"dead_after":      summary.After.Dead,
		"elapsed_seconds": summary.Elapsed.Seconds(),
	}
	if summary.After.OldestAvailable != nil {
		summaryFields["oldest_available"] = summary.After.OldestAvailable.Format(time.RFC3339)
	}
	w.log.Info(w.log.WithFields(runCtx, summaryFields), "refresh run finished")

	return summary, runErr
}

// processJob resolves one claimed job to an outcome. Every failure path
// resolves the job via Fail so a crash is never required to release a claim.
func (w *Worker) processJob(ctx context.Context, job *models.RefreshJob) (string, error) {
	jobStart := time.Now()
	ctx = w.log.WithFields(ctx, map[string]any{
		"job_id":      job.ID.String(),
		"customer_id": job.CustomerID.String(),
	})
	ctx = w.log.WithProfileID(ctx, job.ProfileID)

	payload, err := DecodeJobContext(job)
	if err != nil {
		// A corrupt payload is a local fault, not a verdict on the profile;
		// requeue rather than crash or drop.
		wrapped := fmt.Errorf("job %s carries malformed context: %w", job.ID, err)
		w.failJob(ctx, job, wrapped.Error(), 0)
		return OutcomeFailed, wrapped
	}
	if trigger, ok := payload["trigger"].(string); ok && trigger != "" {
		ctx = w.log.WithField(ctx, "trigger", trigger)
	}

	sub, err := w.subscriptions.FindSubscriptionByProfile(ctx, job.CustomerID, job.ProfileID)
	if err != nil {
		wrapped := fmt.Errorf("looking up subscription for job %s: %w", job.ID, err)
		w.failJob(ctx, job, wrapped.Error(), 0)
		return OutcomeFailed, wrapped
	}
	if sub == nil {
		// The subscription is gone locally; retrying can never help.
		released, err := w.queue.Complete(ctx, job.ID, w.workerID)
		if err != nil {
			return OutcomeFailed, fmt.Errorf("completing skipped job %s: %w", job.ID, err)
		}
		if !released {
			w.log.Warn(ctx, "claim lease lost before completion; job owned elsewhere")
		}
		w.log.Info(w.log.WithField(ctx, "elapsed_seconds", time.Since(jobStart).Seconds()),
			"job skipped: subscription no longer exists")
		return OutcomeSkipped, nil
	}

	result := w.manager.GetStatus(ctx, sub)
	if !result.Success {
		w.failJob(ctx, job, result.Message, result.RetryAfter)
		w.log.Warn(w.log.WithFields(ctx, map[string]any{
			"cause":           result.Message,
			"retryable":       result.Retryable,
			"elapsed_seconds": time.Since(jobStart).Seconds(),
		}), "job failed: status refresh unsuccessful")
		return OutcomeFailed, nil
	}

	if err := w.cache.Put(ctx, profiles.Entry{
		CustomerID: sub.CustomerID.String(),
		ProfileID:  sub.ProfileID,
		Status:     result.Status,
		Source:     result.Source,
		Snapshot:   result.Profile,
	}); err != nil {
		// The fresh status still lands on the row; the cache self-heals on
		// the next successful refresh.
		w.log.Warn(w.log.WithField(ctx, "cause", err.Error()), "snapshot cache write failed")
	}

	if err := w.subscriptions.UpdateSubscriptionStatus(ctx, sub.ID, result.Status); err != nil {
		wrapped := fmt.Errorf("persisting status for job %s: %w", job.ID, err)
		w.failJob(ctx, job, wrapped.Error(), 0)
		return OutcomeFailed, wrapped
	}

	released, err := w.queue.Complete(ctx, job.ID, w.workerID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	if !released {
		// The refreshed status already landed on the row; losing the lease
		// only means another worker will refresh again.
		w.log.Warn(ctx, "claim lease lost before completion; job owned elsewhere")
	}
	w.log.Info(w.log.WithFields(ctx, map[string]any{
		"status":          result.Status.String(),
		"source":          result.Source.String(),
		"elapsed_seconds": time.Since(jobStart).Seconds(),
	}), "job refreshed")
	return OutcomeSucceeded, nil
}

func (w *Worker) failJob(ctx context.Context, job *models.RefreshJob, cause string, retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = w.retryInterval
	}
	released, err := w.queue.Fail(ctx, job.ID, w.workerID, cause, retryAfter)
	if err != nil {
		w.log.Error(ctx, "marking job failed", err)
		return
	}
	if !released {
		w.log.Warn(ctx, "claim lease lost before failure recorded; job owned elsewhere")
	}
}

// DecodeJobContext extracts the optional opaque payload carried by a job.
func DecodeJobContext(job *models.RefreshJob) (map[string]any, error) {
	if job == nil || len(job.Context) == 0 {
		return nil, nil
	}
	var payload map[string]any
	if err := json.Unmarshal(job.Context, &payload); err != nil {
		return nil, fmt.Errorf("decoding job context: %w", err)
	}
	return payload, nil
}
