package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/storefrontlabs/billing-sync/pkg/db"
	"github.com/storefrontlabs/billing-sync/pkg/db/models"
	"github.com/storefrontlabs/billing-sync/pkg/enums"
)

const (
	defaultLockLease     = 15 * time.Minute
	defaultMaxAttempts   = 10
	defaultRetryInterval = 300 * time.Second

	// lastErrorLimit keeps oversized backend messages out of the row.
	lastErrorLimit = 500
)

// Queue is the durable refresh-job queue. Concurrent workers coordinate
// solely through Claim; every mutation is a single conditional statement so
// no two workers can ever believe they hold the same job.
type Queue struct {
	db            *gorm.DB
	lockLease     time.Duration
	maxAttempts   int
	retryInterval time.Duration
}

// QueueParams configures the queue.
type QueueParams struct {
	DB *gorm.DB
	// LockLease bounds how long a crashed worker's claim survives before
	// Claim may hand the job to someone else.
	LockLease     time.Duration
	MaxAttempts   int
	RetryInterval time.Duration
}

// Metrics is the read-only aggregate exposed for observability.
type Metrics struct {
	Pending         int64
	Locked          int64
	Dead            int64
	Total           int64
	OldestAvailable *time.Time
}

// NewQueue builds a queue over the provided database handle.
func NewQueue(params QueueParams) (*Queue, error) {
	if params.DB == nil {
		return nil, errors.New("refresh: database handle is required")
	}
	if params.LockLease <= 0 {
		params.LockLease = defaultLockLease
	}
	if params.MaxAttempts <= 0 {
		params.MaxAttempts = defaultMaxAttempts
	}
	if params.RetryInterval <= 0 {
		params.RetryInterval = defaultRetryInterval
	}
	return &Queue{
		db:            params.DB,
		lockLease:     params.LockLease,
		maxAttempts:   params.MaxAttempts,
		retryInterval: params.RetryInterval,
	}, nil
}

// liveJobIndex guards the one-live-job-per-profile invariant at the store;
// AutoMigrate cannot express partial indexes, so EnsureSchema creates it by
// hand. The SQL migration carries the same index for production.
const liveJobIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_refresh_jobs_live_profile
ON refresh_jobs (profile_id) WHERE state IN ('pending', 'locked')`

// EnsureSchema idempotently creates the backing table and its indexes.
func (q *Queue) EnsureSchema(ctx context.Context) error {
	if err := q.db.WithContext(ctx).AutoMigrate(&models.RefreshJob{}); err != nil {
		return err
	}
	return q.db.WithContext(ctx).Exec(liveJobIndex).Error
}

// Enqueue schedules a refresh for the profile. At most one live (pending or
// locked) job exists per profile; enqueueing against a live job returns the
// existing one.
func (q *Queue) Enqueue(ctx context.Context, customerID uuid.UUID, profileID string, jobContext json.RawMessage) (*models.RefreshJob, error) {
	if profileID == "" {
		return nil, errors.New("refresh: profile id is required")
	}
	if existing, err := q.liveJob(ctx, profileID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	return q.insertJob(ctx, &models.RefreshJob{
		ID:          uuid.New(),
		CustomerID:  customerID,
		ProfileID:   profileID,
		Context:     jobContext,
		State:       enums.RefreshJobStatePending,
		AvailableAt: time.Now().UTC(),
	})
}

// insertJob creates the row, falling back to the existing live job when a
// concurrent Enqueue won the race and the unique live-job index rejected ours.
func (q *Queue) insertJob(ctx context.Context, job *models.RefreshJob) (*models.RefreshJob, error) {
	err := q.db.WithContext(ctx).Create(job).Error
	if err == nil {
		return job, nil
	}
	if db.IsUniqueViolation(err, "") {
		existing, liveErr := q.liveJob(ctx, job.ProfileID)
		if liveErr == nil && existing != nil {
			return existing, nil
		}
	}
	return nil, fmt.Errorf("enqueue refresh job: %w", err)
}

func (q *Queue) liveJob(ctx context.Context, profileID string) (*models.RefreshJob, error) {
	var job models.RefreshJob
	err := q.db.WithContext(ctx).
		Where("profile_id = ? AND state IN ?", profileID, []enums.RefreshJobState{
			enums.RefreshJobStatePending,
			enums.RefreshJobStateLocked,
		}).
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Claim atomically moves up to batchSize eligible jobs to locked under the
// worker's name and returns them. Eligible means pending with available_at
// due, or locked with a lease that expired. Each job is taken with one
// conditional UPDATE checked for affected rows, so a job is returned to at
// most one concurrent caller.
func (q *Queue) Claim(ctx context.Context, batchSize int, workerID string) ([]models.RefreshJob, error) {
	if batchSize <= 0 {
		return nil, nil
	}
	if workerID == "" {
		return nil, errors.New("refresh: worker id is required")
	}
	now := time.Now().UTC()
	leaseCutoff := now.Add(-q.lockLease)

	var candidateIDs []uuid.UUID
	err := q.db.WithContext(ctx).
		Model(&models.RefreshJob{}).
		Where("(state = ? AND available_at <= ?) OR (state = ? AND locked_at < ?)",
			enums.RefreshJobStatePending, now,
			enums.RefreshJobStateLocked, leaseCutoff).
		Order("available_at ASC").
		Limit(batchSize).
		Pluck("id", &candidateIDs).Error
	if err != nil {
		return nil, fmt.Errorf("selecting claim candidates: %w", err)
	}
	if len(candidateIDs) == 0 {
		return nil, nil
	}

	claimed := make([]uuid.UUID, 0, len(candidateIDs))
	for _, id := range candidateIDs {
		res := q.db.WithContext(ctx).
			Model(&models.RefreshJob{}).
			Where("id = ? AND ((state = ? AND available_at <= ?) OR (state = ? AND locked_at < ?))",
				id,
				enums.RefreshJobStatePending, now,
				enums.RefreshJobStateLocked, leaseCutoff).
			Updates(map[string]any{
				"state":     enums.RefreshJobStateLocked,
				"locked_by": workerID,
				"locked_at": now,
			})
		if res.Error != nil {
			return nil, fmt.Errorf("claiming job %s: %w", id, res.Error)
		}
		// Zero rows means another worker won the race for this job.
		if res.RowsAffected == 1 {
			claimed = append(claimed, id)
		}
	}
	if len(claimed) == 0 {
		return nil, nil
	}

	var jobs []models.RefreshJob
	if err := q.db.WithContext(ctx).
		Where("id IN ? AND locked_by = ?", claimed, workerID).
		Order("available_at ASC").
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("loading claimed jobs: %w", err)
	}
	return jobs, nil
}

// Complete marks the job done and releases its lock. The mutation is fenced
// on the lock owner: a worker whose lease expired and was reclaimed cannot
// release the new owner's claim. Returns false when the caller no longer owns
// the job, which also makes a repeated Complete a no-op.
func (q *Queue) Complete(ctx context.Context, jobID uuid.UUID, workerID string) (bool, error) {
	res := q.db.WithContext(ctx).
		Model(&models.RefreshJob{}).
		Where("id = ? AND state = ? AND locked_by = ?", jobID, enums.RefreshJobStateLocked, workerID).
		Updates(map[string]any{
			"state":     enums.RefreshJobStateDone,
			"locked_by": nil,
			"locked_at": nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Fail returns a locked job to pending with backoff, incrementing attempts
// and recording the error. A job whose attempts reach the ceiling moves to
// dead instead and is never claimed again without operator action. Like
// Complete, the mutation is fenced on the lock owner; returns false when the
// caller's lease was reclaimed and the job now belongs to someone else.
func (q *Queue) Fail(ctx context.Context, jobID uuid.UUID, workerID string, cause string, retryAfter time.Duration) (bool, error) {
	if retryAfter <= 0 {
		retryAfter = q.retryInterval
	}
	if len(cause) > lastErrorLimit {
		cause = cause[:lastErrorLimit]
	}
	now := time.Now().UTC()
	res := q.db.WithContext(ctx).
		Model(&models.RefreshJob{}).
		Where("id = ? AND state = ? AND locked_by = ?", jobID, enums.RefreshJobStateLocked, workerID).
		Updates(map[string]any{
			"state": gorm.Expr("CASE WHEN attempts + 1 >= ? THEN ? ELSE ? END",
				q.maxAttempts, enums.RefreshJobStateDead, enums.RefreshJobStatePending),
			"attempts":     gorm.Expr("attempts + 1"),
			"available_at": now.Add(retryAfter),
			"last_error":   cause,
			"locked_by":    nil,
			"locked_at":    nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// RequeueDead flips every dead job back to pending with a fresh attempt
// budget. Intended for operator use after the underlying fault is fixed.
func (q *Queue) RequeueDead(ctx context.Context) (int64, error) {
	res := q.db.WithContext(ctx).
		Model(&models.RefreshJob{}).
		Where("state = ?", enums.RefreshJobStateDead).
		Updates(map[string]any{
			"state":        enums.RefreshJobStatePending,
			"attempts":     0,
			"available_at": time.Now().UTC(),
			"last_error":   nil,
		})
	return res.RowsAffected, res.Error
}

// Metrics returns queue depth per state plus the oldest pending timestamp.
func (q *Queue) Metrics(ctx context.Context) (Metrics, error) {
	var metrics Metrics
	counts := []struct {
		state  enums.RefreshJobState
		target *int64
	}{
		{enums.RefreshJobStatePending, &metrics.Pending},
		{enums.RefreshJobStateLocked, &metrics.Locked},
		{enums.RefreshJobStateDead, &metrics.Dead},
	}
	for _, count := range counts {
		if err := q.db.WithContext(ctx).
			Model(&models.RefreshJob{}).
			Where("state = ?", count.state).
			Count(count.target).Error; err != nil {
			return Metrics{}, err
		}
	}
	if err := q.db.WithContext(ctx).
		Model(&models.RefreshJob{}).
		Count(&metrics.Total).Error; err != nil {
		return Metrics{}, err
	}

	var oldest models.RefreshJob
	err := q.db.WithContext(ctx).
		Where("state = ?", enums.RefreshJobStatePending).
		Order("available_at ASC").
		First(&oldest).Error
	if err == nil {
		at := oldest.AvailableAt
		metrics.OldestAvailable = &at
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Metrics{}, err
	}
	return metrics, nil
}
