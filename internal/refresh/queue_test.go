package refresh

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/storefrontlabs/billing-sync/pkg/db/models"
	"github.com/storefrontlabs/billing-sync/pkg/enums"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	// A single connection keeps the in-memory database alive and serializes
	// access; claim exclusivity is enforced by the conditional UPDATE, not
	// by connection count.
	sqlDB.SetMaxOpenConns(1)
	return conn
}

func testQueue(t *testing.T, params QueueParams) (*Queue, *gorm.DB) {
	t.Helper()
	conn := testDB(t)
	params.DB = conn
	queue, err := NewQueue(params)
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	if err := queue.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return queue, conn
}

func enqueueN(t *testing.T, queue *Queue, n int) []uuid.UUID {
	t.Helper()
	ids := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		job, err := queue.Enqueue(context.Background(), uuid.New(), fmt.Sprintf("I-PROF%04d", i), nil)
		if err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
		ids = append(ids, job.ID)
	}
	return ids
}

func TestClaimExclusivity(t *testing.T) {
	queue, _ := testQueue(t, QueueParams{})
	const jobs = 25
	const claimers = 8
	enqueueN(t, queue, jobs)

	var mu sync.Mutex
	seen := map[uuid.UUID]int{}
	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			workerID := fmt.Sprintf("test-host:%d", worker)
			for {
				batch, err := queue.Claim(context.Background(), 5, workerID)
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				if len(batch) == 0 {
					return
				}
				mu.Lock()
				for _, job := range batch {
					seen[job.ID]++
				}
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if len(seen) != jobs {
		t.Fatalf("expected %d distinct claimed jobs, got %d", jobs, len(seen))
	}
	for id, count := range seen {
		if count != 1 {
			t.Fatalf("job %s claimed %d times", id, count)
		}
	}
}

func TestFailBacksOffAndIncrementsAttempts(t *testing.T) {
	queue, conn := testQueue(t, QueueParams{})
	job, err := queue.Enqueue(context.Background(), uuid.New(), "I-BACKOFF", nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	claimed, err := queue.Claim(context.Background(), 10, "worker-a")
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim: %v (%d jobs)", err, len(claimed))
	}

	before := time.Now().UTC()
	released, err := queue.Fail(context.Background(), job.ID, "worker-a", "gateway timeout", 60*time.Second)
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if !released {
		t.Fatal("owner's fail must release the job")
	}

	var reloaded models.RefreshJob
	if err := conn.First(&reloaded, "id = ?", job.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.State != enums.RefreshJobStatePending {
		t.Fatalf("expected pending after fail, got %s", reloaded.State)
	}
	if reloaded.Attempts != 1 {
		t.Fatalf("expected attempts=1, got %d", reloaded.Attempts)
	}
	if reloaded.LastError == nil || *reloaded.LastError != "gateway timeout" {
		t.Fatalf("expected last_error recorded, got %v", reloaded.LastError)
	}
	if reloaded.AvailableAt.Before(before.Add(60 * time.Second)) {
		t.Fatalf("available_at %s not pushed past the backoff window", reloaded.AvailableAt)
	}

	batch, err := queue.Claim(context.Background(), 10, "worker-b")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(batch) != 0 {
		t.Fatalf("backed-off job must not be claimable, got %d", len(batch))
	}
}

func TestCompleteIsIdempotent(t *testing.T) {
	queue, conn := testQueue(t, QueueParams{})
	job, err := queue.Enqueue(context.Background(), uuid.New(), "I-DONE", nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := queue.Claim(context.Background(), 1, "worker-a"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	released, err := queue.Complete(context.Background(), job.ID, "worker-a")
	if err != nil {
		t.Fatalf("first complete: %v", err)
	}
	if !released {
		t.Fatal("owner's complete must release the job")
	}
	released, err = queue.Complete(context.Background(), job.ID, "worker-a")
	if err != nil {
		t.Fatalf("second complete: %v", err)
	}
	if released {
		t.Fatal("repeated complete must be a no-op")
	}

	var reloaded models.RefreshJob
	if err := conn.First(&reloaded, "id = ?", job.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.State != enums.RefreshJobStateDone {
		t.Fatalf("expected done, got %s", reloaded.State)
	}
	if reloaded.LockedBy != nil {
		t.Fatal("lock must be released on completion")
	}
}

func TestFailMovesToDeadAtAttemptCeiling(t *testing.T) {
	queue, conn := testQueue(t, QueueParams{MaxAttempts: 2})
	job, err := queue.Enqueue(context.Background(), uuid.New(), "I-DOOMED", nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	for attempt := 1; attempt <= 2; attempt++ {
		// Reset availability so the retry is immediately claimable.
		if err := conn.Model(&models.RefreshJob{}).
			Where("id = ?", job.ID).
			Update("available_at", time.Now().UTC().Add(-time.Second)).Error; err != nil {
			t.Fatalf("reset available_at: %v", err)
		}
		claimed, err := queue.Claim(context.Background(), 1, "worker-a")
		if err != nil || len(claimed) != 1 {
			t.Fatalf("claim attempt %d: %v (%d jobs)", attempt, err, len(claimed))
		}
		if _, err := queue.Fail(context.Background(), job.ID, "worker-a", "still broken", time.Second); err != nil {
			t.Fatalf("fail attempt %d: %v", attempt, err)
		}
	}

	var reloaded models.RefreshJob
	if err := conn.First(&reloaded, "id = ?", job.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.State != enums.RefreshJobStateDead {
		t.Fatalf("expected dead after %d attempts, got %s", reloaded.Attempts, reloaded.State)
	}

	requeued, err := queue.RequeueDead(context.Background())
	if err != nil {
		t.Fatalf("requeue dead: %v", err)
	}
	if requeued != 1 {
		t.Fatalf("expected 1 requeued job, got %d", requeued)
	}
	if err := conn.First(&reloaded, "id = ?", job.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.State != enums.RefreshJobStatePending || reloaded.Attempts != 0 {
		t.Fatalf("expected pending with reset attempts, got %s/%d", reloaded.State, reloaded.Attempts)
	}
}

func TestEnqueueDedupesLiveJobs(t *testing.T) {
	queue, _ := testQueue(t, QueueParams{})
	payload := json.RawMessage(`{"trigger":"lifecycle"}`)

	first, err := queue.Enqueue(context.Background(), uuid.New(), "I-ONCE", payload)
	if err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	second, err := queue.Enqueue(context.Background(), first.CustomerID, "I-ONCE", payload)
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if first.ID != second.ID {
		t.Fatal("expected enqueue against a live job to return the existing job")
	}

	if _, err := queue.Claim(context.Background(), 1, "worker-a"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := queue.Complete(context.Background(), first.ID, "worker-a"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	third, err := queue.Enqueue(context.Background(), first.CustomerID, "I-ONCE", payload)
	if err != nil {
		t.Fatalf("third enqueue: %v", err)
	}
	if third.ID == first.ID {
		t.Fatal("completed job must not block a fresh enqueue")
	}
}

func TestClaimReclaimsExpiredLease(t *testing.T) {
	queue, conn := testQueue(t, QueueParams{LockLease: time.Minute})
	job, err := queue.Enqueue(context.Background(), uuid.New(), "I-ORPHAN", nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	claimed, err := queue.Claim(context.Background(), 1, "worker-crashed")
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim: %v (%d jobs)", err, len(claimed))
	}

	// Fresh lock is honored.
	batch, err := queue.Claim(context.Background(), 1, "worker-b")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(batch) != 0 {
		t.Fatal("live lock must not be reclaimable")
	}

	staleLock := time.Now().UTC().Add(-2 * time.Minute)
	if err := conn.Model(&models.RefreshJob{}).
		Where("id = ?", job.ID).
		Update("locked_at", staleLock).Error; err != nil {
		t.Fatalf("age lock: %v", err)
	}

	batch, err = queue.Claim(context.Background(), 1, "worker-b")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(batch) != 1 || batch[0].ID != job.ID {
		t.Fatalf("expected expired lease reclaimed, got %d jobs", len(batch))
	}
	if batch[0].LockedBy == nil || *batch[0].LockedBy != "worker-b" {
		t.Fatalf("expected new owner worker-b, got %v", batch[0].LockedBy)
	}
}

func TestStaleWorkerCannotReleaseReclaimedJob(t *testing.T) {
	queue, conn := testQueue(t, QueueParams{LockLease: time.Minute})
	job, err := queue.Enqueue(context.Background(), uuid.New(), "I-SLOWPOKE", nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	claimed, err := queue.Claim(context.Background(), 1, "worker-slow")
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim: %v (%d jobs)", err, len(claimed))
	}

	// worker-slow stalls past its lease and worker-b reclaims the job.
	staleLock := time.Now().UTC().Add(-2 * time.Minute)
	if err := conn.Model(&models.RefreshJob{}).
		Where("id = ?", job.ID).
		Update("locked_at", staleLock).Error; err != nil {
		t.Fatalf("age lock: %v", err)
	}
	reclaimed, err := queue.Claim(context.Background(), 1, "worker-b")
	if err != nil || len(reclaimed) != 1 {
		t.Fatalf("reclaim: %v (%d jobs)", err, len(reclaimed))
	}

	released, err := queue.Fail(context.Background(), job.ID, "worker-slow", "late failure", time.Second)
	if err != nil {
		t.Fatalf("stale fail: %v", err)
	}
	if released {
		t.Fatal("stale worker must not release the new owner's claim")
	}
	released, err = queue.Complete(context.Background(), job.ID, "worker-slow")
	if err != nil {
		t.Fatalf("stale complete: %v", err)
	}
	if released {
		t.Fatal("stale worker must not complete the new owner's claim")
	}

	var reloaded models.RefreshJob
	if err := conn.First(&reloaded, "id = ?", job.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.State != enums.RefreshJobStateLocked {
		t.Fatalf("job must stay locked to the new owner, got %s", reloaded.State)
	}
	if reloaded.LockedBy == nil || *reloaded.LockedBy != "worker-b" {
		t.Fatalf("expected owner worker-b, got %v", reloaded.LockedBy)
	}
	if reloaded.Attempts != 0 {
		t.Fatalf("stale fail must not bump attempts, got %d", reloaded.Attempts)
	}

	released, err = queue.Complete(context.Background(), job.ID, "worker-b")
	if err != nil {
		t.Fatalf("owner complete: %v", err)
	}
	if !released {
		t.Fatal("the reclaiming owner must still be able to complete")
	}
}

func TestEnqueueRecoversFromInsertRace(t *testing.T) {
	queue, _ := testQueue(t, QueueParams{})
	first, err := queue.Enqueue(context.Background(), uuid.New(), "I-RACED", nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// A concurrent Enqueue that passed the live-job check before first
	// committed lands on the unique live-job index; it must come back with
	// the winner's job, not an error.
	loser, err := queue.insertJob(context.Background(), &models.RefreshJob{
		ID:          uuid.New(),
		CustomerID:  first.CustomerID,
		ProfileID:   "I-RACED",
		State:       enums.RefreshJobStatePending,
		AvailableAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("racing insert: %v", err)
	}
	if loser.ID != first.ID {
		t.Fatal("losing racer must receive the existing live job")
	}
}

func TestMetrics(t *testing.T) {
	queue, _ := testQueue(t, QueueParams{})
	enqueueN(t, queue, 3)

	claimed, err := queue.Claim(context.Background(), 1, "worker-a")
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim: %v (%d jobs)", err, len(claimed))
	}

	metrics, err := queue.Metrics(context.Background())
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if metrics.Pending != 2 || metrics.Locked != 1 || metrics.Dead != 0 || metrics.Total != 3 {
		t.Fatalf("unexpected metrics %+v", metrics)
	}
	if metrics.OldestAvailable == nil {
		t.Fatal("expected oldest pending timestamp")
	}
}
