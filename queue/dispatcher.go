package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"soniqfm/config"
	"soniqfm/logger"
	"soniqfm/model"

	"github.com/redis/go-redis/v9"
)

// Runner executes one ingestion job. A non-nil error asks the dispatcher to
// schedule a retry.
type Runner interface {
	Run(ctx context.Context, job model.IngestJob) error
}

// Dispatcher is a Redis-backed at-least-once job queue. Ready jobs live in a
// list consumed by a small worker pool; each worker claims a job with BLMOVE
// into its own processing list and acknowledges it with LREM once the run
// settles, so a crashed worker leaves the job reclaimable. Failed jobs are
// parked in a sorted set scored by their due time and promoted back onto the
// list by a mover goroutine. Backoff grows exponentially with the attempt
// count until the retry budget is exhausted.
type Dispatcher struct {
	rdb        *redis.Client
	runner     Runner
	queueKey   string
	delayedKey string
	workers    int
	maxRetries int
	baseDelay  time.Duration

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewDispatcher creates a Dispatcher; Start must be called to begin
// consuming.
func NewDispatcher(rdb *redis.Client, cfg *config.Config, runner Runner) *Dispatcher {
	return &Dispatcher{
		rdb:        rdb,
		runner:     runner,
		queueKey:   cfg.QueueName + ":jobs",
		delayedKey: cfg.QueueName + ":delayed",
		workers:    cfg.WorkerCount,
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.RetryBaseDelay,
	}
}

// Enqueue submits a job for asynchronous execution. Fire-and-forget from the
// caller's perspective.
func (d *Dispatcher) Enqueue(ctx context.Context, job model.IngestJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := d.rdb.RPush(ctx, d.queueKey, payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job for track %d: %w", job.TrackID, err)
	}
	logger.Info("job enqueued",
		logger.Int64("trackId", job.TrackID),
		logger.Int("attempt", job.Attempt))
	return nil
}

// Start launches the worker pool and the delayed-job mover. Jobs left in a
// processing list by a crashed worker are returned to the queue first.
func (d *Dispatcher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	d.requeueOrphans(ctx)

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}

	d.wg.Add(1)
	go d.moveDelayed(ctx)

	logger.Info("dispatcher started",
		logger.Int("workers", d.workers),
		logger.String("queue", d.queueKey))
}

// Stop shuts down the pool and waits for in-flight jobs to finish. There is
// no cancellation of an individual in-flight transcode: only the consume
// loops are cancelled, a running job always completes and its retry is still
// scheduled.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	logger.Info("dispatcher stopped")
}

func (d *Dispatcher) processingKey(id int) string {
	return fmt.Sprintf("%s:processing:%d", d.queueKey, id)
}

// requeueOrphans returns jobs a crashed worker left behind in its processing
// list to the ready queue.
func (d *Dispatcher) requeueOrphans(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		key := d.processingKey(i)
		for {
			payload, err := d.rdb.LMove(ctx, key, d.queueKey, "LEFT", "RIGHT").Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					logger.Error("failed to requeue orphaned job",
						logger.String("processingKey", key),
						logger.ErrorField(err))
				}
				break
			}
			logger.Warn("requeued orphaned job",
				logger.String("processingKey", key),
				logger.String("payload", payload))
		}
	}
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()

	processingKey := d.processingKey(id)
	for {
		if ctx.Err() != nil {
			return
		}
		payload, err := d.rdb.BLMove(ctx, d.queueKey, processingKey, "LEFT", "RIGHT", 2*time.Second).Result()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			logger.Error("failed to claim job", logger.Int("worker", id), logger.ErrorField(err))
			time.Sleep(time.Second)
			continue
		}

		// The claimed job runs detached from the consume context: Stop must
		// never cancel an in-flight transcode, and the retry bookkeeping
		// below has to land even when shutdown began mid-run.
		jobCtx := context.Background()

		var job model.IngestJob
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			logger.Error("discarding malformed job payload",
				logger.Int("worker", id),
				logger.ErrorField(err))
			d.ack(jobCtx, processingKey, payload)
			continue
		}

		if err := d.runner.Run(jobCtx, job); err != nil {
			if retryErr := d.scheduleRetry(jobCtx, job, err); retryErr != nil {
				// Leave the claim in place; the next Start reclaims it.
				logger.Error("retry not scheduled, leaving job claimed",
					logger.Int64("trackId", job.TrackID),
					logger.ErrorField(retryErr))
				continue
			}
		}
		d.ack(jobCtx, processingKey, payload)
	}
}

// ack removes a settled job from the worker's processing list.
func (d *Dispatcher) ack(ctx context.Context, processingKey, payload string) {
	if err := d.rdb.LRem(ctx, processingKey, 1, payload).Err(); err != nil {
		logger.Error("failed to acknowledge job",
			logger.String("processingKey", processingKey),
			logger.ErrorField(err))
	}
}

// scheduleRetry parks the job in the delayed set with exponential backoff,
// or drops it once the retry budget is exhausted. Exhaustion leaves the
// track in its terminal ERROR state until something re-queues it. A non-nil
// return means the job was neither parked nor dropped.
func (d *Dispatcher) scheduleRetry(ctx context.Context, job model.IngestJob, cause error) error {
	next := job.Attempt + 1
	if next > d.maxRetries {
		logger.Error("retry budget exhausted, job dropped",
			logger.Int64("trackId", job.TrackID),
			logger.Int("attempts", job.Attempt+1),
			logger.ErrorField(cause))
		return nil
	}

	delay := Backoff(d.baseDelay, job.Attempt)
	job.Attempt = next

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal retry job: %w", err)
	}

	due := time.Now().Add(delay)
	if err := d.rdb.ZAdd(ctx, d.delayedKey, redis.Z{
		Score:  float64(due.UnixMilli()),
		Member: payload,
	}).Err(); err != nil {
		return fmt.Errorf("failed to park retry for track %d: %w", job.TrackID, err)
	}

	logger.Warn("retry scheduled",
		logger.Int64("trackId", job.TrackID),
		logger.Int("attempt", next),
		logger.Int("maxRetries", d.maxRetries),
		logger.Duration("delay", delay),
		logger.ErrorField(cause))
	return nil
}

// moveDelayed promotes due jobs from the delayed set back onto the queue.
// ZRem claims each member, so concurrent movers never double-promote.
func (d *Dispatcher) moveDelayed(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := strconv.FormatInt(time.Now().UnixMilli(), 10)
			members, err := d.rdb.ZRangeByScore(ctx, d.delayedKey, &redis.ZRangeBy{
				Min: "-inf",
				Max: now,
			}).Result()
			if err != nil {
				if ctx.Err() == nil {
					logger.Error("failed to scan delayed jobs", logger.ErrorField(err))
				}
				continue
			}

			for _, member := range members {
				removed, err := d.rdb.ZRem(ctx, d.delayedKey, member).Result()
				if err != nil || removed == 0 {
					continue
				}
				if err := d.rdb.RPush(ctx, d.queueKey, member).Err(); err != nil {
					logger.Error("failed to promote delayed job", logger.ErrorField(err))
				}
			}
		}
	}
}

// Backoff computes the delay before the next attempt: base * 2^attempt,
// where attempt counts completed runs.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 16 {
		attempt = 16
	}
	return base * time.Duration(1<<uint(attempt))
}
