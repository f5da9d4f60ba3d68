package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"soniqfm/config"
	"soniqfm/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testDispatcher(t *testing.T, runner Runner) (*Dispatcher, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := &config.Config{
		QueueName:      "testq",
		WorkerCount:    1,
		MaxRetries:     3,
		RetryBaseDelay: time.Minute,
	}
	return NewDispatcher(client, cfg, runner), client
}

func delayedJobs(t *testing.T, client *redis.Client, key string) []model.IngestJob {
	t.Helper()
	members, err := client.ZRangeWithScores(context.Background(), key, 0, -1).Result()
	if err != nil {
		t.Fatalf("failed to read delayed set: %v", err)
	}
	jobs := make([]model.IngestJob, 0, len(members))
	for _, m := range members {
		var job model.IngestJob
		if err := json.Unmarshal([]byte(m.Member.(string)), &job); err != nil {
			t.Fatalf("malformed delayed payload: %v", err)
		}
		jobs = append(jobs, job)
	}
	return jobs
}

func TestBackoff(t *testing.T) {
	base := time.Minute

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Minute},
		{1, 2 * time.Minute},
		{2, 4 * time.Minute},
		{3, 8 * time.Minute},
		{-1, time.Minute},
	}

	for _, tt := range tests {
		if got := Backoff(base, tt.attempt); got != tt.want {
			t.Errorf("Backoff(%v, %d) = %v, want %v", base, tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffCapped(t *testing.T) {
	// Huge attempt counts must not overflow into negative durations.
	if got := Backoff(time.Second, 1000); got <= 0 {
		t.Errorf("Backoff overflowed: %v", got)
	}
}

// blockingRunner holds the job until released, recording what the job's
// context looked like at that point.
type blockingRunner struct {
	started chan struct{}
	release chan struct{}
	ctxErr  error
}

func (r *blockingRunner) Run(ctx context.Context, job model.IngestJob) error {
	close(r.started)
	<-r.release
	r.ctxErr = ctx.Err()
	return errors.New("transcode failed")
}

type recordingRunner struct {
	ran chan model.IngestJob
}

func (r *recordingRunner) Run(ctx context.Context, job model.IngestJob) error {
	r.ran <- job
	return nil
}

func TestScheduleRetryParksWithBackoff(t *testing.T) {
	d, client := testDispatcher(t, nil)
	job := model.IngestJob{TrackID: 7, InputPath: "/tmp/x.mp3", OutputFormat: "HLS", Attempt: 1}

	before := time.Now()
	if err := d.scheduleRetry(context.Background(), job, errors.New("transcode failed")); err != nil {
		t.Fatalf("scheduleRetry failed: %v", err)
	}

	members, err := client.ZRangeWithScores(context.Background(), d.delayedKey, 0, -1).Result()
	if err != nil {
		t.Fatalf("failed to read delayed set: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("expected 1 parked job, got %d", len(members))
	}

	var parked model.IngestJob
	if err := json.Unmarshal([]byte(members[0].Member.(string)), &parked); err != nil {
		t.Fatalf("malformed parked payload: %v", err)
	}
	if parked.Attempt != 2 {
		t.Errorf("expected attempt 2, got %d", parked.Attempt)
	}

	// Attempt 1 with a one-minute base delays two minutes.
	wantDue := before.Add(2 * time.Minute)
	score := int64(members[0].Score)
	if score < wantDue.UnixMilli() || score > wantDue.Add(5*time.Second).UnixMilli() {
		t.Errorf("unexpected due time: score %d, want about %d", score, wantDue.UnixMilli())
	}
}

func TestScheduleRetryExhaustionDropsJob(t *testing.T) {
	d, client := testDispatcher(t, nil)
	job := model.IngestJob{TrackID: 8, InputPath: "/tmp/x.mp3", OutputFormat: "HLS", Attempt: 3}

	if err := d.scheduleRetry(context.Background(), job, errors.New("transcode failed")); err != nil {
		t.Fatalf("exhaustion must not be an error: %v", err)
	}
	if parked := delayedJobs(t, client, d.delayedKey); len(parked) != 0 {
		t.Errorf("exhausted job must not be parked, got %+v", parked)
	}
}

// TestStopWaitsForInFlightJob pins down the shutdown contract: Stop only
// cancels the consume loops, a job already claimed runs to completion on an
// uncancelled context and its retry is still parked.
func TestStopWaitsForInFlightJob(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{}), release: make(chan struct{})}
	d, client := testDispatcher(t, runner)
	ctx := context.Background()

	job := model.IngestJob{TrackID: 5, InputPath: "/tmp/a.mp3", OutputFormat: "HLS"}
	if err := d.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	d.Start()
	select {
	case <-runner.started:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never claimed the job")
	}

	stopped := make(chan struct{})
	go func() {
		d.Stop()
		close(stopped)
	}()
	// Give Stop time to cancel the consume loops while the job is running.
	time.Sleep(100 * time.Millisecond)
	close(runner.release)

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the job settled")
	}

	if runner.ctxErr != nil {
		t.Errorf("in-flight job context cancelled during shutdown: %v", runner.ctxErr)
	}

	parked := delayedJobs(t, client, d.delayedKey)
	if len(parked) != 1 || parked[0].Attempt != 1 {
		t.Fatalf("failed job must be parked for retry across shutdown, got %+v", parked)
	}
	if n, _ := client.LLen(ctx, d.queueKey).Result(); n != 0 {
		t.Errorf("ready queue not empty: %d", n)
	}
	if n, _ := client.LLen(ctx, d.processingKey(0)).Result(); n != 0 {
		t.Errorf("processing list not acknowledged: %d", n)
	}
}

func TestWorkerAcknowledgesSuccessfulJob(t *testing.T) {
	runner := &recordingRunner{ran: make(chan model.IngestJob, 1)}
	d, client := testDispatcher(t, runner)
	ctx := context.Background()

	job := model.IngestJob{TrackID: 6, InputPath: "/tmp/b.mp3", OutputFormat: "DASH"}
	if err := d.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	d.Start()
	select {
	case got := <-runner.ran:
		if got != job {
			t.Errorf("worker ran wrong job: %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker never ran the job")
	}
	d.Stop()

	if n, _ := client.LLen(ctx, d.processingKey(0)).Result(); n != 0 {
		t.Errorf("successful job left in processing list: %d", n)
	}
	if parked := delayedJobs(t, client, d.delayedKey); len(parked) != 0 {
		t.Errorf("successful job must not be parked, got %+v", parked)
	}
}

func TestRequeueOrphans(t *testing.T) {
	d, client := testDispatcher(t, nil)
	ctx := context.Background()

	payload, err := json.Marshal(model.IngestJob{TrackID: 9, InputPath: "/tmp/c.mp3", OutputFormat: "HLS", Attempt: 1})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if err := client.RPush(ctx, d.processingKey(0), payload).Err(); err != nil {
		t.Fatalf("failed to seed processing list: %v", err)
	}

	d.requeueOrphans(ctx)

	if n, _ := client.LLen(ctx, d.processingKey(0)).Result(); n != 0 {
		t.Errorf("processing list not drained: %d", n)
	}
	got, err := client.LRange(ctx, d.queueKey, 0, -1).Result()
	if err != nil || len(got) != 1 || got[0] != string(payload) {
		t.Errorf("orphan not returned to queue: %v (%v)", got, err)
	}
}

func TestJobPayloadRoundTrip(t *testing.T) {
	job := model.IngestJob{
		TrackID:      42,
		InputPath:    "/tmp/uploads/abc.mp3",
		OutputFormat: "HLS",
		Attempt:      2,
	}

	data, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded model.IngestJob
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded != job {
		t.Errorf("round trip mismatch: %+v != %+v", decoded, job)
	}
}
