package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"footyai/internal/util"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

const (
	streamMaxLen = 10000
	readCount    = 10
	claimCount   = 10
)

// ArchiveJob tracks one transcript archival request through the queue.
type ArchiveJob struct {
	ID           string    `json:"id"`
	TranscriptID string    `json:"transcriptId"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ArchiveQueue is a Redis Streams work queue for transcript archival.
// Jobs are delivered at least once; stalled deliveries are reclaimed
// after ClaimIdle and retried up to MaxRetries times.
type ArchiveQueue struct {
	client       *redis.Client
	stream       string
	group        string
	consumerBase string
	jobTTL       time.Duration
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	once         sync.Once
}

// ArchiveQueueConfig configures an ArchiveQueue. Zero values fall back to
// working defaults.
type ArchiveQueueConfig struct {
	Addr       string
	Password   string
	Stream     string
	Group      string
	Consumer   string
	JobTTL     time.Duration
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
}

// NewArchiveQueue validates the config and connects to Redis.
func NewArchiveQueue(cfg ArchiveQueueConfig) (*ArchiveQueue, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "footyai:archive"
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "archivers"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = util.NewID()
	}
	q := &ArchiveQueue{
		client:       redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		jobTTL:       cfg.JobTTL,
		maxRetries:   cfg.MaxRetries,
		block:        cfg.Block,
		claimIdle:    cfg.ClaimIdle,
		retryDelay:   cfg.RetryDelay,
	}
	if q.jobTTL <= 0 {
		q.jobTTL = 24 * time.Hour
	}
	if q.maxRetries <= 0 {
		q.maxRetries = 3
	}
	if q.block <= 0 {
		q.block = 5 * time.Second
	}
	if q.claimIdle <= 0 {
		q.claimIdle = 30 * time.Second
	}
	if q.retryDelay <= 0 {
		q.retryDelay = 2 * time.Second
	}
	return q, nil
}

// Enqueue records a new archival job for a transcript and publishes it.
func (q *ArchiveQueue) Enqueue(ctx context.Context, transcriptID string) (ArchiveJob, error) {
	transcriptID = strings.TrimSpace(transcriptID)
	if transcriptID == "" {
		return ArchiveJob{}, errors.New("transcriptId required")
	}
	now := time.Now().UTC()
	job := ArchiveJob{
		ID:           util.NewID(),
		TranscriptID: transcriptID,
		Status:       StatusQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := q.writeStatus(ctx, job); err != nil {
		return ArchiveJob{}, err
	}
	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{
			"job_id":        job.ID,
			"transcript_id": job.TranscriptID,
		},
	}).Err(); err != nil {
		return ArchiveJob{}, err
	}
	return job, nil
}

// GetJob looks up a job status record.
func (q *ArchiveQueue) GetJob(ctx context.Context, jobID string) (ArchiveJob, bool, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return ArchiveJob{}, false, nil
	}
	data, err := q.client.HGetAll(ctx, q.jobKey(jobID)).Result()
	if err != nil {
		return ArchiveJob{}, false, err
	}
	if len(data) == 0 {
		return ArchiveJob{}, false, nil
	}
	return decodeArchiveJob(jobID, data), true, nil
}

// Start launches concurrency consumer loops that run until ctx is done.
func (q *ArchiveQueue) Start(ctx context.Context, concurrency int, handler func(context.Context, ArchiveJob) error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	q.ensureGroup(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		go q.consumeLoop(ctx, consumer, handler)
	}
}

// Consume runs one blocking consumer loop until ctx is done.
func (q *ArchiveQueue) Consume(ctx context.Context, consumer string, handler func(context.Context, ArchiveJob) error) {
	q.ensureGroup(ctx)
	if strings.TrimSpace(consumer) == "" {
		consumer = q.consumerBase
	}
	q.consumeLoop(ctx, consumer, handler)
}

func (q *ArchiveQueue) ensureGroup(ctx context.Context) {
	q.once.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			slog.Warn("consumer group create failed", "stream", q.stream, "group", q.group, "err", err)
		}
	})
}

func (q *ArchiveQueue) consumeLoop(ctx context.Context, consumer string, handler func(context.Context, ArchiveJob) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if msgs, err := q.claimStalled(ctx, consumer); err == nil {
			for _, msg := range msgs {
				q.handleMessage(ctx, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    readCount,
			Block:    q.block,
		}).Result()
		if err != nil {
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (q *ArchiveQueue) claimStalled(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    claimCount,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (q *ArchiveQueue) handleMessage(ctx context.Context, msg redis.XMessage, handler func(context.Context, ArchiveJob) error) {
	jobID, _ := msg.Values["job_id"].(string)
	transcriptID, _ := msg.Values["transcript_id"].(string)
	if jobID == "" || transcriptID == "" {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	job, err := q.markProcessing(ctx, jobID, transcriptID)
	if err != nil {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	if err := handler(ctx, job); err == nil {
		_ = q.setStatus(ctx, jobID, StatusDone, "")
		q.ackAndDel(ctx, msg.ID)
		return
	} else if job.Attempts >= q.maxRetries {
		_ = q.setStatus(ctx, jobID, StatusFailed, err.Error())
		q.ackAndDel(ctx, msg.ID)
		return
	} else {
		_ = q.setStatus(ctx, jobID, StatusQueued, err.Error())
	}
	select {
	case <-ctx.Done():
		return
	case <-time.After(q.retryDelay):
	}
	_ = q.requeueAndAck(ctx, msg.ID, jobID, transcriptID)
}

func (q *ArchiveQueue) ackAndDel(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}

// requeueAndAck re-publishes and acknowledges atomically so a crash never
// drops the job: either the old delivery stays pending or the new one exists.
func (q *ArchiveQueue) requeueAndAck(ctx context.Context, msgID, jobID, transcriptID string) error {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{
			"job_id":        jobID,
			"transcript_id": transcriptID,
		},
	})
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *ArchiveQueue) markProcessing(ctx context.Context, jobID, transcriptID string) (ArchiveJob, error) {
	job, _, err := q.GetJob(ctx, jobID)
	if err != nil {
		return ArchiveJob{}, err
	}
	if job.ID == "" {
		job = ArchiveJob{ID: jobID}
	}
	if transcriptID != "" {
		job.TranscriptID = transcriptID
	}
	job.Attempts++
	job.Status = StatusProcessing
	job.UpdatedAt = time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = job.UpdatedAt
	}
	if err := q.writeStatus(ctx, job); err != nil {
		return ArchiveJob{}, err
	}
	return job, nil
}

func (q *ArchiveQueue) setStatus(ctx context.Context, jobID, status, errMsg string) error {
	job, _, err := q.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.ID == "" {
		job = ArchiveJob{ID: jobID, CreatedAt: time.Now().UTC()}
	}
	job.Status = status
	job.ErrorMessage = errMsg
	job.UpdatedAt = time.Now().UTC()
	return q.writeStatus(ctx, job)
}

func (q *ArchiveQueue) writeStatus(ctx context.Context, job ArchiveJob) error {
	payload := map[string]any{
		"id":           job.ID,
		"transcriptId": job.TranscriptID,
		"status":       job.Status,
		"error":        job.ErrorMessage,
		"attempts":     strconv.Itoa(job.Attempts),
		"createdAt":    job.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt":    job.UpdatedAt.Format(time.RFC3339Nano),
	}
	key := q.jobKey(job.ID)
	if err := q.client.HSet(ctx, key, payload).Err(); err != nil {
		return err
	}
	_ = q.client.Expire(ctx, key, q.jobTTL).Err()
	return nil
}

func (q *ArchiveQueue) jobKey(jobID string) string {
	return fmt.Sprintf("job:%s:%s", q.stream, jobID)
}

func decodeArchiveJob(jobID string, data map[string]string) ArchiveJob {
	job := ArchiveJob{ID: jobID}
	job.TranscriptID = data["transcriptId"]
	job.Status = data["status"]
	job.ErrorMessage = data["error"]
	if v := data["attempts"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			job.Attempts = n
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, data["createdAt"]); err == nil {
		job.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, data["updatedAt"]); err == nil {
		job.UpdatedAt = t
	}
	return job
}
