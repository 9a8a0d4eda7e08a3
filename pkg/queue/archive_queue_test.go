package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestArchiveQueueEnqueueAndStatus(t *testing.T) {
	q, ctx := newTestQueue(t)

	job, err := q.Enqueue(ctx, "t-42")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job.Status != StatusQueued || job.TranscriptID != "t-42" {
		t.Fatalf("unexpected job %+v", job)
	}

	got, ok, err := q.GetJob(ctx, job.ID)
	if err != nil || !ok {
		t.Fatalf("get job: ok=%v err=%v", ok, err)
	}
	if got.TranscriptID != "t-42" || got.Status != StatusQueued {
		t.Fatalf("unexpected stored job %+v", got)
	}

	if _, err := q.Enqueue(ctx, "  "); err == nil {
		t.Fatalf("expected error for blank transcript id")
	}
}

func TestArchiveQueueRequeueAndAck(t *testing.T) {
	q, ctx := newTestQueue(t)
	msgID, job := readOnePending(t, q, ctx)

	if err := q.requeueAndAck(ctx, msgID, job.ID, job.TranscriptID); err != nil {
		t.Fatalf("requeue and ack: %v", err)
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected no pending messages, got %d", pending.Count)
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "archiver-2",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("read requeued message: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one requeued message, got %+v", streams)
	}
	got := streams[0].Messages[0]
	if got.Values["transcript_id"] != job.TranscriptID {
		t.Fatalf("unexpected requeued payload: %+v", got.Values)
	}
}

func TestArchiveQueueRequeueFailureKeepsPendingMessage(t *testing.T) {
	q, ctx := newTestQueue(t)
	msgID, job := readOnePending(t, q, ctx)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if err := q.requeueAndAck(canceled, msgID, job.ID, job.TranscriptID); err == nil {
		t.Fatalf("expected requeueAndAck to fail on canceled context")
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 1 {
		t.Fatalf("expected original message to remain pending, got %d", pending.Count)
	}
	streamLen, err := q.client.XLen(ctx, q.stream).Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	if streamLen != 1 {
		t.Fatalf("expected no new message in stream on failure, got len=%d", streamLen)
	}
}

func newTestQueue(t *testing.T) (*ArchiveQueue, context.Context) {
	t.Helper()
	redisSrv := miniredis.RunT(t)
	q, err := NewArchiveQueue(ArchiveQueueConfig{
		Addr:       redisSrv.Addr(),
		Stream:     "test:archive",
		Group:      "test-archivers",
		Consumer:   "archiver-1",
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	ctx := context.Background()
	q.ensureGroup(ctx)
	return q, ctx
}

func readOnePending(t *testing.T, q *ArchiveQueue, ctx context.Context) (string, ArchiveJob) {
	t.Helper()
	job, err := q.Enqueue(ctx, "t-7")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "archiver-1",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("readgroup: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one pending message, got %+v", streams)
	}
	return streams[0].Messages[0].ID, job
}
