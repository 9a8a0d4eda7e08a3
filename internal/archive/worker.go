package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"footyai/pkg/queue"
	"footyai/pkg/storage"
	"footyai/pkg/store"
)

// Enqueuer adapts the archive queue to the chat controller's needs.
type Enqueuer struct {
	queue *queue.ArchiveQueue
}

// NewEnqueuer wraps an archive queue.
func NewEnqueuer(q *queue.ArchiveQueue) *Enqueuer {
	return &Enqueuer{queue: q}
}

// EnqueueTranscript queues a transcript for background archival.
func (e *Enqueuer) EnqueueTranscript(ctx context.Context, transcriptID string) error {
	_, err := e.queue.Enqueue(ctx, transcriptID)
	return err
}

// Worker drains the archive queue: it loads each settled transcript,
// writes it to object storage as JSON and marks the row archived.
type Worker struct {
	queue       *queue.ArchiveQueue
	users       store.Store
	objects     storage.ObjectStore
	concurrency int
}

// NewWorker builds an archive worker.
func NewWorker(q *queue.ArchiveQueue, users store.Store, objects storage.ObjectStore, concurrency int) *Worker {
	if concurrency <= 0 {
		concurrency = 2
	}
	return &Worker{queue: q, users: users, objects: objects, concurrency: concurrency}
}

// Run blocks until ctx is done, supervising the consumer loops.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		consumer := fmt.Sprintf("archiver-%d", i)
		g.Go(func() error {
			w.queue.Consume(ctx, consumer, w.archive)
			return nil
		})
	}
	return g.Wait()
}

// archive handles one job. A returned error makes the queue retry and
// eventually mark the job failed.
func (w *Worker) archive(ctx context.Context, job queue.ArchiveJob) error {
	transcript, ok, err := w.users.GetTranscript(job.TranscriptID)
	if err != nil {
		return fmt.Errorf("load transcript %s: %w", job.TranscriptID, err)
	}
	if !ok {
		return fmt.Errorf("transcript %s not found", job.TranscriptID)
	}

	body, err := json.Marshal(transcript)
	if err != nil {
		return fmt.Errorf("encode transcript %s: %w", transcript.ID, err)
	}
	key := storage.TranscriptKey(transcript.Username, transcript.ID)
	if err := w.objects.Put(ctx, key, bytes.NewReader(body), int64(len(body)), "application/json"); err != nil {
		return fmt.Errorf("upload transcript %s: %w", transcript.ID, err)
	}
	if err := w.users.MarkTranscriptArchived(transcript.ID, key); err != nil {
		return fmt.Errorf("mark transcript %s archived: %w", transcript.ID, err)
	}
	slog.Info("transcript archived", "transcript", transcript.ID, "key", key, "attempt", job.Attempts)
	return nil
}
