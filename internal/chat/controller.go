package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"footyai/internal/quota"
	"footyai/pkg/ai"
	"footyai/pkg/domain"
	"footyai/pkg/store"
)

// Greeting seeds every fresh transcript and does not count toward quota.
const Greeting = "Hi! I'm Footy AI. Ask me anything about football!"

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrBusy           = errors.New("a message is already in flight")
	ErrQuotaExhausted = errors.New("message limit reached")

	// ErrQuotaUpdateFailed carries the user-facing copy for a failed spend.
	ErrQuotaUpdateFailed = errors.New("Could not update message count. Please try again.")

	// ErrInferenceFailed is wrapped with the upstream reason appended.
	ErrInferenceFailed = errors.New("Failed to get response from AI")
)

// Archiver enqueues settled transcripts for background archival.
type Archiver interface {
	EnqueueTranscript(ctx context.Context, transcriptID string) error
}

// Controller runs the chat for one authenticated session. It owns the
// transcript and the model conversation, and serializes turns: a second
// send while one is in flight is rejected, not queued.
type Controller struct {
	session  *domain.Session
	tracker  *quota.Tracker
	users    store.Store
	archiver Archiver
	newAI    func() *ai.ChatSession

	stateMu      sync.Mutex
	inFlight     bool
	transcriptID string
	transcript   []domain.ChatMessage
	aiSession    *ai.ChatSession
}

// NewController seeds a controller with the greeting message.
func NewController(session *domain.Session, tracker *quota.Tracker, users store.Store, archiver Archiver, newAI func() *ai.ChatSession) *Controller {
	c := &Controller{
		session:  session,
		tracker:  tracker,
		users:    users,
		archiver: archiver,
		newAI:    newAI,
	}
	c.reset()
	return c
}

// Messages returns a copy of the current transcript.
func (c *Controller) Messages() []domain.ChatMessage {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	out := make([]domain.ChatMessage, len(c.transcript))
	copy(out, c.transcript)
	return out
}

// Remaining reports the session user's unspent message allowance.
func (c *Controller) Remaining() int {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return quota.Remaining(c.session.User)
}

// QuotaSummary formats the session user's spend for display, e.g. "3/15".
func (c *Controller) QuotaSummary() string {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return quota.Summary(c.session.User)
}

// Reset discards the transcript and starts a fresh model conversation.
// The quota counter is untouched.
func (c *Controller) Reset() {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.reset()
}

func (c *Controller) reset() {
	c.transcriptID = uuid.NewString()
	c.transcript = []domain.ChatMessage{{Role: domain.RoleModel, Content: Greeting}}
	c.aiSession = c.newAI()
}

// SendMessage runs one chat turn: spend a quota unit, stream the reply,
// settle the transcript. onDelta receives each text delta in order as it
// arrives; it may be nil. The full reply is returned on success.
//
// A failed spend rolls the user message back and cancels the turn before
// any inference cost. A failed stream rolls back only the model
// placeholder; the spent quota unit is not refunded.
func (c *Controller) SendMessage(ctx context.Context, text string, onDelta func(string)) (string, error) {
	trimmed := strings.TrimSpace(text)

	c.stateMu.Lock()
	if trimmed == "" {
		c.stateMu.Unlock()
		return "", ErrEmptyMessage
	}
	if c.inFlight {
		c.stateMu.Unlock()
		return "", ErrBusy
	}
	if quota.Remaining(c.session.User) <= 0 {
		c.stateMu.Unlock()
		return "", ErrQuotaExhausted
	}
	c.inFlight = true
	c.transcript = append(c.transcript, domain.ChatMessage{Role: domain.RoleUser, Content: text})
	aiSession := c.aiSession
	sess := *c.session
	c.stateMu.Unlock()

	defer func() {
		c.stateMu.Lock()
		c.inFlight = false
		c.stateMu.Unlock()
	}()

	updated, err := c.tracker.Increment(&sess)
	if err != nil {
		c.dropLast(1)
		return "", fmt.Errorf("%w: %v", ErrQuotaUpdateFailed, err)
	}

	c.stateMu.Lock()
	c.session.User = updated
	c.transcript = append(c.transcript, domain.ChatMessage{Role: domain.RoleModel, Content: ""})
	c.stateMu.Unlock()

	stream, err := aiSession.SendStream(ctx, text)
	if err != nil {
		c.dropLast(1)
		return "", fmt.Errorf("%w: %s", ErrInferenceFailed, reason(err))
	}
	defer stream.Close()

	var reply strings.Builder
	for {
		delta, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			c.dropLast(1)
			return "", fmt.Errorf("%w: %s", ErrInferenceFailed, reason(err))
		}
		reply.WriteString(delta)
		c.stateMu.Lock()
		c.transcript[len(c.transcript)-1].Content = reply.String()
		c.stateMu.Unlock()
		if onDelta != nil {
			onDelta(delta)
		}
	}

	aiSession.Commit(text, reply.String())
	slog.Debug("chat turn committed", "turns", aiSession.Turns())
	c.settle(ctx)
	return reply.String(), nil
}

// dropLast removes the n most recent transcript entries.
func (c *Controller) dropLast(n int) {
	c.stateMu.Lock()
	c.transcript = c.transcript[:len(c.transcript)-n]
	c.stateMu.Unlock()
}

// settle persists the transcript and queues it for archival. Neither
// failure disturbs the completed turn.
func (c *Controller) settle(ctx context.Context) {
	c.stateMu.Lock()
	transcript := domain.Transcript{
		ID:        c.transcriptID,
		Username:  c.session.User.Key(),
		Messages:  make([]domain.ChatMessage, len(c.transcript)),
		UpdatedAt: time.Now().UTC(),
	}
	copy(transcript.Messages, c.transcript)
	c.stateMu.Unlock()

	if err := c.users.SaveTranscript(transcript); err != nil {
		slog.Warn("transcript save failed", "transcript", transcript.ID, "err", err)
		return
	}
	if c.archiver != nil {
		if err := c.archiver.EnqueueTranscript(ctx, transcript.ID); err != nil {
			slog.Warn("archive enqueue failed", "transcript", transcript.ID, "err", err)
		}
	}
}

func reason(err error) string {
	if err == nil {
		return "An unexpected error occurred."
	}
	return err.Error()
}
