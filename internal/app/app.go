package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"footyai/internal/chat"
	"footyai/internal/events"
	"footyai/internal/quota"
	"footyai/pkg/ai"
	"footyai/pkg/auth"
	"footyai/pkg/domain"
	"footyai/pkg/storage"
	"footyai/pkg/store"
)

// transcriptURLTTL bounds how long a presigned transcript link stays valid.
const transcriptURLTTL = 15 * time.Minute

// Predictor produces a structured match prediction.
type Predictor interface {
	Predict(ctx context.Context, teamA, teamB domain.TeamStats) (domain.PredictionResult, error)
}

// App wires the domain operations behind the HTTP surface: accounts,
// sessions, predictions, and per-session chat controllers.
type App struct {
	users     store.Store
	sessions  store.SessionStore
	tracker   *quota.Tracker
	predictor Predictor
	publisher events.Publisher
	archiver  chat.Archiver
	objects   storage.ObjectStore
	newAI     func() *ai.ChatSession

	mu          sync.Mutex
	controllers map[string]*chat.Controller
}

// New assembles the application. publisher, archiver, and objects may be nil.
func New(users store.Store, sessions store.SessionStore, predictor Predictor, publisher events.Publisher, archiver chat.Archiver, objects storage.ObjectStore, newAI func() *ai.ChatSession) *App {
	return &App{
		users:       users,
		sessions:    sessions,
		tracker:     quota.NewTracker(users, sessions),
		predictor:   predictor,
		publisher:   publisher,
		archiver:    archiver,
		objects:     objects,
		newAI:       newAI,
		controllers: make(map[string]*chat.Controller),
	}
}

// SignUp creates an account and logs it in. Usernames collide
// case-insensitively; the entered casing is kept for display.
func (a *App) SignUp(ctx context.Context, username, password string) (domain.Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return domain.Session{}, ErrEmptyUsername
	}
	key := domain.NormalizeUsername(username)
	exists, err := a.users.HasUser(key)
	if err != nil {
		return domain.Session{}, fmt.Errorf("check username: %w", err)
	}
	if exists {
		return domain.Session{}, ErrUsernameTaken
	}
	digest, err := auth.HashPassword(password)
	if err != nil {
		return domain.Session{}, fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	user := domain.User{Username: username, CreatedAt: now, UpdatedAt: now}
	if err := a.users.SaveUser(user, digest); err != nil {
		return domain.Session{}, fmt.Errorf("save user: %w", err)
	}
	slog.Info("user signed up", "user", key)
	return a.startSession(user)
}

// Login authenticates and opens a session.
func (a *App) Login(ctx context.Context, username, password string) (domain.Session, error) {
	key := domain.NormalizeUsername(username)
	if key == "" || password == "" {
		return domain.Session{}, ErrInvalidCredentials
	}
	user, digest, ok, err := a.users.GetCredentials(key)
	if err != nil {
		return domain.Session{}, fmt.Errorf("load credentials: %w", err)
	}
	if !ok || !auth.CheckPassword(password, digest) {
		return domain.Session{}, ErrInvalidCredentials
	}
	slog.Info("user logged in", "user", key)
	return a.startSession(user)
}

func (a *App) startSession(user domain.User) (domain.Session, error) {
	token, err := a.sessions.NewSession(user)
	if err != nil {
		return domain.Session{}, fmt.Errorf("create session: %w", err)
	}
	return domain.Session{Token: token, User: user}, nil
}

// Logout ends the session. Unknown tokens succeed silently.
func (a *App) Logout(ctx context.Context, token string) error {
	a.mu.Lock()
	delete(a.controllers, token)
	a.mu.Unlock()
	if err := a.sessions.DeleteSession(token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// CurrentUser restores the session snapshot for a token.
func (a *App) CurrentUser(ctx context.Context, token string) (domain.User, bool) {
	user, ok, err := a.sessions.GetSessionUser(token)
	if err != nil {
		slog.Warn("session lookup failed", "err", err)
		return domain.User{}, false
	}
	return user, ok
}

// Predict requests a match prediction and records it. All inference and
// decoding failures collapse into ErrPredictionFailed; the caller never
// sees partial results.
func (a *App) Predict(ctx context.Context, session *domain.Session, teamA, teamB domain.TeamStats) (domain.PredictionResult, error) {
	if strings.TrimSpace(teamA.Name) == "" || strings.TrimSpace(teamB.Name) == "" {
		return domain.PredictionResult{}, ErrMissingTeamName
	}
	result, err := a.predictor.Predict(ctx, teamA, teamB)
	if err != nil {
		slog.Warn("prediction failed", "user", session.User.Key(), "err", err)
		return domain.PredictionResult{}, ErrPredictionFailed
	}
	if result.PredictedWinner == "" || result.PredictedScore == "" || result.Analysis == "" {
		slog.Warn("prediction violated schema", "user", session.User.Key())
		return domain.PredictionResult{}, ErrPredictionFailed
	}

	record := store.PredictionRecord{
		UserKey:   session.User.Key(),
		TeamA:     teamA,
		TeamB:     teamB,
		Result:    result,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.users.SavePrediction(record); err != nil {
		slog.Warn("prediction save failed", "user", record.UserKey, "err", err)
	}
	events.PublishBestEffort(ctx, a.publisher, events.Event{
		Type:     events.TypePredictionRequested,
		Username: session.User.Key(),
		Payload:  map[string]any{"teamA": teamA.Name, "teamB": teamB.Name},
	})
	return result, nil
}

// TranscriptURL returns a time-limited download link for an archived
// transcript owned by the session user.
func (a *App) TranscriptURL(ctx context.Context, session *domain.Session, transcriptID string) (string, error) {
	if a.objects == nil {
		return "", ErrArchiveUnavailable
	}
	transcript, ok, err := a.users.GetTranscript(transcriptID)
	if err != nil {
		return "", fmt.Errorf("load transcript: %w", err)
	}
	if !ok || transcript.Username != session.User.Key() {
		return "", ErrTranscriptNotFound
	}
	if !transcript.Archived {
		return "", ErrTranscriptNotArchived
	}
	key := storage.TranscriptKey(transcript.Username, transcript.ID)
	url, err := a.objects.PresignGet(ctx, key, transcriptURLTTL)
	if err != nil {
		return "", fmt.Errorf("presign transcript: %w", err)
	}
	return url, nil
}

// Controller returns the chat controller for a session, creating it on
// first use. Controllers are keyed by token, so each login gets its own
// transcript.
func (a *App) Controller(session *domain.Session) *chat.Controller {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ctrl, ok := a.controllers[session.Token]; ok {
		return ctrl
	}
	ctrl := chat.NewController(session, a.tracker, a.users, a.archiver, a.newAI)
	a.controllers[session.Token] = ctrl
	return ctrl
}

// SendChat runs one chat turn for the session and publishes the spend.
func (a *App) SendChat(ctx context.Context, session *domain.Session, text string, onDelta func(string)) (string, error) {
	ctrl := a.Controller(session)
	reply, err := ctrl.SendMessage(ctx, text, onDelta)
	if err != nil {
		return "", err
	}
	events.PublishBestEffort(ctx, a.publisher, events.Event{
		Type:     events.TypeChatSpent,
		Username: session.User.Key(),
		Payload:  map[string]any{"remaining": ctrl.Remaining()},
	})
	return reply, nil
}

// ResetChat discards the session's transcript. The quota is untouched.
func (a *App) ResetChat(session *domain.Session) {
	a.Controller(session).Reset()
}
