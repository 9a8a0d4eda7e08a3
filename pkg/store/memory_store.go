package store

import (
	"sync"
	"time"

	"footyai/internal/util"
	"footyai/pkg/domain"
)

type credentialRecord struct {
	user   domain.User
	digest string
}

// MemoryStore keeps all records in-process. Used by tests and local runs
// without a database.
type MemoryStore struct {
	mu          sync.RWMutex
	users       map[string]credentialRecord // key: case-folded username
	predictions map[string][]PredictionRecord
	transcripts map[string]domain.Transcript
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]credentialRecord),
		predictions: make(map[string][]PredictionRecord),
		transcripts: make(map[string]domain.Transcript),
	}
}

// SaveUser registers or updates a user with its password digest.
func (m *MemoryStore) SaveUser(user domain.User, passwordDigest string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.Key()] = credentialRecord{user: user, digest: passwordDigest}
	return nil
}

// GetUser looks up a user by case-folded username.
func (m *MemoryStore) GetUser(key string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.users[key]
	return rec.user, ok, nil
}

// GetCredentials returns the user together with the stored password digest.
func (m *MemoryStore) GetCredentials(key string) (domain.User, string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.users[key]
	return rec.user, rec.digest, ok, nil
}

// HasUser checks whether the identity exists.
func (m *MemoryStore) HasUser(key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.users[key]
	return ok, nil
}

// IncrementMessages bumps the message counter for a user.
func (m *MemoryStore) IncrementMessages(key string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.users[key]
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	rec.user.MessagesSent++
	rec.user.UpdatedAt = time.Now().UTC()
	m.users[key] = rec
	return rec.user, nil
}

// UserCount returns the number of users.
func (m *MemoryStore) UserCount() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

// SavePrediction records a completed prediction.
func (m *MemoryStore) SavePrediction(record PredictionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if record.ID == "" {
		record.ID = util.NewID()
	}
	m.predictions[record.UserKey] = append(m.predictions[record.UserKey], record)
	return nil
}

// ListPredictionsByUser returns recent predictions, newest first.
func (m *MemoryStore) ListPredictionsByUser(key string, limit int) ([]PredictionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records := m.predictions[key]
	if limit <= 0 || limit > len(records) {
		limit = len(records)
	}
	res := make([]PredictionRecord, 0, limit)
	for i := len(records) - 1; i >= 0 && len(res) < limit; i-- {
		res = append(res, records[i])
	}
	return res, nil
}

// SaveTranscript stores or replaces a transcript snapshot.
func (m *MemoryStore) SaveTranscript(t domain.Transcript) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	messages := make([]domain.ChatMessage, len(t.Messages))
	copy(messages, t.Messages)
	t.Messages = messages
	if prev, ok := m.transcripts[t.ID]; ok && !prev.CreatedAt.IsZero() {
		t.CreatedAt = prev.CreatedAt
	} else if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	m.transcripts[t.ID] = t
	return nil
}

// GetTranscript retrieves a transcript by ID.
func (m *MemoryStore) GetTranscript(id string) (domain.Transcript, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.transcripts[id]
	return t, ok, nil
}

// MarkTranscriptArchived flags a transcript as archived.
func (m *MemoryStore) MarkTranscriptArchived(id string, storageKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transcripts[id]
	if !ok {
		return nil
	}
	t.Archived = true
	t.UpdatedAt = time.Now().UTC()
	m.transcripts[id] = t
	return nil
}
