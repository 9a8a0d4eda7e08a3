package store

import (
	"errors"

	"footyai/pkg/domain"
)

// ErrUserNotFound is returned by IncrementMessages for an unknown identity.
var ErrUserNotFound = errors.New("User not found")

// Store defines persistence for users, predictions, and transcripts.
// User lookups key on the case-folded username.
type Store interface {
	// users
	SaveUser(user domain.User, passwordDigest string) error
	GetUser(key string) (domain.User, bool, error)
	GetCredentials(key string) (domain.User, string, bool, error)
	HasUser(key string) (bool, error)
	IncrementMessages(key string) (domain.User, error)
	UserCount() (int, error)

	// predictions
	SavePrediction(record PredictionRecord) error
	ListPredictionsByUser(key string, limit int) ([]PredictionRecord, error)

	// transcripts
	SaveTranscript(t domain.Transcript) error
	GetTranscript(id string) (domain.Transcript, bool, error)
	MarkTranscriptArchived(id string, storageKey string) error
}

// SessionStore persists the session snapshot keyed by an opaque token.
// The snapshot carries the full User so the message counter survives a
// process restart along with the login.
type SessionStore interface {
	NewSession(user domain.User) (string, error)
	GetSessionUser(token string) (domain.User, bool, error)
	SetSessionUser(token string, user domain.User) error
	DeleteSession(token string) error
}
