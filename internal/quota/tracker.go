package quota

import (
	"fmt"
	"log/slog"

	"footyai/pkg/domain"
	"footyai/pkg/store"
)

// MessageLimit is the number of chat messages a user may send.
const MessageLimit = 15

// Tracker records message spend against a user's quota. Increment never
// checks the ceiling; gating is the caller's job, so a spend that raced
// past the limit still lands on the counter.
type Tracker struct {
	users    store.Store
	sessions store.SessionStore
}

// NewTracker builds a tracker over the user and session stores.
func NewTracker(users store.Store, sessions store.SessionStore) *Tracker {
	return &Tracker{users: users, sessions: sessions}
}

// Increment adds one sent message to the session's user and syncs the
// stored session snapshot. The passed handle is never written; the caller
// applies the returned user under whatever lock guards its copy.
// store.ErrUserNotFound passes through unwrapped when the user record has
// disappeared.
func (t *Tracker) Increment(session *domain.Session) (domain.User, error) {
	updated, err := t.users.IncrementMessages(session.User.Key())
	if err != nil {
		return domain.User{}, err
	}
	if err := t.sessions.SetSessionUser(session.Token, updated); err != nil {
		// The store counter is authoritative; a stale snapshot self-heals
		// on the next session read.
		slog.Warn("session snapshot sync failed", "user", updated.Key(), "err", err)
	}
	return updated, nil
}

// Remaining reports the unspent message allowance, never below zero.
func Remaining(user domain.User) int {
	left := MessageLimit - user.MessagesSent
	if left < 0 {
		return 0
	}
	return left
}

// Summary formats the allowance for display, e.g. "3/15".
func Summary(user domain.User) string {
	return fmt.Sprintf("%d/%d", user.MessagesSent, MessageLimit)
}
