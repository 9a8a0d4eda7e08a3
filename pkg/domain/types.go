package domain

import (
	"strings"
	"time"
)

// MessageRole identifies the author of a transcript entry.
type MessageRole string

const (
	RoleUser  MessageRole = "user"
	RoleModel MessageRole = "model"
)

// User is an account identified by a case-insensitively unique username.
// MessagesSent is the sole quota state and only ever grows.
type User struct {
	Username     string    `json:"username"`
	MessagesSent int       `json:"messagesSent"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Key returns the canonical identity key for the user.
func (u User) Key() string {
	return NormalizeUsername(u.Username)
}

// NormalizeUsername folds a username to its canonical lookup key.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// Session is the explicit handle for an authenticated caller. It is
// threaded through components rather than held as ambient global state.
type Session struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// TeamStats captures a team's recent form as entered by the caller.
type TeamStats struct {
	Name             string  `json:"name"`
	Wins             int     `json:"wins"`
	Draws            int     `json:"draws"`
	Losses           int     `json:"losses"`
	AvgGoalsScored   float64 `json:"avgGoalsScored"`
	AvgGoalsConceded float64 `json:"avgGoalsConceded"`
}

// PredictionResult is the fixed-shape model output for a match prediction.
// All three fields are required; an empty field is a schema violation.
type PredictionResult struct {
	PredictedWinner string `json:"predictedWinner"`
	PredictedScore  string `json:"predictedScore"`
	Analysis        string `json:"analysis"`
}

// ChatMessage is one transcript entry. The most recent model entry is the
// only one ever mutated, and only while its reply is still streaming.
type ChatMessage struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// Transcript is a settled chat transcript pending or past archival.
type Transcript struct {
	ID        string        `json:"id"`
	Username  string        `json:"username"`
	Messages  []ChatMessage `json:"messages"`
	Archived  bool          `json:"archived"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}
