package app

import "errors"

// User-facing errors. The messages are returned verbatim in API error
// bodies, so keep them presentable.
var (
	ErrUsernameTaken      = errors.New("Username already exists.")
	ErrInvalidCredentials = errors.New("Invalid username or password.")
	ErrPredictionFailed   = errors.New("Failed to get prediction from AI. Please check the stats and try again.")
	ErrMissingTeamName    = errors.New("Both team names are required.")
	ErrEmptyUsername      = errors.New("Username and password are required.")

	ErrTranscriptNotFound    = errors.New("Transcript not found.")
	ErrTranscriptNotArchived = errors.New("Transcript is not archived yet.")
	ErrArchiveUnavailable    = errors.New("Transcript downloads are not available.")
)
