package store

import (
	"time"

	"gorm.io/datatypes"

	"footyai/pkg/domain"
)

// GORM models used for persistence.
type UserModel struct {
	Key            string    `gorm:"primaryKey"` // case-folded username
	Username       string    `gorm:"not null"`   // display form as entered at signup
	PasswordDigest string    `gorm:"not null"`
	MessagesSent   int       `gorm:"not null;default:0"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time
}

type PredictionModel struct {
	ID        string         `gorm:"primaryKey"`
	UserKey   string         `gorm:"not null;index"`
	TeamA     string         `gorm:"not null"`
	TeamB     string         `gorm:"not null"`
	Request   datatypes.JSON `gorm:"type:jsonb"`
	Result    datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt time.Time      `gorm:"not null;index"`
}

type TranscriptModel struct {
	ID         string         `gorm:"primaryKey"`
	UserKey    string         `gorm:"not null;index"`
	Messages   datatypes.JSON `gorm:"type:jsonb"`
	Archived   bool           `gorm:"not null;default:false"`
	StorageKey string
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null;index"`
}

// PredictionRecord is the stored form of a completed prediction request.
type PredictionRecord struct {
	ID        string                  `json:"id"`
	UserKey   string                  `json:"-"`
	TeamA     domain.TeamStats        `json:"teamA"`
	TeamB     domain.TeamStats        `json:"teamB"`
	Result    domain.PredictionResult `json:"result"`
	CreatedAt time.Time               `json:"createdAt"`
}
