package store

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"footyai/internal/util"
	"footyai/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&UserModel{}, &PredictionModel{}, &TranscriptModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// SaveUser registers or updates a user and its password digest.
func (s *GormStore) SaveUser(user domain.User, passwordDigest string) error {
	model := UserModel{
		Key:            user.Key(),
		Username:       user.Username,
		PasswordDigest: passwordDigest,
		MessagesSent:   user.MessagesSent,
		CreatedAt:      user.CreatedAt,
		UpdatedAt:      user.UpdatedAt,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "password_digest", "messages_sent", "updated_at"}),
	}).Create(&model).Error
}

// GetUser looks up a user by case-folded username.
func (s *GormStore) GetUser(key string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "key = ?", key).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetCredentials returns the user together with the stored password digest.
func (s *GormStore) GetCredentials(key string) (domain.User, string, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "key = ?", key).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, "", false, nil
		}
		return domain.User{}, "", false, err
	}
	return userFromModel(model), model.PasswordDigest, true, nil
}

// HasUser checks whether the identity exists.
func (s *GormStore) HasUser(key string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("key = ?", key).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// IncrementMessages bumps messages_sent by one atomically and returns the
// updated user. The ceiling is deliberately not enforced here; callers gate
// on the limit before spending.
func (s *GormStore) IncrementMessages(key string) (domain.User, error) {
	res := s.db.Model(&UserModel{}).Where("key = ?", key).
		Updates(map[string]any{
			"messages_sent": gorm.Expr("messages_sent + 1"),
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return domain.User{}, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.User{}, ErrUserNotFound
	}
	user, ok, err := s.GetUser(key)
	if err != nil {
		return domain.User{}, err
	}
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	return user, nil
}

// UserCount returns the number of users.
func (s *GormStore) UserCount() (int, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// SavePrediction stores a completed prediction request and its result.
func (s *GormStore) SavePrediction(record PredictionRecord) error {
	if record.ID == "" {
		record.ID = util.NewID()
	}
	model, err := predictionToModel(record)
	if err != nil {
		return err
	}
	return s.db.Create(&model).Error
}

// ListPredictionsByUser returns recent predictions, newest first.
func (s *GormStore) ListPredictionsByUser(key string, limit int) ([]PredictionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var models []PredictionModel
	if err := s.db.Where("user_key = ?", key).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	records := make([]PredictionRecord, 0, len(models))
	for _, m := range models {
		records = append(records, predictionFromModel(m))
	}
	return records, nil
}

// SaveTranscript stores or replaces a transcript snapshot.
func (s *GormStore) SaveTranscript(t domain.Transcript) error {
	messages, err := json.Marshal(t.Messages)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}
	model := TranscriptModel{
		ID:        t.ID,
		UserKey:   domain.NormalizeUsername(t.Username),
		Messages:  messages,
		Archived:  t.Archived,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"messages", "archived", "updated_at"}),
	}).Create(&model).Error
}

// GetTranscript retrieves a transcript by ID.
func (s *GormStore) GetTranscript(id string) (domain.Transcript, bool, error) {
	var model TranscriptModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Transcript{}, false, nil
		}
		return domain.Transcript{}, false, err
	}
	var messages []domain.ChatMessage
	if len(model.Messages) > 0 {
		_ = json.Unmarshal(model.Messages, &messages)
	}
	return domain.Transcript{
		ID:        model.ID,
		Username:  model.UserKey,
		Messages:  messages,
		Archived:  model.Archived,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}, true, nil
}

// MarkTranscriptArchived records the object-storage key after archival.
func (s *GormStore) MarkTranscriptArchived(id string, storageKey string) error {
	return s.db.Model(&TranscriptModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"archived":    true,
			"storage_key": storageKey,
			"updated_at":  time.Now().UTC(),
		}).Error
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		Username:     m.Username,
		MessagesSent: m.MessagesSent,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func predictionToModel(record PredictionRecord) (PredictionModel, error) {
	request, err := json.Marshal(map[string]domain.TeamStats{"teamA": record.TeamA, "teamB": record.TeamB})
	if err != nil {
		return PredictionModel{}, fmt.Errorf("marshal prediction request: %w", err)
	}
	result, err := json.Marshal(record.Result)
	if err != nil {
		return PredictionModel{}, fmt.Errorf("marshal prediction result: %w", err)
	}
	return PredictionModel{
		ID:        record.ID,
		UserKey:   record.UserKey,
		TeamA:     record.TeamA.Name,
		TeamB:     record.TeamB.Name,
		Request:   request,
		Result:    result,
		CreatedAt: record.CreatedAt,
	}, nil
}

func predictionFromModel(m PredictionModel) PredictionRecord {
	record := PredictionRecord{
		ID:        m.ID,
		UserKey:   m.UserKey,
		CreatedAt: m.CreatedAt,
	}
	if len(m.Request) > 0 {
		var req map[string]domain.TeamStats
		if err := json.Unmarshal(m.Request, &req); err == nil {
			record.TeamA = req["teamA"]
			record.TeamB = req["teamB"]
		}
	}
	if len(m.Result) > 0 {
		_ = json.Unmarshal(m.Result, &record.Result)
	}
	return record
}
