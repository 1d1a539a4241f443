package store

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/nextranet/gateway/acs/internal/models"
	"gorm.io/gorm"
)

// SessionStore records CWMP sessions. One row per Inform, immutable after
// creation.
type SessionStore struct {
	db *gorm.DB
}

// NewSessionStore creates a session store
func NewSessionStore(db *gorm.DB) *SessionStore {
	return &SessionStore{db: db}
}

// Create inserts a session row for an Inform.
func (s *SessionStore) Create(ctx context.Context, deviceID string, events []string, messages int) (*models.CwmpSession, error) {
	raw, err := json.Marshal(events)
	if err != nil {
		return nil, err
	}
	sess := &models.CwmpSession{
		ID:       uuid.NewString(),
		DeviceID: deviceID,
		Events:   raw,
		Messages: messages,
	}
	if err := s.db.WithContext(ctx).Create(sess).Error; err != nil {
		return nil, err
	}
	return sess, nil
}

// ListByDevice returns a page of sessions for a device, newest first.
func (s *SessionStore) ListByDevice(ctx context.Context, deviceID string, limit int) ([]models.CwmpSession, error) {
	var sessions []models.CwmpSession
	q := s.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return sessions, q.Find(&sessions).Error
}
