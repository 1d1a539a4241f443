package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/nextranet/gateway/acs/internal/models"
	"gorm.io/gorm"
)

// GroupStore persists device group definitions. Membership itself is never
// materialized; the matcher evaluates rules on demand.
type GroupStore struct {
	db *gorm.DB
}

// NewGroupStore creates a group store
func NewGroupStore(db *gorm.DB) *GroupStore {
	return &GroupStore{db: db}
}

// Create inserts a group with its rule list.
func (s *GroupStore) Create(ctx context.Context, g *models.DeviceGroup, rules []models.DeviceGroupRule) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.MatchType == "" {
		g.MatchType = models.MatchTypeAll
	}
	raw, err := json.Marshal(rules)
	if err != nil {
		return err
	}
	g.Rules = raw
	return s.db.WithContext(ctx).Create(g).Error
}

// Get retrieves a group by ID.
func (s *GroupStore) Get(ctx context.Context, id string) (*models.DeviceGroup, error) {
	var g models.DeviceGroup
	err := s.db.WithContext(ctx).First(&g, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrGroupNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// List returns all groups.
func (s *GroupStore) List(ctx context.Context) ([]models.DeviceGroup, error) {
	var groups []models.DeviceGroup
	return groups, s.db.WithContext(ctx).Order("name ASC").Find(&groups).Error
}

// DecodeRules unpacks the stored JSON rule list.
func DecodeRules(g *models.DeviceGroup) ([]models.DeviceGroupRule, error) {
	var rules []models.DeviceGroupRule
	if len(g.Rules) == 0 {
		return rules, nil
	}
	if err := json.Unmarshal(g.Rules, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}
