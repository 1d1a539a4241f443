package store

import (
	"context"
	"errors"
	"time"

	"github.com/nextranet/gateway/acs/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DeviceStore persists devices, their parameters, and auto-registered
// device types.
type DeviceStore struct {
	db *gorm.DB
}

// NewDeviceStore creates a device store
func NewDeviceStore(db *gorm.DB) *DeviceStore {
	return &DeviceStore{db: db}
}

// Upsert creates the device on first Inform and updates the volatile fields
// on every subsequent one. Returns whether the device was newly created.
func (s *DeviceStore) Upsert(ctx context.Context, d *models.Device) (bool, error) {
	var existing models.Device
	err := s.db.WithContext(ctx).First(&existing, "id = ?", d.ID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := s.db.WithContext(ctx).Create(d).Error; err != nil {
			return false, err
		}
		return true, nil
	}
	if err != nil {
		return false, err
	}

	updates := map[string]interface{}{
		"ip_address":  d.IPAddress,
		"online":      d.Online,
		"last_inform": d.LastInform,
	}
	if d.SoftwareVersion != "" {
		updates["software_version"] = d.SoftwareVersion
	}
	if d.HardwareVersion != "" {
		updates["hardware_version"] = d.HardwareVersion
	}
	if d.ModelName != "" {
		updates["model_name"] = d.ModelName
	}
	if d.DataModelRoot != "" {
		updates["data_model_root"] = d.DataModelRoot
	}
	if d.ConnReqURL != "" {
		updates["conn_req_url"] = d.ConnReqURL
	}
	return false, s.db.WithContext(ctx).Model(&existing).Updates(updates).Error
}

// Get retrieves a device by ID.
func (s *DeviceStore) Get(ctx context.Context, id string) (*models.Device, error) {
	var d models.Device
	err := s.db.WithContext(ctx).First(&d, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrDeviceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// FindRecentByIP resolves the device that informed most recently from the
// given source IP after the cutoff. This is the empty-POST session
// resolution heuristic: it assumes at most one active device per source IP
// within the window.
func (s *DeviceStore) FindRecentByIP(ctx context.Context, ip string, since time.Time) (*models.Device, error) {
	var d models.Device
	err := s.db.WithContext(ctx).
		Where("ip_address = ? AND last_inform >= ?", ip, since).
		Order("last_inform DESC").
		First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrDeviceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// List returns a page of devices ordered by last inform, newest first.
func (s *DeviceStore) List(ctx context.Context, offset, limit int) ([]models.Device, error) {
	var devices []models.Device
	q := s.db.WithContext(ctx).Order("last_inform DESC").Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}
	return devices, q.Find(&devices).Error
}

// Count returns the total number of devices.
func (s *DeviceStore) Count(ctx context.Context) (int64, error) {
	var n int64
	return n, s.db.WithContext(ctx).Model(&models.Device{}).Count(&n).Error
}

// SaveParameter upserts one parameter on a device.
func (s *DeviceStore) SaveParameter(ctx context.Context, p *models.DeviceParameter) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_id"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "type", "writable", "updated_at"}),
	}).Create(p).Error
}

// SaveParameters upserts a batch of parameters on a device.
func (s *DeviceStore) SaveParameters(ctx context.Context, deviceID string, params []models.DeviceParameter) error {
	for i := range params {
		params[i].DeviceID = deviceID
		if err := s.SaveParameter(ctx, &params[i]); err != nil {
			return err
		}
	}
	return nil
}

// GetParameters returns all stored parameters for a device.
func (s *DeviceStore) GetParameters(ctx context.Context, deviceID string) ([]models.DeviceParameter, error) {
	var params []models.DeviceParameter
	err := s.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("name ASC").
		Find(&params).Error
	return params, err
}

// EnsureDeviceType registers a product class the first time it is seen.
func (s *DeviceStore) EnsureDeviceType(ctx context.Context, productClass, manufacturer string) error {
	if productClass == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "product_class"}},
		DoNothing: true,
	}).Create(&models.DeviceType{
		ProductClass: productClass,
		Manufacturer: manufacturer,
	}).Error
}

// GetDeviceType returns the registered type for a product class.
func (s *DeviceStore) GetDeviceType(ctx context.Context, productClass string) (*models.DeviceType, error) {
	var dt models.DeviceType
	err := s.db.WithContext(ctx).First(&dt, "product_class = ?", productClass).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &dt, nil
}
