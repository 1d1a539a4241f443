package models

import (
	"time"

	"gorm.io/datatypes"
)

// DeviceGroup is a named boolean predicate over device attributes.
// Membership is computed on demand and never materialized.
type DeviceGroup struct {
	ID          string `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Name        string `json:"name" gorm:"type:varchar(128);uniqueIndex;not null"`
	Description string `json:"description" gorm:"type:text"`
	// MatchTypeAll combines rules with AND, MatchTypeAny with OR.
	MatchType string `json:"matchType" gorm:"type:varchar(8);not null;default:'all'"`
	// Ordered list of DeviceGroupRule, stored as JSON.
	Rules datatypes.JSON `json:"rules"`

	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

func (DeviceGroup) TableName() string {
	return "device_groups"
}

const (
	MatchTypeAll = "all"
	MatchTypeAny = "any"
)

// DeviceGroupRule is one {field, operator, value} predicate.
type DeviceGroupRule struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

// Rule operators.
const (
	OpEquals     = "equals"
	OpNotEquals  = "not_equals"
	OpContains   = "contains"
	OpStartsWith = "starts_with"
	OpEndsWith   = "ends_with"
)

// Rule fields.
const (
	FieldManufacturer    = "manufacturer"
	FieldOUI             = "oui"
	FieldProductClass    = "product_class"
	FieldModelName       = "model_name"
	FieldSoftwareVersion = "software_version"
	FieldHardwareVersion = "hardware_version"
	FieldSerialNumber    = "serial_number"
	FieldIPAddress       = "ip_address"
	FieldOnline          = "online"
	FieldDataModelRoot   = "data_model_root"
)
