package models

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// Data-model roots a CPE may expose.
const (
	RootTR098 = "InternetGatewayDevice"
	RootTR181 = "Device"
)

// Device represents one TR-069 CPE. The primary key is derived from
// manufacturer OUI + serial number and stays stable across sessions even
// though the IP address and online flag flap continuously.
type Device struct {
	ID              string `json:"id" gorm:"primaryKey;type:varchar(128)"`
	Manufacturer    string `json:"manufacturer" gorm:"type:varchar(64);index"`
	OUI             string `json:"oui" gorm:"column:oui;type:varchar(16)"`
	ProductClass    string `json:"productClass" gorm:"type:varchar(64);index"`
	SerialNumber    string `json:"serialNumber" gorm:"type:varchar(64);index"`
	ModelName       string `json:"modelName" gorm:"type:varchar(64)"`
	HardwareVersion string `json:"hardwareVersion" gorm:"type:varchar(64)"`
	SoftwareVersion string `json:"softwareVersion" gorm:"type:varchar(64)"`

	IPAddress string `json:"ipAddress" gorm:"type:varchar(64);index"`
	// Advisory only: derived from inform recency, not a live socket.
	Online     bool      `json:"online" gorm:"index"`
	LastInform time.Time `json:"lastInform" gorm:"index"`

	// Parameter-tree namespace: RootTR098 or RootTR181.
	DataModelRoot string `json:"dataModelRoot" gorm:"type:varchar(32);default:'InternetGatewayDevice'"`

	ConnReqURL      string `json:"connectionRequestUrl" gorm:"type:varchar(256)"`
	ConnReqUsername string `json:"connectionRequestUsername" gorm:"type:varchar(64)"`
	ConnReqPassword string `json:"-" gorm:"type:varchar(128)"`

	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

func (Device) TableName() string {
	return "devices"
}

// DeviceKey builds the stable device identity from OUI and serial number.
func DeviceKey(oui, serial string) string {
	return fmt.Sprintf("%s-%s", oui, serial)
}

// IsTR181 reports whether the device exposes the Device:2 data model.
func (d *Device) IsTR181() bool {
	return d.DataModelRoot == RootTR181
}

// DeviceParameter is one named value in a device's parameter tree.
type DeviceParameter struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	DeviceID  string    `json:"deviceId" gorm:"type:varchar(128);not null;uniqueIndex:idx_device_param"`
	Name      string    `json:"name" gorm:"type:varchar(256);not null;uniqueIndex:idx_device_param"`
	Value     string    `json:"value" gorm:"type:text"`
	Type      string    `json:"type" gorm:"type:varchar(32)"`
	Writable  bool      `json:"writable"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

func (DeviceParameter) TableName() string {
	return "device_parameters"
}

// DeviceType is auto-registered the first time an unseen product class
// informs. Operators attach metadata to it outside this core.
type DeviceType struct {
	ID           uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	ProductClass string    `json:"productClass" gorm:"type:varchar(64);uniqueIndex;not null"`
	Manufacturer string    `json:"manufacturer" gorm:"type:varchar(64)"`
	CreatedAt    time.Time `json:"createdAt" gorm:"autoCreateTime"`
}

func (DeviceType) TableName() string {
	return "device_types"
}

// CwmpSession records one Inform-triggered conversation. Rows are created at
// Inform time and immutable thereafter; a new session is created per Inform.
type CwmpSession struct {
	ID        string         `json:"id" gorm:"primaryKey;type:varchar(64)"`
	DeviceID  string         `json:"deviceId" gorm:"type:varchar(128);index;not null"`
	Events    datatypes.JSON `json:"events"`
	Messages  int            `json:"messages"`
	StartedAt time.Time      `json:"startedAt" gorm:"autoCreateTime"`
}

func (CwmpSession) TableName() string {
	return "cwmp_sessions"
}

// Inform event codes this core reacts to.
const (
	EventBootstrap           = "0 BOOTSTRAP"
	EventBoot                = "1 BOOT"
	EventPeriodic            = "2 PERIODIC"
	EventValueChange         = "4 VALUE CHANGE"
	EventConnectionRequest   = "6 CONNECTION REQUEST"
	EventDiagnosticsComplete = "8 DIAGNOSTICS COMPLETE"
)
