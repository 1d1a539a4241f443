package config

import (
	"time"
)

type Config struct {
	Info      *Info      `yaml:"info"`
	Logger    *Logger    `yaml:"logger"`
	CWMP      *CWMP      `yaml:"cwmp"`
	SBI       *SBI       `yaml:"sbi"`
	Database  *Database  `yaml:"database"`
	Scheduler *Scheduler `yaml:"scheduler"`
	Reaper    *Reaper    `yaml:"reaper"`
	ConnReq   *ConnReq   `yaml:"connectionRequest"`
}

type Info struct {
	Version     string `yaml:"version,omitempty"`
	Description string `yaml:"description,omitempty"`
}

type Logger struct {
	Level           string `yaml:"level,omitempty"`
	ReportCaller    bool   `yaml:"reportCaller,omitempty"`
	File            string `yaml:"file,omitempty"`
	RotationCount   int    `yaml:"rotationCount,omitempty"`
	RotationMaxAge  int    `yaml:"rotationMaxAge,omitempty"`
	RotationMaxSize int    `yaml:"rotationMaxSize,omitempty"`
}

// CWMP configures the device-facing ACS endpoint.
type CWMP struct {
	Scheme       string        `yaml:"scheme"`
	BindingIPv4  string        `yaml:"bindingIPv4"`
	BindingIPv6  string        `yaml:"bindingIPv6"`
	Port         int           `yaml:"port"`
	Path         string        `yaml:"path"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	TLS          *TLS          `yaml:"tls,omitempty"`
	// Basic-auth credentials devices present with their Inform. Empty
	// username disables the check.
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	// Window within which a source IP is matched back to its last Inform
	// when the device sends an empty POST.
	SessionWindow time.Duration `yaml:"sessionWindow"`
}

// SBI configures the operator-facing API.
type SBI struct {
	Scheme       string        `yaml:"scheme"`
	BindingIPv4  string        `yaml:"bindingIPv4"`
	BindingIPv6  string        `yaml:"bindingIPv6"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	TLS          *TLS          `yaml:"tls,omitempty"`
}

type TLS struct {
	Cert string `yaml:"cert,omitempty"`
	Key  string `yaml:"key,omitempty"`
}

type Database struct {
	Path            string        `yaml:"path"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime,omitempty"`
}

// Scheduler configures the workflow control loop.
type Scheduler struct {
	Interval time.Duration `yaml:"interval"`
	// Global execution budget per invocation.
	Limit int `yaml:"limit"`
	// Executions stuck queued longer than this are reset to pending.
	QueuedStaleAfter time.Duration `yaml:"queuedStaleAfter"`
	DryRun           bool          `yaml:"dryRun,omitempty"`
}

// Reaper configures the two task sweepers.
type Reaper struct {
	Interval time.Duration `yaml:"interval"`
	// Default deadline for sent tasks without a type-specific one.
	SentTimeout time.Duration `yaml:"sentTimeout"`
	// Cadence and age limit for tasks a device never claimed.
	PendingInterval time.Duration `yaml:"pendingInterval"`
	PendingMaxAge   time.Duration `yaml:"pendingMaxAge"`
	DryRun          bool          `yaml:"dryRun,omitempty"`
}

type ConnReq struct {
	Timeout time.Duration `yaml:"timeout"`
}
