package factory

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nextranet/gateway/acs/config"
	"github.com/nextranet/gateway/acs/internal/logger"
)

var (
	defaultConfig *config.Config
	configPath    string
)

// InitConfigFactory initializes the configuration factory
func InitConfigFactory(cfgPath string) (*config.Config, error) {
	if cfgPath == "" {
		cfgPath = getDefaultConfigPath()
	}

	configPath = cfgPath
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return nil, err
	}

	// Apply defaults
	applyDefaults(cfg)

	// Validate configuration
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	defaultConfig = cfg
	logger.InitLog.Infof("Configuration loaded from: %s", cfgPath)
	return cfg, nil
}

// GetConfig returns the default configuration
func GetConfig() *config.Config {
	return defaultConfig
}

// GetConfigPath returns the path to the configuration file
func GetConfigPath() string {
	return configPath
}

// loadConfig loads configuration from a YAML file
func loadConfig(path string) (*config.Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables
	content := os.ExpandEnv(string(data))

	cfg := &config.Config{}
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// applyDefaults applies default values to the configuration
func applyDefaults(cfg *config.Config) {
	// Info defaults
	if cfg.Info == nil {
		cfg.Info = &config.Info{}
	}
	if cfg.Info.Version == "" {
		cfg.Info.Version = "1.0.0"
	}
	if cfg.Info.Description == "" {
		cfg.Info.Description = "Nextranet ACS"
	}

	// Logger defaults
	if cfg.Logger == nil {
		cfg.Logger = &config.Logger{}
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Logger.RotationCount == 0 {
		cfg.Logger.RotationCount = 3
	}
	if cfg.Logger.RotationMaxAge == 0 {
		cfg.Logger.RotationMaxAge = 7
	}
	if cfg.Logger.RotationMaxSize == 0 {
		cfg.Logger.RotationMaxSize = 50
	}

	// CWMP endpoint defaults
	if cfg.CWMP == nil {
		cfg.CWMP = &config.CWMP{}
	}
	if cfg.CWMP.Scheme == "" {
		cfg.CWMP.Scheme = "http"
	}
	if cfg.CWMP.BindingIPv4 == "" {
		cfg.CWMP.BindingIPv4 = "0.0.0.0"
	}
	if cfg.CWMP.Port == 0 {
		cfg.CWMP.Port = 7547
	}
	if cfg.CWMP.Path == "" {
		cfg.CWMP.Path = "/"
	}
	if cfg.CWMP.ReadTimeout == 0 {
		cfg.CWMP.ReadTimeout = 60 * time.Second
	}
	if cfg.CWMP.WriteTimeout == 0 {
		cfg.CWMP.WriteTimeout = 60 * time.Second
	}
	if cfg.CWMP.SessionWindow == 0 {
		cfg.CWMP.SessionWindow = 5 * time.Minute
	}

	// SBI defaults
	if cfg.SBI == nil {
		cfg.SBI = &config.SBI{}
	}
	if cfg.SBI.Scheme == "" {
		cfg.SBI.Scheme = "http"
	}
	if cfg.SBI.BindingIPv4 == "" {
		cfg.SBI.BindingIPv4 = "0.0.0.0"
	}
	if cfg.SBI.Port == 0 {
		cfg.SBI.Port = 8080
	}
	if cfg.SBI.ReadTimeout == 0 {
		cfg.SBI.ReadTimeout = 30 * time.Second
	}
	if cfg.SBI.WriteTimeout == 0 {
		cfg.SBI.WriteTimeout = 30 * time.Second
	}

	// Database defaults
	if cfg.Database == nil {
		cfg.Database = &config.Database{}
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "acs.db"
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}

	// Scheduler defaults
	if cfg.Scheduler == nil {
		cfg.Scheduler = &config.Scheduler{}
	}
	if cfg.Scheduler.Interval == 0 {
		cfg.Scheduler.Interval = 30 * time.Second
	}
	if cfg.Scheduler.Limit == 0 {
		cfg.Scheduler.Limit = 50
	}
	if cfg.Scheduler.QueuedStaleAfter == 0 {
		cfg.Scheduler.QueuedStaleAfter = 5 * time.Minute
	}

	// Reaper defaults
	if cfg.Reaper == nil {
		cfg.Reaper = &config.Reaper{}
	}
	if cfg.Reaper.Interval == 0 {
		cfg.Reaper.Interval = time.Minute
	}
	if cfg.Reaper.SentTimeout == 0 {
		cfg.Reaper.SentTimeout = 2 * time.Minute
	}
	if cfg.Reaper.PendingInterval == 0 {
		cfg.Reaper.PendingInterval = time.Hour
	}
	if cfg.Reaper.PendingMaxAge == 0 {
		cfg.Reaper.PendingMaxAge = 24 * time.Hour
	}

	// Connection request defaults
	if cfg.ConnReq == nil {
		cfg.ConnReq = &config.ConnReq{}
	}
	if cfg.ConnReq.Timeout == 0 {
		cfg.ConnReq.Timeout = 10 * time.Second
	}
}

// validateConfig validates the configuration
func validateConfig(cfg *config.Config) error {
	// Validate logger
	if cfg.Logger != nil {
		validLevels := []string{"panic", "fatal", "error", "warn", "warning", "info", "debug", "trace"}
		if !contains(validLevels, strings.ToLower(cfg.Logger.Level)) {
			return fmt.Errorf("invalid log level: %s", cfg.Logger.Level)
		}
	}

	// Validate CWMP endpoint
	if err := validateEndpoint("CWMP", cfg.CWMP.Scheme, cfg.CWMP.Port, cfg.CWMP.TLS); err != nil {
		return err
	}
	if cfg.CWMP.SessionWindow < 0 {
		return fmt.Errorf("invalid CWMP session window: %v", cfg.CWMP.SessionWindow)
	}

	// Validate SBI
	if err := validateEndpoint("SBI", cfg.SBI.Scheme, cfg.SBI.Port, cfg.SBI.TLS); err != nil {
		return err
	}

	// Validate Database
	if cfg.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	// Validate Scheduler
	if cfg.Scheduler.Limit < 0 {
		return fmt.Errorf("invalid scheduler limit: %d", cfg.Scheduler.Limit)
	}

	return nil
}

func validateEndpoint(name, scheme string, port int, tls *config.TLS) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid %s port: %d", name, port)
	}
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("invalid %s scheme: %s", name, scheme)
	}
	if scheme == "https" && tls == nil {
		return fmt.Errorf("TLS configuration required for HTTPS scheme")
	}
	if tls != nil {
		if tls.Cert == "" || tls.Key == "" {
			return fmt.Errorf("TLS cert and key are required")
		}
		if _, err := os.Stat(tls.Cert); err != nil {
			return fmt.Errorf("TLS cert file not found: %s", tls.Cert)
		}
		if _, err := os.Stat(tls.Key); err != nil {
			return fmt.Errorf("TLS key file not found: %s", tls.Key)
		}
	}
	return nil
}

// getDefaultConfigPath returns the default configuration file path
func getDefaultConfigPath() string {
	// Check environment variable
	if path := os.Getenv("ACS_CONFIG_PATH"); path != "" {
		return path
	}

	// Check common locations
	commonPaths := []string{
		"./config.yaml",
		"./config.yml",
		"./conf/config.yaml",
		"./conf/config.yml",
		"/etc/acs/config.yaml",
		"/etc/acs/config.yml",
	}

	for _, path := range commonPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	// Default to current directory
	return "config.yaml"
}

// contains checks if a string slice contains a value
func contains(slice []string, value string) bool {
	for _, s := range slice {
		if s == value {
			return true
		}
	}
	return false
}

// ReloadConfig reloads the configuration from file
func ReloadConfig() (*config.Config, error) {
	if configPath == "" {
		return nil, fmt.Errorf("no configuration path set")
	}
	return InitConfigFactory(configPath)
}

// SaveConfig saves the configuration to file
func SaveConfig(cfg *config.Config, path string) error {
	if path == "" {
		path = configPath
	}
	if path == "" {
		return fmt.Errorf("no configuration path specified")
	}

	// Create directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Marshal configuration to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write to file
	if err := ioutil.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	logger.InitLog.Infof("Configuration saved to: %s", path)
	return nil
}
