// Package config loads the Speed Daemon process's configuration from a
// YAML file, a ".env" file, and environment variable overrides, in that
// order, mirroring the dashboard's config loader but for this domain's
// settings: the client-facing and admin listen addresses, the optional
// serial ALPR camera bridge, and the audit log.
package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable of a running speed-daemon process.
type Config struct {
	mu sync.RWMutex

	Listen       string             `yaml:"listen" json:"listen"`
	Admin        AdminConfig        `yaml:"admin" json:"admin"`
	SerialCamera SerialCameraConfig `yaml:"serial_camera" json:"serialCamera"`
	AuditLog     AuditLogConfig     `yaml:"audit_log" json:"auditLog"`
	Logging      LoggingConfig      `yaml:"logging" json:"logging"`

	path string
}

// AdminConfig controls the HTTP admin plane (§4.9).
type AdminConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

// SerialCameraConfig controls the optional serial-attached ALPR camera
// ingest bridge (§4.7). Disabled by default; the protocol listener never
// depends on a serial port being present.
type SerialCameraConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Port     string `yaml:"port" json:"port"`
	BaudRate int    `yaml:"baud_rate" json:"baudRate"`
	Road     uint16 `yaml:"road" json:"road"`
	Limit    uint16 `yaml:"limit" json:"limit"`
}

// AuditLogConfig controls the CSV ticket audit trail.
type AuditLogConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// LoggingConfig holds the configured diagnostic log level. It is loaded,
// overridden and saved like every other field, but no package reads it:
// log output is not filtered by level.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"` // "debug", "info", "warn", "error"
}

// DefaultConfig returns a Config with sensible defaults for local use.
func DefaultConfig() *Config {
	return &Config{
		Listen: ":1337",
		Admin: AdminConfig{
			Enabled:    true,
			ListenAddr: ":8081",
		},
		SerialCamera: SerialCameraConfig{
			Enabled:  false,
			Port:     "/dev/ttyALPR",
			BaudRate: 115200,
			Road:     0,
			Limit:    65,
		},
		AuditLog: AuditLogConfig{
			Enabled: false,
			Path:    "/var/log/speed-daemon",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads config from a YAML file at path, then applies ".env" and
// real environment variable overrides. Falls back to defaults if the
// file is missing or malformed.
func Load(path string) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	switch {
	case err != nil:
		log.Printf("[config] no config at %s, using defaults", path)
	case yaml.Unmarshal(data, cfg) != nil:
		log.Printf("[config] error parsing %s, using defaults", path)
		cfg = DefaultConfig()
		cfg.path = path
	default:
		log.Printf("[config] loaded from %s", path)
	}

	for _, ep := range []string{filepath.Join(filepath.Dir(path), ".env"), ".env"} {
		loadEnvFile(ep)
	}
	cfg.applyEnvOverrides()
	return cfg
}

func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads SPEEDD_* environment variables and overrides
// config values. Real environment variables always win over the YAML
// file and any ".env" entry.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SPEEDD_LISTEN_ADDR"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("SPEEDD_ADMIN_LISTEN_ADDR"); v != "" {
		c.Admin.ListenAddr = v
	}
	if v := os.Getenv("SPEEDD_ADMIN_ENABLED"); v != "" {
		c.Admin.Enabled = truthy(v)
	}
	if v := os.Getenv("SPEEDD_SERIAL_CAMERA_ENABLED"); v != "" {
		c.SerialCamera.Enabled = truthy(v)
	}
	if v := os.Getenv("SPEEDD_SERIAL_CAMERA_PORT"); v != "" {
		c.SerialCamera.Port = v
	}
	if v := os.Getenv("SPEEDD_SERIAL_CAMERA_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.SerialCamera.BaudRate = n
		}
	}
	if v := os.Getenv("SPEEDD_AUDIT_LOG_ENABLED"); v != "" {
		c.AuditLog.Enabled = truthy(v)
	}
	if v := os.Getenv("SPEEDD_AUDIT_LOG_PATH"); v != "" {
		c.AuditLog.Path = v
	}
	if v := os.Getenv("SPEEDD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func truthy(v string) bool {
	return v == "1" || v == "true" || v == "yes"
}

// Save writes the config back to its YAML file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.path == "" {
		c.path = "/etc/speed-daemon/config.yaml"
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}
