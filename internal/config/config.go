// Package config provides application configuration management.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/oszuidwest/zwfm-levelmon/internal/types"
	"github.com/oszuidwest/zwfm-levelmon/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultWebPort       = 8080
	DefaultWebUsername   = "admin"
	DefaultWebPassword   = "levelmon"
	DefaultLogLevel      = "info"
	DefaultEventLogPath  = "events.jsonl"
	DefaultArchivePrefix = "levelmon/"
	DefaultZabbixPort    = 10051
)

// logLevels maps accepted log_level values to slog levels.
var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// WebConfig holds HTTP server settings that require restart.
type WebConfig struct {
	Port     int    `json:"port"`     // HTTP server port
	Username string `json:"username"` // Login username
	Password string `json:"password"` // Login password
}

// AudioConfig holds device selection per source.
type AudioConfig struct {
	MicrophoneDevice string         `json:"microphone_device"` // Capture device ID (empty = OS default)
	SystemDevice     string         `json:"system_device"`     // Loopback endpoint ID (empty = OS default)
	Autostart        []types.Source `json:"autostart"`         // Sources started at boot
}

// EventLogConfig holds the lifecycle event log location.
type EventLogConfig struct {
	Path string `json:"path"`
}

// EmailConfig holds Microsoft Graph email notification settings.
type EmailConfig struct {
	TenantID     string `json:"tenant_id"`     // Azure AD tenant ID
	ClientID     string `json:"client_id"`     // App registration client ID
	ClientSecret string `json:"client_secret"` // App registration client secret
	FromAddress  string `json:"from_address"`  // Shared mailbox sender address
	Recipients   string `json:"recipients"`    // Comma-separated recipient addresses
}

// NotificationsConfig holds notification channel settings.
type NotificationsConfig struct {
	WebhookURL string      `json:"webhook_url"` // Receives monitor failure events
	Email      EmailConfig `json:"email"`       // Failure mails via Microsoft Graph

	ZabbixServer string `json:"zabbix_server"` // Zabbix server or proxy hostname
	ZabbixPort   int    `json:"zabbix_port"`   // Trapper port
	ZabbixHost   string `json:"zabbix_host"`   // Monitored host name in Zabbix
	ZabbixKey    string `json:"zabbix_key"`    // Trapper item key
}

// ArchiveConfig holds S3-compatible storage settings for event log archives.
type ArchiveConfig struct {
	Endpoint        string `json:"endpoint"` // Custom endpoint (empty = AWS)
	Bucket          string `json:"bucket"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	Prefix          string `json:"prefix"`         // Key prefix for uploaded archives
	Daily           bool   `json:"daily"`          // Archive automatically every night
	RetentionDays   int    `json:"retention_days"` // Delete older archives (0 = keep forever)
}

// Config holds all application configuration. It is safe for concurrent use.
type Config struct {
	Web           WebConfig           `json:"web"`
	Audio         AudioConfig         `json:"audio"`
	LogLevel      string              `json:"log_level"`
	EventLog      EventLogConfig      `json:"event_log"`
	Notifications NotificationsConfig `json:"notifications"`
	Archive       ArchiveConfig       `json:"archive"`

	mu       sync.RWMutex
	filePath string
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	return &Config{
		Web: WebConfig{
			Port:     DefaultWebPort,
			Username: DefaultWebUsername,
			Password: DefaultWebPassword,
		},
		Audio:    AudioConfig{Autostart: []types.Source{}},
		LogLevel: DefaultLogLevel,
		EventLog: EventLogConfig{Path: DefaultEventLogPath},
		Archive:  ArchiveConfig{Prefix: DefaultArchivePrefix},
		Notifications: NotificationsConfig{
			ZabbixPort: DefaultZabbixPort,
		},
		filePath: filePath,
	}
}

// Load reads config from file, creating a default if none exists.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.filePath)
	if os.IsNotExist(err) {
		return c.saveLocked()
	}
	if err != nil {
		return util.WrapError("read config", err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return util.WrapError("parse config", err)
	}

	c.applyDefaults()

	return c.validate()
}

// validate checks all configuration fields for correctness.
func (c *Config) validate() error {
	if c.Web.Port < 1 || c.Web.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 1-65535", c.Web.Port)
	}
	if _, ok := logLevels[c.LogLevel]; !ok {
		return fmt.Errorf("invalid log_level %q: must be debug, info, warn or error", c.LogLevel)
	}
	for _, src := range c.Audio.Autostart {
		if !src.IsValid() {
			return fmt.Errorf("invalid autostart source %q", src)
		}
	}
	if err := util.ValidatePath("event_log.path", c.EventLog.Path); err != nil {
		return err
	}
	if err := validateWebhookURL(c.Notifications.WebhookURL); err != nil {
		return err
	}
	if c.Archive.RetentionDays < 0 {
		return fmt.Errorf("invalid archive.retention_days %d: must not be negative", c.Archive.RetentionDays)
	}
	if c.Notifications.ZabbixPort < 1 || c.Notifications.ZabbixPort > 65535 {
		return fmt.Errorf("invalid zabbix_port %d: must be 1-65535", c.Notifications.ZabbixPort)
	}
	return nil
}

// validateWebhookURL accepts an empty value or an absolute http(s) URL.
func validateWebhookURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("invalid webhook_url %q: must be an http or https URL", raw)
	}
	return nil
}

// applyDefaults sets default values for zero-value fields.
func (c *Config) applyDefaults() {
	if c.Web.Port == 0 {
		c.Web.Port = DefaultWebPort
	}
	if c.Web.Username == "" {
		c.Web.Username = DefaultWebUsername
	}
	if c.Web.Password == "" {
		c.Web.Password = DefaultWebPassword
	}
	if c.Audio.Autostart == nil {
		c.Audio.Autostart = []types.Source{}
	}
	c.LogLevel = strings.ToLower(c.LogLevel)
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.EventLog.Path == "" {
		c.EventLog.Path = DefaultEventLogPath
	}
	if c.Archive.Prefix == "" {
		c.Archive.Prefix = DefaultArchivePrefix
	}
	if c.Notifications.ZabbixPort == 0 {
		c.Notifications.ZabbixPort = DefaultZabbixPort
	}
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return util.WrapError("marshal config", err)
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}

	if err := os.WriteFile(c.filePath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}

	return nil
}

// --- Getters for individual settings ---

// DeviceFor returns the configured device ID for source. Empty selects the OS default.
func (c *Config) DeviceFor(source types.Source) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if source == types.SourceSystem {
		return c.Audio.SystemDevice
	}
	return c.Audio.MicrophoneDevice
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if lvl, ok := logLevels[c.LogLevel]; ok {
		return lvl
	}
	return slog.LevelInfo
}

// --- Setters for individual settings ---

// SetAudioDevices updates the device selection and saves the configuration.
// Running samplers keep their device until they are restarted.
func (c *Config) SetAudioDevices(microphone, system string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Audio.MicrophoneDevice = microphone
	c.Audio.SystemDevice = system
	return c.saveLocked()
}

// SetAutostart updates the sources started at boot and saves the configuration.
func (c *Config) SetAutostart(sources []types.Source) error {
	for _, src := range sources {
		if !src.IsValid() {
			return fmt.Errorf("invalid autostart source %q", src)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Audio.Autostart = slices.Compact(slices.Sorted(slices.Values(sources)))
	return c.saveLocked()
}

// SetWebhookURL updates the webhook URL and saves the configuration.
func (c *Config) SetWebhookURL(raw string) error {
	if err := validateWebhookURL(raw); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.WebhookURL = raw
	return c.saveLocked()
}

// SetZabbixConfig updates the Zabbix trapper settings and saves the configuration.
func (c *Config) SetZabbixConfig(server string, port int, host, key string) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid zabbix_port %d: must be 1-65535", port)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.ZabbixServer = server
	c.Notifications.ZabbixPort = port
	c.Notifications.ZabbixHost = host
	c.Notifications.ZabbixKey = key
	return c.saveLocked()
}

// SetGraphConfig updates the Microsoft Graph email settings and saves the configuration.
func (c *Config) SetGraphConfig(tenantID, clientID, clientSecret, fromAddress, recipients string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Email = EmailConfig{
		TenantID:     tenantID,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		FromAddress:  fromAddress,
		Recipients:   recipients,
	}
	return c.saveLocked()
}

// --- Snapshot for atomic reads ---

// Snapshot is a point-in-time copy of configuration values.
type Snapshot struct {
	// Web
	WebPort     int
	WebUser     string
	WebPassword string

	// Audio
	MicrophoneDevice string
	SystemDevice     string
	Autostart        []types.Source

	// Logging
	LogLevel     string
	EventLogPath string

	// Notifications
	WebhookURL   string
	ZabbixServer string
	ZabbixPort   int
	ZabbixHost   string
	ZabbixKey    string

	GraphTenantID     string
	GraphClientID     string
	GraphClientSecret string
	GraphFromAddress  string
	GraphRecipients   string

	// Archive
	ArchiveEndpoint        string
	ArchiveBucket          string
	ArchiveAccessKeyID     string
	ArchiveSecretAccessKey string
	ArchivePrefix          string
	ArchiveDaily           bool
	ArchiveRetentionDays   int
}

// Snapshot returns a point-in-time copy of all configuration values.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		WebPort:     c.Web.Port,
		WebUser:     c.Web.Username,
		WebPassword: c.Web.Password,

		MicrophoneDevice: c.Audio.MicrophoneDevice,
		SystemDevice:     c.Audio.SystemDevice,
		Autostart:        slices.Clone(c.Audio.Autostart),

		LogLevel:     c.LogLevel,
		EventLogPath: c.eventLogPathLocked(),

		WebhookURL:   c.Notifications.WebhookURL,
		ZabbixServer: c.Notifications.ZabbixServer,
		ZabbixPort:   c.Notifications.ZabbixPort,
		ZabbixHost:   c.Notifications.ZabbixHost,
		ZabbixKey:    c.Notifications.ZabbixKey,

		GraphTenantID:     c.Notifications.Email.TenantID,
		GraphClientID:     c.Notifications.Email.ClientID,
		GraphClientSecret: c.Notifications.Email.ClientSecret,
		GraphFromAddress:  c.Notifications.Email.FromAddress,
		GraphRecipients:   c.Notifications.Email.Recipients,

		ArchiveEndpoint:        c.Archive.Endpoint,
		ArchiveBucket:          c.Archive.Bucket,
		ArchiveAccessKeyID:     c.Archive.AccessKeyID,
		ArchiveSecretAccessKey: c.Archive.SecretAccessKey,
		ArchivePrefix:          c.Archive.Prefix,
		ArchiveDaily:           c.Archive.Daily,
		ArchiveRetentionDays:   c.Archive.RetentionDays,
	}
}

// eventLogPathLocked resolves a relative event log path against the
// directory holding the config file.
func (c *Config) eventLogPathLocked() string {
	if filepath.IsAbs(c.EventLog.Path) || c.filePath == "" {
		return c.EventLog.Path
	}
	return filepath.Join(filepath.Dir(c.filePath), c.EventLog.Path)
}

// HasWebhook reports whether a webhook URL is configured.
func (s *Snapshot) HasWebhook() bool {
	return s.WebhookURL != ""
}

// HasZabbix reports whether Zabbix notifications are configured.
func (s *Snapshot) HasZabbix() bool {
	return util.IsConfigured(s.ZabbixServer, s.ZabbixHost, s.ZabbixKey)
}

// HasGraph reports whether Microsoft Graph email notifications are configured.
func (s *Snapshot) HasGraph() bool {
	return util.IsConfigured(s.GraphTenantID, s.GraphClientID, s.GraphClientSecret, s.GraphFromAddress, s.GraphRecipients)
}

// HasArchive reports whether event log archiving is configured.
func (s *Snapshot) HasArchive() bool {
	return util.IsConfigured(s.ArchiveBucket, s.ArchiveAccessKeyID, s.ArchiveSecretAccessKey)
}

// Public returns the snapshot as a client-safe map with secrets masked.
func (s *Snapshot) Public() map[string]any {
	return map[string]any{
		"web": map[string]any{
			"port":     s.WebPort,
			"username": s.WebUser,
		},
		"audio": map[string]any{
			"microphone_device": s.MicrophoneDevice,
			"system_device":     s.SystemDevice,
			"autostart":         s.Autostart,
		},
		"log_level": s.LogLevel,
		"event_log": map[string]any{"path": s.EventLogPath},
		"notifications": map[string]any{
			"webhook_url":   s.WebhookURL,
			"zabbix_server": s.ZabbixServer,
			"zabbix_port":   s.ZabbixPort,
			"zabbix_host":   s.ZabbixHost,
			"zabbix_key":    s.ZabbixKey,
			"email": map[string]any{
				"tenant_id":    s.GraphTenantID,
				"client_id":    s.GraphClientID,
				"from_address": s.GraphFromAddress,
				"recipients":   s.GraphRecipients,
				"configured":   s.HasGraph(),
			},
		},
		"archive": map[string]any{
			"endpoint":       s.ArchiveEndpoint,
			"bucket":         s.ArchiveBucket,
			"prefix":         s.ArchivePrefix,
			"daily":          s.ArchiveDaily,
			"retention_days": s.ArchiveRetentionDays,
			"configured":     s.HasArchive(),
		},
	}
}
