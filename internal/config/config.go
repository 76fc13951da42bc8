// Package config provides persistent configuration for prayer-alarms.
//
// Configuration is stored as JSON at ~/.config/prayer-alarms/config.json
// (XDG-compliant). The merge priority is: CLI flags > environment >
// config file > defaults.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	configDirName  = "prayer-alarms"
	configFileName = "config.json"
)

// Defaults for optional settings.
const (
	DefaultIqamaDelay   = 15
	DefaultMissedDelay  = 30
	DefaultStaleAfter   = 6 * time.Hour
	DefaultCacheTTLDays = 30
	DefaultListenAddr   = "127.0.0.1:8785"
	DefaultLogLevel     = "info"

	BackendFile  = "file"
	BackendRedis = "redis"
)

// ValidKeys lists all config keys that can be set via `config set`.
var ValidKeys = []string{
	"latitude", "longitude",
	"method",
	"time_format",
	"prayers",
	"cache_dir", "cache_backend", "redis_addr",
	"cache_ttl_days", "stale_after",
	"mqtt_broker", "mqtt_topic",
	"outbox_path",
	"azan",
	"iqama", "iqama_delay",
	"missed_reminders", "missed_delay",
	"notifications",
	"log_level",
	"listen_addr",
}

// Config holds all user-configurable settings.
// Zero values mean "not set" (use defaults or auto-detect).
type Config struct {
	Latitude   float64 `json:"latitude,omitempty"`
	Longitude  float64 `json:"longitude,omitempty"`
	Method     *int    `json:"method,omitempty"`      // pointer so we can distinguish "not set" from 0
	TimeFormat string  `json:"time_format,omitempty"` // "12h" or "24h"
	Prayers    string  `json:"prayers,omitempty"`     // comma-separated list

	CacheDir     string `json:"cache_dir,omitempty"`
	CacheBackend string `json:"cache_backend,omitempty"` // "file" or "redis"
	RedisAddr    string `json:"redis_addr,omitempty"`
	CacheTTLDays *int   `json:"cache_ttl_days,omitempty"`
	StaleAfter   string `json:"stale_after,omitempty"` // Go duration, e.g. "6h"

	MQTTBroker string `json:"mqtt_broker,omitempty"`
	MQTTTopic  string `json:"mqtt_topic,omitempty"`
	OutboxPath string `json:"outbox_path,omitempty"`

	Azan            *bool `json:"azan,omitempty"`
	Iqama           *bool `json:"iqama,omitempty"`
	IqamaDelay      *int  `json:"iqama_delay,omitempty"` // minutes
	MissedReminders *bool `json:"missed_reminders,omitempty"`
	MissedDelay     *int  `json:"missed_delay,omitempty"` // minutes
	Notifications   *bool `json:"notifications,omitempty"`

	LogLevel   string `json:"log_level,omitempty"`
	ListenAddr string `json:"listen_addr,omitempty"`
}

// Defaults returns a Config with all default values applied.
func Defaults() Config {
	method := -1
	ttl := DefaultCacheTTLDays
	iqamaDelay := DefaultIqamaDelay
	missedDelay := DefaultMissedDelay
	yes, no := true, false
	return Config{
		Method:          &method,
		TimeFormat:      "24h",
		CacheBackend:    BackendFile,
		CacheTTLDays:    &ttl,
		StaleAfter:      DefaultStaleAfter.String(),
		Azan:            &yes,
		Iqama:           &no,
		IqamaDelay:      &iqamaDelay,
		MissedReminders: &no,
		MissedDelay:     &missedDelay,
		Notifications:   &yes,
		LogLevel:        DefaultLogLevel,
		ListenAddr:      DefaultListenAddr,
	}
}

// Dir returns the config directory path.
// It respects $XDG_CONFIG_HOME if set, otherwise uses ~/.config/.
func Dir() (string, error) {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, configDirName), nil
}

// Path returns the full path to the config file.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

// Load reads the config file from disk.
// If the file does not exist, it returns an empty Config (not an error).
// If the file exists but is invalid JSON, it returns an error.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}

	return LoadFrom(path)
}

// LoadFrom reads the config from a specific file path.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := Config{}
			return &cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return &cfg, nil
}

// Save writes the config to disk, creating the directory if needed.
func (c *Config) Save() error {
	path, err := Path()
	if err != nil {
		return err
	}

	return c.SaveTo(path)
}

// SaveTo writes the config to a specific file path.
func (c *Config) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Reset deletes the config file.
func Reset() error {
	path, err := Path()
	if err != nil {
		return err
	}

	return ResetAt(path)
}

// ResetAt deletes the config file at a specific path.
func ResetAt(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete config file: %w", err)
	}
	return nil
}

// Set sets a config key to the given value.
// It validates the key name and parses the value into the correct type.
func (c *Config) Set(key, value string) error {
	switch key {
	case "latitude":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid latitude %q: must be a number", value)
		}
		if v < -90 || v > 90 {
			return fmt.Errorf("invalid latitude %q: must be between -90 and 90", value)
		}
		c.Latitude = v
	case "longitude":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid longitude %q: must be a number", value)
		}
		if v < -180 || v > 180 {
			return fmt.Errorf("invalid longitude %q: must be between -180 and 180", value)
		}
		c.Longitude = v
	case "method":
		v, err := parseIntRange(key, value, 0, 23)
		if err != nil {
			return err
		}
		c.Method = &v
	case "time_format":
		if value != "12h" && value != "24h" {
			return fmt.Errorf("invalid time_format %q: must be \"12h\" or \"24h\"", value)
		}
		c.TimeFormat = value
	case "prayers":
		names := strings.Split(value, ",")
		for _, n := range names {
			n = strings.TrimSpace(n)
			if !isValidPrayerName(n) {
				return fmt.Errorf("invalid prayer name %q in prayers list", n)
			}
		}
		c.Prayers = value
	case "cache_dir":
		c.CacheDir = value
	case "cache_backend":
		if value != BackendFile && value != BackendRedis {
			return fmt.Errorf("invalid cache_backend %q: must be %q or %q", value, BackendFile, BackendRedis)
		}
		c.CacheBackend = value
	case "redis_addr":
		c.RedisAddr = value
	case "cache_ttl_days":
		v, err := parseIntRange(key, value, 1, 365)
		if err != nil {
			return err
		}
		c.CacheTTLDays = &v
	case "stale_after":
		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid stale_after %q: must be a positive duration such as \"6h\"", value)
		}
		c.StaleAfter = value
	case "mqtt_broker":
		c.MQTTBroker = value
	case "mqtt_topic":
		c.MQTTTopic = value
	case "outbox_path":
		c.OutboxPath = value
	case "azan":
		return setBool(&c.Azan, key, value)
	case "iqama":
		return setBool(&c.Iqama, key, value)
	case "iqama_delay":
		v, err := parseIntRange(key, value, 0, 120)
		if err != nil {
			return err
		}
		c.IqamaDelay = &v
	case "missed_reminders":
		return setBool(&c.MissedReminders, key, value)
	case "missed_delay":
		v, err := parseIntRange(key, value, 1, 240)
		if err != nil {
			return err
		}
		c.MissedDelay = &v
	case "notifications":
		return setBool(&c.Notifications, key, value)
	case "log_level":
		switch strings.ToLower(value) {
		case "trace", "debug", "info", "warn", "error", "disabled":
		default:
			return fmt.Errorf("invalid log_level %q: must be one of trace, debug, info, warn, error, disabled", value)
		}
		c.LogLevel = strings.ToLower(value)
	case "listen_addr":
		c.ListenAddr = value
	default:
		return fmt.Errorf("unknown config key %q; valid keys: %s", key, strings.Join(ValidKeys, ", "))
	}

	return nil
}

// Get returns the string value of a config key.
func (c *Config) Get(key string) (string, error) {
	switch key {
	case "latitude":
		if c.Latitude == 0 {
			return "", nil
		}
		return strconv.FormatFloat(c.Latitude, 'f', -1, 64), nil
	case "longitude":
		if c.Longitude == 0 {
			return "", nil
		}
		return strconv.FormatFloat(c.Longitude, 'f', -1, 64), nil
	case "method":
		return formatInt(c.Method), nil
	case "time_format":
		return c.TimeFormat, nil
	case "prayers":
		return c.Prayers, nil
	case "cache_dir":
		return c.CacheDir, nil
	case "cache_backend":
		return c.CacheBackend, nil
	case "redis_addr":
		return c.RedisAddr, nil
	case "cache_ttl_days":
		return formatInt(c.CacheTTLDays), nil
	case "stale_after":
		return c.StaleAfter, nil
	case "mqtt_broker":
		return c.MQTTBroker, nil
	case "mqtt_topic":
		return c.MQTTTopic, nil
	case "outbox_path":
		return c.OutboxPath, nil
	case "azan":
		return formatBool(c.Azan), nil
	case "iqama":
		return formatBool(c.Iqama), nil
	case "iqama_delay":
		return formatInt(c.IqamaDelay), nil
	case "missed_reminders":
		return formatBool(c.MissedReminders), nil
	case "missed_delay":
		return formatInt(c.MissedDelay), nil
	case "notifications":
		return formatBool(c.Notifications), nil
	case "log_level":
		return c.LogLevel, nil
	case "listen_addr":
		return c.ListenAddr, nil
	default:
		return "", fmt.Errorf("unknown config key %q", key)
	}
}

func parseIntRange(key, value string, lo, hi int) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: must be an integer", key, value)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("invalid %s %q: must be between %d and %d", key, value, lo, hi)
	}
	return v, nil
}

func setBool(dst **bool, key, value string) error {
	v, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: must be true or false", key, value)
	}
	*dst = &v
	return nil
}

func formatInt(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}

func formatBool(p *bool) string {
	if p == nil {
		return ""
	}
	return strconv.FormatBool(*p)
}

// validPrayerNames are the prayer names the API supports.
var validPrayerNames = map[string]bool{
	"Fajr": true, "Sunrise": true, "Dhuhr": true, "Asr": true,
	"Sunset": true, "Maghrib": true, "Isha": true,
	"Imsak": true, "Midnight": true, "Firstthird": true, "Lastthird": true,
}

func isValidPrayerName(name string) bool {
	return validPrayerNames[name]
}

// MethodOrDefault returns the method value, falling back to the given default.
func (c *Config) MethodOrDefault(def int) int {
	if c.Method != nil {
		return *c.Method
	}
	return def
}

// HasCoordinates reports whether a location is configured.
func (c *Config) HasCoordinates() bool {
	return c.Latitude != 0 || c.Longitude != 0
}

func boolOr(p *bool, def bool) bool {
	if p != nil {
		return *p
	}
	return def
}

func intOr(p *int, def int) int {
	if p != nil {
		return *p
	}
	return def
}

// AzanEnabled defaults to true.
func (c *Config) AzanEnabled() bool { return boolOr(c.Azan, true) }

// IqamaEnabled defaults to false.
func (c *Config) IqamaEnabled() bool { return boolOr(c.Iqama, false) }

func (c *Config) IqamaDelayMinutes() int { return intOr(c.IqamaDelay, DefaultIqamaDelay) }

// MissedRemindersEnabled defaults to false.
func (c *Config) MissedRemindersEnabled() bool { return boolOr(c.MissedReminders, false) }

func (c *Config) MissedDelayMinutes() int { return intOr(c.MissedDelay, DefaultMissedDelay) }

// NotificationsAllowed defaults to true.
func (c *Config) NotificationsAllowed() bool { return boolOr(c.Notifications, true) }

// CacheTTL returns the record lifetime.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(intOr(c.CacheTTLDays, DefaultCacheTTLDays)) * 24 * time.Hour
}

// StaleAfterDuration parses StaleAfter, falling back to DefaultStaleAfter.
func (c *Config) StaleAfterDuration() time.Duration {
	if d, err := time.ParseDuration(c.StaleAfter); err == nil && d > 0 {
		return d
	}
	return DefaultStaleAfter
}

// Backend returns the configured cache backend, "file" when unset.
func (c *Config) Backend() string {
	if c.CacheBackend == "" {
		return BackendFile
	}
	return c.CacheBackend
}
