package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// tempConfigPath returns a path to a config file inside a temp directory.
func tempConfigPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "config.json")
}

// --- Defaults ---

func TestDefaults(t *testing.T) {
	d := Defaults()

	if d.Method == nil || *d.Method != -1 {
		t.Errorf("Defaults().Method = %v, want -1", d.Method)
	}
	if d.TimeFormat != "24h" {
		t.Errorf("Defaults().TimeFormat = %q, want %q", d.TimeFormat, "24h")
	}
	if d.CacheBackend != BackendFile {
		t.Errorf("Defaults().CacheBackend = %q, want %q", d.CacheBackend, BackendFile)
	}
	if !d.AzanEnabled() {
		t.Error("Defaults().AzanEnabled() = false, want true")
	}
	if d.IqamaEnabled() || d.MissedRemindersEnabled() {
		t.Error("iqama and missed reminders should default to off")
	}
	if !d.NotificationsAllowed() {
		t.Error("Defaults().NotificationsAllowed() = false, want true")
	}
	if d.ListenAddr != DefaultListenAddr {
		t.Errorf("Defaults().ListenAddr = %q, want %q", d.ListenAddr, DefaultListenAddr)
	}

	// Location is auto-detected unless configured.
	if d.HasCoordinates() {
		t.Error("Defaults() should have no coordinates")
	}
	if d.Prayers != "" || d.CacheDir != "" || d.MQTTBroker != "" {
		t.Error("Defaults() should leave prayers, cache_dir and mqtt_broker empty")
	}
}

func TestAccessors_EmptyConfigUsesDefaults(t *testing.T) {
	cfg := &Config{}

	if got := cfg.IqamaDelayMinutes(); got != DefaultIqamaDelay {
		t.Errorf("IqamaDelayMinutes = %d, want %d", got, DefaultIqamaDelay)
	}
	if got := cfg.MissedDelayMinutes(); got != DefaultMissedDelay {
		t.Errorf("MissedDelayMinutes = %d, want %d", got, DefaultMissedDelay)
	}
	if got := cfg.CacheTTL(); got != 30*24*time.Hour {
		t.Errorf("CacheTTL = %v, want 720h", got)
	}
	if got := cfg.StaleAfterDuration(); got != DefaultStaleAfter {
		t.Errorf("StaleAfterDuration = %v, want %v", got, DefaultStaleAfter)
	}
	if got := cfg.Backend(); got != BackendFile {
		t.Errorf("Backend = %q, want %q", got, BackendFile)
	}
	if !cfg.AzanEnabled() || !cfg.NotificationsAllowed() {
		t.Error("azan and notifications should default to on")
	}
}

func TestAccessors_ExplicitValues(t *testing.T) {
	cfg := &Config{}
	for k, v := range map[string]string{
		"azan":             "false",
		"iqama":            "true",
		"iqama_delay":      "0",
		"missed_reminders": "true",
		"missed_delay":     "45",
		"cache_ttl_days":   "7",
		"stale_after":      "90m",
		"cache_backend":    "redis",
	} {
		if err := cfg.Set(k, v); err != nil {
			t.Fatalf("Set(%q, %q): %v", k, v, err)
		}
	}

	if cfg.AzanEnabled() {
		t.Error("AzanEnabled = true, want false")
	}
	if !cfg.IqamaEnabled() {
		t.Error("IqamaEnabled = false, want true")
	}
	if got := cfg.IqamaDelayMinutes(); got != 0 {
		t.Errorf("IqamaDelayMinutes = %d, want 0", got)
	}
	if !cfg.MissedRemindersEnabled() {
		t.Error("MissedRemindersEnabled = false, want true")
	}
	if got := cfg.MissedDelayMinutes(); got != 45 {
		t.Errorf("MissedDelayMinutes = %d, want 45", got)
	}
	if got := cfg.CacheTTL(); got != 7*24*time.Hour {
		t.Errorf("CacheTTL = %v, want 168h", got)
	}
	if got := cfg.StaleAfterDuration(); got != 90*time.Minute {
		t.Errorf("StaleAfterDuration = %v, want 1h30m", got)
	}
	if got := cfg.Backend(); got != BackendRedis {
		t.Errorf("Backend = %q, want %q", got, BackendRedis)
	}
}

func TestHasCoordinates(t *testing.T) {
	if (&Config{Latitude: 24.7}).HasCoordinates() != true {
		t.Error("latitude only should count as configured")
	}
	if (&Config{}).HasCoordinates() {
		t.Error("empty config should have no coordinates")
	}
}

// --- Dir and Path with XDG ---

func TestDir_XDGConfigHome(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg-test")

	dir, err := Dir()
	if err != nil {
		t.Fatalf("Dir() error: %v", err)
	}

	want := filepath.Join("/tmp/xdg-test", "prayer-alarms")
	if dir != want {
		t.Errorf("Dir() = %q, want %q", dir, want)
	}
}

func TestDir_FallbackToHome(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")

	dir, err := Dir()
	if err != nil {
		t.Fatalf("Dir() error: %v", err)
	}

	home, _ := os.UserHomeDir()
	want := filepath.Join(home, ".config", "prayer-alarms")
	if dir != want {
		t.Errorf("Dir() = %q, want %q", dir, want)
	}
}

func TestPath_XDGConfigHome(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg-test")

	p, err := Path()
	if err != nil {
		t.Fatalf("Path() error: %v", err)
	}

	want := filepath.Join("/tmp/xdg-test", "prayer-alarms", "config.json")
	if p != want {
		t.Errorf("Path() = %q, want %q", p, want)
	}
}

// --- LoadFrom ---

func TestLoadFrom_NonExistentFile(t *testing.T) {
	cfg, err := LoadFrom("/no/such/file.json")
	if err != nil {
		t.Fatalf("LoadFrom non-existent should not error, got: %v", err)
	}
	if cfg.HasCoordinates() || cfg.Method != nil {
		t.Error("LoadFrom non-existent should return empty config")
	}
}

func TestLoadFrom_ValidJSON(t *testing.T) {
	path := tempConfigPath(t)

	raw := `{"latitude": 24.7136, "longitude": 46.6753, "method": 4, "iqama": true, "iqama_delay": 20}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom error: %v", err)
	}

	if cfg.Latitude != 24.7136 || cfg.Longitude != 46.6753 {
		t.Errorf("coords = (%f, %f), want (24.7136, 46.6753)", cfg.Latitude, cfg.Longitude)
	}
	if cfg.Method == nil || *cfg.Method != 4 {
		t.Errorf("Method = %v, want 4", cfg.Method)
	}
	if !cfg.IqamaEnabled() || cfg.IqamaDelayMinutes() != 20 {
		t.Errorf("iqama = %v/%d, want true/20", cfg.IqamaEnabled(), cfg.IqamaDelayMinutes())
	}
}

func TestLoadFrom_InvalidJSON(t *testing.T) {
	path := tempConfigPath(t)
	if err := os.WriteFile(path, []byte("{bad json"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFrom(path); err == nil {
		t.Fatal("LoadFrom with invalid JSON should error")
	}
}

func TestLoadFrom_MethodZero(t *testing.T) {
	// Method 0 (Jafari) is valid and distinct from "not set".
	path := tempConfigPath(t)
	if err := os.WriteFile(path, []byte(`{"method": 0}`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom error: %v", err)
	}
	if cfg.Method == nil {
		t.Fatal("Method should not be nil for method=0")
	}
	if *cfg.Method != 0 {
		t.Errorf("Method = %d, want 0", *cfg.Method)
	}
}

func TestLoadFrom_FalseBoolIsKept(t *testing.T) {
	path := tempConfigPath(t)
	if err := os.WriteFile(path, []byte(`{"azan": false}`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.AzanEnabled() {
		t.Error("azan=false in file should disable azan")
	}
}

// --- SaveTo ---

func TestSaveTo_CreatesDirectoryAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "dir", "config.json")

	cfg := &Config{}
	cfg.Set("method", "2")
	cfg.Set("mqtt_broker", "tcp://localhost:1883")

	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("file not created: %v", err)
	}
	if len(data) == 0 || data[len(data)-1] != '\n' {
		t.Error("saved file should end with a newline")
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("saved file has invalid JSON: %v", err)
	}
	if loaded.MQTTBroker != "tcp://localhost:1883" {
		t.Errorf("loaded MQTTBroker = %q", loaded.MQTTBroker)
	}
	if loaded.Method == nil || *loaded.Method != 2 {
		t.Errorf("loaded Method = %v, want 2", loaded.Method)
	}
}

// --- ResetAt ---

func TestResetAt_DeletesFile(t *testing.T) {
	path := tempConfigPath(t)
	cfg := &Config{Latitude: 1}
	if err := cfg.SaveTo(path); err != nil {
		t.Fatal(err)
	}

	if err := ResetAt(path); err != nil {
		t.Fatalf("ResetAt error: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("ResetAt should have deleted the file")
	}
}

func TestResetAt_NonExistentFile(t *testing.T) {
	if err := ResetAt("/no/such/file.json"); err != nil {
		t.Errorf("ResetAt on non-existent file should not error, got: %v", err)
	}
}

// --- Set ---

func TestSet_Latitude(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    float64
		wantErr bool
	}{
		{"valid positive", "51.5074", 51.5074, false},
		{"valid negative", "-33.8688", -33.8688, false},
		{"boundary 90", "90", 90, false},
		{"too high", "91", 0, true},
		{"not a number", "abc", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			err := cfg.Set("latitude", tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("Set(latitude, %q) error = %v, wantErr = %v", tt.value, err, tt.wantErr)
			}
			if !tt.wantErr && cfg.Latitude != tt.want {
				t.Errorf("Latitude = %f, want %f", cfg.Latitude, tt.want)
			}
		})
	}
}

func TestSet_Longitude(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"valid", "46.6753", false},
		{"boundary -180", "-180", false},
		{"too low", "-181", true},
		{"not a number", "xyz", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			err := cfg.Set("longitude", tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("Set(longitude, %q) error = %v, wantErr = %v", tt.value, err, tt.wantErr)
			}
		})
	}
}

func TestSet_IntRanges(t *testing.T) {
	tests := []struct {
		key     string
		value   string
		wantErr bool
	}{
		{"method", "0", false},
		{"method", "23", false},
		{"method", "24", true},
		{"method", "-1", true},
		{"iqama_delay", "0", false},
		{"iqama_delay", "120", false},
		{"iqama_delay", "121", true},
		{"missed_delay", "0", true},
		{"missed_delay", "30", false},
		{"cache_ttl_days", "0", true},
		{"cache_ttl_days", "365", false},
		{"cache_ttl_days", "x", true},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			cfg := &Config{}
			err := cfg.Set(tt.key, tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("Set(%s, %q) error = %v, wantErr = %v", tt.key, tt.value, err, tt.wantErr)
			}
		})
	}
}

func TestSet_Bools(t *testing.T) {
	for _, key := range []string{"azan", "iqama", "missed_reminders", "notifications"} {
		t.Run(key, func(t *testing.T) {
			cfg := &Config{}
			if err := cfg.Set(key, "yes"); err == nil {
				t.Errorf("Set(%s, yes) should error", key)
			}
			if err := cfg.Set(key, "false"); err != nil {
				t.Fatalf("Set(%s, false): %v", key, err)
			}
			if got, _ := cfg.Get(key); got != "false" {
				t.Errorf("Get(%s) = %q, want %q", key, got, "false")
			}
		})
	}
}

func TestSet_Enums(t *testing.T) {
	tests := []struct {
		key     string
		value   string
		wantErr bool
	}{
		{"time_format", "12h", false},
		{"time_format", "invalid", true},
		{"cache_backend", "file", false},
		{"cache_backend", "redis", false},
		{"cache_backend", "memcached", true},
		{"log_level", "DEBUG", false},
		{"log_level", "verbose", true},
		{"stale_after", "6h", false},
		{"stale_after", "-1h", true},
		{"stale_after", "six hours", true},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			cfg := &Config{}
			err := cfg.Set(tt.key, tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("Set(%s, %q) error = %v, wantErr = %v", tt.key, tt.value, err, tt.wantErr)
			}
		})
	}
}

func TestSet_Prayers(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"single valid", "Fajr", false},
		{"multiple valid", "Fajr,Dhuhr,Asr,Maghrib,Isha", false},
		{"invalid name", "InvalidPrayer", true},
		{"empty name in list", "Fajr,,Dhuhr", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			err := cfg.Set("prayers", tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("Set(prayers, %q) error = %v, wantErr = %v", tt.value, err, tt.wantErr)
			}
		})
	}
}

func TestSet_UnknownKey(t *testing.T) {
	cfg := &Config{}
	for _, key := range []string{"unknown_key", "city", "school"} {
		if err := cfg.Set(key, "value"); err == nil {
			t.Errorf("Set(%q) should error", key)
		}
	}
}

// --- Get ---

func TestGet_EmptyConfig(t *testing.T) {
	cfg := &Config{}

	for _, key := range ValidKeys {
		got, err := cfg.Get(key)
		if err != nil {
			t.Errorf("Get(%q) error: %v", key, err)
		}
		if got != "" {
			t.Errorf("Get(%q) = %q, want empty for empty config", key, got)
		}
	}
}

func TestGet_UnknownKey(t *testing.T) {
	cfg := &Config{}
	if _, err := cfg.Get("unknown_key"); err == nil {
		t.Fatal("Get with unknown key should error")
	}
}

// --- MethodOrDefault ---

func TestMethodOrDefault(t *testing.T) {
	zero, four := 0, 4
	tests := []struct {
		name   string
		method *int
		want   int
	}{
		{"set", &four, 4},
		{"nil", nil, 2},
		{"zero", &zero, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Method: tt.method}
			if got := cfg.MethodOrDefault(2); got != tt.want {
				t.Errorf("MethodOrDefault = %d, want %d", got, tt.want)
			}
		})
	}
}

// --- JSON ---

func TestConfig_OmitEmpty_JSON(t *testing.T) {
	data, err := json.Marshal(&Config{})
	if err != nil {
		t.Fatal(err)
	}
	if got := string(data); got != "{}" {
		t.Errorf("empty config JSON = %s, want {}", got)
	}
}

// --- Set then Get round-trip ---

func TestSetThenGet_RoundTrip(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"latitude", "24.7136"},
		{"longitude", "46.6753"},
		{"method", "4"},
		{"time_format", "12h"},
		{"prayers", "Fajr,Dhuhr,Asr,Maghrib,Isha"},
		{"cache_dir", "/tmp/cache"},
		{"cache_backend", "redis"},
		{"redis_addr", "localhost:6379"},
		{"cache_ttl_days", "14"},
		{"stale_after", "2h"},
		{"mqtt_broker", "tcp://broker:1883"},
		{"mqtt_topic", "home/prayers"},
		{"outbox_path", "/tmp/outbox.db"},
		{"azan", "true"},
		{"iqama", "true"},
		{"iqama_delay", "10"},
		{"missed_reminders", "true"},
		{"missed_delay", "40"},
		{"notifications", "false"},
		{"log_level", "debug"},
		{"listen_addr", ":9000"},
	}

	if len(tests) != len(ValidKeys) {
		t.Fatalf("round-trip covers %d keys, ValidKeys has %d", len(tests), len(ValidKeys))
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			cfg := &Config{}
			if err := cfg.Set(tt.key, tt.value); err != nil {
				t.Fatalf("Set(%q, %q) error: %v", tt.key, tt.value, err)
			}
			got, err := cfg.Get(tt.key)
			if err != nil {
				t.Fatalf("Get(%q) error: %v", tt.key, err)
			}
			if got != tt.value {
				t.Errorf("Set/Get round-trip: got %q, want %q", got, tt.value)
			}
		})
	}
}

// --- Full integration: Set -> SaveTo -> LoadFrom -> Get ---

func TestSetSaveLoadGet_Integration(t *testing.T) {
	path := tempConfigPath(t)

	cfg := &Config{}
	cfg.Set("latitude", "21.4225")
	cfg.Set("method", "4")
	cfg.Set("missed_reminders", "false")
	cfg.Set("time_format", "12h")

	if err := cfg.SaveTo(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}

	checks := []struct {
		key, want string
	}{
		{"latitude", "21.4225"},
		{"method", "4"},
		{"missed_reminders", "false"},
		{"time_format", "12h"},
	}

	for _, c := range checks {
		got, _ := loaded.Get(c.key)
		if got != c.want {
			t.Errorf("After save/load: Get(%q) = %q, want %q", c.key, got, c.want)
		}
	}
}
