// Package config loads the realtime service configuration from a yaml
// file with environment variable overrides for deployment knobs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the root configuration for the realtime service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Hub       HubConfig       `yaml:"hub"`
	Merge     MergeConfig     `yaml:"merge"`
	Redis     RedisConfig     `yaml:"redis"`
	Supabase  SupabaseConfig  `yaml:"supabase"`
	VATSIM    VATSIMConfig    `yaml:"vatsim"`
	Analytics AnalyticsConfig `yaml:"analytics"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	Env  string `yaml:"env"`
}

// HubConfig carries the per-hub tunables. All durations are parsed from
// millisecond values to match the wire protocol's timestamp unit.
type HubConfig struct {
	HeartbeatIntervalMs int `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeoutMs  int `yaml:"heartbeat_timeout_ms"`
	MaxStateSize        int `yaml:"max_state_size"`
	MaxPacketChars      int `yaml:"max_packet_chars"`
	MaxPatchSize        int `yaml:"max_patch_size"`
	StaleTTLMs          int `yaml:"stale_ttl_ms"`
	IdentityTimeoutMs   int `yaml:"identity_timeout_ms"`
	ActiveHubThrottleMs int `yaml:"active_hub_throttle_ms"`
}

type MergeConfig struct {
	MaxDepth      int `yaml:"max_depth"`
	MaxProperties int `yaml:"max_properties"`
	MaxArraySize  int `yaml:"max_array_size"`
	MaxKeyLength  int `yaml:"max_key_length"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type SupabaseConfig struct {
	URL        string `yaml:"url"`
	ServiceKey string `yaml:"service_key"`
}

type VATSIMConfig struct {
	BaseURL string `yaml:"base_url"`
}

type AnalyticsConfig struct {
	ProjectID string `yaml:"project_id"`
	TopicID   string `yaml:"topic_id"`
	Buffer    int    `yaml:"buffer"`
}

// Defaults returns a Config populated with the documented default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8080",
			Env:  "development",
		},
		Hub: HubConfig{
			HeartbeatIntervalMs: 60_000,
			HeartbeatTimeoutMs:  70_000,
			MaxStateSize:        1_000_000,
			MaxPacketChars:      50_000,
			MaxPatchSize:        10_240,
			StaleTTLMs:          120_000,
			IdentityTimeoutMs:   5_000,
			ActiveHubThrottleMs: 5_000,
		},
		Merge: MergeConfig{
			MaxDepth:      20,
			MaxProperties: 100,
			MaxArraySize:  1000,
			MaxKeyLength:  100,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "bars:",
		},
		VATSIM: VATSIMConfig{
			BaseURL: "https://data.vatsim.net/v3",
		},
		Analytics: AnalyticsConfig{
			TopicID: "bars-events",
			Buffer:  1024,
		},
	}
}

// Load reads the yaml config at path (optional) and applies environment
// overrides on top of the defaults. A missing file is not an error; the
// service can run entirely from environment variables.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("open config: %w", err)
			}
		} else {
			defer f.Close()
			if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
				return nil, fmt.Errorf("decode config: %w", err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Server.Addr, "ADDR")
	setString(&c.Server.Env, "ENV")

	setInt(&c.Hub.HeartbeatIntervalMs, "HEARTBEAT_INTERVAL")
	setInt(&c.Hub.HeartbeatTimeoutMs, "HEARTBEAT_TIMEOUT")
	setInt(&c.Hub.MaxStateSize, "MAX_STATE_SIZE")
	setInt(&c.Hub.MaxPacketChars, "MAX_PACKET_CHARS")
	setInt(&c.Hub.MaxPatchSize, "MAX_PATCH_SIZE")
	setInt(&c.Hub.StaleTTLMs, "STALE_TTL")
	setInt(&c.Hub.IdentityTimeoutMs, "IDENTITY_TIMEOUT")
	setInt(&c.Hub.ActiveHubThrottleMs, "ACTIVE_HUB_THROTTLE")

	setInt(&c.Merge.MaxDepth, "MERGE_MAX_DEPTH")
	setInt(&c.Merge.MaxProperties, "MAX_PROPERTIES")
	setInt(&c.Merge.MaxArraySize, "MAX_ARRAY_SIZE")

	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.Supabase.URL, "SUPABASE_URL")
	setString(&c.Supabase.ServiceKey, "SUPABASE_SERVICE_KEY")
	setString(&c.VATSIM.BaseURL, "VATSIM_BASE_URL")
	setString(&c.Analytics.ProjectID, "ANALYTICS_PROJECT_ID")
	setString(&c.Analytics.TopicID, "ANALYTICS_TOPIC_ID")
}

func (c *Config) validate() error {
	if c.Hub.HeartbeatIntervalMs <= 0 {
		return fmt.Errorf("heartbeat_interval_ms must be positive, got %d", c.Hub.HeartbeatIntervalMs)
	}
	if c.Hub.HeartbeatTimeoutMs <= c.Hub.HeartbeatIntervalMs {
		return fmt.Errorf("heartbeat_timeout_ms (%d) must exceed heartbeat_interval_ms (%d)",
			c.Hub.HeartbeatTimeoutMs, c.Hub.HeartbeatIntervalMs)
	}
	if c.Merge.MaxDepth <= 0 || c.Merge.MaxProperties <= 0 || c.Merge.MaxArraySize <= 0 {
		return fmt.Errorf("merge guards must be positive")
	}
	if c.Hub.MaxPacketChars <= 0 {
		return fmt.Errorf("max_packet_chars must be positive, got %d", c.Hub.MaxPacketChars)
	}
	return nil
}

// HeartbeatInterval returns the heartbeat tick as a duration.
func (c *HubConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMs) * time.Millisecond
}

// HeartbeatTimeout returns the liveness eviction window as a duration.
func (c *HubConfig) HeartbeatTimeout() time.Duration {
	return time.Duration(c.HeartbeatTimeoutMs) * time.Millisecond
}

// StaleTTL returns the idle-without-controllers window as a duration.
func (c *HubConfig) StaleTTL() time.Duration {
	return time.Duration(c.StaleTTLMs) * time.Millisecond
}

// IdentityTimeout returns the identity oracle call timeout.
func (c *HubConfig) IdentityTimeout() time.Duration {
	return time.Duration(c.IdentityTimeoutMs) * time.Millisecond
}

// ActiveHubThrottle returns the minimum interval between active-hub upserts.
func (c *HubConfig) ActiveHubThrottle() time.Duration {
	return time.Duration(c.ActiveHubThrottleMs) * time.Millisecond
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
