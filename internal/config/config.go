// Package config provides application configuration from environment variables
// and an optional TOML file
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// AppConfig holds all application configuration
type AppConfig struct {
	HTTPAddr    string      `toml:"http_addr"`
	DatabaseURL string      `toml:"database_url"`
	LogLevel    string      `toml:"log_level"`
	Redis       RedisConfig `toml:"redis"`
	Feeds       FeedURLs    `toml:"feeds"`
	Push        PushConfig  `toml:"push"`
	Pipeline    Pipeline    `toml:"pipeline"`
}

// RedisConfig configures the key-value tier. An empty Addr disables it.
type RedisConfig struct {
	Addr           string `toml:"addr"`
	Password       string `toml:"password"`
	DB             int    `toml:"db"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	TTLSeconds     int    `toml:"ttl_seconds"`
}

// FeedURLs are the four upstream telemetry sources
type FeedURLs struct {
	Plasma string `toml:"plasma"`
	Mag    string `toml:"mag"`
	Kp     string `toml:"kp"`
	Xray   string `toml:"xray"`
}

// PushConfig configures the push gateway
type PushConfig struct {
	URL         string `toml:"url"`
	AccessToken string `toml:"access_token"`
	ChannelID   string `toml:"channel_id"`
}

// Pipeline holds tick and cache timings in seconds
type Pipeline struct {
	TickSeconds         int `toml:"tick_seconds"`
	TickTimeoutSeconds  int `toml:"tick_timeout_seconds"`
	FetchTimeoutSeconds int `toml:"fetch_timeout_seconds"`
	CooldownMinutes     int `toml:"cooldown_minutes"`
	StaleAfterSeconds   int `toml:"stale_after_seconds"`
	NowCacheSeconds     int `toml:"now_cache_seconds"`
	MemorySnapshots     int `toml:"memory_snapshots"`
}

// Defaults returns the built-in configuration
func Defaults() *AppConfig {
	return &AppConfig{
		HTTPAddr: ":3000",
		LogLevel: "info",
		Redis: RedisConfig{
			TimeoutSeconds: 2,
			TTLSeconds:     86400,
		},
		Feeds: FeedURLs{
			Plasma: "https://services.swpc.noaa.gov/products/solar-wind/plasma-1-day.json",
			Mag:    "https://services.swpc.noaa.gov/products/solar-wind/mag-1-day.json",
			Kp:     "https://services.swpc.noaa.gov/products/noaa-planetary-k-index.json",
			Xray:   "https://services.swpc.noaa.gov/json/goes/primary/xrays-1-day.json",
		},
		Push: PushConfig{
			URL:       "https://exp.host/--/api/v2/push/send",
			ChannelID: "space-weather-alerts",
		},
		Pipeline: Pipeline{
			TickSeconds:         300,
			TickTimeoutSeconds:  60,
			FetchTimeoutSeconds: 15,
			CooldownMinutes:     15,
			StaleAfterSeconds:   900,
			NowCacheSeconds:     60,
			MemorySnapshots:     32,
		},
	}
}

// LoadConfig loads the TOML file named by SPACEWX_CONFIG, if any, then
// applies environment variables on top
func LoadConfig() (*AppConfig, error) {
	cfg := Defaults()
	if path := os.Getenv("SPACEWX_CONFIG"); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *AppConfig) {
	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvInt("REDIS_DB", cfg.Redis.DB)
	cfg.Redis.TimeoutSeconds = getEnvInt("REDIS_TIMEOUT_SECONDS", cfg.Redis.TimeoutSeconds)
	cfg.Redis.TTLSeconds = getEnvInt("REDIS_TTL_SECONDS", cfg.Redis.TTLSeconds)

	cfg.Feeds.Plasma = getEnv("PLASMA_FEED_URL", cfg.Feeds.Plasma)
	cfg.Feeds.Mag = getEnv("MAG_FEED_URL", cfg.Feeds.Mag)
	cfg.Feeds.Kp = getEnv("KP_FEED_URL", cfg.Feeds.Kp)
	cfg.Feeds.Xray = getEnv("XRAY_FEED_URL", cfg.Feeds.Xray)

	cfg.Push.URL = getEnv("PUSH_URL", cfg.Push.URL)
	cfg.Push.AccessToken = getEnv("PUSH_ACCESS_TOKEN", cfg.Push.AccessToken)
	cfg.Push.ChannelID = getEnv("PUSH_CHANNEL_ID", cfg.Push.ChannelID)

	p := &cfg.Pipeline
	p.TickSeconds = getEnvInt("TICK_SECONDS", p.TickSeconds)
	p.TickTimeoutSeconds = getEnvInt("TICK_TIMEOUT_SECONDS", p.TickTimeoutSeconds)
	p.FetchTimeoutSeconds = getEnvInt("FETCH_TIMEOUT_SECONDS", p.FetchTimeoutSeconds)
	p.CooldownMinutes = getEnvInt("COOLDOWN_MINUTES", p.CooldownMinutes)
	p.StaleAfterSeconds = getEnvInt("STALE_AFTER_SECONDS", p.StaleAfterSeconds)
	p.NowCacheSeconds = getEnvInt("NOW_CACHE_SECONDS", p.NowCacheSeconds)
	p.MemorySnapshots = getEnvInt("MEMORY_SNAPSHOTS", p.MemorySnapshots)
}

func (p Pipeline) TickInterval() time.Duration { return seconds(p.TickSeconds) }
func (p Pipeline) TickTimeout() time.Duration  { return seconds(p.TickTimeoutSeconds) }
func (p Pipeline) FetchTimeout() time.Duration { return seconds(p.FetchTimeoutSeconds) }
func (p Pipeline) StaleAfter() time.Duration   { return seconds(p.StaleAfterSeconds) }
func (p Pipeline) NowCache() time.Duration     { return seconds(p.NowCacheSeconds) }
func (p Pipeline) Cooldown() time.Duration {
	return time.Duration(p.CooldownMinutes) * time.Minute
}

func (r RedisConfig) Timeout() time.Duration { return seconds(r.TimeoutSeconds) }
func (r RedisConfig) TTL() time.Duration     { return seconds(r.TTLSeconds) }

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}
