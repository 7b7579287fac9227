package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Signals backend
	APIBaseURL  string
	ClientID    string // sent as X-Client-Id on every request
	HTTPTimeout time.Duration

	// Page behaviour
	SettleDelay         time.Duration // wait after SPA navigation before rescanning
	RecentProjectsLimit int
	NotifyTTL           time.Duration
	ProfileBaseURL      string // project profile links, e.g. https://x.com/

	// Bridge to the page shim
	BridgePort     int
	AllowedOrigins []string

	// Durable storage (recent projects, auth tokens, saved-signal journal)
	DBPath             string
	TokenSweepSchedule string

	// Twitter private API (imperatrona/twitter-scraper), used by `signals save`
	TwitterAuthToken string // auth_token cookie
	TwitterCSRFToken string // ct0 cookie

	LogLevel string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		APIBaseURL:  strings.TrimRight(envOr("SIGNALS_API_URL", "https://signals.kol-tracker.xyz"), "/"),
		ClientID:    envOr("SIGNALS_CLIENT_ID", "kol-signals/1.0"),
		HTTPTimeout: envDuration("HTTP_TIMEOUT", 30*time.Second),

		SettleDelay:         time.Duration(envInt("SETTLE_DELAY_MS", 500)) * time.Millisecond,
		RecentProjectsLimit: envInt("RECENT_PROJECTS_LIMIT", 5),
		NotifyTTL:           time.Duration(envInt("NOTIFY_TTL_MS", 3000)) * time.Millisecond,
		ProfileBaseURL:      envOr("PROFILE_BASE_URL", "https://x.com/"),

		BridgePort:     envInt("BRIDGE_PORT", 8787),
		AllowedOrigins: splitTrim(envOr("BRIDGE_ALLOWED_ORIGINS", "https://x.com,https://twitter.com")),

		DBPath:             envOr("DB_PATH", "kol_signals.db"),
		TokenSweepSchedule: envOr("TOKEN_SWEEP_SCHEDULE", "@every 5m"),

		TwitterAuthToken: os.Getenv("TWITTER_AUTH_TOKEN"),
		TwitterCSRFToken: os.Getenv("TWITTER_CSRF_TOKEN"),

		LogLevel: envOr("LOG_LEVEL", "info"),
	}

	if !strings.HasSuffix(cfg.ProfileBaseURL, "/") {
		cfg.ProfileBaseURL += "/"
	}

	return cfg, cfg.Validate()
}

// Default returns the configuration Load would produce with an empty environment.
func Default() *Config {
	return &Config{
		APIBaseURL:          "https://signals.kol-tracker.xyz",
		ClientID:            "kol-signals/1.0",
		HTTPTimeout:         30 * time.Second,
		SettleDelay:         500 * time.Millisecond,
		RecentProjectsLimit: 5,
		NotifyTTL:           3 * time.Second,
		ProfileBaseURL:      "https://x.com/",
		BridgePort:          8787,
		AllowedOrigins:      []string{"https://x.com", "https://twitter.com"},
		DBPath:              "kol_signals.db",
		TokenSweepSchedule:  "@every 5m",
		LogLevel:            "info",
	}
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("SIGNALS_API_URL must be an absolute URL, got %q", c.APIBaseURL)
	}
	if c.RecentProjectsLimit <= 0 {
		return fmt.Errorf("RECENT_PROJECTS_LIMIT must be positive")
	}
	if c.SettleDelay < 0 || c.SettleDelay > 5*time.Second {
		return fmt.Errorf("SETTLE_DELAY_MS out of range: %s", c.SettleDelay)
	}
	if c.ClientID == "" {
		return fmt.Errorf("SIGNALS_CLIENT_ID must not be empty")
	}
	return nil
}

// ProfileURL is the public profile of a twitter handle.
func (c *Config) ProfileURL(handle string) string {
	return c.ProfileBaseURL + strings.TrimPrefix(handle, "@")
}

// HasTwitterAuth reports whether cookies for the private twitter API are set.
func (c *Config) HasTwitterAuth() bool {
	return c.TwitterAuthToken != "" && c.TwitterCSRFToken != ""
}

// helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
