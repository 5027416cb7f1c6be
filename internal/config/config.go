package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port           string
	Env            string
	PublicBaseURL  string
	ConsoleURL     string
	LogLevel       string
	CORSOriginsCSV string

	DatabaseURL string

	// WhatsApp Cloud API
	WAVerifyToken      string
	WAToken            string
	WAGraphBaseURL     string
	WADefaultChannelID string
	WAChannelMapJSON   string
	WASendTimeout      time.Duration

	// Recipient canonicalization
	CountryCode     string
	PreferTrunkSend bool

	// Media retrieval + archive
	MediaFetchTimeout time.Duration
	MediaFetchRetries int
	MediaFetchDelay   time.Duration
	MediaBucket       string
	MediaURLExpiry    time.Duration

	// First-contact routing
	RoutingTableJSON string
	AgentsCSV        string

	// Notifications
	UseMemoryQueue    bool
	NotifyQueueURL    string
	FCMProjectID      string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string
	SESFromName       string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		PublicBaseURL:  getEnv("PUBLIC_BASE_URL", ""),
		ConsoleURL:     getEnv("CONSOLE_URL", "https://crm.example.com"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		CORSOriginsCSV: getEnv("CORS_ALLOWED_ORIGINS", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		WAVerifyToken:      getEnv("WA_VERIFY_TOKEN", ""),
		WAToken:            getEnv("WA_TOKEN", ""),
		WAGraphBaseURL:     getEnv("WA_GRAPH_BASE_URL", "https://graph.facebook.com/v21.0"),
		WADefaultChannelID: getEnv("WA_DEFAULT_PHONE_ID", ""),
		WAChannelMapJSON:   getEnv("WA_CHANNEL_MAP_JSON", ""),
		WASendTimeout:      getEnvAsDuration("WA_SEND_TIMEOUT", 10*time.Second),

		CountryCode:     getEnv("PHONE_COUNTRY_CODE", "54"),
		PreferTrunkSend: getEnvAsBool("PHONE_PREFER_TRUNK_SEND", false),

		MediaFetchTimeout: getEnvAsDuration("MEDIA_FETCH_TIMEOUT", 5*time.Second),
		MediaFetchRetries: getEnvAsInt("MEDIA_FETCH_RETRIES", 2),
		MediaFetchDelay:   getEnvAsDuration("MEDIA_FETCH_DELAY", 150*time.Millisecond),
		MediaBucket:       getEnv("MEDIA_BUCKET", ""),
		MediaURLExpiry:    getEnvAsDuration("MEDIA_URL_EXPIRY", 168*time.Hour),

		RoutingTableJSON: getEnv("ROUTING_TABLE_JSON", ""),
		AgentsCSV:        getEnv("AGENTS_CSV", ""),

		UseMemoryQueue:    getEnvAsBool("USE_MEMORY_QUEUE", true),
		NotifyQueueURL:    getEnv("NOTIFY_QUEUE_URL", ""),
		FCMProjectID:      getEnv("FCM_PROJECT_ID", ""),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "CRM"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		SESFromName:       getEnv("SES_FROM_NAME", "CRM"),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),
	}
}

// ChannelMap decodes WA_CHANNEL_MAP_JSON, mapping channel aliases (as the
// console sends them) to provider phone-number ids. Malformed JSON yields an
// empty map.
func (c *Config) ChannelMap() map[string]string {
	out := map[string]string{}
	raw := strings.TrimSpace(c.WAChannelMapJSON)
	if raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]string{}
	}
	return out
}

// CORSOrigins splits CORS_ALLOWED_ORIGINS into a trimmed, non-empty list.
func (c *Config) CORSOrigins() []string {
	return splitCSV(c.CORSOriginsCSV)
}

// Agents splits AGENTS_CSV into a trimmed, non-empty list.
func (c *Config) Agents() []string {
	return splitCSV(c.AgentsCSV)
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
