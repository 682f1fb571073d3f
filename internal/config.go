package internal

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	// Telegram
	BotToken     string
	BotUsername  string
	AdminIDs     []int64
	DumpChatIDs  []int64
	ForceSubIDs  []int64
	SupportURL   string

	// Storage
	MongoURI     string
	DatabaseName string

	// Resolution
	ResolverEndpoints []string
	ResolverTimeout   int // seconds per endpoint attempt

	// Download backend
	Aria2RPCURL    string
	Aria2Secret    string
	DownloadDir    string
	DefaultTimeout int
	MaxRetries     int
	UserAgentList  []string

	// Access gating
	FreeDownloadLimit int
	ShortlinkURL      string
	ShortlinkAPIKey   string
	ShortlinkHours    int

	// Logging configuration
	LogLevel    string
	EnableDebug bool
	QuietMode   bool
	LogFile     string
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		DatabaseName: "terabot",
		ResolverEndpoints: []string{
			"https://teraboxvideodownloader.nepcoderdevs.workers.dev/?url=",
			"https://terabox.udayscriptsx.workers.dev/?url=",
		},
		ResolverTimeout: 60,
		DownloadDir:     "downloads",
		DefaultTimeout:  30,
		MaxRetries:      3,
		UserAgentList: []string{
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		},

		FreeDownloadLimit: 5,
		ShortlinkHours:    12,

		// Logging defaults
		LogLevel:    "info",
		EnableDebug: false,
		QuietMode:   false,
		LogFile:     "", // Empty means stderr
	}
}

// LoadFromEnv loads configuration from environment variables.
// A .env file in the working directory is applied first when present.
func (c *Config) LoadFromEnv() {
	_ = godotenv.Load()

	if token := os.Getenv("TERABOT_TOKEN"); token != "" {
		c.BotToken = token
	}

	if username := os.Getenv("TERABOT_USERNAME"); username != "" {
		c.BotUsername = strings.TrimPrefix(username, "@")
	}

	if admins := os.Getenv("TERABOT_ADMIN_IDS"); admins != "" {
		c.AdminIDs = parseIDList(admins)
	}

	if dumps := os.Getenv("TERABOT_DUMP_CHAT_IDS"); dumps != "" {
		c.DumpChatIDs = parseIDList(dumps)
	}

	if subs := os.Getenv("TERABOT_FORCE_SUB_IDS"); subs != "" {
		c.ForceSubIDs = parseIDList(subs)
	}

	if support := os.Getenv("TERABOT_SUPPORT_URL"); support != "" {
		c.SupportURL = support
	}

	if uri := os.Getenv("TERABOT_MONGO_URI"); uri != "" {
		c.MongoURI = uri
	}

	if db := os.Getenv("TERABOT_DATABASE"); db != "" {
		c.DatabaseName = db
	}

	if endpoints := os.Getenv("TERABOT_RESOLVER_ENDPOINTS"); endpoints != "" {
		parsed := make([]string, 0, 4)
		for _, e := range strings.Split(endpoints, ",") {
			if e = strings.TrimSpace(e); e != "" {
				parsed = append(parsed, e)
			}
		}
		if len(parsed) > 0 {
			c.ResolverEndpoints = parsed
		}
	}

	if timeout := os.Getenv("TERABOT_RESOLVER_TIMEOUT"); timeout != "" {
		if t, err := strconv.Atoi(timeout); err == nil && t > 0 {
			c.ResolverTimeout = t
		}
	}

	if rpc := os.Getenv("TERABOT_ARIA2_RPC_URL"); rpc != "" {
		c.Aria2RPCURL = rpc
	}

	if secret := os.Getenv("TERABOT_ARIA2_SECRET"); secret != "" {
		c.Aria2Secret = secret
	}

	if dir := os.Getenv("TERABOT_DOWNLOAD_DIR"); dir != "" {
		c.DownloadDir = dir
	}

	if timeout := os.Getenv("TERABOT_TIMEOUT"); timeout != "" {
		if t, err := strconv.Atoi(timeout); err == nil && t > 0 {
			c.DefaultTimeout = t
		}
	}

	if limit := os.Getenv("TERABOT_FREE_LIMIT"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil && l >= 0 {
			c.FreeDownloadLimit = l
		}
	}

	if shortURL := os.Getenv("TERABOT_SHORTLINK_URL"); shortURL != "" {
		c.ShortlinkURL = shortURL
	}

	if shortKey := os.Getenv("TERABOT_SHORTLINK_API"); shortKey != "" {
		c.ShortlinkAPIKey = shortKey
	}

	if hours := os.Getenv("TERABOT_SHORTLINK_HOURS"); hours != "" {
		if h, err := strconv.Atoi(hours); err == nil && h > 0 {
			c.ShortlinkHours = h
		}
	}

	// Load logging configuration from environment
	if logLevel := os.Getenv("TERABOT_LOG_LEVEL"); logLevel != "" {
		c.LogLevel = logLevel
	}

	if debug := os.Getenv("TERABOT_DEBUG"); debug != "" {
		c.EnableDebug = debug == "true" || debug == "1"
	}

	if quiet := os.Getenv("TERABOT_QUIET"); quiet != "" {
		c.QuietMode = quiet == "true" || quiet == "1"
	}

	if logFile := os.Getenv("TERABOT_LOG_FILE"); logFile != "" {
		c.LogFile = logFile
	}
}

// parseIDList parses a comma-separated list of Telegram chat/user IDs,
// skipping entries that do not parse.
func parseIDList(raw string) []int64 {
	ids := make([]int64, 0, 4)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if id, err := strconv.ParseInt(part, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// GetEnvWithDefault returns environment variable value or default
func GetEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// ValidateConfig validates the configuration values
func (c *Config) ValidateConfig() error {
	if c.BotToken == "" {
		return fmt.Errorf("bot token is required (TERABOT_TOKEN)")
	}

	if c.MongoURI == "" {
		return fmt.Errorf("mongo URI is required (TERABOT_MONGO_URI)")
	}

	if len(c.ResolverEndpoints) == 0 {
		return fmt.Errorf("resolver endpoint list cannot be empty")
	}

	if c.ResolverTimeout < 1 {
		return fmt.Errorf("invalid resolver timeout: %d (must be > 0)", c.ResolverTimeout)
	}

	if c.DefaultTimeout < 1 {
		return fmt.Errorf("invalid default timeout: %d (must be > 0)", c.DefaultTimeout)
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("invalid max retries: %d (must be >= 0)", c.MaxRetries)
	}

	if c.FreeDownloadLimit < 0 {
		return fmt.Errorf("invalid free download limit: %d (must be >= 0)", c.FreeDownloadLimit)
	}

	if len(c.UserAgentList) == 0 {
		return fmt.Errorf("user agent list cannot be empty")
	}

	return nil
}

// ValidateForFetch validates only the fields the direct fetch command needs.
// The CLI path has no Telegram or storage requirements.
func (c *Config) ValidateForFetch() error {
	if len(c.ResolverEndpoints) == 0 {
		return fmt.Errorf("resolver endpoint list cannot be empty")
	}

	if c.ResolverTimeout < 1 {
		return fmt.Errorf("invalid resolver timeout: %d (must be > 0)", c.ResolverTimeout)
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("invalid max retries: %d (must be >= 0)", c.MaxRetries)
	}

	return nil
}
