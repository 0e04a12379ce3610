package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"topup-go/rcon"
)

// Config is the process configuration read from the environment.
type Config struct {
	BotToken             string
	GuildID              string
	DatabaseURL          string
	Port                 string
	AdminAPIKey          string
	TicketCategoryID     string
	AdminRoleID          string
	LeaderboardChannelID string
	LeaderboardInterval  time.Duration

	ServersFile string
	ShopFile    string

	SlipAPIURL      string
	SlipAPIKey      string
	ReceiverName    string
	ReceiverAccount string

	RCONConnectTimeout time.Duration
	RCONCommandTimeout time.Duration
	RCONCloseTimeout   time.Duration
	RCONMaxRetries     int
}

// Load reads .env when present and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment.
func FromEnv() (*Config, error) {
	cfg := &Config{
		BotToken:             os.Getenv("BOT_TOKEN"),
		GuildID:              os.Getenv("GUILD_ID"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		Port:                 getenv("PORT", "8080"),
		AdminAPIKey:          os.Getenv("ADMIN_API_KEY"),
		TicketCategoryID:     os.Getenv("TICKET_CATEGORY_ID"),
		AdminRoleID:          os.Getenv("ADMIN_ROLE_ID"),
		LeaderboardChannelID: os.Getenv("LEADERBOARD_CHANNEL_ID"),
		ServersFile:          getenv("SERVERS_FILE", "servers.yaml"),
		ShopFile:             getenv("SHOP_FILE", "shop.yaml"),
		SlipAPIURL:           os.Getenv("SLIP_API_URL"),
		SlipAPIKey:           os.Getenv("SLIP_API_KEY"),
		ReceiverName:         os.Getenv("RECEIVER_NAME"),
		ReceiverAccount:      os.Getenv("RECEIVER_ACCOUNT"),
	}

	defaults := rcon.DefaultOptions()
	var err error
	if cfg.LeaderboardInterval, err = durationEnv("LEADERBOARD_INTERVAL", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RCONConnectTimeout, err = durationEnv("RCON_CONNECT_TIMEOUT", defaults.ConnectTimeout); err != nil {
		return nil, err
	}
	if cfg.RCONCommandTimeout, err = durationEnv("RCON_COMMAND_TIMEOUT", defaults.CommandTimeout); err != nil {
		return nil, err
	}
	if cfg.RCONCloseTimeout, err = durationEnv("RCON_CLOSE_TIMEOUT", defaults.CloseTimeout); err != nil {
		return nil, err
	}
	if cfg.RCONMaxRetries, err = intEnv("RCON_MAX_RETRIES", defaults.Retry.MaxRetries); err != nil {
		return nil, err
	}
	if cfg.RCONMaxRetries < 0 {
		return nil, fmt.Errorf("RCON_MAX_RETRIES must not be negative, got %d", cfg.RCONMaxRetries)
	}

	return cfg, nil
}

// RCONOptions turns the RCON settings into manager options.
func (c *Config) RCONOptions() rcon.Options {
	opts := rcon.DefaultOptions()
	opts.ConnectTimeout = c.RCONConnectTimeout
	opts.CommandTimeout = c.RCONCommandTimeout
	opts.CloseTimeout = c.RCONCloseTimeout
	opts.Retry.MaxRetries = c.RCONMaxRetries
	return opts
}

// SlipVerificationEnabled reports whether slips can be checked at all.
func (c *Config) SlipVerificationEnabled() bool {
	return c.SlipAPIURL != "" && c.SlipAPIKey != ""
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// durationEnv accepts Go durations ("8s", "1m30s") or plain seconds ("8").
func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("%s must be positive, got %q", key, raw)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %q", key, raw)
	}
	return d, nil
}

func intEnv(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}
