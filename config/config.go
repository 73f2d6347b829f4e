package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tazhate/calassist/internal/clients/caldav"
	"gopkg.in/yaml.v3"
)

// CalDAVConfig holds the calendar account and transport tuning
type CalDAVConfig struct {
	URL          string        `yaml:"url"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	CalendarName string        `yaml:"calendar_name"`
	Timeout      time.Duration `yaml:"timeout"`
	Retries      int           `yaml:"retries"`
	Concurrency  int           `yaml:"concurrency"`
}

type Config struct {
	CalDAV CalDAVConfig `yaml:"caldav"`

	TelegramToken     string `yaml:"telegram_token"`
	OwnerTelegramID   int64  `yaml:"owner_telegram_id"`
	PartnerTelegramID int64  `yaml:"partner_telegram_id"`
	WebhookURL        string `yaml:"webhook_url"`

	DatabasePath string         `yaml:"database_path"`
	TimezoneName string         `yaml:"timezone"`
	Timezone     *time.Location `yaml:"-"`
	MorningTime  string         `yaml:"morning_time"`
	EveningTime  string         `yaml:"evening_time"`

	ServerPort  string `yaml:"server_port"`
	APIUsername string `yaml:"api_username"`
	APIPassword string `yaml:"api_password"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		CalDAV: CalDAVConfig{
			URL:         caldav.DefaultiCloudURL,
			Timeout:     10 * time.Second,
			Retries:     2,
			Concurrency: 4,
		},
		DatabasePath: "./data/calassist.db",
		TimezoneName: "Europe/Moscow",
		MorningTime:  "09:00",
		EveningTime:  "21:00",
		ServerPort:   "8080",
		LogLevel:     "info",
		LogFormat:    "json",
	}
}

// Load builds the config from defaults, the optional YAML file named by
// CONFIG_FILE, and environment variables, in that order.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.CalDAV.URL, "CALDAV_URL")
	setString(&c.CalDAV.Username, "CALDAV_USERNAME")
	setString(&c.CalDAV.Password, "CALDAV_PASSWORD")
	setString(&c.CalDAV.CalendarName, "CALDAV_CALENDAR_NAME")
	setString(&c.TelegramToken, "TELEGRAM_BOT_TOKEN")
	setString(&c.WebhookURL, "WEBHOOK_URL")
	setString(&c.DatabasePath, "DATABASE_PATH")
	setString(&c.TimezoneName, "TIMEZONE")
	setString(&c.MorningTime, "MORNING_TIME")
	setString(&c.EveningTime, "EVENING_TIME")
	setString(&c.ServerPort, "SERVER_PORT")
	setString(&c.APIUsername, "API_USERNAME")
	setString(&c.APIPassword, "API_PASSWORD")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFormat, "LOG_FORMAT")

	if v := os.Getenv("CALDAV_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid CALDAV_TIMEOUT: %w", err)
		}
		c.CalDAV.Timeout = d
	}
	if err := setInt(&c.CalDAV.Retries, "CALDAV_RETRIES"); err != nil {
		return err
	}
	if err := setInt(&c.CalDAV.Concurrency, "CALDAV_CONCURRENCY"); err != nil {
		return err
	}

	if v := os.Getenv("OWNER_TELEGRAM_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("OWNER_TELEGRAM_ID must be a number")
		}
		c.OwnerTelegramID = id
	}
	if v := os.Getenv("PARTNER_TELEGRAM_ID"); v != "" {
		c.PartnerTelegramID, _ = strconv.ParseInt(v, 10, 64)
	}
	return nil
}

func (c *Config) validate() error {
	tz, err := time.LoadLocation(c.TimezoneName)
	if err != nil {
		return fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	c.Timezone = tz

	if c.TelegramToken != "" && c.OwnerTelegramID == 0 {
		return fmt.Errorf("OWNER_TELEGRAM_ID is required when TELEGRAM_BOT_TOKEN is set")
	}
	if _, _, err := ParseClock(c.MorningTime); err != nil {
		return fmt.Errorf("invalid MORNING_TIME: %w", err)
	}
	if _, _, err := ParseClock(c.EveningTime); err != nil {
		return fmt.Errorf("invalid EVENING_TIME: %w", err)
	}
	if c.CalDAV.Timeout <= 0 {
		return fmt.Errorf("CALDAV_TIMEOUT must be positive")
	}
	if c.CalDAV.Retries < 0 {
		c.CalDAV.Retries = 0
	}
	if c.CalDAV.Concurrency < 1 {
		c.CalDAV.Concurrency = 1
	}
	return nil
}

// Credentials returns the CalDAV account as the client expects it
func (c *Config) Credentials() caldav.Credentials {
	return caldav.Credentials{
		ServerURL:    c.CalDAV.URL,
		Username:     c.CalDAV.Username,
		Password:     c.CalDAV.Password,
		CalendarName: c.CalDAV.CalendarName,
	}
}

func (c *Config) IsAllowedUser(telegramID int64) bool {
	return telegramID == c.OwnerTelegramID || (c.PartnerTelegramID != 0 && telegramID == c.PartnerTelegramID)
}

// BotEnabled is true when a Telegram token is configured
func (c *Config) BotEnabled() bool {
	return c.TelegramToken != ""
}

// ParseClock parses "HH:MM"
func ParseClock(s string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%q is not HH:MM", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("%q is not HH:MM", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%q is not HH:MM", s)
	}
	return hour, minute, nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}
