package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

const DefaultConfigFile = "priomatrix.toml"

type Config struct {
	Addr           string `toml:"addr"`
	DatabaseDriver string `toml:"database_driver"`
	DatabaseURL    string `toml:"database_url"`
	MaxLists       int    `toml:"max_lists"`
	LogLevel       string `toml:"log_level"`
	LogFormat      string `toml:"log_format"`
	StaticDir      string `toml:"static_dir"`

	SessionCookieName string `toml:"session_cookie_name"`
	CookieSecure      bool   `toml:"cookie_secure"`
	CookieSameSite    string `toml:"cookie_samesite"`

	// BackupTokenHash is a bcrypt hash; backup endpoints are closed while it is empty.
	BackupTokenHash string `toml:"backup_token_hash"`
	// CreateListRate is the number of lists one client may create per minute.
	CreateListRate int `toml:"create_list_rate"`
}

func defaultConfig() Config {
	return Config{
		Addr:              ":8080",
		DatabaseDriver:    "sqlite",
		DatabaseURL:       "priomatrix.db",
		MaxLists:          DefaultMaxLists,
		LogLevel:          "info",
		LogFormat:         "json",
		SessionCookieName: "priority_session",
		CookieSameSite:    "lax",
		CreateListRate:    30,
	}
}

// LoadConfig layers defaults, the TOML file and environment variables. An empty path
// falls back to priomatrix.toml in the working directory when that file exists.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}
	if err := cfg.loadEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadEnv() error {
	str := func(key string, dst *string) {
		*dst = getenv(key, *dst)
	}
	str("ADDR", &c.Addr)
	str("DATABASE_DRIVER", &c.DatabaseDriver)
	str("DATABASE_URL", &c.DatabaseURL)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("STATIC_DIR", &c.StaticDir)
	str("SESSION_COOKIE_NAME", &c.SessionCookieName)
	str("COOKIE_SAMESITE", &c.CookieSameSite)
	str("BACKUP_TOKEN_HASH", &c.BackupTokenHash)

	for key, dst := range map[string]*int{"MAX_LISTS": &c.MaxLists, "CREATE_LIST_RATE": &c.CreateListRate} {
		if v := getenv(key, ""); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}
	if v := getenv("COOKIE_SECURE", ""); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("COOKIE_SECURE: %w", err)
		}
		c.CookieSecure = b
	}
	return nil
}

func (c Config) Validate() error {
	if _, err := dialectFor(c.DatabaseDriver); err != nil {
		return err
	}
	if c.DatabaseURL == "" {
		return errors.New("database_url must be set")
	}
	if c.MaxLists < 1 {
		return fmt.Errorf("max_lists must be positive, got %d", c.MaxLists)
	}
	if c.CreateListRate < 1 {
		return fmt.Errorf("create_list_rate must be positive, got %d", c.CreateListRate)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log_format %q", c.LogFormat)
	}
	switch strings.ToLower(c.CookieSameSite) {
	case "lax", "strict", "none":
	default:
		return fmt.Errorf("unknown cookie_samesite %q", c.CookieSameSite)
	}
	return nil
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}
