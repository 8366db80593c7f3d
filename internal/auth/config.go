package auth

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config mirrors the users file layout: bcrypt-hashed credentials plus the
// cookie used to keep callers signed in across requests.
type Config struct {
	Credentials Credentials  `yaml:"credentials"`
	Cookie      CookieConfig `yaml:"cookie"`
}

// Credentials holds the known users keyed by username.
type Credentials struct {
	Usernames map[string]UserRecord `yaml:"usernames"`
}

// UserRecord is one user entry: display name and bcrypt password hash.
type UserRecord struct {
	Name         string `yaml:"name"`
	PasswordHash string `yaml:"password"`
}

// CookieConfig describes the signed auth cookie.
type CookieConfig struct {
	Name       string `yaml:"name"`
	Key        string `yaml:"key"`
	ExpiryDays int    `yaml:"expiry_days"`
}

// LoadConfig reads and validates the users YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read users file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse users file: %w", err)
	}

	if len(cfg.Credentials.Usernames) == 0 {
		return nil, fmt.Errorf("users file %s defines no users", path)
	}
	for username := range cfg.Credentials.Usernames {
		// '|' is the token payload separator.
		if username == "" || strings.Contains(username, "|") {
			return nil, fmt.Errorf("users file %s contains invalid username %q", path, username)
		}
	}
	if cfg.Cookie.Key == "" {
		return nil, fmt.Errorf("users file %s is missing the cookie signing key", path)
	}
	if cfg.Cookie.Name == "" {
		cfg.Cookie.Name = "securechat_auth"
	}
	if cfg.Cookie.ExpiryDays <= 0 {
		cfg.Cookie.ExpiryDays = 30
	}
	return &cfg, nil
}
