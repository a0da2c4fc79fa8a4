// File path: internal/blob/config.go
package blob

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	BaseURL    string `json:"base_url"`
	ServiceKey string `json:"service_key"`
	Bucket     string `json:"bucket"`

	Timeout       time.Duration `json:"-"`
	TimeoutString string        `json:"timeout"`
}

func LoadConfig() (Config, error) {
	cfg := Config{}
	if path := strings.TrimSpace(os.Getenv("ATOMFORGE_BLOB_CONFIG_FILE")); path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return Config{}, fmt.Errorf("read blob config: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse blob config: %w", err)
		}
	}
	if v := strings.TrimSpace(os.Getenv("ATOMFORGE_BLOB_URL")); v != "" {
		cfg.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("ATOMFORGE_BLOB_SERVICE_KEY")); v != "" {
		cfg.ServiceKey = v
	}
	if v := strings.TrimSpace(os.Getenv("ATOMFORGE_BLOB_BUCKET")); v != "" {
		cfg.Bucket = v
	}
	if v := strings.TrimSpace(os.Getenv("ATOMFORGE_BLOB_TIMEOUT")); v != "" {
		cfg.TimeoutString = v
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.Timeout = parsed
		}
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Bucket) == "" {
		c.Bucket = "game-builds"
	}
	if c.Timeout <= 0 {
		if c.TimeoutString != "" {
			if parsed, err := time.ParseDuration(c.TimeoutString); err == nil {
				c.Timeout = parsed
			}
		}
		if c.Timeout <= 0 {
			c.Timeout = 30 * time.Second
		}
	}
}
