// File path: internal/embed/config.go
package embed

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Config controls the embedding client.
type Config struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
}

// LoadConfig builds the embedding configuration from an optional JSON file
// pointed to by ATOMFORGE_EMBED_CONFIG_FILE, then environment variables, then
// defaults.
func LoadConfig() (Config, error) {
	cfg := Config{}
	if path := strings.TrimSpace(os.Getenv("ATOMFORGE_EMBED_CONFIG_FILE")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read embed config: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse embed config: %w", err)
		}
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		cfg.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("ATOMFORGE_EMBED_BASE_URL")); v != "" {
		cfg.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("ATOMFORGE_EMBED_MODEL")); v != "" {
		cfg.Model = v
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Model) == "" {
		c.Model = "text-embedding-3-small"
	}
}

// Merge overlays non-empty fields from override onto the receiver.
func (c Config) Merge(override Config) Config {
	merged := c
	if strings.TrimSpace(override.APIKey) != "" {
		merged.APIKey = override.APIKey
	}
	if strings.TrimSpace(override.BaseURL) != "" {
		merged.BaseURL = override.BaseURL
	}
	if strings.TrimSpace(override.Model) != "" {
		merged.Model = override.Model
	}
	return merged
}
