// File path: internal/vector/config.go
package vector

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds the ChromaDB connection settings. LoadConfig assembles it
// from an optional JSON file named by CHROMADB_CONFIG_FILE, then CHROMADB_*
// environment variables, with env winning and defaults filling the rest.
type Config struct {
	Host       string
	Port       string
	Scheme     string
	Collection string
	APIKey     string
	Timeout    time.Duration

	HTTPMaxIdleConns    int
	HTTPMaxIdlePerHost  int
	HTTPMaxConnsPerHost int
	HTTPIdleConnTimeout time.Duration
}

func LoadConfig() (Config, error) {
	var cfg Config
	if path := strings.TrimSpace(os.Getenv("CHROMADB_CONFIG_FILE")); path != "" {
		fileCfg, err := readConfigFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg = fileCfg
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == "" {
		cfg.Port = "8000"
	}
	if cfg.Scheme == "" {
		cfg.Scheme = "http"
	}
	if cfg.Collection == "" {
		cfg.Collection = "atomforge_atoms"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.HTTPMaxIdleConns <= 0 {
		cfg.HTTPMaxIdleConns = 64
	}
	if cfg.HTTPMaxIdlePerHost <= 0 {
		cfg.HTTPMaxIdlePerHost = 16
	}
	if cfg.HTTPIdleConnTimeout <= 0 {
		cfg.HTTPIdleConnTimeout = 90 * time.Second
	}
	return cfg, nil
}

// configFile is the on-disk shape; durations are strings so the file can say
// "15s" rather than nanoseconds.
type configFile struct {
	Host                string `json:"host"`
	Port                string `json:"port"`
	Scheme              string `json:"scheme"`
	Collection          string `json:"collection"`
	APIKey              string `json:"api_key"`
	Timeout             string `json:"timeout"`
	HTTPMaxIdleConns    int    `json:"http_max_idle_conns"`
	HTTPMaxIdlePerHost  int    `json:"http_max_idle_per_host"`
	HTTPMaxConnsPerHost int    `json:"http_max_conns_per_host"`
	HTTPIdleConnTimeout string `json:"http_idle_conn_timeout"`
}

func readConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("read chromadb config: %w", err)
	}
	var file configFile
	if err := json.Unmarshal(data, &file); err != nil {
		return Config{}, fmt.Errorf("parse chromadb config: %w", err)
	}
	cfg := Config{
		Host:                strings.TrimSpace(file.Host),
		Port:                strings.TrimSpace(file.Port),
		Scheme:              strings.TrimSpace(file.Scheme),
		Collection:          strings.TrimSpace(file.Collection),
		APIKey:              file.APIKey,
		HTTPMaxIdleConns:    file.HTTPMaxIdleConns,
		HTTPMaxIdlePerHost:  file.HTTPMaxIdlePerHost,
		HTTPMaxConnsPerHost: file.HTTPMaxConnsPerHost,
	}
	if file.Timeout != "" {
		cfg.Timeout, err = time.ParseDuration(file.Timeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse chromadb config timeout: %w", err)
		}
	}
	if file.HTTPIdleConnTimeout != "" {
		cfg.HTTPIdleConnTimeout, err = time.ParseDuration(file.HTTPIdleConnTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse chromadb config idle timeout: %w", err)
		}
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setString := func(target *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*target = v
		}
	}
	setString(&cfg.Host, "CHROMADB_HOST")
	setString(&cfg.Port, "CHROMADB_PORT")
	setString(&cfg.Scheme, "CHROMADB_SCHEME")
	setString(&cfg.Collection, "CHROMADB_COLLECTION")
	setString(&cfg.APIKey, "CHROMADB_API_KEY")

	if v := strings.TrimSpace(os.Getenv("CHROMADB_TIMEOUT")); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse CHROMADB_TIMEOUT: %w", err)
		}
		cfg.Timeout = parsed
	}
	if v := strings.TrimSpace(os.Getenv("CHROMADB_HTTP_IDLE_CONN_TIMEOUT")); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse CHROMADB_HTTP_IDLE_CONN_TIMEOUT: %w", err)
		}
		cfg.HTTPIdleConnTimeout = parsed
	}

	setInt := func(target *int, key string) error {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			return nil
		}
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		if parsed > 0 {
			*target = parsed
		}
		return nil
	}
	if err := setInt(&cfg.HTTPMaxIdleConns, "CHROMADB_HTTP_MAX_IDLE_CONNS"); err != nil {
		return err
	}
	if err := setInt(&cfg.HTTPMaxIdlePerHost, "CHROMADB_HTTP_MAX_IDLE_PER_HOST"); err != nil {
		return err
	}
	return setInt(&cfg.HTTPMaxConnsPerHost, "CHROMADB_HTTP_MAX_CONNS_PER_HOST")
}
