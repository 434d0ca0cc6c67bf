package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DataDir      string       `yaml:"-"`
	DBPath       string       `yaml:"-"`
	LogPath      string       `yaml:"-"`
	ExportDir    string       `yaml:"export_dir"`
	TemplatesDir string       `yaml:"templates_dir"`
	API          APIConfig    `yaml:"api"`
	Locale       LocaleConfig `yaml:"locale"`
	Log          LogConfig    `yaml:"log"`
}

type APIConfig struct {
	BaseURL         string        `yaml:"base_url"`
	Timeout         time.Duration `yaml:"timeout"`
	GenerateTimeout time.Duration `yaml:"generate_timeout"`
	Retries         uint64        `yaml:"retries"`
}

type LocaleConfig struct {
	PhoneRegion string `yaml:"phone_region"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func New() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	dataDir := getEnv("CLERK_DATA_DIR", filepath.Join(homeDir, ".clerk"))

	c := &Config{
		DataDir: dataDir,
		DBPath:  filepath.Join(dataDir, "clerk.db"),
		LogPath: filepath.Join(dataDir, "clerk.log"),
	}

	if err := c.loadFile(filepath.Join(dataDir, "config.yaml")); err != nil {
		return nil, err
	}

	c.applyEnv()
	c.applyDefaults()

	return c, nil
}

// loadFile merges an optional YAML config file. A missing file is not an error.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.API.BaseURL = getEnv("CLERK_API_URL", c.API.BaseURL)
	c.Log.Level = getEnv("CLERK_LOG_LEVEL", c.Log.Level)
	c.TemplatesDir = getEnv("CLERK_TEMPLATES_DIR", c.TemplatesDir)
}

func (c *Config) applyDefaults() {
	if c.API.BaseURL == "" {
		c.API.BaseURL = "http://127.0.0.1:8000"
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = 10 * time.Second
	}
	if c.API.GenerateTimeout == 0 {
		c.API.GenerateTimeout = 60 * time.Second
	}
	if c.API.Retries == 0 {
		c.API.Retries = 3
	}
	if c.Locale.PhoneRegion == "" {
		c.Locale.PhoneRegion = "UA"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.ExportDir == "" {
		c.ExportDir = filepath.Join(c.DataDir, "exports")
	}
}

func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	if err := os.MkdirAll(c.ExportDir, 0755); err != nil {
		return err
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}
