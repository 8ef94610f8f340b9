// Package config loads the optional user configuration file from
// ~/.ankibot/config.yaml. Environment variables always win over the file,
// so the file only fills in values the environment leaves unset.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/SaschaKiebler/ankiBot/internal/parsing"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Settings is the on-disk configuration shape.
type Settings struct {
	Vision  VisionSettings  `yaml:"vision"`
	Parsing ParsingSettings `yaml:"parsing"`
}

// VisionSettings configures the vision model endpoint used for page
// extraction. API keys belong in the environment, not on disk, but the file
// accepts one for local setups.
type VisionSettings struct {
	APIURL            string `yaml:"api_url"`
	Model             string `yaml:"model"`
	APIKey            string `yaml:"api_key"`
	MaxTokens         int    `yaml:"max_tokens"`
	TimeoutSeconds    int    `yaml:"timeout_seconds"`
	RequestsPerSecond int    `yaml:"requests_per_second"`
}

// ParsingSettings configures the rasterizer and page worker pool.
type ParsingSettings struct {
	DPI            int `yaml:"dpi"`
	MaxConcurrency int `yaml:"max_concurrency"`
}

// DefaultSettings returns the settings used when no config file exists.
func DefaultSettings() *Settings {
	return &Settings{
		Vision: VisionSettings{
			MaxTokens:         parsing.DefaultMaxTokens,
			TimeoutSeconds:    parsing.DefaultTimeout,
			RequestsPerSecond: parsing.DefaultRequestsPerSecond,
		},
		Parsing: ParsingSettings{
			DPI:            parsing.DefaultDPI,
			MaxConcurrency: parsing.DefaultMaxConcurrency,
		},
	}
}

// DefaultPath returns the user config file location.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".ankibot", "config.yaml"), nil
}

// Load reads the config file at path, falling back to defaults when the
// file does not exist. An empty path means DefaultPath.
func Load(logger *logrus.Logger, path string) (*Settings, error) {
	if path == "" {
		defaultPath, err := DefaultPath()
		if err != nil {
			logger.WithError(err).Debug("No home directory, using default settings")
			return DefaultSettings(), nil
		}
		path = defaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.WithField("path", path).Debug("No config file, using default settings")
			return DefaultSettings(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	settings := DefaultSettings()
	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	settings.normalize()
	logger.WithField("path", path).Debug("Loaded config file")
	return settings, nil
}

// normalize clamps zero or negative values back to the defaults so a sparse
// config file never disables parts of the pipeline.
func (s *Settings) normalize() {
	defaults := DefaultSettings()
	if s.Vision.MaxTokens <= 0 {
		s.Vision.MaxTokens = defaults.Vision.MaxTokens
	}
	if s.Vision.TimeoutSeconds <= 0 {
		s.Vision.TimeoutSeconds = defaults.Vision.TimeoutSeconds
	}
	if s.Vision.RequestsPerSecond <= 0 {
		s.Vision.RequestsPerSecond = defaults.Vision.RequestsPerSecond
	}
	if s.Parsing.DPI <= 0 {
		s.Parsing.DPI = defaults.Parsing.DPI
	}
	if s.Parsing.MaxConcurrency <= 0 {
		s.Parsing.MaxConcurrency = defaults.Parsing.MaxConcurrency
	}
}

// Export copies file-backed vision settings into the environment without
// overriding variables the user already set. The vision client reads only
// the environment, so this keeps one source of truth at construction time.
func (s *Settings) Export() {
	setIfUnset(parsing.EnvVisionAPIBase, s.Vision.APIURL)
	setIfUnset(parsing.EnvVisionModel, s.Vision.Model)
	setIfUnset(parsing.EnvVisionAPIKey, s.Vision.APIKey)
	setIfUnset(parsing.EnvVisionMaxTokens, strconv.Itoa(s.Vision.MaxTokens))
	setIfUnset(parsing.EnvVisionTimeout, strconv.Itoa(s.Vision.TimeoutSeconds))
	setIfUnset(parsing.EnvVisionRateLimit, strconv.Itoa(s.Vision.RequestsPerSecond))
}

func setIfUnset(key, value string) {
	if value == "" {
		return
	}
	if _, exists := os.LookupEnv(key); exists {
		return
	}
	_ = os.Setenv(key, value)
}
