package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/SaschaKiebler/ankiBot/internal/parsing"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	settings, err := Load(testLogger(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, parsing.DefaultDPI, settings.Parsing.DPI)
	assert.Equal(t, parsing.DefaultMaxConcurrency, settings.Parsing.MaxConcurrency)
	assert.Equal(t, parsing.DefaultMaxTokens, settings.Vision.MaxTokens)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
vision:
  model: gpt-4.1-mini
  api_url: https://example.invalid/v1
  max_tokens: 4096
parsing:
  dpi: 150
  max_concurrency: 4
`)

	settings, err := Load(testLogger(), path)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4.1-mini", settings.Vision.Model)
	assert.Equal(t, "https://example.invalid/v1", settings.Vision.APIURL)
	assert.Equal(t, 4096, settings.Vision.MaxTokens)
	assert.Equal(t, 150, settings.Parsing.DPI)
	assert.Equal(t, 4, settings.Parsing.MaxConcurrency)
	// Unset values keep their defaults.
	assert.Equal(t, parsing.DefaultTimeout, settings.Vision.TimeoutSeconds)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "vision: [broken")

	_, err := Load(testLogger(), path)
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestLoad_NormalizesNonPositiveValues(t *testing.T) {
	path := writeConfig(t, `
parsing:
  dpi: -1
  max_concurrency: 0
`)

	settings, err := Load(testLogger(), path)
	require.NoError(t, err)
	assert.Equal(t, parsing.DefaultDPI, settings.Parsing.DPI)
	assert.Equal(t, parsing.DefaultMaxConcurrency, settings.Parsing.MaxConcurrency)
}

func TestExport_DoesNotOverrideEnvironment(t *testing.T) {
	t.Setenv(parsing.EnvVisionModel, "env-model")
	os.Unsetenv(parsing.EnvVisionAPIBase)
	t.Cleanup(func() { os.Unsetenv(parsing.EnvVisionAPIBase) })

	settings := DefaultSettings()
	settings.Vision.Model = "file-model"
	settings.Vision.APIURL = "https://file.invalid/v1"
	settings.Export()

	assert.Equal(t, "env-model", os.Getenv(parsing.EnvVisionModel))
	assert.Equal(t, "https://file.invalid/v1", os.Getenv(parsing.EnvVisionAPIBase))
}
