package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	// EnvFileVar points at an alternate .env location when no .env sits
	// next to the executable.
	EnvFileVar = "SNAPCROP_ENV"

	defaultHotkey            = "Ctrl+Alt+S"
	defaultCaptureTimeoutSec = 10
	defaultFileTimeoutSec    = 15
)

// Config holds runtime configuration resolved from the environment.
// Durable user settings (theme, shortcuts) live in the settings package.
type Config struct {
	Hotkey            string
	ScratchDir        string
	SettingsDir       string
	EnableFileLogging bool
	LogLevel          string
	CaptureTimeoutSec int
	FileTimeoutSec    int
	MaxSelection      int // 0 means default limit
}

// Load reads configuration from a .env file (executable directory, or the
// path named by SNAPCROP_ENV) plus the process environment.
func Load() (*Config, error) {
	if envPath := resolveEnvPath(); envPath != "" {
		_ = godotenv.Load(envPath)
	}

	cfg := &Config{
		Hotkey:            getEnvWithDefault("SNAPCROP_HOTKEY", defaultHotkey),
		ScratchDir:        os.Getenv("SNAPCROP_SCRATCH_DIR"),
		SettingsDir:       resolveSettingsDir(),
		EnableFileLogging: strings.EqualFold(os.Getenv("SNAPCROP_FILE_LOGGING"), "true"),
		LogLevel:          getEnvWithDefault("SNAPCROP_LOG_LEVEL", "info"),
		CaptureTimeoutSec: getEnvInt("SNAPCROP_CAPTURE_TIMEOUT_SEC", defaultCaptureTimeoutSec),
		FileTimeoutSec:    getEnvInt("SNAPCROP_FILE_TIMEOUT_SEC", defaultFileTimeoutSec),
		MaxSelection:      getEnvInt("SNAPCROP_MAX_SELECTION", 0),
	}

	return cfg, nil
}

func resolveEnvPath() string {
	execPath, err := os.Executable()
	if err == nil {
		exeEnv := filepath.Join(filepath.Dir(execPath), ".env")
		if _, err := os.Stat(exeEnv); err == nil {
			return exeEnv
		}
	}

	if alt := os.Getenv(EnvFileVar); alt != "" {
		if _, err := os.Stat(alt); err == nil {
			return alt
		}
	}

	return ""
}

func resolveSettingsDir() string {
	if dir := os.Getenv("SNAPCROP_SETTINGS_DIR"); dir != "" {
		return dir
	}
	if base, err := os.UserConfigDir(); err == nil {
		return filepath.Join(base, "snapcrop")
	}
	return ""
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}
