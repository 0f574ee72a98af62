package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const defaultAppFolder = ".tgmirror"

type Config struct {
	DataDir      string
	APIID        int
	APIHash      string
	SyncInterval time.Duration
}

func Load() Config {
	cfg := Config{
		DataDir:      dataDir(),
		SyncInterval: 5 * time.Minute,
	}
	if raw := os.Getenv("TGMIRROR_API_ID"); raw != "" {
		if id, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
			cfg.APIID = id
		}
	}
	cfg.APIHash = strings.TrimSpace(os.Getenv("TGMIRROR_API_HASH"))
	if raw := os.Getenv("TGMIRROR_SYNC_INTERVAL"); raw != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(raw)); err == nil && d > 0 {
			cfg.SyncInterval = d
		}
	}
	return cfg
}

func (c Config) Configured() bool {
	return c.APIID != 0 && c.APIHash != ""
}

func (c Config) DBPath() string {
	return filepath.Join(c.DataDir, "mirror.db")
}

func (c Config) SessionPath() string {
	return filepath.Join(c.DataDir, "session.json")
}

func dataDir() string {
	if envDir := os.Getenv("TGMIRROR_DATA_DIR"); envDir != "" {
		return envDir
	}
	if persisted, err := loadPersistedDataDir(); err == nil && strings.TrimSpace(persisted) != "" {
		return persisted
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, defaultAppFolder)
}

// PersistDataDir records a chosen data directory so later runs find it
// without the environment variable.
func PersistDataDir(dir string) error {
	clean := strings.TrimSpace(filepath.Clean(dir))
	if clean == "" {
		return errors.New("data directory is required")
	}
	if err := os.MkdirAll(clean, 0o755); err != nil {
		return err
	}
	bootstrapPath, err := bootstrapConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(bootstrapPath), 0o755); err != nil {
		return err
	}
	encoded, err := json.MarshalIndent(bootstrapConfig{DataDir: clean}, "", "  ")
	if err != nil {
		return err
	}
	tmpPath := bootstrapPath + ".tmp"
	if err := os.WriteFile(tmpPath, encoded, 0o644); err != nil {
		return err
	}
	if err := os.Remove(bootstrapPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return os.Rename(tmpPath, bootstrapPath)
}

type bootstrapConfig struct {
	DataDir string `json:"data_dir"`
}

func loadPersistedDataDir() (string, error) {
	bootstrapPath, err := bootstrapConfigPath()
	if err != nil {
		return "", err
	}
	raw, err := os.ReadFile(filepath.Clean(bootstrapPath))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	var payload bootstrapConfig
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", err
	}
	return strings.TrimSpace(filepath.Clean(payload.DataDir)), nil
}

func bootstrapConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, defaultAppFolder, "bootstrap.json"), nil
}
