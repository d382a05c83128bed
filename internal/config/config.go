package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config aggregates every setting the service needs.
type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	AI      AIConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	storage := loadStorageConfig()

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, Storage: storage, AI: ai}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Allow passing ":8080" or "127.0.0.1:8080" directly.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// StorageConfig locates the on-disk state: the index snapshot, the active and
// archived transcript areas and the models file.
type StorageConfig struct {
	DataDir    string
	IndexFile  string
	ActiveDir  string
	ArchiveDir string
	ModelsFile string
}

func loadStorageConfig() StorageConfig {
	dataDir := getEnvOrDefault("DATA_DIR", "data")
	return StorageConfig{
		DataDir:    dataDir,
		IndexFile:  getEnvOrDefault("INDEX_FILE", filepath.Join(dataDir, "users_sessions.json")),
		ActiveDir:  getEnvOrDefault("ACTIVE_CHATS_DIR", filepath.Join(dataDir, "active_chats")),
		ArchiveDir: getEnvOrDefault("ARCHIVED_CHATS_DIR", filepath.Join(dataDir, "archived_chats")),
		ModelsFile: getEnvOrDefault("MODELS_FILE", filepath.Join(dataDir, "models.json")),
	}
}

// AIConfig describes the generation backend.
type AIConfig struct {
	Endpoint  string
	AutoGreet bool
}

func loadAIConfig() (AIConfig, error) {
	autoGreet, err := parseBoolEnv("AUTO_GREET", true)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		Endpoint:  getEnvOrDefault("CHAT_ENDPOINT", "http://localhost:11434/api/chat"),
		AutoGreet: autoGreet,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}
