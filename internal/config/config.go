package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds runtime configuration for the panel service.
type Config struct {
	ListenAddr      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	BackendBaseURL string
	BackendTimeout time.Duration

	StreamReconnectDelay   time.Duration
	StreamWatchdogInterval time.Duration
	StreamKeepAliveTimeout time.Duration

	SessionTickInterval time.Duration
	StatusLogMaxEntries int

	DraftSQLitePath string
	DraftName       string

	DefaultChunkSize string
}

// FromEnv loads configuration from environment variables with sensible defaults.
func FromEnv() Config {
	loadConfigDefaultsFromFile()
	loadSecretsDefaultsFromFile()

	return Config{
		ListenAddr:      getEnv("APP_LISTEN_ADDR", ":8090"),
		ReadTimeout:     time.Duration(getEnvInt("APP_READ_TIMEOUT_SEC", 10)) * time.Second,
		WriteTimeout:    time.Duration(getEnvInt("APP_WRITE_TIMEOUT_SEC", 20)) * time.Second,
		ShutdownTimeout: time.Duration(getEnvInt("APP_SHUTDOWN_TIMEOUT_SEC", 10)) * time.Second,

		BackendBaseURL: getEnv("APP_BACKEND_BASE_URL", "http://127.0.0.1:5000"),
		BackendTimeout: time.Duration(getEnvInt("APP_BACKEND_TIMEOUT_SEC", 15)) * time.Second,

		StreamReconnectDelay:   time.Duration(getEnvInt("APP_STREAM_RECONNECT_DELAY_SEC", 5)) * time.Second,
		StreamWatchdogInterval: time.Duration(getEnvInt("APP_STREAM_WATCHDOG_INTERVAL_SEC", 30)) * time.Second,
		StreamKeepAliveTimeout: time.Duration(getEnvInt("APP_STREAM_KEEPALIVE_TIMEOUT_SEC", 3600)) * time.Second,

		SessionTickInterval: time.Duration(getEnvInt("APP_SESSION_TICK_MS", 1000)) * time.Millisecond,
		StatusLogMaxEntries: getEnvInt("APP_STATUS_LOG_MAX_ENTRIES", 500),

		DraftSQLitePath: getEnv("APP_DRAFT_SQLITE_PATH", ""),
		DraftName:       getEnv("APP_DRAFT_NAME", "report-table"),

		DefaultChunkSize: getEnv("APP_DEFAULT_CHUNK_SIZE", "5"),
	}
}

func loadConfigDefaultsFromFile() {
	bootstrapCandidates := []string{
		"./report-download-panel.env",
		"/etc/default/report-download-panel",
	}

	for _, candidate := range bootstrapCandidates {
		abs := candidate
		if !filepath.IsAbs(candidate) {
			if wd, err := os.Getwd(); err == nil {
				abs = filepath.Join(wd, candidate)
			}
		}
		_ = applyEnvDefaultsFromFile(abs)
	}

	candidates := make([]string, 0, 2)
	if explicit := strings.TrimSpace(os.Getenv("APP_CONFIG_FILE")); explicit != "" {
		candidates = append(candidates, explicit)
	}
	candidates = append(candidates, "/etc/report-download-panel/config.env")

	for _, candidate := range candidates {
		abs := candidate
		if !filepath.IsAbs(candidate) {
			if wd, err := os.Getwd(); err == nil {
				abs = filepath.Join(wd, candidate)
			}
		}

		if err := applyEnvDefaultsFromFile(abs); err == nil {
			return
		}
	}
}

func loadSecretsDefaultsFromFile() {
	candidates := make([]string, 0, 3)
	if explicit := strings.TrimSpace(os.Getenv("APP_SECRETS_FILE")); explicit != "" {
		candidates = append(candidates, explicit)
	}
	if credDir := strings.TrimSpace(os.Getenv("CREDENTIALS_DIRECTORY")); credDir != "" {
		credName := strings.TrimSpace(os.Getenv("APP_SECRETS_CREDENTIAL_NAME"))
		if credName == "" {
			credName = "app-secrets"
		}
		candidates = append(candidates, filepath.Join(credDir, credName))
	}
	candidates = append(candidates, "/etc/report-download-panel/secrets.env")
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		if err := applyEnvDefaultsFromFile(candidate); err == nil {
			return
		}
	}
}

func applyEnvDefaultsFromFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		kv := strings.SplitN(line, "=", 2)
		if len(kv) != 2 {
			continue
		}

		key := strings.TrimSpace(kv[0])
		val := strings.TrimSpace(kv[1])
		if key == "" {
			continue
		}

		if len(val) >= 2 {
			if (val[0] == '"' && val[len(val)-1] == '"') || (val[0] == '\'' && val[len(val)-1] == '\'') {
				val = val[1 : len(val)-1]
			}
		}

		if os.Getenv(key) == "" {
			_ = os.Setenv(key, val)
		}
	}

	return scanner.Err()
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return parsed
}
