package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort              string
	ServerReadHeaderTimeout time.Duration
	ServerWriteTimeout      time.Duration
	ServerIdleTimeout       time.Duration
	RequestTimeout          time.Duration
	ShutdownTimeout         time.Duration
	CORSOrigins             []string
	RateLimitRPM            int
	TaskRateLimitRPM        int
	JWTSecret               string

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	// MetadataDriver selects the metadata store: postgres or memory.
	MetadataDriver string
	// TaskQueueDriver selects the task queue: postgres, sqlite or memory.
	TaskQueueDriver     string
	TaskQueueSQLitePath string

	StorageBackend string
	StorageRoot    string
	S3Endpoint     string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3Region       string
	TempRoot       string
	UploadTempDir  string
	// UploadSessionTTL is how long an idle chunked upload session is kept.
	UploadSessionTTL time.Duration

	WorkerCount             int
	TaskSweepInterval       time.Duration
	TaskHeartbeatTTL        time.Duration
	ProgressPublishInterval time.Duration
	MaxTransferFileSize     int64
	DownloadMaxPathLength   int
	DownloadPathPlaceholder string
	MaxRooms                int64
	PrivacyRoomEnabled      bool

	CredentialsSecret  string
	ProvidersFile      string
	ProviderCacheTTL   time.Duration
	ProviderCacheSize  int
	ProviderSessionTTL time.Duration
	ProviderRPS        float64
	EditingSessionTTL  time.Duration
	AuditBuffer        int

	LogLevel  string
	LogFormat string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:              getEnv("SERVER_PORT", "8080"),
		ServerReadHeaderTimeout: getDuration("SERVER_READ_HEADER_TIMEOUT", 10*time.Second),
		ServerWriteTimeout:      getDuration("SERVER_WRITE_TIMEOUT", 0),
		ServerIdleTimeout:       getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		RequestTimeout:          getDuration("REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout:         getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		CORSOrigins:             splitCSV(getEnv("CORS_ORIGINS", "*")),
		RateLimitRPM:            getInt("RATE_LIMIT_RPM", 300),
		TaskRateLimitRPM:        getInt("TASK_RATE_LIMIT_RPM", 60),
		JWTSecret:               strings.TrimSpace(os.Getenv("JWT_SECRET")),

		DatabaseURL:         strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMaxConns:          int32(getInt("DB_MAX_CONNS", 20)),
		DBMinConns:          int32(getInt("DB_MIN_CONNS", 2)),
		MetadataDriver:      strings.ToLower(getEnv("METADATA_DRIVER", "postgres")),
		TaskQueueDriver:     strings.ToLower(getEnv("TASK_QUEUE_DRIVER", "postgres")),
		TaskQueueSQLitePath: getEnv("TASK_QUEUE_SQLITE_PATH", "./state/tasks.db"),

		StorageBackend:   strings.ToLower(getEnv("STORAGE_BACKEND", "local")),
		StorageRoot:      getEnv("STORAGE_ROOT", "./data"),
		S3Endpoint:       strings.TrimSpace(os.Getenv("S3_ENDPOINT")),
		S3Bucket:         strings.TrimSpace(os.Getenv("S3_BUCKET")),
		S3AccessKey:      strings.TrimSpace(os.Getenv("S3_ACCESS_KEY")),
		S3SecretKey:      strings.TrimSpace(os.Getenv("S3_SECRET_KEY")),
		S3Region:         getEnv("S3_REGION", "us-east-1"),
		TempRoot:         getEnv("TEMP_ROOT", "./state/temp"),
		UploadTempDir:    getEnv("UPLOAD_TEMP_DIR", "./state/uploads"),
		UploadSessionTTL: getDuration("UPLOAD_SESSION_TTL", time.Hour),

		WorkerCount:             getInt("WORKER_COUNT", 4),
		TaskSweepInterval:       getDuration("TASK_SWEEP_INTERVAL", time.Minute),
		TaskHeartbeatTTL:        getDuration("TASK_HEARTBEAT_TTL", 2*time.Minute),
		ProgressPublishInterval: getDuration("PROGRESS_PUBLISH_INTERVAL", time.Second),
		MaxTransferFileSize:     getInt64("MAX_TRANSFER_FILE_SIZE", 1<<30),
		DownloadMaxPathLength:   getInt("DOWNLOAD_MAX_PATH_LENGTH", 200),
		DownloadPathPlaceholder: getEnv("DOWNLOAD_PATH_PLACEHOLDER", "long_path"),
		MaxRooms:                getInt64("MAX_ROOMS", 0),
		PrivacyRoomEnabled:      getBool("PRIVACY_ROOM_ENABLED", false),

		CredentialsSecret:  strings.TrimSpace(os.Getenv("CREDENTIALS_SECRET")),
		ProvidersFile:      strings.TrimSpace(os.Getenv("PROVIDERS_FILE")),
		ProviderCacheTTL:   getDuration("PROVIDER_CACHE_TTL", time.Minute),
		ProviderCacheSize:  getInt("PROVIDER_CACHE_SIZE", 10000),
		ProviderSessionTTL: getDuration("PROVIDER_SESSION_TTL", 20*time.Minute),
		ProviderRPS:        getFloat("PROVIDER_RPS", 10),
		EditingSessionTTL:  getDuration("EDITING_SESSION_TTL", 2*time.Minute),
		AuditBuffer:        getInt("AUDIT_BUFFER", 1024),

		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "pretty")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.ServerPort == "" {
		return fmt.Errorf("SERVER_PORT cannot be empty")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	switch c.MetadataDriver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("METADATA_DRIVER must be postgres or memory, got %q", c.MetadataDriver)
	}

	switch c.TaskQueueDriver {
	case "postgres", "memory":
	case "sqlite":
		if strings.TrimSpace(c.TaskQueueSQLitePath) == "" {
			return fmt.Errorf("TASK_QUEUE_SQLITE_PATH is required for the sqlite task queue")
		}
	default:
		return fmt.Errorf("TASK_QUEUE_DRIVER must be postgres, sqlite or memory, got %q", c.TaskQueueDriver)
	}

	if c.NeedsDatabase() && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for postgres drivers")
	}

	switch c.StorageBackend {
	case "local":
		if c.StorageRoot == "" {
			return fmt.Errorf("STORAGE_ROOT cannot be empty")
		}
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when STORAGE_BACKEND=s3")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be local or s3, got %q", c.StorageBackend)
	}

	if strings.TrimSpace(c.TempRoot) == "" {
		return fmt.Errorf("TEMP_ROOT cannot be empty")
	}

	if c.WorkerCount <= 0 {
		return fmt.Errorf("WORKER_COUNT must be positive")
	}

	if c.TaskHeartbeatTTL <= 0 || c.TaskSweepInterval <= 0 {
		return fmt.Errorf("TASK_HEARTBEAT_TTL and TASK_SWEEP_INTERVAL must be positive")
	}

	if c.ProgressPublishInterval < 0 {
		return fmt.Errorf("PROGRESS_PUBLISH_INTERVAL cannot be negative")
	}

	if c.MaxTransferFileSize <= 0 {
		return fmt.Errorf("MAX_TRANSFER_FILE_SIZE must be positive")
	}

	if c.DownloadMaxPathLength < len(c.DownloadPathPlaceholder) {
		return fmt.Errorf("DOWNLOAD_MAX_PATH_LENGTH must fit DOWNLOAD_PATH_PLACEHOLDER")
	}

	if c.MaxRooms < 0 {
		return fmt.Errorf("MAX_ROOMS cannot be negative")
	}

	if len(c.CredentialsSecret) < 16 {
		return fmt.Errorf("CREDENTIALS_SECRET must be at least 16 characters")
	}

	if c.ProviderRPS < 0 {
		return fmt.Errorf("PROVIDER_RPS cannot be negative")
	}

	switch c.LogFormat {
	case "pretty", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be pretty or json, got %q", c.LogFormat)
	}

	return nil
}

// NeedsDatabase reports whether any selected driver talks to Postgres.
func (c *Config) NeedsDatabase() bool {
	return c.MetadataDriver == "postgres" || c.TaskQueueDriver == "postgres"
}

func getEnv(key string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}

	return v
}

func getInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getInt64(key string, fallback int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}

	return v
}

func getFloat(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}

	return v
}

func getBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return v
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}

	return out
}
