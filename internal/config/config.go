package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server ServerConfig
	DB     DBConfig
	S3     S3Config
	VLM    VLMConfig
	Worker WorkerConfig
	Upload UploadConfig
	Log    LogConfig
	CORS   CORSConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Environment  string        `mapstructure:"environment"`
}

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxOpen  int    `mapstructure:"max_open"`
	MaxIdle  int    `mapstructure:"max_idle"`
}

// DSN returns the PostgreSQL connection string.
func (d *DBConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// S3Config holds object storage settings for uploaded document images.
type S3Config struct {
	Region        string `mapstructure:"region"`
	Bucket        string `mapstructure:"bucket"`
	Endpoint      string `mapstructure:"endpoint"`
	AccessKey     string `mapstructure:"access_key"`
	SecretKey     string `mapstructure:"secret_key"`
	PresignExpiry int64  `mapstructure:"presign_expiry"`
}

// VLMConfig holds settings for the remote vision-language model.
type VLMConfig struct {
	APIKey      string `mapstructure:"api_key"`
	Model       string `mapstructure:"model"`
	Endpoint    string `mapstructure:"endpoint"`
	TimeoutSecs int    `mapstructure:"timeout_secs"`
}

// WorkerConfig holds background processing settings.
type WorkerConfig struct {
	Concurrency          int `mapstructure:"concurrency"`
	QueueSize            int `mapstructure:"queue_size"`
	ProcessTimeoutSecs   int `mapstructure:"process_timeout_secs"`
	RecoveryBatch        int `mapstructure:"recovery_batch"`
	RecoveryIntervalSecs int `mapstructure:"recovery_interval_secs"`
}

// UploadConfig holds upload validation settings.
type UploadConfig struct {
	MaxFileSizeMB int64 `mapstructure:"max_file_size_mb"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads configuration from environment variables with the MEDCODER_ prefix.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MEDCODER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Server defaults
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.environment", "development")

	// DB defaults
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "medcoder")
	v.SetDefault("db.password", "medcoder_secret")
	v.SetDefault("db.name", "medcoder_db")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.max_open", 25)
	v.SetDefault("db.max_idle", 10)

	// S3 defaults
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.bucket", "medcoder-documents")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.presign_expiry", 3600)

	// VLM defaults
	v.SetDefault("vlm.api_key", "")
	v.SetDefault("vlm.model", "qwen/qwen2.5-vl-72b-instruct")
	v.SetDefault("vlm.endpoint", "")
	v.SetDefault("vlm.timeout_secs", 60)

	// Worker defaults
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.queue_size", 64)
	v.SetDefault("worker.process_timeout_secs", 120)
	v.SetDefault("worker.recovery_batch", 50)
	v.SetDefault("worker.recovery_interval_secs", 60)

	// Upload defaults
	v.SetDefault("upload.max_file_size_mb", 20)

	// Log defaults
	v.SetDefault("log.level", "debug")
	v.SetDefault("log.format", "console")

	// CORS defaults (localhost origins for development)
	v.SetDefault("cors.allowed_origins", "http://localhost:3000,http://127.0.0.1:3000")

	// Bind environment variables explicitly for nested keys
	envBindings := map[string]string{
		"server.port":                   "MEDCODER_SERVER_PORT",
		"server.read_timeout":           "MEDCODER_SERVER_READ_TIMEOUT",
		"server.write_timeout":          "MEDCODER_SERVER_WRITE_TIMEOUT",
		"server.environment":            "MEDCODER_SERVER_ENVIRONMENT",
		"db.host":                       "MEDCODER_DB_HOST",
		"db.port":                       "MEDCODER_DB_PORT",
		"db.user":                       "MEDCODER_DB_USER",
		"db.password":                   "MEDCODER_DB_PASSWORD",
		"db.name":                       "MEDCODER_DB_NAME",
		"db.sslmode":                    "MEDCODER_DB_SSLMODE",
		"db.max_open":                   "MEDCODER_DB_MAX_OPEN",
		"db.max_idle":                   "MEDCODER_DB_MAX_IDLE",
		"s3.region":                     "MEDCODER_S3_REGION",
		"s3.bucket":                     "MEDCODER_S3_BUCKET",
		"s3.endpoint":                   "MEDCODER_S3_ENDPOINT",
		"s3.access_key":                 "MEDCODER_S3_ACCESS_KEY",
		"s3.secret_key":                 "MEDCODER_S3_SECRET_KEY",
		"s3.presign_expiry":             "MEDCODER_S3_PRESIGN_EXPIRY",
		"vlm.api_key":                   "MEDCODER_VLM_API_KEY",
		"vlm.model":                     "MEDCODER_VLM_MODEL",
		"vlm.endpoint":                  "MEDCODER_VLM_ENDPOINT",
		"vlm.timeout_secs":              "MEDCODER_VLM_TIMEOUT_SECS",
		"worker.concurrency":            "MEDCODER_WORKER_CONCURRENCY",
		"worker.queue_size":             "MEDCODER_WORKER_QUEUE_SIZE",
		"worker.process_timeout_secs":   "MEDCODER_WORKER_PROCESS_TIMEOUT_SECS",
		"worker.recovery_batch":         "MEDCODER_WORKER_RECOVERY_BATCH",
		"worker.recovery_interval_secs": "MEDCODER_WORKER_RECOVERY_INTERVAL_SECS",
		"upload.max_file_size_mb":       "MEDCODER_UPLOAD_MAX_FILE_SIZE_MB",
		"log.level":                     "MEDCODER_LOG_LEVEL",
		"log.format":                    "MEDCODER_LOG_FORMAT",
		"cors.allowed_origins":          "MEDCODER_CORS_ALLOWED_ORIGINS",
	}
	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}

	cfg := &Config{}

	// Railway/Heroku/Render set a PORT env var. Use it if MEDCODER_SERVER_PORT is not explicitly set.
	serverPort := v.GetString("server.port")
	if port := os.Getenv("PORT"); port != "" && os.Getenv("MEDCODER_SERVER_PORT") == "" {
		serverPort = ":" + port
	}

	cfg.Server = ServerConfig{
		Port:         serverPort,
		ReadTimeout:  v.GetDuration("server.read_timeout"),
		WriteTimeout: v.GetDuration("server.write_timeout"),
		Environment:  v.GetString("server.environment"),
	}
	cfg.DB = DBConfig{
		Host:     v.GetString("db.host"),
		Port:     v.GetInt("db.port"),
		User:     v.GetString("db.user"),
		Password: v.GetString("db.password"),
		Name:     v.GetString("db.name"),
		SSLMode:  v.GetString("db.sslmode"),
		MaxOpen:  v.GetInt("db.max_open"),
		MaxIdle:  v.GetInt("db.max_idle"),
	}
	cfg.S3 = S3Config{
		Region:        v.GetString("s3.region"),
		Bucket:        v.GetString("s3.bucket"),
		Endpoint:      v.GetString("s3.endpoint"),
		AccessKey:     v.GetString("s3.access_key"),
		SecretKey:     v.GetString("s3.secret_key"),
		PresignExpiry: v.GetInt64("s3.presign_expiry"),
	}
	cfg.VLM = VLMConfig{
		APIKey:      v.GetString("vlm.api_key"),
		Model:       v.GetString("vlm.model"),
		Endpoint:    v.GetString("vlm.endpoint"),
		TimeoutSecs: v.GetInt("vlm.timeout_secs"),
	}
	cfg.Worker = WorkerConfig{
		Concurrency:          v.GetInt("worker.concurrency"),
		QueueSize:            v.GetInt("worker.queue_size"),
		ProcessTimeoutSecs:   v.GetInt("worker.process_timeout_secs"),
		RecoveryBatch:        v.GetInt("worker.recovery_batch"),
		RecoveryIntervalSecs: v.GetInt("worker.recovery_interval_secs"),
	}
	cfg.Upload = UploadConfig{
		MaxFileSizeMB: v.GetInt64("upload.max_file_size_mb"),
	}
	cfg.Log = LogConfig{
		Level:  v.GetString("log.level"),
		Format: v.GetString("log.format"),
	}

	// Parse CORS allowed origins from comma-separated string
	var corsOrigins []string
	for _, o := range strings.Split(v.GetString("cors.allowed_origins"), ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			corsOrigins = append(corsOrigins, o)
		}
	}
	cfg.CORS = CORSConfig{AllowedOrigins: corsOrigins}

	return cfg, nil
}
