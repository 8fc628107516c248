package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Detector DetectorConfig
	Queue    QueueConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	HTTPAddr        string
	MaxUploadBytes  int64
	ShutdownTimeout time.Duration
}

// StorageConfig holds job storage configuration
type StorageConfig struct {
	BaseDir string
}

// DetectorConfig holds detection model configuration
type DetectorConfig struct {
	ModelPath         string
	ModelConfigPath   string
	DefaultConfidence float64
}

// QueueConfig holds background queue configuration
type QueueConfig struct {
	Workers        int
	Size           int
	ProcessTimeout time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:        getEnv("HTTP_ADDR", ":8000"),
			MaxUploadBytes:  getEnvAsInt64("MAX_UPLOAD_BYTES", 200<<20),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Storage: StorageConfig{
			BaseDir: getEnv("STORAGE_DIR", "jobs"),
		},
		Detector: DetectorConfig{
			ModelPath:         getEnv("MODEL_PATH", "training/models/frozen_inference_graph.pb"),
			ModelConfigPath:   getEnv("MODEL_CONFIG_PATH", "training/models/ssd_mobilenet.pbtxt"),
			DefaultConfidence: getEnvAsFloat64("DEFAULT_CONFIDENCE", 0.5),
		},
		Queue: QueueConfig{
			Workers:        getEnvAsInt("QUEUE_WORKERS", 2),
			Size:           getEnvAsInt("QUEUE_SIZE", 64),
			ProcessTimeout: getEnvAsDuration("PROCESS_TIMEOUT", 10*time.Minute),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// ValidateConfig validates the loaded configuration
func (c *Config) Validate() error {
	if c.Storage.BaseDir == "" {
		return NewAppError("CONFIG_ERROR", "STORAGE_DIR is required", ErrInvalidInput)
	}
	if c.Server.HTTPAddr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	if c.Detector.DefaultConfidence < 0 || c.Detector.DefaultConfidence > 1 {
		return NewAppError("CONFIG_ERROR", "DEFAULT_CONFIDENCE must be in [0,1]", ErrInvalidInput)
	}
	return nil
}
