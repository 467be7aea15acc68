package app

import (
	"os"
	"strconv"
	"time"

	"github.com/commonassist/casehub/internal/clientsync/service"
	"github.com/commonassist/casehub/pkg/blobx"
)

type Config struct {
	RegistryFile string // Path to the store registry YAML (default: ./stores.yaml)

	Env       string // Environment (dev, staging, prod) (default: dev)
	LogLevel  string // Log level (debug, info, warn, error) (default: info)
	LogFormat string // Log format (json, text) (default: json)

	LockTimeout   time.Duration // Max wait for a client's id lock (default: 10s)
	ScanRate      float64       // Auditor scan queries per second (default: 50)
	AuditInterval time.Duration // Daemon audit cadence (default: 24h)
	AuditPolicy   string        // Daemon repair policy (skip, delete-orphan, null-reference) (default: skip)

	MetricsAddr         string        // Optional: daemon metrics/probe listen address, e.g. ":9090"
	ShutdownGracePeriod time.Duration // Graceful shutdown timeout (default: 10s)

	Snapshots blobx.Config // Pre-repair snapshot storage (default: ./snapshots on disk)
}

func LoadConfig() Config {
	cfg := Config{
		RegistryFile:        getEnvOrDefault("CLIENTSYNC_REGISTRY_FILE", "stores.yaml"),
		Env:                 getEnvOrDefault("ENV", "dev"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "json"),
		LockTimeout:         getEnvDurationOrDefault("CLIENTSYNC_LOCK_TIMEOUT", service.DefaultLockTimeout),
		ScanRate:            getEnvFloatOrDefault("CLIENTSYNC_SCAN_RATE", service.DefaultScanRate),
		AuditInterval:       getEnvDurationOrDefault("CLIENTSYNC_AUDIT_INTERVAL", 24*time.Hour),
		AuditPolicy:         getEnvOrDefault("CLIENTSYNC_AUDIT_POLICY", "skip"),
		MetricsAddr:         os.Getenv("CLIENTSYNC_METRICS_ADDR"),
		ShutdownGracePeriod: getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}

	cfg.Snapshots = blobx.Config{
		Driver:          blobx.Driver(getEnvOrDefault("CLIENTSYNC_SNAPSHOT_DRIVER", string(blobx.DriverFilesystem))),
		Dir:             getEnvOrDefault("CLIENTSYNC_SNAPSHOT_DIR", "snapshots"),
		Bucket:          os.Getenv("CLIENTSYNC_SNAPSHOT_BUCKET"),
		Region:          os.Getenv("CLIENTSYNC_SNAPSHOT_REGION"),
		Endpoint:        os.Getenv("CLIENTSYNC_SNAPSHOT_ENDPOINT"),
		AccessKeyID:     os.Getenv("CLIENTSYNC_SNAPSHOT_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("CLIENTSYNC_SNAPSHOT_SECRET_ACCESS_KEY"),
		PathStyle:       getEnvBoolOrDefault("CLIENTSYNC_SNAPSHOT_PATH_STYLE", false),
	}

	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}

	return defaultValue
}
