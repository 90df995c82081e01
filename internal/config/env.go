package config

import (
	"os"
	"strconv"
	"time"
)

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("LOADPROBE_TARGET_URL"); v != "" {
		cfg.Target.URL = v
	}
	if v := os.Getenv("LOADPROBE_SUCCESS_PATTERN"); v != "" {
		cfg.Target.SuccessPattern = v
	}
	if v := os.Getenv("LOADPROBE_COOKIE"); v != "" {
		cfg.Target.Cookie = v
	}

	// Search parameters
	setFloat("LOADPROBE_INITIAL_RATE", &cfg.Probe.InitialRate)
	setFloat("LOADPROBE_INITIAL_STEP", &cfg.Probe.InitialStep)
	setInt("LOADPROBE_MAX_FAILURES", &cfg.Probe.MaxFailures)
	setDuration("LOADPROBE_WINDOW", &cfg.Probe.Window)
	setDuration("LOADPROBE_INTER_BURST_DELAY", &cfg.Probe.InterBurstDelay)
	setDuration("LOADPROBE_GRACE_PERIOD", &cfg.Probe.GracePeriod)

	if v := os.Getenv("LOADPROBE_ENGINE"); v != "" {
		cfg.Generator.Engine = v
	}
	setInt("LOADPROBE_MAX_IN_FLIGHT", &cfg.Generator.MaxInFlight)

	if v := os.Getenv("LOADPROBE_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("LOADPROBE_WORKLOAD_ADDR"); v != "" {
		cfg.Workload.Addr = v
	}
	setFloat("LOADPROBE_WORKLOAD_RATE_LIMIT", &cfg.Workload.RateLimit)

	if v := os.Getenv("LOADPROBE_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	// Archive settings
	if v := os.Getenv("LOADPROBE_ARCHIVE_BUCKET"); v != "" {
		cfg.Archive.Bucket = v
	}
	if v := os.Getenv("LOADPROBE_ARCHIVE_ENDPOINT"); v != "" {
		cfg.Archive.Endpoint = v
	}
	cfg.Archive.AccessKey = GetEnvOrDefault("LOADPROBE_ARCHIVE_ACCESS_KEY", cfg.Archive.AccessKey)
	cfg.Archive.SecretKey = GetEnvOrDefault("LOADPROBE_ARCHIVE_SECRET_KEY", cfg.Archive.SecretKey)

	if v := os.Getenv("LOADPROBE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOADPROBE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

// GetEnvOrDefault returns environment variable or default value
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func setFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
