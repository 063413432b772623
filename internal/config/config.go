// Package config loads the explicit Config value threaded through constructors,
// replacing any notion of a global configuration singleton.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds every tunable in the configuration schema.
type Config struct {
	Debug                    bool
	LogLevel                 string
	DefaultWorkerTimeoutSec  int
	DefaultMaxRetries        int
	DefaultRetryDelaySec     int
	EnablePerformanceMonitor bool
	EnableErrorReporting     bool
	WorkerPoolSize           int
	WorkflowValidationStrict bool
	ThreadSafe               bool
}

// Default returns the documented defaults.
func Default() Config {
	return Config{
		Debug:                    false,
		LogLevel:                 "INFO",
		DefaultWorkerTimeoutSec:  120,
		DefaultMaxRetries:        3,
		DefaultRetryDelaySec:     1,
		EnablePerformanceMonitor: false,
		EnableErrorReporting:     true,
		WorkerPoolSize:           0, // 0 leaves the executor's own default worker count in place
		WorkflowValidationStrict: true,
		ThreadSafe:               true,
	}
}

// LoadFromEnv starts from Default and overlays any FRACTOR_<OPTION> environment
// variables, coercing "true"/"false" to bool and integer strings to int.
// FRACTOR_DEBUG (no value needed) also flips Debug on if merely set.
func LoadFromEnv() Config {
	cfg := Default()

	if _, ok := os.LookupEnv("FRACTOR_DEBUG"); ok {
		cfg.Debug = true
	}
	overlayBool("FRACTOR_DEBUG", &cfg.Debug)
	overlayString("FRACTOR_LOG_LEVEL", &cfg.LogLevel)
	overlayInt("FRACTOR_DEFAULT_WORKER_TIMEOUT", &cfg.DefaultWorkerTimeoutSec)
	overlayInt("FRACTOR_DEFAULT_MAX_RETRIES", &cfg.DefaultMaxRetries)
	overlayInt("FRACTOR_DEFAULT_RETRY_DELAY", &cfg.DefaultRetryDelaySec)
	overlayBool("FRACTOR_ENABLE_PERFORMANCE_MONITORING", &cfg.EnablePerformanceMonitor)
	overlayBool("FRACTOR_ENABLE_ERROR_REPORTING", &cfg.EnableErrorReporting)
	overlayInt("FRACTOR_WORKER_POOL_SIZE", &cfg.WorkerPoolSize)
	overlayBool("FRACTOR_WORKFLOW_VALIDATION_STRICT", &cfg.WorkflowValidationStrict)
	overlayBool("FRACTOR_THREAD_SAFE", &cfg.ThreadSafe)

	return cfg
}

func overlayString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func overlayBool(key string, dst *bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	switch strings.ToLower(v) {
	case "true", "1":
		*dst = true
	case "false", "0":
		*dst = false
	}
}

func overlayInt(key string, dst *int) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}
