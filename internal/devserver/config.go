package devserver

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config captures the tunable parameters of the development server.
// Values are loaded from environment variables with defaults that let
// the binary run locally without setup.
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	LogLevel        string

	// TimeoutScale shortens matching timeouts for local experiments:
	// a join with durationMin=10 waits 10*TimeoutScale. Defaults to one
	// minute, i.e. real durations.
	TimeoutScale time.Duration
}

func defaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ShutdownTimeout: 10 * time.Second,
		AllowedOrigins:  []string{"*"},
		LogLevel:        "info",
		TimeoutScale:    time.Minute,
	}
}

// LoadConfig reads the configuration from the environment.
func LoadConfig() (Config, error) {
	cfg := defaultConfig()
	var errs []error

	setStringFromEnv(&cfg.Addr, "DEVSERVER_ADDR")
	setDurationFromEnv(&cfg.ShutdownTimeout, "DEVSERVER_SHUTDOWN_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.TimeoutScale, "DEVSERVER_TIMEOUT_SCALE", &errs)

	if origins := os.Getenv("DEVSERVER_CORS_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = splitAndTrim(origins)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.TimeoutScale <= 0 {
		errs = append(errs, fmt.Errorf("DEVSERVER_TIMEOUT_SCALE must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
