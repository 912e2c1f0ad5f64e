// README: Config loader with env defaults for HTTP, stores, Firebase, Maps, and dispatch settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreFirestore = "firestore"
	StoreMemory    = "memory"
)

type DispatchConfig struct {
	RadiusKm   float64
	MaxHelpers int
}

type Config struct {
	HTTP struct {
		Addr            string
		ShutdownTimeout time.Duration
		CORSOrigins     []string
	}
	DB struct {
		DSN string // empty disables the event log
	}
	Redis struct {
		Addr string // empty keeps presence and dispatch in process
	}
	Store    string
	Firebase struct {
		ProjectID       string
		CredentialsFile string
		DevAuth         bool
	}
	Maps struct {
		APIKey string
	}
	Dispatch DispatchConfig
	LogLevel string
}

// Load reads the environment. Every malformed value is reported in the
// returned error rather than silently replaced by its default.
func Load() (Config, error) {
	var cfg Config
	var errs []error

	cfg.HTTP.Addr = envOrDefault("ROADHELPER_HTTP_ADDR", ":8080")
	cfg.HTTP.ShutdownTimeout = envOrDefaultDuration("ROADHELPER_SHUTDOWN_TIMEOUT", 10*time.Second, &errs)
	cfg.HTTP.CORSOrigins = envOrDefaultList("ROADHELPER_CORS_ORIGINS", []string{"*"})
	cfg.DB.DSN = os.Getenv("ROADHELPER_DB_DSN")
	cfg.Redis.Addr = os.Getenv("ROADHELPER_REDIS_ADDR")
	cfg.Store = envOrDefault("ROADHELPER_STORE", StoreFirestore)
	cfg.Firebase.ProjectID = os.Getenv("ROADHELPER_FIREBASE_PROJECT_ID")
	cfg.Firebase.CredentialsFile = os.Getenv("ROADHELPER_FIREBASE_CREDENTIALS")
	cfg.Firebase.DevAuth = envOrDefaultBool("ROADHELPER_DEV_AUTH", false, &errs)
	cfg.Maps.APIKey = os.Getenv("ROADHELPER_MAPS_API_KEY")
	cfg.Dispatch.RadiusKm = envOrDefaultFloat("ROADHELPER_DISPATCH_RADIUS_KM", 10, &errs)
	cfg.Dispatch.MaxHelpers = envOrDefaultInt("ROADHELPER_DISPATCH_MAX_HELPERS", 5, &errs)
	cfg.LogLevel = envOrDefault("ROADHELPER_LOG_LEVEL", "info")

	if cfg.Store != StoreFirestore && cfg.Store != StoreMemory {
		errs = append(errs, fmt.Errorf("ROADHELPER_STORE: unknown store %q", cfg.Store))
	}
	if cfg.Store == StoreFirestore && cfg.Firebase.ProjectID == "" {
		errs = append(errs, errors.New("ROADHELPER_FIREBASE_PROJECT_ID is required for the firestore store"))
	}
	if !cfg.Firebase.DevAuth && cfg.Firebase.ProjectID == "" {
		errs = append(errs, errors.New("ROADHELPER_FIREBASE_PROJECT_ID is required unless ROADHELPER_DEV_AUTH is set"))
	}
	if cfg.Dispatch.RadiusKm <= 0 {
		errs = append(errs, errors.New("ROADHELPER_DISPATCH_RADIUS_KM must be positive"))
	}
	if cfg.Dispatch.MaxHelpers <= 0 {
		errs = append(errs, errors.New("ROADHELPER_DISPATCH_MAX_HELPERS must be positive"))
	}
	return cfg, errors.Join(errs...)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envOrDefaultList splits a comma separated value, dropping empty items.
func envOrDefaultList(key string, def []string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func envOrDefaultInt(key string, def int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func envOrDefaultFloat(key string, def float64, errs *[]error) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func envOrDefaultBool(key string, def bool, errs *[]error) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func envOrDefaultDuration(key string, def time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}
