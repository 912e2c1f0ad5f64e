// README: Smoke and load runner; exercises a running roadhelper API plus its Postgres and Redis.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

func main() {
	cfg := loadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	bench := NewRunner(cfg)
	results := bench.RunAll(ctx)

	fmt.Println("\n== Summary ==")
	pass, fail, skipped := 0, 0, 0
	for _, r := range results {
		switch r.Status {
		case statusPass:
			pass++
		case statusFail:
			fail++
		case statusSkip:
			skipped++
		}
	}
	fmt.Printf("PASS=%d FAIL=%d SKIP=%d\n", pass, fail, skipped)

	if fail > 0 || (cfg.Strict && skipped > 0) {
		os.Exit(1)
	}
}

type Config struct {
	BaseURL        string
	DSN            string
	RedisAddr      string
	MigrationPath  string
	ApplyMigration bool
	Strict         bool
	Timeout        time.Duration
	Concurrency    int
	Duration       time.Duration
	// tokens default to dev tokens, which the API accepts with ROADHELPER_DEV_AUTH=true
	CustomerToken string
	HelperPrefix  string
	AdminToken    string
}

func loadConfig() Config {
	var cfg Config
	flag.StringVar(&cfg.BaseURL, "base-url", envOrDefault("ROADHELPER_BENCH_BASE_URL", "http://localhost:8080"), "API base URL")
	flag.StringVar(&cfg.DSN, "dsn", os.Getenv("ROADHELPER_DB_DSN"), "Postgres DSN (empty skips event log checks)")
	flag.StringVar(&cfg.RedisAddr, "redis", os.Getenv("ROADHELPER_REDIS_ADDR"), "Redis address (empty skips presence checks)")
	flag.StringVar(&cfg.MigrationPath, "migration", envOrDefault("ROADHELPER_BENCH_MIGRATION", "migrations/0001_init.sql"), "Migration SQL path")
	flag.BoolVar(&cfg.ApplyMigration, "apply-migration", envOrDefaultBool("ROADHELPER_BENCH_APPLY_MIGRATION", false), "Apply migration SQL before tests")
	flag.BoolVar(&cfg.Strict, "strict", envOrDefaultBool("ROADHELPER_BENCH_STRICT", false), "Fail on skipped checks")
	flag.DurationVar(&cfg.Timeout, "timeout", envOrDefaultDuration("ROADHELPER_BENCH_TIMEOUT", 60*time.Second), "Total timeout")
	flag.IntVar(&cfg.Concurrency, "concurrency", envOrDefaultInt("ROADHELPER_BENCH_CONCURRENCY", 20), "Concurrent helpers / load workers")
	flag.DurationVar(&cfg.Duration, "duration", envOrDefaultDuration("ROADHELPER_BENCH_DURATION", 10*time.Second), "Duration for load checks")
	flag.StringVar(&cfg.CustomerToken, "customer-token", envOrDefault("ROADHELPER_BENCH_CUSTOMER_TOKEN", "bench-customer:customer"), "Bearer token of a customer")
	flag.StringVar(&cfg.HelperPrefix, "helper-prefix", envOrDefault("ROADHELPER_BENCH_HELPER_PREFIX", "bench-helper"), "Dev uid prefix for helpers")
	flag.StringVar(&cfg.AdminToken, "admin-token", envOrDefault("ROADHELPER_BENCH_ADMIN_TOKEN", "bench-admin:admin"), "Bearer token of an admin")
	flag.Parse()
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return cfg
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
