package config

import (
	"bufio"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Hard ceiling for variant worker concurrency. The default is derived from
// host CPU/memory but never exceeds this unless VARIANT_CONCURRENCY overrides
// it explicitly.
const variantConcurrencyCeiling = 6

// Config - all environment settings, loaded once and passed by reference
type Config struct {
	// Redis
	RedisHost     string
	RedisPort     string
	RedisUsername string
	RedisPassword string
	RedisUseTLS   bool

	// Supabase
	SupabaseURL        string
	SupabaseServiceKey string
	StorageBucket      string

	// Server
	Port    string
	TempDir string

	// Pipeline
	VariantConcurrency int
	CleanupBatchSize   int
	CleanupBatchDelay  time.Duration
	QueueBaseBackoff   time.Duration
	QueueStallTimeout  time.Duration
}

// Load - read .env + environment variables and validate
func Load() (*Config, error) {
	// .env file is optional
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  .env file not found, using environment variables")
	}

	useTLS := true
	if tlsStr := os.Getenv("REDIS_USE_TLS"); tlsStr != "" {
		if parsed, err := strconv.ParseBool(tlsStr); err == nil {
			useTLS = parsed
		}
	}

	cfg := &Config{
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisUsername: getEnv("REDIS_USERNAME", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisUseTLS:   useTLS,

		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_KEY", ""),
		StorageBucket:      getEnv("STORAGE_BUCKET", "event-media"),

		Port:    getEnv("PORT", "8080"),
		TempDir: getEnv("UPLOAD_TEMP_DIR", filepath.Join(os.TempDir(), "eventlens-uploads")),

		VariantConcurrency: getEnvInt("VARIANT_CONCURRENCY", defaultVariantConcurrency()),
		CleanupBatchSize:   getEnvInt("CLEANUP_BATCH_SIZE", 4),
		CleanupBatchDelay:  getEnvMillis("CLEANUP_BATCH_DELAY_MS", 1000*time.Millisecond),
		QueueBaseBackoff:   getEnvMillis("QUEUE_BASE_BACKOFF_MS", 2500*time.Millisecond),
		QueueStallTimeout:  getEnvMillis("QUEUE_STALL_TIMEOUT_MS", 60*time.Second),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	log.Println("✅ Configuration loaded successfully")
	log.Printf("   Redis: %s:%s (TLS: %v)", cfg.RedisHost, cfg.RedisPort, cfg.RedisUseTLS)
	log.Printf("   Supabase: %s (bucket: %s)", cfg.SupabaseURL, cfg.StorageBucket)
	log.Printf("   Variant concurrency: %d, cleanup batch: %d", cfg.VariantConcurrency, cfg.CleanupBatchSize)

	return cfg, nil
}

// validate - required environment variables
func (c *Config) validate() error {
	if c.RedisHost == "" {
		return fmt.Errorf("REDIS_HOST is required")
	}
	if c.SupabaseURL == "" {
		return fmt.Errorf("SUPABASE_URL is required")
	}
	if c.SupabaseServiceKey == "" {
		return fmt.Errorf("SUPABASE_SERVICE_KEY is required")
	}
	if c.VariantConcurrency < 1 {
		return fmt.Errorf("VARIANT_CONCURRENCY must be at least 1")
	}
	if c.CleanupBatchSize < 1 {
		return fmt.Errorf("CLEANUP_BATCH_SIZE must be at least 1")
	}
	return nil
}

// defaultVariantConcurrency - min(ceil(cpu*1.5), memoryGB, 6). Image decoding
// holds whole frames in memory, so available RAM caps the worker count as much
// as cores do.
func defaultVariantConcurrency() int {
	n := int(math.Ceil(float64(runtime.NumCPU()) * 1.5))
	if mem := totalMemoryGB(); mem > 0 && mem < n {
		n = mem
	}
	if n > variantConcurrencyCeiling {
		n = variantConcurrencyCeiling
	}
	if n < 1 {
		n = 1
	}
	return n
}

// totalMemoryGB - read /proc/meminfo; 0 when unavailable (non-Linux hosts)
func totalMemoryGB() int {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0
		}
		return int(kb / (1024 * 1024))
	}
	return 0
}

// getEnv - environment variable with default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvMillis(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return time.Duration(parsed) * time.Millisecond
		}
	}
	return defaultValue
}

// GetRedisAddr - Redis connection string
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}
