package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultAddr             = ":8090"
	DefaultDBPath           = "./data/chapter-review.db"
	DefaultDispatchDeadline = 170 * time.Second
	DefaultMaxDetailBytes   = 65000
	DefaultMaxUploadBytes   = 32 << 20
)

// Endpoint is one external analysis service.
type Endpoint struct {
	URL     string
	Timeout time.Duration
}

type Config struct {
	Addr         string
	DBPath       string
	LogMode      string
	SectionsFile string
	WebDir       string

	Originality     Endpoint
	Completeness    Endpoint
	Citation        Endpoint
	SpellingGrammar Endpoint

	DispatchDeadline time.Duration
	MaxDetailBytes   int
	MaxUploadBytes   int64

	OTelEnabled     bool
	OTelEndpoint    string
	OTelServiceName string
}

// Load reads an optional .env file and then the process environment.
// Values already present in the environment win over the file.
func Load(envFiles ...string) Config {
	if len(envFiles) == 0 {
		_ = godotenv.Load()
	} else {
		_ = godotenv.Load(envFiles...)
	}
	return FromEnv()
}

func FromEnv() Config {
	return Config{
		Addr:         getEnv("ADDR", DefaultAddr),
		DBPath:       getEnv("DB_PATH", DefaultDBPath),
		LogMode:      getEnv("LOG_MODE", "development"),
		SectionsFile: getEnv("SECTIONS_FILE", ""),
		WebDir:       getEnv("WEB_DIR", "web"),

		Originality: Endpoint{
			URL:     getEnv("ORIGINALITY_URL", ""),
			Timeout: getEnvDuration("ORIGINALITY_TIMEOUT", 150*time.Second),
		},
		Completeness: Endpoint{
			URL:     getEnv("COMPLETENESS_URL", ""),
			Timeout: getEnvDuration("COMPLETENESS_TIMEOUT", 120*time.Second),
		},
		Citation: Endpoint{
			URL:     getEnv("CITATION_URL", ""),
			Timeout: getEnvDuration("CITATION_TIMEOUT", 150*time.Second),
		},
		SpellingGrammar: Endpoint{
			URL:     getEnv("SPELLING_GRAMMAR_URL", ""),
			Timeout: getEnvDuration("SPELLING_GRAMMAR_TIMEOUT", 90*time.Second),
		},

		DispatchDeadline: getEnvDuration("DISPATCH_DEADLINE", DefaultDispatchDeadline),
		MaxDetailBytes:   getEnvInt("MAX_DETAIL_BYTES", DefaultMaxDetailBytes),
		MaxUploadBytes:   int64(getEnvInt("MAX_UPLOAD_BYTES", DefaultMaxUploadBytes)),

		OTelEnabled:     getEnvBool("OTEL_ENABLED", false),
		OTelEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTelServiceName: getEnv("OTEL_SERVICE_NAME", "chapter-review"),
	}
}

func getEnv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func getEnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func getEnvBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "":
		return def
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}
