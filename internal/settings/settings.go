// Package settings reads process settings from the environment, after
// loading an optional .env file.
package settings

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Settings struct {
	Port        string
	Environment string
	LogLevel    string

	DefaultConfigPath string
	PoliciesDir       string
	CacheDBPath       string
	ArchiveDBPath     string

	AcousticURL   string
	TranscribeURL string

	LLMGatewayURL string
	LLMAPIKey     string
	LLMModel      string

	EmbeddingsURL   string
	EmbeddingsModel string

	MockAcoustic   bool
	MockTranscribe bool
	MockLLM        bool
	MockEmbeddings bool

	NatsURL     string
	NatsToken   string
	NatsSubject string

	UTCOffset            time.Duration
	RetryMaxAttempts     int
	RetryFallbackWait    time.Duration
	RetrievalK           int
	RetrievalConcurrency int
}

// Load reads .env (when present) and the environment. Variables already set
// in the environment win over .env.
func Load(files ...string) Settings {
	_ = godotenv.Load(files...)

	s := Settings{
		Port:        envOr("PORT", "8080"),
		Environment: envOr("ENVIRONMENT", "local"),
		LogLevel:    envOr("LOG_LEVEL", "info"),

		DefaultConfigPath: os.Getenv("DEFAULT_CONFIG_PATH"),
		PoliciesDir:       envOr("POLICIES_DIR", "policies"),
		CacheDBPath:       envOr("CACHE_DB_PATH", "data/embeddings.db"),
		ArchiveDBPath:     envOr("ARCHIVE_DB_PATH", "data/reports.db"),

		AcousticURL:   os.Getenv("ACOUSTIC_URL"),
		TranscribeURL: os.Getenv("TRANSCRIBE_URL"),

		LLMGatewayURL: os.Getenv("LLM_GATEWAY_URL"),
		LLMAPIKey:     os.Getenv("LLM_API_KEY"),
		LLMModel:      envOr("LLM_MODEL", "gemini-2.5-flash"),

		EmbeddingsURL:   os.Getenv("EMBEDDINGS_URL"),
		EmbeddingsModel: envOr("EMBEDDINGS_MODEL", "text-embedding-3-small"),

		NatsURL:     os.Getenv("NATS_URL"),
		NatsToken:   os.Getenv("NATS_TOKEN"),
		NatsSubject: os.Getenv("NATS_SUBJECT"),

		UTCOffset:            envOffset("LOCAL_UTC_OFFSET", 5*time.Hour+30*time.Minute),
		RetryMaxAttempts:     envInt("RETRY_MAX_ATTEMPTS", 3),
		RetryFallbackWait:    envDuration("RETRY_FALLBACK_WAIT", 10*time.Second),
		RetrievalK:           envInt("RETRIEVAL_K", 8),
		RetrievalConcurrency: envInt("RETRIEVAL_CONCURRENCY", 4),
	}
	// a collaborator without a URL can only run mocked
	s.MockAcoustic = envBool("USE_MOCK_ACOUSTIC", s.AcousticURL == "")
	s.MockTranscribe = envBool("USE_MOCK_TRANSCRIBE", s.TranscribeURL == "")
	s.MockLLM = envBool("USE_MOCK_LLM", s.LLMGatewayURL == "")
	s.MockEmbeddings = envBool("USE_MOCK_EMBEDDINGS", s.EmbeddingsURL == "")
	return s
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

// envDuration accepts Go durations ("1m30s") and bare seconds ("90").
func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(n * float64(time.Second))
	}
	return fallback
}

func envOffset(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := ParseOffset(v); err == nil {
		return d
	}
	return fallback
}

// ParseOffset reads a UTC offset written as "+05:30", "-0400" or a Go
// duration such as "5h30m".
func ParseOffset(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	sign := time.Duration(1)
	switch {
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	case strings.HasPrefix(s, "-"):
		sign, s = -1, s[1:]
	}
	s = strings.ReplaceAll(s, ":", "")
	if len(s) != 4 {
		return 0, fmt.Errorf("invalid utc offset %q", s)
	}
	h, err1 := strconv.Atoi(s[:2])
	m, err2 := strconv.Atoi(s[2:])
	if err1 != nil || err2 != nil || h > 14 || m > 59 {
		return 0, fmt.Errorf("invalid utc offset %q", s)
	}
	return sign * (time.Duration(h)*time.Hour + time.Duration(m)*time.Minute), nil
}
