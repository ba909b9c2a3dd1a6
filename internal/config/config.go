package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr    string
	PostgresDSN string
	SQLitePath  string
	LogLevel    string
	Env         string

	SigningPrivateKeyPEM    string
	SigningPrivateKeyBase64 string
	SigningKID              string

	JWKSURL             string
	JWKSCacheTTLSeconds int

	VaultAddr    string
	VaultToken   string
	VaultKeyName string

	TrustPolicyPath   string
	PatternBundlePath string

	CrossProductWindowSeconds int
	PathMaxDepth              int
	GraphMaxDepth             int
	GraphMaxNodes             int
	HighValueThreshold        float64
	VerifyCacheTTLSeconds     int

	RateLimitRequests       int
	RateLimitWindowSeconds  int
	RateLimitIncludeSubject bool
	RateLimitFailClosed     bool
	RateLimitMaxKeys        int
	RateLimitSubjectMaxLen  int
	RateLimitSubjectHash    bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	return Config{
		HTTPAddr:                  addr,
		PostgresDSN:               os.Getenv("POSTGRES_DSN"),
		SQLitePath:                envDefault("SQLITE_PATH", "certnode.db"),
		LogLevel:                  envDefault("LOG_LEVEL", "info"),
		Env:                       envDefault("CERTNODE_ENV", "development"),
		SigningPrivateKeyPEM:      os.Getenv("SIGNING_PRIVATE_KEY_PEM"),
		SigningPrivateKeyBase64:   os.Getenv("SIGNING_PRIVATE_KEY_BASE64"),
		SigningKID:                os.Getenv("SIGNING_KID"),
		JWKSURL:                   os.Getenv("JWKS_URL"),
		JWKSCacheTTLSeconds:       envIntDefault("JWKS_CACHE_TTL_SECONDS", 300),
		VaultAddr:                 os.Getenv("VAULT_ADDR"),
		VaultToken:                os.Getenv("VAULT_TOKEN"),
		VaultKeyName:              envDefault("VAULT_KEY_NAME", "signing"),
		TrustPolicyPath:           os.Getenv("TRUST_POLICY_PATH"),
		PatternBundlePath:         os.Getenv("PATTERN_BUNDLE_PATH"),
		CrossProductWindowSeconds: envIntDefault("CROSS_PRODUCT_WINDOW_SECONDS", 86400),
		PathMaxDepth:              envIntDefault("PATH_MAX_DEPTH", 10),
		GraphMaxDepth:             envIntDefault("GRAPH_MAX_DEPTH", 10),
		GraphMaxNodes:             envIntDefault("GRAPH_MAX_NODES", 1000),
		HighValueThreshold:        envFloatDefault("HIGH_VALUE_THRESHOLD", 10000),
		VerifyCacheTTLSeconds:     envIntDefault("VERIFY_CACHE_TTL_SECONDS", 300),
		RateLimitRequests:         envIntDefault("RATE_LIMIT_REQUESTS", 0),
		RateLimitWindowSeconds:    envIntDefault("RATE_LIMIT_WINDOW_SECONDS", 60),
		RateLimitIncludeSubject:   envBoolDefault("RATE_LIMIT_INCLUDE_SUBJECT", false),
		RateLimitFailClosed:       envBoolDefault("RATE_LIMIT_FAIL_CLOSED", false),
		RateLimitMaxKeys:          envIntDefault("RATE_LIMIT_MAX_KEYS", 10000),
		RateLimitSubjectMaxLen:    envIntDefault("RATE_LIMIT_SUBJECT_MAX_LEN", 128),
		RateLimitSubjectHash:      envBoolDefault("RATE_LIMIT_SUBJECT_HASH", false),
		RedisAddr:                 os.Getenv("REDIS_ADDR"),
		RedisPassword:             os.Getenv("REDIS_PASSWORD"),
		RedisDB:                   envIntDefault("REDIS_DB", 0),
	}
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func envFloatDefault(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil || parsed < 0 {
		return def
	}
	return parsed
}

func envBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "Yes":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "No":
		return false
	default:
		return def
	}
}

func (c Config) CrossProductWindow() time.Duration {
	return time.Duration(c.CrossProductWindowSeconds) * time.Second
}

func (c Config) JWKSCacheTTL() time.Duration {
	return time.Duration(c.JWKSCacheTTLSeconds) * time.Second
}

func (c Config) VerifyCacheTTL() time.Duration {
	return time.Duration(c.VerifyCacheTTLSeconds) * time.Second
}

func (c Config) Production() bool {
	return c.Env == "production" || c.Env == "prod"
}
