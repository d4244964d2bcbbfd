// Package config loads server configuration from the environment, with an
// optional YAML profile for network-specific settings.
package config

import (
	"os"
	"strconv"
)

// Config holds server configuration.
type Config struct {
	Port     string
	LogLevel string

	DatabaseURL string

	JWTSecret        string
	ServiceSecretKey string // fee/source account for smart-wallet submissions; never logged

	Network       string // "testnet" | "mainnet"
	SorobanRPCURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RateLimitRPS   int
	RateLimitBurst int
	IngestRPM      int
	IngestBurst    int

	WasmStoreBackend string // "fs" | "s3"
	WasmDir          string
	WasmS3Bucket     string

	TelemetryEnabled bool
	OTLPEndpoint     string
}

// Load builds a Config from environment variables and, when
// GEOLINK_PROFILE is set, the YAML profile it points to. Environment
// variables win over profile values.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             getenvDefault("PORT", "8080"),
		LogLevel:         getenvDefault("LOG_LEVEL", "INFO"),
		DatabaseURL:      getenvDefault("DATABASE_URL", "postgres://geolink@localhost:5432/geolink?sslmode=disable"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		ServiceSecretKey: os.Getenv("SERVICE_SECRET_KEY"),
		Network:          getenvDefault("STELLAR_NETWORK", "testnet"),
		SorobanRPCURL:    getenvDefault("SOROBAN_RPC_URL", "https://soroban-testnet.stellar.org"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		RedisDB:          getenvInt("REDIS_DB", 0),
		RateLimitRPS:     getenvInt("RATE_LIMIT_RPS", 20),
		RateLimitBurst:   getenvInt("RATE_LIMIT_BURST", 40),
		IngestRPM:        getenvInt("INGEST_RPM", 120),
		IngestBurst:      getenvInt("INGEST_BURST", 30),
		WasmStoreBackend: getenvDefault("WASM_STORE", "fs"),
		WasmDir:          getenvDefault("WASM_DIR", "data/wasm"),
		WasmS3Bucket:     os.Getenv("WASM_S3_BUCKET"),
		TelemetryEnabled: os.Getenv("TELEMETRY_ENABLED") == "true",
		OTLPEndpoint:     getenvDefault("OTLP_ENDPOINT", "localhost:4317"),
	}

	if profilePath := os.Getenv("GEOLINK_PROFILE"); profilePath != "" {
		profile, err := LoadProfile(profilePath)
		if err != nil {
			return nil, err
		}
		applyProfile(cfg, profile)
	}
	return cfg, nil
}

func applyProfile(cfg *Config, p *Profile) {
	if os.Getenv("STELLAR_NETWORK") == "" && p.Network != "" {
		cfg.Network = p.Network
	}
	if os.Getenv("SOROBAN_RPC_URL") == "" && p.SorobanRPCURL != "" {
		cfg.SorobanRPCURL = p.SorobanRPCURL
	}
	if os.Getenv("RATE_LIMIT_RPS") == "" && p.RateLimit.RPS > 0 {
		cfg.RateLimitRPS = p.RateLimit.RPS
	}
	if os.Getenv("RATE_LIMIT_BURST") == "" && p.RateLimit.Burst > 0 {
		cfg.RateLimitBurst = p.RateLimit.Burst
	}
	if os.Getenv("WASM_STORE") == "" && p.WasmStore.Backend != "" {
		cfg.WasmStoreBackend = p.WasmStore.Backend
	}
	if os.Getenv("WASM_S3_BUCKET") == "" && p.WasmStore.S3Bucket != "" {
		cfg.WasmS3Bucket = p.WasmStore.S3Bucket
	}
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
