package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	EthRPCURL string

	ScanWindow        uint64
	ScanContamination float64
	ScanOutputPath    string
	ScanModel         string
	ScanIntervalSecs  int

	ChainDecimals        int32
	ChainRetryAttempts   int
	ChainRateLimitPerSec int
	BlockCacheTTLSecs    int
	// BlockCacheConfirmations is the depth below the head a block needs
	// before it is cached.
	BlockCacheConfirmations int

	DatabaseURL    string
	RedisURL       string
	KafkaBrokers   []string
	KafkaTopic     string
	TelegramToken  string
	TelegramChatID int64

	APIKey   string
	HTTPPort int

	LogLevel  string
	LogFormat string

	// Warnings collects problems found while loading; they are logged once a
	// logger exists.
	Warnings []string
}

func Load() *Config {
	cfg := &Config{
		EthRPCURL:     strings.TrimSpace(os.Getenv("ETH_RPC_URL")),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      strings.TrimSpace(os.Getenv("REDIS_URL")),
		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		APIKey:        os.Getenv("API_KEY"),
	}

	if cfg.EthRPCURL == "" {
		cfg.warn("ETH_RPC_URL not set, scans will fail to reach the chain")
	}
	if cfg.DatabaseURL == "" {
		cfg.warn("DATABASE_URL not set, report history disabled")
	}
	if cfg.RedisURL == "" {
		cfg.warn("REDIS_URL not set, block cache disabled")
	}

	cfg.ScanWindow = 1000
	if v := strings.TrimSpace(os.Getenv("SCAN_WINDOW")); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.ScanWindow = n
		} else {
			cfg.warn(fmt.Sprintf("invalid SCAN_WINDOW=%q, defaulting to %d", v, cfg.ScanWindow))
		}
	}

	cfg.ScanContamination = 0.01
	if v := strings.TrimSpace(os.Getenv("SCAN_CONTAMINATION")); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 && n < 1 {
			cfg.ScanContamination = n
		} else {
			cfg.warn(fmt.Sprintf("invalid SCAN_CONTAMINATION=%q, defaulting to %g", v, cfg.ScanContamination))
		}
	}

	cfg.ScanOutputPath = strings.TrimSpace(os.Getenv("SCAN_OUTPUT_PATH"))
	if cfg.ScanOutputPath == "" {
		cfg.ScanOutputPath = "data/anomalies.json"
	}

	cfg.ScanModel = strings.ToLower(strings.TrimSpace(os.Getenv("SCAN_MODEL")))
	if cfg.ScanModel == "" {
		cfg.ScanModel = "iforest"
	}
	if cfg.ScanModel != "iforest" && cfg.ScanModel != "zscore" {
		cfg.warn(fmt.Sprintf("unsupported SCAN_MODEL=%q, defaulting to iforest", cfg.ScanModel))
		cfg.ScanModel = "iforest"
	}

	cfg.ScanIntervalSecs = positiveInt("SCAN_INTERVAL_SECS", 3600)

	cfg.ChainDecimals = 18
	if v := strings.TrimSpace(os.Getenv("CHAIN_DECIMALS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 36 {
			cfg.ChainDecimals = int32(n)
		} else {
			cfg.warn(fmt.Sprintf("invalid CHAIN_DECIMALS=%q, defaulting to 18", v))
		}
	}

	cfg.ChainRetryAttempts = positiveInt("CHAIN_RETRY_ATTEMPTS", 3)
	cfg.ChainRateLimitPerSec = positiveInt("CHAIN_RATE_LIMIT_PER_SEC", 20)
	cfg.BlockCacheTTLSecs = positiveInt("BLOCK_CACHE_TTL_SECS", 86400)
	cfg.BlockCacheConfirmations = positiveInt("BLOCK_CACHE_CONFIRMATIONS", 12)

	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}
	cfg.KafkaTopic = strings.TrimSpace(os.Getenv("KAFKA_TOPIC"))
	if cfg.KafkaTopic == "" {
		cfg.KafkaTopic = "chain-anomalies"
	}

	if v := strings.TrimSpace(os.Getenv("TELEGRAM_CHAT_ID")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.TelegramChatID = n
		} else {
			cfg.warn(fmt.Sprintf("invalid TELEGRAM_CHAT_ID=%q, alerts disabled", v))
		}
	}

	cfg.HTTPPort = positiveInt("HTTP_PORT", 8080)

	cfg.LogLevel = strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	cfg.LogFormat = strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if cfg.LogFormat == "" {
		cfg.LogFormat = "console"
	}

	return cfg
}

// AlertsEnabled reports whether both Telegram settings are present.
func (c *Config) AlertsEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != 0
}

func (c *Config) warn(msg string) {
	c.Warnings = append(c.Warnings, msg)
}

func positiveInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
