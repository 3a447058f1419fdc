package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joho/godotenv"
)

// Config holds all tweakable application parameters.
// Values are loaded from environment variables or set to sensible defaults.
type Config struct {
	InstanceName string // INSTANCE_NAME
	DryRun       bool   // PAPER_TRADING / DRY_RUN

	MarketStartTime string // MARKET_START_TIME (HH:MM)
	MarketEndTime   string // MARKET_END_TIME
	ForceExitTime   string // FORCE_EXIT_TIME
	MarketCloseTime string // MARKET_CLOSE_TIME

	RValue             decimal.Decimal
	LotSize            int64
	MaxLotsPerPosition int64

	MaxPositions int
	MaxPerType   int

	MinEntryPrice  decimal.Decimal
	MaxEntryPrice  decimal.Decimal
	MinVWAPPremium decimal.Decimal
	MinSLPercent   decimal.Decimal
	MaxSLPercent   decimal.Decimal
	TargetSLPoints decimal.Decimal

	ModificationThreshold decimal.Decimal

	FailoverNoTickThreshold     time.Duration
	FailoverSwitchbackThreshold time.Duration

	MinDataCoverageThreshold float64
	StaleDataTimeout         time.Duration
	MaxBarAgeSeconds         int

	WebsocketReconnectDelay       time.Duration
	WebsocketMaxReconnectAttempts int

	MaxSLFailureCount       int
	EmergencyExitRetryCount int
	EmergencyExitRetryDelay time.Duration

	MaxBarsPerSymbol    int
	BarPruningThreshold int

	StrikeScanRange int // ±strikes either side of ATM

	TelegramBotToken string
	TelegramChatID   string

	BrokerAPIKey    string
	BrokerAPISecret string
	BrokerBaseURL   string

	StateDSN    string // relational store DSN
	SentinelDir string // directory holding KILL_SWITCH / PAUSE_SWITCH

	LogLevel      string
	MaxLogSizeMB  int64
	MaxLogBackups int
}

// Load initializes the configuration.
// It reads .env, checks required secrets, and populates the Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: No .env file found, using system environment variables")
	}

	requiredSecretVars := map[string]bool{
		"BROKER_API_KEY":     true,
		"BROKER_API_SECRET":  true,
		"BROKER_BASE_URL":    true,
		"TELEGRAM_BOT_TOKEN": true,
		"TELEGRAM_CHAT_ID":   true,
	}

	var missing []string
	for key := range requiredSecretVars {
		if os.Getenv(key) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		log.Fatalf("CRITICAL: Missing required environment variables: %v", missing)
	}

	envMap, err := godotenv.Read()
	if err == nil {
		log.Println("--- .env File Variables ---")
		for key, val := range envMap {
			if requiredSecretVars[key] {
				masked := "***"
				if len(val) > 4 {
					masked = "***" + val[len(val)-4:]
				}
				log.Printf("%s=%s", key, masked)
			} else {
				log.Printf("%s=%s", key, val)
			}
		}
		log.Println("---------------------------")
	}

	cfg := &Config{
		InstanceName: getEnv("INSTANCE_NAME", "swingshort"),
		DryRun:       getEnvAsBool("PAPER_TRADING", getEnvAsBool("DRY_RUN", true)),

		MarketStartTime: getEnv("MARKET_START_TIME", "09:15"),
		MarketEndTime:   getEnv("MARKET_END_TIME", "15:15"),
		ForceExitTime:   getEnv("FORCE_EXIT_TIME", "15:20"),
		MarketCloseTime: getEnv("MARKET_CLOSE_TIME", "15:30"),

		RValue:             getEnvAsDecimal("R_VALUE", decimal.RequireFromString("1000")),
		LotSize:            getEnvAsInt64("LOT_SIZE", 75),
		MaxLotsPerPosition: getEnvAsInt64("MAX_LOTS_PER_POSITION", 10),

		MaxPositions: getEnvAsInt("MAX_POSITIONS", 5),
		MaxPerType:   getEnvAsInt("MAX_PER_TYPE", 3),

		MinEntryPrice:  getEnvAsDecimal("MIN_ENTRY_PRICE", decimal.RequireFromString("20")),
		MaxEntryPrice:  getEnvAsDecimal("MAX_ENTRY_PRICE", decimal.RequireFromString("500")),
		MinVWAPPremium: getEnvAsDecimal("MIN_VWAP_PREMIUM", decimal.RequireFromString("0.5")),
		MinSLPercent:   getEnvAsDecimal("MIN_SL_PERCENT", decimal.RequireFromString("5")),
		MaxSLPercent:   getEnvAsDecimal("MAX_SL_PERCENT", decimal.RequireFromString("30")),
		TargetSLPoints: getEnvAsDecimal("TARGET_SL_POINTS", decimal.RequireFromString("10")),

		ModificationThreshold: getEnvAsDecimal("MODIFICATION_THRESHOLD", decimal.RequireFromString("1.00")),

		FailoverNoTickThreshold:     getEnvAsSeconds("FAILOVER_NO_TICK_THRESHOLD", 15),
		FailoverSwitchbackThreshold: getEnvAsSeconds("FAILOVER_SWITCHBACK_THRESHOLD", 10),

		MinDataCoverageThreshold: getEnvAsFloat64("MIN_DATA_COVERAGE_THRESHOLD", 0.5),
		StaleDataTimeout:         getEnvAsSeconds("STALE_DATA_TIMEOUT", 60),
		MaxBarAgeSeconds:         getEnvAsInt("MAX_BAR_AGE_SECONDS", 120),

		WebsocketReconnectDelay:       getEnvAsSeconds("WEBSOCKET_RECONNECT_DELAY", 1),
		WebsocketMaxReconnectAttempts: getEnvAsInt("WEBSOCKET_MAX_RECONNECT_ATTEMPTS", 10),

		MaxSLFailureCount:       getEnvAsInt("MAX_SL_FAILURE_COUNT", 3),
		EmergencyExitRetryCount: getEnvAsInt("EMERGENCY_EXIT_RETRY_COUNT", 3),
		EmergencyExitRetryDelay: getEnvAsSeconds("EMERGENCY_EXIT_RETRY_DELAY", 2),

		MaxBarsPerSymbol:    getEnvAsInt("MAX_BARS_PER_SYMBOL", 500),
		BarPruningThreshold: getEnvAsInt("BAR_PRUNING_THRESHOLD", 600),

		StrikeScanRange: getEnvAsInt("STRIKE_SCAN_RANGE", 20),

		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   os.Getenv("TELEGRAM_CHAT_ID"),

		BrokerAPIKey:    os.Getenv("BROKER_API_KEY"),
		BrokerAPISecret: os.Getenv("BROKER_API_SECRET"),
		BrokerBaseURL:   os.Getenv("BROKER_BASE_URL"),

		StateDSN:    getEnv("STATE_DSN", "swingshort:swingshort@tcp(127.0.0.1:3306)/swingshort?parseTime=true"),
		SentinelDir: getEnv("SENTINEL_DIR", "./run"),

		LogLevel:      getEnv("LOG_LEVEL", "INFO"),
		MaxLogSizeMB:  getEnvAsInt64("MAX_LOG_SIZE_MB", 5),
		MaxLogBackups: getEnvAsInt("MAX_LOG_BACKUPS", 3),
	}

	log.Printf("Configuration Loaded: Instance=%s DryRun=%v MaxPositions=%d MaxPerType=%d LogLevel=%s",
		cfg.InstanceName, cfg.DryRun, cfg.MaxPositions, cfg.MaxPerType, cfg.LogLevel)

	return cfg
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	return parseInt(key, valueStr, fallback)
}

func getEnvAsInt64(key string, fallback int64) int64 {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	return parseInt64(key, valueStr, fallback)
}

func getEnvAsSeconds(key string, fallbackSeconds int) time.Duration {
	return time.Duration(getEnvAsInt(key, fallbackSeconds)) * time.Second
}

func getEnvAsDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	val, err := decimal.NewFromString(valueStr)
	if err != nil {
		log.Printf("Warning: invalid decimal for config %s, using default %s", key, fallback)
		return fallback
	}
	return val
}

func parseInt(key, s string, fallback int) int {
	val, err := strconv.Atoi(s)
	if err != nil {
		log.Printf("Warning: invalid int for config %s, using default %d", key, fallback)
		return fallback
	}
	return val
}

func parseInt64(key, s string, fallback int64) int64 {
	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		log.Printf("Warning: invalid int64 for config %s, using default %d", key, fallback)
		return fallback
	}
	return val
}

func getEnvAsBool(key string, fallback bool) bool {
	valStr := os.Getenv(key)
	if valStr == "" {
		return fallback
	}
	val, err := strconv.ParseBool(valStr)
	if err != nil {
		log.Printf("Warning: invalid bool for config %s, using default %v", key, fallback)
		return fallback
	}
	return val
}
