package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"

	InsertModeSequential = "sequential"
	InsertModeAtomic     = "atomic"
	InsertModeBestEffort = "best_effort"
)

type Config struct {
	ServerAddr string

	DBDriver    string
	DatabaseURL string
	DBHost      string
	DBPort      int
	DBUser      string
	DBPassword  string
	DBName      string
	DBSSLMode   string
	DBPath      string // sqlite3 only

	InsertMode      string
	AutoCreateTable bool
	MaxListLimit    int

	LogDir           string
	LogLevel         string
	TelemetryEnabled bool

	// DynamoDB audit mirror; disabled when both endpoint and table are empty.
	DynamoEndpoint string
	DynamoRegion   string
	DynamoTable    string

	CORSAllowOrigin string
}

func DefaultConfig() Config {
	return Config{
		ServerAddr: ":8080",

		DBDriver:  DriverPostgres,
		DBHost:    "localhost",
		DBPort:    5432,
		DBUser:    "postgres",
		DBName:    "chatbotdb",
		DBSSLMode: "disable",
		DBPath:    "data/chathistory.db",

		InsertMode:   InsertModeSequential,
		MaxListLimit: 500,

		LogDir:   "logs",
		LogLevel: "info",

		DynamoRegion: "us-east-1",

		CORSAllowOrigin: "*",
	}
}

// Load reads .env (if present) and the process environment on top of DefaultConfig.
func Load() (Config, error) {
	_ = godotenv.Load()

	c := DefaultConfig()
	if err := c.loadFromEnv(); err != nil {
		return c, err
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func (c *Config) loadFromEnv() error {
	if val := os.Getenv("SERVER_ADDR"); val != "" {
		c.ServerAddr = val
	}

	if val := os.Getenv("DB_DRIVER"); val != "" {
		c.DBDriver = strings.ToLower(val)
	}
	if val := os.Getenv("DATABASE_URL"); val != "" {
		c.DatabaseURL = val
	}
	if val := os.Getenv("DB_HOST"); val != "" {
		c.DBHost = val
	}
	if val := os.Getenv("DB_PORT"); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("DB_PORT: %w", err)
		}
		c.DBPort = port
	}
	if val := os.Getenv("DB_USER"); val != "" {
		c.DBUser = val
	}
	if val, ok := os.LookupEnv("DB_PASSWORD"); ok {
		c.DBPassword = val
	}
	if val := os.Getenv("DB_NAME"); val != "" {
		c.DBName = val
	}
	if val := os.Getenv("DB_SSLMODE"); val != "" {
		c.DBSSLMode = val
	}
	if val := os.Getenv("DB_PATH"); val != "" {
		c.DBPath = val
	}

	if val := os.Getenv("CHAT_HISTORY_INSERT_MODE"); val != "" {
		c.InsertMode = strings.ToLower(val)
	}
	if val := os.Getenv("CHAT_HISTORY_AUTO_CREATE"); val != "" {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("CHAT_HISTORY_AUTO_CREATE: %w", err)
		}
		c.AutoCreateTable = enabled
	}
	if val := os.Getenv("CHAT_HISTORY_MAX_LIST"); val != "" {
		limit, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("CHAT_HISTORY_MAX_LIST: %w", err)
		}
		c.MaxListLimit = limit
	}

	if val := os.Getenv("LOG_DIR"); val != "" {
		c.LogDir = val
	}
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.LogLevel = strings.ToLower(val)
	}
	if val := os.Getenv("TELEMETRY_ENABLED"); val != "" {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("TELEMETRY_ENABLED: %w", err)
		}
		c.TelemetryEnabled = enabled
	}

	if val := os.Getenv("DYNAMODB_ENDPOINT"); val != "" {
		c.DynamoEndpoint = val
	}
	if val := os.Getenv("DYNAMODB_REGION"); val != "" {
		c.DynamoRegion = val
	}
	if val := os.Getenv("DYNAMODB_TABLE"); val != "" {
		c.DynamoTable = val
	}

	if val := os.Getenv("CORS_ALLOW_ORIGIN"); val != "" {
		c.CORSAllowOrigin = val
	}
	return nil
}

func (c Config) Validate() error {
	switch c.DBDriver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}

	switch c.InsertMode {
	case InsertModeSequential, InsertModeAtomic, InsertModeBestEffort:
	default:
		return fmt.Errorf("unsupported CHAT_HISTORY_INSERT_MODE %q", c.InsertMode)
	}

	if c.DBDriver == DriverSQLite && strings.TrimSpace(c.DBPath) == "" {
		return fmt.Errorf("DB_PATH is required for sqlite3")
	}
	if c.MaxListLimit <= 0 {
		return fmt.Errorf("CHAT_HISTORY_MAX_LIST must be positive, got %d", c.MaxListLimit)
	}
	return nil
}

// MirrorEnabled reports whether stored entries should also be written to DynamoDB.
func (c Config) MirrorEnabled() bool {
	return c.DynamoEndpoint != "" || c.DynamoTable != ""
}

// DSN returns the data source name for DBDriver.
func (c Config) DSN() string {
	if c.DBDriver == DriverSQLite {
		return c.DBPath + "?_busy_timeout=3000&_journal_mode=WAL"
	}

	if c.DatabaseURL != "" {
		connStr := c.DatabaseURL
		if !strings.Contains(connStr, "sslmode=") {
			if strings.Contains(connStr, "?") {
				connStr += "&sslmode=" + c.DBSSLMode
			} else {
				connStr += "?sslmode=" + c.DBSSLMode
			}
		}
		return connStr
	}

	parts := []string{
		"host=" + quoteDSNValue(c.DBHost),
		"port=" + strconv.Itoa(c.DBPort),
		"user=" + quoteDSNValue(c.DBUser),
	}
	if c.DBPassword != "" {
		parts = append(parts, "password="+quoteDSNValue(c.DBPassword))
	}
	parts = append(parts,
		"dbname="+quoteDSNValue(c.DBName),
		"sslmode="+quoteDSNValue(c.DBSSLMode),
	)
	return strings.Join(parts, " ")
}

// quoteDSNValue quotes a libpq keyword/value when it is empty or contains
// whitespace, quotes or backslashes.
func quoteDSNValue(v string) string {
	if v != "" && !strings.ContainsAny(v, " \t\n'\\") {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}
