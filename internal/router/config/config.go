package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Поддерживаемые хранилища.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config - структура для хранения конфигураций приложения
type Config struct {
	ServerAddress string `mapstructure:"SERVER_ADDRESS"`
	Store         string `mapstructure:"STORE"`
	PostgresConn  string `mapstructure:"POSTGRES_CONN"`
	PostgresUser  string `mapstructure:"POSTGRES_USERNAME"`
	PostgresPass  string `mapstructure:"POSTGRES_PASSWORD"`
	PostgresHost  string `mapstructure:"POSTGRES_HOST"`
	PostgresPort  string `mapstructure:"POSTGRES_PORT"`
	PostgresDB    string `mapstructure:"POSTGRES_DATABASE"`
	MigrationURL  string `mapstructure:"MIGRATION_URL"`

	RequestTimeout          time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	SweepInterval           time.Duration `mapstructure:"SWEEP_INTERVAL"`
	BidDefaultTTL           time.Duration `mapstructure:"BID_DEFAULT_TTL"`
	TenderDefaultTTL        time.Duration `mapstructure:"TENDER_DEFAULT_TTL"`
	WaterfallDefaultTimeout time.Duration `mapstructure:"TENDER_DEFAULT_WATERFALL_TIMEOUT"`
	TxMaxRetries            int           `mapstructure:"TX_MAX_RETRIES"`

	AppEnv         string `mapstructure:"APP_ENV"`
	LogLevel       string `mapstructure:"LOG_LEVEL"`
	MetricsEnabled bool   `mapstructure:"METRICS_ENABLED"`
}

var defaults = map[string]any{
	"SERVER_ADDRESS":                   "0.0.0.0:8080",
	"STORE":                            StorePostgres,
	"MIGRATION_URL":                    "file://migrations",
	"REQUEST_TIMEOUT":                  5 * time.Second,
	"SWEEP_INTERVAL":                   time.Minute,
	"BID_DEFAULT_TTL":                  24 * time.Hour,
	"TENDER_DEFAULT_TTL":               24 * time.Hour,
	"TENDER_DEFAULT_WATERFALL_TIMEOUT": 30 * time.Minute,
	"TX_MAX_RETRIES":                   3,
	"APP_ENV":                          "prod",
	"LOG_LEVEL":                        "info",
	"METRICS_ENABLED":                  true,
}

// LoadConfig загружает конфигурацию из файла app.env в каталоге path.
// Переменные окружения имеют приоритет над файлом, отсутствие файла не ошибка.
func LoadConfig(path string) (cfg Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("app")
	v.SetConfigType("env")
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	// BindEnv нужен, чтобы Unmarshal видел ключи без значения в файле.
	for _, key := range envKeys() {
		if err = v.BindEnv(key); err != nil {
			return
		}
	}
	v.AutomaticEnv()

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return
		}
		err = nil
	}
	if err = v.Unmarshal(&cfg); err != nil {
		return
	}
	if cfg.PostgresConn == "" && cfg.PostgresHost != "" {
		cfg.PostgresConn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
			cfg.PostgresUser, cfg.PostgresPass, cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresDB)
	}
	err = cfg.Validate()
	return
}

// Validate проверяет обязательные поля.
func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.PostgresConn == "" {
			return fmt.Errorf("POSTGRES_CONN or POSTGRES_HOST is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	if c.BidDefaultTTL <= 0 || c.TenderDefaultTTL <= 0 || c.WaterfallDefaultTimeout <= 0 {
		return fmt.Errorf("default TTLs and waterfall timeout must be positive")
	}
	if c.TxMaxRetries < 0 {
		return fmt.Errorf("TX_MAX_RETRIES must not be negative")
	}
	return nil
}

func envKeys() []string {
	keys := []string{
		"POSTGRES_CONN", "POSTGRES_USERNAME", "POSTGRES_PASSWORD",
		"POSTGRES_HOST", "POSTGRES_PORT", "POSTGRES_DATABASE",
	}
	for key := range defaults {
		keys = append(keys, key)
	}
	return keys
}
