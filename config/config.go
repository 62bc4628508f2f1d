package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Значения по умолчанию для секретов. С ними запускается только хранилище в памяти.
const (
	placeholderJWTSecret     = "your-secret-key-here"
	placeholderEncryptionKey = "your-card-encryption-key-here"
	placeholderHMACKey       = "your-card-hmac-key-here"
)

// Config представляет конфигурацию приложения
type Config struct {
	Server struct {
		Port            int           `mapstructure:"port"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
		// адреса прокси, которым доверяем X-Forwarded-For. Пусто - берем адрес соединения
		TrustedProxies []string `mapstructure:"trusted_proxies"`
	} `mapstructure:"server"`
	Storage struct {
		Driver string `mapstructure:"driver"` // postgres | memory
	} `mapstructure:"storage"`
	DB struct {
		Host           string        `mapstructure:"host"`
		Port           int           `mapstructure:"port"`
		User           string        `mapstructure:"user"`
		Password       string        `mapstructure:"password"`
		DBName         string        `mapstructure:"name"`
		SSLMode        string        `mapstructure:"sslmode"`
		MigrationsPath string        `mapstructure:"migrations_path"`
		QueryTimeout   time.Duration `mapstructure:"query_timeout"`
		MaxOpenConns   int           `mapstructure:"max_open_conns"`
		MaxIdleConns   int           `mapstructure:"max_idle_conns"`
	} `mapstructure:"db"`
	JWT struct {
		SecretKey string `mapstructure:"secret_key"`
		ExpiresIn int    `mapstructure:"expires_in"` // в часах
	} `mapstructure:"jwt"`
	SMTP struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		From     string `mapstructure:"from"`
	} `mapstructure:"smtp"`
	Card struct {
		EncryptionKey string `mapstructure:"encryption_key"` // пароль для симметричного PGP
		HMACKey       string `mapstructure:"hmac_key"`       // ключ для отпечатка номера
	} `mapstructure:"card"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"` // json | text
		Dir    string `mapstructure:"dir"`    // пусто - только stdout
	} `mapstructure:"log"`
	RateLimit struct {
		Requests int           `mapstructure:"requests"`
		Window   time.Duration `mapstructure:"window"`
	} `mapstructure:"rate_limit"`
	Scheduler struct {
		ExpirySpec string `mapstructure:"expiry_spec"` // пусто - планировщик выключен
	} `mapstructure:"scheduler"`
	Admin struct {
		Username string `mapstructure:"username"`
		Email    string `mapstructure:"email"`
		Password string `mapstructure:"password"`
	} `mapstructure:"admin"`
}

// DSN возвращает строку подключения к PostgreSQL
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.DBName,
		c.DB.SSLMode,
	)
}

// NewConfig создает новый экземпляр конфигурации.
// Порядок: значения по умолчанию, файл из CONFIG_FILE, переменные окружения.
func NewConfig() (*Config, error) {
	return Load(viper.New())
}

// Load читает конфигурацию через переданный экземпляр viper
func Load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	// SERVER_PORT -> server.port, DB_HOST -> db.host и т.д.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config_file"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("config_file", "")

	// Настройки сервера
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.trusted_proxies", []string{})

	v.SetDefault("storage.driver", "postgres")

	// Настройки базы данных
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "postgres")
	v.SetDefault("db.name", "bank_db")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.migrations_path", "file://migrations")
	v.SetDefault("db.query_timeout", 5*time.Second)
	v.SetDefault("db.max_open_conns", 100)
	v.SetDefault("db.max_idle_conns", 10)

	// Настройки JWT
	v.SetDefault("jwt.secret_key", placeholderJWTSecret)
	v.SetDefault("jwt.expires_in", 24)

	// Настройки SMTP
	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "no-reply@bank.local")

	// Настройки карт
	v.SetDefault("card.encryption_key", placeholderEncryptionKey)
	v.SetDefault("card.hmac_key", placeholderHMACKey)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.dir", "")

	v.SetDefault("rate_limit.requests", 100)
	v.SetDefault("rate_limit.window", time.Minute)

	v.SetDefault("scheduler.expiry_spec", "@daily")

	v.SetDefault("admin.username", "")
	v.SetDefault("admin.email", "")
	v.SetDefault("admin.password", "")
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown storage driver: %q", c.Storage.Driver)
	}
	if c.JWT.SecretKey == "" {
		return fmt.Errorf("JWT_SECRET_KEY is required")
	}
	if c.JWT.ExpiresIn <= 0 {
		return fmt.Errorf("invalid JWT lifetime: %d", c.JWT.ExpiresIn)
	}
	if c.Card.EncryptionKey == "" || c.Card.HMACKey == "" {
		return fmt.Errorf("CARD_ENCRYPTION_KEY and CARD_HMAC_KEY are required")
	}
	if c.Storage.Driver == "postgres" {
		switch {
		case c.JWT.SecretKey == placeholderJWTSecret:
			return fmt.Errorf("JWT_SECRET_KEY must be changed from the default value")
		case c.Card.EncryptionKey == placeholderEncryptionKey, c.Card.HMACKey == placeholderHMACKey:
			return fmt.Errorf("CARD_ENCRYPTION_KEY and CARD_HMAC_KEY must be changed from the default values")
		}
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("invalid rate limit: %d per %s", c.RateLimit.Requests, c.RateLimit.Window)
	}
	return nil
}
