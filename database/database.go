package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"bankcards/config"
	"bankcards/utils"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Database представляет подключение к базе данных
type Database struct {
	DB    *gorm.DB
	sqlDB *sql.DB
}

// Open открывает пул соединений через lib/pq и оборачивает его в GORM
func Open(cfg *config.Config) (*Database, error) {
	sqlDB, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к базе данных: %w", err)
	}

	// Настраиваем пул соединений
	sqlDB.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DB.QueryTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("база данных недоступна: %w", err)
	}

	// Логи GORM идут через общий logrus
	gormLogger := logger.New(
		utils.Logger,
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ошибка инициализации GORM: %w", err)
	}

	return &Database{DB: db, sqlDB: sqlDB}, nil
}

// Store возвращает хранилище поверх этого подключения
func (d *Database) Store() *GormStore {
	return NewGormStore(d.DB)
}

// Close закрывает подключение к базе данных
func (d *Database) Close() error {
	return d.sqlDB.Close()
}

// RunMigrations выполняет SQL миграции из cfg.DB.MigrationsPath
func RunMigrations(cfg *config.Config) error {
	m, err := migrate.New(cfg.DB.MigrationsPath, migrationURL(cfg))
	if err != nil {
		return fmt.Errorf("ошибка создания миграции: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("ошибка выполнения миграций: %w", err)
	}

	version, dirty, err := m.Version()
	if err == nil {
		utils.LogInfo("schema version %d (dirty=%t)", version, dirty)
	}
	return nil
}

func migrationURL(cfg *config.Config) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.DB.User, cfg.DB.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.DB.Host, cfg.DB.Port),
		Path:     "/" + cfg.DB.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(cfg.DB.SSLMode),
	}
	return u.String()
}
