package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bankcards/config"
	"bankcards/database"
	"bankcards/server"
	"bankcards/services"
	"bankcards/utils"

	"github.com/gin-gonic/gin"
)

// application - собранные зависимости сервиса
type application struct {
	engine    *gin.Engine
	scheduler *services.ExpirySchedulerService
	users     *services.UserService
}

// openStore выбирает хранилище по STORAGE_DRIVER. Для postgres выполняются миграции.
func openStore(cfg *config.Config) (database.Store, func() error, error) {
	if cfg.Storage.Driver == "memory" {
		utils.LogInfo("using in-memory storage, data is lost on restart")
		return database.NewMemoryStore(), func() error { return nil }, nil
	}

	if err := database.RunMigrations(cfg); err != nil {
		return nil, nil, err
	}
	db, err := database.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	return db.Store(), db.Close, nil
}

// newApplication связывает сервисы, контроллеры и планировщик
func newApplication(cfg *config.Config, store database.Store) (*application, error) {
	cipher, err := utils.NewCardCipher(cfg.Card.EncryptionKey, cfg.Card.HMACKey)
	if err != nil {
		return nil, err
	}

	metrics := utils.GetMetrics()
	guard := services.NewGuard()
	emailService := services.NewEmailService(cfg)
	if !emailService.Enabled() {
		utils.LogInfo("SMTP_HOST is not set, email notifications are disabled")
	}

	tokens := services.NewTokenService(cfg.JWT.SecretKey, time.Duration(cfg.JWT.ExpiresIn)*time.Hour)
	users := services.NewUserService(store, guard, tokens)
	cards := services.NewCardService(store, guard, cipher, metrics)
	transfers := services.NewTransferService(store, guard, emailService, metrics, cfg.DB.QueryTimeout)

	engine, err := server.NewEngine(server.Services{
		Users:          users,
		Cards:          cards,
		Transfers:      transfers,
		Tokens:         tokens,
		Metrics:        metrics,
		Limiter:        utils.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window),
		TrustedProxies: cfg.Server.TrustedProxies,
	})
	if err != nil {
		return nil, err
	}

	return &application{
		engine:    engine,
		scheduler: services.NewExpirySchedulerService(store, emailService, metrics, cfg.DB.QueryTimeout),
		users:     users,
	}, nil
}

func run() error {
	// Инициализируем конфигурацию
	cfg, err := config.NewConfig()
	if err != nil {
		return fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}

	closeLog, err := utils.SetupLogger(utils.LoggerOptions{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Dir:    cfg.Log.Dir,
	})
	if err != nil {
		return fmt.Errorf("ошибка настройки логов: %w", err)
	}
	defer closeLog()

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("ошибка подключения к хранилищу: %w", err)
	}
	defer closeStore()

	app, err := newApplication(cfg, store)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := app.users.EnsureAdmin(ctx, cfg.Admin.Username, cfg.Admin.Email, cfg.Admin.Password); err != nil {
		return fmt.Errorf("ошибка создания администратора: %w", err)
	}

	// Запускаем планировщик истечения карт
	if err := app.scheduler.Start(cfg.Scheduler.ExpirySpec); err != nil {
		return err
	}
	defer app.scheduler.Stop()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      app.engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		utils.LogInfo("Сервер запущен на порту %d", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("ошибка запуска сервера: %w", err)
	case sig := <-stop:
		utils.LogInfo("получен сигнал %s, останавливаем сервер", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка остановки сервера: %w", err)
	}
	utils.LogInfo("сервер остановлен")
	return nil
}

func main() {
	if err := run(); err != nil {
		utils.LogError("%v", err)
		os.Exit(1)
	}
}
