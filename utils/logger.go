package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger - общий логгер приложения. До вызова SetupLogger пишет текстом в stdout.
var Logger = logrus.New()

// LoggerOptions описывает вывод логов
type LoggerOptions struct {
	Level  string
	Format string // json | text
	Dir    string // если задан, дублируем логи в <Dir>/app.log
}

// SetupLogger настраивает Logger. Возвращает функцию закрытия файла логов.
func SetupLogger(opts LoggerOptions) (func() error, error) {
	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	Logger.SetLevel(level)

	if opts.Format == "text" {
		Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		Logger.SetFormatter(&logrus.JSONFormatter{})
	}

	closeFn := func() error { return nil }
	if opts.Dir == "" {
		Logger.SetOutput(os.Stdout)
		return closeFn, nil
	}

	// Создаем директорию для логов, если она не существует
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(filepath.Join(opts.Dir, "app.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	Logger.SetOutput(io.MultiWriter(os.Stdout, file))
	return file.Close, nil
}

// caller добавляет файл и строку вызывающего кода
func caller() logrus.Fields {
	_, file, line, _ := runtime.Caller(2)
	return logrus.Fields{"caller": fmt.Sprintf("%s:%d", filepath.Base(file), line)}
}

// LogInfo логирует информационное сообщение
func LogInfo(format string, v ...interface{}) {
	Logger.WithFields(caller()).Infof(format, v...)
}

// LogError логирует сообщение об ошибке
func LogError(format string, v ...interface{}) {
	Logger.WithFields(caller()).Errorf(format, v...)
}

// LogDebug логирует отладочное сообщение
func LogDebug(format string, v ...interface{}) {
	Logger.WithFields(caller()).Debugf(format, v...)
}

// LogOperation логирует операцию с длительностью и дополнительными полями
func LogOperation(operation string, startTime time.Time, err error, fields logrus.Fields) {
	entry := Logger.WithFields(fields).WithFields(logrus.Fields{
		"operation": operation,
		"duration":  time.Since(startTime).String(),
	})
	if err != nil {
		entry.WithError(err).Error("operation failed")
		return
	}
	entry.Info("operation completed")
}
