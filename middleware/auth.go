package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"bankcards/models"
	"bankcards/services"
	"bankcards/utils"

	"github.com/sirupsen/logrus"
)

type contextKey string

const callerKey contextKey = "caller"

// TokenParser проверяет токен и возвращает вызывающего
type TokenParser interface {
	Parse(token string) (services.Caller, error)
}

type LoggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (lrw *LoggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *LoggingResponseWriter) Write(b []byte) (int, error) {
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

// LoggingMiddleware логирует запрос и учитывает его в метриках.
// Тело ответа не логируется: в нем бывают токены.
func LoggingMiddleware(metrics *utils.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &LoggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(lrw, r)

			duration := time.Since(start)
			var err error
			if lrw.statusCode >= http.StatusInternalServerError {
				err = errors.New(http.StatusText(lrw.statusCode))
			}
			metrics.RecordRequest(duration, err)

			fields := logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   lrw.statusCode,
				"duration": duration.String(),
				"bytes":    lrw.size,
			}
			if caller, ok := CallerFromContext(r.Context()); ok {
				fields["user_id"] = caller.UserID
			}
			utils.Logger.WithFields(fields).Info("request handled")
		})
	}
}

// AuthMiddleware проверяет Bearer токен и кладет вызывающего в контекст запроса
func AuthMiddleware(tokens TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				unauthorized(w, "Authorization header is required")
				return
			}

			tokenString, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || tokenString == "" {
				unauthorized(w, "Invalid authorization header")
				return
			}

			caller, err := tokens.Parse(tokenString)
			if err != nil {
				utils.LogDebug("token rejected for %s %s: %v", r.Method, r.URL.Path, err)
				unauthorized(w, "Invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

// RequireRole пропускает только вызывающих с нужным правом
func RequireRole(authority models.Authority) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := CallerFromContext(r.Context())
			if !ok {
				unauthorized(w, "Unauthorized")
				return
			}
			if !caller.Role.Has(authority) {
				writeError(w, http.StatusForbidden, "Access denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithCaller возвращает контекст с вызывающим
func WithCaller(ctx context.Context, caller services.Caller) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// CallerFromContext получает вызывающего из контекста
func CallerFromContext(ctx context.Context) (services.Caller, bool) {
	caller, ok := ctx.Value(callerKey).(services.Caller)
	return caller, ok
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, message)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
