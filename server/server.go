package server

import (
	"fmt"
	"net/http"

	"bankcards/controllers"
	"bankcards/middleware"
	"bankcards/models"
	"bankcards/services"
	"bankcards/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/mux"
)

// Services - зависимости HTTP слоя
type Services struct {
	Users     *services.UserService
	Cards     *services.CardService
	Transfers *services.TransferService
	Tokens    *services.TokenService
	Metrics   *utils.Metrics
	Limiter   *utils.RateLimiter
	// TrustedProxies - прокси, чьему X-Forwarded-For верим при определении IP клиента
	TrustedProxies []string
}

// NewAPIRouter создает роутер /api
func NewAPIRouter(s Services) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.LoggingMiddleware(s.Metrics))
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"Not found"}`))
	})

	authController := controllers.NewAuthController(s.Users)
	cardController := controllers.NewCardController(s.Cards)
	transferController := controllers.NewTransferController(s.Transfers)
	adminController := controllers.NewAdminController(s.Users, s.Metrics)

	// Публичные маршруты для аутентификации
	router.HandleFunc("/api/auth/register", authController.Register).Methods(http.MethodPost)
	router.HandleFunc("/api/auth/login", authController.Login).Methods(http.MethodPost)

	// Защищенные маршруты
	protected := router.PathPrefix("/api").Subrouter()
	protected.Use(middleware.AuthMiddleware(s.Tokens))

	// Маршруты для работы с картами
	protected.HandleFunc("/cards", cardController.ListCards).Methods(http.MethodGet)
	protected.HandleFunc("/cards", cardController.CreateCard).Methods(http.MethodPost)
	protected.HandleFunc("/cards/{id}", cardController.GetCard).Methods(http.MethodGet)
	protected.HandleFunc("/cards/{id}/status", cardController.UpdateStatus).Methods(http.MethodPut)
	protected.HandleFunc("/cards/{id}", cardController.DeleteCard).Methods(http.MethodDelete)

	// Маршруты для переводов
	protected.HandleFunc("/transfers", transferController.Transfer).Methods(http.MethodPost)
	protected.HandleFunc("/transfers", transferController.ListTransfers).Methods(http.MethodGet)
	protected.HandleFunc("/transfers/{id}", transferController.GetTransfer).Methods(http.MethodGet)

	// Маршруты администратора
	admin := protected.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.RequireRole(models.AuthorityAdmin))
	admin.HandleFunc("/users", adminController.CreateUser).Methods(http.MethodPost)
	admin.HandleFunc("/users", adminController.ListUsers).Methods(http.MethodGet)
	admin.HandleFunc("/cards", cardController.CreateCardForUser).Methods(http.MethodPost)
	admin.HandleFunc("/cards", cardController.ListCards).Methods(http.MethodGet)
	admin.HandleFunc("/cards/{id}", cardController.GetCard).Methods(http.MethodGet)
	admin.HandleFunc("/cards/{id}/status", cardController.UpdateStatus).Methods(http.MethodPut)
	admin.HandleFunc("/cards/{id}", cardController.DeleteCard).Methods(http.MethodDelete)
	admin.HandleFunc("/transfers", transferController.ListTransfers).Methods(http.MethodGet)
	admin.HandleFunc("/metrics", adminController.Metrics).Methods(http.MethodGet)

	return router
}

// NewEngine создает внешний gin движок: восстановление после паник, CORS,
// ограничение частоты запросов и /health. Все /api запросы уходят в mux роутер.
func NewEngine(s Services) (*gin.Engine, error) {
	engine := gin.New()
	// gin.New доверяет любому прокси, тогда лимит обходится подменой X-Forwarded-For
	if err := engine.SetTrustedProxies(s.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}
	engine.Use(middleware.Recovery(s.Metrics), middleware.Logger(), middleware.CORSMiddleware())

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "UP"})
	})

	api := NewAPIRouter(s)
	limited := engine.Group("/api", middleware.RateLimit(s.Limiter))
	limited.Any("/*path", gin.WrapH(api))

	return engine, nil
}
