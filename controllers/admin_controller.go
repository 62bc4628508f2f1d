package controllers

import (
	"net/http"

	"bankcards/services"
	"bankcards/utils"
)

// AdminController обрабатывает операции администратора над пользователями и метриками.
// Операции с картами и переводами администратор выполняет через CardController и TransferController.
type AdminController struct {
	users    *services.UserService
	metrics  *utils.Metrics
	validate *requestValidator
}

func NewAdminController(users *services.UserService, metrics *utils.Metrics) *AdminController {
	return &AdminController{
		users:    users,
		metrics:  metrics,
		validate: newRequestValidator(),
	}
}

// CreateUser создает пользователя с ролью из запроса
func (c *AdminController) CreateUser(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	var req services.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	if err := c.validate.Struct(req); err != nil {
		handleError(w, r, err)
		return
	}

	user, err := c.users.CreateUser(r.Context(), caller, req)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (c *AdminController) ListUsers(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	page, err := pagination(r)
	if err != nil {
		handleError(w, r, err)
		return
	}

	users, err := c.users.ListUsers(r.Context(), caller, page)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// Metrics отдает снимок метрик приложения
func (c *AdminController) Metrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, c.metrics.GetMetricsSnapshot())
}
