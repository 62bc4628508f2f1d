package controllers

import (
	"net/http"

	"bankcards/services"
)

type AuthController struct {
	users    *services.UserService
	validate *requestValidator
}

func NewAuthController(users *services.UserService) *AuthController {
	return &AuthController{
		users:    users,
		validate: newRequestValidator(),
	}
}

// Register регистрирует пользователя. Роль из запроса игнорируется.
func (c *AuthController) Register(w http.ResponseWriter, r *http.Request) {
	var req services.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, r, err)
		return
	}

	// Валидация запроса
	if err := c.validate.Struct(req); err != nil {
		handleError(w, r, err)
		return
	}

	user, err := c.users.Register(r.Context(), req)
	if err != nil {
		handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// Login обрабатывает вход пользователя
func (c *AuthController) Login(w http.ResponseWriter, r *http.Request) {
	var req services.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, r, err)
		return
	}

	if err := c.validate.Struct(req); err != nil {
		handleError(w, r, err)
		return
	}

	resp, err := c.users.Login(r.Context(), req)
	if err != nil {
		handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
