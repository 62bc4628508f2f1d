package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bankcards/database"
	"bankcards/models"
	"bankcards/utils"
)

// RegisterRequest - данные для регистрации пользователя
type RegisterRequest struct {
	Username  string `json:"username" validate:"required,min=3,max=50"`
	Email     string `json:"email" validate:"required,email,max=100"`
	Password  string `json:"password" validate:"required,min=6,max=72"`
	FirstName string `json:"firstName" validate:"max=50"`
	LastName  string `json:"lastName" validate:"max=50"`
	Role      string `json:"role" validate:"omitempty,oneof=USER ADMIN"`
}

// LoginRequest - данные для входа
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse - выданный токен
type LoginResponse struct {
	Token    string      `json:"token"`
	Type     string      `json:"type"`
	Username string      `json:"username"`
	Role     models.Role `json:"role"`
}

type UserResponse struct {
	ID        uint        `json:"id"`
	Username  string      `json:"username"`
	FirstName string      `json:"firstName"`
	LastName  string      `json:"lastName"`
	Email     string      `json:"email"`
	Role      models.Role `json:"role"`
	Enabled   bool        `json:"enabled"`
	CreatedAt time.Time   `json:"createdAt"`
}

type UserService struct {
	store  database.Store
	guard  *Guard
	tokens *TokenService
}

func NewUserService(store database.Store, guard *Guard, tokens *TokenService) *UserService {
	return &UserService{store: store, guard: guard, tokens: tokens}
}

// Register регистрирует пользователя с ролью USER
func (s *UserService) Register(ctx context.Context, req RegisterRequest) (*UserResponse, error) {
	user, err := s.create(ctx, req, models.RoleUser)
	if err != nil {
		return nil, err
	}
	return toUserResponse(user), nil
}

// CreateUser создает пользователя от имени администратора, роль берется из запроса
func (s *UserService) CreateUser(ctx context.Context, caller Caller, req RegisterRequest) (*UserResponse, error) {
	if err := s.guard.RequireAdmin(caller); err != nil {
		return nil, err
	}
	role := models.RoleUser
	if req.Role != "" {
		role = models.Role(strings.ToUpper(req.Role))
		if !role.Valid() {
			return nil, ValidationError("Unknown role")
		}
	}
	user, err := s.create(ctx, req, role)
	if err != nil {
		return nil, err
	}
	return toUserResponse(user), nil
}

func (s *UserService) create(ctx context.Context, req RegisterRequest, role models.Role) (*models.User, error) {
	username := strings.TrimSpace(req.Username)
	if _, err := s.store.Users().FindByUsername(ctx, username); err == nil {
		return nil, newError(KindDuplicateUser, "Username is already taken!")
	} else if !errors.Is(err, database.ErrRecordNotFound) {
		return nil, err
	}

	// Хешируем пароль
	hashedPassword, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Username:  username,
		Email:     strings.TrimSpace(req.Email),
		Password:  hashedPassword,
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Role:      role,
		Enabled:   true,
	}
	if err := s.store.Users().Create(ctx, user); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			if strings.Contains(err.Error(), "email") {
				return nil, newError(KindDuplicateUser, "Email is already in use!")
			}
			return nil, newError(KindDuplicateUser, "Username is already taken!")
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	utils.LogInfo("user %s registered with role %s", user.Username, user.Role)
	return user, nil
}

// Login проверяет учетные данные и выдает токен
func (s *UserService) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	user, err := s.store.Users().FindByUsername(ctx, strings.TrimSpace(req.Username))
	if err != nil {
		if errors.Is(err, database.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !utils.VerifyPassword(req.Password, user.Password) {
		return nil, ErrInvalidCredentials
	}
	if !user.Enabled {
		return nil, ErrAccountDisabled
	}

	token, err := s.tokens.Issue(user)
	if err != nil {
		return nil, err
	}
	utils.LogInfo("user %s logged in", user.Username)
	return &LoginResponse{Token: token, Type: "Bearer", Username: user.Username, Role: user.Role}, nil
}

// EnsureAdmin создает администратора при старте, если его еще нет
func (s *UserService) EnsureAdmin(ctx context.Context, username, email, password string) error {
	if username == "" || password == "" {
		return nil
	}
	existing, err := s.store.Users().FindByUsername(ctx, username)
	if err == nil {
		if existing.Role != models.RoleAdmin {
			return fmt.Errorf("bootstrap user %q exists without ADMIN role", username)
		}
		return nil
	}
	if !errors.Is(err, database.ErrRecordNotFound) {
		return err
	}
	if email == "" {
		email = username + "@localhost"
	}
	_, err = s.create(ctx, RegisterRequest{Username: username, Email: email, Password: password}, models.RoleAdmin)
	return err
}

// ListUsers возвращает пользователей для администратора
func (s *UserService) ListUsers(ctx context.Context, caller Caller, page database.Pagination) (Page[UserResponse], error) {
	if err := s.guard.RequireAdmin(caller); err != nil {
		return Page[UserResponse]{}, err
	}
	users, total, err := s.store.Users().List(ctx, page)
	if err != nil {
		return Page[UserResponse]{}, err
	}
	return newPage(users, total, page, func(u *models.User) UserResponse {
		return *toUserResponse(u)
	}), nil
}

func toUserResponse(u *models.User) *UserResponse {
	return &UserResponse{
		ID:        u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     u.Email,
		Role:      u.Role,
		Enabled:   u.Enabled,
		CreatedAt: u.CreatedAt,
	}
}
