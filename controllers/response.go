package controllers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"bankcards/database"
	"bankcards/middleware"
	"bankcards/services"
	"bankcards/utils"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		utils.LogError("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// statusFor возвращает HTTP статус для вида ошибки
func statusFor(kind services.ErrorKind) int {
	switch kind {
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindAccessDenied:
		return http.StatusForbidden
	case services.KindInvalidCredentials, services.KindAccountDisabled:
		return http.StatusUnauthorized
	case services.KindTransferFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// handleError отдает клиенту ошибку сервиса. Внутренние детали не раскрываются.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	var svcErr *services.Error
	if errors.As(err, &svcErr) {
		status := statusFor(svcErr.Kind)
		message := svcErr.Message
		if status >= http.StatusInternalServerError {
			utils.LogError("%s %s: %v", r.Method, r.URL.Path, err)
		}
		writeError(w, status, message)
		return
	}

	utils.LogError("%s %s: %v", r.Method, r.URL.Path, err)
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

func decodeJSON(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return services.ValidationError("Request body is required")
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return services.ValidationError("Invalid request body")
	}
	return nil
}

// requestValidator проверяет DTO и собирает понятные сообщения по тегам
type requestValidator struct {
	validate *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New()
	// В сообщениях используем имена полей из json
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return &requestValidator{validate: v}
}

func (v *requestValidator) Struct(dto interface{}) error {
	err := v.validate.Struct(dto)
	if err == nil {
		return nil
	}
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return services.ValidationError("Invalid request")
	}

	messages := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		switch e.Tag() {
		case "required":
			messages = append(messages, e.Field()+" is required")
		case "min":
			messages = append(messages, fmt.Sprintf("%s must be at least %s characters", e.Field(), e.Param()))
		case "max":
			messages = append(messages, fmt.Sprintf("%s must be at most %s characters", e.Field(), e.Param()))
		case "email":
			messages = append(messages, e.Field()+" must be a valid email")
		case "oneof":
			messages = append(messages, e.Field()+" must be one of: "+e.Param())
		case "datetime":
			messages = append(messages, e.Field()+" must be in format YYYY-MM-DD")
		default:
			messages = append(messages, e.Field()+" is invalid")
		}
	}
	return services.ValidationError(strings.Join(messages, "; "))
}

func callerFrom(w http.ResponseWriter, r *http.Request) (services.Caller, bool) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
	}
	return caller, ok
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		return uuid.Nil, services.ValidationError("Invalid " + name)
	}
	return id, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, services.ValidationError(name + " must be a non-negative integer")
	}
	return n, nil
}

// pagination читает page (с нуля) и size из строки запроса
func pagination(r *http.Request) (database.Pagination, error) {
	page, err := queryInt(r, "page", 0)
	if err != nil {
		return database.Pagination{}, err
	}
	size, err := queryInt(r, "size", database.DefaultPageSize)
	if err != nil {
		return database.Pagination{}, err
	}
	return database.Pagination{Page: page, Size: size}.Normalize(), nil
}
