// Пакет errors — JSON-конверт ответов BM Agency.
// Успех: {"status": "success", "data": ...}.
// Ошибка клиента: {"status": "fail", "code": "...", "message": "..."}.
// Ошибка сервера: {"status": "error", "code": "INTERNAL_ERROR", "message": "..."}.
package errors

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/russeltsague/BM-Agency-sub000/internal/service"
)

// Значения поля status.
const (
	StatusSuccess = "success"
	StatusFail    = "fail"
	StatusError   = "error"
)

// Машиночитаемые коды ошибок.
const (
	CodeValidationError   = "VALIDATION_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeConflict          = "CONFLICT"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeInternalError     = "INTERNAL_ERROR"
)

type errorBody struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type successBody struct {
	Status string `json:"status"`
	Data   any    `json:"data"`
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError записывает ответ ошибки. 5xx — status "error", остальные — "fail".
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	status := StatusFail
	if statusCode >= http.StatusInternalServerError {
		status = StatusError
	}
	writeJSON(w, statusCode, errorBody{Status: status, Code: code, Message: message})
}

// WriteSuccess записывает успешный ответ с данными.
func WriteSuccess(w http.ResponseWriter, statusCode int, data any) {
	writeJSON(w, statusCode, successBody{Status: StatusSuccess, Data: data})
}

// FromServiceError отображает ошибку сервисного слоя в HTTP-ответ.
// Неизвестные ошибки логируются, клиент получает 500 без деталей.
func FromServiceError(w http.ResponseWriter, err error, logger *slog.Logger) {
	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		Unauthorized(w, err.Error())
	case errors.Is(err, service.ErrForbidden):
		Forbidden(w, err.Error())
	case errors.Is(err, service.ErrNotFound):
		NotFound(w, err.Error())
	case errors.Is(err, service.ErrValidation):
		ValidationError(w, err.Error())
	case errors.Is(err, service.ErrInvalidTransition):
		WriteError(w, http.StatusConflict, CodeInvalidTransition, err.Error())
	case errors.Is(err, service.ErrConflict):
		Conflict(w, err.Error())
	default:
		logger.Error("Внутренняя ошибка", slog.String("error", err.Error()))
		InternalError(w, "Внутренняя ошибка сервера")
	}
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// Conflict — 409 конфликт.
func Conflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeConflict, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
