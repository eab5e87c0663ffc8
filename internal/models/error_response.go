package models

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind - категория ошибки предметной области.
type ErrorKind string

const (
	KindNotFound     ErrorKind = "not_found"     // Сущность не найдена или вне тенанта
	KindInvalidState ErrorKind = "invalid_state" // Статус не допускает действие
	KindConflict     ErrorKind = "conflict"      // Дубликат или несовпадение пакетной проверки
	KindValidation   ErrorKind = "validation"    // Некорректные входные данные
	KindTransaction  ErrorKind = "transaction"   // Транзакция не смогла завершиться
	KindUnauthorized ErrorKind = "unauthorized"  // Не указан тенант
)

// Сентинелы для errors.Is. Сравнение идёт по Kind, а не по сообщению.
var (
	ErrNotFound     = &ErrorResponse{Kind: KindNotFound, StatusCode: http.StatusNotFound, Message: "not found"}
	ErrInvalidState = &ErrorResponse{Kind: KindInvalidState, StatusCode: http.StatusConflict, Message: "invalid state"}
	ErrConflict     = &ErrorResponse{Kind: KindConflict, StatusCode: http.StatusConflict, Message: "conflict"}
	ErrValidation   = &ErrorResponse{Kind: KindValidation, StatusCode: http.StatusBadRequest, Message: "validation failed"}
	ErrTransaction  = &ErrorResponse{Kind: KindTransaction, StatusCode: http.StatusInternalServerError, Message: "transaction failed"}
)

// ErrorResponse описывает ошибку с кодом и сообщением.
type ErrorResponse struct {
	StatusCode int       `json:"-"`
	Kind       ErrorKind `json:"-"`
	Message    string    `json:"reason"`
	cause      error
}

// NewErrorResponse создает новую ошибку с кодом и сообщением.
func NewErrorResponse(statusCode int, message string) *ErrorResponse {
	return &ErrorResponse{
		StatusCode: statusCode,
		Kind:       kindForStatus(statusCode),
		Message:    message}
}

// NotFound создаёт ошибку "не найдено".
func NotFound(format string, args ...any) *ErrorResponse {
	return newKind(ErrNotFound, format, args...)
}

// InvalidState создаёт ошибку недопустимого статуса.
func InvalidState(format string, args ...any) *ErrorResponse {
	return newKind(ErrInvalidState, format, args...)
}

// Conflict создаёт ошибку конфликта.
func Conflict(format string, args ...any) *ErrorResponse {
	return newKind(ErrConflict, format, args...)
}

// Validation создаёт ошибку валидации запроса.
func Validation(format string, args ...any) *ErrorResponse {
	return newKind(ErrValidation, format, args...)
}

// TransactionFailed оборачивает ошибку хранилища, оставшуюся после повторов.
func TransactionFailed(cause error) *ErrorResponse {
	e := newKind(ErrTransaction, "transaction failed: %v", cause)
	e.cause = cause
	return e
}

func newKind(base *ErrorResponse, format string, args ...any) *ErrorResponse {
	return &ErrorResponse{
		StatusCode: base.StatusCode,
		Kind:       base.Kind,
		Message:    fmt.Sprintf(format, args...),
	}
}

func kindForStatus(statusCode int) ErrorKind {
	switch statusCode {
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusConflict:
		return KindConflict
	case http.StatusBadRequest:
		return KindValidation
	case http.StatusUnauthorized:
		return KindUnauthorized
	default:
		return KindTransaction
	}
}

// Реализация метода Error() для удовлетворения интерфейса error.
func (e *ErrorResponse) Error() string {
	return e.Message
}

// Is сравнивает ошибки по категории.
func (e *ErrorResponse) Is(target error) bool {
	t, ok := target.(*ErrorResponse)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Unwrap возвращает исходную ошибку хранилища, если она есть.
func (e *ErrorResponse) Unwrap() error {
	return e.cause
}

// AsErrorResponse извлекает ErrorResponse из цепочки ошибок.
func AsErrorResponse(err error) (*ErrorResponse, bool) {
	var er *ErrorResponse
	if errors.As(err, &er) {
		return er, true
	}
	return nil, false
}
