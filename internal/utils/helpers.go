package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/senyabanana/load-marketplace/internal/models"
)

// TenantHeader - заголовок, в котором клиент передает идентификатор тенанта.
const TenantHeader = "X-Tenant-ID"

// SendErrorResponse отправляет ошибку в формате JSON
func SendErrorResponse(w http.ResponseWriter, statusCode int, message string) error {
	errorResponse := models.ErrorResponse{
		StatusCode: statusCode,
		Message:    message,
	}
	return SendJSON(w, statusCode, errorResponse)
}

// SendError отправляет ошибку сервиса. Ошибки вне таксономии превращаются в 500 с fallback-сообщением,
// чтобы детали хранилища не уходили клиенту.
func SendError(w http.ResponseWriter, err error, fallback string) error {
	if errorResponse, ok := models.AsErrorResponse(err); ok && errorResponse.Kind != models.KindTransaction {
		return SendErrorResponse(w, errorResponse.StatusCode, errorResponse.Message)
	}
	return SendErrorResponse(w, http.StatusInternalServerError, fallback)
}

// SendJSON отправляет тело ответа в формате JSON
func SendJSON(w http.ResponseWriter, statusCode int, body any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(body)
}

// TenantID извлекает тенанта из заголовка запроса.
func TenantID(r *http.Request) (string, error) {
	tenantID := strings.TrimSpace(r.Header.Get(TenantHeader))
	if tenantID == "" {
		return "", models.NewErrorResponse(http.StatusUnauthorized, "missing "+TenantHeader+" header")
	}
	return tenantID, nil
}

// ParseLimitOffset обрабатывает limit и offset
func ParseLimitOffset(limitStr, offsetStr string) (int, int, error) {
	var limit, offset int
	var err error

	if limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil || limit <= 0 || limit > 50 {
			return 0, 0, models.Validation("invalid limit parameter, must be a positive integer [1:50]")
		}
	} else {
		limit = 5
	}

	if offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			return 0, 0, models.Validation("invalid offset parameter, must be a non-negative integer")
		}
	}

	return limit, offset, nil
}

// DecodeJSON читает тело запроса. Неизвестные поля считаются ошибкой.
func DecodeJSON(r *http.Request, dst any) error {
	return decode(r, dst, false)
}

// DecodeOptionalJSON читает тело запроса, пустое тело оставляет dst без изменений.
func DecodeOptionalJSON(r *http.Request, dst any) error {
	return decode(r, dst, true)
}

func decode(r *http.Request, dst any, optional bool) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return models.Validation("invalid request body: %s", strings.TrimPrefix(err.Error(), "json: "))
	}
	return nil
}

// Describe возвращает короткое описание запроса для логов.
func Describe(r *http.Request) string {
	return fmt.Sprintf("%s %s", r.Method, r.URL.Path)
}
