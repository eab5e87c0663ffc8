package handlers

import (
	"fmt"
	"net/http"

	"github.com/senyabanana/load-marketplace/internal/logger"
	"github.com/senyabanana/load-marketplace/internal/models"
	"github.com/senyabanana/load-marketplace/internal/utils"
)

// PingHandler обрабатывает GET запрос к /api/ping
func PingHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, "ok")
}

// writeError пишет ошибку в лог и отдает ее клиенту. Ошибки клиента логируются как предупреждения.
func writeError(log logger.Logger, w http.ResponseWriter, r *http.Request, err error, fallback string) {
	if fallback == "" {
		fallback = "internal server error"
	}
	entry := log.With(map[string]any{"request": utils.Describe(r)})
	if errorResponse, ok := models.AsErrorResponse(err); ok && errorResponse.StatusCode < http.StatusInternalServerError {
		entry.Warnf("%v", err)
	} else {
		entry.Errorf("%v", err)
	}
	if err := utils.SendError(w, err, fallback); err != nil {
		entry.Errorf("encode error response: %v", err)
	}
}
