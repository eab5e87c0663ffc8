package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/senyabanana/load-marketplace/internal/logger"
	"github.com/senyabanana/load-marketplace/internal/models"
	"github.com/senyabanana/load-marketplace/internal/services"
	"github.com/senyabanana/load-marketplace/internal/utils"
)

// TenderHandler - структура для обработки HTTP-запросов.
type TenderHandler struct {
	Service *services.TenderService
	Logger  logger.Logger
	Timeout time.Duration
}

// NewTenderHandler создает новый экземпляр TenderHandler.
func NewTenderHandler(service *services.TenderService, log logger.Logger, timeout time.Duration) *TenderHandler {
	return &TenderHandler{
		Service: service,
		Logger:  log,
		Timeout: timeout,
	}
}

// CreateTender обрабатывает запросы для создания тендера.
func (h *TenderHandler) CreateTender(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	tenantID, err := utils.TenantID(r)
	if err != nil {
		h.fail(w, r, err, "")
		return
	}

	var req models.TenderRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err, "")
		return
	}

	tender, err := h.Service.CreateTender(ctx, tenantID, req)
	if err != nil {
		h.fail(w, r, err, "failed to create tender")
		return
	}
	h.send(w, http.StatusOK, tender)
}

// GetTender обрабатывает запросы для получения тендера.
func (h *TenderHandler) GetTender(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	tenantID, err := utils.TenantID(r)
	if err != nil {
		h.fail(w, r, err, "")
		return
	}

	tender, err := h.Service.GetTender(ctx, tenantID, r.PathValue("tenderId"))
	if err != nil {
		h.fail(w, r, err, "failed to retrieve tender")
		return
	}
	h.send(w, http.StatusOK, tender)
}

// GetCarrierTenders обрабатывает запросы для получения активных тендеров перевозчика.
func (h *TenderHandler) GetCarrierTenders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	tenantID, err := utils.TenantID(r)
	if err != nil {
		h.fail(w, r, err, "")
		return
	}

	tenders, err := h.Service.GetActiveForCarrier(ctx, tenantID, r.PathValue("carrierId"))
	if err != nil {
		h.fail(w, r, err, "failed to retrieve tenders for carrier")
		return
	}
	if tenders == nil {
		tenders = []models.Tender{}
	}
	h.send(w, http.StatusOK, tenders)
}

// EditTender обрабатывает запросы для редактирования тендера.
func (h *TenderHandler) EditTender(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	tenantID, err := utils.TenantID(r)
	if err != nil {
		h.fail(w, r, err, "")
		return
	}

	var patch models.TenderPatch
	if err := utils.DecodeJSON(r, &patch); err != nil {
		h.fail(w, r, err, "")
		return
	}

	updated, err := h.Service.UpdateTender(ctx, tenantID, r.PathValue("tenderId"), patch)
	if err != nil {
		h.fail(w, r, err, "failed to update tender")
		return
	}
	h.send(w, http.StatusOK, updated)
}

// CancelTender обрабатывает запросы для отмены тендера.
func (h *TenderHandler) CancelTender(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	tenantID, err := utils.TenantID(r)
	if err != nil {
		h.fail(w, r, err, "")
		return
	}

	cancelled, err := h.Service.CancelTender(ctx, tenantID, r.PathValue("tenderId"))
	if err != nil {
		h.fail(w, r, err, "failed to cancel tender")
		return
	}
	h.send(w, http.StatusOK, cancelled)
}

// RespondTender обрабатывает ответ перевозчика на тендер.
func (h *TenderHandler) RespondTender(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	tenantID, err := utils.TenantID(r)
	if err != nil {
		h.fail(w, r, err, "")
		return
	}

	var req models.RespondRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err, "")
		return
	}

	result, err := h.Service.Respond(ctx, tenantID, r.PathValue("tenderId"), req)
	if err != nil {
		h.fail(w, r, err, "failed to process tender response")
		return
	}
	h.send(w, http.StatusOK, result)
}

func (h *TenderHandler) fail(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	writeError(h.Logger, w, r, err, fallback)
}

func (h *TenderHandler) send(w http.ResponseWriter, status int, body any) {
	if err := utils.SendJSON(w, status, body); err != nil {
		h.Logger.Errorf("encode response: %v", err)
	}
}
