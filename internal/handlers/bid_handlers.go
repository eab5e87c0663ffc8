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

// BidHandler - структура для обработки HTTP-запросов.
type BidHandler struct {
	Service *services.BidService
	Logger  logger.Logger
	Timeout time.Duration
}

// NewBidHandler создает новый экземпляр BidHandler.
func NewBidHandler(service *services.BidService, log logger.Logger, timeout time.Duration) *BidHandler {
	return &BidHandler{
		Service: service,
		Logger:  log,
		Timeout: timeout,
	}
}

// CreateBid обрабатывает запросы для создания предложения.
func (h *BidHandler) CreateBid(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	tenantID, err := utils.TenantID(r)
	if err != nil {
		h.fail(w, r, err, "")
		return
	}

	var bidReq models.BidRequest
	if err := utils.DecodeJSON(r, &bidReq); err != nil {
		h.fail(w, r, err, "")
		return
	}

	newBid, err := h.Service.CreateBid(ctx, tenantID, bidReq)
	if err != nil {
		h.fail(w, r, err, "failed to create bid")
		return
	}
	h.send(w, http.StatusOK, newBid)
}

// GetBid обрабатывает запросы для получения предложения.
func (h *BidHandler) GetBid(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	tenantID, err := utils.TenantID(r)
	if err != nil {
		h.fail(w, r, err, "")
		return
	}

	bid, err := h.Service.GetBid(ctx, tenantID, r.PathValue("bidId"))
	if err != nil {
		h.fail(w, r, err, "failed to retrieve bid")
		return
	}
	h.send(w, http.StatusOK, bid)
}

// GetPostingBids обрабатывает запросы для получения списка предложений по публикации.
func (h *BidHandler) GetPostingBids(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	tenantID, err := utils.TenantID(r)
	if err != nil {
		h.fail(w, r, err, "")
		return
	}

	limit, offset, err := utils.ParseLimitOffset(r.URL.Query().Get("limit"), r.URL.Query().Get("offset"))
	if err != nil {
		h.fail(w, r, err, "")
		return
	}

	bids, err := h.Service.ListPostingBids(ctx, tenantID, r.PathValue("postingId"), limit, offset)
	if err != nil {
		h.fail(w, r, err, "failed to retrieve bids for posting")
		return
	}
	if bids == nil {
		bids = []models.Bid{}
	}
	h.send(w, http.StatusOK, bids)
}

// EditBid обрабатывает запросы для редактирования предложения.
func (h *BidHandler) EditBid(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	tenantID, err := utils.TenantID(r)
	if err != nil {
		h.fail(w, r, err, "")
		return
	}

	var patch models.BidPatch
	if err := utils.DecodeJSON(r, &patch); err != nil {
		h.fail(w, r, err, "")
		return
	}

	updated, err := h.Service.UpdateBid(ctx, tenantID, r.PathValue("bidId"), patch)
	if err != nil {
		h.fail(w, r, err, "failed to update bid")
		return
	}
	h.send(w, http.StatusOK, updated)
}

// AcceptBid обрабатывает запросы для принятия предложения.
func (h *BidHandler) AcceptBid(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	tenantID, err := utils.TenantID(r)
	if err != nil {
		h.fail(w, r, err, "")
		return
	}

	result, err := h.Service.AcceptBid(ctx, tenantID, r.PathValue("bidId"))
	if err != nil {
		h.fail(w, r, err, "failed to accept bid")
		return
	}
	h.send(w, http.StatusOK, result)
}

// RejectBid обрабатывает запросы для отклонения предложения. Тело с причиной необязательно.
func (h *BidHandler) RejectBid(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	tenantID, err := utils.TenantID(r)
	if err != nil {
		h.fail(w, r, err, "")
		return
	}

	var req models.RejectRequest
	if err := utils.DecodeOptionalJSON(r, &req); err != nil {
		h.fail(w, r, err, "")
		return
	}

	rejected, err := h.Service.RejectBid(ctx, tenantID, r.PathValue("bidId"), req.Reason)
	if err != nil {
		h.fail(w, r, err, "failed to reject bid")
		return
	}
	h.send(w, http.StatusOK, rejected)
}

// WithdrawBid обрабатывает запросы для отзыва предложения.
func (h *BidHandler) WithdrawBid(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	tenantID, err := utils.TenantID(r)
	if err != nil {
		h.fail(w, r, err, "")
		return
	}

	withdrawn, err := h.Service.WithdrawBid(ctx, tenantID, r.PathValue("bidId"))
	if err != nil {
		h.fail(w, r, err, "failed to withdraw bid")
		return
	}
	h.send(w, http.StatusOK, withdrawn)
}

// CounterBid обрабатывает запросы для встречного предложения.
func (h *BidHandler) CounterBid(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	tenantID, err := utils.TenantID(r)
	if err != nil {
		h.fail(w, r, err, "")
		return
	}

	var req models.CounterRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err, "")
		return
	}

	countered, err := h.Service.CounterBid(ctx, tenantID, r.PathValue("bidId"), req)
	if err != nil {
		h.fail(w, r, err, "failed to counter bid")
		return
	}
	h.send(w, http.StatusOK, countered)
}

func (h *BidHandler) fail(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	writeError(h.Logger, w, r, err, fallback)
}

func (h *BidHandler) send(w http.ResponseWriter, status int, body any) {
	if err := utils.SendJSON(w, status, body); err != nil {
		h.Logger.Errorf("encode response: %v", err)
	}
}
