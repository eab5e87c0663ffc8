package router

import (
	"net/http"

	"github.com/senyabanana/load-marketplace/internal/handlers"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// InitRoutes регистрирует маршруты API. Если gatherer не nil, публикуется /metrics.
func InitRoutes(tenderHandler *handlers.TenderHandler, bidHandler *handlers.BidHandler, gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/ping", handlers.PingHandler)

	mux.HandleFunc("POST /api/tenders/new", tenderHandler.CreateTender)
	mux.HandleFunc("GET /api/tenders/{tenderId}", tenderHandler.GetTender)
	mux.HandleFunc("PATCH /api/tenders/{tenderId}/edit", tenderHandler.EditTender)
	mux.HandleFunc("PUT /api/tenders/{tenderId}/cancel", tenderHandler.CancelTender)
	mux.HandleFunc("POST /api/tenders/{tenderId}/respond", tenderHandler.RespondTender)
	mux.HandleFunc("GET /api/carriers/{carrierId}/tenders", tenderHandler.GetCarrierTenders)

	mux.HandleFunc("POST /api/bids/new", bidHandler.CreateBid)
	mux.HandleFunc("GET /api/bids/{bidId}", bidHandler.GetBid)
	mux.HandleFunc("PATCH /api/bids/{bidId}/edit", bidHandler.EditBid)
	mux.HandleFunc("PUT /api/bids/{bidId}/accept", bidHandler.AcceptBid)
	mux.HandleFunc("PUT /api/bids/{bidId}/reject", bidHandler.RejectBid)
	mux.HandleFunc("PUT /api/bids/{bidId}/withdraw", bidHandler.WithdrawBid)
	mux.HandleFunc("PUT /api/bids/{bidId}/counter", bidHandler.CounterBid)
	mux.HandleFunc("GET /api/postings/{postingId}/bids", bidHandler.GetPostingBids)

	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return mux
}
