package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/senyabanana/load-marketplace/internal/logger"
	"github.com/senyabanana/load-marketplace/internal/metrics"
	"github.com/senyabanana/load-marketplace/internal/repository"
)

// Виды фоновой обработки для метрик.
const (
	SweepExpiredBids       = "expired_bids"
	SweepWaterfallTimeouts = "waterfall_timeouts"
	SweepExpiredTenders    = "expired_tenders"
)

// SweepReport - итог одного прохода по тенанту.
type SweepReport struct {
	TenantID       string `json:"tenantId"`
	ExpiredBids    int64  `json:"expiredBids"`
	TimedOutOffers int    `json:"timedOutOffers"`
	ExpiredTenders int64  `json:"expiredTenders"`
}

// Sweeper периодически закрывает просроченные предложения и тендеры
// и передает просроченные waterfall-предложения следующему перевозчику.
type Sweeper struct {
	Bids     *BidService
	Tenders  *TenderService
	Store    repository.Store
	Interval time.Duration
	Logger   logger.Logger
	Metrics  metrics.Recorder
}

// NewSweeper создает новый экземпляр Sweeper.
func NewSweeper(bids *BidService, tenders *TenderService, store repository.Store, interval time.Duration, log logger.Logger, rec metrics.Recorder) *Sweeper {
	if log == nil {
		log = logger.NopLogger{}
	}
	if rec == nil {
		rec = metrics.NopRecorder{}
	}
	return &Sweeper{Bids: bids, Tenders: tenders, Store: store, Interval: interval, Logger: log, Metrics: rec}
}

// SweepTenant выполняет все три вида обработки для одного тенанта.
// Сбой одного вида не мешает остальным, ошибки объединяются.
func (s *Sweeper) SweepTenant(ctx context.Context, tenantID string) (SweepReport, error) {
	report := SweepReport{TenantID: tenantID}
	var errs []error

	bids, err := s.Bids.ExpireOldBids(ctx, tenantID)
	if err != nil {
		s.Metrics.SweepFailure(SweepExpiredBids)
		errs = append(errs, fmt.Errorf("expire bids: %w", err))
	}
	report.ExpiredBids = bids
	s.Metrics.SweepProcessed(SweepExpiredBids, int(bids))

	offers, err := s.Tenders.ProcessWaterfallTimeouts(ctx, tenantID)
	if err != nil {
		s.Metrics.SweepFailure(SweepWaterfallTimeouts)
		errs = append(errs, fmt.Errorf("waterfall timeouts: %w", err))
	}
	report.TimedOutOffers = offers
	s.Metrics.SweepProcessed(SweepWaterfallTimeouts, offers)

	tenders, err := s.Tenders.ExpireOldTenders(ctx, tenantID)
	if err != nil {
		s.Metrics.SweepFailure(SweepExpiredTenders)
		errs = append(errs, fmt.Errorf("expire tenders: %w", err))
	}
	report.ExpiredTenders = tenders
	s.Metrics.SweepProcessed(SweepExpiredTenders, int(tenders))

	return report, errors.Join(errs...)
}

// RunOnce обходит всех тенантов с открытыми предложениями или активными тендерами.
func (s *Sweeper) RunOnce(ctx context.Context) ([]SweepReport, error) {
	tenants, err := s.Store.ActiveTenantIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}

	reports := make([]SweepReport, 0, len(tenants))
	var errs []error
	for _, tenantID := range tenants {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		report, err := s.SweepTenant(ctx, tenantID)
		if err != nil {
			s.Logger.With(map[string]any{"tenant": tenantID}).Errorf("sweep failed: %v", err)
			errs = append(errs, fmt.Errorf("tenant %s: %w", tenantID, err))
		}
		reports = append(reports, report)
	}
	return reports, errors.Join(errs...)
}

// Run запускает обработку по таймеру до отмены контекста.
func (s *Sweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Logger.Infof("sweeper started, interval %s", interval)
	for {
		select {
		case <-ctx.Done():
			s.Logger.Infof("sweeper stopped")
			return
		case <-ticker.C:
			reports, err := s.RunOnce(ctx)
			if err != nil && ctx.Err() == nil {
				s.Logger.Warnf("sweep pass finished with errors: %v", err)
			}
			for _, r := range reports {
				if r.ExpiredBids+int64(r.TimedOutOffers)+r.ExpiredTenders > 0 {
					s.Logger.Debugf("tenant %s: %d bids expired, %d offers timed out, %d tenders expired",
						r.TenantID, r.ExpiredBids, r.TimedOutOffers, r.ExpiredTenders)
				}
			}
		}
	}
}
