package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/senyabanana/load-marketplace/internal/models"
	"github.com/senyabanana/load-marketplace/internal/repository"

	"github.com/google/uuid"
)

// Значения по умолчанию для тендеров.
const (
	DefaultTenderTTL        = 24 * time.Hour
	DefaultWaterfallTimeout = 30 * time.Minute
)

type TenderService struct {
	Deps
	DefaultTTL              time.Duration
	DefaultWaterfallTimeout time.Duration
}

// NewTenderService создает новый экземпляр TenderService.
func NewTenderService(deps Deps, defaultTTL, defaultWaterfallTimeout time.Duration) *TenderService {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTenderTTL
	}
	if defaultWaterfallTimeout < time.Minute {
		defaultWaterfallTimeout = DefaultWaterfallTimeout
	}
	return &TenderService{
		Deps:                    deps.withDefaults(),
		DefaultTTL:              defaultTTL,
		DefaultWaterfallTimeout: defaultWaterfallTimeout,
	}
}

// CreateTender создает тендер и раздает предложения получателям согласно режиму.
func (s *TenderService) CreateTender(ctx context.Context, tenantID string, req models.TenderRequest) (*models.Tender, error) {
	if err := validateTenderRequest(req); err != nil {
		return nil, err
	}

	now := s.now()
	timeoutMinutes := req.WaterfallTimeoutMinutes
	if timeoutMinutes == 0 {
		timeoutMinutes = int(s.DefaultWaterfallTimeout / time.Minute)
	}
	expiresAt := now.Add(s.DefaultTTL)
	if req.ExpiresAt != nil {
		if !req.ExpiresAt.After(now) {
			return nil, models.Validation("expiresAt must be in the future")
		}
		expiresAt = req.ExpiresAt.UTC()
	}

	recipients := make([]models.RecipientRequest, len(req.Recipients))
	copy(recipients, req.Recipients)
	sort.Slice(recipients, func(i, j int) bool { return recipients[i].Position < recipients[j].Position })

	var tender *models.Tender
	err := s.Store.WithinTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		if _, err := tx.Loads().GetLoad(ctx, tenantID, req.LoadID); err != nil {
			return err
		}
		ids := make([]string, len(recipients))
		for i, rc := range recipients {
			ids[i] = rc.CarrierID
		}
		carriers, err := tx.Carriers().FindActiveCarriers(ctx, tenantID, ids)
		if err != nil {
			return err
		}
		if len(carriers) != len(ids) {
			return models.Conflict("only %d of %d carriers exist and are active", len(carriers), len(ids))
		}

		t := models.Tender{
			ID:                      uuid.New().String(),
			TenantID:                tenantID,
			LoadID:                  req.LoadID,
			Type:                    req.Type,
			Rate:                    req.Rate,
			WaterfallTimeoutMinutes: timeoutMinutes,
			Status:                  models.ActiveTender,
			Notes:                   req.Notes,
			ExpiresAt:               expiresAt,
			CreatedAt:               now,
		}
		for i, rc := range recipients {
			recipient := models.TenderRecipient{
				ID:        uuid.New().String(),
				TenderID:  t.ID,
				CarrierID: rc.CarrierID,
				Position:  rc.Position,
				Status:    models.PendingRecipient,
			}
			if t.Type == models.Broadcast || i == 0 {
				offer(&recipient, &t, now)
			}
			t.Recipients = append(t.Recipients, recipient)
		}
		if err := tx.Tenders().CreateTender(ctx, &t); err != nil {
			return err
		}
		tender = &t
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Infof("tender %s created: tenant=%s load=%s type=%s recipients=%d", tender.ID, tenantID, tender.LoadID, tender.Type, len(tender.Recipients))
	return tender, nil
}

// GetTender получает тендер вместе с получателями.
func (s *TenderService) GetTender(ctx context.Context, tenantID, tenderID string) (*models.Tender, error) {
	return s.Store.Tenders().GetTender(ctx, tenantID, tenderID)
}

// GetActiveForCarrier получает активные тендеры, в которых перевозчику сейчас сделано предложение.
func (s *TenderService) GetActiveForCarrier(ctx context.Context, tenantID, carrierID string) ([]models.Tender, error) {
	return s.Store.Tenders().ListActiveForCarrier(ctx, tenantID, carrierID)
}

// UpdateTender меняет ставку, заметки, срок и таймаут тендера.
func (s *TenderService) UpdateTender(ctx context.Context, tenantID, tenderID string, patch models.TenderPatch) (*models.Tender, error) {
	if patch.Empty() {
		return nil, models.Validation("no valid fields to update")
	}
	if patch.Rate != nil && !patch.Rate.IsPositive() {
		return nil, models.Validation("tender rate must be positive")
	}
	if patch.WaterfallTimeoutMinutes != nil && *patch.WaterfallTimeoutMinutes <= 0 {
		return nil, models.Validation("waterfallTimeoutMinutes must be positive")
	}

	var updated models.Tender
	err := s.Store.WithinTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		current, err := tx.Tenders().GetTender(ctx, tenantID, tenderID)
		if err != nil {
			return err
		}
		updated = patch.Apply(*current)
		return tx.Tenders().UpdateTender(ctx, &updated, models.AllTenderStatuses)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// CancelTender отменяет активный тендер.
func (s *TenderService) CancelTender(ctx context.Context, tenantID, tenderID string) (*models.Tender, error) {
	var cancelled models.Tender
	err := s.Store.WithinTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		current, err := tx.Tenders().GetTender(ctx, tenantID, tenderID)
		if err != nil {
			return err
		}
		if !current.Status.CanTransitionTo(models.CancelledTender) {
			return models.InvalidState("tender %s is %s and cannot be cancelled", current.ID, current.Status)
		}
		cancelled = *current
		cancelled.Status = models.CancelledTender
		return tx.Tenders().UpdateTender(ctx, &cancelled, []models.TenderStatus{models.ActiveTender})
	})
	if err != nil {
		return nil, err
	}

	s.Metrics.TenderOutcome("CANCELLED")
	s.Logger.Infof("tender %s cancelled: tenant=%s", tenderID, tenantID)
	return &cancelled, nil
}

// Respond обрабатывает ответ перевозчика на тендер.
func (s *TenderService) Respond(ctx context.Context, tenantID, tenderID string, req models.RespondRequest) (*models.RespondResult, error) {
	if req.CarrierID == "" {
		return nil, models.Validation("missing required field: carrierId")
	}
	if !req.Response.Valid() {
		return nil, models.Validation("invalid response. Must be 'ACCEPTED' or 'DECLINED'")
	}
	return s.respond(ctx, tenantID, tenderID, req, false)
}

// ProcessWaterfallTimeouts отклоняет просроченные предложения waterfall-тендеров тенанта
// и передает их следующему перевозчику. Ошибка одного тендера не прерывает обработку остальных.
func (s *TenderService) ProcessWaterfallTimeouts(ctx context.Context, tenantID string) (int, error) {
	offers, err := s.Store.Tenders().ListTimedOutOffers(ctx, tenantID, s.now())
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, rc := range offers {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		req := models.RespondRequest{
			CarrierID:     rc.CarrierID,
			Response:      models.DeclineResponse,
			DeclineReason: models.TimeoutDeclineReason,
		}
		if _, err := s.respond(ctx, tenantID, rc.TenderID, req, true); err != nil {
			s.Metrics.SweepFailure("waterfall_timeouts")
			s.Logger.With(map[string]any{"tender": rc.TenderID, "carrier": rc.CarrierID}).
				Warnf("waterfall timeout not processed: %v", err)
			continue
		}
		processed++
	}
	return processed, nil
}

// ExpireOldTenders переводит активные тендеры тенанта с истёкшим сроком в EXPIRED.
func (s *TenderService) ExpireOldTenders(ctx context.Context, tenantID string) (int64, error) {
	var n int64
	err := s.Store.WithinTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		n, err = tx.Tenders().ExpireTenders(ctx, tenantID, s.now())
		return err
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.Logger.Infof("expired %d tenders for tenant %s", n, tenantID)
	}
	return n, nil
}

// respond - общий путь для ответа перевозчика и обработки таймаута.
// requireExpired требует, чтобы срок предложения действительно истёк на момент транзакции.
func (s *TenderService) respond(ctx context.Context, tenantID, tenderID string, req models.RespondRequest, requireExpired bool) (*models.RespondResult, error) {
	var result *models.RespondResult
	err := s.Store.WithinTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		tender, err := tx.Tenders().GetTender(ctx, tenantID, tenderID)
		if err != nil {
			return err
		}
		if tender.Status != models.ActiveTender {
			return models.InvalidState("tender %s is %s", tender.ID, tender.Status)
		}
		recipient := findRecipient(tender.Recipients, req.CarrierID)
		if recipient == nil {
			return models.InvalidState("carrier %s is not a recipient of tender %s", req.CarrierID, tender.ID)
		}
		if recipient.Status != models.OfferedRecipient {
			return models.InvalidState("carrier %s has no open offer on tender %s (status %s)", req.CarrierID, tender.ID, recipient.Status)
		}

		now := s.now()
		if requireExpired && (recipient.ExpiresAt == nil || recipient.ExpiresAt.After(now)) {
			return models.InvalidState("offer to carrier %s on tender %s has not timed out", req.CarrierID, tender.ID)
		}

		if req.Response == models.AcceptResponse {
			result, err = s.accept(ctx, tx, tender, recipient, now)
		} else {
			result, err = s.decline(ctx, tx, tender, recipient, req.DeclineReason, now)
		}
		if err != nil {
			return err
		}
		// перечитываем, чтобы в ответе были актуальные статусы получателей
		result.Tender, err = tx.Tenders().GetTender(ctx, tenantID, tenderID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.Metrics.TenderOutcome(string(result.Outcome))
	s.Logger.Infof("tender %s: carrier %s responded %s, outcome %s", tenderID, req.CarrierID, req.Response, result.Outcome)
	return result, nil
}

func (s *TenderService) accept(ctx context.Context, tx repository.Tx, tender *models.Tender, recipient *models.TenderRecipient, now time.Time) (*models.RespondResult, error) {
	rc := *recipient
	rc.Status = models.AcceptedRecipient
	rc.RespondedAt = &now
	if err := tx.Tenders().UpdateRecipient(ctx, &rc, []models.RecipientStatus{models.OfferedRecipient}); err != nil {
		return nil, err
	}

	t := *tender
	t.Status = models.AcceptedTender
	t.AcceptedByCarrierID = rc.CarrierID
	t.AcceptedAt = &now
	if err := tx.Tenders().UpdateTender(ctx, &t, []models.TenderStatus{models.ActiveTender}); err != nil {
		return nil, err
	}

	if _, err := tx.Tenders().SkipOtherRecipients(ctx, t.ID, rc.ID); err != nil {
		return nil, err
	}

	if _, err := tx.Loads().AssignCarrier(ctx, t.TenantID, t.LoadID, rc.CarrierID, t.Rate, models.AssignmentDetails{}, now); err != nil {
		return nil, err
	}

	return &models.RespondResult{
		Outcome:   models.OutcomeAccepted,
		Message:   fmt.Sprintf("Tender accepted. Load assigned to carrier %s.", rc.CarrierID),
		Tender:    &t,
		Recipient: &rc,
	}, nil
}

func (s *TenderService) decline(ctx context.Context, tx repository.Tx, tender *models.Tender, recipient *models.TenderRecipient, reason string, now time.Time) (*models.RespondResult, error) {
	rc := *recipient
	rc.Status = models.DeclinedRecipient
	rc.RespondedAt = &now
	rc.DeclineReason = reason
	if err := tx.Tenders().UpdateRecipient(ctx, &rc, []models.RecipientStatus{models.OfferedRecipient}); err != nil {
		return nil, err
	}

	t := *tender
	if t.Type == models.Broadcast {
		return &models.RespondResult{
			Outcome:   models.OutcomeDeclined,
			Message:   "Tender declined.",
			Tender:    &t,
			Recipient: &rc,
		}, nil
	}

	next, err := tx.Tenders().NextWaitingRecipient(ctx, t.ID, rc.Position)
	if errors.Is(err, models.ErrNotFound) {
		t.Status = models.ExpiredTender
		if err := tx.Tenders().UpdateTender(ctx, &t, []models.TenderStatus{models.ActiveTender}); err != nil {
			return nil, err
		}
		return &models.RespondResult{
			Outcome:   models.OutcomeNoMoreCarriers,
			Message:   "Tender declined. No more carriers available.",
			Tender:    &t,
			Recipient: &rc,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	nextRc := *next
	from := nextRc.Status
	offer(&nextRc, &t, now)
	if err := tx.Tenders().UpdateRecipient(ctx, &nextRc, []models.RecipientStatus{from}); err != nil {
		return nil, err
	}
	if err := tx.Tenders().UpdateTender(ctx, &t, []models.TenderStatus{models.ActiveTender}); err != nil {
		return nil, err
	}
	return &models.RespondResult{
		Outcome:       models.OutcomeOfferedToNext,
		Message:       fmt.Sprintf("Tender declined. Offered to next carrier %s.", nextRc.CarrierID),
		Tender:        &t,
		Recipient:     &rc,
		NextRecipient: &nextRc,
	}, nil
}

// offer отправляет предложение получателю. Для waterfall ставит срок ответа и сдвигает очередь.
func offer(rc *models.TenderRecipient, t *models.Tender, now time.Time) {
	rc.Status = models.OfferedRecipient
	rc.OfferedAt = &now
	if t.Type == models.Waterfall {
		expires := now.Add(t.WaterfallTimeout())
		rc.ExpiresAt = &expires
		t.CurrentPosition = rc.Position
	}
}

func findRecipient(recipients []models.TenderRecipient, carrierID string) *models.TenderRecipient {
	for i := range recipients {
		if recipients[i].CarrierID == carrierID {
			return &recipients[i]
		}
	}
	return nil
}

func validateTenderRequest(req models.TenderRequest) error {
	if req.LoadID == "" {
		return models.Validation("missing required field: loadId")
	}
	if !req.Type.Valid() {
		return models.Validation("invalid tender type. Must be 'BROADCAST' or 'WATERFALL'")
	}
	if !req.Rate.IsPositive() {
		return models.Validation("tender rate must be positive")
	}
	if req.WaterfallTimeoutMinutes < 0 {
		return models.Validation("waterfallTimeoutMinutes must not be negative")
	}
	if len(req.Recipients) == 0 {
		return models.Validation("at least one recipient is required")
	}
	carriers := make(map[string]struct{}, len(req.Recipients))
	positions := make(map[int]struct{}, len(req.Recipients))
	for _, rc := range req.Recipients {
		if rc.CarrierID == "" {
			return models.Validation("recipient carrierId is required")
		}
		if rc.Position <= 0 {
			return models.Validation("recipient position must be positive")
		}
		if _, dup := carriers[rc.CarrierID]; dup {
			return models.Validation("carrier %s is listed more than once", rc.CarrierID)
		}
		if _, dup := positions[rc.Position]; dup {
			return models.Validation("position %d is used more than once", rc.Position)
		}
		carriers[rc.CarrierID] = struct{}{}
		positions[rc.Position] = struct{}{}
	}
	return nil
}
