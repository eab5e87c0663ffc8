package services

import (
	"context"
	"errors"
	"time"

	"github.com/senyabanana/load-marketplace/internal/models"
	"github.com/senyabanana/load-marketplace/internal/repository"

	"github.com/google/uuid"
)

// DefaultBidTTL - срок жизни предложения, если он не указан явно.
const DefaultBidTTL = 24 * time.Hour

type BidService struct {
	Deps
	DefaultTTL time.Duration
}

// NewBidService создает новый экземпляр BidService.
func NewBidService(deps Deps, defaultTTL time.Duration) *BidService {
	if defaultTTL <= 0 {
		defaultTTL = DefaultBidTTL
	}
	return &BidService{Deps: deps.withDefaults(), DefaultTTL: defaultTTL}
}

// CreateBid создает новое предложение перевозчика по активной публикации.
func (s *BidService) CreateBid(ctx context.Context, tenantID string, req models.BidRequest) (*models.Bid, error) {
	if req.PostingID == "" || req.CarrierID == "" {
		return nil, models.Validation("missing required fields: postingId or carrierId")
	}
	if !req.Amount.IsPositive() {
		return nil, models.Validation("bid amount must be positive")
	}
	if req.RateType == "" {
		req.RateType = models.FlatRate
	}
	if !req.RateType.Valid() {
		return nil, models.Validation("invalid rate type. Must be 'FLAT' or 'PER_MILE'")
	}

	now := s.now()
	expiresAt := now.Add(s.DefaultTTL)
	if req.ExpiresAt != nil {
		if !req.ExpiresAt.After(now) {
			return nil, models.Validation("expiresAt must be in the future")
		}
		expiresAt = req.ExpiresAt.UTC()
	}

	var bid *models.Bid
	err := s.Store.WithinTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		posting, err := tx.Postings().GetPosting(ctx, tenantID, req.PostingID)
		if err != nil {
			return err
		}
		if posting.Status != models.ActivePosting {
			return models.InvalidState("posting %s is %s, bids are accepted only on ACTIVE postings", posting.ID, posting.Status)
		}
		if _, err := tx.Carriers().FindActiveCarrier(ctx, tenantID, req.CarrierID); err != nil {
			return err
		}
		open, err := tx.Bids().HasOpenBid(ctx, tenantID, posting.ID, req.CarrierID)
		if err != nil {
			return err
		}
		if open {
			return models.Conflict("carrier %s already has an active bid on posting %s", req.CarrierID, posting.ID)
		}

		newBid := models.Bid{
			ID:          uuid.New().String(),
			TenantID:    tenantID,
			PostingID:   posting.ID,
			LoadID:      posting.LoadID,
			CarrierID:   req.CarrierID,
			Amount:      req.Amount,
			RateType:    req.RateType,
			Notes:       req.Notes,
			Status:      models.PendingBid,
			Details:     req.Details,
			SubmittedAt: now,
			ExpiresAt:   expiresAt,
		}
		if err := tx.Bids().CreateBid(ctx, &newBid); err != nil {
			return err
		}
		bid = &newBid
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Metrics.BidTransition(string(models.PendingBid), 1)
	s.Logger.Infof("bid %s created: tenant=%s posting=%s carrier=%s amount=%s", bid.ID, tenantID, bid.PostingID, bid.CarrierID, bid.Amount)
	return bid, nil
}

// GetBid получает предложение.
func (s *BidService) GetBid(ctx context.Context, tenantID, bidID string) (*models.Bid, error) {
	return s.Store.Bids().GetBid(ctx, tenantID, bidID)
}

// ListPostingBids получает список предложений по публикации.
func (s *BidService) ListPostingBids(ctx context.Context, tenantID, postingID string, limit, offset int) ([]models.Bid, error) {
	if _, err := s.Store.Postings().GetPosting(ctx, tenantID, postingID); err != nil {
		return nil, err
	}
	return s.Store.Bids().ListPostingBids(ctx, tenantID, postingID, limit, offset)
}

// UpdateBid меняет поля открытого предложения.
func (s *BidService) UpdateBid(ctx context.Context, tenantID, bidID string, patch models.BidPatch) (*models.Bid, error) {
	if patch.Empty() {
		return nil, models.Validation("no valid fields to update")
	}
	if patch.Amount != nil && !patch.Amount.IsPositive() {
		return nil, models.Validation("bid amount must be positive")
	}
	if patch.RateType != nil && !patch.RateType.Valid() {
		return nil, models.Validation("invalid rate type. Must be 'FLAT' or 'PER_MILE'")
	}
	now := s.now()
	if patch.ExpiresAt != nil && !patch.ExpiresAt.After(now) {
		return nil, models.Validation("expiresAt must be in the future")
	}

	var updated models.Bid
	err := s.Store.WithinTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		current, err := tx.Bids().GetBid(ctx, tenantID, bidID)
		if err != nil {
			return err
		}
		if !current.Status.IsOpen() {
			return models.InvalidState("bid %s is %s and can no longer be edited", current.ID, current.Status)
		}
		updated = patch.Apply(*current)
		return tx.Bids().UpdateBid(ctx, &updated, []models.BidStatus{current.Status})
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// AcceptBid принимает предложение. В одной транзакции, строго в этом порядке:
// предложение -> ACCEPTED, остальные открытые предложения -> REJECTED,
// публикация -> BOOKED, груз назначается перевозчику по ставке предложения.
func (s *BidService) AcceptBid(ctx context.Context, tenantID, bidID string) (*models.BidAcceptance, error) {
	var result models.BidAcceptance
	err := s.Store.WithinTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		current, err := tx.Bids().GetBid(ctx, tenantID, bidID)
		if err != nil {
			return err
		}
		if !current.Status.CanTransitionTo(models.AcceptedBid) {
			return models.InvalidState("bid %s is %s and cannot be accepted", current.ID, current.Status)
		}
		posting, err := tx.Postings().GetPosting(ctx, tenantID, current.PostingID)
		if err != nil {
			return err
		}
		if !posting.Status.CanTransitionTo(models.BookedPosting) {
			return models.InvalidState("posting %s is %s and cannot be booked", posting.ID, posting.Status)
		}

		now := s.now()
		accepted := *current
		accepted.Status = models.AcceptedBid
		accepted.AcceptedAt = &now
		if err := tx.Bids().UpdateBid(ctx, &accepted, []models.BidStatus{current.Status}); err != nil {
			return err
		}

		rejected, err := tx.Bids().RejectOpenSiblings(ctx, tenantID, current.PostingID, current.ID, models.SupersededReason, now)
		if err != nil {
			return err
		}

		if err := tx.Postings().MarkBooked(ctx, tenantID, current.PostingID, now); err != nil {
			if errors.Is(err, repository.ErrStaleStatus) {
				return models.InvalidState("posting %s is no longer ACTIVE", current.PostingID)
			}
			return err
		}

		load, err := tx.Loads().AssignCarrier(ctx, tenantID, current.LoadID, current.CarrierID, current.Amount, current.Details, now)
		if err != nil {
			return err
		}

		result = models.BidAcceptance{Bid: &accepted, Load: load, RejectedSiblings: rejected}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Metrics.BidTransition(string(models.AcceptedBid), 1)
	s.Metrics.BidTransition(string(models.RejectedBid), int(result.RejectedSiblings))
	s.Logger.Infof("bid %s accepted: tenant=%s posting=%s load=%s carrier=%s, %d sibling bids rejected",
		bidID, tenantID, result.Bid.PostingID, result.Bid.LoadID, result.Bid.CarrierID, result.RejectedSiblings)
	return &result, nil
}

// RejectBid отклоняет открытое предложение.
func (s *BidService) RejectBid(ctx context.Context, tenantID, bidID, reason string) (*models.Bid, error) {
	return s.transition(ctx, tenantID, bidID, models.RejectedBid, func(b *models.Bid, now time.Time) {
		b.RejectedAt = &now
		b.RejectionReason = reason
	})
}

// WithdrawBid отзывает предложение по инициативе перевозчика.
func (s *BidService) WithdrawBid(ctx context.Context, tenantID, bidID string) (*models.Bid, error) {
	return s.transition(ctx, tenantID, bidID, models.WithdrawnBid, func(b *models.Bid, now time.Time) {
		b.WithdrawnAt = &now
	})
}

// CounterBid выставляет встречное предложение. Сумма самого предложения не меняется.
func (s *BidService) CounterBid(ctx context.Context, tenantID, bidID string, req models.CounterRequest) (*models.Bid, error) {
	if !req.Amount.IsPositive() {
		return nil, models.Validation("counter amount must be positive")
	}
	return s.transition(ctx, tenantID, bidID, models.CounteredBid, func(b *models.Bid, _ time.Time) {
		b.CounterAmount.Decimal = req.Amount
		b.CounterAmount.Valid = true
		b.CounterNotes = req.Notes
	})
}

// ExpireOldBids переводит просроченные открытые предложения тенанта в EXPIRED.
func (s *BidService) ExpireOldBids(ctx context.Context, tenantID string) (int64, error) {
	var n int64
	err := s.Store.WithinTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		n, err = tx.Bids().ExpireBids(ctx, tenantID, s.now())
		return err
	})
	if err != nil {
		return 0, err
	}
	s.Metrics.BidTransition(string(models.ExpiredBid), int(n))
	if n > 0 {
		s.Logger.Infof("expired %d bids for tenant %s", n, tenantID)
	}
	return n, nil
}

// transition выполняет одиночный переход статуса предложения по таблице переходов.
func (s *BidService) transition(ctx context.Context, tenantID, bidID string, to models.BidStatus, mutate func(b *models.Bid, now time.Time)) (*models.Bid, error) {
	var updated models.Bid
	err := s.Store.WithinTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		current, err := tx.Bids().GetBid(ctx, tenantID, bidID)
		if err != nil {
			return err
		}
		if to == models.WithdrawnBid && current.Status == models.AcceptedBid {
			return models.InvalidState("bid %s has been accepted and cannot be withdrawn", current.ID)
		}
		if !current.Status.CanTransitionTo(to) {
			return models.InvalidState("bid %s is %s and cannot move to %s", current.ID, current.Status, to)
		}
		updated = *current
		updated.Status = to
		mutate(&updated, s.now())
		return tx.Bids().UpdateBid(ctx, &updated, []models.BidStatus{current.Status})
	})
	if err != nil {
		return nil, err
	}

	s.Metrics.BidTransition(string(to), 1)
	s.Logger.Infof("bid %s moved to %s: tenant=%s", bidID, to, tenantID)
	return &updated, nil
}
