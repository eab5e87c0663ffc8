package repository

import (
	"context"
	"time"

	"github.com/senyabanana/load-marketplace/internal/models"

	"github.com/shopspring/decimal"
)

// ErrStaleStatus возвращается, когда условное обновление не нашло строку в ожидаемом статусе.
// Это значит, что конкурирующая транзакция уже изменила сущность.
var ErrStaleStatus = models.InvalidState("status was changed by a concurrent operation")

// BidRepository - интерфейс для работы с предложениями.
type BidRepository interface {
	CreateBid(ctx context.Context, bid *models.Bid) error
	GetBid(ctx context.Context, tenantID, bidID string) (*models.Bid, error)
	ListPostingBids(ctx context.Context, tenantID, postingID string, limit, offset int) ([]models.Bid, error)
	HasOpenBid(ctx context.Context, tenantID, postingID, carrierID string) (bool, error)
	// UpdateBid сохраняет предложение, только если его текущий статус входит в from.
	UpdateBid(ctx context.Context, bid *models.Bid, from []models.BidStatus) error
	RejectOpenSiblings(ctx context.Context, tenantID, postingID, exceptBidID, reason string, at time.Time) (int64, error)
	ExpireBids(ctx context.Context, tenantID string, now time.Time) (int64, error)
}

// TenderRepository - интерфейс для работы с тендерами и их получателями.
type TenderRepository interface {
	CreateTender(ctx context.Context, tender *models.Tender) error
	GetTender(ctx context.Context, tenantID, tenderID string) (*models.Tender, error)
	// UpdateTender сохраняет поля тендера (без получателей), только если его статус входит в from.
	UpdateTender(ctx context.Context, tender *models.Tender, from []models.TenderStatus) error
	UpdateRecipient(ctx context.Context, recipient *models.TenderRecipient, from []models.RecipientStatus) error
	SkipOtherRecipients(ctx context.Context, tenderID, exceptRecipientID string) (int64, error)
	// NextWaitingRecipient ищет получателя с наименьшей позицией больше afterPosition,
	// который ещё не DECLINED и не SKIPPED.
	NextWaitingRecipient(ctx context.Context, tenderID string, afterPosition int) (*models.TenderRecipient, error)
	ListActiveForCarrier(ctx context.Context, tenantID, carrierID string) ([]models.Tender, error)
	ListTimedOutOffers(ctx context.Context, tenantID string, now time.Time) ([]models.TenderRecipient, error)
	ExpireTenders(ctx context.Context, tenantID string, now time.Time) (int64, error)
}

// PostingRepository - реестр публикаций грузов.
type PostingRepository interface {
	GetPosting(ctx context.Context, tenantID, postingID string) (*models.Posting, error)
	MarkBooked(ctx context.Context, tenantID, postingID string, at time.Time) error
}

// CarrierRepository - справочник перевозчиков.
type CarrierRepository interface {
	FindActiveCarrier(ctx context.Context, tenantID, carrierID string) (*models.Carrier, error)
	FindActiveCarriers(ctx context.Context, tenantID string, carrierIDs []string) ([]models.Carrier, error)
}

// LoadRepository - хранилище грузов.
type LoadRepository interface {
	GetLoad(ctx context.Context, tenantID, loadID string) (*models.Load, error)
	AssignCarrier(ctx context.Context, tenantID, loadID, carrierID string, rate decimal.Decimal, details models.AssignmentDetails, at time.Time) (*models.Load, error)
}

// Tx - набор репозиториев, привязанных к одной транзакции хранилища.
type Tx interface {
	Bids() BidRepository
	Tenders() TenderRepository
	Postings() PostingRepository
	Carriers() CarrierRepository
	Loads() LoadRepository
}

// Store - хранилище. Методы Tx вне транзакции работают с уровнем изоляции по умолчанию.
type Store interface {
	Tx
	// WithinTransaction выполняет fn в одной транзакции: commit при nil, rollback при ошибке.
	WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// ActiveTenantIDs возвращает тенантов, у которых есть открытые предложения или тендеры.
	ActiveTenantIDs(ctx context.Context) ([]string, error)
}
