package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type (
	BidStatus string // Статус предложения перевозчика
	RateType  string // Тип ставки
)

const (
	PendingBid   BidStatus = "PENDING"   // Предложение ожидает решения диспетчера
	CounteredBid BidStatus = "COUNTERED" // Диспетчер выставил встречное предложение
	AcceptedBid  BidStatus = "ACCEPTED"  // Предложение принято, груз назначен
	RejectedBid  BidStatus = "REJECTED"  // Предложение отклонено
	WithdrawnBid BidStatus = "WITHDRAWN" // Перевозчик отозвал предложение
	ExpiredBid   BidStatus = "EXPIRED"   // Срок предложения истёк

	FlatRate    RateType = "FLAT"     // Фиксированная ставка за рейс
	PerMileRate RateType = "PER_MILE" // Ставка за милю
)

// SupersededReason - причина автоматического отклонения конкурирующих предложений.
const SupersededReason = "Another bid was accepted."

// OpenBidStatuses - нетерминальные статусы предложения.
var OpenBidStatuses = []BidStatus{PendingBid, CounteredBid}

var bidTransitions = map[BidStatus][]BidStatus{
	PendingBid:   {CounteredBid, AcceptedBid, RejectedBid, WithdrawnBid, ExpiredBid},
	CounteredBid: {AcceptedBid, RejectedBid, WithdrawnBid, ExpiredBid},
	AcceptedBid:  {},
	RejectedBid:  {},
	WithdrawnBid: {},
	ExpiredBid:   {},
}

// IsOpen сообщает, находится ли предложение в нетерминальном статусе.
func (s BidStatus) IsOpen() bool {
	return Contains(OpenBidStatuses, s)
}

// CanTransitionTo проверяет переход по таблице переходов.
func (s BidStatus) CanTransitionTo(next BidStatus) bool {
	return Contains(bidTransitions[s], next)
}

// Valid проверяет тип ставки.
func (t RateType) Valid() bool {
	switch t {
	case FlatRate, PerMileRate:
		return true
	default:
		return false
	}
}

// AssignmentDetails - данные о машине и водителе, переносимые на груз при назначении.
type AssignmentDetails struct {
	TruckNumber   string `json:"truckNumber,omitempty"`
	TrailerNumber string `json:"trailerNumber,omitempty"`
	DriverName    string `json:"driverName,omitempty"`
	DriverPhone   string `json:"driverPhone,omitempty"`
}

// Bid представляет модель предложения перевозчика по публикации груза.
type Bid struct {
	ID              string              `json:"id"`
	TenantID        string              `json:"tenantId"`
	PostingID       string              `json:"postingId"`
	LoadID          string              `json:"loadId"`
	CarrierID       string              `json:"carrierId"`
	Amount          decimal.Decimal     `json:"bidAmount"`
	RateType        RateType            `json:"rateType"`
	Notes           string              `json:"notes,omitempty"`
	CounterAmount   decimal.NullDecimal `json:"counterAmount"`
	CounterNotes    string              `json:"counterNotes,omitempty"`
	Status          BidStatus           `json:"status"`
	Details         AssignmentDetails   `json:"details"`
	SubmittedAt     time.Time           `json:"submittedAt"`
	ExpiresAt       time.Time           `json:"expiresAt"`
	AcceptedAt      *time.Time          `json:"acceptedAt,omitempty"`
	RejectedAt      *time.Time          `json:"rejectedAt,omitempty"`
	WithdrawnAt     *time.Time          `json:"withdrawnAt,omitempty"`
	RejectionReason string              `json:"rejectionReason,omitempty"`
}

// BidRequest представляет структуру запроса для создания предложения.
type BidRequest struct {
	PostingID string            `json:"postingId"`
	CarrierID string            `json:"carrierId"`
	Amount    decimal.Decimal   `json:"bidAmount"`
	RateType  RateType          `json:"rateType"`
	Notes     string            `json:"notes"`
	ExpiresAt *time.Time        `json:"expiresAt"`
	Details   AssignmentDetails `json:"details"`
}

// BidPatch - изменяемые поля открытого предложения. nil означает "не менять".
type BidPatch struct {
	Amount    *decimal.Decimal   `json:"bidAmount"`
	RateType  *RateType          `json:"rateType"`
	Notes     *string            `json:"notes"`
	ExpiresAt *time.Time         `json:"expiresAt"`
	Details   *AssignmentDetails `json:"details"`
}

// Empty сообщает, что патч ничего не меняет.
func (p BidPatch) Empty() bool {
	return p.Amount == nil && p.RateType == nil && p.Notes == nil && p.ExpiresAt == nil && p.Details == nil
}

// Apply применяет патч к копии предложения.
func (p BidPatch) Apply(b Bid) Bid {
	if p.Amount != nil {
		b.Amount = *p.Amount
	}
	if p.RateType != nil {
		b.RateType = *p.RateType
	}
	if p.Notes != nil {
		b.Notes = *p.Notes
	}
	if p.ExpiresAt != nil {
		b.ExpiresAt = *p.ExpiresAt
	}
	if p.Details != nil {
		b.Details = *p.Details
	}
	return b
}

// CounterRequest - встречное предложение диспетчера.
type CounterRequest struct {
	Amount decimal.Decimal `json:"counterAmount"`
	Notes  string          `json:"counterNotes"`
}

// RejectRequest - причина отклонения предложения.
type RejectRequest struct {
	Reason string `json:"reason"`
}

// BidAcceptance - результат принятия предложения.
type BidAcceptance struct {
	Bid              *Bid  `json:"bid"`
	Load             *Load `json:"load"`
	RejectedSiblings int64 `json:"rejectedSiblings"`
}
