package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type (
	TenderType      string // Режим тендера
	TenderStatus    string // Статус тендера
	RecipientStatus string // Статус получателя тендера
	TenderResponse  string // Ответ перевозчика на тендер
	TenderOutcome   string // Итог обработки ответа
)

const (
	Broadcast TenderType = "BROADCAST" // Предложение всем перевозчикам сразу
	Waterfall TenderType = "WATERFALL" // Предложение по очереди

	ActiveTender    TenderStatus = "ACTIVE"    // Тендер открыт
	AcceptedTender  TenderStatus = "ACCEPTED"  // Тендер принят перевозчиком
	ExpiredTender   TenderStatus = "EXPIRED"   // Срок тендера истёк или перевозчики закончились
	CancelledTender TenderStatus = "CANCELLED" // Тендер отменён диспетчером

	PendingRecipient  RecipientStatus = "PENDING"  // Очередь ещё не дошла
	OfferedRecipient  RecipientStatus = "OFFERED"  // Предложение отправлено, ждём ответа
	AcceptedRecipient RecipientStatus = "ACCEPTED" // Перевозчик принял
	DeclinedRecipient RecipientStatus = "DECLINED" // Перевозчик отказался или истёк таймаут
	SkippedRecipient  RecipientStatus = "SKIPPED"  // Тендер принят другим перевозчиком

	AcceptResponse  TenderResponse = "ACCEPTED"
	DeclineResponse TenderResponse = "DECLINED"

	OutcomeAccepted       TenderOutcome = "ACCEPTED"                   // Груз назначен
	OutcomeDeclined       TenderOutcome = "DECLINED"                   // Отказ без каскада (broadcast)
	OutcomeOfferedToNext  TenderOutcome = "OFFERED_TO_NEXT_CARRIER"    // Waterfall перешёл к следующему
	OutcomeNoMoreCarriers TenderOutcome = "NO_MORE_CARRIERS_AVAILABLE" // Waterfall исчерпан
)

// TimeoutDeclineReason - причина отказа, которую подставляет фоновая обработка таймаутов.
const TimeoutDeclineReason = "Timeout - no response"

// AllTenderStatuses - все статусы тендера.
var AllTenderStatuses = []TenderStatus{ActiveTender, AcceptedTender, ExpiredTender, CancelledTender}

var tenderTransitions = map[TenderStatus][]TenderStatus{
	ActiveTender:    {AcceptedTender, ExpiredTender, CancelledTender},
	AcceptedTender:  {},
	ExpiredTender:   {},
	CancelledTender: {},
}

var recipientTransitions = map[RecipientStatus][]RecipientStatus{
	PendingRecipient:  {OfferedRecipient, SkippedRecipient},
	OfferedRecipient:  {AcceptedRecipient, DeclinedRecipient, SkippedRecipient},
	DeclinedRecipient: {SkippedRecipient},
	AcceptedRecipient: {},
	SkippedRecipient:  {},
}

// Valid проверяет режим тендера.
func (t TenderType) Valid() bool {
	return t == Broadcast || t == Waterfall
}

// CanTransitionTo проверяет переход по таблице переходов.
func (s TenderStatus) CanTransitionTo(next TenderStatus) bool {
	return Contains(tenderTransitions[s], next)
}

// CanTransitionTo проверяет переход по таблице переходов.
func (s RecipientStatus) CanTransitionTo(next RecipientStatus) bool {
	return Contains(recipientTransitions[s], next)
}

// RecipientStatusesFrom возвращает все статусы, из которых разрешён переход в next.
func RecipientStatusesFrom(next RecipientStatus) []RecipientStatus {
	var from []RecipientStatus
	for s, targets := range recipientTransitions {
		if Contains(targets, next) {
			from = append(from, s)
		}
	}
	return from
}

// Valid проверяет ответ перевозчика.
func (r TenderResponse) Valid() bool {
	return r == AcceptResponse || r == DeclineResponse
}

// Tender представляет модель тендера на груз.
type Tender struct {
	ID                      string            `json:"id"`
	TenantID                string            `json:"tenantId"`
	LoadID                  string            `json:"loadId"`
	Type                    TenderType        `json:"tenderType"`
	Rate                    decimal.Decimal   `json:"tenderRate"`
	WaterfallTimeoutMinutes int               `json:"waterfallTimeoutMinutes"`
	CurrentPosition         int               `json:"currentPosition"`
	Status                  TenderStatus      `json:"status"`
	Notes                   string            `json:"notes,omitempty"`
	ExpiresAt               time.Time         `json:"expiresAt"`
	AcceptedByCarrierID     string            `json:"acceptedByCarrierId,omitempty"`
	AcceptedAt              *time.Time        `json:"acceptedAt,omitempty"`
	CreatedAt               time.Time         `json:"createdAt"`
	Recipients              []TenderRecipient `json:"recipients,omitempty"`
}

// WaterfallTimeout возвращает таймаут ответа одного получателя.
func (t Tender) WaterfallTimeout() time.Duration {
	return time.Duration(t.WaterfallTimeoutMinutes) * time.Minute
}

// TenderRecipient - слот перевозчика внутри тендера.
type TenderRecipient struct {
	ID            string          `json:"id"`
	TenderID      string          `json:"tenderId"`
	CarrierID     string          `json:"carrierId"`
	Position      int             `json:"position"`
	Status        RecipientStatus `json:"status"`
	OfferedAt     *time.Time      `json:"offeredAt,omitempty"`
	ExpiresAt     *time.Time      `json:"expiresAt,omitempty"`
	RespondedAt   *time.Time      `json:"respondedAt,omitempty"`
	DeclineReason string          `json:"declineReason,omitempty"`
}

// RecipientRequest - перевозчик и его место в очереди.
type RecipientRequest struct {
	CarrierID string `json:"carrierId"`
	Position  int    `json:"position"`
}

// TenderRequest представляет структуру запроса для создания тендера.
type TenderRequest struct {
	LoadID                  string             `json:"loadId"`
	Type                    TenderType         `json:"tenderType"`
	Recipients              []RecipientRequest `json:"recipients"`
	Rate                    decimal.Decimal    `json:"tenderRate"`
	WaterfallTimeoutMinutes int                `json:"waterfallTimeoutMinutes"`
	Notes                   string             `json:"notes"`
	ExpiresAt               *time.Time         `json:"expiresAt"`
}

// TenderPatch - изменяемые поля тендера. nil означает "не менять".
type TenderPatch struct {
	Rate                    *decimal.Decimal `json:"tenderRate"`
	WaterfallTimeoutMinutes *int             `json:"waterfallTimeoutMinutes"`
	Notes                   *string          `json:"notes"`
	ExpiresAt               *time.Time       `json:"expiresAt"`
}

// Empty сообщает, что патч ничего не меняет.
func (p TenderPatch) Empty() bool {
	return p.Rate == nil && p.WaterfallTimeoutMinutes == nil && p.Notes == nil && p.ExpiresAt == nil
}

// Apply применяет патч к копии тендера.
func (p TenderPatch) Apply(t Tender) Tender {
	if p.Rate != nil {
		t.Rate = *p.Rate
	}
	if p.WaterfallTimeoutMinutes != nil {
		t.WaterfallTimeoutMinutes = *p.WaterfallTimeoutMinutes
	}
	if p.Notes != nil {
		t.Notes = *p.Notes
	}
	if p.ExpiresAt != nil {
		t.ExpiresAt = *p.ExpiresAt
	}
	return t
}

// RespondRequest - ответ перевозчика.
type RespondRequest struct {
	CarrierID     string         `json:"carrierId"`
	Response      TenderResponse `json:"response"`
	DeclineReason string         `json:"declineReason"`
}

// RespondResult - итог обработки ответа на тендер.
type RespondResult struct {
	Outcome       TenderOutcome    `json:"outcome"`
	Message       string           `json:"message"`
	Tender        *Tender          `json:"tender"`
	Recipient     *TenderRecipient `json:"recipient"`
	NextRecipient *TenderRecipient `json:"nextRecipient,omitempty"`
}
