package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type (
	LoadStatus    string // Статус груза
	PostingStatus string // Статус публикации груза
)

const (
	AvailableLoad LoadStatus = "AVAILABLE" // Груз ещё не назначен
	TenderedLoad  LoadStatus = "TENDERED"  // Груз назначен перевозчику

	ActivePosting  PostingStatus = "ACTIVE"  // Публикация принимает предложения
	BookedPosting  PostingStatus = "BOOKED"  // По публикации принято предложение
	ExpiredPosting PostingStatus = "EXPIRED" // Публикация закрыта по сроку
)

var postingTransitions = map[PostingStatus][]PostingStatus{
	ActivePosting:  {BookedPosting, ExpiredPosting},
	BookedPosting:  {},
	ExpiredPosting: {},
}

// CanTransitionTo проверяет переход по таблице переходов.
func (s PostingStatus) CanTransitionTo(next PostingStatus) bool {
	return Contains(postingTransitions[s], next)
}

// Load представляет модель груза.
type Load struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenantId"`
	Reference     string          `json:"reference"`
	Status        LoadStatus      `json:"status"`
	CarrierID     string          `json:"carrierId,omitempty"`
	CarrierRate   decimal.Decimal `json:"carrierRate"`
	TruckNumber   string          `json:"truckNumber,omitempty"`
	TrailerNumber string          `json:"trailerNumber,omitempty"`
	DriverName    string          `json:"driverName,omitempty"`
	DriverPhone   string          `json:"driverPhone,omitempty"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Assign переносит назначение перевозчика на груз.
func (l Load) Assign(carrierID string, rate decimal.Decimal, details AssignmentDetails, at time.Time) Load {
	l.CarrierID = carrierID
	l.CarrierRate = rate
	l.Status = TenderedLoad
	if details.TruckNumber != "" {
		l.TruckNumber = details.TruckNumber
	}
	if details.TrailerNumber != "" {
		l.TrailerNumber = details.TrailerNumber
	}
	if details.DriverName != "" {
		l.DriverName = details.DriverName
	}
	if details.DriverPhone != "" {
		l.DriverPhone = details.DriverPhone
	}
	l.UpdatedAt = at
	return l
}

// Posting представляет публикацию груза для торгов.
type Posting struct {
	ID        string        `json:"id"`
	TenantID  string        `json:"tenantId"`
	LoadID    string        `json:"loadId"`
	Status    PostingStatus `json:"status"`
	BookedAt  *time.Time    `json:"bookedAt,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Carrier представляет перевозчика из справочника.
type Carrier struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	Name     string `json:"name"`
	Active   bool   `json:"active"`
}

// Contains - функция для проверки вхождения статуса в список допустимых.
func Contains[S ~string](valid []S, s S) bool {
	for _, v := range valid {
		if v == s {
			return true
		}
	}
	return false
}
