package services

import (
	"sync"
	"testing"
	"time"

	"github.com/senyabanana/load-marketplace/internal/models"
	"github.com/senyabanana/load-marketplace/internal/repository/memory"

	"github.com/shopspring/decimal"
)

const (
	tenantA = "tenant-a"
	tenantB = "tenant-b"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store   *memory.Store
	clock   *fakeClock
	bids    *BidService
	tenders *TenderService
	sweeper *Sweeper
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	clock := newFakeClock()
	deps := Deps{Store: store, Now: clock.Now}
	bids := NewBidService(deps, 0)
	tenders := NewTenderService(deps, 0, 0)

	f := &fixture{
		store:   store,
		clock:   clock,
		bids:    bids,
		tenders: tenders,
		sweeper: NewSweeper(bids, tenders, store, time.Minute, nil, nil),
	}
	for _, id := range []string{"c1", "c2", "c3"} {
		store.AddCarrier(models.Carrier{ID: id, TenantID: tenantA, Name: "Carrier " + id, Active: true})
	}
	store.AddCarrier(models.Carrier{ID: "inactive", TenantID: tenantA, Name: "Retired", Active: false})
	store.AddCarrier(models.Carrier{ID: "cb", TenantID: tenantB, Name: "Other tenant", Active: true})
	store.AddLoad(models.Load{ID: "load-1", TenantID: tenantA, Reference: "L-1", Status: models.AvailableLoad})
	store.AddPosting(models.Posting{ID: "posting-1", TenantID: tenantA, LoadID: "load-1", Status: models.ActivePosting, CreatedAt: clock.Now()})
	return f
}

func amount(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func bidRequest(carrierID, value string) models.BidRequest {
	return models.BidRequest{PostingID: "posting-1", CarrierID: carrierID, Amount: amount(value)}
}

func waterfallRequest(carriers ...string) models.TenderRequest {
	req := models.TenderRequest{
		LoadID:                  "load-1",
		Type:                    models.Waterfall,
		Rate:                    amount("2000"),
		WaterfallTimeoutMinutes: 30,
	}
	for i, c := range carriers {
		req.Recipients = append(req.Recipients, models.RecipientRequest{CarrierID: c, Position: i + 1})
	}
	return req
}

func recipientOf(t *models.Tender, carrierID string) models.TenderRecipient {
	for _, rc := range t.Recipients {
		if rc.CarrierID == carrierID {
			return rc
		}
	}
	return models.TenderRecipient{}
}

func offeredCount(t *models.Tender) int {
	n := 0
	for _, rc := range t.Recipients {
		if rc.Status == models.OfferedRecipient {
			n++
		}
	}
	return n
}
