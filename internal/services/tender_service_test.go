package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/senyabanana/load-marketplace/internal/models"
	"github.com/senyabanana/load-marketplace/internal/repository"
	"github.com/senyabanana/load-marketplace/internal/repository/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decline(carrierID string) models.RespondRequest {
	return models.RespondRequest{CarrierID: carrierID, Response: models.DeclineResponse, DeclineReason: "no truck"}
}

func accept(carrierID string) models.RespondRequest {
	return models.RespondRequest{CarrierID: carrierID, Response: models.AcceptResponse}
}

func TestCreateWaterfallTender(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := waterfallRequest("c1", "c2", "c3")
	// позиции приходят не по порядку
	req.Recipients[0].Position, req.Recipients[2].Position = 3, 1
	tender, err := f.tenders.CreateTender(ctx, tenantA, req)
	require.NoError(t, err)

	assert.Equal(t, models.ActiveTender, tender.Status)
	assert.Equal(t, 1, tender.CurrentPosition)
	assert.Equal(t, 1, offeredCount(tender))

	first := recipientOf(tender, "c3")
	assert.Equal(t, models.OfferedRecipient, first.Status)
	require.NotNil(t, first.ExpiresAt)
	assert.Equal(t, f.clock.Now().Add(30*time.Minute), *first.ExpiresAt)
	for _, c := range []string{"c1", "c2"} {
		rc := recipientOf(tender, c)
		assert.Equal(t, models.PendingRecipient, rc.Status)
		assert.Nil(t, rc.ExpiresAt)
	}
	assert.Equal(t, f.clock.Now().Add(DefaultTenderTTL), tender.ExpiresAt)
}

func TestCreateBroadcastTender(t *testing.T) {
	f := newFixture(t)
	req := waterfallRequest("c1", "c2", "c3")
	req.Type = models.Broadcast
	req.WaterfallTimeoutMinutes = 0

	tender, err := f.tenders.CreateTender(context.Background(), tenantA, req)
	require.NoError(t, err)
	assert.Equal(t, 3, offeredCount(tender))
	for _, rc := range tender.Recipients {
		assert.Nil(t, rc.ExpiresAt)
	}
	assert.Equal(t, 30, tender.WaterfallTimeoutMinutes)
}

func TestCreateTenderValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dupCarrier := waterfallRequest("c1", "c1")
	dupPosition := waterfallRequest("c1", "c2")
	dupPosition.Recipients[1].Position = 1
	zeroPosition := waterfallRequest("c1")
	zeroPosition.Recipients[0].Position = 0
	badType := waterfallRequest("c1")
	badType.Type = "AUCTION"
	noRate := waterfallRequest("c1")
	noRate.Rate = amount("0")

	for name, req := range map[string]models.TenderRequest{
		"no recipients":      waterfallRequest(),
		"duplicate carrier":  dupCarrier,
		"duplicate position": dupPosition,
		"zero position":      zeroPosition,
		"unknown type":       badType,
		"zero rate":          noRate,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.tenders.CreateTender(ctx, tenantA, req)
			assert.ErrorIs(t, err, models.ErrValidation)
		})
	}

	t.Run("unknown load", func(t *testing.T) {
		req := waterfallRequest("c1")
		req.LoadID = "missing"
		_, err := f.tenders.CreateTender(ctx, tenantA, req)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("inactive or foreign carrier", func(t *testing.T) {
		_, err := f.tenders.CreateTender(ctx, tenantA, waterfallRequest("c1", "inactive"))
		assert.ErrorIs(t, err, models.ErrConflict)
		_, err = f.tenders.CreateTender(ctx, tenantA, waterfallRequest("c1", "cb"))
		assert.ErrorIs(t, err, models.ErrConflict)
	})
}

func TestWaterfallDeclineCascade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tender, err := f.tenders.CreateTender(ctx, tenantA, waterfallRequest("c1", "c2", "c3"))
	require.NoError(t, err)

	f.clock.Advance(10 * time.Minute)
	res, err := f.tenders.Respond(ctx, tenantA, tender.ID, decline("c1"))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeOfferedToNext, res.Outcome)
	require.NotNil(t, res.NextRecipient)
	assert.Equal(t, "c2", res.NextRecipient.CarrierID)
	require.Len(t, res.Tender.Recipients, 3)
	assert.Equal(t, 2, res.Tender.CurrentPosition)
	assert.Equal(t, models.DeclinedRecipient, recipientOf(res.Tender, "c1").Status)
	assert.Equal(t, models.OfferedRecipient, recipientOf(res.Tender, "c2").Status)

	got, err := f.tenders.GetTender(ctx, tenantA, tender.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentPosition)
	assert.Equal(t, models.DeclinedRecipient, recipientOf(got, "c1").Status)
	assert.Equal(t, "no truck", recipientOf(got, "c1").DeclineReason)
	c2 := recipientOf(got, "c2")
	assert.Equal(t, models.OfferedRecipient, c2.Status)
	require.NotNil(t, c2.ExpiresAt)
	assert.Equal(t, f.clock.Now().Add(30*time.Minute), *c2.ExpiresAt)
	c3 := recipientOf(got, "c3")
	assert.Equal(t, models.PendingRecipient, c3.Status)
	assert.Nil(t, c3.OfferedAt)
	assert.Equal(t, 1, offeredCount(got))

	res, err = f.tenders.Respond(ctx, tenantA, tender.ID, decline("c2"))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeOfferedToNext, res.Outcome)
	assert.Equal(t, "c3", res.NextRecipient.CarrierID)

	f.clock.Advance(31 * time.Minute)
	n, err := f.tenders.ProcessWaterfallTimeouts(ctx, tenantA)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err = f.tenders.GetTender(ctx, tenantA, tender.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExpiredTender, got.Status)
	c3 = recipientOf(got, "c3")
	assert.Equal(t, models.DeclinedRecipient, c3.Status)
	assert.Equal(t, models.TimeoutDeclineReason, c3.DeclineReason)
	assert.Zero(t, offeredCount(got))

	n, err = f.tenders.ProcessWaterfallTimeouts(ctx, tenantA)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWaterfallLastDeclineExpiresTender(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tender, err := f.tenders.CreateTender(ctx, tenantA, waterfallRequest("c1"))
	require.NoError(t, err)

	res, err := f.tenders.Respond(ctx, tenantA, tender.ID, decline("c1"))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeNoMoreCarriers, res.Outcome)
	assert.Equal(t, models.ExpiredTender, res.Tender.Status)

	_, err = f.tenders.Respond(ctx, tenantA, tender.ID, accept("c1"))
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestTenderAccept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tender, err := f.tenders.CreateTender(ctx, tenantA, waterfallRequest("c1", "c2", "c3"))
	require.NoError(t, err)
	_, err = f.tenders.Respond(ctx, tenantA, tender.ID, decline("c1"))
	require.NoError(t, err)

	_, err = f.tenders.Respond(ctx, tenantA, tender.ID, accept("c3"))
	assert.ErrorIs(t, err, models.ErrInvalidState)

	res, err := f.tenders.Respond(ctx, tenantA, tender.ID, accept("c2"))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAccepted, res.Outcome)
	require.Len(t, res.Tender.Recipients, 3)
	assert.Equal(t, models.AcceptedTender, res.Tender.Status)
	assert.Equal(t, models.AcceptedRecipient, recipientOf(res.Tender, "c2").Status)
	assert.Equal(t, models.SkippedRecipient, recipientOf(res.Tender, "c3").Status)

	got, err := f.tenders.GetTender(ctx, tenantA, tender.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AcceptedTender, got.Status)
	assert.Equal(t, "c2", got.AcceptedByCarrierID)
	require.NotNil(t, got.AcceptedAt)
	assert.Equal(t, models.AcceptedRecipient, recipientOf(got, "c2").Status)
	assert.Equal(t, models.SkippedRecipient, recipientOf(got, "c1").Status)
	assert.Equal(t, models.SkippedRecipient, recipientOf(got, "c3").Status)

	load, err := f.store.Loads().GetLoad(ctx, tenantA, "load-1")
	require.NoError(t, err)
	assert.Equal(t, "c2", load.CarrierID)
	assert.True(t, load.CarrierRate.Equal(amount("2000")))
	assert.Equal(t, models.TenderedLoad, load.Status)
}

func TestRespondRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tender, err := f.tenders.CreateTender(ctx, tenantA, waterfallRequest("c1", "c2"))
	require.NoError(t, err)

	_, err = f.tenders.Respond(ctx, tenantA, tender.ID, accept("c3"))
	assert.ErrorIs(t, err, models.ErrInvalidState)
	_, err = f.tenders.Respond(ctx, tenantA, tender.ID, models.RespondRequest{CarrierID: "c1", Response: "MAYBE"})
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = f.tenders.Respond(ctx, tenantB, tender.ID, accept("c1"))
	assert.ErrorIs(t, err, models.ErrNotFound)

	got, err := f.tenders.GetTender(ctx, tenantA, tender.ID)
	require.NoError(t, err)
	assert.Equal(t, tender.Recipients, got.Recipients)
}

func TestBroadcastTender(t *testing.T) {
	ctx := context.Background()
	newBroadcast := func(t *testing.T, f *fixture) *models.Tender {
		req := waterfallRequest("c1", "c2", "c3")
		req.Type = models.Broadcast
		tender, err := f.tenders.CreateTender(ctx, tenantA, req)
		require.NoError(t, err)
		return tender
	}

	t.Run("decline does not cascade", func(t *testing.T) {
		f := newFixture(t)
		tender := newBroadcast(t, f)
		res, err := f.tenders.Respond(ctx, tenantA, tender.ID, decline("c1"))
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeDeclined, res.Outcome)
		assert.Nil(t, res.NextRecipient)

		got, err := f.tenders.GetTender(ctx, tenantA, tender.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ActiveTender, got.Status)
		assert.Equal(t, 2, offeredCount(got))
	})

	t.Run("concurrent accepts have one winner", func(t *testing.T) {
		f := newFixture(t)
		tender := newBroadcast(t, f)

		carriers := []string{"c1", "c2", "c3"}
		errs := make([]error, len(carriers))
		var wg sync.WaitGroup
		for i, c := range carriers {
			wg.Add(1)
			go func(i int, c string) {
				defer wg.Done()
				_, errs[i] = f.tenders.Respond(ctx, tenantA, tender.ID, accept(c))
			}(i, c)
		}
		wg.Wait()

		winners := 0
		for _, err := range errs {
			if err == nil {
				winners++
				continue
			}
			assert.ErrorIs(t, err, models.ErrInvalidState)
		}
		assert.Equal(t, 1, winners)

		got, err := f.tenders.GetTender(ctx, tenantA, tender.ID)
		require.NoError(t, err)
		accepted := 0
		for _, rc := range got.Recipients {
			if rc.Status == models.AcceptedRecipient {
				accepted++
				assert.Equal(t, got.AcceptedByCarrierID, rc.CarrierID)
			}
		}
		assert.Equal(t, 1, accepted)
	})
}

func TestCancelAndUpdateTender(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tender, err := f.tenders.CreateTender(ctx, tenantA, waterfallRequest("c1", "c2"))
	require.NoError(t, err)

	rate := amount("2500")
	updated, err := f.tenders.UpdateTender(ctx, tenantA, tender.ID, models.TenderPatch{Rate: &rate})
	require.NoError(t, err)
	assert.True(t, updated.Rate.Equal(rate))

	_, err = f.tenders.UpdateTender(ctx, tenantA, tender.ID, models.TenderPatch{})
	assert.ErrorIs(t, err, models.ErrValidation)

	cancelled, err := f.tenders.CancelTender(ctx, tenantA, tender.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CancelledTender, cancelled.Status)

	_, err = f.tenders.CancelTender(ctx, tenantA, tender.ID)
	assert.ErrorIs(t, err, models.ErrInvalidState)
	_, err = f.tenders.Respond(ctx, tenantA, tender.ID, accept("c1"))
	assert.ErrorIs(t, err, models.ErrInvalidState)

	notes := "priority lane"
	_, err = f.tenders.UpdateTender(ctx, tenantA, tender.ID, models.TenderPatch{Notes: &notes})
	assert.NoError(t, err)
}

func TestGetActiveForCarrier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tender, err := f.tenders.CreateTender(ctx, tenantA, waterfallRequest("c1", "c2"))
	require.NoError(t, err)

	active, err := f.tenders.GetActiveForCarrier(ctx, tenantA, "c1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, tender.ID, active[0].ID)

	active, err = f.tenders.GetActiveForCarrier(ctx, tenantA, "c2")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestTimeoutSkipsOffersThatAreStillOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tender, err := f.tenders.CreateTender(ctx, tenantA, waterfallRequest("c1", "c2"))
	require.NoError(t, err)

	f.clock.Advance(29 * time.Minute)
	n, err := f.tenders.ProcessWaterfallTimeouts(ctx, tenantA)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(time.Minute)
	n, err = f.tenders.ProcessWaterfallTimeouts(ctx, tenantA)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.tenders.GetTender(ctx, tenantA, tender.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OfferedRecipient, recipientOf(got, "c2").Status)
	assert.Equal(t, 2, got.CurrentPosition)
}

func TestExpireOldTenders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	expires := f.clock.Now().Add(time.Hour)
	req := waterfallRequest("c1")
	req.ExpiresAt = &expires
	tender, err := f.tenders.CreateTender(ctx, tenantA, req)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	n, err := f.tenders.ExpireOldTenders(ctx, tenantA)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := f.tenders.GetTender(ctx, tenantA, tender.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExpiredTender, got.Status)

	n, err = f.tenders.ExpireOldTenders(ctx, tenantA)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// flakyStore роняет заданное число транзакций, остальные выполняет memory.Store.
type flakyStore struct {
	*memory.Store

	mu       sync.Mutex
	failures int
}

func (s *flakyStore) failNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
}

func (s *flakyStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return errors.New("connection reset")
	}
	s.mu.Unlock()
	return s.Store.WithinTransaction(ctx, fn)
}

func TestTimeoutFailureDoesNotStopBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	store := &flakyStore{Store: f.store}
	tenders := NewTenderService(Deps{Store: store, Now: f.clock.Now}, 0, 0)

	first, err := tenders.CreateTender(ctx, tenantA, waterfallRequest("c1", "c2"))
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	second, err := tenders.CreateTender(ctx, tenantA, waterfallRequest("c1", "c2"))
	require.NoError(t, err)

	f.clock.Advance(31 * time.Minute)
	store.failNext(1)
	n, err := tenders.ProcessWaterfallTimeouts(ctx, tenantA)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := tenders.GetTender(ctx, tenantA, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentPosition)
	assert.Equal(t, models.OfferedRecipient, recipientOf(got, "c1").Status)

	got, err = tenders.GetTender(ctx, tenantA, second.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentPosition)
	assert.Equal(t, models.DeclinedRecipient, recipientOf(got, "c1").Status)
	assert.Equal(t, models.TimeoutDeclineReason, recipientOf(got, "c1").DeclineReason)
	assert.Equal(t, models.OfferedRecipient, recipientOf(got, "c2").Status)

	// следующий прогон подбирает пропущенный тендер
	n, err = tenders.ProcessWaterfallTimeouts(ctx, tenantA)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAcceptRacesTimeout(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newFixture(t)
		ctx := context.Background()

		tender, err := f.tenders.CreateTender(ctx, tenantA, waterfallRequest("c1", "c2"))
		require.NoError(t, err)
		f.clock.Advance(31 * time.Minute)

		var (
			wg         sync.WaitGroup
			acceptErr  error
			processed  int
			processErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, acceptErr = f.tenders.Respond(ctx, tenantA, tender.ID, accept("c1"))
		}()
		go func() {
			defer wg.Done()
			processed, processErr = f.tenders.ProcessWaterfallTimeouts(ctx, tenantA)
		}()
		wg.Wait()
		require.NoError(t, processErr)

		got, err := f.tenders.GetTender(ctx, tenantA, tender.ID)
		require.NoError(t, err)
		load, err := f.store.Loads().GetLoad(ctx, tenantA, "load-1")
		require.NoError(t, err)

		if acceptErr == nil {
			assert.Zero(t, processed)
			assert.Equal(t, models.AcceptedTender, got.Status)
			assert.Equal(t, models.AcceptedRecipient, recipientOf(got, "c1").Status)
			assert.Equal(t, models.SkippedRecipient, recipientOf(got, "c2").Status)
			assert.Equal(t, "c1", load.CarrierID)
			assert.Equal(t, models.TenderedLoad, load.Status)
			continue
		}
		assert.ErrorIs(t, acceptErr, models.ErrInvalidState)
		assert.Equal(t, 1, processed)
		assert.Equal(t, models.ActiveTender, got.Status)
		assert.Equal(t, models.DeclinedRecipient, recipientOf(got, "c1").Status)
		assert.Equal(t, models.OfferedRecipient, recipientOf(got, "c2").Status)
		assert.Empty(t, load.CarrierID)
		assert.Equal(t, models.AvailableLoad, load.Status)
	}
}
