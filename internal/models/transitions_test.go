package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPostingTransitions(t *testing.T) {
	assert.True(t, ActivePosting.CanTransitionTo(BookedPosting))
	assert.True(t, ActivePosting.CanTransitionTo(ExpiredPosting))
	assert.False(t, BookedPosting.CanTransitionTo(BookedPosting))
	assert.False(t, ExpiredPosting.CanTransitionTo(BookedPosting))
	assert.False(t, PostingStatus("UNKNOWN").CanTransitionTo(BookedPosting))
}

func TestBidTransitionTable(t *testing.T) {
	for _, s := range OpenBidStatuses {
		assert.True(t, s.CanTransitionTo(AcceptedBid), s)
		assert.True(t, s.CanTransitionTo(WithdrawnBid), s)
		assert.True(t, s.IsOpen(), s)
	}
	assert.False(t, CounteredBid.CanTransitionTo(CounteredBid))
	for _, s := range []BidStatus{AcceptedBid, RejectedBid, WithdrawnBid, ExpiredBid} {
		assert.False(t, s.IsOpen(), s)
		for _, next := range []BidStatus{PendingBid, CounteredBid, AcceptedBid, RejectedBid, WithdrawnBid, ExpiredBid} {
			assert.False(t, s.CanTransitionTo(next), "%s -> %s", s, next)
		}
	}
}

func TestTenderTransitionTable(t *testing.T) {
	for _, next := range []TenderStatus{AcceptedTender, ExpiredTender, CancelledTender} {
		assert.True(t, ActiveTender.CanTransitionTo(next))
		assert.False(t, next.CanTransitionTo(ActiveTender))
	}
	assert.False(t, AcceptedTender.CanTransitionTo(CancelledTender))
}

func TestRecipientStatusesFrom(t *testing.T) {
	assert.ElementsMatch(t, []RecipientStatus{OfferedRecipient}, RecipientStatusesFrom(DeclinedRecipient))
	assert.ElementsMatch(t, []RecipientStatus{PendingRecipient}, RecipientStatusesFrom(OfferedRecipient))
	assert.ElementsMatch(t, []RecipientStatus{PendingRecipient, OfferedRecipient, DeclinedRecipient}, RecipientStatusesFrom(SkippedRecipient))
	assert.Empty(t, RecipientStatusesFrom(PendingRecipient))
}
