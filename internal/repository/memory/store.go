// Package memory реализует repository.Store в памяти процесса.
// Транзакции сериализуются одним мьютексом и пишут в копию состояния,
// которая подменяет зафиксированное состояние только при успехе.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/senyabanana/load-marketplace/internal/models"
	"github.com/senyabanana/load-marketplace/internal/repository"

	"github.com/shopspring/decimal"
)

type state struct {
	carriers   map[string]models.Carrier
	loads      map[string]models.Load
	postings   map[string]models.Posting
	bids       map[string]models.Bid
	tenders    map[string]models.Tender
	recipients map[string]models.TenderRecipient
	deleted    map[string]struct{}
}

func newState() *state {
	return &state{
		carriers:   map[string]models.Carrier{},
		loads:      map[string]models.Load{},
		postings:   map[string]models.Posting{},
		bids:       map[string]models.Bid{},
		tenders:    map[string]models.Tender{},
		recipients: map[string]models.TenderRecipient{},
		deleted:    map[string]struct{}{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.carriers {
		c.carriers[k] = v
	}
	for k, v := range s.loads {
		c.loads[k] = v
	}
	for k, v := range s.postings {
		c.postings[k] = v
	}
	for k, v := range s.bids {
		c.bids[k] = v
	}
	for k, v := range s.tenders {
		c.tenders[k] = v
	}
	for k, v := range s.recipients {
		c.recipients[k] = v
	}
	for k := range s.deleted {
		c.deleted[k] = struct{}{}
	}
	return c
}

func (s *state) visible(id, tenantID, entityTenant string) bool {
	if _, gone := s.deleted[id]; gone {
		return false
	}
	return tenantID == entityTenant
}

var _ repository.Store = (*Store)(nil)

// Store - хранилище в памяти.
type Store struct {
	mu sync.Mutex
	st *state
}

// NewStore создает пустое хранилище.
func NewStore() *Store {
	return &Store{st: newState()}
}

// AddCarrier добавляет перевозчика в справочник.
func (s *Store) AddCarrier(c models.Carrier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.carriers[c.ID] = c
}

// AddLoad добавляет груз.
func (s *Store) AddLoad(l models.Load) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.loads[l.ID] = l
}

// AddPosting добавляет публикацию.
func (s *Store) AddPosting(p models.Posting) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.postings[p.ID] = p
}

// SoftDelete помечает сущность удалённой. Все запросы её больше не видят.
func (s *Store) SoftDelete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.deleted[id] = struct{}{}
}

func (s *Store) view() repos {
	return repos{store: s}
}

func (s *Store) Bids() repository.BidRepository         { return s.view() }
func (s *Store) Tenders() repository.TenderRepository   { return s.view() }
func (s *Store) Postings() repository.PostingRepository { return s.view() }
func (s *Store) Carriers() repository.CarrierRepository { return s.view() }
func (s *Store) Loads() repository.LoadRepository       { return s.view() }

// WithinTransaction выполняет fn над копией состояния и фиксирует её при успехе.
func (s *Store) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.st.clone()
	if err := fn(ctx, txRepos{repos{tx: work}}); err != nil {
		return err
	}
	s.st = work
	return nil
}

// ActiveTenantIDs возвращает тенантов с открытыми предложениями или активными тендерами.
func (s *Store) ActiveTenantIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := map[string]struct{}{}
	for id, b := range s.st.bids {
		if _, gone := s.st.deleted[id]; !gone && b.Status.IsOpen() {
			set[b.TenantID] = struct{}{}
		}
	}
	for id, t := range s.st.tenders {
		if _, gone := s.st.deleted[id]; !gone && t.Status == models.ActiveTender {
			set[t.TenantID] = struct{}{}
		}
	}
	tenants := make([]string, 0, len(set))
	for id := range set {
		tenants = append(tenants, id)
	}
	sort.Strings(tenants)
	return tenants, nil
}

// repos работает либо с состоянием транзакции (tx != nil), либо с зафиксированным состоянием под мьютексом.
type repos struct {
	store *Store
	tx    *state
}

type txRepos struct{ r repos }

func (t txRepos) Bids() repository.BidRepository         { return t.r }
func (t txRepos) Tenders() repository.TenderRepository   { return t.r }
func (t txRepos) Postings() repository.PostingRepository { return t.r }
func (t txRepos) Carriers() repository.CarrierRepository { return t.r }
func (t txRepos) Loads() repository.LoadRepository       { return t.r }

func (r repos) with(fn func(st *state)) {
	if r.tx != nil {
		fn(r.tx)
		return
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	fn(r.store.st)
}

// --- bids

func (r repos) CreateBid(_ context.Context, bid *models.Bid) error {
	var err error
	r.with(func(st *state) {
		for id, b := range st.bids {
			if _, gone := st.deleted[id]; gone {
				continue
			}
			if b.PostingID == bid.PostingID && b.CarrierID == bid.CarrierID && b.Status.IsOpen() {
				err = models.Conflict("carrier %s already has an active bid on posting %s", bid.CarrierID, bid.PostingID)
				return
			}
		}
		st.bids[bid.ID] = *bid
	})
	return err
}

func (r repos) GetBid(_ context.Context, tenantID, bidID string) (*models.Bid, error) {
	var (
		bid models.Bid
		ok  bool
	)
	r.with(func(st *state) {
		bid, ok = st.bids[bidID]
		ok = ok && st.visible(bidID, tenantID, bid.TenantID)
	})
	if !ok {
		return nil, models.NotFound("bid %s not found", bidID)
	}
	return &bid, nil
}

func (r repos) ListPostingBids(_ context.Context, tenantID, postingID string, limit, offset int) ([]models.Bid, error) {
	var bids []models.Bid
	r.with(func(st *state) {
		for id, b := range st.bids {
			if b.PostingID == postingID && st.visible(id, tenantID, b.TenantID) {
				bids = append(bids, b)
			}
		}
	})
	sort.Slice(bids, func(i, j int) bool { return bids[i].SubmittedAt.Before(bids[j].SubmittedAt) })
	return page(bids, limit, offset), nil
}

func (r repos) HasOpenBid(_ context.Context, tenantID, postingID, carrierID string) (bool, error) {
	var exists bool
	r.with(func(st *state) {
		for id, b := range st.bids {
			if b.PostingID == postingID && b.CarrierID == carrierID && b.Status.IsOpen() && st.visible(id, tenantID, b.TenantID) {
				exists = true
				return
			}
		}
	})
	return exists, nil
}

func (r repos) UpdateBid(_ context.Context, bid *models.Bid, from []models.BidStatus) error {
	var err error
	r.with(func(st *state) {
		current, ok := st.bids[bid.ID]
		if !ok || !st.visible(bid.ID, bid.TenantID, current.TenantID) || !models.Contains(from, current.Status) {
			err = repository.ErrStaleStatus
			return
		}
		st.bids[bid.ID] = *bid
	})
	return err
}

func (r repos) RejectOpenSiblings(_ context.Context, tenantID, postingID, exceptBidID, reason string, at time.Time) (int64, error) {
	var n int64
	r.with(func(st *state) {
		for id, b := range st.bids {
			if id == exceptBidID || b.PostingID != postingID || !b.Status.IsOpen() || !st.visible(id, tenantID, b.TenantID) {
				continue
			}
			b.Status = models.RejectedBid
			b.RejectedAt = &at
			b.RejectionReason = reason
			st.bids[id] = b
			n++
		}
	})
	return n, nil
}

func (r repos) ExpireBids(_ context.Context, tenantID string, now time.Time) (int64, error) {
	var n int64
	r.with(func(st *state) {
		for id, b := range st.bids {
			if !b.Status.IsOpen() || b.ExpiresAt.After(now) || !st.visible(id, tenantID, b.TenantID) {
				continue
			}
			b.Status = models.ExpiredBid
			st.bids[id] = b
			n++
		}
	})
	return n, nil
}

// --- tenders

func (r repos) CreateTender(_ context.Context, tender *models.Tender) error {
	r.with(func(st *state) {
		t := *tender
		t.Recipients = nil
		st.tenders[t.ID] = t
		for _, rc := range tender.Recipients {
			st.recipients[rc.ID] = rc
		}
	})
	return nil
}

func (r repos) GetTender(_ context.Context, tenantID, tenderID string) (*models.Tender, error) {
	var (
		t  models.Tender
		ok bool
	)
	r.with(func(st *state) {
		t, ok = st.tenders[tenderID]
		if ok = ok && st.visible(tenderID, tenantID, t.TenantID); ok {
			t.Recipients = recipientsOf(st, tenderID)
		}
	})
	if !ok {
		return nil, models.NotFound("tender %s not found", tenderID)
	}
	return &t, nil
}

func (r repos) UpdateTender(_ context.Context, tender *models.Tender, from []models.TenderStatus) error {
	var err error
	r.with(func(st *state) {
		current, ok := st.tenders[tender.ID]
		if !ok || !st.visible(tender.ID, tender.TenantID, current.TenantID) || !models.Contains(from, current.Status) {
			err = repository.ErrStaleStatus
			return
		}
		t := *tender
		t.Recipients = nil
		st.tenders[t.ID] = t
	})
	return err
}

func (r repos) UpdateRecipient(_ context.Context, rc *models.TenderRecipient, from []models.RecipientStatus) error {
	var err error
	r.with(func(st *state) {
		current, ok := st.recipients[rc.ID]
		if !ok || !models.Contains(from, current.Status) {
			err = repository.ErrStaleStatus
			return
		}
		st.recipients[rc.ID] = *rc
	})
	return err
}

func (r repos) SkipOtherRecipients(_ context.Context, tenderID, exceptRecipientID string) (int64, error) {
	var n int64
	r.with(func(st *state) {
		for id, rc := range st.recipients {
			if rc.TenderID != tenderID || id == exceptRecipientID || !rc.Status.CanTransitionTo(models.SkippedRecipient) {
				continue
			}
			rc.Status = models.SkippedRecipient
			st.recipients[id] = rc
			n++
		}
	})
	return n, nil
}

func (r repos) NextWaitingRecipient(_ context.Context, tenderID string, afterPosition int) (*models.TenderRecipient, error) {
	var next *models.TenderRecipient
	r.with(func(st *state) {
		for _, rc := range recipientsOf(st, tenderID) {
			if rc.Position > afterPosition && rc.Status != models.DeclinedRecipient && rc.Status != models.SkippedRecipient {
				rc := rc
				next = &rc
				return
			}
		}
	})
	if next == nil {
		return nil, models.NotFound("next recipient of tender %s not found", tenderID)
	}
	return next, nil
}

func (r repos) ListActiveForCarrier(_ context.Context, tenantID, carrierID string) ([]models.Tender, error) {
	var tenders []models.Tender
	r.with(func(st *state) {
		for id, t := range st.tenders {
			if t.Status != models.ActiveTender || !st.visible(id, tenantID, t.TenantID) {
				continue
			}
			recipients := recipientsOf(st, id)
			for _, rc := range recipients {
				if rc.CarrierID == carrierID && rc.Status == models.OfferedRecipient {
					t.Recipients = recipients
					tenders = append(tenders, t)
					break
				}
			}
		}
	})
	sort.Slice(tenders, func(i, j int) bool { return tenders[i].CreatedAt.Before(tenders[j].CreatedAt) })
	return tenders, nil
}

func (r repos) ListTimedOutOffers(_ context.Context, tenantID string, now time.Time) ([]models.TenderRecipient, error) {
	var out []models.TenderRecipient
	r.with(func(st *state) {
		for _, rc := range st.recipients {
			if rc.Status != models.OfferedRecipient || rc.ExpiresAt == nil || rc.ExpiresAt.After(now) {
				continue
			}
			t, ok := st.tenders[rc.TenderID]
			if !ok || !st.visible(t.ID, tenantID, t.TenantID) || t.Type != models.Waterfall || t.Status != models.ActiveTender {
				continue
			}
			out = append(out, rc)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	return out, nil
}

func (r repos) ExpireTenders(_ context.Context, tenantID string, now time.Time) (int64, error) {
	var n int64
	r.with(func(st *state) {
		for id, t := range st.tenders {
			if t.Status != models.ActiveTender || t.ExpiresAt.After(now) || !st.visible(id, tenantID, t.TenantID) {
				continue
			}
			t.Status = models.ExpiredTender
			st.tenders[id] = t
			n++
		}
	})
	return n, nil
}

// --- postings, carriers, loads

func (r repos) GetPosting(_ context.Context, tenantID, postingID string) (*models.Posting, error) {
	var (
		p  models.Posting
		ok bool
	)
	r.with(func(st *state) {
		p, ok = st.postings[postingID]
		ok = ok && st.visible(postingID, tenantID, p.TenantID)
	})
	if !ok {
		return nil, models.NotFound("posting %s not found", postingID)
	}
	return &p, nil
}

func (r repos) MarkBooked(_ context.Context, tenantID, postingID string, at time.Time) error {
	var err error
	r.with(func(st *state) {
		p, ok := st.postings[postingID]
		if !ok || !st.visible(postingID, tenantID, p.TenantID) || p.Status != models.ActivePosting {
			err = repository.ErrStaleStatus
			return
		}
		p.Status = models.BookedPosting
		p.BookedAt = &at
		st.postings[postingID] = p
	})
	return err
}

func (r repos) FindActiveCarrier(_ context.Context, tenantID, carrierID string) (*models.Carrier, error) {
	var (
		c  models.Carrier
		ok bool
	)
	r.with(func(st *state) {
		c, ok = st.carriers[carrierID]
		ok = ok && c.Active && st.visible(carrierID, tenantID, c.TenantID)
	})
	if !ok {
		return nil, models.NotFound("carrier %s not found", carrierID)
	}
	return &c, nil
}

func (r repos) FindActiveCarriers(_ context.Context, tenantID string, carrierIDs []string) ([]models.Carrier, error) {
	var out []models.Carrier
	r.with(func(st *state) {
		seen := map[string]struct{}{}
		for _, id := range carrierIDs {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			if c, ok := st.carriers[id]; ok && c.Active && st.visible(id, tenantID, c.TenantID) {
				out = append(out, c)
			}
		}
	})
	return out, nil
}

func (r repos) GetLoad(_ context.Context, tenantID, loadID string) (*models.Load, error) {
	var (
		l  models.Load
		ok bool
	)
	r.with(func(st *state) {
		l, ok = st.loads[loadID]
		ok = ok && st.visible(loadID, tenantID, l.TenantID)
	})
	if !ok {
		return nil, models.NotFound("load %s not found", loadID)
	}
	return &l, nil
}

func (r repos) AssignCarrier(_ context.Context, tenantID, loadID, carrierID string, rate decimal.Decimal, details models.AssignmentDetails, at time.Time) (*models.Load, error) {
	var (
		l  models.Load
		ok bool
	)
	r.with(func(st *state) {
		l, ok = st.loads[loadID]
		if ok = ok && st.visible(loadID, tenantID, l.TenantID); ok {
			l = l.Assign(carrierID, rate, details, at)
			st.loads[loadID] = l
		}
	})
	if !ok {
		return nil, models.NotFound("load %s not found", loadID)
	}
	return &l, nil
}

func recipientsOf(st *state, tenderID string) []models.TenderRecipient {
	var out []models.TenderRecipient
	for _, rc := range st.recipients {
		if rc.TenderID == tenderID {
			out = append(out, rc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
