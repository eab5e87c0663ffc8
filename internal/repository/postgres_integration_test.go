//go:build integration

package repository_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/senyabanana/load-marketplace/internal/db"
	"github.com/senyabanana/load-marketplace/internal/models"
	"github.com/senyabanana/load-marketplace/internal/repository"
	"github.com/senyabanana/load-marketplace/internal/router/config"
	"github.com/senyabanana/load-marketplace/internal/services"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const tenant = "tenant-it"

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if os.Getenv("DOCKER_AVAILABLE") != "true" && os.Getenv("DOCKER_AVAILABLE") != "1" {
		t.Skip("docker not available")
	}
	ctx := context.Background()

	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "marketplace",
				"POSTGRES_PASSWORD": "marketplace",
				"POSTGRES_DB":       "marketplace",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	conn := fmt.Sprintf("postgres://marketplace:marketplace@%s:%s/marketplace?sslmode=disable", host, port.Port())
	require.NoError(t, db.MigrateUp("file://../../migrations", conn))

	pool, err := db.InitDb(ctx, config.Config{PostgresConn: conn})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	seed(t, pool)
	return pool
}

func seed(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()
	stmts := []string{
		`INSERT INTO carrier (id, tenant_id, name) VALUES ('c1', 'tenant-it', 'One'), ('c2', 'tenant-it', 'Two'), ('c3', 'tenant-it', 'Three')`,
		`INSERT INTO carrier (id, tenant_id, name, active) VALUES ('off', 'tenant-it', 'Retired', false)`,
		`INSERT INTO load (id, tenant_id, reference) VALUES ('load-1', 'tenant-it', 'L-1'), ('load-2', 'tenant-it', 'L-2')`,
		`INSERT INTO posting (id, tenant_id, load_id) VALUES ('posting-1', 'tenant-it', 'load-1')`,
	}
	for _, stmt := range stmts {
		_, err := pool.Exec(ctx, stmt)
		require.NoError(t, err)
	}
}

func TestPostgresBidAcceptance(t *testing.T) {
	pool := startPostgres(t)
	store := repository.NewPostgresStore(pool, 5)
	bids := services.NewBidService(services.Deps{Store: store}, 0)
	ctx := context.Background()

	b1, err := bids.CreateBid(ctx, tenant, models.BidRequest{
		PostingID: "posting-1", CarrierID: "c1", Amount: decimal.NewFromInt(1000),
		Details: models.AssignmentDetails{TruckNumber: "T-1"},
	})
	require.NoError(t, err)
	b2, err := bids.CreateBid(ctx, tenant, models.BidRequest{PostingID: "posting-1", CarrierID: "c2", Amount: decimal.NewFromInt(1200)})
	require.NoError(t, err)

	_, err = bids.CreateBid(ctx, tenant, models.BidRequest{PostingID: "posting-1", CarrierID: "c2", Amount: decimal.NewFromInt(1100)})
	assert.ErrorIs(t, err, models.ErrConflict)
	_, err = bids.CreateBid(ctx, tenant, models.BidRequest{PostingID: "posting-1", CarrierID: "off", Amount: decimal.NewFromInt(1100)})
	assert.ErrorIs(t, err, models.ErrNotFound)

	const workers = 4
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = bids.AcceptBid(ctx, tenant, b1.ID)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, models.ErrInvalidState.Is(err) || models.ErrTransaction.Is(err), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)

	sibling, err := bids.GetBid(ctx, tenant, b2.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RejectedBid, sibling.Status)
	assert.Equal(t, models.SupersededReason, sibling.RejectionReason)

	posting, err := store.Postings().GetPosting(ctx, tenant, "posting-1")
	require.NoError(t, err)
	assert.Equal(t, models.BookedPosting, posting.Status)

	load, err := store.Loads().GetLoad(ctx, tenant, "load-1")
	require.NoError(t, err)
	assert.Equal(t, "c1", load.CarrierID)
	assert.True(t, load.CarrierRate.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, models.TenderedLoad, load.Status)
	assert.Equal(t, "T-1", load.TruckNumber)

	_, err = bids.GetBid(ctx, "other-tenant", b1.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestPostgresWaterfallAndSweep(t *testing.T) {
	pool := startPostgres(t)
	store := repository.NewPostgresStore(pool, 5)

	now := time.Now().UTC()
	clock := func() time.Time { return now }
	deps := services.Deps{Store: store, Now: clock}
	bids := services.NewBidService(deps, 0)
	tenders := services.NewTenderService(deps, 0, 0)
	sweeper := services.NewSweeper(bids, tenders, store, time.Minute, nil, nil)
	ctx := context.Background()

	tender, err := tenders.CreateTender(ctx, tenant, models.TenderRequest{
		LoadID:                  "load-2",
		Type:                    models.Waterfall,
		Rate:                    decimal.NewFromInt(1500),
		WaterfallTimeoutMinutes: 30,
		Recipients: []models.RecipientRequest{
			{CarrierID: "c1", Position: 1},
			{CarrierID: "c2", Position: 2},
			{CarrierID: "c3", Position: 3},
		},
	})
	require.NoError(t, err)

	res, err := tenders.Respond(ctx, tenant, tender.ID, models.RespondRequest{CarrierID: "c1", Response: models.DeclineResponse})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeOfferedToNext, res.Outcome)
	assert.Equal(t, "c2", res.NextRecipient.CarrierID)

	tenantIDs, err := store.ActiveTenantIDs(ctx)
	require.NoError(t, err)
	assert.Contains(t, tenantIDs, tenant)

	now = now.Add(31 * time.Minute)
	report, err := sweeper.SweepTenant(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, 1, report.TimedOutOffers)

	got, err := tenders.GetTender(ctx, tenant, tender.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.CurrentPosition)
	offered := 0
	for _, rc := range got.Recipients {
		if rc.Status == models.OfferedRecipient {
			offered++
			assert.Equal(t, "c3", rc.CarrierID)
		}
	}
	assert.Equal(t, 1, offered)

	res, err = tenders.Respond(ctx, tenant, tender.ID, models.RespondRequest{CarrierID: "c3", Response: models.AcceptResponse})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAccepted, res.Outcome)

	active, err := tenders.GetActiveForCarrier(ctx, tenant, "c3")
	require.NoError(t, err)
	assert.Empty(t, active)

	load, err := store.Loads().GetLoad(ctx, tenant, "load-2")
	require.NoError(t, err)
	assert.Equal(t, "c3", load.CarrierID)
}
