package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/senyabanana/load-marketplace/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Коды ошибок PostgreSQL, которые мы разбираем явно.
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// Querier - общее подмножество методов пула и транзакции pgx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgRepos - репозитории поверх одного Querier.
type pgRepos struct {
	bids     *PostgresBidRepository
	tenders  *PostgresTenderRepository
	postings *PostgresPostingRepository
	carriers *PostgresCarrierRepository
	loads    *PostgresLoadRepository
}

func newPgRepos(db Querier, locking bool) pgRepos {
	return pgRepos{
		bids:     &PostgresBidRepository{DB: db, locking: locking},
		tenders:  &PostgresTenderRepository{DB: db, locking: locking},
		postings: &PostgresPostingRepository{DB: db, locking: locking},
		carriers: &PostgresCarrierRepository{DB: db},
		loads:    &PostgresLoadRepository{DB: db, locking: locking},
	}
}

func (r pgRepos) Bids() BidRepository         { return r.bids }
func (r pgRepos) Tenders() TenderRepository   { return r.tenders }
func (r pgRepos) Postings() PostingRepository { return r.postings }
func (r pgRepos) Carriers() CarrierRepository { return r.carriers }
func (r pgRepos) Loads() LoadRepository       { return r.loads }

var _ Store = (*PostgresStore)(nil)

// PostgresStore - реализация Store для базы данных.
type PostgresStore struct {
	pgRepos
	DB         *pgxpool.Pool
	MaxRetries int
}

// NewPostgresStore создает новый экземпляр PostgresStore.
func NewPostgresStore(db *pgxpool.Pool, maxRetries int) *PostgresStore {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &PostgresStore{
		pgRepos:    newPgRepos(db, false),
		DB:         db,
		MaxRetries: maxRetries,
	}
}

// WithinTransaction выполняет fn в сериализуемой транзакции.
// При конфликте сериализации fn выполняется заново целиком: повтор перечитывает
// состояние и поэтому либо проходит, либо честно возвращает invalid-state.
func (s *PostgresStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	var err error
	for attempt := 0; attempt <= s.MaxRetries; attempt++ {
		err = s.runTx(ctx, fn)
		if !isRetryable(err) {
			return err
		}
		if ctx.Err() != nil {
			break
		}
	}
	return models.TransactionFailed(err)
}

func (s *PostgresStore) runTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(ctx, newPgRepos(tx, true)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ActiveTenantIDs возвращает тенантов с открытыми предложениями или активными тендерами.
func (s *PostgresStore) ActiveTenantIDs(ctx context.Context) ([]string, error) {
	query := `
		SELECT tenant_id FROM bid WHERE status = ANY($1) AND deleted_at IS NULL
		UNION
		SELECT tenant_id FROM tender WHERE status = $2 AND deleted_at IS NULL
		ORDER BY tenant_id`
	rows, err := s.DB.Query(ctx, query, statusArray(models.OpenBidStatuses), models.ActiveTender)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		tenants = append(tenants, id)
	}
	return tenants, rows.Err()
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// wrapNotFound превращает pgx.ErrNoRows в models.ErrNotFound.
func wrapNotFound(err error, entity, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return models.NotFound("%s %s not found", entity, id)
	}
	return err
}

// forUpdate добавляет блокировку строк внутри транзакции.
func forUpdate(query string, locking bool) string {
	if locking {
		return query + " FOR UPDATE"
	}
	return query
}
