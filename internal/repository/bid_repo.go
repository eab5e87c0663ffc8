package repository

import (
	"context"
	"time"

	"github.com/senyabanana/load-marketplace/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"
)

const bidColumns = `id, tenant_id, posting_id, load_id, carrier_id, amount, rate_type, notes,
	counter_amount, counter_notes, status, truck_number, trailer_number, driver_name, driver_phone,
	submitted_at, expires_at, accepted_at, rejected_at, withdrawn_at, rejection_reason`

// PostgresBidRepository - реализация BidRepository для базы данных.
type PostgresBidRepository struct {
	DB      Querier
	locking bool
}

// CreateBid создает новое предложение.
func (r *PostgresBidRepository) CreateBid(ctx context.Context, bid *models.Bid) error {
	insertQuery := `INSERT INTO bid (` + bidColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`
	_, err := r.DB.Exec(ctx, insertQuery, bidArgs(bid)...)
	if isUniqueViolation(err) {
		return models.Conflict("carrier %s already has an active bid on posting %s", bid.CarrierID, bid.PostingID)
	}
	return err
}

// GetBid возвращает предложение тенанта.
func (r *PostgresBidRepository) GetBid(ctx context.Context, tenantID, bidID string) (*models.Bid, error) {
	query := forUpdate(`SELECT `+bidColumns+` FROM bid
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, r.locking)
	bid, err := scanBid(r.DB.QueryRow(ctx, query, bidID, tenantID))
	if err != nil {
		return nil, wrapNotFound(err, "bid", bidID)
	}
	return bid, nil
}

// ListPostingBids возвращает список предложений по публикации.
func (r *PostgresBidRepository) ListPostingBids(ctx context.Context, tenantID, postingID string, limit, offset int) ([]models.Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bid
		WHERE posting_id = $1 AND tenant_id = $2 AND deleted_at IS NULL
		ORDER BY submitted_at
		LIMIT $3 OFFSET $4`
	rows, err := r.DB.Query(ctx, query, postingID, tenantID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bids []models.Bid
	for rows.Next() {
		bid, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		bids = append(bids, *bid)
	}
	return bids, rows.Err()
}

// HasOpenBid проверяет, есть ли у перевозчика открытое предложение по публикации.
func (r *PostgresBidRepository) HasOpenBid(ctx context.Context, tenantID, postingID, carrierID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(
		SELECT 1 FROM bid
		WHERE tenant_id = $1 AND posting_id = $2 AND carrier_id = $3
		AND status = ANY($4) AND deleted_at IS NULL)`
	err := r.DB.QueryRow(ctx, query, tenantID, postingID, carrierID, statusArray(models.OpenBidStatuses)).Scan(&exists)
	return exists, err
}

// UpdateBid сохраняет предложение при условии, что статус в базе входит в from.
func (r *PostgresBidRepository) UpdateBid(ctx context.Context, bid *models.Bid, from []models.BidStatus) error {
	updateQuery := `UPDATE bid SET
			amount = $3, rate_type = $4, notes = $5, counter_amount = $6, counter_notes = $7, status = $8,
			truck_number = $9, trailer_number = $10, driver_name = $11, driver_phone = $12,
			expires_at = $13, accepted_at = $14, rejected_at = $15, withdrawn_at = $16, rejection_reason = $17
		WHERE id = $1 AND tenant_id = $2 AND status = ANY($18) AND deleted_at IS NULL`
	tag, err := r.DB.Exec(ctx, updateQuery,
		bid.ID,
		bid.TenantID,
		bid.Amount,
		bid.RateType,
		bid.Notes,
		bid.CounterAmount,
		bid.CounterNotes,
		bid.Status,
		bid.Details.TruckNumber,
		bid.Details.TrailerNumber,
		bid.Details.DriverName,
		bid.Details.DriverPhone,
		bid.ExpiresAt,
		bid.AcceptedAt,
		bid.RejectedAt,
		bid.WithdrawnAt,
		bid.RejectionReason,
		statusArray(from))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}

// RejectOpenSiblings отклоняет все остальные открытые предложения по публикации.
func (r *PostgresBidRepository) RejectOpenSiblings(ctx context.Context, tenantID, postingID, exceptBidID, reason string, at time.Time) (int64, error) {
	updateQuery := `UPDATE bid SET status = $1, rejected_at = $2, rejection_reason = $3
		WHERE tenant_id = $4 AND posting_id = $5 AND id <> $6 AND status = ANY($7) AND deleted_at IS NULL`
	tag, err := r.DB.Exec(ctx, updateQuery,
		models.RejectedBid, at, reason, tenantID, postingID, exceptBidID, statusArray(models.OpenBidStatuses))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ExpireBids переводит просроченные открытые предложения в EXPIRED.
func (r *PostgresBidRepository) ExpireBids(ctx context.Context, tenantID string, now time.Time) (int64, error) {
	updateQuery := `UPDATE bid SET status = $1
		WHERE tenant_id = $2 AND status = ANY($3) AND expires_at <= $4 AND deleted_at IS NULL`
	tag, err := r.DB.Exec(ctx, updateQuery, models.ExpiredBid, tenantID, statusArray(models.OpenBidStatuses), now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func bidArgs(bid *models.Bid) []any {
	return []any{
		bid.ID,
		bid.TenantID,
		bid.PostingID,
		bid.LoadID,
		bid.CarrierID,
		bid.Amount,
		bid.RateType,
		bid.Notes,
		bid.CounterAmount,
		bid.CounterNotes,
		bid.Status,
		bid.Details.TruckNumber,
		bid.Details.TrailerNumber,
		bid.Details.DriverName,
		bid.Details.DriverPhone,
		bid.SubmittedAt,
		bid.ExpiresAt,
		bid.AcceptedAt,
		bid.RejectedAt,
		bid.WithdrawnAt,
		bid.RejectionReason,
	}
}

func scanBid(row pgx.Row) (*models.Bid, error) {
	var bid models.Bid
	err := row.Scan(
		&bid.ID,
		&bid.TenantID,
		&bid.PostingID,
		&bid.LoadID,
		&bid.CarrierID,
		&bid.Amount,
		&bid.RateType,
		&bid.Notes,
		&bid.CounterAmount,
		&bid.CounterNotes,
		&bid.Status,
		&bid.Details.TruckNumber,
		&bid.Details.TrailerNumber,
		&bid.Details.DriverName,
		&bid.Details.DriverPhone,
		&bid.SubmittedAt,
		&bid.ExpiresAt,
		&bid.AcceptedAt,
		&bid.RejectedAt,
		&bid.WithdrawnAt,
		&bid.RejectionReason)
	if err != nil {
		return nil, err
	}
	return &bid, nil
}

// statusArray упаковывает набор статусов для `= ANY($n)`.
func statusArray[S ~string](statuses []S) any {
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}
	return pq.Array(values)
}
