package repository

import (
	"context"
	"time"

	"github.com/senyabanana/load-marketplace/internal/models"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// PostgresPostingRepository - реализация PostingRepository для базы данных.
type PostgresPostingRepository struct {
	DB      Querier
	locking bool
}

// GetPosting возвращает публикацию тенанта.
func (r *PostgresPostingRepository) GetPosting(ctx context.Context, tenantID, postingID string) (*models.Posting, error) {
	var p models.Posting
	query := forUpdate(`SELECT id, tenant_id, load_id, status, booked_at, created_at
		FROM posting WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, r.locking)
	err := r.DB.QueryRow(ctx, query, postingID, tenantID).Scan(
		&p.ID,
		&p.TenantID,
		&p.LoadID,
		&p.Status,
		&p.BookedAt,
		&p.CreatedAt)
	if err != nil {
		return nil, wrapNotFound(err, "posting", postingID)
	}
	return &p, nil
}

// MarkBooked закрывает активную публикацию.
func (r *PostgresPostingRepository) MarkBooked(ctx context.Context, tenantID, postingID string, at time.Time) error {
	tag, err := r.DB.Exec(ctx, `
		UPDATE posting SET status = $1, booked_at = $2
		WHERE id = $3 AND tenant_id = $4 AND status = $5 AND deleted_at IS NULL`,
		models.BookedPosting, at, postingID, tenantID, models.ActivePosting)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}

// PostgresCarrierRepository - реализация CarrierRepository для базы данных.
type PostgresCarrierRepository struct {
	DB Querier
}

// FindActiveCarrier возвращает активного перевозчика тенанта.
func (r *PostgresCarrierRepository) FindActiveCarrier(ctx context.Context, tenantID, carrierID string) (*models.Carrier, error) {
	var c models.Carrier
	query := `SELECT id, tenant_id, name, active FROM carrier
		WHERE id = $1 AND tenant_id = $2 AND active AND deleted_at IS NULL`
	err := r.DB.QueryRow(ctx, query, carrierID, tenantID).Scan(&c.ID, &c.TenantID, &c.Name, &c.Active)
	if err != nil {
		return nil, wrapNotFound(err, "carrier", carrierID)
	}
	return &c, nil
}

// FindActiveCarriers возвращает активных перевозчиков из списка одним запросом.
func (r *PostgresCarrierRepository) FindActiveCarriers(ctx context.Context, tenantID string, carrierIDs []string) ([]models.Carrier, error) {
	query := `SELECT id, tenant_id, name, active FROM carrier
		WHERE tenant_id = $1 AND id = ANY($2) AND active AND deleted_at IS NULL`
	rows, err := r.DB.Query(ctx, query, tenantID, pq.Array(carrierIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var carriers []models.Carrier
	for rows.Next() {
		var c models.Carrier
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Name, &c.Active); err != nil {
			return nil, err
		}
		carriers = append(carriers, c)
	}
	return carriers, rows.Err()
}

// PostgresLoadRepository - реализация LoadRepository для базы данных.
type PostgresLoadRepository struct {
	DB      Querier
	locking bool
}

const loadColumns = `id, tenant_id, reference, status, COALESCE(carrier_id, ''), carrier_rate,
	truck_number, trailer_number, driver_name, driver_phone, updated_at`

// GetLoad возвращает груз тенанта.
func (r *PostgresLoadRepository) GetLoad(ctx context.Context, tenantID, loadID string) (*models.Load, error) {
	query := forUpdate(`SELECT `+loadColumns+` FROM load
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, r.locking)
	var l models.Load
	err := r.DB.QueryRow(ctx, query, loadID, tenantID).Scan(
		&l.ID,
		&l.TenantID,
		&l.Reference,
		&l.Status,
		&l.CarrierID,
		&l.CarrierRate,
		&l.TruckNumber,
		&l.TrailerNumber,
		&l.DriverName,
		&l.DriverPhone,
		&l.UpdatedAt)
	if err != nil {
		return nil, wrapNotFound(err, "load", loadID)
	}
	return &l, nil
}

// AssignCarrier назначает перевозчика на груз.
func (r *PostgresLoadRepository) AssignCarrier(ctx context.Context, tenantID, loadID, carrierID string, rate decimal.Decimal, details models.AssignmentDetails, at time.Time) (*models.Load, error) {
	current, err := r.GetLoad(ctx, tenantID, loadID)
	if err != nil {
		return nil, err
	}
	l := current.Assign(carrierID, rate, details, at)

	_, err = r.DB.Exec(ctx, `
		UPDATE load SET status = $1, carrier_id = $2, carrier_rate = $3, truck_number = $4,
			trailer_number = $5, driver_name = $6, driver_phone = $7, updated_at = $8
		WHERE id = $9 AND tenant_id = $10 AND deleted_at IS NULL`,
		l.Status,
		l.CarrierID,
		l.CarrierRate,
		l.TruckNumber,
		l.TrailerNumber,
		l.DriverName,
		l.DriverPhone,
		l.UpdatedAt,
		l.ID,
		tenantID)
	if err != nil {
		return nil, err
	}
	return &l, nil
}
