package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/senyabanana/load-marketplace/internal/models"

	"github.com/jackc/pgx/v5"
)

const tenderColumns = `id, tenant_id, load_id, tender_type, tender_rate, waterfall_timeout_minutes,
	current_position, status, notes, expires_at, accepted_by_carrier_id, accepted_at, created_at`

const recipientColumns = `id, tender_id, carrier_id, position, status, offered_at, expires_at,
	responded_at, decline_reason`

// PostgresTenderRepository - реализация TenderRepository для базы данных.
type PostgresTenderRepository struct {
	DB      Querier
	locking bool
}

// CreateTender создает тендер вместе с получателями.
func (r *PostgresTenderRepository) CreateTender(ctx context.Context, tender *models.Tender) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO tender (`+tenderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		tender.ID,
		tender.TenantID,
		tender.LoadID,
		tender.Type,
		tender.Rate,
		tender.WaterfallTimeoutMinutes,
		tender.CurrentPosition,
		tender.Status,
		tender.Notes,
		tender.ExpiresAt,
		tender.AcceptedByCarrierID,
		tender.AcceptedAt,
		tender.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert tender: %w", err)
	}

	for _, rc := range tender.Recipients {
		_, err := r.DB.Exec(ctx, `
			INSERT INTO tender_recipient (`+recipientColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			rc.ID,
			rc.TenderID,
			rc.CarrierID,
			rc.Position,
			rc.Status,
			rc.OfferedAt,
			rc.ExpiresAt,
			rc.RespondedAt,
			rc.DeclineReason)
		if err != nil {
			return fmt.Errorf("failed to insert tender recipient: %w", err)
		}
	}
	return nil
}

// GetTender возвращает тендер тенанта с получателями, упорядоченными по позиции.
func (r *PostgresTenderRepository) GetTender(ctx context.Context, tenantID, tenderID string) (*models.Tender, error) {
	query := forUpdate(`SELECT `+tenderColumns+` FROM tender
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, r.locking)
	tender, err := scanTender(r.DB.QueryRow(ctx, query, tenderID, tenantID))
	if err != nil {
		return nil, wrapNotFound(err, "tender", tenderID)
	}

	recipientsQuery := forUpdate(`SELECT `+recipientColumns+` FROM tender_recipient
		WHERE tender_id = $1 ORDER BY position`, r.locking)
	rows, err := r.DB.Query(ctx, recipientsQuery, tenderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		rc, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		tender.Recipients = append(tender.Recipients, *rc)
	}
	return tender, rows.Err()
}

// UpdateTender сохраняет поля тендера при условии, что статус в базе входит в from.
func (r *PostgresTenderRepository) UpdateTender(ctx context.Context, tender *models.Tender, from []models.TenderStatus) error {
	tag, err := r.DB.Exec(ctx, `
		UPDATE tender SET
			tender_rate = $3, waterfall_timeout_minutes = $4, current_position = $5, status = $6,
			notes = $7, expires_at = $8, accepted_by_carrier_id = $9, accepted_at = $10
		WHERE id = $1 AND tenant_id = $2 AND status = ANY($11) AND deleted_at IS NULL`,
		tender.ID,
		tender.TenantID,
		tender.Rate,
		tender.WaterfallTimeoutMinutes,
		tender.CurrentPosition,
		tender.Status,
		tender.Notes,
		tender.ExpiresAt,
		tender.AcceptedByCarrierID,
		tender.AcceptedAt,
		statusArray(from))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}

// UpdateRecipient сохраняет получателя при условии, что статус в базе входит в from.
func (r *PostgresTenderRepository) UpdateRecipient(ctx context.Context, rc *models.TenderRecipient, from []models.RecipientStatus) error {
	tag, err := r.DB.Exec(ctx, `
		UPDATE tender_recipient SET
			status = $2, offered_at = $3, expires_at = $4, responded_at = $5, decline_reason = $6
		WHERE id = $1 AND status = ANY($7)`,
		rc.ID,
		rc.Status,
		rc.OfferedAt,
		rc.ExpiresAt,
		rc.RespondedAt,
		rc.DeclineReason,
		statusArray(from))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}

// SkipOtherRecipients переводит всех остальных получателей тендера в SKIPPED.
func (r *PostgresTenderRepository) SkipOtherRecipients(ctx context.Context, tenderID, exceptRecipientID string) (int64, error) {
	tag, err := r.DB.Exec(ctx, `
		UPDATE tender_recipient SET status = $1
		WHERE tender_id = $2 AND id <> $3 AND status = ANY($4)`,
		models.SkippedRecipient, tenderID, exceptRecipientID,
		statusArray(models.RecipientStatusesFrom(models.SkippedRecipient)))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// NextWaitingRecipient ищет следующего получателя в очереди waterfall.
func (r *PostgresTenderRepository) NextWaitingRecipient(ctx context.Context, tenderID string, afterPosition int) (*models.TenderRecipient, error) {
	query := forUpdate(`SELECT `+recipientColumns+` FROM tender_recipient
		WHERE tender_id = $1 AND position > $2 AND status <> ALL($3)
		ORDER BY position
		LIMIT 1`, r.locking)
	done := []models.RecipientStatus{models.DeclinedRecipient, models.SkippedRecipient}
	rc, err := scanRecipient(r.DB.QueryRow(ctx, query, tenderID, afterPosition, statusArray(done)))
	if err != nil {
		return nil, wrapNotFound(err, "next recipient of tender", tenderID)
	}
	return rc, nil
}

// ListActiveForCarrier возвращает активные тендеры, где перевозчику сейчас сделано предложение.
func (r *PostgresTenderRepository) ListActiveForCarrier(ctx context.Context, tenantID, carrierID string) ([]models.Tender, error) {
	query := `SELECT t.id FROM tender t
		JOIN tender_recipient tr ON tr.tender_id = t.id
		WHERE t.tenant_id = $1 AND t.status = $2 AND t.deleted_at IS NULL
		AND tr.carrier_id = $3 AND tr.status = $4
		ORDER BY t.created_at`
	rows, err := r.DB.Query(ctx, query, tenantID, models.ActiveTender, carrierID, models.OfferedRecipient)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}

	tenders := make([]models.Tender, 0, len(ids))
	for _, id := range ids {
		tender, err := r.GetTender(ctx, tenantID, id)
		if err != nil {
			return nil, err
		}
		tenders = append(tenders, *tender)
	}
	return tenders, nil
}

// ListTimedOutOffers возвращает получателей активных waterfall-тендеров с истёкшим предложением.
func (r *PostgresTenderRepository) ListTimedOutOffers(ctx context.Context, tenantID string, now time.Time) ([]models.TenderRecipient, error) {
	query := `SELECT tr.id, tr.tender_id, tr.carrier_id, tr.position, tr.status, tr.offered_at,
			tr.expires_at, tr.responded_at, tr.decline_reason
		FROM tender_recipient tr
		JOIN tender t ON t.id = tr.tender_id
		WHERE t.tenant_id = $1 AND t.tender_type = $2 AND t.status = $3 AND t.deleted_at IS NULL
		AND tr.status = $4 AND tr.expires_at <= $5
		ORDER BY tr.expires_at`
	rows, err := r.DB.Query(ctx, query, tenantID, models.Waterfall, models.ActiveTender, models.OfferedRecipient, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recipients []models.TenderRecipient
	for rows.Next() {
		rc, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		recipients = append(recipients, *rc)
	}
	return recipients, rows.Err()
}

// ExpireTenders переводит просроченные активные тендеры в EXPIRED.
func (r *PostgresTenderRepository) ExpireTenders(ctx context.Context, tenantID string, now time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, `
		UPDATE tender SET status = $1
		WHERE tenant_id = $2 AND status = $3 AND expires_at <= $4 AND deleted_at IS NULL`,
		models.ExpiredTender, tenantID, models.ActiveTender, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanTender(row pgx.Row) (*models.Tender, error) {
	var t models.Tender
	err := row.Scan(
		&t.ID,
		&t.TenantID,
		&t.LoadID,
		&t.Type,
		&t.Rate,
		&t.WaterfallTimeoutMinutes,
		&t.CurrentPosition,
		&t.Status,
		&t.Notes,
		&t.ExpiresAt,
		&t.AcceptedByCarrierID,
		&t.AcceptedAt,
		&t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanRecipient(row pgx.Row) (*models.TenderRecipient, error) {
	var rc models.TenderRecipient
	err := row.Scan(
		&rc.ID,
		&rc.TenderID,
		&rc.CarrierID,
		&rc.Position,
		&rc.Status,
		&rc.OfferedAt,
		&rc.ExpiresAt,
		&rc.RespondedAt,
		&rc.DeclineReason)
	if err != nil {
		return nil, err
	}
	return &rc, nil
}
