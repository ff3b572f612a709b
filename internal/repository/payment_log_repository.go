package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"fee-recon/internal/domain"
	"fee-recon/pkg/logger"
)

type PaymentLogRepository interface {
	// FindByTransaction returns the log holding the idempotency key, or
	// domain.ErrNotFound.
	FindByTransaction(ctx context.Context, schoolID, transactionID string) (*domain.PaymentLog, error)
	ExistsMessage(ctx context.Context, schoolID, messageID string) (bool, error)
	// Create inserts the log. It reports false without error when the
	// idempotency key or message was already logged.
	Create(ctx context.Context, log *domain.PaymentLog) (bool, error)
	// Finalize moves a processing log to its terminal status.
	Finalize(ctx context.Context, id string, outcome domain.LogOutcome) error
	List(ctx context.Context, filter domain.LogFilter) ([]domain.PaymentLog, int, error)
}

type paymentLogRepository struct {
	db *sql.DB
}

func NewPaymentLogRepository(db *sql.DB) PaymentLogRepository {
	return &paymentLogRepository{db: db}
}

const paymentLogColumns = `
	id, school_id, message_id, raw_email_data, transaction_id, amount, payer_upi,
	provider, matched_fee_id, matched_fee_payment_id, matched_student_id, status,
	email_subject, email_from, email_date, processing_notes, created_at
`

func scanPaymentLog(row rowScanner) (*domain.PaymentLog, error) {
	var l domain.PaymentLog
	err := row.Scan(
		&l.ID,
		&l.SchoolID,
		&l.MessageID,
		&l.RawEmailData,
		&l.TransactionID,
		&l.Amount,
		&l.PayerUpi,
		&l.Provider,
		&l.MatchedFeeID,
		&l.MatchedFeePaymentID,
		&l.MatchedStudentID,
		&l.Status,
		&l.EmailSubject,
		&l.EmailFrom,
		&l.EmailDate,
		&l.ProcessingNotes,
		&l.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *paymentLogRepository) FindByTransaction(ctx context.Context, schoolID, transactionID string) (*domain.PaymentLog, error) {
	query := `SELECT ` + paymentLogColumns + ` FROM payment_logs WHERE school_id = $1 AND transaction_id = $2`

	l, err := scanPaymentLog(r.db.QueryRowContext(ctx, query, schoolID, transactionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment log for %s: %w", transactionID, domain.ErrNotFound)
	}
	if err != nil {
		logger.ForSchool(schoolID).WithError(err).Error("Failed to get payment log")
		return nil, err
	}
	return l, nil
}

func (r *paymentLogRepository) ExistsMessage(ctx context.Context, schoolID, messageID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM payment_logs WHERE school_id = $1 AND message_id = $2)`,
		schoolID, messageID,
	).Scan(&exists)
	if err != nil {
		logger.ForSchool(schoolID).WithError(err).Error("Failed to check payment log")
		return false, err
	}
	return exists, nil
}

func (r *paymentLogRepository) Create(ctx context.Context, log *domain.PaymentLog) (bool, error) {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}

	query := `
		INSERT INTO payment_logs (
			id, school_id, message_id, raw_email_data, transaction_id, amount, payer_upi,
			provider, matched_fee_id, matched_fee_payment_id, matched_student_id, status,
			email_subject, email_from, email_date, processing_notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT DO NOTHING
		RETURNING created_at
	`

	err := r.db.QueryRowContext(ctx, query,
		log.ID,
		log.SchoolID,
		log.MessageID,
		log.RawEmailData,
		log.TransactionID,
		log.Amount,
		log.PayerUpi,
		log.Provider,
		log.MatchedFeeID,
		log.MatchedFeePaymentID,
		log.MatchedStudentID,
		log.Status,
		log.EmailSubject,
		log.EmailFrom,
		log.EmailDate,
		log.ProcessingNotes,
	).Scan(&log.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		logger.ForSchool(log.SchoolID).WithError(err).Error("Failed to create payment log")
		return false, err
	}
	return true, nil
}

func (r *paymentLogRepository) Finalize(ctx context.Context, id string, outcome domain.LogOutcome) error {
	query := `
		UPDATE payment_logs
		SET status = $2, matched_fee_id = $3, matched_fee_payment_id = $4,
			matched_student_id = $5, processing_notes = $6
		WHERE id = $1 AND status = 'processing'
	`

	res, err := r.db.ExecContext(ctx, query,
		id,
		outcome.Status,
		outcome.MatchedFeeID,
		outcome.MatchedFeePaymentID,
		outcome.MatchedStudentID,
		outcome.Notes,
	)
	if err != nil {
		logger.GetLogger().WithError(err).WithField("payment_log_id", id).Error("Failed to finalize payment log")
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("processing payment log %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (r *paymentLogRepository) List(ctx context.Context, filter domain.LogFilter) ([]domain.PaymentLog, int, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if filter.SchoolID != "" {
		args = append(args, filter.SchoolID)
		conditions = append(conditions, fmt.Sprintf("school_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM payment_logs`+where, args...).Scan(&total); err != nil {
		logger.GetLogger().WithError(err).Error("Failed to count payment logs")
		return nil, 0, err
	}

	args = append(args, filter.Limit, filter.Offset())
	query := fmt.Sprintf(`SELECT %s FROM payment_logs%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		paymentLogColumns, where, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		logger.GetLogger().WithError(err).Error("Failed to query payment logs")
		return nil, 0, err
	}
	defer rows.Close()

	logs := make([]domain.PaymentLog, 0)
	for rows.Next() {
		l, err := scanPaymentLog(rows)
		if err != nil {
			logger.GetLogger().WithError(err).Error("Failed to scan payment log")
			continue
		}
		logs = append(logs, *l)
	}

	return logs, total, rows.Err()
}
