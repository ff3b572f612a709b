package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"fee-recon/internal/domain"
	"fee-recon/pkg/logger"
)

type FeePaymentRepository interface {
	GetByID(ctx context.Context, id string) (*domain.FeePayment, error)
	// FindPending returns pending payments of exactly amount, oldest first.
	// A non-nil createdAfter restricts to payments created at or after it.
	FindPending(ctx context.Context, schoolID string, amount decimal.Decimal, createdAfter *time.Time) ([]domain.FeePayment, error)
	// MarkPaid transitions a payment from pending to paid. It reports false
	// when the payment was no longer pending.
	MarkPaid(ctx context.Context, id string, t domain.PaidTransition) (bool, error)
	// FindByTransaction returns the fee payment settled by transactionID, or
	// domain.ErrNotFound.
	FindByTransaction(ctx context.Context, schoolID, transactionID string) (*domain.FeePayment, error)
	ListPaid(ctx context.Context, schoolID string) ([]domain.FeePayment, error)
	StatsBySchool(ctx context.Context, schoolID string) ([]domain.StatusStat, error)
}

type feePaymentRepository struct {
	db *sql.DB
}

func NewFeePaymentRepository(db *sql.DB) FeePaymentRepository {
	return &feePaymentRepository{db: db}
}

const feePaymentColumns = `
	id, student_id, school_id, fee_id, installment_index, amount, status,
	transaction_id, payer_upi_id, paid_date, receipt_number, payment_attempts,
	created_at, updated_at
`

func scanFeePayment(row rowScanner) (*domain.FeePayment, error) {
	var p domain.FeePayment
	err := row.Scan(
		&p.ID,
		&p.StudentID,
		&p.SchoolID,
		&p.FeeID,
		&p.InstallmentIndex,
		&p.Amount,
		&p.Status,
		&p.TransactionID,
		&p.PayerUpiID,
		&p.PaidDate,
		&p.ReceiptNumber,
		&p.PaymentAttempts,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *feePaymentRepository) GetByID(ctx context.Context, id string) (*domain.FeePayment, error) {
	query := `SELECT ` + feePaymentColumns + ` FROM fee_payments WHERE id = $1`

	p, err := scanFeePayment(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("fee payment %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		logger.GetLogger().WithError(err).WithField("fee_payment_id", id).Error("Failed to get fee payment")
		return nil, err
	}
	return p, nil
}

func (r *feePaymentRepository) FindPending(ctx context.Context, schoolID string, amount decimal.Decimal, createdAfter *time.Time) ([]domain.FeePayment, error) {
	query := `SELECT ` + feePaymentColumns + `
		FROM fee_payments
		WHERE school_id = $1 AND status = 'pending' AND amount = $2
	`
	args := []interface{}{schoolID, amount}

	if createdAfter != nil {
		query += ` AND created_at >= $3`
		args = append(args, *createdAfter)
	}
	query += ` ORDER BY created_at, id`

	return r.query(ctx, query, args...)
}

func (r *feePaymentRepository) MarkPaid(ctx context.Context, id string, t domain.PaidTransition) (bool, error) {
	attempt, err := json.Marshal(domain.PaymentAttempts{t.Attempt})
	if err != nil {
		return false, fmt.Errorf("encode payment attempt: %w", err)
	}

	query := `
		UPDATE fee_payments
		SET status = 'paid', transaction_id = $2, payer_upi_id = $3, paid_date = $4,
			receipt_number = $5,
			payment_attempts = COALESCE(payment_attempts, '[]'::jsonb) || $6::jsonb,
			updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`

	res, err := r.db.ExecContext(ctx, query,
		id,
		t.TransactionID,
		nullIfEmpty(t.PayerUpiID),
		t.PaidDate,
		t.ReceiptNumber,
		string(attempt),
	)
	if err != nil {
		logger.GetLogger().WithError(err).WithField("fee_payment_id", id).Error("Failed to mark fee payment paid")
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *feePaymentRepository) FindByTransaction(ctx context.Context, schoolID, transactionID string) (*domain.FeePayment, error) {
	query := `SELECT ` + feePaymentColumns + `
		FROM fee_payments
		WHERE school_id = $1 AND transaction_id = $2
		ORDER BY paid_date, id
		LIMIT 1
	`

	p, err := scanFeePayment(r.db.QueryRowContext(ctx, query, schoolID, transactionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("fee payment for transaction %s: %w", transactionID, domain.ErrNotFound)
	}
	if err != nil {
		logger.ForSchool(schoolID).WithError(err).Error("Failed to find fee payment by transaction")
		return nil, err
	}
	return p, nil
}

func (r *feePaymentRepository) ListPaid(ctx context.Context, schoolID string) ([]domain.FeePayment, error) {
	query := `SELECT ` + feePaymentColumns + `
		FROM fee_payments
		WHERE school_id = $1 AND status = 'paid'
		ORDER BY paid_date, id
	`
	return r.query(ctx, query, schoolID)
}

func (r *feePaymentRepository) StatsBySchool(ctx context.Context, schoolID string) ([]domain.StatusStat, error) {
	query := `
		SELECT status, COUNT(*), COALESCE(SUM(amount), 0)
		FROM fee_payments
		WHERE school_id = $1
		GROUP BY status
		ORDER BY status
	`

	rows, err := r.db.QueryContext(ctx, query, schoolID)
	if err != nil {
		logger.GetLogger().WithError(err).Error("Failed to query fee payment stats")
		return nil, err
	}
	defer rows.Close()

	var stats []domain.StatusStat
	for rows.Next() {
		var s domain.StatusStat
		if err := rows.Scan(&s.Status, &s.Count, &s.TotalAmount); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

func (r *feePaymentRepository) query(ctx context.Context, query string, args ...interface{}) ([]domain.FeePayment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		logger.GetLogger().WithError(err).Error("Failed to query fee payments")
		return nil, err
	}
	defer rows.Close()

	var payments []domain.FeePayment
	for rows.Next() {
		p, err := scanFeePayment(rows)
		if err != nil {
			logger.GetLogger().WithError(err).Error("Failed to scan fee payment")
			continue
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}
