package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fee-recon/internal/domain"
	"fee-recon/pkg/logger"
)

type FeeRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Fee, error)
	// UpdateInstallment locks the fee row, applies fn to one installment and
	// writes the installment array back in the same transaction.
	UpdateInstallment(ctx context.Context, feeID string, index int, fn func(*domain.FeeInstallment) error) error
}

type feeRepository struct {
	db *sql.DB
}

func NewFeeRepository(db *sql.DB) FeeRepository {
	return &feeRepository{db: db}
}

func (r *feeRepository) GetByID(ctx context.Context, id string) (*domain.Fee, error) {
	query := `
		SELECT id, school_id, student_id, installments, created_at, updated_at
		FROM fees
		WHERE id = $1
	`

	var fee domain.Fee
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&fee.ID,
		&fee.SchoolID,
		&fee.StudentID,
		&fee.Installments,
		&fee.CreatedAt,
		&fee.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("fee %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		logger.GetLogger().WithError(err).WithField("fee_id", id).Error("Failed to get fee")
		return nil, err
	}

	return &fee, nil
}

func (r *feeRepository) UpdateInstallment(ctx context.Context, feeID string, index int, fn func(*domain.FeeInstallment) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		logger.GetLogger().WithError(err).Error("Failed to begin transaction")
		return err
	}
	defer tx.Rollback()

	var installments domain.Installments
	err = tx.QueryRowContext(ctx, `SELECT installments FROM fees WHERE id = $1 FOR UPDATE`, feeID).Scan(&installments)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("fee %s: %w", feeID, domain.ErrNotFound)
	}
	if err != nil {
		logger.GetLogger().WithError(err).WithField("fee_id", feeID).Error("Failed to lock fee")
		return err
	}

	if index < 0 || index >= len(installments) {
		return fmt.Errorf("fee %s has no installment %d: %w", feeID, index, domain.ErrNotFound)
	}

	if err := fn(&installments[index]); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE fees SET installments = $2, updated_at = NOW() WHERE id = $1`,
		feeID, installments,
	); err != nil {
		logger.GetLogger().WithError(err).WithField("fee_id", feeID).Error("Failed to update installments")
		return err
	}

	if err := tx.Commit(); err != nil {
		logger.GetLogger().WithError(err).Error("Failed to commit transaction")
		return err
	}

	return nil
}
