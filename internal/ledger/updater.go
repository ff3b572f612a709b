// Package ledger applies matched payments to fee payments and their parent
// fee installments.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"fee-recon/internal/domain"
	"fee-recon/pkg/logger"
)

type PaymentStore interface {
	MarkPaid(ctx context.Context, id string, t domain.PaidTransition) (bool, error)
	ListPaid(ctx context.Context, schoolID string) ([]domain.FeePayment, error)
}

type FeeStore interface {
	GetByID(ctx context.Context, id string) (*domain.Fee, error)
	UpdateInstallment(ctx context.Context, feeID string, index int, fn func(*domain.FeeInstallment) error) error
}

// Receipt describes a settled installment.
type Receipt struct {
	FeePaymentID     string          `json:"feePaymentId"`
	FeeID            string          `json:"feeId"`
	StudentID        string          `json:"studentId"`
	InstallmentIndex int             `json:"installmentIndex"`
	TransactionID    string          `json:"transactionId"`
	ReceiptNumber    string          `json:"receiptNumber"`
	Amount           decimal.Decimal `json:"amount"`
	PaidDate         time.Time       `json:"paidDate"`
}

type Updater struct {
	payments PaymentStore
	fees     FeeStore
	now      func() time.Time
}

func NewUpdater(payments PaymentStore, fees FeeStore) *Updater {
	return &Updater{
		payments: payments,
		fees:     fees,
		now:      time.Now,
	}
}

func (u *Updater) WithClock(now func() time.Time) *Updater {
	u.now = now
	return u
}

// ReceiptNumber is "RCP-" followed by the last six characters of the transaction id.
func ReceiptNumber(transactionID string) string {
	suffix := transactionID
	if len(suffix) > 6 {
		suffix = suffix[len(suffix)-6:]
	}
	return "RCP-" + suffix
}

// ReceiptFor rebuilds the receipt of a fee payment that is already paid.
func ReceiptFor(fp *domain.FeePayment) *Receipt {
	r := &Receipt{
		FeePaymentID:     fp.ID,
		FeeID:            fp.FeeID,
		StudentID:        fp.StudentID,
		InstallmentIndex: fp.InstallmentIndex,
		Amount:           fp.Amount,
	}
	if fp.TransactionID != nil {
		r.TransactionID = *fp.TransactionID
		r.ReceiptNumber = ReceiptNumber(*fp.TransactionID)
	}
	if fp.ReceiptNumber != nil {
		r.ReceiptNumber = *fp.ReceiptNumber
	}
	if fp.PaidDate != nil {
		r.PaidDate = *fp.PaidDate
	}
	return r
}

// Apply moves fp from pending to paid and settles its installment.
//
// It returns domain.ErrPaymentNotPending when another writer already moved fp
// out of pending. When the fee payment is paid but the installment write
// fails, the receipt is returned together with an error wrapping
// domain.ErrLedgerDrift; Repair converges such payments later.
func (u *Updater) Apply(ctx context.Context, fp *domain.FeePayment, payment domain.ExtractedPayment) (*Receipt, error) {
	if fp == nil {
		return nil, errors.New("fee payment is required")
	}
	if payment.TransactionID == "" {
		return nil, errors.New("transaction id is required")
	}

	paidAt := u.now()
	receiptNumber := ReceiptNumber(payment.TransactionID)
	txID := payment.TransactionID

	transition := domain.PaidTransition{
		TransactionID: txID,
		PayerUpiID:    payment.PayerHandle,
		PaidDate:      paidAt,
		ReceiptNumber: receiptNumber,
		Attempt: domain.PaymentAttempt{
			AttemptDate:   paidAt,
			Amount:        fp.Amount,
			Status:        domain.AttemptCompleted,
			TransactionID: &txID,
		},
	}

	applied, err := u.payments.MarkPaid(ctx, fp.ID, transition)
	if err != nil {
		return nil, fmt.Errorf("mark fee payment %s paid: %w", fp.ID, err)
	}
	if !applied {
		return nil, fmt.Errorf("fee payment %s: %w", fp.ID, domain.ErrPaymentNotPending)
	}

	fp.Status = domain.FeePaymentPaid
	fp.TransactionID = &txID
	fp.PaidDate = &paidAt
	fp.ReceiptNumber = &receiptNumber
	if payment.PayerHandle != "" {
		payer := payment.PayerHandle
		fp.PayerUpiID = &payer
	}
	fp.PaymentAttempts = append(fp.PaymentAttempts, transition.Attempt)

	receipt := &Receipt{
		FeePaymentID:     fp.ID,
		FeeID:            fp.FeeID,
		StudentID:        fp.StudentID,
		InstallmentIndex: fp.InstallmentIndex,
		TransactionID:    txID,
		ReceiptNumber:    receiptNumber,
		Amount:           fp.Amount,
		PaidDate:         paidAt,
	}

	if err := u.settleInstallment(ctx, fp.FeeID, fp.InstallmentIndex, paidAt, receiptNumber); err != nil {
		logger.ForSchool(fp.SchoolID).WithError(err).WithFields(map[string]interface{}{
			"fee_payment_id":    fp.ID,
			"fee_id":            fp.FeeID,
			"installment_index": fp.InstallmentIndex,
		}).Error("Fee payment marked paid but installment update failed")
		return receipt, fmt.Errorf("%w: %v", domain.ErrLedgerDrift, err)
	}

	logger.ForSchool(fp.SchoolID).WithFields(map[string]interface{}{
		"fee_payment_id": fp.ID,
		"receipt_number": receiptNumber,
	}).Info("Fee payment settled")

	return receipt, nil
}

func (u *Updater) settleInstallment(ctx context.Context, feeID string, index int, paidAt time.Time, receiptNumber string) error {
	return u.fees.UpdateInstallment(ctx, feeID, index, func(inst *domain.FeeInstallment) error {
		inst.Settle(paidAt, receiptNumber, domain.PaymentMethodUPI)
		return nil
	})
}

// Repair settles every installment whose fee payment is paid but whose
// installment is not. It returns the number of installments repaired and is
// safe to run repeatedly.
func (u *Updater) Repair(ctx context.Context, schoolID string) (int, error) {
	paid, err := u.payments.ListPaid(ctx, schoolID)
	if err != nil {
		return 0, fmt.Errorf("list paid fee payments: %w", err)
	}

	var (
		repaired int
		errs     []error
		fees     = make(map[string]*domain.Fee)
	)

	for _, fp := range paid {
		fee, ok := fees[fp.FeeID]
		if !ok {
			fee, err = u.fees.GetByID(ctx, fp.FeeID)
			if err != nil {
				errs = append(errs, fmt.Errorf("fee %s: %w", fp.FeeID, err))
				continue
			}
			fees[fp.FeeID] = fee
		}

		inst, err := fee.Installment(fp.InstallmentIndex)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if inst.Status == domain.InstallmentPaid {
			continue
		}

		paidAt := u.now()
		if fp.PaidDate != nil {
			paidAt = *fp.PaidDate
		}
		receiptNumber := ""
		if fp.ReceiptNumber != nil {
			receiptNumber = *fp.ReceiptNumber
		} else if fp.TransactionID != nil {
			receiptNumber = ReceiptNumber(*fp.TransactionID)
		}

		if err := u.settleInstallment(ctx, fp.FeeID, fp.InstallmentIndex, paidAt, receiptNumber); err != nil {
			errs = append(errs, fmt.Errorf("fee payment %s: %w", fp.ID, err))
			continue
		}
		inst.Settle(paidAt, receiptNumber, domain.PaymentMethodUPI)
		repaired++

		logger.ForSchool(schoolID).WithFields(map[string]interface{}{
			"fee_payment_id":    fp.ID,
			"fee_id":            fp.FeeID,
			"installment_index": fp.InstallmentIndex,
		}).Warn("Repaired installment for paid fee payment")
	}

	return repaired, errors.Join(errs...)
}
