package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type FeePaymentStatus string

const (
	FeePaymentPending FeePaymentStatus = "pending"
	FeePaymentPaid    FeePaymentStatus = "paid"
	FeePaymentFailed  FeePaymentStatus = "failed"
)

type AttemptStatus string

const (
	AttemptCompleted AttemptStatus = "completed"
	AttemptFailed    AttemptStatus = "failed"
)

// PaymentAttempt is one audit entry on a FeePayment.
type PaymentAttempt struct {
	AttemptDate   time.Time       `json:"attemptDate"`
	Amount        decimal.Decimal `json:"amount"`
	Status        AttemptStatus   `json:"status"`
	TransactionID *string         `json:"transactionId,omitempty"`
}

type PaymentAttempts []PaymentAttempt

func (a PaymentAttempts) Value() (driver.Value, error) {
	if a == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(a)
}

func (a *PaymentAttempts) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*a = PaymentAttempts{}
		return nil
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	default:
		return fmt.Errorf("cannot scan %T into PaymentAttempts", src)
	}
}

// FeePayment is a payment intent against one installment of one Fee.
type FeePayment struct {
	ID               string           `json:"id" db:"id"`
	StudentID        string           `json:"studentId" db:"student_id"`
	SchoolID         string           `json:"schoolId" db:"school_id"`
	FeeID            string           `json:"feeId" db:"fee_id"`
	InstallmentIndex int              `json:"installmentIndex" db:"installment_index"`
	Amount           decimal.Decimal  `json:"amount" db:"amount"`
	Status           FeePaymentStatus `json:"status" db:"status"`
	TransactionID    *string          `json:"transactionId,omitempty" db:"transaction_id"`
	PayerUpiID       *string          `json:"payerUpiId,omitempty" db:"payer_upi_id"`
	PaidDate         *time.Time       `json:"paidDate,omitempty" db:"paid_date"`
	ReceiptNumber    *string          `json:"receiptNumber,omitempty" db:"receipt_number"`
	PaymentAttempts  PaymentAttempts  `json:"paymentAttempts" db:"payment_attempts"`
	CreatedAt        time.Time        `json:"createdAt" db:"created_at"`
	UpdatedAt        time.Time        `json:"updatedAt" db:"updated_at"`
}

func (p *FeePayment) IsPending() bool {
	return p.Status == FeePaymentPending
}

// PaidTransition is the set of fields written by the pending -> paid transition.
type PaidTransition struct {
	TransactionID string
	PayerUpiID    string
	PaidDate      time.Time
	ReceiptNumber string
	Attempt       PaymentAttempt
}

// StatusStat aggregates FeePayments of one status.
type StatusStat struct {
	Status      FeePaymentStatus `json:"status"`
	Count       int              `json:"count"`
	TotalAmount decimal.Decimal  `json:"totalAmount"`
}
