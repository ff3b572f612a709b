package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// InstallmentStatus is derived from paid amount, amount and due date.
type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "pending"
	InstallmentPartial InstallmentStatus = "partial"
	InstallmentPaid    InstallmentStatus = "paid"
	InstallmentOverdue InstallmentStatus = "overdue"
)

const PaymentMethodUPI = "upi"

// FeeInstallment is one scheduled part of a Fee.
type FeeInstallment struct {
	Amount        decimal.Decimal   `json:"amount"`
	PaidAmount    decimal.Decimal   `json:"paidAmount"`
	DueDate       time.Time         `json:"dueDate"`
	Status        InstallmentStatus `json:"status"`
	PaidDate      *time.Time        `json:"paidDate,omitempty"`
	ReceiptNumber *string           `json:"receiptNumber,omitempty"`
	PaymentMethod *string           `json:"paymentMethod,omitempty"`
}

// DeriveStatus computes the installment status as of now.
func (i FeeInstallment) DeriveStatus(now time.Time) InstallmentStatus {
	switch {
	case i.Amount.IsPositive() && i.PaidAmount.GreaterThanOrEqual(i.Amount):
		return InstallmentPaid
	case i.PaidAmount.IsPositive():
		return InstallmentPartial
	case !i.DueDate.IsZero() && now.After(i.DueDate):
		return InstallmentOverdue
	default:
		return InstallmentPending
	}
}

// Settle records full payment of the installment. paidAmount never exceeds amount.
func (i *FeeInstallment) Settle(paidAt time.Time, receiptNumber, method string) {
	i.PaidAmount = i.Amount
	i.PaidDate = &paidAt
	i.ReceiptNumber = &receiptNumber
	i.PaymentMethod = &method
	i.Status = i.DeriveStatus(paidAt)
}

// Installments is stored as a JSONB array.
type Installments []FeeInstallment

func (in Installments) Value() (driver.Value, error) {
	if in == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(in)
}

func (in *Installments) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*in = Installments{}
		return nil
	case []byte:
		return json.Unmarshal(v, in)
	case string:
		return json.Unmarshal([]byte(v), in)
	default:
		return fmt.Errorf("cannot scan %T into Installments", src)
	}
}

// Fee is a student's billed fee, split into ordered installments.
type Fee struct {
	ID           string       `json:"id" db:"id"`
	SchoolID     string       `json:"schoolId" db:"school_id"`
	StudentID    string       `json:"studentId" db:"student_id"`
	Installments Installments `json:"installments" db:"installments"`
	CreatedAt    time.Time    `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time    `json:"updatedAt" db:"updated_at"`
}

func (f *Fee) TotalAmount() decimal.Decimal {
	total := decimal.Zero
	for _, inst := range f.Installments {
		total = total.Add(inst.Amount)
	}
	return total
}

// Installment returns the installment at index or an error when out of range.
func (f *Fee) Installment(index int) (*FeeInstallment, error) {
	if index < 0 || index >= len(f.Installments) {
		return nil, fmt.Errorf("fee %s has no installment %d", f.ID, index)
	}
	return &f.Installments[index], nil
}
