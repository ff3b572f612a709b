package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LogStatus is the outcome of one extraction attempt.
type LogStatus string

const (
	LogProcessing LogStatus = "processing"
	LogMatched    LogStatus = "matched"
	LogUnmatched  LogStatus = "unmatched"
)

// PaymentLog is an append-only record of one processed payment email.
type PaymentLog struct {
	ID                  string           `json:"id" db:"id"`
	SchoolID            string           `json:"schoolId" db:"school_id"`
	MessageID           string           `json:"messageId" db:"message_id"`
	RawEmailData        string           `json:"rawEmailData,omitempty" db:"raw_email_data"`
	TransactionID       *string          `json:"transactionId,omitempty" db:"transaction_id"`
	Amount              *decimal.Decimal `json:"amount,omitempty" db:"amount"`
	PayerUpi            *string          `json:"payerUpi,omitempty" db:"payer_upi"`
	Provider            string           `json:"provider" db:"provider"`
	MatchedFeeID        *string          `json:"matchedFeeId,omitempty" db:"matched_fee_id"`
	MatchedFeePaymentID *string          `json:"matchedFeePaymentId,omitempty" db:"matched_fee_payment_id"`
	MatchedStudentID    *string          `json:"matchedStudentId,omitempty" db:"matched_student_id"`
	Status              LogStatus        `json:"status" db:"status"`
	EmailSubject        string           `json:"emailSubject" db:"email_subject"`
	EmailFrom           string           `json:"emailFrom" db:"email_from"`
	EmailDate           time.Time        `json:"emailDate" db:"email_date"`
	ProcessingNotes     string           `json:"processingNotes" db:"processing_notes"`
	CreatedAt           time.Time        `json:"createdAt" db:"created_at"`
}

// LogOutcome is written once when a processing log reaches a terminal status.
type LogOutcome struct {
	Status              LogStatus
	MatchedFeeID        *string
	MatchedFeePaymentID *string
	MatchedStudentID    *string
	Notes               string
}

type LogFilter struct {
	SchoolID string
	Status   LogStatus
	Page     int
	Limit    int
}

func (f LogFilter) Offset() int {
	if f.Page <= 1 {
		return 0
	}
	return (f.Page - 1) * f.Limit
}
