package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const ProviderUnknown = "unknown"

// ExtractedPayment is the structured fact pulled out of a payment email.
type ExtractedPayment struct {
	TransactionID string          `json:"transactionId"`
	Amount        decimal.Decimal `json:"amount"`
	PayerHandle   string          `json:"payerHandle,omitempty"`
	Provider      string          `json:"provider"`
	Timestamp     time.Time       `json:"timestamp"`
}

// RunSummary aggregates the counters of one pipeline run.
type RunSummary struct {
	Tenants    int `json:"tenants"`
	Processed  int `json:"processed"`
	Matched    int `json:"matched"`
	Unmatched  int `json:"unmatched"`
	Duplicates int `json:"duplicates"`
	// Skipped counts messages that are not payment notifications.
	Skipped int `json:"skipped"`
	// TenantsSkipped counts schools passed over because a run was already in progress.
	TenantsSkipped int `json:"tenantsSkipped"`
	Errors         int `json:"errors"`
}

func (s *RunSummary) Add(o RunSummary) {
	s.Tenants += o.Tenants
	s.Processed += o.Processed
	s.Matched += o.Matched
	s.Unmatched += o.Unmatched
	s.Duplicates += o.Duplicates
	s.Skipped += o.Skipped
	s.TenantsSkipped += o.TenantsSkipped
	s.Errors += o.Errors
}
