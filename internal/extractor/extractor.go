// Package extractor turns UPI payment notification emails into structured
// payment facts. Extraction is pure: the same email always yields the same
// result.
package extractor

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fee-recon/internal/domain"
)

// Outcome tags the three possible results of Extract.
type Outcome int

const (
	// NotAPayment means the classifier rejected the email.
	NotAPayment Outcome = iota
	// Incomplete means the email looks like a payment but lacks a transaction id or amount.
	Incomplete
	// Extracted means both transaction id and amount were found.
	Extracted
)

func (o Outcome) String() string {
	switch o {
	case NotAPayment:
		return "not_a_payment"
	case Incomplete:
		return "incomplete"
	case Extracted:
		return "extracted"
	default:
		return "unknown"
	}
}

// Location is the zone used for timestamps printed without an offset.
var Location = time.FixedZone("IST", 5*60*60+30*60)

// Email is the input to extraction.
type Email struct {
	Subject    string
	From       string
	Body       string
	ReceivedAt time.Time
}

// Result carries whatever was found. Payment is fully populated only when
// Outcome is Extracted; for Incomplete, Missing names the absent fields.
type Result struct {
	Outcome Outcome
	Payment domain.ExtractedPayment
	Missing []string
}

func (r Result) IsPayment() bool {
	return r.Outcome != NotAPayment
}

// Extract classifies and parses an email. ownUPI is the receiving school's
// UPI id and is never reported as the payer.
func Extract(email Email, ownUPI string) Result {
	text := email.Subject + "\n" + email.Body
	if !isPaymentEmail(text) {
		return Result{Outcome: NotAPayment}
	}

	payment := domain.ExtractedPayment{
		Provider:  DetectProvider(email.From),
		Timestamp: extractTimestamp(email.Body, email.ReceivedAt),
	}

	var missing []string

	if txID, ok := extractTransactionID(text); ok {
		payment.TransactionID = txID
	} else {
		missing = append(missing, "transactionId")
	}

	if amount, ok := extractAmount(text); ok {
		payment.Amount = amount
	} else {
		missing = append(missing, "amount")
	}

	payment.PayerHandle = extractPayerHandle(text, ownUPI)

	if len(missing) > 0 {
		return Result{Outcome: Incomplete, Payment: payment, Missing: missing}
	}
	return Result{Outcome: Extracted, Payment: payment}
}

func isPaymentEmail(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range paymentKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func extractTransactionID(text string) (string, bool) {
	for _, re := range transactionIDPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return strings.ToUpper(m[1]), true
		}
	}

	for _, m := range genericTransactionID.FindAllStringSubmatch(text, -1) {
		if strings.ContainsAny(m[1], "0123456789") {
			return m[1], true
		}
	}
	return "", false
}

// extractAmount returns the largest currency-prefixed value in text.
func extractAmount(text string) (decimal.Decimal, bool) {
	var (
		best  decimal.Decimal
		found bool
	)

	for _, m := range amountPattern.FindAllStringSubmatch(text, -1) {
		raw := strings.ReplaceAll(m[1], ",", "")
		value, err := decimal.NewFromString(raw)
		if err != nil || !value.IsPositive() {
			continue
		}
		if !found || value.GreaterThan(best) {
			best = value
			found = true
		}
	}
	return best, found
}

func extractPayerHandle(text, ownUPI string) string {
	own := strings.ToLower(strings.TrimSpace(ownUPI))
	for _, m := range upiHandlePattern.FindAllStringSubmatch(text, -1) {
		handle := strings.ToLower(m[1])
		if own != "" && handle == own {
			continue
		}
		return handle
	}
	return ""
}

func extractTimestamp(body string, receivedAt time.Time) time.Time {
	for _, dp := range datePatterns {
		m := dp.re.FindStringSubmatch(body)
		if m == nil {
			continue
		}
		value := strings.ToUpper(m[1])
		for _, layout := range dp.layouts {
			if t, err := time.ParseInLocation(layout, value, Location); err == nil {
				return t
			}
		}
	}
	return receivedAt
}
