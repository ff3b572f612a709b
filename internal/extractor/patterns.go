package extractor

import "regexp"

// paymentKeywords classify an email as a payment notification. Matched
// case-insensitively against subject and body.
var paymentKeywords = []string{
	"payment received",
	"amount credited",
	"transaction successful",
	"money received",
	"received payment",
	"has been credited",
	"credited to your",
	"payment successful",
	"paid you",
	"sent you",
	"upi transaction",
}

// transactionIDPatterns are ordered from most to least specific; the first match wins.
var transactionIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)transaction\s*id\s*(?:is)?\s*[:#\-]?\s*([A-Za-z0-9]{6,35})`),
	regexp.MustCompile(`(?i)UPI\s*Ref(?:erence)?\.?\s*(?:No\.?|Number|ID)?\s*[:#\-]?\s*([A-Za-z0-9]{6,35})`),
	regexp.MustCompile(`(?i)\bUTR\s*(?:No\.?|Number)?\s*[:#\-]?\s*([A-Za-z0-9]{6,35})`),
	regexp.MustCompile(`(?i)\bRef(?:erence)?\.?\s*(?:No\.?|Number|ID)\s*[:#\-]?\s*([A-Za-z0-9]{6,35})`),
	regexp.MustCompile(`(?i)\bTxn\.?\s*(?:ID|No\.?|Number)\s*[:#\-]?\s*([A-Za-z0-9]{6,35})`),
	regexp.MustCompile(`(?i)\bOrder\s*ID\s*[:#\-]?\s*([A-Za-z0-9]{6,35})`),
}

// genericTransactionID is the fallback: a long upper-case alphanumeric token.
// Candidates must contain at least one digit.
var genericTransactionID = regexp.MustCompile(`\b([A-Z0-9]{12,35})\b`)

// amountPattern requires a currency prefix so that ids and dates are not read as amounts.
var amountPattern = regexp.MustCompile(`(?i)(?:₹|\bRs\.?|\bINR)\s*([0-9][0-9,]*(?:\.[0-9]{1,2})?)`)

// upiHandlePattern matches user@handle where the handle is not followed by a
// dot, which keeps ordinary email addresses out.
var upiHandlePattern = regexp.MustCompile(`([A-Za-z0-9][A-Za-z0-9._\-]{1,255}@[A-Za-z][A-Za-z0-9]{1,63})(?:[^A-Za-z0-9.@]|\.(?:\s|$)|$)`)

type datePattern struct {
	re      *regexp.Regexp
	layouts []string
}

var datePatterns = []datePattern{
	{
		re:      regexp.MustCompile(`\b(\d{1,2} [A-Z][a-z]{2} \d{4},? \d{1,2}:\d{2}(?::\d{2})?(?: ?[AaPp][Mm])?)`),
		layouts: []string{"2 Jan 2006, 15:04:05", "2 Jan 2006, 15:04", "2 Jan 2006 15:04:05", "2 Jan 2006 15:04", "2 Jan 2006, 03:04 PM", "2 Jan 2006 03:04 PM", "2 Jan 2006, 3:04 PM", "2 Jan 2006 3:04 PM", "2 Jan 2006, 03:04PM", "2 Jan 2006 03:04PM"},
	},
	{
		re:      regexp.MustCompile(`\b([A-Z][a-z]{2} \d{1,2}, \d{4},? \d{1,2}:\d{2}(?::\d{2})? ?[AaPp][Mm])`),
		layouts: []string{"Jan 2, 2006 03:04 PM", "Jan 2, 2006, 03:04 PM", "Jan 2, 2006 3:04 PM", "Jan 2, 2006, 3:04 PM", "Jan 2, 2006 03:04:05 PM"},
	},
	{
		re:      regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2}[ T]\d{2}:\d{2}:\d{2})`),
		layouts: []string{"2006-01-02 15:04:05", "2006-01-02T15:04:05"},
	},
	{
		re:      regexp.MustCompile(`\b(\d{2}[/-]\d{2}[/-]\d{4},? \d{2}:\d{2}(?::\d{2})?)`),
		layouts: []string{"02-01-2006 15:04:05", "02-01-2006 15:04", "02/01/2006 15:04:05", "02/01/2006 15:04", "02/01/2006, 15:04", "02-01-2006, 15:04"},
	},
}
