package extractor

import (
	"net/mail"
	"strings"

	"github.com/samber/lo"
)

// Provider is a known UPI payment app or bank and the domains it sends from.
type Provider struct {
	Name    string
	Domains []string
}

// Providers is matched in order; the first provider owning the sender domain wins.
var Providers = []Provider{
	{Name: "googlepay", Domains: []string{"pay.google.com", "payments.google.com"}},
	{Name: "phonepe", Domains: []string{"phonepe.com"}},
	{Name: "paytm", Domains: []string{"paytm.com", "paytmbank.com"}},
	{Name: "amazonpay", Domains: []string{"amazonpay.in", "pay.amazon.in"}},
	{Name: "bhim", Domains: []string{"npci.org.in", "bhimupi.org.in"}},
	{Name: "hdfc", Domains: []string{"hdfcbank.net", "hdfcbank.com"}},
	{Name: "icici", Domains: []string{"icicibank.com"}},
	{Name: "sbi", Domains: []string{"sbi.co.in", "onlinesbi.com"}},
	{Name: "axis", Domains: []string{"axisbank.com"}},
	{Name: "kotak", Domains: []string{"kotak.com"}},
	{Name: "yesbank", Domains: []string{"yesbank.in"}},
}

// SenderDomains lists every known provider domain, deduplicated, in table order.
func SenderDomains() []string {
	return lo.Uniq(lo.FlatMap(Providers, func(p Provider, _ int) []string {
		return p.Domains
	}))
}

// DetectProvider maps a From header to a provider name, or "unknown".
func DetectProvider(sender string) string {
	domain := senderDomain(sender)
	if domain == "" {
		return "unknown"
	}

	for _, p := range Providers {
		for _, d := range p.Domains {
			if domain == d || strings.HasSuffix(domain, "."+d) {
				return p.Name
			}
		}
	}
	return "unknown"
}

func senderDomain(sender string) string {
	address := strings.TrimSpace(sender)
	if parsed, err := mail.ParseAddress(address); err == nil {
		address = parsed.Address
	}

	at := strings.LastIndex(address, "@")
	if at < 0 || at == len(address)-1 {
		return ""
	}
	return strings.ToLower(strings.Trim(address[at+1:], "<> "))
}
