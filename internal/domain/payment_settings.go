package domain

import "time"

type CredentialStatus string

const (
	CredentialValid   CredentialStatus = "valid"
	CredentialInvalid CredentialStatus = "invalid"
)

// GmailCredentials are a tenant's mailbox OAuth tokens.
type GmailCredentials struct {
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	TokenExpiry  time.Time `json:"tokenExpiry"`
	Email        string    `json:"email"`
}

// Expired reports whether the access token must be refreshed before use.
func (c GmailCredentials) Expired(now time.Time, skew time.Duration) bool {
	return c.AccessToken == "" || !now.Add(skew).Before(c.TokenExpiry)
}

func (c GmailCredentials) Empty() bool {
	return c.AccessToken == "" && c.RefreshToken == ""
}

// PaymentSettings is the per-school payment configuration.
type PaymentSettings struct {
	SchoolID         string           `json:"schoolId" db:"school_id"`
	UpiID            string           `json:"upiId" db:"upi_id"`
	QRCodeRef        *string          `json:"qrCodeRef,omitempty" db:"qr_code_ref"`
	Gmail            GmailCredentials `json:"gmailCredentials"`
	CredentialStatus CredentialStatus `json:"credentialStatus" db:"credential_status"`
	CredentialError  *string          `json:"credentialError,omitempty" db:"credential_error"`
	UpdatedAt        time.Time        `json:"updatedAt" db:"updated_at"`
}

// CredentialHealth summarises one tenant's mailbox credential state.
type CredentialHealth struct {
	SchoolID    string           `json:"schoolId"`
	Email       string           `json:"email"`
	Status      CredentialStatus `json:"status"`
	TokenExpiry time.Time        `json:"tokenExpiry"`
	Error       *string          `json:"error,omitempty"`
}
