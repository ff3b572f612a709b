package mailbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fee-recon/internal/domain"
	"fee-recon/pkg/logger"
)

// DefaultExpirySkew refreshes tokens slightly before they expire.
const DefaultExpirySkew = time.Minute

// CredentialStore persists tenant mailbox credentials. CompareAndSwap only
// replaces credentials whose access token still equals old's, so concurrent
// refreshes cannot overwrite each other silently.
type CredentialStore interface {
	Get(ctx context.Context, schoolID string) (*domain.PaymentSettings, error)
	CompareAndSwap(ctx context.Context, schoolID string, old, updated domain.GmailCredentials) (bool, error)
	MarkInvalid(ctx context.Context, schoolID, reason string) error
	ListActive(ctx context.Context) ([]domain.PaymentSettings, error)
	ListHealth(ctx context.Context) ([]domain.CredentialHealth, error)
}

// Fetcher opens mailbox sessions for tenants, refreshing expired tokens first.
type Fetcher struct {
	provider Provider
	store    CredentialStore
	skew     time.Duration
	clock    func() time.Time
}

func NewFetcher(provider Provider, store CredentialStore) *Fetcher {
	return &Fetcher{
		provider: provider,
		store:    store,
		skew:     DefaultExpirySkew,
		clock:    time.Now,
	}
}

// WithClock replaces the time source.
func (f *Fetcher) WithClock(clock func() time.Time) *Fetcher {
	f.clock = clock
	return f
}

// Open returns a mailbox session for the tenant. settings.Gmail is updated in
// place when the token is refreshed.
func (f *Fetcher) Open(ctx context.Context, settings *domain.PaymentSettings) (Client, error) {
	creds, err := f.EnsureFresh(ctx, settings)
	if err != nil {
		return nil, err
	}

	client, err := f.provider.Connect(ctx, creds.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("connect mailbox: %w", err)
	}
	return client, nil
}

// EnsureFresh walks the credential state machine: valid credentials are
// returned as is, expired ones are refreshed and persisted, revoked ones are
// marked invalid.
func (f *Fetcher) EnsureFresh(ctx context.Context, settings *domain.PaymentSettings) (domain.GmailCredentials, error) {
	log := logger.ForSchool(settings.SchoolID)

	if settings.CredentialStatus == domain.CredentialInvalid {
		return domain.GmailCredentials{}, domain.ErrCredentialsInvalid
	}

	creds := settings.Gmail
	if creds.Empty() {
		return domain.GmailCredentials{}, domain.ErrCredentialsMissing
	}
	if !creds.Expired(f.clock(), f.skew) {
		return creds, nil
	}

	if creds.RefreshToken == "" {
		f.markInvalid(ctx, settings, "access token expired and no refresh token stored")
		return domain.GmailCredentials{}, domain.ErrCredentialsInvalid
	}

	log.Info("Refreshing mailbox access token")

	tok, err := f.provider.RefreshToken(ctx, creds.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrInvalidGrant) {
			f.markInvalid(ctx, settings, err.Error())
			return domain.GmailCredentials{}, fmt.Errorf("%w: %v", domain.ErrCredentialsInvalid, err)
		}
		return domain.GmailCredentials{}, fmt.Errorf("refresh access token: %w", err)
	}

	updated := creds
	updated.AccessToken = tok.AccessToken
	updated.RefreshToken = tok.RefreshToken
	updated.TokenExpiry = tok.Expiry

	swapped, err := f.store.CompareAndSwap(ctx, settings.SchoolID, creds, updated)
	if err != nil {
		return domain.GmailCredentials{}, fmt.Errorf("persist refreshed token: %w", err)
	}

	if !swapped {
		// Another writer refreshed first; use what it stored.
		current, err := f.store.Get(ctx, settings.SchoolID)
		if err != nil {
			return domain.GmailCredentials{}, fmt.Errorf("reload credentials: %w", err)
		}
		if current.CredentialStatus == domain.CredentialInvalid {
			return domain.GmailCredentials{}, domain.ErrCredentialsInvalid
		}
		if current.Gmail.Expired(f.clock(), f.skew) {
			return domain.GmailCredentials{}, fmt.Errorf("credentials changed concurrently and are still expired")
		}
		log.Debug("Lost token refresh race, using stored credentials")
		settings.Gmail = current.Gmail
		return current.Gmail, nil
	}

	settings.Gmail = updated
	log.WithField("expiry", updated.TokenExpiry).Info("Mailbox access token refreshed")
	return updated, nil
}

// ExpireAccessToken forces a refresh on the next Open, used when the mailbox
// rejects a token that has not reached its recorded expiry.
func (f *Fetcher) ExpireAccessToken(ctx context.Context, settings *domain.PaymentSettings) error {
	expired := settings.Gmail
	expired.TokenExpiry = time.Time{}

	swapped, err := f.store.CompareAndSwap(ctx, settings.SchoolID, settings.Gmail, expired)
	if err != nil {
		return fmt.Errorf("expire access token: %w", err)
	}
	if swapped {
		settings.Gmail = expired
	}
	return nil
}

func (f *Fetcher) markInvalid(ctx context.Context, settings *domain.PaymentSettings, reason string) {
	log := logger.ForSchool(settings.SchoolID)
	log.WithField("reason", reason).Warn("Mailbox credentials invalid, re-authorization required")

	if err := f.store.MarkInvalid(ctx, settings.SchoolID, reason); err != nil {
		log.WithError(err).Error("Failed to flag mailbox credentials as invalid")
		return
	}
	settings.CredentialStatus = domain.CredentialInvalid
	settings.CredentialError = &reason
}
