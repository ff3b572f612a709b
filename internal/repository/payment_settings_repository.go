package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fee-recon/internal/domain"
	"fee-recon/pkg/logger"
)

// PaymentSettingsRepository stores per-school payment settings and doubles as
// the mailbox credential store.
type PaymentSettingsRepository struct {
	db *sql.DB
}

func NewPaymentSettingsRepository(db *sql.DB) *PaymentSettingsRepository {
	return &PaymentSettingsRepository{db: db}
}

const paymentSettingsColumns = `
	school_id, upi_id, qr_code_ref,
	gmail_access_token, gmail_refresh_token, gmail_token_expiry, gmail_email,
	credential_status, credential_error, updated_at
`

func scanPaymentSettings(row rowScanner) (*domain.PaymentSettings, error) {
	var (
		s            domain.PaymentSettings
		accessToken  sql.NullString
		refreshToken sql.NullString
		expiry       sql.NullTime
		email        sql.NullString
	)

	err := row.Scan(
		&s.SchoolID,
		&s.UpiID,
		&s.QRCodeRef,
		&accessToken,
		&refreshToken,
		&expiry,
		&email,
		&s.CredentialStatus,
		&s.CredentialError,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Gmail = domain.GmailCredentials{
		AccessToken:  accessToken.String,
		RefreshToken: refreshToken.String,
		TokenExpiry:  expiry.Time,
		Email:        email.String,
	}
	return &s, nil
}

func (r *PaymentSettingsRepository) Get(ctx context.Context, schoolID string) (*domain.PaymentSettings, error) {
	query := `SELECT ` + paymentSettingsColumns + ` FROM payment_settings WHERE school_id = $1`

	s, err := scanPaymentSettings(r.db.QueryRowContext(ctx, query, schoolID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment settings for %s: %w", schoolID, domain.ErrNotFound)
	}
	if err != nil {
		logger.ForSchool(schoolID).WithError(err).Error("Failed to get payment settings")
		return nil, err
	}
	return s, nil
}

// ListActive returns schools with stored mailbox credentials not flagged invalid.
func (r *PaymentSettingsRepository) ListActive(ctx context.Context) ([]domain.PaymentSettings, error) {
	query := `SELECT ` + paymentSettingsColumns + `
		FROM payment_settings
		WHERE gmail_email IS NOT NULL
			AND (gmail_access_token IS NOT NULL OR gmail_refresh_token IS NOT NULL)
			AND credential_status = 'valid'
		ORDER BY school_id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		logger.GetLogger().WithError(err).Error("Failed to query payment settings")
		return nil, err
	}
	defer rows.Close()

	var settings []domain.PaymentSettings
	for rows.Next() {
		s, err := scanPaymentSettings(rows)
		if err != nil {
			logger.GetLogger().WithError(err).Error("Failed to scan payment settings")
			continue
		}
		settings = append(settings, *s)
	}
	return settings, rows.Err()
}

func (r *PaymentSettingsRepository) CompareAndSwap(ctx context.Context, schoolID string, old, updated domain.GmailCredentials) (bool, error) {
	query := `
		UPDATE payment_settings
		SET gmail_access_token = $2, gmail_refresh_token = $3, gmail_token_expiry = $4,
			updated_at = NOW()
		WHERE school_id = $1 AND COALESCE(gmail_access_token, '') = $5
	`

	res, err := r.db.ExecContext(ctx, query,
		schoolID,
		nullIfEmpty(updated.AccessToken),
		nullIfEmpty(updated.RefreshToken),
		updated.TokenExpiry,
		old.AccessToken,
	)
	if err != nil {
		logger.ForSchool(schoolID).WithError(err).Error("Failed to swap mailbox credentials")
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *PaymentSettingsRepository) MarkInvalid(ctx context.Context, schoolID, reason string) error {
	query := `
		UPDATE payment_settings
		SET credential_status = 'invalid', credential_error = $2, updated_at = NOW()
		WHERE school_id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, schoolID, reason); err != nil {
		logger.ForSchool(schoolID).WithError(err).Error("Failed to mark credentials invalid")
		return err
	}
	return nil
}

// ListHealth reports the credential state of every school with a connected mailbox.
func (r *PaymentSettingsRepository) ListHealth(ctx context.Context) ([]domain.CredentialHealth, error) {
	query := `
		SELECT school_id, gmail_email, credential_status, gmail_token_expiry, credential_error
		FROM payment_settings
		WHERE gmail_email IS NOT NULL
		ORDER BY credential_status DESC, school_id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		logger.GetLogger().WithError(err).Error("Failed to query credential health")
		return nil, err
	}
	defer rows.Close()

	var health []domain.CredentialHealth
	for rows.Next() {
		var (
			h      domain.CredentialHealth
			expiry sql.NullTime
		)
		if err := rows.Scan(&h.SchoolID, &h.Email, &h.Status, &expiry, &h.Error); err != nil {
			return nil, err
		}
		h.TokenExpiry = expiry.Time
		health = append(health, h)
	}
	return health, rows.Err()
}
