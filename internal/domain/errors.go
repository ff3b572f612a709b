package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrPaymentNotPending    = errors.New("fee payment is no longer pending")
	ErrCredentialsMissing   = errors.New("mailbox credentials missing")
	ErrCredentialsInvalid   = errors.New("mailbox credentials invalid, re-authorization required")
	ErrTenantBusy           = errors.New("reconciliation already running for school")
	ErrLedgerDrift          = errors.New("fee payment paid but installment update failed")
	ErrDuplicateTransaction = errors.New("transaction already logged")
)
