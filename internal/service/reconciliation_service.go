package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"fee-recon/internal/domain"
	"fee-recon/internal/extractor"
	"fee-recon/internal/ledger"
	"fee-recon/internal/mailbox"
	"fee-recon/internal/matcher"
	"fee-recon/internal/repository"
	"fee-recon/pkg/logger"
)

// maxMatchAttempts bounds re-matching after losing a pending -> paid race.
const maxMatchAttempts = 3

const maxRawEmailBytes = 16 << 10

// messageTimeout bounds the writes for one message. They run detached from
// the run context so a shutdown never stops a message half way.
const messageTimeout = 30 * time.Second

type ReconciliationService interface {
	ProcessTenant(ctx context.Context, schoolID string) (*domain.RunSummary, error)
	RunAll(ctx context.Context) (*domain.RunSummary, error)
	VerifyManually(ctx context.Context, schoolID, feePaymentID, transactionID, payerUPI string) (*ledger.Receipt, error)
	ListLogs(ctx context.Context, filter domain.LogFilter) ([]domain.PaymentLog, int, error)
	Stats(ctx context.Context, schoolID string) ([]domain.StatusStat, error)
	CredentialHealth(ctx context.Context) ([]domain.CredentialHealth, error)
	RepairLedger(ctx context.Context, schoolID string) (int, error)
}

// MailboxOpener hands out authenticated mailbox clients for a tenant.
type MailboxOpener interface {
	Open(ctx context.Context, settings *domain.PaymentSettings) (mailbox.Client, error)
	ExpireAccessToken(ctx context.Context, settings *domain.PaymentSettings) error
}

type PaymentMatcher interface {
	MatchExcluding(ctx context.Context, q matcher.Query, exclude map[string]bool) (*domain.FeePayment, error)
}

type LedgerUpdater interface {
	Apply(ctx context.Context, fp *domain.FeePayment, payment domain.ExtractedPayment) (*ledger.Receipt, error)
	Repair(ctx context.Context, schoolID string) (int, error)
}

type Options struct {
	PageSize          int64
	TenantConcurrency int
	// MailboxQuery overrides the query built from known provider sender domains.
	MailboxQuery string
}

type reconciliationService struct {
	settings mailbox.CredentialStore
	payments repository.FeePaymentRepository
	logs     repository.PaymentLogRepository
	mailbox  MailboxOpener
	matcher  PaymentMatcher
	ledger   LedgerUpdater

	pageSize    int64
	concurrency int
	query       string

	mu      sync.Mutex
	running map[string]bool
}

func NewReconciliationService(
	settings mailbox.CredentialStore,
	payments repository.FeePaymentRepository,
	logs repository.PaymentLogRepository,
	opener MailboxOpener,
	m PaymentMatcher,
	l LedgerUpdater,
	opts Options,
) ReconciliationService {
	if opts.PageSize <= 0 {
		opts.PageSize = 10
	}
	if opts.TenantConcurrency <= 0 {
		opts.TenantConcurrency = 1
	}
	if opts.MailboxQuery == "" {
		opts.MailboxQuery = mailbox.BuildQuery(extractor.SenderDomains())
	}

	return &reconciliationService{
		settings:    settings,
		payments:    payments,
		logs:        logs,
		mailbox:     opener,
		matcher:     m,
		ledger:      l,
		pageSize:    opts.PageSize,
		concurrency: opts.TenantConcurrency,
		query:       opts.MailboxQuery,
		running:     make(map[string]bool),
	}
}

func (s *reconciliationService) tryLock(schoolID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[schoolID] {
		return false
	}
	s.running[schoolID] = true
	return true
}

func (s *reconciliationService) unlock(schoolID string) {
	s.mu.Lock()
	delete(s.running, schoolID)
	s.mu.Unlock()
}

// ProcessTenant runs one reconciliation pass over a single school's mailbox.
func (s *reconciliationService) ProcessTenant(ctx context.Context, schoolID string) (*domain.RunSummary, error) {
	if !s.tryLock(schoolID) {
		return nil, fmt.Errorf("school %s: %w", schoolID, domain.ErrTenantBusy)
	}
	defer s.unlock(schoolID)

	settings, err := s.settings.Get(ctx, schoolID)
	if err != nil {
		return nil, err
	}

	summary, err := s.processTenant(ctx, settings)
	if err != nil {
		return nil, err
	}
	summary.Tenants = 1
	return summary, nil
}

// RunAll processes every tenant with active mailbox credentials. A failing
// tenant is counted and logged without affecting the others.
func (s *reconciliationService) RunAll(ctx context.Context) (*domain.RunSummary, error) {
	tenants, err := s.settings.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active tenants: %w", err)
	}

	var (
		mu      sync.Mutex
		summary = &domain.RunSummary{Tenants: len(tenants)}
		g       errgroup.Group
	)
	g.SetLimit(s.concurrency)

	for i := range tenants {
		settings := tenants[i]
		g.Go(func() error {
			log := logger.ForSchool(settings.SchoolID)

			if !s.tryLock(settings.SchoolID) {
				log.Info("Reconciliation already running, skipping school")
				mu.Lock()
				summary.TenantsSkipped++
				mu.Unlock()
				return nil
			}
			defer s.unlock(settings.SchoolID)

			tenantSummary, err := s.processTenant(ctx, &settings)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.WithError(err).Error("Tenant reconciliation failed")
				summary.Errors++
				return nil
			}
			summary.Add(*tenantSummary)
			return nil
		})
	}
	_ = g.Wait()

	logger.GetLogger().WithFields(map[string]interface{}{
		"tenants":         summary.Tenants,
		"tenants_skipped": summary.TenantsSkipped,
		"processed":       summary.Processed,
		"matched":         summary.Matched,
		"unmatched":       summary.Unmatched,
		"duplicates":      summary.Duplicates,
		"skipped":         summary.Skipped,
		"errors":          summary.Errors,
	}).Info("Reconciliation run completed")

	return summary, nil
}

func (s *reconciliationService) processTenant(ctx context.Context, settings *domain.PaymentSettings) (*domain.RunSummary, error) {
	log := logger.ForSchool(settings.SchoolID)

	client, err := s.mailbox.Open(ctx, settings)
	if err != nil {
		return nil, fmt.Errorf("open mailbox: %w", err)
	}

	ids, err := client.ListUnread(ctx, s.query, s.pageSize)
	if err != nil {
		if errors.Is(err, mailbox.ErrUnauthorized) {
			if expireErr := s.mailbox.ExpireAccessToken(ctx, settings); expireErr != nil {
				log.WithError(expireErr).Warn("Failed to expire rejected access token")
			}
		}
		return nil, fmt.Errorf("list unread messages: %w", err)
	}

	summary := &domain.RunSummary{}
	for _, id := range ids {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}

		summary.Processed++
		msgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), messageTimeout)
		result, err := s.processMessage(msgCtx, client, settings, id)
		cancel()
		if err != nil {
			log.WithError(err).WithField("message_id", id).Error("Failed to process message")
			summary.Errors++
			continue
		}

		switch result {
		case messageMatched:
			summary.Matched++
		case messageUnmatched:
			summary.Unmatched++
		case messageDuplicate:
			summary.Duplicates++
		case messageSkipped:
			summary.Skipped++
		}
	}

	if len(ids) > 0 {
		log.WithFields(map[string]interface{}{
			"processed":  summary.Processed,
			"matched":    summary.Matched,
			"unmatched":  summary.Unmatched,
			"duplicates": summary.Duplicates,
		}).Info("Processed mailbox page")
	}
	return summary, nil
}

// VerifyManually settles a fee payment from an operator-supplied transaction.
// A manual log left processing by an interrupted call is resumed.
func (s *reconciliationService) VerifyManually(ctx context.Context, schoolID, feePaymentID, transactionID, payerUPI string) (*ledger.Receipt, error) {
	fp, err := s.payments.GetByID(ctx, feePaymentID)
	if err != nil {
		return nil, err
	}
	if fp.SchoolID != schoolID {
		return nil, fmt.Errorf("fee payment %s: %w", feePaymentID, domain.ErrNotFound)
	}

	entry, err := s.logs.FindByTransaction(ctx, schoolID, transactionID)
	switch {
	case err == nil && entry.Status != domain.LogProcessing:
		return nil, fmt.Errorf("transaction %s: %w", transactionID, domain.ErrDuplicateTransaction)
	case err == nil:
		logger.ForSchool(schoolID).WithField("payment_log_id", entry.ID).Info("Resuming interrupted manual verification")
	case errors.Is(err, domain.ErrNotFound):
		entry = nil
	default:
		return nil, err
	}

	if !fp.IsPending() {
		if entry == nil {
			return nil, fmt.Errorf("fee payment %s: %w", feePaymentID, domain.ErrPaymentNotPending)
		}
		if fp.TransactionID != nil && *fp.TransactionID == transactionID {
			if err := s.logs.Finalize(ctx, entry.ID, matchedOutcome(fp, "settled in an earlier attempt")); err != nil {
				return nil, fmt.Errorf("finalize payment log %s: %w", entry.ID, err)
			}
			return ledger.ReceiptFor(fp), nil
		}
		return nil, s.rejectManual(ctx, entry, fp)
	}

	payment := domain.ExtractedPayment{
		TransactionID: transactionID,
		Amount:        fp.Amount,
		PayerHandle:   payerUPI,
		Provider:      providerManual,
	}

	if entry == nil {
		entry = manualLog(schoolID, payment)
		inserted, err := s.logs.Create(ctx, entry)
		if err != nil {
			return nil, err
		}
		if !inserted {
			return nil, fmt.Errorf("transaction %s: %w", transactionID, domain.ErrDuplicateTransaction)
		}
	}

	receipt, applyErr := s.ledger.Apply(ctx, fp, payment)
	switch {
	case errors.Is(applyErr, domain.ErrPaymentNotPending):
		return nil, s.rejectManual(ctx, entry, fp)
	case applyErr != nil && !errors.Is(applyErr, domain.ErrLedgerDrift):
		return nil, fmt.Errorf("apply manual payment: %w", applyErr)
	}

	if err := s.logs.Finalize(ctx, entry.ID, settledOutcome(fp, receipt, applyErr)); err != nil {
		logger.ForSchool(schoolID).WithError(err).WithField("payment_log_id", entry.ID).Error("Failed to finalize manual verification log")
	}

	logger.ForSchool(schoolID).WithFields(map[string]interface{}{
		"fee_payment_id": feePaymentID,
		"transaction_id": transactionID,
	}).Info("Fee payment verified manually")

	return receipt, nil
}

// rejectManual closes a manual log whose fee payment was settled by another
// transaction.
func (s *reconciliationService) rejectManual(ctx context.Context, entry *domain.PaymentLog, fp *domain.FeePayment) error {
	outcome := domain.LogOutcome{Status: domain.LogUnmatched, Notes: "fee payment " + fp.ID + " no longer pending"}
	if err := s.logs.Finalize(ctx, entry.ID, outcome); err != nil {
		logger.ForSchool(fp.SchoolID).WithError(err).WithField("payment_log_id", entry.ID).Error("Failed to finalize manual verification log")
	}
	return fmt.Errorf("fee payment %s: %w", fp.ID, domain.ErrPaymentNotPending)
}

func (s *reconciliationService) ListLogs(ctx context.Context, filter domain.LogFilter) ([]domain.PaymentLog, int, error) {
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	return s.logs.List(ctx, filter)
}

func (s *reconciliationService) Stats(ctx context.Context, schoolID string) ([]domain.StatusStat, error) {
	return s.payments.StatsBySchool(ctx, schoolID)
}

func (s *reconciliationService) CredentialHealth(ctx context.Context) ([]domain.CredentialHealth, error) {
	return s.settings.ListHealth(ctx)
}

func (s *reconciliationService) RepairLedger(ctx context.Context, schoolID string) (int, error) {
	return s.ledger.Repair(ctx, schoolID)
}

// settle resolves a processing log to its outcome. A resumed log whose
// transaction already paid a fee payment is matched to it without a new match.
func (s *reconciliationService) settle(ctx context.Context, schoolID string, payment domain.ExtractedPayment, resumed bool) (domain.LogOutcome, error) {
	if resumed {
		fp, err := s.payments.FindByTransaction(ctx, schoolID, payment.TransactionID)
		if err == nil {
			return matchedOutcome(fp, "settled in an earlier run"), nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.LogOutcome{}, fmt.Errorf("find settled fee payment: %w", err)
		}
	}
	return s.matchAndApply(ctx, schoolID, payment)
}

// matchAndApply finds a pending fee payment for the payment and settles it.
// Matcher and ledger failures are returned so the log stays processing and
// the message is retried.
func (s *reconciliationService) matchAndApply(ctx context.Context, schoolID string, payment domain.ExtractedPayment) (domain.LogOutcome, error) {
	q := matcher.Query{
		SchoolID:      schoolID,
		Amount:        payment.Amount,
		PayerHandle:   payment.PayerHandle,
		TransactionID: payment.TransactionID,
	}
	exclude := make(map[string]bool)

	for attempt := 0; attempt < maxMatchAttempts; attempt++ {
		fp, err := s.matcher.MatchExcluding(ctx, q, exclude)
		if err != nil {
			return domain.LogOutcome{}, fmt.Errorf("match payment: %w", err)
		}
		if fp == nil {
			return domain.LogOutcome{
				Status: domain.LogUnmatched,
				Notes:  fmt.Sprintf("no pending fee payment of %s", formatAmount(payment.Amount)),
			}, nil
		}

		receipt, err := s.ledger.Apply(ctx, fp, payment)
		switch {
		case errors.Is(err, domain.ErrPaymentNotPending):
			exclude[fp.ID] = true
			continue
		case err != nil && !errors.Is(err, domain.ErrLedgerDrift):
			return domain.LogOutcome{}, fmt.Errorf("apply payment to %s: %w", fp.ID, err)
		}
		return settledOutcome(fp, receipt, err), nil
	}

	return domain.LogOutcome{
		Status: domain.LogUnmatched,
		Notes:  fmt.Sprintf("lost %d consecutive matches to concurrent updates", maxMatchAttempts),
	}, nil
}

// settledOutcome is the matched outcome of a successful Apply, err being nil
// or a ledger drift.
func settledOutcome(fp *domain.FeePayment, receipt *ledger.Receipt, err error) domain.LogOutcome {
	if err != nil {
		return matchedOutcome(fp, "fee payment paid, installment pending repair: "+err.Error())
	}
	return matchedOutcome(fp, "settled with receipt "+receipt.ReceiptNumber)
}

func matchedOutcome(fp *domain.FeePayment, notes string) domain.LogOutcome {
	feeID, paymentID, studentID := fp.FeeID, fp.ID, fp.StudentID
	return domain.LogOutcome{
		Status:              domain.LogMatched,
		MatchedFeeID:        &feeID,
		MatchedFeePaymentID: &paymentID,
		MatchedStudentID:    &studentID,
		Notes:               notes,
	}
}

func formatAmount(d decimal.Decimal) string {
	return "₹" + d.StringFixed(2)
}
