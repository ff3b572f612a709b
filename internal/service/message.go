package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"fee-recon/internal/domain"
	"fee-recon/internal/extractor"
	"fee-recon/internal/mailbox"
	"fee-recon/pkg/logger"
)

const providerManual = "manual"

type messageResult int

const (
	messageSkipped messageResult = iota
	messageDuplicate
	messageMatched
	messageUnmatched
)

// processMessage runs one unread message through extract, log, match and
// apply. A message is marked read only after its log row reaches a terminal
// status. Messages that are not payments stay unread, and a failed message
// keeps its processing row for the next run to resume.
func (s *reconciliationService) processMessage(ctx context.Context, client mailbox.Client, settings *domain.PaymentSettings, id string) (messageResult, error) {
	msg, err := client.GetMessage(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("get message: %w", err)
	}

	res := extractor.Extract(extractor.Email{
		Subject:    msg.Subject,
		From:       msg.From,
		Body:       msg.Body,
		ReceivedAt: msg.ReceivedAt,
	}, settings.UpiID)

	switch res.Outcome {
	case extractor.NotAPayment:
		return messageSkipped, nil
	case extractor.Incomplete:
		return s.recordIncomplete(ctx, client, settings.SchoolID, msg, res)
	}

	payment := res.Payment
	log := logger.ForSchool(settings.SchoolID).WithFields(map[string]interface{}{
		"message_id":     msg.ID,
		"transaction_id": payment.TransactionID,
	})

	entry, err := s.logs.FindByTransaction(ctx, settings.SchoolID, payment.TransactionID)
	resumed := err == nil
	switch {
	case resumed && entry.Status != domain.LogProcessing:
		log.Debug("Transaction already logged")
		s.markRead(ctx, client, settings.SchoolID, msg.ID)
		return messageDuplicate, nil
	case resumed:
		log.WithField("payment_log_id", entry.ID).Info("Resuming interrupted payment log")
	case errors.Is(err, domain.ErrNotFound):
		entry = newLog(settings.SchoolID, msg, res, domain.LogProcessing, "")
		inserted, err := s.logs.Create(ctx, entry)
		if err != nil {
			return 0, err
		}
		if !inserted {
			log.Debug("Transaction logged concurrently")
			s.markRead(ctx, client, settings.SchoolID, msg.ID)
			return messageDuplicate, nil
		}
	default:
		return 0, err
	}

	outcome, err := s.settle(ctx, settings.SchoolID, payment, resumed)
	if err != nil {
		return 0, err
	}
	if err := s.logs.Finalize(ctx, entry.ID, outcome); err != nil {
		return 0, fmt.Errorf("finalize payment log %s: %w", entry.ID, err)
	}
	s.markRead(ctx, client, settings.SchoolID, msg.ID)

	log.WithFields(map[string]interface{}{
		"status": outcome.Status,
		"notes":  outcome.Notes,
	}).Info("Payment email reconciled")

	if outcome.Status == domain.LogMatched {
		return messageMatched, nil
	}
	return messageUnmatched, nil
}

// recordIncomplete logs a payment-like email missing its transaction id or
// amount, keyed by message id so it is recorded once.
func (s *reconciliationService) recordIncomplete(ctx context.Context, client mailbox.Client, schoolID string, msg *mailbox.Message, res extractor.Result) (messageResult, error) {
	exists, err := s.logs.ExistsMessage(ctx, schoolID, msg.ID)
	if err != nil {
		return 0, err
	}
	if exists {
		s.markRead(ctx, client, schoolID, msg.ID)
		return messageDuplicate, nil
	}

	notes := "incomplete extraction, missing " + strings.Join(res.Missing, ", ")
	entry := newLog(schoolID, msg, res, domain.LogUnmatched, notes)
	inserted, err := s.logs.Create(ctx, entry)
	if err != nil {
		return 0, err
	}
	s.markRead(ctx, client, schoolID, msg.ID)
	if !inserted {
		return messageDuplicate, nil
	}

	logger.ForSchool(schoolID).WithFields(map[string]interface{}{
		"message_id": msg.ID,
		"missing":    res.Missing,
	}).Warn("Payment email could not be fully extracted")
	return messageUnmatched, nil
}

func (s *reconciliationService) markRead(ctx context.Context, client mailbox.Client, schoolID, messageID string) {
	if err := client.MarkRead(ctx, messageID); err != nil {
		logger.ForSchool(schoolID).WithError(err).WithField("message_id", messageID).Warn("Failed to mark message read")
	}
}

func newLog(schoolID string, msg *mailbox.Message, res extractor.Result, status domain.LogStatus, notes string) *domain.PaymentLog {
	entry := &domain.PaymentLog{
		ID:              uuid.NewString(),
		SchoolID:        schoolID,
		MessageID:       msg.ID,
		RawEmailData:    truncate(msg.Body, maxRawEmailBytes),
		Provider:        res.Payment.Provider,
		Status:          status,
		EmailSubject:    msg.Subject,
		EmailFrom:       msg.From,
		EmailDate:       msg.ReceivedAt,
		ProcessingNotes: notes,
	}

	if txID := res.Payment.TransactionID; txID != "" {
		entry.TransactionID = &txID
	}
	if amount := res.Payment.Amount; amount.IsPositive() {
		entry.Amount = &amount
	}
	if payer := res.Payment.PayerHandle; payer != "" {
		entry.PayerUpi = &payer
	}
	return entry
}

func manualLog(schoolID string, payment domain.ExtractedPayment) *domain.PaymentLog {
	txID := payment.TransactionID
	amount := payment.Amount
	entry := &domain.PaymentLog{
		ID:              uuid.NewString(),
		SchoolID:        schoolID,
		MessageID:       providerManual + ":" + txID,
		TransactionID:   &txID,
		Amount:          &amount,
		Provider:        providerManual,
		Status:          domain.LogProcessing,
		EmailDate:       time.Now(),
		ProcessingNotes: "manual verification",
	}
	if payment.PayerHandle != "" {
		payer := payment.PayerHandle
		entry.PayerUpi = &payer
	}
	return entry
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
