package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"fee-recon/internal/domain"
	"fee-recon/internal/mailbox"
)

type memSettings struct {
	mu       sync.Mutex
	settings map[string]*domain.PaymentSettings
}

func newMemSettings(list ...domain.PaymentSettings) *memSettings {
	m := &memSettings{settings: map[string]*domain.PaymentSettings{}}
	for i := range list {
		s := list[i]
		m.settings[s.SchoolID] = &s
	}
	return m
}

func (m *memSettings) Get(_ context.Context, schoolID string) (*domain.PaymentSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settings[schoolID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSettings) CompareAndSwap(_ context.Context, schoolID string, old, updated domain.GmailCredentials) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settings[schoolID]
	if !ok || s.Gmail.AccessToken != old.AccessToken {
		return false, nil
	}
	email := s.Gmail.Email
	s.Gmail = updated
	s.Gmail.Email = email
	return true, nil
}

func (m *memSettings) MarkInvalid(_ context.Context, schoolID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.settings[schoolID]; ok {
		s.CredentialStatus = domain.CredentialInvalid
		s.CredentialError = &reason
	}
	return nil
}

func (m *memSettings) ListActive(_ context.Context) ([]domain.PaymentSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PaymentSettings
	for _, s := range m.settings {
		if s.CredentialStatus == domain.CredentialValid && !s.Gmail.Empty() {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SchoolID < out[j].SchoolID })
	return out, nil
}

func (m *memSettings) ListHealth(_ context.Context) ([]domain.CredentialHealth, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.CredentialHealth
	for _, s := range m.settings {
		out = append(out, domain.CredentialHealth{SchoolID: s.SchoolID, Email: s.Gmail.Email, Status: s.CredentialStatus})
	}
	return out, nil
}

// memLedger backs fee payments and fees.
type memLedger struct {
	mu       sync.Mutex
	payments map[string]*domain.FeePayment
	fees     map[string]*domain.Fee
}

func newMemLedger() *memLedger {
	return &memLedger{payments: map[string]*domain.FeePayment{}, fees: map[string]*domain.Fee{}}
}

func (m *memLedger) addPending(id, schoolID, feeID string, amount int64, created time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fee, ok := m.fees[feeID]
	if !ok {
		fee = &domain.Fee{ID: feeID, SchoolID: schoolID, StudentID: "stu-" + feeID}
		m.fees[feeID] = fee
	}
	fee.Installments = append(fee.Installments, domain.FeeInstallment{
		Amount:     decimal.NewFromInt(amount),
		PaidAmount: decimal.Zero,
		DueDate:    created.Add(30 * 24 * time.Hour),
		Status:     domain.InstallmentPending,
	})
	m.payments[id] = &domain.FeePayment{
		ID:               id,
		SchoolID:         schoolID,
		StudentID:        fee.StudentID,
		FeeID:            feeID,
		InstallmentIndex: len(fee.Installments) - 1,
		Amount:           decimal.NewFromInt(amount),
		Status:           domain.FeePaymentPending,
		CreatedAt:        created,
	}
}

func (m *memLedger) payment(id string) domain.FeePayment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.payments[id]
}

func (m *memLedger) installment(feeID string, index int) domain.FeeInstallment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fees[feeID].Installments[index]
}

func (m *memLedger) GetByID(_ context.Context, id string) (*domain.FeePayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fp, ok := m.payments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *fp
	return &cp, nil
}

func (m *memLedger) FindPending(_ context.Context, schoolID string, amount decimal.Decimal, createdAfter *time.Time) ([]domain.FeePayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.FeePayment
	for _, fp := range m.payments {
		if fp.SchoolID != schoolID || fp.Status != domain.FeePaymentPending || !fp.Amount.Equal(amount) {
			continue
		}
		if createdAfter != nil && fp.CreatedAt.Before(*createdAfter) {
			continue
		}
		out = append(out, *fp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *memLedger) MarkPaid(_ context.Context, id string, t domain.PaidTransition) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fp, ok := m.payments[id]
	if !ok || fp.Status != domain.FeePaymentPending {
		return false, nil
	}
	fp.Status = domain.FeePaymentPaid
	txID, receipt, paid := t.TransactionID, t.ReceiptNumber, t.PaidDate
	fp.TransactionID = &txID
	fp.ReceiptNumber = &receipt
	fp.PaidDate = &paid
	if t.PayerUpiID != "" {
		payer := t.PayerUpiID
		fp.PayerUpiID = &payer
	}
	fp.PaymentAttempts = append(fp.PaymentAttempts, t.Attempt)
	return true, nil
}

func (m *memLedger) FindByTransaction(_ context.Context, schoolID, transactionID string) (*domain.FeePayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, fp := range m.payments {
		if fp.SchoolID == schoolID && fp.TransactionID != nil && *fp.TransactionID == transactionID {
			cp := *fp
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memLedger) ListPaid(_ context.Context, schoolID string) ([]domain.FeePayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.FeePayment
	for _, fp := range m.payments {
		if fp.SchoolID == schoolID && fp.Status == domain.FeePaymentPaid {
			out = append(out, *fp)
		}
	}
	return out, nil
}

func (m *memLedger) StatsBySchool(_ context.Context, schoolID string) ([]domain.StatusStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byStatus := map[domain.FeePaymentStatus]*domain.StatusStat{}
	for _, fp := range m.payments {
		if fp.SchoolID != schoolID {
			continue
		}
		st, ok := byStatus[fp.Status]
		if !ok {
			st = &domain.StatusStat{Status: fp.Status, TotalAmount: decimal.Zero}
			byStatus[fp.Status] = st
		}
		st.Count++
		st.TotalAmount = st.TotalAmount.Add(fp.Amount)
	}
	var out []domain.StatusStat
	for _, st := range byStatus {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Status < out[j].Status })
	return out, nil
}

// memFees adapts memLedger to the fee store used by the ledger updater.
type memFees struct{ *memLedger }

func (f memFees) GetByID(_ context.Context, id string) (*domain.Fee, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fee, ok := f.fees[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *fee
	cp.Installments = append(domain.Installments(nil), fee.Installments...)
	return &cp, nil
}

func (f memFees) UpdateInstallment(_ context.Context, feeID string, index int, fn func(*domain.FeeInstallment) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fee, ok := f.fees[feeID]
	if !ok || index >= len(fee.Installments) {
		return domain.ErrNotFound
	}
	return fn(&fee.Installments[index])
}

type memLogs struct {
	mu   sync.Mutex
	logs []*domain.PaymentLog
}

func (m *memLogs) FindByTransaction(_ context.Context, schoolID, transactionID string) (*domain.PaymentLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.logs {
		if l.SchoolID == schoolID && l.TransactionID != nil && *l.TransactionID == transactionID {
			cp := *l
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memLogs) ExistsMessage(_ context.Context, schoolID, messageID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.logs {
		if l.SchoolID == schoolID && l.MessageID == messageID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memLogs) Create(_ context.Context, log *domain.PaymentLog) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.logs {
		if l.SchoolID != log.SchoolID {
			continue
		}
		if l.MessageID == log.MessageID {
			return false, nil
		}
		if l.TransactionID != nil && log.TransactionID != nil && *l.TransactionID == *log.TransactionID {
			return false, nil
		}
	}
	cp := *log
	cp.CreatedAt = time.Now()
	m.logs = append(m.logs, &cp)
	return true, nil
}

func (m *memLogs) Finalize(ctx context.Context, id string, outcome domain.LogOutcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.logs {
		if l.ID == id && l.Status == domain.LogProcessing {
			l.Status = outcome.Status
			l.MatchedFeeID = outcome.MatchedFeeID
			l.MatchedFeePaymentID = outcome.MatchedFeePaymentID
			l.MatchedStudentID = outcome.MatchedStudentID
			l.ProcessingNotes = outcome.Notes
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *memLogs) List(_ context.Context, filter domain.LogFilter) ([]domain.PaymentLog, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PaymentLog
	for _, l := range m.logs {
		if filter.SchoolID != "" && l.SchoolID != filter.SchoolID {
			continue
		}
		if filter.Status != "" && l.Status != filter.Status {
			continue
		}
		out = append(out, *l)
	}
	return out, len(out), nil
}

func (m *memLogs) all() []domain.PaymentLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.PaymentLog, 0, len(m.logs))
	for _, l := range m.logs {
		out = append(out, *l)
	}
	return out
}

type fakeMailbox struct {
	mu       sync.Mutex
	order    []string
	messages map[string]*mailbox.Message
	read     map[string]bool
	listErr  error
}

func newFakeMailbox(msgs ...*mailbox.Message) *fakeMailbox {
	f := &fakeMailbox{messages: map[string]*mailbox.Message{}, read: map[string]bool{}}
	for _, m := range msgs {
		f.deliver(m)
	}
	return f
}

func (f *fakeMailbox) deliver(m *mailbox.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, m.ID)
	f.messages[m.ID] = m
}

func (f *fakeMailbox) isRead(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read[id]
}

func (f *fakeMailbox) ListUnread(_ context.Context, _ string, max int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var ids []string
	for _, id := range f.order {
		if !f.read[id] && int64(len(ids)) < max {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeMailbox) GetMessage(_ context.Context, id string) (*mailbox.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeMailbox) MarkRead(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.read[id] = true
	return nil
}

type fakeOpener struct {
	mu        sync.Mutex
	boxes     map[string]*fakeMailbox
	openErr   map[string]error
	expired   []string
	openCalls int
}

func (o *fakeOpener) Open(_ context.Context, settings *domain.PaymentSettings) (mailbox.Client, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.openCalls++
	if err := o.openErr[settings.SchoolID]; err != nil {
		return nil, err
	}
	box, ok := o.boxes[settings.SchoolID]
	if !ok {
		return nil, domain.ErrCredentialsMissing
	}
	return box, nil
}

func (o *fakeOpener) ExpireAccessToken(_ context.Context, settings *domain.PaymentSettings) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.expired = append(o.expired, settings.SchoolID)
	return nil
}
