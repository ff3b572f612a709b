package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"fee-recon/internal/domain"
	"fee-recon/internal/scheduler"
	"fee-recon/internal/service"
	"fee-recon/pkg/logger"
	"fee-recon/pkg/response"
)

// StatsSource exposes scheduler counters; nil when the scheduler is disabled.
type StatsSource interface {
	Stats() scheduler.Stats
	Running() bool
}

type ReconciliationHandler struct {
	service   service.ReconciliationService
	scheduler StatsSource
}

func NewReconciliationHandler(service service.ReconciliationService, scheduler StatsSource) *ReconciliationHandler {
	return &ReconciliationHandler{service: service, scheduler: scheduler}
}

type VerifyPaymentRequest struct {
	SchoolID      string `json:"school_id" binding:"required"`
	TransactionID string `json:"transaction_id" binding:"required,min=6,max=35,alphanum"`
	PayerUpiID    string `json:"payer_upi_id"`
}

type HealthReport struct {
	SchedulerEnabled   bool                      `json:"schedulerEnabled"`
	SchedulerRunning   bool                      `json:"schedulerRunning"`
	Scheduler          *scheduler.Stats          `json:"scheduler,omitempty"`
	InvalidCredentials []domain.CredentialHealth `json:"invalidCredentials"`
	Tenants            int                       `json:"tenants"`
}

// Run godoc
// @Summary Run reconciliation
// @Description Process unread payment emails for one school, or for every school when school_id is omitted
// @Tags reconciliation
// @Produce json
// @Param school_id query string false "School ID"
// @Success 200 {object} response.Response
// @Failure 409 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /api/v1/reconciliation/run [post]
func (h *ReconciliationHandler) Run(c *gin.Context) {
	schoolID := c.Query("school_id")

	var (
		summary *domain.RunSummary
		err     error
	)
	if schoolID == "" {
		summary, err = h.service.RunAll(c.Request.Context())
	} else {
		summary, err = h.service.ProcessTenant(c.Request.Context(), schoolID)
	}
	if err != nil {
		logger.GetLogger().WithError(err).WithField("school_id", schoolID).Error("Reconciliation run failed")
		writeError(c, "Reconciliation failed", err)
		return
	}

	response.Success(c, http.StatusOK, "Reconciliation completed", summary)
}

// ListLogs godoc
// @Summary List payment logs
// @Description Paginated payment email log, newest first
// @Tags reconciliation
// @Produce json
// @Param school_id query string false "School ID"
// @Param status query string false "Log status" Enums(processing, matched, unmatched)
// @Param page query int false "Page number" default(1)
// @Param limit query int false "Page size" default(20)
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Router /api/v1/reconciliation/logs [get]
func (h *ReconciliationHandler) ListLogs(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		response.BadRequest(c, "Invalid page", "page must be a positive integer")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 || limit > 100 {
		response.BadRequest(c, "Invalid limit", "limit must be between 1 and 100")
		return
	}

	status := domain.LogStatus(c.Query("status"))
	if status != "" && !lo.Contains([]domain.LogStatus{domain.LogProcessing, domain.LogMatched, domain.LogUnmatched}, status) {
		response.BadRequest(c, "Invalid status", "status must be processing, matched or unmatched")
		return
	}

	filter := domain.LogFilter{
		SchoolID: c.Query("school_id"),
		Status:   status,
		Page:     page,
		Limit:    limit,
	}

	logs, total, err := h.service.ListLogs(c.Request.Context(), filter)
	if err != nil {
		writeError(c, "Failed to list payment logs", err)
		return
	}

	response.Paginated(c, "Payment logs retrieved", logs, response.PageMeta{Page: page, Limit: limit, Total: total})
}

// Stats godoc
// @Summary Fee payment statistics
// @Description Count and total amount of fee payments per status for a school
// @Tags reconciliation
// @Produce json
// @Param school_id query string true "School ID"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Router /api/v1/reconciliation/stats [get]
func (h *ReconciliationHandler) Stats(c *gin.Context) {
	schoolID := c.Query("school_id")
	if schoolID == "" {
		response.BadRequest(c, "Missing school_id", "school_id query parameter is required")
		return
	}

	stats, err := h.service.Stats(c.Request.Context(), schoolID)
	if err != nil {
		writeError(c, "Failed to load statistics", err)
		return
	}

	response.Success(c, http.StatusOK, "Statistics retrieved", stats)
}

// VerifyPayment godoc
// @Summary Verify a fee payment manually
// @Description Mark a pending fee payment paid with an administrator-supplied transaction id
// @Tags reconciliation
// @Accept json
// @Produce json
// @Param id path string true "Fee payment ID"
// @Param request body VerifyPaymentRequest true "Verification request"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response
// @Failure 422 {object} response.Response
// @Router /api/v1/reconciliation/payments/{id}/verify [post]
func (h *ReconciliationHandler) VerifyPayment(c *gin.Context) {
	var req VerifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.GetLogger().WithError(err).Error("Invalid request")
		response.ValidationError(c, err.Error())
		return
	}

	receipt, err := h.service.VerifyManually(c.Request.Context(), req.SchoolID, c.Param("id"), req.TransactionID, req.PayerUpiID)
	if err != nil {
		writeError(c, "Verification failed", err)
		return
	}

	response.Success(c, http.StatusOK, "Fee payment verified", receipt)
}

// Repair godoc
// @Summary Repair ledger drift
// @Description Settle installments whose fee payment is paid but whose installment is not
// @Tags reconciliation
// @Produce json
// @Param school_id query string true "School ID"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Router /api/v1/reconciliation/repair [post]
func (h *ReconciliationHandler) Repair(c *gin.Context) {
	schoolID := c.Query("school_id")
	if schoolID == "" {
		response.BadRequest(c, "Missing school_id", "school_id query parameter is required")
		return
	}

	repaired, err := h.service.RepairLedger(c.Request.Context(), schoolID)
	if err != nil {
		logger.ForSchool(schoolID).WithError(err).WithField("repaired", repaired).Error("Ledger repair incomplete")
		writeError(c, "Ledger repair incomplete", err)
		return
	}

	response.Success(c, http.StatusOK, "Ledger repaired", gin.H{"repaired": repaired})
}

// Health godoc
// @Summary Reconciliation health
// @Description Scheduler counters and schools whose mailbox needs re-authorization
// @Tags reconciliation
// @Produce json
// @Success 200 {object} response.Response
// @Router /api/v1/reconciliation/health [get]
func (h *ReconciliationHandler) Health(c *gin.Context) {
	health, err := h.service.CredentialHealth(c.Request.Context())
	if err != nil {
		writeError(c, "Failed to load credential health", err)
		return
	}

	report := HealthReport{
		Tenants: len(health),
		InvalidCredentials: lo.Filter(health, func(ch domain.CredentialHealth, _ int) bool {
			return ch.Status == domain.CredentialInvalid
		}),
	}
	if h.scheduler != nil {
		stats := h.scheduler.Stats()
		report.SchedulerEnabled = true
		report.SchedulerRunning = h.scheduler.Running()
		report.Scheduler = &stats
	}

	response.Success(c, http.StatusOK, "Reconciliation health", report)
}

func writeError(c *gin.Context, message string, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		response.NotFound(c, message+": "+err.Error())
	case errors.Is(err, domain.ErrTenantBusy),
		errors.Is(err, domain.ErrPaymentNotPending),
		errors.Is(err, domain.ErrDuplicateTransaction):
		response.Conflict(c, message, err.Error())
	case errors.Is(err, domain.ErrCredentialsInvalid),
		errors.Is(err, domain.ErrCredentialsMissing):
		response.Error(c, http.StatusUnprocessableEntity, "CREDENTIALS_UNAVAILABLE", message, err.Error())
	default:
		response.InternalError(c, message, err.Error())
	}
}
