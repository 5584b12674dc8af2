package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sjperalta/school-ledger-api/internal/ledger"
	"github.com/sjperalta/school-ledger-api/internal/middleware"
	"github.com/sjperalta/school-ledger-api/internal/repository"
	"github.com/sjperalta/school-ledger-api/internal/services"
)

type PaymentHandler struct {
	paymentService *services.PaymentService
}

func NewPaymentHandler(paymentService *services.PaymentService) *PaymentHandler {
	return &PaymentHandler{paymentService: paymentService}
}

// RecordPaymentRequest is a cashier's payment split across tranches.
// Accepted flat or nested under "payment".
type RecordPaymentRequest struct {
	SchoolYearID uint            `json:"school_year_id"`
	TotalAmount  decimal.Decimal `json:"total_amount" swaggertype:"string" example:"150.00"`
	// PaymentDate as YYYY-MM-DD, defaults to today
	PaymentDate      string                     `json:"payment_date" example:"2025-09-10"`
	Split            []ledger.AllocationRequest `json:"split" binding:"required,min=1,dive"`
	AllowOverpayment bool                       `json:"allow_overpayment"`
}

func (h *PaymentHandler) bindPayment(c *gin.Context) (services.RecordPaymentInput, bool) {
	studentID, err := paramID(c, "student_id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return services.RecordPaymentInput{}, false
	}

	var req RecordPaymentRequest
	if err := BindNestedOrFlat(c, "payment", &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return services.RecordPaymentInput{}, false
	}

	date, err := parseDate(req.PaymentDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return services.RecordPaymentInput{}, false
	}

	return services.RecordPaymentInput{
		StudentID:        studentID,
		SchoolYearID:     req.SchoolYearID,
		TotalAmount:      req.TotalAmount,
		Split:            req.Split,
		PaymentDate:      date,
		ActingUserID:     middleware.GetUserID(c),
		AllowOverpayment: req.AllowOverpayment,
		IP:               c.ClientIP(),
		UserAgent:        c.Request.UserAgent(),
	}, true
}

// @Summary Record Payment
// @Description Split a payment across tranches, apply scholarships and time reductions, and commit it to the student's ledger
// @Tags Payments
// @Accept json
// @Produce json
// @Param student_id path int true "Student ID"
// @Param request body RecordPaymentRequest true "Payment"
// @Success 201 {object} models.Receipt
// @Failure 409 {object} map[string]interface{} "Required amount not configured"
// @Failure 422 {object} map[string]interface{} "Rejected allocation"
// @Failure 503 {object} map[string]interface{} "Concurrent payment, retry"
// @Security BearerAuth
// @Router /students/{student_id}/payments [post]
func (h *PaymentHandler) Record(c *gin.Context) {
	input, ok := h.bindPayment(c)
	if !ok {
		return
	}

	receipt, err := h.paymentService.RecordPayment(c.Request.Context(), input)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"receipt": receipt, "message": "Pago registrado"})
}

// @Summary Quote Payment
// @Description Compute the allocation a payment would produce without writing anything
// @Tags Payments
// @Accept json
// @Produce json
// @Param student_id path int true "Student ID"
// @Param request body RecordPaymentRequest true "Payment"
// @Success 200 {object} ledger.AllocationPlan
// @Security BearerAuth
// @Router /students/{student_id}/payments/quote [post]
func (h *PaymentHandler) Quote(c *gin.Context) {
	input, ok := h.bindPayment(c)
	if !ok {
		return
	}

	plan, err := h.paymentService.Quote(c.Request.Context(), input)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"plan": plan})
}

// @Summary Outstanding Balance
// @Description Required, paid and remaining amount per tranche for a student
// @Tags Payments
// @Produce json
// @Param student_id path int true "Student ID"
// @Success 200 {array} services.TrancheBalance
// @Security BearerAuth
// @Router /students/{student_id}/balance [get]
func (h *PaymentHandler) Balance(c *gin.Context) {
	studentID, err := paramID(c, "student_id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	balances, err := h.paymentService.GetOutstandingBalance(c.Request.Context(), studentID)
	if err != nil {
		respondError(c, err)
		return
	}

	remaining := decimal.Zero
	for _, b := range balances {
		remaining = remaining.Add(b.Remaining)
	}

	c.JSON(http.StatusOK, gin.H{"student_id": studentID, "tranches": balances, "total_remaining": remaining})
}

// @Summary Payment History
// @Description Paginated payments of a student with their per-tranche details, newest first
// @Tags Payments
// @Produce json
// @Param student_id path int true "Student ID"
// @Param page query int false "Page number" default(1)
// @Param per_page query int false "Items per page" default(20)
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /students/{student_id}/payments [get]
func (h *PaymentHandler) History(c *gin.Context) {
	studentID, err := paramID(c, "student_id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	query := repository.NewListQuery()
	query.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	query.PerPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "20"))

	payments, total, err := h.paymentService.ListByStudent(c.Request.Context(), studentID, query)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"payments": payments,
		"pagination": gin.H{
			"page":        query.Page,
			"per_page":    query.Limit(),
			"total":       total,
			"total_pages": (total + int64(query.Limit()) - 1) / int64(query.Limit()),
		},
	})
}

// @Summary Get Payment
// @Description Receipt of a recorded payment by ID
// @Tags Payments
// @Produce json
// @Param payment_id path int true "Payment ID"
// @Success 200 {object} models.Receipt
// @Failure 404 {object} map[string]string
// @Security BearerAuth
// @Router /payments/{payment_id} [get]
func (h *PaymentHandler) Show(c *gin.Context) {
	id, err := paramID(c, "payment_id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	receipt, err := h.paymentService.FindByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"receipt": receipt})
}

// @Summary Get Receipt
// @Description Receipt of a recorded payment by receipt number
// @Tags Payments
// @Produce json
// @Param receipt_number path string true "Receipt number"
// @Success 200 {object} models.Receipt
// @Failure 404 {object} map[string]string
// @Security BearerAuth
// @Router /receipts/{receipt_number} [get]
func (h *PaymentHandler) ShowByReceipt(c *gin.Context) {
	receipt, err := h.paymentService.FindByReceipt(c.Request.Context(), c.Param("receipt_number"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"receipt": receipt})
}
