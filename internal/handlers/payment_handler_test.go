package handlers

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sjperalta/school-ledger-api/internal/middleware"
	"github.com/sjperalta/school-ledger-api/internal/models"
	"github.com/sjperalta/school-ledger-api/internal/services"
	"github.com/sjperalta/school-ledger-api/internal/testsupport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type receiptResponse struct {
	Receipt models.Receipt `json:"receipt"`
}

type splitLine struct {
	trancheID uint
	amount    string
}

func paymentBody(total string, split ...splitLine) map[string]interface{} {
	lines := make([]map[string]interface{}, 0, len(split))
	for _, s := range split {
		lines = append(lines, map[string]interface{}{"tranche_id": s.trancheID, "amount": s.amount})
	}
	return map[string]interface{}{
		"total_amount": total,
		"payment_date": "2025-09-10",
		"split":        lines,
	}
}

func TestPaymentHandler_RecordAndLookup(t *testing.T) {
	e := newAPI(t)
	path := fmt.Sprintf("/students/%d/payments", e.f.NewStudent.ID)

	w := e.do(t, middleware.RoleCashier, http.MethodPost, path,
		map[string]interface{}{"payment": paymentBody("100", splitLine{e.f.Tranche1.ID, "100"})})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created receiptResponse
	decode(t, w, &created)
	receipt := created.Receipt
	assert.NotEmpty(t, receipt.Number)
	assert.Equal(t, e.f.NewStudent.ID, receipt.StudentID)
	assert.Equal(t, "2025-09-10", receipt.PaymentDate)
	assert.Equal(t, "CIEN CON 00/100", receipt.AmountInWords)
	require.Len(t, receipt.Lines, 1)
	assert.True(t, receipt.Lines[0].NewTotal.Equal(testsupport.Amount("100")))
	assert.True(t, receipt.Lines[0].Remaining.Equal(testsupport.Amount("50")))

	w = e.do(t, middleware.RoleAccountant, http.MethodGet, "/receipts/"+receipt.Number, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var byNumber receiptResponse
	decode(t, w, &byNumber)
	assert.Equal(t, receipt.PaymentID, byNumber.Receipt.PaymentID)

	w = e.do(t, middleware.RoleAccountant, http.MethodGet, fmt.Sprintf("/payments/%d", receipt.PaymentID), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, middleware.RoleAccountant, http.MethodGet, "/payments/9999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, middleware.RoleAccountant, http.MethodGet, "/receipts/REC-NOPE", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPaymentHandler_Rejections(t *testing.T) {
	e := newAPI(t)
	path := fmt.Sprintf("/students/%d/payments", e.f.NewStudent.ID)
	t1 := e.f.Tranche1.ID

	tests := []struct {
		name   string
		role   string
		path   string
		body   interface{}
		status int
	}{
		{"no token", "", path, paymentBody("100", splitLine{t1, "100"}), http.StatusUnauthorized},
		{"accountant cannot record", middleware.RoleAccountant, path, paymentBody("100", splitLine{t1, "100"}), http.StatusForbidden},
		{"empty split", middleware.RoleCashier, path, map[string]interface{}{"total_amount": "100", "split": []interface{}{}}, http.StatusBadRequest},
		{"split without tranche", middleware.RoleCashier, path, paymentBody("100", splitLine{0, "100"}), http.StatusBadRequest},
		{"bad date", middleware.RoleCashier, path, map[string]interface{}{
			"total_amount": "100", "payment_date": "10/09/2025",
			"split": []map[string]interface{}{{"tranche_id": t1, "amount": "100"}},
		}, http.StatusBadRequest},
		{"split does not match total", middleware.RoleCashier, path, paymentBody("100", splitLine{t1, "90"}), http.StatusUnprocessableEntity},
		{"overpayment", middleware.RoleCashier, path, paymentBody("200", splitLine{t1, "200"}), http.StatusUnprocessableEntity},
		{"unknown student", middleware.RoleCashier, "/students/9999/payments", paymentBody("100", splitLine{t1, "100"}), http.StatusNotFound},
		{"bad student id", middleware.RoleCashier, "/students/abc/payments", paymentBody("100", splitLine{t1, "100"}), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(t, tt.role, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}

	var n int64
	require.NoError(t, e.db.Model(&models.Payment{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestPaymentHandler_MissingAmountIsConflict(t *testing.T) {
	e := newAPI(t)

	rame := models.Tranche{SchoolYearID: e.f.SchoolYear.ID, Name: "RAME", SortOrder: 3, IsRequired: true, IsActive: true}
	require.NoError(t, e.db.Create(&rame).Error)

	w := e.do(t, middleware.RoleCashier, http.MethodPost, fmt.Sprintf("/students/%d/payments", e.f.NewStudent.ID),
		paymentBody("10", splitLine{rame.ID, "10"}))
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())

	var body map[string]interface{}
	decode(t, w, &body)
	assert.EqualValues(t, rame.ID, body["tranche_id"])
}

func TestPaymentHandler_QuoteWritesNothing(t *testing.T) {
	e := newAPI(t)

	w := e.do(t, middleware.RoleCashier, http.MethodPost, fmt.Sprintf("/students/%d/payments/quote", e.f.OldStudent.ID),
		paymentBody("150", splitLine{e.f.Tranche1.ID, "150"}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Plan struct {
			Lines []map[string]interface{} `json:"lines"`
		} `json:"plan"`
	}
	decode(t, w, &body)
	assert.Len(t, body.Plan.Lines, 1)

	var n int64
	require.NoError(t, e.db.Model(&models.Payment{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestPaymentHandler_BalanceAndHistory(t *testing.T) {
	e := newAPI(t)
	path := fmt.Sprintf("/students/%d/payments", e.f.NewStudent.ID)

	for _, amount := range []string{"60", "40"} {
		w := e.do(t, middleware.RoleCashier, http.MethodPost, path, paymentBody(amount, splitLine{e.f.Tranche1.ID, amount}))
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	w := e.do(t, middleware.RoleAccountant, http.MethodGet, fmt.Sprintf("/students/%d/balance", e.f.NewStudent.ID), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var balance struct {
		Tranches       []services.TrancheBalance `json:"tranches"`
		TotalRemaining decimal.Decimal           `json:"total_remaining"`
	}
	decode(t, w, &balance)
	require.Len(t, balance.Tranches, 2)
	assert.True(t, balance.Tranches[0].Paid.Equal(testsupport.Amount("100")))
	assert.True(t, balance.TotalRemaining.Equal(testsupport.Amount("200")))

	w = e.do(t, middleware.RoleAccountant, http.MethodGet, path+"?per_page=1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var history struct {
		Payments   []models.Payment `json:"payments"`
		Pagination struct {
			Total      int64 `json:"total"`
			TotalPages int64 `json:"total_pages"`
		} `json:"pagination"`
	}
	decode(t, w, &history)
	require.Len(t, history.Payments, 1)
	assert.True(t, history.Payments[0].TotalAmount.Equal(testsupport.Amount("40")), "newest first")
	assert.Equal(t, int64(2), history.Pagination.Total)
	assert.Equal(t, int64(2), history.Pagination.TotalPages)
}
