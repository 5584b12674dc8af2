package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment is the immutable header of a recorded student payment
type Payment struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	StudentID         uint            `gorm:"not null;index" json:"student_id"`
	SchoolYearID      uint            `gorm:"not null;index" json:"school_year_id"`
	TotalAmount       decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total_amount"`
	PaymentDate       time.Time       `gorm:"type:date;not null" json:"payment_date"`
	ReceiptNumber     string          `gorm:"size:40;not null;uniqueIndex:ux_payments_receipt_number" json:"receipt_number"`
	CreatedByUserID   uint            `gorm:"not null" json:"created_by_user_id"`
	HasScholarship    bool            `gorm:"not null" json:"has_scholarship"`
	ScholarshipAmount decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"scholarship_amount"`
	HasReduction      bool            `gorm:"not null" json:"has_reduction"`
	ReductionAmount   decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"reduction_amount"`
	CreatedAt         time.Time       `gorm:"index" json:"created_at"`

	// Associations
	Details []PaymentDetail `gorm:"foreignKey:PaymentID" json:"details,omitempty"`
}

// TableName specifies the table name for Payment
func (Payment) TableName() string {
	return "payments"
}

// PaymentDetail is one allocation of a payment to a tranche. Per (student, tranche)
// the details ordered by id form a chain where each previous_amount equals the
// prior new_total_amount.
type PaymentDetail struct {
	ID                   uint            `gorm:"primaryKey" json:"id"`
	PaymentID            uint            `gorm:"not null;uniqueIndex:ux_payment_details_payment_tranche" json:"payment_id"`
	StudentID            uint            `gorm:"not null;uniqueIndex:ux_payment_details_chain" json:"student_id"`
	TrancheID            uint            `gorm:"not null;uniqueIndex:ux_payment_details_payment_tranche;uniqueIndex:ux_payment_details_chain" json:"tranche_id"`
	PreviousAmount       decimal.Decimal `gorm:"type:decimal(12,2);not null;uniqueIndex:ux_payment_details_chain" json:"previous_amount"`
	AmountAllocated      decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount_allocated"`
	NewTotalAmount       decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"new_total_amount"`
	BaseRequiredAmount   decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"base_required_amount"`
	RequiredAmountAtTime decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"required_amount_at_time"`
	DiscountAmount       decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"discount_amount"`
	WasReduced           bool            `gorm:"not null" json:"was_reduced"`
	ReductionContext     string          `gorm:"size:120" json:"reduction_context,omitempty"`
	Status               string          `gorm:"size:20;not null" json:"status"`
	IsFullyPaid          bool            `gorm:"not null" json:"is_fully_paid"`
	CreatedAt            time.Time       `json:"created_at"`
}

// TableName specifies the table name for PaymentDetail
func (PaymentDetail) TableName() string {
	return "payment_details"
}

// Payment detail status constants
const (
	DetailStatusUnpaid    = "unpaid"
	DetailStatusFullyPaid = "fully_paid"
)

// Remaining returns what is still owed on the tranche after this detail
func (d *PaymentDetail) Remaining() decimal.Decimal {
	remaining := d.RequiredAmountAtTime.Sub(d.NewTotalAmount)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// ReceiptLine is the per-tranche breakdown shown on a receipt
type ReceiptLine struct {
	TrancheID      uint            `json:"tranche_id"`
	Allocated      decimal.Decimal `json:"allocated"`
	PreviousTotal  decimal.Decimal `json:"previous_total"`
	NewTotal       decimal.Decimal `json:"new_total"`
	RequiredAtTime decimal.Decimal `json:"required_at_time"`
	Remaining      decimal.Decimal `json:"remaining"`
	WasReduced     bool            `json:"was_reduced"`
	Context        string          `json:"context,omitempty"`
	IsFullyPaid    bool            `json:"is_fully_paid"`
}

// Receipt is the read model returned after a payment is recorded
type Receipt struct {
	PaymentID         uint            `json:"payment_id"`
	Number            string          `json:"number"`
	StudentID         uint            `json:"student_id"`
	SchoolYearID      uint            `json:"school_year_id"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	AmountInWords     string          `json:"amount_in_words"`
	PaymentDate       string          `json:"payment_date"`
	CreatedByUserID   uint            `json:"created_by_user_id"`
	HasScholarship    bool            `json:"has_scholarship"`
	ScholarshipAmount decimal.Decimal `json:"scholarship_amount"`
	HasReduction      bool            `json:"has_reduction"`
	ReductionAmount   decimal.Decimal `json:"reduction_amount"`
	Lines             []ReceiptLine   `json:"per_tranche_breakdown"`
	CreatedAt         time.Time       `json:"created_at"`
}

// ToReceipt converts a Payment with its details into the receipt read model
func (p *Payment) ToReceipt() Receipt {
	lines := make([]ReceiptLine, 0, len(p.Details))
	for i := range p.Details {
		d := &p.Details[i]
		lines = append(lines, ReceiptLine{
			TrancheID:      d.TrancheID,
			Allocated:      d.AmountAllocated,
			PreviousTotal:  d.PreviousAmount,
			NewTotal:       d.NewTotalAmount,
			RequiredAtTime: d.RequiredAmountAtTime,
			Remaining:      d.Remaining(),
			WasReduced:     d.WasReduced,
			Context:        d.ReductionContext,
			IsFullyPaid:    d.IsFullyPaid,
		})
	}

	return Receipt{
		PaymentID:         p.ID,
		Number:            p.ReceiptNumber,
		StudentID:         p.StudentID,
		SchoolYearID:      p.SchoolYearID,
		TotalAmount:       p.TotalAmount,
		AmountInWords:     AmountInWords(p.TotalAmount),
		PaymentDate:       p.PaymentDate.Format("2006-01-02"),
		CreatedByUserID:   p.CreatedByUserID,
		HasScholarship:    p.HasScholarship,
		ScholarshipAmount: p.ScholarshipAmount,
		HasReduction:      p.HasReduction,
		ReductionAmount:   p.ReductionAmount,
		Lines:             lines,
		CreatedAt:         p.CreatedAt,
	}
}
