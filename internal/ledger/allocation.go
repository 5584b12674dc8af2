package ledger

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sjperalta/school-ledger-api/internal/models"
	"github.com/sjperalta/school-ledger-api/internal/statemachine"
)

// AllocationRequest is one entry of the cashier's split
type AllocationRequest struct {
	TrancheID uint            `json:"tranche_id" binding:"required"`
	Amount    decimal.Decimal `json:"amount"`
}

// AllocationInput is the read-only view the engine works from
type AllocationInput struct {
	StudentID     uint
	ClassID       uint
	SchoolYearID  uint
	StudentStatus string
	TotalAmount   decimal.Decimal
	Split         []AllocationRequest
	PaymentDate   time.Time

	Schedule *FeeSchedule
	Settings models.SchoolSettings
	// Scholarships awarded to the student, keyed by tranche
	Scholarships map[uint]*models.StudentScholarship
	// Snapshot holds the current running total per tranche
	Snapshot map[uint]decimal.Decimal

	AllowOverpayment bool
}

// PlanLine is the computed allocation for one tranche
type PlanLine struct {
	TrancheID            uint            `json:"tranche_id"`
	TrancheName          string          `json:"tranche_name"`
	PreviousAmount       decimal.Decimal `json:"previous_amount"`
	AmountAllocated      decimal.Decimal `json:"amount_allocated"`
	NewTotalAmount       decimal.Decimal `json:"new_total_amount"`
	BaseRequiredAmount   decimal.Decimal `json:"base_required_amount"`
	RequiredAmountAtTime decimal.Decimal `json:"required_amount_at_time"`
	DiscountAmount       decimal.Decimal `json:"discount_amount"`
	DiscountKind         string          `json:"discount_kind,omitempty"`
	WasReduced           bool            `json:"was_reduced"`
	ReductionContext     string          `json:"reduction_context,omitempty"`
	Status               string          `json:"status"`
	IsFullyPaid          bool            `json:"is_fully_paid"`
	ConsumeScholarshipID uint            `json:"consume_scholarship_id,omitempty"`
}

// AllocationPlan is the full result of an allocation, ready to be committed
type AllocationPlan struct {
	StudentID         uint            `json:"student_id"`
	SchoolYearID      uint            `json:"school_year_id"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	PaymentDate       time.Time       `json:"payment_date"`
	Lines             []PlanLine      `json:"lines"`
	HasScholarship    bool            `json:"has_scholarship"`
	ScholarshipAmount decimal.Decimal `json:"scholarship_amount"`
	HasReduction      bool            `json:"has_reduction"`
	ReductionAmount   decimal.Decimal `json:"reduction_amount"`
}

// TrancheIDs returns the tranches touched by the plan, in allocation order
func (p *AllocationPlan) TrancheIDs() []uint {
	ids := make([]uint, 0, len(p.Lines))
	for _, l := range p.Lines {
		ids = append(ids, l.TrancheID)
	}
	return ids
}

// TotalAllocated sums the allocated amount of every line
func (p *AllocationPlan) TotalAllocated() decimal.Decimal {
	total := decimal.Zero
	for _, l := range p.Lines {
		total = total.Add(l.AmountAllocated)
	}
	return total
}

// MoneyScale is the number of decimals stored for every amount
const MoneyScale = 2

func fitsScale(a decimal.Decimal) bool {
	return a.Equal(a.Round(MoneyScale))
}

// ValidateRequest checks the shape of a payment before any lookup happens:
// a positive total, a non-empty split of positive entries with no repeated
// tranche, and an exact match between the split and the total. Amounts finer
// than a cent are rejected since storage would round them.
func ValidateRequest(total decimal.Decimal, split []AllocationRequest) error {
	if !total.IsPositive() {
		return invalid(0, total, "el monto total debe ser mayor que cero")
	}
	if !fitsScale(total) {
		return invalid(0, total, "el monto total tiene más de dos decimales")
	}
	if len(split) == 0 {
		return invalid(0, total, "el desglose debe incluir al menos un tramo")
	}

	seen := make(map[uint]struct{}, len(split))
	sum := decimal.Zero
	for _, entry := range split {
		if entry.TrancheID == 0 {
			return invalid(0, entry.Amount, "el tramo es obligatorio")
		}
		if !entry.Amount.IsPositive() {
			return invalid(entry.TrancheID, entry.Amount, "el monto asignado debe ser mayor que cero")
		}
		if !fitsScale(entry.Amount) {
			return invalid(entry.TrancheID, entry.Amount, "el monto asignado tiene más de dos decimales")
		}
		if _, dup := seen[entry.TrancheID]; dup {
			return invalid(entry.TrancheID, entry.Amount, "el tramo aparece más de una vez")
		}
		seen[entry.TrancheID] = struct{}{}
		sum = sum.Add(entry.Amount)
	}

	if !sum.Equal(total) {
		return invalid(0, sum, "la suma del desglose "+sum.StringFixed(2)+" no coincide con el total "+total.StringFixed(2))
	}

	return nil
}

// Allocate computes the allocation plan of a payment. It performs no writes:
// scholarship consumption is only planned and happens when the plan is committed.
func Allocate(in AllocationInput) (*AllocationPlan, error) {
	if err := ValidateRequest(in.TotalAmount, in.Split); err != nil {
		return nil, err
	}
	if in.Schedule == nil {
		return nil, &ConfigMissingError{ClassID: in.ClassID}
	}

	entries := make([]AllocationRequest, len(in.Split))
	copy(entries, in.Split)
	for _, e := range entries {
		t, ok := in.Schedule.Tranche(e.TrancheID)
		if !ok {
			return nil, invalid(e.TrancheID, e.Amount, "el tramo no existe en este año escolar")
		}
		if !t.IsActive {
			return nil, invalid(e.TrancheID, e.Amount, "el tramo no está activo")
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, _ := in.Schedule.Tranche(entries[i].TrancheID)
		b, _ := in.Schedule.Tranche(entries[j].TrancheID)
		return trancheLess(a, b)
	})

	plan := &AllocationPlan{
		StudentID:         in.StudentID,
		SchoolYearID:      in.SchoolYearID,
		TotalAmount:       in.TotalAmount,
		PaymentDate:       in.PaymentDate,
		Lines:             make([]PlanLine, 0, len(entries)),
		ScholarshipAmount: decimal.Zero,
		ReductionAmount:   decimal.Zero,
	}

	for _, e := range entries {
		t, _ := in.Schedule.Tranche(e.TrancheID)

		base, err := in.Schedule.RequiredAmount(in.ClassID, t.ID, in.StudentStatus)
		if err != nil {
			return nil, err
		}

		discount := ResolveDiscount(DiscountInput{
			BaseRequired: base,
			AsOf:         in.PaymentDate,
			Settings:     in.Settings,
			Scholarship:  in.Scholarships[t.ID],
		})
		required := discount.Amount

		previous := decimal.Zero
		if in.Snapshot != nil {
			if v, ok := in.Snapshot[t.ID]; ok {
				previous = v
			}
		}

		newTotal := previous.Add(e.Amount)
		if newTotal.GreaterThan(required) && !in.AllowOverpayment {
			return nil, invalid(t.ID, e.Amount, "sobrepago: el saldo pendiente es "+Remaining(required, previous).StringFixed(2))
		}

		machine := statemachine.NewTrancheFSM(statemachine.StatusFor(previous, required))
		status, err := machine.Apply(context.Background(), newTotal, required)
		if err != nil {
			return nil, err
		}

		line := PlanLine{
			TrancheID:            t.ID,
			TrancheName:          t.Name,
			PreviousAmount:       previous,
			AmountAllocated:      e.Amount,
			NewTotalAmount:       newTotal,
			BaseRequiredAmount:   base,
			RequiredAmountAtTime: required,
			DiscountAmount:       discount.DiscountAmount,
			DiscountKind:         discount.Kind,
			WasReduced:           discount.WasReduced,
			ReductionContext:     discount.Context,
			Status:               status,
			IsFullyPaid:          newTotal.GreaterThanOrEqual(required),
			ConsumeScholarshipID: discount.ConsumeScholarshipID,
		}
		plan.Lines = append(plan.Lines, line)

		switch line.DiscountKind {
		case DiscountScholarship:
			plan.HasScholarship = true
			plan.ScholarshipAmount = plan.ScholarshipAmount.Add(line.DiscountAmount)
		case DiscountReduction:
			plan.HasReduction = true
			plan.ReductionAmount = plan.ReductionAmount.Add(line.DiscountAmount)
		}
	}

	return plan, nil
}

// ContextKind extracts the discount kind from a stored reduction context
func ContextKind(reductionContext string) string {
	switch {
	case strings.HasPrefix(reductionContext, DiscountScholarship+":"):
		return DiscountScholarship
	case strings.HasPrefix(reductionContext, DiscountReduction+":"):
		return DiscountReduction
	}
	return DiscountNone
}

// Remaining is what is still owed, never negative
func Remaining(required, paid decimal.Decimal) decimal.Decimal {
	r := required.Sub(paid)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}
