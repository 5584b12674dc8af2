package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sjperalta/school-ledger-api/internal/models"
)

// Discount kinds recorded on allocation lines
const (
	DiscountNone        = ""
	DiscountScholarship = "scholarship"
	DiscountReduction   = "time-reduction"
)

var hundred = decimal.NewFromInt(100)

// DiscountInput is everything the resolver needs. Settings are passed in so
// concurrent payments never share mutable state.
type DiscountInput struct {
	BaseRequired decimal.Decimal
	AsOf         time.Time
	Settings     models.SchoolSettings
	// Scholarship awarded to the student for the tranche, if any
	Scholarship *models.StudentScholarship
}

// Discount is the resolved required amount of a tranche
type Discount struct {
	Amount         decimal.Decimal
	DiscountAmount decimal.Decimal
	WasReduced     bool
	Kind           string
	Context        string
	// ConsumeScholarshipID is set when the payment must mark the scholarship used
	ConsumeScholarshipID uint
}

// ResolveDiscount applies, in priority order, a student scholarship for the
// tranche, then the school-wide reduction when the payment date is on or before
// the scholarship deadline, then no discount. A scholarship consumed by an earlier
// installment of the same tranche keeps discounting it but is not consumed again.
func ResolveDiscount(in DiscountInput) Discount {
	base := in.BaseRequired

	if sch := in.Scholarship; sch != nil {
		amount := base.Sub(sch.ClassScholarship.Amount)
		if amount.IsNegative() {
			amount = decimal.Zero
		}
		d := Discount{
			Amount:         amount,
			DiscountAmount: base.Sub(amount),
			WasReduced:     true,
			Kind:           DiscountScholarship,
			Context:        fmt.Sprintf("%s:%s", DiscountScholarship, sch.ClassScholarship.Name),
		}
		if !sch.IsUsed {
			d.ConsumeScholarshipID = sch.ID
		}
		return d
	}

	pct := in.Settings.ReductionPercentage
	if pct.IsPositive() && in.Settings.ScholarshipDeadline != nil && onOrBefore(in.AsOf, *in.Settings.ScholarshipDeadline) {
		factor := decimal.NewFromInt(1).Sub(pct.Div(hundred))
		amount := base.Mul(factor).Round(2)
		if amount.IsNegative() {
			amount = decimal.Zero
		}
		return Discount{
			Amount:         amount,
			DiscountAmount: base.Sub(amount),
			WasReduced:     true,
			Kind:           DiscountReduction,
			Context:        fmt.Sprintf("%s:%s%%", DiscountReduction, pct.String()),
		}
	}

	return Discount{Amount: base, DiscountAmount: decimal.Zero}
}

// onOrBefore compares calendar dates, ignoring the time of day
func onOrBefore(at, deadline time.Time) bool {
	ay, am, ad := at.Date()
	dy, dm, dd := deadline.Date()
	a := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	d := time.Date(dy, dm, dd, 0, 0, 0, 0, time.UTC)
	return !a.After(d)
}
