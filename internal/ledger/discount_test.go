package ledger

import (
	"testing"
	"time"

	"github.com/sjperalta/school-ledger-api/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestResolveDiscount(t *testing.T) {
	deadline := date(2025, time.March, 31)
	settings := models.SchoolSettings{ReductionPercentage: d("10"), ScholarshipDeadline: &deadline}
	merit := &models.StudentScholarship{
		ID:               3,
		ClassScholarship: models.ClassScholarship{Name: "merit", Amount: d("50")},
	}

	t.Run("scholarship wins over reduction", func(t *testing.T) {
		got := ResolveDiscount(DiscountInput{
			BaseRequired: d("150"),
			AsOf:         date(2025, time.March, 1),
			Settings:     settings,
			Scholarship:  merit,
		})
		assert.True(t, got.Amount.Equal(d("100")))
		assert.Equal(t, DiscountScholarship, got.Kind)
		assert.Equal(t, uint(3), got.ConsumeScholarshipID)
	})

	t.Run("scholarship larger than base floors at zero", func(t *testing.T) {
		big := &models.StudentScholarship{ID: 4, ClassScholarship: models.ClassScholarship{Name: "full", Amount: d("500")}}
		got := ResolveDiscount(DiscountInput{BaseRequired: d("150"), AsOf: date(2025, time.May, 1), Scholarship: big})
		assert.True(t, got.Amount.IsZero())
		assert.True(t, got.DiscountAmount.Equal(d("150")))
	})

	t.Run("used scholarship keeps discount without consuming", func(t *testing.T) {
		used := &models.StudentScholarship{ID: 5, IsUsed: true, ClassScholarship: models.ClassScholarship{Name: "merit", Amount: d("50")}}
		got := ResolveDiscount(DiscountInput{BaseRequired: d("150"), AsOf: date(2025, time.May, 1), Scholarship: used})
		assert.True(t, got.Amount.Equal(d("100")))
		assert.Zero(t, got.ConsumeScholarshipID)
	})

	t.Run("reduction on deadline day", func(t *testing.T) {
		got := ResolveDiscount(DiscountInput{
			BaseRequired: d("150"),
			AsOf:         time.Date(2025, time.March, 31, 23, 59, 0, 0, time.UTC),
			Settings:     settings,
		})
		assert.True(t, got.Amount.Equal(d("135")))
		assert.Equal(t, "time-reduction:10%", got.Context)
	})

	t.Run("no reduction after deadline", func(t *testing.T) {
		got := ResolveDiscount(DiscountInput{BaseRequired: d("150"), AsOf: date(2025, time.April, 1), Settings: settings})
		assert.True(t, got.Amount.Equal(d("150")))
		assert.False(t, got.WasReduced)
		assert.Empty(t, got.Context)
	})

	t.Run("reduction rounds to cents", func(t *testing.T) {
		pct := models.SchoolSettings{ReductionPercentage: d("7.5"), ScholarshipDeadline: &deadline}
		got := ResolveDiscount(DiscountInput{BaseRequired: d("99.99"), AsOf: date(2025, time.January, 1), Settings: pct})
		assert.Equal(t, "92.49", got.Amount.StringFixed(2))
		assert.True(t, got.Amount.Add(got.DiscountAmount).Equal(d("99.99")))
	})

	t.Run("reduction without deadline is ignored", func(t *testing.T) {
		got := ResolveDiscount(DiscountInput{
			BaseRequired: d("150"),
			AsOf:         date(2025, time.January, 1),
			Settings:     models.SchoolSettings{ReductionPercentage: d("10")},
		})
		assert.False(t, got.WasReduced)
	})
}
