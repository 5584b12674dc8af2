package ledger

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/sjperalta/school-ledger-api/internal/models"
)

// FeeSchedule is the resolved fee configuration of one class for one school year
type FeeSchedule struct {
	ClassID      uint
	SchoolYearID uint

	tranches map[uint]models.Tranche
	amounts  map[uint]models.ClassRequiredAmount
	ordered  []models.Tranche
}

// NewFeeSchedule indexes the tranches of a school year and the class amounts
func NewFeeSchedule(classID, schoolYearID uint, tranches []models.Tranche, amounts []models.ClassRequiredAmount) *FeeSchedule {
	s := &FeeSchedule{
		ClassID:      classID,
		SchoolYearID: schoolYearID,
		tranches:     make(map[uint]models.Tranche, len(tranches)),
		amounts:      make(map[uint]models.ClassRequiredAmount, len(amounts)),
	}

	for _, t := range tranches {
		s.tranches[t.ID] = t
		s.ordered = append(s.ordered, t)
	}
	for _, a := range amounts {
		if a.ClassID == classID {
			s.amounts[a.TrancheID] = a
		}
	}

	sort.SliceStable(s.ordered, func(i, j int) bool {
		return trancheLess(s.ordered[i], s.ordered[j])
	})

	return s
}

// Tranche looks up a tranche of the schedule
func (s *FeeSchedule) Tranche(id uint) (models.Tranche, bool) {
	t, ok := s.tranches[id]
	return t, ok
}

// Tranches returns every tranche of the schedule sorted by their order
func (s *FeeSchedule) Tranches() []models.Tranche {
	out := make([]models.Tranche, len(s.ordered))
	copy(out, s.ordered)
	return out
}

// ActiveTranches returns the active tranches sorted by their order
func (s *FeeSchedule) ActiveTranches() []models.Tranche {
	active := make([]models.Tranche, 0, len(s.ordered))
	for _, t := range s.ordered {
		if t.IsActive {
			active = append(active, t)
		}
	}
	return active
}

// RequiredAmount returns the base amount owed for a tranche before discounts.
// A tranche flagged use_default_amount ignores the class. A required tranche
// without a class amount is a configuration error; an optional one costs zero.
func (s *FeeSchedule) RequiredAmount(classID, trancheID uint, status string) (decimal.Decimal, error) {
	t, ok := s.tranches[trancheID]
	if !ok {
		return decimal.Zero, &ConfigMissingError{ClassID: classID, TrancheID: trancheID}
	}

	if t.UseDefaultAmount {
		if !t.DefaultAmount.Valid {
			return decimal.Zero, &ConfigMissingError{ClassID: classID, TrancheID: trancheID}
		}
		return t.DefaultAmount.Decimal, nil
	}

	if classID != s.ClassID {
		return decimal.Zero, &ConfigMissingError{ClassID: classID, TrancheID: trancheID}
	}

	a, ok := s.amounts[trancheID]
	if !ok {
		if t.IsRequired {
			return decimal.Zero, &ConfigMissingError{ClassID: classID, TrancheID: trancheID}
		}
		return decimal.Zero, nil
	}

	return a.AmountFor(status), nil
}

func trancheLess(a, b models.Tranche) bool {
	if a.SortOrder != b.SortOrder {
		return a.SortOrder < b.SortOrder
	}
	return a.ID < b.ID
}
