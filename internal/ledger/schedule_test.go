package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sjperalta/school-ledger-api/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeeSchedule_RequiredAmount(t *testing.T) {
	tranches := []models.Tranche{
		{ID: 1, SortOrder: 1, IsRequired: true, IsActive: true},
		{ID: 2, SortOrder: 2, IsRequired: false, IsActive: true},
		{ID: 3, SortOrder: 3, UseDefaultAmount: true, DefaultAmount: decimal.NewNullDecimal(d("25")), IsRequired: true, IsActive: true},
		{ID: 4, SortOrder: 0, IsRequired: true, IsActive: false},
	}
	amounts := []models.ClassRequiredAmount{
		{ClassID: 1, TrancheID: 1, Amount: d("150"), OldStudentAmount: decimal.NewNullDecimal(d("120"))},
		{ClassID: 2, TrancheID: 2, Amount: d("999")},
	}
	s := NewFeeSchedule(1, 1, tranches, amounts)

	amount, err := s.RequiredAmount(1, 1, models.StudentStatusNew)
	require.NoError(t, err)
	assert.True(t, amount.Equal(d("150")))

	amount, err = s.RequiredAmount(1, 1, models.StudentStatusOld)
	require.NoError(t, err)
	assert.True(t, amount.Equal(d("120")))

	amount, err = s.RequiredAmount(1, 2, models.StudentStatusNew)
	require.NoError(t, err)
	assert.True(t, amount.IsZero(), "optional tranche without amount costs nothing")

	amount, err = s.RequiredAmount(1, 3, models.StudentStatusNew)
	require.NoError(t, err)
	assert.True(t, amount.Equal(d("25")))

	amount, err = s.RequiredAmount(2, 3, models.StudentStatusNew)
	require.NoError(t, err)
	assert.True(t, amount.Equal(d("25")), "default amount ignores the class")

	_, err = s.RequiredAmount(2, 1, models.StudentStatusNew)
	assert.ErrorIs(t, err, ErrConfigMissing)

	_, err = s.RequiredAmount(1, 42, models.StudentStatusNew)
	assert.ErrorIs(t, err, ErrConfigMissing)
}

func TestFeeSchedule_ActiveTranchesOrdered(t *testing.T) {
	s := NewFeeSchedule(1, 1, []models.Tranche{
		{ID: 5, SortOrder: 2, IsActive: true},
		{ID: 4, SortOrder: 1, IsActive: false},
		{ID: 3, SortOrder: 2, IsActive: true},
		{ID: 9, SortOrder: 1, IsActive: true},
	}, nil)

	var ids []uint
	for _, tr := range s.ActiveTranches() {
		ids = append(ids, tr.ID)
	}
	assert.Equal(t, []uint{9, 3, 5}, ids)
}
