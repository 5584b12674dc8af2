package statemachine

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"
	"github.com/shopspring/decimal"
	"github.com/sjperalta/school-ledger-api/internal/models"
)

// Tranche payment events
const (
	EventCollect     = "collect"
	EventSettle      = "settle"
	EventOvercollect = "overcollect"
)

// TrancheFSM tracks the payment state of a single (student, tranche) pair
// as a payment detail is appended to its ledger chain.
type TrancheFSM struct {
	fsm *fsm.FSM
}

// NewTrancheFSM creates a tranche state machine starting at the given status
func NewTrancheFSM(status string) *TrancheFSM {
	if status == "" {
		status = models.DetailStatusUnpaid
	}

	return &TrancheFSM{
		fsm: fsm.NewFSM(
			status,
			fsm.Events{
				// unpaid → unpaid (partial installment)
				{Name: EventCollect, Src: []string{models.DetailStatusUnpaid}, Dst: models.DetailStatusUnpaid},

				// unpaid → fully_paid
				{Name: EventSettle, Src: []string{models.DetailStatusUnpaid}, Dst: models.DetailStatusFullyPaid},

				// fully_paid → fully_paid (explicitly allowed overpayment)
				{Name: EventOvercollect, Src: []string{models.DetailStatusFullyPaid}, Dst: models.DetailStatusFullyPaid},
			},
			fsm.Callbacks{},
		),
	}
}

// Apply moves the machine forward for a new running total against the required amount.
// There is no transition back to unpaid.
func (t *TrancheFSM) Apply(ctx context.Context, newTotal, required decimal.Decimal) (string, error) {
	event := EventCollect
	switch {
	case t.fsm.Current() == models.DetailStatusFullyPaid:
		event = EventOvercollect
	case newTotal.GreaterThanOrEqual(required):
		event = EventSettle
	}

	if err := t.fsm.Event(ctx, event); err != nil {
		var noTransition fsm.NoTransitionError
		// collect and overcollect keep the current state
		if !errors.As(err, &noTransition) {
			return "", fmt.Errorf("failed to apply %s: %w", event, err)
		}
	}

	return t.fsm.Current(), nil
}

// Current returns the current state
func (t *TrancheFSM) Current() string {
	return t.fsm.Current()
}

// Can checks if a transition is possible
func (t *TrancheFSM) Can(event string) bool {
	return t.fsm.Can(event)
}

// StatusFor derives the stored status of a running total
func StatusFor(total, required decimal.Decimal) string {
	if total.IsPositive() && total.GreaterThanOrEqual(required) {
		return models.DetailStatusFullyPaid
	}
	return models.DetailStatusUnpaid
}
