package statemachine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/looplab/fsm"
	"github.com/sjperalta/school-ledger-api/internal/models"
)

// EventConsume marks a student scholarship as used
const EventConsume = "consume"

// ErrScholarshipUsed is returned when consuming an already used scholarship
var ErrScholarshipUsed = errors.New("scholarship already used")

// ScholarshipFSM wraps a student scholarship with its state machine
type ScholarshipFSM struct {
	scholarship *models.StudentScholarship
	fsm         *fsm.FSM
}

// NewScholarshipFSM creates a new scholarship state machine
func NewScholarshipFSM(s *models.StudentScholarship) *ScholarshipFSM {
	return &ScholarshipFSM{
		scholarship: s,
		fsm: fsm.NewFSM(
			s.State(),
			fsm.Events{
				// unused → used, exactly once
				{Name: EventConsume, Src: []string{models.ScholarshipStateUnused}, Dst: models.ScholarshipStateUsed},
			},
			fsm.Callbacks{},
		),
	}
}

// Consume transitions the scholarship to used and stamps the usage fields
func (s *ScholarshipFSM) Consume(ctx context.Context, paymentID uint, at time.Time) error {
	if !s.fsm.Can(EventConsume) {
		return ErrScholarshipUsed
	}

	if err := s.fsm.Event(ctx, EventConsume); err != nil {
		return fmt.Errorf("failed to consume scholarship: %w", err)
	}

	s.scholarship.IsUsed = true
	s.scholarship.UsedAt = &at
	s.scholarship.PaymentID = &paymentID
	return nil
}

// Current returns the current state
func (s *ScholarshipFSM) Current() string {
	return s.fsm.Current()
}
