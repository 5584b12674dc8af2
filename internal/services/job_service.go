package services

import (
	"github.com/sjperalta/school-ledger-api/internal/jobs"
)

type JobService struct {
	worker  *jobs.Worker
	payment *PaymentService
}

func NewJobService(worker *jobs.Worker, payment *PaymentService) *JobService {
	return &JobService{
		worker:  worker,
		payment: payment,
	}
}

// GetStatus reports the background worker counters
func (s *JobService) GetStatus() jobs.WorkerStats {
	return s.worker.GetStats()
}

// QueueIntegrityCheck puts a ledger chain verification on the worker queue.
// The result lands in the chain violations gauge and the logs.
func (s *JobService) QueueIntegrityCheck() {
	s.worker.Enqueue(s.payment.VerifyLedgerIntegrity)
}
