package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sjperalta/school-ledger-api/internal/services"
)

type JobHandler struct {
	jobService *services.JobService
}

func NewJobHandler(jobSvc *services.JobService) *JobHandler {
	return &JobHandler{
		jobService: jobSvc,
	}
}

// Status returns the current worker status
// @Summary Get background job status
// @Description Active, completed and failed jobs of the worker that writes audit logs and runs the integrity check
// @Tags Jobs
// @Produce json
// @Security BearerAuth
// @Success 200 {object} jobs.WorkerStats
// @Router /jobs/status [get]
func (h *JobHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.jobService.GetStatus())
}

// VerifyLedger queues an on-demand ledger integrity check
// @Summary Verify ledger integrity
// @Description Queue a scan of every (student, tranche) chain; broken links are published as ledger_chain_violations
// @Tags Jobs
// @Produce json
// @Security BearerAuth
// @Success 202 {object} map[string]string
// @Router /jobs/ledger_integrity [post]
func (h *JobHandler) VerifyLedger(c *gin.Context) {
	h.jobService.QueueIntegrityCheck()
	c.JSON(http.StatusAccepted, gin.H{"message": "Verificación del libro encolada"})
}
