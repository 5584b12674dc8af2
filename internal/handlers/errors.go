package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sjperalta/school-ledger-api/internal/ledger"
	"github.com/sjperalta/school-ledger-api/internal/services"
	"github.com/sjperalta/school-ledger-api/pkg/logger"
)

// respondError maps service and ledger errors onto HTTP status codes.
// Retryable conflicts carry "retryable": true so clients can resubmit.
func respondError(c *gin.Context, err error) {
	status, retryable := statusFor(err)

	body := gin.H{"error": err.Error()}
	if retryable {
		body["retryable"] = true
	}

	var cfgErr *ledger.ConfigMissingError
	if errors.As(err, &cfgErr) {
		body["class_id"] = cfgErr.ClassID
		body["tranche_id"] = cfgErr.TrancheID
	}
	var valErr *ledger.ValidationError
	if errors.As(err, &valErr) && valErr.TrancheID != 0 {
		body["tranche_id"] = valErr.TrancheID
	}

	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		logger.Ctx(c.Request.Context()).Error("Request failed", "path", c.FullPath(), "error", err)
		switch status {
		case http.StatusInternalServerError:
			// Storage details stay in the logs
			body["error"] = ledger.ErrStorage.Error()
		case http.StatusServiceUnavailable:
			body["error"] = retryMessage(err)
		}
	}

	c.JSON(status, body)
}

// retryMessage keeps lock keys and ledger totals out of the response
func retryMessage(err error) string {
	switch {
	case errors.Is(err, ledger.ErrRetryExhausted):
		return ledger.ErrRetryExhausted.Error()
	case errors.Is(err, ledger.ErrSettingsUnavailable):
		return ledger.ErrSettingsUnavailable.Error()
	default:
		return ledger.ErrConcurrentModification.Error()
	}
}

func statusFor(err error) (int, bool) {
	switch {
	case errors.Is(err, ledger.ErrValidation), errors.Is(err, ledger.ErrScholarshipAlreadyUsed):
		return http.StatusUnprocessableEntity, false
	case errors.Is(err, ledger.ErrConfigMissing):
		return http.StatusConflict, false
	case errors.Is(err, ledger.ErrConcurrentModification),
		errors.Is(err, ledger.ErrRetryExhausted),
		errors.Is(err, ledger.ErrSettingsUnavailable):
		return http.StatusServiceUnavailable, true
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, false
	case errors.Is(err, services.ErrInvalidInput):
		return http.StatusBadRequest, false
	case errors.Is(err, services.ErrDuplicate):
		return http.StatusConflict, false
	default:
		return http.StatusInternalServerError, false
	}
}
