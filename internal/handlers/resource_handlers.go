package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sjperalta/school-ledger-api/internal/services"
	"gorm.io/gorm"
)

// =====================
// HEALTH HANDLER
// =====================

type HealthHandler struct {
	db *gorm.DB
}

func NewHealthHandler(db *gorm.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

// @Summary Health Check
// @Description Checks if the API and its database are reachable
// @Tags Health
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /health [get]
func (h *HealthHandler) Index(c *gin.Context) {
	status, database := http.StatusOK, "ok"
	if h.db != nil {
		sqlDB, err := h.db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			status, database = http.StatusServiceUnavailable, "unreachable"
		}
	}

	c.JSON(status, gin.H{
		"status":   http.StatusText(status),
		"service":  "school-ledger-api",
		"version":  "1.0.0",
		"database": database,
	})
}

// =====================
// REPORT HANDLER
// =====================

type ReportHandler struct {
	reportService *services.ReportService
}

func NewReportHandler(reportService *services.ReportService) *ReportHandler {
	return &ReportHandler{reportService: reportService}
}

// @Summary Class Totals
// @Description Collected amount, payments and fully paid students per class and tranche
// @Tags Reports
// @Produce json
// @Param school_year_id query int true "School year ID"
// @Success 200 {array} repository.ClassTrancheTotal
// @Security BearerAuth
// @Router /reports/class_totals [get]
func (h *ReportHandler) ClassTotals(c *gin.Context) {
	schoolYearID, err := queryID(c, "school_year_id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	totals, err := h.reportService.ClassTotals(c.Request.Context(), schoolYearID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"school_year_id": schoolYearID, "totals": totals})
}

// @Summary Insolvency Report
// @Description Students of a class with an outstanding balance on a tranche
// @Tags Reports
// @Produce json
// @Param class_id query int true "Class ID"
// @Param tranche_id query int true "Tranche ID"
// @Success 200 {object} services.InsolvencyReport
// @Security BearerAuth
// @Router /reports/insolvency [get]
func (h *ReportHandler) Insolvency(c *gin.Context) {
	classID, trancheID, ok := insolvencyParams(c)
	if !ok {
		return
	}

	report, err := h.reportService.Insolvency(c.Request.Context(), classID, trancheID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// @Summary Insolvency Spreadsheet
// @Description Insolvency report exported as an Excel workbook
// @Tags Reports
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param class_id query int true "Class ID"
// @Param tranche_id query int true "Tranche ID"
// @Success 200 {file} file
// @Security BearerAuth
// @Router /reports/insolvency.xlsx [get]
func (h *ReportHandler) InsolvencyXLSX(c *gin.Context) {
	classID, trancheID, ok := insolvencyParams(c)
	if !ok {
		return
	}

	buf, err := h.reportService.InsolvencyXLSX(c.Request.Context(), classID, trancheID)
	if err != nil {
		respondError(c, err)
		return
	}

	filename := fmt.Sprintf("insolventes_%d_%d_%s.xlsx", classID, trancheID, time.Now().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

func insolvencyParams(c *gin.Context) (uint, uint, bool) {
	classID, err := queryID(c, "class_id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return 0, 0, false
	}
	trancheID, err := queryID(c, "tranche_id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return 0, 0, false
	}
	return classID, trancheID, true
}

// =====================
// AUDIT HANDLER
// =====================

type AuditHandler struct {
	auditService *services.AuditService
}

func NewAuditHandler(auditService *services.AuditService) *AuditHandler {
	return &AuditHandler{auditService: auditService}
}

// @Summary List Audit Logs
// @Description Get a paginated list of fee schedule and ledger audit logs
// @Tags Audit
// @Accept json
// @Produce json
// @Param entity query string false "Filter by entity (Payment, Tranche, SchoolSettings...)"
// @Param page query int false "Page number" default(1)
// @Param per_page query int false "Items per page" default(50)
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /audits [get]
func (h *AuditHandler) Index(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "50"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 200 {
		perPage = 50
	}
	offset := (page - 1) * perPage

	logs, total, err := h.auditService.List(c.Request.Context(), c.Query("entity"), perPage, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"audits": logs, "pagination": gin.H{"total": total, "page": page, "per_page": perPage}})
}
