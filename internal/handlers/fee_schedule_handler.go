package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sjperalta/school-ledger-api/internal/middleware"
	"github.com/sjperalta/school-ledger-api/internal/models"
	"github.com/sjperalta/school-ledger-api/internal/services"
)

// FeeScheduleHandler administers tranches, class amounts, scholarships and school settings
type FeeScheduleHandler struct {
	feeSchedule *services.FeeScheduleService
}

func NewFeeScheduleHandler(feeSchedule *services.FeeScheduleService) *FeeScheduleHandler {
	return &FeeScheduleHandler{feeSchedule: feeSchedule}
}

func actorFrom(c *gin.Context) services.Actor {
	return services.Actor{
		UserID:    middleware.GetUserID(c),
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

// @Summary List Tranches
// @Description Tranches of a school year in payment order
// @Tags Fee Schedule
// @Produce json
// @Param school_year_id path int true "School year ID"
// @Success 200 {array} models.Tranche
// @Security BearerAuth
// @Router /school_years/{school_year_id}/tranches [get]
func (h *FeeScheduleHandler) ListTranches(c *gin.Context) {
	schoolYearID, err := paramID(c, "school_year_id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tranches, err := h.feeSchedule.ListTranches(c.Request.Context(), schoolYearID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tranches": tranches})
}

type CreateTrancheRequest struct {
	Name             string              `json:"name" binding:"required"`
	Order            int                 `json:"order" binding:"min=0"`
	Deadline         string              `json:"deadline" example:"2025-09-30"`
	UseDefaultAmount bool                `json:"use_default_amount"`
	DefaultAmount    decimal.NullDecimal `json:"default_amount" swaggertype:"string"`
	IsRequired       *bool               `json:"is_required" example:"true"`
}

// @Summary Create Tranche
// @Description Add a tranche to a school year (Admin)
// @Tags Fee Schedule
// @Accept json
// @Produce json
// @Param school_year_id path int true "School year ID"
// @Param request body CreateTrancheRequest true "Tranche"
// @Success 201 {object} models.Tranche
// @Security BearerAuth
// @Router /school_years/{school_year_id}/tranches [post]
func (h *FeeScheduleHandler) CreateTranche(c *gin.Context) {
	schoolYearID, err := paramID(c, "school_year_id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var req CreateTrancheRequest
	if err := BindNestedOrFlat(c, "tranche", &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	deadline, err := parseDate(req.Deadline)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// tranches are required unless the admin opts out
	isRequired := true
	if req.IsRequired != nil {
		isRequired = *req.IsRequired
	}

	tranche := &models.Tranche{
		SchoolYearID:     schoolYearID,
		Name:             req.Name,
		SortOrder:        req.Order,
		UseDefaultAmount: req.UseDefaultAmount,
		DefaultAmount:    req.DefaultAmount,
		IsRequired:       isRequired,
		IsActive:         true,
	}
	if !deadline.IsZero() {
		tranche.Deadline = &deadline
	}

	if err := h.feeSchedule.CreateTranche(c.Request.Context(), actorFrom(c), tranche); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"tranche": tranche})
}

type UpdateTrancheRequest struct {
	Deadline *string `json:"deadline" example:"2025-10-15"`
	IsActive *bool   `json:"is_active"`
}

// @Summary Update Tranche
// @Description Change a tranche deadline or active flag (Admin)
// @Tags Fee Schedule
// @Accept json
// @Produce json
// @Param tranche_id path int true "Tranche ID"
// @Param request body UpdateTrancheRequest true "Changes"
// @Success 200 {object} models.Tranche
// @Security BearerAuth
// @Router /tranches/{tranche_id} [patch]
func (h *FeeScheduleHandler) UpdateTranche(c *gin.Context) {
	id, err := paramID(c, "tranche_id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var req UpdateTrancheRequest
	if err := BindNestedOrFlat(c, "tranche", &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	input := services.UpdateTrancheInput{IsActive: req.IsActive}
	if req.Deadline != nil {
		deadline, err := parseDate(*req.Deadline)
		if err != nil || deadline.IsZero() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "fecha límite inválida"})
			return
		}
		input.Deadline = &deadline
	}

	tranche, err := h.feeSchedule.UpdateTranche(c.Request.Context(), actorFrom(c), id, input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tranche": tranche})
}

type ClassAmountRequest struct {
	Amount           decimal.Decimal     `json:"amount" swaggertype:"string" example:"150.00"`
	OldStudentAmount decimal.NullDecimal `json:"old_student_amount" swaggertype:"string"`
}

// @Summary Set Class Amount
// @Description Set what a class owes for a tranche, optionally with a different amount for returning students (Admin)
// @Tags Fee Schedule
// @Accept json
// @Produce json
// @Param class_id path int true "Class ID"
// @Param tranche_id path int true "Tranche ID"
// @Param request body ClassAmountRequest true "Amounts"
// @Success 200 {object} models.ClassRequiredAmount
// @Security BearerAuth
// @Router /classes/{class_id}/tranches/{tranche_id}/amount [put]
func (h *FeeScheduleHandler) SetClassAmount(c *gin.Context) {
	classID, err := paramID(c, "class_id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	trancheID, err := paramID(c, "tranche_id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var req ClassAmountRequest
	if err := BindNestedOrFlat(c, "class_amount", &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	row, err := h.feeSchedule.SetClassAmount(c.Request.Context(), actorFrom(c), classID, trancheID, req.Amount, req.OldStudentAmount)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"class_amount": row})
}

type ClassScholarshipRequest struct {
	ClassID   uint            `json:"class_id" binding:"required"`
	TrancheID *uint           `json:"tranche_id"`
	Name      string          `json:"name" binding:"required"`
	Amount    decimal.Decimal `json:"amount" swaggertype:"string" example:"30.00"`
}

// @Summary Create Class Scholarship
// @Description Define a scholarship a class offers, optionally bound to one tranche (Admin)
// @Tags Fee Schedule
// @Accept json
// @Produce json
// @Param request body ClassScholarshipRequest true "Scholarship"
// @Success 201 {object} models.ClassScholarship
// @Security BearerAuth
// @Router /class_scholarships [post]
func (h *FeeScheduleHandler) CreateClassScholarship(c *gin.Context) {
	var req ClassScholarshipRequest
	if err := BindNestedOrFlat(c, "class_scholarship", &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	scholarship := &models.ClassScholarship{
		ClassID:   req.ClassID,
		TrancheID: req.TrancheID,
		Name:      req.Name,
		Amount:    req.Amount,
	}
	if err := h.feeSchedule.CreateClassScholarship(c.Request.Context(), actorFrom(c), scholarship); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"class_scholarship": scholarship})
}

type AwardScholarshipRequest struct {
	ClassScholarshipID uint `json:"class_scholarship_id" binding:"required"`
	TrancheID          uint `json:"tranche_id" binding:"required"`
}

// @Summary Award Scholarship
// @Description Grant a class scholarship to a student for one tranche (Admin)
// @Tags Fee Schedule
// @Accept json
// @Produce json
// @Param student_id path int true "Student ID"
// @Param request body AwardScholarshipRequest true "Award"
// @Success 201 {object} models.StudentScholarship
// @Failure 409 {object} map[string]string "Already awarded for this tranche"
// @Security BearerAuth
// @Router /students/{student_id}/scholarships [post]
func (h *FeeScheduleHandler) AwardScholarship(c *gin.Context) {
	studentID, err := paramID(c, "student_id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var req AwardScholarshipRequest
	if err := BindNestedOrFlat(c, "scholarship", &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	award, err := h.feeSchedule.AwardScholarship(c.Request.Context(), actorFrom(c), studentID, req.ClassScholarshipID, req.TrancheID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"scholarship": award})
}

// @Summary Get School Settings
// @Description Time-reduction percentage and deadline of a school year
// @Tags Fee Schedule
// @Produce json
// @Param school_year_id path int true "School year ID"
// @Success 200 {object} models.SchoolSettings
// @Security BearerAuth
// @Router /school_years/{school_year_id}/settings [get]
func (h *FeeScheduleHandler) GetSettings(c *gin.Context) {
	schoolYearID, err := paramID(c, "school_year_id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	settings, err := h.feeSchedule.GetSettings(c.Request.Context(), schoolYearID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": settings})
}

type SettingsRequest struct {
	ReductionPercentage decimal.Decimal `json:"reduction_percentage" swaggertype:"string" example:"10"`
	ScholarshipDeadline string          `json:"scholarship_deadline" example:"2025-09-15"`
}

// @Summary Update School Settings
// @Description Replace the time-reduction percentage and deadline of a school year (Admin)
// @Tags Fee Schedule
// @Accept json
// @Produce json
// @Param school_year_id path int true "School year ID"
// @Param request body SettingsRequest true "Settings"
// @Success 200 {object} models.SchoolSettings
// @Security BearerAuth
// @Router /school_years/{school_year_id}/settings [put]
func (h *FeeScheduleHandler) UpdateSettings(c *gin.Context) {
	schoolYearID, err := paramID(c, "school_year_id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var req SettingsRequest
	if err := BindNestedOrFlat(c, "settings", &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	deadline, err := parseDate(req.ScholarshipDeadline)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	settings := &models.SchoolSettings{
		SchoolYearID:        schoolYearID,
		ReductionPercentage: req.ReductionPercentage,
	}
	if !deadline.IsZero() {
		settings.ScholarshipDeadline = &deadline
	}

	if err := h.feeSchedule.UpdateSettings(c.Request.Context(), actorFrom(c), settings); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": settings})
}
