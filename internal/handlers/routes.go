package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/sjperalta/school-ledger-api/internal/middleware"
)

// RegisterRoutes mounts the API on the /api/v1 group
func (h *Handlers) RegisterRoutes(v1 *gin.RouterGroup, jwtSecret string) {
	// Health check (public)
	v1.GET("/health", h.Health.Index)

	protected := v1.Group("")
	protected.Use(middleware.Auth(jwtSecret))
	{
		// Fee schedule administration (admin only)
		admin := protected.Group("")
		admin.Use(middleware.RequireAdmin())
		{
			admin.POST("/school_years/:school_year_id/tranches", h.FeeSchedule.CreateTranche)
			admin.PATCH("/tranches/:tranche_id", h.FeeSchedule.UpdateTranche)
			admin.PUT("/classes/:class_id/tranches/:tranche_id/amount", h.FeeSchedule.SetClassAmount)
			admin.POST("/class_scholarships", h.FeeSchedule.CreateClassScholarship)
			admin.POST("/students/:student_id/scholarships", h.FeeSchedule.AwardScholarship)
			admin.PUT("/school_years/:school_year_id/settings", h.FeeSchedule.UpdateSettings)

			admin.GET("/audits", h.Audit.Index)
			admin.GET("/jobs/status", h.Job.Status)
			admin.POST("/jobs/ledger_integrity", h.Job.VerifyLedger)
		}

		// Cashier desk
		cashier := protected.Group("")
		cashier.Use(middleware.RequireRole(middleware.RoleAdmin, middleware.RoleCashier))
		{
			cashier.POST("/students/:student_id/payments", h.Payment.Record)
			cashier.POST("/students/:student_id/payments/quote", h.Payment.Quote)
		}

		// Read access for every back-office role
		staff := protected.Group("")
		staff.Use(middleware.RequireRole(middleware.RoleAdmin, middleware.RoleCashier, middleware.RoleAccountant))
		{
			staff.GET("/students/:student_id/balance", h.Payment.Balance)
			staff.GET("/students/:student_id/payments", h.Payment.History)
			staff.GET("/payments/:payment_id", h.Payment.Show)
			staff.GET("/receipts/:receipt_number", h.Payment.ShowByReceipt)

			staff.GET("/school_years/:school_year_id/tranches", h.FeeSchedule.ListTranches)
			staff.GET("/school_years/:school_year_id/settings", h.FeeSchedule.GetSettings)

			staff.GET("/reports/class_totals", h.Report.ClassTotals)
			staff.GET("/reports/insolvency", h.Report.Insolvency)
			staff.GET("/reports/insolvency.xlsx", h.Report.InsolvencyXLSX)
		}
	}
}
