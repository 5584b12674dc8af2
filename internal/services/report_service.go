package services

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sjperalta/school-ledger-api/internal/ledger"
	"github.com/sjperalta/school-ledger-api/internal/models"
	"github.com/sjperalta/school-ledger-api/internal/repository"
	"github.com/xuri/excelize/v2"
)

// InsolvencyRow is a student who still owes money on a tranche
type InsolvencyRow struct {
	StudentID   uint            `json:"student_id"`
	StudentName string          `json:"student_name"`
	Status      string          `json:"status"`
	Required    decimal.Decimal `json:"required"`
	Paid        decimal.Decimal `json:"paid"`
	Remaining   decimal.Decimal `json:"remaining"`
	WasReduced  bool            `json:"was_reduced"`
	Context     string          `json:"context,omitempty"`
}

// InsolvencyReport lists the students of a class with an outstanding balance on a tranche
type InsolvencyReport struct {
	ClassID     uint            `json:"class_id"`
	ClassName   string          `json:"class_name"`
	TrancheID   uint            `json:"tranche_id"`
	TrancheName string          `json:"tranche_name"`
	Deadline    *time.Time      `json:"deadline,omitempty"`
	TotalOwed   decimal.Decimal `json:"total_owed"`
	Students    []InsolvencyRow `json:"students"`
}

type ReportService struct {
	reportRepo   repository.ReportRepository
	studentRepo  repository.StudentRepository
	scheduleRepo repository.FeeScheduleRepository
	feeSchedule  *FeeScheduleService
	now          func() time.Time
}

func NewReportService(
	reportRepo repository.ReportRepository,
	studentRepo repository.StudentRepository,
	scheduleRepo repository.FeeScheduleRepository,
	feeSchedule *FeeScheduleService,
) *ReportService {
	return &ReportService{
		reportRepo:   reportRepo,
		studentRepo:  studentRepo,
		scheduleRepo: scheduleRepo,
		feeSchedule:  feeSchedule,
		now:          time.Now,
	}
}

// ClassTotals aggregates collected amounts per class and tranche for a school year
func (s *ReportService) ClassTotals(ctx context.Context, schoolYearID uint) ([]repository.ClassTrancheTotal, error) {
	return s.reportRepo.ClassTrancheTotals(ctx, schoolYearID)
}

// Insolvency lists the students of a class whose balance on a tranche is not settled
func (s *ReportService) Insolvency(ctx context.Context, classID, trancheID uint) (*InsolvencyReport, error) {
	class, err := s.studentRepo.FindClass(ctx, classID)
	if err != nil {
		return nil, notFound(err)
	}
	tranche, err := s.scheduleRepo.FindTranche(ctx, trancheID)
	if err != nil {
		return nil, notFound(err)
	}
	if tranche.SchoolYearID != class.SchoolYearID {
		return nil, fmt.Errorf("%w: la clase y el tramo pertenecen a años escolares distintos", ErrInvalidInput)
	}

	schedule, err := s.feeSchedule.Schedule(ctx, classID, class.SchoolYearID)
	if err != nil {
		return nil, err
	}
	settings, err := s.feeSchedule.GetSettings(ctx, class.SchoolYearID)
	if err != nil {
		return nil, err
	}
	students, err := s.studentRepo.ListByClass(ctx, classID)
	if err != nil {
		return nil, err
	}
	latest, err := s.reportRepo.LatestDetailsForClass(ctx, classID, trancheID)
	if err != nil {
		return nil, err
	}
	awards, err := s.scheduleRepo.ListScholarshipsForTranche(ctx, trancheID)
	if err != nil {
		return nil, err
	}
	byStudent := make(map[uint]*models.StudentScholarship, len(awards))
	for i := range awards {
		byStudent[awards[i].StudentID] = &awards[i]
	}

	report := &InsolvencyReport{
		ClassID:     class.ID,
		ClassName:   class.Name,
		TrancheID:   tranche.ID,
		TrancheName: tranche.Name,
		Deadline:    tranche.Deadline,
		TotalOwed:   decimal.Zero,
		Students:    make([]InsolvencyRow, 0),
	}

	today := s.now()
	for _, student := range students {
		row := InsolvencyRow{
			StudentID:   student.ID,
			StudentName: student.FullName,
			Status:      student.Status,
			Paid:        decimal.Zero,
		}

		if detail, ok := latest[student.ID]; ok {
			row.Required = detail.RequiredAmountAtTime
			row.Paid = detail.NewTotalAmount
			row.WasReduced = detail.WasReduced
			row.Context = detail.ReductionContext
		} else {
			base, err := schedule.RequiredAmount(classID, trancheID, student.Status)
			if err != nil {
				return nil, err
			}
			discount := ledger.ResolveDiscount(ledger.DiscountInput{
				BaseRequired: base,
				AsOf:         today,
				Settings:     *settings,
				Scholarship:  byStudent[student.ID],
			})
			row.Required = discount.Amount
			row.WasReduced = discount.WasReduced
			row.Context = discount.Context
		}

		row.Remaining = ledger.Remaining(row.Required, row.Paid)
		if !row.Remaining.IsPositive() {
			continue
		}
		report.TotalOwed = report.TotalOwed.Add(row.Remaining)
		report.Students = append(report.Students, row)
	}

	return report, nil
}

// InsolvencyXLSX renders the insolvency report as a spreadsheet
func (s *ReportService) InsolvencyXLSX(ctx context.Context, classID, trancheID uint) (*bytes.Buffer, error) {
	report, err := s.Insolvency(ctx, classID, trancheID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := "Insolventes"
	_ = f.SetSheetName("Sheet1", sheet)

	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 14},
	})
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})

	_ = f.SetCellValue(sheet, "A1", fmt.Sprintf("Estudiantes con saldo pendiente - %s / %s", report.ClassName, report.TrancheName))
	_ = f.SetCellStyle(sheet, "A1", "A1", titleStyle)
	if report.Deadline != nil {
		_ = f.SetCellValue(sheet, "A2", "Fecha límite: "+report.Deadline.Format("2006-01-02"))
	}

	headers := []string{"Estudiante", "Estado", "Requerido", "Pagado", "Pendiente", "Descuento"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 4)
		_ = f.SetCellValue(sheet, cell, h)
	}
	_ = f.SetCellStyle(sheet, "A4", "F4", headerStyle)

	rowNum := 5
	for _, r := range report.Students {
		_ = f.SetCellValue(sheet, fmt.Sprintf("A%d", rowNum), r.StudentName)
		_ = f.SetCellValue(sheet, fmt.Sprintf("B%d", rowNum), r.Status)
		_ = f.SetCellValue(sheet, fmt.Sprintf("C%d", rowNum), r.Required.InexactFloat64())
		_ = f.SetCellValue(sheet, fmt.Sprintf("D%d", rowNum), r.Paid.InexactFloat64())
		_ = f.SetCellValue(sheet, fmt.Sprintf("E%d", rowNum), r.Remaining.InexactFloat64())
		_ = f.SetCellValue(sheet, fmt.Sprintf("F%d", rowNum), r.Context)
		rowNum++
	}

	_ = f.SetCellValue(sheet, fmt.Sprintf("D%d", rowNum+1), "Total")
	_ = f.SetCellValue(sheet, fmt.Sprintf("E%d", rowNum+1), report.TotalOwed.InexactFloat64())
	_ = f.SetColWidth(sheet, "A", "A", 32)
	_ = f.SetColWidth(sheet, "F", "F", 28)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf, nil
}
