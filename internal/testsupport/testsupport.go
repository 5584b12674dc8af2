// Package testsupport builds sqlite-backed databases and fee schedule fixtures for tests.
package testsupport

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/sjperalta/school-ledger-api/internal/models"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// NewDB opens a private in-memory database with every table migrated
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.AllModels()...))
	return db
}

// Date returns midnight UTC of the given day
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Amount parses a decimal literal
func Amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Fixture is a seeded school year with one class, two students and two tranches
type Fixture struct {
	SchoolYear models.SchoolYear
	Class      models.Class
	NewStudent models.Student
	OldStudent models.Student
	Tranche1   models.Tranche
	Tranche2   models.Tranche
}

// Seed creates the fixture: tranches T1 and T2 cost 150 each for the class,
// T1 is due 2025-09-30 and T2 2025-12-15.
func Seed(t testing.TB, db *gorm.DB) *Fixture {
	t.Helper()

	f := &Fixture{}
	f.SchoolYear = models.SchoolYear{Name: "2025-2026", IsCurrent: true}
	require.NoError(t, db.Create(&f.SchoolYear).Error)

	f.Class = models.Class{SchoolYearID: f.SchoolYear.ID, Name: "Primero A"}
	require.NoError(t, db.Create(&f.Class).Error)

	f.NewStudent = models.Student{SchoolYearID: f.SchoolYear.ID, ClassID: f.Class.ID, FullName: "Ana López", Status: models.StudentStatusNew}
	require.NoError(t, db.Omit("Class").Create(&f.NewStudent).Error)
	f.OldStudent = models.Student{SchoolYearID: f.SchoolYear.ID, ClassID: f.Class.ID, FullName: "Bruno Díaz", Status: models.StudentStatusOld}
	require.NoError(t, db.Omit("Class").Create(&f.OldStudent).Error)

	d1 := Date(2025, time.September, 30)
	d2 := Date(2025, time.December, 15)
	f.Tranche1 = models.Tranche{SchoolYearID: f.SchoolYear.ID, Name: "T1", SortOrder: 1, Deadline: &d1, IsRequired: true, IsActive: true}
	f.Tranche2 = models.Tranche{SchoolYearID: f.SchoolYear.ID, Name: "T2", SortOrder: 2, Deadline: &d2, IsRequired: true, IsActive: true}
	require.NoError(t, db.Create(&f.Tranche1).Error)
	require.NoError(t, db.Create(&f.Tranche2).Error)

	for _, tr := range []models.Tranche{f.Tranche1, f.Tranche2} {
		require.NoError(t, db.Create(&models.ClassRequiredAmount{
			ClassID:   f.Class.ID,
			TrancheID: tr.ID,
			Amount:    Amount("150"),
		}).Error)
	}

	return f
}

// WithReduction stores a school-wide reduction for the fixture's school year
func (f *Fixture) WithReduction(t testing.TB, db *gorm.DB, pct string, deadline time.Time) models.SchoolSettings {
	t.Helper()
	settings := models.SchoolSettings{
		SchoolYearID:        f.SchoolYear.ID,
		ReductionPercentage: Amount(pct),
		ScholarshipDeadline: &deadline,
	}
	require.NoError(t, db.Create(&settings).Error)
	return settings
}

// AwardScholarship defines a class scholarship and awards it to a student for a tranche
func (f *Fixture) AwardScholarship(t testing.TB, db *gorm.DB, studentID, trancheID uint, amount string) models.StudentScholarship {
	t.Helper()
	cs := models.ClassScholarship{ClassID: f.Class.ID, TrancheID: &trancheID, Name: "Excelencia", Amount: Amount(amount)}
	require.NoError(t, db.Create(&cs).Error)

	award := models.StudentScholarship{
		StudentID:          studentID,
		TrancheID:          trancheID,
		ClassScholarshipID: cs.ID,
		AmountUsed:         decimal.Zero,
	}
	require.NoError(t, db.Omit("ClassScholarship").Create(&award).Error)
	award.ClassScholarship = cs
	return award
}
