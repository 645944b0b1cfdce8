package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/open-sis/registrar-api/internal/models"
)

func gpa(v float64) *float64 { return &v }

func TestClassifyAcademicStatus(t *testing.T) {
	cases := []struct {
		name string
		gpa  *float64
		want models.AcademicStatus
	}{
		{"no graded work", nil, models.StatusGoodStanding},
		{"good standing boundary", gpa(2.0), models.StatusGoodStanding},
		{"high gpa", gpa(3.9), models.StatusGoodStanding},
		{"warning boundary", gpa(1.8), models.StatusWarning},
		{"just below good standing", gpa(1.99), models.StatusWarning},
		{"probation boundary", gpa(1.0), models.StatusProbation},
		{"just below warning", gpa(1.79), models.StatusProbation},
		{"suspension", gpa(0.99), models.StatusSuspension},
		{"zero gpa", gpa(0.0), models.StatusSuspension},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyAcademicStatus(tc.gpa))
		})
	}
}

func TestClassifyClassStanding(t *testing.T) {
	cases := []struct {
		name    string
		credits int
		cohort  models.Cohort
		want    models.ClassStanding
	}{
		{"freshman", 0, models.CohortUndergraduate, models.StandingFreshman},
		{"just below sophomore", 29, models.CohortUndergraduate, models.StandingFreshman},
		{"sophomore boundary", 30, models.CohortUndergraduate, models.StandingSophomore},
		{"junior boundary", 60, models.CohortUndergraduate, models.StandingJunior},
		{"senior boundary", 90, models.CohortUndergraduate, models.StandingSenior},
		{"well past senior", 140, models.CohortUndergraduate, models.StandingSenior},
		{"graduate cohort ignores credits", 5, models.CohortGraduate, models.StandingGraduate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyClassStanding(tc.credits, tc.cohort))
		})
	}
}
