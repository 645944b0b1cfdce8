package service

import "github.com/open-sis/registrar-api/internal/models"

// Academic status thresholds on cumulative GPA. The bands are fixed,
// ordered, and total; a nil GPA (no graded work yet) is good standing.
const (
	goodStandingGPA = 2.0
	warningGPA      = 1.8
	probationGPA    = 1.0
)

// Class standing thresholds on credits earned.
const (
	seniorCredits    = 90
	juniorCredits    = 60
	sophomoreCredits = 30
)

// ClassifyAcademicStatus maps cumulative GPA to academic status.
func ClassifyAcademicStatus(gpa *float64) models.AcademicStatus {
	if gpa == nil {
		return models.StatusGoodStanding
	}
	switch {
	case *gpa >= goodStandingGPA:
		return models.StatusGoodStanding
	case *gpa >= warningGPA:
		return models.StatusWarning
	case *gpa >= probationGPA:
		return models.StatusProbation
	default:
		return models.StatusSuspension
	}
}

// ClassifyClassStanding maps credits earned to a progression tier. Graduate
// students are a tagged cohort, never derived from credit thresholds.
func ClassifyClassStanding(creditsEarned int, cohort models.Cohort) models.ClassStanding {
	if cohort == models.CohortGraduate {
		return models.StandingGraduate
	}
	switch {
	case creditsEarned >= seniorCredits:
		return models.StandingSenior
	case creditsEarned >= juniorCredits:
		return models.StandingJunior
	case creditsEarned >= sophomoreCredits:
		return models.StandingSophomore
	default:
		return models.StandingFreshman
	}
}
