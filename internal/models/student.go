package models

import "time"

// Cohort separates credit-derived class standings from the graduate track.
type Cohort string

const (
	CohortUndergraduate Cohort = "UNDERGRADUATE"
	CohortGraduate      Cohort = "GRADUATE"
)

// ClassStanding is the coarse progression tier derived from credits earned.
type ClassStanding string

const (
	StandingFreshman  ClassStanding = "FRESHMAN"
	StandingSophomore ClassStanding = "SOPHOMORE"
	StandingJunior    ClassStanding = "JUNIOR"
	StandingSenior    ClassStanding = "SENIOR"
	StandingGraduate  ClassStanding = "GRADUATE"
)

// AcademicStatus is derived from cumulative GPA after every recomputation.
type AcademicStatus string

const (
	StatusGoodStanding AcademicStatus = "GOOD_STANDING"
	StatusWarning      AcademicStatus = "ACADEMIC_WARNING"
	StatusProbation    AcademicStatus = "ACADEMIC_PROBATION"
	StatusSuspension   AcademicStatus = "ACADEMIC_SUSPENSION"
)

// Student represents a learner registered with the university.
// GPA fields stay nil until the first graded term is recorded.
type Student struct {
	ID                string         `db:"id" json:"id"`
	StudentNumber     string         `db:"student_number" json:"student_number"`
	FullName          string         `db:"full_name" json:"full_name"`
	Cohort            Cohort         `db:"cohort" json:"cohort"`
	CumulativeGPA     *float64       `db:"cumulative_gpa" json:"cumulative_gpa,omitempty"`
	TermGPA           *float64       `db:"term_gpa" json:"term_gpa,omitempty"`
	CreditsEarned     int            `db:"credits_earned" json:"credits_earned"`
	CreditsInProgress int            `db:"credits_in_progress" json:"credits_in_progress"`
	ClassStanding     ClassStanding  `db:"class_standing" json:"class_standing"`
	AcademicStatus    AcademicStatus `db:"academic_status" json:"academic_status"`
	Active            bool           `db:"active" json:"active"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
}

// AcademicSummary bundles the derived aggregates written back after grading.
type AcademicSummary struct {
	CumulativeGPA     *float64       `json:"cumulative_gpa,omitempty"`
	TermGPA           *float64       `json:"term_gpa,omitempty"`
	CreditsEarned     int            `json:"credits_earned"`
	CreditsInProgress int            `json:"credits_in_progress"`
	ClassStanding     ClassStanding  `json:"class_standing"`
	AcademicStatus    AcademicStatus `json:"academic_status"`
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search    string
	Cohort    Cohort
	Active    *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
