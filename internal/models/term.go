package models

import "time"

// Term bounds enrollment and grading windows within the academic calendar.
type Term struct {
	ID              string    `db:"id" json:"id"`
	Name            string    `db:"name" json:"name"`
	AcademicYear    string    `db:"academic_year" json:"academic_year"`
	StartDate       time.Time `db:"start_date" json:"start_date"`
	EndDate         time.Time `db:"end_date" json:"end_date"`
	AddDropDeadline time.Time `db:"add_drop_deadline" json:"add_drop_deadline"`
	GradeDeadline   time.Time `db:"grade_deadline" json:"grade_deadline"`
	IsActive        bool      `db:"is_active" json:"is_active"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// EnrollmentOpen reports whether enrollment mutations are allowed at the
// given instant (inside the term and before the add/drop deadline).
func (t *Term) EnrollmentOpen(at time.Time) bool {
	return !at.Before(t.StartDate) && at.Before(t.AddDropDeadline)
}

// GradingOpen reports whether ordinary grade submission is still allowed.
func (t *Term) GradingOpen(at time.Time) bool {
	return at.Before(t.GradeDeadline)
}

// TermFilter defines filters supported by list endpoints.
type TermFilter struct {
	AcademicYear string
	IsActive     *bool
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}
