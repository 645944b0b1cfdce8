package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusEnrolled   EnrollmentStatus = "ENROLLED"
	EnrollmentStatusWaitlisted EnrollmentStatus = "WAITLISTED"
	EnrollmentStatusCompleted  EnrollmentStatus = "COMPLETED"
	EnrollmentStatusDropped    EnrollmentStatus = "DROPPED"
)

// Active reports whether the status occupies the (student, offering) pair.
// At most one active enrollment may exist per pair.
func (s EnrollmentStatus) Active() bool {
	return s == EnrollmentStatusEnrolled || s == EnrollmentStatusWaitlisted
}

// Enrollment links one student to one offering. EnrolledAt is the sole FIFO
// key for waitlist promotion and is never rewritten after creation.
type Enrollment struct {
	ID          string           `db:"id" json:"id"`
	StudentID   string           `db:"student_id" json:"student_id"`
	OfferingID  string           `db:"offering_id" json:"offering_id"`
	TermID      string           `db:"term_id" json:"term_id"`
	Status      EnrollmentStatus `db:"status" json:"status"`
	Grade       *string          `db:"grade" json:"grade,omitempty"`
	EnrolledAt  time.Time        `db:"enrolled_at" json:"enrolled_at"`
	DroppedAt   *time.Time       `db:"dropped_at" json:"dropped_at,omitempty"`
	CompletedAt *time.Time       `db:"completed_at" json:"completed_at,omitempty"`
}

// EnrollmentDetail enriches Enrollment with student and offering info.
type EnrollmentDetail struct {
	Enrollment
	StudentName   string `db:"student_name" json:"student_name"`
	StudentNumber string `db:"student_number" json:"student_number"`
	CourseCode    string `db:"course_code" json:"course_code"`
	CourseTitle   string `db:"course_title" json:"course_title"`
	Credits       int    `db:"credits" json:"credits"`
	TermName      string `db:"term_name" json:"term_name"`
}

// EnrollmentSchedule pairs an active enrollment with its offering's meeting
// pattern for conflict checks.
type EnrollmentSchedule struct {
	EnrollmentID string  `db:"enrollment_id"`
	OfferingID   string  `db:"offering_id"`
	MeetingDays  *string `db:"meeting_days"`
	StartMinute  *int    `db:"start_minute"`
	EndMinute    *int    `db:"end_minute"`
}

// Pattern converts the joined schedule row into a meeting pattern, nil for
// asynchronous offerings.
func (e EnrollmentSchedule) Pattern() *MeetingPattern {
	o := Offering{MeetingDays: e.MeetingDays, StartMinute: e.StartMinute, EndMinute: e.EndMinute}
	return o.Pattern()
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID  string
	OfferingID string
	TermID     string
	Status     EnrollmentStatus
	Page       int
	PageSize   int
	SortBy     string
	SortOrder  string
}
