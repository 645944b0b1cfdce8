package models

// LetterGrade is a recognized transcript grade.
type LetterGrade string

// gradePoints maps letter grades to their 4.0-scale point values.
var gradePoints = map[LetterGrade]float64{
	"A":  4.0,
	"A-": 3.7,
	"B+": 3.3,
	"B":  3.0,
	"B-": 2.7,
	"C+": 2.3,
	"C":  2.0,
	"C-": 1.7,
	"D+": 1.3,
	"D":  1.0,
	"F":  0.0,
}

// Non-GPA markers. They appear on transcripts but carry no point value and
// are excluded from GPA math entirely rather than counted as zero.
var nonGPAMarkers = map[LetterGrade]struct{}{
	"W":  {},
	"I":  {},
	"P":  {},
	"CR": {},
	"NC": {},
}

// GradePoints returns the point value for a letter grade and whether the
// grade participates in GPA computation.
func GradePoints(grade LetterGrade) (float64, bool) {
	points, ok := gradePoints[grade]
	return points, ok
}

// RecognizedGrade reports whether the grade is legal for submission: either
// a point-bearing letter or a non-GPA marker.
func RecognizedGrade(grade LetterGrade) bool {
	if _, ok := gradePoints[grade]; ok {
		return true
	}
	_, ok := nonGPAMarkers[grade]
	return ok
}

// GradedCredit is one completed, graded enrollment's contribution to the
// GPA recomputation, joined with catalog credits.
type GradedCredit struct {
	EnrollmentID string      `db:"enrollment_id"`
	TermID       string      `db:"term_id"`
	Grade        LetterGrade `db:"grade"`
	Credits      int         `db:"credits"`
}
