package service

import (
	"github.com/open-sis/registrar-api/internal/models"
	appErrors "github.com/open-sis/registrar-api/pkg/errors"
)

// PatternsConflict reports whether two meeting patterns overlap: their
// weekday sets intersect and their time intervals intersect under half-open
// comparison, so back-to-back meetings do not conflict. A nil pattern
// (asynchronous offering) never conflicts. A malformed range (end <= start)
// is a data-integrity condition surfaced to the caller, not resolved here.
func PatternsConflict(a, b *models.MeetingPattern) (bool, error) {
	if a == nil || b == nil {
		return false, nil
	}
	if a.EndMinute <= a.StartMinute || b.EndMinute <= b.StartMinute {
		return false, appErrors.ErrInvalidPattern
	}
	if !daysIntersect(a.Days, b.Days) {
		return false, nil
	}
	return a.StartMinute < b.EndMinute && b.StartMinute < a.EndMinute, nil
}

func daysIntersect(a, b []models.Weekday) bool {
	set := make(map[models.Weekday]struct{}, len(a))
	for _, d := range a {
		set[d] = struct{}{}
	}
	for _, d := range b {
		if _, ok := set[d]; ok {
			return true
		}
	}
	return false
}

// firstConflict returns the offering ID of the first enrolled schedule that
// overlaps the candidate pattern, or empty when none conflict.
func firstConflict(candidate *models.MeetingPattern, enrolled []models.EnrollmentSchedule) (string, error) {
	for _, sched := range enrolled {
		conflict, err := PatternsConflict(candidate, sched.Pattern())
		if err != nil {
			return "", err
		}
		if conflict {
			return sched.OfferingID, nil
		}
	}
	return "", nil
}
