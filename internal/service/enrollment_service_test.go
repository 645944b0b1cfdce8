package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-sis/registrar-api/internal/models"
	appErrors "github.com/open-sis/registrar-api/pkg/errors"
)

// fakeRegistry backs the enrollment mocks with shared in-memory state so
// waitlist promotion observes the effects of earlier writes in the same test.
type fakeRegistry struct {
	offerings   map[string]*models.Offering
	enrollments map[string]*models.Enrollment
	students    map[string]*models.Student
	terms       map[string]*models.Term
	inProgress  map[string]int
	nextID      int
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		offerings:   make(map[string]*models.Offering),
		enrollments: make(map[string]*models.Enrollment),
		students:    make(map[string]*models.Student),
		terms:       make(map[string]*models.Term),
		inProgress:  make(map[string]int),
	}
}

type mockEnrollmentStore struct {
	reg *fakeRegistry
	// pairMisses makes FindActiveByPair miss that many times, standing in
	// for a concurrent writer whose row is not yet visible outside its
	// transaction.
	pairMisses int
}

func (m *mockEnrollmentStore) InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return fn(nil)
}

func (m *mockEnrollmentStore) LockOfferingTx(ctx context.Context, tx *sqlx.Tx, offeringID string) (*models.Offering, error) {
	if o, ok := m.reg.offerings[offeringID]; ok {
		return o, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentStore) LockStudentTx(ctx context.Context, tx *sqlx.Tx, studentID string) error {
	return nil
}

func (m *mockEnrollmentStore) CountByStatusTx(ctx context.Context, tx *sqlx.Tx, offeringID string, status models.EnrollmentStatus) (int, error) {
	count := 0
	for _, e := range m.reg.enrollments {
		if e.OfferingID == offeringID && e.Status == status {
			count++
		}
	}
	return count, nil
}

func (m *mockEnrollmentStore) CreateTx(ctx context.Context, tx *sqlx.Tx, enrollment *models.Enrollment) error {
	m.reg.nextID++
	enrollment.ID = fmt.Sprintf("e%d", m.reg.nextID)
	stored := *enrollment
	m.reg.enrollments[enrollment.ID] = &stored
	return nil
}

func (m *mockEnrollmentStore) UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, id string, status models.EnrollmentStatus, at time.Time) error {
	e, ok := m.reg.enrollments[id]
	if !ok {
		return sql.ErrNoRows
	}
	e.Status = status
	switch status {
	case models.EnrollmentStatusDropped:
		e.DroppedAt = &at
	case models.EnrollmentStatusCompleted:
		e.CompletedAt = &at
	default:
		e.DroppedAt = nil
		e.CompletedAt = nil
	}
	return nil
}

func (m *mockEnrollmentStore) ListWaitlistedTx(ctx context.Context, tx *sqlx.Tx, offeringID string) ([]models.Enrollment, error) {
	var list []models.Enrollment
	for _, e := range m.reg.enrollments {
		if e.OfferingID == offeringID && e.Status == models.EnrollmentStatusWaitlisted {
			list = append(list, *e)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].EnrolledAt.Before(list[j].EnrolledAt) })
	return list, nil
}

func (m *mockEnrollmentStore) ListEnrolledSchedulesTx(ctx context.Context, tx *sqlx.Tx, studentID string) ([]models.EnrollmentSchedule, error) {
	var list []models.EnrollmentSchedule
	for _, e := range m.reg.enrollments {
		if e.StudentID != studentID || e.Status != models.EnrollmentStatusEnrolled {
			continue
		}
		o := m.reg.offerings[e.OfferingID]
		list = append(list, models.EnrollmentSchedule{
			EnrollmentID: e.ID,
			OfferingID:   e.OfferingID,
			MeetingDays:  o.MeetingDays,
			StartMinute:  o.StartMinute,
			EndMinute:    o.EndMinute,
		})
	}
	return list, nil
}

func (m *mockEnrollmentStore) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	if e, ok := m.reg.enrollments[id]; ok {
		copied := *e
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentStore) findActivePair(studentID, offeringID string) (*models.Enrollment, error) {
	for _, e := range m.reg.enrollments {
		if e.StudentID == studentID && e.OfferingID == offeringID && e.Status.Active() {
			copied := *e
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentStore) FindActiveByPair(ctx context.Context, studentID, offeringID string) (*models.Enrollment, error) {
	if m.pairMisses > 0 {
		m.pairMisses--
		return nil, sql.ErrNoRows
	}
	return m.findActivePair(studentID, offeringID)
}

func (m *mockEnrollmentStore) FindActiveByPairTx(ctx context.Context, tx *sqlx.Tx, studentID, offeringID string) (*models.Enrollment, error) {
	return m.findActivePair(studentID, offeringID)
}

func (m *mockEnrollmentStore) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	if e, ok := m.reg.enrollments[id]; ok {
		return &models.EnrollmentDetail{Enrollment: *e}, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentStore) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	return nil, 0, nil
}

type mockStudentStore struct {
	reg *fakeRegistry
}

func (m *mockStudentStore) FindByID(ctx context.Context, id string) (*models.Student, error) {
	if s, ok := m.reg.students[id]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudentStore) SumCreditsInProgressTx(ctx context.Context, tx *sqlx.Tx, studentID, termID string) (int, error) {
	count := 0
	for _, e := range m.reg.enrollments {
		if e.StudentID == studentID && e.TermID == termID && e.Status == models.EnrollmentStatusEnrolled {
			count++
		}
	}
	return count * 3, nil
}

func (m *mockStudentStore) UpdateCreditsInProgressTx(ctx context.Context, tx *sqlx.Tx, studentID string, credits int) error {
	m.reg.inProgress[studentID] = credits
	return nil
}

type mockOfferingStore struct {
	reg *fakeRegistry
}

func (m *mockOfferingStore) FindByID(ctx context.Context, id string) (*models.Offering, error) {
	if o, ok := m.reg.offerings[id]; ok {
		return o, nil
	}
	return nil, sql.ErrNoRows
}

type mockTermStore struct {
	reg *fakeRegistry
}

func (m *mockTermStore) FindByID(ctx context.Context, id string) (*models.Term, error) {
	if t, ok := m.reg.terms[id]; ok {
		return t, nil
	}
	return nil, sql.ErrNoRows
}

type mockSeatCache struct {
	deleted []string
}

func (m *mockSeatCache) Delete(ctx context.Context, key string) error {
	m.deleted = append(m.deleted, key)
	return nil
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func newEnrollmentFixture(t *testing.T) (*fakeRegistry, *EnrollmentService, *mockSeatCache) {
	t.Helper()
	reg := newFakeRegistry()
	base := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	reg.terms["t1"] = &models.Term{
		ID:              "t1",
		StartDate:       base.AddDate(0, 0, -10),
		AddDropDeadline: base.AddDate(0, 0, 10),
		EndDate:         base.AddDate(0, 0, 100),
		GradeDeadline:   base.AddDate(0, 0, 110),
	}
	for _, id := range []string{"s1", "s2", "s3"} {
		reg.students[id] = &models.Student{ID: id, Active: true, Cohort: models.CohortUndergraduate}
	}
	reg.offerings["off-a"] = &models.Offering{
		ID: "off-a", CourseID: "c1", TermID: "t1", Capacity: 2, Open: true,
		MeetingDays: strPtr("MON,WED"), StartMinute: intPtr(540), EndMinute: intPtr(630),
	}

	cache := &mockSeatCache{}
	svc := NewEnrollmentService(&mockEnrollmentStore{reg: reg}, &mockStudentStore{reg: reg}, &mockOfferingStore{reg: reg}, &mockTermStore{reg: reg}, cache, nil, nil, nil)
	svc.now = func() time.Time { return base }
	return reg, svc, cache
}

func requestAt(t *testing.T, svc *EnrollmentService, at time.Time, studentID, offeringID string) *models.EnrollmentDetail {
	t.Helper()
	svc.now = func() time.Time { return at }
	detail, err := svc.Request(context.Background(), RequestEnrollmentRequest{StudentID: studentID, OfferingID: offeringID})
	require.NoError(t, err)
	return detail
}

func TestEnrollmentRequestCapacityAndWaitlist(t *testing.T) {
	reg, svc, cache := newEnrollmentFixture(t)
	base := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)

	first := requestAt(t, svc, base, "s1", "off-a")
	second := requestAt(t, svc, base.Add(time.Minute), "s2", "off-a")
	third := requestAt(t, svc, base.Add(2*time.Minute), "s3", "off-a")

	assert.Equal(t, models.EnrollmentStatusEnrolled, first.Status)
	assert.Equal(t, models.EnrollmentStatusEnrolled, second.Status)
	assert.Equal(t, models.EnrollmentStatusWaitlisted, third.Status)

	assert.Equal(t, 3, reg.inProgress["s1"])
	assert.Equal(t, 3, reg.inProgress["s2"])
	_, tracked := reg.inProgress["s3"]
	assert.False(t, tracked, "waitlisted seats carry no in-progress credits")

	assert.Contains(t, cache.deleted, "offerings:seats:off-a")
}

func TestEnrollmentRequestIdempotent(t *testing.T) {
	reg, svc, _ := newEnrollmentFixture(t)
	base := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)

	first := requestAt(t, svc, base, "s1", "off-a")
	again := requestAt(t, svc, base.Add(time.Minute), "s1", "off-a")

	assert.Equal(t, first.ID, again.ID)
	assert.Len(t, reg.enrollments, 1)
}

func TestEnrollmentRequestIdempotentAfterDeadline(t *testing.T) {
	// Re-requesting an active pair returns the existing record even once
	// the add/drop window has closed for new enrollments.
	reg, svc, _ := newEnrollmentFixture(t)
	base := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)

	first := requestAt(t, svc, base, "s1", "off-a")
	again := requestAt(t, svc, base.AddDate(0, 0, 20), "s1", "off-a")

	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, first.Status, again.Status)
	assert.Len(t, reg.enrollments, 1)
}

func TestEnrollmentRequestConcurrentDuplicatePair(t *testing.T) {
	// Simulates a second request racing a commit for the same pair: the
	// initial lookup misses, so only the re-check under the student lock
	// keeps the pair down to a single active record.
	reg, svc, _ := newEnrollmentFixture(t)
	base := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)

	requestAt(t, svc, base, "s1", "off-a")
	requestAt(t, svc, base.Add(time.Minute), "s2", "off-a")
	first := requestAt(t, svc, base.Add(2*time.Minute), "s3", "off-a")
	require.Equal(t, models.EnrollmentStatusWaitlisted, first.Status)

	svc.repo.(*mockEnrollmentStore).pairMisses = 1
	again := requestAt(t, svc, base.Add(3*time.Minute), "s3", "off-a")

	assert.Equal(t, first.ID, again.ID)
	active := 0
	for _, e := range reg.enrollments {
		if e.StudentID == "s3" && e.OfferingID == "off-a" && e.Status.Active() {
			active++
		}
	}
	assert.Equal(t, 1, active, "a racing duplicate must not create a second active record")
}

func TestEnrollmentRequestScheduleConflict(t *testing.T) {
	reg, svc, _ := newEnrollmentFixture(t)
	base := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	reg.offerings["off-b"] = &models.Offering{
		ID: "off-b", CourseID: "c2", TermID: "t1", Capacity: 5, Open: true,
		MeetingDays: strPtr("MON"), StartMinute: intPtr(600), EndMinute: intPtr(700),
	}

	requestAt(t, svc, base, "s1", "off-a")

	_, err := svc.Request(context.Background(), RequestEnrollmentRequest{StudentID: "s1", OfferingID: "off-b"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrScheduleConflict.Code, appErrors.FromError(err).Code)
	assert.Len(t, reg.enrollments, 1, "conflicting request must not create a record")
}

func TestEnrollmentRequestWaitlistedIgnoresConflict(t *testing.T) {
	// Waitlisted enrollments hold no seat, so only enrolled schedules are
	// checked when a student requests another offering.
	reg, svc, _ := newEnrollmentFixture(t)
	base := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	reg.offerings["off-a"].Capacity = 0
	reg.offerings["off-b"] = &models.Offering{
		ID: "off-b", CourseID: "c2", TermID: "t1", Capacity: 5, Open: true,
		MeetingDays: strPtr("MON"), StartMinute: intPtr(600), EndMinute: intPtr(700),
	}

	waitlisted := requestAt(t, svc, base, "s1", "off-a")
	require.Equal(t, models.EnrollmentStatusWaitlisted, waitlisted.Status)

	enrolled := requestAt(t, svc, base.Add(time.Minute), "s1", "off-b")
	assert.Equal(t, models.EnrollmentStatusEnrolled, enrolled.Status)
}

func TestEnrollmentRequestClosedOffering(t *testing.T) {
	reg, svc, _ := newEnrollmentFixture(t)
	reg.offerings["off-a"].Open = false

	_, err := svc.Request(context.Background(), RequestEnrollmentRequest{StudentID: "s1", OfferingID: "off-a"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrCapacityClosed.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentRequestAfterAddDropDeadline(t *testing.T) {
	reg, svc, _ := newEnrollmentFixture(t)
	svc.now = func() time.Time { return reg.terms["t1"].AddDropDeadline.Add(time.Hour) }

	_, err := svc.Request(context.Background(), RequestEnrollmentRequest{StudentID: "s1", OfferingID: "off-a"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrTermClosed.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentRequestInactiveStudent(t *testing.T) {
	reg, svc, _ := newEnrollmentFixture(t)
	reg.students["s1"].Active = false

	_, err := svc.Request(context.Background(), RequestEnrollmentRequest{StudentID: "s1", OfferingID: "off-a"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestDropPromotesFIFO(t *testing.T) {
	reg, svc, _ := newEnrollmentFixture(t)
	base := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	reg.offerings["off-a"].Capacity = 1

	seated := requestAt(t, svc, base, "s1", "off-a")
	waitedFirst := requestAt(t, svc, base.Add(time.Minute), "s2", "off-a")
	waitedSecond := requestAt(t, svc, base.Add(2*time.Minute), "s3", "off-a")
	require.Equal(t, models.EnrollmentStatusEnrolled, seated.Status)
	require.Equal(t, models.EnrollmentStatusWaitlisted, waitedFirst.Status)
	require.Equal(t, models.EnrollmentStatusWaitlisted, waitedSecond.Status)

	svc.now = func() time.Time { return base.Add(time.Hour) }
	dropped, err := svc.Drop(context.Background(), seated.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusDropped, dropped.Status)
	assert.NotNil(t, dropped.DroppedAt)

	assert.Equal(t, models.EnrollmentStatusEnrolled, reg.enrollments[waitedFirst.ID].Status, "earliest waitlisted wins the seat")
	assert.Equal(t, models.EnrollmentStatusWaitlisted, reg.enrollments[waitedSecond.ID].Status, "one promotion per released seat")
	assert.Equal(t, 0, reg.inProgress["s1"])
	assert.Equal(t, 3, reg.inProgress["s2"])
}

func TestDropSkipsConflictedCandidate(t *testing.T) {
	reg, svc, _ := newEnrollmentFixture(t)
	base := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	reg.offerings["off-a"].Capacity = 1
	reg.offerings["off-c"] = &models.Offering{
		ID: "off-c", CourseID: "c3", TermID: "t1", Capacity: 5, Open: true,
		MeetingDays: strPtr("MON"), StartMinute: intPtr(600), EndMinute: intPtr(660),
	}

	seated := requestAt(t, svc, base, "s1", "off-a")
	// s2 queues for off-a first, then picks up a conflicting seat in off-c.
	conflicted := requestAt(t, svc, base.Add(time.Minute), "s2", "off-a")
	requestAt(t, svc, base.Add(2*time.Minute), "s2", "off-c")
	clean := requestAt(t, svc, base.Add(3*time.Minute), "s3", "off-a")
	require.Equal(t, models.EnrollmentStatusWaitlisted, conflicted.Status)
	require.Equal(t, models.EnrollmentStatusWaitlisted, clean.Status)

	svc.now = func() time.Time { return base.Add(time.Hour) }
	_, err := svc.Drop(context.Background(), seated.ID)
	require.NoError(t, err)

	assert.Equal(t, models.EnrollmentStatusWaitlisted, reg.enrollments[conflicted.ID].Status, "conflicted candidate keeps its position")
	assert.Equal(t, models.EnrollmentStatusEnrolled, reg.enrollments[clean.ID].Status)
}

func TestDropWaitlistedReleasesNoSeat(t *testing.T) {
	reg, svc, _ := newEnrollmentFixture(t)
	base := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	reg.offerings["off-a"].Capacity = 1

	requestAt(t, svc, base, "s1", "off-a")
	waited := requestAt(t, svc, base.Add(time.Minute), "s2", "off-a")
	later := requestAt(t, svc, base.Add(2*time.Minute), "s3", "off-a")

	svc.now = func() time.Time { return base.Add(time.Hour) }
	dropped, err := svc.Drop(context.Background(), waited.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusDropped, dropped.Status)
	assert.Equal(t, models.EnrollmentStatusWaitlisted, reg.enrollments[later.ID].Status, "no seat was freed, no promotion")
}

func TestDropAfterTermEnd(t *testing.T) {
	reg, svc, _ := newEnrollmentFixture(t)
	base := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	seated := requestAt(t, svc, base, "s1", "off-a")

	svc.now = func() time.Time { return reg.terms["t1"].EndDate.Add(time.Hour) }
	_, err := svc.Drop(context.Background(), seated.ID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrTermClosed.Code, appErrors.FromError(err).Code)
}

func TestDropInactiveEnrollment(t *testing.T) {
	reg, svc, _ := newEnrollmentFixture(t)
	base := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	seated := requestAt(t, svc, base, "s1", "off-a")

	svc.now = func() time.Time { return base.Add(time.Hour) }
	_, err := svc.Drop(context.Background(), seated.ID)
	require.NoError(t, err)

	_, err = svc.Drop(context.Background(), seated.ID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)

	_, tracked := reg.enrollments[seated.ID]
	assert.True(t, tracked)
}
