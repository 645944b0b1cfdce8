package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/open-sis/registrar-api/internal/models"
)

// EnrollmentRepository handles persistence of enrollments, including the
// transactional seat-ledger primitives used by the enrollment service.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// InTx runs fn inside a single transaction, committing on nil error.
func (r *EnrollmentRepository) InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enrollment tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit enrollment tx: %w", err)
	}
	return nil
}

// LockOfferingTx acquires the per-offering row lock that serializes seat
// accounting, returning the locked offering.
func (r *EnrollmentRepository) LockOfferingTx(ctx context.Context, tx *sqlx.Tx, offeringID string) (*models.Offering, error) {
	const query = `SELECT id, course_id, term_id, section, capacity, meeting_days, start_minute, end_minute, open, created_at, updated_at
        FROM offerings WHERE id = $1 FOR UPDATE`
	var offering models.Offering
	if err := tx.GetContext(ctx, &offering, query, offeringID); err != nil {
		return nil, err
	}
	return &offering, nil
}

// LockStudentTx acquires the per-student row lock. Always taken after the
// offering lock to keep the global lock order consistent.
func (r *EnrollmentRepository) LockStudentTx(ctx context.Context, tx *sqlx.Tx, studentID string) error {
	var id string
	if err := tx.GetContext(ctx, &id, `SELECT id FROM students WHERE id = $1 FOR UPDATE`, studentID); err != nil {
		return err
	}
	return nil
}

// CountByStatusTx counts enrollments for an offering in the given status
// under the current transaction's locks.
func (r *EnrollmentRepository) CountByStatusTx(ctx context.Context, tx *sqlx.Tx, offeringID string, status models.EnrollmentStatus) (int, error) {
	var count int
	const query = `SELECT COUNT(*) FROM enrollments WHERE offering_id = $1 AND status = $2`
	if err := tx.GetContext(ctx, &count, query, offeringID, status); err != nil {
		return 0, fmt.Errorf("count enrollments: %w", err)
	}
	return count, nil
}

// CreateTx persists a new enrollment record inside the transaction.
func (r *EnrollmentRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = time.Now().UTC()
	}
	const query = `INSERT INTO enrollments (id, student_id, offering_id, term_id, status, grade, enrolled_at, dropped_at, completed_at)
        VALUES (:id, :student_id, :offering_id, :term_id, :status, :grade, :enrolled_at, :dropped_at, :completed_at)`
	if _, err := tx.NamedExecContext(ctx, query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// UpdateStatusTx transitions an enrollment, stamping the matching timestamp
// column. EnrolledAt is never touched.
func (r *EnrollmentRepository) UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, id string, status models.EnrollmentStatus, at time.Time) error {
	var query string
	switch status {
	case models.EnrollmentStatusDropped:
		query = `UPDATE enrollments SET status = $2, dropped_at = $3 WHERE id = $1`
	case models.EnrollmentStatusCompleted:
		query = `UPDATE enrollments SET status = $2, completed_at = $3 WHERE id = $1`
	default:
		query = `UPDATE enrollments SET status = $2, dropped_at = NULL, completed_at = NULL WHERE id = $1`
		if _, err := tx.ExecContext(ctx, query, id, status); err != nil {
			return fmt.Errorf("update enrollment status: %w", err)
		}
		return nil
	}
	if _, err := tx.ExecContext(ctx, query, id, status, at); err != nil {
		return fmt.Errorf("update enrollment status: %w", err)
	}
	return nil
}

// SetGradeTx writes the grade and completes the enrollment in one statement.
func (r *EnrollmentRepository) SetGradeTx(ctx context.Context, tx *sqlx.Tx, id string, grade models.LetterGrade, completedAt time.Time) error {
	const query = `UPDATE enrollments SET grade = $2, status = $3, completed_at = $4 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, id, string(grade), models.EnrollmentStatusCompleted, completedAt); err != nil {
		return fmt.Errorf("set enrollment grade: %w", err)
	}
	return nil
}

// ListWaitlistedTx returns the offering's waitlist in FIFO order by original
// enrollment timestamp.
func (r *EnrollmentRepository) ListWaitlistedTx(ctx context.Context, tx *sqlx.Tx, offeringID string) ([]models.Enrollment, error) {
	const query = `SELECT id, student_id, offering_id, term_id, status, grade, enrolled_at, dropped_at, completed_at
        FROM enrollments WHERE offering_id = $1 AND status = $2 ORDER BY enrolled_at ASC`
	var enrollments []models.Enrollment
	if err := tx.SelectContext(ctx, &enrollments, query, offeringID, models.EnrollmentStatusWaitlisted); err != nil {
		return nil, fmt.Errorf("list waitlist: %w", err)
	}
	return enrollments, nil
}

// ListEnrolledSchedulesTx returns the meeting patterns of a student's
// current enrolled offerings for conflict checks, under the transaction.
func (r *EnrollmentRepository) ListEnrolledSchedulesTx(ctx context.Context, tx *sqlx.Tx, studentID string) ([]models.EnrollmentSchedule, error) {
	const query = `SELECT e.id AS enrollment_id, e.offering_id, o.meeting_days, o.start_minute, o.end_minute
        FROM enrollments e
        JOIN offerings o ON o.id = e.offering_id
        WHERE e.student_id = $1 AND e.status = $2`
	var schedules []models.EnrollmentSchedule
	if err := tx.SelectContext(ctx, &schedules, query, studentID, models.EnrollmentStatusEnrolled); err != nil {
		return nil, fmt.Errorf("list enrolled schedules: %w", err)
	}
	return schedules, nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	const query = `SELECT id, student_id, offering_id, term_id, status, grade, enrolled_at, dropped_at, completed_at
        FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindActiveByPair returns the active (enrolled or waitlisted) enrollment
// for a student/offering pair, or sql.ErrNoRows.
func (r *EnrollmentRepository) FindActiveByPair(ctx context.Context, studentID, offeringID string) (*models.Enrollment, error) {
	const query = `SELECT id, student_id, offering_id, term_id, status, grade, enrolled_at, dropped_at, completed_at
        FROM enrollments WHERE student_id = $1 AND offering_id = $2 AND status IN ($3, $4) LIMIT 1`
	var enrollment models.Enrollment
	err := r.db.GetContext(ctx, &enrollment, query, studentID, offeringID,
		models.EnrollmentStatusEnrolled, models.EnrollmentStatusWaitlisted)
	if err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindActiveByPairTx is the transactional variant of FindActiveByPair, run
// under the student lock to keep the pair unique across concurrent requests.
func (r *EnrollmentRepository) FindActiveByPairTx(ctx context.Context, tx *sqlx.Tx, studentID, offeringID string) (*models.Enrollment, error) {
	const query = `SELECT id, student_id, offering_id, term_id, status, grade, enrolled_at, dropped_at, completed_at
        FROM enrollments WHERE student_id = $1 AND offering_id = $2 AND status IN ($3, $4) LIMIT 1`
	var enrollment models.Enrollment
	err := tx.GetContext(ctx, &enrollment, query, studentID, offeringID,
		models.EnrollmentStatusEnrolled, models.EnrollmentStatusWaitlisted)
	if err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindDetailByID returns an enrollment with contextual info.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.student_id, e.offering_id, e.term_id, e.status, e.grade, e.enrolled_at, e.dropped_at, e.completed_at,
        s.full_name AS student_name, s.student_number, c.code AS course_code, c.title AS course_title, c.credits, t.name AS term_name
        FROM enrollments e
        LEFT JOIN students s ON s.id = e.student_id
        LEFT JOIN offerings o ON o.id = e.offering_id
        LEFT JOIN courses c ON c.id = o.course_id
        LEFT JOIN terms t ON t.id = e.term_id
        WHERE e.id = $1`
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	base := `FROM enrollments e
LEFT JOIN students s ON s.id = e.student_id
LEFT JOIN offerings o ON o.id = e.offering_id
LEFT JOIN courses c ON c.id = o.course_id
LEFT JOIN terms t ON t.id = e.term_id`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.OfferingID != "" {
		conditions = append(conditions, fmt.Sprintf("e.offering_id = $%d", len(args)+1))
		args = append(args, filter.OfferingID)
	}
	if filter.TermID != "" {
		conditions = append(conditions, fmt.Sprintf("e.term_id = $%d", len(args)+1))
		args = append(args, filter.TermID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"enrolled_at":  "e.enrolled_at",
		"student_name": "s.full_name",
		"course_code":  "c.code",
	}
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "enrolled_at"
	}
	orderBy := allowedSorts[sortBy]
	if orderBy == "" {
		orderBy = "e.enrolled_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT e.id, e.student_id, e.offering_id, e.term_id, e.status, e.grade, e.enrolled_at, e.dropped_at, e.completed_at,
        s.full_name AS student_name, s.student_number, c.code AS course_code, c.title AS course_title, c.credits, t.name AS term_name
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// SeatCounts returns the current enrolled/waitlisted totals for an offering.
func (r *EnrollmentRepository) SeatCounts(ctx context.Context, offeringID string) (*models.SeatCounts, error) {
	const query = `SELECT o.id AS offering_id, o.capacity,
        COUNT(*) FILTER (WHERE e.status = 'ENROLLED') AS enrolled,
        COUNT(*) FILTER (WHERE e.status = 'WAITLISTED') AS waitlisted
        FROM offerings o
        LEFT JOIN enrollments e ON e.offering_id = o.id
        WHERE o.id = $1
        GROUP BY o.id, o.capacity`
	var counts models.SeatCounts
	if err := r.db.GetContext(ctx, &counts, query, offeringID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("seat counts: %w", err)
	}
	return &counts, nil
}
