package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/open-sis/registrar-api/internal/models"
)

// StudentRepository handles student reads and the academic aggregates
// written back by the grading engine.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs the repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

const studentColumns = `id, student_number, full_name, cohort, cumulative_gpa, term_gpa,
        credits_earned, credits_in_progress, class_standing, academic_status, active, created_at, updated_at`

// FindByID returns a student by ID.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	query := fmt.Sprintf(`SELECT %s FROM students WHERE id = $1`, studentColumns)
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// List returns students filtered by the provided criteria.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	var conditions []string
	var args []interface{}

	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(full_name ILIKE $%d OR student_number ILIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}
	if filter.Cohort != "" {
		conditions = append(conditions, fmt.Sprintf("cohort = $%d", len(args)+1))
		args = append(args, filter.Cohort)
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"full_name":      "full_name",
		"student_number": "student_number",
		"created_at":     "created_at",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "full_name"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
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

	query := fmt.Sprintf(`SELECT %s FROM students%s ORDER BY %s %s LIMIT %d OFFSET %d`,
		studentColumns, clause, orderBy, order, size, offset)

	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM students%s", clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

// ListGradedCreditsTx returns every completed, graded enrollment with its
// catalog credits. Source rows for the full GPA recomputation.
func (r *StudentRepository) ListGradedCreditsTx(ctx context.Context, tx *sqlx.Tx, studentID string) ([]models.GradedCredit, error) {
	const query = `SELECT e.id AS enrollment_id, e.term_id, e.grade, c.credits
        FROM enrollments e
        JOIN offerings o ON o.id = e.offering_id
        JOIN courses c ON c.id = o.course_id
        WHERE e.student_id = $1 AND e.status = $2 AND e.grade IS NOT NULL`
	var credits []models.GradedCredit
	if err := tx.SelectContext(ctx, &credits, query, studentID, models.EnrollmentStatusCompleted); err != nil {
		return nil, fmt.Errorf("list graded credits: %w", err)
	}
	return credits, nil
}

// SumCreditsInProgressTx sums catalog credits over the student's current
// enrolled enrollments in the given term.
func (r *StudentRepository) SumCreditsInProgressTx(ctx context.Context, tx *sqlx.Tx, studentID, termID string) (int, error) {
	const query = `SELECT COALESCE(SUM(c.credits), 0)
        FROM enrollments e
        JOIN offerings o ON o.id = e.offering_id
        JOIN courses c ON c.id = o.course_id
        WHERE e.student_id = $1 AND e.term_id = $2 AND e.status = $3`
	var sum int
	if err := tx.GetContext(ctx, &sum, query, studentID, termID, models.EnrollmentStatusEnrolled); err != nil {
		return 0, fmt.Errorf("sum credits in progress: %w", err)
	}
	return sum, nil
}

// UpdateAcademicsTx writes the derived aggregates back to the student row.
func (r *StudentRepository) UpdateAcademicsTx(ctx context.Context, tx *sqlx.Tx, studentID string, summary models.AcademicSummary) error {
	const query = `UPDATE students SET cumulative_gpa = $2, term_gpa = $3, credits_earned = $4,
        credits_in_progress = $5, class_standing = $6, academic_status = $7, updated_at = NOW()
        WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, studentID,
		summary.CumulativeGPA, summary.TermGPA, summary.CreditsEarned,
		summary.CreditsInProgress, summary.ClassStanding, summary.AcademicStatus); err != nil {
		return fmt.Errorf("update student academics: %w", err)
	}
	return nil
}

// UpdateCreditsInProgressTx refreshes only the in-progress credit counter,
// used by enrollment transitions that do not touch GPA.
func (r *StudentRepository) UpdateCreditsInProgressTx(ctx context.Context, tx *sqlx.Tx, studentID string, credits int) error {
	const query = `UPDATE students SET credits_in_progress = $2, updated_at = NOW() WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, studentID, credits); err != nil {
		return fmt.Errorf("update credits in progress: %w", err)
	}
	return nil
}

// TranscriptRows returns the completed graded coursework for export,
// ordered chronologically.
func (r *StudentRepository) TranscriptRows(ctx context.Context, studentID string) ([]models.TranscriptRow, error) {
	const query = `SELECT t.name AS term_name, c.code AS course_code, c.title AS course_title, c.credits, e.grade, e.completed_at
        FROM enrollments e
        JOIN offerings o ON o.id = e.offering_id
        JOIN courses c ON c.id = o.course_id
        JOIN terms t ON t.id = e.term_id
        WHERE e.student_id = $1 AND e.status = $2 AND e.grade IS NOT NULL
        ORDER BY e.completed_at ASC`
	var rows []models.TranscriptRow
	if err := r.db.SelectContext(ctx, &rows, query, studentID, models.EnrollmentStatusCompleted); err != nil {
		return nil, fmt.Errorf("transcript rows: %w", err)
	}
	return rows, nil
}
