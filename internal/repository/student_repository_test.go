package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/open-sis/registrar-api/internal/models"
)

func TestStudentRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	rows := sqlmock.NewRows([]string{"id", "student_number", "full_name", "cohort", "cumulative_gpa", "term_gpa",
		"credits_earned", "credits_in_progress", "class_standing", "academic_status", "active", "created_at", "updated_at"}).
		AddRow("stu-1", "S-1001", "Ada Byron", "UNDERGRADUATE", 3.42, 3.3, 42, 9, "SOPHOMORE", "GOOD_STANDING", true, time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM students WHERE id = $1")).
		WithArgs("stu-1").
		WillReturnRows(rows)

	student, err := repo.FindByID(context.Background(), "stu-1")
	require.NoError(t, err)
	require.Equal(t, "S-1001", student.StudentNumber)
	require.NotNil(t, student.CumulativeGPA)
	require.InDelta(t, 3.42, *student.CumulativeGPA, 1e-9)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryListWithFilters(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	rows := sqlmock.NewRows([]string{"id", "student_number", "full_name", "cohort", "cumulative_gpa", "term_gpa",
		"credits_earned", "credits_in_progress", "class_standing", "academic_status", "active", "created_at", "updated_at"}).
		AddRow("stu-1", "S-1001", "Ada Byron", "UNDERGRADUATE", nil, nil, 0, 0, "FRESHMAN", "GOOD_STANDING", true, time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("(full_name ILIKE $1 OR student_number ILIKE $1)")).
		WithArgs("%ada%", "UNDERGRADUATE").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM students")).
		WithArgs("%ada%", "UNDERGRADUATE").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	students, total, err := repo.List(context.Background(), models.StudentFilter{Search: "ada", Cohort: "UNDERGRADUATE"})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, students, 1)
	require.Nil(t, students[0].CumulativeGPA)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryListGradedCreditsTx(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectBegin()
	rows := sqlmock.NewRows([]string{"enrollment_id", "term_id", "grade", "credits"}).
		AddRow("enr-1", "t-1", "A", 3).
		AddRow("enr-2", "t-1", "W", 4)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE e.student_id = $1 AND e.status = $2 AND e.grade IS NOT NULL")).
		WithArgs("stu-1", models.EnrollmentStatusCompleted).
		WillReturnRows(rows)
	mock.ExpectCommit()

	tx, err := db.Beginx()
	require.NoError(t, err)
	credits, err := repo.ListGradedCreditsTx(context.Background(), tx, "stu-1")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.Len(t, credits, 2)
	require.Equal(t, 3, credits[0].Credits)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositorySumCreditsInProgressTx(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(SUM(c.credits), 0)")).
		WithArgs("stu-1", "t-1", models.EnrollmentStatusEnrolled).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(9))
	mock.ExpectCommit()

	tx, err := db.Beginx()
	require.NoError(t, err)
	sum, err := repo.SumCreditsInProgressTx(context.Background(), tx, "stu-1", "t-1")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.Equal(t, 9, sum)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryUpdateAcademicsTx(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	cum := 3.42
	term := 3.3
	summary := models.AcademicSummary{
		CumulativeGPA:     &cum,
		TermGPA:           &term,
		CreditsEarned:     42,
		CreditsInProgress: 9,
		ClassStanding:     models.StandingSophomore,
		AcademicStatus:    models.StatusGoodStanding,
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE students SET cumulative_gpa = $2, term_gpa = $3, credits_earned = $4")).
		WithArgs("stu-1", &cum, &term, 42, 9, models.StandingSophomore, models.StatusGoodStanding).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := db.Beginx()
	require.NoError(t, err)
	require.NoError(t, repo.UpdateAcademicsTx(context.Background(), tx, "stu-1", summary))
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryTranscriptRows(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	completed := time.Date(2026, 5, 20, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"term_name", "course_code", "course_title", "credits", "grade", "completed_at"}).
		AddRow("Spring 2026", "CS101", "Intro to Computing", 3, "A", completed)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY e.completed_at ASC")).
		WithArgs("stu-1", models.EnrollmentStatusCompleted).
		WillReturnRows(rows)

	transcript, err := repo.TranscriptRows(context.Background(), "stu-1")
	require.NoError(t, err)
	require.Len(t, transcript, 1)
	require.Equal(t, "CS101", transcript[0].CourseCode)
	require.Equal(t, models.LetterGrade("A"), transcript[0].Grade)
	require.NoError(t, mock.ExpectationsWereMet())
}
