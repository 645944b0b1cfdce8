package service

import (
	"context"
	"database/sql"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/open-sis/registrar-api/internal/models"
	appErrors "github.com/open-sis/registrar-api/pkg/errors"
)

type gradeEnrollmentStore interface {
	InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
	LockStudentTx(ctx context.Context, tx *sqlx.Tx, studentID string) error
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	SetGradeTx(ctx context.Context, tx *sqlx.Tx, id string, grade models.LetterGrade, completedAt time.Time) error
}

type academicsStore interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	ListGradedCreditsTx(ctx context.Context, tx *sqlx.Tx, studentID string) ([]models.GradedCredit, error)
	SumCreditsInProgressTx(ctx context.Context, tx *sqlx.Tx, studentID, termID string) (int, error)
	UpdateAcademicsTx(ctx context.Context, tx *sqlx.Tx, studentID string, summary models.AcademicSummary) error
}

// SubmitGradeRequest describes a grade submission payload.
type SubmitGradeRequest struct {
	EnrollmentID string `json:"enrollment_id" validate:"required"`
	Grade        string `json:"grade" validate:"required"`
}

// GradeService converts letter grades to academic state: it completes the
// enrollment and recomputes the student's GPA, credits, and standing as one
// operation. The recomputation is always a full re-derivation from source
// records, never an incremental update.
type GradeService struct {
	enrollments gradeEnrollmentStore
	students    academicsStore
	terms       termReader
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	round       func(float64) float64
	now         func() time.Time
}

// NewGradeService constructs GradeService.
func NewGradeService(enrollments gradeEnrollmentStore, students academicsStore, terms termReader, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *GradeService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GradeService{
		enrollments: enrollments,
		students:    students,
		terms:       terms,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
		round:       func(v float64) float64 { return math.RoundToEven(v*100) / 100 },
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Submit records a grade for an enrolled student and recomputes the
// student's academic state within the same transaction.
func (s *GradeService) Submit(ctx context.Context, req SubmitGradeRequest) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade payload")
	}
	grade := models.LetterGrade(req.Grade)
	if !models.RecognizedGrade(grade) {
		return nil, appErrors.Clone(appErrors.ErrInvalidGrade, "unrecognized grade "+req.Grade)
	}

	enrollment, err := s.enrollments.FindByID(ctx, req.EnrollmentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if enrollment.Status != models.EnrollmentStatusEnrolled {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "only enrolled coursework can be graded")
	}
	term, err := s.terms.FindByID(ctx, enrollment.TermID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}
	now := s.now()
	if !term.GradingOpen(now) {
		return nil, appErrors.Clone(appErrors.ErrTermClosed, "grade deadline has passed")
	}
	student, err := s.students.FindByID(ctx, enrollment.StudentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	err = s.enrollments.InTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.enrollments.LockStudentTx(ctx, tx, enrollment.StudentID); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock student")
		}
		if err := s.enrollments.SetGradeTx(ctx, tx, enrollment.ID, grade, now); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to write grade")
		}
		summary, err := s.recomputeTx(ctx, tx, student, enrollment.TermID)
		if err != nil {
			return err
		}
		if err := s.students.UpdateAcademicsTx(ctx, tx, student.ID, summary); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update academics")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordGradeSubmission()
	s.logger.Info("grade submitted",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("student_id", enrollment.StudentID),
		zap.String("grade", req.Grade))

	detail, err := s.enrollments.FindDetailByID(ctx, enrollment.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment detail")
	}
	return detail, nil
}

// recomputeTx re-derives cumulative GPA, term GPA, credits, and standing
// from every completed graded enrollment of the student.
func (s *GradeService) recomputeTx(ctx context.Context, tx *sqlx.Tx, student *models.Student, termID string) (models.AcademicSummary, error) {
	rows, err := s.students.ListGradedCreditsTx(ctx, tx, student.ID)
	if err != nil {
		return models.AcademicSummary{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load graded credits")
	}

	var (
		cumPoints, termPoints   float64
		cumCredits, termCredits int
	)
	for _, row := range rows {
		points, ok := models.GradePoints(row.Grade)
		if !ok {
			// Non-GPA markers (W, I, P, CR, NC) are excluded entirely.
			continue
		}
		cumPoints += points * float64(row.Credits)
		cumCredits += row.Credits
		if row.TermID == termID {
			termPoints += points * float64(row.Credits)
			termCredits += row.Credits
		}
	}

	summary := models.AcademicSummary{CreditsEarned: cumCredits}
	if cumCredits > 0 {
		gpa := s.round(cumPoints / float64(cumCredits))
		summary.CumulativeGPA = &gpa
	}
	if termCredits > 0 {
		gpa := s.round(termPoints / float64(termCredits))
		summary.TermGPA = &gpa
	}

	inProgress, err := s.students.SumCreditsInProgressTx(ctx, tx, student.ID, termID)
	if err != nil {
		return models.AcademicSummary{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sum credits in progress")
	}
	summary.CreditsInProgress = inProgress

	summary.AcademicStatus = ClassifyAcademicStatus(summary.CumulativeGPA)
	summary.ClassStanding = ClassifyClassStanding(summary.CreditsEarned, student.Cohort)
	return summary, nil
}
