package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/open-sis/registrar-api/internal/models"
	"github.com/open-sis/registrar-api/internal/repository"
	appErrors "github.com/open-sis/registrar-api/pkg/errors"
)

type enrollmentRepository interface {
	InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
	LockOfferingTx(ctx context.Context, tx *sqlx.Tx, offeringID string) (*models.Offering, error)
	LockStudentTx(ctx context.Context, tx *sqlx.Tx, studentID string) error
	CountByStatusTx(ctx context.Context, tx *sqlx.Tx, offeringID string, status models.EnrollmentStatus) (int, error)
	CreateTx(ctx context.Context, tx *sqlx.Tx, enrollment *models.Enrollment) error
	UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, id string, status models.EnrollmentStatus, at time.Time) error
	ListWaitlistedTx(ctx context.Context, tx *sqlx.Tx, offeringID string) ([]models.Enrollment, error)
	ListEnrolledSchedulesTx(ctx context.Context, tx *sqlx.Tx, studentID string) ([]models.EnrollmentSchedule, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindActiveByPair(ctx context.Context, studentID, offeringID string) (*models.Enrollment, error)
	FindActiveByPairTx(ctx context.Context, tx *sqlx.Tx, studentID, offeringID string) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
}

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	SumCreditsInProgressTx(ctx context.Context, tx *sqlx.Tx, studentID, termID string) (int, error)
	UpdateCreditsInProgressTx(ctx context.Context, tx *sqlx.Tx, studentID string, credits int) error
}

type offeringReader interface {
	FindByID(ctx context.Context, id string) (*models.Offering, error)
}

type termReader interface {
	FindByID(ctx context.Context, id string) (*models.Term, error)
}

type seatCacheInvalidator interface {
	Delete(ctx context.Context, key string) error
}

// RequestEnrollmentRequest describes an enrollment request payload.
type RequestEnrollmentRequest struct {
	StudentID  string `json:"student_id" validate:"required"`
	OfferingID string `json:"offering_id" validate:"required"`
}

// EnrollmentService orchestrates the enrollment state machine: seat
// reservation, schedule-conflict enforcement, and waitlist promotion.
type EnrollmentService struct {
	repo      enrollmentRepository
	students  studentReader
	offerings offeringReader
	terms     termReader
	seatCache seatCacheInvalidator
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, students studentReader, offerings offeringReader, terms termReader, seatCache seatCacheInvalidator, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		repo:      repo,
		students:  students,
		offerings: offerings,
		terms:     terms,
		seatCache: seatCache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// List returns enrollments with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return enrollments, pagination, nil
}

// Request enrolls a student into an offering, or waitlists them when the
// offering is full. Re-requesting an existing active enrollment returns it
// unchanged.
func (s *EnrollmentService) Request(ctx context.Context, req RequestEnrollmentRequest) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}

	// An already-active pair is returned unchanged before any window or
	// precondition checks; re-checked under the lock.
	if existing, err := s.repo.FindActiveByPair(ctx, req.StudentID, req.OfferingID); err == nil {
		return s.detail(ctx, existing.ID)
	} else if err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing enrollment")
	}

	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if !student.Active {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "student inactive")
	}
	offering, err := s.offerings.FindByID(ctx, req.OfferingID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "offering not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load offering")
	}
	term, err := s.terms.FindByID(ctx, offering.TermID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}
	now := s.now()
	if !term.EnrollmentOpen(now) {
		return nil, appErrors.ErrTermClosed
	}

	enrollment := &models.Enrollment{
		StudentID:  req.StudentID,
		OfferingID: req.OfferingID,
		TermID:     offering.TermID,
		EnrolledAt: now,
	}

	err = s.repo.InTx(ctx, func(tx *sqlx.Tx) error {
		locked, err := s.repo.LockOfferingTx(ctx, tx, req.OfferingID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock offering")
		}
		if !locked.Open {
			return appErrors.ErrCapacityClosed
		}
		if err := s.repo.LockStudentTx(ctx, tx, req.StudentID); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock student")
		}

		// A concurrent request for the same pair may have committed between
		// the fast path and this lock. The check covers enrolled and
		// waitlisted rows so the pair stays unique.
		if existing, err := s.repo.FindActiveByPairTx(ctx, tx, req.StudentID, req.OfferingID); err == nil {
			enrollment.ID = existing.ID
			enrollment.Status = existing.Status
			return nil
		} else if err != sql.ErrNoRows {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to re-check existing enrollment")
		}

		schedules, err := s.repo.ListEnrolledSchedulesTx(ctx, tx, req.StudentID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrolled schedules")
		}
		conflictID, err := firstConflict(locked.Pattern(), schedules)
		if err != nil {
			return err
		}
		if conflictID != "" {
			return appErrors.Clone(appErrors.ErrScheduleConflict, "offering conflicts with enrolled offering "+conflictID)
		}

		enrolledCount, err := s.repo.CountByStatusTx(ctx, tx, req.OfferingID, models.EnrollmentStatusEnrolled)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrolled seats")
		}
		if enrolledCount < locked.Capacity {
			enrollment.Status = models.EnrollmentStatusEnrolled
		} else {
			enrollment.Status = models.EnrollmentStatusWaitlisted
		}

		if err := s.repo.CreateTx(ctx, tx, enrollment); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
		}
		if enrollment.Status == models.EnrollmentStatusEnrolled {
			if err := s.refreshCreditsInProgressTx(ctx, tx, req.StudentID, offering.TermID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateSeatCache(ctx, req.OfferingID)
	s.metrics.RecordEnrollmentOutcome(string(enrollment.Status))
	s.logger.Info("enrollment requested",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("student_id", req.StudentID),
		zap.String("offering_id", req.OfferingID),
		zap.String("status", string(enrollment.Status)))

	return s.detail(ctx, enrollment.ID)
}

// Drop marks an enrollment dropped. Releasing an enrolled seat triggers at
// most one waitlist promotion for the offering before returning.
func (s *EnrollmentService) Drop(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if !enrollment.Status.Active() {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "enrollment is not active")
	}
	term, err := s.terms.FindByID(ctx, enrollment.TermID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}
	now := s.now()
	if now.After(term.EndDate) {
		return nil, appErrors.ErrTermClosed
	}

	var promotedID string
	err = s.repo.InTx(ctx, func(tx *sqlx.Tx) error {
		offering, err := s.repo.LockOfferingTx(ctx, tx, enrollment.OfferingID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock offering")
		}
		if err := s.repo.LockStudentTx(ctx, tx, enrollment.StudentID); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock student")
		}
		wasEnrolled := enrollment.Status == models.EnrollmentStatusEnrolled

		if err := s.repo.UpdateStatusTx(ctx, tx, id, models.EnrollmentStatusDropped, now); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to drop enrollment")
		}
		if wasEnrolled {
			if err := s.refreshCreditsInProgressTx(ctx, tx, enrollment.StudentID, enrollment.TermID); err != nil {
				return err
			}
			promotedID, err = s.promoteNextTx(ctx, tx, offering)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateSeatCache(ctx, enrollment.OfferingID)
	s.metrics.RecordDrop()
	if promotedID != "" {
		s.metrics.RecordWaitlistPromotion()
		s.logger.Info("waitlist promotion",
			zap.String("offering_id", enrollment.OfferingID),
			zap.String("promoted_enrollment_id", promotedID))
	}

	return s.detail(ctx, id)
}

// promoteNextTx flips the earliest conflict-free waitlisted enrollment to
// enrolled, consuming the freed seat. One promotion per released seat;
// skipped candidates keep their original timestamp and position.
func (s *EnrollmentService) promoteNextTx(ctx context.Context, tx *sqlx.Tx, offering *models.Offering) (string, error) {
	candidates, err := s.repo.ListWaitlistedTx(ctx, tx, offering.ID)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load waitlist")
	}
	for _, candidate := range candidates {
		if err := s.repo.LockStudentTx(ctx, tx, candidate.StudentID); err != nil {
			return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock waitlisted student")
		}
		schedules, err := s.repo.ListEnrolledSchedulesTx(ctx, tx, candidate.StudentID)
		if err != nil {
			return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load candidate schedules")
		}
		conflictID, err := firstConflict(offering.Pattern(), schedules)
		if err != nil {
			return "", err
		}
		if conflictID != "" {
			continue
		}
		if err := s.repo.UpdateStatusTx(ctx, tx, candidate.ID, models.EnrollmentStatusEnrolled, s.now()); err != nil {
			return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to promote enrollment")
		}
		if err := s.refreshCreditsInProgressTx(ctx, tx, candidate.StudentID, candidate.TermID); err != nil {
			return "", err
		}
		return candidate.ID, nil
	}
	return "", nil
}

func (s *EnrollmentService) refreshCreditsInProgressTx(ctx context.Context, tx *sqlx.Tx, studentID, termID string) error {
	sum, err := s.students.SumCreditsInProgressTx(ctx, tx, studentID, termID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sum credits in progress")
	}
	if err := s.students.UpdateCreditsInProgressTx(ctx, tx, studentID, sum); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update credits in progress")
	}
	return nil
}

func (s *EnrollmentService) invalidateSeatCache(ctx context.Context, offeringID string) {
	if s.seatCache == nil {
		return
	}
	if err := s.seatCache.Delete(ctx, repository.SeatCountsKey(offeringID)); err != nil {
		s.logger.Warn("seat cache invalidation failed", zap.String("offering_id", offeringID), zap.Error(err))
	}
}

// Get returns an enrollment with student, offering, and term context.
func (s *EnrollmentService) Get(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return detail, nil
}

func (s *EnrollmentService) detail(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment detail")
	}
	return detail, nil
}
