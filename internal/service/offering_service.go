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

type offeringRepository interface {
	FindByID(ctx context.Context, id string) (*models.Offering, error)
	FindDetailByID(ctx context.Context, id string) (*models.OfferingDetail, error)
	List(ctx context.Context, filter models.OfferingFilter) ([]models.OfferingDetail, int, error)
	RaiseCapacityTx(ctx context.Context, tx *sqlx.Tx, id string, capacity int) error
	SetOpen(ctx context.Context, id string, open bool) error
}

type seatLedger interface {
	InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
	LockOfferingTx(ctx context.Context, tx *sqlx.Tx, offeringID string) (*models.Offering, error)
	CountByStatusTx(ctx context.Context, tx *sqlx.Tx, offeringID string, status models.EnrollmentStatus) (int, error)
	SeatCounts(ctx context.Context, offeringID string) (*models.SeatCounts, error)
}

type seatCountsCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// RaiseCapacityRequest describes an administrative capacity change.
type RaiseCapacityRequest struct {
	Capacity int `json:"capacity" validate:"required,gt=0"`
}

// OfferingService exposes offering reads, seat-count queries, and the
// administrative mutations allowed after enrollment has begun.
type OfferingService struct {
	repo      offeringRepository
	ledger    seatLedger
	cache     seatCountsCache
	cacheTTL  time.Duration
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewOfferingService constructs OfferingService.
func NewOfferingService(repo offeringRepository, ledger seatLedger, cache seatCountsCache, cacheTTL time.Duration, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *OfferingService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &OfferingService{
		repo:      repo,
		ledger:    ledger,
		cache:     cache,
		cacheTTL:  cacheTTL,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
	}
}

// List returns offerings with pagination metadata.
func (s *OfferingService) List(ctx context.Context, filter models.OfferingFilter) ([]models.OfferingDetail, *models.Pagination, error) {
	offerings, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list offerings")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return offerings, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns an offering with catalog context.
func (s *OfferingService) Get(ctx context.Context, id string) (*models.OfferingDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "offering not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load offering")
	}
	return detail, nil
}

// SeatCounts returns the offering's current enrolled/waitlisted totals,
// served from cache when fresh. Read-only; the authoritative check happens
// inside the enrollment transaction.
func (s *OfferingService) SeatCounts(ctx context.Context, offeringID string) (*models.SeatCounts, error) {
	key := repository.SeatCountsKey(offeringID)
	if s.cache != nil {
		var cached models.SeatCounts
		start := time.Now()
		err := s.cache.Get(ctx, key, &cached)
		s.metrics.RecordCacheOperation(err == nil, time.Since(start))
		if err == nil {
			return &cached, nil
		}
	}

	counts, err := s.ledger.SeatCounts(ctx, offeringID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "offering not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load seat counts")
	}

	if s.cache != nil {
		start := time.Now()
		if err := s.cache.Set(ctx, key, counts, s.cacheTTL); err != nil {
			s.logger.Warn("seat counts cache write failed", zap.String("offering_id", offeringID), zap.Error(err))
		}
		s.metrics.ObserveCacheWrite(time.Since(start))
	}
	return counts, nil
}

// RaiseCapacity increases an offering's capacity. Capacity may never drop
// below the current enrolled count, so only increases are accepted.
func (s *OfferingService) RaiseCapacity(ctx context.Context, id string, req RaiseCapacityRequest) (*models.OfferingDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid capacity payload")
	}

	err := s.ledger.InTx(ctx, func(tx *sqlx.Tx) error {
		offering, err := s.ledger.LockOfferingTx(ctx, tx, id)
		if err != nil {
			if err == sql.ErrNoRows {
				return appErrors.Clone(appErrors.ErrNotFound, "offering not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock offering")
		}
		if req.Capacity < offering.Capacity {
			enrolled, err := s.ledger.CountByStatusTx(ctx, tx, id, models.EnrollmentStatusEnrolled)
			if err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrolled seats")
			}
			if req.Capacity < enrolled {
				return appErrors.Clone(appErrors.ErrPreconditionFailed, "capacity below current enrolled count")
			}
		}
		if err := s.repo.RaiseCapacityTx(ctx, tx, id, req.Capacity); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update capacity")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Delete(ctx, repository.SeatCountsKey(id)); err != nil {
			s.logger.Warn("seat cache invalidation failed", zap.String("offering_id", id), zap.Error(err))
		}
	}
	return s.Get(ctx, id)
}

// SetOpen toggles whether the offering accepts new enrollment requests.
func (s *OfferingService) SetOpen(ctx context.Context, id string, open bool) (*models.OfferingDetail, error) {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "offering not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load offering")
	}
	if err := s.repo.SetOpen(ctx, id, open); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update offering")
	}
	return s.Get(ctx, id)
}
