package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/open-sis/registrar-api/internal/models"
	appErrors "github.com/open-sis/registrar-api/pkg/errors"
)

type stubOfferingRepo struct {
	offerings map[string]*models.Offering
}

func (m *stubOfferingRepo) FindByID(ctx context.Context, id string) (*models.Offering, error) {
	if o, ok := m.offerings[id]; ok {
		return o, nil
	}
	return nil, sql.ErrNoRows
}

func (m *stubOfferingRepo) FindDetailByID(ctx context.Context, id string) (*models.OfferingDetail, error) {
	if o, ok := m.offerings[id]; ok {
		return &models.OfferingDetail{Offering: *o}, nil
	}
	return nil, sql.ErrNoRows
}

func (m *stubOfferingRepo) List(ctx context.Context, filter models.OfferingFilter) ([]models.OfferingDetail, int, error) {
	return nil, 0, nil
}

func (m *stubOfferingRepo) RaiseCapacityTx(ctx context.Context, tx *sqlx.Tx, id string, capacity int) error {
	o, ok := m.offerings[id]
	if !ok {
		return sql.ErrNoRows
	}
	o.Capacity = capacity
	return nil
}

func (m *stubOfferingRepo) SetOpen(ctx context.Context, id string, open bool) error {
	o, ok := m.offerings[id]
	if !ok {
		return sql.ErrNoRows
	}
	o.Open = open
	return nil
}

type stubSeatLedger struct {
	repo     *stubOfferingRepo
	enrolled map[string]int
	counts   map[string]*models.SeatCounts
}

func (m *stubSeatLedger) InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return fn(nil)
}

func (m *stubSeatLedger) LockOfferingTx(ctx context.Context, tx *sqlx.Tx, offeringID string) (*models.Offering, error) {
	return m.repo.FindByID(ctx, offeringID)
}

func (m *stubSeatLedger) CountByStatusTx(ctx context.Context, tx *sqlx.Tx, offeringID string, status models.EnrollmentStatus) (int, error) {
	return m.enrolled[offeringID], nil
}

func (m *stubSeatLedger) SeatCounts(ctx context.Context, offeringID string) (*models.SeatCounts, error) {
	if c, ok := m.counts[offeringID]; ok {
		copied := *c
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

type stubSeatCountsCache struct {
	store   map[string]models.SeatCounts
	deleted []string
}

func newStubSeatCountsCache() *stubSeatCountsCache {
	return &stubSeatCountsCache{store: make(map[string]models.SeatCounts)}
}

func (m *stubSeatCountsCache) Get(ctx context.Context, key string, dest interface{}) error {
	v, ok := m.store[key]
	if !ok {
		return errors.New("cache miss")
	}
	*dest.(*models.SeatCounts) = v
	return nil
}

func (m *stubSeatCountsCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	m.store[key] = *value.(*models.SeatCounts)
	return nil
}

func (m *stubSeatCountsCache) Delete(ctx context.Context, key string) error {
	delete(m.store, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func newOfferingFixture() (*stubOfferingRepo, *stubSeatLedger, *stubSeatCountsCache, *OfferingService) {
	repo := &stubOfferingRepo{offerings: map[string]*models.Offering{
		"off-1": {ID: "off-1", CourseID: "c-1", TermID: "t-1", Section: "A", Capacity: 30, Open: true},
	}}
	ledger := &stubSeatLedger{
		repo:     repo,
		enrolled: map[string]int{"off-1": 12},
		counts: map[string]*models.SeatCounts{
			"off-1": {OfferingID: "off-1", Capacity: 30, Enrolled: 12, Waitlisted: 3},
		},
	}
	cache := newStubSeatCountsCache()
	svc := NewOfferingService(repo, ledger, cache, time.Minute, nil, nil, nil)
	return repo, ledger, cache, svc
}

func TestOfferingServiceSeatCountsCachesResult(t *testing.T) {
	_, ledger, cache, svc := newOfferingFixture()

	counts, err := svc.SeatCounts(context.Background(), "off-1")
	require.NoError(t, err)
	require.Equal(t, 12, counts.Enrolled)
	require.Contains(t, cache.store, "offerings:seats:off-1")

	// Served from cache until invalidated, even when the ledger moves on.
	ledger.counts["off-1"].Enrolled = 13
	counts, err = svc.SeatCounts(context.Background(), "off-1")
	require.NoError(t, err)
	require.Equal(t, 12, counts.Enrolled)
}

func TestOfferingServiceSeatCountsUnknownOffering(t *testing.T) {
	_, _, _, svc := newOfferingFixture()

	_, err := svc.SeatCounts(context.Background(), "nope")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestOfferingServiceRaiseCapacityInvalidatesCache(t *testing.T) {
	repo, _, cache, svc := newOfferingFixture()

	_, err := svc.SeatCounts(context.Background(), "off-1")
	require.NoError(t, err)

	detail, err := svc.RaiseCapacity(context.Background(), "off-1", RaiseCapacityRequest{Capacity: 45})
	require.NoError(t, err)
	require.Equal(t, 45, detail.Capacity)
	require.Equal(t, 45, repo.offerings["off-1"].Capacity)
	require.Contains(t, cache.deleted, "offerings:seats:off-1")
}

func TestOfferingServiceRaiseCapacityRejectsBelowEnrolled(t *testing.T) {
	repo, _, _, svc := newOfferingFixture()

	_, err := svc.RaiseCapacity(context.Background(), "off-1", RaiseCapacityRequest{Capacity: 10})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
	require.Equal(t, 30, repo.offerings["off-1"].Capacity)
}

func TestOfferingServiceRaiseCapacityAllowsLoweringAboveEnrolled(t *testing.T) {
	repo, _, _, svc := newOfferingFixture()

	detail, err := svc.RaiseCapacity(context.Background(), "off-1", RaiseCapacityRequest{Capacity: 20})
	require.NoError(t, err)
	require.Equal(t, 20, detail.Capacity)
	require.Equal(t, 20, repo.offerings["off-1"].Capacity)
}

func TestOfferingServiceRaiseCapacityValidation(t *testing.T) {
	_, _, _, svc := newOfferingFixture()

	_, err := svc.RaiseCapacity(context.Background(), "off-1", RaiseCapacityRequest{Capacity: 0})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestOfferingServiceSetOpen(t *testing.T) {
	repo, _, _, svc := newOfferingFixture()

	detail, err := svc.SetOpen(context.Background(), "off-1", false)
	require.NoError(t, err)
	require.False(t, detail.Open)
	require.False(t, repo.offerings["off-1"].Open)

	_, err = svc.SetOpen(context.Background(), "nope", true)
	require.Error(t, err)
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
