package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/open-sis/registrar-api/internal/models"
)

// OfferingRepository handles persistence of course offerings.
type OfferingRepository struct {
	db *sqlx.DB
}

// NewOfferingRepository constructs the repository.
func NewOfferingRepository(db *sqlx.DB) *OfferingRepository {
	return &OfferingRepository{db: db}
}

// FindByID returns an offering by ID.
func (r *OfferingRepository) FindByID(ctx context.Context, id string) (*models.Offering, error) {
	const query = `SELECT id, course_id, term_id, section, capacity, meeting_days, start_minute, end_minute, open, created_at, updated_at
        FROM offerings WHERE id = $1`
	var offering models.Offering
	if err := r.db.GetContext(ctx, &offering, query, id); err != nil {
		return nil, err
	}
	return &offering, nil
}

// FindDetailByID returns an offering with catalog context.
func (r *OfferingRepository) FindDetailByID(ctx context.Context, id string) (*models.OfferingDetail, error) {
	const query = `SELECT o.id, o.course_id, o.term_id, o.section, o.capacity, o.meeting_days, o.start_minute, o.end_minute, o.open, o.created_at, o.updated_at,
        c.code AS course_code, c.title AS course_title, c.credits, t.name AS term_name
        FROM offerings o
        LEFT JOIN courses c ON c.id = o.course_id
        LEFT JOIN terms t ON t.id = o.term_id
        WHERE o.id = $1`
	var detail models.OfferingDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// List returns offerings filtered by the provided criteria.
func (r *OfferingRepository) List(ctx context.Context, filter models.OfferingFilter) ([]models.OfferingDetail, int, error) {
	base := `FROM offerings o
LEFT JOIN courses c ON c.id = o.course_id
LEFT JOIN terms t ON t.id = o.term_id`
	var conditions []string
	var args []interface{}

	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("o.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.TermID != "" {
		conditions = append(conditions, fmt.Sprintf("o.term_id = $%d", len(args)+1))
		args = append(args, filter.TermID)
	}
	if filter.Open != nil {
		conditions = append(conditions, fmt.Sprintf("o.open = $%d", len(args)+1))
		args = append(args, *filter.Open)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"course_code": "c.code",
		"section":     "o.section",
		"created_at":  "o.created_at",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "c.code"
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

	query := fmt.Sprintf(`SELECT o.id, o.course_id, o.term_id, o.section, o.capacity, o.meeting_days, o.start_minute, o.end_minute, o.open, o.created_at, o.updated_at,
        c.code AS course_code, c.title AS course_title, c.credits, t.name AS term_name
        %s ORDER BY %s %s, o.section ASC LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var offerings []models.OfferingDetail
	if err := r.db.SelectContext(ctx, &offerings, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list offerings: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count offerings: %w", err)
	}
	return offerings, total, nil
}

// RaiseCapacityTx increases capacity under the offering row lock. The guard
// against lowering below the enrolled count lives in the service.
func (r *OfferingRepository) RaiseCapacityTx(ctx context.Context, tx *sqlx.Tx, id string, capacity int) error {
	const query = `UPDATE offerings SET capacity = $2, updated_at = NOW() WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, id, capacity); err != nil {
		return fmt.Errorf("raise offering capacity: %w", err)
	}
	return nil
}

// SetOpen toggles whether the offering accepts new enrollment requests.
func (r *OfferingRepository) SetOpen(ctx context.Context, id string, open bool) error {
	const query = `UPDATE offerings SET open = $2, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, open); err != nil {
		return fmt.Errorf("set offering open: %w", err)
	}
	return nil
}
