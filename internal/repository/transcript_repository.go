package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/open-sis/registrar-api/internal/models"
)

// TranscriptRepository persists transcript export job metadata.
type TranscriptRepository struct {
	db *sqlx.DB
}

// NewTranscriptRepository constructs the repository.
func NewTranscriptRepository(db *sqlx.DB) *TranscriptRepository {
	return &TranscriptRepository{db: db}
}

// Create persists a new transcript job record.
func (r *TranscriptRepository) Create(ctx context.Context, job *models.TranscriptJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.Status == "" {
		job.Status = models.TranscriptStatusQueued
	}
	const query = `INSERT INTO transcript_jobs (id, student_id, format, status, file_path, error_message, requested_by, created_at, finished_at)
        VALUES (:id, :student_id, :format, :status, :file_path, :error_message, :requested_by, :created_at, :finished_at)`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("create transcript job: %w", err)
	}
	return nil
}

// FindByID returns a transcript job by ID.
func (r *TranscriptRepository) FindByID(ctx context.Context, id string) (*models.TranscriptJob, error) {
	const query = `SELECT id, student_id, format, status, file_path, error_message, requested_by, created_at, finished_at
        FROM transcript_jobs WHERE id = $1`
	var job models.TranscriptJob
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		return nil, err
	}
	return &job, nil
}

// UpdateTranscriptJobParams captures partial job updates.
type UpdateTranscriptJobParams struct {
	Status       *models.TranscriptJobStatus
	FilePath     *string
	ErrorMessage *string
	FinishedAt   *time.Time
}

// Update applies the provided fields to a transcript job.
func (r *TranscriptRepository) Update(ctx context.Context, id string, params UpdateTranscriptJobParams) error {
	const query = `UPDATE transcript_jobs SET
        status = COALESCE($2, status),
        file_path = COALESCE($3, file_path),
        error_message = COALESCE($4, error_message),
        finished_at = COALESCE($5, finished_at)
        WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, params.Status, params.FilePath, params.ErrorMessage, params.FinishedAt); err != nil {
		return fmt.Errorf("update transcript job: %w", err)
	}
	return nil
}
