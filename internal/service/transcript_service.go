package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/open-sis/registrar-api/internal/models"
	"github.com/open-sis/registrar-api/internal/repository"
	appErrors "github.com/open-sis/registrar-api/pkg/errors"
	"github.com/open-sis/registrar-api/pkg/export"
	"github.com/open-sis/registrar-api/pkg/jobs"
	"github.com/open-sis/registrar-api/pkg/storage"
)

type transcriptJobStore interface {
	Create(ctx context.Context, job *models.TranscriptJob) error
	FindByID(ctx context.Context, id string) (*models.TranscriptJob, error)
	Update(ctx context.Context, id string, params repository.UpdateTranscriptJobParams) error
}

type transcriptStudentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	TranscriptRows(ctx context.Context, studentID string) ([]models.TranscriptRow, error)
}

// TranscriptServiceConfig tunes the background export workers.
type TranscriptServiceConfig struct {
	WorkerConcurrency int
	WorkerRetries     int
	FileRetention     time.Duration
}

// TranscriptService renders student transcripts asynchronously. Requests are
// persisted, queued, rendered to CSV or PDF, and stored on disk; finished
// files are fetched through short-lived signed tokens.
type TranscriptService struct {
	jobsRepo transcriptJobStore
	students transcriptStudentReader
	csv      *export.CSVExporter
	pdf      *export.PDFExporter
	files    *storage.LocalStorage
	signer   *storage.SignedURLSigner
	queue    *jobs.Queue
	retain   time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewTranscriptService constructs TranscriptService and its worker queue.
func NewTranscriptService(jobsRepo transcriptJobStore, students transcriptStudentReader, files *storage.LocalStorage, signer *storage.SignedURLSigner, cfg TranscriptServiceConfig, logger *zap.Logger) *TranscriptService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FileRetention <= 0 {
		cfg.FileRetention = 7 * 24 * time.Hour
	}
	s := &TranscriptService{
		jobsRepo: jobsRepo,
		students: students,
		csv:      export.NewCSVExporter(),
		pdf:      export.NewPDFExporter(),
		files:    files,
		signer:   signer,
		retain:   cfg.FileRetention,
		logger:   logger,
		now:      time.Now,
	}
	s.queue = jobs.NewQueue("transcript-export", s.process, jobs.QueueConfig{
		Workers:    cfg.WorkerConcurrency,
		MaxRetries: cfg.WorkerRetries,
		Logger:     logger,
	})
	return s
}

// Start launches the export workers and the retention janitor.
func (s *TranscriptService) Start(ctx context.Context) {
	s.queue.Start(ctx)
	go s.janitor(ctx)
}

// Stop drains the worker pool.
func (s *TranscriptService) Stop() {
	s.queue.Stop()
}

// Request persists a new export job and queues it for rendering.
func (s *TranscriptService) Request(ctx context.Context, studentID string, format models.TranscriptFormat, requestedBy string) (*models.TranscriptJob, error) {
	if format != models.TranscriptFormatCSV && format != models.TranscriptFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported transcript format")
	}
	if _, err := s.students.FindByID(ctx, studentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	job := &models.TranscriptJob{
		StudentID:   studentID,
		Format:      format,
		Status:      models.TranscriptStatusQueued,
		RequestedBy: requestedBy,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.jobsRepo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create transcript job")
	}

	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: "transcript_export", Payload: job.ID}); err != nil {
		s.failJob(ctx, job.ID, "export queue unavailable")
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to queue transcript job")
	}
	return job, nil
}

// Status returns the job and, once rendering finished, a signed download
// token with its expiry.
func (s *TranscriptService) Status(ctx context.Context, jobID string) (*models.TranscriptJob, string, time.Time, error) {
	job, err := s.jobsRepo.FindByID(ctx, jobID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, "", time.Time{}, appErrors.Clone(appErrors.ErrNotFound, "transcript job not found")
		}
		return nil, "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load transcript job")
	}
	if job.Status != models.TranscriptStatusFinished || job.FilePath == nil {
		return job, "", time.Time{}, nil
	}
	token, expiresAt, err := s.signer.Generate(job.ID, *job.FilePath)
	if err != nil {
		return nil, "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download token")
	}
	return job, token, expiresAt, nil
}

// Download validates a signed token and returns the rendered file.
func (s *TranscriptService) Download(ctx context.Context, token string) ([]byte, string, string, error) {
	jobID, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, "", "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired download token")
	}
	job, err := s.jobsRepo.FindByID(ctx, jobID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, "", "", appErrors.Clone(appErrors.ErrNotFound, "transcript job not found")
		}
		return nil, "", "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load transcript job")
	}
	if job.Status != models.TranscriptStatusFinished || job.FilePath == nil || *job.FilePath != relPath {
		return nil, "", "", appErrors.Clone(appErrors.ErrNotFound, "transcript file not available")
	}
	data, err := s.files.ReadAll(relPath)
	if err != nil {
		return nil, "", "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read transcript file")
	}
	filename := fmt.Sprintf("transcript-%s.%s", job.StudentID, job.Format)
	contentType := "text/csv"
	if job.Format == models.TranscriptFormatPDF {
		contentType = "application/pdf"
	}
	return data, filename, contentType, nil
}

func (s *TranscriptService) process(ctx context.Context, queued jobs.Job) error {
	jobID, ok := queued.Payload.(string)
	if !ok || jobID == "" {
		s.logger.Error("transcript job missing payload", zap.String("job_id", queued.ID))
		return nil
	}

	processing := models.TranscriptStatusProcessing
	if err := s.jobsRepo.Update(ctx, jobID, repository.UpdateTranscriptJobParams{Status: &processing}); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	job, err := s.jobsRepo.FindByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load transcript job: %w", err)
	}
	student, err := s.students.FindByID(ctx, job.StudentID)
	if err != nil {
		s.failJob(ctx, jobID, "student no longer available")
		return nil
	}
	rows, err := s.students.TranscriptRows(ctx, job.StudentID)
	if err != nil {
		return fmt.Errorf("load transcript rows: %w", err)
	}

	data, err := s.render(student, rows, job.Format)
	if err != nil {
		s.failJob(ctx, jobID, err.Error())
		return nil
	}

	relPath := fmt.Sprintf("%s/%s.%s", job.StudentID, job.ID, job.Format)
	if _, err := s.files.Save(relPath, data); err != nil {
		return fmt.Errorf("store transcript file: %w", err)
	}

	finished := models.TranscriptStatusFinished
	finishedAt := s.now().UTC()
	if err := s.jobsRepo.Update(ctx, jobID, repository.UpdateTranscriptJobParams{
		Status:     &finished,
		FilePath:   &relPath,
		FinishedAt: &finishedAt,
	}); err != nil {
		return fmt.Errorf("mark finished: %w", err)
	}
	s.logger.Info("transcript rendered",
		zap.String("job_id", jobID),
		zap.String("student_id", job.StudentID),
		zap.String("format", string(job.Format)))
	return nil
}

func (s *TranscriptService) render(student *models.Student, rows []models.TranscriptRow, format models.TranscriptFormat) ([]byte, error) {
	dataset := export.Dataset{
		Headers: []string{"Term", "Course", "Title", "Credits", "Grade", "Completed"},
	}
	for _, row := range rows {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Term":      row.TermName,
			"Course":    row.CourseCode,
			"Title":     row.CourseTitle,
			"Credits":   fmt.Sprintf("%d", row.Credits),
			"Grade":     string(row.Grade),
			"Completed": row.CompletedAt.Format("2006-01-02"),
		})
	}

	switch format {
	case models.TranscriptFormatCSV:
		return s.csv.Render(dataset)
	case models.TranscriptFormatPDF:
		gpa := "N/A"
		if student.CumulativeGPA != nil {
			gpa = fmt.Sprintf("%.2f", *student.CumulativeGPA)
		}
		preamble := []string{
			fmt.Sprintf("Student: %s (%s)", student.FullName, student.StudentNumber),
			fmt.Sprintf("Cumulative GPA: %s", gpa),
			fmt.Sprintf("Credits Earned: %d", student.CreditsEarned),
			fmt.Sprintf("Academic Status: %s", student.AcademicStatus),
		}
		return s.pdf.Render(dataset, "Official Transcript", preamble)
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

func (s *TranscriptService) failJob(ctx context.Context, jobID, reason string) {
	failed := models.TranscriptStatusFailed
	finishedAt := s.now().UTC()
	if err := s.jobsRepo.Update(ctx, jobID, repository.UpdateTranscriptJobParams{
		Status:       &failed,
		ErrorMessage: &reason,
		FinishedAt:   &finishedAt,
	}); err != nil {
		s.logger.Error("failed to mark transcript job failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (s *TranscriptService) janitor(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.files.CleanupOlderThan(s.retain)
			if err != nil {
				s.logger.Warn("transcript cleanup failed", zap.Error(err))
				continue
			}
			if len(deleted) > 0 {
				s.logger.Info("transcript files cleaned up", zap.Int("count", len(deleted)))
			}
		}
	}
}
