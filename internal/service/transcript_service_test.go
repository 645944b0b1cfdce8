package service

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/open-sis/registrar-api/internal/models"
	"github.com/open-sis/registrar-api/internal/repository"
	appErrors "github.com/open-sis/registrar-api/pkg/errors"
	"github.com/open-sis/registrar-api/pkg/jobs"
	"github.com/open-sis/registrar-api/pkg/storage"
)

type mockTranscriptJobs struct {
	mu     sync.Mutex
	nextID int
	jobs   map[string]*models.TranscriptJob
}

func newMockTranscriptJobs() *mockTranscriptJobs {
	return &mockTranscriptJobs{jobs: make(map[string]*models.TranscriptJob)}
}

func (m *mockTranscriptJobs) Create(ctx context.Context, job *models.TranscriptJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	job.ID = fmt.Sprintf("job-%d", m.nextID)
	stored := *job
	m.jobs[job.ID] = &stored
	return nil
}

func (m *mockTranscriptJobs) FindByID(ctx context.Context, id string) (*models.TranscriptJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		copied := *j
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockTranscriptJobs) Update(ctx context.Context, id string, params repository.UpdateTranscriptJobParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return sql.ErrNoRows
	}
	if params.Status != nil {
		j.Status = *params.Status
	}
	if params.FilePath != nil {
		j.FilePath = params.FilePath
	}
	if params.ErrorMessage != nil {
		j.ErrorMessage = params.ErrorMessage
	}
	if params.FinishedAt != nil {
		j.FinishedAt = params.FinishedAt
	}
	return nil
}

func (m *mockTranscriptJobs) status(id string) models.TranscriptJobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ""
	}
	return j.Status
}

type mockTranscriptStudents struct {
	students map[string]*models.Student
	rows     map[string][]models.TranscriptRow
}

func (m *mockTranscriptStudents) FindByID(ctx context.Context, id string) (*models.Student, error) {
	if s, ok := m.students[id]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockTranscriptStudents) TranscriptRows(ctx context.Context, studentID string) ([]models.TranscriptRow, error) {
	return m.rows[studentID], nil
}

func newTranscriptFixture(t *testing.T) (*mockTranscriptJobs, *TranscriptService) {
	t.Helper()
	gpaValue := 3.42
	students := &mockTranscriptStudents{
		students: map[string]*models.Student{
			"stu-1": {
				ID: "stu-1", StudentNumber: "S-1001", FullName: "Ada Byron",
				CumulativeGPA: &gpaValue, CreditsEarned: 42,
				AcademicStatus: models.StatusGoodStanding, Active: true,
			},
		},
		rows: map[string][]models.TranscriptRow{
			"stu-1": {
				{TermName: "Fall 2025", CourseCode: "CS101", CourseTitle: "Intro to Computing",
					Credits: 3, Grade: "A", CompletedAt: time.Date(2025, 12, 18, 0, 0, 0, 0, time.UTC)},
				{TermName: "Fall 2025", CourseCode: "MA201", CourseTitle: "Linear Algebra",
					Credits: 4, Grade: "B+", CompletedAt: time.Date(2025, 12, 19, 0, 0, 0, 0, time.UTC)},
			},
		},
	}

	files, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)

	jobsRepo := newMockTranscriptJobs()
	svc := NewTranscriptService(jobsRepo, students, files, signer, TranscriptServiceConfig{WorkerConcurrency: 1}, nil)
	return jobsRepo, svc
}

func TestTranscriptServiceEndToEndCSV(t *testing.T) {
	jobsRepo, svc := newTranscriptFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop()

	job, err := svc.Request(ctx, "stu-1", models.TranscriptFormatCSV, "registrar-1")
	require.NoError(t, err)
	require.Equal(t, models.TranscriptStatusQueued, job.Status)

	require.Eventually(t, func() bool {
		return jobsRepo.status(job.ID) == models.TranscriptStatusFinished
	}, 3*time.Second, 10*time.Millisecond)

	finished, token, expiresAt, err := svc.Status(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.TranscriptStatusFinished, finished.Status)
	require.NotEmpty(t, token)
	require.True(t, expiresAt.After(time.Now()))

	data, filename, contentType, err := svc.Download(ctx, token)
	require.NoError(t, err)
	require.Equal(t, "transcript-stu-1.csv", filename)
	require.Equal(t, "text/csv", contentType)
	body := string(data)
	require.Contains(t, body, "Term,Course,Title,Credits,Grade,Completed")
	require.Contains(t, body, "CS101")
	require.Contains(t, body, "B+")
}

func TestTranscriptServicePDFRender(t *testing.T) {
	jobsRepo, svc := newTranscriptFixture(t)

	job := &models.TranscriptJob{StudentID: "stu-1", Format: models.TranscriptFormatPDF, Status: models.TranscriptStatusQueued}
	require.NoError(t, jobsRepo.Create(context.Background(), job))

	err := svc.process(context.Background(), jobs.Job{ID: job.ID, Type: "transcript_export", Payload: job.ID})
	require.NoError(t, err)

	require.Equal(t, models.TranscriptStatusFinished, jobsRepo.status(job.ID))
	stored, err := jobsRepo.FindByID(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.FilePath)

	data, err := svc.files.ReadAll(*stored.FilePath)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, []byte("%PDF")))
}

func TestTranscriptServiceRejectsUnknownFormat(t *testing.T) {
	_, svc := newTranscriptFixture(t)

	_, err := svc.Request(context.Background(), "stu-1", models.TranscriptFormat("docx"), "registrar-1")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestTranscriptServiceUnknownStudent(t *testing.T) {
	_, svc := newTranscriptFixture(t)

	_, err := svc.Request(context.Background(), "ghost", models.TranscriptFormatCSV, "registrar-1")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestTranscriptServiceStatusPendingHasNoToken(t *testing.T) {
	jobsRepo, svc := newTranscriptFixture(t)

	job := &models.TranscriptJob{StudentID: "stu-1", Format: models.TranscriptFormatCSV, Status: models.TranscriptStatusQueued}
	require.NoError(t, jobsRepo.Create(context.Background(), job))

	_, token, _, err := svc.Status(context.Background(), job.ID)
	require.NoError(t, err)
	require.Empty(t, token)
}

func TestTranscriptServiceDownloadRejectsBadToken(t *testing.T) {
	_, svc := newTranscriptFixture(t)

	_, _, _, err := svc.Download(context.Background(), "not.a.real.token")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)

	otherSigner := storage.NewSignedURLSigner("other-secret", time.Hour)
	token, _, err := otherSigner.Generate("job-1", "stu-1/job-1.csv")
	require.NoError(t, err)
	if !strings.Contains(token, ".") {
		t.Fatalf("unexpected token shape %q", token)
	}
	_, _, _, err = svc.Download(context.Background(), token)
	require.Error(t, err)
	require.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}
