package models

import "time"

// TranscriptFormat enumerates supported transcript export formats.
type TranscriptFormat string

const (
	TranscriptFormatCSV TranscriptFormat = "csv"
	TranscriptFormatPDF TranscriptFormat = "pdf"
)

// TranscriptJobStatus captures background export lifecycle states.
type TranscriptJobStatus string

const (
	TranscriptStatusQueued     TranscriptJobStatus = "QUEUED"
	TranscriptStatusProcessing TranscriptJobStatus = "PROCESSING"
	TranscriptStatusFinished   TranscriptJobStatus = "FINISHED"
	TranscriptStatusFailed     TranscriptJobStatus = "FAILED"
)

// TranscriptJob is a persisted asynchronous transcript export request.
type TranscriptJob struct {
	ID           string              `db:"id" json:"id"`
	StudentID    string              `db:"student_id" json:"student_id"`
	Format       TranscriptFormat    `db:"format" json:"format"`
	Status       TranscriptJobStatus `db:"status" json:"status"`
	FilePath     *string             `db:"file_path" json:"-"`
	ErrorMessage *string             `db:"error_message" json:"error_message,omitempty"`
	RequestedBy  string              `db:"requested_by" json:"requested_by"`
	CreatedAt    time.Time           `db:"created_at" json:"created_at"`
	FinishedAt   *time.Time          `db:"finished_at" json:"finished_at,omitempty"`
}

// TranscriptRow is one completed course line on a transcript.
type TranscriptRow struct {
	TermName    string      `db:"term_name" json:"term_name"`
	CourseCode  string      `db:"course_code" json:"course_code"`
	CourseTitle string      `db:"course_title" json:"course_title"`
	Credits     int         `db:"credits" json:"credits"`
	Grade       LetterGrade `db:"grade" json:"grade"`
	CompletedAt time.Time   `db:"completed_at" json:"completed_at"`
}
