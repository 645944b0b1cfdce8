package models

import (
	"strings"
	"time"
)

// Weekday labels used in meeting patterns.
type Weekday string

const (
	Monday    Weekday = "MON"
	Tuesday   Weekday = "TUE"
	Wednesday Weekday = "WED"
	Thursday  Weekday = "THU"
	Friday    Weekday = "FRI"
	Saturday  Weekday = "SAT"
	Sunday    Weekday = "SUN"
)

// MeetingPattern describes when an offering meets: a weekday set plus a
// time-of-day range expressed in minutes since midnight.
type MeetingPattern struct {
	Days        []Weekday `json:"days"`
	StartMinute int       `json:"start_minute"`
	EndMinute   int       `json:"end_minute"`
}

// Offering is a scheduled instance of a course within one term.
// Descriptive fields are immutable once enrollment has begun; capacity may
// only be raised administratively, never below the current enrolled count.
type Offering struct {
	ID          string     `db:"id" json:"id"`
	CourseID    string     `db:"course_id" json:"course_id"`
	TermID      string     `db:"term_id" json:"term_id"`
	Section     string     `db:"section" json:"section"`
	Capacity    int        `db:"capacity" json:"capacity"`
	MeetingDays *string    `db:"meeting_days" json:"meeting_days,omitempty"`
	StartMinute *int       `db:"start_minute" json:"start_minute,omitempty"`
	EndMinute   *int       `db:"end_minute" json:"end_minute,omitempty"`
	Open        bool       `db:"open" json:"open"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// Pattern returns the offering's meeting pattern, or nil for fully
// asynchronous offerings with no declared meeting times.
func (o *Offering) Pattern() *MeetingPattern {
	if o == nil || o.MeetingDays == nil || *o.MeetingDays == "" || o.StartMinute == nil || o.EndMinute == nil {
		return nil
	}
	parts := strings.Split(*o.MeetingDays, ",")
	days := make([]Weekday, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			days = append(days, Weekday(strings.ToUpper(trimmed)))
		}
	}
	if len(days) == 0 {
		return nil
	}
	return &MeetingPattern{Days: days, StartMinute: *o.StartMinute, EndMinute: *o.EndMinute}
}

// OfferingDetail enriches Offering with catalog context.
type OfferingDetail struct {
	Offering
	CourseCode  string `db:"course_code" json:"course_code"`
	CourseTitle string `db:"course_title" json:"course_title"`
	Credits     int    `db:"credits" json:"credits"`
	TermName    string `db:"term_name" json:"term_name"`
}

// SeatCounts reflects the current enrolled/waitlisted totals for an offering.
type SeatCounts struct {
	OfferingID string `db:"offering_id" json:"offering_id"`
	Capacity   int    `db:"capacity" json:"capacity"`
	Enrolled   int    `db:"enrolled" json:"enrolled"`
	Waitlisted int    `db:"waitlisted" json:"waitlisted"`
}

// OfferingFilter provides filters for listing offerings.
type OfferingFilter struct {
	CourseID  string
	TermID    string
	Open      *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
