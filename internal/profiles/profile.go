// Package profiles holds dentist self-service profiles and the reception
// patient register.
package profiles

import (
	"errors"
	"strings"
	"time"
	"unicode"
)

var (
	// ErrNotFound means the dentist has no profile yet, or does not exist.
	ErrNotFound = errors.New("profiles: not found")
	// ErrAlreadyExists rejects a second create for the same dentist.
	ErrAlreadyExists = errors.New("profiles: already exists")
)

// DentistProfile is the dentist-maintained part of the dentist record.
type DentistProfile struct {
	DentistID       string    `json:"dentist_id"`
	Name            string    `json:"name"`
	Phone           string    `json:"phone"`
	ExperienceYears int       `json:"experience_years"`
	Specialization  string    `json:"specialization"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ProfileRequest is the create/update form. Every field is required.
type ProfileRequest struct {
	Name            string `json:"name"`
	Phone           string `json:"phone"`
	ExperienceYears *int   `json:"experience_years"`
	Specialization  string `json:"specialization"`
}

// FieldError describes one invalid field.
type FieldError struct {
	Field   string `json:"field"`
	Problem string `json:"problem"`
}

// ValidationError lists every problem with a request.
type ValidationError struct {
	Problems []FieldError `json:"problems"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.Field+": "+p.Problem)
	}
	return "profiles: validation failed: " + strings.Join(parts, "; ")
}

// Normalize trims the request and checks it.
func (r *ProfileRequest) Normalize() error {
	r.Name = strings.TrimSpace(r.Name)
	r.Phone = strings.TrimSpace(r.Phone)
	r.Specialization = strings.TrimSpace(r.Specialization)

	var problems []FieldError
	add := func(field, problem string) {
		problems = append(problems, FieldError{Field: field, Problem: problem})
	}
	if r.Name == "" {
		add("name", "required")
	}
	switch {
	case r.Phone == "":
		add("phone", "required")
	case len(r.Phone) != 10 || strings.IndexFunc(r.Phone, func(c rune) bool { return !unicode.IsDigit(c) }) >= 0:
		add("phone", "must be 10 digits")
	}
	switch {
	case r.ExperienceYears == nil:
		add("experience_years", "required")
	case *r.ExperienceYears < 0 || *r.ExperienceYears > 70:
		add("experience_years", "must be between 0 and 70")
	}
	if r.Specialization == "" {
		add("specialization", "required")
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// PatientRecord is one row of the reception patient register.
type PatientRecord struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Age     int    `json:"age"`
	Gender  string `json:"gender"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

// SortKey is a sortable register column.
type SortKey string

const (
	SortByName SortKey = "name"
	SortByID   SortKey = "pid"
	SortByAge  SortKey = "age"
)

const (
	DefaultPerPage = 5
	MaxPerPage     = 100
)

// PatientQuery filters and pages the register. Search matches name or
// patient id, case-insensitively.
type PatientQuery struct {
	Search  string
	Sort    SortKey
	Desc    bool
	Page    int
	PerPage int
}

// Normalize clamps paging and falls back to sorting by name.
func (q PatientQuery) Normalize() PatientQuery {
	q.Search = strings.TrimSpace(q.Search)
	switch q.Sort {
	case SortByName, SortByID, SortByAge:
	default:
		q.Sort = SortByName
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage < 1 {
		q.PerPage = DefaultPerPage
	}
	if q.PerPage > MaxPerPage {
		q.PerPage = MaxPerPage
	}
	return q
}

// Offset is the row offset of the requested page.
func (q PatientQuery) Offset() int {
	return (q.Page - 1) * q.PerPage
}

// PatientPage is one page of the register.
type PatientPage struct {
	Patients   []PatientRecord `json:"patients"`
	Total      int             `json:"total"`
	Page       int             `json:"page"`
	PerPage    int             `json:"per_page"`
	TotalPages int             `json:"total_pages"`
}
