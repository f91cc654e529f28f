package invoices

import (
	"fmt"
	"strings"
	"time"
)

// RequiredMessage is shown inline when the form is incomplete.
const RequiredMessage = "All fields are required."

// FieldError describes one invalid field.
type FieldError struct {
	Field   string `json:"field"`
	Problem string `json:"problem"`
}

// ValidationError blocks a save until the listed problems are fixed.
type ValidationError struct {
	Problems []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.Field+": "+p.Problem)
	}
	return "invoices: validation failed: " + strings.Join(parts, "; ")
}

// Message is the user-facing summary.
func (e *ValidationError) Message() string {
	for _, p := range e.Problems {
		if p.Problem != "required" {
			return fmt.Sprintf("Invalid %s: %s.", p.Field, p.Problem)
		}
	}
	return RequiredMessage
}

// SaveRequest carries the reception form. PaymentStatus is only honoured
// in the false to true direction.
type SaveRequest struct {
	AppointmentID string `json:"appointment_id"`
	InvoiceDate   string `json:"invoice_date"`
	Items         []Item `json:"items"`
	PaymentStatus *bool  `json:"payment_status,omitempty"`
}

// Validate checks the request without touching storage.
func (r SaveRequest) Validate() error {
	var problems []FieldError
	add := func(field, problem string) {
		problems = append(problems, FieldError{Field: field, Problem: problem})
	}

	if strings.TrimSpace(r.AppointmentID) == "" {
		add("appointment_id", "required")
	}
	date := strings.TrimSpace(r.InvoiceDate)
	if date == "" {
		add("invoice_date", "required")
	} else if _, err := time.Parse("2006-01-02", date); err != nil {
		add("invoice_date", "must be YYYY-MM-DD")
	}
	if len(r.Items) == 0 {
		add("items", "required")
	}
	for i, it := range r.Items {
		field := fmt.Sprintf("items[%d]", i)
		if strings.TrimSpace(it.Description) == "" {
			add(field+".description", "required")
		}
		if it.Amount.IsNegative() {
			add(field+".amount", "must not be negative")
		} else if !it.Amount.Equal(it.Amount.Round(2)) {
			add(field+".amount", "at most 2 decimal places")
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
