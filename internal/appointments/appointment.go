package appointments

import (
	"errors"

	"github.com/wolfman30/dental-clinic-platform/internal/session"
)

// ErrNotFound is returned when no appointment matches the id.
var ErrNotFound = errors.New("appointments: not found")

// Status is the booking lifecycle state. Scheduling owns transitions.
type Status string

const (
	StatusBooked    Status = "booked"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// Appointment is a scheduled patient/dentist encounter. Date is a calendar
// day (YYYY-MM-DD) and Time a clinic-local time of day (HH:MM).
type Appointment struct {
	ID          string `json:"id"`
	PatientID   string `json:"patient_id"`
	DentistID   string `json:"dentist_id"`
	PatientName string `json:"patient_name"`
	DentistName string `json:"dentist_name,omitempty"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	Reason      string `json:"reason"`
	Status      Status `json:"status"`
}

type Patient struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Age    int    `json:"age"`
	Gender string `json:"gender"`
	Email  string `json:"email"`
	Phone  string `json:"phone,omitempty"`
}

type Dentist struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Specialization string `json:"specialization"`
}

// Details joins an appointment with both parties.
type Details struct {
	Appointment Appointment `json:"appointment"`
	Patient     Patient     `json:"patient"`
	Dentist     Dentist     `json:"dentist"`
}

// CanView reports whether s may see appointment a. Reception sees
// everything; patients and dentists only their own.
func CanView(s session.Session, a Appointment) bool {
	switch v := s.(type) {
	case session.Reception:
		return true
	case session.Patient:
		return v.ID != "" && v.ID == a.PatientID
	case session.Dentist:
		return v.ID != "" && v.ID == a.DentistID
	default:
		return false
	}
}
