package appointments

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository reads appointments from Postgres. Booking and rescheduling
// write elsewhere.
type Repository struct {
	db querier
}

// NewRepository creates a repository backed by pgx pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("appointments: pgx pool required")
	}
	return &Repository{db: pool}
}

func newRepositoryWithQuerier(q querier) *Repository {
	return &Repository{db: q}
}

const listColumns = `
	SELECT a.id, a.patient_id, a.dentist_id, p.name, d.name,
	       to_char(a.apt_date, 'YYYY-MM-DD'), a.apt_time, a.reason, a.status
	FROM appointments a
	JOIN patients p ON p.id = a.patient_id
	JOIN dentists d ON d.id = a.dentist_id
`

// ListByPatient returns a patient's appointments, oldest first.
func (r *Repository) ListByPatient(ctx context.Context, patientID string) ([]Appointment, error) {
	return r.list(ctx, listColumns+` WHERE a.patient_id = $1 ORDER BY a.apt_date, a.apt_time`, patientID)
}

// ListByDentist returns a dentist's appointments, oldest first.
func (r *Repository) ListByDentist(ctx context.Context, dentistID string) ([]Appointment, error) {
	return r.list(ctx, listColumns+` WHERE a.dentist_id = $1 ORDER BY a.apt_date, a.apt_time`, dentistID)
}

// ListAll returns every appointment for the front desk.
func (r *Repository) ListAll(ctx context.Context) ([]Appointment, error) {
	return r.list(ctx, listColumns+` ORDER BY a.apt_date, a.apt_time`)
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("appointments: list: %w", err)
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		var a Appointment
		var status string
		if err := rows.Scan(&a.ID, &a.PatientID, &a.DentistID, &a.PatientName, &a.DentistName,
			&a.Date, &a.Time, &a.Reason, &status); err != nil {
			return nil, fmt.Errorf("appointments: scan: %w", err)
		}
		a.Status = Status(status)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("appointments: list rows: %w", err)
	}
	return out, nil
}

// Details loads one appointment with its patient and dentist.
func (r *Repository) Details(ctx context.Context, appointmentID string) (*Details, error) {
	query := `
		SELECT a.id, a.patient_id, a.dentist_id, to_char(a.apt_date, 'YYYY-MM-DD'),
		       a.apt_time, a.reason, a.status,
		       p.name, p.age, p.gender, p.email, COALESCE(p.phone, ''),
		       d.name, COALESCE(d.specialization, '')
		FROM appointments a
		JOIN patients p ON p.id = a.patient_id
		JOIN dentists d ON d.id = a.dentist_id
		WHERE a.id = $1
	`
	var d Details
	var status string
	err := r.db.QueryRow(ctx, query, appointmentID).Scan(
		&d.Appointment.ID, &d.Appointment.PatientID, &d.Appointment.DentistID,
		&d.Appointment.Date, &d.Appointment.Time, &d.Appointment.Reason, &status,
		&d.Patient.Name, &d.Patient.Age, &d.Patient.Gender, &d.Patient.Email, &d.Patient.Phone,
		&d.Dentist.Name, &d.Dentist.Specialization,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("appointments: load details: %w", err)
	}
	d.Appointment.Status = Status(status)
	d.Appointment.PatientName = d.Patient.Name
	d.Appointment.DentistName = d.Dentist.Name
	d.Patient.ID = d.Appointment.PatientID
	d.Dentist.ID = d.Appointment.DentistID
	return &d, nil
}
