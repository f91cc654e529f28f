package appointments

import (
	"context"
	"errors"
	"testing"

	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var listCols = []string{"id", "patient_id", "dentist_id", "patient_name", "dentist_name", "apt_date", "apt_time", "reason", "status"}

func TestRepositoryListByPatient(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newRepositoryWithQuerier(mock)
	mock.ExpectQuery("WHERE a.patient_id = ").WithArgs("P-1").WillReturnRows(
		pgxmock.NewRows(listCols).
			AddRow("A-1", "P-1", "D-1", "Asha", "Dr. Rao", "2024-01-09", "09:00", "Cleaning", "completed").
			AddRow("A-2", "P-1", "D-2", "Asha", "Dr. Iyer", "2024-01-12", "15:30", "X-ray", "booked"),
	)

	got, err := repo.ListByPatient(context.Background(), "P-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "A-1", got[0].ID)
	assert.Equal(t, StatusCompleted, got[0].Status)
	assert.Equal(t, "15:30", got[1].Time)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryListAllQueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newRepositoryWithQuerier(mock)
	mock.ExpectQuery("FROM appointments a").WillReturnError(errors.New("connection reset"))

	_, err = repo.ListAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "appointments: list")
}

func TestRepositoryDetails(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newRepositoryWithQuerier(mock)
	cols := []string{"id", "patient_id", "dentist_id", "apt_date", "apt_time", "reason", "status",
		"p_name", "age", "gender", "email", "phone", "d_name", "specialization"}
	mock.ExpectQuery("WHERE a.id = ").WithArgs("A-1").WillReturnRows(
		pgxmock.NewRows(cols).AddRow("A-1", "P-1", "D-1", "2024-01-10", "09:00", "Root canal", "booked",
			"Asha", 34, "female", "asha@example.com", "", "Dr. Rao", "Endodontics"),
	)

	d, err := repo.Details(context.Background(), "A-1")
	require.NoError(t, err)
	assert.Equal(t, "Asha", d.Patient.Name)
	assert.Equal(t, 34, d.Patient.Age)
	assert.Equal(t, "P-1", d.Patient.ID)
	assert.Equal(t, "Endodontics", d.Dentist.Specialization)
	assert.Equal(t, "Dr. Rao", d.Appointment.DentistName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryDetailsNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newRepositoryWithQuerier(mock)
	mock.ExpectQuery("WHERE a.id = ").WithArgs("missing").WillReturnError(pgx.ErrNoRows)

	_, err = repo.Details(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
