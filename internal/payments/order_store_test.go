package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderRepositorySaveAndGet(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := newOrderRepositoryWithQuerier(mock)

	mock.ExpectExec("INSERT INTO payment_orders").
		WithArgs("order_1", "A-1", int64(80000), "INR", "razorpay").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, repo.Save(context.Background(), OrderRecord{
		OrderID: "order_1", AppointmentID: "A-1", AmountMinorUnits: 80000, Currency: "INR", Gateway: "razorpay",
	}))

	created := time.Date(2024, 1, 10, 4, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM payment_orders").WithArgs("order_1").
		WillReturnRows(pgxmock.NewRows([]string{"order_id", "appointment_id", "amount_minor_units", "currency", "gateway", "created_at"}).
			AddRow("order_1", "A-1", int64(80000), "INR", "razorpay", created))
	rec, err := repo.Get(context.Background(), "order_1")
	require.NoError(t, err)
	assert.Equal(t, "A-1", rec.AppointmentID)
	assert.Equal(t, int64(80000), rec.AmountMinorUnits)
	assert.Equal(t, created, rec.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepositoryGetUnknown(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := newOrderRepositoryWithQuerier(mock)

	mock.ExpectQuery("FROM payment_orders").WithArgs("order_x").WillReturnError(pgx.ErrNoRows)
	_, err = repo.Get(context.Background(), "order_x")
	assert.ErrorIs(t, err, ErrUnknownOrder)

	mock.ExpectQuery("FROM payment_orders").WithArgs("order_y").WillReturnError(errors.New("conn closed"))
	_, err = repo.Get(context.Background(), "order_y")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownOrder)
}

func TestMemoryOrderStore(t *testing.T) {
	store := NewMemoryOrderStore()
	_, err := store.Get(context.Background(), "order_1")
	assert.ErrorIs(t, err, ErrUnknownOrder)

	require.NoError(t, store.Save(context.Background(), OrderRecord{OrderID: "order_1", AppointmentID: "A-1", AmountMinorUnits: 100}))
	// First write wins.
	require.NoError(t, store.Save(context.Background(), OrderRecord{OrderID: "order_1", AppointmentID: "A-2", AmountMinorUnits: 5}))

	rec, err := store.Get(context.Background(), "order_1")
	require.NoError(t, err)
	assert.Equal(t, "A-1", rec.AppointmentID)
	assert.Equal(t, int64(100), rec.AmountMinorUnits)
}
