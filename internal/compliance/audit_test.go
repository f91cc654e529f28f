package compliance

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/dental-clinic-platform/internal/session"
)

type anyJSON struct{ want map[string]any }

func (a anyJSON) Match(v driver.Value) bool {
	raw, ok := v.([]byte)
	if !ok {
		return false
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		return false
	}
	for k, want := range a.want {
		if got[k] != want {
			return false
		}
	}
	return true
}

func TestAuditService_LogEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewAuditService(db)

	tests := []struct {
		name  string
		event AuditEvent
	}{
		{
			name: "invoice created by reception",
			event: AuditEvent{
				EventType:     EventInvoiceCreated,
				AppointmentID: "A-1",
				ActorRole:     "reception",
				ActorID:       "R-1",
				Details:       json.RawMessage(`{"total":"800"}`),
			},
		},
		{
			name: "webhook payment without actor",
			event: AuditEvent{
				EventType:     EventInvoicePaid,
				AppointmentID: "A-1",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock.ExpectExec("INSERT INTO billing_audit_events").
				WillReturnResult(sqlmock.NewResult(1, 1))

			assert.NoError(t, service.LogEvent(context.Background(), tt.event))
		})
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditService_RecordUsesSessionActor(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewAuditService(db)
	fixed := time.Date(2024, 1, 10, 4, 30, 0, 0, time.UTC)
	service.now = func() time.Time { return fixed }

	mock.ExpectExec("INSERT INTO billing_audit_events").
		WithArgs(sqlmock.AnyArg(), EventInvoiceCreated, "A-1", "reception", "R-1", anyJSON{want: map[string]any{"total": "800"}}, fixed).
		WillReturnResult(sqlmock.NewResult(1, 1))

	ctx := session.WithSession(context.Background(), session.Reception{ID: "R-1"})
	require.NoError(t, service.Record(ctx, "invoice.created", "A-1", map[string]any{"total": "800"}))

	mock.ExpectExec("INSERT INTO billing_audit_events").
		WithArgs(sqlmock.AnyArg(), EventPaymentCaptureMismatch, "A-1", "anonymous", nil, nil, fixed).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, service.Record(context.Background(), "payment.capture_mismatch", "A-1", nil))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditService_LogEventError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO billing_audit_events").WillReturnError(errors.New("connection refused"))

	err = NewAuditService(db).LogEvent(context.Background(), AuditEvent{EventType: EventInvoicePaid, AppointmentID: "A-1"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "compliance:")
}

func TestAuditService_QueryEvents(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "event_type", "appointment_id", "actor_role", "actor_id", "details", "created_at"}).
		AddRow("e-2", "invoice.paid", "A-1", "patient", "P-1", []byte(`{"reference":"pay_1"}`), now).
		AddRow("e-1", "invoice.created", "A-1", "reception", nil, nil, now.Add(-time.Hour))

	mock.ExpectQuery("SELECT id, event_type, appointment_id").
		WithArgs("A-1", EventInvoicePaid).
		WillReturnRows(rows)

	events, err := NewAuditService(db).QueryEvents(context.Background(), AuditFilter{
		AppointmentID: "A-1",
		EventType:     EventInvoicePaid,
		Limit:         10,
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "P-1", events[0].ActorID)
	assert.JSONEq(t, `{"reference":"pay_1"}`, string(events[0].Details))
	assert.Empty(t, events[1].ActorID)
	assert.Nil(t, events[1].Details)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandlerListRequiresReception(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	router := chi.NewRouter()
	router.Get("/api/audit/{appointmentID}", NewHandler(NewAuditService(db), nil).List)

	req := httptest.NewRequest(http.MethodGet, "/api/audit/A-1", nil)
	req = req.WithContext(session.WithSession(req.Context(), session.Patient{ID: "P-1"}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	mock.ExpectQuery("SELECT id, event_type, appointment_id").
		WithArgs("A-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "event_type", "appointment_id", "actor_role", "actor_id", "details", "created_at"}))

	req = httptest.NewRequest(http.MethodGet, "/api/audit/A-1?limit=5", nil)
	req = req.WithContext(session.WithSession(req.Context(), session.Reception{ID: "R-1"}))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"events":[]}`, rec.Body.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}
