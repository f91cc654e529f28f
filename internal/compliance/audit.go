// Package compliance keeps the append-only billing audit trail.
package compliance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/dental-clinic-platform/internal/session"
)

// AuditEventType represents the type of billing event.
type AuditEventType string

const (
	EventInvoiceCreated         AuditEventType = "invoice.created"
	EventInvoiceUpdated         AuditEventType = "invoice.updated"
	EventInvoicePaid            AuditEventType = "invoice.paid"
	EventPaymentOrderCreated    AuditEventType = "payment.order_created"
	EventPaymentCaptureMismatch AuditEventType = "payment.capture_mismatch"
)

// AuditEvent represents an immutable audit record.
type AuditEvent struct {
	ID            string          `json:"id"`
	EventType     AuditEventType  `json:"event_type"`
	AppointmentID string          `json:"appointment_id"`
	ActorRole     string          `json:"actor_role"`
	ActorID       string          `json:"actor_id,omitempty"`
	Details       json.RawMessage `json:"details,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// AuditService handles billing audit logging.
type AuditService struct {
	db  *sql.DB
	now func() time.Time
}

// NewAuditService creates a new audit service.
func NewAuditService(db *sql.DB) *AuditService {
	return &AuditService{db: db, now: time.Now}
}

// LogEvent records an audit event.
func (s *AuditService) LogEvent(ctx context.Context, event AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now().UTC()
	}
	if event.ActorRole == "" {
		event.ActorRole = string(session.RoleAnonymous)
	}

	query := `
		INSERT INTO billing_audit_events (
			id, event_type, appointment_id, actor_role, actor_id, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.EventType,
		event.AppointmentID,
		event.ActorRole,
		nullString(event.ActorID),
		nullJSON(event.Details),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("compliance: failed to log audit event: %w", err)
	}

	return nil
}

// Record logs eventType for appointmentID with details marshaled to JSON.
// The actor is taken from the session on ctx; webhook calls have none
// and are recorded as anonymous.
func (s *AuditService) Record(ctx context.Context, eventType, appointmentID string, details any) error {
	var detailsJSON json.RawMessage
	if details != nil {
		data, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("compliance: marshal audit details: %w", err)
		}
		detailsJSON = data
	}
	actor := session.FromContext(ctx)
	return s.LogEvent(ctx, AuditEvent{
		EventType:     AuditEventType(eventType),
		AppointmentID: appointmentID,
		ActorRole:     string(actor.Role()),
		ActorID:       actor.Subject(),
		Details:       detailsJSON,
	})
}

// QueryEvents retrieves audit events with filters, newest first.
func (s *AuditService) QueryEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	query := `
		SELECT id, event_type, appointment_id, actor_role, actor_id, details, created_at
		FROM billing_audit_events
		WHERE appointment_id = $1
	`
	args := []interface{}{filter.AppointmentID}
	argIdx := 2

	if filter.EventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, filter.EventType)
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("compliance: failed to query audit events: %w", err)
	}
	defer rows.Close()

	events := []AuditEvent{}
	for rows.Next() {
		var e AuditEvent
		var actorID sql.NullString
		var details []byte
		if err := rows.Scan(&e.ID, &e.EventType, &e.AppointmentID, &e.ActorRole, &actorID, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("compliance: failed to scan audit event: %w", err)
		}
		e.ActorID = actorID.String
		if len(details) > 0 {
			e.Details = append(json.RawMessage(nil), details...)
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// AuditFilter specifies criteria for querying audit events.
type AuditFilter struct {
	AppointmentID string
	EventType     AuditEventType
	StartTime     time.Time
	EndTime       time.Time
	Limit         int
	Offset        int
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
