package appointments

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/dental-clinic-platform/pkg/logging"
)

var appointmentsTracer = otel.Tracer("clinic.internal.appointments")

// Store is the persistence the service reads from.
type Store interface {
	ListByPatient(ctx context.Context, patientID string) ([]Appointment, error)
	ListByDentist(ctx context.Context, dentistID string) ([]Appointment, error)
	ListAll(ctx context.Context) ([]Appointment, error)
	Details(ctx context.Context, appointmentID string) (*Details, error)
}

// Service lists appointments already split into past and upcoming.
type Service struct {
	store      Store
	classifier *Classifier
	logger     *logging.Logger
	now        func() time.Time
}

// NewService constructs an appointments service.
func NewService(store Store, classifier *Classifier, logger *logging.Logger) *Service {
	if store == nil {
		panic("appointments: store required")
	}
	if classifier == nil {
		classifier = NewClassifier(nil)
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{store: store, classifier: classifier, logger: logger, now: time.Now}
}

func (s *Service) ByPatient(ctx context.Context, patientID string) (Partition, error) {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.by_patient")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.patient_id", patientID))

	list, err := s.store.ListByPatient(ctx, patientID)
	if err != nil {
		span.RecordError(err)
		return Partition{}, err
	}
	return s.classify(list), nil
}

func (s *Service) ByDentist(ctx context.Context, dentistID string) (Partition, error) {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.by_dentist")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.dentist_id", dentistID))

	list, err := s.store.ListByDentist(ctx, dentistID)
	if err != nil {
		span.RecordError(err)
		return Partition{}, err
	}
	return s.classify(list), nil
}

func (s *Service) All(ctx context.Context) (Partition, error) {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.all")
	defer span.End()

	list, err := s.store.ListAll(ctx)
	if err != nil {
		span.RecordError(err)
		return Partition{}, err
	}
	return s.classify(list), nil
}

// Details fetches one appointment with patient and dentist.
func (s *Service) Details(ctx context.Context, appointmentID string) (*Details, error) {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.details")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.appointment_id", appointmentID))

	d, err := s.store.Details(ctx, appointmentID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return d, nil
}

func (s *Service) classify(list []Appointment) Partition {
	p := s.classifier.Classify(list, s.now())
	for _, bad := range p.Invalid {
		s.logger.Warn("appointment has unreadable schedule",
			"appointment_id", bad.Appointment.ID,
			"date", bad.Appointment.Date,
			"time", bad.Appointment.Time,
			"reason", bad.Reason,
		)
	}
	return p
}
