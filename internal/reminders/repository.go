package reminders

import (
	"context"
	"fmt"
	"time"

	"github.com/medrex/healthon/pkg/database"
	"github.com/medrex/healthon/pkg/interfaces"
	"github.com/medrex/healthon/pkg/logger"
	"github.com/medrex/healthon/pkg/types"
)

// videoConsultationMode marks a telemedicine appointment in the record store
const videoConsultationMode = "video"

// Repository reads reminder sources from the portal's Postgres record store
type Repository struct {
	db     *database.DB
	logger *logger.Logger
}

// NewRepository creates a new reminder source repository
func NewRepository(db *database.DB, log *logger.Logger) interfaces.ReminderRepository {
	return &Repository{
		db:     db,
		logger: log,
	}
}

// GetUpcomingAppointments returns the patient's appointments scheduled after from
func (r *Repository) GetUpcomingAppointments(ctx context.Context, patientID string, from time.Time) ([]types.AppointmentSource, error) {
	query := `
		SELECT id, patient_id, scheduled_at, consultation_mode, doctor_name, status
		FROM appointments
		WHERE patient_id = $1
		  AND scheduled_at > $2
		  AND status NOT IN ('cancelled', 'completed', 'no_show')
		ORDER BY scheduled_at ASC`

	rows, err := r.db.QueryContext(ctx, query, patientID, from)
	if err != nil {
		r.logger.WithError(err).WithField("patient_id", patientID).Error("Failed to query appointments")
		return nil, fmt.Errorf("failed to query appointments: %w", err)
	}
	defer rows.Close()

	var appointments []types.AppointmentSource
	for rows.Next() {
		var a types.AppointmentSource
		var mode string
		if err := rows.Scan(&a.ID, &a.PatientID, &a.ScheduledAt, &mode, &a.CounterpartyName, &a.Status); err != nil {
			return nil, fmt.Errorf("failed to scan appointment: %w", err)
		}
		a.IsTelemedicine = mode == videoConsultationMode
		appointments = append(appointments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read appointments: %w", err)
	}

	return appointments, nil
}

// GetActivePrescriptions returns the patient's active prescriptions
func (r *Repository) GetActivePrescriptions(ctx context.Context, patientID string) ([]types.MedicationSource, error) {
	query := `
		SELECT id, drug_name, instructions, created_at
		FROM prescriptions
		WHERE patient_id = $1 AND is_active = TRUE
		ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, patientID)
	if err != nil {
		r.logger.WithError(err).WithField("patient_id", patientID).Error("Failed to query prescriptions")
		return nil, fmt.Errorf("failed to query prescriptions: %w", err)
	}
	defer rows.Close()

	var medications []types.MedicationSource
	for rows.Next() {
		var m types.MedicationSource
		if err := rows.Scan(&m.PrescriptionID, &m.DrugName, &m.InstructionText, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan prescription: %w", err)
		}
		medications = append(medications, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read prescriptions: %w", err)
	}

	return medications, nil
}

// GetActiveReminders returns the patient's active generic reminders
func (r *Repository) GetActiveReminders(ctx context.Context, patientID string) ([]types.GenericReminderSource, error) {
	query := `
		SELECT id, title, description, time_of_day, is_active
		FROM reminders
		WHERE patient_id = $1 AND is_active = TRUE
		ORDER BY time_of_day ASC`

	rows, err := r.db.QueryContext(ctx, query, patientID)
	if err != nil {
		r.logger.WithError(err).WithField("patient_id", patientID).Error("Failed to query reminders")
		return nil, fmt.Errorf("failed to query reminders: %w", err)
	}
	defer rows.Close()

	var reminders []types.GenericReminderSource
	for rows.Next() {
		var g types.GenericReminderSource
		if err := rows.Scan(&g.ID, &g.Title, &g.Description, &g.TimeOfDay, &g.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan reminder: %w", err)
		}
		reminders = append(reminders, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read reminders: %w", err)
	}

	return reminders, nil
}

// GetUpcomingLabBookings returns the patient's lab bookings on or after the day of from
func (r *Repository) GetUpcomingLabBookings(ctx context.Context, patientID string, from time.Time) ([]types.LabBookingSource, error) {
	query := `
		SELECT id, test_type, lab_name, test_date, status
		FROM lab_bookings
		WHERE patient_id = $1
		  AND test_date >= $2::date
		  AND status NOT IN ('cancelled', 'completed')
		ORDER BY test_date ASC`

	rows, err := r.db.QueryContext(ctx, query, patientID, from.Format("2006-01-02"))
	if err != nil {
		r.logger.WithError(err).WithField("patient_id", patientID).Error("Failed to query lab bookings")
		return nil, fmt.Errorf("failed to query lab bookings: %w", err)
	}
	defer rows.Close()

	var bookings []types.LabBookingSource
	for rows.Next() {
		var l types.LabBookingSource
		if err := rows.Scan(&l.ID, &l.TestType, &l.LabName, &l.TestDate, &l.Status); err != nil {
			return nil, fmt.Errorf("failed to scan lab booking: %w", err)
		}
		bookings = append(bookings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read lab bookings: %w", err)
	}

	return bookings, nil
}
