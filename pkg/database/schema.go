package database

import (
	"context"
	"fmt"
)

// CreateSchema creates the record store tables read by the reminder synchronizer.
// The portal owns these tables; the agent only creates them for local development and tests.
func (db *DB) CreateSchema(ctx context.Context) error {
	db.logger.Info("Creating reminder source schema...")

	for _, stmt := range append(tables, indexes...) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}

	db.logger.Info("Reminder source schema created successfully")
	return nil
}

var tables = []string{
	createAppointmentsTable,
	createPrescriptionsTable,
	createRemindersTable,
	createLabBookingsTable,
}

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_appointments_patient_time ON appointments(patient_id, scheduled_at);`,
	`CREATE INDEX IF NOT EXISTS idx_prescriptions_patient ON prescriptions(patient_id);`,
	`CREATE INDEX IF NOT EXISTS idx_reminders_patient ON reminders(patient_id);`,
	`CREATE INDEX IF NOT EXISTS idx_lab_bookings_patient_date ON lab_bookings(patient_id, test_date);`,
}

const (
	createAppointmentsTable = `
		CREATE TABLE IF NOT EXISTS appointments (
			id TEXT PRIMARY KEY,
			patient_id TEXT NOT NULL,
			doctor_name TEXT NOT NULL DEFAULT '',
			scheduled_at TIMESTAMPTZ NOT NULL,
			consultation_mode TEXT NOT NULL DEFAULT 'in_person',
			status TEXT NOT NULL DEFAULT 'scheduled',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`

	createPrescriptionsTable = `
		CREATE TABLE IF NOT EXISTS prescriptions (
			id TEXT PRIMARY KEY,
			patient_id TEXT NOT NULL,
			drug_name TEXT NOT NULL,
			instructions TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`

	createRemindersTable = `
		CREATE TABLE IF NOT EXISTS reminders (
			id TEXT PRIMARY KEY,
			patient_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			time_of_day TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`

	createLabBookingsTable = `
		CREATE TABLE IF NOT EXISTS lab_bookings (
			id TEXT PRIMARY KEY,
			patient_id TEXT NOT NULL,
			test_type TEXT NOT NULL,
			lab_name TEXT NOT NULL DEFAULT '',
			test_date DATE NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`
)
