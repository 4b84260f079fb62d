package reminders

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medrex/healthon/pkg/database"
	"github.com/medrex/healthon/pkg/logger"
)

func setupTestRepository(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := logger.NewWithOutput("debug", io.Discard)
	repo := NewRepository(database.Wrap(db, log), log).(*Repository)
	return repo, mock
}

func TestRepository_GetUpcomingAppointments(t *testing.T) {
	repo, mock := setupTestRepository(t)
	at := plannerNow.Add(26 * time.Hour)

	rows := sqlmock.NewRows([]string{"id", "patient_id", "scheduled_at", "consultation_mode", "doctor_name", "status"}).
		AddRow("apt-1", "patient-1", at, "in_person", "Dr. Rao", "scheduled").
		AddRow("apt-2", "patient-1", at.Add(time.Hour), "video", "Dr. Mehta", "confirmed")
	mock.ExpectQuery("SELECT (.+) FROM appointments").
		WithArgs("patient-1", plannerNow).
		WillReturnRows(rows)

	appts, err := repo.GetUpcomingAppointments(context.Background(), "patient-1", plannerNow)
	require.NoError(t, err)
	require.Len(t, appts, 2)

	assert.Equal(t, "apt-1", appts[0].ID)
	assert.False(t, appts[0].IsTelemedicine)
	assert.Equal(t, "Dr. Rao", appts[0].CounterpartyName)
	assert.True(t, appts[1].IsTelemedicine)
	assert.Equal(t, at.Add(time.Hour), appts[1].ScheduledAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_GetUpcomingAppointments_QueryError(t *testing.T) {
	repo, mock := setupTestRepository(t)

	mock.ExpectQuery("SELECT (.+) FROM appointments").
		WillReturnError(errors.New("connection refused"))

	appts, err := repo.GetUpcomingAppointments(context.Background(), "patient-1", plannerNow)
	assert.Error(t, err)
	assert.Nil(t, appts)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRepository_GetActivePrescriptions(t *testing.T) {
	repo, mock := setupTestRepository(t)

	rows := sqlmock.NewRows([]string{"id", "drug_name", "instructions", "created_at"}).
		AddRow("rx-1", "Metformin", "morning and night", plannerNow.AddDate(0, 0, -3))
	mock.ExpectQuery("SELECT (.+) FROM prescriptions").
		WithArgs("patient-1").
		WillReturnRows(rows)

	meds, err := repo.GetActivePrescriptions(context.Background(), "patient-1")
	require.NoError(t, err)
	require.Len(t, meds, 1)
	assert.Equal(t, "rx-1", meds[0].PrescriptionID)
	assert.Equal(t, "morning and night", meds[0].InstructionText)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_GetActiveReminders(t *testing.T) {
	repo, mock := setupTestRepository(t)

	rows := sqlmock.NewRows([]string{"id", "title", "description", "time_of_day", "is_active"}).
		AddRow("rem-1", "Walk", "Evening walk", "18:00", true)
	mock.ExpectQuery("SELECT (.+) FROM reminders").
		WithArgs("patient-1").
		WillReturnRows(rows)

	rems, err := repo.GetActiveReminders(context.Background(), "patient-1")
	require.NoError(t, err)
	require.Len(t, rems, 1)
	assert.Equal(t, "18:00", rems[0].TimeOfDay)
	assert.True(t, rems[0].IsActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_GetUpcomingLabBookings(t *testing.T) {
	repo, mock := setupTestRepository(t)
	testDate := time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "test_type", "lab_name", "test_date", "status"}).
		AddRow("lab-1", "Lipid panel", "City Diagnostics", testDate, "confirmed")
	mock.ExpectQuery("SELECT (.+) FROM lab_bookings").
		WithArgs("patient-1", "2024-03-10").
		WillReturnRows(rows)

	labs, err := repo.GetUpcomingLabBookings(context.Background(), "patient-1", plannerNow)
	require.NoError(t, err)
	require.Len(t, labs, 1)
	assert.Equal(t, testDate, labs[0].TestDate)
	assert.True(t, labs[0].IsActive())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_ScanError(t *testing.T) {
	repo, mock := setupTestRepository(t)

	rows := sqlmock.NewRows([]string{"id", "drug_name"}).AddRow("rx-1", "Metformin")
	mock.ExpectQuery("SELECT (.+) FROM prescriptions").WillReturnRows(rows)

	_, err := repo.GetActivePrescriptions(context.Background(), "patient-1")
	assert.Error(t, err)
}
