package reminders

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"

	"github.com/medrex/healthon/pkg/config"
	"github.com/medrex/healthon/pkg/interfaces"
	"github.com/medrex/healthon/pkg/monitoring"
	"github.com/medrex/healthon/pkg/types"
)

const serviceComponent = "service"

// ToastDrainer hands queued in-app toasts to the UI
type ToastDrainer interface {
	Drain() []interfaces.DisplayMessage
}

// Components are the wired parts of the reminder engine
type Components struct {
	Permission   *PermissionManager
	Backend      NotificationBackend
	Synchronizer *Synchronizer
	Proximity    *ProximityEngine
	Repository   interfaces.ReminderRepository
	Tokens       interfaces.DeviceTokenRegistry
	Toasts       ToastDrainer
	// InApp shows proximity alerts while notifications are not granted
	InApp interfaces.DisplaySurface
	// Socket serves the page websocket on a web host; nil on a native host
	Socket http.Handler
	Health *monitoring.HealthManager
}

// PermissionView is the permission state as the UI sees it
type PermissionView struct {
	types.PermissionState
	ShouldPrompt bool `json:"should_prompt"`
}

// Service is the facade the UI layer talks to. None of its operations fail
// towards the caller; failures are logged and counted.
type Service struct {
	config     *config.Config
	components Components
	deps       Dependencies
	server     *http.Server
	poller     *cron.Cron
}

// NewService creates the reminder service
func NewService(cfg *config.Config, components Components, deps Dependencies) *Service {
	return &Service{
		config:     cfg,
		components: components,
		deps:       deps.withDefaults(),
	}
}

// HostKind returns the backend family selected at startup
func (s *Service) HostKind() types.HostKind {
	return s.components.Backend.Kind()
}

// RequestPermission shows the host permission dialog when allowed and reports whether notifications are granted
func (s *Service) RequestPermission(ctx context.Context) bool {
	return s.components.Permission.RequestPermission(ctx)
}

// Permission returns the current permission state
func (s *Service) Permission(ctx context.Context) PermissionView {
	p := s.components.Permission
	return PermissionView{
		PermissionState: p.State(ctx),
		ShouldPrompt:    p.ShouldPrompt(ctx),
	}
}

// DismissPrompt records that the user dismissed the permission prompt
func (s *Service) DismissPrompt(ctx context.Context) PermissionView {
	s.components.Permission.Dismiss(ctx)
	return s.Permission(ctx)
}

// Sync brings the scheduled notifications of patientID in line with the record store
func (s *Service) Sync(ctx context.Context, patientID string) *types.SyncReport {
	return s.components.Synchronizer.Sync(ctx, patientID)
}

// EvaluateProximity returns the proximity alerts that newly fired at now
func (s *Service) EvaluateProximity(ctx context.Context, appointments []types.AppointmentSource, now time.Time) []types.Alert {
	alerts := s.components.Proximity.Evaluate(ctx, appointments, now)
	if alerts == nil {
		alerts = []types.Alert{}
	}
	return alerts
}

// RegisterDeviceToken stores the push token of the current device or browser
func (s *Service) RegisterDeviceToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return types.NewValidationError(types.ErrCodeInvalidInput, "device token is required", nil)
	}
	if s.components.Tokens == nil {
		return types.NewValidationError(types.ErrCodeInvalidInput, "this host does not accept device tokens", nil)
	}
	if err := s.components.Tokens.SetToken(ctx, token); err != nil {
		return types.NewBackendUnreachableError("failed to store device token", 0, err)
	}
	s.deps.Logger.WithComponent(serviceComponent).Info("Device token registered")
	return nil
}

// Toasts drains the in-app toast inbox
func (s *Service) Toasts() []interfaces.DisplayMessage {
	if s.components.Toasts == nil {
		return []interfaces.DisplayMessage{}
	}
	return s.components.Toasts.Drain()
}

// Poll runs one in-session proximity check for the configured patient and
// displays every newly fired alert through the backend.
func (s *Service) Poll(ctx context.Context) []types.Alert {
	patientID := s.config.Reminders.PatientID
	if patientID == "" || s.components.Repository == nil {
		return nil
	}

	now := s.deps.Now()
	appointments, err := s.components.Repository.GetUpcomingAppointments(ctx, patientID, now)
	if err != nil {
		s.deps.suppress(serviceComponent, types.NewSourceReadError(types.SourceAppointment, patientID, err),
			map[string]interface{}{"patient_id": patientID})
		return nil
	}

	alerts := s.components.Proximity.Evaluate(ctx, appointments, now)
	if len(alerts) == 0 {
		return nil
	}

	granted := s.components.Permission.Granted(ctx)
	for _, a := range alerts {
		extras := types.NotificationExtras{URL: a.Action}
		var err error
		switch {
		case granted:
			err = s.components.Backend.DisplayNow(ctx, a.Title, a.Body, extras)
		case s.components.InApp != nil:
			err = s.components.InApp.Show(ctx, interfaces.DisplayMessage{Title: a.Title, Body: a.Body, Extras: extras})
		}
		if err != nil {
			s.deps.suppress(serviceComponent, err, map[string]interface{}{
				"appointment_id": a.AppointmentID,
				"band":           string(a.Band),
			})
		}
	}
	return alerts
}

// Router builds the HTTP routes of the service
func (s *Service) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(monitoring.NewMonitoringMiddleware(s.deps.Metrics, s.deps.Logger).HTTPMiddleware)
	s.setupRoutes(router)
	return router
}

// Start runs the startup sync, the proximity poll and the HTTP server. It blocks until the server stops.
func (s *Service) Start(ctx context.Context) error {
	if patientID := s.config.Reminders.PatientID; patientID != "" {
		report := s.Sync(ctx, patientID)
		s.deps.Logger.WithComponent(serviceComponent).
			WithField("patient_id", patientID).
			WithField("scheduled", len(report.Scheduled)).
			WithField("skipped", report.Skipped).
			Info("Startup sync finished")
	}

	if err := s.startPoller(); err != nil {
		return err
	}

	s.server = &http.Server{
		Addr:         s.config.Server.Addr(),
		Handler:      s.Router(),
		ReadTimeout:  time.Duration(s.config.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(s.config.Server.IdleTimeout) * time.Second,
	}

	s.deps.Logger.WithComponent(serviceComponent).
		WithField("addr", s.server.Addr).
		WithField("host", s.HostKind()).
		Info("Starting reminder agent")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("reminder agent server failed: %w", err)
	}
	return nil
}

// Stop ends the session: the poll stops, the proximity session set is
// discarded and in-process timers die. Backend-scheduled native alerts stay.
func (s *Service) Stop(ctx context.Context) error {
	s.deps.Logger.WithComponent(serviceComponent).Info("Stopping reminder agent")

	if s.poller != nil {
		<-s.poller.Stop().Done()
	}
	s.components.Proximity.Reset()
	if web, ok := s.components.Backend.(*WebScheduler); ok {
		web.Stop()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Service) startPoller() error {
	if s.config.Reminders.PatientID == "" {
		return nil
	}

	s.poller = cron.New(cron.WithChain(
		cron.Recover(cron.DefaultLogger),
		cron.SkipIfStillRunning(cron.DefaultLogger),
	))
	spec := "@every " + s.config.Reminders.PollInterval.String()
	if _, err := s.poller.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.Reminders.PollInterval)
		defer cancel()
		s.Poll(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule proximity poll: %w", err)
	}
	s.poller.Start()
	return nil
}
