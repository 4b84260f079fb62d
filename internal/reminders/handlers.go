package reminders

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/medrex/healthon/pkg/types"
)

// setupRoutes configures HTTP routes for the reminder agent
func (s *Service) setupRoutes(router *mux.Router) {
	monitoringCfg := s.config.Monitoring

	if s.components.Health != nil {
		router.HandleFunc(monitoringCfg.HealthPath, s.components.Health.HTTPHandler()).Methods("GET")
	}
	if monitoringCfg.Enabled {
		router.Handle(monitoringCfg.MetricsPath, s.deps.Metrics.Handler()).Methods("GET")
	}

	api := router.PathPrefix("/api/v1").Subrouter()

	// Permission routes
	api.HandleFunc("/permission", s.getPermissionHandler).Methods("GET")
	api.HandleFunc("/permission/request", s.requestPermissionHandler).Methods("POST")
	api.HandleFunc("/permission/dismiss", s.dismissPromptHandler).Methods("POST")

	// Scheduling routes
	api.HandleFunc("/patients/{patientId}/sync", s.syncHandler).Methods("POST")
	api.HandleFunc("/proximity", s.proximityHandler).Methods("POST")

	// Delivery routes
	api.HandleFunc("/toasts", s.toastsHandler).Methods("GET")
	api.HandleFunc("/device-token", s.deviceTokenHandler).Methods("POST")
	if s.components.Socket != nil {
		api.Handle("/ws", s.components.Socket).Methods("GET")
	}

	s.deps.Logger.WithComponent(serviceComponent).Info("Reminder agent routes configured")
}

// getPermissionHandler returns the permission state and whether to show the prompt
func (s *Service) getPermissionHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSONResponse(w, http.StatusOK, s.Permission(r.Context()))
}

// requestPermissionHandler runs the host permission dialog
func (s *Service) requestPermissionHandler(w http.ResponseWriter, r *http.Request) {
	granted := s.RequestPermission(r.Context())
	view := s.Permission(r.Context())

	s.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"granted":    granted,
		"permission": view,
	})
}

// dismissPromptHandler records a dismissed permission prompt
func (s *Service) dismissPromptHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSONResponse(w, http.StatusOK, s.DismissPrompt(r.Context()))
}

// syncHandler runs a synchronizer pass for the patient
func (s *Service) syncHandler(w http.ResponseWriter, r *http.Request) {
	patientID := strings.TrimSpace(mux.Vars(r)["patientId"])
	if patientID == "" {
		s.writeErrorResponse(w, http.StatusBadRequest, "Patient ID is required", nil)
		return
	}

	s.writeJSONResponse(w, http.StatusOK, s.Sync(r.Context(), patientID))
}

// proximityRequest is the body of a proximity evaluation. Now defaults to the server clock.
type proximityRequest struct {
	Appointments []types.AppointmentSource `json:"appointments"`
	Now          *time.Time                `json:"now,omitempty"`
}

// proximityHandler evaluates proximity bands for the given appointments
func (s *Service) proximityHandler(w http.ResponseWriter, r *http.Request) {
	var req proximityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	now := s.deps.Now()
	if req.Now != nil {
		now = *req.Now
	}

	s.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"alerts": s.EvaluateProximity(r.Context(), req.Appointments, now),
	})
}

// toastsHandler drains queued in-app toasts
func (s *Service) toastsHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"toasts": s.Toasts(),
	})
}

// deviceTokenHandler registers the push token of the device or browser
func (s *Service) deviceTokenHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := s.RegisterDeviceToken(r.Context(), req.Token); err != nil {
		if types.IsType(err, types.ErrorTypeValidation) {
			s.writeErrorResponse(w, http.StatusBadRequest, "Invalid device token", err)
			return
		}
		s.writeErrorResponse(w, http.StatusServiceUnavailable, "Device token could not be stored", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeJSONResponse writes a JSON response
func (s *Service) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.deps.Logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (s *Service) writeErrorResponse(w http.ResponseWriter, statusCode int, message string, err error) {
	entry := s.deps.Logger.WithComponent(serviceComponent).WithField("status", statusCode)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Warn(message)

	response := map[string]interface{}{
		"error":  message,
		"status": statusCode,
	}
	if err != nil {
		response["details"] = err.Error()
	}

	s.writeJSONResponse(w, statusCode, response)
}
