package reminders

import (
	"context"
	"errors"
	"sync"

	"github.com/medrex/healthon/pkg/interfaces"
	"github.com/medrex/healthon/pkg/types"
)

const permissionComponent = "permission"

// PermissionManager owns the notification permission lifecycle. All scheduling
// is gated on Granted. Host permission failures never reach the caller.
type PermissionManager struct {
	host     types.HostKind
	prompter interfaces.PermissionPrompter
	store    interfaces.PermissionStore
	deps     Dependencies

	// promptMu serialises prompts so a web host never shows two dialogs
	promptMu sync.Mutex

	mu     sync.Mutex
	state  types.PermissionState
	loaded bool
}

// NewPermissionManager creates a permission manager. prompter may be nil when
// the host has no notification capability at all.
func NewPermissionManager(
	host types.HostKind,
	prompter interfaces.PermissionPrompter,
	store interfaces.PermissionStore,
	deps Dependencies,
) *PermissionManager {
	return &PermissionManager{
		host:     host,
		prompter: prompter,
		store:    store,
		deps:     deps.withDefaults(),
		state:    types.PermissionState{Status: types.PermissionUnrequested},
	}
}

// State returns the current permission state, loading it from the store on first use
func (m *PermissionManager) State(ctx context.Context) types.PermissionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadLocked(ctx)
	return m.state
}

// Granted reports whether scheduling is allowed
func (m *PermissionManager) Granted(ctx context.Context) bool {
	return m.State(ctx).Status == types.PermissionGranted
}

// ShouldPrompt reports whether the UI should offer the permission prompt
func (m *PermissionManager) ShouldPrompt(ctx context.Context) bool {
	st := m.State(ctx)
	return st.Status == types.PermissionUnrequested && !st.UserDismissedPrompt
}

// Dismiss remembers that the user dismissed the prompt. The status is unchanged.
func (m *PermissionManager) Dismiss(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadLocked(ctx)
	m.state.UserDismissedPrompt = true
	m.saveLocked(ctx)
}

// RequestPermission asks the host for notification permission and reports
// whether the status is now granted.
//
// A web host shows its dialog at most once, while the status is unrequested.
// A native host always shows its dialog.
func (m *PermissionManager) RequestPermission(ctx context.Context) bool {
	m.promptMu.Lock()
	defer m.promptMu.Unlock()

	current := m.State(ctx)
	if m.host == types.WebHost && current.Status != types.PermissionUnrequested {
		return current.Status == types.PermissionGranted
	}

	if m.prompter == nil {
		m.suppress(types.ErrPermissionUnavailable)
		return false
	}

	granted, err := m.prompter.RequestPermission(ctx)
	status := types.PermissionDenied
	switch {
	case errors.Is(err, types.ErrPermissionUnavailable) || types.IsType(err, types.ErrorTypePermissionUnavailable):
		// nothing was asked, so the status stays as it was
		m.suppress(err)
		return false
	case err != nil:
		m.suppress(types.NewPermissionDeniedError("host permission request failed", err))
	case granted:
		status = types.PermissionGranted
	}

	m.mu.Lock()
	m.state.Status = status
	m.saveLocked(ctx)
	m.mu.Unlock()

	m.deps.Logger.WithComponent(permissionComponent).
		WithField("host", m.host).
		WithField("status", status).
		Info("Notification permission resolved")

	return status == types.PermissionGranted
}

func (m *PermissionManager) loadLocked(ctx context.Context) {
	if m.loaded || m.store == nil {
		return
	}
	st, err := m.store.LoadPermission(ctx)
	if err != nil {
		// keep the in-memory state and retry on the next call
		m.suppress(types.NewInternalError(types.ErrCodeInternalError, "failed to load permission state", err))
		return
	}
	if st.Status == "" {
		st.Status = types.PermissionUnrequested
	}
	m.state = st
	m.loaded = true
	m.deps.Metrics.SetPermissionStatus(string(st.Status))
}

func (m *PermissionManager) saveLocked(ctx context.Context) {
	m.state.UpdatedAt = m.deps.Now()
	m.deps.Metrics.SetPermissionStatus(string(m.state.Status))
	if m.store == nil {
		return
	}
	if err := m.store.SavePermission(ctx, m.state); err != nil {
		m.suppress(types.NewInternalError(types.ErrCodeInternalError, "failed to persist permission state", err))
	}
}

func (m *PermissionManager) suppress(err error) {
	m.deps.suppress(permissionComponent, err, map[string]interface{}{"host": string(m.host)})
}
