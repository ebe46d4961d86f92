// Package host manages the lifecycle of loaded plugins: a per-plugin state
// machine, execution routing through the sandbox, permission authorization
// against both the declared manifest and the operator policy, and audit
// recording for every outcome.
package host

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/dshills/warden/internal/audit"
	"github.com/dshills/warden/internal/manifest"
	"github.com/dshills/warden/internal/policy"
	"github.com/dshills/warden/internal/sandbox"
)

// LoadedPlugin pairs a manifest with its runtime instance and state.
type LoadedPlugin struct {
	Manifest *manifest.Manifest
	Instance Instance
	State    State
	LoadedAt time.Time
	Sandbox  *sandbox.Context
}

// EventType is the type of host event.
type EventType int

const (
	// EventLoaded is emitted when a plugin is loaded.
	EventLoaded EventType = iota
	// EventUnloaded is emitted when a plugin is unloaded.
	EventUnloaded
	// EventEnabled is emitted when a plugin is enabled.
	EventEnabled
	// EventDisabled is emitted when a plugin is disabled.
	EventDisabled
	// EventFaulted is emitted when an execution panic faults a plugin.
	EventFaulted
)

// String returns a string representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventLoaded:
		return "loaded"
	case EventUnloaded:
		return "unloaded"
	case EventEnabled:
		return "enabled"
	case EventDisabled:
		return "disabled"
	case EventFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Event is raised for plugin lifecycle changes.
type Event struct {
	Type     EventType
	PluginID string
	Error    error
}

// EventHandler handles host events. Handlers run outside locks, must be
// non-blocking, and panics in handlers are recovered.
type EventHandler func(event Event)

// Host is the top-level lifecycle manager. The audit log, policy store, and
// sandbox factory are injected at construction so tests can run isolated
// copies; none of them is process-wide state.
type Host struct {
	mu sync.RWMutex

	plugins   map[string]*LoadedPlugin
	loadOrder []string

	validator *manifest.Validator
	auditLog  *audit.Log
	policies  *policy.Store
	sandboxes *sandbox.Factory

	eventHandlers []EventHandler
}

// New creates a host wired to the given audit log, policy store, and
// sandbox factory.
func New(auditLog *audit.Log, policies *policy.Store, sandboxes *sandbox.Factory) *Host {
	return &Host{
		plugins:   make(map[string]*LoadedPlugin),
		validator: manifest.NewValidator(),
		auditLog:  auditLog,
		policies:  policies,
		sandboxes: sandboxes,
	}
}

// AuditLog returns the injected audit log.
func (h *Host) AuditLog() *audit.Log { return h.auditLog }

// Policies returns the injected policy store.
func (h *Host) Policies() *policy.Store { return h.policies }

// Load validates the manifest, builds a sandbox context, initializes the
// instance, and enables the plugin. Fails on an invalid manifest or a
// duplicate id.
func (h *Host) Load(m *manifest.Manifest, inst Instance) error {
	if m == nil {
		return ErrNilManifest
	}
	if inst == nil {
		return ErrNilInstance
	}

	res := h.validator.Validate(m)
	if !res.Valid {
		return fmt.Errorf("%w: %s", ErrInvalidManifest, res.Errors[0])
	}

	h.mu.Lock()
	if _, exists := h.plugins[m.ID]; exists {
		h.mu.Unlock()
		return fmt.Errorf("plugin %q: %w", m.ID, ErrAlreadyLoaded)
	}
	h.mu.Unlock()

	sb := h.sandboxes.NewContext(m)

	// Initialize outside the lock; it is plugin code.
	if err := inst.Initialize(sb); err != nil {
		return fmt.Errorf("plugin %q failed to initialize: %w", m.ID, err)
	}

	h.mu.Lock()
	// Double-check: another goroutine may have loaded the same id.
	if _, exists := h.plugins[m.ID]; exists {
		h.mu.Unlock()
		return fmt.Errorf("plugin %q: %w", m.ID, ErrAlreadyLoaded)
	}
	h.plugins[m.ID] = &LoadedPlugin{
		Manifest: m.Clone(),
		Instance: inst,
		State:    StateEnabled,
		LoadedAt: time.Now(),
		Sandbox:  sb,
	}
	h.loadOrder = append(h.loadOrder, m.ID)
	h.mu.Unlock()

	h.auditLog.Record(audit.Entry{
		PluginID: m.ID,
		Type:     audit.EventLoaded,
		Success:  true,
		Details:  fmt.Sprintf("version %s, risk %s", m.Version, m.RiskLevel),
	})
	log.Debug("plugin loaded", "plugin", m.ID, "version", m.Version, "risk", m.RiskLevel.String())
	h.emitEvent(Event{Type: EventLoaded, PluginID: m.ID})
	return nil
}

// Unload removes a plugin and drops its sandbox state. Returns false if
// the id is not loaded.
func (h *Host) Unload(id string) bool {
	h.mu.Lock()
	p, exists := h.plugins[id]
	if !exists {
		h.mu.Unlock()
		return false
	}
	p.State = StateUnloaded
	delete(h.plugins, id)
	h.removeFromLoadOrder(id)
	h.mu.Unlock()

	h.sandboxes.DropPlugin(id)

	h.auditLog.Record(audit.Entry{PluginID: id, Type: audit.EventUnloaded, Success: true})
	log.Debug("plugin unloaded", "plugin", id)
	h.emitEvent(Event{Type: EventUnloaded, PluginID: id})
	return true
}

// Enable moves a Disabled or Faulted plugin back to Enabled. Enabling a
// faulted plugin is the explicit recovery path.
func (h *Host) Enable(id string) error {
	if err := h.transition(id, StateEnabled, StateDisabled, StateFaulted); err != nil {
		return err
	}

	h.auditLog.Record(audit.Entry{PluginID: id, Type: audit.EventEnabled, Success: true})
	h.emitEvent(Event{Type: EventEnabled, PluginID: id})
	return nil
}

// Disable moves an Enabled plugin to Disabled without unloading it.
func (h *Host) Disable(id string) error {
	if err := h.transition(id, StateDisabled, StateEnabled); err != nil {
		return err
	}

	h.auditLog.Record(audit.Entry{PluginID: id, Type: audit.EventDisabled, Success: true})
	h.emitEvent(Event{Type: EventDisabled, PluginID: id})
	return nil
}

// DisableAll disables every loaded plugin without unloading - the global
// emergency stop.
func (h *Host) DisableAll() {
	h.mu.Lock()
	var disabled []string
	for id, p := range h.plugins {
		if p.State == StateEnabled {
			p.State = StateDisabled
			disabled = append(disabled, id)
		}
	}
	h.mu.Unlock()

	for _, id := range disabled {
		h.auditLog.Record(audit.Entry{PluginID: id, Type: audit.EventDisabled, Success: true, Details: "disable all"})
		h.emitEvent(Event{Type: EventDisabled, PluginID: id})
	}
	log.Warn("all plugins disabled", "count", len(disabled))
}

// transition atomically moves a plugin from one of the allowed states to
// the target state.
func (h *Host) transition(id string, to State, from ...State) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, exists := h.plugins[id]
	if !exists {
		return fmt.Errorf("plugin %q: %w", id, ErrPluginNotFound)
	}
	for _, f := range from {
		if p.State == f {
			p.State = to
			return nil
		}
	}
	return fmt.Errorf("plugin %q is %s: %w", id, p.State, ErrWrongState)
}

// Execute routes one action through a loaded, enabled plugin. Lifecycle
// failures (not loaded, not enabled) return an error without invoking the
// plugin; plugin failures and panics are converted to a failed Result and
// never escape. A panic additionally faults the plugin.
func (h *Host) Execute(ctx context.Context, id, actionID string, params map[string]any) (*Result, error) {
	h.mu.RLock()
	p, exists := h.plugins[id]
	var (
		inst  Instance
		sb    *sandbox.Context
		state State
	)
	if exists {
		inst, sb, state = p.Instance, p.Sandbox, p.State
	}
	h.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("plugin %q: %w", id, ErrPluginNotFound)
	}
	if !state.IsExecutable() {
		return nil, fmt.Errorf("plugin %q is %s: %w", id, state, ErrPluginDisabled)
	}

	execID := uuid.NewString()
	h.auditLog.Record(audit.Entry{
		PluginID:    id,
		Type:        audit.EventActionStarted,
		ActionID:    actionID,
		ExecutionID: execID,
		Success:     true,
	})

	start := time.Now()
	result, err := h.invoke(ctx, inst, actionID, params, sb)
	duration := time.Since(start)

	if err != nil {
		// A panic surfaced from invoke: fault the plugin.
		h.mu.Lock()
		if cur, ok := h.plugins[id]; ok && cur.State == StateEnabled {
			cur.State = StateFaulted
		}
		h.mu.Unlock()

		h.auditLog.Record(audit.Entry{
			PluginID:    id,
			Type:        audit.EventActionFailed,
			ActionID:    actionID,
			ExecutionID: execID,
			Duration:    duration,
			Details:     err.Error(),
		})
		log.Error("plugin execution panicked", "plugin", id, "action", actionID, "error", err)
		h.emitEvent(Event{Type: EventFaulted, PluginID: id, Error: err})
		return &Result{Success: false, Error: err.Error()}, nil
	}

	if result.Success {
		h.auditLog.Record(audit.Entry{
			PluginID:    id,
			Type:        audit.EventActionCompleted,
			ActionID:    actionID,
			ExecutionID: execID,
			Success:     true,
			Duration:    duration,
		})
	} else {
		h.auditLog.Record(audit.Entry{
			PluginID:    id,
			Type:        audit.EventActionFailed,
			ActionID:    actionID,
			ExecutionID: execID,
			Duration:    duration,
			Details:     result.Error,
		})
	}
	return result, nil
}

// invoke calls plugin code with panic containment. A recovered panic is
// returned as an error; an instance error becomes a failed Result.
func (h *Host) invoke(ctx context.Context, inst Instance, actionID string, params map[string]any, sb *sandbox.Context) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("plugin panicked: %v", r)
		}
	}()

	res, execErr := inst.Execute(ctx, actionID, params, sb)
	if execErr != nil {
		return &Result{Success: false, Error: execErr.Error()}, nil
	}
	if res == nil {
		return &Result{Success: false, Error: "plugin returned no result"}, nil
	}
	return res, nil
}

// Authorize runs both permission gates for a prospective resource access:
// the sandbox's structural check against the declared manifest, then the
// operator policy. Every decision is recorded to the audit log. The caller
// is expected to run the consent flow when the check is unconfigured.
func (h *Host) Authorize(id string, t manifest.PermissionType, a manifest.Access, scope string) policy.Check {
	h.mu.RLock()
	p, exists := h.plugins[id]
	h.mu.RUnlock()

	resource := fmt.Sprintf("%s:%s:%s", t, a, scope)

	if !exists || !p.Sandbox.HasPermission(t, a, scope) {
		h.auditLog.Record(audit.Entry{
			PluginID: id,
			Type:     audit.EventResourceDenied,
			Resource: resource,
			Details:  "permission not declared in manifest",
		})
		return policy.Check{
			IsConfigured: true,
			DenialReason: fmt.Sprintf("plugin %q does not declare %s %s access to %q", id, t, a, scope),
		}
	}

	check := h.policies.CheckPermission(id, t, a, scope)
	switch {
	case check.IsConfigured && check.IsAllowed:
		h.auditLog.Record(audit.Entry{
			PluginID: id,
			Type:     audit.EventResourceAccessed,
			Resource: resource,
			Success:  true,
		})
	case check.IsConfigured && !check.RequiresOperatorConsent:
		h.auditLog.Record(audit.Entry{
			PluginID: id,
			Type:     audit.EventPermissionDenied,
			Resource: resource,
			Details:  check.DenialReason,
		})
	}
	return check
}

// RequestConsent runs the operator consent flow for an unconfigured
// permission check, recording the request and its outcome to the audit log.
// Cancellation resolves to not granted, which is audited as a denial.
func (h *Host) RequestConsent(ctx context.Context, req policy.Request) policy.Outcome {
	resource := fmt.Sprintf("%s:%s:%s", req.Type, req.Access, req.Scope)

	h.auditLog.Record(audit.Entry{
		PluginID: req.PluginID,
		Type:     audit.EventConsentRequested,
		Resource: resource,
		Success:  true,
		Details:  req.Reason,
	})

	outcome := h.policies.RequestConsent(ctx, req)

	details := "denied"
	if outcome.Granted {
		details = "granted"
	}
	if outcome.Remembered {
		details += ", remembered"
	}
	h.auditLog.Record(audit.Entry{
		PluginID: req.PluginID,
		Type:     audit.EventConsentResolved,
		Resource: resource,
		Success:  outcome.Granted,
		Details:  details,
	})
	return outcome
}

// Get returns a snapshot of a loaded plugin.
func (h *Host) Get(id string) (LoadedPlugin, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	p, exists := h.plugins[id]
	if !exists {
		return LoadedPlugin{}, false
	}
	return *p, true
}

// State returns the state of a plugin, or StateUnloaded when absent.
func (h *Host) State(id string) State {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if p, exists := h.plugins[id]; exists {
		return p.State
	}
	return StateUnloaded
}

// List returns snapshots of all loaded plugins in load order.
func (h *Host) List() []LoadedPlugin {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]LoadedPlugin, 0, len(h.loadOrder))
	for _, id := range h.loadOrder {
		if p, exists := h.plugins[id]; exists {
			out = append(out, *p)
		}
	}
	return out
}

// Count returns the number of loaded plugins.
func (h *Host) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.plugins)
}

// Subscribe adds an event handler and returns an unsubscribe function.
func (h *Host) Subscribe(handler EventHandler) func() {
	if handler == nil {
		return func() {}
	}

	h.mu.Lock()
	h.eventHandlers = append(h.eventHandlers, handler)
	index := len(h.eventHandlers) - 1
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		// Nil out instead of removing to avoid index shifting.
		if index < len(h.eventHandlers) {
			h.eventHandlers[index] = nil
		}
	}
}

// emitEvent sends an event to all handlers outside locks, recovering
// handler panics.
func (h *Host) emitEvent(event Event) {
	h.mu.RLock()
	handlers := make([]EventHandler, len(h.eventHandlers))
	copy(handlers, h.eventHandlers)
	h.mu.RUnlock()

	for _, handler := range handlers {
		if handler == nil {
			continue
		}
		func() {
			defer func() { recover() }()
			handler(event)
		}()
	}
}

// removeFromLoadOrder removes an id from the load order slice.
// Must be called with mu held.
func (h *Host) removeFromLoadOrder(id string) {
	for i, n := range h.loadOrder {
		if n == id {
			h.loadOrder = append(h.loadOrder[:i], h.loadOrder[i+1:]...)
			return
		}
	}
}
