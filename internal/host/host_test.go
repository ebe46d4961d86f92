package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/dshills/warden/internal/audit"
	"github.com/dshills/warden/internal/manifest"
	"github.com/dshills/warden/internal/policy"
	"github.com/dshills/warden/internal/sandbox"
)

// spyInstance counts executions and can be configured to fail or panic.
type spyInstance struct {
	mu          sync.Mutex
	initCalls   int
	execCalls   int
	initErr     error
	execErr     error
	panicOnExec bool
	output      any
}

func (s *spyInstance) Initialize(sb *sandbox.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initCalls++
	return s.initErr
}

func (s *spyInstance) Execute(ctx context.Context, actionID string, params map[string]any, sb *sandbox.Context) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execCalls++
	if s.panicOnExec {
		panic("spy panic")
	}
	if s.execErr != nil {
		return nil, s.execErr
	}
	return &Result{Success: true, Output: s.output}, nil
}

func (s *spyInstance) Capabilities() []manifest.Capability { return nil }

func (s *spyInstance) executions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.execCalls
}

func greeterManifest() *manifest.Manifest {
	return &manifest.Manifest{
		ID:        "com.example.greeter",
		Version:   "1.0.0",
		Name:      "Greeter",
		Author:    "Example",
		RiskLevel: manifest.RiskReadOnly,
		Capabilities: []manifest.Capability{
			{ToolID: "greet", Name: "Greet", Description: "Say hello"},
		},
	}
}

func newTestHost(t *testing.T) (*Host, *audit.Log) {
	t.Helper()
	auditLog := audit.NewLog(100)
	policies, err := policy.NewStore("")
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return New(auditLog, policies, sandbox.NewFactory(nil)), auditLog
}

func TestLoadAndExecuteGreeter(t *testing.T) {
	h, auditLog := newTestHost(t)
	spy := &spyInstance{output: "hello"}

	if err := h.Load(greeterManifest(), spy); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if spy.initCalls != 1 {
		t.Errorf("expected 1 Initialize call, got %d", spy.initCalls)
	}
	if got := h.State("com.example.greeter"); got != StateEnabled {
		t.Errorf("expected state %s, got %s", StateEnabled, got)
	}

	res, err := h.Execute(context.Background(), "com.example.greeter", "greet", nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	if res.Output != "hello" {
		t.Errorf("expected output %q, got %v", "hello", res.Output)
	}

	completed := auditLog.ByType(audit.EventActionCompleted)
	if len(completed) != 1 {
		t.Fatalf("expected 1 action_completed entry, got %d", len(completed))
	}
	e := completed[0]
	if !e.Success || e.PluginID != "com.example.greeter" || e.ActionID != "greet" {
		t.Errorf("unexpected audit entry: %+v", e)
	}
	if e.ExecutionID == "" {
		t.Error("expected a non-empty execution id")
	}
	started := auditLog.ByType(audit.EventActionStarted)
	if len(started) != 1 || started[0].ExecutionID != e.ExecutionID {
		t.Error("expected a matching action_started entry")
	}
}

func TestLoadRejectsInvalidManifest(t *testing.T) {
	h, _ := newTestHost(t)

	m := greeterManifest()
	m.Version = "not-semver"
	err := h.Load(m, &spyInstance{})
	if !errors.Is(err, ErrInvalidManifest) {
		t.Fatalf("expected ErrInvalidManifest, got %v", err)
	}
	if h.Count() != 0 {
		t.Errorf("expected no plugins loaded, got %d", h.Count())
	}
}

func TestLoadRejectsDuplicate(t *testing.T) {
	h, _ := newTestHost(t)

	if err := h.Load(greeterManifest(), &spyInstance{}); err != nil {
		t.Fatalf("first Load failed: %v", err)
	}
	err := h.Load(greeterManifest(), &spyInstance{})
	if !errors.Is(err, ErrAlreadyLoaded) {
		t.Fatalf("expected ErrAlreadyLoaded, got %v", err)
	}
}

func TestLoadInitializeFailure(t *testing.T) {
	h, _ := newTestHost(t)

	spy := &spyInstance{initErr: errors.New("no workspace")}
	if err := h.Load(greeterManifest(), spy); err == nil {
		t.Fatal("expected Load to fail when Initialize fails")
	}
	if h.Count() != 0 {
		t.Errorf("expected no plugins loaded, got %d", h.Count())
	}
}

func TestExecuteDisabledNeverInvokes(t *testing.T) {
	h, _ := newTestHost(t)
	spy := &spyInstance{}

	if err := h.Load(greeterManifest(), spy); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := h.Disable("com.example.greeter"); err != nil {
		t.Fatalf("Disable failed: %v", err)
	}

	_, err := h.Execute(context.Background(), "com.example.greeter", "greet", nil)
	if !errors.Is(err, ErrPluginDisabled) {
		t.Fatalf("expected ErrPluginDisabled, got %v", err)
	}
	if spy.executions() != 0 {
		t.Errorf("expected zero executions, got %d", spy.executions())
	}
}

func TestExecuteUnloadedNeverInvokes(t *testing.T) {
	h, _ := newTestHost(t)
	spy := &spyInstance{}

	if err := h.Load(greeterManifest(), spy); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !h.Unload("com.example.greeter") {
		t.Fatal("Unload returned false")
	}

	_, err := h.Execute(context.Background(), "com.example.greeter", "greet", nil)
	if !errors.Is(err, ErrPluginNotFound) {
		t.Fatalf("expected ErrPluginNotFound, got %v", err)
	}
	if spy.executions() != 0 {
		t.Errorf("expected zero executions, got %d", spy.executions())
	}
}

func TestExecuteInstanceErrorBecomesFailedResult(t *testing.T) {
	h, auditLog := newTestHost(t)
	spy := &spyInstance{execErr: errors.New("boom")}

	if err := h.Load(greeterManifest(), spy); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	res, err := h.Execute(context.Background(), "com.example.greeter", "greet", nil)
	if err != nil {
		t.Fatalf("instance errors must not surface as host errors, got %v", err)
	}
	if res.Success || res.Error != "boom" {
		t.Fatalf("expected failed result with error, got %+v", res)
	}
	// An ordinary failure does not fault the plugin.
	if got := h.State("com.example.greeter"); got != StateEnabled {
		t.Errorf("expected state %s, got %s", StateEnabled, got)
	}
	if failed := auditLog.ByType(audit.EventActionFailed); len(failed) != 1 {
		t.Errorf("expected 1 action_failed entry, got %d", len(failed))
	}
}

func TestExecutePanicFaultsPlugin(t *testing.T) {
	h, auditLog := newTestHost(t)
	spy := &spyInstance{panicOnExec: true}

	if err := h.Load(greeterManifest(), spy); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	var faulted []Event
	h.Subscribe(func(e Event) {
		if e.Type == EventFaulted {
			faulted = append(faulted, e)
		}
	})

	res, err := h.Execute(context.Background(), "com.example.greeter", "greet", nil)
	if err != nil {
		t.Fatalf("panics must not surface as host errors, got %v", err)
	}
	if res.Success {
		t.Fatal("expected a failed result")
	}
	if got := h.State("com.example.greeter"); got != StateFaulted {
		t.Fatalf("expected state %s, got %s", StateFaulted, got)
	}
	if len(faulted) != 1 {
		t.Errorf("expected 1 faulted event, got %d", len(faulted))
	}
	if failed := auditLog.ByType(audit.EventActionFailed); len(failed) != 1 {
		t.Errorf("expected 1 action_failed entry, got %d", len(failed))
	}

	// Execution on a faulted plugin fails fast.
	_, err = h.Execute(context.Background(), "com.example.greeter", "greet", nil)
	if !errors.Is(err, ErrPluginDisabled) {
		t.Fatalf("expected ErrPluginDisabled on faulted plugin, got %v", err)
	}
}

func TestEnableRecoversFaultedPlugin(t *testing.T) {
	h, _ := newTestHost(t)
	spy := &spyInstance{panicOnExec: true}

	if err := h.Load(greeterManifest(), spy); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := h.Execute(context.Background(), "com.example.greeter", "greet", nil); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := h.State("com.example.greeter"); got != StateFaulted {
		t.Fatalf("expected state %s, got %s", StateFaulted, got)
	}

	if err := h.Enable("com.example.greeter"); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}

	spy.panicOnExec = false
	res, err := h.Execute(context.Background(), "com.example.greeter", "greet", nil)
	if err != nil {
		t.Fatalf("Execute after recovery failed: %v", err)
	}
	if !res.Success {
		t.Errorf("expected success after recovery, got %+v", res)
	}
}

func TestEnableWrongState(t *testing.T) {
	h, _ := newTestHost(t)

	if err := h.Load(greeterManifest(), &spyInstance{}); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	// Already enabled.
	if err := h.Enable("com.example.greeter"); !errors.Is(err, ErrWrongState) {
		t.Fatalf("expected ErrWrongState, got %v", err)
	}
	if err := h.Enable("ghost"); !errors.Is(err, ErrPluginNotFound) {
		t.Fatalf("expected ErrPluginNotFound, got %v", err)
	}
}

func TestDisableAll(t *testing.T) {
	h, _ := newTestHost(t)

	for i := 0; i < 3; i++ {
		m := greeterManifest()
		m.ID = fmt.Sprintf("com.example.p%d", i)
		if err := h.Load(m, &spyInstance{}); err != nil {
			t.Fatalf("Load failed: %v", err)
		}
	}

	h.DisableAll()

	for _, p := range h.List() {
		if p.State != StateDisabled {
			t.Errorf("plugin %s: expected %s, got %s", p.Manifest.ID, StateDisabled, p.State)
		}
	}
	if h.Count() != 3 {
		t.Errorf("DisableAll must not unload, got count %d", h.Count())
	}
}

func TestListPreservesLoadOrder(t *testing.T) {
	h, _ := newTestHost(t)

	ids := []string{"com.example.c", "com.example.a", "com.example.b"}
	for _, id := range ids {
		m := greeterManifest()
		m.ID = id
		if err := h.Load(m, &spyInstance{}); err != nil {
			t.Fatalf("Load failed: %v", err)
		}
	}

	list := h.List()
	if len(list) != len(ids) {
		t.Fatalf("expected %d plugins, got %d", len(ids), len(list))
	}
	for i, p := range list {
		if p.Manifest.ID != ids[i] {
			t.Errorf("position %d: expected %s, got %s", i, ids[i], p.Manifest.ID)
		}
	}
}

func TestAuthorizeUndeclaredPermission(t *testing.T) {
	h, auditLog := newTestHost(t)

	if err := h.Load(greeterManifest(), &spyInstance{}); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	check := h.Authorize("com.example.greeter", manifest.PermissionFile, manifest.AccessRead, "/tmp/notes")
	if !check.IsConfigured || check.IsAllowed {
		t.Fatalf("expected a configured denial, got %+v", check)
	}
	if denied := auditLog.ByType(audit.EventResourceDenied); len(denied) != 1 {
		t.Errorf("expected 1 resource_denied entry, got %d", len(denied))
	}
}

func TestAuthorizeDeclaredAndAllowedByPolicy(t *testing.T) {
	h, auditLog := newTestHost(t)

	m := greeterManifest()
	m.RiskLevel = manifest.RiskLocalMutation
	m.Permissions = []manifest.Permission{
		{Type: manifest.PermissionFile, Access: manifest.AccessRead, Scope: "/tmp/notes"},
	}
	if err := h.Load(m, &spyInstance{}); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	h.Policies().SetRule(m.ID, policy.Rule{
		Type:     manifest.PermissionFile,
		Access:   manifest.AccessRead,
		Scope:    "/tmp/notes",
		Decision: policy.DecisionAllow,
	})

	check := h.Authorize(m.ID, manifest.PermissionFile, manifest.AccessRead, "/tmp/notes/today.md")
	if !check.IsAllowed {
		t.Fatalf("expected an allow, got %+v", check)
	}
	if accessed := auditLog.ByType(audit.EventResourceAccessed); len(accessed) != 1 {
		t.Errorf("expected 1 resource_accessed entry, got %d", len(accessed))
	}
}

func TestAuthorizeUnconfiguredIsNotAudited(t *testing.T) {
	h, auditLog := newTestHost(t)

	m := greeterManifest()
	m.Permissions = []manifest.Permission{
		{Type: manifest.PermissionFile, Access: manifest.AccessRead, Scope: "/tmp/notes"},
	}
	if err := h.Load(m, &spyInstance{}); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	check := h.Authorize(m.ID, manifest.PermissionFile, manifest.AccessRead, "/tmp/notes")
	if check.IsConfigured {
		t.Fatalf("expected an unconfigured check, got %+v", check)
	}
	// The consent flow owns auditing for unconfigured checks.
	if denied := auditLog.ByType(audit.EventPermissionDenied); len(denied) != 0 {
		t.Errorf("expected no permission_denied entries, got %d", len(denied))
	}
}

func TestRequestConsentIsAudited(t *testing.T) {
	h, auditLog := newTestHost(t)

	h.Policies().OnConsentRequest(func(id string, req policy.Request) {
		go h.Policies().Resolve(id, policy.Resolution{Granted: true, Remember: true})
	})

	outcome := h.RequestConsent(context.Background(), policy.Request{
		PluginID: "com.example.greeter",
		Type:     manifest.PermissionFile,
		Access:   manifest.AccessWrite,
		Scope:    "/tmp/notes",
	})
	if !outcome.Granted || !outcome.Remembered {
		t.Fatalf("outcome = %+v", outcome)
	}

	if requested := auditLog.ByType(audit.EventConsentRequested); len(requested) != 1 {
		t.Errorf("expected 1 consent_requested entry, got %d", len(requested))
	}
	resolved := auditLog.ByType(audit.EventConsentResolved)
	if len(resolved) != 1 || !resolved[0].Success {
		t.Errorf("consent_resolved entries = %+v", resolved)
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	h, _ := newTestHost(t)

	var events []Event
	unsub := h.Subscribe(func(e Event) { events = append(events, e) })

	if err := h.Load(greeterManifest(), &spyInstance{}); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(events) != 1 || events[0].Type != EventLoaded {
		t.Fatalf("expected one loaded event, got %+v", events)
	}

	unsub()
	h.Unload("com.example.greeter")
	if len(events) != 1 {
		t.Errorf("expected no events after unsubscribe, got %d", len(events))
	}
}

func TestEventHandlerPanicIsContained(t *testing.T) {
	h, _ := newTestHost(t)

	h.Subscribe(func(e Event) { panic("bad handler") })

	if err := h.Load(greeterManifest(), &spyInstance{}); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if h.Count() != 1 {
		t.Errorf("expected plugin to remain loaded, got %d", h.Count())
	}
}
