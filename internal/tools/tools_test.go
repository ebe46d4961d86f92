package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dshills/warden/internal/audit"
	"github.com/dshills/warden/internal/host"
	"github.com/dshills/warden/internal/manifest"
	"github.com/dshills/warden/internal/policy"
	"github.com/dshills/warden/internal/sandbox"
)

// mockTool implements the Tool interface for testing.
type mockTool struct {
	name        string
	description string
	risk        RiskLevel
	readOnly    bool
	executeFunc func(ctx context.Context, params map[string]any) (*Result, error)
}

func (m *mockTool) Name() string            { return m.name }
func (m *mockTool) Description() string     { return m.description }
func (m *mockTool) Parameters() []Parameter { return nil }
func (m *mockTool) RiskLevel() RiskLevel    { return m.risk }
func (m *mockTool) IsReadOnly() bool        { return m.readOnly }

func (m *mockTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	if m.executeFunc != nil {
		return m.executeFunc(ctx, params)
	}
	return &Result{Success: true, Output: "mock output"}, nil
}

// echoInstance returns the action id as output.
type echoInstance struct{}

func (echoInstance) Initialize(sb *sandbox.Context) error { return nil }

func (echoInstance) Execute(ctx context.Context, actionID string, params map[string]any, sb *sandbox.Context) (*host.Result, error) {
	return &host.Result{Success: true, Output: "ran " + actionID}, nil
}

func (echoInstance) Capabilities() []manifest.Capability { return nil }

func newTestHost(t *testing.T) *host.Host {
	t.Helper()
	policies, err := policy.NewStore("")
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return host.New(audit.NewLog(100), policies, sandbox.NewFactory(nil))
}

func loadPlugin(t *testing.T, h *host.Host, id string, risk manifest.RiskLevel, caps ...manifest.Capability) {
	t.Helper()
	m := &manifest.Manifest{
		ID:           id,
		Version:      "1.0.0",
		Name:         "Test Plugin",
		Author:       "Example",
		RiskLevel:    risk,
		Capabilities: caps,
	}
	if risk >= manifest.RiskNetwork {
		m.Permissions = []manifest.Permission{
			{Type: manifest.PermissionNetwork, Access: manifest.AccessRead, Scope: "https://api.example.com/"},
		}
		m.NetworkIntent = &manifest.NetworkIntent{
			Endpoints: []string{"https://api.example.com/v1"},
			Purpose:   "test fixture",
		}
	}
	if err := h.Load(m, echoInstance{}); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
}

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(&mockTool{name: "alpha"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Register(&mockTool{name: ""}); !errors.Is(err, ErrToolNameEmpty) {
		t.Fatalf("expected ErrToolNameEmpty, got %v", err)
	}
	if err := r.Register(&mockTool{name: "alpha"}); !errors.Is(err, ErrToolAlreadyRegistered) {
		t.Fatalf("expected ErrToolAlreadyRegistered, got %v", err)
	}

	tool, err := r.Get("alpha")
	if err != nil || tool.Name() != "alpha" {
		t.Fatalf("Get returned %v, %v", tool, err)
	}
	if _, err := r.Get("ghost"); !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
}

func TestListSortedAndUnregister(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"charlie", "alpha", "bravo"} {
		if err := r.Register(&mockTool{name: name}); err != nil {
			t.Fatal(err)
		}
	}

	list := r.List()
	if len(list) != 3 || list[0].Name() != "alpha" || list[2].Name() != "charlie" {
		t.Errorf("unexpected list order: %v", names(list))
	}

	if !r.Unregister("bravo") {
		t.Error("Unregister returned false")
	}
	if r.Unregister("bravo") {
		t.Error("second Unregister returned true")
	}
	if r.Count() != 2 {
		t.Errorf("Count = %d", r.Count())
	}
}

func TestRefreshBuildsPluginTools(t *testing.T) {
	h := newTestHost(t)
	loadPlugin(t, h, "com.example.notes", manifest.RiskReadOnly,
		manifest.Capability{ToolID: "list", Name: "List", Description: "List notes"},
		manifest.Capability{ToolID: "search", Name: "Search"},
	)

	r := NewRegistry()
	r.Refresh(h)

	if r.Count() != 2 {
		t.Fatalf("expected 2 tools, got %d", r.Count())
	}
	tool, err := r.Get("plugin:com.example.notes:list")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if tool.Description() != "List notes" {
		t.Errorf("description = %q", tool.Description())
	}
	if tool.RiskLevel() != RiskLow {
		t.Errorf("risk = %s, want %s", tool.RiskLevel(), RiskLow)
	}
	if !tool.IsReadOnly() {
		t.Error("read-only capability reported as mutating")
	}
}

func TestRiskMapping(t *testing.T) {
	tests := []struct {
		declared manifest.RiskLevel
		want     RiskLevel
	}{
		{manifest.RiskReadOnly, RiskLow},
		{manifest.RiskLocalMutation, RiskMedium},
		{manifest.RiskNetwork, RiskHigh},
		{manifest.RiskSystemAdjacent, RiskCritical},
	}
	for _, tt := range tests {
		if got := riskOf(tt.declared); got != tt.want {
			t.Errorf("riskOf(%s) = %s, want %s", tt.declared, got, tt.want)
		}
	}
}

func TestReadOnlyFollowsModifiesState(t *testing.T) {
	fetch := &pluginTool{capability: manifest.Capability{ToolID: "fetch", RequiresNetwork: true}}
	if !fetch.IsReadOnly() {
		t.Error("network capability that does not modify state reported as mutating")
	}

	save := &pluginTool{capability: manifest.Capability{ToolID: "save", ModifiesState: true}}
	if save.IsReadOnly() {
		t.Error("state-mutating capability reported as read-only")
	}
}

func TestPluginToolExecute(t *testing.T) {
	h := newTestHost(t)
	loadPlugin(t, h, "com.example.notes", manifest.RiskReadOnly,
		manifest.Capability{ToolID: "list", Name: "List"},
	)

	r := NewRegistry()
	r.Refresh(h)

	tool, err := r.Get("plugin:com.example.notes:list")
	if err != nil {
		t.Fatal(err)
	}
	res, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !res.Success || res.Output != "ran list" {
		t.Errorf("result = %+v", res)
	}
}

func TestPluginToolExecuteDisabledPlugin(t *testing.T) {
	h := newTestHost(t)
	loadPlugin(t, h, "com.example.notes", manifest.RiskReadOnly,
		manifest.Capability{ToolID: "list", Name: "List"},
	)

	r := NewRegistry()
	r.Refresh(h)

	if err := h.Disable("com.example.notes"); err != nil {
		t.Fatal(err)
	}

	tool, err := r.Get("plugin:com.example.notes:list")
	if err != nil {
		t.Fatal(err)
	}
	res, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("disabled plugins must fail cleanly, got error %v", err)
	}
	if res.Success {
		t.Fatal("expected a failed result")
	}
	if res.Error == nil || !strings.Contains(res.Error.Error(), "disabled") {
		t.Errorf("error = %v, want mention of disabled", res.Error)
	}
}

func TestRefreshDropsUnloadedPluginTools(t *testing.T) {
	h := newTestHost(t)
	loadPlugin(t, h, "com.example.notes", manifest.RiskReadOnly,
		manifest.Capability{ToolID: "list", Name: "List"},
	)

	r := NewRegistry()
	if err := r.Register(&mockTool{name: "builtin"}); err != nil {
		t.Fatal(err)
	}
	r.Refresh(h)
	if r.Count() != 2 {
		t.Fatalf("expected 2 tools, got %d", r.Count())
	}

	h.Unload("com.example.notes")
	r.Refresh(h)

	if r.Count() != 1 {
		t.Fatalf("expected only the builtin tool, got %d", r.Count())
	}
	if _, err := r.Get("builtin"); err != nil {
		t.Errorf("builtin tool lost on refresh: %v", err)
	}
}

func names(list []Tool) []string {
	out := make([]string, len(list))
	for i, tool := range list {
		out[i] = tool.Name()
	}
	return out
}
