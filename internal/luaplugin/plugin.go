// Package luaplugin runs plugin scripts on an embedded Lua interpreter with
// only safe libraries opened. Scripts see the engine through a single
// `warden` module whose every call is gated by the plugin's sandbox context.
//
// A script defines one global function per declared capability, named after
// the capability's tool id, taking a params table and returning a value or
// nil plus an error message:
//
//	function greet(params)
//	    return "hello " .. (params.name or "world")
//	end
package luaplugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/warden/internal/host"
	"github.com/dshills/warden/internal/manifest"
	"github.com/dshills/warden/internal/sandbox"
)

// Plugin errors.
var (
	// ErrNotInitialized is returned when Execute runs before Initialize.
	ErrNotInitialized = errors.New("luaplugin: plugin is not initialized")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("luaplugin: plugin is closed")

	// ErrActionNotFound is returned when the script defines no function for
	// the requested action.
	ErrActionNotFound = errors.New("luaplugin: no function defined for action")
)

// Plugin is a Lua-scripted plugin instance. It satisfies the host's
// Instance interface. The Lua state is not goroutine-safe; a mutex
// serializes all access.
type Plugin struct {
	mu sync.Mutex

	source       string
	capabilities []manifest.Capability

	L      *lua.LState
	closed bool
}

// New creates a plugin from Lua source. The capabilities are what the
// plugin reports to the host; execution only ever reaches functions the
// script actually defines.
func New(source string, capabilities []manifest.Capability) *Plugin {
	return &Plugin{
		source:       source,
		capabilities: capabilities,
	}
}

// Load reads a script file and creates a plugin from it.
func Load(path string, capabilities []manifest.Capability) (*Plugin, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin script: %w", err)
	}
	return New(string(source), capabilities), nil
}

// Initialize creates the restricted Lua state, installs the warden API
// bound to the sandbox context, and runs the script's top level.
func (p *Plugin) Initialize(sb *sandbox.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if p.L != nil {
		return nil
	}

	L := newRestrictedState()
	installAPI(L, sb)

	if err := L.DoString(p.source); err != nil {
		L.Close()
		return fmt.Errorf("plugin script failed to load: %w", err)
	}

	p.L = L
	return nil
}

// Execute calls the script function named after the action id with the
// params as a table. The function may return a value, or nil plus an error
// message which becomes a failed result.
func (p *Plugin) Execute(ctx context.Context, actionID string, params map[string]any, sb *sandbox.Context) (*host.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}
	if p.L == nil {
		return nil, ErrNotInitialized
	}

	fn := p.L.GetGlobal(actionID)
	if fn.Type() != lua.LTFunction {
		return nil, fmt.Errorf("%w: %q", ErrActionNotFound, actionID)
	}

	p.L.SetContext(ctx)
	defer p.L.SetContext(context.Background())

	stackTop := p.L.GetTop()
	p.L.Push(fn)
	p.L.Push(paramsToTable(p.L, params))

	if err := p.L.PCall(1, lua.MultRet, nil); err != nil {
		p.L.SetTop(stackTop)
		return &host.Result{Success: false, Error: err.Error()}, nil
	}

	nRet := p.L.GetTop() - stackTop
	values := make([]lua.LValue, nRet)
	for i := 0; i < nRet; i++ {
		values[i] = p.L.Get(stackTop + i + 1)
	}
	p.L.SetTop(stackTop)

	// A nil first value with a string second is the Lua error convention.
	if nRet >= 2 && values[0] == lua.LNil {
		return &host.Result{Success: false, Error: lua.LVAsString(values[1])}, nil
	}

	res := &host.Result{Success: true}
	if nRet >= 1 {
		res.Output = toGo(values[0])
	}
	return res, nil
}

// Capabilities returns the capabilities the plugin was created with.
func (p *Plugin) Capabilities() []manifest.Capability {
	return p.capabilities
}

// Close releases the Lua state. Safe to call more than once.
func (p *Plugin) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	if p.L != nil {
		p.L.Close()
		p.L = nil
	}
	p.closed = true
	return nil
}
