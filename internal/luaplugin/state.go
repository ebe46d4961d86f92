package luaplugin

import (
	lua "github.com/yuin/gopher-lua"
)

// Default limits for plugin scripts.
const (
	// DefaultCallStackSize bounds Lua call depth per state.
	DefaultCallStackSize = 120

	// DefaultRegistrySize is the initial registry size per state.
	DefaultRegistrySize = 1024 * 20
)

// newRestrictedState creates a Lua state with only safe libraries opened and
// the escape hatches removed. Scripts get base, table, string, and math;
// io, os, debug, and the package loaders stay closed.
func newRestrictedState() *lua.LState {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		CallStackSize:       DefaultCallStackSize,
		RegistrySize:        DefaultRegistrySize,
		IncludeGoStackTrace: false,
	})

	for _, open := range []struct {
		name string
		fn   lua.LGFunction
	}{
		// OpenPackage must run first: it replaces the registry's _LOADED
		// table, which would wipe the modules registered by the other opens.
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(open.fn))
		L.Push(lua.LString(open.name))
		L.Call(1, 0)
	}

	restrictState(L)
	return L
}

// restrictState strips the functions a script could use to reach outside
// the sandbox and replaces require with a whitelist version.
func restrictState(L *lua.LState) {
	// Removing the load family closes off arbitrary chunk execution.
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		L.SetGlobal(name, lua.LNil)
	}

	// Clear package.path and package.cpath so nothing loads from disk.
	if pkg, ok := L.GetGlobal("package").(*lua.LTable); ok {
		L.SetField(pkg, "path", lua.LString(""))
		L.SetField(pkg, "cpath", lua.LString(""))
	}

	safeModules := map[string]bool{
		"string": true,
		"table":  true,
		"math":   true,
	}

	originalRequire := L.GetGlobal("require")

	L.SetGlobal("require", L.NewFunction(func(L *lua.LState) int {
		modName := L.CheckString(1)

		if safeModules[modName] || modName == apiModuleName {
			L.Push(originalRequire)
			L.Push(lua.LString(modName))
			L.Call(1, 1)
			return 1
		}

		L.RaiseError("module %q is not available", modName)
		return 0 // unreachable, but required for Go compiler
	}))
}
