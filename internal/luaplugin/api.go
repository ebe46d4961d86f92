package luaplugin

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/warden/internal/sandbox"
)

// apiModuleName is the module scripts require to talk to the engine.
const apiModuleName = "warden"

// installAPI preloads the warden module backed by the plugin's sandbox
// context and also exposes it as a global for convenience. Every function
// follows the Lua convention of returning nil plus a message on failure, so
// scripts can wrap calls in the usual `local v, err = ...` pattern.
func installAPI(L *lua.LState, sb *sandbox.Context) {
	L.PreloadModule(apiModuleName, func(L *lua.LState) int {
		mod := L.SetFuncs(L.NewTable(), apiFuncs(sb))
		L.Push(mod)
		return 1
	})
	L.SetGlobal(apiModuleName, L.SetFuncs(L.NewTable(), apiFuncs(sb)))
}

func apiFuncs(sb *sandbox.Context) map[string]lua.LGFunction {
	return map[string]lua.LGFunction{
		"plugin_id": func(L *lua.LState) int {
			L.Push(lua.LString(sb.PluginID()))
			return 1
		},

		"read": func(L *lua.LState) int {
			path := L.CheckString(1)
			data, err := sb.Files().Read(path)
			if err != nil {
				return pushError(L, err)
			}
			L.Push(lua.LString(data))
			return 1
		},

		"write": func(L *lua.LState) int {
			path := L.CheckString(1)
			content := L.CheckString(2)
			if err := sb.Files().Write(path, []byte(content)); err != nil {
				return pushError(L, err)
			}
			L.Push(lua.LTrue)
			return 1
		},

		"net_check": func(L *lua.LState) int {
			endpoint := L.CheckString(1)
			if err := sb.Network().Check(endpoint); err != nil {
				return pushError(L, err)
			}
			L.Push(lua.LTrue)
			return 1
		},

		"storage_get": func(L *lua.LState) int {
			key := L.CheckString(1)
			value, exists, err := sb.Storage().Get(key)
			if err != nil {
				return pushError(L, err)
			}
			if !exists {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(toLua(L, value))
			return 1
		},

		"storage_set": func(L *lua.LState) int {
			key := L.CheckString(1)
			value := toGo(L.Get(2))
			if err := sb.Storage().Set(key, value); err != nil {
				return pushError(L, err)
			}
			L.Push(lua.LTrue)
			return 1
		},

		"storage_delete": func(L *lua.LState) int {
			key := L.CheckString(1)
			if err := sb.Storage().Delete(key); err != nil {
				return pushError(L, err)
			}
			L.Push(lua.LTrue)
			return 1
		},

		"storage_keys": func(L *lua.LState) int {
			keys, err := sb.Storage().Keys()
			if err != nil {
				return pushError(L, err)
			}
			L.Push(toLua(L, keys))
			return 1
		},

		"memory_get": func(L *lua.LState) int {
			key := L.CheckString(1)
			value, exists, err := sb.Memory().Get(key)
			if err != nil {
				return pushError(L, err)
			}
			if !exists {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(toLua(L, value))
			return 1
		},

		"memory_set": func(L *lua.LState) int {
			key := L.CheckString(1)
			value := toGo(L.Get(2))
			if err := sb.Memory().Set(key, value); err != nil {
				return pushError(L, err)
			}
			L.Push(lua.LTrue)
			return 1
		},

		"memory_delete": func(L *lua.LState) int {
			key := L.CheckString(1)
			if err := sb.Memory().Delete(key); err != nil {
				return pushError(L, err)
			}
			L.Push(lua.LTrue)
			return 1
		},
	}
}

// pushError pushes the nil, message pair Lua callers expect.
func pushError(L *lua.LState, err error) int {
	L.Push(lua.LNil)
	L.Push(lua.LString(err.Error()))
	return 2
}
