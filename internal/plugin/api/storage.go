package api

import (
	"context"
	"errors"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/chorus/internal/plugin/security"
	"github.com/dshills/chorus/internal/storage"
)

// StorageModule exposes the plugin's isolated key/value store. Requires
// storage:local; a denied call returns the same shape as a failed one, so
// an ungranted plugin sees (false, message) from set and nil from get and
// never reaches the backend.
//
// Quota violations surface as (false, message); backend I/O failures are
// logged host-side and surface the same way.
type StorageModule struct {
	store   *storage.Isolated
	checker *security.Checker
	logger  LogProvider
}

// NewStorageModule creates the storage module over the plugin's store.
func NewStorageModule(store *storage.Isolated, checker *security.Checker, logger LogProvider) *StorageModule {
	return &StorageModule{store: store, checker: checker, logger: logger}
}

func (m *StorageModule) Name() string { return "storage" }

func (m *StorageModule) Register(L *lua.LState) error {
	mod := L.NewTable()
	L.SetField(mod, "get", L.NewFunction(m.get))
	L.SetField(mod, "set", L.NewFunction(m.set))
	L.SetField(mod, "remove", L.NewFunction(m.remove))
	L.SetField(mod, "clear", L.NewFunction(m.clear))
	L.SetField(mod, "keys", L.NewFunction(m.keys))
	L.SetField(mod, "used_bytes", L.NewFunction(m.usedBytes))
	L.SetField(mod, "quota", L.NewFunction(m.quotaInfo))
	L.SetGlobal("_chorus_storage", mod)
	return nil
}

// get(key) -> string|nil
func (m *StorageModule) get(L *lua.LState) int {
	if denied(m.checker, security.PermStorageLocal) {
		L.Push(lua.LNil)
		return 1
	}
	key := L.CheckString(1)

	value, err := m.store.Get(context.Background(), key)
	if errors.Is(err, storage.ErrNotFound) {
		L.Push(lua.LNil)
		return 1
	}
	if err != nil {
		m.logError("storage get failed: plugin=%s key=%s: %v", m.store.Plugin(), key, err)
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(value))
	return 1
}

// set(key, value) -> true | false, err
func (m *StorageModule) set(L *lua.LState) int {
	if denied(m.checker, security.PermStorageLocal) {
		return pushDenied(L, security.PermStorageLocal)
	}
	key := L.CheckString(1)
	value := L.CheckString(2)

	if err := m.store.Set(context.Background(), key, value); err != nil {
		if !errors.Is(err, storage.ErrQuotaExceeded) {
			m.logError("storage set failed: plugin=%s key=%s: %v", m.store.Plugin(), key, err)
		}
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

// remove(key) -> true | false, err
func (m *StorageModule) remove(L *lua.LState) int {
	if denied(m.checker, security.PermStorageLocal) {
		return pushDenied(L, security.PermStorageLocal)
	}
	key := L.CheckString(1)

	if err := m.store.Remove(context.Background(), key); err != nil {
		m.logError("storage remove failed: plugin=%s key=%s: %v", m.store.Plugin(), key, err)
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

// clear() -> true | false, err
func (m *StorageModule) clear(L *lua.LState) int {
	if denied(m.checker, security.PermStorageLocal) {
		return pushDenied(L, security.PermStorageLocal)
	}
	if err := m.store.Clear(context.Background()); err != nil {
		m.logError("storage clear failed: plugin=%s: %v", m.store.Plugin(), err)
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

// keys() -> table
func (m *StorageModule) keys(L *lua.LState) int {
	if denied(m.checker, security.PermStorageLocal) {
		L.Push(L.NewTable())
		return 1
	}
	keys, err := m.store.Keys(context.Background())
	if err != nil {
		m.logError("storage keys failed: plugin=%s: %v", m.store.Plugin(), err)
		L.Push(L.NewTable())
		return 1
	}
	tbl := L.NewTable()
	for i, k := range keys {
		tbl.RawSetInt(i+1, lua.LString(k))
	}
	L.Push(tbl)
	return 1
}

// used_bytes() -> number
func (m *StorageModule) usedBytes(L *lua.LState) int {
	if denied(m.checker, security.PermStorageLocal) {
		L.Push(lua.LNumber(0))
		return 1
	}
	L.Push(lua.LNumber(m.store.UsedBytes()))
	return 1
}

// quota() -> { used, total, available, percent_used }
func (m *StorageModule) quotaInfo(L *lua.LState) int {
	info := storage.QuotaInfo{}
	if !denied(m.checker, security.PermStorageLocal) {
		info = m.store.Quota()
	}
	tbl := L.NewTable()
	L.SetField(tbl, "used", lua.LNumber(info.Used))
	L.SetField(tbl, "total", lua.LNumber(info.Total))
	L.SetField(tbl, "available", lua.LNumber(info.Available))
	L.SetField(tbl, "percent_used", lua.LNumber(info.PercentUsed))
	L.Push(tbl)
	return 1
}

func (m *StorageModule) logError(format string, args ...any) {
	if m.logger != nil {
		m.logger.Error(format, args...)
	}
}
