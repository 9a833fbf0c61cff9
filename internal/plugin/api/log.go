package api

import (
	lua "github.com/yuin/gopher-lua"
)

// LogModule routes plugin log output into the host logger with the plugin's
// identity attached. Always available.
type LogModule struct {
	logger     LogProvider
	pluginName string
}

// NewLogModule creates the log module for one plugin.
func NewLogModule(logger LogProvider, pluginName string) *LogModule {
	return &LogModule{logger: logger, pluginName: pluginName}
}

func (m *LogModule) Name() string { return "log" }

func (m *LogModule) Register(L *lua.LState) error {
	mod := L.NewTable()
	L.SetField(mod, "debug", L.NewFunction(m.logAt(func(l LogProvider, msg string) { l.Debug("%s", msg) })))
	L.SetField(mod, "info", L.NewFunction(m.logAt(func(l LogProvider, msg string) { l.Info("%s", msg) })))
	L.SetField(mod, "warn", L.NewFunction(m.logAt(func(l LogProvider, msg string) { l.Warn("%s", msg) })))
	L.SetField(mod, "error", L.NewFunction(m.logAt(func(l LogProvider, msg string) { l.Error("%s", msg) })))
	L.SetGlobal("_chorus_log", mod)
	return nil
}

func (m *LogModule) logAt(emit func(LogProvider, string)) lua.LGFunction {
	return func(L *lua.LState) int {
		msg := L.CheckString(1)
		if m.logger != nil {
			emit(m.logger, "["+m.pluginName+"] "+msg)
		}
		return 0
	}
}
