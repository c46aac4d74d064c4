package jsvm

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/dop251/goja"

	"github.com/goatkit/hotplug/internal/plugin"
)

// environment is the capability set of one runtime.
type environment struct {
	vm      *goja.Runtime
	console *consoleSink
	loop    *eventLoop
	buffers *buffers
	module  *goja.Object
}

func newEnvironment(vm *goja.Runtime, bufferLimit int, console *consoleSink) *environment {
	return &environment{
		vm:      vm,
		console: console,
		loop:    newEventLoop(vm),
		buffers: newBuffers(vm, bufferLimit),
	}
}

func (e *environment) install() error {
	steps := []func() error{
		e.installConsole,
		e.installModule,
		e.buffers.install,
		e.loop.install,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

func (e *environment) installConsole() error {
	console := e.vm.NewObject()
	for _, level := range []string{"debug", "info", "warn", "error"} {
		if err := console.Set(level, e.consoleMethod(level)); err != nil {
			return err
		}
	}
	if err := console.Set("log", e.consoleMethod("info")); err != nil {
		return err
	}
	return e.vm.Set("console", console)
}

func (e *environment) consoleMethod(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		e.console.write(level, formatArgs(call.Arguments))
		return goja.Undefined()
	}
}

func (e *environment) installModule() error {
	exports := e.vm.NewObject()
	e.module = e.vm.NewObject()
	if err := e.module.Set("exports", exports); err != nil {
		return err
	}
	if err := e.vm.Set("module", e.module); err != nil {
		return err
	}
	return e.vm.Set("exports", exports)
}

// exportNames returns the keys bound on module.exports once the payload ran.
func (e *environment) exportNames() []string {
	v := e.module.Get("exports")
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil
	}
	return obj.Keys()
}

func formatArgs(args []goja.Value) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		parts = append(parts, formatValue(arg))
	}
	return strings.Join(parts, " ")
}

func formatValue(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	if obj, ok := v.(*goja.Object); ok {
		if _, isFn := goja.AssertFunction(obj); !isFn {
			if b, err := json.Marshal(obj.Export()); err == nil {
				return string(b)
			}
		}
	}
	return v.String()
}

// consoleSink routes payload console output to the host logger and the
// plugin log buffer.
type consoleSink struct {
	source string
	runID  string
	logger *slog.Logger
	logs   *plugin.LogBuffer
}

func (c *consoleSink) write(level, msg string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	c.logger.Log(context.Background(), lvl, msg, "source", c.source, "run_id", c.runID, "origin", "plugin")
	if c.logs != nil {
		c.logs.Log(c.source, c.runID, level, msg)
	}
}
