package script

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dop251/goja"
	"github.com/sirupsen/logrus"

	"mysql-triggers/internal/models"
)

// ErrEventRejected is returned when a script drops an event by returning
// null or undefined.
var ErrEventRejected = errors.New("event rejected by script")

// Handler runs a JavaScript function against row events. The script must
// evaluate to a function, or define a function named "handle":
//
//	(function(event) { return event; })
//	function handle(event) { if (event.table === "noise") return null; return event; }
//
// Returning null or undefined drops the event; any other return value is the
// (possibly rewritten) event.
type Handler struct {
	path   string
	source string
	logger *logrus.Logger
}

// Load reads and validates a script file.
func Load(path string, logger *logrus.Logger) (*Handler, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script file: %w", err)
	}

	h := &Handler{path: path, source: string(source), logger: logger}

	// Validate up front so a broken script fails at registration, not on
	// the first matching event.
	vm := goja.New()
	h.bindConsole(vm)
	if _, err := h.callable(vm); err != nil {
		return nil, fmt.Errorf("invalid script %s: %w", path, err)
	}

	logger.Infof("Loaded script handler: %s", path)
	return h, nil
}

// Run invokes the script with the event. A fresh runtime is used per call
// because goja runtimes are not safe for concurrent use.
func (h *Handler) Run(event *models.RowEvent) (*models.RowEvent, error) {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	vm := goja.New()
	h.bindConsole(vm)

	fn, err := h.callable(vm)
	if err != nil {
		return nil, err
	}

	if err := vm.Set("eventJSON", string(eventJSON)); err != nil {
		return nil, fmt.Errorf("failed to set event JSON: %w", err)
	}
	eventObj, err := vm.RunString("JSON.parse(eventJSON)")
	if err != nil {
		return nil, fmt.Errorf("failed to parse event JSON: %w", err)
	}

	result, err := fn(goja.Undefined(), eventObj)
	if err != nil {
		return nil, fmt.Errorf("script %s failed: %w", h.path, err)
	}

	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		return nil, ErrEventRejected
	}

	resultJSON, err := json.Marshal(result.Export())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal script result: %w", err)
	}
	var out models.RowEvent
	if err := json.Unmarshal(resultJSON, &out); err != nil {
		return nil, fmt.Errorf("script %s returned an invalid event: %w", h.path, err)
	}
	return &out, nil
}

// callable evaluates the script source and resolves the handler function:
// either the script's own result or a defined "handle" function.
func (h *Handler) callable(vm *goja.Runtime) (goja.Callable, error) {
	result, err := vm.RunString(h.source)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate script: %w", err)
	}

	if result != nil && !goja.IsUndefined(result) && !goja.IsNull(result) {
		if fn, ok := goja.AssertFunction(result); ok {
			return fn, nil
		}
	}

	named := vm.Get("handle")
	if named != nil && !goja.IsUndefined(named) && !goja.IsNull(named) {
		if fn, ok := goja.AssertFunction(named); ok {
			return fn, nil
		}
	}

	return nil, fmt.Errorf("script must evaluate to a function or define a 'handle' function")
}

// bindConsole exposes console.log/info/warn/error backed by the logger.
func (h *Handler) bindConsole(vm *goja.Runtime) {
	formatArgs := func(call goja.FunctionCall) string {
		args := make([]interface{}, len(call.Arguments))
		for i, arg := range call.Arguments {
			args[i] = arg.Export()
		}
		return fmt.Sprint(args...)
	}

	console := vm.NewObject()
	console.Set("log", func(call goja.FunctionCall) goja.Value {
		h.logger.Info(formatArgs(call))
		return goja.Undefined()
	})
	console.Set("info", func(call goja.FunctionCall) goja.Value {
		h.logger.Info(formatArgs(call))
		return goja.Undefined()
	})
	console.Set("warn", func(call goja.FunctionCall) goja.Value {
		h.logger.Warn(formatArgs(call))
		return goja.Undefined()
	})
	console.Set("error", func(call goja.FunctionCall) goja.Value {
		h.logger.Error(formatArgs(call))
		return goja.Undefined()
	})
	vm.Set("console", console)
}
