package handlers

import (
	"context"
	"sync"

	"github.com/goliatone/go-errors"
	trigger "github.com/goliatone/go-trigger"
)

// Function is an in-process action target.
type Function func(ctx context.Context, event trigger.Event, action *trigger.Action, execCtx map[string]any) (any, error)

// FunctionHandler executes actions whose configuration names a registered
// module/function pair. Registration happens at startup; lookups are
// read-mostly.
type FunctionHandler struct {
	mu        sync.RWMutex
	functions map[string]Function
}

// NewFunctionHandler builds an empty function handler.
func NewFunctionHandler() *FunctionHandler {
	return &FunctionHandler{
		functions: make(map[string]Function),
	}
}

// Register binds fn under module.function. Registering the same pair twice
// is an error; rebinding live dispatch targets hides bugs.
func (h *FunctionHandler) Register(module, function string, fn Function) error {
	if module == "" || function == "" || fn == nil {
		return errors.New("module, function, and fn are required", errors.CategoryValidation).
			WithTextCode("FUNCTION_REGISTRATION_INVALID")
	}
	key := module + "." + function
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.functions[key]; exists {
		return errors.New("function already registered", errors.CategoryConflict).
			WithTextCode("FUNCTION_ALREADY_REGISTERED").
			WithMetadata(map[string]any{"function": key})
	}
	h.functions[key] = fn
	return nil
}

func (h *FunctionHandler) CanHandle(action *trigger.Action) bool {
	return action.HandlerType == trigger.HandlerFunction
}

func (h *FunctionHandler) Handle(ctx context.Context, event trigger.Event, action *trigger.Action, execCtx map[string]any) (any, error) {
	module, _ := action.Configuration["module"].(string)
	function, _ := action.Configuration["function"].(string)
	key := module + "." + function

	h.mu.RLock()
	fn, ok := h.functions[key]
	h.mu.RUnlock()
	if !ok {
		return nil, errors.New("function not registered", errors.CategoryNotFound).
			WithTextCode("FUNCTION_NOT_REGISTERED").
			WithMetadata(map[string]any{"function": key, "action_id": action.ID})
	}
	return fn(ctx, event, action, execCtx)
}
