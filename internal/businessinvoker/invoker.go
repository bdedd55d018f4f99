// Package businessinvoker defines the interface the orchestrator uses to
// call a business method (spec §6, Design Notes §9: "Business services
// extend a framework base class. In the target, the Business Invoker is an
// interface..."). The business-method implementations themselves are out of
// scope (spec §1); this package only carries the interface and a registered
// dispatch table standing in for the source's reflection-based dispatch.
package businessinvoker

import (
	"context"
	"fmt"
	"sync"
)

// Result is a business method's return value together with its declared
// type, used by the Route Selector to evaluate typed routing conditions
// (spec §4.7 DecisionNode).
type Result struct {
	Value        any
	DeclaredType string // "string" | "boolean" | "int" | "long" | "double" | "json"
}

// Invoker calls a business method and returns its result. version is the
// rule-base version the calling event carried, so an implementation can
// route to version-pinned business logic if it needs to.
type Invoker interface {
	Invoke(ctx context.Context, sequenceID int64, service, operation string, args []any, returnAttr, version string) (Result, error)
}

// Method is a registered business-method implementation.
type Method func(ctx context.Context, sequenceID int64, args []any) (Result, error)

// Dispatch is a registered dispatch table keyed by (service, operation),
// replacing the source's reflection-based dispatch (Design Notes §9).
// Registration happens at service-host startup.
type Dispatch struct {
	mu      sync.RWMutex
	methods map[string]Method
}

// NewDispatch returns an empty dispatch table.
func NewDispatch() *Dispatch {
	return &Dispatch{methods: make(map[string]Method)}
}

// Register binds a business method to (service, operation). Re-registering
// the same pair replaces the prior binding.
func (d *Dispatch) Register(service, operation string, m Method) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.methods[key(service, operation)] = m
}

// Invoke implements Invoker by looking up the registered method and
// calling it; spec §7 BUSINESS_INVOKE_ERROR fires when no method is
// registered or the method itself returns a nil result.
func (d *Dispatch) Invoke(ctx context.Context, sequenceID int64, service, operation string, args []any, returnAttr, version string) (Result, error) {
	d.mu.RLock()
	m, ok := d.methods[key(service, operation)]
	d.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("businessinvoker: no method registered for %s.%s", service, operation)
	}
	res, err := m(ctx, sequenceID, args)
	if err != nil {
		return res, err
	}
	if res.Value == nil {
		return Result{}, fmt.Errorf("businessinvoker: %s.%s returned a nil result", service, operation)
	}
	return res, nil
}

func key(service, operation string) string { return service + "." + operation }
