// Package proxy implements the Proxy Generator (§4.5): for every RPC
// contract with no local implementation, it synthesizes a caller that
// boxes arguments and routes them through the Invocation Engine.
//
// Go cannot attach a method set to a type at runtime, so there is no way
// to hand back a value that satisfies an arbitrary caller-defined
// interface without one hand-written adapter per interface — exactly the
// per-contract code generation the Design Notes steer away from (§9). The
// idiomatic Go shape for this is the one net/rpc itself uses: a single
// generic Proxy with an Invoke(method, args...) escape hatch, and callers
// write one small typed method per contract that just forwards into it.
// That keeps the dispatch table itself fully generic (one Proxy type for
// every remote-only service) while leaving ordinary Go interfaces for
// application code to program against.
package proxy

import (
	"context"
	"reflect"

	"github.com/google/uuid"

	"github.com/myelnet/meshrpc/registry"
)

// Caller is the subset of the Invocation Engine a Proxy needs.
type Caller interface {
	Call(ctx context.Context, scopeID *uuid.UUID, procedure string, args []byte) ([]byte, error)
}

// Proxy is the synthesized remote caller for one service contract with no
// local implementation (§4.5). One Proxy value, parameterized by a
// ServiceDescriptor, stands in for every method of that service.
type Proxy struct {
	caller  Caller
	service string
	desc    *registry.ServiceDescriptor
	scopeID *uuid.UUID
}

// New builds a Proxy for service, bound to the Invocation Engine that
// every Invoke call ultimately routes through. scopeID is nil for a
// non-scoped (Singleton/Transient) proxy instance.
func New(caller Caller, service string, desc *registry.ServiceDescriptor, scopeID *uuid.UUID) *Proxy {
	return &Proxy{caller: caller, service: service, desc: desc, scopeID: scopeID}
}

// Invoke runs the full §4.5 sequence for one method call: box args, call
// "service.method" on the Invocation Engine, unbox the result or re-raise
// the error. args must match the method descriptor's ParamTypes in order
// and type; the returned value has the descriptor's ReturnType, or is the
// zero Value when the method has no return.
func (p *Proxy) Invoke(ctx context.Context, method string, args ...interface{}) (reflect.Value, error) {
	md, ok := p.desc.Methods[method]
	if !ok {
		return reflect.Value{}, &unknownMethodError{service: p.service, method: method}
	}

	boxed := make([]reflect.Value, len(args))
	for i, a := range args {
		boxed[i] = reflect.ValueOf(a)
	}

	argBytes, err := registry.EncodeArgs(boxed)
	if err != nil {
		return reflect.Value{}, err
	}

	procedure := p.service + "." + method
	result, err := p.caller.Call(ctx, p.scopeID, procedure, argBytes)
	if err != nil {
		return reflect.Value{}, err
	}

	return registry.DecodeResult(result, md.ReturnType)
}

type unknownMethodError struct {
	service, method string
}

func (e *unknownMethodError) Error() string {
	return "proxy: " + e.service + " has no method " + e.method
}
