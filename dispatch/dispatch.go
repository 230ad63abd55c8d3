// Package dispatch implements the Inbound Dispatcher (§4.9): for every
// request frame received on any channel of a peer, either resolve and
// invoke a local implementation, forward the call under mesh mode, or
// reply NoRoute.
package dispatch

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/myelnet/meshrpc/catalogue"
	"github.com/myelnet/meshrpc/invoke"
	"github.com/myelnet/meshrpc/registry"
	"github.com/myelnet/meshrpc/wire"
)

// meshForwardAttempts is the "up to three attempts" retry budget §4.9 step
// 3 gives a hub forwarding a call it does not host locally.
const meshForwardAttempts = 3

// Event is the inbound-completed observability record every reply path
// emits (§4.9 "All reply paths emit an inbound-completed event").
type Event struct {
	Peer      string
	Procedure string
	ScopeID   *uuid.UUID
	Duration  time.Duration
	Err       bool
	Forwarded bool
}

// Dispatcher is one Runtime's Inbound Dispatcher.
type Dispatcher struct {
	registry  *registry.Registry
	catalogue *catalogue.Catalogue
	engine    *invoke.Engine
	allowMesh bool
	onEvent   func(Event)
}

// New builds a Dispatcher. allowMesh mirrors the §6.6 "allow_mesh" flag;
// onEvent may be nil.
func New(reg *registry.Registry, cat *catalogue.Catalogue, engine *invoke.Engine, allowMesh bool, onEvent func(Event)) *Dispatcher {
	return &Dispatcher{registry: reg, catalogue: cat, engine: engine, allowMesh: allowMesh, onEvent: onEvent}
}

// Dispatch implements §4.9 in full. It always returns a non-nil Response
// matching req.ID (the forwarding path rewrites the forwarded response's
// id to req.ID, per step 3).
func (d *Dispatcher) Dispatch(peer string, req *wire.Request) *wire.Response {
	start := time.Now()
	resp, forwarded := d.dispatch(peer, req)
	d.emit(Event{
		Peer:      peer,
		Procedure: req.Procedure,
		ScopeID:   req.ScopeID,
		Duration:  time.Since(start),
		Err:       resp.Err != nil,
		Forwarded: forwarded,
	})
	return resp
}

func (d *Dispatcher) dispatch(peer string, req *wire.Request) (resp *wire.Response, forwarded bool) {
	service, method, err := invoke.ParseProcedure(req.Procedure)
	if err != nil {
		return &wire.Response{ID: req.ID, Err: wire.NewError(wire.KindBadProcedure, "%v", err)}, false
	}

	if d.registry.Has(service) {
		return d.invokeLocal(req, service, method), false
	}

	if d.allowMesh && d.catalogue.Contains(service) {
		return d.forward(req), true
	}

	return &wire.Response{ID: req.ID, Err: wire.NewError(wire.KindNoRoute, "no local implementation of %q", service)}, false
}

func (d *Dispatcher) invokeLocal(req *wire.Request, service, method string) *wire.Response {
	desc, ok := d.registry.Descriptor(service)
	if !ok {
		return &wire.Response{ID: req.ID, Err: wire.NewError(wire.KindNoRoute, "service %q has no descriptor", service)}
	}
	md, ok := desc.Methods[method]
	if !ok {
		return &wire.Response{ID: req.ID, Err: wire.NewError(wire.KindBadProcedure, "service %q has no method %q", service, method)}
	}

	instance, err := d.registry.Resolve(service, req.ScopeID)
	if err != nil {
		return &wire.Response{ID: req.ID, Err: wire.NewError(wire.KindApplication, "%v", err)}
	}

	args, err := registry.DecodeArgs(req.Args, md.ParamTypes)
	if err != nil {
		return &wire.Response{ID: req.ID, Err: wire.NewError(wire.KindBadProcedure, "%v", err)}
	}

	out, err := registry.Invoke(instance, method, args)
	if err != nil {
		return &wire.Response{ID: req.ID, Err: wire.NewError(wire.KindApplication, "%v", err)}
	}

	if appErr := lastErrorValue(out); appErr != nil {
		// Exactly one layer of "invocation wrapper" is unwrapped before
		// transmission (§4.9 step 2, §7 "Application").
		inner := appErr
		if wrapped := errors.Unwrap(appErr); wrapped != nil {
			inner = wrapped
		}
		return &wire.Response{ID: req.ID, Err: wire.NewError(wire.KindApplication, "%v", inner)}
	}

	result, err := registry.EncodeResult(firstValue(out), md.ReturnType != nil)
	if err != nil {
		return &wire.Response{ID: req.ID, Err: wire.NewError(wire.KindApplication, "%v", err)}
	}
	return &wire.Response{ID: req.ID, Result: result}
}

// forward re-enters the Invocation Engine under mesh mode (§4.9 step 3),
// making up to meshForwardAttempts calls. Each attempt is a separate
// Engine.Call with the engine's configured timeout applied to it alone, so
// a forwarded call can wait up to three times that timeout (and without
// limit when the timeout is disabled); the whole budget is not bounded by
// one timeout. When every attempt fails, the reply carries the last
// attempt's error.
func (d *Dispatcher) forward(req *wire.Request) *wire.Response {
	var lastErr error
	for attempt := 0; attempt < meshForwardAttempts; attempt++ {
		result, err := d.engine.Call(context.Background(), req.ScopeID, req.Procedure, req.Args)
		if err == nil {
			return &wire.Response{ID: req.ID, Result: result}
		}
		lastErr = err
		log.Debug().Err(err).Int("attempt", attempt+1).Str("procedure", req.Procedure).Msg("dispatch: mesh forward attempt failed")
	}
	return &wire.Response{ID: req.ID, Err: toWireError(lastErr)}
}

func (d *Dispatcher) emit(ev Event) {
	if d.onEvent != nil {
		d.onEvent(ev)
	}
}

func toWireError(err error) *wire.Error {
	var we *wire.Error
	if errors.As(err, &we) {
		return we
	}
	return wire.NewError(wire.KindNoRoute, "%v", err)
}

// lastErrorValue finds the trailing error return value, if any reflected
// call result ends in one, matching Go's "last value is the error" idiom.
func lastErrorValue(out []reflect.Value) error {
	if len(out) == 0 {
		return nil
	}
	last := out[len(out)-1]
	if err, ok := last.Interface().(error); ok {
		return err
	}
	return nil
}

func firstValue(out []reflect.Value) reflect.Value {
	if len(out) == 0 {
		return reflect.Value{}
	}
	return out[0]
}
