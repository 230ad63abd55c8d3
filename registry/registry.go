// Package registry implements the Implementation Registry (§4.4): the
// mapping from (service, method) to a local callable, and the
// Singleton/Scoped/Transient lifetime table for the backing instances.
package registry

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Lifetime controls how an implementation instance is resolved per call.
type Lifetime int

const (
	// Singleton returns the one cached instance for the process lifetime.
	Singleton Lifetime = iota
	// Scoped returns the instance tagged with the caller's scope id,
	// creating one on first use.
	Scoped
	// Transient returns a new instance on every call.
	Transient
)

// Factory constructs a fresh implementation instance.
type Factory func() (interface{}, error)

// MethodDescriptor names one method of a service and its signature, used
// to validate and reflect-invoke calls (§3 "Service descriptor").
type MethodDescriptor struct {
	Name       string
	ParamTypes []reflect.Type
	ReturnType reflect.Type // nil if the method returns nothing
}

// ServiceDescriptor binds a service name to its methods. Descriptors are
// immutable once registered (§3).
type ServiceDescriptor struct {
	Name    string
	Methods map[string]MethodDescriptor
}

// DescriptorFromType derives a ServiceDescriptor by reflecting over an
// interface value, stripping a leading "I" from the interface's type name
// the way §3 specifies ("service name derived from its interface name").
func DescriptorFromType(ifaceName string, iface reflect.Type) *ServiceDescriptor {
	name := ifaceName
	if len(name) > 1 && name[0] == 'I' && name[1] >= 'A' && name[1] <= 'Z' {
		name = name[1:]
	}
	errorType := reflect.TypeOf((*error)(nil)).Elem()
	methods := make(map[string]MethodDescriptor, iface.NumMethod())
	for i := 0; i < iface.NumMethod(); i++ {
		m := iface.Method(i)
		mt := m.Type
		params := make([]reflect.Type, 0, mt.NumIn())
		for p := 0; p < mt.NumIn(); p++ {
			params = append(params, mt.In(p))
		}
		var ret reflect.Type
		if mt.NumOut() > 0 && mt.Out(0) != errorType {
			ret = mt.Out(0)
		}
		methods[m.Name] = MethodDescriptor{Name: m.Name, ParamTypes: params, ReturnType: ret}
	}
	return &ServiceDescriptor{Name: name, Methods: methods}
}

type entry struct {
	descriptor *ServiceDescriptor
	lifetime   Lifetime
	factory    Factory

	mu         sync.Mutex
	singleton  interface{}
	hasSingle  bool
	scoped     map[uuid.UUID]*scopedInstance
}

type scopedInstance struct {
	value      interface{}
	lastTouch  time.Time
}

// Registry is one Runtime's Implementation Registry: the set of services
// this node hosts locally, each bound to a lifetime-scoped factory.
type Registry struct {
	mu       sync.RWMutex
	services map[string]*entry

	sweepInterval time.Duration
	scopeTTL      time.Duration
	stop          chan struct{}
	stopOnce      sync.Once
}

// New builds an empty registry. sweepInterval controls how often the
// scoped-instance sweeper runs; scopeTTL is how long a scoped instance may
// sit untouched before it is evicted (§4.4, §5 — standing in for the
// weak-reference reclaim Go has no portable hook for; see DESIGN.md).
func New(sweepInterval, scopeTTL time.Duration) *Registry {
	if sweepInterval <= 0 {
		sweepInterval = 30 * time.Second
	}
	if scopeTTL <= 0 {
		scopeTTL = 10 * time.Minute
	}
	r := &Registry{
		services:      make(map[string]*entry),
		sweepInterval: sweepInterval,
		scopeTTL:      scopeTTL,
		stop:          make(chan struct{}),
	}
	go r.sweepLoop()
	return r
}

// Register advertises a local implementation of a service under the given
// lifetime and factory.
func (r *Registry) Register(desc *ServiceDescriptor, lifetime Lifetime, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[desc.Name] = &entry{
		descriptor: desc,
		lifetime:   lifetime,
		factory:    factory,
		scoped:     make(map[uuid.UUID]*scopedInstance),
	}
}

// Has reports whether this registry hosts the named service locally.
func (r *Registry) Has(service string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.services[service]
	return ok
}

// Descriptor returns the ServiceDescriptor for a locally hosted service.
func (r *Registry) Descriptor(service string) (*ServiceDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.services[service]
	if !ok {
		return nil, false
	}
	return e.descriptor, true
}

// ServiceNames returns the set of service names this node hosts locally
// (§4.4 "Advertises"), the payload of the initial catalogue exchange.
func (r *Registry) ServiceNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.services))
	for n := range r.services {
		names = append(names, n)
	}
	return names
}

// ErrUnknownService is returned by Resolve for a service with no local
// implementation.
var ErrUnknownService = fmt.Errorf("registry: unknown service")

// Resolve returns the implementation instance to invoke for a call,
// honoring the service's configured lifetime (§4.4):
//   - Singleton: the one cached instance, created on first use.
//   - Transient: a new instance every call.
//   - Scoped: the instance tagged with scopeID, created if absent.
//
// scopeID is nil for non-scoped calls; it must be non-nil for a Scoped
// service.
func (r *Registry) Resolve(service string, scopeID *uuid.UUID) (interface{}, error) {
	r.mu.RLock()
	e, ok := r.services[service]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownService
	}

	switch e.lifetime {
	case Transient:
		return e.factory()
	case Singleton:
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.hasSingle {
			return e.singleton, nil
		}
		inst, err := e.factory()
		if err != nil {
			return nil, err
		}
		e.singleton, e.hasSingle = inst, true
		return inst, nil
	case Scoped:
		if scopeID == nil {
			return nil, fmt.Errorf("registry: scoped service %q called without a scope id", service)
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		if s, ok := e.scoped[*scopeID]; ok {
			s.lastTouch = time.Now()
			return s.value, nil
		}
		inst, err := e.factory()
		if err != nil {
			return nil, err
		}
		e.scoped[*scopeID] = &scopedInstance{value: inst, lastTouch: time.Now()}
		return inst, nil
	default:
		return nil, fmt.Errorf("registry: unknown lifetime %d", e.lifetime)
	}
}

// Release drops a scoped instance immediately, for callers able to signal
// "done with this scope" explicitly rather than waiting for the sweeper
// (§9 Design Notes: "attach scope lifetime to an explicit release(scope_id)
// call ... document the requirement that the caller holds the scope
// handle").
func (r *Registry) Release(service string, scopeID uuid.UUID) {
	r.mu.RLock()
	e, ok := r.services[service]
	r.mu.RUnlock()
	if !ok {
		return
	}
	e.mu.Lock()
	delete(e.scoped, scopeID)
	e.mu.Unlock()
}

// Stop halts the scoped-instance sweeper.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *Registry) sweepLoop() {
	t := time.NewTicker(r.sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			r.sweep()
		case <-r.stop:
			return
		}
	}
}

func (r *Registry) sweep() {
	now := time.Now()
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.services))
	for _, e := range r.services {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	for _, e := range entries {
		e.mu.Lock()
		for id, s := range e.scoped {
			if now.Sub(s.lastTouch) > r.scopeTTL {
				delete(e.scoped, id)
			}
		}
		e.mu.Unlock()
	}
	log.Debug().Str("component", "registry").Msg("scoped-instance sweep completed")
}

// Invoke calls the named method on an implementation instance with the
// given (already type-matched) arguments, via reflection — the single
// generic dispatch table the Design Notes recommend in place of a
// per-interface code generator (§4.5, §9).
func Invoke(instance interface{}, method string, args []reflect.Value) ([]reflect.Value, error) {
	v := reflect.ValueOf(instance)
	m := v.MethodByName(method)
	if !m.IsValid() {
		return nil, fmt.Errorf("registry: %T has no method %q", instance, method)
	}
	return m.Call(args), nil
}
