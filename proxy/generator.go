package proxy

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/myelnet/meshrpc/registry"
)

// Descriptors is the subset of the Implementation Registry the generator
// needs to resolve a service's method table.
type Descriptors interface {
	Descriptor(service string) (*registry.ServiceDescriptor, bool)
}

// Generator produces a Proxy for a service contract from the descriptor
// table in descs. When descs is the Registry (as runtime.New wires it),
// only services registered there have a descriptor, and For returns an
// error for a contract with no registration in it; a Proxy for such a
// contract is built with New and an explicit ServiceDescriptor.
type Generator struct {
	caller Caller
	descs  Descriptors
}

// NewGenerator builds a Generator bound to the Invocation Engine and the
// descriptor source (ordinarily the Runtime's Registry).
func NewGenerator(caller Caller, descs Descriptors) *Generator {
	return &Generator{caller: caller, descs: descs}
}

// For synthesizes a Proxy for service, scoped to scopeID (nil for
// Singleton/Transient lifetimes).
func (g *Generator) For(service string, scopeID *uuid.UUID) (*Proxy, error) {
	desc, ok := g.descs.Descriptor(service)
	if !ok {
		return nil, fmt.Errorf("proxy: no descriptor registered for service %q", service)
	}
	return New(g.caller, service, desc, scopeID), nil
}
