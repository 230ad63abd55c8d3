package e2e_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net"
	"reflect"
	"time"

	"github.com/myelnet/meshrpc/catalogue"
	"github.com/myelnet/meshrpc/dispatch"
	"github.com/myelnet/meshrpc/invoke"
	"github.com/myelnet/meshrpc/lifecycle"
	"github.com/myelnet/meshrpc/pool"
	"github.com/myelnet/meshrpc/registry"
	"github.com/myelnet/meshrpc/security"
)

// testKeyBits keeps RSA key generation fast; production nodes use
// security.DefaultKeyBits (8192) via LoadOrGenerateKeyPair instead.
const testKeyBits = 1024

// Greeter is the sample remote-only contract every scenario calls through.
type Greeter interface {
	Greet(name string) (string, error)
}

type greeterImpl struct{ reply string }

func (g greeterImpl) Greet(name string) (string, error) {
	if g.reply != "" {
		return g.reply, nil
	}
	return "hello " + name, nil
}

func greeterDescriptor() *registry.ServiceDescriptor {
	return registry.DescriptorFromType("Greeter", reflect.TypeOf((*Greeter)(nil)).Elem())
}

// SlowGreeter exists purely to give the "peer disconnect mid-call"
// scenario a deterministic window in which to tear the connection down
// while a request is still outstanding.
type SlowGreeter interface {
	Greet(name string) (string, error)
}

type slowGreeterImpl struct{ delay time.Duration }

func (g slowGreeterImpl) Greet(name string) (string, error) {
	time.Sleep(g.delay)
	return "hello " + name, nil
}

func slowGreeterDescriptor() *registry.ServiceDescriptor {
	return registry.DescriptorFromType("SlowGreeter", reflect.TypeOf((*SlowGreeter)(nil)).Elem())
}

// node is a minimal hand-wired MeshRPC peer for tests: the same packages
// runtime.New assembles, without disk key persistence or a real listener.
type node struct {
	name       string
	priv       *rsa.PrivateKey
	pub        security.PublicKey
	keys       *security.KeyStore
	handshaker *security.Handshaker
	catalogue  *catalogue.Catalogue
	registry   *registry.Registry
	pool       *pool.Pool
	engine     *invoke.Engine
	dispatch   *dispatch.Dispatcher
	lifecycle  *lifecycle.Manager
}

func newNode(name string, allowMesh bool) *node {
	priv, err := rsa.GenerateKey(rand.Reader, testKeyBits)
	if err != nil {
		panic(err)
	}
	pub := security.EncodePublicKey(&priv.PublicKey)

	keys := security.NewKeyStore()
	cat := catalogue.New()
	reg := registry.New(time.Hour, time.Hour)
	p := pool.New(nil, nil, nil)
	engine := invoke.New(cat, p, 2*time.Second)
	p.SetSink(engine)
	dsp := dispatch.New(reg, cat, engine, allowMesh, nil)
	p.SetDispatcher(dsp)

	handshaker := security.NewHandshaker(priv, keys)
	lm := lifecycle.New(handshaker, keys, cat, p, engine, time.Second, func() []string { return reg.ServiceNames() }, nil)
	p.SetTeardown(lm)
	p.SetCatalogueSink(lm)

	return &node{
		name:       name,
		priv:       priv,
		pub:        pub,
		keys:       keys,
		handshaker: handshaker,
		catalogue:  cat,
		registry:   reg,
		pool:       p,
		engine:     engine,
		dispatch:   dsp,
		lifecycle:  lm,
	}
}

func (n *node) registerGreeter(reply string) {
	n.registry.Register(greeterDescriptor(), registry.Singleton, func() (interface{}, error) {
		return greeterImpl{reply: reply}, nil
	})
}

func (n *node) registerSlowGreeter(delay time.Duration) {
	n.registry.Register(slowGreeterDescriptor(), registry.Singleton, func() (interface{}, error) {
		return slowGreeterImpl{delay: delay}, nil
	})
}

// connect drives the real accept/connect path (lifecycle.Manager.Accept on
// b, lifecycle.Manager.Connect on a) over one in-memory full-duplex pipe:
// the same handshake, catalogue-exchange, and pool-attach wiring
// runtime.Runtime.Listen/ConnectPeer use in production, rather than a
// hand-rolled duplicate of it.
func connect(a, b *node) {
	if err := a.keys.Add(b.name, b.pub); err != nil {
		panic(err)
	}
	if err := b.keys.Add(a.name, a.pub); err != nil {
		panic(err)
	}

	connA, connB := net.Pipe()

	acceptErrCh := make(chan error, 1)
	go func() {
		acceptErrCh <- b.lifecycle.Accept(connB)
	}()

	err := a.lifecycle.Connect(context.Background(), lifecycle.ConnectOptions{
		Dial:        func(ctx context.Context) (net.Conn, error) { return connA, nil },
		AcceptorKey: b.pub,
		PeerName:    b.name,
		Connections: 1,
	})
	if err != nil {
		panic(err)
	}
	if err := <-acceptErrCh; err != nil {
		panic(err)
	}
}

func callGreet(ctx context.Context, n *node, name string) (string, error) {
	return call(ctx, n, "Greeter.Greet", name)
}

func callSlowGreet(ctx context.Context, n *node, name string) (string, error) {
	return call(ctx, n, "SlowGreeter.Greet", name)
}

func call(ctx context.Context, n *node, procedure, name string) (string, error) {
	argBytes, err := registry.EncodeArgs([]reflect.Value{reflect.ValueOf(name)})
	if err != nil {
		return "", err
	}
	result, err := n.engine.Call(ctx, nil, procedure, argBytes)
	if err != nil {
		return "", err
	}
	v, err := registry.DecodeResult(result, reflect.TypeOf(""))
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

func withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Second)
}
