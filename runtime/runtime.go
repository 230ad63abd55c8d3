package runtime

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net"

	"github.com/rs/zerolog/log"

	"github.com/myelnet/meshrpc/catalogue"
	"github.com/myelnet/meshrpc/dispatch"
	"github.com/myelnet/meshrpc/invoke"
	"github.com/myelnet/meshrpc/lifecycle"
	"github.com/myelnet/meshrpc/pool"
	"github.com/myelnet/meshrpc/proxy"
	"github.com/myelnet/meshrpc/registry"
	"github.com/myelnet/meshrpc/security"
)

// Runtime is one assembled MeshRPC node: every component package wired
// together per Design Notes §9, ready to Listen and/or Connect.
type Runtime struct {
	cfg Config

	PrivateKey *rsa.PrivateKey
	Keys       *security.KeyStore
	Catalogue  *catalogue.Catalogue
	Registry   *registry.Registry
	Pool       *pool.Pool
	Engine     *invoke.Engine
	Dispatch   *dispatch.Dispatcher
	Lifecycle  *lifecycle.Manager
	Proxies    *proxy.Generator
	Stats      *Stats

	handshaker *security.Handshaker
	listener   net.Listener
}

// New assembles a Runtime from cfg, loading or generating the node's key
// pair on disk (§6.6 "my_keys ... generated to disk if absent").
func New(cfg Config) (*Runtime, error) {
	cfg = cfg.WithDefaults()

	priv, err := security.LoadOrGenerateKeyPair(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("runtime: load key pair: %w", err)
	}

	keys := security.NewKeyStore()
	for _, p := range cfg.Peers {
		if err := keys.Add(p.FriendlyName, p.TrustedPublicKey); err != nil {
			return nil, fmt.Errorf("runtime: register peer %q: %w", p.FriendlyName, err)
		}
	}

	cat := catalogue.New()
	reg := registry.New(cfg.RegistrySweepInterval, cfg.RegistryScopeTTL)
	p := pool.New(nil, nil, nil)
	engine := invoke.New(cat, p, cfg.RequestTimeout)
	p.SetSink(engine)

	stats := NewStats()
	dsp := dispatch.New(reg, cat, engine, cfg.AllowMesh, stats.OnDispatchEvent)
	p.SetDispatcher(dsp)

	handshaker := security.NewHandshaker(priv, keys)
	localServices := func() []string { return reg.ServiceNames() }
	lm := lifecycle.New(handshaker, keys, cat, p, engine, cfg.ReconnectDelay, localServices, stats.OnLifecycleEvent)
	p.SetTeardown(lm)
	p.SetCatalogueSink(lm)

	gen := proxy.NewGenerator(engine, reg)

	rt := &Runtime{
		cfg:        cfg,
		PrivateKey: priv,
		Keys:       keys,
		Catalogue:  cat,
		Registry:   reg,
		Pool:       p,
		Engine:     engine,
		Dispatch:   dsp,
		Lifecycle:  lm,
		Proxies:    gen,
		Stats:      stats,
		handshaker: handshaker,
	}
	return rt, nil
}

// Listen opens the configured listen address and accepts peers
// indefinitely until ctx is cancelled or Close is called (§4.10 "Accept
// path").
func (rt *Runtime) Listen(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", rt.cfg.ListenAddress, rt.cfg.ListenPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("runtime: listen: %w", err)
	}
	rt.listener = ln

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("runtime: accept: %w", err)
			}
		}
		go func() {
			if err := rt.Lifecycle.Accept(conn); err != nil {
				log.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("runtime: accept failed")
			}
		}()
	}
}

// ConnectPeer runs the connect path for one configured peer (§4.10
// "Connect path").
func (rt *Runtime) ConnectPeer(ctx context.Context, pc PeerConfig, reverseChannels int) error {
	addr := pc.Address
	dial := func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}
	conns := pc.Connections
	if conns < 1 {
		conns = 1
	}
	if err := rt.Lifecycle.Connect(ctx, lifecycle.ConnectOptions{
		Dial:            dial,
		AcceptorKey:     pc.TrustedPublicKey,
		PeerName:        pc.FriendlyName,
		Connections:     conns,
		ReverseChannels: reverseChannels,
	}); err != nil {
		return err
	}
	if pc.IsRoot {
		rt.Engine.AddRoot(pc.FriendlyName)
	}
	return nil
}

// Close runs the process-exit path (§4.10) and releases listening
// resources.
func (rt *Runtime) Close() error {
	rt.Lifecycle.Shutdown()
	rt.Registry.Stop()
	if rt.listener != nil {
		return rt.listener.Close()
	}
	return nil
}
