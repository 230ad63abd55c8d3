package runtime

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/myelnet/meshrpc/dispatch"
	"github.com/myelnet/meshrpc/lifecycle"
	"github.com/myelnet/meshrpc/wire"
)

func TestConfigWithDefaultsFillsZeroValues(t *testing.T) {
	cfg := Config{}.WithDefaults()
	require.Equal(t, DefaultReconnectDelay, cfg.ReconnectDelay)
	require.Equal(t, time.Duration(-1), cfg.RequestTimeout)
	require.Equal(t, 30*time.Second, cfg.RegistrySweepInterval)
	require.Equal(t, 10*time.Minute, cfg.RegistryScopeTTL)
	require.Equal(t, "meshrpc.key", cfg.KeyPath)
}

func TestConfigWithDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := Config{
		ReconnectDelay: time.Second,
		RequestTimeout: 5 * time.Second,
		KeyPath:        "/tmp/my.key",
	}.WithDefaults()
	require.Equal(t, time.Second, cfg.ReconnectDelay)
	require.Equal(t, 5*time.Second, cfg.RequestTimeout)
	require.Equal(t, "/tmp/my.key", cfg.KeyPath)
}

func TestErrorWrapPreservesKindAndMessage(t *testing.T) {
	werr := wire.NewError(wire.KindTimeout, "call %s timed out", "abc")
	err := Wrap(werr)
	require.Equal(t, werr.Error(), err.Error())
	require.True(t, err.HasKind(wire.KindTimeout))
	require.False(t, err.HasKind(wire.KindNoRoute))
	require.Same(t, werr, err.Unwrap().(*wire.Error))
}

func TestStatsAggregatesDispatchAndLifecycleEvents(t *testing.T) {
	s := NewStats()
	s.OnDispatchEvent(dispatch.Event{Procedure: "Greeter.Greet"})
	s.OnDispatchEvent(dispatch.Event{Procedure: "Greeter.Greet", Err: true})
	s.OnDispatchEvent(dispatch.Event{Procedure: "Greeter.Greet", Forwarded: true})
	s.OnLifecycleEvent(lifecycle.Event{Name: lifecycle.EventDisconnected})
	s.OnLifecycleEvent(lifecycle.Event{Name: lifecycle.EventReconnectFailed})

	snap := s.Snapshot()
	require.Equal(t, int64(3), snap.InboundTotal)
	require.Equal(t, int64(1), snap.InboundErrors)
	require.Equal(t, int64(1), snap.InboundForwarded)
	require.Equal(t, int64(1), snap.Disconnects)
	require.Equal(t, int64(1), snap.ReconnectFailed)
	require.False(t, snap.LastEvent.IsZero())
}

func TestNewWiresRuntimeAndPersistsKeyPair(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{KeyPath: filepath.Join(dir, "meshrpc.key")}

	rt, err := New(cfg)
	require.NoError(t, err)
	require.NotNil(t, rt.PrivateKey)
	require.NotNil(t, rt.Catalogue)
	require.NotNil(t, rt.Registry)
	require.NotNil(t, rt.Pool)
	require.NotNil(t, rt.Engine)
	require.NotNil(t, rt.Dispatch)
	require.NotNil(t, rt.Lifecycle)
	require.NotNil(t, rt.Proxies)
	require.NotNil(t, rt.Stats)

	require.NoError(t, rt.Close())
}
