// Package cli implements the meshpeer command-line surface: the external,
// supplemental way to drive a Runtime from a shell instead of embedding it
// in another Go program.
package cli

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/myelnet/meshrpc/runtime"
	"github.com/myelnet/meshrpc/security"
)

// sharedFlags are the §6.6 configuration surface flags every subcommand
// that builds a Runtime accepts.
type sharedFlags struct {
	fs *flag.FlagSet

	listenAddress  string
	listenPort     int
	token          string
	keyPath        string
	requestTimeout int64 // ms, -1 disables
	reconnectDelay int64 // ms
	allowMesh      bool
	peers          peerFlagList
}

func newSharedFlags(name string) *sharedFlags {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	s := &sharedFlags{fs: fs}
	fs.StringVar(&s.listenAddress, "listen-address", "0.0.0.0", "address to listen on")
	fs.IntVar(&s.listenPort, "listen-port", 9753, "port to listen on")
	fs.StringVar(&s.token, "token", "", "shared secret; empty disables the token check")
	fs.StringVar(&s.keyPath, "key-path", "meshrpc.key", "path to the node's persisted key pair")
	fs.Int64Var(&s.requestTimeout, "request-timeout-ms", -1, "global per-call timeout in milliseconds, -1 for infinite")
	fs.Int64Var(&s.reconnectDelay, "reconnect-delay-ms", int64(runtime.DefaultReconnectDelay/time.Millisecond), "delay between reconnect attempts in milliseconds")
	fs.BoolVar(&s.allowMesh, "allow-mesh", false, "forward calls for services hosted by other peers")
	fs.Var(&s.peers, "peer", "repeatable; name=...,addr=...,conn=N,reverse=N,key=path,signin=url,root=true")
	return s
}

func (s *sharedFlags) toConfig() (runtime.Config, error) {
	peers := make([]runtime.PeerConfig, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	cfg := runtime.Config{
		ListenAddress:  s.listenAddress,
		ListenPort:     s.listenPort,
		Token:          s.token,
		KeyPath:        s.keyPath,
		Peers:          peers,
		RequestTimeout: time.Duration(s.requestTimeout) * time.Millisecond,
		ReconnectDelay: time.Duration(s.reconnectDelay) * time.Millisecond,
		AllowMesh:      s.allowMesh,
	}
	if s.requestTimeout < 0 {
		cfg.RequestTimeout = -1
	}
	return cfg, nil
}

// peerFlagList implements flag.Value so -peer can repeat on the command
// line, one comma-separated key=value list per occurrence.
type peerFlagList []runtime.PeerConfig

func (l *peerFlagList) String() string {
	var sb strings.Builder
	for i, p := range *l {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(p.FriendlyName)
	}
	return sb.String()
}

func (l *peerFlagList) Set(raw string) error {
	pc := runtime.PeerConfig{Connections: 1}
	for _, field := range strings.Split(raw, ",") {
		kv := strings.SplitN(field, "=", 2)
		if len(kv) != 2 {
			return fmt.Errorf("cli: malformed -peer field %q", field)
		}
		key, val := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])
		switch key {
		case "name":
			pc.FriendlyName = val
		case "addr":
			pc.Address = val
		case "conn":
			n, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("cli: -peer conn: %w", err)
			}
			pc.Connections = n
		case "reverse":
			n, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("cli: -peer reverse: %w", err)
			}
			pc.ReverseChannels = n
		case "key":
			der, err := readDER(val)
			if err != nil {
				return fmt.Errorf("cli: -peer key: %w", err)
			}
			pc.TrustedPublicKey = security.PublicKey(der)
		case "signin":
			pc.SignInURL = val
		case "token":
			pc.Token = val
		case "root":
			pc.IsRoot = val == "true"
		default:
			return fmt.Errorf("cli: unknown -peer field %q", key)
		}
	}
	if pc.FriendlyName == "" {
		return fmt.Errorf("cli: -peer requires a name field")
	}
	*l = append(*l, pc)
	return nil
}
