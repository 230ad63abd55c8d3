package cli

import (
	"context"

	"github.com/peterbourgon/ff/v3/ffcli"
	"github.com/rs/zerolog/log"

	"github.com/myelnet/meshrpc/runtime"
)

func serveCommand() *ffcli.Command {
	sf := newSharedFlags("serve")
	return &ffcli.Command{
		Name:       "serve",
		ShortUsage: "meshpeer serve [flags]",
		ShortHelp:  "Run a MeshRPC node: accept peers and serve registered services",
		FlagSet:    sf.fs,
		Exec: func(ctx context.Context, args []string) error {
			cfg, err := sf.toConfig()
			if err != nil {
				return err
			}
			rt, err := runtime.New(cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			for _, pc := range cfg.Peers {
				pc := pc
				if err := rt.ConnectPeer(ctx, pc, pc.ReverseChannels); err != nil {
					log.Warn().Err(err).Str("peer", pc.FriendlyName).Msg("meshpeer: connect failed at startup")
				}
			}

			log.Info().Str("address", cfg.ListenAddress).Int("port", cfg.ListenPort).Msg("meshpeer: listening")
			return rt.Listen(ctx)
		},
	}
}
