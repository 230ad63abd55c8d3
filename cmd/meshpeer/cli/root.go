package cli

import (
	"context"
	"flag"

	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
)

// Root builds the meshpeer command tree: serve, peers add/list, call,
// status.
func Root() *ffcli.Command {
	rootFS := flag.NewFlagSet("meshpeer", flag.ExitOnError)
	return &ffcli.Command{
		Name:       "meshpeer",
		ShortUsage: "meshpeer <subcommand> [flags]",
		ShortHelp:  "Run and operate a MeshRPC node",
		FlagSet:    rootFS,
		Options:    []ff.Option{ff.WithEnvVarPrefix("MESHPEER")},
		Subcommands: []*ffcli.Command{
			serveCommand(),
			peersCommand(),
			callCommand(),
			statusCommand(),
		},
		Exec: func(ctx context.Context, args []string) error {
			return flag.ErrHelp
		},
	}
}
