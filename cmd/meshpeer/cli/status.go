package cli

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/myelnet/meshrpc/runtime"
)

func statusCommand() *ffcli.Command {
	sf := newSharedFlags("status")
	return &ffcli.Command{
		Name:       "status",
		ShortUsage: "meshpeer status [flags]",
		ShortHelp:  "Connect to configured peers and print reachability and stats",
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
				err := rt.ConnectPeer(ctx, pc, pc.ReverseChannels)
				state := "up"
				if err != nil {
					state = fmt.Sprintf("down: %+v", wrapErr(err))
				}
				fmt.Printf("%-20s %s\n", pc.FriendlyName, state)
			}

			snap := rt.Stats.Snapshot()
			fmt.Printf("inbound calls:   %s (%s errors, %s forwarded)\n",
				humanize.Comma(snap.InboundTotal), humanize.Comma(snap.InboundErrors), humanize.Comma(snap.InboundForwarded))
			fmt.Printf("disconnects:     %s\n", humanize.Comma(snap.Disconnects))
			fmt.Printf("reconnect fails: %s\n", humanize.Comma(snap.ReconnectFailed))
			if !snap.LastEvent.IsZero() {
				fmt.Printf("last event:      %s\n", humanize.Time(snap.LastEvent))
			}
			return nil
		},
	}
}
