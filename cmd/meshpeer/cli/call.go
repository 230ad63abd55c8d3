package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/myelnet/meshrpc/runtime"
)

func callCommand() *ffcli.Command {
	sf := newSharedFlags("call")
	var procedure string
	sf.fs.StringVar(&procedure, "procedure", "", "\"Service.Method\" to invoke")

	return &ffcli.Command{
		Name:       "call",
		ShortUsage: "meshpeer call -procedure Service.Method [flags] [json-args...]",
		ShortHelp:  "Connect to configured peers and make one RPC call",
		FlagSet:    sf.fs,
		Exec: func(ctx context.Context, args []string) error {
			if procedure == "" {
				return fmt.Errorf("cli: -procedure is required")
			}
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
				if err := rt.ConnectPeer(ctx, pc, pc.ReverseChannels); err != nil {
					return fmt.Errorf("cli: connect to %q: %w", pc.FriendlyName, wrapErr(err))
				}
			}

			// Each positional arg is taken as a raw JSON value (a quoted
			// string, a number, "true", "null", ...) so the wire format
			// stays the plain JSON array registry.DecodeArgs expects,
			// rather than double-encoding the arg text itself as a string.
			argsJSON := "[" + strings.Join(args, ",") + "]"
			var probe json.RawMessage
			if err := json.Unmarshal([]byte(argsJSON), &probe); err != nil {
				return fmt.Errorf("cli: malformed arguments: %w", err)
			}

			result, err := rt.Engine.Call(ctx, nil, procedure, []byte(argsJSON))
			if err != nil {
				return wrapErr(err)
			}
			if len(result) == 0 {
				fmt.Println("ok")
				return nil
			}
			fmt.Println(string(result))
			return nil
		},
	}
}
