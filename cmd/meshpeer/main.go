package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/myelnet/meshrpc/cmd/meshpeer/cli"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := cli.Root().ParseAndRun(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "meshpeer: %+v\n", err)
		os.Exit(1)
	}
}
