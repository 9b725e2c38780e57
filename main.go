// peerlink - peer session client and relay for small real-time games.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"peerlink/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "peerlink: %v\n", err)
		os.Exit(1)
	}
}
