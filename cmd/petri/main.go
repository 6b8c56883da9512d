package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"petri/cmd/petri/commands"
	"petri/pkg/domain"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := commands.NewRootCmd().ExecuteContext(ctx); err != nil {
		res := domain.ResultOf(err)
		fmt.Fprintf(os.Stderr, "Error: %s\n", res.Message)
		if res.Hint != "" {
			fmt.Fprintf(os.Stderr, "Hint: %s\n", res.Hint)
		}
		stop()
		os.Exit(1)
	}
}
