package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/johnsaigle/zombie-detector/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.Execute(ctx)
	stop()

	code := cmd.ExitCode(err)
	switch {
	case code == cmd.ExitInterrupted:
		fmt.Fprintln(os.Stderr, "Interrupted")
	case cmd.Reportable(err):
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(code)
}
