// Command genqueue runs the generation queue server and talks to a
// running one.
//
//	genqueue serve
//	genqueue submit --prompt "a red fox" --workflow workflow.json --watch
//	genqueue status <job-id>
//	genqueue cancel <job-id>
//	genqueue stats
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1) //nolint:gocritic // stop already called
	}
}
