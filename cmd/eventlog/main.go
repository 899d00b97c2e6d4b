// Command eventlog inspects and maintains an event bus SQLite log.
//
//	eventlog -db events.db list -kind order.placed -status failed
//	eventlog -db events.db show -id 5f0c...
//	eventlog -db events.db stats
//	eventlog -days 14 cleanup
//
// Flags default to the EVENTBUS_* environment, a .env file in the working
// directory, and the file named by EVENTBUS_CONFIG.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/randalmurphal/eventbus/internal/eventlog"
	"github.com/randalmurphal/eventbus/pkg/eventbus/config"
)

func main() {
	settings, err := config.Load(os.Getenv("EVENTBUS_CONFIG"), ".env")
	if err != nil {
		exitf("load settings: %v", err)
	}

	cfg, err := eventlog.ParseConfig(flag.CommandLine, os.Args[1:], settings)
	if err != nil {
		exitf("Error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := eventlog.Run(ctx, cfg, os.Stdout); err != nil {
		stop()
		exitf("Error: %v", err)
	}
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
