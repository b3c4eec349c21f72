// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spanops/spand/internal/discovery"
	xlog "github.com/spanops/spand/internal/log"
)

// runDiscover browses mDNS for SPAN panels and prints the validated
// candidates.
func runDiscover(args []string) int {
	fs := flag.NewFlagSet("discover", flag.ExitOnError)
	timeout := fs.Duration("timeout", 10*time.Second, "how long to browse for panels")
	logLevel := fs.String("log-level", "warn", "log level during discovery")
	_ = fs.Parse(args)

	xlog.Configure(xlog.Config{
		Level:   *logLevel,
		Service: "spand",
		Version: version,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stderr, "browsing for SPAN panels (%s)...\n", *timeout)

	candidates, err := discovery.NewBrowser().Browse(ctx, *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "discovery failed: %v\n", err)
		return 1
	}
	if len(candidates) == 0 {
		fmt.Fprintln(os.Stderr, "no panels found")
		return 1
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "HOST\tSERIAL\tFIRMWARE\tINSTANCE")
	for _, c := range candidates {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.Host, c.Serial, c.Firmware, c.Instance)
	}
	_ = w.Flush()
	return 0
}
