// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spanops/spand/internal/auth"
	"github.com/spanops/spand/internal/config"
	xlog "github.com/spanops/spand/internal/log"
)

// runRegister walks the proof-of-proximity flow: the user opens the panel
// door (or presses the unlock button on old firmware), the panel issues a
// token, and the token lands in the token file for the daemon to pick up.
func runRegister(args []string) int {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file (YAML)")
	host := fs.String("host", "", "panel host (overrides configuration)")
	timeout := fs.Duration("timeout", 15*time.Minute, "how long to wait for the proximity proof")
	logLevel := fs.String("log-level", "info", "log level during registration")
	_ = fs.Parse(args)

	xlog.Configure(xlog.Config{
		Level:   *logLevel,
		Service: "spand",
		Version: version,
	})

	cfg, err := config.NewLoader(resolveConfigPath(*configPath), version).Load()
	if err != nil {
		if *host == "" {
			fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
			fmt.Fprintln(os.Stderr, "hint: pass -host when running without a config")
			return 1
		}
		cfg = config.Defaults()
	}
	if *host != "" {
		cfg.PanelHost = *host
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	fmt.Fprintf(os.Stderr, "registering with panel at %s\n", cfg.PanelHost)
	fmt.Fprintln(os.Stderr, "prove proximity now: open the panel door, or press the door")
	fmt.Fprintln(os.Stderr, "unlock button 3 times on older firmware")

	token, err := auth.NewFlow(cfg.PanelHost).WaitAndRegister(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "registration failed: %v\n", err)
		return 1
	}

	tokenFile := cfg.ResolveTokenFile()
	if err := auth.NewTokenStore(tokenFile).Save(token); err != nil {
		fmt.Fprintf(os.Stderr, "token obtained but could not be saved: %v\n", err)
		return 1
	}

	fmt.Printf("access token saved to %s\n", tokenFile)
	return 0
}
