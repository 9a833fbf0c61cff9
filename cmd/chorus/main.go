// Package main is the entry point for the chorus plugin runtime.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dshills/chorus/internal/app"
	"github.com/dshills/chorus/internal/marketplace"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		showVersion bool
		logLevel    string
		installSrc  string
		uninstall   string
		enable      string
		disable     string
		list        bool
		search      string
	)

	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&installSrc, "install", "", "Install a plugin from a repo reference or directory")
	flag.StringVar(&uninstall, "uninstall", "", "Uninstall a plugin by name")
	flag.StringVar(&enable, "enable", "", "Enable a plugin by name")
	flag.StringVar(&disable, "disable", "", "Disable a plugin by name")
	flag.BoolVar(&list, "list", false, "List installed plugins")
	flag.StringVar(&search, "search", "", "Search the curated marketplace")
	flag.Parse()

	if showVersion {
		fmt.Printf("chorus %s (%s)\n", version, commit)
		return 0
	}

	application, err := app.New(app.Options{LogLevel: logLevel})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer application.Shutdown(ctx)

	if err := application.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	switch {
	case installSrc != "":
		rec, err := application.Manager().Install(ctx, installSrc)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Printf("installed %s v%s\n", rec.Name, rec.Version)
		return 0

	case uninstall != "":
		if err := application.Manager().Uninstall(ctx, uninstall); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Printf("uninstalled %s\n", uninstall)
		return 0

	case enable != "":
		if err := application.Manager().Enable(ctx, enable); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Printf("enabled %s\n", enable)
		return 0

	case disable != "":
		if err := application.Manager().Disable(ctx, disable); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Printf("disabled %s\n", disable)
		return 0

	case list:
		for _, rec := range application.Manager().List() {
			state := "disabled"
			if rec.Enabled {
				state = "enabled"
			}
			fmt.Printf("%-24s %-10s %s\n", rec.Name, rec.Version, state)
		}
		return 0

	case search != "":
		entries, err := application.Marketplace().FetchCurated(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		for _, e := range marketplace.Search(entries, search) {
			verified := ""
			if e.Verified {
				verified = " [verified]"
			}
			fmt.Printf("%-24s %-10s %s%s\n", e.Manifest.Name, e.Manifest.Version,
				e.Manifest.Description, verified)
		}
		return 0
	}

	// No command: run the host until interrupted.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals
	return 0
}
