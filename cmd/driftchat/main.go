package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/driftchat/driftchat/internal/config"
	"github.com/driftchat/driftchat/internal/engine"
	"github.com/driftchat/driftchat/internal/events"
	"github.com/driftchat/driftchat/internal/ops"
	"github.com/driftchat/driftchat/internal/store"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "init" {
		handleInit()
		return
	}

	var (
		showVersion = flag.Bool("version", false, "Show version information")
		configPath  = flag.String("config", "", "Path to configuration file")
		community   = flag.String("community", "", "Community to open")
		channel     = flag.String("channel", events.DefaultChannel, "Channel to open")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("driftchat %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		os.Exit(0)
	}

	if *configPath == "" {
		fmt.Println("driftchat - headless Nostr community chat client")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  driftchat init                                  Generate example configuration")
		fmt.Println("  driftchat --version                             Show version information")
		fmt.Println("  driftchat --config <path> --community <id>      Open and tail a channel")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if *community == "" {
		fmt.Fprintln(os.Stderr, "Error: --community is required")
		os.Exit(1)
	}

	if err := run(cfg, *community, *channel); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, community, channel string) error {
	logger := ops.NewLogger(&cfg.Logging)
	ops.SetDefault(logger)
	logger.LogStartup(version, commit)

	eng, err := engine.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	defer eng.Shutdown()

	eng.AddEventHandler(func(key store.Key, event *nostr.Event) {
		printEvent(event)
	})

	eng.Start()

	msgs, err := eng.OpenChannel(community, channel)
	if err != nil {
		return fmt.Errorf("failed to open %s/%s: %w", community, channel, err)
	}

	fmt.Printf("-- %s/%s (%d messages) --\n", community, channel, len(msgs))
	for _, msg := range msgs {
		printEvent(msg.Event)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.LogShutdown("signal")
	return nil
}

func printEvent(event *nostr.Event) {
	ts := time.Unix(int64(event.CreatedAt), 0).Format("15:04:05")
	author := event.PubKey
	if len(author) > 8 {
		author = author[:8]
	}
	fmt.Printf("[%s] %s: %s\n", ts, author, event.Content)
}

func handleInit() {
	exampleConfig, err := config.GetExampleConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading example config: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(string(exampleConfig))
}
