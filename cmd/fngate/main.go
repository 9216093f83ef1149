package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/wudi/fngate/internal/config"
	"github.com/wudi/fngate/internal/gateway"
	"github.com/wudi/fngate/internal/logging"
)

var version = "dev"

func main() {
	configPath := flag.String("config", config.DefaultPath, "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	validateOnly := flag.Bool("validate", false, "Validate configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("fngate %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.NewLoader().Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *validateOnly {
		fmt.Println("configuration is valid")
		os.Exit(0)
	}

	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)
	if closer != nil {
		defer closer.Close()
	}
	defer logging.Sync()

	server, err := gateway.NewServer(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create gateway: %v\n", err)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}
