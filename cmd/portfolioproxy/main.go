package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"portfolioproxy/internal/config"
	"portfolioproxy/internal/logging"
	"portfolioproxy/internal/server"
)

// Build information (set by linker flags during build)
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	var showVersion bool
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(2)
	}

	if showVersion {
		fmt.Println()
		fmt.Println("📷 portfolioproxy - Dropbox portfolio API")
		fmt.Printf("📦 Version: %s\n", version)
		if commit != "unknown" {
			fmt.Printf("🔗 Commit: %s\n", commit)
		}
		if date != "unknown" {
			fmt.Printf("📅 Built: %s\n", date)
		}
		fmt.Println()
		os.Exit(0)
	}

	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()

	if err := cfg.Validate(); err != nil {
		logging.Fatal("Configuration validation failed", zap.Error(err))
	}

	logging.Info("Starting portfolioproxy", zap.String("version", version), zap.String("commit", commit))

	srv, err := server.New(cfg, nil)
	if err != nil {
		logging.Fatal("Failed to create server", zap.Error(err))
	}

	if err := srv.Start(); err != nil {
		logging.Fatal("Server failed", zap.Error(err))
	}
}
