package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/nextranet/gateway/acs/internal/logger"
	"github.com/nextranet/gateway/acs/pkg/app"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	// Command line flags
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		showHelp    = flag.Bool("help", false, "Show help information")
		debug       = flag.Bool("debug", false, "Enable debug mode (sets logger level to debug)")
	)

	flag.Parse()

	// Show help
	if *showHelp {
		printHelp()
		os.Exit(0)
	}

	// Show version
	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	// Print banner
	printBanner()

	// Create application instance
	application, err := app.New(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	if *debug {
		cfg := application.GetConfig()
		cfg.Logger.Level = "debug"
		logger.SetLogLevel("debug")
		logger.InitLog.Info("Debug mode enabled")
	}

	// Start blocks until a shutdown signal arrives
	if err := application.Start(); err != nil {
		logger.InitLog.Fatalf("Failed to start application: %v", err)
	}

	logger.InitLog.Info("Application stopped successfully")
}

func printBanner() {
	banner := `
 _   _           _                        _
| \ | | _____  _| |_ _ __ __ _ _ __   ___| |_
|  \| |/ _ \ \/ / __| '__/ _` + "`" + ` | '_ \ / _ \ __|
| |\  |  __/>  <| |_| | | (_| | | | |  __/ |_
|_| \_|\___/_/\_\__|_|  \__,_|_| |_|\___|\__|

`
	fmt.Println(banner)
	fmt.Printf("Version: %s | Build Time: %s | Git Commit: %s\n\n", version, buildTime, gitCommit)
}

func printVersion() {
	fmt.Printf("Nextranet ACS\n")
	fmt.Printf("Version:     %s\n", version)
	fmt.Printf("Build Time:  %s\n", buildTime)
	fmt.Printf("Git Commit:  %s\n", gitCommit)
}

func printHelp() {
	fmt.Println("Nextranet ACS - Auto-Configuration Server for TR-069/CWMP devices")
	fmt.Println()
	fmt.Println("This service terminates CWMP sessions from broadband CPEs, queues and")
	fmt.Println("dispatches device tasks, and runs fleet-wide workflows over device groups.")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  acs [options]")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -config string")
	fmt.Println("        Path to configuration file (default: searches for config.yaml)")
	fmt.Println("  -debug")
	fmt.Println("        Enable debug mode (sets logger level to debug)")
	fmt.Println("  -version")
	fmt.Println("        Show version information")
	fmt.Println("  -help")
	fmt.Println("        Show this help message")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  ACS_CONFIG_PATH")
	fmt.Println("        Alternative way to specify configuration file path")
	fmt.Println()
	fmt.Println("Default Service URLs:")
	fmt.Println("  CWMP endpoint:  http://localhost:7547")
	fmt.Println("  Operator API:   http://localhost:8080")
	fmt.Println()
	fmt.Println("Configuration File Locations (searched in order):")
	fmt.Println("  1. Command line -config flag")
	fmt.Println("  2. ACS_CONFIG_PATH environment variable")
	fmt.Println("  3. ./config.yaml")
	fmt.Println("  4. ./config.yml")
	fmt.Println("  5. ./conf/config.yaml")
	fmt.Println("  6. ./conf/config.yml")
	fmt.Println("  7. /etc/acs/config.yaml")
	fmt.Println("  8. /etc/acs/config.yml")
}
