// Mobile Relay - main entry point.
//
// The relay is the public-facing half of the bridge: it terminates
// mobile WebSocket connections (pairing, JWT auth, rate limiting) and
// forwards authenticated traffic across a single outbound tunnel to the
// operator's bridge client, where the local agent actually runs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/armorclaw/mobilerelay/internal/relayserver"
	"github.com/armorclaw/mobilerelay/pkg/config"
)

var (
	version   = "0.1.0"
	buildTime = "unknown"
)

type cliConfig struct {
	command      string
	configPath   string
	configOutput string
	port         int
	logLevel     string
	verbose      bool
	version      bool
	help         bool
}

func main() {
	cliCfg := parseFlags()

	if cliCfg.version {
		printVersion()
		return
	}

	if cliCfg.help {
		printHelp()
		return
	}

	switch cliCfg.command {
	case "init":
		runInitCommand(cliCfg)
	case "validate":
		runValidateCommand(cliCfg)
	case "help", "":
		if cliCfg.command == "" && len(flag.Args()) == 0 {
			runRelayServer(cliCfg)
			return
		}
		printHelp()
	default:
		runRelayServer(cliCfg)
	}
}

// runInitCommand generates an example configuration file.
func runInitCommand(cliCfg cliConfig) {
	outputPath := cliCfg.configOutput
	if outputPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("Failed to determine home directory: %v", err)
		}
		outputPath = filepath.Join(homeDir, ".mobilebridge", "config.toml")
	}
	if err := config.GenerateExampleConfig(outputPath); err != nil {
		log.Fatalf("Failed to generate example config: %v", err)
	}
	log.Printf("Example configuration written to: %s", outputPath)
	log.Println("Edit this file to set auth.jwt_secret, bridge.bridge_token, and relay.public_url")
	log.Println("")
	log.Println("Quick start:")
	log.Println("  1. Edit the config file above")
	log.Println("  2. mobilerelay validate --config <path>")
	log.Println("  3. mobilerelay start --config <path>")
}

// runValidateCommand validates the configuration without starting the relay.
func runValidateCommand(cliCfg cliConfig) {
	cfg, err := config.Load(cliCfg.configPath)
	if err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	log.Printf("Configuration is valid")
	log.Printf("  Mobile gateway port: %d", cfg.Channels.Mobile.WebSocketPort)
	log.Printf("  TLS enabled: %v", cfg.Channels.Mobile.TLSEnabled)
	log.Printf("  Rate limiting: %v", cfg.Enterprise.RateLimitEnabled)
	log.Printf("  Audit logging: %v", cfg.Enterprise.AuditLogEnabled)
	log.Printf("  IP allowlist: %v", cfg.Enterprise.IPWhitelistEnabled)
	log.Printf("  Metrics: %v (port %d)", cfg.Relay.MetricsEnabled, cfg.Relay.MetricsPort)
}

// runRelayServer loads configuration, wires the relay, and runs it until
// an interrupt or termination signal arrives.
func runRelayServer(cliCfg cliConfig) {
	log.Printf("Starting mobile relay v%s (build %s)", version, buildTime)

	cfg, err := config.Load(cliCfg.configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if cliCfg.port != 0 {
		cfg.Channels.Mobile.WebSocketPort = cliCfg.port
	}
	if cliCfg.logLevel != "" {
		cfg.Logging.Level = cliCfg.logLevel
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	srv, err := relayserver.New(cfg)
	if err != nil {
		log.Fatalf("Failed to build relay server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Println("Relay is running, press Ctrl+C to stop")
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("Relay exited with error: %v", err)
	}
	log.Println("Relay stopped")
}

func parseFlags() cliConfig {
	cfg := cliConfig{}

	flag.StringVar(&cfg.configPath, "config", "", "Path to configuration file")
	flag.StringVar(&cfg.configOutput, "config-output", "", "Output path for the init command")
	flag.IntVar(&cfg.port, "port", 0, "Mobile gateway WebSocket port (overrides config)")
	flag.StringVar(&cfg.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.BoolVar(&cfg.verbose, "v", false, "Verbose logging (sets log level to debug)")
	flag.BoolVar(&cfg.version, "version", false, "Print version and exit")
	flag.BoolVar(&cfg.help, "help", false, "Show help message")

	flag.Parse()

	args := flag.Args()
	if len(args) > 0 {
		cfg.command = args[0]
	}

	if cfg.verbose {
		cfg.logLevel = "debug"
	}

	return cfg
}

func printVersion() {
	fmt.Printf("mobilerelay v%s (build %s)\n", version, buildTime)
}

func printHelp() {
	fmt.Println(`mobilerelay - public relay for the mobile bridge

Usage:
  mobilerelay [flags] [command]

Commands:
  (none)     Start the relay server (default)
  init       Write an example configuration file
  validate   Validate a configuration file and exit
  help       Show this message

Flags:
  -config string       Path to configuration file
  -config-output string   Output path for the init command
  -port int            Mobile gateway WebSocket port (overrides config)
  -log-level string    debug, info, warn, error
  -v                   Verbose logging (shortcut for -log-level debug)
  -version             Print version and exit`)
}
