// Mobile Bridge Client - main entry point.
//
// The bridge client runs on the operator's own machine. It connects
// outbound to the relay's /bridge endpoint, authenticates with a shared
// bridge token, and ferries mobile traffic to and from the local agent.
// No network listener runs here — everything is an outbound connection,
// so the machine this runs on never needs an open inbound port.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/armorclaw/mobilerelay/pkg/bridgeclient"
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
	relayURL     string
	bridgeToken  string
	logLevel     string
	verbose      bool
	logOnly      bool
	echoPrefix   string
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
	case "setup":
		runSetupCommand(cliCfg)
	case "validate":
		runValidateCommand(cliCfg)
	case "help":
		printHelp()
	case "":
		runBridgeClient(cliCfg)
	default:
		log.Fatalf("Unknown command: %s (try 'help')", cliCfg.command)
	}
}

func runInitCommand(cliCfg cliConfig) {
	outputPath := cliCfg.configOutput
	if outputPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("Failed to determine home directory: %v", err)
		}
		outputPath = filepath.Join(homeDir, ".mobilebridge", "bridge.toml")
	}
	if err := config.GenerateExampleConfig(outputPath); err != nil {
		log.Fatalf("Failed to generate example config: %v", err)
	}
	log.Printf("Example configuration written to: %s", outputPath)
	log.Println("Edit bridge.relay_url and bridge.bridge_token, or run 'mobilebridge setup' instead")
}

func runValidateCommand(cliCfg cliConfig) {
	cfg, err := config.Load(cliCfg.configPath)
	if err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	log.Printf("Configuration is valid")
	log.Printf("  Relay URL: %s", cfg.Bridge.RelayURL)
	log.Printf("  Reconnect backoff: %ds - %ds", cfg.Bridge.ReconnectInitialBackoffSeconds, cfg.Bridge.ReconnectMaxBackoffSeconds)
}

// runSetupCommand is an interactive wizard that writes a working
// bridge.toml, prompting for the relay URL and reading the bridge
// token with terminal echo disabled.
func runSetupCommand(cliCfg cliConfig) {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println()
	fmt.Println("Mobile Bridge Client - Setup")
	fmt.Println("This connects your machine outbound to a relay so mobile")
	fmt.Println("devices can reach your local agent. No inbound port is opened.")
	fmt.Println()

	configPath := cliCfg.configPath
	if configPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("Failed to determine home directory: %v", err)
		}
		configPath = filepath.Join(homeDir, ".mobilebridge", "bridge.toml")
	}

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Configuration file already exists: %s\n", configPath)
		fmt.Print("Overwrite it? [y/N]: ")
		input, _ := reader.ReadString('\n')
		if strings.ToLower(strings.TrimSpace(input)) != "y" {
			fmt.Println("Setup cancelled.")
			return
		}
	}

	fmt.Print("Relay URL (e.g. wss://relay.example.com/bridge): ")
	relayURL, _ := reader.ReadString('\n')
	relayURL = strings.TrimSpace(relayURL)
	if relayURL == "" {
		log.Fatal("Relay URL is required")
	}

	bridgeToken, err := readSecret("Bridge token: ")
	if err != nil {
		log.Fatalf("Failed to read bridge token: %v", err)
	}
	if bridgeToken == "" {
		log.Fatal("Bridge token is required")
	}

	cfg := config.DefaultConfig()
	cfg.Bridge.RelayURL = relayURL
	cfg.Bridge.BridgeToken = bridgeToken

	if err := config.Save(cfg, configPath); err != nil {
		log.Fatalf("Failed to write configuration: %v", err)
	}

	fmt.Println()
	fmt.Printf("Configuration written to: %s\n", configPath)
	fmt.Printf("Start the bridge client with: mobilebridge --config %s\n", configPath)
}

// readSecret reads a line from stdin with terminal echo disabled when
// stdin is a real terminal, falling back to plain input otherwise (e.g.
// piped input in scripts or tests).
func readSecret(prompt string) (string, error) {
	fmt.Print(prompt)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		bytes, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(bytes)), nil
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// runBridgeClient loads configuration, wires the reconnecting bridge
// client to a local agent, and runs it until an interrupt or
// termination signal arrives.
func runBridgeClient(cliCfg cliConfig) {
	log.Printf("Starting mobile bridge client v%s (build %s)", version, buildTime)

	cfg, err := config.Load(cliCfg.configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if cliCfg.relayURL != "" {
		cfg.Bridge.RelayURL = cliCfg.relayURL
	}
	if cliCfg.bridgeToken != "" {
		cfg.Bridge.BridgeToken = cliCfg.bridgeToken
	}
	if cliCfg.logLevel != "" {
		cfg.Logging.Level = cliCfg.logLevel
	}

	if cfg.Bridge.RelayURL == "" {
		log.Fatal("bridge.relay_url is required (set it in config, pass -relay-url, or run 'setup')")
	}
	if cfg.Bridge.BridgeToken == "" {
		log.Fatal("bridge.bridge_token is required (set it in config, pass -bridge-token, or run 'setup')")
	}

	var agent bridgeclient.AgentBridge
	if cliCfg.logOnly {
		log.Println("Local agent: log-only (inbound messages are journaled, never answered)")
		agent = bridgeclient.NewLogOnly()
	} else {
		log.Println("Local agent: loopback (echoes every inbound message back to the device)")
		agent = bridgeclient.NewLoopback(cliCfg.echoPrefix)
	}

	client := bridgeclient.New(bridgeclient.Config{
		RelayURL:    cfg.Bridge.RelayURL,
		BridgeToken: cfg.Bridge.BridgeToken,
	}, agent)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("Connecting to relay: %s", cfg.Bridge.RelayURL)
	log.Println("Press Ctrl+C to stop")

	if err := client.Run(ctx); err != nil {
		log.Fatalf("Bridge client exited with error: %v", err)
	}
	client.Stop()
	log.Println("Bridge client stopped")
}

func parseFlags() cliConfig {
	cfg := cliConfig{}

	flag.StringVar(&cfg.configPath, "config", "", "Path to configuration file")
	flag.StringVar(&cfg.configOutput, "config-output", "", "Output path for the init command")
	flag.StringVar(&cfg.relayURL, "relay-url", "", "Relay /bridge WebSocket URL (overrides config)")
	flag.StringVar(&cfg.bridgeToken, "bridge-token", "", "Bridge token (overrides config; prefer BRIDGE_TOKEN env var)")
	flag.StringVar(&cfg.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.BoolVar(&cfg.verbose, "v", false, "Verbose logging (sets log level to debug)")
	flag.BoolVar(&cfg.logOnly, "log-only", false, "Journal inbound messages without a real agent attached")
	flag.StringVar(&cfg.echoPrefix, "echo-prefix", "", "Prefix applied to loopback-agent echoes, for smoke testing")
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
	fmt.Printf("mobilebridge v%s (build %s)\n", version, buildTime)
}

func printHelp() {
	fmt.Println(`mobilebridge - operator-side bridge client

Usage:
  mobilebridge [flags] [command]

Commands:
  (none)     Connect to the relay and start forwarding (default)
  init       Write an example configuration file
  setup      Interactive wizard: prompts for relay URL and bridge token
  validate   Validate a configuration file and exit
  help       Show this message

Flags:
  -config string         Path to configuration file
  -relay-url string      Relay /bridge WebSocket URL (overrides config)
  -bridge-token string   Bridge token (overrides config)
  -log-level string      debug, info, warn, error
  -v                     Verbose logging (shortcut for -log-level debug)
  -log-only              Journal inbound messages without answering them
  -echo-prefix string    Prefix applied to loopback-agent echoes
  -version               Print version and exit`)
}
