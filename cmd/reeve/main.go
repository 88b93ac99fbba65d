// Reeve is a personal assistant backend for a home network.
//
// It exposes a streaming chat API and a WebSocket event feed, dispatches
// model tool calls to integration capabilities (Prometheus, AdGuard,
// UniFi, Home Assistant, Bambu Lab, CalDAV, CardDAV, IMAP, weather,
// search), and keeps a cost ledger in SQLite. Configuration is loaded
// from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	reeve serve              Start the API server
//	reeve version            Print version and build information
//	reeve -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/nugget/reeve/internal/adguard"
	"github.com/nugget/reeve/internal/api"
	"github.com/nugget/reeve/internal/bambu"
	"github.com/nugget/reeve/internal/buildinfo"
	"github.com/nugget/reeve/internal/calendar"
	"github.com/nugget/reeve/internal/capability"
	"github.com/nugget/reeve/internal/clock"
	"github.com/nugget/reeve/internal/config"
	"github.com/nugget/reeve/internal/contacts"
	"github.com/nugget/reeve/internal/email"
	"github.com/nugget/reeve/internal/events"
	"github.com/nugget/reeve/internal/fetch"
	"github.com/nugget/reeve/internal/homeassistant"
	"github.com/nugget/reeve/internal/hub"
	"github.com/nugget/reeve/internal/llm"
	"github.com/nugget/reeve/internal/orchestrator"
	"github.com/nugget/reeve/internal/prometheus"
	"github.com/nugget/reeve/internal/search"
	"github.com/nugget/reeve/internal/store"
	"github.com/nugget/reeve/internal/unifi"
	"github.com/nugget/reeve/internal/weather"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the reeve command. All OS-level
// dependencies are injected as parameters: ctx controls the lifetime of
// the process (cancelling it triggers graceful shutdown), stdout and
// stderr receive all program output, and args is os.Args[1:].
//
// Arguments are parsed by hand. The flag package relies on package-level
// globals (flag.CommandLine), which makes it impossible to call run()
// concurrently from tests, and our argument surface is small enough that
// manual parsing is clearer than bringing in a CLI framework.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	// Print fields in a stable order for human readability.
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w. It is called when
// reeve is invoked with no arguments, or with -h / --help.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Reeve - Personal Assistant Backend")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: reeve [flags] <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/reeve/config.yaml, /etc/reeve/config.yaml")
	return nil
}

// runServe handles the "reeve serve" subcommand. It is the primary
// operating mode: loads config, opens the settings/cost database, wires
// the event bus, capability registry, dispatcher, orchestrator, and
// broadcast hub together, runs capability discovery, starts the API
// server, and blocks until a shutdown signal arrives.
//
// The shutdown sequence is:
//  1. SIGINT or SIGTERM cancels the context
//  2. The HTTP server drains in-flight requests
//  3. Background monitors stop and the database closes via defers
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting Reeve", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level is known. The
	// initial Info-level logger covers only the startup banner.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Anthropic.Model,
	)

	if cfg.Anthropic.APIKey == "" {
		return fmt.Errorf("anthropic api_key is required (set anthropic.api_key in %s)", cfgPath)
	}

	// NotifyContext wraps the parent context so that SIGINT/SIGTERM
	// cancellation flows through the same ctx used by all components.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// All persistent state (user settings, the API cost ledger) lives in
	// one SQLite database under the data directory.
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}
	dbPath := filepath.Join(cfg.DataDir, "reeve.db")
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database %s: %w", dbPath, err)
	}
	defer st.Close()
	logger.Info("database opened", "path", dbPath)

	// Core plumbing: the event bus fans events out to subscribers, the
	// registry holds discovered capabilities, the dispatcher executes
	// them, and the hub broadcasts bus events to WebSocket clients.
	bus := events.New(logger)
	registry := capability.NewRegistry(logger)
	dispatcher := capability.NewDispatcher(registry, bus, logger)
	h := hub.New(bus, logger)

	llmClient := llm.NewAnthropicClient(cfg.Anthropic, logger)
	orch := orchestrator.New(llmClient, registry, dispatcher, bus, logger)

	// The Bambu monitor maintains a persistent MQTT session with the
	// printer; its builder reads the cached state snapshot, so the
	// monitor must be running before discovery registers the capability.
	var printer *bambu.Monitor
	if cfg.Bambu.Host != "" {
		printer = bambu.NewMonitor(cfg.Bambu, logger)
		go func() {
			if err := printer.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("printer monitor stopped", "error", err)
			}
		}()
	}

	// Capability discovery. Builders for unconfigured integrations fail
	// and are skipped; partial success is normal.
	registry.Discover(ctx, logger, []capability.Builder{
		prometheus.NewBuilder(cfg.Prometheus),
		adguard.NewBuilder(cfg.AdGuard),
		unifi.NewBuilder(cfg.UniFi, bus, logger),
		homeassistant.NewBuilder(cfg.HomeAssistant),
		bambu.NewBuilder(printer),
		weather.NewBuilder(cfg.Location),
		search.NewBuilder(cfg.Search),
		fetch.NewBuilder(),
		calendar.NewBuilder(cfg.CalDAV, cfg.Location.Timezone, logger),
		contacts.NewBuilder(cfg.CardDAV, logger),
		email.NewBuilder(cfg.IMAP, logger),
		clock.NewBuilder(cfg.Location),
	})

	// The system metrics endpoint reuses the Prometheus client outside
	// the capability path; nil disables it.
	var metrics *prometheus.Client
	if cfg.Prometheus.URL != "" {
		metrics = prometheus.NewClient(cfg.Prometheus.URL)
	}

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, orch, registry, bus, h, st, metrics, cfg.Anthropic.Model, logger)

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		_ = server.Shutdown(context.Background())
	}()

	// Blocks until Shutdown is called or the listener fails.
	if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("Reeve stopped")
	return nil
}

// newLogger creates a structured text logger that writes to w at the
// given level. All log output in Reeve goes through slog; this helper
// standardizes the handler configuration across subcommands.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig locates and parses the YAML configuration file. If explicit
// is non-empty, that exact path is used (and must exist). Otherwise,
// [config.FindConfig] searches the default locations. Returns the parsed
// config, the path that was loaded, and any error.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
