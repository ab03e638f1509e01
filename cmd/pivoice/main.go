// Command pivoice runs the Russian-language voice assistant.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MrWong99/pivoice/internal/app"
	"github.com/MrWong99/pivoice/internal/config"
	"github.com/MrWong99/pivoice/internal/handler/calendar"
	"github.com/MrWong99/pivoice/internal/observe"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "calendar-auth" {
		os.Exit(calendarAuth(os.Args[2:]))
	}
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "pivoice.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "pivoice: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "pivoice: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.Level(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("pivoice starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltins(reg)

	providers, err := app.BuildProviders(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	defer func() {
		if err := providers.Close(); err != nil {
			slog.Warn("provider close error", "err", err)
		}
	}()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithRegistry(reg),
		app.WithMetrics(metrics),
		app.WithLevel(level),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	var watcherOpts []config.WatcherOption
	if cfg.Server.ReloadInterval > 0 {
		watcherOpts = append(watcherOpts, config.WithInterval(cfg.Server.ReloadInterval))
	}
	watcher, err := config.NewWatcher(*configPath, application.Reload, watcherOpts...)
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("assistant ready, press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("session stopped, releasing devices")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("до свидания")
	return code
}

// calendarAuth runs the one-time OAuth consent flow and stores the token
// named in the calendar section of the config.
func calendarAuth(args []string) int {
	fs := flag.NewFlagSet("calendar-auth", flag.ContinueOnError)
	configPath := fs.String("config", "pivoice.yaml", "path to the YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pivoice: %v\n", err)
		return 1
	}
	cc := cfg.Calendar
	if cc.CredentialsFile == "" {
		fmt.Fprintln(os.Stderr, "pivoice: calendar.credentials_file is not set")
		return 1
	}

	url, err := calendar.AuthCodeURL(cc.CredentialsFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pivoice: %v\n", err)
		return 1
	}
	fmt.Println("Open this URL in a browser and grant access:")
	fmt.Println()
	fmt.Println("  " + url)
	fmt.Println()
	fmt.Print("Paste the authorisation code: ")

	code, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && code == "" {
		fmt.Fprintf(os.Stderr, "pivoice: read code: %v\n", err)
		return 1
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := calendar.SaveToken(ctx, cc.CredentialsFile, cc.TokenFile, strings.TrimSpace(code)); err != nil {
		fmt.Fprintf(os.Stderr, "pivoice: %v\n", err)
		return 1
	}
	fmt.Printf("Token saved to %s\n", cc.TokenFile)
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         pivoice: startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printEntry("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printEntry("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	llmName := cfg.Providers.LLM.Name
	if llmName == "" {
		llmName = "rules"
	}
	printEntry("LLM", llmName, cfg.Providers.LLM.Model)
	printEntry("VAD", cfg.Providers.VAD.Name, "")
	printEntry("Wake", strings.Join(cfg.Wake.Phrases, ", "), "")
	printEntry("Smart home", string(cfg.SmartHome.Backend), "")
	store := string(cfg.Reminders.Store)
	if store == "" {
		store = "memory"
	}
	printEntry("Reminders", store, "")
	printEntry("Button", cfg.Button.Pin, "")
	if cfg.Server.ListenAddr != "" {
		printEntry("Listen addr", cfg.Server.ListenAddr, "")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printEntry(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if r := []rune(value); len(r) > 19 {
		value = string(r[:16]) + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}
