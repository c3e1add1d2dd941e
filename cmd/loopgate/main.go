// ABOUTME: Entry point for the loopgate bridge demo CLI.
// ABOUTME: Wires a Bridge to the configured transport backend and runs an echo task.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/loopgate/loopgate/internal/backend/console"
	"github.com/loopgate/loopgate/internal/backend/mqtt"
	"github.com/loopgate/loopgate/internal/backend/redis"
	"github.com/loopgate/loopgate/internal/backend/socket"
	"github.com/loopgate/loopgate/internal/bridge"
	"github.com/loopgate/loopgate/internal/config"
	"github.com/loopgate/loopgate/internal/media"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _                                   _
| | ___   ___  _ __   __ _  __ _  __| |_ ___
| |/ _ \ / _ \| '_ \ / _' |/ _' |/ _' | __/ _ \
| | (_) | (_) | |_) | (_| | (_| | (_| | ||  __/
|_|\___/ \___/| .__/ \__, |\__,_|\__,_|\__\___|
              |_|    |___/
`

const starterConfig = `# loopgate configuration
task_id: ""            # default: generated per run
timeout: "120s"        # input wait deadline
uploads_root: ""       # empty disables media materialization

logging:
  level: info          # debug|info|warn|error
  format: text         # text|json

transport: console     # console|socket|redis|mqtt

socket:
  url: ""              # dial out, e.g. ws://localhost:8765/bridge
  listen: ""           # or accept one session, e.g. :8765

redis:
  addr: "localhost:6379"
  password: ""
  db: 0
  stream_max_len: 1000
  retention: "24h"

mqtt:
  broker: "tcp://localhost:1883"
  client_id: ""
  username: ""
  password: ""
  qos: 1
  ledger_path: ""      # set to persist dedup across restarts
`

// getConfigPath returns the path to the loopgate config file.
// Priority: LOOPGATE_CONFIG env var > XDG_CONFIG_HOME/loopgate/loopgate.yaml > ~/.config/loopgate/loopgate.yaml
func getConfigPath() string {
	if envPath := os.Getenv("LOOPGATE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "loopgate.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "loopgate", "loopgate.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: loopgate <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  run        Run a demo echo task over the configured transport")
		fmt.Println("  init       Write a starter config file")
		fmt.Println("  version    Print version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "run":
		err = runBridge(ctx)
	case "init":
		err = runInit()
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runInit() error {
	path := getConfigPath()

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(starterConfig), 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Wrote %s\n", path)
	return nil
}

func runBridge(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	taskID := cfg.TaskID
	if taskID == "" {
		taskID = uuid.New().String()
	}

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Transport: %s\n", cfg.Transport)
	green.Print("    ▶ ")
	fmt.Printf("Task:      %s\n", taskID)
	fmt.Println()

	logger.Info("starting loopgate",
		"config", configPath,
		"transport", cfg.Transport,
		"task_id", taskID,
	)

	backend, err := newBackend(ctx, cfg, taskID, logger)
	if err != nil {
		return fmt.Errorf("creating %s backend: %w", cfg.Transport, err)
	}

	renderer := media.NewRenderer(cfg.UploadsRoot, logger)
	b := bridge.New(bridge.Task{ID: taskID, Timeout: cfg.Timeout}, backend, renderer, logger)
	defer b.Close()

	return runEcho(ctx, b)
}

// newBackend constructs the backend named by the transport field.
func newBackend(ctx context.Context, cfg *config.Config, taskID string, logger *slog.Logger) (bridge.Backend, error) {
	switch cfg.Transport {
	case config.TransportConsole:
		b, err := console.New(logger)
		return b, err
	case config.TransportSocket:
		if cfg.Socket.Listen != "" {
			b, err := socket.Listen(ctx, cfg.Socket.Listen, logger)
			return b, err
		}
		b, err := socket.Dial(ctx, cfg.Socket.URL, logger)
		return b, err
	case config.TransportRedis:
		b, err := redis.New(ctx, cfg.Redis, taskID, logger)
		return b, err
	case config.TransportMQTT:
		b, err := mqtt.New(ctx, cfg.MQTT, taskID, logger)
		return b, err
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// loadConfig falls back to defaults when no config file exists.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.Load(path)
}

// runEcho is the demo task: greet, then echo each answer back until the
// operator says exit or the wait times out.
func runEcho(ctx context.Context, b *bridge.Bridge) error {
	b.Print(ctx, "loopgate echo task started. Say 'exit' to stop.")

	for {
		select {
		case <-ctx.Done():
			b.Print(context.Background(), "shutting down")
			return nil
		default:
		}

		answer := b.Input(ctx, "you> ")
		if answer == "" || strings.TrimSpace(answer) == "exit" {
			b.Print(ctx, "bye")
			return nil
		}
		b.Print(ctx, "echo: "+answer)
	}
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes. Logs
// go to stderr so they never interleave with console-transport prompts.
type colorHandler struct {
	mu    sync.Mutex
	level slog.Level
	attrs []slog.Attr
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Fprint(os.Stderr, buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level: h.level,
		attrs: newAttrs,
	}
}

func (h *colorHandler) WithGroup(string) slog.Handler {
	return h
}
