// ABOUTME: Entry point for the keyport authentication server
// ABOUTME: Dispatches serve, migrate, health, init and version subcommands

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/2389/keyport/internal/config"
	"github.com/2389/keyport/internal/gateway"
	"github.com/2389/keyport/internal/store"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const banner = `
  _                              _
 | | _____ _   _ _ __   ___  _ __| |_
 | |/ / _ \ | | | '_ \ / _ \| '__| __|
 |   <  __/ |_| | |_) | (_) | |  | |_
 |_|\_\___|\__, | .__/ \___/|_|   \__|
           |___/|_|
`

func main() {
	if len(os.Args) < 2 {
		usage(os.Stdout)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "migrate":
		err = runMigrate(ctx)
	case "health":
		err = runHealth(ctx)
	case "init":
		err = runInit(os.Stdin, os.Stdout)
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		usage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: keyport <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve     Start the HTTP server")
	fmt.Fprintln(w, "  migrate   Apply database migrations and exit")
	fmt.Fprintln(w, "  health    Check server health")
	fmt.Fprintln(w, "  init      Create a new config file interactively")
	fmt.Fprintln(w, "  version   Print the version")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Configuration is read from $KEYPORT_CONFIG or ~/.config/keyport/config.yaml;")
	fmt.Fprintln(w, "KEYPORT_* environment variables override file values.")
}

// configPath returns the config file to load, or "" when only defaults and
// environment overrides apply. An explicit KEYPORT_CONFIG must exist.
func configPath() string {
	path := config.DefaultPath()
	if os.Getenv("KEYPORT_CONFIG") != "" {
		return path
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return ""
	}
	return path
}

func loadConfig() (*config.Config, string, error) {
	path := configPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func runServe(ctx context.Context) error {
	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	// Startup info
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	if path == "" {
		fmt.Print("Config:    ")
		yellow.Println("(defaults + environment)")
	} else {
		fmt.Printf("Config:    %s\n", path)
	}
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Challenge: %s", cfg.Challenge.Backend)
	if cfg.Challenge.Backend == "redis" {
		gray.Printf(" (%s)", cfg.Challenge.Redis.Addr)
	}
	fmt.Println()
	fmt.Println()

	logger.Info("starting keyport",
		"config", path,
		"http_addr", cfg.Server.HTTPAddr,
		"version", version,
	)

	gw, err := gateway.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runMigrate(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogger(cfg.Logging, os.Stderr)

	// Opening the store applies any pending migrations.
	s, err := store.NewSQLiteStore(ctx, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("migrating %s: %w", cfg.Database.Path, err)
	}
	if err := s.Close(); err != nil {
		return fmt.Errorf("closing store: %w", err)
	}

	fmt.Printf("database %s is up to date\n", cfg.Database.Path)
	return nil
}

// healthURL turns a listen address into a URL the local machine can reach.
func healthURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	addr = strings.Replace(addr, "0.0.0.0:", "localhost:", 1)
	return fmt.Sprintf("http://%s/health", addr)
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL(cfg.Server.HTTPAddr), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runInit(in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "keyport configuration setup")
	fmt.Fprintln(out, "===========================")
	fmt.Fprintln(out)

	cfg := config.Default()

	outputFile := prompt(reader, out, "Config file path", config.DefaultPath())

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, out, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	fmt.Fprintln(out, "\n--- Server Configuration ---")
	cfg.Server.HTTPAddr = prompt(reader, out, "HTTP address", cfg.Server.HTTPAddr)
	cfg.WebAuthn.BaseURL = prompt(reader, out, "Public base URL (passkeys are bound to its host)", "http://localhost:8080")

	fmt.Fprintln(out, "\n--- Database Configuration ---")
	cfg.Database.Path = prompt(reader, out, "SQLite database path", cfg.Database.Path)

	fmt.Fprintln(out, "\n--- Challenge Cache ---")
	cfg.Challenge.Backend = prompt(reader, out, "Backend (memory/redis)", cfg.Challenge.Backend)
	if cfg.Challenge.Backend == "redis" {
		cfg.Challenge.Redis.Addr = prompt(reader, out, "Redis address", cfg.Challenge.Redis.Addr)
		cfg.Challenge.Redis.Password = "${REDIS_PASSWORD}"
	}

	fmt.Fprintln(out, "\n--- Logging Configuration ---")
	cfg.Logging.Level = prompt(reader, out, "Log level (debug/info/warn/error)", cfg.Logging.Level)
	cfg.Logging.Format = prompt(reader, out, "Log format (text/json)", cfg.Logging.Format)

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outputFile), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	content := "# keyport configuration\n# Generated by keyport init\n\n" + string(data)
	if err := os.WriteFile(outputFile, []byte(content), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintln(out, "\nTo start the server:")
	fmt.Fprintln(out, "  keyport serve")
	return nil
}

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		// On EOF or error, return default
		fmt.Fprintln(out)
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
