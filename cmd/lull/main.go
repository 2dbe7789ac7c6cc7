package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/mmcdole/lull/internal/config"
	"github.com/mmcdole/lull/internal/core"
	"github.com/mmcdole/lull/internal/domain"
	"github.com/mmcdole/lull/internal/log"
	"github.com/mmcdole/lull/internal/tui"
)

// Version is set at build time via -ldflags
var Version = "dev"

// env is what every subcommand runs against
type env struct {
	cfg         *config.Config
	configPath  string
	logger      *slog.Logger
	app         *core.App
	syncCh      chan domain.SyncProgress
	out         io.Writer
	interactive bool
}

type command struct {
	name     string
	usage    string
	summary  string
	needsApp bool
	run      func(ctx context.Context, e *env, args []string) error
}

var commands = map[string]command{}

func register(c command) {
	commands[c.name] = c
}

func main() {
	var showVersion bool
	var configPath string
	flag.BoolVar(&showVersion, "v", false, "print version")
	flag.BoolVar(&showVersion, "version", false, "print version")
	flag.StringVar(&configPath, "config", "", "config file (default: OS config dir)")
	flag.Usage = usage
	flag.Parse()

	if showVersion {
		fmt.Printf("lull %s\n", Version)
		return
	}
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	if err := run(configPath, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: lull [-config file] <command> [args]\n\nCommands:\n")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := commands[name]
		fmt.Fprintf(os.Stderr, "  %-34s %s\n", c.usage, c.summary)
	}
}

func run(configPath, name string, args []string) error {
	cmd, ok := commands[name]
	if !ok {
		usage()
		return fmt.Errorf("unknown command %q", name)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, closer, err := log.Setup(cfg.Logging)
	if err != nil {
		// Fall back to null logger if file logging fails
		logger = log.NullLogger()
	} else {
		defer closer.Close()
	}
	slog.SetDefault(logger)
	logger.Info("starting lull", "version", Version, "command", name)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e := &env{
		cfg:         cfg,
		configPath:  configPath,
		logger:      logger,
		out:         os.Stdout,
		interactive: term.IsTerminal(int(os.Stdout.Fd())) && term.IsTerminal(int(os.Stdin.Fd())),
	}

	if cmd.needsApp {
		if !cfg.IsConfigured() {
			return errors.New("no catalog server configured; run \"lull setup\" first")
		}
		e.syncCh = make(chan domain.SyncProgress, 16)
		app, err := core.New(ctx, cfg, core.Options{
			Logger:   logger,
			Observer: tui.NewChannelObserver(e.syncCh),
		})
		if err != nil {
			return err
		}
		e.app = app
		defer func() {
			if err := app.Close(); err != nil {
				logger.Error("shutdown failed", "error", err)
			}
			logger.Info("shutting down")
		}()
	}

	return cmd.run(ctx, e, args)
}

// runSetup prompts for the catalog server and saves the config
func runSetup(_ context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("setup", flag.ContinueOnError)
	url := fs.String("url", "", "catalog server URL")
	if err := fs.Parse(args); err != nil {
		return err
	}

	reader := bufio.NewReader(os.Stdin)
	fmt.Println()
	fmt.Println("Welcome to lull!")
	fmt.Println()

	serverURL := strings.TrimSpace(*url)
	for serverURL == "" {
		fmt.Print("Enter your catalog server URL (e.g., https://catalog.example.com): ")
		input, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		serverURL = strings.TrimSpace(input)
		if serverURL == "" {
			fmt.Println("Server URL cannot be empty. Please try again.")
		}
	}

	fmt.Print("API token (leave empty if none): ")
	var token string
	if term.IsTerminal(int(os.Stdin.Fd())) {
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("failed to read token: %w", err)
		}
		token = string(b)
	} else {
		input, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read token: %w", err)
		}
		token = input
	}

	e.cfg.Server.URL = strings.TrimRight(serverURL, "/")
	e.cfg.Server.Token = strings.TrimSpace(token)
	if err := config.SaveConfig(e.cfg, e.configPath); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Println()
	fmt.Println("✓ Configuration saved!")
	fmt.Println()
	fmt.Println("Run \"lull sync\" to fetch the catalog.")
	return nil
}

func runVersion(_ context.Context, e *env, _ []string) error {
	fmt.Fprintf(e.out, "lull %s\n", Version)
	return nil
}

func init() {
	register(command{name: "setup", usage: "setup [-url url]", summary: "configure the catalog server", run: runSetup})
	register(command{name: "version", usage: "version", summary: "print version", run: runVersion})
}
