package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"codeverse/internal/cli/command"
	"codeverse/internal/cli/config"
	httpclient "codeverse/internal/cli/http"
	"codeverse/internal/cli/repl"
	"codeverse/internal/cli/state"
	"codeverse/pkg/utils/logger"

	"github.com/google/shlex"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/cli.yaml"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	envFile := flag.String("env", ".env", "Comma-separated dotenv files to load if present")
	baseURL := flag.String("base", "", "Override backend base URL")
	streamURL := flag.String("stream", "", "Override status stream base URL (ws:// or wss://)")
	timeout := flag.Duration("timeout", 0, "Override HTTP timeout (e.g. 10s)")
	statusTimeout := flag.Duration("status-timeout", 0, "Override how long solve waits for a result (e.g. 5m)")
	token := flag.String("token", "", "Override bearer token for this run")
	statePath := flag.String("state", "", "Override token state path")
	logLevel := flag.String("log-level", "", "Override log level (debug, info, warn, error)")
	pretty := flag.Bool("pretty", false, "Pretty print JSON response")
	flag.Parse()

	if err := config.LoadEnv(command.ParseStringList(*envFile)...); err != nil {
		fmt.Fprintf(os.Stderr, "load env failed: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		return 1
	}
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
	}
	if *streamURL != "" {
		cfg.StreamURL = *streamURL
	}
	if *timeout > 0 {
		cfg.Timeout = *timeout
	}
	if *statusTimeout > 0 {
		cfg.StatusTimeout = *statusTimeout
	}
	if *statePath != "" {
		cfg.TokenStatePath = *statePath
	}
	if *logLevel != "" {
		cfg.Logger.Level = *logLevel
	}
	if *pretty {
		trueValue := true
		cfg.PrettyJSON = &trueValue
	}

	if err := logger.Init(cfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()
	log := logger.GetLogger().Zap()

	store, err := state.Open(cfg.TokenStatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load token state failed: %v\n", err)
		return 1
	}
	if *token != "" {
		store.Override(*token)
	}

	commands := command.Registry()
	if err := command.ApplyEndpoints(commands, cfg.Endpoints); err != nil {
		fmt.Fprintf(os.Stderr, "apply endpoints failed: %v\n", err)
		return 1
	}

	client := httpclient.New(cfg.BaseURL, cfg.Timeout, store.Token)
	session := repl.New(client, commands, store, repl.Options{
		PrettyJSON:           cfg.PrettyJSON != nil && *cfg.PrettyJSON,
		StreamURL:            cfg.StreamURL,
		ChatURL:              cfg.ChatURL,
		LeaderboardStreamURL: cfg.LeaderboardStreamURL,
		StatusTimeout:        cfg.StatusTimeout,
		HandshakeTimeout:     cfg.HandshakeTimeout,
		Logger:               log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Debug("cli started", zap.String("base_url", cfg.BaseURL), zap.String("stream_url", cfg.StreamURL))

	// Arguments run a single command instead of the interactive loop.
	if flag.NArg() > 0 {
		defer session.Close()
		line := strings.Join(quoteArgs(flag.Args()), " ")
		if err := session.Execute(ctx, line); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		return 0
	}
	session.Run(ctx)
	return 0
}

// quoteArgs re-quotes shell arguments so the REPL tokenizer sees them unchanged.
func quoteArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		if parts, err := shlex.Split(arg); err == nil && len(parts) == 1 && parts[0] == arg {
			out = append(out, arg)
			continue
		}
		out = append(out, "'"+strings.ReplaceAll(arg, "'", `'"'"'`)+"'")
	}
	return out
}
