package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tejzpr/rishvan-input/internal/commit"
	"github.com/tejzpr/rishvan-input/internal/config"
	"github.com/tejzpr/rishvan-input/internal/handler"
	"github.com/tejzpr/rishvan-input/internal/logger"
	"github.com/tejzpr/rishvan-input/internal/manager"
	"github.com/tejzpr/rishvan-input/internal/sweeper"
	"github.com/tejzpr/rishvan-input/internal/webserver"
)

const appName = "rishvan-input"

// Version is overwritten at build time using -ldflags.
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configDir string
	cmd := &cobra.Command{
		Use:           appName + " --ide <ide-name>",
		Short:         "MCP server that asks a human for typed input",
		Long:          "rishvan-input serves the ask_human MCP tool over stdio and a local web UI where humans answer pending requests.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadWithPath(configDir, cmd.Flags())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().String("ide", "", "name of the IDE or agent host this server runs under")
	cmd.Flags().Int("port", webserver.DefaultPort, "port of the shared web UI")
	cmd.Flags().StringVar(&configDir, "config", "", "directory holding config.yaml and .env")
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	log, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	logger.SetDefault(log)
	defer func() { _ = log.Sync() }()
	log = log.WithFields(zap.String("source_name", cfg.SourceName))

	backend, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Warn("failed to close store", zap.Error(err))
		}
	}()

	committer := commit.New(backend.store, commit.WithLogger(log))
	mgr := manager.NewRequestManager(committer, cfg.SourceName,
		manager.WithDefaultTimeout(cfg.Requests.DefaultTimeoutDuration()),
		manager.WithLogger(log),
	)
	sw := sweeper.New(committer, sweeper.WithInterval(cfg.Sweeper.Interval), sweeper.WithLogger(log))

	broker := manager.NewBroker()
	detach := broker.Attach(backend.store)
	defer detach()

	web := webserver.New(webserver.Config{
		Host:     cfg.Server.Host,
		Port:     cfg.Server.Port,
		Identity: cfg.Identity,
	}, mgr, broker, sw, log)
	ln, err := web.Listen()
	if err != nil {
		return err
	}

	var asker handler.Asker = mgr
	if ln == nil {
		baseURL := webserver.Config{Host: cfg.Server.Host, Port: cfg.Server.Port}.BaseURL()
		log.Info("web UI already served by another instance", zap.String("url", baseURL))
		asker = webserver.NewRemoteClient(baseURL, cfg.SourceName, log)
	}

	mcpServer := server.NewMCPServer(appName, Version, server.WithToolCapabilities(false))
	handler.NewAskHandler(asker, log).Register(mcpServer)
	stdio := server.NewStdioServer(mcpServer)
	stdio.SetErrorLogger(zap.NewStdLog(log.Zap()))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// the agent closing stdin ends the process
		defer cancel()
		return stdio.Listen(gctx, os.Stdin, os.Stdout)
	})
	g.Go(func() error {
		return sw.Run(gctx)
	})
	if ln != nil {
		g.Go(func() error {
			return web.Serve(gctx, ln)
		})
	}

	log.Info("rishvan-input started",
		zap.String("store", cfg.Store.Driver),
		zap.Bool("primary", ln != nil),
	)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
