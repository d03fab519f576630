// Package main is the koe CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/koe/internal/cli"
	"github.com/hyperjump/koe/internal/config"
	"github.com/hyperjump/koe/internal/pipeline"
	"github.com/hyperjump/koe/internal/server"
	"github.com/hyperjump/koe/internal/watcher"
	"github.com/hyperjump/koe/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/koe/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// Returns the config and the path that was actually loaded (for saving, etc.).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	debug      bool
	output     string
}

func (g *globalOptions) format() (cli.OutputFormat, error) {
	return cli.ParseOutputFormat(g.output)
}

// session is a loaded config with its logger.
type session struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	debug      bool
}

func (g *globalOptions) session() (*session, error) {
	cfg, resolved, err := loadConfig(g.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	debug := cfg.Debug || g.debug
	logger, err := utils.NewLogger(debug)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debug))
	return &session{cfg: cfg, configPath: resolved, logger: logger, debug: debug}, nil
}

// open loads the config and opens the local stores.
func (g *globalOptions) open(ctx context.Context) (*session, *pipeline.Pipeline, error) {
	s, err := g.session()
	if err != nil {
		return nil, nil, err
	}
	p, err := pipeline.Open(ctx, s.cfg, s.logger)
	if err != nil {
		_ = s.logger.Sync()
		return nil, nil, fmt.Errorf("failed to initialize: %w", err)
	}
	return s, p, nil
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "koe",
		Short: "Speaker identification and transcript question answering",
		Long: `koe enrolls voices, labels the speakers of recordings by name, and answers questions
from the resulting transcripts.

Transcripts use one segment per line:

  [<speaker> <start>-<end>] <text>

Examples:
  koe enroll Alice alice.wav
  koe analyze meeting.wav > meeting.txt
  koe ingest meeting.txt --build
  koe answer "when is the launch?"`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "config file path")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", "text", "output format: text or json")

	root.AddCommand(
		newServerCmd(opts),
		newEnrollCmd(opts),
		newVoicesCmd(opts),
		newAnalyzeCmd(opts),
		newIngestCmd(opts),
		newBuildCmd(opts),
		newQueryCmd(opts),
		newAnswerCmd(opts),
		newStatusCmd(opts),
		newWatchCmd(opts),
		newVersionCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "koe version %s\n", version)
		},
	}
}

func newServerCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Start the HTTP server and the transcript directory watcher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(opts)
		},
	}
}

func runServer(opts *globalOptions) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, p, err := opts.open(ctx)
	if err != nil {
		return err
	}
	logger := s.logger
	defer logger.Sync()
	defer p.Close()

	logger.Info("config loaded", zap.String("config_path", s.configPath), zap.Bool("debug", s.debug))

	watchOpts := []watcher.Option{
		watcher.WithExtensions(s.cfg.Watch.Extensions),
		watcher.WithRecursive(s.cfg.Watch.RecursiveOrDefault()),
		watcher.WithBuildDelay(s.cfg.Watch.Debounce),
	}
	if s.debug {
		watchOpts = append(watchOpts, watcher.WithLogger(logger))
	}
	watchSvc := watcher.New(s.cfg.Watch.Directories, p, watchOpts...)
	watchCtx, watchCancel := context.WithCancel(ctx)
	defer watchCancel()
	if err := watchSvc.Start(watchCtx); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	go watchSvc.SyncExistingFiles()

	srv := server.NewServer(p, &s.cfg.Server, logger, watchSvc, s.configPath, s.cfg)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	watchCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}
