package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/modoterra/cmdlog/internal/buildinfo"
	"github.com/modoterra/cmdlog/pkg/config"
	"github.com/modoterra/cmdlog/pkg/daemon"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "cmdlogd",
	Short:        "Daemon that runs shell commands for cmdlog clients",
	SilenceUsage: true,
	Args:         cobra.NoArgs,
	RunE:         runDaemon,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "cmdlogd %s (%s) built %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.Date)
	},
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", config.DefaultFile, "path to cmdlog.yaml")
	rootCmd.AddCommand(versionCmd)
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(cmd.ErrOrStderr(), "config: %s\n", e)
		}
		return fmt.Errorf("invalid config")
	}

	logger, closeLog, err := newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
	}()

	runner := daemon.NewRunner(logger)
	runner.Shell = cfg.Daemon.Shell
	runner.Dir = cfg.Daemon.Dir
	runner.Env = cfg.Daemon.Env
	runner.KillGrace = cfg.Daemon.KillGrace

	d := daemon.New(daemon.Options{
		SocketPath: cfg.Daemon.Socket,
		ListenAddr: cfg.Daemon.Listen,
	}, runner, logger)

	logger.Info("starting cmdlogd", "version", buildinfo.Version, "config", cfg.FilePath)
	if err := d.Run(ctx); err != nil {
		logger.Error("daemon error", "err", err)
		return err
	}
	return nil
}

func newLogger(lc config.LogConfig, stderr io.Writer) (*slog.Logger, func(), error) {
	opts := &slog.HandlerOptions{Level: lc.SlogLevel()}
	if lc.File == "" {
		return slog.New(slog.NewTextHandler(stderr, opts)), func() {}, nil
	}
	f, err := os.OpenFile(lc.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return slog.New(slog.NewTextHandler(f, opts)), func() { f.Close() }, nil
}

