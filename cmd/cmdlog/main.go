package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/modoterra/cmdlog/internal/buildinfo"
	"github.com/modoterra/cmdlog/pkg/cmdlog"
	"github.com/modoterra/cmdlog/pkg/config"
	"github.com/modoterra/cmdlog/pkg/core"
	"github.com/modoterra/cmdlog/pkg/daemon/service"
	"github.com/modoterra/cmdlog/pkg/transport/sse"
	"github.com/modoterra/cmdlog/pkg/transport/uds"
	tuimodel "github.com/modoterra/cmdlog/pkg/tui/model"
)

var (
	configPath string
	socketPath string
	serverURL  string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "cmdlog",
	Short:        "Run shell commands remotely and watch their output stream in",
	Long:         "cmdlog sends commands to cmdlogd and renders their output as it streams back, one command at a time.",
	SilenceUsage: true,
	RunE:         runTUI,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultFile, "path to cmdlog.yaml")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "daemon socket path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "daemon HTTP URL (overrides config)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serviceCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if socketPath != "" {
		cfg.Client.Socket = socketPath
	}
	if serverURL != "" {
		cfg.Client.ServerURL = serverURL
	}
	return cfg, nil
}

func newSession(cfg *config.Config, logger *slog.Logger) *cmdlog.Session {
	client := sse.NewClient(cfg.Client.ServerURL, cfg.Client.HeaderTimeout)
	var opts []cmdlog.Option
	if cfg.Client.Fallback && cfg.Client.Socket != "" {
		opts = append(opts, cmdlog.WithFallback(socketFallback{path: cfg.Client.Socket}))
	}
	return cmdlog.NewSession(cmdlog.NewLog(logger), client, logger, opts...)
}

// socketFallback dials the daemon socket for each fallback execution.
type socketFallback struct {
	path string
}

func (f socketFallback) Exec(ctx context.Context, id core.StreamID, command string, emit func(core.Chunk)) error {
	client, err := uds.Dial(f.path)
	if err != nil {
		return fmt.Errorf("socket fallback: %w", err)
	}
	defer client.Close()
	return uds.NewExecutor(client).Exec(ctx, id, command, emit)
}

// --- Root: TUI ---

func runTUI(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, closeLog, err := tuiLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	ensureDaemon(cfg)
	app := tuimodel.New(newSession(cfg, logger))
	p := tea.NewProgram(app, tea.WithAltScreen())
	_, err = p.Run()
	return err
}

// tuiLogger keeps log output off the screen: it goes to the configured
// file or nowhere.
func tuiLogger(lc config.LogConfig) (*slog.Logger, func(), error) {
	if lc.File == "" {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), func() {}, nil
	}
	f, err := os.OpenFile(lc.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: lc.SlogLevel()}))
	return logger, func() { f.Close() }, nil
}

// daemonNeeded reports whether a local daemon should be spawned for socket.
// An empty path means the socket fallback is off.
func daemonNeeded(socket string) bool {
	if socket == "" {
		return false
	}
	_, err := os.Stat(socket)
	return err != nil
}

func ensureDaemon(cfg *config.Config) {
	if !daemonNeeded(cfg.Client.Socket) {
		return
	}
	args := []string{}
	if cfg.FilePath != "" {
		args = append(args, "--config", cfg.FilePath)
	}
	cmd := exec.Command("cmdlogd", args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		fmt.Fprintln(os.Stderr, "warning: could not start daemon, continuing anyway")
		return
	}
	for i := 0; i < 30; i++ {
		if _, err := os.Stat(cfg.Client.Socket); err == nil {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	fmt.Fprintln(os.Stderr, "warning: daemon did not come up, continuing anyway")
}

// --- Run ---

var runCmd = &cobra.Command{
	Use:   "run <command...>",
	Short: "Run one command and stream its output to stdout",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
		session := newSession(cfg, logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		e, err := session.Run(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		follow(cmd.OutOrStdout(), session.Log(), e)

		if err := e.Wait(); err != nil {
			return err
		}
		if e.Cancelled() {
			return errors.New("interrupted")
		}
		return nil
	},
}

// follow copies the execution's output entry to w as it grows.
func follow(w io.Writer, log *cmdlog.Log, e *cmdlog.Execution) {
	printed := 0
	flush := func() {
		entry, ok := log.Entry(e.ID())
		if !ok || len(entry.Content) <= printed {
			return
		}
		io.WriteString(w, entry.Content[printed:])
		printed = len(entry.Content)
	}
	for {
		select {
		case <-log.Changes():
			flush()
		case <-e.Done():
			flush()
			return
		}
	}
}

// --- Ping ---

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check if daemon is running",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
		defer cancel()

		client, err := uds.Dial(cfg.Client.Socket)
		if err != nil {
			return fmt.Errorf("cannot connect to daemon at %s: %w", cfg.Client.Socket, err)
		}
		defer client.Close()

		resp, err := client.Request(ctx, uds.MethodPing, nil)
		if err != nil {
			return err
		}
		var pong uds.PingResponse
		if err := resp.UnmarshalData(&pong); err != nil {
			return err
		}
		if pong.Pong {
			fmt.Fprintln(out, "socket: pong ✓")
		}

		if cfg.Client.ServerURL != "" {
			fmt.Fprintln(out, "http: "+checkHealth(ctx, cfg.Client.ServerURL))
		}
		return nil
	},
}

func checkHealth(ctx context.Context, base string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/healthz", nil)
	if err != nil {
		return "invalid url"
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "unreachable"
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return resp.Status
	}
	return "ok ✓"
}

// --- Version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "cmdlog %s (%s) built %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.Date)
	},
}

// --- Config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage cmdlog.yaml",
}

var configInitForce bool

var configInitCmd = &cobra.Command{
	Use:   "init [file]",
	Short: "Write a cmdlog.yaml with the default settings",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.DefaultFile
		if len(args) > 0 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil && !configInitForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.Save(config.Default(), path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Generated %s\n", path)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a cmdlog.yaml",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if len(args) > 0 {
			path = args[0]
		}
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		cfg, err := config.Load(path)
		if err != nil {
			return err
		}

		errs := config.Validate(cfg)
		if len(errs) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid\n", path)
			return nil
		}

		w := cmd.ErrOrStderr()
		fmt.Fprintf(w, "%s: %d error(s)\n", path, len(errs))
		for _, e := range errs {
			fmt.Fprintf(w, "  • %s\n", e)
		}
		return fmt.Errorf("%s: invalid", path)
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)
}

// --- Service ---

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage the cmdlogd systemd user service",
}

var serviceInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install and start the cmdlogd user service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var cfgFile string
		if _, err := os.Stat(configPath); err == nil {
			cfgFile = configPath
		}
		if err := service.Install(cmd.Context(), cfgFile); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "cmdlogd service installed ✓")
		return nil
	},
}

var serviceUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop and remove the cmdlogd user service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := service.Uninstall(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "cmdlogd service removed ✓")
		return nil
	},
}

var serviceStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show socket and service state",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), service.Status(cmd.Context(), cfg.Client.Socket))
		return nil
	},
}

func init() {
	serviceCmd.AddCommand(serviceInstallCmd)
	serviceCmd.AddCommand(serviceUninstallCmd)
	serviceCmd.AddCommand(serviceStatusCmd)
}
