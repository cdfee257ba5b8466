package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/taskvisor"
	"github.com/loykin/taskvisor/internal/logger"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command with every subcommand attached
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	tvCommand := command{global: globalFlags}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createAppCommand(tvCommand),
		createScheduleCommand(tvCommand),
		createSysinfoCommand(tvCommand),
		createVersionCommand(),
	)
	return root
}

// createRootCommand creates the root command with persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "taskvisor",
		Short: "Process supervision and scheduled start/stop/restart",
		Long: `Taskvisor keeps local executables running, restarts them after crashes
within a bounded number of attempts, and starts, stops or restarts them on
startup, interval, daily and weekly schedules.

Examples:
  taskvisor serve taskvisor.toml
  taskvisor app add --name=web --exe=/opt/web/server --args="--port 8080"
  taskvisor app start web
  taskvisor schedule add --app=web --type=daily --action=restart --time=03:00
  taskvisor app list --api-url=http://remote:8470/api`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", "", "daemon URL (default http://127.0.0.1:8470/api)")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 30*time.Second, "request timeout")
	return root
}

// createServeCommand creates the serve subcommand
func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}

	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the taskvisor daemon",
		Long: `Start the daemon: load the registry, run startup schedules, supervise
enabled applications and serve the management API.

Examples:
  taskvisor serve                              # defaults plus TASKVISOR_* env
  taskvisor serve taskvisor.toml
  taskvisor serve taskvisor.toml --daemonize --pidfile=/run/taskvisor.pid`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			if len(args) > 0 {
				serveFlags.ConfigPath = args[0]
			}
			return runServe(cmd.Context(), serveFlags)
		},
	}

	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "write the daemon PID to this file")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon output to file when daemonized")
	return cmd
}

func runServe(ctx context.Context, flags *ServeFlags) error {
	cfg, err := taskvisor.LoadConfig(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if flags.Daemonize {
		return daemonize(flags.LogFile)
	}

	closer, err := logger.Setup(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	if flags.PidFile != "" {
		if err := writePidFile(flags.PidFile, os.Getpid()); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = removePidFile(flags.PidFile) }()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := taskvisor.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	slog.Info("taskvisor started", "version", version, "store", cfg.Store.DSN,
		"applications", len(d.Applications()))
	err = d.Run(ctx)
	slog.Info("shutting down")
	return err
}

// createAppCommand groups application management
func createAppCommand(tvCommand command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "app",
		Short: "Manage supervised applications",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List applications",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return tvCommand.AppList(cmd.Context(), cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "get <id>",
			Short: "Show one application",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return tvCommand.AppGet(cmd.Context(), cmd.OutOrStdout(), args[0])
			},
		},
		createAppAddCommand(tvCommand),
		createAppUpdateCommand(tvCommand),
		&cobra.Command{
			Use:   "remove <id>",
			Short: "Stop and remove an application",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return tvCommand.AppRemove(cmd.Context(), cmd.OutOrStdout(), args[0])
			},
		},
		createAppActionCommand(tvCommand, "start", "Start an application"),
		createAppActionCommand(tvCommand, "stop", "Stop an application (graceful, then forced)"),
		createAppActionCommand(tvCommand, "restart", "Stop, wait the cool-down, then start"),
		&cobra.Command{
			Use:   "running <id>",
			Short: "Check whether the recorded process is alive",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return tvCommand.AppRunning(cmd.Context(), cmd.OutOrStdout(), args[0])
			},
		},
		&cobra.Command{
			Use:   "start-all",
			Short: "Start every enabled application",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return tvCommand.Bulk(cmd.Context(), cmd.OutOrStdout(), true)
			},
		},
		&cobra.Command{
			Use:   "stop-all",
			Short: "Stop every enabled application",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return tvCommand.Bulk(cmd.Context(), cmd.OutOrStdout(), false)
			},
		},
	)
	return cmd
}

func bindAppFlags(cmd *cobra.Command, f *AppFlags) {
	cmd.Flags().StringVar(&f.Name, "name", "", "display name")
	cmd.Flags().StringVar(&f.Executable, "exe", "", "executable path")
	cmd.Flags().StringVar(&f.Arguments, "args", "", "argument string (quoted like a shell, no expansion)")
	cmd.Flags().StringVar(&f.WorkDir, "work-dir", "", "working directory (default: executable's directory)")
	cmd.Flags().StringSliceVar(&f.Env, "env", nil, "environment entries K=V")
	cmd.Flags().StringVar(&f.LogDir, "log-dir", "", "capture stdout/stderr under this directory")
	cmd.Flags().BoolVar(&f.Disabled, "disabled", false, "register without supervising")
	cmd.Flags().BoolVar(&f.NoRestart, "no-restart", false, "do not restart after a crash")
	cmd.Flags().IntVar(&f.MaxRestarts, "max-restarts", 3, "automatic restarts before giving up")
	cmd.Flags().DurationVar(&f.StartupDelay, "startup-delay", 0, "delay before startup schedules fire")
}

// createAppAddCommand creates the app add subcommand
func createAppAddCommand(tvCommand command) *cobra.Command {
	f := &AppFlags{}
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a new application",
		Long: `Register a new application with the daemon. The id defaults to the name.

Examples:
  taskvisor app add --name=web --exe=/opt/web/server --args="--port 8080"
  taskvisor app add --id=etl --name="Nightly ETL" --exe=/opt/etl/run --disabled`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return tvCommand.AppAdd(cmd.Context(), cmd.OutOrStdout(), *f)
		},
	}
	cmd.Flags().StringVar(&f.ID, "id", "", "application id (default: name)")
	bindAppFlags(cmd, f)

	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}
	if err := cmd.MarkFlagRequired("exe"); err != nil {
		panic(err)
	}
	return cmd
}

// createAppUpdateCommand creates the app update subcommand
func createAppUpdateCommand(tvCommand command) *cobra.Command {
	f := &AppFlags{}
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change an application's settings",
		Long: `Change the given settings; flags that are not set keep their current value.
Runtime state (status, process, counters) is not affected.

Examples:
  taskvisor app update web --args="--port 9090"
  taskvisor app update web --disabled`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return tvCommand.AppUpdate(cmd.Context(), cmd.OutOrStdout(), args[0], *f, cmd.Flags().Changed)
		},
	}
	bindAppFlags(cmd, f)
	return cmd
}

func createAppActionCommand(tvCommand command, verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return tvCommand.AppAction(cmd.Context(), cmd.OutOrStdout(), args[0], verb)
		},
	}
}

// createScheduleCommand groups schedule rule management
func createScheduleCommand(tvCommand command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage schedule rules",
	}

	listFlags := &ScheduleFlags{}
	list := &cobra.Command{
		Use:   "list",
		Short: "List schedule rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return tvCommand.ScheduleList(cmd.Context(), cmd.OutOrStdout(), *listFlags)
		},
	}
	list.Flags().StringVar(&listFlags.App, "app", "", "only rules of this application")

	addFlags := &ScheduleFlags{}
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a schedule rule to an application",
		Long: `Add a schedule rule. Types: startup, interval, daily, weekly, none.
Actions: start, stop, restart.

Examples:
  taskvisor schedule add --app=web --type=startup --action=start
  taskvisor schedule add --app=web --type=interval --action=restart --interval=6h
  taskvisor schedule add --app=web --type=daily --action=restart --time=03:00
  taskvisor schedule add --app=etl --type=weekly --action=start --time=22:30 --day=saturday`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return tvCommand.ScheduleAdd(cmd.Context(), cmd.OutOrStdout(), *addFlags)
		},
	}
	add.Flags().StringVar(&addFlags.App, "app", "", "application id (required)")
	add.Flags().StringVar(&addFlags.ID, "id", "", "rule id (default: generated)")
	add.Flags().StringVar(&addFlags.Name, "name", "", "rule name")
	add.Flags().StringVar(&addFlags.Type, "type", "", "startup|interval|daily|weekly|none (required)")
	add.Flags().StringVar(&addFlags.Action, "action", "", "start|stop|restart (required)")
	add.Flags().DurationVar(&addFlags.Interval, "interval", 0, "interval for interval rules")
	add.Flags().StringVar(&addFlags.TimeOfDay, "time", "", "HH:MM[:SS] for daily and weekly rules")
	add.Flags().StringVar(&addFlags.DayOfWeek, "day", "", "weekday name or 0-6 (Sunday = 0) for weekly rules")
	add.Flags().BoolVar(&addFlags.Disabled, "disabled", false, "add the rule disabled")
	for _, name := range []string{"app", "type", "action"} {
		if err := add.MarkFlagRequired(name); err != nil {
			panic(err)
		}
	}

	remove := &cobra.Command{
		Use:   "remove <app-id> <rule-id>",
		Short: "Remove a schedule rule",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return tvCommand.ScheduleRemove(cmd.Context(), cmd.OutOrStdout(), args[0], args[1])
		},
	}

	pendingFlags := &ScheduleFlags{}
	pending := &cobra.Command{
		Use:   "pending",
		Short: "List rules that are due",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return tvCommand.SchedulePending(cmd.Context(), cmd.OutOrStdout(), pendingFlags.At)
		},
	}
	pending.Flags().StringVar(&pendingFlags.At, "at", "", "evaluate at this RFC3339 time instead of now")

	cmd.AddCommand(list, add, remove, pending)
	return cmd
}

func createSysinfoCommand(tvCommand command) *cobra.Command {
	return &cobra.Command{
		Use:   "sysinfo",
		Short: "Show host information reported by the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return tvCommand.SysInfo(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "taskvisor", version)
		},
	}
}
