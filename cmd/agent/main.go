// Command agent runs the local AI collaborator: a long-running service with
// an HTTP API, plus one-shot subcommands for chatting and inspecting state
// from the terminal.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/alextra-lab/personal-agent-sub000/internal/app"
	"github.com/alextra-lab/personal-agent-sub000/internal/config"
	"github.com/alextra-lab/personal-agent-sub000/internal/logging"
	"github.com/alextra-lab/personal-agent-sub000/internal/types"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "agent",
		Short:         "Locally hosted AI collaborator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to the YAML config file")

	root.AddCommand(newServeCmd(), newChatCmd(), newSessionCmd(), newModesCmd(), newTelemetryCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red("error: ")+err.Error())
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		if _, err := os.Stat("./config/agent.yaml"); err == nil {
			path = "./config/agent.yaml"
		}
	}
	return config.Load(path)
}

// serviceLogger writes JSON, to the configured file when set.
func serviceLogger(cfg *config.Config) *logging.Logger {
	logCfg := logging.Config{Level: cfg.Logging.Level, Format: "json", Output: os.Stderr}
	if cfg.Logging.File != "" {
		logCfg.Output = &lumberjack.Logger{
			Filename:   cfg.Logging.File,
			MaxSize:    50,
			MaxBackups: 5,
			Compress:   true,
		}
	}
	return logging.New(logCfg)
}

// cliLogger keeps interactive output readable: warnings and errors only,
// as text on stderr.
func cliLogger(cfg *config.Config) *logging.Logger {
	level := cfg.Logging.Level
	if level == "info" || level == "debug" {
		level = "warn"
	}
	return logging.New(logging.Config{Level: level, Format: "text", Output: os.Stderr})
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the service until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := serviceLogger(cfg)

			a, err := app.New(cfg, logger, nil)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			fmt.Printf("%s listening on port %d\n", bold("agent"), cfg.Service.Port)
			return a.Run(ctx)
		},
	}
}

func newChatCmd() *cobra.Command {
	var sessionID string
	var newSession bool
	var compress bool

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Send one message and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := cliLogger(cfg)

			a, err := app.New(cfg, logger, consoleApprover{})
			if err != nil {
				return err
			}
			defer a.Shutdown()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var sess *types.Session
			if sessionID != "" && !newSession {
				sess, err = a.Sessions().Get(ctx, sessionID)
			} else {
				sess, err = a.Sessions().Create(ctx, types.ChannelChat, a.Modes().Current())
			}
			if err != nil {
				return err
			}

			message := strings.Join(args, " ")
			started := time.Now()
			result, err := a.Executor().Execute(ctx, sess, message, compress)
			if err != nil {
				return err
			}

			for _, tr := range result.ToolResults {
				status := green("ok")
				if !tr.Success {
					status = red("failed")
				}
				fmt.Printf("%s %s %s %s\n", gray("tool"), cyan(tr.ToolName), status, gray(fmt.Sprintf("%.0fms", tr.LatencyMs)))
			}
			fmt.Println(result.Content)
			fmt.Fprintln(os.Stderr, gray(fmt.Sprintf("session %s trace %s %s in %s",
				sess.ID, result.TraceID, result.State, time.Since(started).Round(time.Millisecond))))
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session-id", "", "continue an existing session")
	cmd.Flags().BoolVar(&newSession, "new", false, "force a fresh session")
	cmd.Flags().BoolVar(&compress, "compress", false, "summarise history before answering")
	return cmd
}

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage conversation sessions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "new [channel]",
		Short: "Create a session (channel defaults to CHAT)",
		Args:  cobra.MaximumNArgs(1),
		RunE: withApp(func(ctx context.Context, a *app.App, args []string) error {
			channel := types.ChannelChat
			if len(args) == 1 {
				channel = types.Channel(strings.ToUpper(args[0]))
			}
			sess, err := a.Sessions().Create(ctx, channel, a.Modes().Current())
			if err != nil {
				return err
			}
			fmt.Println(sess.ID)
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List recent sessions",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app.App, args []string) error {
			summaries, err := a.Sessions().List(ctx, 50)
			if err != nil {
				return err
			}
			for _, s := range summaries {
				fmt.Printf("%s  %-13s %3d msgs  %s\n",
					s.ID, s.Channel, s.Messages, gray(s.UpdatedAt.Local().Format("2006-01-02 15:04")))
			}
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Print a session as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app.App, args []string) error {
			sess, err := a.Sessions().Get(ctx, args[0])
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(sess, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}),
	})

	return cmd
}

func newModesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "modes",
		Short: "Show the current mode and recent transitions",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app.App, args []string) error {
			fmt.Printf("%s %s\n", bold("mode"), modeColor(a.Modes().Current()))
			for _, tr := range a.Modes().History() {
				fmt.Printf("  %s %s -> %s %s\n",
					gray(tr.Timestamp.Local().Format("15:04:05")), tr.From, tr.To, gray(tr.Reason))
			}
			return nil
		}),
	}
}

// withApp builds the app for a one-shot command and tears it down after.
func withApp(run func(ctx context.Context, a *app.App, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := app.New(cfg, cliLogger(cfg), consoleApprover{})
		if err != nil {
			return err
		}
		defer a.Shutdown()
		return run(cmd.Context(), a, args)
	}
}

func modeColor(mode types.Mode) string {
	switch mode {
	case types.ModeNormal:
		return green(string(mode))
	case types.ModeAlert, types.ModeDegraded, types.ModeRecovery:
		return yellow(string(mode))
	default:
		return red(string(mode))
	}
}
