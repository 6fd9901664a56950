// Package main is jimuctl, the local command line for the Jimu engine. It
// opens the same database as the bot and runs plans, playbooks and
// routines directly.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"os/user"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/bdobrica/Jimu/common/trace"
	"github.com/bdobrica/Jimu/common/version"
	"github.com/bdobrica/Jimu/internal/jimu/app"
	"github.com/bdobrica/Jimu/internal/jimu/audit"
	"github.com/bdobrica/Jimu/internal/jimu/observability"
	"github.com/bdobrica/Jimu/internal/jimu/store"
)

// cli holds what every subcommand shares. store and core are opened in the
// root's pre-run hook.
type cli struct {
	out     io.Writer
	dbPath  string
	actor   string
	noColor bool

	store *store.Store
	core  *app.Core
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("✗"), err)
		cancel()
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}

	root := &cobra.Command{
		Use:           "jimuctl",
		Short:         "Plan and run Jimu automations from the shell",
		Version:       version.Info("jimuctl"),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if c.noColor {
				color.NoColor = true
			}
			return c.open()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			c.close()
		},
	}
	root.PersistentFlags().StringVar(&c.dbPath, "db", "", "database path (default $JIMU_DATABASE_PATH)")
	root.PersistentFlags().StringVar(&c.actor, "actor", defaultActor(), "actor recorded in the audit log")
	root.PersistentFlags().BoolVar(&c.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		c.planCmd(),
		c.execCmd(),
		c.logsCmd(),
		c.playbooksCmd(),
		c.routinesCmd(),
	)
	return root
}

func defaultActor() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return "cli:" + u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return "cli:" + name
	}
	return "cli"
}

func (c *cli) open() error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	if c.dbPath != "" {
		cfg.DatabasePath = c.dbPath
	}
	observability.SetupWriter(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	observability.RegisterSecrets(cfg.RedisPassword)

	st, err := store.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	core, err := app.NewCore(cfg, st, &printNotifier{out: c.out})
	if err != nil {
		st.Close()
		return err
	}
	c.store, c.core = st, core
	return nil
}

func (c *cli) close() {
	if c.core != nil {
		c.core.Close()
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			slog.Warn("failed to close database", "err", err)
		}
	}
}

// begin attaches the CLI actor and a fresh trace to ctx.
func (c *cli) begin(ctx context.Context) (context.Context, string) {
	return trace.Ensure(trace.WithActor(ctx, c.actor))
}

// audit records one CLI operation. A failed write is logged, not returned.
func (c *cli) audit(ctx context.Context, action, target string, payload store.AuditPayload, opErr error) {
	result, msg := "success", ""
	if opErr != nil {
		result, msg = "error", opErr.Error()
	}
	if err := c.store.WriteAudit(ctx, trace.FromContext(ctx), trace.ActorFromContext(ctx),
		"cli."+action, target, result, payload, msg); err != nil {
		slog.Warn("audit write failed", "op", action, "err", err)
	}
}

func (c *cli) ok(format string, args ...any) {
	fmt.Fprintf(c.out, "%s %s\n", color.GreenString("✓"), fmt.Sprintf(format, args...))
}

func (c *cli) fail(format string, args ...any) {
	fmt.Fprintf(c.out, "%s %s\n", color.RedString("✗"), fmt.Sprintf(format, args...))
}

func (c *cli) warn(format string, args ...any) {
	fmt.Fprintf(c.out, "%s %s\n", color.YellowString("!"), fmt.Sprintf(format, args...))
}

func (c *cli) traceLine(traceID string) {
	fmt.Fprintln(c.out, color.HiBlackString("trace: %s", traceID))
}

// printNotifier prints audit notices under the command output.
type printNotifier struct {
	out io.Writer
}

func (n *printNotifier) Notify(ctx context.Context, evt audit.Event) {
	fmt.Fprintln(n.out, color.HiBlackString("%s", audit.Format(ctx, evt)))
}
