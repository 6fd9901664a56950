package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/bdobrica/Jimu/internal/jimu/playbooks"
	"github.com/bdobrica/Jimu/internal/jimu/store"
)

func (c *cli) playbooksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "playbooks",
		Aliases: []string{"pb"},
		Short:   "Manage and run playbooks",
	}
	cmd.AddCommand(
		c.playbooksListCmd(),
		c.playbooksShowCmd(),
		c.playbooksImportCmd(),
		c.playbooksExportCmd(),
		c.playbooksDeleteCmd(),
		c.playbooksRunCmd(),
	)
	return cmd
}

func (c *cli) playbooksListCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List playbooks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, _ := c.begin(cmd.Context())
			list, err := c.core.Playbooks.List(ctx, owner)
			c.audit(ctx, "playbooks.list", "", store.AuditPayload{"count": len(list)}, err)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(c.out, "No playbooks.")
				return nil
			}
			tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTITLE\tSTEPS\tOWNER\tUPDATED")
			for _, p := range list {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", p.ID, p.Title, len(p.Steps), p.Owner, p.UpdatedAt.Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "only playbooks owned by this actor")
	return cmd
}

func (c *cli) playbooksShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a playbook's steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, _ := c.begin(cmd.Context())
			p, err := c.core.Playbooks.Get(ctx, args[0])
			c.audit(ctx, "playbooks.show", args[0], nil, err)
			if err != nil {
				return err
			}
			fmt.Fprint(c.out, p.Format())
			return nil
		},
	}
}

func (c *cli) playbooksImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file|->",
		Short: "Create a playbook from a YAML document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, traceID := c.begin(cmd.Context())
			data, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			p, err := c.core.Playbooks.Import(ctx, c.actor, data)
			target := args[0]
			if p != nil {
				target = p.ID
			}
			c.audit(ctx, "playbooks.import", target, nil, err)
			if err != nil {
				return err
			}
			c.ok("imported %q as %s (%d steps)", p.Title, p.ID, len(p.Steps))
			c.traceLine(traceID)
			return nil
		},
	}
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func (c *cli) playbooksExportCmd() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Write a playbook as a YAML document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, _ := c.begin(cmd.Context())
			data, err := c.core.Playbooks.Export(ctx, args[0])
			c.audit(ctx, "playbooks.export", args[0], nil, err)
			if err != nil {
				return err
			}
			if outPath == "" {
				_, err = c.out.Write(data)
				return err
			}
			if err := os.WriteFile(outPath, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", outPath, err)
			}
			c.ok("exported %s to %s", args[0], outPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func (c *cli) playbooksDeleteCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a playbook",
		Long:  "Delete a playbook. Routines that use it are kept and fail on their next run.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, traceID := c.begin(cmd.Context())
			p, err := c.core.Playbooks.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if !yes {
				c.warn("this deletes %q (%s); re-run with --yes to confirm", p.Title, p.ID)
				return nil
			}
			err = c.core.Playbooks.Delete(ctx, p.ID)
			c.audit(ctx, "playbooks.delete", p.ID, store.AuditPayload{"title": p.Title}, err)
			if err != nil {
				return err
			}
			c.ok("deleted %q", p.Title)
			c.traceLine(traceID)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm the deletion")
	return cmd
}

func (c *cli) playbooksRunCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "run <id>",
		Short: "Run a playbook's steps in order",
		Long: `Run a playbook's steps in order. A failing step does not stop the
others. Steps marked [confirm] are skipped unless --yes is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, traceID := c.begin(cmd.Context())
			res, err := c.core.Runner.Run(ctx, playbooks.FromPlaybook(args[0]), playbooks.RunOptions{SkipConfirmation: yes})
			if err != nil {
				c.audit(ctx, "playbooks.run", args[0], nil, err)
				return err
			}
			c.audit(ctx, "playbooks.run", args[0], store.AuditPayload{"success": res.Success, "affected": res.TotalAffected}, nil)
			c.printRun(res)
			c.traceLine(traceID)
			for _, s := range res.Steps {
				if !s.Success && !s.Skipped {
					return errors.New("one or more steps failed")
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "run steps that need confirmation")
	return cmd
}

func (c *cli) printRun(res *playbooks.RunResult) {
	for _, s := range res.Steps {
		mark := color.GreenString("✓")
		switch {
		case s.Skipped:
			mark = color.YellowString("-")
		case !s.Success:
			mark = color.RedString("✗")
		}
		fmt.Fprintf(c.out, "%s %d. %s\n", mark, s.Index, s.InputText)
		if s.Message != "" {
			fmt.Fprintf(c.out, "     %s\n", color.HiBlackString("%s", s.Message))
		}
	}
	if res.Success {
		c.ok("%s", res.Summary())
	} else {
		c.fail("%s", res.Summary())
	}
}
