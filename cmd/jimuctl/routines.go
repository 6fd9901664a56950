package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/bdobrica/Jimu/internal/jimu/routines"
	"github.com/bdobrica/Jimu/internal/jimu/store"
)

func (c *cli) routinesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routines",
		Short: "Schedule playbooks",
	}
	cmd.AddCommand(
		c.routinesListCmd(),
		c.routinesCreateCmd(),
		c.routinesUpdateCmd(),
		c.routinesDeleteCmd(),
		c.routinesRunCmd(),
		c.routinesTickCmd(),
		c.routinesLogsCmd(),
	)
	return cmd
}

func (c *cli) routinesListCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List routines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, _ := c.begin(cmd.Context())
			list, err := c.core.Routines.List(ctx, owner)
			c.audit(ctx, "routines.list", "", store.AuditPayload{"count": len(list)}, err)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(c.out, "No routines.")
				return nil
			}
			tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPLAYBOOK\tFREQUENCY\tACTIVE\tNEXT RUN\tLAST RUN")
			for _, r := range list {
				freq := string(r.Frequency)
				if r.CronExpr != "" {
					freq += " " + r.CronExpr
				}
				last := "-"
				if r.LastRunAt != nil {
					last = r.LastRunAt.Format("2006-01-02 15:04")
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\n", r.ID, r.PlaybookID, freq, r.Active, r.NextRunAt.Format("2006-01-02 15:04"), last)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "only routines owned by this actor")
	return cmd
}

func (c *cli) routinesCreateCmd() *cobra.Command {
	var (
		frequency string
		cronExpr  string
		notify    bool
	)
	cmd := &cobra.Command{
		Use:   "create <playbook-id>",
		Short: "Schedule a playbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, traceID := c.begin(cmd.Context())
			freq, err := routines.ParseFrequency(frequency)
			if err != nil {
				return err
			}
			r, err := c.core.Routines.Create(ctx, routines.CreateParams{
				PlaybookID:  args[0],
				Owner:       c.actor,
				Frequency:   freq,
				CronExpr:    cronExpr,
				NotifyOwner: notify,
			})
			target := args[0]
			if r != nil {
				target = r.ID
			}
			c.audit(ctx, "routines.create", target, store.AuditPayload{"playbook_id": args[0], "frequency": frequency}, err)
			if err != nil {
				return err
			}
			c.ok("routine %s created, next run %s", r.ID, r.NextRunAt.Format("2006-01-02 15:04 MST"))
			c.traceLine(traceID)
			return nil
		},
	}
	cmd.Flags().StringVar(&frequency, "frequency", string(routines.FrequencyWeekly), "daily, weekly, monthly or custom")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "cron expression for custom frequency")
	cmd.Flags().BoolVar(&notify, "notify", false, "record a notification for the owner after each run")
	return cmd
}

func (c *cli) routinesUpdateCmd() *cobra.Command {
	var (
		frequency string
		cronExpr  string
		active    bool
		notify    bool
	)
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change a routine's schedule, state or notification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, traceID := c.begin(cmd.Context())
			var p routines.UpdateParams
			flags := cmd.Flags()
			if flags.Changed("frequency") {
				f, err := routines.ParseFrequency(frequency)
				if err != nil {
					return err
				}
				p.Frequency = &f
			}
			if flags.Changed("cron") {
				p.CronExpr = &cronExpr
			}
			if flags.Changed("active") {
				p.Active = &active
			}
			if flags.Changed("notify") {
				p.NotifyOwner = &notify
			}
			if p == (routines.UpdateParams{}) {
				return errors.New("nothing to update: pass --frequency, --cron, --active or --notify")
			}

			r, err := c.core.Routines.Update(ctx, args[0], p)
			c.audit(ctx, "routines.update", args[0], nil, err)
			if err != nil {
				return err
			}
			c.ok("routine %s updated: %s, active=%t, next run %s", r.ID, r.Frequency, r.Active, r.NextRunAt.Format("2006-01-02 15:04 MST"))
			c.traceLine(traceID)
			return nil
		},
	}
	cmd.Flags().StringVar(&frequency, "frequency", "", "daily, weekly, monthly or custom")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "cron expression for custom frequency")
	cmd.Flags().BoolVar(&active, "active", true, "pause (false) or resume (true) the routine")
	cmd.Flags().BoolVar(&notify, "notify", false, "record a notification for the owner after each run")
	return cmd
}

func (c *cli) routinesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a routine; its run logs are kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, _ := c.begin(cmd.Context())
			err := c.core.Routines.Delete(ctx, args[0])
			c.audit(ctx, "routines.delete", args[0], nil, err)
			if err != nil {
				return err
			}
			c.ok("routine %s deleted", args[0])
			return nil
		},
	}
}

func (c *cli) routinesRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <id>",
		Short: "Run a routine now, whether or not it is due",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, traceID := c.begin(cmd.Context())
			l, err := c.core.Routines.RunNow(ctx, args[0])
			if err != nil {
				c.audit(ctx, "routines.run", args[0], nil, err)
				return err
			}
			c.audit(ctx, "routines.run", args[0], store.AuditPayload{"status": string(l.Status), "affected": l.TotalAffected}, nil)
			c.printLog(l)
			c.traceLine(traceID)
			return nil
		},
	}
}

func (c *cli) routinesTickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run every due routine once, as the bot's scheduler would",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, _ := c.begin(cmd.Context())
			res, err := c.core.Ticker.Tick(ctx)
			c.audit(ctx, "routines.tick", "", store.AuditPayload{"ran": res.Ran, "paused": res.Paused}, err)
			if err != nil {
				return err
			}
			if res.Paused {
				c.warn("scheduler is paused; no routines ran")
				return nil
			}
			c.ok("%d routine(s) ran, %d approval(s) expired", res.Ran, res.Expired)
			return nil
		},
	}
}

func (c *cli) routinesLogsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "logs <id>",
		Short: "Show recent runs of a routine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, _ := c.begin(cmd.Context())
			logs, err := c.core.Routines.Logs(ctx, args[0], limit)
			c.audit(ctx, "routines.logs", args[0], store.AuditPayload{"count": len(logs)}, err)
			if err != nil {
				return err
			}
			if len(logs) == 0 {
				fmt.Fprintln(c.out, "No runs yet.")
				return nil
			}
			for _, l := range logs {
				c.printLog(l)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of runs to show")
	return cmd
}

func (c *cli) printLog(l *routines.Log) {
	mark := color.GreenString("✓")
	if l.Status != routines.LogSuccess {
		mark = color.RedString("✗")
	}
	fmt.Fprintf(c.out, "%s %s %s: %d records, %d steps\n",
		mark, l.RunAt.Format("2006-01-02 15:04"), l.Status, l.TotalAffected, len(l.StepResults))
	if l.ErrorMessage != "" {
		fmt.Fprintf(c.out, "     %s\n", color.RedString("%s", l.ErrorMessage))
	}
}
