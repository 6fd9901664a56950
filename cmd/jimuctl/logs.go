package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/bdobrica/Jimu/internal/jimu/store"
)

func (c *cli) logsCmd() *cobra.Command {
	var (
		limit   int
		traceID string
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the automation log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, _ := c.begin(cmd.Context())
			var (
				entries []*store.AutomationLog
				err     error
			)
			if traceID != "" {
				entries, err = c.store.AutomationByTrace(ctx, traceID)
			} else {
				entries, err = c.store.ListAutomation(ctx, limit)
			}
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(c.out, "No automation runs.")
				return nil
			}
			for _, e := range entries {
				c.printAutomation(e)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show")
	cmd.Flags().StringVar(&traceID, "trace", "", "only entries for this trace id")
	return cmd
}

func (c *cli) printAutomation(e *store.AutomationLog) {
	var mark string
	switch e.Status {
	case store.AutomationExecuted:
		mark = color.GreenString("✓")
	case store.AutomationError:
		mark = color.RedString("✗")
	default:
		mark = color.YellowString("…")
	}
	fmt.Fprintf(c.out, "%s %s %-8s %q\n", mark, e.CreatedAt.Format("2006-01-02 15:04:05"), e.Status, e.InputText)
	details := []string{"actor " + e.Actor, "trace " + e.TraceID}
	if e.EntityType != "" {
		details = append(details, fmt.Sprintf("%s x%d", e.EntityType, len(e.EntityIDs)))
	}
	fmt.Fprintf(c.out, "     %s\n", color.HiBlackString("%s", strings.Join(details, ", ")))
	if e.ErrorMessage != "" {
		fmt.Fprintf(c.out, "     %s\n", color.RedString("%s", e.ErrorMessage))
	}
}
