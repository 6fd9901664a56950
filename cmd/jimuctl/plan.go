package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/bdobrica/Jimu/internal/jimu/plan"
	"github.com/bdobrica/Jimu/internal/jimu/store"
	"github.com/bdobrica/Jimu/internal/jimu/vocab"
)

// scopeFlags are the panel context flags shared by plan and exec.
type scopeFlags struct {
	entity string
	ids    []string
	brand  string
	region string
}

func (s *scopeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.entity, "entity", "", "entity type when the text names none")
	cmd.Flags().StringSliceVar(&s.ids, "ids", nil, "explicitly selected record ids")
	cmd.Flags().StringVar(&s.brand, "brand", "", "ambient brand scope")
	cmd.Flags().StringVar(&s.region, "region", "", "ambient region scope")
}

func (s *scopeFlags) context() (plan.Context, error) {
	pc := plan.Context{SelectedIDs: s.ids, Brand: s.brand, Region: s.region}
	if s.entity != "" {
		et, err := vocab.ParseEntityType(s.entity)
		if err != nil {
			return pc, err
		}
		pc.EntityType = et
	}
	return pc, nil
}

func (c *cli) planCmd() *cobra.Command {
	var scope scopeFlags
	cmd := &cobra.Command{
		Use:   "plan <instruction...>",
		Short: "Preview the plan for an instruction without running it",
		Example: `  jimuctl plan mark unpaid invoices in the north as paid
  jimuctl plan notify these stores --ids s1,s2`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, traceID := c.begin(cmd.Context())
			pc, err := scope.context()
			if err != nil {
				return err
			}
			p := c.core.Engine.ParseAndPlan(strings.Join(args, " "), pc)
			c.audit(ctx, "plan", string(p.EntityType), store.AuditPayload{"input": p.InputText}, nil)
			c.printPlan(p)
			c.traceLine(traceID)
			return nil
		},
	}
	scope.register(cmd)
	return cmd
}

func (c *cli) execCmd() *cobra.Command {
	var (
		scope scopeFlags
		yes   bool
	)
	cmd := &cobra.Command{
		Use:   "exec <instruction...>",
		Short: "Plan and run an instruction",
		Long: `Plan and run an instruction. Plans that need confirmation (large or
unscoped selections) are shown and refused unless --yes is given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, traceID := c.begin(cmd.Context())
			pc, err := scope.context()
			if err != nil {
				return err
			}
			p := c.core.Engine.ParseAndPlan(strings.Join(args, " "), pc)
			c.printPlan(p)

			if p.RequiresConfirmation && !yes {
				c.audit(ctx, "exec", string(p.EntityType), store.AuditPayload{"input": p.InputText, "held": true}, nil)
				c.warn("not executed: this plan needs confirmation, re-run with --yes")
				c.traceLine(traceID)
				return nil
			}

			res, err := c.core.Engine.Execute(ctx, p)
			c.audit(ctx, "exec", string(p.EntityType),
				store.AuditPayload{"input": p.InputText, "success": res.Success, "affected": len(res.AffectedIDs), "log_id": res.LogID}, err)
			if err != nil {
				return err
			}
			if res.Success {
				c.ok("%s", res.Message)
			} else {
				c.fail("%s", res.Message)
			}
			c.traceLine(traceID)
			if !res.Success {
				return fmt.Errorf("execution failed")
			}
			return nil
		},
	}
	scope.register(cmd)
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "run plans that need confirmation")
	return cmd
}

func (c *cli) printPlan(p plan.Plan) {
	bold := color.New(color.Bold).SprintFunc()
	fmt.Fprintf(c.out, "%s %s\n", bold("Plan:"), p.Description)
	fmt.Fprintf(c.out, "  action:   %s (%s)\n", p.ExecutionAction, p.ActionIntent)
	fmt.Fprintf(c.out, "  entity:   %s\n", p.EntityType)
	if !p.Filters.Empty() {
		fmt.Fprintf(c.out, "  filters:  %s\n", p.Filters)
	}
	if len(p.SelectedIDs) > 0 {
		fmt.Fprintf(c.out, "  selected: %s\n", strings.Join(p.SelectedIDs, ", "))
	}
	if !p.Schedule.Empty() {
		fmt.Fprintf(c.out, "  schedule: %s %s\n", p.Schedule.Date, p.Schedule.Time)
	}
	if p.RequiresConfirmation {
		fmt.Fprintln(c.out, color.YellowString("  requires confirmation"))
	}
}
