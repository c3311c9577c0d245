package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"permitline/internal/domain"
	"permitline/internal/engine"
)

func permitCmd() *cobra.Command {
	permit := &cobra.Command{
		Use:   "permit",
		Short: "Request and review permits",
	}
	permit.AddCommand(permitRequestCmd())
	permit.AddCommand(permitListCmd())
	permit.AddCommand(permitShowCmd())
	permit.AddCommand(permitAuthorizeCmd())
	return permit
}

func permitRequestCmd() *cobra.Command {
	var opts engine.PermitCreateOptions
	var typeName string
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Request the next permit for a job",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if opts.PermitTypeID == "" {
					if typeName == "" {
						return fmt.Errorf("--type-id or --type required")
					}
					pt, err := e.Repo.GetPermitTypeByName(ctx, typeName)
					if err != nil {
						return fmt.Errorf("permit type %s: %w", typeName, err)
					}
					opts.PermitTypeID = pt.ID
				}
				p, err := e.CreatePermit(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.JobID, "job", "", "job id")
	cmd.Flags().StringVar(&opts.TechnicianID, "technician", "", "technician id")
	cmd.Flags().StringVar(&opts.PermitTypeID, "type-id", "", "permit type id")
	cmd.Flags().StringVar(&typeName, "type", "", "permit type name (altura, enganche, cierre)")
	cmd.Flags().StringVar(&opts.PhotoRef, "photo", "", "photo reference")
	cmd.Flags().StringVar(&opts.Comments, "comments", "", "technician comments")
	_ = cmd.MarkFlagRequired("job")
	_ = cmd.MarkFlagRequired("technician")
	return cmd
}

func permitListCmd() *cobra.Command {
	var f engine.PendingPermitFilters
	var jobID, technician string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List permits; pending ones by default",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var (
					items []domain.Permit
					err   error
				)
				switch {
				case jobID != "":
					items, err = e.ListPermitsByJob(ctx, jobID)
				case technician != "":
					items, err = e.ListPermitsByTechnician(ctx, technician)
				default:
					items, err = e.ListPendingPermits(ctx, f)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Job", "Type", "State", "Technician", "Submitted"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.JobTitle, p.PermitTypeName, p.State, p.TechnicianName, p.SubmittedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.State, "state", "", "state filter (default pendiente)")
	cmd.Flags().StringVar(&f.AreaID, "area", "", "area filter")
	cmd.Flags().StringVar(&f.SubmittedFrom, "from", "", "submitted at or after (RFC3339)")
	cmd.Flags().StringVar(&f.SubmittedTo, "to", "", "submitted at or before (RFC3339)")
	cmd.Flags().StringVar(&jobID, "job", "", "list every permit of a job")
	cmd.Flags().StringVar(&technician, "technician", "", "list every permit of a technician")
	return cmd
}

func permitShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a permit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.GetPermit(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func permitAuthorizeCmd() *cobra.Command {
	var opts engine.PermitAuthorizeOptions
	var reject bool
	cmd := &cobra.Command{
		Use:   "authorize <id>",
		Short: "Approve a permit, or reject it with --reject",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.PermitID = args[0]
			opts.Decision = domain.PermitApproved
			if reject {
				opts.Decision = domain.PermitRejected
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.AuthorizePermit(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.SupervisorID, "supervisor", "", "supervisor id")
	cmd.Flags().StringVar(&opts.Comments, "comments", "", "supervisor comments")
	cmd.Flags().BoolVar(&reject, "reject", false, "reject instead of approve")
	_ = cmd.MarkFlagRequired("supervisor")
	return cmd
}
