package main

import (
	"context"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"permitline/internal/domain"
	"permitline/internal/engine"
	"permitline/internal/repo"
)

func jobCmd() *cobra.Command {
	job := &cobra.Command{
		Use:   "job",
		Short: "Manage jobs",
	}
	job.AddCommand(jobCreateCmd())
	job.AddCommand(jobListCmd())
	job.AddCommand(jobShowCmd())
	job.AddCommand(jobAssignCmd())
	job.AddCommand(jobCancelCmd())
	job.AddCommand(jobStartCmd())
	job.AddCommand(jobDecideCmd())
	job.AddCommand(jobAwaitingCmd())
	return job
}

func jobCreateCmd() *cobra.Command {
	var opts engine.JobCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a job",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := e.CreateJob(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "job title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "job description")
	cmd.Flags().StringVar(&opts.AreaID, "area", "", "area id")
	cmd.Flags().StringVar(&opts.TechnicianID, "technician", "", "assigned technician id")
	cmd.Flags().StringVar(&opts.ScheduledAt, "scheduled-at", "", "scheduled start (RFC3339)")
	cmd.Flags().StringVar(&opts.Comments, "comments", "", "comments")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("area")
	return cmd
}

func jobListCmd() *cobra.Command {
	var f repo.JobFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				jobs, err := e.ListJobs(ctx, f)
				if err != nil {
					return err
				}
				return printJobs(jobs)
			})
		},
	}
	cmd.Flags().StringVar(&f.State, "state", "", "state filter")
	cmd.Flags().StringVar(&f.AreaID, "area", "", "area filter")
	cmd.Flags().StringVar(&f.TechnicianID, "technician", "", "technician filter")
	return cmd
}

func jobAwaitingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "awaiting",
		Short: "List jobs awaiting start approval",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJobs(e.ListPendingApproval(ctx))
			})
		},
	}
}

func jobShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := e.GetJob(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
}

func jobAssignCmd() *cobra.Command {
	var technician string
	cmd := &cobra.Command{
		Use:   "assign <id>",
		Short: "Assign a job to a technician",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := e.AssignJob(ctx, args[0], technician)
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	cmd.Flags().StringVar(&technician, "technician", "", "technician id")
	_ = cmd.MarkFlagRequired("technician")
	return cmd
}

func jobCancelCmd() *cobra.Command {
	var supervisor, reason string
	cmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := e.CancelJob(ctx, args[0], supervisor, reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	cmd.Flags().StringVar(&supervisor, "supervisor", "", "supervisor id")
	cmd.Flags().StringVar(&reason, "reason", "", "cancellation reason")
	_ = cmd.MarkFlagRequired("supervisor")
	return cmd
}

func jobStartCmd() *cobra.Command {
	var opts engine.StartJobOptions
	cmd := &cobra.Command{
		Use:   "start <id>",
		Short: "Request approval to start a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.JobID = args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				st, err := e.StartJob(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
	cmd.Flags().StringVar(&opts.TechnicianID, "technician", "", "technician id")
	cmd.Flags().StringVar(&opts.PhotoRef, "photo", "", "initial photo reference")
	cmd.Flags().StringVar(&opts.Comments, "comments", "", "comments")
	_ = cmd.MarkFlagRequired("technician")
	return cmd
}

func jobDecideCmd() *cobra.Command {
	var opts engine.DecideJobStartOptions
	cmd := &cobra.Command{
		Use:   "decide <id>",
		Short: "Approve or reject a job start",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.JobID = args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				st, err := e.DecideJobStart(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
	cmd.Flags().StringVar(&opts.SupervisorID, "supervisor", "", "supervisor id")
	cmd.Flags().BoolVar(&opts.Approved, "approve", false, "approve the start; omit to reject")
	cmd.Flags().StringVar(&opts.Comments, "comments", "", "comments or rejection reason")
	_ = cmd.MarkFlagRequired("supervisor")
	return cmd
}

func printJobs(jobs []domain.Job) error {
	if viper.GetBool("json") {
		return printJSON(jobs)
	}
	tw := newTable(table.Row{"ID", "Title", "State", "Next permit", "Technician", "Area"})
	for _, j := range jobs {
		tw.AppendRow(table.Row{j.ID, j.Title, j.State, j.NextPermitType, j.TechnicianName, j.AreaName})
	}
	tw.Render()
	return nil
}
