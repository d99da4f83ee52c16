package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/voice2soap/internal/domain"
	"github.com/cuongbtq/voice2soap/internal/orchestrator"
	"github.com/cuongbtq/voice2soap/internal/storage"
	"github.com/spf13/cobra"
)

const timeLayout = "2006-01-02 15:04:05"

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the jobs table and indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd.Context(), true, func(*storage.SQLStore) error {
				fmt.Fprintln(cmd.OutOrStdout(), "Job store schema is up to date")
				return nil
			})
		},
	}
}

type jobView struct {
	JobID       string     `json:"job_id"`
	JobType     string     `json:"job_type"`
	Status      string     `json:"status"`
	ParentJobID string     `json:"parent_job_id,omitempty"`
	Total       int        `json:"total_child_jobs,omitempty"`
	Completed   int        `json:"completed_child_jobs,omitempty"`
	Failed      int        `json:"failed_child_jobs,omitempty"`
	AggregateID string     `json:"aggregate_job_id,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Children    []jobView  `json:"children,omitempty"`
}

func newJobView(job *domain.Job) jobView {
	view := jobView{
		JobID:       job.JobID,
		JobType:     string(job.JobType),
		Status:      string(job.Status),
		Total:       job.TotalChildJobs,
		Completed:   job.CompletedChildJobs,
		Failed:      job.FailedChildJobs,
		AggregateID: job.AggregateJobID,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		CompletedAt: job.CompletedAt,
	}
	if job.HasParent() {
		view.ParentJobID = job.ParentJobID
	}
	return view
}

func newGetCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "get <job_id>",
		Short: "Show a job and its children",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd.Context(), false, func(store *storage.SQLStore) error {
				repo := storage.NewRepository(store)
				job, err := repo.FindByID(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				view := newJobView(job)
				if job.JobType == domain.JobTypeRoot {
					children, err := repo.FindChildren(cmd.Context(), job.JobID)
					if err != nil {
						return err
					}
					for _, child := range children {
						view.Children = append(view.Children, newJobView(child))
					}
				}

				if asJSON {
					return writeJSON(cmd, view)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderJobView(view))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the job as JSON")
	return cmd
}

func renderJobView(view jobView) string {
	var b strings.Builder
	fields := [][2]string{
		{"Job", view.JobID},
		{"Type", view.JobType},
		{"Status", view.Status},
		{"Created", view.CreatedAt.Local().Format(timeLayout)},
	}
	if view.ParentJobID != "" {
		fields = append(fields, [2]string{"Parent", view.ParentJobID})
	}
	if view.JobType == string(domain.JobTypeRoot) {
		fields = append(fields, [2]string{"Children", fmt.Sprintf("%d total, %d completed, %d failed", view.Total, view.Completed, view.Failed)})
		if view.AggregateID != "" {
			fields = append(fields, [2]string{"Aggregate", view.AggregateID})
		}
	}
	if view.CompletedAt != nil {
		fields = append(fields, [2]string{"Completed", view.CompletedAt.Local().Format(timeLayout)})
	}
	if view.Error != "" {
		fields = append(fields, [2]string{"Error", view.Error})
	}
	for _, f := range fields {
		fmt.Fprintf(&b, "%-10s %s\n", f[0], f[1])
	}

	if len(view.Children) > 0 {
		rows := make([][]string, 0, len(view.Children))
		for _, child := range view.Children {
			rows = append(rows, []string{child.JobID, child.JobType, child.Status, child.Error})
		}
		b.WriteString("\n")
		b.WriteString(renderTable([]string{"Job ID", "Type", "Status", "Error"}, rows, nil))
	}
	return b.String()
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var jobType string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs of one type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := domain.ParseJobType(strings.ToUpper(jobType))
			if err != nil {
				return err
			}
			return ctx.withStore(cmd.Context(), false, func(store *storage.SQLStore) error {
				jobs, err := storage.NewRepository(store).FindByType(cmd.Context(), t)
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No %s jobs\n", t)
					return nil
				}

				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					rows = append(rows, []string{
						job.JobID,
						string(job.Status),
						strconv.Itoa(job.Finished()) + "/" + strconv.Itoa(job.TotalChildJobs),
						job.CreatedAt.Local().Format(timeLayout),
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Job ID", "Status", "Children", "Created"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&jobType, "type", "t", string(domain.JobTypeRoot), "Job type: ROOT, LEAF_TRANSCRIBE or LEAF_AGGREGATE")
	return cmd
}

func newSignalCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "signal <transcript_location>",
		Short: "Record a transcript artifact as if its storage event arrived",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd.Context(), func(service *orchestrator.Service) error {
				if err := service.CompleteTranscription(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Transcription recorded for %s\n", args[0])
				return nil
			})
		},
	}
}

func newFailCommand(ctx *commandContext) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "fail <job_id>",
		Short: "Mark a job failed and propagate the failure",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd.Context(), func(service *orchestrator.Service) error {
				if err := service.FailJob(cmd.Context(), args[0], reason); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s marked failed\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&reason, "reason", "r", "failed by operator", "Reason recorded on the job")
	return cmd
}

func newPurgeExpiredCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "purge-expired",
		Short: "Delete job records whose ttl has passed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd.Context(), false, func(store *storage.SQLStore) error {
				n, err := store.PurgeExpired(cmd.Context(), time.Now())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Purged %d expired jobs\n", n)
				return nil
			})
		},
	}
}
