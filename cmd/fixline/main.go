package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fixline/internal/app"
	"fixline/internal/config"
	"fixline/internal/db"
	"fixline/internal/domain"
	"fixline/internal/engine"
	"fixline/internal/repo"
	"fixline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "fixline",
	Short: "Fixline CLI",
	Long: `Fixline runs a home-service marketplace: homeowners file jobs, contractors quote,
both sides negotiate a schedule, and the work is proven on site.
Core concepts:
- Workspace: your .fixline directory with the database and photo/signature blobs; fixline.yml tunes trades, auth, and webhooks.
- Jobs: requests flow pending -> matched -> scheduled -> in_progress -> completed; cancellation exits from pending or matched.
- Quotes: contractors bid on pending or matched jobs; the homeowner accepts exactly one, which fixes the contractor and the estimate.
- Scheduling: contractors publish availability slots the homeowner can book, or either side proposes appointment windows and the other accepts, rejects, or counters.
- Job sheets: the contractor checks in on site with a location fix, records work, checks out, and both parties sign; the second signature completes the job.
- Event log: diary of everything that happened, view with 'fixline log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("FIXLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "", "acting actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(actorCmd())
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(quoteCmd())
	rootCmd.AddCommand(slotCmd())
	rootCmd.AddCommand(proposalCmd())
	rootCmd.AddCommand(sheetCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config is the rulebook in fixline.yml: trade catalog, auth toggles, matching limits, and webhook targets.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default fixline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Config.Validate()
			})
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show marketplace status",
		Long:  "See the scoreboard for your workspace: job counts per status.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counts, err := e.Repo.CountJobsByStatus(ctx)
				if err != nil {
					return err
				}
				out := map[string]any{
					"service_id": e.Config.Service.ID,
					"job_counts": counts,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Service: %s\n", e.Config.Service.ID)
				fmt.Println("Jobs:")
				for status, c := range counts {
					fmt.Printf("  %s: %d\n", status, c)
				}
				return nil
			})
		},
	}
	return cmd
}

func actorCmd() *cobra.Command {
	actor := &cobra.Command{
		Use:   "actor",
		Short: "Manage actors",
		Long:  "Actors are the two sides of the marketplace: homeowners who file jobs and contractors who work them.",
	}
	actor.AddCommand(actorRegisterCmd())
	actor.AddCommand(actorShowCmd())
	return actor
}

func actorRegisterCmd() *cobra.Command {
	var a domain.Actor
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.RegisterActor(ctx, a)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&a.ID, "id", "", "actor id (optional, UUID if omitted)")
	cmd.Flags().StringVar(&a.Role, "role", "", "homeowner or contractor")
	cmd.Flags().StringVar(&a.Name, "name", "", "display name")
	cmd.Flags().StringVar(&a.Trade, "trade", "", "trade (contractors)")
	cmd.Flags().StringVar(&a.Location, "location", "", "location")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func actorShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				a, err := r.GetActor(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func jobCmd() *cobra.Command {
	job := &cobra.Command{
		Use:   "job",
		Short: "Manage jobs",
		Long:  "Jobs are homeowner requests. They flow pending -> matched -> scheduled -> in_progress -> completed; cancellation exits from pending or matched.",
	}
	job.AddCommand(jobCreateCmd())
	job.AddCommand(jobListCmd())
	job.AddCommand(jobGetCmd())
	job.AddCommand(jobUpdateCmd())
	job.AddCommand(jobCancelCmd())
	job.AddCommand(jobSetStatusCmd())
	job.AddCommand(jobPaidCmd())
	job.AddCommand(jobCandidatesCmd())
	job.AddCommand(jobPhotoCmd())
	return job
}

func jobCreateCmd() *cobra.Command {
	var opts engine.JobCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "File a job request",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.HomeownerID = requiredActor()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := e.CreateJob(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "job id (optional, UUID if omitted)")
	cmd.Flags().StringVar(&opts.Trade, "trade", "", "trade")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Location, "location", "", "location")
	cmd.Flags().StringVar(&opts.PreferredDate, "preferred-date", "", "preferred date (RFC3339)")
	_ = cmd.MarkFlagRequired("trade")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func jobListCmd() *cobra.Command {
	var f repo.JobFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				jobs, err := e.Repo.ListJobs(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(jobs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Trade", "Status", "Contractor", "Scheduled"})
				for _, j := range jobs {
					contractor := ""
					if j.ContractorID != nil {
						contractor = *j.ContractorID
					}
					scheduled := ""
					if j.ScheduledAt != nil {
						scheduled = *j.ScheduledAt
					}
					tw.AppendRow(table.Row{j.ID, j.Title, j.Trade, j.Status, contractor, scheduled})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.HomeownerID, "homeowner-id", "", "homeowner filter")
	cmd.Flags().StringVar(&f.ContractorID, "contractor-id", "", "contractor filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Trade, "trade", "", "trade filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func jobGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				j, err := r.GetJob(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	return cmd
}

func jobUpdateCmd() *cobra.Command {
	var title, description, location, preferredDate string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Edit a job request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.JobPatchOptions{JobID: args[0], ActorID: requiredActor()}
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &description
			}
			if cmd.Flags().Changed("location") {
				opts.Location = &location
			}
			if cmd.Flags().Changed("preferred-date") {
				opts.PreferredDate = &preferredDate
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := e.PatchJob(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&location, "location", "", "location")
	cmd.Flags().StringVar(&preferredDate, "preferred-date", "", "preferred date (RFC3339)")
	return cmd
}

func jobCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := e.CancelJob(ctx, id, requiredActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	return cmd
}

func jobSetStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "set-status <id>",
		Short: "Request a status transition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := e.Transition(ctx, id, status, requiredActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "target status")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func jobPaidCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "paid <id>",
		Short: "Mark completed job paid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := e.MarkPaid(ctx, id, requiredActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	return cmd
}

func jobCandidatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "candidates <id>",
		Short: "List contractors matching the job trade",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.MatchCandidates(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func jobPhotoCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "photo <id>",
		Short: "Attach a photo to the job request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				_, ref, err := e.AddJobPhoto(ctx, id, requiredActor(), data)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"ref": ref})
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to image file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func quoteCmd() *cobra.Command {
	quote := &cobra.Command{
		Use:   "quote",
		Short: "Manage quotes",
		Long:  "Quotes are contractor bids: price in cents and estimated duration. The homeowner accepts exactly one per job.",
	}
	quote.AddCommand(quoteSubmitCmd())
	quote.AddCommand(quoteListCmd())
	quote.AddCommand(quoteAcceptCmd())
	return quote
}

func quoteSubmitCmd() *cobra.Command {
	var opts engine.QuoteOptions
	cmd := &cobra.Command{
		Use:   "submit <job-id>",
		Short: "Submit a quote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.JobID = args[0]
			opts.ContractorID = requiredActor()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				q, err := e.SubmitQuote(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(q)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "quote id (optional)")
	cmd.Flags().Int64Var(&opts.Amount, "amount", 0, "amount in cents")
	cmd.Flags().IntVar(&opts.DurationMinutes, "duration", 0, "estimated duration in minutes")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("duration")
	return cmd
}

func quoteListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <job-id>",
		Short: "List quotes for a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				quotes, err := e.ListQuotes(ctx, jobID, requiredActor())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(quotes)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Contractor", "Amount", "Duration", "Status"})
				for _, q := range quotes {
					tw.AppendRow(table.Row{q.ID, q.ContractorID, q.Amount, q.DurationMinutes, q.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func quoteAcceptCmd() *cobra.Command {
	var quoteID string
	cmd := &cobra.Command{
		Use:   "accept <job-id>",
		Short: "Accept a quote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				q, err := e.AcceptQuote(ctx, jobID, quoteID, requiredActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(q)
			})
		},
	}
	cmd.Flags().StringVar(&quoteID, "quote-id", "", "quote id")
	_ = cmd.MarkFlagRequired("quote-id")
	return cmd
}

func slotCmd() *cobra.Command {
	slot := &cobra.Command{
		Use:   "slot",
		Short: "Manage availability slots",
		Long:  "Slots are contractor availability windows. Booking one pins the job to that window and moves it to scheduled.",
	}
	slot.AddCommand(slotCreateCmd())
	slot.AddCommand(slotListCmd())
	slot.AddCommand(slotDeleteCmd())
	slot.AddCommand(slotBookCmd())
	return slot
}

func slotCreateCmd() *cobra.Command {
	var opts engine.SlotOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Declare an availability slot",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ContractorID = requiredActor()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.CreateSlot(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "slot id (optional)")
	cmd.Flags().StringVar(&opts.StartTime, "start", "", "start time (RFC3339)")
	cmd.Flags().StringVar(&opts.EndTime, "end", "", "end time (RFC3339)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Notes, "notes", "", "notes")
	cmd.Flags().StringVar(&opts.Location, "location", "", "location")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func slotListCmd() *cobra.Command {
	var contractorID string
	var availableOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List availability slots",
		RunE: func(cmd *cobra.Command, args []string) error {
			if contractorID == "" {
				contractorID = requiredActor()
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				slots, err := e.ListSlots(ctx, contractorID, availableOnly)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(slots)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Start", "End", "Booked", "Job"})
				for _, s := range slots {
					jobID := ""
					if s.JobID != nil {
						jobID = *s.JobID
					}
					tw.AppendRow(table.Row{s.ID, s.StartTime, s.EndTime, s.IsBooked, jobID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&contractorID, "contractor-id", "", "contractor id (defaults to --actor-id)")
	cmd.Flags().BoolVar(&availableOnly, "available", false, "only unbooked slots")
	return cmd
}

func slotDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an unbooked slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteSlot(ctx, id, requiredActor())
			})
		},
	}
	return cmd
}

func slotBookCmd() *cobra.Command {
	var jobID string
	cmd := &cobra.Command{
		Use:   "book <id>",
		Short: "Book a slot for a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := e.BookSlot(ctx, id, jobID, requiredActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	cmd.Flags().StringVar(&jobID, "job-id", "", "job id")
	_ = cmd.MarkFlagRequired("job-id")
	return cmd
}

func proposalCmd() *cobra.Command {
	prop := &cobra.Command{
		Use:   "proposal",
		Short: "Manage appointment proposals",
		Long:  "Proposals negotiate a time window directly: one side proposes, the other accepts, rejects, or counters with a new window.",
	}
	prop.AddCommand(proposalCreateCmd())
	prop.AddCommand(proposalListCmd())
	prop.AddCommand(proposalRespondCmd())
	return prop
}

func proposalCreateCmd() *cobra.Command {
	var opts engine.ProposalOptions
	cmd := &cobra.Command{
		Use:   "create <job-id>",
		Short: "Propose an appointment window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.JobID = args[0]
			opts.ProposedBy = requiredActor()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Propose(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "proposal id (optional)")
	cmd.Flags().StringVar(&opts.StartTime, "start", "", "start time (RFC3339)")
	cmd.Flags().StringVar(&opts.EndTime, "end", "", "end time (RFC3339)")
	cmd.Flags().StringVar(&opts.Message, "message", "", "message")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func proposalListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <job-id>",
		Short: "List proposals for a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListProposals(ctx, jobID, requiredActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func proposalRespondCmd() *cobra.Command {
	var opts engine.RespondOptions
	cmd := &cobra.Command{
		Use:   "respond <id>",
		Short: "Accept, reject, or counter a proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ProposalID = args[0]
			opts.ActorID = requiredActor()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Respond(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Response, "response", "", "accepted, rejected, or countered")
	cmd.Flags().StringVar(&opts.Message, "message", "", "message")
	cmd.Flags().StringVar(&opts.CounterStart, "counter-start", "", "counter window start (RFC3339)")
	cmd.Flags().StringVar(&opts.CounterEnd, "counter-end", "", "counter window end (RFC3339)")
	_ = cmd.MarkFlagRequired("response")
	return cmd
}

func sheetCmd() *cobra.Command {
	sheet := &cobra.Command{
		Use:   "sheet",
		Short: "Manage job sheets",
		Long:  "Job sheets prove the work: on-site check-in and check-out with a location fix, work records, and both parties' signatures. The second signature after check-out completes the job.",
	}
	sheet.AddCommand(sheetCheckinCmd())
	sheet.AddCommand(sheetCheckoutCmd())
	sheet.AddCommand(sheetShowCmd())
	sheet.AddCommand(sheetRecordCmd())
	sheet.AddCommand(sheetPhotoCmd())
	sheet.AddCommand(sheetSignCmd())
	return sheet
}

func geoFlags(cmd *cobra.Command, lat, lng, acc *float64) {
	cmd.Flags().Float64Var(lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(lng, "lng", 0, "longitude")
	cmd.Flags().Float64Var(acc, "accuracy", 0, "accuracy in meters")
}

func geoFromFlags(cmd *cobra.Command, lat, lng, acc float64) *domain.GeoFix {
	if !cmd.Flags().Changed("lat") && !cmd.Flags().Changed("lng") {
		return nil
	}
	return &domain.GeoFix{Lat: lat, Lng: lng, Accuracy: acc}
}

func sheetCheckinCmd() *cobra.Command {
	var lat, lng, acc float64
	cmd := &cobra.Command{
		Use:   "checkin <job-id>",
		Short: "Check in on site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := args[0]
			fix := geoFromFlags(cmd, lat, lng, acc)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sheet, err := e.CheckIn(ctx, jobID, requiredActor(), fix)
				if err != nil {
					return err
				}
				return printJSONOrTable(sheet)
			})
		},
	}
	geoFlags(cmd, &lat, &lng, &acc)
	return cmd
}

func sheetCheckoutCmd() *cobra.Command {
	var lat, lng, acc float64
	cmd := &cobra.Command{
		Use:   "checkout <job-id>",
		Short: "Check out from site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := args[0]
			fix := geoFromFlags(cmd, lat, lng, acc)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sheet, err := e.CheckOut(ctx, jobID, requiredActor(), fix)
				if err != nil {
					return err
				}
				return printJSONOrTable(sheet)
			})
		},
	}
	geoFlags(cmd, &lat, &lng, &acc)
	return cmd
}

func sheetShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show the job sheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sheet, err := e.GetSheet(ctx, jobID, requiredActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(sheet)
			})
		},
	}
	return cmd
}

func sheetRecordCmd() *cobra.Command {
	var rec engine.WorkRecord
	var notes, materials string
	cmd := &cobra.Command{
		Use:   "record <job-id>",
		Short: "Record work on the sheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := args[0]
			if cmd.Flags().Changed("notes") {
				rec.Notes = &notes
			}
			if cmd.Flags().Changed("materials") {
				rec.Materials = &materials
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sheet, err := e.RecordWork(ctx, jobID, requiredActor(), rec)
				if err != nil {
					return err
				}
				return printJSONOrTable(sheet)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "work notes")
	cmd.Flags().StringVar(&materials, "materials", "", "materials used")
	cmd.Flags().IntVar(&rec.TimeSpentMinutes, "minutes", 0, "time spent in minutes (adds to total)")
	cmd.Flags().Int64Var(&rec.AdditionalCosts, "costs", 0, "additional costs in cents (adds to total)")
	return cmd
}

func sheetPhotoCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "photo <job-id>",
		Short: "Attach a work photo to the sheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := args[0]
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				_, ref, err := e.AddSheetPhoto(ctx, jobID, requiredActor(), data)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"ref": ref})
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to image file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func sheetSignCmd() *cobra.Command {
	var role, file string
	cmd := &cobra.Command{
		Use:   "sign <job-id>",
		Short: "Attach a completion signature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := args[0]
			stroke, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sheet, err := e.AttachSignature(ctx, jobID, role, requiredActor(), stroke)
				if err != nil {
					return err
				}
				return printJSONOrTable(sheet)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "homeowner or contractor")
	cmd.Flags().StringVar(&file, "file", "", "path to signature stroke file")
	_ = cmd.MarkFlagRequired("role")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: job transitions, quotes, bookings, check-ins, and signatures.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var jobID, evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, jobID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&jobID, "job-id", "", "job filter")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	cmd.AddCommand(apikeyCreateCmd())
	cmd.AddCommand(apikeyRevokeCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the acting actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID := requiredActor()
			raw := make([]byte, 24)
			if _, err := rand.Read(raw); err != nil {
				return err
			}
			key := "flk_" + hex.EncodeToString(raw)
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if _, err := r.GetActor(ctx, actorID); err != nil {
					return err
				}
				rec := domain.APIKey{
					ID:      uuid.NewString(),
					ActorID: actorID,
					Name:    name,
					KeyHash: repo.HashAPIKey(key),
				}
				if err := r.InsertAPIKey(ctx, nil, rec); err != nil {
					return err
				}
				// Printed once; only the hash is stored.
				return printJSONOrTable(map[string]string{"id": rec.ID, "key": key})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, id)
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			e, conn, err := app.Bootstrap(workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("FIXLINE_JWT_SECRET"),
				AllowLegacyActorHeader: e.Config.Auth.AllowLegacyActorHeader,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("FIXLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Fixline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func requiredActor() string {
	return viper.GetString("actor-id")
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	e, conn, err := app.Bootstrap(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	e, conn, err := app.Bootstrap(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, e.Repo)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
