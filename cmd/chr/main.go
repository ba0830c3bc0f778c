package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"chronicle/internal/broadcast"
	"chronicle/internal/config"
	"chronicle/internal/db"
	"chronicle/internal/domain"
	"chronicle/internal/drafts"
	"chronicle/internal/engine"
	"chronicle/internal/ledger"
	"chronicle/internal/migrate"
	"chronicle/internal/notify"
	"chronicle/internal/queue"
	"chronicle/internal/repo"
	"chronicle/internal/server"
	"chronicle/internal/workflow"
)

var rootCmd = &cobra.Command{
	Use:   "chr",
	Short: "Chronicle CLI",
	Long: `Chronicle drives units of work through a strict state machine and records
approved outcomes in an append-only sealed ledger.
- Workspace: your .chronicle directory holding the database; chronicle.yml holds project config.
- Tasks: work items flowing PENDING -> SCHEDULED -> IN_PROGRESS -> COMPLETED/FAILED, with CANCELLED exits. Every transition is actor-attributed and journaled.
- Acts: ledger entries. Sealing an act stamps a unique seal code and freezes it forever.
- Prompts: human-reviewable units. Executing queues background work; approving closes the prompt and seals a closure act.
- Drafts: candidate outbound messages, one per task, gated by guardrails.
- Broadcast: fan-out of approved content to email and channels, recorded as a sealed act.
- Journal: diary of every accepted mutation, view with 'chr log tail'.`,
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
	viper.SetEnvPrefix("CHRONICLE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(actCmd())
	rootCmd.AddCommand(promptCmd())
	rootCmd.AddCommand(draftCmd())
	rootCmd.AddCommand(broadcastCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(serveCmd())
}

// services bundles everything a command needs against one open database.
type services struct {
	Config    *config.Config
	Repo      repo.Repo
	Engine    engine.Engine
	Ledger    ledger.Ledger
	Workflow  workflow.Engine
	Drafts    drafts.Service
	Broadcast broadcast.Dispatcher
}

func withServices(ctx context.Context, fn func(context.Context, services) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	if cfg == nil {
		cfg = config.Default("local")
	}
	notifier := notify.New(cfg, notify.LogEmailSender{}, nil)
	e := engine.New(conn, cfg)
	e.Notifier = notifier
	l := ledger.New(conn)
	wf := workflow.New(conn)
	wf.Notifier = notifier
	ds := drafts.New(conn, cfg)
	ds.Notifier = notifier
	ds.Email = notify.LogEmailSender{}
	bc := broadcast.New(l, notify.LogEmailSender{}, nil)
	return fn(ctx, services{
		Config:    cfg,
		Repo:      repo.Repo{DB: conn},
		Engine:    e,
		Ledger:    l,
		Workflow:  wf,
		Drafts:    ds,
		Broadcast: bc,
	})
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage the workspace project"}
	prj.AddCommand(projectInitCmd())
	prj.AddCommand(projectShowCmd())
	return prj
}

func projectInitCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize workspace config and database",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config %s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(id)), 0o644); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			fmt.Printf("Initialized chronicle project %s in %s\n", id, workspace)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show workspace status",
		Long:  "The scoreboard: task counts by status, act counts by type, and queue depth.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s services) error {
				taskCounts, err := s.Repo.CountTasksByStatus(ctx)
				if err != nil {
					return err
				}
				actCounts, err := s.Repo.CountActsByType(ctx, "", "")
				if err != nil {
					return err
				}
				jobCounts, err := s.Repo.CountJobsByStatus(ctx)
				if err != nil {
					return err
				}
				out := map[string]any{
					"project_id":  s.Config.Project.ID,
					"task_counts": taskCounts,
					"act_counts":  actCounts,
					"job_counts":  jobCounts,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Project: %s\n", s.Config.Project.ID)
				fmt.Println("Tasks:")
				for status, c := range taskCounts {
					fmt.Printf("  %s: %d\n", status, c)
				}
				fmt.Println("Acts:")
				for actType, c := range actCounts {
					fmt.Printf("  %s: %d\n", actType, c)
				}
				fmt.Println("Jobs:")
				for status, c := range jobCounts {
					fmt.Printf("  %s: %d\n", status, c)
				}
				return nil
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks flow PENDING -> SCHEDULED -> IN_PROGRESS -> COMPLETED/FAILED, with CANCELLED exits from the first two. Terminal tasks never move again.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskGetCmd())
	task.AddCommand(taskTransitionCmd())
	task.AddCommand(taskEventsCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	var priority int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			if cmd.Flags().Changed("priority") {
				opts.Priority = &priority
			}
			return withServices(cmd.Context(), func(ctx context.Context, s services) error {
				t, err := s.Engine.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Type, "type", "", "task type")
	cmd.Flags().StringVar(&opts.Mode, "mode", "", "ASSISTED or AUTONOMOUS")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority")
	cmd.Flags().StringVar(&opts.OwnerType, "owner-type", "HUMAN", "AI, HUMAN or SYSTEM")
	cmd.Flags().StringVar(&opts.OwnerID, "owner-id", "", "owner id")
	cmd.Flags().StringVar(&opts.SubjectRefType, "subject-type", "", "subject ref type")
	cmd.Flags().StringVar(&opts.SubjectRefID, "subject-id", "", "subject ref id")
	cmd.Flags().StringVar(&opts.PayloadJSON, "payload", "", "JSON payload")
	cmd.Flags().StringVar(&opts.DueAt, "due-at", "", "due timestamp (RFC3339)")
	cmd.Flags().StringVar(&opts.Source, "source", "cli", "source")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("subject-type")
	_ = cmd.MarkFlagRequired("subject-id")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s services) error {
				tasks, err := s.Engine.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Status", "Owner", "Subject", "Created"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Type, t.Status,
						t.OwnerType + "/" + t.OwnerID,
						t.Subject.Type + ":" + t.Subject.ID,
						t.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Type, "type", "", "type filter")
	cmd.Flags().StringVar(&f.OwnerType, "owner-type", "", "owner type filter")
	cmd.Flags().StringVar(&f.OwnerID, "owner-id", "", "owner id filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func taskGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <task-id>",
		Short: "Get a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s services) error {
				t, err := s.Repo.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskTransitionCmd() *cobra.Command {
	var status, actorType string
	cmd := &cobra.Command{
		Use:   "transition <task-id>",
		Short: "Transition task status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if status == "" {
				return fmt.Errorf("--status required")
			}
			return withServices(cmd.Context(), func(ctx context.Context, s services) error {
				t, err := s.Engine.Transition(ctx, args[0], status, engine.Actor{
					Type: actorType,
					ID:   viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "target status")
	cmd.Flags().StringVar(&actorType, "actor-type", domain.OwnerHuman, "AI, HUMAN or SYSTEM")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func taskEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events <task-id>",
		Short: "Show the task's transition trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s services) error {
				events, err := s.Engine.TaskEvents(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "From", "To", "Actor", "At"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.ID, e.FromStatus, e.ToStatus, e.ActorType + "/" + e.ActorID, e.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func actCmd() *cobra.Command {
	act := &cobra.Command{
		Use:   "act",
		Short: "Manage ledger acts",
		Long:  "Acts are ledger entries. Sealing stamps a unique code and freezes the act forever; corrections are new acts.",
	}
	act.AddCommand(actCreateCmd())
	act.AddCommand(actListCmd())
	act.AddCommand(actGetCmd())
	act.AddCommand(actSealCmd())
	act.AddCommand(actIndexCmd())
	return act
}

func actCreateCmd() *cobra.Command {
	var opts ledger.ActCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Record an act",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withServices(cmd.Context(), func(ctx context.Context, s services) error {
				a, err := s.Ledger.CreateAct(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Type, "type", "", "act type")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Cycle, "cycle", "", "daily, seasonal or epochal")
	cmd.Flags().StringVar(&opts.BodyJSON, "body", "", "JSON body")
	cmd.Flags().StringSliceVar(&opts.LineageTags, "tag", nil, "lineage tag (repeatable)")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func actListCmd() *cobra.Command {
	var f repo.ActFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List acts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s services) error {
				acts, err := s.Ledger.ListActs(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(acts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Cycle", "Status", "Title", "Created"})
				for _, a := range acts {
					tw.AppendRow(table.Row{a.ID, a.Type, a.Cycle, a.Status, a.Title, a.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Type, "type", "", "type filter")
	cmd.Flags().StringVar(&f.Cycle, "cycle", "", "cycle filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func actGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <act-id>",
		Short: "Get an act with its seal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s services) error {
				a, seal, err := s.Ledger.GetAct(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"act": a, "seal": seal})
			})
		},
	}
	return cmd
}

func actSealCmd() *cobra.Command {
	var stampedBy string
	cmd := &cobra.Command{
		Use:   "seal <act-id>",
		Short: "Seal an act",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s services) error {
				actor := viper.GetString("actor-id")
				if stampedBy == "" {
					stampedBy = actor
				}
				seal, err := s.Ledger.SealAct(ctx, args[0], stampedBy, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(seal)
			})
		},
	}
	cmd.Flags().StringVar(&stampedBy, "stamped-by", "", "sealing authority")
	return cmd
}

func actIndexCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Act counts by type",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s services) error {
				counts, err := s.Ledger.IndexByType(ctx, from, to)
				if err != nil {
					return err
				}
				return printJSONOrTable(counts)
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "window start (RFC3339)")
	cmd.Flags().StringVar(&to, "to", "", "window end (RFC3339)")
	return cmd
}

func promptCmd() *cobra.Command {
	prompt := &cobra.Command{
		Use:   "prompt",
		Short: "Manage prompts",
		Long:  "Prompts are human-reviewable units: in_review -> executing -> closed. Approving closes the prompt and seals a closure act.",
	}
	prompt.AddCommand(promptCreateCmd())
	prompt.AddCommand(promptListCmd())
	prompt.AddCommand(promptGetCmd())
	prompt.AddCommand(promptExecuteCmd())
	prompt.AddCommand(promptApproveCmd())
	return prompt
}

func promptCreateCmd() *cobra.Command {
	var opts workflow.PromptCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a prompt",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.IssuerID = viper.GetString("actor-id")
			return withServices(cmd.Context(), func(ctx context.Context, s services) error {
				p, err := s.Workflow.CreatePrompt(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Body, "body", "", "body")
	cmd.Flags().StringVar(&opts.DashboardID, "dashboard-id", "", "dashboard id")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func promptListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List prompts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s services) error {
				prompts, err := s.Workflow.ListPrompts(ctx, status, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(prompts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Issuer", "Updated"})
				for _, p := range prompts {
					tw.AppendRow(table.Row{p.ID, p.Title, p.Status, p.IssuerID, p.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows")
	return cmd
}

func promptGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <prompt-id>",
		Short: "Get a prompt with approvals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s services) error {
				p, approvals, err := s.Workflow.GetPrompt(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"prompt": p, "approvals": approvals})
			})
		},
	}
	return cmd
}

func promptExecuteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "execute <prompt-id>",
		Short: "Queue background execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s services) error {
				p, err := s.Workflow.ExecutePrompt(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func promptApproveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve <prompt-id>",
		Short: "Approve, close, and seal a closure act",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s services) error {
				p, seal, err := s.Workflow.ApprovePrompt(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"prompt": p, "seal": seal})
			})
		},
	}
	return cmd
}

func draftCmd() *cobra.Command {
	draft := &cobra.Command{
		Use:   "draft",
		Short: "Manage message drafts",
		Long:  "One draft per task. PENDING/APPROVED drafts can move; SENT and DISCARDED are final. Auto-send obeys the guardrails in chronicle.yml.",
	}
	draft.AddCommand(draftCreateCmd())
	draft.AddCommand(draftListCmd())
	draft.AddCommand(draftGetCmd())
	draft.AddCommand(draftStatusCmd())
	draft.AddCommand(draftAutoSendCmd())
	return draft
}

func draftCreateCmd() *cobra.Command {
	var opts drafts.DraftCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a draft",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withServices(cmd.Context(), func(ctx context.Context, s services) error {
				d, err := s.Drafts.CreateDraft(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&opts.TaskID, "task-id", "", "task id")
	cmd.Flags().StringVar(&opts.Subject, "subject", "", "subject")
	cmd.Flags().StringVar(&opts.BodyText, "body", "", "body text")
	cmd.Flags().StringVar(&opts.RecipientEmail, "to", "", "recipient email")
	cmd.Flags().StringVar(&opts.RecipientType, "recipient-type", "", "recipient type")
	cmd.Flags().StringVar(&opts.MetadataJSON, "metadata", "", "JSON metadata")
	_ = cmd.MarkFlagRequired("task-id")
	_ = cmd.MarkFlagRequired("subject")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func draftListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List drafts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s services) error {
				list, err := s.Drafts.ListDrafts(ctx, status, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(list)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Task", "Recipient", "Status", "Sent"})
				for _, d := range list {
					sent := ""
					if d.SentAt != nil {
						sent = *d.SentAt
					}
					tw.AppendRow(table.Row{d.ID, d.TaskID, d.RecipientEmail, d.Status, sent})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows")
	return cmd
}

func draftGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <draft-id>",
		Short: "Get a draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s services) error {
				d, err := s.Drafts.GetDraft(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	return cmd
}

func draftStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "status <draft-id>",
		Short: "Update draft status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if status == "" {
				return fmt.Errorf("--status required")
			}
			return withServices(cmd.Context(), func(ctx context.Context, s services) error {
				d, err := s.Drafts.UpdateDraftStatus(ctx, args[0], status, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "target status")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func draftAutoSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autosend <draft-id>",
		Short: "Attempt guardrail-gated automatic send",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s services) error {
				d, err := s.Drafts.AutoSend(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	return cmd
}

func broadcastCmd() *cobra.Command {
	bc := &cobra.Command{Use: "broadcast", Short: "Broadcast dispatch"}
	bc.AddCommand(broadcastDispatchCmd())
	return bc
}

func broadcastDispatchCmd() *cobra.Command {
	var targets []string
	var subject, body, schedule string
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Fan a capsule out and seal the dispatch act",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s services) error {
				actID, err := s.Broadcast.DispatchCapsule(ctx, broadcast.Capsule{
					Targets:  targets,
					Assets:   map[string]string{"subject": subject, "body": body},
					Schedule: schedule,
					ActorID:  viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"ok": true, "act_id": actID})
			})
		},
	}
	cmd.Flags().StringSliceVar(&targets, "target", nil, "email address or channel id (repeatable)")
	cmd.Flags().StringVar(&subject, "subject", "", "capsule subject")
	cmd.Flags().StringVar(&body, "body", "", "capsule body")
	cmd.Flags().StringVar(&schedule, "schedule", "", "schedule hint")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Audit journal",
		Long:  "The diary of every accepted mutation: task transitions, seals, approvals, dispatches.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var entryType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail journal entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s services) error {
				entries, err := s.Repo.LatestJournal(ctx, n, entryType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(entries)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	cmd.Flags().StringVar(&entryType, "type", "", "entry type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func workerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the background job worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s services) error {
				w := queue.NewWorker(s.Repo)
				if s.Config.Queue.MaxAttempts > 0 {
					w.MaxAttempts = s.Config.Queue.MaxAttempts
				}
				if s.Config.Queue.PollInterval != "" {
					if d, err := time.ParseDuration(s.Config.Queue.PollInterval); err == nil {
						w.PollInterval = d
					}
				}
				w.Register(workflow.JobTypeExecution, s.Workflow.RunExecutionJob)
				fmt.Println("Worker running; Ctrl-C to stop")
				w.Run(ctx)
				return nil
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var withWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s services) error {
				authCfg := server.AuthConfig{JWTSecret: os.Getenv("CHRONICLE_JWT_SECRET")}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("CHRONICLE_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{
					Tasks:     s.Engine,
					Ledger:    s.Ledger,
					Workflow:  s.Workflow,
					Drafts:    s.Drafts,
					Broadcast: s.Broadcast,
					Repo:      s.Repo,
					ProjectID: s.Config.Project.ID,
					BasePath:  basePath,
					Auth:      authCfg,
				})
				if err != nil {
					return err
				}
				stopHooks := notify.StartWebhookDispatcher(s.Repo, s.Config)
				defer stopHooks()
				if withWorker {
					w := queue.NewWorker(s.Repo)
					w.Register(workflow.JobTypeExecution, s.Workflow.RunExecutionJob)
					go w.Run(ctx)
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Chronicle API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&withWorker, "with-worker", true, "run the job worker in-process")
	return cmd
}

// --- helpers ---

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
