package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"crewline/internal/board"
	"crewline/internal/config"
	"crewline/internal/db"
	"crewline/internal/engine"
	"crewline/internal/migrate"
	"crewline/internal/repo"
)

var rootCmd = &cobra.Command{
	Use:   "crew",
	Short: "Crewline CLI",
	Long: `Crewline coordinates several agents working on one codebase.
Core concepts:
- Workspace: the .crewline directory next to your repo, holding the database; crewline.yml holds the rules.
- Leases: a lease is a time-bounded exclusive claim over a file scope (glob patterns). Two actors cannot hold overlapping active leases, so nobody edits the same files at once.
- Tasks: work items moving pending -> assigned -> in_progress -> completed, with blocked as a parking state. 'crew task next' hands out the highest-priority pending task.
- Queue: finished branches line up for integration. Approved items are pulled first; an item waits until every branch it depends on has merged.
- Policy: declarative rules (deny/warn/allow) checked before risky actions; see 'crew policy eval'.
- Board: two directors review high-impact requests. One veto escalates to a human, two vetoes block outright.
- Messages: a small inbox so agents can hand off context.
- Event log: every state change is recorded; view with 'crew log tail'.`,
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
	viper.SetEnvPrefix("CREWLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	level := zerolog.WarnLevel
	if viper.GetBool("verbose") {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose logging")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(leaseCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(queueCmd())
	rootCmd.AddCommand(policyCmd())
	rootCmd.AddCommand(boardCmd())
	rootCmd.AddCommand(msgCmd())
	rootCmd.AddCommand(logCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			path, err := config.WriteDefault(workspace)
			if err != nil {
				return err
			}
			fmt.Printf("workspace ready: %s\nconfig: %s\n", db.Path(workspace), path)
			return nil
		},
	}
}

// --- lease ---

func leaseCmd() *cobra.Command {
	lease := &cobra.Command{Use: "lease", Short: "Manage scope leases"}
	lease.AddCommand(leaseClaimCmd())
	lease.AddCommand(leaseRenewCmd())
	lease.AddCommand(leaseReleaseCmd())
	lease.AddCommand(leaseRevokeCmd())
	lease.AddCommand(leaseListCmd())
	lease.AddCommand(leaseCleanupCmd())
	return lease
}

func leaseClaimCmd() *cobra.Command {
	var scope []string
	var branch, intent string
	var ttlMinutes int
	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Claim an exclusive lease over a file scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.ClaimLease(ctx, engine.ClaimOptions{
					Actor:  viper.GetString("actor-id"),
					Branch: branch,
					Scope:  scope,
					Intent: intent,
					TTL:    time.Duration(ttlMinutes) * time.Minute,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	cmd.Flags().StringSliceVar(&scope, "scope", nil, "glob patterns to claim (repeatable)")
	cmd.Flags().StringVar(&branch, "branch", "", "work branch")
	cmd.Flags().StringVar(&intent, "intent", "", "what the claim is for")
	cmd.Flags().IntVar(&ttlMinutes, "ttl", 0, "lease ttl in minutes (0 = config default)")
	_ = cmd.MarkFlagRequired("scope")
	return cmd
}

func leaseRenewCmd() *cobra.Command {
	var ttlMinutes int
	cmd := &cobra.Command{
		Use:   "renew <lease-id>",
		Short: "Extend an active lease",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.RenewLease(ctx, args[0], time.Duration(ttlMinutes)*time.Minute)
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	cmd.Flags().IntVar(&ttlMinutes, "ttl", 0, "new ttl in minutes (0 = config default)")
	return cmd
}

func leaseReleaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "release <lease-id>",
		Short: "Release a lease",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.ReleaseLease(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
}

func leaseRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <lease-id>",
		Short: "Revoke another actor's lease",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.RevokeLease(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
}

func leaseListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List leases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				leases, err := e.ListLeases(ctx, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(leases)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Status", "Scope", "Expires"})
				for _, l := range leases {
					tw.AppendRow(table.Row{l.ID, l.Actor, l.Status, strings.Join(l.Scope, ", "), l.ExpiresAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func leaseCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Mark overdue leases expired",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.CleanupLeases(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				fmt.Printf("expired %d lease(s)\n", n)
				return nil
			})
		},
	}
}

// --- task ---

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskAssignCmd())
	task.AddCommand(taskStartCmd())
	task.AddCommand(taskDoneCmd())
	task.AddCommand(taskBlockCmd())
	task.AddCommand(taskNotesCmd())
	task.AddCommand(taskNextCmd())
	task.AddCommand(taskListCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var title, priority, notes string
	var scope []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
					Title:    title,
					Scope:    scope,
					Priority: priority,
					Notes:    notes,
					ActorID:  viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringSliceVar(&scope, "scope", nil, "expected file scope")
	cmd.Flags().StringVar(&priority, "priority", "", "critical, high, medium or low")
	cmd.Flags().StringVar(&notes, "notes", "", "free-form notes")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskAssignCmd() *cobra.Command {
	var worker string
	cmd := &cobra.Command{
		Use:   "assign <task-id>",
		Short: "Assign a pending task to a worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.AssignTask(ctx, args[0], worker, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&worker, "worker", "", "worker actor id")
	_ = cmd.MarkFlagRequired("worker")
	return cmd
}

func taskStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <task-id>",
		Short: "Start an assigned task (assignee only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.StartTask(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskDoneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "done <task-id>",
		Short: "Complete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CompleteTask(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskBlockCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "block <task-id>",
		Short: "Block a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.BlockTask(ctx, args[0], reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the task is blocked")
	return cmd
}

func taskNotesCmd() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "notes <task-id>",
		Short: "Replace a task's notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTaskNotes(ctx, args[0], notes, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "new notes")
	_ = cmd.MarkFlagRequired("notes")
	return cmd
}

func taskNextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Show the next task a free worker should take",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.NextPendingTask(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				tasks, err := r.ListTasks(ctx, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Priority", "Status", "Assignee"})
				for _, t := range tasks {
					assignee := ""
					if t.AssignedTo != nil {
						assignee = *t.AssignedTo
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.Priority, t.Status, assignee})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

// --- queue ---

func queueCmd() *cobra.Command {
	queue := &cobra.Command{Use: "queue", Short: "Integration queue"}
	queue.AddCommand(queuePushCmd())
	queue.AddCommand(queuePullCmd())
	queue.AddCommand(queueApproveCmd())
	queue.AddCommand(queueChangesCmd())
	queue.AddCommand(queueBlockCmd())
	queue.AddCommand(queueTestingCmd())
	queue.AddCommand(queueMergeCmd())
	queue.AddCommand(queueRevertCmd())
	queue.AddCommand(queueListCmd())
	return queue
}

func queuePushCmd() *cobra.Command {
	var branch, risk, leaseID string
	var scope, deps []string
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Queue a branch for integration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.Enqueue(ctx, engine.EnqueueOptions{
					Owner:   viper.GetString("actor-id"),
					Branch:  branch,
					Scope:   scope,
					Deps:    deps,
					Risk:    risk,
					LeaseID: leaseID,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&branch, "branch", "", "branch name")
	cmd.Flags().StringSliceVar(&scope, "scope", nil, "touched file scope")
	cmd.Flags().StringSliceVar(&deps, "dep", nil, "queue item ids this branch depends on")
	cmd.Flags().StringVar(&risk, "risk", "", "risk note")
	cmd.Flags().StringVar(&leaseID, "lease", "", "lease the work ran under")
	_ = cmd.MarkFlagRequired("branch")
	return cmd
}

func queuePullCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Pull the next integrable item",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor := viper.GetString("actor-id")
				var it any
				var err error
				if id != "" {
					it, err = e.DequeueByID(ctx, id, actor)
				} else {
					it, err = e.Dequeue(ctx, actor)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "pull a specific item instead of the next one")
	return cmd
}

func queueApproveCmd() *cobra.Command {
	return queueStatusCmd("approve <item-id>", "Approve an item for priority integration",
		func(ctx context.Context, e engine.Engine, id, reason string) (any, error) {
			return e.ApproveItem(ctx, id, viper.GetString("actor-id"))
		}, false)
}

func queueChangesCmd() *cobra.Command {
	return queueStatusCmd("request-changes <item-id>", "Send an item back to its owner",
		func(ctx context.Context, e engine.Engine, id, reason string) (any, error) {
			return e.RequestChanges(ctx, id, reason, viper.GetString("actor-id"))
		}, true)
}

func queueBlockCmd() *cobra.Command {
	return queueStatusCmd("block <item-id>", "Block an item",
		func(ctx context.Context, e engine.Engine, id, reason string) (any, error) {
			return e.BlockItem(ctx, id, reason, viper.GetString("actor-id"))
		}, true)
}

func queueTestingCmd() *cobra.Command {
	return queueStatusCmd("testing <item-id>", "Mark an item as in testing",
		func(ctx context.Context, e engine.Engine, id, reason string) (any, error) {
			return e.MarkTesting(ctx, id, viper.GetString("actor-id"))
		}, false)
}

func queueMergeCmd() *cobra.Command {
	return queueStatusCmd("merge <item-id>", "Mark an item as merged",
		func(ctx context.Context, e engine.Engine, id, reason string) (any, error) {
			return e.MarkMerged(ctx, id, viper.GetString("actor-id"))
		}, false)
}

func queueRevertCmd() *cobra.Command {
	return queueStatusCmd("revert <item-id>", "Mark a merged item as reverted",
		func(ctx context.Context, e engine.Engine, id, reason string) (any, error) {
			return e.RevertItem(ctx, id, reason, viper.GetString("actor-id"))
		}, true)
}

func queueStatusCmd(use, short string, fn func(context.Context, engine.Engine, string, string) (any, error), withReason bool) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := fn(ctx, e, args[0], reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	if withReason {
		cmd.Flags().StringVar(&reason, "reason", "", "reason")
	}
	return cmd
}

func queueListCmd() *cobra.Command {
	var statuses []string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListQueue(ctx, statuses...)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Branch", "Owner", "Status", "Deps"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.Branch, it.Owner, it.Status, strings.Join(it.Deps, ", ")})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "status filter (repeatable)")
	return cmd
}

// --- policy ---

func policyCmd() *cobra.Command {
	policy := &cobra.Command{Use: "policy", Short: "Policy rules"}
	policy.AddCommand(policyEvalCmd())
	policy.AddCommand(policyRulesCmd())
	return policy
}

func policyEvalCmd() *cobra.Command {
	var action, contextJSON string
	var scope []string
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate an action against the configured rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			if action == "" {
				return fmt.Errorf("--action required")
			}
			var extra map[string]any
			if contextJSON != "" {
				if err := json.Unmarshal([]byte(contextJSON), &extra); err != nil {
					return fmt.Errorf("invalid --context: %w", err)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res := e.EvaluatePolicy(ctx, viper.GetString("actor-id"), action, scope, extra)
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "action, e.g. lease.claim or queue.merge")
	cmd.Flags().StringSliceVar(&scope, "scope", nil, "paths the action touches")
	cmd.Flags().StringVar(&contextJSON, "context", "", "extra context as JSON")
	return cmd
}

func policyRulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective rule set",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg.Rules())
		},
	}
}

// --- board ---

func boardCmd() *cobra.Command {
	b := &cobra.Command{Use: "board", Short: "Director review board"}
	b.AddCommand(boardReviewCmd())
	return b
}

func boardReviewCmd() *cobra.Command {
	var kind, summary, justification string
	var scope []string
	var cost float64
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Submit a high-impact request for board review",
		RunE: func(cmd *cobra.Command, args []string) error {
			if kind == "" || summary == "" {
				return fmt.Errorf("--kind and --summary required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res := e.BoardReview(ctx, viper.GetString("actor-id"), board.Request{
					Kind:          kind,
					Summary:       summary,
					Justification: justification,
					Scope:         scope,
					CostUSD:       cost,
				})
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "request kind, e.g. deploy, override, budget")
	cmd.Flags().StringVar(&summary, "summary", "", "what is being requested")
	cmd.Flags().StringVar(&justification, "justification", "", "why it is needed")
	cmd.Flags().StringSliceVar(&scope, "scope", nil, "affected paths")
	cmd.Flags().Float64Var(&cost, "cost", 0, "estimated cost in USD")
	return cmd
}

// --- msg ---

func msgCmd() *cobra.Command {
	msg := &cobra.Command{Use: "msg", Short: "Actor messages"}
	msg.AddCommand(msgSendCmd())
	msg.AddCommand(msgInboxCmd())
	msg.AddCommand(msgReadCmd())
	return msg
}

func msgSendCmd() *cobra.Command {
	var to, subject, body string
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message to another actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.SendMessage(ctx, viper.GetString("actor-id"), to, subject, body)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "recipient actor id")
	cmd.Flags().StringVar(&subject, "subject", "", "subject")
	cmd.Flags().StringVar(&body, "body", "", "message body")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("body")
	return cmd
}

func msgInboxCmd() *cobra.Command {
	var unread bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List received messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				msgs, err := e.ListMessages(ctx, viper.GetString("actor-id"), unread)
				if err != nil {
					return err
				}
				return printJSONOrTable(msgs)
			})
		},
	}
	cmd.Flags().BoolVar(&unread, "unread", false, "unread messages only")
	return cmd
}

func msgReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <message-id>",
		Short: "Mark a message as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.MarkMessageRead(ctx, args[0])
			})
		},
	}
}

// --- log ---

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Event log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
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
