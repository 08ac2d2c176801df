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

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskmint/internal/app"
	"taskmint/internal/config"
	"taskmint/internal/db"
	"taskmint/internal/domain"
	"taskmint/internal/lifecycle"
	"taskmint/internal/migrate"
	"taskmint/internal/repo"
	"taskmint/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tm",
	Short: "Taskmint CLI",
	Long: `Taskmint runs community projects on a token budget.
Core concepts:
- Workspace: your .taskmint directory holding only the database; configs live in the DB and are imported explicitly.
- Project: owns the token pool; approval funds it, rejection funds a smaller probation pool.
- Tasks: carry a reward in tokens; activating a task reserves its reward, approving it converts the reservation into a spend.
- Status: activity (inactive/active/urgent/completed) crossed with assignment, plus a submitted flag while work awaits review.
- Rewards: split evenly between assignees with integer floor division; the remainder is intentionally not paid out.
- Skills: every payout adds experience toward the task's skill; levels follow from accumulated exp.
- Event log: diary of changes, view with 'tm log tail'.`,
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
	viper.SetEnvPrefix("TASKMINT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "acting member identifier")
	rootCmd.PersistentFlags().String("project", "", "project id (overrides workspace default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(memberCmd())
	rootCmd.AddCommand(ledgerCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- project ---

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectApproveCmd())
	prj.AddCommand(projectRejectCmd())
	prj.AddCommand(projectConfigCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, store *repo.Store) error {
				items, err := store.ListProjects(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func projectCreateCmd() *cobra.Command {
	var id, name, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			if id == "" {
				id = uuid.NewString()
			}
			return withEngine(cmd.Context(), id, func(ctx context.Context, e *lifecycle.Engine) error {
				p, err := e.Store.GetProject(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				// ResolveProjectAndConfig already created the row; just
				// fill in what the flags carry.
				if _, err := e.DB.ExecContext(ctx, `UPDATE projects SET name = ?, description = ? WHERE id = ?`, name, desc, p.ID); err != nil {
					return err
				}
				p.Name = name
				p.Description = desc
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id (generated when omitted)")
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&desc, "description", "", "project description")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active project with its token counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), "", func(ctx context.Context, e *lifecycle.Engine) error {
				p, err := e.Store.GetProject(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func projectApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve",
		Short: "Approve the project and fund its token pool",
		RunE:  decideProject(true),
	}
}

func projectRejectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject",
		Short: "Reject the project, funding only the probation pool",
		RunE:  decideProject(false),
	}
}

func decideProject(approved bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), "", func(ctx context.Context, e *lifecycle.Engine) error {
			p, err := e.SetProjectApproval(ctx, viper.GetString("actor-id"), e.Config.Project.ID, approved)
			if err != nil {
				return err
			}
			return printJSONOrTable(p)
		})
	}
}

func projectConfigCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Manage the project config stored in the DB"}

	var file string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import taskmint.yml into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file required")
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			if _, err := config.FromYAML(data); err != nil {
				return err
			}
			return withEngine(cmd.Context(), "", func(ctx context.Context, e *lifecycle.Engine) error {
				tx, err := e.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				now := time.Now().UTC().Format(time.RFC3339)
				if err := e.Store.SaveProjectConfigTx(ctx, tx, e.Config.Project.ID, data, now); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				fmt.Println("config imported")
				return nil
			})
		},
	}
	importCmd.Flags().StringVar(&file, "file", "", "path to taskmint.yml")

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Print the stored config YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), "", func(ctx context.Context, e *lifecycle.Engine) error {
				raw, err := e.Store.GetProjectConfig(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				fmt.Print(string(raw))
				return nil
			})
		},
	}

	cfgCmd.AddCommand(importCmd)
	cfgCmd.AddCommand(exportCmd)
	return cfgCmd
}

// --- status ---

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the project scoreboard",
		Long:  "Task counts per status label plus the token ledger counters.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), "", func(ctx context.Context, e *lifecycle.Engine) error {
				p, err := e.Store.GetProject(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				counts, err := e.Store.CountTasksByLabel(ctx, p.ID)
				if err != nil {
					return err
				}
				out := map[string]any{
					"project_id":  p.ID,
					"status":      p.Status,
					"task_counts": counts,
					"ledger": map[string]int{
						"pool":     p.TokenPool,
						"spent":    p.TokensSpent,
						"reserved": p.TokensReserved,
						"free":     p.TokenPool - p.TokensSpent - p.TokensReserved,
					},
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Project: %s (%s)\n", p.ID, p.Status)
				fmt.Printf("Ledger: pool=%d spent=%d reserved=%d free=%d\n",
					p.TokenPool, p.TokensSpent, p.TokensReserved, p.TokenPool-p.TokensSpent-p.TokensReserved)
				fmt.Println("Tasks:")
				for label, c := range counts {
					fmt.Printf("  %s: %d\n", label, c)
				}
				return nil
			})
		},
	}
}

// --- task ---

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskClaimCmd())
	task.AddCommand(taskDropCmd())
	task.AddCommand(taskSubmitCmd())
	task.AddCommand(taskRejectCmd())
	task.AddCommand(taskApproveCmd())
	task.AddCommand(taskRewardCmd())
	task.AddCommand(taskActivityCmd())
	task.AddCommand(taskGranularizeCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var title, desc, skill, activity string
	var reward, skillLevel int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), "", func(ctx context.Context, e *lifecycle.Engine) error {
				t, err := e.CreateTask(ctx, viper.GetString("actor-id"), lifecycle.CreateTaskInput{
					ProjectID:    e.Config.Project.ID,
					Title:        title,
					Description:  desc,
					SkillID:      skill,
					SkillLevel:   skillLevel,
					RewardTokens: reward,
					Activity:     domain.Activity(activity),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&desc, "description", "", "task description")
	cmd.Flags().StringVar(&skill, "skill", "", "skill id the reward trains")
	cmd.Flags().IntVar(&skillLevel, "skill-level", 0, "required skill level")
	cmd.Flags().IntVar(&reward, "reward", 0, "reward in tokens")
	cmd.Flags().StringVar(&activity, "activity", "inactive", "initial activity (inactive|active|urgent)")
	return cmd
}

func taskListCmd() *cobra.Command {
	var activity string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), "", func(ctx context.Context, e *lifecycle.Engine) error {
				items, err := e.Store.ListTasks(ctx, e.Config.Project.ID, activity)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Reward", "Assignees"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.Title, t.StatusLabel(), t.RewardTokens, strings.Join(t.Assignees, ",")})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&activity, "activity", "", "filter by activity")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), "", func(ctx context.Context, e *lifecycle.Engine) error {
				t, err := e.Store.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskClaimCmd() *cobra.Command {
	var member string
	cmd := &cobra.Command{
		Use:   "claim <task-id>",
		Short: "Claim a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), "", func(ctx context.Context, e *lifecycle.Engine) error {
				t, err := e.Claim(ctx, viper.GetString("actor-id"), args[0], member)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&member, "member", "", "member id (defaults to --actor-id)")
	return cmd
}

func taskDropCmd() *cobra.Command {
	var member string
	cmd := &cobra.Command{
		Use:   "drop <task-id>",
		Short: "Drop a task assignment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), "", func(ctx context.Context, e *lifecycle.Engine) error {
				t, err := e.Drop(ctx, viper.GetString("actor-id"), args[0], member)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&member, "member", "", "member id (defaults to --actor-id)")
	return cmd
}

func taskSubmitCmd() *cobra.Command {
	return taskTransitionCmd("submit", "Submit a task for review",
		func(ctx context.Context, e *lifecycle.Engine, id string) (any, error) {
			return e.Submit(ctx, viper.GetString("actor-id"), id)
		})
}

func taskRejectCmd() *cobra.Command {
	return taskTransitionCmd("reject", "Reject a submitted task",
		func(ctx context.Context, e *lifecycle.Engine, id string) (any, error) {
			return e.Reject(ctx, viper.GetString("actor-id"), id)
		})
}

func taskApproveCmd() *cobra.Command {
	return taskTransitionCmd("approve", "Approve a submitted task and pay its assignees",
		func(ctx context.Context, e *lifecycle.Engine, id string) (any, error) {
			t, summary, err := e.Approve(ctx, viper.GetString("actor-id"), id)
			if err != nil {
				return nil, err
			}
			return map[string]any{"task": t, "payout": summary}, nil
		})
}

func taskTransitionCmd(verb, short string, fn func(context.Context, *lifecycle.Engine, string) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <task-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), "", func(ctx context.Context, e *lifecycle.Engine) error {
				out, err := fn(ctx, e, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
}

func taskRewardCmd() *cobra.Command {
	var reward int
	cmd := &cobra.Command{
		Use:   "reward <task-id>",
		Short: "Change a task's reward, adjusting any live reservation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), "", func(ctx context.Context, e *lifecycle.Engine) error {
				t, err := e.UpdateReward(ctx, viper.GetString("actor-id"), args[0], reward)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().IntVar(&reward, "tokens", 0, "new reward in tokens")
	_ = cmd.MarkFlagRequired("tokens")
	return cmd
}

func taskActivityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "activity <task-id> <inactive|active|urgent|completed>",
		Short: "Change a task's activity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), "", func(ctx context.Context, e *lifecycle.Engine) error {
				t, err := e.ChangeActivity(ctx, viper.GetString("actor-id"), args[0], domain.Activity(args[1]))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskGranularizeCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "granularize <task-id>",
		Short: "Replace a task with finer-grained pieces from a JSON file",
		Long: `Reads a JSON array of pieces:
  [{"title": "Design", "reward_tokens": 30},
   {"title": "Implement", "reward_tokens": 60, "depends_on": [0]}]
depends_on holds zero-based indexes into the array; they are remapped to
the ids of the created tasks.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file required")
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var pieces []struct {
				Title        string `json:"title"`
				Description  string `json:"description"`
				SkillID      string `json:"skill_id"`
				SkillLevel   int    `json:"skill_level"`
				RewardTokens int    `json:"reward_tokens"`
				DependsOn    []int  `json:"depends_on"`
			}
			if err := json.Unmarshal(data, &pieces); err != nil {
				return fmt.Errorf("parse pieces: %w", err)
			}
			in := make([]lifecycle.GranularPiece, 0, len(pieces))
			for _, p := range pieces {
				in = append(in, lifecycle.GranularPiece{
					Title:        p.Title,
					Description:  p.Description,
					SkillID:      p.SkillID,
					SkillLevel:   p.SkillLevel,
					RewardTokens: p.RewardTokens,
					DependsOn:    p.DependsOn,
				})
			}
			return withEngine(cmd.Context(), "", func(ctx context.Context, e *lifecycle.Engine) error {
				out, err := e.Granularize(ctx, viper.GetString("actor-id"), args[0], in)
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "JSON file describing the pieces")
	return cmd
}

// --- member ---

func memberCmd() *cobra.Command {
	member := &cobra.Command{Use: "member", Short: "Inspect members"}
	member.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List members with balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, store *repo.Store) error {
				items, err := store.ListMembers(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	})
	member.AddCommand(&cobra.Command{
		Use:   "show <member-id>",
		Short: "Show a member's balance, payouts and skill levels",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, store *repo.Store) error {
				m, err := store.GetMember(ctx, args[0])
				if err != nil {
					return err
				}
				skills, err := store.ListSkillProgress(ctx, m.ID)
				if err != nil {
					return err
				}
				payouts, err := store.ListExperience(ctx, m.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"member":  m,
					"skills":  skills,
					"payouts": payouts,
				})
			})
		},
	})
	return member
}

// --- ledger ---

func ledgerCmd() *cobra.Command {
	led := &cobra.Command{Use: "ledger", Short: "Inspect and manage the token ledger"}
	led.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the project's token counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), "", func(ctx context.Context, e *lifecycle.Engine) error {
				p, err := e.Store.GetProject(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"pool":     p.TokenPool,
					"spent":    p.TokensSpent,
					"reserved": p.TokensReserved,
					"free":     p.TokenPool - p.TokensSpent - p.TokensReserved,
				})
			})
		},
	})
	led.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Zero the spent counter for a new accounting period",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), "", func(ctx context.Context, e *lifecycle.Engine) error {
				p, err := e.ResetPeriod(ctx, viper.GetString("actor-id"), e.Config.Project.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	})
	return led
}

// --- log ---

func logCmd() *cobra.Command {
	logc := &cobra.Command{Use: "log", Short: "Event log"}
	var n int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), "", func(ctx context.Context, e *lifecycle.Engine) error {
				events, err := e.Store.ListEvents(ctx, e.Config.Project.ID, n)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	logc.AddCommand(tail)
	return logc
}

// --- api keys ---

func apikeyCmd() *cobra.Command {
	keys := &cobra.Command{Use: "apikey", Short: "Manage API keys for the HTTP server"}

	var name, actor string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (the raw key is printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			return withStore(cmd.Context(), func(ctx context.Context, store *repo.Store) error {
				raw := uuid.NewString() + uuid.NewString()
				key := &domain.APIKey{
					ID:        uuid.NewString(),
					ActorID:   actor,
					Name:      name,
					KeyHash:   repo.HashAPIKey(raw),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := store.CreateAPIKey(ctx, key); err != nil {
					return err
				}
				fmt.Printf("api key created: %s\nkey: %s\n", key.ID, raw)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "key name")
	create.Flags().StringVar(&actor, "actor", "", "member the key acts as (defaults to --actor-id)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, store *repo.Store) error {
				items, err := store.ListAPIKeys(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}

	revoke := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, store *repo.Store) error {
				return store.RevokeAPIKey(ctx, args[0], time.Now().UTC().Format(time.RFC3339))
			})
		},
	}

	keys.AddCommand(create)
	keys.AddCommand(list)
	keys.AddCommand(revoke)
	return keys
}

// --- token ---

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development JWT for the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("TASKMINT_JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("TASKMINT_JWT_SECRET is not set")
			}
			now := time.Now()
			claims := jwt.RegisteredClaims{
				Subject:   viper.GetString("actor-id"),
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			}
			signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
			if err != nil {
				return err
			}
			fmt.Println(signed)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacy bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
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
			store := repo.New(conn)
			_, cfg, err := app.ResolveProjectAndConfig(cmd.Context(), viper.GetString("project"), viper.GetString("actor-id"), store)
			if err != nil {
				return err
			}
			e := lifecycle.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("TASKMINT_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacy,
			}
			if authCfg.JWTSecret == "" && !allowLegacy {
				return fmt.Errorf("TASKMINT_JWT_SECRET is required for bearer auth (or pass --allow-legacy-actor-header)")
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
			fmt.Printf("Serving Taskmint API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacy, "allow-legacy-actor-header", false, "accept the unauthenticated X-Actor-Id header")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, projectOverride string, fn func(context.Context, *lifecycle.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	store := repo.New(conn)
	if projectOverride == "" {
		projectOverride = viper.GetString("project")
	}
	_, cfg, err := app.ResolveProjectAndConfig(ctx, projectOverride, viper.GetString("actor-id"), store)
	if err != nil {
		return err
	}
	e := lifecycle.New(conn, cfg)
	return fn(ctx, e)
}

func withStore(ctx context.Context, fn func(context.Context, *repo.Store) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.New(conn))
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
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
