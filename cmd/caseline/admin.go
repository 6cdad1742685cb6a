package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"caseline/internal/config"
	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/engine/auth"
	"caseline/internal/repo"
)

// authorizeAdmin checks the actor when one is given; local bootstrap
// without an actor is allowed so the first users can be created.
func authorizeAdmin(ctx context.Context, e engine.Engine, perm string) error {
	actor, err := actorID()
	if err != nil {
		return nil
	}
	_, err = e.Authorize(ctx, actor, perm)
	return err
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage users"}
	cmd.AddCommand(userAddCmd())
	cmd.AddCommand(userListCmd())
	return cmd
}

func userAddCmd() *cobra.Command {
	var u domain.User
	var team, supervisor string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create or update a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := authorizeAdmin(ctx, e, auth.PermUserManage); err != nil {
					return err
				}
				if _, ok := e.Config.RBAC.Roles[u.Role]; !ok {
					return fmt.Errorf("unknown role %q", u.Role)
				}
				u.TeamID = optionalString(team)
				u.SupervisorID = optionalString(supervisor)
				u.CreatedAt = time.Now().UTC().Format(time.RFC3339)
				if err := e.Repo.UpsertUser(ctx, u); err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&u.ID, "id", "", "user id")
	f.StringVar(&u.Name, "name", "", "display name")
	f.StringVar(&u.Role, "role", domain.RoleWorker, "role")
	f.StringVar(&team, "team-id", "", "team id")
	f.StringVar(&supervisor, "supervisor-id", "", "supervisor user id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func userListCmd() *cobra.Command {
	var f repo.UserFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				users, err := r.ListUsers(ctx, f)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(users))
				for _, u := range users {
					rows = append(rows, table.Row{u.ID, u.Name, u.Role, deref(u.TeamID), deref(u.SupervisorID)})
				}
				return printTable(users, table.Row{"ID", "Name", "Role", "Team", "Supervisor"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&f.TeamID, "team-id", "", "team filter")
	cmd.Flags().StringVar(&f.Role, "role", "", "role filter")
	return cmd
}

func scheduleCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "schedule", Short: "Manage worker rosters"}
	cmd.AddCommand(scheduleAddCmd())
	cmd.AddCommand(scheduleListCmd())
	return cmd
}

func scheduleAddCmd() *cobra.Command {
	var s domain.WorkerSchedule
	var endsOn string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an active roster entry for a worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := authorizeAdmin(ctx, e, auth.PermScheduleManage); err != nil {
					return err
				}
				if _, err := time.Parse(domain.DateLayout, s.StartsOn); err != nil {
					return fmt.Errorf("--starts-on must be YYYY-MM-DD")
				}
				if s.TeamID == "" {
					worker, err := e.Actor(ctx, s.WorkerID)
					if err != nil {
						return err
					}
					s.TeamID = deref(worker.TeamID)
				}
				s.ID = uuid.NewString()
				s.EndsOn = optionalString(endsOn)
				s.IsActive = true
				if err := e.Repo.InsertSchedule(ctx, s); err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&s.WorkerID, "worker-id", "", "worker id")
	f.StringVar(&s.TeamID, "team-id", "", "team id (defaults to the worker's team)")
	f.StringVar(&s.StartsOn, "starts-on", "", "first day (YYYY-MM-DD)")
	f.StringVar(&endsOn, "ends-on", "", "last day (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("worker-id")
	_ = cmd.MarkFlagRequired("starts-on")
	return cmd
}

func scheduleListCmd() *cobra.Command {
	var workerID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List roster entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListSchedules(ctx, workerID)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, s := range items {
					rows = append(rows, table.Row{s.ID, s.WorkerID, s.TeamID, s.StartsOn, deref(s.EndsOn), s.IsActive, deref(s.DeactivatedReason)})
				}
				return printTable(items, table.Row{"ID", "Worker", "Team", "Starts", "Ends", "Active", "Deactivated"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&workerID, "worker-id", "", "worker filter")
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	cmd.AddCommand(apikeyCreateCmd())
	cmd.AddCommand(apikeyListCmd())
	cmd.AddCommand(apikeyRevokeCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var userID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the secret is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := authorizeAdmin(ctx, e, auth.PermAPIKeyManage); err != nil {
					return err
				}
				if _, err := e.Actor(ctx, userID); err != nil {
					return err
				}
				buf := make([]byte, 24)
				if _, err := rand.Read(buf); err != nil {
					return err
				}
				secret := "cl_" + hex.EncodeToString(buf)
				key := domain.APIKey{ID: uuid.NewString(), UserID: userID, Name: name, KeyHash: repo.HashAPIKey(secret)}
				if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"id": key.ID, "user_id": userID, "key": secret})
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "user the key acts as")
	cmd.Flags().StringVar(&name, "name", "", "label")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, userID)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(keys))
				for _, k := range keys {
					rows = append(rows, table.Row{k.ID, k.UserID, k.Name, k.CreatedAt})
				}
				return printTable(keys, table.Row{"ID", "User", "Name", "Created"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "user filter")
	return cmd
}

func apikeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := authorizeAdmin(ctx, e, auth.PermAPIKeyManage); err != nil {
					return err
				}
				return e.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Inspect and import the workspace config"}
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configValidateCmd())
	cmd.AddCommand(configImportCmd())
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the config stored in the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if viper.GetBool("json") {
					return printJSON(e.Config)
				}
				out, err := e.Config.ToYAML()
				if err != nil {
					return err
				}
				_, err = os.Stdout.Write(out)
				return err
			})
		},
	}
}

func configValidateCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a YAML config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.FromFile(filePath); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a YAML config into the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := authorizeAdmin(ctx, e, auth.PermConfigManage); err != nil {
					return err
				}
				if err := e.Repo.UpsertConfig(ctx, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Read the event log"}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var (
		n      int
		f      repo.EventFilters
		follow bool
		every  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events, optionally following new ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				f.Limit = n
				latest, err := r.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				var cursor int64
				for i := len(latest) - 1; i >= 0; i-- {
					printEvent(latest[i])
					cursor = latest[i].ID
				}
				if !follow {
					return nil
				}
				if every <= 0 {
					every = 2 * time.Second
				}
				ticker := time.NewTicker(every)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
					}
					next, err := r.EventsAfter(ctx, cursor, 100)
					if err != nil {
						return err
					}
					for _, evt := range next {
						cursor = evt.ID
						if f.Type != "" && evt.Type != f.Type {
							continue
						}
						if f.EntityKind != "" && evt.EntityKind != f.EntityKind {
							continue
						}
						if f.EntityID != "" && evt.EntityID != f.EntityID {
							continue
						}
						printEvent(evt)
					}
				}
			})
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&n, "n", 20, "number of events")
	flags.StringVar(&f.Type, "type", "", "event type filter")
	flags.StringVar(&f.EntityKind, "entity-kind", "", "incident|case|worker")
	flags.StringVar(&f.EntityID, "entity-id", "", "entity id")
	flags.BoolVarP(&follow, "follow", "f", false, "keep polling for new events")
	flags.DurationVar(&every, "interval", 2*time.Second, "poll interval with --follow")
	return cmd
}

func printEvent(evt domain.Event) {
	if viper.GetBool("json") {
		_ = printJSON(evt)
		return
	}
	fmt.Printf("%d %s %-28s %s/%s by %s %s\n", evt.ID, evt.TS, evt.Type, evt.EntityKind, evt.EntityID, evt.ActorID, evt.Payload)
}
