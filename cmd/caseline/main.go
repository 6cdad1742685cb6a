package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"caseline/internal/app"
	"caseline/internal/caseview"
	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/engine"
	"caseline/internal/logging"
	"caseline/internal/migrate"
	"caseline/internal/notify"
	"caseline/internal/repo"
)

var rootCmd = &cobra.Command{
	Use:   "caseline",
	Short: "Caseline CLI",
	Long: `Caseline turns workplace incident reports into rehabilitation cases.
- Incidents: a worker reports what happened; it waits for their team leader.
- Approval: the team leader approves (a case opens, the worker's rosters are paused) or rejects with a reason.
- Cases: clinicians move a case through new -> triaged -> assessed -> in_rehab -> return_to_work -> closed.
- Views: WHS queue, clinician worklist, worker and team views, executive summary.
- Event log: every transition is recorded, view it with 'caseline log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	if _, err := app.LoadEnv([]string{".env", ".env.local"}); err != nil {
		fmt.Fprintln(os.Stderr, "error: load env:", err)
		os.Exit(1)
	}
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CASELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "", "user acting on the command")
	flags.String("log-level", "", "override the configured log level")
	for _, name := range []string{"workspace", "json", "actor-id", "log-level"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(incidentCmd())
	rootCmd.AddCommand(caseCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

// runtime is everything a command needs once the workspace is open.
type runtime struct {
	Engine   engine.Engine
	Notifier notify.Dispatcher
	Logger   *logrus.Logger
}

func withRuntime(ctx context.Context, fn func(context.Context, runtime) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	boot := logging.New(viper.GetString("log-level"), "text", os.Stderr)
	if err := migrate.Run(ctx, conn, boot); err != nil {
		return err
	}
	cfg, err := app.ResolveConfig(ctx, workspace, repo.Repo{DB: conn})
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	e, err := engine.New(conn, cfg, logger)
	if err != nil {
		return err
	}
	return fn(ctx, runtime{
		Engine:   e,
		Notifier: notify.FromConfig(cfg, e.Repo, logger),
		Logger:   logger,
	})
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withRuntime(ctx, func(ctx context.Context, rt runtime) error {
		return fn(ctx, rt.Engine)
	})
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func newLogger(cfg *config.Config) *logrus.Logger {
	level := cfg.Logging.Level
	if override := viper.GetString("log-level"); override != "" {
		level = override
	}
	return logging.New(level, cfg.Logging.Format, os.Stderr)
}

func actorID() (string, error) {
	id := strings.TrimSpace(viper.GetString("actor-id"))
	if id == "" {
		return "", fmt.Errorf("--actor-id (or CASELINE_ACTOR_ID) required")
	}
	return id, nil
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

// printTable renders rows unless --json asks for the raw items.
func printTable(items any, header table.Row, rows []table.Row) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	tw.AppendRows(rows)
	tw.Render()
	return nil
}

func printWarnings(ws []engine.Warning) {
	for _, w := range ws {
		fmt.Fprintf(os.Stderr, "warning (%s): %s\n", w.Kind, w.Message)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func views(e engine.Engine) caseview.Service {
	return caseview.Service{Repo: e.Repo, Now: e.Now, NewCaseWindow: e.Config.NewCaseWindow()}
}
