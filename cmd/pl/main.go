package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"permitline/internal/app"
	"permitline/internal/config"
	"permitline/internal/db"
	"permitline/internal/engine"
	"permitline/internal/obs"
)

var rootCmd = &cobra.Command{
	Use:   "pl",
	Short: "Permitline CLI",
	Long: `Permitline tracks field jobs and the work permits they need.
- Jobs: created by a supervisor, assigned to a technician, started after approval, finished when the last permit is approved.
- Permits: requested one at a time in the configured order (altura, enganche, cierre by default); a supervisor approves or rejects each one.
- Notifications: every committed change is published to GET /eventos and to configured webhooks.
- Workspace: holds permitline.yml and, for sqlite, the .permitline database.`,
	SilenceUsage: true,
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
	viper.SetEnvPrefix("PERMITLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("database-driver", "", "database driver (sqlite or postgres); overrides config")
	rootCmd.PersistentFlags().String("database-dsn", "", "database DSN; overrides config")
	rootCmd.PersistentFlags().String("log-level", "", "log level; overrides config")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("database-driver", rootCmd.PersistentFlags().Lookup("database-driver"))
	_ = viper.BindPFlag("database-dsn", rootCmd.PersistentFlags().Lookup("database-dsn"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(permitCmd())
	rootCmd.AddCommand(permitTypesCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(tokenCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default permitline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; pass --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load roles, areas, permit types and users from the config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := app.Seed(ctx, e.Repo, e.Config.Seed, e.Now())
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
}

func permitTypesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "permit-types",
		Short: "List permit types",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListPermitTypes(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Name", "Description"})
				for _, pt := range items {
					tw.AppendRow(table.Row{pt.ID, pt.Name, pt.Description})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func userCmd() *cobra.Command {
	usr := &cobra.Command{Use: "user", Short: "Inspect users"}
	var role string
	list := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				users, err := e.Repo.ListUsers(ctx, role)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := newTable(table.Row{"ID", "Name", "Email", "Role", "Area"})
				for _, u := range users {
					tw.AppendRow(table.Row{u.ID, u.Name, u.Email, u.Role, deref(u.AreaID)})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&role, "role", "", "role filter")
	usr.AddCommand(list)
	return usr
}

// --- helpers ---

// loadConfig reads permitline.yml and applies flag and environment overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("database-driver"); v != "" {
		cfg.Database.Driver = v
	}
	if v := viper.GetString("database-dsn"); v != "" {
		cfg.Database.DSN = v
	}
	if v := viper.GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v := viper.GetString("jwt-secret"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return obs.NewLogger(cfg.Log.Level, cfg.Log.Format)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	e, err := app.Open(ctx, app.Options{
		Workspace: viper.GetString("workspace"),
		Config:    cfg,
		SkipSeed:  true,
	})
	if err != nil {
		return err
	}
	defer e.DB.Close()
	return fn(ctx, e)
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	return tw
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

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
