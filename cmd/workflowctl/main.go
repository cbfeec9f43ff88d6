// Command workflowctl is the operator CLI for the case workflow service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pesio-ai/be-re-case-workflow/internal/checklist"
	"github.com/pesio-ai/be-re-case-workflow/internal/config"
	"github.com/pesio-ai/be-re-case-workflow/internal/database"
)

var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "workflowctl",
	Short:         "Operator tooling for the case workflow service",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// ============================================================================
// Database
// ============================================================================

var migrateDSN string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema and seed the finance status catalog",
	Long: `Apply the embedded schema. Statements are idempotent, so running migrate
against an up-to-date database is a no-op.

The connection is taken from --dsn, or from the DB_* environment variables
used by the server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		db, err := connect(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
		return nil
	},
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the embedded database schema",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprint(cmd.OutOrStdout(), database.Schema())
	},
}

func connect(ctx context.Context) (*database.DB, error) {
	if migrateDSN != "" {
		return database.Connect(ctx, migrateDSN)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return database.New(ctx, database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: 2,
		MinConns: 0,
	})
}

// ============================================================================
// Templates
// ============================================================================

var templatesFile string

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Inspect checklist templates",
}

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List templates and their document slots",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tpls, err := checklist.LoadTemplates(templatesFile)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TEMPLATE\tPOS\tSECTION\tREQUIRED\tDOCUMENT")
		for _, name := range tpls.Names() {
			tpl, _ := tpls.Get(name)
			for i, it := range tpl.Items {
				fmt.Fprintf(w, "%s\t%d\t%s\t%t\t%s\n", name, i+1, it.Section, it.Required, it.Document)
			}
		}
		return w.Flush()
	},
}

var templatesValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Parse a template file and report problems",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if templatesFile == "" {
			return fmt.Errorf("--file is required")
		}
		tpls, err := checklist.LoadTemplates(templatesFile)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d templates OK\n", templatesFile, len(tpls.Names()))
		return nil
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrateDSN, "dsn", "", "Postgres connection string (overrides DB_* variables)")
	templatesCmd.PersistentFlags().StringVarP(&templatesFile, "file", "f", "", "Template YAML file (default: embedded templates)")

	templatesCmd.AddCommand(templatesListCmd, templatesValidateCmd)
	rootCmd.AddCommand(migrateCmd, schemaCmd, templatesCmd)
}
