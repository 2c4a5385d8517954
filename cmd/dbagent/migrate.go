package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relaydb/dbagent/internal/migration"
)

// buildMigrateCmd groups the administrative migration operations that
// don't need a live conversation — an operator running these from a
// script or cron job shouldn't have to drive the chat loop.
func buildMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Plan, execute, and report on schema migrations",
	}
	cmd.AddCommand(
		buildMigratePlanCmd(),
		buildMigrateStatusCmd(),
		buildMigrateBatchCmd(),
		buildMigrateReportCmd(),
	)
	return cmd
}

func migrationHandler(a *app) *migration.Handler {
	return migration.NewHandler(migration.NewPostgresStore(a.store.DB()))
}

func buildMigratePlanCmd() *cobra.Command {
	var taskID int64
	var schema string
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Inventory the source database and build a migration plan for a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			a, err := newApp(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer a.close()

			h := migrationHandler(a)
			analysis, err := h.AnalyzeSourceDatabase(ctx, a.adapter, schema, nil)
			if err != nil {
				return fmt.Errorf("analyze source database: %w", err)
			}
			fmt.Printf("inventoried %d objects in schema %q\n", len(analysis.Objects), analysis.Schema)

			summary, err := h.CreateMigrationPlan(ctx, taskID, a.adapter, schema)
			if err != nil {
				return fmt.Errorf("create migration plan: %w", err)
			}
			fmt.Printf("plan created: %d items queued\n", summary.TotalItems)
			return nil
		},
	}
	cmd.Flags().Int64Var(&taskID, "task", 0, "Migration task id")
	cmd.Flags().StringVar(&schema, "schema", "", "Source schema to inventory")
	return cmd
}

func buildMigrateStatusCmd() *cobra.Command {
	var taskID int64
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report a migration task's progress counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			a, err := newApp(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer a.close()

			status, err := migrationHandler(a).GetMigrationStatus(ctx, taskID)
			if err != nil {
				return fmt.Errorf("get migration status: %w", err)
			}
			fmt.Printf("task %d: %d completed, %d failed, %d skipped, %d pending\n",
				taskID, status.Completed, status.Failed, status.Skipped, status.Pending)
			return nil
		},
	}
	cmd.Flags().Int64Var(&taskID, "task", 0, "Migration task id")
	return cmd
}

func buildMigrateBatchCmd() *cobra.Command {
	var taskID int64
	var batchSize int
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Execute up to N pending migration items against the target database",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			a, err := newApp(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer a.close()

			result, err := migrationHandler(a).ExecuteMigrationBatch(ctx, taskID, batchSize, a.adapter, a.adapter.Engine(), a.adapter.Engine())
			if err != nil {
				return fmt.Errorf("execute migration batch: %w", err)
			}
			fmt.Printf("batch complete: %d succeeded, %d failed\n", result.BatchCompleted, result.BatchFailed)
			return nil
		},
	}
	cmd.Flags().Int64Var(&taskID, "task", 0, "Migration task id")
	cmd.Flags().IntVar(&batchSize, "size", 10, "Maximum items to execute")
	return cmd
}

func buildMigrateReportCmd() *cobra.Command {
	var taskID int64
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate a summary report for a migration task",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			a, err := newApp(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := migrationHandler(a).GenerateMigrationReport(ctx, taskID)
			if err != nil {
				return fmt.Errorf("generate migration report: %w", err)
			}
			fmt.Printf("task %d final status: %s (%d completed, %d failed, %d skipped)\n",
				taskID, report.TaskStatus, report.Statistics.Completed, report.Statistics.Failed, report.Statistics.Skipped)
			return nil
		},
	}
	cmd.Flags().Int64Var(&taskID, "task", 0, "Migration task id")
	return cmd
}
