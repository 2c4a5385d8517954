package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relaydb/dbagent/internal/dbadapter"
	"github.com/relaydb/dbagent/internal/models"
	"github.com/relaydb/dbagent/internal/sessionstore"
)

// buildConnectionCmd groups commands that manage the durable connection
// registry (C1/C3: encrypted-at-rest connection profiles, at most one
// active) and exercise the active one directly, without going through
// the LLM — useful for verifying credentials before starting a chat.
func buildConnectionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connection",
		Short: "Manage and inspect database connection profiles",
	}
	cmd.AddCommand(
		buildConnectionAddCmd(),
		buildConnectionListCmd(),
		buildConnectionActivateCmd(),
		buildConnectionRemoveCmd(),
		buildConnectionTestCmd(),
	)
	return cmd
}

func buildConnectionAddCmd() *cobra.Command {
	var conn ConnectionConfig
	var name string
	var activate bool
	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Encrypt and persist a connection profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name = args[0]
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

			model := conn.toModel()
			model.Name = name
			// toModel defaults IsActive to true for the config-file bootstrap
			// path; here activation is explicit, via SetActiveConnection,
			// which atomically clears every other row's flag.
			model.IsActive = false
			model.PasswordEncrypted = a.credential.Encrypt(conn.Password)
			if err := a.store.CreateConnection(ctx, model); err != nil {
				return fmt.Errorf("create connection: %w", err)
			}
			if activate {
				if err := a.store.SetActiveConnection(ctx, name); err != nil {
					return fmt.Errorf("activate connection: %w", err)
				}
			}
			fmt.Printf("connection %q saved\n", name)
			return nil
		},
	}
	cmd.Flags().StringVar(&conn.Engine, "engine", string(models.EnginePostgreSQL), "Engine kind (postgresql|mysql|gaussdb|oracle|sqlserver)")
	cmd.Flags().StringVar(&conn.Host, "host", "localhost", "Database host")
	cmd.Flags().IntVar(&conn.Port, "port", 5432, "Database port")
	cmd.Flags().StringVar(&conn.Database, "database", "", "Database name")
	cmd.Flags().StringVar(&conn.User, "user", "", "Database user")
	cmd.Flags().StringVar(&conn.Password, "password", "", "Database password (encrypted at rest, never echoed back)")
	cmd.Flags().BoolVar(&activate, "activate", false, "Make this the active connection immediately")
	return cmd
}

func buildConnectionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved connection profiles",
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

			conns, err := a.store.ListConnections(ctx)
			if err != nil {
				return fmt.Errorf("list connections: %w", err)
			}
			for _, c := range conns {
				active := ""
				if c.IsActive {
					active = " (active)"
				}
				fmt.Printf("%s\t%s\t%s@%s:%d/%s%s\n", c.Name, c.Engine, c.User, c.Host, c.Port, c.Database, active)
			}
			return nil
		},
	}
}

func buildConnectionActivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "activate NAME",
		Short: "Make NAME the active connection",
		Args:  cobra.ExactArgs(1),
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

			if err := a.store.SetActiveConnection(ctx, args[0]); err != nil {
				if err == sessionstore.ErrNotFound {
					return fmt.Errorf("no connection named %q", args[0])
				}
				return err
			}
			fmt.Printf("connection %q is now active\n", args[0])
			return nil
		},
	}
}

func buildConnectionRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove NAME",
		Short: "Delete a saved connection profile",
		Args:  cobra.ExactArgs(1),
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

			if err := a.store.DeleteConnection(ctx, args[0]); err != nil {
				return fmt.Errorf("delete connection: %w", err)
			}
			fmt.Printf("connection %q removed\n", args[0])
			return nil
		},
	}
}

func buildConnectionTestCmd() *cobra.Command {
	var schema string
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Open the active connection and list its tables",
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

			result := a.adapter.ListTables(ctx, schema)
			if result.Status != dbadapter.StatusSuccess {
				return fmt.Errorf("list tables: %s", result.Error)
			}
			if result.Note != "" {
				fmt.Println(result.Note)
			}
			for _, row := range result.Rows {
				fmt.Printf("%v\n", row)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&schema, "schema", "", "Schema to list tables from")
	return cmd
}
