package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	configPath string
)

func main() {
	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "dbagent",
		Short:   "DB Agent — a conversational database operations and migration assistant",
		Version: version,
		Long: `dbagent mediates between an operator, an LLM provider, and a relational
database. It turns natural-language requests into confirmed, audited SQL
and drives heterogeneous schema migrations between PostgreSQL, MySQL,
Oracle, SQL Server, and GaussDB.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "dbagent.yaml", "Path to config file")
	root.AddCommand(
		buildChatCmd(),
		buildMigrateCmd(),
		buildSkillsCmd(),
		buildConnectionCmd(),
		buildProviderCmd(),
	)
	return root
}
