package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func buildSkillsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "List discovered skills and their invocation modes",
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

			if a.skills == nil {
				fmt.Println("no skills discovered")
				return nil
			}
			for _, entry := range a.skills.ListEligible() {
				modes := ""
				if entry.IsUserInvocable() {
					modes += "user "
				}
				if entry.IsModelInvocable() {
					modes += "model"
				}
				fmt.Printf("%-24s %-16s %s\n", entry.Name, modes, entry.Description)
			}
			return nil
		},
	}
	return cmd
}
