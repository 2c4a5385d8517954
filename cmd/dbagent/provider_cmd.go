package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relaydb/dbagent/internal/models"
)

// buildProviderCmd groups commands that manage the durable LLM provider
// registry: encrypted-at-rest API keys, at most one default, mirroring
// buildConnectionCmd's shape for the connection registry.
func buildProviderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provider",
		Short: "Manage LLM provider profiles",
	}
	cmd.AddCommand(
		buildProviderAddCmd(),
		buildProviderListCmd(),
		buildProviderSetDefaultCmd(),
		buildProviderRemoveCmd(),
	)
	return cmd
}

func buildProviderAddCmd() *cobra.Command {
	var kind, apiKey, model, baseURL string
	var setDefault bool
	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Encrypt and persist an LLM provider profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
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

			p := &models.Provider{
				Name:            name,
				Kind:            models.ProviderKind(kind),
				APIKeyEncrypted: a.credential.Encrypt(apiKey),
				Model:           model,
				BaseURL:         baseURL,
			}
			if err := a.store.CreateProvider(ctx, p); err != nil {
				return fmt.Errorf("create provider: %w", err)
			}
			if setDefault {
				if err := a.store.SetDefaultProvider(ctx, name); err != nil {
					return fmt.Errorf("set default provider: %w", err)
				}
			}
			fmt.Printf("provider %q saved\n", name)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(models.ProviderClaude), "Provider kind (deepseek|openai|claude|gemini|qwen|ollama)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Provider API key (encrypted at rest, never echoed back)")
	cmd.Flags().StringVar(&model, "model", "", "Model name")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Override base URL (for self-hosted or compatible endpoints)")
	cmd.Flags().BoolVar(&setDefault, "default", false, "Make this the default provider immediately")
	return cmd
}

func buildProviderListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved provider profiles",
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

			providers, err := a.store.ListProviders(ctx)
			if err != nil {
				return fmt.Errorf("list providers: %w", err)
			}
			for _, p := range providers {
				def := ""
				if p.IsDefault {
					def = " (default)"
				}
				fmt.Printf("%s\t%s\t%s%s\n", p.Name, p.Kind, p.Model, def)
			}
			return nil
		},
	}
}

func buildProviderSetDefaultCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-default NAME",
		Short: "Make NAME the default provider",
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

			if err := a.store.SetDefaultProvider(ctx, args[0]); err != nil {
				return fmt.Errorf("set default provider: %w", err)
			}
			fmt.Printf("provider %q is now default\n", args[0])
			return nil
		},
	}
}

func buildProviderRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove NAME",
		Short: "Delete a saved provider profile",
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

			if err := a.store.DeleteProvider(ctx, args[0]); err != nil {
				return fmt.Errorf("delete provider: %w", err)
			}
			fmt.Printf("provider %q removed\n", args[0])
			return nil
		},
	}
}
