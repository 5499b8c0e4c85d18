package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/orchestrator"
	"github.com/zulandar/switchboard/internal/platform"
	"github.com/zulandar/switchboard/internal/vault"
	"golang.org/x/term"
)

func newAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage platform accounts",
	}
	cmd.AddCommand(newAccountCreateCmd())
	cmd.AddCommand(newAccountListCmd())
	cmd.AddCommand(newAccountCredentialsCmd())
	return cmd
}

func newAccountCreateCmd() *cobra.Command {
	var configPath, owner, agentID, platformName string
	var credKeys []string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Provision a platform account",
		Long:  "Creates a platform account for an agent. Idempotent: an existing (agent, platform) account is returned unchanged. Credential values are prompted for without echo.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			orch, err := buildOrchestrator(cfg, cmd)
			if err != nil {
				return err
			}

			credentials := make(map[string]string)
			for _, key := range credKeys {
				value, err := promptSecret(key)
				if err != nil {
					return err
				}
				credentials[key] = value
			}

			opts := orchestrator.CreateAccountOpts{
				OwnerUserID: owner,
				Platform:    platform.Platform(platformName),
				Credentials: credentials,
			}
			if agentID != "" {
				opts.AgentID = &agentID
			}
			account, err := orch.CreateAccount(context.Background(), opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Account %s (%s) status=%s\n", account.ID, account.Platform, account.Status)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	cmd.Flags().StringVar(&owner, "owner", "", "owner user id")
	cmd.Flags().StringVar(&agentID, "agent", "", "agent id to bind the account to")
	cmd.Flags().StringVar(&platformName, "platform", "", "platform (whatsapp, email, telegram-bot, telegram-user, slack, discord)")
	cmd.Flags().StringSliceVar(&credKeys, "credential", nil, "credential key to prompt for (repeatable, e.g. --credential bot_token)")
	cmd.MarkFlagRequired("owner")
	cmd.MarkFlagRequired("platform")
	return cmd
}

func newAccountListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List platform accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			gormDB, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			var accounts []models.PlatformAccount
			if err := gormDB.Order("created_at").Find(&accounts).Error; err != nil {
				return fmt.Errorf("list accounts: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPLATFORM\tAGENT\tSTATUS\tCREDENTIALS")
			for _, a := range accounts {
				agent := "-"
				if a.AgentID != nil {
					agent = *a.AgentID
				}
				creds := "no"
				if a.EncryptedCredentials != nil {
					creds = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", a.ID, a.Platform, agent, a.Status, creds)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	return cmd
}

func newAccountCredentialsCmd() *cobra.Command {
	var configPath string
	var credKeys []string

	cmd := &cobra.Command{
		Use:   "credentials <account-id>",
		Short: "Replace an account's stored credentials",
		Long:  "Re-encrypts and persists new credentials. Does not reconnect the account.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			orch, err := buildOrchestrator(cfg, cmd)
			if err != nil {
				return err
			}

			credentials := make(map[string]string)
			for _, key := range credKeys {
				value, err := promptSecret(key)
				if err != nil {
					return err
				}
				credentials[key] = value
			}
			if err := orch.UpdateCredentials(context.Background(), args[0], credentials); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Credentials updated for %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	cmd.Flags().StringSliceVar(&credKeys, "credential", nil, "credential key to prompt for (repeatable)")
	return cmd
}

// buildOrchestrator wires a short-lived orchestrator for account operations.
func buildOrchestrator(cfg *config.Config, cmd *cobra.Command) (*orchestrator.Orchestrator, error) {
	gormDB, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}
	v, err := vault.New(vault.VaultOpts{KeyHex: cfg.EncryptionKey})
	if err != nil {
		return nil, err
	}
	return orchestrator.New(orchestrator.OrchestratorOpts{
		DB:         gormDB,
		Vault:      v,
		Factory:    platform.NewRegistry(),
		SessionDir: cfg.SessionDir,
		Out:        cmd.OutOrStdout(),
	})
}

// promptSecret reads a credential value without echoing it. Falls back to a
// plain line read when stdin is not a terminal (piped input, tests).
func promptSecret(label string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		value, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", label, err)
		}
		return strings.TrimSpace(string(value)), nil
	}
	var value string
	if _, err := fmt.Fscanln(os.Stdin, &value); err != nil {
		return "", fmt.Errorf("read %s: %w", label, err)
	}
	return strings.TrimSpace(value), nil
}
