package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mtzanidakis/warroom/internal/store"
	"github.com/mtzanidakis/warroom/internal/vault"
)

var (
	vaultValue       string
	vaultFile        string
	vaultDescription string
)

var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Manage encrypted secrets",
	Long: `Secrets are encrypted with WARROOM_VAULT_PASSPHRASE and stored in the
run database. Config values written as secret:<name> are resolved from the
vault at startup, for example:

  llm:
    openai_api_key: secret:openai`,
}

var vaultListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all secrets (metadata only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSecrets(func(s *vault.Secrets) error {
			return vaultList(cmd.OutOrStdout(), s)
		})
	},
}

var vaultSetCmd = &cobra.Command{
	Use:   "set <name>",
	Short: "Store a secret from --value or --file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := secretValue()
		if err != nil {
			return err
		}
		return withSecrets(func(s *vault.Secrets) error {
			sec, err := s.Set(args[0], vaultDescription, value)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Secret %q saved, reference it as secret:%s\n", sec.Name, sec.Name)
			return nil
		})
	},
}

var vaultGetCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Retrieve and decrypt a secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSecrets(func(s *vault.Secrets) error {
			plaintext, err := s.Get(args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprint(w, plaintext)
			if !strings.HasSuffix(plaintext, "\n") {
				fmt.Fprintln(w)
			}
			return nil
		})
	},
}

var vaultDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSecrets(func(s *vault.Secrets) error {
			if err := s.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Secret %q deleted\n", args[0])
			return nil
		})
	},
}

func init() {
	vaultSetCmd.Flags().StringVar(&vaultValue, "value", "", "Secret value")
	vaultSetCmd.Flags().StringVar(&vaultFile, "file", "", "Read the secret value from a file")
	vaultSetCmd.Flags().StringVar(&vaultDescription, "description", "", "What the secret is for")
	vaultSetCmd.MarkFlagsMutuallyExclusive("value", "file")
	vaultSetCmd.MarkFlagsOneRequired("value", "file")

	vaultCmd.AddCommand(vaultListCmd)
	vaultCmd.AddCommand(vaultSetCmd)
	vaultCmd.AddCommand(vaultGetCmd)
	vaultCmd.AddCommand(vaultDeleteCmd)
}

func withSecrets(fn func(s *vault.Secrets) error) error {
	if cfg.Vault.Passphrase == "" {
		return errors.New("WARROOM_VAULT_PASSPHRASE environment variable is required")
	}
	return withStore(func(db *store.Store) error {
		return fn(vault.NewSecrets(vault.New(cfg.Vault.Passphrase), db))
	})
}

func secretValue() (string, error) {
	if vaultFile == "" {
		return vaultValue, nil
	}
	data, err := os.ReadFile(vaultFile)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return string(data), nil
}

func vaultList(w io.Writer, s *vault.Secrets) error {
	secrets, err := s.List()
	if err != nil {
		return err
	}
	if len(secrets) == 0 {
		fmt.Fprintln(w, "No secrets stored.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tDESCRIPTION\tUPDATED")
	for _, sec := range secrets {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", sec.Name, sec.Description, sec.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}
