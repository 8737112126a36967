// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/pinac/internal/credstore"
	"github.com/jeranaias/pinac/internal/provider"
)

// credentialAliases maps friendly names to stored entry names.
var credentialAliases = map[string]string{
	"provider":   credstore.ProviderConfigName,
	"search-key": credstore.SearchKeyName,
	"tavily":     credstore.SearchKeyName,
}

// resolveCredentialName expands aliases.
func resolveCredentialName(name string) string {
	if stored, ok := credentialAliases[strings.ToLower(name)]; ok {
		return stored
	}
	return name
}

// maskSecret shows only enough of a secret to recognise it.
// SECURITY: never print whole secrets unless --reveal is given.
func maskSecret(s string) string {
	runes := []rune(s)
	if len(runes) <= 8 {
		return strings.Repeat("*", len(runes))
	}
	return string(runes[:4]) + strings.Repeat("*", 4) + fmt.Sprintf(" (%d chars)", len(runes))
}

func newCredentialCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "credential",
		Aliases: []string{"credentials", "cred"},
		Short:   "Manage encrypted credentials",
		Long: `Manage the encrypted credential store in the data directory.

Names "provider" and "search-key" are aliases for the bring-your-own-key
configuration and the web search API key.`,
	}
	cmd.AddCommand(
		newCredentialSetCommand(opts),
		newCredentialGetCommand(opts),
		newCredentialDeleteCommand(opts),
		newCredentialClearCommand(opts),
		newCredentialListCommand(opts),
	)
	return cmd
}

func newCredentialSetCommand(opts *globalOptions) *cobra.Command {
	var p provider.ProviderConfig

	cmd := &cobra.Command{
		Use:   "set <name>",
		Short: "Store a credential (value read from the terminal or stdin)",
		Example: `  $ pinac credential set search-key
  $ echo "$TAVILY_KEY" | pinac credential set search-key
  $ pinac credential set provider --sub-provider openai --model gpt-4o-mini`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := resolveCredentialName(args[0])

			prompt := "Value: "
			if name == credstore.ProviderConfigName {
				prompt = "API key: "
			}
			secret, err := readSecret(cmd.InOrStdin(), prompt)
			if err != nil {
				return err
			}
			if secret == "" {
				return usageError("empty value for %s", args[0])
			}

			value := secret
			if name == credstore.ProviderConfigName {
				if p.SubProvider == "" || p.ModelName == "" {
					return usageError("provider credentials need --sub-provider and --model")
				}
				p.APIKey = secret
				raw, err := json.Marshal(p)
				if err != nil {
					return err
				}
				value = string(raw)
			}

			store, err := opts.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Put(name, value); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s stored %s\n", RenderStatus("ok"), name)
			return nil
		},
	}
	cmd.Flags().StringVar(&p.SubProvider, "sub-provider", "", "provider for custom credentials (openai, anthropic, ...)")
	cmd.Flags().StringVar(&p.ModelName, "model", "", "model for custom credentials")
	return cmd
}

func newCredentialGetCommand(opts *globalOptions) *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "get <name>",
		Short: "Show a credential (masked unless --reveal)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := resolveCredentialName(args[0])

			store, err := opts.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			value, ok, err := store.Get(name)
			if err != nil {
				return err
			}
			if !ok {
				return &NotFoundError{Resource: "credential", ID: name}
			}

			if reveal {
				fmt.Fprintln(cmd.OutOrStdout(), value)
				return nil
			}
			if name == credstore.ProviderConfigName {
				var p provider.ProviderConfig
				if err := json.Unmarshal([]byte(value), &p); err == nil {
					fmt.Fprintln(cmd.OutOrStdout(), RenderField("Sub-provider", p.SubProvider))
					fmt.Fprintln(cmd.OutOrStdout(), RenderField("Model", p.ModelName))
					fmt.Fprintln(cmd.OutOrStdout(), RenderField("API key", maskSecret(p.APIKey)))
					return nil
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), maskSecret(value))
			return nil
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "print the plaintext value")
	return cmd
}

func newCredentialDeleteCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <name>",
		Aliases: []string{"rm"},
		Short:   "Delete one credential",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := resolveCredentialName(args[0])

			store, err := opts.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Delete(name); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s deleted %s\n", RenderStatus("ok"), name)
			return nil
		},
	}
}

func newCredentialClearCommand(opts *globalOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every stored credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				if err := RequiresTTY("confirm clear (use --yes)"); err != nil {
					return err
				}
				fmt.Fprint(cmd.ErrOrStderr(), WarningStyle.Render("Delete all credentials? [y/N] "))
				answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
					fmt.Fprintln(cmd.OutOrStdout(), DimStyle.Render("Aborted."))
					return nil
				}
			}

			store, err := opts.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Clear(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s all credentials deleted\n", RenderStatus("ok"))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func newCredentialListCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored credential names",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := opts.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			names, err := store.Names()
			if err != nil {
				return err
			}
			sort.Strings(names)
			if len(names) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), DimStyle.Render("No credentials stored."))
				return nil
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}
