// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jeranaias/pinac/internal/ollama"
	"github.com/jeranaias/pinac/internal/provider"
)

func newModelsCommand(opts *globalOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List models installed in the local backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			models, err := app.Local.ListModels(cmd.Context())
			if err != nil {
				return &CommandError{Code: ExitNetworkError, Message: provider.MsgLocalUnavailable, Cause: err}
			}
			if models == nil {
				models = []ollama.ModelInfo{}
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(models)
			}
			printModels(cmd.OutOrStdout(), models, app.Config.Local.DefaultModel)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func printModels(w io.Writer, models []ollama.ModelInfo, defaultModel string) {
	if len(models) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No local models installed. Pull one with: ollama pull llama3.2"))
		return
	}
	fmt.Fprintln(w, TitleStyle.Render(fmt.Sprintf("Local models (%d)", len(models))))
	for i := range models {
		m := &models[i]
		marker := "  "
		if m.Name == defaultModel {
			marker = SuccessStyle.Render("* ")
		}
		detail := m.FormatSize()
		if m.Details.ParameterSize != "" {
			detail += "  " + m.Details.ParameterSize
		}
		fmt.Fprintf(w, "%s%s %s\n", marker, LabelStyle.Width(32).Render(m.Name), DimStyle.Render(detail))
	}
}
