// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newModelsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List models available in Ollama",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := a.ollamaClient()
			if err := checkOllama(cmd.Context(), client); err != nil {
				return err
			}
			models, err := client.ListModels(cmd.Context())
			if err != nil {
				return err
			}
			if len(models) == 0 {
				fmt.Fprintln(a.out, "No models installed. Pull one with: ollama pull "+a.cfg.Chat.Model)
				return nil
			}

			w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "\tNAME\tSIZE\tFAMILY\tMODIFIED")
			for i := range models {
				m := &models[i]
				mark := ""
				if m.Name == a.cfg.Chat.Model {
					mark = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					mark, m.Name, m.FormatSize(), m.Details.Family, m.ModifiedAt.Local().Format("2006-01-02"))
			}
			return w.Flush()
		},
	}
}
