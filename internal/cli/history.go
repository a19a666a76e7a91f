// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jeranaias/ottodev/internal/storage"
	"github.com/jeranaias/ottodev/internal/transcript"
	"github.com/jeranaias/ottodev/internal/util"
)

func newHistoryCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "history",
		Aliases: []string{"hist"},
		Short:   "Browse saved conversations",
		Long: `Browse saved conversations.

Conversations are identified by their ID or any unique prefix of it, as
shown by "history list".`,
	}
	cmd.AddCommand(
		newHistoryListCommand(a),
		newHistoryShowCommand(a),
		newHistorySearchCommand(a),
		newHistoryDeleteCommand(a),
		newHistoryClearCommand(a),
		newHistoryExportCommand(a),
	)
	return cmd
}

func newHistoryListCommand(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List saved conversations, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			metas, err := store.List()
			if err != nil {
				return err
			}
			if limit > 0 && len(metas) > limit {
				metas = metas[:limit]
			}
			fmt.Fprint(a.out, storage.FormatList(metas))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show at most n conversations (0 for all)")
	return cmd
}

func newHistoryShowCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conv, err := a.loadConversation(args[0])
			if err != nil {
				return err
			}

			fmt.Fprintln(a.out, TitleStyle.Render(conv.Summary))
			fmt.Fprintln(a.out, field("ID:", conv.ID))
			if conv.Model != "" {
				fmt.Fprintln(a.out, field("Model:", conv.Model))
			}
			fmt.Fprintln(a.out, field("Updated:", conv.UpdatedAt.Local().Format("2006-01-02 15:04")))
			fmt.Fprintln(a.out)

			for _, m := range conv.Messages {
				label := UserLabelStyle
				if m.Role == transcript.RoleAssistant {
					label = AssistantLabelStyle
				}
				fmt.Fprintf(a.out, "%s %s\n%s\n\n", label.Render(m.Role.DisplayName()), DimStyle.Render(m.Clock()), m.Content)
			}
			return nil
		},
	}
}

func newHistorySearchCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Find conversations containing text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			metas, err := store.Search(args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(a.out, storage.FormatList(metas))
			return nil
		},
	}
}

func newHistoryDeleteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a conversation",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			id, err := store.Resolve(args[0])
			if err != nil {
				return errors.Wrapf(err, "conversation %q", args[0])
			}
			if err := store.Delete(id); err != nil {
				return err
			}
			fmt.Fprintln(a.out, SuccessStyle.Render("Deleted conversation "+id))
			return nil
		},
	}
}

func newHistoryClearCommand(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all saved conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return errors.New("refusing to delete all conversations without --force")
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			if err := store.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(a.out, SuccessStyle.Render("All conversations deleted."))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "confirm deletion")
	return cmd
}

func newHistoryExportCommand(a *app) *cobra.Command {
	var format, output string
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export a conversation as Markdown, JSON or YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conv, err := a.loadConversation(args[0])
			if err != nil {
				return err
			}
			data, err := conv.Export(format)
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				_, err = a.out.Write(data)
				return err
			}
			path := util.ExpandHome(output)
			if err := util.AtomicWriteFile(path, data, 0600); err != nil {
				return errors.Wrap(err, "failed to write export")
			}
			fmt.Fprintln(a.errOut, SuccessStyle.Render("Exported to "+path))
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", storage.FormatMarkdown, "export format: md, json or yaml")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to a file instead of stdout")
	return cmd
}

// loadConversation loads the conversation named by an ID or ID prefix.
func (a *app) loadConversation(ref string) (*storage.Conversation, error) {
	store, err := a.openStore()
	if err != nil {
		return nil, err
	}
	id, err := store.Resolve(ref)
	if err != nil {
		return nil, errors.Wrapf(err, "conversation %q", ref)
	}
	return store.Load(id)
}
