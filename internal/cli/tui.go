// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jeranaias/ottodev/internal/config"
	"github.com/jeranaias/ottodev/internal/logging"
	uichat "github.com/jeranaias/ottodev/internal/ui/chat"
	"github.com/jeranaias/ottodev/internal/ui/styles"
)

func newTUICommand(a *app) *cobra.Command {
	var resume string

	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Full-screen terminal chat",
		Long: `Full-screen terminal chat.

Keys:
  enter        send (or pick the highlighted suggestion)
  tab          cycle suggestions
  ctrl+y       copy the last reply
  ctrl+n       new chat
  pgup/pgdown  scroll
  ctrl+c       quit

Commands: /upload <path>, /new, /copy, /quit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTUI(cmd, resume)
		},
	}
	cmd.Flags().StringVar(&resume, "resume", "", `resume a saved conversation ("latest" or an id prefix)`)
	return cmd
}

func (a *app) runTUI(cmd *cobra.Command, resume string) error {
	// The screen belongs to the UI, so logs go to a file.
	dir, err := config.ConfigDir()
	if err != nil {
		return err
	}
	logFile, err := logging.OpenFile(filepath.Join(dir, "ottodev.log"))
	if err != nil {
		return err
	}
	defer logFile.Close()
	logger, err := logging.New(logFile, logging.Options{Level: a.cfg.Log.Level, Format: "json"})
	if err != nil {
		return err
	}

	rt, err := a.newServices(logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	if resume != "" {
		if err := rt.resume(resume); err != nil {
			return err
		}
	}

	ctx := cmd.Context()
	model := uichat.New(ctx, rt.session, rt.uploads, styles.NewTheme())
	program := tea.NewProgram(model,
		tea.WithAltScreen(),
		tea.WithContext(ctx),
		tea.WithInput(a.in),
		tea.WithOutput(a.out),
	)
	final, err := program.Run()
	if m, ok := final.(uichat.Model); ok {
		m.Close()
	}
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return errors.Wrap(err, "terminal UI failed")
	}
	return nil
}
