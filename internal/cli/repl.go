// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jeranaias/ottodev/internal/config"
	"github.com/jeranaias/ottodev/internal/transcript"
	"github.com/jeranaias/ottodev/internal/util"
)

func newChatCommand(a *app) *cobra.Command {
	var resume string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat with line editing and history",
		Long: `Interactive chat in the terminal.

Type a message and press enter. Arrow keys browse input history.
Commands: /help, /new, /model [name], /upload <path>, /history, /quit.
Ctrl+D exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.newServices(a.log)
			if err != nil {
				return err
			}
			defer rt.Close()

			if resume != "" {
				if err := rt.resume(resume); err != nil {
					return err
				}
			}
			if err := checkOllama(cmd.Context(), rt.client); err != nil {
				fmt.Fprintln(a.errOut, ErrorStyle.Render("Warning:")+" "+err.Error())
			}

			input := newLineEditor()
			defer input.Close()

			r := &repl{rt: rt, input: input, out: a.out}
			return r.run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&resume, "resume", "", `resume a saved conversation ("latest" or an id prefix)`)
	return cmd
}

// =============================================================================
// LINE EDITING
// =============================================================================

// lineReader reads one line of user input.
type lineReader interface {
	ReadInput(prompt string) (string, error)
}

// lineEditor provides input history and line editing backed by liner.
type lineEditor struct {
	line        *liner.State
	historyFile string
}

func newLineEditor() *lineEditor {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	e := &lineEditor{line: line, historyFile: filepath.Join(dir, "chat_history")}
	if f, err := os.Open(e.historyFile); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	return e
}

// ReadInput reads a line, recording non-empty input in the history.
func (e *lineEditor) ReadInput(prompt string) (string, error) {
	input, err := e.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		e.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves the history with owner-only permissions and restores the terminal.
func (e *lineEditor) Close() {
	if err := os.MkdirAll(filepath.Dir(e.historyFile), 0700); err == nil {
		if f, err := os.OpenFile(e.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			_, _ = e.line.WriteHistory(f)
			f.Close()
		}
	}
	e.line.Close()
}

// =============================================================================
// REPL
// =============================================================================

const replPrompt = "ottodev> "

type repl struct {
	rt    *services
	input lineReader
	out   io.Writer
}

// run reads and handles lines until EOF, /quit or ctx is done.
func (r *repl) run(ctx context.Context) error {
	fmt.Fprintln(r.out, TitleStyle.Render("OttoDev")+DimStyle.Render(" · "+r.rt.session.Model()+" · /help for commands"))

	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := r.input.ReadInput(replPrompt)
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				continue
			}
			// EOF (Ctrl+D) or a closed terminal
			fmt.Fprintln(r.out)
			return nil
		}

		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "/"):
			quit, err := r.command(ctx, line)
			if err != nil {
				fmt.Fprintln(r.out, ErrorStyle.Render("Error:")+" "+err.Error())
			}
			if quit {
				return nil
			}
		default:
			if err := r.send(ctx, line); err != nil {
				fmt.Fprintln(r.out, ErrorStyle.Render("Error:")+" "+err.Error())
			}
		}
	}
}

// send submits text and prints the reply as it streams.
func (r *repl) send(ctx context.Context, text string) error {
	updates, cancel := r.rt.session.Subscribe()
	defer cancel()

	sent, err := r.rt.session.Send(ctx, text)
	if err != nil {
		return err
	}

	fmt.Fprintln(r.out, AssistantLabelStyle.Render(transcript.RoleAssistant.DisplayName()))
	printed := ""
	for {
		var snap transcript.Snapshot
		var ok bool
		select {
		case snap, ok = <-updates:
			if !ok {
				return nil
			}
		case <-ctx.Done():
			fmt.Fprintln(r.out)
			return nil
		}
		if snap.Version < sent.Version {
			continue
		}

		last, _ := snap.Last()
		if !snap.InFlight && r.rt.session.Controller().Err() != nil {
			// The turn failed and the partial reply was replaced.
			if printed != "" {
				fmt.Fprintln(r.out)
			}
			fmt.Fprintln(r.out, ErrorStyle.Render(last.Content))
			fmt.Fprintln(r.out)
			return nil
		}
		if strings.HasPrefix(last.Content, printed) {
			fmt.Fprint(r.out, last.Content[len(printed):])
			printed = last.Content
		}
		if !snap.InFlight {
			fmt.Fprintln(r.out)
			fmt.Fprintln(r.out)
			return nil
		}
	}
}

// command handles a slash command. It reports whether the REPL should exit.
func (r *repl) command(ctx context.Context, line string) (bool, error) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(name) {
	case "/help", "/h", "/?":
		r.help()

	case "/new", "/clear":
		if err := r.rt.session.Reset(); err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, SuccessStyle.Render("Started a new conversation."))

	case "/model", "/m":
		if arg == "" {
			fmt.Fprintln(r.out, field("Model:", r.rt.session.Model()))
			return false, nil
		}
		r.rt.session.SetModel(arg)
		r.rt.client.SetModel(arg)
		fmt.Fprintln(r.out, SuccessStyle.Render("Model set to "+arg))

	case "/upload", "/u":
		if arg == "" {
			return false, errors.New("usage: /upload <path>")
		}
		return false, r.upload(ctx, util.ExpandHome(arg))

	case "/history":
		r.history()

	case "/quit", "/q", "/exit":
		return true, nil

	default:
		return false, errors.Errorf("unknown command %s (try /help)", name)
	}
	return false, nil
}

func (r *repl) upload(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "failed to open file")
	}
	defer f.Close()

	snap, _, err := r.rt.session.Upload(ctx, filepath.Base(path), f)
	if last, ok := snap.Last(); ok && (err == nil || last.Content == transcript.UploadFailureText) {
		style := SuccessStyle
		if err != nil {
			style = ErrorStyle
		}
		fmt.Fprintln(r.out, style.Render(last.Content))
	}
	return err
}

func (r *repl) history() {
	snap := r.rt.session.Snapshot()
	if snap.Len() == 0 {
		fmt.Fprintln(r.out, DimStyle.Render("No messages yet."))
		return
	}
	for _, m := range snap.Messages {
		label := UserLabelStyle
		if m.Role == transcript.RoleAssistant {
			label = AssistantLabelStyle
		}
		fmt.Fprintf(r.out, "%s %s\n%s\n\n", label.Render(m.Role.DisplayName()), DimStyle.Render(m.Clock()), m.Content)
	}
}

func (r *repl) help() {
	lines := [][2]string{
		{"/help", "show this help"},
		{"/new", "start a new conversation"},
		{"/model [name]", "show or switch the model"},
		{"/upload <path>", "upload a file"},
		{"/history", "print the conversation"},
		{"/quit", "exit (or Ctrl+D)"},
	}
	for _, l := range lines {
		fmt.Fprintln(r.out, field(l[0], l[1]))
	}
}
