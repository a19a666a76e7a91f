// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jeranaias/ottodev/internal/ollama"
	"github.com/jeranaias/ottodev/internal/util"
)

// maxContextFileSize bounds a file attached with --file.
const maxContextFileSize = 50 * 1024

func newAskCommand(a *app) *cobra.Command {
	var file string
	var quiet, raw bool

	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Ask a single question and stream the answer",
		Long: `Ask a single question. The prompt comes from the arguments, or from
stdin when none are given.

On a terminal the answer is rendered as markdown once complete; otherwise
it is streamed as plain text.`,
		Example: `  ottodev ask "What does sync.Once guarantee?"
  ottodev ask --file main.go "Review this"
  git diff | ottodev ask`,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.TrimSpace(strings.Join(args, " "))
			if prompt == "" && !isTerminal(a.in) {
				data, err := io.ReadAll(io.LimitReader(a.in, maxContextFileSize+1))
				if err != nil {
					return errors.Wrap(err, "failed to read stdin")
				}
				prompt = strings.TrimSpace(string(data))
			}
			if prompt == "" {
				return errors.New("no prompt given")
			}
			if file != "" {
				attached, err := readFileForContext(util.ExpandHome(file))
				if err != nil {
					return err
				}
				prompt += attached
			}
			return a.ask(cmd, prompt, quiet, raw)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "attach a file's contents to the prompt")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print timing statistics")
	cmd.Flags().BoolVar(&raw, "raw", false, "stream plain text even on a terminal")
	return cmd
}

func (a *app) ask(cmd *cobra.Command, prompt string, quiet, raw bool) error {
	client := a.ollamaClient()

	messages := make([]ollama.Message, 0, 2)
	if a.cfg.Chat.SystemPrompt != "" {
		messages = append(messages, ollama.NewSystemMessage(a.cfg.Chat.SystemPrompt))
	}
	messages = append(messages, ollama.NewUserMessage(prompt))

	ctx := cmd.Context()
	if timeout := a.cfg.RequestTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	render := !raw && isTerminal(a.out)
	if render {
		fmt.Fprintln(a.errOut, DimStyle.Render("Thinking..."))
	}

	acc := ollama.NewStreamAccumulator()
	err := client.ChatStream(ctx, a.cfg.Chat.Model, messages, func(chunk ollama.StreamChunk) {
		acc.Add(chunk)
		if !render {
			fmt.Fprint(a.out, chunk.Content)
		}
	})
	if err != nil {
		if ollama.IsNotRunning(err) {
			return errors.New("Ollama is not running. Start it with: ollama serve")
		}
		if ollama.IsModelNotFound(err) {
			return errors.Errorf("model %q not found. Pull it with: ollama pull %s", a.cfg.Chat.Model, a.cfg.Chat.Model)
		}
		return err
	}

	if render {
		fmt.Fprint(a.out, renderMarkdown(acc.Content(), terminalWidth(a.out)))
	} else {
		fmt.Fprintln(a.out)
	}
	if !quiet {
		fmt.Fprintln(a.errOut, DimStyle.Render(acc.Stats.Format()))
	}
	return nil
}

// renderMarkdown renders content for the terminal, falling back to the
// plain text when glamour fails.
func renderMarkdown(content string, width int) string {
	style := "dark"
	if !darkBackground() {
		style = "light"
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width-4),
	)
	if err != nil {
		return content + "\n"
	}
	out, err := r.Render(content)
	if err != nil {
		return content + "\n"
	}
	return out
}

// readFileForContext reads a file to append to a prompt.
func readFileForContext(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.Errorf("file not found: %s", path)
		}
		return "", errors.Wrap(err, "cannot access file")
	}
	if info.IsDir() {
		return "", errors.Errorf("%s is a directory", path)
	}
	if info.Size() > maxContextFileSize {
		return "", errors.Errorf("file too large: %d bytes (max %d bytes)", info.Size(), maxContextFileSize)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrap(err, "failed to read file")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n\n--- File: %s ---\n", path)
	b.Write(content)
	b.WriteString("\n--- End of file ---\n")
	return b.String(), nil
}
