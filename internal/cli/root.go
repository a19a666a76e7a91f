// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jeranaias/ottodev/internal/chat"
	"github.com/jeranaias/ottodev/internal/config"
	"github.com/jeranaias/ottodev/internal/logging"
	"github.com/jeranaias/ottodev/internal/ollama"
	"github.com/jeranaias/ottodev/internal/storage"
	"github.com/jeranaias/ottodev/internal/upload"
)

// Version information (set at build time)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// app holds state shared by every command.
type app struct {
	// Global flags
	configPath string
	logLevel   string
	model      string
	ollamaURL  string

	cfg *config.Config
	log zerolog.Logger

	in     io.Reader
	out    io.Writer
	errOut io.Writer
}

// NewRootCommand builds the ottodev command tree.
func NewRootCommand() *cobra.Command {
	a := &app{in: os.Stdin, out: os.Stdout, errOut: os.Stderr}

	root := &cobra.Command{
		Use:   "ottodev",
		Short: "Chat with a local LLM from the browser or the terminal",
		Long: `ottodev is a coding assistant backed by a local Ollama server.

Examples:
  ottodev serve                   Open the browser UI on 127.0.0.1:8080
  ottodev tui                     Full-screen terminal chat
  ottodev chat                    Line-editing REPL
  ottodev ask "Explain defer"     One-shot answer
  ottodev history list            Saved conversations`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.in, a.out, a.errOut = cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr()
			return a.load(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default ~/.ottodev/config.toml)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: trace, debug, info, warn, error, disabled")
	flags.StringVarP(&a.model, "model", "m", "", "model to chat with (overrides config)")
	flags.StringVar(&a.ollamaURL, "ollama-url", "", "Ollama server URL (overrides config)")

	root.AddCommand(
		newServeCommand(a),
		newTUICommand(a),
		newChatCommand(a),
		newAskCommand(a),
		newUploadCommand(a),
		newUploadsCommand(a),
		newHistoryCommand(a),
		newModelsCommand(a),
		newConfigCommand(a),
		newVersionCommand(a),
	)
	return root
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error:")+" "+err.Error())
		return 1
	}
	return 0
}

// load reads the configuration and applies the global flags.
func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.model != "" {
		cfg.Chat.Model = a.model
	}
	if a.ollamaURL != "" {
		cfg.Chat.OllamaURL = a.ollamaURL
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid flags")
	}
	a.cfg = cfg

	// The TUI owns the terminal and sets up its own file logger.
	if cmd.Name() == "tui" {
		a.log = zerolog.Nop()
		return nil
	}
	a.log, err = logging.Setup(a.errOut, logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	return err
}

// configFile returns the config path in effect.
func (a *app) configFile() (string, error) {
	if a.configPath != "" {
		return a.configPath, nil
	}
	return config.ConfigPath()
}

// =============================================================================
// COLLABORATORS
// =============================================================================

func (a *app) ollamaClient() *ollama.Client {
	return ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL:      a.cfg.Chat.OllamaURL,
		DefaultModel: a.cfg.Chat.Model,
	})
}

func (a *app) openUploads(logger zerolog.Logger) (*upload.Service, error) {
	return upload.Open(upload.Config{
		Dir:               a.cfg.Upload.Dir,
		MaxBytes:          a.cfg.Upload.MaxBytes,
		AllowedExtensions: a.cfg.Upload.AllowedExtensions,
	}, logging.Component(logger, "upload"))
}

func (a *app) openStore() (*storage.ConversationStore, error) {
	return storage.NewConversationStore(a.cfg.Storage.Dir, a.cfg.Storage.MaxConversations)
}

// services bundles the collaborators of an interactive session.
type services struct {
	client  *ollama.Client
	uploads *upload.Service
	store   *storage.ConversationStore
	session *chat.Session
}

// newServices opens the upload service and conversation store and builds a
// chat session over them.
func (a *app) newServices(logger zerolog.Logger) (*services, error) {
	uploads, err := a.openUploads(logger)
	if err != nil {
		return nil, err
	}
	store, err := a.openStore()
	if err != nil {
		_ = uploads.Close()
		return nil, err
	}

	client := a.ollamaClient()
	session := chat.NewSession(client, chat.Options{
		Model:        a.cfg.Chat.Model,
		SystemPrompt: a.cfg.Chat.SystemPrompt,
		TurnTimeout:  a.cfg.RequestTimeout(),
		Uploader:     uploads,
		Store:        store,
		Logger:       logger,
	})
	return &services{client: client, uploads: uploads, store: store, session: session}, nil
}

// resume loads the conversation named by ref ("latest" or an ID prefix)
// into the session.
func (r *services) resume(ref string) error {
	var conv *storage.Conversation
	var err error
	if ref == "latest" {
		conv, err = r.store.LoadLatest()
	} else {
		var id string
		if id, err = r.store.Resolve(ref); err == nil {
			conv, err = r.store.Load(id)
		}
	}
	if err != nil {
		return errors.Wrap(err, "failed to resume conversation")
	}
	return r.session.Resume(conv)
}

// Close cancels any streaming turn and releases resources.
func (r *services) Close() error {
	err := r.session.Close()
	if cerr := r.uploads.Close(); err == nil {
		err = cerr
	}
	return err
}

// checkOllama reports a friendly error when Ollama is unreachable.
func checkOllama(ctx context.Context, client *ollama.Client) error {
	if err := client.CheckRunning(ctx); err != nil {
		if ollama.IsNotRunning(err) {
			return errors.New("Ollama is not running. Start it with: ollama serve")
		}
		return err
	}
	return nil
}
