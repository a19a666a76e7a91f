// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/ottodev/internal/config"
	"github.com/jeranaias/ottodev/internal/server"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(a *app) *cobra.Command {
	var addr, resume string
	var noWatch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the browser UI and the HTTP API",
		Long: `Serve the browser chat UI and its JSON/WebSocket API.

Changes to the model or system prompt in the config file are applied
without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, resume, !noWatch)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&resume, "resume", "", `resume a saved conversation ("latest" or an id prefix)`)
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not reload the config file on change")
	return cmd
}

// serve runs the HTTP server until ctx is done.
func (a *app) serve(ctx context.Context, resume string, watch bool) error {
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
	if err := checkOllama(ctx, rt.client); err != nil {
		a.log.Warn().Err(err).Str("url", a.cfg.Chat.OllamaURL).Msg("ollama unreachable; chat turns will fail until it starts")
	}

	srv := server.New(server.Config{
		Addr:               a.cfg.Server.Addr,
		AllowedOrigins:     a.cfg.Server.AllowedOrigins,
		RateLimitPerMinute: a.cfg.Server.RateLimitPerMinute,
	}, rt.session, rt.uploads, rt.client, a.log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if watch {
		if path, err := a.configFile(); err == nil {
			if _, statErr := os.Stat(path); statErr == nil {
				g.Go(func() error {
					return config.Watch(gctx, path, 0, a.reloader(rt))
				})
			}
		}
	}

	a.log.Info().
		Str("url", "http://"+a.cfg.Server.Addr).
		Str("model", rt.session.Model()).
		Msg("ottodev is ready")

	err = g.Wait()
	a.log.Info().Msg("server stopped")
	return err
}

// reloader applies hot-reloadable settings from a changed config file.
// Flags given on the command line keep precedence.
func (a *app) reloader(rt *services) config.ReloadFunc {
	log := a.log.With().Str("component", "config").Logger()
	return func(cfg *config.Config, err error) {
		if err != nil {
			log.Warn().Err(err).Msg("config reload failed; keeping current settings")
			return
		}
		a.applyReload(rt, cfg, log)
	}
}

func (a *app) applyReload(rt *services, cfg *config.Config, log zerolog.Logger) {
	if a.model == "" && cfg.Chat.Model != rt.session.Model() {
		rt.session.SetModel(cfg.Chat.Model)
		rt.client.SetModel(cfg.Chat.Model)
		log.Info().Str("model", cfg.Chat.Model).Msg("model changed")
	}
	if cfg.Chat.SystemPrompt != a.cfg.Chat.SystemPrompt {
		rt.session.SetSystemPrompt(cfg.Chat.SystemPrompt)
		log.Info().Msg("system prompt changed")
	}
	a.cfg.Chat.SystemPrompt = cfg.Chat.SystemPrompt
	if a.model == "" {
		a.cfg.Chat.Model = cfg.Chat.Model
	}
}
