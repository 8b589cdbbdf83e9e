package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kinyua-dev/cloudbot/internal/config"
	"github.com/kinyua-dev/cloudbot/internal/credstore"
	"github.com/kinyua-dev/cloudbot/internal/plugin"
	"github.com/kinyua-dev/cloudbot/internal/session"
	"github.com/kinyua-dev/cloudbot/internal/transport"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	setupLogging()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	if cfg.Bridge.URL == "" {
		slog.Error("no bridge url configured, set bridge.url or CLOUDBOT_BRIDGE_URL")
		os.Exit(1)
	}

	store := openStore(cfg)
	if store != nil {
		defer store.Close()
	}

	dial := transport.NewDialer(cfg.Bridge.URL)
	registry := session.NewRegistry()
	plugins := buildPlugins(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	declared := cfg.Sessions
	if len(declared) == 0 {
		declared = []config.SessionConfig{{ID: "main"}}
	}

	var g errgroup.Group
	for _, sc := range declared {
		s := session.New(sc.ID, nil, cfg, dial, store, registry, plugins)
		s.OnTerminated = func(id string) {
			slog.Warn("session terminated permanently, restart required", "session_id", id)
		}
		g.Go(func() error {
			if _, err := s.Start(ctx); err != nil {
				// One failed session must not take the gateway down.
				slog.Error("session start failed", "session_id", s.ID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if registry.Len() == 0 {
		slog.Error("no session could be started")
		os.Exit(1)
	}
	slog.Info("gateway running", "sessions", registry.Len(), "prefix", cfg.Prefix)

	<-ctx.Done()
	slog.Info("shutting down")
	for _, s := range registry.List() {
		s.Stop()
	}
}

// openStore selects the credential backend: postgres when a DSN is present,
// sqlite otherwise. A store failure degrades to memory-only sessions rather
// than refusing to boot.
func openStore(cfg *config.Config) credstore.Store {
	storeCfg := credstore.Config{PostgresDSN: cfg.Database.PostgresDSN}
	if storeCfg.PostgresDSN == "" {
		path, err := cfg.SQLitePath()
		if err != nil {
			slog.Warn("credential store unavailable, sessions will not survive restart", "error", err)
			return nil
		}
		storeCfg.SQLitePath = path
	}

	store, err := credstore.Open(storeCfg)
	if err != nil {
		slog.Warn("credential store unavailable, sessions will not survive restart", "error", err)
		return nil
	}
	return store
}

func buildPlugins(cfg *config.Config) *plugin.Registry {
	r := plugin.NewRegistry()
	r.Register(plugin.NewMenu(cfg.Prefix), "help")
	r.Register(plugin.NewOwner(cfg.Owners))
	r.Register(plugin.NewTagAll(), "tag")
	r.Register(plugin.NewVCF(), "contacts")
	r.Register(plugin.NewSetPrivacy(cfg.IsOwner), "privacy")
	return r
}
