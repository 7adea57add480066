package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	audioimpl "github.com/foxseedlab/brainwire/external/audio"
	configloader "github.com/foxseedlab/brainwire/external/config"
	"github.com/foxseedlab/brainwire/external/discord"
	"github.com/foxseedlab/brainwire/external/extractor"
	"github.com/foxseedlab/brainwire/external/gateway"
	"github.com/foxseedlab/brainwire/external/httpapi"
	"github.com/foxseedlab/brainwire/external/imageproc"
	"github.com/foxseedlab/brainwire/external/linkpreview"
	"github.com/foxseedlab/brainwire/external/natsbus"
	repositoryimpl "github.com/foxseedlab/brainwire/external/repository"
	transcriberimpl "github.com/foxseedlab/brainwire/external/transcriber"
	webhookimpl "github.com/foxseedlab/brainwire/external/webhook"
	"github.com/foxseedlab/brainwire/external/whatsmeow"
	"github.com/foxseedlab/brainwire/internal/config"
	"github.com/foxseedlab/brainwire/internal/pairing"
	"github.com/foxseedlab/brainwire/internal/repository"
	"github.com/foxseedlab/brainwire/internal/session"
	"github.com/mdp/qrterminal/v3"
	"github.com/samber/do/v2"
)

const shutdownTimeout = 20 * time.Second

func main() {
	slog.Info("startup: loading configuration")
	cfg := mustLoadConfig()
	initLogger(cfg)
	slog.Info("startup: configuration loaded", "env", cfg.Env, "transport", cfg.Transport, "accounts", cfg.Accounts)

	slog.Info("startup: building dependency graph")
	injector := setupDI(cfg)

	slog.Info("startup: launching sessions")
	run(cfg, injector)
}

func mustLoadConfig() *config.Config {
	cfg, err := configloader.Load()
	if err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

func initLogger(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	repositoryimpl.RegisterDI(injector)
	audioimpl.RegisterDI(injector)
	transcriberimpl.RegisterDI(injector)
	extractor.RegisterDI(injector)
	linkpreview.RegisterDI(injector)
	imageproc.RegisterDI(injector)
	webhookimpl.RegisterDI(injector)
	natsbus.RegisterDI(injector)
	discord.RegisterDI(injector)
	switch cfg.Transport {
	case config.TransportWhatsmeow:
		whatsmeow.RegisterDI(injector)
	default:
		gateway.RegisterDI(injector)
	}
	session.RegisterDI(injector)
	httpapi.RegisterDI(injector)

	return injector
}

func run(cfg *config.Config, injector do.Injector) {
	manager, err := do.Invoke[*session.Manager](injector)
	if err != nil {
		slog.Error("failed to resolve session manager", "error", err)
		os.Exit(1)
	}
	server, err := do.Invoke[*httpapi.Server](injector)
	if err != nil {
		slog.Error("failed to resolve http server", "error", err)
		os.Exit(1)
	}
	backend := do.MustInvoke[*repository.Backend](injector)
	defer backend.Close()

	if cfg.PrintQRTerminal {
		manager.OnFreshQR(func(account string, art pairing.Artifact) {
			slog.Info("scan the qr code to link the account", "account", account)
			qrterminal.GenerateHalfBlock(art.Value, qrterminal.L, os.Stdout)
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessionsDone := make(chan struct{})
	go func() {
		manager.Run(ctx)
		close(sessionsDone)
	}()

	serverDone := make(chan struct{})
	go func() {
		if err := server.ListenAndServe(ctx, cfg.HTTPAddr); err != nil {
			slog.Error("http server failed", "error", err)
			stop()
		}
		close(serverDone)
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		slog.Error("session shutdown failed", "error", err)
	}
	<-sessionsDone
	<-serverDone
	if cfg.Transport == config.TransportWhatsmeow {
		if st, err := do.Invoke[*whatsmeow.Store](injector); err == nil {
			if err := st.Close(); err != nil {
				slog.Error("device store close failed", "error", err)
			}
		}
	}
}
