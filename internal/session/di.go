package session

import (
	"fmt"

	"github.com/foxseedlab/brainwire/internal/alert"
	"github.com/foxseedlab/brainwire/internal/backoff"
	"github.com/foxseedlab/brainwire/internal/config"
	"github.com/foxseedlab/brainwire/internal/extract"
	"github.com/foxseedlab/brainwire/internal/health"
	"github.com/foxseedlab/brainwire/internal/monitor"
	"github.com/foxseedlab/brainwire/internal/pairing"
	"github.com/foxseedlab/brainwire/internal/repository"
	"github.com/foxseedlab/brainwire/internal/store"
	"github.com/foxseedlab/brainwire/internal/transcriber"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (monitor.Source, error) {
		cfg := do.MustInvoke[*config.Config](i)
		backend := do.MustInvoke[*repository.Backend](i)
		if backend.Monitors != nil {
			return monitor.RepositorySource{Repo: backend.Monitors}, nil
		}
		src, err := monitor.ParseStaticSource(cfg.MonitorsJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to parse MONITORS_JSON: %w", err)
		}
		return src, nil
	})

	do.Provide(injector, func(i do.Injector) (*Manager, error) {
		cfg := do.MustInvoke[*config.Config](i)
		backend := do.MustInvoke[*repository.Backend](i)
		deps := Deps{
			Archive:  backend.Archive,
			Monitors: do.MustInvoke[monitor.Source](i),
			Sink: monitor.MultiSink{
				do.MustInvokeNamed[monitor.Sink](i, monitor.WebhookSinkName),
				do.MustInvokeNamed[monitor.Sink](i, monitor.NATSSinkName),
			},
			Processors: extract.Processors{
				Transcriber: do.MustInvoke[transcriber.Transcriber](i),
				Extractor:   do.MustInvoke[extract.StructuredExtractor](i),
				Links:       do.MustInvoke[extract.LinkPreviewer](i),
				Images:      do.MustInvoke[extract.ImageProcessor](i),
			},
			Alerter: do.MustInvoke[alert.Alerter](i),
		}
		factory := do.MustInvoke[AdapterFactory](i)
		return NewManager(cfg.Accounts, ConfigFrom(cfg), factory, deps)
	})
}

// ConfigFrom maps process configuration onto engine settings.
func ConfigFrom(cfg *config.Config) Config {
	b := backoff.DefaultConfig()
	b.Base = cfg.BackoffBase
	b.Cap = cfg.BackoffCap
	b.MaxAttempts = cfg.BackoffMaxAttempts
	b.ConflictDelay = cfg.ConflictDelay
	b.ConflictMaxAttempts = cfg.ConflictMaxAttempts

	return Config{
		Backoff:            b,
		QR:                 pairing.QRConfig{ReuseWindow: cfg.QRReuseWindow, MinInterval: cfg.QRMinInterval},
		PairingExpiry:      cfg.PairingExpiry,
		StatusPollInterval: cfg.StatusPollInterval,
		Store:              store.Config{MessagesPerChat: cfg.MessagesPerChat, MaxChats: cfg.MaxChats},
		Health: health.Config{
			HealthInterval:        cfg.HealthInterval,
			SoftRecoveryThreshold: cfg.SoftRecoveryThreshold,
			SweepInterval:         cfg.SweepInterval,
			Retention:             cfg.Retention,
			KeepRecent:            cfg.KeepRecent,
		},
		Pipeline: extract.Config{
			Concurrency:        cfg.PipelineConcurrency,
			ProcessorTimeout:   cfg.ProcessorTimeout,
			DefaultLanguage:    cfg.DefaultLanguage,
			ProcessOwnMessages: cfg.ProcessOwnMessages,
			SendRate:           cfg.SendRatePerSecond,
		},
	}
}
