package discord

import (
	"github.com/foxseedlab/brainwire/internal/alert"
	"github.com/foxseedlab/brainwire/internal/config"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (alert.Alerter, error) {
		c := do.MustInvoke[*config.Config](i)
		if !c.AlertsEnabled() {
			return alert.LogAlerter{}, nil
		}
		return NewClient(c.DiscordToken, c.DiscordAlertChannelID)
	})
}
