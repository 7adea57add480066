package webhook

import (
	"github.com/foxseedlab/brainwire/internal/config"
	"github.com/foxseedlab/brainwire/internal/monitor"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.ProvideNamed(injector, monitor.WebhookSinkName, func(i do.Injector) (monitor.Sink, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewHTTPSink(c.ResultWebhookURL, c.ProcessorTimeout), nil
	})
}
