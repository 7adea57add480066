package natsbus

import (
	"github.com/foxseedlab/brainwire/internal/config"
	"github.com/foxseedlab/brainwire/internal/monitor"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.ProvideNamed(injector, monitor.NATSSinkName, func(i do.Injector) (monitor.Sink, error) {
		c := do.MustInvoke[*config.Config](i)
		if c.NATSURL == "" {
			return monitor.MultiSink{}, nil
		}
		return Connect(c.NATSURL, c.NATSSubject)
	})
}
