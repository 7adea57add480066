package linkpreview

import (
	"github.com/foxseedlab/brainwire/internal/config"
	"github.com/foxseedlab/brainwire/internal/extract"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (extract.LinkPreviewer, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewPreviewer(c.ProcessorTimeout), nil
	})
}
