package imageproc

import (
	"context"
	"errors"

	"github.com/foxseedlab/brainwire/internal/config"
	"github.com/foxseedlab/brainwire/internal/extract"
	"github.com/foxseedlab/brainwire/internal/monitor"
	"github.com/samber/do/v2"
)

var errNotConfigured = errors.New("image processor is not configured")

type disabled struct{}

func (disabled) Analyze(context.Context, []byte, string) (monitor.ImageAnalysis, error) {
	return monitor.ImageAnalysis{}, errNotConfigured
}

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (extract.ImageProcessor, error) {
		c := do.MustInvoke[*config.Config](i)
		if c.ImageProcessorURL == "" {
			return disabled{}, nil
		}
		return NewClient(c.ImageProcessorURL, c.ProcessorTimeout), nil
	})
}
