package extractor

import (
	"context"
	"time"

	"github.com/foxseedlab/brainwire/internal/config"
	"github.com/foxseedlab/brainwire/internal/extract"
	"github.com/samber/do/v2"
)

const clientInitTimeout = 10 * time.Second

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (extract.StructuredExtractor, error) {
		c := do.MustInvoke[*config.Config](i)
		if c.GeminiAPIKey == "" {
			return extract.HeuristicExtractor{}, nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), clientInitTimeout)
		defer cancel()
		return NewGeminiExtractor(ctx, c.GeminiAPIKey, c.GeminiModel)
	})
}
