package whatsmeow

import (
	"context"
	"time"

	"github.com/foxseedlab/brainwire/internal/config"
	"github.com/foxseedlab/brainwire/internal/session"
	"github.com/foxseedlab/brainwire/internal/transport"
	"github.com/samber/do/v2"
)

const storeInitTimeout = 30 * time.Second

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Store, error) {
		c := do.MustInvoke[*config.Config](i)
		ctx, cancel := context.WithTimeout(context.Background(), storeInitTimeout)
		defer cancel()
		return OpenStore(ctx, c.WhatsAppStoreDialect, c.WhatsAppStoreDSN, NewLogger("store"))
	})

	do.Provide(injector, func(i do.Injector) (session.AdapterFactory, error) {
		st := do.MustInvoke[*Store](i)
		log := NewLogger("client")
		return func(account string) (transport.Adapter, error) {
			return NewAdapter(account, st, log), nil
		}, nil
	})
}
