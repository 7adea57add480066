package gateway

import (
	"github.com/foxseedlab/brainwire/external/httpapi"
	"github.com/foxseedlab/brainwire/internal/config"
	"github.com/foxseedlab/brainwire/internal/session"
	"github.com/foxseedlab/brainwire/internal/transport"
	"github.com/gin-gonic/gin"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Hub, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewHub(c.WebhookSecret), nil
	})

	do.ProvideNamed(injector, httpapi.WebhookHandlerName, func(i do.Injector) (gin.HandlerFunc, error) {
		return do.MustInvoke[*Hub](i).Handler(), nil
	})

	do.Provide(injector, func(i do.Injector) (session.AdapterFactory, error) {
		c := do.MustInvoke[*config.Config](i)
		hub := do.MustInvoke[*Hub](i)
		cfg := Config{BaseURL: c.GatewayBaseURL, APIKey: c.GatewayAPIKey, Timeout: c.GatewayTimeout}
		return func(account string) (transport.Adapter, error) {
			a := NewAdapter(account, cfg)
			hub.Register(a)
			return a, nil
		}, nil
	})
}
