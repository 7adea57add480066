package httpapi

import (
	"github.com/foxseedlab/brainwire/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/samber/do/v2"
)

// WebhookHandlerName names an optional gin.HandlerFunc served on POST /webhook.
const WebhookHandlerName = "http.webhook"

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Server, error) {
		m := do.MustInvoke[*session.Manager](i)
		webhook, err := do.InvokeNamed[gin.HandlerFunc](i, WebhookHandlerName)
		if err != nil {
			webhook = nil
		}
		return NewServer(FromManager(m), webhook), nil
	})
}
