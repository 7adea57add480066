package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/foxseedlab/brainwire/internal/pairing"
	"github.com/foxseedlab/brainwire/internal/session"
	"github.com/foxseedlab/brainwire/internal/store"
	"github.com/foxseedlab/brainwire/internal/transport"
	"github.com/gin-gonic/gin"
)

const (
	actionTimeout       = 60 * time.Second
	defaultMessageLimit = 50
	maxMessageLimit     = 500
	readHeaderTimeout   = 10 * time.Second
	shutdownTimeout     = 15 * time.Second
)

type Server struct {
	registry Registry
	engine   *gin.Engine
}

// NewServer builds the router. webhook is mounted on POST /webhook when set.
func NewServer(registry Registry, webhook gin.HandlerFunc) *Server {
	s := &Server{registry: registry, engine: gin.New()}
	s.engine.Use(gin.Recovery(), requestLogger())

	s.engine.GET("/healthz", s.health)
	if webhook != nil {
		s.engine.POST("/webhook", webhook)
	}
	g := s.engine.Group("/sessions/:account", s.resolve)
	g.GET("", s.status)
	g.GET("/qr", s.qr)
	g.POST("/pairing", s.requestPairing)
	g.GET("/pairing", s.pairingStatus)
	g.POST("/restart", s.restart)
	g.POST("/stop", s.stop)
	g.POST("/logout", s.logout)
	g.POST("/messages", s.send)
	g.GET("/chats", s.chats)
	g.GET("/chats/:chat/messages", s.messages)
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

// ListenAndServe blocks until ctx is cancelled, then drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: readHeaderTimeout}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		slog.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(started).Milliseconds(),
		)
	}
}

const sessionKey = "session"

func (s *Server) resolve(c *gin.Context) {
	sess, err := s.registry.Session(c.Param("account"))
	if err != nil {
		writeError(c, err)
		c.Abort()
		return
	}
	c.Set(sessionKey, sess)
	c.Next()
}

func current(c *gin.Context) Session {
	return c.MustGet(sessionKey).(Session)
}

func (s *Server) health(c *gin.Context) {
	sessions := make([]sessionResponse, 0)
	healthy := true
	for _, account := range s.registry.Accounts() {
		sess, err := s.registry.Session(account)
		if err != nil {
			continue
		}
		resp := toSessionResponse(sess)
		healthy = healthy && resp.Ready
		sessions = append(sessions, resp)
	}
	status := "ok"
	if !healthy {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "sessions": sessions})
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, toSessionResponse(current(c)))
}

func (s *Server) qr(c *gin.Context) {
	art, err := current(c).QR(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if c.Query("format") == "raw" || len(art.PNG) == 0 {
		c.JSON(http.StatusOK, gin.H{"value": art.Value, "fetchedAt": art.FetchedAt})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", art.PNG)
}

type pairingRequest struct {
	Phone string `json:"phone" binding:"required"`
}

func (s *Server) requestPairing(c *gin.Context) {
	var req pairingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "phone is required"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), actionTimeout)
	defer cancel()
	ps, err := current(c).RequestPairing(ctx, req.Phone)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPairingResponse(pairing.PairingPending, ps))
}

func (s *Server) pairingStatus(c *gin.Context) {
	state, ps, err := current(c).PairingStatus()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPairingResponse(state, ps))
}

func (s *Server) restart(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), actionTimeout)
	defer cancel()
	if err := current(c).Restart(ctx); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, toSessionResponse(current(c)))
}

func (s *Server) stop(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), actionTimeout)
	defer cancel()
	if err := current(c).Stop(ctx); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(current(c)))
}

func (s *Server) logout(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), actionTimeout)
	defer cancel()
	if err := current(c).Logout(ctx); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(current(c)))
}

type sendRequest struct {
	ChatID string `json:"chatId" binding:"required"`
	Text   string `json:"text"`
}

func (s *Server) send(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chatId is required"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), actionTimeout)
	defer cancel()
	id, err := current(c).Send(ctx, req.ChatID, req.Text)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

func (s *Server) chats(c *gin.Context) {
	f := store.Filter{NameContains: c.Query("q")}
	switch c.Query("type") {
	case "group":
		f.GroupsOnly = true
	case "private":
		f.PrivateOnly = true
	case "":
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be group or private"})
		return
	}
	var err error
	if f.ActiveSince, err = intQuery(c, "activeSince", 0); err != nil {
		return
	}
	limit, err := intQuery(c, "limit", 0)
	if err != nil {
		return
	}
	f.Limit = int(limit)
	c.JSON(http.StatusOK, gin.H{"chats": toChatResponses(current(c).Chats(f))})
}

func (s *Server) messages(c *gin.Context) {
	limit, err := intQuery(c, "limit", defaultMessageLimit)
	if err != nil {
		return
	}
	if limit <= 0 || limit > maxMessageLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), actionTimeout)
	defer cancel()
	msgs, err := current(c).Messages(ctx, c.Param("chat"), int(limit))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": toMessageResponses(msgs)})
}

// intQuery writes the 400 itself; callers only return on error.
func intQuery(c *gin.Context, key string, def int64) (int64, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": key + " must be a non-negative integer"})
		if err == nil {
			err = errors.New("negative value")
		}
		return 0, err
	}
	return v, nil
}

func writeError(c *gin.Context, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, session.ErrUnknownAccount),
		errors.Is(err, pairing.ErrNoPairingSession),
		errors.Is(err, transport.ErrNoQR):
		status = http.StatusNotFound
	case errors.Is(err, pairing.ErrInvalidPhone),
		errors.Is(err, session.ErrEmptyMessage),
		errors.Is(err, session.ErrInvalidChatID):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrAlreadyAuthenticated),
		errors.Is(err, session.ErrNotStarted),
		errors.Is(err, session.ErrNotReady),
		errors.Is(err, session.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status == http.StatusBadGateway {
		slog.Warn("session request failed", "path", c.FullPath(), "account", c.Param("account"), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
