package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/foxseedlab/brainwire/internal/monitor"
	"github.com/nats-io/nats.go"
)

type msgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// Publisher publishes each extraction result on <subject>.<account>. The result
// id goes into Nats-Msg-Id so JetStream streams can deduplicate redeliveries.
type Publisher struct {
	conn    msgPublisher
	subject string
	close   func()
}

func Connect(url, subject string) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("brainwire"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect nats: %w", err)
	}
	p := newPublisher(nc, subject)
	p.close = nc.Close
	return p, nil
}

func newPublisher(conn msgPublisher, subject string) *Publisher {
	return &Publisher{conn: conn, subject: strings.TrimSuffix(subject, "."), close: func() {}}
}

func (p *Publisher) OnExtractionResult(ctx context.Context, userID, chatID string, result monitor.Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(p.subjectFor(result.Account))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, result.ID)
	msg.Header.Set("User-Id", userID)
	msg.Header.Set("Chat-Id", chatID)
	msg.Header.Set("Kind", string(result.Kind))
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish result: %w", err)
	}
	return nil
}

func (p *Publisher) subjectFor(account string) string {
	if account == "" {
		return p.subject
	}
	return p.subject + "." + subjectToken(account)
}

// subjectToken replaces characters NATS treats as subject syntax.
func subjectToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n':
			return '_'
		}
		return r
	}, s)
}

func (p *Publisher) Close() {
	p.close()
}
