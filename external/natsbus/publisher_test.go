package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/foxseedlab/brainwire/internal/monitor"
	"github.com/nats-io/nats.go"
)

type fakeConn struct {
	msgs []*nats.Msg
	err  error
}

func (f *fakeConn) PublishMsg(m *nats.Msg) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, m)
	return nil
}

func TestOnExtractionResult_PublishesWithHeaders(t *testing.T) {
	conn := &fakeConn{}
	p := newPublisher(conn, "brainwire.results.")

	result := monitor.Result{ID: "r-1", Account: "team.sales", Kind: monitor.KindLink, Links: []monitor.LinkPreview{{URL: "https://example.com"}}}
	if err := p.OnExtractionResult(context.Background(), "u1", "1@g.us", result); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(conn.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(conn.msgs))
	}
	msg := conn.msgs[0]
	if msg.Subject != "brainwire.results.team_sales" {
		t.Fatalf("unexpected subject: %s", msg.Subject)
	}
	if msg.Header.Get(nats.MsgIdHdr) != "r-1" || msg.Header.Get("User-Id") != "u1" || msg.Header.Get("Chat-Id") != "1@g.us" {
		t.Fatalf("unexpected headers: %v", msg.Header)
	}
	var decoded monitor.Result
	if err := json.Unmarshal(msg.Data, &decoded); err != nil {
		t.Fatalf("failed to decode data: %v", err)
	}
	if decoded.Links[0].URL != "https://example.com" {
		t.Fatalf("unexpected decoded result: %+v", decoded)
	}
}

func TestOnExtractionResult_WrapsPublishError(t *testing.T) {
	boom := errors.New("connection closed")
	p := newPublisher(&fakeConn{err: boom}, "brainwire.results")
	if err := p.OnExtractionResult(context.Background(), "u1", "c", monitor.Result{ID: "r"}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
