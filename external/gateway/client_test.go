package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/foxseedlab/brainwire/internal/transport"
	"github.com/tidwall/gjson"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewAdapter("acc-1", Config{BaseURL: srv.URL, APIKey: "secret", Timeout: 5 * time.Second})
}

func TestAdapter_StatusSendsAPIKey(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sessions/acc-1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get(apiKeyHeader); got != "secret" {
			t.Errorf("expected api key header, got %q", got)
		}
		_, _ = w.Write([]byte(`{"name":"acc-1","status":"SCAN_QR_CODE"}`))
	})

	status, err := a.Status(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != transport.RemoteScanQR {
		t.Fatalf("expected SCAN_QR_CODE, got %s", status)
	}
}

func TestAdapter_ErrorsAreTyped(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`upstream down`))
	})

	_, err := a.Status(context.Background())
	var httpErr *transport.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusBadGateway || httpErr.Body != "upstream down" {
		t.Fatalf("unexpected error: %+v", httpErr)
	}
	if !transport.IsTransient(err) {
		t.Fatal("expected 502 to be transient")
	}
}

func TestAdapter_StartCreatesMissingSession(t *testing.T) {
	var created bool
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/sessions/acc-1/start":
			w.WriteHeader(http.StatusNotFound)
		case "/api/sessions":
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("bad body: %v", err)
			}
			created = body["name"] == "acc-1" && body["start"] == true
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Fatal("expected session to be created")
	}
}

func TestAdapter_StartAlreadyRunning(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	})
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("expected already started session to be accepted, got %v", err)
	}
}

func TestAdapter_QRAndPairingCode(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/acc-1/auth/qr":
			if r.URL.Query().Get("format") != "raw" {
				t.Errorf("expected raw format")
			}
			_, _ = w.Write([]byte(`{"value":"2@abc"}`))
		case "/api/acc-1/auth/request-code":
			var body map[string]string
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["phoneNumber"] != "15551234567" {
				t.Errorf("unexpected body %+v (%v)", body, err)
			}
			_, _ = w.Write([]byte(`{"code":"WXYZ-1234"}`))
		}
	})

	qr, err := a.QR(context.Background())
	if err != nil || qr.Code != "2@abc" {
		t.Fatalf("unexpected qr %+v, %v", qr, err)
	}
	code, err := a.RequestPairingCode(context.Background(), "15551234567")
	if err != nil || code != "WXYZ-1234" {
		t.Fatalf("unexpected code %q, %v", code, err)
	}
}

func TestAdapter_EmptyQR(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	if _, err := a.QR(context.Background()); !errors.Is(err, transport.ErrNoQR) {
		t.Fatalf("expected ErrNoQR, got %v", err)
	}
}

func TestAdapter_ChatsAndMessages(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/acc-1/chats":
			_, _ = w.Write([]byte(`[
				{"id":{"_serialized":"120363000000000001@g.us"},"name":"Team","isGroup":true,"timestamp":1700000000},
				{"id":"15551234567@c.us","name":"Alice"},
				{"name":"no id"}
			]`))
		case "/api/acc-1/chats/15551234567@c.us/messages":
			if r.URL.Query().Get("limit") != "2" {
				t.Errorf("expected limit 2, got %q", r.URL.Query().Get("limit"))
			}
			_, _ = w.Write([]byte(`[
				{"id":"true_15551234567@c.us_A","from":"me@c.us","to":"15551234567@c.us","fromMe":true,"body":"hi","timestamp":1700000001},
				{"id":"false_15551234567@c.us_B","from":"15551234567@c.us","body":"","hasMedia":true,"_data":{"type":"ptt","notifyName":"Alice"},"media":{"mimetype":"audio/ogg; codecs=opus","url":"http://gw/files/b.oga"}}
			]`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	chats, err := a.Chats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 2 || chats[0].ID != "120363000000000001@g.us" || chats[0].IsGroup == nil || !*chats[0].IsGroup {
		t.Fatalf("unexpected chats: %+v", chats)
	}

	msgs, err := a.Messages(context.Background(), "15551234567@c.us", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].ChatID != "15551234567@c.us" || !msgs[0].FromMe {
		t.Fatalf("outgoing message must use the recipient as chat: %+v", msgs[0])
	}
	voice := msgs[1]
	if voice.MediaType != "ptt" || voice.Media == nil || voice.Media.URL != "http://gw/files/b.oga" || voice.SenderName != "Alice" {
		t.Fatalf("unexpected voice message: %+v", voice)
	}
}

func TestAdapter_SendReturnsID(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sendText" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["session"] != "acc-1" || body["chatId"] != "15551234567@c.us" || body["text"] != "ok" {
			t.Errorf("unexpected body %+v", body)
		}
		_, _ = w.Write([]byte(`{"id":{"_serialized":"true_15551234567@c.us_X"}}`))
	})

	id, err := a.Send(context.Background(), transport.OutgoingMessage{ChatID: "15551234567@s.whatsapp.net", Text: "ok"})
	if err != nil || id != "true_15551234567@c.us_X" {
		t.Fatalf("unexpected send result %q, %v", id, err)
	}
}

func TestParseStatus(t *testing.T) {
	tests := map[string]transport.RemoteStatus{
		"WORKING":      transport.RemoteWorking,
		"scan_qr_code": transport.RemoteScanQR,
		"STARTING":     transport.RemoteStarting,
		"STOPPED":      transport.RemoteStopped,
		"FAILED":       transport.RemoteFailed,
		"paused":       transport.RemoteStatus("PAUSED"),
	}
	for in, want := range tests {
		if got := parseStatus(in); got != want {
			t.Errorf("parseStatus(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestAdapter_DownloadMediaRefusesForeignHost(t *testing.T) {
	foreignHits := 0
	foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		foreignHits++
		_, _ = w.Write([]byte("stolen"))
	}))
	t.Cleanup(foreign.Close)
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("gateway should not be called, got %s", r.URL.Path)
	})

	msg, ok := parseMessage(gjson.Parse(`{"id":"m1","from":"79990001122@c.us","hasMedia":true,"type":"ptt","media":{"mimetype":"audio/ogg","url":"` + foreign.URL + `/steal"}}`))
	if !ok || msg.Media == nil {
		t.Fatalf("media message not parsed: %+v", msg)
	}
	_, err := a.DownloadMedia(context.Background(), msg.Media)
	if !errors.Is(err, errForeignMediaURL) {
		t.Fatalf("expected foreign url error, got %v", err)
	}
	if foreignHits != 0 {
		t.Fatalf("foreign host was contacted %d times", foreignHits)
	}
}

func TestAdapter_DownloadMediaFromGateway(t *testing.T) {
	var gotKey, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey, gotPath = r.Header.Get(apiKeyHeader), r.URL.RequestURI()
		_, _ = w.Write([]byte("ogg"))
	}))
	t.Cleanup(srv.Close)
	a := NewAdapter("acc-1", Config{BaseURL: srv.URL, APIKey: "secret", Timeout: 5 * time.Second})

	for _, raw := range []string{srv.URL + "/api/files/acc-1/a.oga?x=1", "/api/files/acc-1/a.oga?x=1"} {
		data, err := a.DownloadMedia(context.Background(), &transport.MediaRef{URL: raw})
		if err != nil {
			t.Fatalf("DownloadMedia(%q): %v", raw, err)
		}
		if string(data) != "ogg" || gotKey != "secret" || gotPath != "/api/files/acc-1/a.oga?x=1" {
			t.Fatalf("unexpected download: data=%q key=%q path=%q", data, gotKey, gotPath)
		}
	}
	if _, err := a.DownloadMedia(context.Background(), &transport.MediaRef{URL: "relative/a.oga"}); !errors.Is(err, errForeignMediaURL) {
		t.Fatalf("expected error for relative path, got %v", err)
	}
}
