package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/foxseedlab/brainwire/internal/pairing"
	"github.com/foxseedlab/brainwire/internal/repository"
	"github.com/foxseedlab/brainwire/internal/session"
	"github.com/foxseedlab/brainwire/internal/store"
	"github.com/foxseedlab/brainwire/internal/transport"
	"github.com/gin-gonic/gin"
)

type fakeSession struct {
	snap       session.Snapshot
	qr         pairing.Artifact
	qrErr      error
	pairErr    error
	pairPhone  string
	restarted  int
	stopErr    error
	chats      []repository.Chat
	lastFilter store.Filter
	msgs       []repository.Message
	lastLimit  int
	loggedOut  int
	sent       []string
	sendErr    error
}

func (f *fakeSession) Snapshot() session.Snapshot { return f.snap }
func (f *fakeSession) Stats() session.EngineStats  { return session.EngineStats{Chats: len(f.chats)} }
func (f *fakeSession) QR(context.Context) (pairing.Artifact, error) {
	return f.qr, f.qrErr
}

func (f *fakeSession) RequestPairing(_ context.Context, phone string) (pairing.PairingSession, error) {
	f.pairPhone = phone
	if f.pairErr != nil {
		return pairing.PairingSession{}, f.pairErr
	}
	return pairing.PairingSession{Phone: phone, Code: "ABCD-EFGH"}, nil
}

func (f *fakeSession) PairingStatus() (pairing.PairingState, pairing.PairingSession, error) {
	return pairing.PairingNone, pairing.PairingSession{}, pairing.ErrNoPairingSession
}

func (f *fakeSession) Restart(context.Context) error { f.restarted++; return nil }
func (f *fakeSession) Stop(context.Context) error    { return f.stopErr }

func (f *fakeSession) Logout(context.Context) error { f.loggedOut++; return nil }

func (f *fakeSession) Send(_ context.Context, chatKey, text string) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, chatKey+":"+text)
	return "out-1", nil
}

func (f *fakeSession) Chats(filter store.Filter) []repository.Chat {
	f.lastFilter = filter
	return f.chats
}

func (f *fakeSession) Messages(_ context.Context, _ string, limit int) ([]repository.Message, error) {
	f.lastLimit = limit
	return f.msgs, nil
}

type fakeRegistry map[string]*fakeSession

func (r fakeRegistry) Accounts() []string {
	out := make([]string, 0, len(r))
	for k := range r {
		out = append(out, k)
	}
	return out
}

func (r fakeRegistry) Session(account string) (Session, error) {
	s, ok := r[account]
	if !ok {
		return nil, fmt.Errorf("%w: %s", session.ErrUnknownAccount, account)
	}
	return s, nil
}

func newTestServer(sess *fakeSession) *Server {
	gin.SetMode(gin.TestMode)
	return NewServer(fakeRegistry{"main": sess}, nil)
}

func serve(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestStatus(t *testing.T) {
	s := newTestServer(&fakeSession{snap: session.Snapshot{Account: "main", Status: session.StatusWorking, Ready: true}})
	rec := serve(t, s, http.MethodGet, "/sessions/main", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, body = %s", rec.Code, rec.Body)
	}
	var resp sessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != session.StatusWorking || !resp.Ready || resp.Description == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestUnknownAccount(t *testing.T) {
	s := newTestServer(&fakeSession{})
	if rec := serve(t, s, http.MethodGet, "/sessions/other/chats", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("code = %d", rec.Code)
	}
}

func TestQR(t *testing.T) {
	sess := &fakeSession{qr: pairing.Artifact{Value: "2@abc", PNG: []byte{0x89, 'P', 'N', 'G'}}}
	s := newTestServer(sess)

	rec := serve(t, s, http.MethodGet, "/sessions/main/qr", "")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("code = %d, content type = %q", rec.Code, rec.Header().Get("Content-Type"))
	}

	rec = serve(t, s, http.MethodGet, "/sessions/main/qr?format=raw", "")
	if !strings.Contains(rec.Body.String(), `"value":"2@abc"`) {
		t.Fatalf("raw body = %s", rec.Body)
	}

	sess.qrErr = session.ErrAlreadyAuthenticated
	if rec := serve(t, s, http.MethodGet, "/sessions/main/qr", ""); rec.Code != http.StatusConflict {
		t.Fatalf("authenticated code = %d", rec.Code)
	}
	sess.qrErr = fmt.Errorf("fetch: %w", transport.ErrNoQR)
	if rec := serve(t, s, http.MethodGet, "/sessions/main/qr", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("no qr code = %d", rec.Code)
	}
}

func TestPairing(t *testing.T) {
	sess := &fakeSession{}
	s := newTestServer(sess)

	rec := serve(t, s, http.MethodPost, "/sessions/main/pairing", `{"phone":"+7 999 000 11 22"}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"code":"ABCD-EFGH"`) {
		t.Fatalf("code = %d, body = %s", rec.Code, rec.Body)
	}
	if sess.pairPhone != "+7 999 000 11 22" {
		t.Fatalf("phone = %q", sess.pairPhone)
	}

	if rec := serve(t, s, http.MethodPost, "/sessions/main/pairing", `{}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing phone code = %d", rec.Code)
	}
	sess.pairErr = pairing.ErrInvalidPhone
	if rec := serve(t, s, http.MethodPost, "/sessions/main/pairing", `{"phone":"abc"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid phone code = %d", rec.Code)
	}
	if rec := serve(t, s, http.MethodGet, "/sessions/main/pairing", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("no pairing code = %d", rec.Code)
	}
}

func TestRestartAndStop(t *testing.T) {
	sess := &fakeSession{}
	s := newTestServer(sess)
	if rec := serve(t, s, http.MethodPost, "/sessions/main/restart", ""); rec.Code != http.StatusAccepted {
		t.Fatalf("restart code = %d", rec.Code)
	}
	if sess.restarted != 1 {
		t.Fatalf("restarted = %d", sess.restarted)
	}
	sess.stopErr = session.ErrNotStarted
	if rec := serve(t, s, http.MethodPost, "/sessions/main/stop", ""); rec.Code != http.StatusConflict {
		t.Fatalf("stop code = %d", rec.Code)
	}
}

func TestChatsFilters(t *testing.T) {
	sess := &fakeSession{chats: []repository.Chat{{ID: "1@g.us", DisplayName: "Family", IsGroup: true}}}
	s := newTestServer(sess)

	rec := serve(t, s, http.MethodGet, "/sessions/main/chats?type=group&q=fam&limit=5&activeSince=100", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"name":"Family"`) {
		t.Fatalf("code = %d, body = %s", rec.Code, rec.Body)
	}
	want := store.Filter{GroupsOnly: true, NameContains: "fam", Limit: 5, ActiveSince: 100}
	if sess.lastFilter != want {
		t.Fatalf("filter = %+v, want %+v", sess.lastFilter, want)
	}
	if rec := serve(t, s, http.MethodGet, "/sessions/main/chats?type=channel", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad type code = %d", rec.Code)
	}
	if rec := serve(t, s, http.MethodGet, "/sessions/main/chats?limit=x", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit code = %d", rec.Code)
	}
}

func TestMessages(t *testing.T) {
	sess := &fakeSession{msgs: []repository.Message{{ID: "m1", ChatID: "7999@s.whatsapp.net", Body: "hi", Direction: repository.DirectionIncoming}}}
	s := newTestServer(sess)

	rec := serve(t, s, http.MethodGet, "/sessions/main/chats/7999@c.us/messages", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"body":"hi"`) {
		t.Fatalf("code = %d, body = %s", rec.Code, rec.Body)
	}
	if sess.lastLimit != defaultMessageLimit {
		t.Fatalf("limit = %d", sess.lastLimit)
	}
	if rec := serve(t, s, http.MethodGet, "/sessions/main/chats/7999@c.us/messages?limit=1000", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("oversized limit code = %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := NewServer(fakeRegistry{
		"a": {snap: session.Snapshot{Account: "a", Status: session.StatusWorking, Ready: true}},
		"b": {snap: session.Snapshot{Account: "b", Status: session.StatusAwaitingAuth}},
	}, nil)
	rec := serve(t, s, http.MethodGet, "/healthz", "")
	var body struct {
		Status   string            `json:"status"`
		Sessions []sessionResponse `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Code != http.StatusOK || body.Status != "degraded" || len(body.Sessions) != 2 {
		t.Fatalf("code = %d, body = %+v", rec.Code, body)
	}
}

func TestWebhookMounted(t *testing.T) {
	gin.SetMode(gin.TestMode)
	called := false
	s := NewServer(fakeRegistry{}, func(c *gin.Context) { called = true; c.Status(http.StatusOK) })
	serve(t, s, http.MethodPost, "/webhook", `{}`)
	if !called {
		t.Fatal("webhook handler not mounted")
	}
}

func TestLogout(t *testing.T) {
	sess := &fakeSession{snap: session.Snapshot{Account: "main", Status: session.StatusStopped}}
	s := newTestServer(sess)
	rec := serve(t, s, http.MethodPost, "/sessions/main/logout", "")
	if rec.Code != http.StatusOK || sess.loggedOut != 1 {
		t.Fatalf("code = %d, logouts = %d", rec.Code, sess.loggedOut)
	}
}

func TestSendMessage(t *testing.T) {
	sess := &fakeSession{}
	s := newTestServer(sess)

	rec := serve(t, s, http.MethodPost, "/sessions/main/messages", `{"chatId":"79990001122@c.us","text":"hello"}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"id":"out-1"`) {
		t.Fatalf("code = %d, body = %s", rec.Code, rec.Body)
	}
	if len(sess.sent) != 1 || sess.sent[0] != "79990001122@c.us:hello" {
		t.Fatalf("sent = %v", sess.sent)
	}

	if rec := serve(t, s, http.MethodPost, "/sessions/main/messages", `{"text":"hello"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing chat code = %d", rec.Code)
	}
	tests := []struct {
		err  error
		want int
	}{
		{session.ErrEmptyMessage, http.StatusBadRequest},
		{fmt.Errorf("%w: %q", session.ErrInvalidChatID, "x"), http.StatusBadRequest},
		{session.ErrNotReady, http.StatusConflict},
		{errors.New("gateway down"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		sess.sendErr = tt.err
		if rec := serve(t, s, http.MethodPost, "/sessions/main/messages", `{"chatId":"1@g.us","text":"x"}`); rec.Code != tt.want {
			t.Fatalf("%v: code = %d, want %d", tt.err, rec.Code, tt.want)
		}
	}
}
