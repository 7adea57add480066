package whatsmeow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/foxseedlab/brainwire/internal/transport"
	wm "go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

const (
	Name = "whatsmeow"

	eventBuffer  = 256
	storeTimeout = 10 * time.Second
)

var errNotLoggedIn = errors.New("whatsapp client is not logged in")

// Adapter drives one account over the WhatsApp websocket. Reconnects are left
// to the session engine, so the client's own auto-reconnect is disabled.
type Adapter struct {
	account string
	store   *Store
	log     waLog.Logger
	events  chan transport.Event

	mu       sync.Mutex
	client   *wm.Client
	lastQR   string
	qrCancel context.CancelFunc
	suppress bool
}

func NewAdapter(account string, st *Store, log waLog.Logger) *Adapter {
	return &Adapter{
		account: account,
		store:   st,
		log:     log.Sub(account),
		events:  make(chan transport.Event, eventBuffer),
	}
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) PushesStatus() bool { return true }

func (a *Adapter) Events() <-chan transport.Event { return a.events }

func (a *Adapter) emit(ev transport.Event) {
	ev.Account = a.account
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case a.events <- ev:
	default:
		slog.Warn("dropping whatsmeow event; engine is behind", "account", a.account, "kind", ev.Kind)
	}
}

func (a *Adapter) emitStatus(s transport.RemoteStatus) {
	a.emit(transport.Event{Kind: transport.EventStatus, Status: s})
}

func (a *Adapter) device(ctx context.Context) (*store.Device, error) {
	jid, err := a.store.devices.Lookup(ctx, a.account)
	if err != nil {
		return nil, err
	}
	if jid != "" {
		parsed, err := types.ParseJID(jid)
		if err == nil {
			dev, err := a.store.container.GetDevice(ctx, parsed)
			if err != nil {
				return nil, fmt.Errorf("failed to load device: %w", err)
			}
			if dev != nil {
				return dev, nil
			}
		}
		slog.Warn("stored device not found; pairing a new one", "account", a.account, "jid", jid)
	}
	return a.store.container.NewDevice(), nil
}

func (a *Adapter) current() *wm.Client {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.client
}

// Start connects, offering QR codes through events when the device is not
// paired yet.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil && a.client.IsConnected() {
		return nil
	}

	dev, err := a.device(ctx)
	if err != nil {
		return err
	}
	client := wm.NewClient(dev, a.log)
	client.EnableAutoReconnect = false
	client.AddEventHandler(a.handle)

	if client.Store.ID == nil {
		qrCtx, cancel := context.WithCancel(context.Background())
		qrChan, err := client.GetQRChannel(qrCtx)
		if err != nil {
			cancel()
			return fmt.Errorf("failed to open qr channel: %w", err)
		}
		a.qrCancel = cancel
		go a.consumeQR(qrChan)
	}

	a.client = client
	a.suppress = false
	a.emitStatus(transport.RemoteStarting)
	if err := client.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

func (a *Adapter) consumeQR(ch <-chan wm.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case wm.QRChannelEventCode:
			a.mu.Lock()
			a.lastQR = item.Code
			a.mu.Unlock()
			a.emit(transport.Event{Kind: transport.EventQR, QRCode: item.Code})
			a.emitStatus(transport.RemoteScanQR)
		case wm.QRChannelSuccess.Event:
			a.clearQR()
		case wm.QRChannelTimeout.Event:
			a.clearQR()
			a.emit(transport.Event{Kind: transport.EventDisconnect, Disconnect: &transport.Disconnect{Code: transport.DisconnectNetwork, Message: "qr pairing timed out"}})
		case wm.QRChannelClientOutdated.Event:
			a.clearQR()
			a.emit(transport.Event{Kind: transport.EventDisconnect, Disconnect: &transport.Disconnect{Code: transport.DisconnectClientOutdated, Message: "client version outdated"}})
		default:
			a.clearQR()
			slog.Warn("qr channel closed", "account", a.account, "event", item.Event, "error", item.Error)
		}
	}
}

func (a *Adapter) clearQR() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastQR = ""
}

func (a *Adapter) teardownLocked() {
	if a.qrCancel != nil {
		a.qrCancel()
		a.qrCancel = nil
	}
	if a.client != nil {
		a.client.RemoveEventHandlers()
		a.client.Disconnect()
		a.client = nil
	}
	a.lastQR = ""
}

func (a *Adapter) Stop(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.teardownLocked()
	a.emitStatus(transport.RemoteStopped)
	return nil
}

func (a *Adapter) Restart(ctx context.Context) error {
	a.mu.Lock()
	a.teardownLocked()
	a.mu.Unlock()
	return a.Start(ctx)
}

// Logout unlinks the device and forgets it. A client that cannot reach the
// server still has its local credentials removed.
func (a *Adapter) Logout(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var errs []error
	if a.client != nil && a.client.Store.ID != nil {
		if err := a.client.Logout(ctx); err != nil {
			if delErr := a.client.Store.Delete(ctx); delErr != nil {
				errs = append(errs, fmt.Errorf("failed to delete device: %w", delErr))
			}
		}
	}
	a.teardownLocked()
	if err := a.store.devices.Delete(ctx, a.account); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *Adapter) Status(context.Context) (transport.RemoteStatus, error) {
	client := a.current()
	switch {
	case client == nil:
		return transport.RemoteStopped, nil
	case client.IsConnected() && client.IsLoggedIn():
		return transport.RemoteWorking, nil
	case client.IsConnected() && client.Store.ID == nil:
		return transport.RemoteScanQR, nil
	default:
		return transport.RemoteStarting, nil
	}
}

func (a *Adapter) QR(context.Context) (transport.QR, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastQR == "" {
		return transport.QR{}, transport.ErrNoQR
	}
	return transport.QR{Code: a.lastQR}, nil
}

func (a *Adapter) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	client := a.current()
	if client == nil || !client.IsConnected() {
		return "", transport.ErrNotConnected
	}
	code, err := client.PairPhone(ctx, phone, true, wm.PairClientChrome, "Chrome ("+runtime.GOOS+")")
	if err != nil {
		return "", fmt.Errorf("failed to request pairing code: %w", err)
	}
	return code, nil
}

func (a *Adapter) Chats(ctx context.Context) ([]transport.RawChat, error) {
	client := a.current()
	if client == nil || !client.IsLoggedIn() {
		return nil, transport.ErrNotConnected
	}
	var out []transport.RawChat
	groups, err := client.GetJoinedGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	isGroup := true
	for _, g := range groups {
		out = append(out, transport.RawChat{
			ID:               g.JID.String(),
			Name:             g.Name,
			IsGroup:          &isGroup,
			ParticipantCount: len(g.Participants),
		})
	}
	contacts, err := client.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		return out, fmt.Errorf("failed to list contacts: %w", err)
	}
	for jid, c := range contacts {
		if jid.Server != types.DefaultUserServer {
			continue
		}
		out = append(out, transport.RawChat{ID: jid.String(), Name: contactName(c)})
	}
	return out, nil
}

// Messages is unsupported: the websocket protocol only pushes history.
func (a *Adapter) Messages(context.Context, string, int) ([]transport.RawMessage, error) {
	return nil, transport.ErrUnsupported
}

func (a *Adapter) Send(ctx context.Context, msg transport.OutgoingMessage) (string, error) {
	client := a.current()
	if client == nil || !client.IsLoggedIn() {
		return "", transport.ErrNotConnected
	}
	to, err := types.ParseJID(msg.ChatID)
	if err != nil {
		return "", fmt.Errorf("invalid chat id %q: %w", msg.ChatID, err)
	}
	resp, err := client.SendMessage(ctx, to, &waE2E.Message{Conversation: proto.String(msg.Text)})
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}
	return resp.ID, nil
}

func (a *Adapter) DownloadMedia(ctx context.Context, ref *transport.MediaRef) ([]byte, error) {
	client := a.current()
	if client == nil {
		return nil, transport.ErrNotConnected
	}
	if ref == nil {
		return nil, transport.ErrUnsupported
	}
	dm, ok := ref.Handle.(wm.DownloadableMessage)
	if !ok {
		return nil, transport.ErrUnsupported
	}
	data, err := client.Download(ctx, dm)
	if err != nil {
		return nil, fmt.Errorf("failed to download media: %w", err)
	}
	return data, nil
}

func (a *Adapter) Ping(context.Context) error {
	client := a.current()
	switch {
	case client == nil || !client.IsConnected():
		return transport.ErrNotConnected
	case !client.IsLoggedIn():
		return errNotLoggedIn
	}
	return nil
}

func (a *Adapter) AssertPresence(ctx context.Context) error {
	client := a.current()
	if client == nil || !client.IsLoggedIn() {
		return transport.ErrNotConnected
	}
	return client.SendPresence(ctx, types.PresenceAvailable)
}

func (a *Adapter) handle(evt any) {
	switch v := evt.(type) {
	case *events.Connected:
		a.emitStatus(transport.RemoteWorking)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
			defer cancel()
			if err := a.AssertPresence(ctx); err != nil {
				slog.Warn("failed to send presence", "account", a.account, "error", err)
			}
		}()
	case *events.PairSuccess:
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := a.store.devices.Save(ctx, a.account, v.ID.String()); err != nil {
			slog.Error("failed to remember paired device", "account", a.account, "error", err)
		}
		a.clearQR()
		a.emit(transport.Event{Kind: transport.EventPaired})
	case *events.Message:
		if m, ok := convertMessage(v); ok {
			a.emit(transport.Event{Kind: transport.EventMessage, Message: &m})
		}
	case *events.HistorySync:
		a.emitHistory(v)
	case *events.Disconnected:
		a.mu.Lock()
		suppressed := a.suppress
		a.suppress = false
		a.mu.Unlock()
		if suppressed {
			return
		}
		a.emitDisconnect(v)
	default:
		if d, ok := disconnectOf(evt); ok {
			// A socket close follows these; it must not count as a second failure.
			a.mu.Lock()
			a.suppress = true
			a.mu.Unlock()
			a.emit(transport.Event{Kind: transport.EventDisconnect, Disconnect: &d})
		}
	}
}

func (a *Adapter) emitDisconnect(evt any) {
	if d, ok := disconnectOf(evt); ok {
		a.emit(transport.Event{Kind: transport.EventDisconnect, Disconnect: &d})
	}
}

func (a *Adapter) emitHistory(evt *events.HistorySync) {
	client := a.current()
	if client == nil || evt.Data == nil {
		return
	}
	var batch transport.HistoryBatch
	for _, conv := range evt.Data.GetConversations() {
		chatJID, err := types.ParseJID(conv.GetID())
		if err != nil {
			continue
		}
		batch.Chats = append(batch.Chats, transport.RawChat{
			ID:           chatJID.String(),
			Name:         conv.GetName(),
			LastActivity: int64(conv.GetConversationTimestamp()),
		})
		for _, hm := range conv.GetMessages() {
			parsed, err := client.ParseWebMessage(chatJID, hm.GetMessage())
			if err != nil {
				continue
			}
			if m, ok := convertMessage(parsed); ok {
				batch.Messages = append(batch.Messages, m)
			}
		}
	}
	if len(batch.Chats) == 0 && len(batch.Messages) == 0 {
		return
	}
	slog.Info("history sync received", "account", a.account, "chats", len(batch.Chats), "messages", len(batch.Messages))
	a.emit(transport.Event{Kind: transport.EventHistory, History: &batch})
}
