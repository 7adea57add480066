package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/foxseedlab/brainwire/internal/alert"
	"github.com/foxseedlab/brainwire/internal/backoff"
	"github.com/foxseedlab/brainwire/internal/chatid"
	"github.com/foxseedlab/brainwire/internal/extract"
	"github.com/foxseedlab/brainwire/internal/health"
	"github.com/foxseedlab/brainwire/internal/ingest"
	"github.com/foxseedlab/brainwire/internal/monitor"
	"github.com/foxseedlab/brainwire/internal/pairing"
	"github.com/foxseedlab/brainwire/internal/repository"
	"github.com/foxseedlab/brainwire/internal/store"
	"github.com/foxseedlab/brainwire/internal/transport"
)

const (
	connectTimeout     = 60 * time.Second
	initialSyncTimeout = 60 * time.Second
	alertTimeout       = 15 * time.Second
	commandBuffer      = 16
)

var (
	ErrAlreadyAuthenticated = errors.New("session is already authenticated")
	ErrNotStarted           = errors.New("session is not started")
	ErrNotReady             = errors.New("session is not connected")
	ErrEmptyMessage         = errors.New("message text is empty")
	ErrInvalidChatID        = errors.New("invalid chat id")
)

type Config struct {
	Backoff            backoff.Config
	QR                 pairing.QRConfig
	PairingExpiry      time.Duration
	StatusPollInterval time.Duration
	Store              store.Config
	Health             health.Config
	Pipeline           extract.Config
}

// Deps are shared by every engine of a process.
type Deps struct {
	Archive    repository.ArchiveRepository
	Monitors   monitor.Source
	Sink       monitor.Sink
	Processors extract.Processors
	Alerter    alert.Alerter
}

// Engine runs one WhatsApp account. Transport events, status polls and
// disconnects are applied on the Run goroutine; public operations are safe for
// concurrent use.
type Engine struct {
	account string
	cfg     Config
	adapter transport.Adapter
	archive repository.ArchiveRepository
	alerter alert.Alerter

	machine    *Machine
	store      *store.Store
	bus        *ingest.Bus
	router     *ingest.Router
	qr         *pairing.QRManager
	pairing    *pairing.PairingManager
	pipeline   *extract.Pipeline
	supervisor *health.Supervisor

	policy    *backoff.Policy
	tracker   *backoff.Tracker
	scheduler backoff.Scheduler

	cmds  chan func()
	ctxMu sync.RWMutex
	ctx   context.Context
}

func NewEngine(account string, adapter transport.Adapter, cfg Config, deps Deps) *Engine {
	if deps.Alerter == nil {
		deps.Alerter = alert.LogAlerter{}
	}
	if deps.Sink == nil {
		deps.Sink = monitor.MultiSink{}
	}
	if deps.Monitors == nil {
		deps.Monitors = monitor.NewStaticSource(nil)
	}

	e := &Engine{
		account: account,
		cfg:     cfg,
		adapter: adapter,
		archive: deps.Archive,
		alerter: deps.Alerter,
		machine: NewMachine(account),
		bus:     ingest.NewBus(),
		qr:      pairing.NewQRManager(adapter, cfg.QR),
		pairing: pairing.NewPairingManager(adapter, cfg.PairingExpiry),
		policy:  backoff.NewPolicy(cfg.Backoff),
		tracker: backoff.NewTracker(cfg.Backoff.ConflictWindow),
		cmds:    make(chan func(), commandBuffer),
		ctx:     context.Background(),
	}
	e.store = store.New(account, cfg.Store, deps.Archive)
	e.router = ingest.NewRouter(account, e.store, e.bus)
	e.pipeline = extract.NewPipeline(account, cfg.Pipeline, deps.Monitors, deps.Sink, deps.Processors, adapter, adapter)
	e.supervisor = health.NewSupervisor(account, cfg.Health, adapter,
		func() bool { return e.machine.Status() == StatusWorking },
		e.publishDisconnect, e.store, deps.Monitors)
	e.machine.Subscribe(e.onTransition)
	return e
}

func (e *Engine) Account() string { return e.account }

// Run blocks until ctx is done, then releases the bus and the store.
func (e *Engine) Run(ctx context.Context) {
	e.ctxMu.Lock()
	e.ctx = ctx
	e.ctxMu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.pipeline.Run(ctx, e.bus.Messages())
	}()
	go func() {
		defer wg.Done()
		e.supervisor.Run(ctx)
	}()
	if !e.adapter.PushesStatus() {
		poller := NewPoller(e.machine, e.adapter, e.cfg.StatusPollInterval, e.applyPoll)
		wg.Add(1)
		go func() {
			defer wg.Done()
			poller.Run(ctx)
		}()
	}

	e.loop(ctx)

	e.scheduler.Cancel()
	wg.Wait()
	e.bus.Close()
	e.store.Close()
	slog.Info("session engine stopped", "account", e.account)
}

func (e *Engine) loop(ctx context.Context) {
	events := e.adapter.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Account == "" {
				ev.Account = e.account
			}
			e.router.Route(ev)
		case st := <-e.bus.Statuses():
			e.applyRemote(st.Remote, e.machine.Version(), "transport event")
		case d := <-e.bus.Disconnects():
			e.handleDisconnect(d.Disconnect)
		case a := <-e.bus.Auth():
			e.handleAuth(a)
		case fn := <-e.cmds:
			fn()
		}
	}
}

func (e *Engine) baseContext() context.Context {
	e.ctxMu.RLock()
	defer e.ctxMu.RUnlock()
	return e.ctx
}

// enqueue runs fn on the Run goroutine.
func (e *Engine) enqueue(ctx context.Context, fn func()) bool {
	select {
	case e.cmds <- fn:
		return true
	case <-ctx.Done():
		return false
	}
}

func (e *Engine) publishDisconnect(d transport.Disconnect) {
	if err := e.bus.PublishDisconnect(ingest.DisconnectEvent{Account: e.account, Disconnect: d, At: time.Now()}); err != nil {
		slog.Error("failed to publish disconnect", "account", e.account, "code", d.Code, "error", err)
	}
}

func (e *Engine) applyPoll(res PollResult) {
	if res.Err != nil {
		level := slog.LevelWarn
		if !transport.IsTransient(res.Err) {
			level = slog.LevelError
		}
		slog.Log(context.Background(), level, "status poll failed", "account", e.account, "error", res.Err)
		if e.holdsRemote(transport.RemoteStopped) {
			return
		}
		e.moveTo(res.Version, StatusStopped, fmt.Sprintf("%s: %v", reasonPollFailed, res.Err))
		return
	}
	e.applyRemote(res.Remote, res.Version, "status poll")
}

// holdsRemote reports whether a remote status must not be applied right now:
// FAILED and CONFLICT wait for an explicit restart, and a pending retry masks
// STOPPED and FAILED reports.
func (e *Engine) holdsRemote(remote transport.RemoteStatus) bool {
	switch e.machine.Status() {
	case StatusFailed, StatusConflict:
		return true
	}
	if remote == transport.RemoteStopped || remote == transport.RemoteFailed {
		_, pending := e.scheduler.Due()
		return pending
	}
	return false
}

func (e *Engine) applyRemote(remote transport.RemoteStatus, version uint64, source string) {
	if e.holdsRemote(remote) {
		return
	}
	var to Status
	switch remote {
	case transport.RemoteWorking:
		to = StatusWorking
	case transport.RemoteScanQR:
		to = StatusAwaitingAuth
	case transport.RemoteStarting:
		to = StatusStarting
	case transport.RemoteStopped:
		to = StatusStopped
	case transport.RemoteFailed:
		e.publishDisconnect(transport.Disconnect{Code: transport.DisconnectUnknown, Message: "transport reported FAILED"})
		return
	default:
		slog.Warn("ignoring unknown remote status", "account", e.account, "status", remote)
		return
	}
	e.moveTo(version, to, fmt.Sprintf("%s: %s", source, remote))
}

// moveTo applies to when the machine is still at version, going through
// STARTING when there is no direct edge. It returns false for stale or
// impossible transitions.
func (e *Engine) moveTo(version uint64, to Status, reason string) bool {
	snap := e.machine.Snapshot()
	if snap.Version != version {
		slog.Debug("dropping stale status", "account", e.account, "target", to, "observed_version", version, "current_version", snap.Version)
		return false
	}
	if snap.Status == to {
		return true
	}

	if CanTransition(snap.Status, to) {
		ok, err := e.machine.TransitionIfVersion(version, to, reason)
		if err != nil {
			slog.Error("failed to apply status", "account", e.account, "from", snap.Status, "to", to, "error", err)
		}
		return ok
	}
	if !CanTransition(snap.Status, StatusStarting) || !CanTransition(StatusStarting, to) {
		slog.Debug("ignoring impossible status", "account", e.account, "from", snap.Status, "to", to)
		return false
	}
	ok, err := e.machine.TransitionIfVersion(version, StatusStarting, reason)
	if err != nil || !ok {
		return false
	}
	if err := e.machine.Transition(to, reason); err != nil {
		slog.Error("failed to apply status", "account", e.account, "from", StatusStarting, "to", to, "error", err)
		return false
	}
	return true
}

func (e *Engine) force(to Status, reason string) bool {
	return e.moveTo(e.machine.Version(), to, reason)
}

func (e *Engine) handleDisconnect(d transport.Disconnect) {
	switch e.machine.Status() {
	case StatusStopped, StatusFailed, StatusConflict:
		slog.Debug("ignoring disconnect of inactive session", "account", e.account, "code", d.Code)
		return
	}

	cause := backoff.Classify(d)
	attempt := e.tracker.Record(cause)
	dec := e.policy.Decide(cause, attempt)
	e.machine.SetAttempts(attempt)
	e.machine.SetLastError(describeDisconnect(d))
	slog.Warn("session disconnected",
		"account", e.account,
		"cause", dec.Cause,
		"attempt", dec.Attempt,
		"outcome", dec.Outcome,
		"delay", dec.Delay,
		"clear_credentials", dec.ClearCredentials,
		"reason", dec.Reason,
	)

	switch dec.Outcome {
	case backoff.OutcomeRetry:
		e.force(StatusStarting, dec.Reason)
		e.scheduler.Schedule(dec.Delay, func() { e.retry(dec) })
	case backoff.OutcomeAwaitAuth:
		e.scheduler.Cancel()
		e.pairing.Reset()
		e.force(StatusAwaitingAuth, dec.Reason)
		go e.reauthenticate()
	case backoff.OutcomeFailed:
		e.scheduler.Cancel()
		e.force(StatusFailed, dec.Reason)
	case backoff.OutcomeConflict:
		e.scheduler.Cancel()
		e.force(StatusConflict, dec.Reason)
	}
}

func describeDisconnect(d transport.Disconnect) string {
	switch {
	case d.Message != "":
		return d.Message
	case d.Err != nil:
		return d.Err.Error()
	case d.Code != "":
		return string(d.Code)
	default:
		return "disconnected"
	}
}

// retry runs on the scheduler timer.
func (e *Engine) retry(dec backoff.Decision) {
	ctx := e.baseContext()
	if ctx.Err() != nil || e.machine.Status() != StatusStarting {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if dec.ClearCredentials {
		if err := e.adapter.Logout(ctx); err != nil {
			slog.Warn("failed to clear credentials before retry", "account", e.account, "error", err)
		}
		e.qr.Invalidate()
	}
	slog.Info("reconnecting session", "account", e.account, "cause", dec.Cause, "attempt", dec.Attempt)
	if err := e.adapter.Restart(ctx); err != nil {
		e.publishDisconnect(transport.Disconnect{Code: transport.DisconnectConnectFailure, Message: err.Error(), Err: err})
	}
}

// reauthenticate drops the rejected credentials and reconnects so a new QR code
// is offered.
func (e *Engine) reauthenticate() {
	ctx, cancel := context.WithTimeout(e.baseContext(), connectTimeout)
	defer cancel()
	e.sendAlert(alert.SeverityWarning, alertTitleLoggedIn, alertDetailLoggedOut)
	if err := e.adapter.Logout(ctx); err != nil {
		slog.Warn("failed to clear rejected credentials", "account", e.account, "error", err)
	}
	e.qr.Invalidate()
	if err := e.adapter.Restart(ctx); err != nil {
		slog.Error("failed to restart session for pairing", "account", e.account, "error", err)
	}
}

func (e *Engine) handleAuth(a ingest.AuthEvent) {
	switch a.Kind {
	case ingest.AuthQR:
		if err := e.qr.Prime(a.QRCode); err != nil {
			slog.Warn("failed to render pushed qr code", "account", e.account, "error", err)
			return
		}
		if e.machine.Status() == StatusStarting {
			e.force(StatusAwaitingAuth, reasonQRIssued)
		}
	case ingest.AuthPaired:
		slog.Info("device paired", "account", e.account)
	}
}

func (e *Engine) onTransition(tr Transition) {
	slog.Info("session status changed",
		"account", tr.Account,
		"from", tr.From,
		"to", tr.To,
		"reason", tr.Reason,
		"authenticated", tr.Authenticated,
	)
	switch tr.To {
	case StatusWorking:
		e.tracker.Succeeded()
		e.machine.SetAttempts(0)
		e.scheduler.Cancel()
		e.qr.Invalidate()
		if e.pairing.Complete() {
			slog.Info("pairing code accepted", "account", e.account)
		}
		if tr.Authenticated || len(e.store.Chats(store.Filter{Limit: 1})) == 0 {
			go e.fetchChats()
		}
	case StatusStopped:
		e.qr.Invalidate()
	case StatusFailed:
		go e.sendAlert(alert.SeverityWarning, alertTitleFailed, failedDetail(e.account, tr.Reason))
	case StatusConflict:
		go e.sendAlert(alert.SeverityCritical, alertTitleConflict, conflictDetail(e.account, tr.Reason))
	}
}

// fetchChats seeds the chat directory after login. Errors are logged and leave
// the session WORKING.
func (e *Engine) fetchChats() {
	base := e.baseContext()
	ctx, cancel := context.WithTimeout(base, initialSyncTimeout)
	defer cancel()
	chats, err := e.adapter.Chats(ctx)
	if err != nil {
		slog.Warn("failed to fetch chat list", "account", e.account, "error", err)
		return
	}
	e.enqueue(base, func() {
		for i := range chats {
			e.router.Route(transport.Event{Kind: transport.EventChat, Account: e.account, Chat: &chats[i]})
		}
		slog.Info("chat list synchronized", "account", e.account, "chats", len(chats))
	})
}

func (e *Engine) sendAlert(severity alert.Severity, title, detail string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(e.baseContext()), alertTimeout)
	defer cancel()
	err := e.alerter.Alert(ctx, alert.Alert{
		Account:  e.account,
		Severity: severity,
		Title:    title,
		Detail:   detail,
		At:       time.Now(),
	})
	if err != nil {
		slog.Error("failed to send alert", "account", e.account, "title", title, "error", err)
	}
}

// Start connects the session. It is a no-op while the session is connecting,
// waiting for login or working.
func (e *Engine) Start(ctx context.Context) error {
	snap := e.machine.Snapshot()
	switch snap.Status {
	case StatusWorking, StatusAwaitingAuth:
		return nil
	case StatusStarting:
		if _, pending := e.scheduler.Due(); !pending {
			return nil
		}
	case StatusFailed, StatusConflict:
		e.tracker.Reset()
	}
	e.scheduler.Cancel()
	e.qr.Invalidate()
	if !e.force(StatusStarting, reasonStartRequested) {
		return fmt.Errorf("failed to start session %s from %s", e.account, snap.Status)
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := e.adapter.Start(ctx); err != nil {
		e.publishDisconnect(transport.Disconnect{Code: transport.DisconnectConnectFailure, Message: err.Error(), Err: err})
		return fmt.Errorf("failed to start session %s: %w", e.account, err)
	}
	return nil
}

func (e *Engine) Stop(ctx context.Context) error {
	e.scheduler.Cancel()
	e.tracker.Reset()
	e.pairing.Reset()
	e.qr.Invalidate()
	err := e.adapter.Stop(ctx)
	e.force(StatusStopped, reasonStopRequested)
	if err != nil {
		return fmt.Errorf("failed to stop session %s: %w", e.account, err)
	}
	return nil
}

// Restart is the explicit recovery path out of FAILED and CONFLICT.
func (e *Engine) Restart(ctx context.Context) error {
	e.scheduler.Cancel()
	e.tracker.Reset()
	e.pairing.Reset()
	e.qr.Invalidate()
	e.machine.SetAttempts(0)
	if e.machine.Status() != StatusStarting && !e.force(StatusStarting, reasonRestartRequested) {
		return fmt.Errorf("failed to restart session %s", e.account)
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := e.adapter.Restart(ctx); err != nil {
		e.publishDisconnect(transport.Disconnect{Code: transport.DisconnectConnectFailure, Message: err.Error(), Err: err})
		return fmt.Errorf("failed to restart session %s: %w", e.account, err)
	}
	return nil
}

// Logout removes the linked device and forgets every cached chat.
func (e *Engine) Logout(ctx context.Context) error {
	e.scheduler.Cancel()
	e.tracker.Reset()
	e.pairing.Reset()
	e.qr.Invalidate()
	err := e.adapter.Logout(ctx)
	e.store.Clear()
	e.router.Reset()
	e.force(StatusStopped, reasonLoggedOut)
	if err != nil {
		return fmt.Errorf("failed to log out session %s: %w", e.account, err)
	}
	return nil
}

func (e *Engine) checkLoginAllowed() error {
	switch e.machine.Status() {
	case StatusWorking:
		return ErrAlreadyAuthenticated
	case StatusStopped, StatusFailed, StatusConflict:
		return ErrNotStarted
	}
	return nil
}

func (e *Engine) QR(ctx context.Context) (pairing.Artifact, error) {
	if err := e.checkLoginAllowed(); err != nil {
		return pairing.Artifact{}, err
	}
	e.machine.SetAuthMethod(AuthQR)
	return e.qr.Get(ctx)
}

// OnFreshQR registers a callback run once for every new QR code.
func (e *Engine) OnFreshQR(fn func(pairing.Artifact)) {
	e.qr.OnFresh(fn)
}

func (e *Engine) RequestPairing(ctx context.Context, phone string) (pairing.PairingSession, error) {
	if err := e.checkLoginAllowed(); err != nil {
		return pairing.PairingSession{}, err
	}
	e.machine.SetAuthMethod(AuthPhone)
	return e.pairing.Request(ctx, phone)
}

func (e *Engine) PairingStatus() (pairing.PairingState, pairing.PairingSession, error) {
	return e.pairing.Check()
}

func (e *Engine) Snapshot() Snapshot {
	return e.machine.Snapshot()
}

func (e *Engine) Chats(f store.Filter) []repository.Chat {
	return e.store.Chats(f)
}

func (e *Engine) Chat(key string) (repository.Chat, bool) {
	return e.store.Chat(key)
}

// Messages serves the in-memory window first, then asks the transport for
// history, then the archive.
func (e *Engine) Messages(ctx context.Context, chatKey string, limit int) ([]repository.Message, error) {
	if msgs := e.store.Messages(chatKey, limit); len(msgs) > 0 {
		return msgs, nil
	}
	canonical := e.canonical(chatKey)
	if canonical == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidChatID, chatKey)
	}

	var fetchErr error
	if e.machine.Status() == StatusWorking {
		raw, err := e.adapter.Messages(ctx, canonical, limit)
		switch {
		case err != nil:
			fetchErr = err
			slog.Warn("failed to fetch chat history", "account", e.account, "chat_id", canonical, "error", err)
		case len(raw) > 0:
			done := make(chan struct{})
			queued := e.enqueue(ctx, func() {
				defer close(done)
				e.router.Route(transport.Event{Kind: transport.EventHistory, Account: e.account, History: &transport.HistoryBatch{Messages: raw}})
			})
			if queued {
				select {
				case <-done:
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			if msgs := e.store.Messages(canonical, limit); len(msgs) > 0 {
				return msgs, nil
			}
		}
	}

	if e.archive != nil {
		msgs, err := e.archive.ListMessages(ctx, repository.ListMessagesInput{Account: e.account, ChatID: canonical, Limit: limit})
		if err != nil {
			return nil, fmt.Errorf("failed to list archived messages: %w", err)
		}
		return msgs, nil
	}
	if fetchErr != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", fetchErr)
	}
	return nil, nil
}

func (e *Engine) canonical(key string) string {
	if id, ok := e.store.Resolve(key); ok {
		return id
	}
	return chatid.Normalize(key).Canonical
}

// Send writes a text message to a chat of a WORKING session.
func (e *Engine) Send(ctx context.Context, chatKey, text string) (string, error) {
	if text == "" {
		return "", ErrEmptyMessage
	}
	if e.machine.Status() != StatusWorking {
		return "", ErrNotReady
	}
	canonical := e.canonical(chatKey)
	if canonical == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidChatID, chatKey)
	}
	id, err := e.adapter.Send(ctx, transport.OutgoingMessage{ChatID: canonical, Text: text})
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}
	return id, nil
}

// Stats reports in-memory counters for the health endpoint.
func (e *Engine) Stats() EngineStats {
	_, pending := e.scheduler.Due()
	return EngineStats{
		Chats:         len(e.store.Chats(store.Filter{})),
		Messages:      e.store.MessageCount(),
		DroppedEvents: e.bus.Dropped(),
		ProbeFailures: e.supervisor.Failures(),
		RetryPending:  pending,
	}
}

type EngineStats struct {
	Chats         int   `json:"chats"`
	Messages      int   `json:"messages"`
	DroppedEvents int64 `json:"droppedEvents"`
	ProbeFailures int   `json:"probeFailures"`
	RetryPending  bool  `json:"retryPending"`
}
