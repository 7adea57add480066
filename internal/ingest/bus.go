package ingest

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/foxseedlab/brainwire/internal/repository"
	"github.com/foxseedlab/brainwire/internal/transport"
)

var (
	ErrBusClosed = errors.New("ingest bus closed")
	ErrBusFull   = errors.New("ingest bus full")
)

const (
	defaultMessageBuffer = 256
	defaultControlBuffer = 32
)

type StatusChange struct {
	Account string
	Remote  transport.RemoteStatus
	At      time.Time
}

type MessageEvent struct {
	Account    string
	Message    repository.Message
	Chat       repository.Chat
	SenderName string
}

type DisconnectEvent struct {
	Account    string
	Disconnect transport.Disconnect
	At         time.Time
}

type AuthEventKind string

const (
	AuthQR     AuthEventKind = "qr"
	AuthPaired AuthEventKind = "paired"
)

type AuthEvent struct {
	Account string
	Kind    AuthEventKind
	QRCode  string
}

// Bus carries canonical events on one buffered channel per kind. Publishing never
// blocks: a full channel reports ErrBusFull so ingestion is never stalled by a
// slow consumer.
type Bus struct {
	statuses    chan StatusChange
	messages    chan MessageEvent
	disconnects chan DisconnectEvent
	auth        chan AuthEvent
	done        chan struct{}
	closed      atomic.Bool
	dropped     atomic.Int64
}

func NewBus() *Bus {
	return NewBusWithBuffer(defaultMessageBuffer)
}

func NewBusWithBuffer(messageBuffer int) *Bus {
	return &Bus{
		statuses:    make(chan StatusChange, defaultControlBuffer),
		messages:    make(chan MessageEvent, messageBuffer),
		disconnects: make(chan DisconnectEvent, defaultControlBuffer),
		auth:        make(chan AuthEvent, defaultControlBuffer),
		done:        make(chan struct{}),
	}
}

func publish[T any](b *Bus, ch chan T, v T) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	select {
	case ch <- v:
		return nil
	case <-b.done:
		return ErrBusClosed
	default:
		b.dropped.Add(1)
		return ErrBusFull
	}
}

func (b *Bus) PublishStatus(v StatusChange) error { return publish(b, b.statuses, v) }
func (b *Bus) PublishMessage(v MessageEvent) error { return publish(b, b.messages, v) }
func (b *Bus) PublishDisconnect(v DisconnectEvent) error { return publish(b, b.disconnects, v) }
func (b *Bus) PublishAuth(v AuthEvent) error { return publish(b, b.auth, v) }

func (b *Bus) Statuses() <-chan StatusChange { return b.statuses }
func (b *Bus) Messages() <-chan MessageEvent { return b.messages }
func (b *Bus) Disconnects() <-chan DisconnectEvent { return b.disconnects }
func (b *Bus) Auth() <-chan AuthEvent { return b.auth }

// Dropped counts events rejected because a channel was full.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }

func (b *Bus) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.done)
	}
}
