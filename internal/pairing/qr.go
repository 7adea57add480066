package pairing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/foxseedlab/brainwire/internal/transport"
	qrcode "github.com/skip2/go-qrcode"
)

const qrPNGSize = 256

// QRSource is the slice of transport.Adapter the QR manager needs.
type QRSource interface {
	QR(ctx context.Context) (transport.QR, error)
}

// Artifact is one QR code as shown to the user.
type Artifact struct {
	Value     string
	PNG       []byte
	FetchedAt time.Time
}

type QRConfig struct {
	ReuseWindow time.Duration
	MinInterval time.Duration
}

func DefaultQRConfig() QRConfig {
	return QRConfig{ReuseWindow: 25 * time.Second, MinInterval: 5 * time.Second}
}

type qrCall struct {
	done chan struct{}
	art  Artifact
	err  error
}

// QRManager throttles QR regeneration for one session. Concurrent callers share
// one upstream fetch.
type QRManager struct {
	src     QRSource
	cfg     QRConfig
	now     func() time.Time
	onFresh func(Artifact)

	mu        sync.Mutex
	cached    *Artifact
	lastFetch time.Time
	inflight  *qrCall
	gen       uint64
}

func NewQRManager(src QRSource, cfg QRConfig) *QRManager {
	return &QRManager{src: src, cfg: cfg, now: time.Now}
}

// OnFresh registers a callback run once for every newly fetched code.
func (m *QRManager) OnFresh(fn func(Artifact)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFresh = fn
}

func (m *QRManager) Get(ctx context.Context) (Artifact, error) {
	m.mu.Lock()
	now := m.now()
	if m.cached != nil && now.Sub(m.cached.FetchedAt) < m.cfg.ReuseWindow {
		art := *m.cached
		m.mu.Unlock()
		return art, nil
	}
	if m.cached != nil && now.Sub(m.lastFetch) < m.cfg.MinInterval {
		art := *m.cached
		m.mu.Unlock()
		return art, nil
	}
	call := m.inflight
	if call == nil {
		call = &qrCall{done: make(chan struct{})}
		m.inflight = call
		m.lastFetch = now
		go m.fetch(ctx, call, m.gen)
	}
	m.mu.Unlock()

	select {
	case <-call.done:
		return call.art, call.err
	case <-ctx.Done():
		return Artifact{}, ctx.Err()
	}
}

func (m *QRManager) fetch(ctx context.Context, call *qrCall, gen uint64) {
	defer close(call.done)

	qr, err := m.src.QR(context.WithoutCancel(ctx))
	if err == nil {
		call.art, err = m.toArtifact(qr)
	}
	call.err = err

	m.mu.Lock()
	if m.inflight == call {
		m.inflight = nil
	}
	if err != nil || gen != m.gen {
		m.mu.Unlock()
		if err != nil {
			slog.Warn("failed to fetch qr code", "error", err)
		}
		return
	}
	art := call.art
	m.cached = &art
	onFresh := m.onFresh
	m.mu.Unlock()

	if onFresh != nil {
		onFresh(art)
	}
}

func (m *QRManager) toArtifact(qr transport.QR) (Artifact, error) {
	if qr.Code == "" && len(qr.PNG) == 0 {
		return Artifact{}, transport.ErrNoQR
	}
	png := qr.PNG
	if len(png) == 0 {
		var err error
		png, err = qrcode.Encode(qr.Code, qrcode.Medium, qrPNGSize)
		if err != nil {
			return Artifact{}, fmt.Errorf("failed to encode qr png: %w", err)
		}
	}
	return Artifact{Value: qr.Code, PNG: png, FetchedAt: m.now()}, nil
}

// Prime stores a code pushed by the transport without a fetch.
func (m *QRManager) Prime(code string) error {
	art, err := m.toArtifact(transport.QR{Code: code})
	if err != nil {
		return err
	}
	m.mu.Lock()
	if m.cached != nil && m.cached.Value == code {
		m.mu.Unlock()
		return nil
	}
	m.cached = &art
	m.lastFetch = art.FetchedAt
	onFresh := m.onFresh
	m.mu.Unlock()
	if onFresh != nil {
		onFresh(art)
	}
	return nil
}

// Invalidate drops the cached artifact. Results of in-flight fetches started
// before the call are not cached.
func (m *QRManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cached = nil
	m.lastFetch = time.Time{}
	m.inflight = nil
	m.gen++
}
