package session

import (
	"context"
	"time"

	"github.com/foxseedlab/brainwire/internal/transport"
)

const (
	DefaultPollInterval = 5 * time.Second
	pollTimeout         = 10 * time.Second
)

type StatusSource interface {
	Status(ctx context.Context) (transport.RemoteStatus, error)
}

// PollResult carries the machine version observed before the fetch started so a
// slow reply can be recognized as stale.
type PollResult struct {
	Remote  transport.RemoteStatus
	Version uint64
	Err     error
}

type Poller struct {
	machine  *Machine
	source   StatusSource
	interval time.Duration
	apply    func(PollResult)
}

func NewPoller(machine *Machine, source StatusSource, interval time.Duration, apply func(PollResult)) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{machine: machine, source: source, interval: interval, apply: apply}
}

func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

func (p *Poller) PollOnce(ctx context.Context) {
	version := p.machine.Version()
	pctx, cancel := context.WithTimeout(ctx, pollTimeout)
	remote, err := p.source.Status(pctx)
	cancel()
	if ctx.Err() != nil {
		return
	}
	p.apply(PollResult{Remote: remote, Version: version, Err: err})
}
