// Package work feeds the farm with packages fetched from the remote
// authority and carries found solutions back to it.
package work

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/djkazic/rigfarm/internal/rpc"
	"github.com/djkazic/rigfarm/internal/types"
	"github.com/djkazic/rigfarm/pkg/util"

	"go.uber.org/zap"
)

const (
	// DefaultPollInterval is how often to check for new work.
	DefaultPollInterval = 5 * time.Second

	// maxBackoff caps the retry delay after repeated failures.
	maxBackoff = 60 * time.Second
)

// Sink receives work packages. *farm.Farm implements it.
type Sink interface {
	SetWork(wp *types.WorkPackage)
}

// Poller periodically fetches work from the authority and pushes it to the
// sink. Unchanged work is pushed again so locally paused workers resume.
type Poller struct {
	rpc      rpc.Authority
	sink     Sink
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	kick chan struct{}

	mu      sync.RWMutex
	current *types.WorkPackage
}

// NewPoller creates a poller. A zero interval uses DefaultPollInterval.
func NewPoller(authority rpc.Authority, sink Sink, interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		rpc:      authority,
		sink:     sink,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		kick:     make(chan struct{}, 1),
	}
}

// Start begins polling until ctx is cancelled.
func (p *Poller) Start(ctx context.Context) {
	go p.pollLoop(ctx)
}

// Kick requests an immediate fetch. It never blocks.
func (p *Poller) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Current returns the last package pushed to the sink.
func (p *Poller) Current() *types.WorkPackage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

func (p *Poller) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var consecutiveFailures int
	var lastFailureTime time.Time

	attempt := func() {
		if err := p.Fetch(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			consecutiveFailures++
			lastFailureTime = p.now()
			p.logger.Warn("work fetch failed",
				zap.Error(err),
				zap.Int("consecutive_failures", consecutiveFailures),
				zap.Duration("next_retry", backoffDuration(consecutiveFailures, p.interval)),
			)
		} else if consecutiveFailures > 0 {
			p.logger.Info("work source recovered",
				zap.Int("after_failures", consecutiveFailures),
			)
			consecutiveFailures = 0
		}
	}

	// Initial fetch
	attempt()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.kick:
			attempt()
		case <-ticker.C:
			if consecutiveFailures > 0 && p.now().Sub(lastFailureTime) < backoffDuration(consecutiveFailures, p.interval) {
				continue
			}
			attempt()
		}
	}
}

// backoffDuration computes exponential backoff capped at maxBackoff.
func backoffDuration(failures int, base time.Duration) time.Duration {
	if failures <= 0 {
		return base
	}
	d := base
	for i := 1; i < failures; i++ {
		d *= 2
		if d > maxBackoff {
			return maxBackoff
		}
	}
	return d
}

// Fetch pulls one template and pushes it to the sink. An authority with no
// work yet is not an error.
func (p *Poller) Fetch(ctx context.Context) error {
	tmpl, err := p.rpc.GetWork(ctx)
	if errors.Is(err, rpc.ErrNoWork) {
		p.logger.Debug("authority has no work yet")
		return nil
	}
	if err != nil {
		return err
	}

	wp, err := tmpl.WorkPackage(p.now())
	if err != nil {
		return err
	}

	p.mu.Lock()
	old := p.current
	if old.IsSame(wp) {
		wp = old
	} else {
		p.current = wp
	}
	p.mu.Unlock()

	if wp != old {
		p.logger.Info("new work",
			zap.String("job", wp.JobID),
			zap.Bool("clean", wp.Clean),
			zap.String("bits", fmt.Sprintf("%08x", util.TargetToCompact(wp.Target))),
			zap.Float64("difficulty", wp.Difficulty(nil)),
		)
	}
	p.sink.SetWork(wp)
	return nil
}
