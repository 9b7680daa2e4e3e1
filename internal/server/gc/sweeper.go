// Package gc runs the background sweep that persists downgrades for tenants
// whose paid tier expired. Resolution already treats expired tiers as free,
// so the sweep is a reconciliation pass, not an enforcement point.
package gc

import (
	"context"
	"sync"
	"time"

	"go.uber.org/fx"

	"github.com/calderhq/tiergate/internal/log"
	"github.com/calderhq/tiergate/internal/server/biz"
)

type SweeperParams struct {
	fx.In

	Tenants *biz.TenantService
	Config  biz.Config
}

// Sweeper periodically downgrades expired paid tiers.
type Sweeper struct {
	tenants  *biz.TenantService
	interval time.Duration

	running  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewSweeper(params SweeperParams) *Sweeper {
	return &Sweeper{
		tenants:  params.Tenants,
		interval: params.Config.SweepInterval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the sweep loop. An interval of zero disables the sweeper:
// resolution already masks expired tiers, so skipping the sweep only delays
// the persisted downgrade. The first sweep runs one interval after start,
// not immediately.
func (s *Sweeper) Start(ctx context.Context) error {
	if s.interval <= 0 {
		log.Info(ctx, "expiry sweeper disabled")

		return nil
	}

	s.running = true
	go s.run()

	log.Info(ctx, "expiry sweeper started",
		log.Duration("interval", s.interval),
	)

	return nil
}

// Stop terminates the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop(ctx context.Context) error {
	if !s.running {
		return nil
	}

	s.stopOnce.Do(func() { close(s.stopCh) })

	select {
	case <-s.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	ctx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			log.Error(ctx, "panic in expiry sweep", log.Any("panic", r))
		}
	}()

	downgraded, err := s.tenants.DowngradeExpired(ctx)
	if err != nil {
		log.Error(ctx, "expiry sweep failed", log.Cause(err))

		return
	}

	if downgraded > 0 {
		log.Info(ctx, "expiry sweep downgraded tenants",
			log.Int("downgraded", downgraded),
		)
	}
}

var Module = fx.Module("gc",
	fx.Provide(NewSweeper),
	fx.Invoke(func(lc fx.Lifecycle, sweeper *Sweeper) {
		lc.Append(fx.Hook{
			OnStart: sweeper.Start,
			OnStop:  sweeper.Stop,
		})
	}),
)
