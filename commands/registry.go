package commands

import (
	"context"
	"errors"
	"net"
	"peerchat/config"
	"peerchat/helper/timer"
	"peerchat/swarm/registry"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

func RunRegistry(ctx context.Context, cfg *config.Config) {
	l, err := net.Listen("tcp", cfg.Registry.ListenAddress)
	if err != nil {
		log.Fatalf("Failed to create registry listener: %v", err)
	}

	metrics := registry.NewMetrics(prometheus.NewRegistry())
	reg := registry.New(cfg.Registry.TTL.Std(), clock.New(), metrics)
	srv := registry.NewServer(reg, l)

	wg, cctx := errgroup.WithContext(ctx)

	wg.Go(func() error {
		return srv.Serve(cctx)
	})

	if cfg.Registry.SweepInterval > 0 {
		wg.Go(func() error {
			interval := &timer.Interval{Duration: cfg.Registry.SweepInterval.Std()}
			return timer.RunWithTicker(cctx, interval, func(ctx context.Context) error {
				if n := reg.Sweep(); n > 0 {
					log.Infof("Swept %d expired peer(s)", n)
				}
				return nil
			})
		})
	}

	if err := wg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Registry failed: %v", err)
	}
}
